package api

import (
	"net/http"
	"net/url"
	"strconv"

	"jobchat/internal/errs"
	"jobchat/internal/jobs"
	"jobchat/internal/models"
)

func parseSearchParams(q url.Values) (jobs.SearchParams, error) {
	p := jobs.SearchParams{
		What:        q.Get("what"),
		WhatExclude: q.Get("what_exclude"),
		Where:       q.Get("where"),
		SortBy:      q.Get("sort_by"),
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"distance", &p.Distance},
		{"salary_min", &p.SalaryMin},
		{"salary_max", &p.SalaryMax},
		{"page", &p.Page},
		{"results_per_page", &p.ResultsPerPage},
	}
	for _, i := range ints {
		v := q.Get(i.key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return jobs.SearchParams{}, errs.NewInvalidArgumentError(i.key, i.key+" must be a number")
		}
		*i.dst = n
	}

	flags := []struct {
		key string
		dst **bool
	}{
		{"full_time", &p.FullTime},
		{"part_time", &p.PartTime},
		{"permanent", &p.Permanent},
		{"contract", &p.Contract},
	}
	for _, f := range flags {
		v := q.Get(f.key)
		if v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return jobs.SearchParams{}, errs.NewInvalidArgumentError(f.key, f.key+" must be a boolean")
		}
		*f.dst = &b
	}
	return p, nil
}

func (a *API) SearchJobsHandler(w http.ResponseWriter, r *http.Request) {
	params, err := parseSearchParams(r.URL.Query())
	if err != nil {
		writeError(w, err)
		return
	}
	result, err := a.jobs.Search(r.Context(), params)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) JobCategoriesHandler(w http.ResponseWriter, r *http.Request) {
	categories, err := a.jobs.Categories(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, categories)
}

func (a *API) SalaryHistoryHandler(w http.ResponseWriter, r *http.Request) {
	history, err := a.jobs.SalaryHistory(r.Context(), r.URL.Query().Get("what"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (a *API) SavedJobsHandler(w http.ResponseWriter, r *http.Request) {
	saved, err := a.saved.List(r.Context(), userID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (a *API) SaveJobHandler(w http.ResponseWriter, r *http.Request) {
	var job models.Job
	if err := decode(r, &job); err != nil {
		writeError(w, err)
		return
	}
	saved, err := a.saved.Save(r.Context(), userID(r), job)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (a *API) RemoveSavedJobHandler(w http.ResponseWriter, r *http.Request) {
	if err := a.saved.Remove(r.Context(), userID(r), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w)
}
