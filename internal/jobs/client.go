// Package jobs wraps the job search REST API and keeps users' saved jobs.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"jobchat/internal/errs"
	"jobchat/internal/metrics"
	"jobchat/internal/models"

	"github.com/c-pro/geche"
)

const (
	DefaultResultsPerPage = 20
	MaxResultsPerPage     = 50

	maxResponseSize = 4 << 20
	requestTimeout  = 15 * time.Second
)

var ErrUpstream = errs.NewUnavailableError("job search service is unavailable")

type Config struct {
	BaseURL string
	Country string
	AppID   string
	AppKey  string
	// CallDelay is the pause enforced between two upstream calls.
	CallDelay time.Duration
	// CacheTTL is how long upstream responses are reused. Zero disables
	// caching.
	CacheTTL time.Duration
}

// Client calls the job search API one request at a time.
type Client struct {
	config Config
	http   *http.Client
	cache  geche.Geche[string, []byte]

	mu       sync.Mutex
	lastCall time.Time
	now      func() time.Time
}

func NewClient(ctx context.Context, config Config) *Client {
	c := &Client{
		config: config,
		http:   &http.Client{Timeout: requestTimeout},
		now:    time.Now,
	}
	if config.CacheTTL > 0 {
		c.cache = geche.NewMapTTLCache[string, []byte](ctx, config.CacheTTL, time.Minute)
	}
	return c
}

// SearchParams are the filters of a job search. Nil flags are not sent.
type SearchParams struct {
	What           string
	WhatExclude    string
	Where          string
	Distance       int
	SalaryMin      int
	SalaryMax      int
	FullTime       *bool
	PartTime       *bool
	Permanent      *bool
	Contract       *bool
	SortBy         string
	Page           int
	ResultsPerPage int
}

func (p *SearchParams) normalize() error {
	if p.Page == 0 {
		p.Page = 1
	}
	if p.Page < 0 {
		return errs.NewInvalidArgumentError("page", "page must be positive")
	}
	if p.ResultsPerPage == 0 {
		p.ResultsPerPage = DefaultResultsPerPage
	}
	if p.ResultsPerPage < 0 || p.ResultsPerPage > MaxResultsPerPage {
		return errs.NewInvalidArgumentError("resultsPerPage", fmt.Sprintf("results per page must be between 1 and %d", MaxResultsPerPage))
	}
	switch p.SortBy {
	case "", "date", "salary", "relevance":
	default:
		return errs.NewInvalidArgumentError("sortBy", "sort must be one of date, salary, relevance")
	}
	if p.SalaryMin < 0 || p.SalaryMax < 0 || p.Distance < 0 {
		return errs.NewInvalidArgumentError("salary", "salary and distance must not be negative")
	}
	if p.SalaryMax > 0 && p.SalaryMin > p.SalaryMax {
		return errs.NewInvalidArgumentError("salary", "minimum salary exceeds maximum")
	}
	return nil
}

func (p SearchParams) query() url.Values {
	q := url.Values{}
	q.Set("results_per_page", strconv.Itoa(p.ResultsPerPage))
	setString := func(key, v string) {
		if v = strings.TrimSpace(v); v != "" {
			q.Set(key, v)
		}
	}
	setInt := func(key string, v int) {
		if v > 0 {
			q.Set(key, strconv.Itoa(v))
		}
	}
	setFlag := func(key string, v *bool) {
		if v == nil {
			return
		}
		if *v {
			q.Set(key, "1")
		} else {
			q.Set(key, "0")
		}
	}

	setString("what", p.What)
	setString("what_exclude", p.WhatExclude)
	setString("where", p.Where)
	setInt("distance", p.Distance)
	setInt("salary_min", p.SalaryMin)
	setInt("salary_max", p.SalaryMax)
	setFlag("full_time", p.FullTime)
	setFlag("part_time", p.PartTime)
	setFlag("permanent", p.Permanent)
	setFlag("contract", p.Contract)
	setString("sort_by", p.SortBy)
	return q
}

type apiJob struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	RedirectURL string  `json:"redirect_url"`
	SalaryMin   float64 `json:"salary_min"`
	SalaryMax   float64 `json:"salary_max"`
	Created     string  `json:"created"`
	Company     struct {
		DisplayName string `json:"display_name"`
	} `json:"company"`
	Location struct {
		DisplayName string `json:"display_name"`
	} `json:"location"`
	Category struct {
		Label string `json:"label"`
	} `json:"category"`
	ContractType string `json:"contract_type"`
	ContractTime string `json:"contract_time"`
}

func (j apiJob) model() models.Job {
	return models.Job{
		ID:           j.ID,
		Title:        j.Title,
		Company:      j.Company.DisplayName,
		Location:     j.Location.DisplayName,
		Description:  j.Description,
		URL:          j.RedirectURL,
		SalaryMin:    j.SalaryMin,
		SalaryMax:    j.SalaryMax,
		Category:     j.Category.Label,
		ContractType: j.ContractType,
		ContractTime: j.ContractTime,
		Created:      j.Created,
	}
}

// Search runs a job search.
func (c *Client) Search(ctx context.Context, params SearchParams) (models.JobSearchResult, error) {
	if err := params.normalize(); err != nil {
		return models.JobSearchResult{}, err
	}

	var resp struct {
		Results []apiJob `json:"results"`
		Count   int      `json:"count"`
	}
	path := fmt.Sprintf("/%s/search/%d", c.config.Country, params.Page)
	if err := c.get(ctx, "search", path, params.query(), &resp); err != nil {
		return models.JobSearchResult{}, err
	}

	result := models.JobSearchResult{
		Results:    make([]models.Job, 0, len(resp.Results)),
		Count:      resp.Count,
		TotalPages: (resp.Count + params.ResultsPerPage - 1) / params.ResultsPerPage,
	}
	for _, j := range resp.Results {
		result.Results = append(result.Results, j.model())
	}
	return result, nil
}

// Categories lists the job categories known to the API.
func (c *Client) Categories(ctx context.Context) ([]models.JobCategory, error) {
	var resp struct {
		Results []models.JobCategory `json:"results"`
	}
	if err := c.get(ctx, "categories", fmt.Sprintf("/%s/categories", c.config.Country), url.Values{}, &resp); err != nil {
		return nil, err
	}
	if resp.Results == nil {
		resp.Results = []models.JobCategory{}
	}
	return resp.Results, nil
}

// SalaryHistory returns the average advertised salary per month for what.
func (c *Client) SalaryHistory(ctx context.Context, what string) (models.SalaryHistory, error) {
	what = strings.TrimSpace(what)
	if what == "" {
		return models.SalaryHistory{}, errs.NewInvalidArgumentError("what", "keyword is required")
	}
	var history models.SalaryHistory
	q := url.Values{}
	q.Set("what", what)
	if err := c.get(ctx, "history", fmt.Sprintf("/%s/history", c.config.Country), q, &history); err != nil {
		return models.SalaryHistory{}, err
	}
	return history, nil
}

func (c *Client) get(ctx context.Context, endpoint, path string, query url.Values, v any) error {
	cacheKey := path + "?" + query.Encode()
	if c.cache != nil {
		if body, err := c.cache.Get(cacheKey); err == nil {
			metrics.IncJobsAPICall(endpoint, "cached")
			return json.Unmarshal(body, v)
		}
	}

	body, err := c.call(ctx, path, query)
	if err != nil {
		metrics.IncJobsAPICall(endpoint, "error")
		slog.Error("job search call failed", "endpoint", endpoint, "error", err)
		return err
	}
	metrics.IncJobsAPICall(endpoint, "ok")

	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: malformed response: %w", ErrUpstream, err)
	}
	if c.cache != nil {
		c.cache.Set(cacheKey, body)
	}
	return nil
}

// call performs one upstream request, waiting out the call delay first.
func (c *Client) call(ctx context.Context, path string, query url.Values) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.lastCall.IsZero() {
		if wait := c.lastCall.Add(c.config.CallDelay).Sub(c.now()); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}
	}
	defer func() { c.lastCall = c.now() }()

	q := url.Values{}
	for k, vs := range query {
		q[k] = vs
	}
	q.Set("app_id", c.config.AppID)
	q.Set("app_key", c.config.AppKey)
	q.Set("content-type", "application/json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(c.config.BaseURL, "/")+path+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseSize))
		return nil, fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	return body, nil
}
