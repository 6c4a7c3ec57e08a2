package models

// Job is a single listing returned by the job search API.
type Job struct {
	ID           string  `json:"id" msgpack:"id"`
	Title        string  `json:"title" msgpack:"title"`
	Company      string  `json:"company" msgpack:"company"`
	Location     string  `json:"location" msgpack:"location"`
	Description  string  `json:"description" msgpack:"description"`
	URL          string  `json:"url" msgpack:"url"`
	SalaryMin    float64 `json:"salaryMin,omitempty" msgpack:"salaryMin"`
	SalaryMax    float64 `json:"salaryMax,omitempty" msgpack:"salaryMax"`
	Category     string  `json:"category,omitempty" msgpack:"category"`
	ContractType string  `json:"contractType,omitempty" msgpack:"contractType"`
	ContractTime string  `json:"contractTime,omitempty" msgpack:"contractTime"`
	Created      string  `json:"created,omitempty" msgpack:"created"`
}

type JobSearchResult struct {
	Results    []Job `json:"results"`
	Count      int   `json:"count"`
	TotalPages int   `json:"totalPages"`
}

type JobCategory struct {
	Tag   string `json:"tag"`
	Label string `json:"label"`
}

// SalaryHistory maps a month ("2024-01") to the average advertised salary.
type SalaryHistory struct {
	Month map[string]float64 `json:"month"`
}

type SavedJob struct {
	ID      string `json:"id" msgpack:"id"`
	UserID  string `json:"userId" msgpack:"userId"`
	Job     Job    `json:"job" msgpack:"job"`
	SavedAt int64  `json:"savedAt" msgpack:"savedAt"`
}

// Profile holds the extended, user-editable profile fields.
type Profile struct {
	UserID     string       `json:"userId" msgpack:"userId"`
	Headline   string       `json:"headline" msgpack:"headline"`
	Location   string       `json:"location" msgpack:"location"`
	Bio        string       `json:"bio" msgpack:"bio"`
	BioHTML    string       `json:"bioHtml,omitempty" msgpack:"bioHtml"`
	Skills     []string     `json:"skills" msgpack:"skills"`
	Experience []Experience `json:"experience" msgpack:"experience"`
	UpdatedAt  int64        `json:"updatedAt" msgpack:"updatedAt"`
}

type Experience struct {
	Title   string `json:"title" msgpack:"title"`
	Company string `json:"company" msgpack:"company"`
	From    string `json:"from" msgpack:"from"`
	To      string `json:"to,omitempty" msgpack:"to"`
}
