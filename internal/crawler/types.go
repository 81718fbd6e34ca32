package crawler

import (
	"net/http"
	"time"

	"github.com/GMartin-Data/imdb-api/internal/normalize"
)

// JobStatus represents the lifecycle state of a crawl job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCanceled  JobStatus = "canceled"
)

// Job is one harvesting run over a set of title kinds.
type Job struct {
	ID        string     `json:"id"`
	Kinds     []string   `json:"kinds"`
	Limit     int        `json:"limit"`
	Status    JobStatus  `json:"status"`
	Submitted time.Time  `json:"submitted_at"`
	Started   *time.Time `json:"started_at,omitempty"`
	Finished  *time.Time `json:"finished_at,omitempty"`
	ErrorText string     `json:"error_text,omitempty"`
	Report    Report     `json:"report"`
}

// QueueItem wraps a job ready to run.
type QueueItem struct {
	JobID     string
	Kinds     []string
	Limit     int
	Submitted int64
}

// Report tallies what a run did.
type Report struct {
	PagesFetched      int `json:"pages_fetched"`
	EdgesSkipped      int `json:"edges_skipped"`
	RecordsDispatched int `json:"records_dispatched"`
	RecordsStored     int `json:"records_stored"`
	RecordsDropped    int `json:"records_dropped"`
	Duplicates        int `json:"duplicates"`
	DetailFailures    int `json:"detail_failures"`
	StoreFailures     int `json:"store_failures"`
	Diagnostics       int `json:"diagnostics"`
}

// Stage tells a Fetcher which half of the pipeline a request belongs to.
type Stage string

// Request stages.
const (
	StageSearch Stage = "search"
	StageDetail Stage = "detail"
)

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL     string
	Stage   Stage
	TitleID string
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// SearchFields are the columns populated from one search result edge.
type SearchFields struct {
	ID              string   `json:"id"`
	Kind            *string  `json:"kind"`
	Title           *string  `json:"title"`
	OriginalTitle   *string  `json:"original_title"`
	Genres          *string  `json:"genres"`
	DurationS       *int64   `json:"duration_s"`
	ReleaseYear     *int64   `json:"release_year"`
	Rating          *float64 `json:"rating"`
	VoteCount       *int64   `json:"vote_count"`
	MetacriticScore *int64   `json:"metacritic_score"`
	Synopsis        *string  `json:"synopsis"`
	PosterLink      *string  `json:"poster_link"`
}

// Enrichment holds the normalized columns scraped from a title page.
type Enrichment struct {
	Audience       *string `json:"audience"`
	Countries      *string `json:"countries"`
	Casting        *string `json:"casting"`
	Budget         *int64  `json:"budget"`
	WorldwideGross *int64  `json:"worldwide_gross"`
}

// PartialRecord is a title known from search results whose detail page has
// not been merged yet.
type PartialRecord struct {
	SearchFields
	// Ordinal is the 1-based position at which the controller emitted it.
	Ordinal     int
	Diagnostics []normalize.Diagnostic
}

// Record is the persisted unit. Every column except ID is nullable.
type Record struct {
	SearchFields
	Enrichment
}

// RawEnrichment is what the title page yielded before normalization. Nil or
// empty members mean the page did not carry the element.
type RawEnrichment struct {
	Audience  *string
	Cast      []string
	Countries []string
	Budget    *string
	Gross     *string
}
