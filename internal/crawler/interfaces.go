package crawler

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrMissingCursor is returned when the search API promises another page
	// but gives no cursor to reach it.
	ErrMissingCursor = errors.New("search page has next page but no end cursor")
	// ErrCrawlDone is returned by controller calls made after the crawl ended.
	ErrCrawlDone = errors.New("crawl already done")
	// ErrMissingTitleID marks a search edge without a usable title id.
	ErrMissingTitleID = errors.New("search edge has no title id")
	// ErrMalformedEdge marks a search edge whose nested objects could not be
	// decoded.
	ErrMalformedEdge = errors.New("search edge is malformed")
	// ErrDuplicateRecord is returned by RecordStore.Insert when the id exists.
	ErrDuplicateRecord = errors.New("record already stored")
	// ErrRecordNotFound is returned by RecordStore.Get for unknown ids.
	ErrRecordNotFound = errors.New("record not found")
	// ErrJobNotFound is returned by JobStore lookups for unknown ids.
	ErrJobNotFound = errors.New("job not found")
	// ErrQueueClosed is returned by a Queue that has been shut down.
	ErrQueueClosed = errors.New("queue closed")
)

// RecordStore persists merged records keyed by title id.
type RecordStore interface {
	CreateSchemaIfAbsent(ctx context.Context) error
	Insert(ctx context.Context, record Record) error
	Get(ctx context.Context, id string) (Record, error)
}

// JobStore keeps the lifecycle of crawl jobs.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	UpdateJob(ctx context.Context, jobID string, status JobStatus, errText string, report Report) error
	GetJob(ctx context.Context, jobID string) (Job, error)
}

// Publisher pushes record events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Queue provides enqueue/dequeue semantics for crawl jobs.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
