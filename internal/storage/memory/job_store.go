package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/GMartin-Data/imdb-api/internal/clock/system"
	"github.com/GMartin-Data/imdb-api/internal/crawler"
)

// JobStore keeps crawl jobs in process memory; state is lost on restart.
type JobStore struct {
	mu    sync.RWMutex
	jobs  map[string]crawler.Job
	clock crawler.Clock
}

// NewJobStore constructs a JobStore. A nil clock uses wall time.
func NewJobStore(clock crawler.Clock) *JobStore {
	if clock == nil {
		clock = system.New()
	}
	return &JobStore{
		jobs:  make(map[string]crawler.Job),
		clock: clock,
	}
}

// CreateJob stores a new job.
func (s *JobStore) CreateJob(_ context.Context, job crawler.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	job.Kinds = append([]string(nil), job.Kinds...)
	s.jobs[job.ID] = job
	return nil
}

// UpdateJob sets the status, error text and report of a job, stamping the
// start and finish times on the matching transitions.
func (s *JobStore) UpdateJob(
	_ context.Context,
	jobID string,
	status crawler.JobStatus,
	errText string,
	report crawler.Report,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("update job %s: %w", jobID, crawler.ErrJobNotFound)
	}
	job.Status = status
	job.ErrorText = errText
	job.Report = report
	now := s.clock.Now().UTC()
	if status == crawler.JobStatusRunning && job.Started == nil {
		job.Started = pointerTime(now)
	}
	if isTerminal(status) {
		if job.Started == nil {
			job.Started = pointerTime(now)
		}
		job.Finished = pointerTime(now)
	}
	s.jobs[jobID] = job
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (crawler.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return crawler.Job{}, fmt.Errorf("get job %s: %w", jobID, crawler.ErrJobNotFound)
	}
	job.Kinds = append([]string(nil), job.Kinds...)
	return job, nil
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}

func isTerminal(status crawler.JobStatus) bool {
	switch status {
	case crawler.JobStatusSucceeded, crawler.JobStatusFailed, crawler.JobStatusCanceled:
		return true
	default:
		return false
	}
}
