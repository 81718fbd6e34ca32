// Package worker implements the crawl pipeline execution loop.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/GMartin-Data/imdb-api/internal/crawler"
	"github.com/GMartin-Data/imdb-api/internal/metrics"
	"github.com/GMartin-Data/imdb-api/internal/normalize"
)

// FailurePolicy decides what happens to a record whose detail page could not
// be fetched or parsed.
type FailurePolicy string

// Failure policies.
const (
	// FailurePolicyStore keeps the search columns and leaves enrichment null.
	FailurePolicyStore FailurePolicy = "store"
	// FailurePolicyDrop discards the record.
	FailurePolicyDrop FailurePolicy = "drop"
)

const defaultDetailConcurrency = 8

// Config controls Worker behavior.
type Config struct {
	SearchEndpoint    string
	PageSize          int
	Locale            string
	QueryHash         string
	DetailBaseURL     string
	UserAgent         string
	DetailConcurrency int
	FailurePolicy     FailurePolicy
	Topic             string
}

// Worker runs crawl jobs: it drives the pagination controller on its own
// goroutine and fans detail fetches out to a bounded group.
type Worker struct {
	queue     crawler.Queue
	jobStore  crawler.JobStore
	records   crawler.RecordStore
	publisher crawler.Publisher
	clock     crawler.Clock
	fetcher   crawler.Fetcher
	details   *crawler.DetailDispatcher
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker. queue and jobStore may be nil when jobs are run
// directly through Crawl.
func New(
	queue crawler.Queue,
	jobStore crawler.JobStore,
	records crawler.RecordStore,
	publisher crawler.Publisher,
	clock crawler.Clock,
	fetcher crawler.Fetcher,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DetailConcurrency <= 0 {
		cfg.DetailConcurrency = defaultDetailConcurrency
	}
	if cfg.FailurePolicy == "" {
		cfg.FailurePolicy = FailurePolicyStore
	}
	return &Worker{
		queue:     queue,
		jobStore:  jobStore,
		records:   records,
		publisher: publisher,
		clock:     clock,
		fetcher:   fetcher,
		details:   crawler.NewDetailDispatcher(cfg.DetailBaseURL, cfg.UserAgent),
		cfg:       cfg,
		logger:    logger.Named("worker"),
	}
}

// Run blocks, consuming queue items until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, crawler.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued job", zap.String("job_id", item.JobID))
		if _, err := w.Process(ctx, item); err != nil {
			w.logger.Warn("job finished with error", zap.String("job_id", item.JobID), zap.Error(err))
		}
	}
}

// Process runs one queued job and records its lifecycle in the job store.
func (w *Worker) Process(ctx context.Context, item crawler.QueueItem) (crawler.Report, error) {
	metrics.IncActiveJobs()
	defer metrics.DecActiveJobs()

	w.updateJob(ctx, item.JobID, crawler.JobStatusRunning, "", crawler.Report{})

	report, err := w.Crawl(ctx, item.JobID, item.Kinds, item.Limit)

	status := crawler.JobStatusSucceeded
	errText := ""
	switch {
	case ctx.Err() != nil:
		status = crawler.JobStatusCanceled
		errText = ctx.Err().Error()
	case err != nil:
		status = crawler.JobStatusFailed
		errText = err.Error()
	}
	metrics.ObserveJob(string(status))
	// The run context may be gone; the final status must still land.
	w.updateJob(context.WithoutCancel(ctx), item.JobID, status, errText, report)
	return report, err
}

func (w *Worker) updateJob(ctx context.Context, jobID string, status crawler.JobStatus, errText string, report crawler.Report) {
	if w.jobStore == nil {
		return
	}
	if err := w.jobStore.UpdateJob(ctx, jobID, status, errText, report); err != nil {
		w.logger.Error("update job status failed",
			zap.String("job_id", jobID),
			zap.String("status", string(status)),
			zap.Error(err),
		)
	}
}

type recordOutcome string

const (
	outcomeStored    recordOutcome = "stored"
	outcomeDuplicate recordOutcome = "duplicate"
	outcomeDropped   recordOutcome = "dropped"
	outcomeFailed    recordOutcome = "failed"
	outcomeCanceled  recordOutcome = "canceled"
)

// detailResult is what a detail goroutine reports back to the crawl loop.
type detailResult struct {
	titleID      string
	outcome      recordOutcome
	detailFailed bool
	diagnostics  int
}

// Crawl harvests up to limit titles of the given kinds. Only pagination
// corruption, a failed search fetch or store initialization make it return
// an error; per-record problems are counted in the report.
func (w *Worker) Crawl(ctx context.Context, jobID string, kinds []string, limit int) (crawler.Report, error) {
	logger := w.logger.With(zap.String("job_id", jobID))
	var report crawler.Report

	if err := w.records.CreateSchemaIfAbsent(ctx); err != nil {
		return report, fmt.Errorf("initialize record store: %w", err)
	}
	ctrl, err := crawler.NewController(w.query(kinds), limit)
	if err != nil {
		return report, fmt.Errorf("configure crawl: %w", err)
	}
	req, err := ctrl.Begin()
	if err != nil {
		return report, fmt.Errorf("begin crawl: %w", err)
	}
	start := time.Now()
	logger.Info("crawl started", zap.Strings("kinds", kinds), zap.Int("limit", limit))

	results := make(chan detailResult)
	collected := make(chan crawler.Report, 1)
	go func() {
		var tally crawler.Report
		for res := range results {
			tally.Diagnostics += res.diagnostics
			if res.detailFailed {
				tally.DetailFailures++
			}
			switch res.outcome {
			case outcomeStored:
				tally.RecordsStored++
			case outcomeDuplicate:
				tally.Duplicates++
			case outcomeDropped:
				tally.RecordsDropped++
			case outcomeFailed:
				tally.StoreFailures++
			}
		}
		collected <- tally
	}()

	var group errgroup.Group
	group.SetLimit(w.cfg.DetailConcurrency)

	for !ctrl.Done() {
		if err := ctx.Err(); err != nil {
			ctrl.Abort(err)
			break
		}
		page, err := w.fetchSearchPage(ctx, req)
		if err != nil {
			ctrl.Abort(err)
			break
		}
		report.PagesFetched++

		outcome, perr := ctrl.OnPageFetched(page)
		report.EdgesSkipped += outcome.Skipped
		for _, partial := range outcome.Records {
			report.RecordsDispatched++
			group.Go(func() error {
				results <- w.enrich(ctx, logger, jobID, partial)
				return nil
			})
		}
		if perr != nil || outcome.Next == nil {
			break
		}
		req = *outcome.Next
	}

	// Detail goroutines never return errors; Wait only joins them.
	_ = group.Wait()
	close(results)
	tally := <-collected

	report.RecordsStored = tally.RecordsStored
	report.Duplicates = tally.Duplicates
	report.RecordsDropped = tally.RecordsDropped
	report.StoreFailures = tally.StoreFailures
	report.DetailFailures = tally.DetailFailures
	report.Diagnostics = tally.Diagnostics

	state := ctrl.State()
	fields := []zap.Field{
		zap.Int("pages", report.PagesFetched),
		zap.Int("dispatched", report.RecordsDispatched),
		zap.Int("stored", report.RecordsStored),
		zap.Int("duplicates", report.Duplicates),
		zap.Int("dropped", report.RecordsDropped),
		zap.Int("detail_failures", report.DetailFailures),
		zap.Int("diagnostics", report.Diagnostics),
		zap.Bool("limit_reached", state.LimitReached),
		zap.Duration("elapsed", time.Since(start)),
	}
	if state.Err != nil {
		logger.Error("crawl aborted", append(fields, zap.Error(state.Err))...)
		return report, state.Err
	}
	logger.Info("crawl finished", fields...)
	return report, nil
}

func (w *Worker) query(kinds []string) crawler.SearchQuery {
	return crawler.SearchQuery{
		Endpoint: w.cfg.SearchEndpoint,
		Kinds:    kinds,
		PageSize: w.cfg.PageSize,
		Locale:   w.cfg.Locale,
		Hash:     w.cfg.QueryHash,
	}
}

func (w *Worker) fetchSearchPage(ctx context.Context, req crawler.FetchRequest) (crawler.SearchPage, error) {
	resp, err := w.fetcher.Fetch(ctx, req)
	if err != nil {
		metrics.ObserveFetch(string(crawler.StageSearch), req.URL, "error", 0, 0)
		return crawler.SearchPage{}, fmt.Errorf("fetch search page: %w", err)
	}
	page, err := crawler.DecodeSearchPage(resp.Body)
	if err != nil {
		metrics.ObserveFetch(string(crawler.StageSearch), req.URL, "malformed", len(resp.Body), resp.Duration)
		return crawler.SearchPage{}, err
	}
	metrics.ObserveFetch(string(crawler.StageSearch), req.URL, "ok", len(resp.Body), resp.Duration)
	return page, nil
}

func (w *Worker) enrich(ctx context.Context, logger *zap.Logger, jobID string, partial crawler.PartialRecord) detailResult {
	res := detailResult{titleID: partial.ID}
	logger = logger.With(zap.String("title_id", partial.ID))
	res.diagnostics += w.reportDiagnostics(logger, partial.Diagnostics)

	req := w.details.Dispatch(partial)
	var (
		record crawler.Record
		diags  []normalize.Diagnostic
	)
	resp, err := w.fetcher.Fetch(ctx, req)
	if err == nil {
		metrics.ObserveFetch(string(crawler.StageDetail), req.URL, "ok", len(resp.Body), resp.Duration)
		record, diags, err = w.details.OnDetailFetched(partial, resp.Body)
	} else {
		metrics.ObserveFetch(string(crawler.StageDetail), req.URL, "error", 0, 0)
	}
	if err != nil {
		if ctx.Err() != nil {
			res.outcome = outcomeCanceled
			return res
		}
		res.detailFailed = true
		logger.Warn("detail fetch failed",
			zap.String("url", req.URL),
			zap.String("policy", string(w.cfg.FailurePolicy)),
			zap.Error(err),
		)
		if w.cfg.FailurePolicy == FailurePolicyDrop {
			res.outcome = outcomeDropped
			metrics.ObserveRecord(string(res.outcome))
			return res
		}
		record = crawler.Merge(partial, crawler.Enrichment{})
	}
	res.diagnostics += w.reportDiagnostics(logger, diags)

	if ctx.Err() != nil {
		res.outcome = outcomeCanceled
		return res
	}
	res.outcome = w.store(ctx, logger, jobID, record)
	metrics.ObserveRecord(string(res.outcome))
	return res
}

func (w *Worker) store(ctx context.Context, logger *zap.Logger, jobID string, record crawler.Record) recordOutcome {
	if err := w.records.Insert(ctx, record); err != nil {
		if errors.Is(err, crawler.ErrDuplicateRecord) {
			logger.Info("record already stored")
			return outcomeDuplicate
		}
		if ctx.Err() != nil {
			return outcomeCanceled
		}
		logger.Error("store record failed", zap.Error(err))
		return outcomeFailed
	}
	logger.Debug("record stored")
	w.publishRecord(ctx, logger, jobID, record)
	return outcomeStored
}

// publishRecord announces a stored record. Failures are logged only; the
// record is already durable.
func (w *Worker) publishRecord(ctx context.Context, logger *zap.Logger, jobID string, record crawler.Record) {
	if w.cfg.Topic == "" || w.publisher == nil {
		return
	}
	payload := map[string]any{
		"job_id":    jobID,
		"title_id":  record.ID,
		"title":     record.Title,
		"kind":      record.Kind,
		"timestamp": w.now().Format(time.RFC3339),
	}
	id, err := w.publisher.Publish(ctx, w.cfg.Topic, payload)
	if err != nil {
		logger.Warn("publish record failed", zap.String("topic", w.cfg.Topic), zap.Error(err))
		return
	}
	logger.Debug("record published", zap.String("topic", w.cfg.Topic), zap.String("message_id", id))
}

func (w *Worker) reportDiagnostics(logger *zap.Logger, diags []normalize.Diagnostic) int {
	for _, d := range diags {
		metrics.ObserveDiagnostic(d.Field)
		logger.Warn("field nulled",
			zap.String("field", d.Field),
			zap.String("raw", d.Raw),
			zap.String("reason", d.Reason),
		)
	}
	return len(diags)
}

func (w *Worker) now() time.Time {
	if w.clock == nil {
		return time.Now().UTC()
	}
	return w.clock.Now().UTC()
}
