// Package app builds and holds the long-lived services shared by the CLI
// commands.
package app

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/GMartin-Data/imdb-api/internal/api"
	"github.com/GMartin-Data/imdb-api/internal/clock/system"
	"github.com/GMartin-Data/imdb-api/internal/config"
	"github.com/GMartin-Data/imdb-api/internal/crawler"
	"github.com/GMartin-Data/imdb-api/internal/dispatcher"
	collyfetcher "github.com/GMartin-Data/imdb-api/internal/fetcher/colly"
	ids "github.com/GMartin-Data/imdb-api/internal/id/uuid"
	"github.com/GMartin-Data/imdb-api/internal/policy/ratelimit"
	memorypublisher "github.com/GMartin-Data/imdb-api/internal/publisher/memory"
	pubsubpublisher "github.com/GMartin-Data/imdb-api/internal/publisher/pubsub"
	queueMemory "github.com/GMartin-Data/imdb-api/internal/queue/memory"
	"github.com/GMartin-Data/imdb-api/internal/storage/cache"
	memoryStorage "github.com/GMartin-Data/imdb-api/internal/storage/memory"
	"github.com/GMartin-Data/imdb-api/internal/storage/postgres"
	"github.com/GMartin-Data/imdb-api/internal/worker"
)

// Option adjusts how New builds the services.
type Option func(*options)

type options struct {
	transport http.RoundTripper
	records   crawler.RecordStore
	publisher crawler.Publisher
}

// WithTransport routes every outbound fetch through rt.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) { o.transport = rt }
}

// WithRecordStore bypasses the configured store driver.
func WithRecordStore(store crawler.RecordStore) Option {
	return func(o *options) { o.records = store }
}

// WithPublisher bypasses the configured notification backend.
func WithPublisher(p crawler.Publisher) Option {
	return func(o *options) { o.publisher = p }
}

// App holds the shared services for one process.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	jobs      *memoryStorage.JobStore
	records   crawler.RecordStore
	publisher crawler.Publisher
	fetcher   crawler.Fetcher
	queue     *queueMemory.Queue
	clock     crawler.Clock
	ids       crawler.IDGenerator
	closers   []func() error
}

// New initializes every service named by cfg and fails fast on the first
// one that cannot start.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{
		cfg:    cfg,
		logger: logger,
		clock:  system.New(),
		ids:    ids.New(),
		queue:  queueMemory.NewQueue(cfg.Crawl.QueueDepth),
	}
	a.jobs = memoryStorage.NewJobStore(a.clock)

	records, err := a.buildRecordStore(ctx, o.records)
	if err != nil {
		return nil, err
	}
	if size := cfg.Store.CacheSize; size > 0 {
		cached, err := cache.NewRecordStore(records, size)
		if err != nil {
			a.Close()
			return nil, err
		}
		records = cached
	}
	a.records = records

	publisher, err := a.buildPublisher(ctx, o.publisher)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.publisher = publisher

	a.fetcher = ratelimit.Wrap(collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.Crawl.UserAgent,
		RespectRobots: cfg.Crawl.RespectRobots,
		Timeout:       cfg.HTTPTimeout(),
		Transport:     o.transport,
	}), ratelimit.Config{RPS: cfg.Crawl.RequestsPerSecond, Burst: cfg.Crawl.Burst})

	logger.Info("application services initialized",
		zap.String("store_driver", cfg.Store.Driver),
		zap.Bool("pubsub", cfg.PubSub.ProjectID != ""),
	)
	return a, nil
}

func (a *App) buildRecordStore(ctx context.Context, override crawler.RecordStore) (crawler.RecordStore, error) {
	if override != nil {
		return override, nil
	}
	switch a.cfg.Store.Driver {
	case config.DriverPostgres:
		store, err := postgres.NewRecordStore(ctx, postgres.RecordStoreConfig{
			DSN:      a.cfg.Store.DSN,
			Table:    a.cfg.Store.Table,
			MaxConns: a.cfg.Store.MaxConns,
		})
		if err != nil {
			return nil, fmt.Errorf("init postgres record store: %w", err)
		}
		a.closers = append(a.closers, func() error { store.Close(); return nil })
		a.logger.Info("using postgres record store", zap.String("table", a.cfg.Store.Table))
		return store, nil
	case config.DriverMemory, "":
		a.logger.Info("using in-memory record store; records are lost on exit")
		return memoryStorage.NewRecordStore(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", a.cfg.Store.Driver)
	}
}

func (a *App) buildPublisher(ctx context.Context, override crawler.Publisher) (crawler.Publisher, error) {
	if override != nil {
		return override, nil
	}
	if a.cfg.PubSub.ProjectID == "" {
		return memorypublisher.New(), nil
	}
	pub, err := pubsubpublisher.NewFromProject(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("init pubsub publisher: %w", err)
	}
	a.closers = append(a.closers, pub.Close)
	a.logger.Info("publishing record notifications", zap.String("topic", a.cfg.PubSub.TopicName))
	return pub, nil
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Records returns the configured record store.
func (a *App) Records() crawler.RecordStore {
	return a.records
}

// Jobs returns the job store.
func (a *App) Jobs() crawler.JobStore {
	return a.jobs
}

// NewWorker builds a Worker bound to the shared services.
func (a *App) NewWorker() *worker.Worker {
	return worker.New(a.queue, a.jobs, a.records, a.publisher, a.clock, a.fetcher, a.workerConfig(), a.logger)
}

func (a *App) workerConfig() worker.Config {
	c := a.cfg.Crawl
	return worker.Config{
		SearchEndpoint:    c.SearchEndpoint,
		PageSize:          c.PageSize,
		Locale:            c.Locale,
		QueryHash:         c.QueryHash,
		DetailBaseURL:     c.DetailBaseURL,
		UserAgent:         c.UserAgent,
		DetailConcurrency: c.DetailConcurrency,
		FailurePolicy:     worker.FailurePolicy(c.DetailFailurePolicy),
		Topic:             a.topic(),
	}
}

func (a *App) topic() string {
	if a.cfg.PubSub.ProjectID == "" {
		return ""
	}
	return a.cfg.PubSub.TopicName
}

// Dispatcher builds the queue consumer pool used by serve mode.
func (a *App) Dispatcher() *dispatcher.Dispatcher {
	n := a.cfg.Crawl.Workers
	if n <= 0 {
		n = 1
	}
	runners := make([]dispatcher.Runner, 0, n)
	for i := 0; i < n; i++ {
		runners = append(runners, a.NewWorker())
	}
	return dispatcher.New(a.queue, runners...)
}

// Server builds the HTTP API over the shared services.
func (a *App) Server(d *dispatcher.Dispatcher) *api.Server {
	return api.NewServer(a.jobs, a.records, d, a.ids, a.clock, a.cfg, a.logger)
}

// RunOnce harvests kinds up to limit in the calling goroutine and returns the
// finished job.
func (a *App) RunOnce(ctx context.Context, kinds []string, limit int) (crawler.Job, error) {
	jobID, err := a.ids.NewID()
	if err != nil {
		return crawler.Job{}, fmt.Errorf("allocate job id: %w", err)
	}
	now := a.clock.Now()
	job := crawler.Job{
		ID:        jobID,
		Kinds:     append([]string(nil), kinds...),
		Limit:     limit,
		Status:    crawler.JobStatusQueued,
		Submitted: now,
	}
	if err := a.jobs.CreateJob(ctx, job); err != nil {
		return crawler.Job{}, fmt.Errorf("create job: %w", err)
	}
	_, runErr := a.NewWorker().Process(ctx, crawler.QueueItem{
		JobID:     jobID,
		Kinds:     job.Kinds,
		Limit:     limit,
		Submitted: now.Unix(),
	})
	finished, err := a.jobs.GetJob(context.WithoutCancel(ctx), jobID)
	if err != nil {
		return crawler.Job{}, fmt.Errorf("load job: %w", err)
	}
	return finished, runErr
}

// Close shuts down every service that holds external resources.
func (a *App) Close() {
	a.queue.Close()
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("error closing service", zap.Error(err))
		}
	}
	a.closers = nil
}
