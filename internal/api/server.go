package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/GMartin-Data/imdb-api/internal/config"
	"github.com/GMartin-Data/imdb-api/internal/crawler"
	ids "github.com/GMartin-Data/imdb-api/internal/id/uuid"
	"github.com/GMartin-Data/imdb-api/internal/metrics"
)

// Enqueuer hands queued jobs to the worker pool.
type Enqueuer interface {
	Enqueue(ctx context.Context, item crawler.QueueItem) error
}

type pinger interface {
	Ping(ctx context.Context) error
}

// Server wires HTTP handlers to the dispatcher and stores.
type Server struct {
	router   chi.Router
	jobStore crawler.JobStore
	records  crawler.RecordStore
	queue    Enqueuer
	idGen    crawler.IDGenerator
	clock    crawler.Clock
	cfg      config.Config
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	jobStore crawler.JobStore,
	records crawler.RecordStore,
	queue Enqueuer,
	idGen crawler.IDGenerator,
	clock crawler.Clock,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		jobStore: jobStore,
		records:  records,
		queue:    queue,
		idGen:    idGen,
		clock:    clock,
		cfg:      cfg,
		logger:   logger.Named("api"),
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/crawls", s.submitCrawl)
		r.Get("/crawls/{job_id}", s.getCrawl)
		r.Get("/records/{title_id}", s.getRecord)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if p, ok := s.records.(pinger); ok {
		if err := p.Ping(r.Context()); err != nil {
			s.logger.Warn("record store not ready", zap.Error(err))
			s.writeError(w, http.StatusServiceUnavailable, "record store unavailable")
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type crawlRequest struct {
	Kinds []string `json:"kinds"`
	Limit *int     `json:"limit"`
}

func (s *Server) submitCrawl(w http.ResponseWriter, r *http.Request) {
	var req crawlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	kinds, limit, err := s.crawlParameters(req)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	jobID, err := s.idGen.NewID()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to allocate job id")
		return
	}
	now := s.clock.Now()
	job := crawler.Job{
		ID:        jobID,
		Kinds:     kinds,
		Limit:     limit,
		Status:    crawler.JobStatusQueued,
		Submitted: now,
	}
	if err := s.jobStore.CreateJob(r.Context(), job); err != nil {
		s.logger.Error("create job failed", zap.String("job_id", jobID), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}
	item := crawler.QueueItem{JobID: jobID, Kinds: kinds, Limit: limit, Submitted: now.Unix()}
	if err := s.queue.Enqueue(r.Context(), item); err != nil {
		s.logger.Error("enqueue job failed", zap.String("job_id", jobID), zap.Error(err))
		if uerr := s.jobStore.UpdateJob(context.WithoutCancel(r.Context()), jobID,
			crawler.JobStatusFailed, err.Error(), crawler.Report{}); uerr != nil {
			s.logger.Warn("mark job failed", zap.String("job_id", jobID), zap.Error(uerr))
		}
		s.writeError(w, http.StatusServiceUnavailable, "job queue unavailable")
		return
	}
	s.logger.Info("crawl queued",
		zap.String("job_id", jobID),
		zap.Strings("kinds", kinds),
		zap.Int("limit", limit),
	)
	s.writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

func (s *Server) crawlParameters(req crawlRequest) ([]string, int, error) {
	kinds := req.Kinds
	if len(kinds) == 0 {
		kinds = append([]string(nil), s.cfg.Crawl.Kinds...)
	}
	if len(kinds) == 0 {
		return nil, 0, errors.New("kinds required")
	}
	for _, kind := range kinds {
		if !crawler.ValidKind(kind) {
			return nil, 0, fmt.Errorf("unsupported kind %q", kind)
		}
	}
	limit := s.cfg.Crawl.Limit
	if req.Limit != nil {
		limit = *req.Limit
	}
	if limit <= 0 {
		return nil, 0, errors.New("limit must be > 0")
	}
	return kinds, limit, nil
}

func (s *Server) getCrawl(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if !ids.Valid(jobID) {
		s.writeError(w, http.StatusBadRequest, "malformed job id")
		return
	}
	job, err := s.jobStore.GetJob(r.Context(), jobID)
	switch {
	case errors.Is(err, crawler.ErrJobNotFound):
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	case err != nil:
		s.logger.Error("get job failed", zap.String("job_id", jobID), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func (s *Server) getRecord(w http.ResponseWriter, r *http.Request) {
	titleID := chi.URLParam(r, "title_id")
	record, err := s.records.Get(r.Context(), titleID)
	switch {
	case errors.Is(err, crawler.ErrRecordNotFound):
		s.writeError(w, http.StatusNotFound, "record not found")
		return
	case err != nil:
		s.logger.Error("get record failed", zap.String("title_id", titleID), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to load record")
		return
	}
	s.writeJSON(w, http.StatusOK, record)
}

type requestIDKey struct{}

// RequestID returns the id assigned to the request carried by ctx.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("request_id", RequestID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered",
					zap.String("request_id", RequestID(r.Context())),
					zap.Any("panic", rec),
				)
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
