// Package collyfetcher implements Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/GMartin-Data/imdb-api/internal/crawler"
)

const defaultTimeout = 15 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	// Transport overrides the HTTP transport; nil uses a pooled default.
	Transport http.RoundTripper
}

// Fetcher implements crawler.Fetcher using the Colly collector. Every call
// runs on a clone of the base collector, so Fetch is safe for concurrent use.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher. Transport and timeout live on the collector backend
// shared by every clone, so they are fixed here rather than per request.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	c := colly.NewCollector(colly.Async(false))
	// Search pages differ only by cursor and a long-running server crawls the
	// same titles again on every job.
	c.AllowURLRevisit = true
	c.IgnoreRobotsTxt = !cfg.RespectRobots
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	transport := cfg.Transport
	if transport == nil {
		transport = newHTTPTransport()
	}
	c.WithTransport(transport)
	c.SetRequestTimeout(cfg.Timeout)

	return &Fetcher{cfg: cfg, baseCollector: c}
}

// Fetch executes a single HTTP GET using Colly.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	var (
		result   crawler.FetchResponse
		fetchErr error
	)
	collector := f.baseCollector.Clone()
	f.configureCollectorHooks(collector, request, time.Now(), &result, &fetchErr)

	if err := f.runCollector(ctx, collector, request.URL, &fetchErr); err != nil {
		return crawler.FetchResponse{}, err
	}
	return result, nil
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	request crawler.FetchRequest,
	start time.Time,
	result *crawler.FetchResponse,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		f.copyHeaders(request, r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		*result = crawler.FetchResponse{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    r.Headers.Clone(),
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			*fetchErr = &StatusError{URL: request.URL, StatusCode: r.StatusCode, Err: err}
			return
		}
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		return nil
	}
}

func (f *Fetcher) copyHeaders(request crawler.FetchRequest, r *colly.Request) {
	if request.Headers == nil {
		return
	}
	for key, values := range request.Headers {
		r.Headers.Del(key)
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

// StatusError reports a response outside the 2xx range.
type StatusError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch %s: status %d", e.URL, e.StatusCode)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
	}
}
