package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/GMartin-Data/imdb-api/internal/crawler"
	publisherMemory "github.com/GMartin-Data/imdb-api/internal/publisher/memory"
	queueMemory "github.com/GMartin-Data/imdb-api/internal/queue/memory"
	storageMemory "github.com/GMartin-Data/imdb-api/internal/storage/memory"
)

const movieDetail = `<html><body>
<h1 data-testid="hero__pageTitle">T</h1>
<ul><li><a>2001</a></li><li><a>PG</a></li><li><a>2h</a></li></ul>
<a data-testid="title-cast-item__actor">Jane Doe</a>
<li data-testid="title-details-origin"><a>Japan</a></li>
<div data-testid="title-boxoffice-section"><ul>
<li><span>Budget</span><span>¥1,500,000</span></li>
<li><span>Gross</span><span>$2,000</span></li>
</ul></div>
</body></html>`

func TestCrawl_LimitStopsMidPage(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher(searchBody(true, "next", "tt1", "tt2", "tt3", "tt4", "tt5"))
	records := storageMemory.NewRecordStore()
	w := newTestWorker(fetcher, records, nil, Config{})

	report, err := w.Crawl(context.Background(), "job-1", []string{"movie"}, 3)
	require.NoError(t, err)
	require.Equal(t, 1, report.PagesFetched)
	require.Equal(t, 3, report.RecordsDispatched)
	require.Equal(t, 3, report.RecordsStored)
	require.Equal(t, 1, fetcher.searchCalls())
	require.ElementsMatch(t, []string{"tt1", "tt2", "tt3"}, fetcher.detailIDs())
	require.Equal(t, []string{"tt1", "tt2", "tt3"}, records.IDs())
}

func TestCrawl_FollowsCursorUntilLastPage(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher(
		searchBody(true, "c1", "tt1", "tt2"),
		searchBody(false, "", "tt3"),
	)
	records := storageMemory.NewRecordStore()
	w := newTestWorker(fetcher, records, nil, Config{})

	report, err := w.Crawl(context.Background(), "job-2", []string{"movie"}, 50)
	require.NoError(t, err)
	require.Equal(t, 2, report.PagesFetched)
	require.Equal(t, 3, report.RecordsStored)
	require.Contains(t, fetcher.searchURLs()[1], "c1")

	rec, err := records.Get(context.Background(), "tt1")
	require.NoError(t, err)
	require.Equal(t, "PG", *rec.Audience)
	require.Equal(t, "Jane Doe", *rec.Casting)
	require.Equal(t, "Japan", *rec.Countries)
	require.Equal(t, int64(10_000), *rec.Budget)
	require.Equal(t, int64(2_000), *rec.WorldwideGross)
	require.Equal(t, "Title tt1", *rec.Title)
}

func TestCrawl_MissingCursorIsFatal(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher(searchBody(true, "", "tt1", "tt2"))
	records := storageMemory.NewRecordStore()
	w := newTestWorker(fetcher, records, nil, Config{})

	report, err := w.Crawl(context.Background(), "job-3", []string{"movie"}, 10)
	require.ErrorIs(t, err, crawler.ErrMissingCursor)
	require.Equal(t, 2, report.RecordsStored)
	require.Equal(t, 1, fetcher.searchCalls())
}

func TestCrawl_MalformedEdgeDoesNotAbort(t *testing.T) {
	t.Parallel()

	page := `{"data":{"advancedTitleSearch":{"edges":[
		{"node":{"title":{"id":"tt1"}}},
		{"node":{"title":{"id":"tt2","runtime":7200}}},
		{"node":{"title":{"id":"tt3"}}}
	],"pageInfo":{"hasNextPage":false,"endCursor":null}}}}`
	fetcher := newFakeFetcher(page)
	records := storageMemory.NewRecordStore()
	w := newTestWorker(fetcher, records, nil, Config{})

	report, err := w.Crawl(context.Background(), "job-malformed", []string{"movie"}, 10)
	require.NoError(t, err)
	require.Equal(t, 1, report.EdgesSkipped)
	require.Equal(t, 2, report.RecordsStored)
	require.Equal(t, []string{"tt1", "tt3"}, records.IDs())
}

func TestCrawl_SearchFetchFailure(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	w := newTestWorker(fetcher, storageMemory.NewRecordStore(), nil, Config{})

	report, err := w.Crawl(context.Background(), "job-4", []string{"movie"}, 10)
	require.Error(t, err)
	require.Zero(t, report.PagesFetched)
	require.Zero(t, report.RecordsDispatched)
}

func TestCrawl_DetailFailurePolicies(t *testing.T) {
	t.Parallel()

	cases := []struct {
		policy  FailurePolicy
		stored  []string
		dropped int
	}{
		{policy: FailurePolicyStore, stored: []string{"tt1", "tt2"}},
		{policy: FailurePolicyDrop, stored: []string{"tt1"}, dropped: 1},
	}
	for _, tc := range cases {
		t.Run(string(tc.policy), func(t *testing.T) {
			t.Parallel()

			fetcher := newFakeFetcher(searchBody(false, "", "tt1", "tt2"))
			fetcher.failDetail("tt2")
			records := storageMemory.NewRecordStore()
			w := newTestWorker(fetcher, records, nil, Config{FailurePolicy: tc.policy})

			report, err := w.Crawl(context.Background(), "job-5", []string{"movie"}, 10)
			require.NoError(t, err)
			require.Equal(t, 1, report.DetailFailures)
			require.Equal(t, tc.dropped, report.RecordsDropped)
			require.Equal(t, tc.stored, records.IDs())

			if tc.policy == FailurePolicyStore {
				rec, err := records.Get(context.Background(), "tt2")
				require.NoError(t, err)
				require.Equal(t, "Title tt2", *rec.Title)
				require.Equal(t, crawler.Enrichment{}, rec.Enrichment)
			}
		})
	}
}

func TestCrawl_DuplicatesAreCountedNotFatal(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher(searchBody(false, "", "tt1", "tt2"))
	records := storageMemory.NewRecordStore()
	require.NoError(t, records.Insert(context.Background(), crawler.Record{SearchFields: crawler.SearchFields{ID: "tt1"}}))
	w := newTestWorker(fetcher, records, nil, Config{})

	report, err := w.Crawl(context.Background(), "job-6", []string{"movie"}, 10)
	require.NoError(t, err)
	require.Equal(t, 1, report.Duplicates)
	require.Equal(t, 1, report.RecordsStored)

	rec, err := records.Get(context.Background(), "tt1")
	require.NoError(t, err)
	require.Nil(t, rec.Title)
}

func TestCrawl_DiagnosticsAreCounted(t *testing.T) {
	t.Parallel()

	body := `{"data":{"advancedTitleSearch":{"edges":[
{"node":{"title":{"id":"tt1","runtime":{"seconds":"forever"}}}}
],"pageInfo":{"hasNextPage":false}}}}`
	fetcher := newFakeFetcher(body)
	fetcher.details["tt1"] = `<div data-testid="title-boxoffice-section"><ul>
<li><span>Budget</span><span>ZZ9</span></li><li><span>Gross</span><span>$1</span></li></ul></div>`
	w := newTestWorker(fetcher, storageMemory.NewRecordStore(), nil, Config{})

	report, err := w.Crawl(context.Background(), "job-7", []string{"movie"}, 10)
	require.NoError(t, err)
	require.Equal(t, 2, report.Diagnostics)
	require.Equal(t, 1, report.RecordsStored)
}

func TestCrawl_PublishesStoredRecords(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher(searchBody(false, "", "tt1", "tt2"))
	pub := publisherMemory.New()
	w := newTestWorker(fetcher, storageMemory.NewRecordStore(), pub, Config{Topic: "records"})

	_, err := w.Crawl(context.Background(), "job-8", []string{"movie"}, 10)
	require.NoError(t, err)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		require.Equal(t, "records", m.Topic)
		payload, ok := m.Payload.(map[string]any)
		require.True(t, ok)
		require.Equal(t, "job-8", payload["job_id"])
		ids = append(ids, payload["title_id"].(string))
	}
	require.ElementsMatch(t, []string{"tt1", "tt2"}, ids)
}

func TestCrawl_PublishFailureKeepsRecord(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher(searchBody(false, "", "tt1"))
	pub := publisherMemory.New()
	pub.FailWith(errors.New("unavailable"))
	records := storageMemory.NewRecordStore()
	w := newTestWorker(fetcher, records, pub, Config{Topic: "records"})

	report, err := w.Crawl(context.Background(), "job-9", []string{"movie"}, 10)
	require.NoError(t, err)
	require.Equal(t, 1, report.RecordsStored)
	require.Equal(t, []string{"tt1"}, records.IDs())
}

func TestCrawl_StoreInitFailureHalts(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher(searchBody(false, "", "tt1"))
	w := newTestWorker(fetcher, &failingStore{}, nil, Config{})

	_, err := w.Crawl(context.Background(), "job-10", []string{"movie"}, 10)
	require.Error(t, err)
	require.Zero(t, fetcher.searchCalls())
}

func TestCrawl_CanceledContextStoresNothing(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher(searchBody(false, "", "tt1"))
	records := storageMemory.NewRecordStore()
	w := newTestWorker(fetcher, records, nil, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := w.Crawl(ctx, "job-11", []string{"movie"}, 10)
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, records.IDs())
}

func TestCrawl_DetailConcurrencyIsBounded(t *testing.T) {
	t.Parallel()

	ids := make([]string, 12)
	for i := range ids {
		ids[i] = fmt.Sprintf("tt%d", i+1)
	}
	fetcher := newFakeFetcher(searchBody(false, "", ids...))
	fetcher.detailDelay = 5 * time.Millisecond
	w := newTestWorker(fetcher, storageMemory.NewRecordStore(), nil, Config{DetailConcurrency: 2})

	report, err := w.Crawl(context.Background(), "job-12", []string{"movie"}, 100)
	require.NoError(t, err)
	require.Equal(t, 12, report.RecordsStored)
	require.LessOrEqual(t, fetcher.maxInFlight(), 2)
}

func TestProcess_RecordsJobLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	jobs := storageMemory.NewJobStore(nil)
	require.NoError(t, jobs.CreateJob(ctx, crawler.Job{ID: "job-ok", Status: crawler.JobStatusQueued}))
	require.NoError(t, jobs.CreateJob(ctx, crawler.Job{ID: "job-bad", Status: crawler.JobStatusQueued}))

	okWorker := New(nil, jobs, storageMemory.NewRecordStore(), nil, nil,
		newFakeFetcher(searchBody(false, "", "tt1")), Config{}, zap.NewNop())
	report, err := okWorker.Process(ctx, crawler.QueueItem{JobID: "job-ok", Kinds: []string{"movie"}, Limit: 5})
	require.NoError(t, err)
	require.Equal(t, 1, report.RecordsStored)

	job, err := jobs.GetJob(ctx, "job-ok")
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusSucceeded, job.Status)
	require.Equal(t, 1, job.Report.RecordsStored)
	require.NotNil(t, job.Finished)

	badWorker := New(nil, jobs, storageMemory.NewRecordStore(), nil, nil,
		newFakeFetcher(searchBody(true, "", "tt1")), Config{}, zap.NewNop())
	_, err = badWorker.Process(ctx, crawler.QueueItem{JobID: "job-bad", Kinds: []string{"movie"}, Limit: 5})
	require.Error(t, err)

	job, err = jobs.GetJob(ctx, "job-bad")
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusFailed, job.Status)
	require.Contains(t, job.ErrorText, "cursor")
}

func TestRun_ConsumesQueue(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	queue := queueMemory.NewQueue(1)
	jobs := storageMemory.NewJobStore(nil)
	require.NoError(t, jobs.CreateJob(ctx, crawler.Job{ID: "job-q", Status: crawler.JobStatusQueued}))
	w := New(queue, jobs, storageMemory.NewRecordStore(), nil, nil,
		newFakeFetcher(searchBody(false, "", "tt1")), Config{}, zap.NewNop())

	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	require.NoError(t, queue.Enqueue(ctx, crawler.QueueItem{JobID: "job-q", Kinds: []string{"movie"}, Limit: 1}))

	require.Eventually(t, func() bool {
		job, err := jobs.GetJob(ctx, "job-q")
		return err == nil && job.Status == crawler.JobStatusSucceeded
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}

func newTestWorker(fetcher crawler.Fetcher, records crawler.RecordStore, pub crawler.Publisher, cfg Config) *Worker {
	return New(nil, nil, records, pub, fixedClock{}, fetcher, cfg, zap.NewNop())
}

func searchBody(hasNext bool, cursor string, ids ...string) string {
	edges := make([]string, 0, len(ids))
	for _, id := range ids {
		edges = append(edges, fmt.Sprintf(
			`{"node":{"title":{"id":%q,"titleType":{"text":"Movie"},"titleText":{"text":"Title %s"}}}}`, id, id))
	}
	cursorJSON := "null"
	if cursor != "" {
		cursorJSON = fmt.Sprintf("%q", cursor)
	}
	return fmt.Sprintf(`{"data":{"advancedTitleSearch":{"edges":[%s],"pageInfo":{"hasNextPage":%t,"endCursor":%s}}}}`,
		strings.Join(edges, ","), hasNext, cursorJSON)
}

type fakeFetcher struct {
	mu          sync.Mutex
	pages       []string
	details     map[string]string
	failing     map[string]bool
	searches    []string
	detailCalls []string
	detailDelay time.Duration
	inFlight    int
	peak        int
}

func newFakeFetcher(pages ...string) *fakeFetcher {
	return &fakeFetcher{pages: pages, details: map[string]string{}, failing: map[string]bool{}}
}

func (f *fakeFetcher) failDetail(id string) {
	f.failing[id] = true
}

func (f *fakeFetcher) Fetch(ctx context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	if err := ctx.Err(); err != nil {
		return crawler.FetchResponse{}, err
	}
	if req.Stage == crawler.StageSearch {
		f.mu.Lock()
		defer f.mu.Unlock()
		idx := len(f.searches)
		f.searches = append(f.searches, req.URL)
		if idx >= len(f.pages) {
			return crawler.FetchResponse{}, errors.New("search unavailable")
		}
		return crawler.FetchResponse{URL: req.URL, StatusCode: http.StatusOK, Body: []byte(f.pages[idx])}, nil
	}

	f.mu.Lock()
	f.detailCalls = append(f.detailCalls, req.TitleID)
	f.inFlight++
	if f.inFlight > f.peak {
		f.peak = f.inFlight
	}
	body, ok := f.details[req.TitleID]
	failing := f.failing[req.TitleID]
	delay := f.detailDelay
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()
	if delay > 0 {
		time.Sleep(delay)
	}
	if failing {
		return crawler.FetchResponse{}, errors.New("status 503")
	}
	if !ok {
		body = movieDetail
	}
	return crawler.FetchResponse{URL: req.URL, StatusCode: http.StatusOK, Body: []byte(body)}, nil
}

func (f *fakeFetcher) searchCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.searches)
}

func (f *fakeFetcher) searchURLs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.searches...)
}

func (f *fakeFetcher) detailIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.detailCalls...)
}

func (f *fakeFetcher) maxInFlight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.peak
}

type failingStore struct{}

func (failingStore) CreateSchemaIfAbsent(context.Context) error {
	return errors.New("database unreachable")
}

func (failingStore) Insert(context.Context, crawler.Record) error {
	return errors.New("database unreachable")
}

func (failingStore) Get(context.Context, string) (crawler.Record, error) {
	return crawler.Record{}, crawler.ErrRecordNotFound
}

type fixedClock struct{}

func (fixedClock) Now() time.Time { return time.Unix(1_700_000_000, 0) }
