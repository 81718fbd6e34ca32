package cmd

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/GMartin-Data/imdb-api/internal/api"
	"github.com/GMartin-Data/imdb-api/internal/config"
	"github.com/GMartin-Data/imdb-api/internal/crawler"
	"github.com/GMartin-Data/imdb-api/internal/dispatcher"
)

type fakeServices struct {
	kinds  []string
	limit  int
	runErr error
	closed bool
}

func (f *fakeServices) RunOnce(_ context.Context, kinds []string, limit int) (crawler.Job, error) {
	f.kinds, f.limit = kinds, limit
	return crawler.Job{
		ID:     "job-1",
		Kinds:  kinds,
		Limit:  limit,
		Status: crawler.JobStatusSucceeded,
		Report: crawler.Report{RecordsStored: limit},
	}, f.runErr
}

func (f *fakeServices) Dispatcher() *dispatcher.Dispatcher { return nil }

func (f *fakeServices) Server(*dispatcher.Dispatcher) *api.Server { return nil }

func (f *fakeServices) Close() { f.closed = true }

// Tests in this file swap the package-level factory and must not run in parallel.
func withFake(t *testing.T, fake *fakeServices) {
	t.Helper()
	orig := newServices
	newServices = func(context.Context, config.Config, *zap.Logger) (Services, error) {
		return fake, nil
	}
	t.Cleanup(func() { newServices = orig })
}

func TestCrawlCommandAppliesFlags(t *testing.T) {
	fake := &fakeServices{}
	withFake(t, fake)

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"crawl", "--kind", "tvSeries,tvMiniSeries", "--limit", "3"})

	require.NoError(t, root.ExecuteContext(context.Background()))
	require.Equal(t, []string{"tvSeries", "tvMiniSeries"}, fake.kinds)
	require.Equal(t, 3, fake.limit)
	require.True(t, fake.closed)
	require.Contains(t, out.String(), `"records_stored": 3`)
}

func TestCrawlCommandUsesConfigDefaults(t *testing.T) {
	fake := &fakeServices{}
	withFake(t, fake)

	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"crawl"})

	require.NoError(t, root.ExecuteContext(context.Background()))
	require.Equal(t, []string{"movie"}, fake.kinds)
	require.Equal(t, 100, fake.limit)
}

func TestCrawlCommandRejectsUnknownKind(t *testing.T) {
	fake := &fakeServices{}
	withFake(t, fake)

	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"crawl", "--kind", "podcast"})

	require.ErrorContains(t, root.ExecuteContext(context.Background()), "podcast")
	require.Nil(t, fake.kinds)
}

func TestCrawlCommandSurfacesRunError(t *testing.T) {
	fake := &fakeServices{runErr: crawler.ErrMissingCursor}
	withFake(t, fake)

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"crawl", "--limit", "2"})

	err := root.ExecuteContext(context.Background())
	require.True(t, errors.Is(err, crawler.ErrMissingCursor))
	require.Contains(t, out.String(), "job-1")
}
