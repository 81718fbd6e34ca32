package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GMartin-Data/imdb-api/internal/crawler"
)

func TestRecordStoreInsertAndGet(t *testing.T) {
	t.Parallel()

	store := NewRecordStore()
	ctx := context.Background()
	require.NoError(t, store.CreateSchemaIfAbsent(ctx))

	title := "Alien"
	rec := crawler.Record{SearchFields: crawler.SearchFields{ID: "tt0078748", Title: &title}}
	require.NoError(t, store.Insert(ctx, rec))

	got, err := store.Get(ctx, "tt0078748")
	require.NoError(t, err)
	require.Equal(t, rec, got)

	_, err = store.Get(ctx, "tt0")
	require.ErrorIs(t, err, crawler.ErrRecordNotFound)
}

func TestRecordStoreDuplicateKeepsFirst(t *testing.T) {
	t.Parallel()

	store := NewRecordStore()
	ctx := context.Background()
	first, second := "first", "second"
	require.NoError(t, store.Insert(ctx, crawler.Record{SearchFields: crawler.SearchFields{ID: "tt1", Title: &first}}))

	err := store.Insert(ctx, crawler.Record{SearchFields: crawler.SearchFields{ID: "tt1", Title: &second}})
	require.ErrorIs(t, err, crawler.ErrDuplicateRecord)

	got, err := store.Get(ctx, "tt1")
	require.NoError(t, err)
	require.Equal(t, "first", *got.Title)
}

func TestRecordStoreRejectsEmptyID(t *testing.T) {
	t.Parallel()

	require.Error(t, NewRecordStore().Insert(context.Background(), crawler.Record{}))
}

func TestRecordStoreConcurrentInsertsSameID(t *testing.T) {
	t.Parallel()

	store := NewRecordStore()
	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		successes  int
		duplicates int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.Insert(context.Background(), crawler.Record{SearchFields: crawler.SearchFields{ID: "tt42"}})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
			} else {
				assert.ErrorIs(t, err, crawler.ErrDuplicateRecord)
				duplicates++
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, successes)
	require.Equal(t, 15, duplicates)
	require.Equal(t, []string{"tt42"}, store.IDs())
}
