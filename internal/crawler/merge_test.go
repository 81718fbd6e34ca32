package crawler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMerge_SearchFieldsSurvive(t *testing.T) {
	t.Parallel()

	title := "Heat"
	year := int64(1995)
	partial := PartialRecord{SearchFields: SearchFields{ID: "tt0113277", Title: &title, ReleaseYear: &year}}

	audience := "R"
	budget := int64(60_000_000)
	rec := Merge(partial, Enrichment{Audience: &audience, Budget: &budget})

	require.Equal(t, partial.SearchFields, rec.SearchFields)
	require.Equal(t, "R", *rec.Audience)
	require.Equal(t, int64(60_000_000), *rec.Budget)
	require.Nil(t, rec.WorldwideGross)
	require.Nil(t, rec.Countries)
}

func TestMerge_EmptyEnrichment(t *testing.T) {
	t.Parallel()

	partial := PartialRecord{SearchFields: SearchFields{ID: "tt1"}}
	rec := Merge(partial, Enrichment{})
	require.Equal(t, "tt1", rec.ID)
	require.Equal(t, Enrichment{}, rec.Enrichment)
}
