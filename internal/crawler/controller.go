package crawler

import (
	"errors"
	"fmt"
	"strings"

	"github.com/GMartin-Data/imdb-api/internal/normalize"
)

// Phase is the controller lifecycle.
type Phase string

// Controller phases. PhaseDone is terminal.
const (
	PhaseRunning Phase = "RUNNING"
	PhaseDone    Phase = "DONE"
)

// CrawlState is a snapshot of the pagination state machine.
type CrawlState struct {
	Cursor       string
	Emitted      int
	Limit        int
	Phase        Phase
	LimitReached bool
	Err          error
}

// PageOutcome is what the controller decided for one search page.
type PageOutcome struct {
	// Records are the partial records to dispatch, in edge order.
	Records []PartialRecord
	// Skipped counts edges that carried no title id.
	Skipped int
	// Next is the following search request, or nil when the crawl is done.
	Next *FetchRequest
}

// Controller walks the search result pages and decides when to stop. It is
// not safe for concurrent use; a single goroutine drives it.
type Controller struct {
	query   SearchQuery
	state   CrawlState
	started bool
}

// NewController returns a controller that emits at most limit records.
func NewController(query SearchQuery, limit int) (*Controller, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}
	if len(query.Kinds) == 0 {
		return nil, errors.New("at least one title kind is required")
	}
	for _, k := range query.Kinds {
		if !ValidKind(k) {
			return nil, fmt.Errorf("unsupported title kind %q", k)
		}
	}
	return &Controller{
		query: query,
		state: CrawlState{Limit: limit, Phase: PhaseRunning},
	}, nil
}

// Begin returns the request for the first search page.
func (c *Controller) Begin() (FetchRequest, error) {
	if c.state.Phase == PhaseDone || c.started {
		return FetchRequest{}, ErrCrawlDone
	}
	c.started = true
	return c.query.Request(""), nil
}

// OnPageFetched consumes one decoded page. Records emitted before a
// pagination error are still returned alongside it. Edges without a title id
// or with a malformed shape are counted in Skipped and do not use up the
// limit; only emitted records advance the count.
func (c *Controller) OnPageFetched(page SearchPage) (PageOutcome, error) {
	if c.state.Phase == PhaseDone {
		return PageOutcome{}, ErrCrawlDone
	}
	var out PageOutcome
	for _, edge := range page.Edges {
		if c.state.Emitted >= c.state.Limit {
			break
		}
		rec, err := ParseEdge(edge)
		if err != nil {
			out.Skipped++
			continue
		}
		c.state.Emitted++
		rec.Ordinal = c.state.Emitted
		out.Records = append(out.Records, rec)
	}

	switch {
	case c.state.Emitted >= c.state.Limit:
		c.state.LimitReached = true
		c.finish(nil)
	case !page.HasNextPage:
		c.finish(nil)
	case page.EndCursor == nil || *page.EndCursor == "":
		c.finish(ErrMissingCursor)
		return out, ErrMissingCursor
	default:
		c.state.Cursor = *page.EndCursor
		next := c.query.Request(c.state.Cursor)
		out.Next = &next
	}
	return out, nil
}

// Abort ends the crawl with err, for failures the controller cannot observe
// itself such as a failed search fetch.
func (c *Controller) Abort(err error) {
	if c.state.Phase == PhaseDone {
		return
	}
	c.finish(err)
}

// State returns a copy of the current state.
func (c *Controller) State() CrawlState {
	return c.state
}

// Done reports whether the crawl reached its terminal phase.
func (c *Controller) Done() bool {
	return c.state.Phase == PhaseDone
}

func (c *Controller) finish(err error) {
	c.state.Phase = PhaseDone
	c.state.Err = err
}

// ParseEdge normalizes the search-side columns of one edge. Coercion failures
// become null fields with diagnostics; only a missing id or a malformed edge
// rejects it.
func ParseEdge(edge Edge) (PartialRecord, error) {
	if err := edge.Err(); err != nil {
		return PartialRecord{}, fmt.Errorf("%w: %v", ErrMalformedEdge, err)
	}
	var diags normalize.Collector
	id, ok := normalize.Observe(&diags, "id", normalize.Text(edge.ID())).Value()
	if !ok || id == "" {
		return PartialRecord{}, ErrMissingTitleID
	}
	var genres *string
	if names := edge.GenreTexts(); len(names) > 0 {
		joined := strings.Join(names, ", ")
		genres = &joined
	}
	fields := SearchFields{
		ID:              id,
		Kind:            normalize.Observe(&diags, "kind", normalize.Text(edge.Kind())).Ptr(),
		Title:           normalize.Observe(&diags, "title", normalize.Text(edge.TitleText())).Ptr(),
		OriginalTitle:   normalize.Observe(&diags, "original_title", normalize.Text(edge.OriginalTitleText())).Ptr(),
		Genres:          genres,
		DurationS:       normalize.Observe(&diags, "duration_s", normalize.Int(edge.RuntimeSeconds())).Ptr(),
		ReleaseYear:     normalize.Observe(&diags, "release_year", normalize.Int(edge.ReleaseYear())).Ptr(),
		Rating:          normalize.Observe(&diags, "rating", normalize.Float(edge.AggregateRating())).Ptr(),
		VoteCount:       normalize.Observe(&diags, "vote_count", normalize.Int(edge.VoteCount())).Ptr(),
		MetacriticScore: normalize.Observe(&diags, "metacritic_score", normalize.Int(edge.MetascoreValue())).Ptr(),
		Synopsis:        normalize.Observe(&diags, "synopsis", normalize.Text(edge.PlotText())).Ptr(),
		PosterLink:      normalize.Observe(&diags, "poster_link", normalize.Text(edge.PosterURL())).Ptr(),
	}
	return PartialRecord{SearchFields: fields, Diagnostics: diags.Diagnostics()}, nil
}
