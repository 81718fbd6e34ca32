package crawler

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
)

// AdvancedTitleSearchHash identifies the persisted GraphQL query served by the
// caching endpoint.
const AdvancedTitleSearchHash = "65dd1bac6fea9c75c87e2c0435402c1296b5cc5dd908eb897269aaa31fff44b1"

// Defaults for SearchQuery.
const (
	DefaultSearchEndpoint = "https://caching.graphql.imdb.com/"
	DefaultPageSize       = 50
	DefaultLocale         = "en-US"
)

var supportedKinds = map[string]struct{}{
	"movie":        {},
	"tvSeries":     {},
	"tvMiniSeries": {},
	"tvMovie":      {},
	"tvSpecial":    {},
	"short":        {},
	"video":        {},
}

// ValidKind reports whether kind is a title type id the search API accepts.
func ValidKind(kind string) bool {
	_, ok := supportedKinds[kind]
	return ok
}

// SearchQuery builds AdvancedTitleSearch requests for a fixed set of kinds.
type SearchQuery struct {
	Endpoint string
	Kinds    []string
	PageSize int
	Locale   string
	Hash     string
}

type searchVariables struct {
	Filter              struct{}            `json:"filter"`
	First               int                 `json:"first"`
	Locale              string              `json:"locale"`
	SortBy              string              `json:"sortBy"`
	SortOrder           string              `json:"sortOrder"`
	TitleTypeConstraint titleTypeConstraint `json:"titleTypeConstraint"`
	After               string              `json:"after,omitempty"`
}

type titleTypeConstraint struct {
	AnyTitleTypeIDs []string `json:"anyTitleTypeIds"`
}

type persistedQuery struct {
	SHA256Hash string `json:"sha256Hash"`
	Version    int    `json:"version"`
}

type searchExtensions struct {
	PersistedQuery persistedQuery `json:"persistedQuery"`
}

// Request returns the search request for the page after cursor. An empty
// cursor requests the first page.
func (q SearchQuery) Request(cursor string) FetchRequest {
	endpoint := q.Endpoint
	if endpoint == "" {
		endpoint = DefaultSearchEndpoint
	}
	vars := searchVariables{
		First:     q.PageSize,
		Locale:    q.Locale,
		SortBy:    "POPULARITY",
		SortOrder: "ASC",
		After:     cursor,
	}
	if vars.First <= 0 {
		vars.First = DefaultPageSize
	}
	if vars.Locale == "" {
		vars.Locale = DefaultLocale
	}
	vars.TitleTypeConstraint.AnyTitleTypeIDs = append([]string{}, q.Kinds...)
	hash := q.Hash
	if hash == "" {
		hash = AdvancedTitleSearchHash
	}
	ext := searchExtensions{PersistedQuery: persistedQuery{SHA256Hash: hash, Version: 1}}

	// Marshalling these plain structs cannot fail.
	varsJSON, _ := json.Marshal(vars)
	extJSON, _ := json.Marshal(ext)
	query := url.Values{}
	query.Set("operationName", "AdvancedTitleSearch")
	query.Set("variables", string(varsJSON))
	query.Set("extensions", string(extJSON))

	sep := "?"
	if strings.Contains(endpoint, "?") {
		sep = "&"
	}
	return FetchRequest{
		URL:     endpoint + sep + query.Encode(),
		Stage:   StageSearch,
		Headers: searchHeaders(),
	}
}

func searchHeaders() http.Header {
	h := http.Header{}
	h.Set("Accept", "application/graphql+json, application/json")
	h.Set("Content-Type", "application/json")
	return h
}

// SearchPage is one decoded page of search results.
type SearchPage struct {
	Edges       []Edge
	HasNextPage bool
	EndCursor   *string
}

type searchEnvelope struct {
	Data *searchData `json:"data"`
}

type searchData struct {
	AdvancedTitleSearch *searchConnection `json:"advancedTitleSearch"`
}

type searchConnection struct {
	Edges    []Edge    `json:"edges"`
	PageInfo *pageInfo `json:"pageInfo"`
}

type pageInfo struct {
	HasNextPage bool    `json:"hasNextPage"`
	EndCursor   *string `json:"endCursor"`
}

// ErrMalformedPage is returned when a search response carries no result
// connection.
var ErrMalformedPage = errors.New("search response has no advancedTitleSearch connection")

// DecodeSearchPage parses a search API response body. Numeric leaves are kept
// as json.Number so the normalizer decides how to coerce them.
func DecodeSearchPage(body []byte) (SearchPage, error) {
	if !gjson.ValidBytes(body) {
		return SearchPage{}, fmt.Errorf("decode search page: %w", ErrMalformedPage)
	}
	conn := gjson.GetBytes(body, "data.advancedTitleSearch")
	if !conn.Exists() || conn.Type == gjson.Null {
		if msg := gjson.GetBytes(body, "errors.0.message"); msg.Exists() {
			return SearchPage{}, fmt.Errorf("search api error %q: %w", msg.String(), ErrMalformedPage)
		}
		return SearchPage{}, ErrMalformedPage
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var env searchEnvelope
	if err := dec.Decode(&env); err != nil {
		return SearchPage{}, fmt.Errorf("decode search page: %w", err)
	}
	// gjson saw the connection so the envelope path is populated.
	c := env.Data.AdvancedTitleSearch
	page := SearchPage{Edges: c.Edges}
	if c.PageInfo != nil {
		page.HasNextPage = c.PageInfo.HasNextPage
		page.EndCursor = c.PageInfo.EndCursor
	}
	return page, nil
}

// Edge is one search result. Every nested object is optional and leaves are
// untyped; read them through the accessor methods, which tolerate any missing
// level.
type Edge struct {
	Node *edgeNode `json:"node"`

	decodeErr error
}

// UnmarshalJSON decodes one result on its own. A result whose nested objects
// have the wrong shape becomes an empty edge holding the decode error, so the
// other results of the page survive.
func (e *Edge) UnmarshalJSON(data []byte) error {
	type plain Edge
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var p plain
	if err := dec.Decode(&p); err != nil {
		id := gjson.GetBytes(data, "node.title.id").String()
		*e = Edge{decodeErr: fmt.Errorf("edge %q: %w", id, err)}
		return nil
	}
	*e = Edge(p)
	return nil
}

// Err reports why the result could not be decoded, or nil.
func (e Edge) Err() error {
	return e.decodeErr
}

type edgeNode struct {
	Title *titleNode `json:"title"`
}

type titleNode struct {
	ID                any          `json:"id"`
	TitleType         *textNode    `json:"titleType"`
	TitleText         *textNode    `json:"titleText"`
	OriginalTitleText *textNode    `json:"originalTitleText"`
	TitleGenres       *genresNode  `json:"titleGenres"`
	Runtime           *runtimeNode `json:"runtime"`
	ReleaseYear       *yearNode    `json:"releaseYear"`
	RatingsSummary    *ratingsNode `json:"ratingsSummary"`
	Metacritic        *metacritic  `json:"metacritic"`
	Plot              *plotNode    `json:"plot"`
	PrimaryImage      *imageNode   `json:"primaryImage"`
}

type textNode struct {
	Text any `json:"text"`
}

type genresNode struct {
	Genres []genreEntry `json:"genres"`
}

type genreEntry struct {
	Genre *textNode `json:"genre"`
}

type runtimeNode struct {
	Seconds any `json:"seconds"`
}

type yearNode struct {
	Year any `json:"year"`
}

type ratingsNode struct {
	AggregateRating any `json:"aggregateRating"`
	VoteCount       any `json:"voteCount"`
}

type metacritic struct {
	Metascore *metascore `json:"metascore"`
}

type metascore struct {
	Score any `json:"score"`
}

type plotNode struct {
	PlotText *plainText `json:"plotText"`
}

type plainText struct {
	PlainText any `json:"plainText"`
}

type imageNode struct {
	URL any `json:"url"`
}

func (e Edge) title() *titleNode {
	if e.Node == nil {
		return nil
	}
	return e.Node.Title
}

func (n *textNode) text() any {
	if n == nil {
		return nil
	}
	return n.Text
}

// ID returns node.title.id.
func (e Edge) ID() any {
	t := e.title()
	if t == nil {
		return nil
	}
	return t.ID
}

// Kind returns node.title.titleType.text.
func (e Edge) Kind() any {
	t := e.title()
	if t == nil {
		return nil
	}
	return t.TitleType.text()
}

// TitleText returns node.title.titleText.text.
func (e Edge) TitleText() any {
	t := e.title()
	if t == nil {
		return nil
	}
	return t.TitleText.text()
}

// OriginalTitleText returns node.title.originalTitleText.text.
func (e Edge) OriginalTitleText() any {
	t := e.title()
	if t == nil {
		return nil
	}
	return t.OriginalTitleText.text()
}

// GenreTexts returns the string genre names in order. Entries without a text
// leaf are skipped; a nil result means no genres were listed.
func (e Edge) GenreTexts() []string {
	t := e.title()
	if t == nil || t.TitleGenres == nil {
		return nil
	}
	var out []string
	for _, g := range t.TitleGenres.Genres {
		s, ok := g.Genre.text().(string)
		if !ok {
			continue
		}
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// RuntimeSeconds returns node.title.runtime.seconds.
func (e Edge) RuntimeSeconds() any {
	t := e.title()
	if t == nil || t.Runtime == nil {
		return nil
	}
	return t.Runtime.Seconds
}

// ReleaseYear returns node.title.releaseYear.year.
func (e Edge) ReleaseYear() any {
	t := e.title()
	if t == nil || t.ReleaseYear == nil {
		return nil
	}
	return t.ReleaseYear.Year
}

// AggregateRating returns node.title.ratingsSummary.aggregateRating.
func (e Edge) AggregateRating() any {
	t := e.title()
	if t == nil || t.RatingsSummary == nil {
		return nil
	}
	return t.RatingsSummary.AggregateRating
}

// VoteCount returns node.title.ratingsSummary.voteCount.
func (e Edge) VoteCount() any {
	t := e.title()
	if t == nil || t.RatingsSummary == nil {
		return nil
	}
	return t.RatingsSummary.VoteCount
}

// MetascoreValue returns node.title.metacritic.metascore.score.
func (e Edge) MetascoreValue() any {
	t := e.title()
	if t == nil || t.Metacritic == nil || t.Metacritic.Metascore == nil {
		return nil
	}
	return t.Metacritic.Metascore.Score
}

// PlotText returns node.title.plot.plotText.plainText.
func (e Edge) PlotText() any {
	t := e.title()
	if t == nil || t.Plot == nil || t.Plot.PlotText == nil {
		return nil
	}
	return t.Plot.PlotText.PlainText
}

// PosterURL returns node.title.primaryImage.url.
func (e Edge) PosterURL() any {
	t := e.title()
	if t == nil || t.PrimaryImage == nil {
		return nil
	}
	return t.PrimaryImage.URL
}
