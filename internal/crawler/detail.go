package crawler

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/GMartin-Data/imdb-api/internal/normalize"
)

// Defaults for DetailDispatcher.
const (
	DefaultDetailBaseURL = "https://www.imdb.com/title/"
	DefaultUserAgent     = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
		"(KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"
)

const (
	audienceMovieSelector = "h1[data-testid='hero__pageTitle'] ~ ul li:nth-child(2) > a"
	audienceOtherSelector = "h1[data-testid='hero__pageTitle'] ~ ul li:nth-child(3) > a"
	boxOfficeSelector     = "div[data-testid='title-boxoffice-section'] ul li span"
	castSelector          = "a[data-testid='title-cast-item__actor']"
	countriesSelector     = "li[data-testid='title-details-origin'] a"
)

// movieKind is the display text the search API uses for feature films. Their
// hero list puts the certificate second; every other kind puts it third.
const movieKind = "Movie"

// DetailDispatcher turns partial records into title page requests and folds
// the scraped page back into a Record.
type DetailDispatcher struct {
	baseURL string
	headers http.Header
}

// NewDetailDispatcher builds a dispatcher rooted at baseURL.
func NewDetailDispatcher(baseURL, userAgent string) *DetailDispatcher {
	if baseURL == "" {
		baseURL = DefaultDetailBaseURL
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	h := http.Header{}
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	h.Set("Accept-Language", "en-US,en;q=0.5")
	h.Set("User-Agent", userAgent)
	return &DetailDispatcher{baseURL: baseURL, headers: h}
}

// Dispatch returns the detail page request for p.
func (d *DetailDispatcher) Dispatch(p PartialRecord) FetchRequest {
	return FetchRequest{
		URL:     d.baseURL + p.ID + "/",
		Stage:   StageDetail,
		TitleID: p.ID,
		Headers: d.headers.Clone(),
	}
}

// OnDetailFetched extracts, normalizes and merges the title page body. The
// returned diagnostics cover the enrichment fields only.
func (d *DetailDispatcher) OnDetailFetched(p PartialRecord, body []byte) (Record, []normalize.Diagnostic, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return Record{}, nil, fmt.Errorf("parse title page %s: %w", p.ID, err)
	}
	kind := ""
	if p.Kind != nil {
		kind = *p.Kind
	}
	var diags normalize.Collector
	enrichment := NormalizeEnrichment(ExtractEnrichment(doc, kind), &diags)
	return Merge(p, enrichment), diags.Diagnostics(), nil
}

// ExtractEnrichment reads the raw enrichment elements from a title page.
func ExtractEnrichment(doc *goquery.Document, kind string) RawEnrichment {
	var raw RawEnrichment

	selector := audienceOtherSelector
	if kind == movieKind {
		selector = audienceMovieSelector
	}
	if sel := doc.Find(selector).First(); sel.Length() > 0 {
		text := sel.Text()
		raw.Audience = &text
	}

	raw.Cast = texts(doc.Find(castSelector))
	raw.Countries = texts(doc.Find(countriesSelector))

	tokens := texts(doc.Find(boxOfficeSelector))
	if len(tokens) >= 2 {
		budget, gross := tokens[1], tokens[len(tokens)-1]
		raw.Budget = &budget
		raw.Gross = &gross
	}
	return raw
}

// NormalizeEnrichment coerces raw page values, recording failures in diags.
func NormalizeEnrichment(raw RawEnrichment, diags *normalize.Collector) Enrichment {
	return Enrichment{
		Audience:       normalize.Observe(diags, "audience", normalize.Text(raw.Audience)).Ptr(),
		Casting:        joinList(raw.Cast),
		Countries:      joinList(raw.Countries),
		Budget:         normalize.Observe(diags, "budget", normalize.Money(raw.Budget)).Ptr(),
		WorldwideGross: normalize.Observe(diags, "worldwide_gross", normalize.Money(raw.Gross)).Ptr(),
	}
}

func texts(sel *goquery.Selection) []string {
	var out []string
	sel.Each(func(_ int, s *goquery.Selection) {
		if t := strings.TrimSpace(s.Text()); t != "" {
			out = append(out, t)
		}
	})
	return out
}

func joinList(items []string) *string {
	if len(items) == 0 {
		return nil
	}
	joined := strings.Join(items, ", ")
	return &joined
}
