// Package normalize turns raw scalar values scraped from the search API and
// title pages into typed, nullable record fields.
//
// Every function is total: a value that cannot be coerced becomes a null
// Result carrying the reason, which callers surface as a Diagnostic. Nothing
// in this package returns an error or panics on bad input.
package normalize
