// Package uuid provides crawl job identifiers.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator creates time-ordered UUIDv7 job ids.
type Generator struct{}

// New creates a new Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a UUIDv7 string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}

// Valid reports whether s looks like a job id this package could have issued.
func Valid(s string) bool {
	id, err := uuid.Parse(s)
	if err != nil {
		return false
	}
	return id.Version() == 7
}
