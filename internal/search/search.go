// Package search finds candidate videos for a free-text query.
package search

import (
	"context"
	"errors"
)

// ErrUpstream wraps failures of the search backend.
var ErrUpstream = errors.New("search backend failed")

// Result is one search hit.
type Result struct {
	Title     string `json:"title"`
	URL       string `json:"url"`
	Thumbnail string `json:"thumbnail"`
}

// Searcher runs a query against a search backend and returns at most max results.
type Searcher interface {
	Search(ctx context.Context, query string, max int) ([]Result, error)
}
