// Package search exposes web research capabilities as model-callable tools.
// A Provider is the opaque external search backend; Toolset turns it into
// declarative tool schemas plus executors for the gateway.
package search

import "context"

// Result is a single ranked search hit.
type Result struct {
	ID            string  `json:"id,omitempty"`
	Title         string  `json:"title"`
	URL           string  `json:"url"`
	Snippet       string  `json:"snippet,omitempty"`
	Author        string  `json:"author,omitempty"`
	PublishedDate string  `json:"published_date,omitempty"`
	Score         float64 `json:"score,omitempty"`
}

// Document is the full content of one retrieved source.
type Document struct {
	ID            string `json:"id,omitempty"`
	Title         string `json:"title"`
	URL           string `json:"url"`
	Author        string `json:"author,omitempty"`
	PublishedDate string `json:"published_date,omitempty"`
	Text          string `json:"text"`
}

// Query describes one search request.
type Query struct {
	Query              string
	Type               string // "auto", "neural" or "keyword"
	Category           string // e.g. "research paper", "news"
	NumResults         int
	IncludeDomains     []string
	ExcludeDomains     []string
	StartPublishedDate string // ISO date lower bound
}

// Provider is the external search backend.
type Provider interface {
	Search(ctx context.Context, q Query) ([]Result, error)
	GetContents(ctx context.Context, urls []string, maxChars int) ([]Document, error)
	FindSimilar(ctx context.Context, url string, numResults int) ([]Result, error)
}
