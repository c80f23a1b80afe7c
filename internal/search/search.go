// Package search provides the web_search backends.
//
// Each backend implements [Provider]. The [Manager] tries providers in
// registration order and returns the first successful answer, so a
// self-hosted SearXNG instance can sit in front of the DuckDuckGo HTML
// endpoint.
package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Result is a single search result.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

// Options are optional parameters for a search query.
type Options struct {
	// Count is the maximum number of results to return. Zero means
	// provider default.
	Count int `json:"count,omitempty"`
	// Language is an ISO 639-1 language code (e.g., "en", "de").
	Language string `json:"language,omitempty"`
}

// Provider is the interface that search backends implement.
type Provider interface {
	Name() string
	Search(ctx context.Context, query string, opts Options) ([]Result, error)
}

// Manager routes searches across providers.
type Manager struct {
	providers []Provider
	count     int
}

// NewManager creates a manager returning count results by default.
func NewManager(count int) *Manager {
	if count <= 0 {
		count = 5
	}
	return &Manager{count: count}
}

// Register appends a provider to the fallback chain.
func (m *Manager) Register(p Provider) {
	m.providers = append(m.providers, p)
}

// Search runs query against each provider in turn until one succeeds.
func (m *Manager) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	if len(m.providers) == 0 {
		return nil, errors.New("no search provider configured")
	}
	if opts.Count <= 0 {
		opts.Count = m.count
	}

	var errs []error
	for _, p := range m.providers {
		results, err := p.Search(ctx, query, opts)
		if err == nil {
			return results, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
	}
	return nil, errors.Join(errs...)
}

// Providers returns the provider names in fallback order.
func (m *Manager) Providers() []string {
	names := make([]string, len(m.providers))
	for i, p := range m.providers {
		names[i] = p.Name()
	}
	return names
}

// FormatResults renders results as a bulleted list for the model.
func FormatResults(results []Result) string {
	if len(results) == 0 {
		return "No results found."
	}
	blocks := make([]string, len(results))
	for i, r := range results {
		var b strings.Builder
		b.WriteString("• ")
		b.WriteString(r.Title)
		b.WriteString("\n  ")
		b.WriteString(r.URL)
		if r.Snippet != "" {
			b.WriteString("\n  ")
			b.WriteString(truncate(r.Snippet, 200))
		}
		blocks[i] = b.String()
	}
	return strings.Join(blocks, "\n\n")
}

func truncate(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
