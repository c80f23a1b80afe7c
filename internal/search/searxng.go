package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nugget/subzero/internal/httpkit"
)

// SearXNG asks a SearXNG metasearch instance, usually one on the
// local network, through its JSON output format. The instance must
// have "json" enabled under search.formats.
type SearXNG struct {
	endpoint *url.URL
	client   *http.Client
}

// NewSearXNG returns a provider for the instance at base, for example
// "http://searx.lan:8080". A base path is kept.
func NewSearXNG(base string) *SearXNG {
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil || u.Host == "" {
		u = &url.URL{Scheme: "http", Host: strings.TrimRight(base, "/")}
	}
	u = u.JoinPath("search")
	return &SearXNG{
		endpoint: u,
		client:   httpkit.NewClient(httpkit.WithTimeout(15 * time.Second)),
	}
}

func (s *SearXNG) Name() string { return "searxng" }

type searxngHit struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
}

func (s *SearXNG) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	u := *s.endpoint
	q := url.Values{}
	q.Set("q", query)
	q.Set("format", "json")
	q.Set("safesearch", "1")
	if opts.Language != "" {
		q.Set("language", opts.Language)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("searxng: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("searxng: %w", err)
	}
	defer resp.Body.Close()
	if err := httpkit.CheckResponse(resp); err != nil {
		return nil, fmt.Errorf("searxng: %w", err)
	}

	var body struct {
		Results []searxngHit `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("searxng: decoding results: %w", err)
	}

	limit := opts.Count
	if limit <= 0 {
		limit = 5
	}
	// Several engines often return the same page.
	seen := make(map[string]bool)
	var out []Result
	for _, h := range body.Results {
		if h.URL == "" || seen[h.URL] {
			continue
		}
		seen[h.URL] = true
		out = append(out, Result{Title: h.Title, URL: h.URL, Snippet: strings.TrimSpace(h.Content)})
		if len(out) == limit {
			break
		}
	}
	return out, nil
}
