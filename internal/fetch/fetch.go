// Package fetch downloads web pages for the web_get and web_post tools
// and reduces HTML responses to readable text.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/nugget/subzero/internal/httpkit"
)

const (
	// DefaultTimeout bounds each request.
	DefaultTimeout = 15 * time.Second
	// DefaultMaxBytes caps the response body read (5 MB).
	DefaultMaxBytes int64 = 5 * 1024 * 1024
)

// Result holds the fetched and extracted content from a URL.
type Result struct {
	URL         string `json:"url"`
	Title       string `json:"title,omitempty"`
	Content     string `json:"content"`
	ContentType string `json:"content_type,omitempty"`
	Truncated   bool   `json:"truncated,omitempty"`
	StatusCode  int    `json:"status_code"`
}

// OK reports whether the server answered with a non-error status.
func (r *Result) OK() bool {
	return r.StatusCode < 400
}

// Fetcher performs HTTP requests and extracts readable content.
type Fetcher struct {
	client   *http.Client
	maxBytes int64
}

// New creates a Fetcher. A nil client gets the shared httpkit defaults.
func New(client *http.Client) *Fetcher {
	if client == nil {
		client = httpkit.NewClient(
			httpkit.WithTimeout(DefaultTimeout),
			httpkit.WithRetry(1, 500*time.Millisecond),
		)
	}
	return &Fetcher{client: client, maxBytes: DefaultMaxBytes}
}

// Get downloads rawURL. HTML is reduced to text; maxChars limits the
// returned content (0 means unlimited).
func (f *Fetcher) Get(ctx context.Context, rawURL string, maxChars int) (*Result, error) {
	req, err := newRequest(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,text/plain;q=0.8,*/*;q=0.7")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	return f.do(req, maxChars)
}

// Post sends body as JSON to rawURL and returns the response text.
func (f *Fetcher) Post(ctx context.Context, rawURL, body string, maxChars int) (*Result, error) {
	req, err := newRequest(ctx, http.MethodPost, rawURL, strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return f.do(req, maxChars)
}

func newRequest(ctx context.Context, method, rawURL string, body io.Reader) (*http.Request, error) {
	if rawURL == "" {
		return nil, fmt.Errorf("url is required")
	}
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		rawURL = "https://" + rawURL
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	return req, nil
}

func (f *Fetcher) do(req *http.Request, maxChars int) (*Result, error) {
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Host, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	ct := resp.Header.Get("Content-Type")
	res := &Result{
		URL:         req.URL.String(),
		ContentType: ct,
		StatusCode:  resp.StatusCode,
	}

	switch {
	case isHTML(ct):
		res.Title, res.Content = extractHTML(string(body))
	case utf8.Valid(body):
		res.Content = string(body)
	default:
		res.Content = fmt.Sprintf("Binary content (%s), %d bytes", ct, len(body))
		return res, nil
	}

	if maxChars > 0 && utf8.RuneCountInString(res.Content) > maxChars {
		res.Content = truncateUTF8(res.Content, maxChars)
		res.Truncated = true
	}
	return res, nil
}

func isHTML(ct string) bool {
	ct = strings.ToLower(ct)
	return strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml")
}

// truncateUTF8 cuts s to maxChars runes without splitting a character.
func truncateUTF8(s string, maxChars int) string {
	count := 0
	for i := range s {
		if count >= maxChars {
			return s[:i]
		}
		count++
	}
	return s
}
