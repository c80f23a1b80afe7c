package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nugget/subzero/internal/fetch"
	"github.com/nugget/subzero/internal/search"
)

const (
	webGetMaxChars  = 8000
	webPostMaxChars = 4000
	webSearchCount  = 5
)

// WebClient performs the HTTP requests behind web_get and web_post.
type WebClient interface {
	Get(ctx context.Context, url string, maxChars int) (*fetch.Result, error)
	Post(ctx context.Context, url, body string, maxChars int) (*fetch.Result, error)
}

// Searcher answers web_search queries.
type Searcher interface {
	Search(ctx context.Context, query string, opts search.Options) ([]search.Result, error)
}

type webSearchParams struct {
	Query string `param:"query"`
}

func (p *webSearchParams) Validate() error {
	if strings.TrimSpace(p.Query) == "" {
		return errors.New("no query provided")
	}
	return nil
}

func webSearchHandler(s Searcher) Handler {
	return typed(func(ctx context.Context, p webSearchParams) Result {
		results, err := s.Search(ctx, p.Query, search.Options{Count: webSearchCount})
		if err != nil {
			return Fail(fmt.Errorf("search failed: %w", err))
		}
		return OKData(search.FormatResults(results), results)
	})
}

type webGetParams struct {
	URL string `param:"url"`
}

func (p *webGetParams) Validate() error {
	if strings.TrimSpace(p.URL) == "" {
		return errors.New("no url provided")
	}
	return nil
}

type webPostParams struct {
	URL  string `param:"url"`
	Data string `param:"data"`
}

func (p *webPostParams) Validate() error {
	if strings.TrimSpace(p.URL) == "" {
		return errors.New("no url provided")
	}
	return nil
}

func webGetHandler(c WebClient) Handler {
	return typed(func(ctx context.Context, p webGetParams) Result {
		res, err := c.Get(ctx, p.URL, webGetMaxChars)
		if err != nil {
			return Fail(err)
		}
		return fetchResult(res)
	})
}

func webPostHandler(c WebClient) Handler {
	return typed(func(ctx context.Context, p webPostParams) Result {
		res, err := c.Post(ctx, p.URL, p.Data, webPostMaxChars)
		if err != nil {
			return Fail(err)
		}
		return fetchResult(res)
	})
}

// fetchResult reports HTTP error statuses as failures while still
// showing the body to the model.
func fetchResult(res *fetch.Result) Result {
	var b strings.Builder
	fmt.Fprintf(&b, "[HTTP %d]", res.StatusCode)
	if res.Title != "" {
		b.WriteString(" ")
		b.WriteString(res.Title)
	}
	b.WriteString("\n")
	b.WriteString(res.Content)
	if res.Truncated {
		b.WriteString("\n... (truncated)")
	}
	r := Result{Success: res.OK(), Output: b.String(), Data: res}
	if !res.OK() {
		r.Retryable = res.StatusCode >= 500 || res.StatusCode == 429
	}
	return r
}
