package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	browserReadMaxChars = 6000
	browserWaitDefault  = 10 * time.Second
)

// Browser is the automation session behind the browser_* tools.
type Browser interface {
	Open(ctx context.Context, url string) (title, finalURL string, err error)
	Click(ctx context.Context, selector string) error
	Type(ctx context.Context, selector, text string) error
	Read(ctx context.Context, selector string) (string, error)
	Screenshot(ctx context.Context, path string) (string, error)
	WaitFor(ctx context.Context, selector string, timeout time.Duration) error
	Close() error
}

type browserOpenParams struct {
	URL string `param:"url"`
}

func (p *browserOpenParams) Validate() error {
	if strings.TrimSpace(p.URL) == "" {
		return errors.New("no url provided")
	}
	return nil
}

type selectorParams struct {
	Selector string `param:"selector"`
}

func (p *selectorParams) Validate() error {
	if strings.TrimSpace(p.Selector) == "" {
		return errors.New("no selector provided")
	}
	return nil
}

type browserTypeParams struct {
	Selector string `param:"selector"`
	Text     string `param:"text"`
}

func (p *browserTypeParams) Validate() error {
	if strings.TrimSpace(p.Selector) == "" || p.Text == "" {
		return errors.New("need selector and text")
	}
	return nil
}

type browserReadParams struct {
	Selector string `param:"selector"`
}

type browserScreenshotParams struct {
	Path string `param:"path"`
}

type browserWaitParams struct {
	Selector string `param:"selector"`
	// Timeout is in seconds.
	Timeout float64 `param:"timeout"`
}

func (p *browserWaitParams) Validate() error {
	if strings.TrimSpace(p.Selector) == "" {
		return errors.New("no selector provided")
	}
	if p.Timeout < 0 {
		return errors.New("timeout must not be negative")
	}
	return nil
}

func browserHandlers(b Browser) map[Kind]Handler {
	return map[Kind]Handler{
		KindBrowserOpen: typed(func(ctx context.Context, p browserOpenParams) Result {
			url := p.URL
			if !strings.Contains(url, "://") {
				url = "https://" + url
			}
			title, final, err := b.Open(ctx, url)
			if err != nil {
				return Fail(err)
			}
			return OK(fmt.Sprintf("Opened: %s (%s)", title, final))
		}),
		KindBrowserClick: typed(func(ctx context.Context, p selectorParams) Result {
			if err := b.Click(ctx, p.Selector); err != nil {
				return Fail(err)
			}
			return OK("Clicked: " + p.Selector)
		}),
		KindBrowserType: typed(func(ctx context.Context, p browserTypeParams) Result {
			if err := b.Type(ctx, p.Selector, p.Text); err != nil {
				return Fail(err)
			}
			return OK(fmt.Sprintf("Typed into %s: %s", p.Selector, truncateRunes(p.Text, 50)))
		}),
		KindBrowserRead: typed(func(ctx context.Context, p browserReadParams) Result {
			text, err := b.Read(ctx, p.Selector)
			if err != nil {
				return Fail(err)
			}
			return OK(truncateRunes(strings.TrimSpace(text), browserReadMaxChars))
		}),
		KindBrowserScreenshot: typed(func(ctx context.Context, p browserScreenshotParams) Result {
			path, err := b.Screenshot(ctx, p.Path)
			if err != nil {
				return Fail(err)
			}
			return OKData("Screenshot saved: "+path, map[string]string{"path": path})
		}),
		KindBrowserWait: typed(func(ctx context.Context, p browserWaitParams) Result {
			timeout := browserWaitDefault
			if p.Timeout > 0 {
				timeout = time.Duration(p.Timeout * float64(time.Second))
			}
			if err := b.WaitFor(ctx, p.Selector, timeout); err != nil {
				return Fail(&ExecutionError{Err: err, Retryable: true})
			}
			return OK("Element found: " + p.Selector)
		}),
		KindBrowserClose: typed(func(ctx context.Context, _ noParams) Result {
			if err := b.Close(); err != nil {
				return Fail(err)
			}
			return OK("Browser closed")
		}),
	}
}
