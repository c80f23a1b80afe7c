// Package browser drives a single persistent Chromium page through
// Playwright for the browser_* tools. The browser is started on first
// use and torn down by Close.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
)

// ErrNoPage is returned by page operations before a URL is opened.
var ErrNoPage = errors.New("no page open; use browser_open first")

// Config controls how the browser is launched.
type Config struct {
	Headless bool
	// ScreenshotDir receives screenshots saved without an explicit path.
	ScreenshotDir string
	// Timeout bounds each page operation.
	Timeout time.Duration
}

// Session owns the Playwright driver, the browser and its single page.
// It is safe for concurrent use; operations are serialized.
type Session struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	pw      *playwright.Playwright
	browser playwright.Browser
	page    playwright.Page
}

// New creates a session. Nothing is launched until the first Open.
func New(cfg Config, logger *slog.Logger) *Session {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.ScreenshotDir == "" {
		cfg.ScreenshotDir = os.TempDir()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{cfg: cfg, logger: logger}
}

// start launches Playwright and Chromium. Caller holds s.mu.
func (s *Session) start() error {
	if s.page != nil {
		return nil
	}
	if s.pw == nil {
		pw, err := playwright.Run()
		if err != nil {
			return fmt.Errorf("start playwright: %w", err)
		}
		s.pw = pw
	}

	b, err := s.pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(s.cfg.Headless),
		Timeout:  playwright.Float(float64(s.cfg.Timeout.Milliseconds())),
	})
	if err != nil {
		return fmt.Errorf("launch browser: %w", err)
	}
	page, err := b.NewPage()
	if err != nil {
		b.Close()
		return fmt.Errorf("create page: %w", err)
	}
	page.SetDefaultTimeout(float64(s.cfg.Timeout.Milliseconds()))

	s.browser = b
	s.page = page
	s.logger.Info("browser started", "headless", s.cfg.Headless)
	return nil
}

// currentPage returns the open page. Caller holds s.mu.
func (s *Session) currentPage() (playwright.Page, error) {
	if s.page == nil {
		return nil, ErrNoPage
	}
	return s.page, nil
}

// Open navigates to url, launching the browser if needed, and returns
// the page title and final URL.
func (s *Session) Open(ctx context.Context, url string) (title, finalURL string, err error) {
	if err := ctx.Err(); err != nil {
		return "", "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.start(); err != nil {
		return "", "", err
	}
	if _, err := s.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	}); err != nil {
		return "", "", fmt.Errorf("navigate to %s: %w", url, err)
	}
	title, err = s.page.Title()
	if err != nil {
		return "", "", fmt.Errorf("read title: %w", err)
	}
	return title, s.page.URL(), nil
}

// Click clicks the first element matching selector.
func (s *Session) Click(ctx context.Context, selector string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	page, err := s.currentPage()
	if err != nil {
		return err
	}
	if err := page.Locator(selector).First().Click(); err != nil {
		return fmt.Errorf("click %s: %w", selector, err)
	}
	return nil
}

// Type fills the element matching selector with text.
func (s *Session) Type(ctx context.Context, selector, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	page, err := s.currentPage()
	if err != nil {
		return err
	}
	if err := page.Locator(selector).First().Fill(text); err != nil {
		return fmt.Errorf("type into %s: %w", selector, err)
	}
	return nil
}

// Read returns the visible text of the first element matching
// selector, or of the page body when selector is empty.
func (s *Session) Read(ctx context.Context, selector string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	page, err := s.currentPage()
	if err != nil {
		return "", err
	}
	if selector == "" {
		selector = "body"
	}
	text, err := page.Locator(selector).First().InnerText()
	if err != nil {
		return "", fmt.Errorf("read %s: %w", selector, err)
	}
	return text, nil
}

// Screenshot saves a full-page PNG. An empty path picks a timestamped
// file under the configured screenshot directory. It returns the path
// written.
func (s *Session) Screenshot(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	page, err := s.currentPage()
	if err != nil {
		return "", err
	}
	if path == "" {
		path = filepath.Join(s.cfg.ScreenshotDir,
			fmt.Sprintf("subzero-screenshot-%s.png", time.Now().Format("20060102-150405")))
	}
	if _, err := page.Screenshot(playwright.PageScreenshotOptions{
		Path:     playwright.String(path),
		FullPage: playwright.Bool(true),
		Type:     playwright.ScreenshotTypePng,
	}); err != nil {
		return "", fmt.Errorf("screenshot: %w", err)
	}
	return path, nil
}

// WaitFor blocks until selector appears or timeout elapses.
func (s *Session) WaitFor(ctx context.Context, selector string, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	page, err := s.currentPage()
	if err != nil {
		return err
	}
	if _, err := page.WaitForSelector(selector, playwright.PageWaitForSelectorOptions{
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
	}); err != nil {
		return fmt.Errorf("wait for %s: %w", selector, err)
	}
	return nil
}

// Running reports whether a page is open.
func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.page != nil
}

// Close shuts down the browser and the Playwright driver. It is safe to
// call when nothing was started.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	if s.page != nil {
		if err := s.page.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close page: %w", err))
		}
		s.page = nil
	}
	if s.browser != nil {
		if err := s.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close browser: %w", err))
		}
		s.browser = nil
	}
	if s.pw != nil {
		if err := s.pw.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop playwright: %w", err))
		}
		s.pw = nil
	}
	if len(errs) == 0 {
		s.logger.Debug("browser closed")
	}
	return errors.Join(errs...)
}
