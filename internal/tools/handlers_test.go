package tools

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/nugget/subzero/internal/deploy"
	"github.com/nugget/subzero/internal/fetch"
	"github.com/nugget/subzero/internal/search"
	"github.com/nugget/subzero/internal/trading"
)

// builtinHandler returns the handler registered under name when deps
// back the built-in tools.
func builtinHandler(t *testing.T, deps Deps, name string) Handler {
	t.Helper()
	reg, err := NewRegistry(Builtin(deps)...)
	if err != nil {
		t.Fatal(err)
	}
	d, ok := reg.Lookup(name)
	if !ok {
		t.Fatalf("tool %s not registered", name)
	}
	return d.Handler
}

type fakeWeb struct {
	res      *fetch.Result
	err      error
	lastURL  string
	lastBody string
	lastMax  int
}

func (f *fakeWeb) Get(_ context.Context, url string, maxChars int) (*fetch.Result, error) {
	f.lastURL, f.lastMax = url, maxChars
	return f.res, f.err
}

func (f *fakeWeb) Post(_ context.Context, url, body string, maxChars int) (*fetch.Result, error) {
	f.lastURL, f.lastBody, f.lastMax = url, body, maxChars
	return f.res, f.err
}

func TestWebGet(t *testing.T) {
	web := &fakeWeb{res: &fetch.Result{StatusCode: 200, Title: "Example", Content: "Hello world"}}
	h := builtinHandler(t, Deps{Web: web}, "web_get")

	res := h(context.Background(), map[string]string{"url": "example.com"})
	if !res.Success || res.Output != "[HTTP 200] Example\nHello world" {
		t.Errorf("result = %+v", res)
	}
	if web.lastMax != webGetMaxChars {
		t.Errorf("maxChars = %d", web.lastMax)
	}

	web.res = &fetch.Result{StatusCode: 503, Content: "down"}
	res = h(context.Background(), map[string]string{"url": "example.com"})
	if res.Success || !res.Retryable {
		t.Errorf("503 result = %+v, want retryable failure", res)
	}
}

func TestWebPost(t *testing.T) {
	web := &fakeWeb{res: &fetch.Result{StatusCode: 201, Content: `{"id":1}`, Truncated: true}}
	h := builtinHandler(t, Deps{Web: web}, "web_post")

	res := h(context.Background(), map[string]string{"url": "https://api.example.com", "data": `{"a":1}`})
	if !res.Success || !strings.HasSuffix(res.Output, "... (truncated)") {
		t.Errorf("result = %+v", res)
	}
	if web.lastBody != `{"a":1}` || web.lastMax != webPostMaxChars {
		t.Errorf("body=%q max=%d", web.lastBody, web.lastMax)
	}
}

type fakeSearcher struct {
	results []search.Result
	err     error
	opts    search.Options
}

func (f *fakeSearcher) Search(_ context.Context, _ string, opts search.Options) ([]search.Result, error) {
	f.opts = opts
	return f.results, f.err
}

func TestWebSearch(t *testing.T) {
	s := &fakeSearcher{results: []search.Result{{Title: "Go", URL: "https://go.dev", Snippet: "lang"}}}
	h := builtinHandler(t, Deps{Search: s}, "web_search")

	res := h(context.Background(), map[string]string{"query": "golang"})
	if !res.Success || res.Output != "• Go\n  https://go.dev\n  lang" {
		t.Errorf("result = %+v", res)
	}
	if s.opts.Count != webSearchCount {
		t.Errorf("count = %d", s.opts.Count)
	}

	s.err = errors.New("all providers failed")
	if res := h(context.Background(), map[string]string{"query": "golang"}); res.Success {
		t.Error("search error should fail")
	}
}

type fakeBrowser struct {
	opened  string
	typed   string
	waited  time.Duration
	closed  bool
	readSel string
}

func (f *fakeBrowser) Open(_ context.Context, url string) (string, string, error) {
	f.opened = url
	return "Example Domain", url + "/", nil
}
func (f *fakeBrowser) Click(context.Context, string) error { return nil }
func (f *fakeBrowser) Type(_ context.Context, _, text string) error {
	f.typed = text
	return nil
}
func (f *fakeBrowser) Read(_ context.Context, selector string) (string, error) {
	f.readSel = selector
	return "  " + strings.Repeat("a", browserReadMaxChars+10) + "  ", nil
}
func (f *fakeBrowser) Screenshot(_ context.Context, path string) (string, error) {
	if path == "" {
		path = "/tmp/shot.png"
	}
	return path, nil
}
func (f *fakeBrowser) WaitFor(_ context.Context, _ string, timeout time.Duration) error {
	f.waited = timeout
	return nil
}
func (f *fakeBrowser) Close() error {
	f.closed = true
	return nil
}

func TestBrowserHandlers(t *testing.T) {
	b := &fakeBrowser{}
	deps := Deps{Browser: b}
	ctx := context.Background()

	res := builtinHandler(t, deps, "browser_open")(ctx, map[string]string{"url": "example.com"})
	if res.Output != "Opened: Example Domain (https://example.com/)" || b.opened != "https://example.com" {
		t.Errorf("open = %+v", res)
	}

	res = builtinHandler(t, deps, "browser_type")(ctx, map[string]string{"selector": "#q", "text": strings.Repeat("x", 60)})
	if res.Output != "Typed into #q: "+strings.Repeat("x", 50) {
		t.Errorf("type = %q", res.Output)
	}
	if res := builtinHandler(t, deps, "browser_type")(ctx, map[string]string{"selector": "#q"}); res.Success {
		t.Error("type without text should fail")
	}

	res = builtinHandler(t, deps, "browser_read")(ctx, nil)
	if len(res.Output) != browserReadMaxChars || b.readSel != "" {
		t.Errorf("read len = %d, selector %q", len(res.Output), b.readSel)
	}

	res = builtinHandler(t, deps, "browser_screenshot")(ctx, nil)
	if res.Output != "Screenshot saved: /tmp/shot.png" {
		t.Errorf("screenshot = %q", res.Output)
	}

	builtinHandler(t, deps, "browser_wait")(ctx, map[string]string{"selector": "#done"})
	if b.waited != browserWaitDefault {
		t.Errorf("default wait = %v", b.waited)
	}
	builtinHandler(t, deps, "browser_wait")(ctx, map[string]string{"selector": "#done", "timeout": "2.5"})
	if b.waited != 2500*time.Millisecond {
		t.Errorf("wait = %v", b.waited)
	}

	if res := builtinHandler(t, deps, "browser_close")(ctx, nil); res.Output != "Browser closed" || !b.closed {
		t.Errorf("close = %+v", res)
	}
	b.closed = false
	if err := deps.Close(); err != nil || !b.closed {
		t.Error("Deps.Close should close the browser")
	}
}

type fakeClipboard struct{ text string }

func (f *fakeClipboard) Copy(text string) error { f.text = text; return nil }
func (f *fakeClipboard) Paste() (string, error) { return f.text, nil }

type fakeLauncher struct{ target string }

func (f *fakeLauncher) Launch(_ context.Context, target string) error {
	f.target = target
	return nil
}

func TestDesktopHandlers(t *testing.T) {
	cb := &fakeClipboard{}
	apps := &fakeLauncher{}
	deps := Deps{Clipboard: cb, Apps: apps}
	ctx := context.Background()

	if res := builtinHandler(t, deps, "clipboard_paste")(ctx, nil); res.Output != "(clipboard is empty)" {
		t.Errorf("empty paste = %q", res.Output)
	}
	if res := builtinHandler(t, deps, "clipboard_copy")(ctx, map[string]string{"text": "héllo"}); res.Output != "Copied 5 chars to clipboard" {
		t.Errorf("copy = %q", res.Output)
	}
	if res := builtinHandler(t, deps, "clipboard_paste")(ctx, nil); res.Output != "héllo" {
		t.Errorf("paste = %q", res.Output)
	}

	if res := builtinHandler(t, deps, "open_app")(ctx, map[string]string{"name": "firefox"}); res.Output != "Launched: firefox" || apps.target != "firefox" {
		t.Errorf("open_app = %+v", res)
	}
	if res := builtinHandler(t, deps, "open_app")(ctx, nil); res.Success {
		t.Error("open_app without target should fail")
	}
}

type fakeTrader struct {
	lastOrder trading.OrderRequest
	cancelled []string
	orders    []trading.Order
}

func (f *fakeTrader) Mode() string { return "PAPER" }
func (f *fakeTrader) Quote(_ context.Context, sym string) (*trading.Quote, error) {
	return &trading.Quote{Symbol: sym, AskPrice: 190.5, BidPrice: 190.25, AskSize: 3, BidSize: 1}, nil
}
func (f *fakeTrader) SubmitOrder(_ context.Context, req trading.OrderRequest) (*trading.Order, error) {
	f.lastOrder = req
	return &trading.Order{ID: "ord-1", Status: "accepted"}, nil
}
func (f *fakeTrader) Positions(context.Context) ([]trading.Position, error) {
	return []trading.Position{{Symbol: "AAPL", Qty: "10", AvgEntryPrice: "150", CurrentPrice: "160", UnrealizedPL: "100"}}, nil
}
func (f *fakeTrader) Account(context.Context) (*trading.Account, error) {
	return &trading.Account{Equity: "1000", LastEquity: "1010", Cash: "500", BuyingPower: "2000", PortfolioValue: "1000"}, nil
}
func (f *fakeTrader) Orders(context.Context, int) ([]trading.Order, error) { return f.orders, nil }
func (f *fakeTrader) Cancel(_ context.Context, id string) error {
	f.cancelled = append(f.cancelled, id)
	return nil
}

func TestTradingHandlers(t *testing.T) {
	tr := &fakeTrader{}
	deps := Deps{Trader: tr}
	ctx := context.Background()

	res := builtinHandler(t, deps, "trade_quote")(ctx, map[string]string{"symbol": "aapl"})
	if res.Output != "AAPL: Ask $190.50 | Bid $190.25 | Ask Size 3 | Bid Size 1" {
		t.Errorf("quote = %q", res.Output)
	}

	res = builtinHandler(t, deps, "trade_buy")(ctx, map[string]string{"symbol": "tsla"})
	if res.Output != "[PAPER] BUY 1 TSLA - Order ID: ord-1 Status: accepted" {
		t.Errorf("buy = %q", res.Output)
	}
	if tr.lastOrder.Type != "market" || tr.lastOrder.Qty != 1 {
		t.Errorf("order = %+v", tr.lastOrder)
	}

	builtinHandler(t, deps, "trade_sell")(ctx, map[string]string{"symbol": "tsla", "qty": "2.5", "order_type": "limit", "limit_price": "99.5"})
	if tr.lastOrder.Side != "sell" || tr.lastOrder.Qty != 2.5 || tr.lastOrder.Type != "limit" || tr.lastOrder.LimitPrice != 99.5 {
		t.Errorf("sell order = %+v", tr.lastOrder)
	}
	if res := builtinHandler(t, deps, "trade_buy")(ctx, map[string]string{"symbol": "x", "qty": "-1"}); res.Success {
		t.Error("negative qty should fail")
	}

	res = builtinHandler(t, deps, "trade_positions")(ctx, nil)
	if res.Output != "Open positions:\n  AAPL: 10 shares @ $150 | Current: $160 | P&L: +$100.00" {
		t.Errorf("positions = %q", res.Output)
	}

	res = builtinHandler(t, deps, "trade_portfolio")(ctx, nil)
	if !strings.Contains(res.Output, "[PAPER] Portfolio:") || !strings.HasSuffix(res.Output, "Day P&L: -$10.00") {
		t.Errorf("portfolio = %q", res.Output)
	}

	if res := builtinHandler(t, deps, "trade_history")(ctx, nil); res.Output != "No recent orders." {
		t.Errorf("history = %q", res.Output)
	}

	builtinHandler(t, deps, "trade_cancel")(ctx, map[string]string{"order_id": "abc"})
	res = builtinHandler(t, deps, "trade_cancel")(ctx, nil)
	if res.Output != "Cancelled all open orders" || !slices.Equal(tr.cancelled, []string{"abc", ""}) {
		t.Errorf("cancel = %q, cancelled %v", res.Output, tr.cancelled)
	}
}

type memWatchlist struct{ syms []string }

func (m *memWatchlist) List(context.Context) ([]string, error) { return slices.Clone(m.syms), nil }
func (m *memWatchlist) Add(_ context.Context, s string) error {
	if !slices.Contains(m.syms, s) {
		m.syms = append(m.syms, s)
	}
	return nil
}
func (m *memWatchlist) Remove(_ context.Context, s string) error {
	m.syms = slices.DeleteFunc(m.syms, func(x string) bool { return x == s })
	return nil
}
func (m *memWatchlist) Replace(_ context.Context, syms []string) error {
	m.syms = slices.Clone(syms)
	return nil
}

func TestTradeWatchlist(t *testing.T) {
	wl := &memWatchlist{}
	h := builtinHandler(t, Deps{Watchlist: wl}, "trade_watchlist")
	ctx := context.Background()

	if res := h(ctx, nil); !strings.HasPrefix(res.Output, "Watchlist is empty.") {
		t.Errorf("empty = %q", res.Output)
	}
	if res := h(ctx, map[string]string{"symbols": "aapl, tsla,,msft"}); res.Output != "Watchlist set: AAPL, TSLA, MSFT" {
		t.Errorf("set = %q", res.Output)
	}
	if res := h(ctx, map[string]string{"action": "remove", "symbol": "tsla"}); res.Output != "Watchlist: AAPL, MSFT" {
		t.Errorf("remove = %q", res.Output)
	}
	if res := h(ctx, map[string]string{"action": "add", "symbol": "nvda"}); res.Output != "Watchlist: AAPL, MSFT, NVDA" {
		t.Errorf("add = %q", res.Output)
	}
	if res := h(ctx, map[string]string{"action": "explode"}); res.Success {
		t.Error("unknown action should fail")
	}
}

type fakeDeployer struct {
	drives []deploy.Drive
	toUSB  bool
	dest   string
}

func (f *fakeDeployer) Drives(context.Context) ([]deploy.Drive, error) { return f.drives, nil }
func (f *fakeDeployer) DeployToUSB(_ context.Context, drive string) (*deploy.Deployment, error) {
	if drive == "" {
		drive = "/media/u/STICK"
	}
	return &deploy.Deployment{Dest: drive + "/SubZero", Files: 12, Method: "copy"}, nil
}
func (f *fakeDeployer) Download(_ context.Context, dest string, toUSB bool, _ string) (*deploy.Deployment, error) {
	f.dest, f.toUSB = dest, toUSB
	return &deploy.Deployment{Dest: "/media/u/STICK/SubZero", Files: 40, Method: "git"}, nil
}

func TestDeployHandlers(t *testing.T) {
	d := &fakeDeployer{}
	deps := Deps{Deployer: d}
	ctx := context.Background()

	if res := builtinHandler(t, deps, "detect_usb")(ctx, nil); res.Output != "No USB drives detected. Plug in a USB stick." {
		t.Errorf("detect none = %q", res.Output)
	}
	d.drives = []deploy.Drive{{Path: "/media/u/STICK", Free: 1 << 30, Total: 8 << 30}}
	if res := builtinHandler(t, deps, "detect_usb")(ctx, nil); res.Output != "USB drives found:\n  /media/u/STICK: 1.0 GB free / 8.0 GB total" {
		t.Errorf("detect = %q", res.Output)
	}

	if res := builtinHandler(t, deps, "deploy_to_usb")(ctx, nil); res.Output != "SubZero deployed to /media/u/STICK/SubZero (12 files)." {
		t.Errorf("deploy = %q", res.Output)
	}

	res := builtinHandler(t, deps, "download_subzero")(ctx, nil)
	if res.Output != "SubZero cloned to /media/u/STICK/SubZero (40 files)." || !d.toUSB {
		t.Errorf("download = %q toUSB=%v", res.Output, d.toUSB)
	}
	builtinHandler(t, deps, "download_subzero")(ctx, map[string]string{"usb": "no", "destination": "/tmp/sz"})
	if d.toUSB || d.dest != "/tmp/sz" {
		t.Errorf("toUSB=%v dest=%q", d.toUSB, d.dest)
	}
}
