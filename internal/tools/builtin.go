package tools

import (
	"context"
)

// Deps are the collaborators behind the built-in tools. A nil field
// leaves its tools registered but failing with [ErrToolUnavailable].
type Deps struct {
	Shell     *ShellExec
	Files     *FileTools
	Web       WebClient
	Search    Searcher
	Browser   Browser
	Clipboard Clipboard
	Apps      AppLauncher
	Trader    Trader
	Watchlist Watchlist
	Deployer  Deployer
}

// Close releases collaborators that hold processes, currently the
// browser session.
func (d Deps) Close() error {
	if d.Browser != nil {
		return d.Browser.Close()
	}
	return nil
}

func unavailable(k Kind, reason string) Handler {
	return func(context.Context, map[string]string) Result {
		return Fail(&ErrToolUnavailable{ToolName: k.String(), Reason: reason})
	}
}

// Builtin returns a descriptor for every tool kind.
func Builtin(d Deps) []Descriptor {
	h := make(map[Kind]Handler, kindCount)

	if d.Shell != nil {
		h[KindRunCommand] = typed(d.Shell.handleRunCommand)
		h[KindRunPython] = typed(d.Shell.handleRunPython)
	}
	if d.Files != nil {
		h[KindFileRead] = typed(d.Files.handleRead)
		h[KindFileWrite] = typed(d.Files.handleWrite)
		h[KindFileAppend] = typed(d.Files.handleAppend)
		h[KindFileList] = typed(d.Files.handleList)
		h[KindFileDelete] = typed(d.Files.handleDelete)
	}
	if d.Search != nil {
		h[KindWebSearch] = webSearchHandler(d.Search)
	}
	if d.Web != nil {
		h[KindWebGet] = webGetHandler(d.Web)
		h[KindWebPost] = webPostHandler(d.Web)
	}
	if d.Browser != nil {
		for k, fn := range browserHandlers(d.Browser) {
			h[k] = fn
		}
	}
	if d.Clipboard != nil {
		h[KindClipboardCopy] = clipboardCopyHandler(d.Clipboard)
		h[KindClipboardPaste] = clipboardPasteHandler(d.Clipboard)
	}
	if d.Apps != nil {
		h[KindOpenApp] = openAppHandler(d.Apps)
	}
	if d.Trader != nil {
		h[KindTradeQuote] = tradeQuoteHandler(d.Trader)
		h[KindTradeBuy] = tradeOrderHandler(d.Trader, "buy")
		h[KindTradeSell] = tradeOrderHandler(d.Trader, "sell")
		h[KindTradePositions] = tradePositionsHandler(d.Trader)
		h[KindTradePortfolio] = tradePortfolioHandler(d.Trader)
		h[KindTradeHistory] = tradeHistoryHandler(d.Trader)
		h[KindTradeCancel] = tradeCancelHandler(d.Trader)
	}
	if d.Watchlist != nil {
		h[KindTradeWatchlist] = tradeWatchlistHandler(d.Watchlist)
	}
	if d.Deployer != nil {
		h[KindDeployToUSB] = deployToUSBHandler(d.Deployer)
		h[KindDownloadSubZero] = downloadHandler(d.Deployer)
		h[KindDetectUSB] = detectUSBHandler(d.Deployer)
	}

	descs := make([]Descriptor, 0, kindCount-1)
	for _, k := range Kinds() {
		doc := docs[k]
		handler, ok := h[k]
		if !ok {
			handler = unavailable(k, doc.missing)
		}
		descs = append(descs, Descriptor{
			Kind:        k,
			Description: doc.description,
			Params:      doc.params,
			Handler:     handler,
		})
	}
	return descs
}

type toolDoc struct {
	description string
	params      []Param
	// missing explains an unavailable tool.
	missing string
}

func param(name, hint string) Param { return Param{Name: name, Hint: hint} }

var docs = [kindCount]toolDoc{
	KindRunCommand: {"Run a shell command", []Param{param("cmd", "command")}, "shell execution disabled"},
	KindRunPython:  {"Execute Python code", []Param{param("code", "python code")}, "shell execution disabled"},

	KindFileRead:   {"Read a file", []Param{param("path", "file path")}, "file access disabled"},
	KindFileWrite:  {"Write/create a file", []Param{param("path", "file path"), param("content", "file content")}, "file access disabled"},
	KindFileAppend: {"Append to a file", []Param{param("path", "file path"), param("content", "text to append")}, "file access disabled"},
	KindFileList:   {"List directory contents", []Param{param("directory", "dir path")}, "file access disabled"},
	KindFileDelete: {"Delete a file or directory", []Param{param("path", "file path")}, "file access disabled"},

	KindWebSearch: {"Search the web (DuckDuckGo)", []Param{param("query", "search terms")}, "no search provider configured"},
	KindWebGet:    {"HTTP GET request", []Param{param("url", "URL")}, "web access disabled"},
	KindWebPost:   {"HTTP POST request", []Param{param("url", "URL"), param("data", "JSON body")}, "web access disabled"},

	KindBrowserOpen:       {"Open URL in browser", []Param{param("url", "URL")}, "browser automation disabled"},
	KindBrowserClick:      {"Click an element", []Param{param("selector", "CSS selector")}, "browser automation disabled"},
	KindBrowserType:       {"Type into an element", []Param{param("selector", "CSS selector"), param("text", "text to type")}, "browser automation disabled"},
	KindBrowserRead:       {"Read page text", []Param{param("selector", "CSS selector (optional)")}, "browser automation disabled"},
	KindBrowserScreenshot: {"Take a screenshot", []Param{param("path", "save path (optional)")}, "browser automation disabled"},
	KindBrowserWait:       {"Wait for an element", []Param{param("selector", "CSS selector"), param("timeout", "seconds")}, "browser automation disabled"},
	KindBrowserClose:      {"Close the browser", nil, "browser automation disabled"},

	KindClipboardCopy:  {"Copy text to clipboard", []Param{param("text", "text")}, "no clipboard available"},
	KindClipboardPaste: {"Read clipboard contents", nil, "no clipboard available"},
	KindOpenApp:        {"Launch an application or file", []Param{param("path", "app, file or URL")}, "no desktop launcher available"},

	KindTradeQuote:     {"Get stock quote", []Param{param("symbol", "ticker")}, "trading not configured"},
	KindTradeBuy:       {"Buy stock", []Param{param("symbol", "ticker"), param("qty", "shares"), param("type", "market|limit"), param("limit_price", "price for limit orders")}, "trading not configured"},
	KindTradeSell:      {"Sell stock", []Param{param("symbol", "ticker"), param("qty", "shares"), param("type", "market|limit"), param("limit_price", "price for limit orders")}, "trading not configured"},
	KindTradePositions: {"View open positions", nil, "trading not configured"},
	KindTradePortfolio: {"View portfolio summary", nil, "trading not configured"},
	KindTradeHistory:   {"View recent orders", []Param{param("limit", "number of orders")}, "trading not configured"},
	KindTradeCancel:    {"Cancel order(s)", []Param{param("order_id", "order ID (empty = all)")}, "trading not configured"},
	KindTradeWatchlist: {"Get/set watchlist", []Param{param("symbols", "Comma-separated symbols")}, "watchlist storage unavailable"},

	KindDeployToUSB:     {"Copy SubZero to a USB drive", []Param{param("drive", "mount path (auto-detects)")}, "deployment disabled"},
	KindDownloadSubZero: {"Download SubZero from GitHub", []Param{param("destination", "folder path"), param("usb", "yes/no")}, "deployment disabled"},
	KindDetectUSB:       {"Detect connected USB drives", nil, "deployment disabled"},
}
