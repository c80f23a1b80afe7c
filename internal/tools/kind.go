package tools

// Kind enumerates every tool the runtime knows about. The set is
// closed: adding a tool means adding a Kind here, a name and tier in
// kindInfo, and a descriptor in Builtin.
type Kind int

const (
	kindInvalid Kind = iota

	KindRunCommand
	KindRunPython

	KindFileRead
	KindFileWrite
	KindFileAppend
	KindFileList
	KindFileDelete

	KindWebSearch
	KindWebGet
	KindWebPost

	KindBrowserOpen
	KindBrowserClick
	KindBrowserType
	KindBrowserRead
	KindBrowserScreenshot
	KindBrowserWait
	KindBrowserClose

	KindClipboardCopy
	KindClipboardPaste
	KindOpenApp

	KindTradeQuote
	KindTradeBuy
	KindTradeSell
	KindTradePositions
	KindTradePortfolio
	KindTradeHistory
	KindTradeCancel
	KindTradeWatchlist

	KindDeployToUSB
	KindDownloadSubZero
	KindDetectUSB

	kindCount
)

var kindInfo = [kindCount]struct {
	name string
	tier Tier
}{
	KindRunCommand:        {"run_command", TierLog},
	KindRunPython:         {"run_python", TierLog},
	KindFileRead:          {"file_read", TierAuto},
	KindFileWrite:         {"file_write", TierLog},
	KindFileAppend:        {"file_append", TierLog},
	KindFileList:          {"file_list", TierAuto},
	KindFileDelete:        {"file_delete", TierConfirm},
	KindWebSearch:         {"web_search", TierAuto},
	KindWebGet:            {"web_get", TierAuto},
	KindWebPost:           {"web_post", TierConfirm},
	KindBrowserOpen:       {"browser_open", TierLog},
	KindBrowserClick:      {"browser_click", TierLog},
	KindBrowserType:       {"browser_type", TierLog},
	KindBrowserRead:       {"browser_read", TierAuto},
	KindBrowserScreenshot: {"browser_screenshot", TierAuto},
	KindBrowserWait:       {"browser_wait", TierAuto},
	KindBrowserClose:      {"browser_close", TierLog},
	KindClipboardCopy:     {"clipboard_copy", TierLog},
	KindClipboardPaste:    {"clipboard_paste", TierAuto},
	KindOpenApp:           {"open_app", TierConfirm},
	KindTradeQuote:        {"trade_quote", TierAuto},
	KindTradeBuy:          {"trade_buy", TierConfirm},
	KindTradeSell:         {"trade_sell", TierConfirm},
	KindTradePositions:    {"trade_positions", TierAuto},
	KindTradePortfolio:    {"trade_portfolio", TierAuto},
	KindTradeHistory:      {"trade_history", TierAuto},
	KindTradeCancel:       {"trade_cancel", TierConfirm},
	KindTradeWatchlist:    {"trade_watchlist", TierAuto},
	KindDeployToUSB:       {"deploy_to_usb", TierLog},
	KindDownloadSubZero:   {"download_subzero", TierLog},
	KindDetectUSB:         {"detect_usb", TierAuto},
}

var kindByName = func() map[string]Kind {
	m := make(map[string]Kind, kindCount)
	for k := kindInvalid + 1; k < kindCount; k++ {
		m[kindInfo[k].name] = k
	}
	return m
}()

// KindOf resolves a wire name to its Kind.
func KindOf(name string) (Kind, bool) {
	k, ok := kindByName[name]
	return k, ok
}

// Kinds returns every valid Kind in declaration order.
func Kinds() []Kind {
	out := make([]Kind, 0, kindCount-1)
	for k := kindInvalid + 1; k < kindCount; k++ {
		out = append(out, k)
	}
	return out
}

// Valid reports whether k is a member of the enumeration.
func (k Kind) Valid() bool {
	return k > kindInvalid && k < kindCount
}

// String returns the wire name used in @tool directives.
func (k Kind) String() string {
	if !k.Valid() {
		return "invalid"
	}
	return kindInfo[k].name
}

// Tier returns the safety tier of the tool. Invalid kinds are
// [TierConfirm].
func (k Kind) Tier() Tier {
	if !k.Valid() {
		return TierConfirm
	}
	return kindInfo[k].tier
}

// AutoTradable reports whether the auto-trade setting lifts the
// confirmation requirement for this kind.
func (k Kind) AutoTradable() bool {
	switch k {
	case KindTradeBuy, KindTradeSell, KindTradeCancel:
		return true
	}
	return false
}
