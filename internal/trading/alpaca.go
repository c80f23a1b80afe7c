// Package trading is a small client for the Alpaca brokerage REST API
// covering what the trade_* tools need: latest quotes, market and limit
// orders, positions, the account summary and order history. Paper
// trading is the default.
package trading

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nugget/subzero/internal/httpkit"
)

// Default endpoints.
const (
	PaperBaseURL = "https://paper-api.alpaca.markets"
	LiveBaseURL  = "https://api.alpaca.markets"
	DataBaseURL  = "https://data.alpaca.markets"
)

// ErrNotConfigured is returned when API credentials are missing.
var ErrNotConfigured = errors.New("brokerage API not configured: set trading.api_key and trading.api_secret")

// Config holds brokerage credentials and endpoints.
type Config struct {
	APIKey    string
	APISecret string
	Paper     bool
	// BaseURL and DataURL override the derived endpoints.
	BaseURL string
	DataURL string
}

// Client talks to the Alpaca trading and market data APIs.
type Client struct {
	cfg        Config
	baseURL    string
	dataURL    string
	httpClient *http.Client
}

// New creates a client. BaseURL defaults from Paper.
func New(cfg Config) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = LiveBaseURL
		if cfg.Paper {
			base = PaperBaseURL
		}
	}
	data := cfg.DataURL
	if data == "" {
		data = DataBaseURL
	}
	return &Client{
		cfg:     cfg,
		baseURL: strings.TrimRight(base, "/"),
		dataURL: strings.TrimRight(data, "/"),
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(15*time.Second),
			httpkit.WithRetry(1, time.Second),
		),
	}
}

// Paper reports whether orders go to the paper trading account.
func (c *Client) Paper() bool { return c.cfg.Paper }

// Mode returns "PAPER" or "LIVE".
func (c *Client) Mode() string {
	if c.cfg.Paper {
		return "PAPER"
	}
	return "LIVE"
}

// Quote is the latest bid/ask for a symbol.
type Quote struct {
	Symbol   string    `json:"symbol"`
	AskPrice float64   `json:"ap"`
	BidPrice float64   `json:"bp"`
	AskSize  float64   `json:"as"`
	BidSize  float64   `json:"bs"`
	Time     time.Time `json:"t"`
}

// OrderRequest describes an order to submit.
type OrderRequest struct {
	Symbol string
	Qty    float64
	Side   string // "buy" or "sell"
	// Type is "market" or "limit".
	Type       string
	LimitPrice float64
}

// Order is an order as reported by the brokerage.
type Order struct {
	ID         string    `json:"id"`
	Symbol     string    `json:"symbol"`
	Qty        string    `json:"qty"`
	Side       string    `json:"side"`
	Type       string    `json:"type"`
	Status     string    `json:"status"`
	LimitPrice string    `json:"limit_price,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Position is an open position.
type Position struct {
	Symbol        string `json:"symbol"`
	Qty           string `json:"qty"`
	AvgEntryPrice string `json:"avg_entry_price"`
	CurrentPrice  string `json:"current_price"`
	UnrealizedPL  string `json:"unrealized_pl"`
}

// Account summarizes the brokerage account. Alpaca reports money as
// decimal strings.
type Account struct {
	Equity         string `json:"equity"`
	LastEquity     string `json:"last_equity"`
	Cash           string `json:"cash"`
	BuyingPower    string `json:"buying_power"`
	PortfolioValue string `json:"portfolio_value"`
}

// DayPL returns equity minus the previous close equity.
func (a *Account) DayPL() float64 {
	eq, _ := strconv.ParseFloat(a.Equity, 64)
	last, _ := strconv.ParseFloat(a.LastEquity, 64)
	return eq - last
}

// Quote fetches the latest quote for symbol.
func (c *Client) Quote(ctx context.Context, symbol string) (*Quote, error) {
	symbol = strings.ToUpper(symbol)
	var resp struct {
		Symbol string `json:"symbol"`
		Quote  *Quote `json:"quote"`
	}
	if err := c.do(ctx, http.MethodGet, c.dataURL+"/v2/stocks/"+url.PathEscape(symbol)+"/quotes/latest", nil, &resp); err != nil {
		return nil, err
	}
	if resp.Quote == nil {
		return nil, fmt.Errorf("no quote for %s", symbol)
	}
	resp.Quote.Symbol = symbol
	return resp.Quote, nil
}

// SubmitOrder places a day order.
func (c *Client) SubmitOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	if req.Qty <= 0 {
		return nil, fmt.Errorf("quantity must be positive, got %v", req.Qty)
	}
	body := map[string]any{
		"symbol":        strings.ToUpper(req.Symbol),
		"qty":           strconv.FormatFloat(req.Qty, 'f', -1, 64),
		"side":          req.Side,
		"type":          req.Type,
		"time_in_force": "day",
	}
	switch req.Type {
	case "market":
	case "limit":
		if req.LimitPrice <= 0 {
			return nil, errors.New("limit orders need a positive limit_price")
		}
		body["limit_price"] = strconv.FormatFloat(req.LimitPrice, 'f', -1, 64)
	default:
		return nil, fmt.Errorf("unsupported order type %q (want market or limit)", req.Type)
	}

	var order Order
	if err := c.do(ctx, http.MethodPost, c.baseURL+"/v2/orders", body, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// Positions lists open positions.
func (c *Client) Positions(ctx context.Context) ([]Position, error) {
	var pos []Position
	if err := c.do(ctx, http.MethodGet, c.baseURL+"/v2/positions", nil, &pos); err != nil {
		return nil, err
	}
	return pos, nil
}

// Account returns the account summary.
func (c *Client) Account(ctx context.Context) (*Account, error) {
	var acct Account
	if err := c.do(ctx, http.MethodGet, c.baseURL+"/v2/account", nil, &acct); err != nil {
		return nil, err
	}
	return &acct, nil
}

// Orders returns up to limit orders of any status, newest first.
func (c *Client) Orders(ctx context.Context, limit int) ([]Order, error) {
	if limit <= 0 {
		limit = 10
	}
	q := url.Values{"status": {"all"}, "limit": {strconv.Itoa(limit)}, "direction": {"desc"}}
	var orders []Order
	if err := c.do(ctx, http.MethodGet, c.baseURL+"/v2/orders?"+q.Encode(), nil, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// Cancel cancels one order, or every open order when id is empty.
func (c *Client) Cancel(ctx context.Context, id string) error {
	endpoint := c.baseURL + "/v2/orders"
	if id != "" {
		endpoint += "/" + url.PathEscape(id)
	}
	return c.do(ctx, http.MethodDelete, endpoint, nil, nil)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body, out any) error {
	if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
		return ErrNotConfigured
	}

	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, rd)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("APCA-API-KEY-ID", c.cfg.APIKey)
	req.Header.Set("APCA-API-SECRET-KEY", c.cfg.APISecret)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if err := httpkit.CheckResponse(resp); err != nil {
		return fmt.Errorf("%s %s: %w", method, req.URL.Path, err)
	}
	if out == nil {
		httpkit.DrainAndClose(resp.Body, 64<<10)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", req.URL.Path, err)
	}
	return nil
}
