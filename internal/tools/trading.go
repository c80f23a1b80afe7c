package tools

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/nugget/subzero/internal/trading"
)

// Trader is the brokerage behind the trade_* tools.
type Trader interface {
	Mode() string
	Quote(ctx context.Context, symbol string) (*trading.Quote, error)
	SubmitOrder(ctx context.Context, req trading.OrderRequest) (*trading.Order, error)
	Positions(ctx context.Context) ([]trading.Position, error)
	Account(ctx context.Context) (*trading.Account, error)
	Orders(ctx context.Context, limit int) ([]trading.Order, error)
	Cancel(ctx context.Context, orderID string) error
}

// Watchlist stores the symbols trade_watchlist manages.
type Watchlist interface {
	List(ctx context.Context) ([]string, error)
	Add(ctx context.Context, symbol string) error
	Remove(ctx context.Context, symbol string) error
	Replace(ctx context.Context, symbols []string) error
}

type symbolParams struct {
	Symbol string `param:"symbol"`
}

func (p *symbolParams) Validate() error {
	if strings.TrimSpace(p.Symbol) == "" {
		return errors.New("no symbol provided")
	}
	return nil
}

type tradeOrderParams struct {
	Symbol     string   `param:"symbol"`
	Qty        *float64 `param:"qty"`
	Type       string   `param:"type"`
	OrderType  string   `param:"order_type"`
	LimitPrice float64  `param:"limit_price"`
}

func (p *tradeOrderParams) Validate() error {
	if strings.TrimSpace(p.Symbol) == "" {
		return errors.New("no symbol provided")
	}
	if p.Qty != nil && *p.Qty <= 0 {
		return errors.New("qty must be positive")
	}
	return nil
}

func (p *tradeOrderParams) request(side string) trading.OrderRequest {
	qty := 1.0
	if p.Qty != nil {
		qty = *p.Qty
	}
	typ := strings.ToLower(p.Type)
	if typ == "" {
		typ = strings.ToLower(p.OrderType)
	}
	if typ == "" {
		typ = "market"
	}
	return trading.OrderRequest{
		Symbol:     strings.ToUpper(strings.TrimSpace(p.Symbol)),
		Qty:        qty,
		Side:       side,
		Type:       typ,
		LimitPrice: p.LimitPrice,
	}
}

type tradeHistoryParams struct {
	Limit int `param:"limit"`
}

type tradeCancelParams struct {
	OrderID string `param:"order_id"`
}

type tradeWatchlistParams struct {
	Symbols string `param:"symbols"`
	Action  string `param:"action"`
	Symbol  string `param:"symbol"`
}

func (p *tradeWatchlistParams) Validate() error {
	switch strings.ToLower(p.Action) {
	case "", "list", "set":
	case "add", "remove":
		if strings.TrimSpace(p.Symbol) == "" && strings.TrimSpace(p.Symbols) == "" {
			return fmt.Errorf("%s needs a symbol", p.Action)
		}
	default:
		return fmt.Errorf("unknown action %q (want list, set, add or remove)", p.Action)
	}
	return nil
}

func formatQty(q float64) string {
	return strconv.FormatFloat(q, 'f', -1, 64)
}

func signed(v float64) string {
	if v >= 0 {
		return fmt.Sprintf("+$%.2f", v)
	}
	return fmt.Sprintf("-$%.2f", -v)
}

func tradeQuoteHandler(t Trader) Handler {
	return typed(func(ctx context.Context, p symbolParams) Result {
		q, err := t.Quote(ctx, strings.ToUpper(strings.TrimSpace(p.Symbol)))
		if err != nil {
			return Fail(err)
		}
		return OKData(fmt.Sprintf("%s: Ask $%.2f | Bid $%.2f | Ask Size %s | Bid Size %s",
			q.Symbol, q.AskPrice, q.BidPrice, formatQty(q.AskSize), formatQty(q.BidSize)), q)
	})
}

func tradeOrderHandler(t Trader, side string) Handler {
	return typed(func(ctx context.Context, p tradeOrderParams) Result {
		req := p.request(side)
		order, err := t.SubmitOrder(ctx, req)
		if err != nil {
			return Fail(err)
		}
		return OKData(fmt.Sprintf("[%s] %s %s %s - Order ID: %s Status: %s",
			t.Mode(), strings.ToUpper(side), formatQty(req.Qty), req.Symbol, order.ID, order.Status), order)
	})
}

func tradePositionsHandler(t Trader) Handler {
	return typed(func(ctx context.Context, _ noParams) Result {
		positions, err := t.Positions(ctx)
		if err != nil {
			return Fail(err)
		}
		if len(positions) == 0 {
			return OK("No open positions.")
		}
		var b strings.Builder
		b.WriteString("Open positions:")
		for _, p := range positions {
			pl, _ := strconv.ParseFloat(p.UnrealizedPL, 64)
			fmt.Fprintf(&b, "\n  %s: %s shares @ $%s | Current: $%s | P&L: %s",
				p.Symbol, p.Qty, p.AvgEntryPrice, p.CurrentPrice, signed(pl))
		}
		return OKData(b.String(), positions)
	})
}

func tradePortfolioHandler(t Trader) Handler {
	return typed(func(ctx context.Context, _ noParams) Result {
		a, err := t.Account(ctx)
		if err != nil {
			return Fail(err)
		}
		return OKData(fmt.Sprintf("[%s] Portfolio:\n  Equity: $%s\n  Cash: $%s\n  Buying Power: $%s\n  Portfolio Value: $%s\n  Day P&L: %s",
			t.Mode(), a.Equity, a.Cash, a.BuyingPower, a.PortfolioValue, signed(a.DayPL())), a)
	})
}

func tradeHistoryHandler(t Trader) Handler {
	return typed(func(ctx context.Context, p tradeHistoryParams) Result {
		limit := p.Limit
		if limit <= 0 {
			limit = 10
		}
		orders, err := t.Orders(ctx, limit)
		if err != nil {
			return Fail(err)
		}
		if len(orders) == 0 {
			return OK("No recent orders.")
		}
		var b strings.Builder
		b.WriteString("Recent orders:")
		for _, o := range orders {
			when := ""
			if !o.CreatedAt.IsZero() {
				when = o.CreatedAt.Local().Format("01/02 15:04")
			}
			fmt.Fprintf(&b, "\n  [%s] %s %s %s @ %s - %s", o.Status, o.Side, o.Qty, o.Symbol, o.Type, when)
		}
		return OKData(b.String(), orders)
	})
}

func tradeCancelHandler(t Trader) Handler {
	return typed(func(ctx context.Context, p tradeCancelParams) Result {
		id := strings.TrimSpace(p.OrderID)
		if err := t.Cancel(ctx, id); err != nil {
			return Fail(err)
		}
		if id == "" {
			return OK("Cancelled all open orders")
		}
		return OK("Cancelled order " + id)
	})
}

func splitSymbols(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if sym := strings.ToUpper(strings.TrimSpace(part)); sym != "" {
			out = append(out, sym)
		}
	}
	return out
}

func tradeWatchlistHandler(w Watchlist) Handler {
	return typed(func(ctx context.Context, p tradeWatchlistParams) Result {
		action := strings.ToLower(p.Action)
		if action == "" && p.Symbols != "" {
			action = "set"
		}
		targets := splitSymbols(p.Symbols)
		if p.Symbol != "" {
			targets = append(targets, splitSymbols(p.Symbol)...)
		}

		switch action {
		case "set":
			if err := w.Replace(ctx, targets); err != nil {
				return Fail(err)
			}
			return OKData("Watchlist set: "+strings.Join(targets, ", "), targets)
		case "add":
			for _, s := range targets {
				if err := w.Add(ctx, s); err != nil {
					return Fail(err)
				}
			}
		case "remove":
			for _, s := range targets {
				if err := w.Remove(ctx, s); err != nil {
					return Fail(err)
				}
			}
		}

		syms, err := w.List(ctx)
		if err != nil {
			return Fail(err)
		}
		if len(syms) == 0 {
			return OK(`Watchlist is empty. Set with: @tool trade_watchlist symbols="AAPL,TSLA,MSFT"`)
		}
		return OKData("Watchlist: "+strings.Join(syms, ", "), syms)
	})
}
