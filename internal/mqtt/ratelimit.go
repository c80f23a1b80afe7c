package mqtt

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// promptLimiter is a token bucket over inbound prompts: limit per
// interval, with a burst of the same size. Drops are summarised in the
// log once per interval instead of per message.
type promptLimiter struct {
	lim      *rate.Limiter
	dropped  atomic.Int64
	interval time.Duration
	logger   *slog.Logger
}

// newPromptLimiter returns a limiter; limit <= 0 disables it.
func newPromptLimiter(limit int, interval time.Duration, logger *slog.Logger) *promptLimiter {
	lim := rate.NewLimiter(rate.Inf, 0)
	if limit > 0 {
		lim = rate.NewLimiter(rate.Every(interval/time.Duration(limit)), limit)
	}
	return &promptLimiter{lim: lim, interval: interval, logger: logger}
}

func (l *promptLimiter) allow() bool {
	if l.lim.Allow() {
		return true
	}
	l.dropped.Add(1)
	return false
}

// report logs the drops since the last call.
func (l *promptLimiter) report() {
	if n := l.dropped.Swap(0); n > 0 {
		l.logger.Warn("mqtt prompts dropped by rate limit",
			"dropped", n, "burst", l.lim.Burst(), "interval", l.interval)
	}
}

// run reports drops every interval until ctx ends.
func (l *promptLimiter) run(ctx context.Context) {
	t := time.NewTicker(l.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			l.report()
			return
		case <-t.C:
			l.report()
		}
	}
}
