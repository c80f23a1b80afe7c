// Package bridge keeps the user-facing channel responsive while the
// inference backend comes and goes.
//
// A Bridge probes the backend on a fixed heartbeat. While the backend
// is reachable, Send dispatches each prompt on its own supervised
// goroutine and returns at once. While it is down, prompts wait in a
// bounded FIFO queue (oldest dropped first when full) and are drained
// in order as soon as a probe succeeds again. A failed delivery during
// a drain stops the drain so queued prompts are never reordered.
//
// Every state change and delivery is reported through optional
// [Handlers] and, when configured, the [events.Bus].
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/subzero/internal/events"
	"github.com/nugget/subzero/internal/httpkit"
)

// Defaults applied by New for zero Config fields.
const (
	DefaultHeartbeatInterval = 5 * time.Second
	DefaultMaxQueueSize      = 50
	DefaultProbeTimeout      = 10 * time.Second
	DefaultDeliveryTimeout   = 5 * time.Minute
)

// ErrEvicted is passed to the callback of a queued prompt that was
// dropped to make room for a newer one.
var ErrEvicted = errors.New("evicted from full queue")

// Agent is the backend collaborator. Ping is the health probe: a
// single bounded check where nil means reachable.
type Agent interface {
	Chat(ctx context.Context, prompt string) (string, error)
	Ping(ctx context.Context) error
}

// SessionAgent is an Agent that can answer within a named conversation.
// Prompts sent with SendSession reach ChatSession when the agent
// implements it and Chat otherwise.
type SessionAgent interface {
	Agent
	ChatSession(ctx context.Context, session, prompt string) (string, error)
}

// Handlers receive bridge events. Any field may be nil. Handlers run
// outside the bridge lock on whichever goroutine caused the event, so
// they must synchronize access to their own state.
type Handlers struct {
	OnStatusChange     func(old, new State)
	OnMessageQueued    func(prompt string, queueSize int)
	OnMessageDelivered func(prompt, response string)
	OnMessageFailed    func(prompt string, err error)
	OnQueueDrained     func(delivered int)
}

// Config configures a Bridge.
type Config struct {
	HeartbeatInterval time.Duration
	MaxQueueSize      int
	// ProbeTimeout bounds each health probe.
	ProbeTimeout time.Duration
	// DeliveryTimeout bounds each Chat call. A timeout counts as a
	// failed delivery.
	DeliveryTimeout time.Duration
	// Model is reported in Status.
	Model  string
	Logger *slog.Logger
	Bus    *events.Bus
	// Store persists undelivered prompts across Close and Restore.
	Store QueueStore
}

// Status is a point-in-time snapshot of the bridge.
type Status struct {
	State               State     `json:"state"`
	Model               string    `json:"model,omitempty"`
	LastCheck           time.Time `json:"last_check"`
	LastError           string    `json:"last_error,omitempty"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	QueueLength         int       `json:"queue_length"`
	MaxQueueSize        int       `json:"max_queue_size"`
	TotalSent           int64     `json:"total_sent"`
	TotalFailed         int64     `json:"total_failed"`
	Evicted             int64     `json:"evicted"`
	HeartbeatSeconds    float64   `json:"heartbeat_interval_sec"`
	Running             bool      `json:"running"`
	Closed              bool      `json:"closed"`
}

// Bridge buffers prompts between callers and an Agent. It is safe for
// concurrent use.
type Bridge struct {
	agent  Agent
	cfg    Config
	h      Handlers
	logger *slog.Logger
	bus    *events.Bus

	mu                  sync.Mutex
	state               State
	queue               *queue
	lastCheck           time.Time
	lastErr             error
	consecutiveFailures int
	totalSent           int64
	totalFailed         int64
	evicted             int64
	closed              bool

	// checkMu serializes heartbeat iterations; drainMu keeps a single
	// drain in flight.
	checkMu sync.Mutex
	drainMu sync.Mutex

	// ctx parents live dispatches and is cancelled by Close.
	ctx      context.Context
	cancel   context.CancelFunc
	inflight sync.WaitGroup

	loopMu     sync.Mutex
	loopCancel context.CancelFunc
	loopDone   chan struct{}
	running    atomic.Bool
}

// New creates a bridge in the Checking state. It panics if agent is
// nil.
func New(agent Agent, cfg Config, h Handlers) *Bridge {
	if agent == nil {
		panic("bridge: agent must not be nil")
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = DefaultMaxQueueSize
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = DefaultDeliveryTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		agent:  agent,
		cfg:    cfg,
		h:      h,
		logger: cfg.Logger,
		bus:    cfg.Bus,
		queue:  newQueue(cfg.MaxQueueSize),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Send delivers prompt now if the backend is not known to be down, or
// queues it otherwise. It never blocks on the backend; cb (optional)
// is invoked exactly once when a dispatched or queued prompt is
// delivered, fails, or is evicted.
func (b *Bridge) Send(prompt string, cb Callback) Outcome {
	return b.SendSession("", prompt, cb)
}

// SendSession is Send for a prompt that belongs to a named session.
// The session travels with the prompt through the queue and across
// restarts.
func (b *Bridge) SendSession(session, prompt string, cb Callback) Outcome {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		b.logger.Warn("send rejected, bridge closed")
		return OutcomeRejected
	}

	if b.state == StateDisconnected {
		id := uuid.NewString()
		old, evicted := b.queue.push(entry{
			id:       id,
			session:  session,
			prompt:   prompt,
			cb:       cb,
			queuedAt: time.Now(),
		})
		if evicted {
			b.evicted++
		}
		size := b.queue.len()
		b.mu.Unlock()

		if evicted {
			b.logger.Warn("queue full, dropped message",
				"max_queue_size", b.cfg.MaxQueueSize,
				"incoming", old.id == id,
				"queued_for", time.Since(old.queuedAt).Round(time.Second),
			)
			if old.cb != nil {
				old.cb("", ErrEvicted)
			}
		}
		b.logger.Info("backend offline, message queued", "queue_size", size)
		if b.h.OnMessageQueued != nil {
			b.h.OnMessageQueued(prompt, size)
		}
		b.bus.Emit(events.SourceBridge, events.KindMessageQueued, map[string]any{
			"queue_size": size,
			"evicted":    evicted,
		})
		return OutcomeQueued
	}

	// Registered under the lock so Close cannot start waiting between
	// the closed check and the Add.
	b.inflight.Add(1)
	b.mu.Unlock()

	go b.dispatch(session, prompt, cb)
	return OutcomeSent
}

// dispatch is the supervised unit of work behind a live Send.
func (b *Bridge) dispatch(session, prompt string, cb Callback) {
	defer b.inflight.Done()

	start := time.Now()
	resp, err := b.deliver(b.ctx, session, prompt)

	b.mu.Lock()
	if err != nil {
		b.totalFailed++
	} else {
		b.totalSent++
	}
	b.mu.Unlock()

	if cb != nil {
		cb(resp, err)
	}
	if err != nil {
		b.fireFailed(prompt, err)
		return
	}
	b.fireDelivered(prompt, resp, "live", time.Since(start))
}

// deliver calls the agent with the delivery timeout. A panicking agent
// is reported as a failed delivery.
func (b *Bridge) deliver(ctx context.Context, session, prompt string) (resp string, err error) {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.DeliveryTimeout)
	defer cancel()

	defer func() {
		if p := recover(); p != nil {
			b.logger.Error("agent panicked during delivery", "panic", p)
			resp, err = "", fmt.Errorf("agent panicked: %v", p)
		}
	}()
	if sa, ok := b.agent.(SessionAgent); ok && session != "" {
		return sa.ChatSession(ctx, session, prompt)
	}
	return b.agent.Chat(ctx, prompt)
}

// RetryQueue drains the queue now and returns how many prompts were
// delivered. It stops at the first failure, leaving that prompt at the
// front.
func (b *Bridge) RetryQueue(ctx context.Context) int {
	b.drainMu.Lock()
	defer b.drainMu.Unlock()

	delivered := 0
	for ctx.Err() == nil {
		b.mu.Lock()
		e, ok := b.queue.front()
		if ok {
			b.queue.markInflight(e.id)
		}
		b.mu.Unlock()
		if !ok {
			break
		}

		start := time.Now()
		resp, err := b.deliver(ctx, e.session, e.prompt)
		if err != nil {
			b.mu.Lock()
			b.queue.markInflight("")
			b.mu.Unlock()
			b.logger.Warn("queued message delivery failed, stopping drain",
				"queued_for", time.Since(e.queuedAt).Round(time.Second),
				"delivered", delivered,
				"error", err,
			)
			break
		}

		b.mu.Lock()
		b.queue.removeID(e.id)
		b.queue.markInflight("")
		b.totalSent++
		b.mu.Unlock()

		delivered++
		if e.cb != nil {
			e.cb(resp, nil)
		}
		b.fireDelivered(e.prompt, resp, "drain", time.Since(start))
	}

	if delivered > 0 {
		b.mu.Lock()
		remaining := b.queue.len()
		b.mu.Unlock()

		b.logger.Info("queue drained", "delivered", delivered, "remaining", remaining)
		if b.h.OnQueueDrained != nil {
			b.h.OnQueueDrained(delivered)
		}
		b.bus.Emit(events.SourceBridge, events.KindQueueDrained, map[string]any{
			"delivered": delivered,
			"remaining": remaining,
		})
	}
	return delivered
}

// Check runs one heartbeat iteration: probe the backend, update the
// state and, when the backend has just come back, drain the queue.
// Probe failures are recorded, never returned.
func (b *Bridge) Check(ctx context.Context) {
	b.checkMu.Lock()
	defer b.checkMu.Unlock()

	probeCtx, cancel := context.WithTimeout(ctx, b.cfg.ProbeTimeout)
	err := b.probe(probeCtx)
	cancel()
	if ctx.Err() != nil {
		// Stopped mid-probe; the result says nothing about the backend.
		return
	}

	b.mu.Lock()
	b.lastCheck = time.Now()
	prev := b.state

	if err != nil {
		b.consecutiveFailures++
		b.lastErr = err
		failures := b.consecutiveFailures
		changed := prev != StateDisconnected
		b.state = StateDisconnected
		b.mu.Unlock()

		if changed {
			b.logger.Warn("backend unreachable",
				"previous", prev.String(),
				"retryable", httpkit.Retryable(err),
				"error", err,
			)
			b.fireStatus(prev, StateDisconnected, failures)
		} else {
			b.logger.Debug("backend still unreachable",
				"consecutive_failures", failures,
				"error", err,
			)
		}
		return
	}

	b.consecutiveFailures = 0
	b.lastErr = nil

	if prev == StateDisconnected {
		b.state = StateReconnecting
		b.mu.Unlock()

		b.logger.Info("backend reachable again, draining queue")
		b.fireStatus(prev, StateReconnecting, 0)
		b.RetryQueue(ctx)
		// Connected even if the drain stalled; the next probe decides.
		b.setState(StateConnected)
		return
	}

	b.state = StateConnected
	b.mu.Unlock()
	if prev != StateConnected {
		b.logger.Info("backend connected", "previous", prev.String())
		b.fireStatus(prev, StateConnected, 0)
	}
}

func (b *Bridge) probe(ctx context.Context) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("probe panicked: %v", p)
		}
	}()
	return b.agent.Ping(ctx)
}

func (b *Bridge) setState(s State) {
	b.mu.Lock()
	prev := b.state
	b.state = s
	b.mu.Unlock()
	if prev != s {
		b.fireStatus(prev, s, 0)
	}
}

// Start launches the heartbeat loop: probe now, then every
// HeartbeatInterval until Stop, Close or ctx is done. Calling Start on
// a running bridge does nothing.
func (b *Bridge) Start(ctx context.Context) {
	b.loopMu.Lock()
	defer b.loopMu.Unlock()

	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed || b.loopDone != nil {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	b.loopCancel = cancel
	b.loopDone = make(chan struct{})
	b.running.Store(true)
	go b.run(loopCtx, b.loopDone)
}

func (b *Bridge) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer b.running.Store(false)

	b.logger.Info("bridge heartbeat started",
		"heartbeat_interval", b.cfg.HeartbeatInterval,
		"model", b.cfg.Model,
	)

	b.Check(ctx)
	// Prompts restored from a previous run are not tied to a
	// reconnect, so deliver them once the first probe succeeds.
	if b.State() == StateConnected && b.QueueLen() > 0 {
		b.RetryQueue(ctx)
	}

	ticker := time.NewTicker(b.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			b.logger.Info("bridge heartbeat stopped")
			return
		case <-ticker.C:
			b.Check(ctx)
		}
	}
}

// Stop halts the heartbeat loop and waits for it to exit. A probe or
// drain in progress is cancelled. Safe to call repeatedly.
func (b *Bridge) Stop() {
	b.loopMu.Lock()
	cancel, done := b.loopCancel, b.loopDone
	b.loopCancel, b.loopDone = nil, nil
	b.loopMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Close stops accepting prompts, stops the heartbeat, waits for
// in-flight dispatches and persists whatever is still queued. If ctx
// ends first, outstanding dispatches are cancelled and ctx's error is
// returned once the queue is saved.
func (b *Bridge) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.Stop()

	var errs []error
	done := make(chan struct{})
	go func() {
		b.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		b.logger.Warn("shutdown deadline reached, cancelling in-flight messages")
		errs = append(errs, ctx.Err())
	}
	b.cancel()

	if err := b.persist(context.WithoutCancel(ctx)); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (b *Bridge) persist(ctx context.Context) error {
	if b.cfg.Store == nil {
		return nil
	}
	b.mu.Lock()
	entries := b.queue.snapshot()
	b.mu.Unlock()

	pending := make([]PendingPrompt, len(entries))
	for i, e := range entries {
		pending[i] = PendingPrompt{ID: e.id, Session: e.session, Prompt: e.prompt, QueuedAt: e.queuedAt}
	}
	if err := b.cfg.Store.SaveQueue(ctx, pending); err != nil {
		return fmt.Errorf("save queue: %w", err)
	}
	if len(pending) > 0 {
		b.logger.Info("saved undelivered messages", "count", len(pending))
	}
	return nil
}

// Restore re-queues prompts saved by a previous Close and clears the
// saved copy. Restored prompts have no callback. Call it before Start.
func (b *Bridge) Restore(ctx context.Context) (int, error) {
	if b.cfg.Store == nil {
		return 0, nil
	}
	pending, err := b.cfg.Store.LoadQueue(ctx)
	if err != nil {
		return 0, fmt.Errorf("load queue: %w", err)
	}

	b.mu.Lock()
	for _, p := range pending {
		id := p.ID
		if id == "" {
			id = uuid.NewString()
		}
		if _, evicted := b.queue.push(entry{id: id, session: p.Session, prompt: p.Prompt, queuedAt: p.QueuedAt}); evicted {
			b.evicted++
		}
	}
	size := b.queue.len()
	b.mu.Unlock()

	if err := b.cfg.Store.SaveQueue(ctx, nil); err != nil {
		return len(pending), fmt.Errorf("clear saved queue: %w", err)
	}
	if len(pending) > 0 {
		b.logger.Info("restored undelivered messages", "count", len(pending), "queue_size", size)
	}
	return len(pending), nil
}

// Status returns a snapshot of the bridge.
func (b *Bridge) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := Status{
		State:               b.state,
		Model:               b.cfg.Model,
		LastCheck:           b.lastCheck,
		ConsecutiveFailures: b.consecutiveFailures,
		QueueLength:         b.queue.len(),
		MaxQueueSize:        b.cfg.MaxQueueSize,
		TotalSent:           b.totalSent,
		TotalFailed:         b.totalFailed,
		Evicted:             b.evicted,
		HeartbeatSeconds:    b.cfg.HeartbeatInterval.Seconds(),
		Running:             b.running.Load(),
		Closed:              b.closed,
	}
	if b.lastErr != nil {
		s.LastError = b.lastErr.Error()
	}
	return s
}

// State returns the current state.
func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// QueueLen returns the number of queued prompts.
func (b *Bridge) QueueLen() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.queue.len()
}

// Queue returns the queued prompts, oldest first.
func (b *Bridge) Queue() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.queue.prompts()
}

func (b *Bridge) fireStatus(from, to State, failures int) {
	if b.h.OnStatusChange != nil {
		b.h.OnStatusChange(from, to)
	}
	b.bus.Emit(events.SourceBridge, events.KindStatusChange, map[string]any{
		"old":                  from.String(),
		"new":                  to.String(),
		"consecutive_failures": failures,
	})
}

func (b *Bridge) fireDelivered(prompt, resp, via string, elapsed time.Duration) {
	b.logger.Debug("message delivered", "via", via, "elapsed", elapsed.Round(time.Millisecond))
	if b.h.OnMessageDelivered != nil {
		b.h.OnMessageDelivered(prompt, resp)
	}
	b.bus.Emit(events.SourceBridge, events.KindMessageDelivered, map[string]any{
		"via":         via,
		"duration_ms": elapsed.Milliseconds(),
	})
}

func (b *Bridge) fireFailed(prompt string, err error) {
	retryable := httpkit.Retryable(err)
	b.logger.Warn("message delivery failed", "retryable", retryable, "error", err)
	if b.h.OnMessageFailed != nil {
		b.h.OnMessageFailed(prompt, err)
	}
	b.bus.Emit(events.SourceBridge, events.KindMessageFailed, map[string]any{
		"error":     err.Error(),
		"retryable": retryable,
	})
}
