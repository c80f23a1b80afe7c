// Package metrics exports Prometheus collectors fed from the event bus.
package metrics

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nugget/subzero/internal/bridge"
	"github.com/nugget/subzero/internal/events"
)

const namespace = "subzero"

// Metrics holds the collectors. Each instance owns its registry so
// tests and multiple servers do not collide on the default one.
type Metrics struct {
	reg *prometheus.Registry

	BridgeState     *prometheus.GaugeVec
	QueueLength     prometheus.Gauge
	MessagesQueued  prometheus.Counter
	MessagesEvicted prometheus.Counter
	Delivered       *prometheus.CounterVec
	Failed          *prometheus.CounterVec
	DeliveryLatency prometheus.Histogram
	Drains          prometheus.Counter
	ToolCalls       *prometheus.CounterVec
	ToolDuration    *prometheus.HistogramVec
	Requests        *prometheus.CounterVec
	RequestLatency  prometheus.Histogram
}

// New creates the collectors and registers them, along with the Go
// runtime and process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		BridgeState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "state",
			Help:      "Current bridge connection state (1 for the active state).",
		}, []string{"state"}),
		QueueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "queue_length",
			Help:      "Prompts waiting for the backend.",
		}),
		MessagesQueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "messages_queued_total",
			Help:      "Prompts queued while the backend was down.",
		}),
		MessagesEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "messages_evicted_total",
			Help:      "Queued prompts dropped to make room for newer ones.",
		}),
		Delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "messages_delivered_total",
			Help:      "Prompts delivered to the backend, by path.",
		}, []string{"via"}),
		Failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "messages_failed_total",
			Help:      "Live deliveries that failed.",
		}, []string{"retryable"}),
		DeliveryLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "delivery_duration_seconds",
			Help:      "Time from dispatch to backend reply.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		Drains: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "queue_drains_total",
			Help:      "Drains that delivered at least one queued prompt.",
		}),
		ToolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tools",
			Name:      "executions_total",
			Help:      "Tool calls by tool and outcome.",
		}, []string{"tool", "outcome"}),
		ToolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "tools",
			Name:      "duration_seconds",
			Help:      "Tool handler execution time.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 4, 8),
		}, []string{"tool"}),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "requests_total",
			Help:      "Completed chat requests by model.",
		}, []string{"model"}),
		RequestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "request_duration_seconds",
			Help:      "End-to-end chat request time including tools.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
	}

	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.BridgeState, m.QueueLength, m.MessagesQueued, m.MessagesEvicted,
		m.Delivered, m.Failed, m.DeliveryLatency, m.Drains,
		m.ToolCalls, m.ToolDuration,
		m.Requests, m.RequestLatency,
	)
	m.setState(bridge.StateChecking.String())
	return m
}

// Registry returns the registry backing the collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Run consumes bus events until ctx is done.
func (m *Metrics) Run(ctx context.Context, bus *events.Bus, logger *slog.Logger) {
	if bus == nil {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}
	dropped := prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "events",
		Name:      "dropped_total",
		Help:      "Events skipped because a subscriber's buffer was full.",
	}, func() float64 { return float64(bus.Dropped()) })
	if err := m.reg.Register(dropped); err != nil {
		logger.Debug("events dropped counter not registered", "error", err)
	} else {
		defer m.reg.Unregister(dropped)
	}

	ch := bus.Subscribe(256)
	defer bus.Unsubscribe(ch)

	logger.Debug("metrics collector started")
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			m.Observe(e)
		}
	}
}

// Observe updates the collectors for one event.
func (m *Metrics) Observe(e events.Event) {
	switch e.Source + "/" + e.Kind {
	case events.SourceBridge + "/" + events.KindStatusChange:
		if s, ok := e.Data["new"].(string); ok {
			m.setState(s)
		}
	case events.SourceBridge + "/" + events.KindMessageQueued:
		m.MessagesQueued.Inc()
		if evicted, _ := e.Data["evicted"].(bool); evicted {
			m.MessagesEvicted.Inc()
		}
		if n, ok := number(e.Data["queue_size"]); ok {
			m.QueueLength.Set(n)
		}
	case events.SourceBridge + "/" + events.KindMessageDelivered:
		via, _ := e.Data["via"].(string)
		m.Delivered.WithLabelValues(via).Inc()
		if ms, ok := number(e.Data["duration_ms"]); ok {
			m.DeliveryLatency.Observe(ms / 1000)
		}
	case events.SourceBridge + "/" + events.KindMessageFailed:
		retryable, _ := e.Data["retryable"].(bool)
		m.Failed.WithLabelValues(boolLabel(retryable)).Inc()
	case events.SourceBridge + "/" + events.KindQueueDrained:
		m.Drains.Inc()
		if n, ok := number(e.Data["remaining"]); ok {
			m.QueueLength.Set(n)
		}
	case events.SourceTools + "/" + events.KindToolDone:
		tool, _ := e.Data["tool"].(string)
		m.ToolCalls.WithLabelValues(tool, toolOutcome(e.Data)).Inc()
		if ms, ok := number(e.Data["duration_ms"]); ok {
			m.ToolDuration.WithLabelValues(tool).Observe(ms / 1000)
		}
	case events.SourceAgent + "/" + events.KindRequestComplete:
		model, _ := e.Data["model"].(string)
		m.Requests.WithLabelValues(model).Inc()
		if ms, ok := number(e.Data["elapsed_ms"]); ok {
			m.RequestLatency.Observe(ms / 1000)
		}
	}
}

func (m *Metrics) setState(active string) {
	for _, s := range []bridge.State{
		bridge.StateChecking,
		bridge.StateConnected,
		bridge.StateDisconnected,
		bridge.StateReconnecting,
	} {
		v := 0.0
		if s.String() == active {
			v = 1
		}
		m.BridgeState.WithLabelValues(s.String()).Set(v)
	}
}

func toolOutcome(data map[string]any) string {
	if pending, _ := data["needs_confirm"].(bool); pending {
		return "needs_confirm"
	}
	if ok, _ := data["ok"].(bool); ok {
		return "success"
	}
	return "failure"
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// number reads the numeric types event producers put in Data.
func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
