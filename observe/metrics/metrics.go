// Package metrics exposes Prometheus collectors for the platform client,
// the tool session cache, chat runs and the HTTP surface.
package metrics

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/PipeOpsHQ/rube/observe"
	"github.com/PipeOpsHQ/rube/platform"
	"github.com/PipeOpsHQ/rube/toolsession"
)

const namespace = "rube"

type Metrics struct {
	httpDuration     *prometheus.HistogramVec
	platformDuration *prometheus.HistogramVec
	sessionProvision *prometheus.HistogramVec
	sessionCache     *prometheus.CounterVec
	runs             *prometheus.CounterVec
	generations      *prometheus.HistogramVec
	toolCalls        *prometheus.CounterVec
	toolDuration     *prometheus.HistogramVec
	connectionWaits  *prometheus.CounterVec
	webhookEvents    *prometheus.CounterVec
}

var (
	_ platform.Metrics    = (*Metrics)(nil)
	_ toolsession.Metrics = (*Metrics)(nil)
	_ observe.Sink        = (*Metrics)(nil)
)

// New registers every collector on registerer, or on the default registerer
// when nil.
func New(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registerer)

	return &Metrics{
		httpDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route", "method", "code"},
		),
		platformDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "platform_request_duration_seconds",
				Help:      "Duration of integration platform calls in seconds",
				Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"op", "code"},
		),
		sessionProvision: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "tool_session_provision_seconds",
				Help:      "Time spent provisioning tool router sessions",
				Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"outcome"},
		),
		sessionCache: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tool_session_cache_total",
				Help:      "Tool session cache lookups by result",
			},
			[]string{"result"},
		),
		runs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "chat_runs_total",
				Help:      "Finished chat runs by status",
			},
			[]string{"provider", "status"},
		),
		generations: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "chat_generation_seconds",
				Help:      "Latency of streamed model generations",
				Buckets:   []float64{.25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"provider"},
		),
		toolCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tool_calls_total",
				Help:      "Tool calls executed during chat runs",
			},
			[]string{"status"},
		),
		toolDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "tool_call_duration_seconds",
				Help:      "Duration of tool calls",
				Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"status"},
		),
		connectionWaits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "connection_waits_total",
				Help:      "Connection waits by final status",
			},
			[]string{"status"},
		),
		webhookEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "webhook_events_total",
				Help:      "Webhook deliveries by outcome",
			},
			[]string{"outcome"},
		),
	}
}

func (m *Metrics) ObserveHTTP(route, method string, code int, d time.Duration) {
	m.httpDuration.WithLabelValues(route, method, strconv.Itoa(code)).Observe(d.Seconds())
}

// ObservePlatformCall records code 0 for transport failures.
func (m *Metrics) ObservePlatformCall(op string, code int, d time.Duration) {
	m.platformDuration.WithLabelValues(op, strconv.Itoa(code)).Observe(d.Seconds())
}

func (m *Metrics) ObserveSessionProvision(outcome string, d time.Duration) {
	m.sessionProvision.WithLabelValues(outcome).Observe(d.Seconds())
}

func (m *Metrics) ObserveSessionCache(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.sessionCache.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveConnectionWait(status platform.ConnectionStatus) {
	m.connectionWaits.WithLabelValues(string(status)).Inc()
}

func (m *Metrics) ObserveWebhook(outcome string) {
	m.webhookEvents.WithLabelValues(outcome).Inc()
}

// Emit counts finished runs, generations and tool calls from the agent
// event stream.
func (m *Metrics) Emit(_ context.Context, event observe.Event) error {
	if event.Status == observe.StatusStarted {
		return nil
	}
	seconds := (time.Duration(event.DurationMs) * time.Millisecond).Seconds()
	switch event.Kind {
	case observe.KindRun:
		m.runs.WithLabelValues(event.Provider, string(event.Status)).Inc()
	case observe.KindProvider:
		m.generations.WithLabelValues(event.Provider).Observe(seconds)
	case observe.KindTool:
		m.toolCalls.WithLabelValues(string(event.Status)).Inc()
		m.toolDuration.WithLabelValues(string(event.Status)).Observe(seconds)
	}
	return nil
}
