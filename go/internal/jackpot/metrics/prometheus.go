package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus implements Collector using Prometheus
type Prometheus struct {
	registry        *prometheus.Registry
	polls           *prometheus.CounterVec
	pollDuration    prometheus.Histogram
	refreshes       *prometheus.CounterVec
	refreshDuration *prometheus.HistogramVec
	notifications   *prometheus.CounterVec
	decodeSkips     *prometheus.CounterVec
	extensions      prometheus.Counter
	actions         *prometheus.CounterVec
	viewClients     prometheus.Gauge
}

// NewPrometheus registers the jackpot collectors on a fresh registry.
func NewPrometheus() *Prometheus {
	m := &Prometheus{
		registry: prometheus.NewRegistry(),
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jackpot",
			Name:      "polls_total",
			Help:      "Authoritative state polls by result.",
		}, []string{"result"}),
		pollDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "jackpot",
			Name:      "poll_duration_seconds",
			Help:      "Latency of the game-state read.",
			Buckets:   prometheus.DefBuckets,
		}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jackpot",
			Name:      "refreshes_total",
			Help:      "Ledger and payout refreshes by kind and status.",
		}, []string{"kind", "status"}),
		refreshDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "jackpot",
			Name:      "refresh_duration_seconds",
			Help:      "Latency of ledger and payout refreshes.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jackpot",
			Name:      "notifications_total",
			Help:      "Push notifications received by event.",
		}, []string{"event"}),
		decodeSkips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jackpot",
			Name:      "event_decode_skips_total",
			Help:      "Malformed events skipped during refresh.",
		}, []string{"event"}),
		extensions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "jackpot",
			Name:      "round_extensions_total",
			Help:      "Qualifying in-window deposits that extended the round cap.",
		}),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jackpot",
			Name:      "actions_total",
			Help:      "Dispatched actions by outcome.",
		}, []string{"action", "result"}),
		viewClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "jackpot",
			Name:      "view_clients",
			Help:      "Connected websocket view clients.",
		}),
	}
	m.registry.MustRegister(
		m.polls, m.pollDuration, m.refreshes, m.refreshDuration,
		m.notifications, m.decodeSkips, m.extensions, m.actions, m.viewClients,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Prometheus) RecordPoll(result string, duration time.Duration) {
	m.polls.WithLabelValues(result).Inc()
	if result != PollFailed {
		m.pollDuration.Observe(duration.Seconds())
	}
}

func (m *Prometheus) RecordRefresh(kind string, success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "failure"
	}
	m.refreshes.WithLabelValues(kind, status).Inc()
	m.refreshDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

func (m *Prometheus) RecordNotification(event string) {
	m.notifications.WithLabelValues(event).Inc()
}

func (m *Prometheus) RecordDecodeSkip(event string) {
	m.decodeSkips.WithLabelValues(event).Inc()
}

func (m *Prometheus) RecordExtension() {
	m.extensions.Inc()
}

func (m *Prometheus) RecordAction(action string, result string) {
	m.actions.WithLabelValues(action, result).Inc()
}

func (m *Prometheus) RecordViewClients(count int) {
	m.viewClients.Set(float64(count))
}
