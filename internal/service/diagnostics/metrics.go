package diagnostics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics turns events into Prometheus series on a private registry.
type Metrics struct {
	reg           *prometheus.Registry
	Events        *prometheus.CounterVec
	CycleDuration prometheus.Histogram
	CachedOrders  prometheus.Gauge
	ReadyOrders   prometheus.Gauge
	LookupVersion prometheus.Gauge
	Omitted       prometheus.Counter
	Evicted       prometheus.Counter
	LastSuccess   prometheus.Gauge
}

func NewMetrics() *Metrics {
	r := prometheus.NewRegistry()
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orderboard_diagnostic_events_total",
		Help: "Diagnostics events by type and level.",
	}, []string{"type", "level"})
	duration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "orderboard_refresh_duration_seconds",
		Buckets: prometheus.DefBuckets,
	})
	cached := prometheus.NewGauge(prometheus.GaugeOpts{Name: "orderboard_cached_orders"})
	ready := prometheus.NewGauge(prometheus.GaugeOpts{Name: "orderboard_ready_orders"})
	version := prometheus.NewGauge(prometheus.GaugeOpts{Name: "orderboard_lookup_version"})
	omitted := prometheus.NewCounter(prometheus.CounterOpts{Name: "orderboard_omitted_orders_total"})
	evicted := prometheus.NewCounter(prometheus.CounterOpts{Name: "orderboard_evicted_orders_total"})
	lastSuccess := prometheus.NewGauge(prometheus.GaugeOpts{Name: "orderboard_last_success_timestamp_seconds"})

	r.MustRegister(events, duration, cached, ready, version, omitted, evicted, lastSuccess)
	return &Metrics{
		reg:           r,
		Events:        events,
		CycleDuration: duration,
		CachedOrders:  cached,
		ReadyOrders:   ready,
		LookupVersion: version,
		Omitted:       omitted,
		Evicted:       evicted,
		LastSuccess:   lastSuccess,
	}
}

func (m *Metrics) Emit(_ context.Context, event Event) {
	m.Events.WithLabelValues(event.Type, string(event.Level)).Inc()
	switch event.Type {
	case TypeRefreshSuccess:
		if seconds, ok := number(event.Payload["duration_seconds"]); ok {
			m.CycleDuration.Observe(seconds)
		}
		if n, ok := number(event.Payload["orders"]); ok {
			m.CachedOrders.Set(n)
		}
		if n, ok := number(event.Payload["ready"]); ok {
			m.ReadyOrders.Set(n)
		}
		if n, ok := number(event.Payload["lookup_version"]); ok {
			m.LookupVersion.Set(n)
		}
		m.LastSuccess.Set(float64(event.At.Unix()))
	case TypeOmissionDetected:
		if n, ok := number(event.Payload["count"]); ok {
			m.Omitted.Add(n)
		}
	case TypeOrdersEvicted:
		if n, ok := number(event.Payload["count"]); ok {
			m.Evicted.Add(n)
		}
	}
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

func number(value any) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case float64:
		return v, true
	default:
		return 0, false
	}
}
