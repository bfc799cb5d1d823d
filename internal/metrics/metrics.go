// Package metrics exposes pipeline counters to Prometheus.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"geowatch/internal/model"
	"geowatch/internal/monitor"
)

const namespace = "geowatch"

// Metrics implements monitor.Recorder on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	tilesCaptured     *prometheus.CounterVec
	tilesCompared     *prometheus.CounterVec
	sessionsFinished  *prometheus.CounterVec
	notifications     *prometheus.CounterVec
	passesFinished    *prometheus.CounterVec
	passesSkipped     prometheus.Counter
	passDuration      prometheus.Histogram
	lastPassTimestamp prometheus.Gauge
}

var _ monitor.Recorder = (*Metrics)(nil)

// New registers every collector on a fresh registry. Go runtime and process
// collectors are included when withRuntime is set.
func New(withRuntime bool) (*Metrics, error) {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		tilesCaptured: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tiles_captured_total",
			Help:      "Tile image fetches by result.",
		}, []string{"result"}),
		tilesCompared: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tiles_compared_total",
			Help:      "Tile comparisons by resulting capture status.",
		}, []string{"status"}),
		sessionsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alert_sessions_total",
			Help:      "Finished alert sessions by final status.",
		}, []string{"status"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Alert notification attempts by result.",
		}, []string{"result"}),
		passesFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "monitor_passes_total",
			Help:      "Completed monitoring passes by status.",
		}, []string{"status"}),
		passesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "monitor_passes_skipped_total",
			Help:      "Scheduled passes skipped because another pass was running.",
		}),
		passDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "monitor_pass_duration_seconds",
			Help:      "Wall time of monitoring passes.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		lastPassTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "monitor_last_pass_timestamp_seconds",
			Help:      "Unix time the last monitoring pass finished.",
		}),
	}

	cs := []prometheus.Collector{
		m.tilesCaptured,
		m.tilesCompared,
		m.sessionsFinished,
		m.notifications,
		m.passesFinished,
		m.passesSkipped,
		m.passDuration,
		m.lastPassTimestamp,
	}
	if withRuntime {
		cs = append(cs,
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	for _, c := range cs {
		if err := m.registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register metric: %w", err)
		}
	}
	return m, nil
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) TileCaptured(ok bool) {
	m.tilesCaptured.WithLabelValues(result(ok)).Inc()
}

func (m *Metrics) TileCompared(status model.CaptureStatus) {
	m.tilesCompared.WithLabelValues(string(status)).Inc()
}

func (m *Metrics) SessionFinished(status model.SessionStatus) {
	m.sessionsFinished.WithLabelValues(string(status)).Inc()
}

func (m *Metrics) NotificationSent(ok bool) {
	m.notifications.WithLabelValues(result(ok)).Inc()
}

func (m *Metrics) PassFinished(status model.PassStatus, elapsed time.Duration) {
	m.passesFinished.WithLabelValues(string(status)).Inc()
	m.passDuration.Observe(elapsed.Seconds())
	m.lastPassTimestamp.SetToCurrentTime()
}

func (m *Metrics) PassSkipped() {
	m.passesSkipped.Inc()
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
