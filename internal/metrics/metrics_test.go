package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"

	"geowatch/internal/model"
)

func counterValue(t *testing.T, m *Metrics, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, metric := range f.GetMetric() {
			if matchLabels(metric, labels) {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func matchLabels(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.GetLabel()) != len(labels) {
		return false
	}
	for _, lp := range metric.GetLabel() {
		if labels[lp.GetName()] != lp.GetValue() {
			return false
		}
	}
	return true
}

func TestMetrics_Recorder(t *testing.T) {
	m, err := New(false)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	m.TileCaptured(true)
	m.TileCaptured(true)
	m.TileCaptured(false)
	m.TileCompared(model.CaptureChanged)
	m.TileCompared(model.CaptureNoChange)
	m.TileCompared(model.CaptureNoChange)
	m.SessionFinished(model.SessionChangesDetected)
	m.NotificationSent(false)
	m.PassFinished(model.PassSuccess, 3*time.Second)
	m.PassSkipped()

	tests := []struct {
		name   string
		labels map[string]string
		want   float64
	}{
		{"geowatch_tiles_captured_total", map[string]string{"result": "success"}, 2},
		{"geowatch_tiles_captured_total", map[string]string{"result": "failure"}, 1},
		{"geowatch_tiles_compared_total", map[string]string{"status": "NO_CHANGE"}, 2},
		{"geowatch_tiles_compared_total", map[string]string{"status": "CHANGED"}, 1},
		{"geowatch_alert_sessions_total", map[string]string{"status": "COMPLETED_CHANGES_DETECTED"}, 1},
		{"geowatch_notifications_total", map[string]string{"result": "failure"}, 1},
		{"geowatch_monitor_passes_total", map[string]string{"status": "success"}, 1},
		{"geowatch_monitor_passes_skipped_total", nil, 1},
	}
	for _, tt := range tests {
		if got := counterValue(t, m, tt.name, tt.labels); got != tt.want {
			t.Errorf("%s%v = %v, want %v", tt.name, tt.labels, got, tt.want)
		}
	}
}

func TestMetrics_Handler(t *testing.T) {
	m, err := New(true)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	m.PassFinished(model.PassPartial, time.Second)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	for _, want := range []string{
		`geowatch_monitor_passes_total{status="partial"} 1`,
		"geowatch_monitor_pass_duration_seconds_count 1",
		"go_goroutines",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}

func TestNew_Independent(t *testing.T) {
	a, err := New(true)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	b, err := New(true)
	if err != nil {
		t.Fatalf("second New() error = %v", err)
	}
	a.PassSkipped()
	if got := counterValue(t, b, "geowatch_monitor_passes_skipped_total", nil); got != 0 {
		t.Errorf("registries share state: got %v", got)
	}
}
