package metrics_test

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"courier/internal/metrics"
)

func TestHandlerExposesCounters(t *testing.T) {
	m := metrics.New()
	m.Attempt()
	m.Attempt()
	m.UnitFinished("success", 2048, 50*time.Millisecond)
	m.UnitFinished("failure", 10, time.Second)
	m.Forwarded("ok")
	m.ReportFailed()
	m.FileFinished("sent")
	m.SetQueueDepth("dispatch", 3)
	m.LimiterWaited(time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	text := string(body)

	for _, want := range []string{
		`courier_send_attempts_total 2`,
		`courier_units_total{result="success"} 1`,
		`courier_units_total{result="failure"} 1`,
		`courier_sent_bytes_total 2048`,
		`courier_forwards_total{outcome="ok"} 1`,
		`courier_report_errors_total 1`,
		`courier_files_total{status="sent"} 1`,
		`courier_queue_depth{lane="dispatch"} 3`,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *metrics.Metrics
	m.Attempt()
	m.UnitFinished("success", 1, time.Second)
	m.SetQueueDepth("process", 1)
	if m.Registry() != nil {
		t.Fatal("nil metrics should have no registry")
	}
}
