package telemetry

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestMetrics(t *testing.T) *Metrics {
	t.Helper()
	cfg := DefaultConfig().Metrics
	m, err := NewMetrics(cfg)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	return m
}

func TestMetrics_Computation(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordComputationStarted(7)
	if got := testutil.ToFloat64(m.activeComputations); got != 1 {
		t.Errorf("Expected 1 active computation, got %v", got)
	}
	if got := testutil.ToFloat64(m.graphNodes); got != 7 {
		t.Errorf("Expected graph size 7, got %v", got)
	}

	m.RecordComputationCompleted("succeeded", 20*time.Millisecond)
	if got := testutil.ToFloat64(m.activeComputations); got != 0 {
		t.Errorf("Expected 0 active computations, got %v", got)
	}
	if got := testutil.ToFloat64(m.computationsCompleted.WithLabelValues("succeeded")); got != 1 {
		t.Errorf("Expected 1 completed computation, got %v", got)
	}
	if got := testutil.CollectAndCount(m.computationDuration); got != 1 {
		t.Errorf("Expected 1 duration series, got %d", got)
	}
}

func TestMetrics_NodesAndErrors(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordNode("function", "succeeded", time.Millisecond)
	m.RecordNode("function", "succeeded", time.Millisecond)
	m.RecordNode("aggregation", "failed", time.Millisecond)
	m.RecordError("evaluation", "FUNCTION_EVALUATION")
	m.RecordError("data", "")

	if got := testutil.ToFloat64(m.nodesEvaluated.WithLabelValues("function", "succeeded")); got != 2 {
		t.Errorf("Expected 2 succeeded functions, got %v", got)
	}
	if got := testutil.ToFloat64(m.nodesEvaluated.WithLabelValues("aggregation", "failed")); got != 1 {
		t.Errorf("Expected 1 failed aggregation, got %v", got)
	}
	if got := testutil.ToFloat64(m.errorsByClass.WithLabelValues("data")); got != 1 {
		t.Errorf("Expected 1 data error, got %v", got)
	}
	if got := testutil.CollectAndCount(m.errorsByCode); got != 1 {
		t.Errorf("Expected only the coded error to be counted by code, got %d series", got)
	}
}

func TestMetrics_Disabled(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: false})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	// every recorder is a no-op
	m.RecordComputationStarted(1)
	m.RecordComputationCompleted("failed", time.Second)
	m.RecordNode("function", "failed", time.Second)
	m.RecordError("data", "MISSING_INPUT")

	if m.Registry() != nil {
		t.Error("Expected nil registry when disabled")
	}
	if m.StartMetricsServer(nil) != nil {
		t.Error("Expected no server when disabled")
	}
}

func TestMetrics_Handler(t *testing.T) {
	m := newTestMetrics(t)
	m.RecordNode("function", "succeeded", time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "taxgraph_nodes_evaluated_total") {
		t.Errorf("Expected node counter in exposition, got:\n%s", body)
	}
}
