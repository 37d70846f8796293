package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func newTestSink(t *testing.T) (*PrometheusSink, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	sink := NewPrometheusSink(reg)
	return sink, reg
}

func getCounterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() == name {
			for _, m := range mf.GetMetric() {
				if m.GetCounter() != nil {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func getGaugeValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() == name {
			for _, m := range mf.GetMetric() {
				if m.GetGauge() != nil {
					return m.GetGauge().GetValue()
				}
			}
		}
	}
	return 0
}

func getCounterVecValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() == name {
			for _, m := range mf.GetMetric() {
				if matchLabels(m.GetLabel(), labels) {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func matchLabels(pairs []*dto.LabelPair, want map[string]string) bool {
	if len(pairs) != len(want) {
		return false
	}
	for _, p := range pairs {
		if v, ok := want[p.GetName()]; !ok || v != p.GetValue() {
			return false
		}
	}
	return true
}

func TestPrometheusSink_Registration(t *testing.T) {
	// Should not panic or error with a fresh registry.
	reg := prometheus.NewRegistry()
	sink := NewPrometheusSink(reg)
	if sink == nil {
		t.Fatal("NewPrometheusSink returned nil")
	}
}

func TestPrometheusSink_BatchStarted(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.BatchStarted("ready")
	sink.BatchStarted("ready")
	sink.BatchStarted("sweep")

	readyVal := getCounterVecValue(t, reg, "postpilot_engine_batches_total",
		map[string]string{"trigger": "ready"})
	if readyVal != 2 {
		t.Errorf("batches_total{trigger=ready} = %v, want 2", readyVal)
	}

	sweepVal := getCounterVecValue(t, reg, "postpilot_engine_batches_total",
		map[string]string{"trigger": "sweep"})
	if sweepVal != 1 {
		t.Errorf("batches_total{trigger=sweep} = %v, want 1", sweepVal)
	}
}

func TestPrometheusSink_BatchCompleted_WithError(t *testing.T) {
	sink, reg := newTestSink(t)

	// No error
	sink.BatchCompleted("ready", 100*time.Millisecond, 3, 1, nil)
	errCount := getCounterVecValue(t, reg, "postpilot_engine_batch_errors_total",
		map[string]string{"trigger": "ready"})
	if errCount != 0 {
		t.Errorf("batch_errors_total = %v after success, want 0", errCount)
	}

	// With error
	sink.BatchCompleted("ready", 100*time.Millisecond, 0, 0, errors.New("db error"))
	errCount = getCounterVecValue(t, reg, "postpilot_engine_batch_errors_total",
		map[string]string{"trigger": "ready"})
	if errCount != 1 {
		t.Errorf("batch_errors_total = %v after error, want 1", errCount)
	}

	scheduled := getCounterVecValue(t, reg, "postpilot_engine_items_scheduled_total",
		map[string]string{"trigger": "ready"})
	if scheduled != 3 {
		t.Errorf("items_scheduled_total = %v, want 3", scheduled)
	}

	skipped := getCounterVecValue(t, reg, "postpilot_engine_items_skipped_total",
		map[string]string{"trigger": "ready"})
	if skipped != 1 {
		t.Errorf("items_skipped_total = %v, want 1", skipped)
	}
}

func TestPrometheusSink_PublishAttemptLabels(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.PublishAttemptCompleted("2xx", 100*time.Millisecond)
	sink.PublishAttemptCompleted("5xx", 200*time.Millisecond)

	val1 := getCounterVecValue(t, reg, "postpilot_publisher_attempts_total",
		map[string]string{"status_class": "2xx"})
	if val1 != 1 {
		t.Errorf("status_class=2xx = %v, want 1", val1)
	}

	val2 := getCounterVecValue(t, reg, "postpilot_publisher_attempts_total",
		map[string]string{"status_class": "5xx"})
	if val2 != 1 {
		t.Errorf("status_class=5xx = %v, want 1", val2)
	}
}

func TestPrometheusSink_PublishOutcome(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.PublishOutcome(OutcomePublished)
	sink.PublishOutcome(OutcomeFailed)
	sink.PublishOutcome(OutcomePublished)

	publishedVal := getCounterVecValue(t, reg, "postpilot_publisher_outcomes_total",
		map[string]string{"outcome": "published"})
	if publishedVal != 2 {
		t.Errorf("outcome=published = %v, want 2", publishedVal)
	}

	failedVal := getCounterVecValue(t, reg, "postpilot_publisher_outcomes_total",
		map[string]string{"outcome": "failed"})
	if failedVal != 1 {
		t.Errorf("outcome=failed = %v, want 1", failedVal)
	}
}

func TestPrometheusSink_SweepMetrics(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.SweepCompleted(time.Second, 7, 12, nil)
	sink.SweepCompleted(time.Second, 4, 0, errors.New("list failed"))

	cycles := getCounterValue(t, reg, "postpilot_sweep_cycles_total")
	if cycles != 2 {
		t.Errorf("sweep_cycles_total = %v, want 2", cycles)
	}

	errCount := getCounterValue(t, reg, "postpilot_sweep_cycle_errors_total")
	if errCount != 1 {
		t.Errorf("sweep_cycle_errors_total = %v, want 1", errCount)
	}

	tenants := getGaugeValue(t, reg, "postpilot_sweep_pending_tenants")
	if tenants != 4 {
		t.Errorf("sweep_pending_tenants = %v, want 4", tenants)
	}
}

func TestPrometheusSink_BufferMetrics(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.BufferCapacitySet(100)
	sink.BufferSizeUpdate(42)
	sink.DueBacklogUpdate(9)

	capVal := getGaugeValue(t, reg, "postpilot_triggerbus_buffer_capacity")
	if capVal != 100 {
		t.Errorf("buffer_capacity = %v, want 100", capVal)
	}

	sizeVal := getGaugeValue(t, reg, "postpilot_triggerbus_buffer_size")
	if sizeVal != 42 {
		t.Errorf("buffer_size = %v, want 42", sizeVal)
	}

	backlogVal := getGaugeValue(t, reg, "postpilot_publisher_due_backlog")
	if backlogVal != 9 {
		t.Errorf("due_backlog = %v, want 9", backlogVal)
	}
}

func TestPrometheusSink_DuplicateRegistration_NoPanic(t *testing.T) {
	// Registering metrics twice with the same registry should not panic.
	// The second registration will fail, but should be handled gracefully.
	reg := prometheus.NewRegistry()

	sink1 := NewPrometheusSink(reg)
	if sink1 == nil {
		t.Fatal("first NewPrometheusSink returned nil")
	}

	// Second registration will fail for all metrics, but should not panic.
	sink2 := NewPrometheusSink(reg)
	if sink2 == nil {
		t.Fatal("second NewPrometheusSink returned nil")
	}
}

// Verify PrometheusSink implements Sink interface.
var _ Sink = (*PrometheusSink)(nil)
