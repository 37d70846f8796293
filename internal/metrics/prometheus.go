package metrics

import (
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink implements Sink using the Prometheus client library.
// All methods are non-blocking and fire-and-forget.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	// Engine metrics
	batchesTotal     *prometheus.CounterVec
	batchErrorsTotal *prometheus.CounterVec
	lockBusyTotal    *prometheus.CounterVec
	itemsScheduled   *prometheus.CounterVec
	itemsSkipped     *prometheus.CounterVec
	batchDuration    prometheus.Histogram

	// Sweep metrics
	sweepsTotal      prometheus.Counter
	sweepErrorsTotal prometheus.Counter
	sweepDuration    prometheus.Histogram
	sweepTenants     prometheus.Gauge

	// Publisher metrics
	publishAttemptsTotal *prometheus.CounterVec
	publishOutcomesTotal *prometheus.CounterVec
	publishDuration      prometheus.Histogram
	dueBacklog           prometheus.Gauge

	// Trigger bus metrics
	bufferSize      prometheus.Gauge
	bufferCapacity  prometheus.Gauge
	emitErrorsTotal prometheus.Counter
}

// NewPrometheusSink creates a new Prometheus metrics sink.
// Metrics that fail to register keep working locally; the failure is logged.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{}
	s.initEngineMetrics(reg)
	s.initSweepMetrics(reg)
	s.initPublisherMetrics(reg)
	s.initBusMetrics(reg)
	return s
}

func (s *PrometheusSink) initEngineMetrics(reg prometheus.Registerer) {
	s.batchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "postpilot_engine_batches_total",
		Help: "Total number of scheduling batches started.",
	}, []string{"trigger"})
	s.batchErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "postpilot_engine_batch_errors_total",
		Help: "Total number of scheduling batches that ended in error.",
	}, []string{"trigger"})
	s.lockBusyTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "postpilot_engine_lock_busy_total",
		Help: "Total number of batches abandoned because the tenant lock was busy.",
	}, []string{"trigger"})
	s.itemsScheduled = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "postpilot_engine_items_scheduled_total",
		Help: "Total number of items assigned a publish time.",
	}, []string{"trigger"})
	s.itemsSkipped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "postpilot_engine_items_skipped_total",
		Help: "Total number of ready items skipped because a record already existed.",
	}, []string{"trigger"})
	s.batchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "postpilot_engine_batch_duration_seconds",
		Help:    "Duration of each scheduling batch in seconds.",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
	})

	s.register(reg, s.batchesTotal, "postpilot_engine_batches_total")
	s.register(reg, s.batchErrorsTotal, "postpilot_engine_batch_errors_total")
	s.register(reg, s.lockBusyTotal, "postpilot_engine_lock_busy_total")
	s.register(reg, s.itemsScheduled, "postpilot_engine_items_scheduled_total")
	s.register(reg, s.itemsSkipped, "postpilot_engine_items_skipped_total")
	s.register(reg, s.batchDuration, "postpilot_engine_batch_duration_seconds")
}

func (s *PrometheusSink) initSweepMetrics(reg prometheus.Registerer) {
	s.sweepsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "postpilot_sweep_cycles_total",
		Help: "Total number of sweep cycles completed.",
	})
	s.sweepErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "postpilot_sweep_cycle_errors_total",
		Help: "Total number of sweep cycles that failed to list pending tenants.",
	})
	s.sweepDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "postpilot_sweep_cycle_duration_seconds",
		Help:    "Duration of each sweep cycle in seconds.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
	})
	s.sweepTenants = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "postpilot_sweep_pending_tenants",
		Help: "Number of tenants with unscheduled ready items at the last sweep.",
	})

	s.register(reg, s.sweepsTotal, "postpilot_sweep_cycles_total")
	s.register(reg, s.sweepErrorsTotal, "postpilot_sweep_cycle_errors_total")
	s.register(reg, s.sweepDuration, "postpilot_sweep_cycle_duration_seconds")
	s.register(reg, s.sweepTenants, "postpilot_sweep_pending_tenants")
}

func (s *PrometheusSink) initPublisherMetrics(reg prometheus.Registerer) {
	s.publishAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "postpilot_publisher_attempts_total",
		Help: "Total number of publish attempts.",
	}, []string{"status_class"})
	s.publishOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "postpilot_publisher_outcomes_total",
		Help: "Total number of terminal publish outcomes.",
	}, []string{"outcome"})
	s.publishDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "postpilot_publisher_request_duration_seconds",
		Help:    "Platform request latency in seconds.",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})
	s.dueBacklog = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "postpilot_publisher_due_backlog",
		Help: "Number of due records found at the last poll.",
	})

	s.register(reg, s.publishAttemptsTotal, "postpilot_publisher_attempts_total")
	s.register(reg, s.publishOutcomesTotal, "postpilot_publisher_outcomes_total")
	s.register(reg, s.publishDuration, "postpilot_publisher_request_duration_seconds")
	s.register(reg, s.dueBacklog, "postpilot_publisher_due_backlog")
}

func (s *PrometheusSink) initBusMetrics(reg prometheus.Registerer) {
	s.bufferSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "postpilot_triggerbus_buffer_size",
		Help: "Current number of events in the trigger bus buffer.",
	})
	s.bufferCapacity = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "postpilot_triggerbus_buffer_capacity",
		Help: "Configured trigger bus buffer capacity.",
	})
	s.emitErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "postpilot_triggerbus_emit_errors_total",
		Help: "Total number of emit errors (buffer full).",
	})

	s.register(reg, s.bufferSize, "postpilot_triggerbus_buffer_size")
	s.register(reg, s.bufferCapacity, "postpilot_triggerbus_buffer_capacity")
	s.register(reg, s.emitErrorsTotal, "postpilot_triggerbus_emit_errors_total")
}

// register attempts to register a collector, logging any errors without propagating them.
func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		log.Printf("metrics: failed to register %s: %v", name, err)
	}
}

// Engine metrics implementation

func (s *PrometheusSink) BatchStarted(trigger string) {
	s.batchesTotal.WithLabelValues(trigger).Inc()
}

func (s *PrometheusSink) BatchCompleted(trigger string, duration time.Duration, scheduled, skipped int, err error) {
	s.batchDuration.Observe(duration.Seconds())
	s.itemsScheduled.WithLabelValues(trigger).Add(float64(scheduled))
	s.itemsSkipped.WithLabelValues(trigger).Add(float64(skipped))
	if err != nil {
		s.batchErrorsTotal.WithLabelValues(trigger).Inc()
	}
}

func (s *PrometheusSink) LockBusy(trigger string) {
	s.lockBusyTotal.WithLabelValues(trigger).Inc()
}

// Sweep metrics implementation

func (s *PrometheusSink) SweepCompleted(duration time.Duration, tenants, scheduled int, err error) {
	s.sweepsTotal.Inc()
	s.sweepDuration.Observe(duration.Seconds())
	s.sweepTenants.Set(float64(tenants))
	if err != nil {
		s.sweepErrorsTotal.Inc()
	}
}

// Publisher metrics implementation

func (s *PrometheusSink) PublishAttemptCompleted(statusClass string, duration time.Duration) {
	s.publishAttemptsTotal.WithLabelValues(statusClass).Inc()
	s.publishDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) PublishOutcome(outcome string) {
	s.publishOutcomesTotal.WithLabelValues(outcome).Inc()
}

func (s *PrometheusSink) DueBacklogUpdate(count int) {
	s.dueBacklog.Set(float64(count))
}

// Trigger bus metrics implementation

func (s *PrometheusSink) BufferSizeUpdate(size int) {
	s.bufferSize.Set(float64(size))
}

func (s *PrometheusSink) BufferCapacitySet(capacity int) {
	s.bufferCapacity.Set(float64(capacity))
}

func (s *PrometheusSink) EmitError() {
	s.emitErrorsTotal.Inc()
}
