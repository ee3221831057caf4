// Package metrics defines the Prometheus metrics of castplan runs.
//
// All methods are safe on a nil *Metrics, so components accept an optional
// instance without guarding every call.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for castplan.
type Metrics struct {
	// Run metrics
	Runs        *prometheus.CounterVec
	RunDuration *prometheus.HistogramVec
	Planned     prometheus.Histogram

	// Write metrics
	Writes         *prometheus.CounterVec
	BatchFallbacks *prometheus.CounterVec
	Rechecks       *prometheus.CounterVec

	// Collaborator metrics
	JournalFailures *prometheus.CounterVec
	LockAcquisition *prometheus.CounterVec
}

// New creates a Metrics instance registered with registry.
func New(registry prometheus.Registerer) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		Runs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "castplan_runs_total",
				Help: "Total number of allocation runs by outcome",
			},
			[]string{"outcome"},
		),
		RunDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "castplan_run_duration_seconds",
				Help:    "Allocation run duration in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"outcome"},
		),
		Planned: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "castplan_planned_allocations",
				Help:    "Number of planned allocations per run",
				Buckets: prometheus.ExponentialBuckets(2, 2, 10),
			},
		),
		Writes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "castplan_allocation_writes_total",
				Help: "Total number of allocation record writes by operation and result",
			},
			[]string{"op", "result"},
		),
		BatchFallbacks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "castplan_batch_fallbacks_total",
				Help: "Total number of failed batches retried record by record",
			},
			[]string{"op"},
		),
		Rechecks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "castplan_recheck_total",
				Help: "Planned creates resolved by the pre-create re-check",
			},
			[]string{"outcome"},
		),
		JournalFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "castplan_journal_failures_total",
				Help: "Audit and error entries that could not be written",
			},
			[]string{"kind"},
		),
		LockAcquisition: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "castplan_lock_acquisitions_total",
				Help: "Advisory group lock attempts by result",
			},
			[]string{"result"},
		),
	}
}

// NewRegistry creates a registry with castplan metrics registered.
func NewRegistry() (*prometheus.Registry, *Metrics) {
	reg := prometheus.NewRegistry()
	return reg, New(reg)
}

// RecordRun records one finished run.
func (m *Metrics) RecordRun(outcome string, d time.Duration, planned int) {
	if m == nil {
		return
	}
	m.Runs.WithLabelValues(outcome).Inc()
	m.RunDuration.WithLabelValues(outcome).Observe(d.Seconds())
	if planned > 0 {
		m.Planned.Observe(float64(planned))
	}
}

// RecordWrites counts n writes of op with result "ok" or "failed".
func (m *Metrics) RecordWrites(op, result string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.Writes.WithLabelValues(op, result).Add(float64(n))
}

// RecordFallback counts a batch of op retried record by record.
func (m *Metrics) RecordFallback(op string) {
	if m == nil {
		return
	}
	m.BatchFallbacks.WithLabelValues(op).Inc()
}

// RecordRecheck counts n creates resolved as outcome ("redirected",
// "dropped" or "failed").
func (m *Metrics) RecordRecheck(outcome string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.Rechecks.WithLabelValues(outcome).Add(float64(n))
}

// RecordJournalFailure counts an audit or error entry that was lost.
func (m *Metrics) RecordJournalFailure(kind string) {
	if m == nil {
		return
	}
	m.JournalFailures.WithLabelValues(kind).Inc()
}

// RecordLock counts a lock attempt with result "acquired", "busy" or "error".
func (m *Metrics) RecordLock(result string) {
	if m == nil {
		return
	}
	m.LockAcquisition.WithLabelValues(result).Inc()
}

// WriteTextfile writes every metric in g to path in the Prometheus text
// format, for pickup by a node exporter textfile collector.
func WriteTextfile(path string, g prometheus.Gatherer) error {
	if err := prometheus.WriteToTextfile(path, g); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
