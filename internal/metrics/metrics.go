// Package metrics provides Prometheus metrics for the backup file store.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Backup actions recorded by RecordBackup.
const (
	BackupCreated          = "created"
	BackupRefreshed        = "refreshed"
	BackupSkippedSuffix    = "skipped_suffix"
	BackupSkippedExcluded  = "skipped_excluded"
	BackupFailed           = "failed"
)

// Write results recorded by RecordWrite.
const (
	WriteOK       = "ok"
	WriteTooLarge = "too_large"
	WriteAborted  = "backup_aborted"
	WriteError    = "error"
)

// Metrics tracks wbkfs Prometheus metrics.
//
// All metrics use the wbkfs_ prefix. A nil *Metrics is a valid no-op
// collector.
type Metrics struct {
	// WritesTotal counts file writes by result
	WritesTotal *prometheus.CounterVec

	// BytesWritten counts bytes accepted by successful writes
	BytesWritten prometheus.Counter

	// BackupsTotal counts backup protocol outcomes by action
	BackupsTotal *prometheus.CounterVec

	// OperationDuration tracks VFS operation latency
	OperationDuration *prometheus.HistogramVec

	// Nodes tracks live nodes, root included
	Nodes prometheus.Gauge

	// BuffersInUse tracks allocated content buffers
	BuffersInUse prometheus.Gauge
}

// NewMetrics creates metrics and registers them with reg.
// Panics if registration fails (expected during initialization only).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		WritesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wbkfs_writes_total",
				Help: "Total file writes by result",
			},
			[]string{"result"},
		),
		BytesWritten: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "wbkfs_bytes_written_total",
				Help: "Total bytes accepted by file writes",
			},
		),
		BackupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wbkfs_backups_total",
				Help: "Backup protocol outcomes by action",
			},
			[]string{"action"},
		),
		OperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wbkfs_operation_duration_seconds",
				Help:    "VFS operation duration in seconds",
				Buckets: prometheus.ExponentialBuckets(0.00001, 4, 8),
			},
			[]string{"operation"},
		),
		Nodes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "wbkfs_nodes",
				Help: "Current number of live nodes",
			},
		),
		BuffersInUse: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "wbkfs_buffers_in_use",
				Help: "Current number of allocated content buffers",
			},
		),
	}

	reg.MustRegister(
		m.WritesTotal,
		m.BytesWritten,
		m.BackupsTotal,
		m.OperationDuration,
		m.Nodes,
		m.BuffersInUse,
	)

	return m
}

// RecordWrite records a finished write with its result and accepted bytes.
func (m *Metrics) RecordWrite(result string, bytes int) {
	if m == nil {
		return
	}
	m.WritesTotal.WithLabelValues(result).Inc()
	if bytes > 0 {
		m.BytesWritten.Add(float64(bytes))
	}
}

// RecordBackup records one backup protocol outcome.
func (m *Metrics) RecordBackup(action string) {
	if m == nil {
		return
	}
	m.BackupsTotal.WithLabelValues(action).Inc()
}

// ObserveOperation records the duration of a VFS operation.
func (m *Metrics) ObserveOperation(operation string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.OperationDuration.WithLabelValues(operation).Observe(durationSeconds)
}

// SetUsage updates the node and buffer gauges.
func (m *Metrics) SetUsage(nodes, buffers int) {
	if m == nil {
		return
	}
	m.Nodes.Set(float64(nodes))
	m.BuffersInUse.Set(float64(buffers))
}

// NullMetrics returns nil, which acts as a no-op metrics collector.
func NullMetrics() *Metrics {
	return nil
}
