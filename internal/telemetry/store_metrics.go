package internaltelemetry

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Attribute keys shared by the store instruments.
var (
	PhaseKey   = attribute.Key("phase")
	OutcomeKey = attribute.Key("outcome")
)

// StoreMetrics holds all the metric instruments for the embedded store.
type StoreMetrics struct {
	WALAppendsCounter         metric.Int64Counter
	WALSyncsCounter           metric.Int64Counter
	WALAppendLatencyHistogram metric.Int64Histogram

	TxnBegunCounter         metric.Int64Counter
	TxnCommittedCounter     metric.Int64Counter
	TxnAbortedCounter       metric.Int64Counter
	ActiveTxnsUpDownCounter metric.Int64UpDownCounter

	CheckpointCyclesCounter  metric.Int64Counter
	PhaseTransitionsCounter  metric.Int64Counter
	BarrierWaitHistogram     metric.Int64Histogram
	CapturedRecordsCounter   metric.Int64Counter
	CaptureDurationHistogram metric.Int64Histogram
}

// NewStoreMetrics creates and registers all the metrics for the store.
func NewStoreMetrics(meter metric.Meter) (*StoreMetrics, error) {
	m := &StoreMetrics{}
	var err error

	if m.WALAppendsCounter, err = meter.Int64Counter(
		"gojokv.wal.appended_entries_total",
		metric.WithDescription("Total number of entries appended to the write-ahead log."),
		metric.WithUnit("1"),
	); err != nil {
		return nil, err
	}
	if m.WALSyncsCounter, err = meter.Int64Counter(
		"gojokv.wal.syncs_total",
		metric.WithDescription("Total number of fsync calls on the write-ahead log."),
		metric.WithUnit("1"),
	); err != nil {
		return nil, err
	}
	if m.WALAppendLatencyHistogram, err = meter.Int64Histogram(
		"gojokv.wal.append_duration",
		metric.WithDescription("Latency of a durable write-ahead log append."),
		metric.WithUnit("us"),
	); err != nil {
		return nil, err
	}

	if m.TxnBegunCounter, err = meter.Int64Counter(
		"gojokv.txn.begun_total",
		metric.WithDescription("Total number of transactions started."),
		metric.WithUnit("1"),
	); err != nil {
		return nil, err
	}
	if m.TxnCommittedCounter, err = meter.Int64Counter(
		"gojokv.txn.committed_total",
		metric.WithDescription("Total number of transactions committed."),
		metric.WithUnit("1"),
	); err != nil {
		return nil, err
	}
	if m.TxnAbortedCounter, err = meter.Int64Counter(
		"gojokv.txn.aborted_total",
		metric.WithDescription("Total number of transactions aborted."),
		metric.WithUnit("1"),
	); err != nil {
		return nil, err
	}
	if m.ActiveTxnsUpDownCounter, err = meter.Int64UpDownCounter(
		"gojokv.txn.active",
		metric.WithDescription("Number of active transactions."),
		metric.WithUnit("1"),
	); err != nil {
		return nil, err
	}

	if m.CheckpointCyclesCounter, err = meter.Int64Counter(
		"gojokv.checkpoint.cycles_total",
		metric.WithDescription("Total number of checkpoint cycles, by outcome."),
		metric.WithUnit("1"),
	); err != nil {
		return nil, err
	}
	if m.PhaseTransitionsCounter, err = meter.Int64Counter(
		"gojokv.checkpoint.phase_transitions_total",
		metric.WithDescription("Total number of checkpoint phase transitions, by target phase."),
		metric.WithUnit("1"),
	); err != nil {
		return nil, err
	}
	if m.BarrierWaitHistogram, err = meter.Int64Histogram(
		"gojokv.checkpoint.barrier_wait_duration",
		metric.WithDescription("Time spent waiting for a phase barrier to drain."),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}
	if m.CapturedRecordsCounter, err = meter.Int64Counter(
		"gojokv.checkpoint.captured_records_total",
		metric.WithDescription("Total number of key/value records written to checkpoint snapshots."),
		metric.WithUnit("1"),
	); err != nil {
		return nil, err
	}
	if m.CaptureDurationHistogram, err = meter.Int64Histogram(
		"gojokv.checkpoint.capture_duration",
		metric.WithDescription("Duration of the snapshot capture pass."),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

// NewNoopStoreMetrics returns instruments that record nothing.
func NewNoopStoreMetrics() *StoreMetrics {
	m, err := NewStoreMetrics(noop.NewMeterProvider().Meter(""))
	if err != nil {
		// The noop meter never fails to create instruments.
		panic(err)
	}
	return m
}
