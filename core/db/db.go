// Package db is the embedded transactional key-value store. It owns the live
// store, the stable versions kept for the checkpoint in progress, the
// write-ahead log and the checkpointer.
package db

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sushant-115/gojokv/core/checkpoint"
	"github.com/sushant-115/gojokv/core/storage_engine/kvstore"
	"github.com/sushant-115/gojokv/core/transaction"
	flushmanager "github.com/sushant-115/gojokv/core/write_engine/flush_manager"
	"github.com/sushant-115/gojokv/core/write_engine/wal"
	internaltelemetry "github.com/sushant-115/gojokv/internal/telemetry"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

// Config holds the settings of one store instance.
type Config struct {
	Dir                string
	WALFile            string
	CheckpointFile     string
	Backend            string
	Shards             int
	SyncEvery          int
	CheckpointInterval time.Duration
	PollInterval       time.Duration
	SlowBarrierWarning time.Duration
	BatchSize          int
	BytesPerSecond     int64
}

// DefaultConfig returns a Config rooted at dir with background checkpoints
// disabled.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:            dir,
		WALFile:        wal.DefaultLogFileName,
		CheckpointFile: checkpoint.DefaultCheckpointFileName,
		Backend:        kvstore.BackendSharded,
		Shards:         kvstore.DefaultShards,
		SyncEvery:      1,
		PollInterval:   checkpoint.DefaultPollInterval,
		BatchSize:      checkpoint.DefaultBatchSize,
	}
}

// Option customizes Open.
type Option func(*options)

type options struct {
	metrics      *internaltelemetry.StoreMetrics
	tracer       trace.Tracer
	onTransition func(checkpoint.PhaseState)
}

// WithMetrics records store metrics on m.
func WithMetrics(m *internaltelemetry.StoreMetrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithTracer traces checkpoint cycles with t.
func WithTracer(t trace.Tracer) Option {
	return func(o *options) { o.tracer = t }
}

// WithPhaseObserver calls fn after every checkpoint phase change.
func WithPhaseObserver(fn func(checkpoint.PhaseState)) Option {
	return func(o *options) { o.onTransition = fn }
}

// DB is safe for concurrent use.
type DB struct {
	cfg    Config
	logger *zap.Logger

	live kvstore.Storage
	// Values as of the current checkpoint boundary for keys written after it.
	stable     kvstore.Storage
	stableKeys *kvstore.KeySet
	graveyard  *kvstore.KeySet
	captured   *kvstore.KeySet
	stripes    *kvstore.StripedLocks

	table        *transaction.TransactionTable
	cell         *checkpoint.PhaseCell
	log          *wal.LogWriter
	checkpointer *checkpoint.Checkpointer

	metrics *internaltelemetry.StoreMetrics
	tracer  trace.Tracer

	statsMu        sync.Mutex
	lastCheckpoint CheckpointStats
	recovery       RecoveryStats

	closed    atomic.Bool
	closeOnce sync.Once
}

// Open recovers the store in cfg.Dir and starts background checkpoints when
// cfg.CheckpointInterval is positive.
func Open(cfg Config, logger *zap.Logger, opts ...Option) (*DB, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.metrics == nil {
		o.metrics = internaltelemetry.NewNoopStoreMetrics()
	}
	if o.tracer == nil {
		o.tracer = nooptrace.NewTracerProvider().Tracer("")
	}
	if cfg.WALFile == "" {
		cfg.WALFile = wal.DefaultLogFileName
	}
	if cfg.CheckpointFile == "" {
		cfg.CheckpointFile = checkpoint.DefaultCheckpointFileName
	}
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("%w: failed to create data directory %s: %v", flushmanager.ErrIO, cfg.Dir, err)
	}

	live, err := kvstore.New(cfg.Backend, cfg.Shards)
	if err != nil {
		return nil, err
	}

	db := &DB{
		cfg:        cfg,
		logger:     logger.Named("db"),
		live:       live,
		stable:     kvstore.NewShardedMap(cfg.Shards),
		stableKeys: kvstore.NewKeySet(cfg.Shards),
		graveyard:  kvstore.NewKeySet(cfg.Shards),
		captured:   kvstore.NewKeySet(cfg.Shards),
		stripes:    kvstore.NewStripedLocks(cfg.Shards),
		table:      transaction.NewTransactionTable(),
		cell:       checkpoint.NewPhaseCell(),
		metrics:    o.metrics,
		tracer:     o.tracer,
	}

	if err := db.restore(); err != nil {
		if db.log != nil {
			_ = db.log.Close()
		}
		return nil, err
	}

	db.checkpointer = checkpoint.NewCheckpointer(db.table, db.cell, db.log, db, checkpoint.Options{
		Interval:           cfg.CheckpointInterval,
		PollInterval:       cfg.PollInterval,
		SlowBarrierWarning: cfg.SlowBarrierWarning,
		Metrics:            o.metrics,
		Tracer:             o.tracer,
		OnTransition:       o.onTransition,
	}, logger)
	db.checkpointer.Start(context.Background())

	db.logger.Info("Store opened",
		zap.String("dir", cfg.Dir),
		zap.String("backend", cfg.Backend),
		zap.Int("keys", live.Len()),
		zap.Uint64("next_xid", uint64(db.table.PeekNextXid())))
	return db, nil
}

func (db *DB) walPath() string        { return filepath.Join(db.cfg.Dir, db.cfg.WALFile) }
func (db *DB) checkpointPath() string { return filepath.Join(db.cfg.Dir, db.cfg.CheckpointFile) }

// Get returns the committed value of key, or ErrKeyNotFound.
func (db *DB) Get(key []byte) ([]byte, error) {
	if db.closed.Load() {
		return nil, flushmanager.ErrClosed
	}
	if len(key) == 0 {
		return nil, flushmanager.ErrEmptyKey
	}
	value, ok := db.live.Get(key)
	if !ok {
		return nil, flushmanager.ErrKeyNotFound
	}
	return value, nil
}

// Put stores value under key in its own transaction.
func (db *DB) Put(key, value []byte) error {
	txn := db.Begin()
	if err := txn.Put(key, value); err != nil {
		txn.Abort()
		return err
	}
	return txn.Commit()
}

// Delete removes key in its own transaction. Deleting a missing key is not
// an error.
func (db *DB) Delete(key []byte) error {
	txn := db.Begin()
	if err := txn.Delete(key); err != nil {
		txn.Abort()
		return err
	}
	return txn.Commit()
}

// Phase returns the current checkpoint phase.
func (db *DB) Phase() transaction.CheckpointPhase {
	return db.cell.Phase()
}

// Checkpoint runs a checkpoint cycle now and waits for it to finish.
func (db *DB) Checkpoint(ctx context.Context) error {
	if db.closed.Load() {
		return flushmanager.ErrClosed
	}
	return db.checkpointer.TriggerNow(ctx)
}

// Close stops background checkpoints and closes the log. Transactions still
// open must not be used afterwards.
func (db *DB) Close() error {
	var err error
	db.closeOnce.Do(func() {
		db.closed.Store(true)
		db.checkpointer.Stop()
		err = db.log.Close()
		db.logger.Info("Store closed", zap.Error(err))
	})
	return err
}
