package db

import (
	"context"
	"fmt"
	"time"

	"github.com/sushant-115/gojokv/core/checkpoint"
	"github.com/sushant-115/gojokv/core/transaction"
	flushmanager "github.com/sushant-115/gojokv/core/write_engine/flush_manager"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// SaveCheckpoint writes the snapshot as of the current RESOLVE barrier. It
// is called by the checkpointer during CAPTURE and fails with ErrWrongPhase
// in any other phase.
//
// Every key is emitted at most once: keys written after the boundary come
// from the stable store, the rest from the live store. A key deleted after
// the boundary is still emitted with its boundary value. A key deleted
// before the boundary does not appear.
func (db *DB) SaveCheckpoint(ctx context.Context) error {
	state := db.cell.Load()
	if state.Phase != transaction.PhaseCapture {
		return fmt.Errorf("%w: save checkpoint in phase %s", flushmanager.ErrWrongPhase, state.Phase)
	}

	ctx, span := db.tracer.Start(ctx, "db.SaveCheckpoint")
	defer span.End()
	span.SetAttributes(attribute.Int64("boundary", int64(state.Boundary)))

	start := time.Now()
	w, err := checkpoint.NewCheckpointWriter(db.checkpointPath(), checkpoint.WriterOptions{
		BatchSize:      db.cfg.BatchSize,
		BytesPerSecond: db.cfg.BytesPerSecond,
	}, db.logger)
	if err != nil {
		return err
	}

	// Keys deleted after the boundary are only reachable through the
	// graveyard, which is read after the live keys.
	keys := db.live.Keys()
	keys = append(keys, db.graveyard.Keys()...)

	for _, key := range keys {
		value, ok, preserved := db.captureKey(key)
		if !ok {
			continue
		}
		if err := w.Append(ctx, key, value); err != nil {
			w.Abort()
			return err
		}
		if preserved {
			db.releaseStable(key)
		}
	}
	if err := w.Commit(); err != nil {
		return err
	}

	elapsed := time.Since(start)
	db.metrics.CapturedRecordsCounter.Add(ctx, w.Written())
	db.metrics.CaptureDurationHistogram.Record(ctx, elapsed.Milliseconds())
	span.SetAttributes(attribute.Int64("records", w.Written()))

	db.statsMu.Lock()
	db.lastCheckpoint = CheckpointStats{
		Cycle:    state.Cycle,
		Records:  w.Written(),
		Duration: elapsed,
		At:       time.Now(),
	}
	db.statsMu.Unlock()

	db.logger.Info("Checkpoint captured",
		zap.Uint64("cycle", state.Cycle),
		zap.Uint64("boundary", uint64(state.Boundary)),
		zap.Int64("records", w.Written()),
		zap.Duration("duration", elapsed))
	return nil
}

// captureKey returns the boundary value of key and marks it captured.
// preserved reports that the value came from the stable store. Once a key is
// captured no writer touches its stable copy, so the copy stays readable until
// releaseStable drops it after the record has been written.
func (db *DB) captureKey(key []byte) (value []byte, ok, preserved bool) {
	unlock := db.stripes.Lock(key)
	defer unlock()

	if !db.captured.Add(key) {
		return nil, false, false
	}
	if db.stableKeys.Contains(key) {
		value, ok = db.stable.Get(key)
		return value, ok, true
	}
	value, ok = db.live.Get(key)
	return value, ok, false
}

// releaseStable drops the stable copy of a key whose record is written.
func (db *DB) releaseStable(key []byte) {
	unlock := db.stripes.Lock(key)
	defer unlock()
	db.clearStable(key)
}

// PostCheckpoint drops what is left of the cycle's bookkeeping. It runs
// during COMPLETE, when no write touches the stable store.
func (db *DB) PostCheckpoint() {
	for _, key := range db.stableKeys.Keys() {
		db.stable.Delete(key)
	}
	db.stableKeys.Clear()
	db.graveyard.Clear()
	db.captured.Clear()
}

// Backup copies the latest installed snapshot to dst.
func (db *DB) Backup(ctx context.Context, dst string) (checkpoint.BackupResult, error) {
	if db.closed.Load() {
		return checkpoint.BackupResult{}, flushmanager.ErrClosed
	}
	res, err := checkpoint.CopySnapshot(ctx, db.checkpointPath(), dst, db.cfg.BytesPerSecond)
	if err != nil {
		return res, err
	}
	db.logger.Info("Snapshot backed up",
		zap.String("path", res.Path),
		zap.Int64("bytes", res.Bytes),
		zap.String("sha256", res.SHA256))
	return res, nil
}
