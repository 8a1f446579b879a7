package checkpoint

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"

	flushmanager "github.com/sushant-115/gojokv/core/write_engine/flush_manager"
	"github.com/sushant-115/gojokv/core/write_engine/wal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// DefaultCheckpointFileName is the snapshot file name used when none is configured.
	DefaultCheckpointFileName = "checkpoint.bin"
	// DefaultBatchSize is the number of records written between fsyncs.
	DefaultBatchSize = 512

	tempSuffix = ".tmp"
)

// WriterOptions tunes a CheckpointWriter.
type WriterOptions struct {
	// BatchSize is the number of records between fsyncs (DefaultBatchSize if <= 0).
	BatchSize int
	// BytesPerSecond throttles snapshot writes so capture does not starve
	// foreground I/O. Zero disables throttling.
	BytesPerSecond int64
}

// CheckpointWriter writes a snapshot as a sequence of [key blob][value blob]
// records. Records go to a temporary file that Commit renames over the final
// path, so readers only ever see complete snapshots.
type CheckpointWriter struct {
	path    string
	tmpPath string
	file    *os.File
	buf     *bufio.Writer
	limiter *rate.Limiter

	batchSize int
	pending   int   // Records written since the last fsync
	written   int64 // Records written in total
	bytes     int64
	done      bool

	logger *zap.Logger
}

// NewCheckpointWriter creates the temporary snapshot file for path.
func NewCheckpointWriter(path string, opts WriterOptions, logger *zap.Logger) (*CheckpointWriter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}

	tmpPath := path + tempSuffix
	file, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create checkpoint file %s: %v", flushmanager.ErrIO, tmpPath, err)
	}

	w := &CheckpointWriter{
		path:      path,
		tmpPath:   tmpPath,
		file:      file,
		buf:       bufio.NewWriter(file),
		batchSize: opts.BatchSize,
		logger:    logger.Named("checkpoint_writer"),
	}
	if opts.BytesPerSecond > 0 {
		w.limiter = rate.NewLimiter(rate.Limit(opts.BytesPerSecond), int(opts.BytesPerSecond))
	}
	return w, nil
}

// Append writes one key/value record. Every BatchSize records the file is
// fsynced.
func (w *CheckpointWriter) Append(ctx context.Context, key, value []byte) error {
	if w.done {
		return flushmanager.ErrClosed
	}

	record := wal.AppendBlob(nil, key)
	record = wal.AppendBlob(record, value)

	if err := w.throttle(ctx, len(record)); err != nil {
		return err
	}
	if _, err := w.buf.Write(record); err != nil {
		return fmt.Errorf("%w: failed to write checkpoint record: %v", flushmanager.ErrIO, err)
	}
	w.written++
	w.bytes += int64(len(record))
	w.pending++

	if w.pending >= w.batchSize {
		return w.Flush()
	}
	return nil
}

// Flush writes buffered records and fsyncs the file.
func (w *CheckpointWriter) Flush() error {
	if err := w.buf.Flush(); err != nil {
		return fmt.Errorf("%w: failed to flush checkpoint file: %v", flushmanager.ErrIO, err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("%w: failed to sync checkpoint file: %v", flushmanager.ErrIO, err)
	}
	w.pending = 0
	return nil
}

// Commit flushes the snapshot and atomically replaces the file at path.
func (w *CheckpointWriter) Commit() error {
	if w.done {
		return flushmanager.ErrClosed
	}
	w.done = true

	if err := w.Flush(); err != nil {
		_ = w.file.Close()
		_ = os.Remove(w.tmpPath)
		return err
	}
	if err := w.file.Close(); err != nil {
		_ = os.Remove(w.tmpPath)
		return fmt.Errorf("%w: failed to close checkpoint file: %v", flushmanager.ErrIO, err)
	}
	if err := os.Rename(w.tmpPath, w.path); err != nil {
		_ = os.Remove(w.tmpPath)
		return fmt.Errorf("%w: failed to install checkpoint file %s: %v", flushmanager.ErrIO, w.path, err)
	}
	syncDir(filepath.Dir(w.path), w.logger)

	w.logger.Info("Checkpoint snapshot installed",
		zap.String("path", w.path),
		zap.Int64("records", w.written),
		zap.Int64("bytes", w.bytes))
	return nil
}

// Abort discards the temporary file. The previous snapshot, if any, is kept.
func (w *CheckpointWriter) Abort() {
	if w.done {
		return
	}
	w.done = true
	_ = w.file.Close()
	if err := os.Remove(w.tmpPath); err != nil && !os.IsNotExist(err) {
		w.logger.Warn("Failed to remove aborted checkpoint file", zap.String("path", w.tmpPath), zap.Error(err))
	}
}

// Written returns the number of records appended.
func (w *CheckpointWriter) Written() int64 { return w.written }

// throttle waits until n bytes may be written. Requests larger than the
// limiter burst are split into burst-sized waits.
func (w *CheckpointWriter) throttle(ctx context.Context, n int) error {
	if w.limiter == nil {
		return nil
	}
	burst := w.limiter.Burst()
	for n > 0 {
		chunk := n
		if chunk > burst {
			chunk = burst
		}
		if err := w.limiter.WaitN(ctx, chunk); err != nil {
			return fmt.Errorf("checkpoint rate limiter: %w", err)
		}
		n -= chunk
	}
	return nil
}

func syncDir(dir string, logger *zap.Logger) {
	d, err := os.Open(dir)
	if err != nil {
		logger.Warn("Failed to open checkpoint directory for sync", zap.String("dir", dir), zap.Error(err))
		return
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		logger.Debug("Checkpoint directory sync not supported", zap.String("dir", dir), zap.Error(err))
	}
}
