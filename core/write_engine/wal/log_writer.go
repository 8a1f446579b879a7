package wal

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	flushmanager "github.com/sushant-115/gojokv/core/write_engine/flush_manager"
	internaltelemetry "github.com/sushant-115/gojokv/internal/telemetry"
	"go.uber.org/zap"
)

// DefaultLogFileName is the write-ahead log file name used when none is configured.
const DefaultLogFileName = "wal.log"

// WriterOptions controls the durability policy of a LogWriter.
type WriterOptions struct {
	// SyncEvery is the number of appended entries after which the file is
	// fsynced. Values <= 1 sync after every Append call. Larger values trade
	// a window of at most SyncEvery unsynced entries for throughput.
	SyncEvery int
	Metrics   *internaltelemetry.StoreMetrics
}

// LogWriter appends encoded entries to an append-only log file.
type LogWriter struct {
	path   string
	file   *os.File
	buffer *bytes.Buffer // Encoded frames of the Append call in progress
	mu     sync.Mutex    // Protects file, buffer and the counters below

	syncEvery int
	unsynced  int    // Entries written since the last fsync
	appended  uint64 // Entries written since open
	size      int64  // Current file size in bytes
	closed    bool
	// failed is set when a torn write could not be cut back off the file.
	// Every later Append is refused so nothing lands behind the damage.
	failed error

	logger  *zap.Logger
	metrics *internaltelemetry.StoreMetrics
}

// OpenLogWriter opens (or creates) the log at path in append mode.
func OpenLogWriter(path string, opts WriterOptions, logger *zap.Logger) (*LogWriter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = internaltelemetry.NewNoopStoreMetrics()
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open log file %s: %v", flushmanager.ErrIO, path, err)
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("%w: failed to stat log file %s: %v", flushmanager.ErrIO, path, err)
	}

	w := &LogWriter{
		path:      path,
		file:      file,
		buffer:    new(bytes.Buffer),
		syncEvery: opts.SyncEvery,
		size:      info.Size(),
		logger:    logger.Named("wal"),
		metrics:   opts.Metrics,
	}
	w.logger.Info("Write-ahead log opened",
		zap.String("path", path),
		zap.Int64("size", w.size),
		zap.Int("sync_every", w.syncEvery))
	return w, nil
}

// Append writes entries to the log as one contiguous write and then applies
// the sync policy. When Append returns nil under the default policy every
// entry is durable.
func (w *LogWriter) Append(entries ...LogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	start := time.Now()

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return flushmanager.ErrClosed
	}
	if w.failed != nil {
		return fmt.Errorf("%w: log writer is unusable after a failed write: %v", flushmanager.ErrIO, w.failed)
	}

	w.buffer.Reset()
	for _, e := range entries {
		body, err := EncodeEntry(e)
		if err != nil {
			return fmt.Errorf("failed to encode %T log entry: %w", e, err)
		}
		w.buffer.Write(AppendFrame(nil, body))
	}

	if err := w.flushInternal(); err != nil {
		return err
	}
	w.appended += uint64(len(entries))
	w.unsynced += len(entries)

	if w.syncEvery <= 1 || w.unsynced >= w.syncEvery {
		if err := w.syncInternal(); err != nil {
			return err
		}
	}

	ctx := context.Background()
	w.metrics.WALAppendsCounter.Add(ctx, int64(len(entries)))
	w.metrics.WALAppendLatencyHistogram.Record(ctx, time.Since(start).Microseconds())
	return nil
}

// Sync forces every appended entry to stable storage.
func (w *LogWriter) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return flushmanager.ErrClosed
	}
	return w.syncInternal()
}

// Appended returns the number of entries appended since the writer was opened.
func (w *LogWriter) Appended() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.appended
}

// Size returns the current size of the log file in bytes.
func (w *LogWriter) Size() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.size
}

// Path returns the log file path.
func (w *LogWriter) Path() string { return w.path }

// Close syncs and closes the log file.
func (w *LogWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	syncErr := w.syncInternal()
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("%w: failed to close log file %s: %v", flushmanager.ErrIO, w.path, err)
	}
	w.logger.Info("Write-ahead log closed", zap.Uint64("appended", w.appended), zap.Int64("size", w.size))
	return syncErr
}

// flushInternal writes the buffered frames to the log file. A failed or short
// write is cut back to the previous size so the file never keeps a partial
// frame in front of later appends.
// This method MUST be called with w.mu locked. It does NOT call Sync().
func (w *LogWriter) flushInternal() error {
	if w.buffer.Len() == 0 {
		return nil
	}
	defer w.buffer.Reset()

	n, err := w.file.Write(w.buffer.Bytes())
	if err == nil && n != w.buffer.Len() {
		err = fmt.Errorf("short write: expected %d, wrote %d", w.buffer.Len(), n)
	}
	if err == nil {
		w.size += int64(n)
		return nil
	}

	w.logger.Error("Failed to write log frames", zap.Int("written", n), zap.Int("expected", w.buffer.Len()), zap.Error(err))
	// The file is opened with O_APPEND, so later writes follow the truncated
	// end without a seek.
	if terr := w.file.Truncate(w.size); terr != nil {
		w.failed = terr
		w.logger.Error("Failed to cut torn write off the log; refusing further appends",
			zap.Int64("size", w.size), zap.Error(terr))
		return fmt.Errorf("%w: failed to write log buffer to file: %v (truncate: %v)", flushmanager.ErrIO, err, terr)
	}
	return fmt.Errorf("%w: failed to write log buffer to file: %v", flushmanager.ErrIO, err)
}

// syncInternal must be called with w.mu locked.
func (w *LogWriter) syncInternal() error {
	if w.unsynced == 0 {
		return nil
	}
	if err := w.file.Sync(); err != nil {
		w.logger.Error("Failed to sync write-ahead log", zap.Error(err))
		return fmt.Errorf("%w: failed to sync log file: %v", flushmanager.ErrIO, err)
	}
	w.unsynced = 0
	w.metrics.WALSyncsCounter.Add(context.Background(), 1)
	return nil
}

// TruncateTail cuts the log at path down to offset bytes. Recovery calls it
// to drop a torn or corrupt tail so that later appends stay readable.
func TruncateTail(path string, offset int64) error {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: failed to stat log file %s: %v", flushmanager.ErrIO, path, err)
	}
	if info.Size() <= offset {
		return nil
	}
	if err := os.Truncate(path, offset); err != nil {
		return fmt.Errorf("%w: failed to truncate log file %s to %d: %v", flushmanager.ErrIO, path, offset, err)
	}
	return nil
}
