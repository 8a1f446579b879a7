package db

import (
	"fmt"

	"github.com/sushant-115/gojokv/core/checkpoint"
	"github.com/sushant-115/gojokv/core/transaction"
	"github.com/sushant-115/gojokv/core/write_engine/wal"
	"go.uber.org/zap"
)

// restore rebuilds the live store from the last snapshot and the log, then
// opens the log for appending.
func (db *DB) restore() error {
	records, err := checkpoint.LoadCheckpoint(db.checkpointPath(), db.live.Put)
	if err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}

	res, err := wal.Replay(db.walPath(), db.logger)
	if err != nil {
		return fmt.Errorf("replay log: %w", err)
	}
	for _, u := range res.Committed {
		if u.IsDelete() {
			db.live.Delete(u.Key)
		} else {
			db.live.Put(u.Key, u.Value)
		}
	}
	if res.Damaged() {
		db.logger.Warn("Truncating damaged log tail",
			zap.String("path", db.walPath()),
			zap.Int64("valid_offset", res.ValidOffset),
			zap.Bool("torn_record", res.Truncated),
			zap.Error(res.CorruptErr))
		if err := wal.TruncateTail(db.walPath(), res.ValidOffset); err != nil {
			return err
		}
	}
	db.table.Advance(res.MaxXid)

	db.log, err = wal.OpenLogWriter(db.walPath(), wal.WriterOptions{
		SyncEvery: db.cfg.SyncEvery,
		Metrics:   db.metrics,
	}, db.logger)
	if err != nil {
		return err
	}

	// Incomplete transactions never reached the live store; close them in
	// the log so a later replay does not report them again.
	for _, xid := range res.Incomplete {
		if err := db.log.Append(wal.XAbort{Xid: xid}); err != nil {
			return fmt.Errorf("abort incomplete transaction %d: %w", xid, err)
		}
	}

	interrupted := transaction.CheckpointPhase(0)
	if res.LastPhase.Valid() && res.LastPhase != transaction.PhaseRest {
		interrupted = res.LastPhase
		db.logger.Warn("Checkpoint cycle was interrupted; returning to rest",
			zap.Stringer("phase", res.LastPhase))
		if err := db.log.Append(wal.CPhase{Phase: transaction.PhaseRest}); err != nil {
			return fmt.Errorf("log phase reset: %w", err)
		}
	}

	db.statsMu.Lock()
	db.recovery = RecoveryStats{
		SnapshotRecords:  records,
		ReplayedEntries:  res.Entries,
		CommittedUpdates: len(res.Committed),
		DiscardedTxns:    len(res.Incomplete),
		TruncatedTail:    res.Damaged(),
		InterruptedPhase: interrupted,
	}
	db.statsMu.Unlock()

	db.logger.Info("Recovery complete",
		zap.Int("snapshot_records", records),
		zap.Int("replayed_entries", res.Entries),
		zap.Int("committed_updates", len(res.Committed)),
		zap.Int("discarded_txns", len(res.Incomplete)),
		zap.Uint64("max_xid", uint64(res.MaxXid)))
	return nil
}
