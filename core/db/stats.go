package db

import (
	"time"

	"github.com/sushant-115/gojokv/core/transaction"
)

// CheckpointStats describes the last successful snapshot.
type CheckpointStats struct {
	Cycle    uint64
	Records  int64
	Duration time.Duration
	At       time.Time
}

// RecoveryStats describes what Open restored.
type RecoveryStats struct {
	SnapshotRecords  int
	ReplayedEntries  int
	CommittedUpdates int
	DiscardedTxns    int
	TruncatedTail    bool
	InterruptedPhase transaction.CheckpointPhase
}

// Stats is a point-in-time view of the store.
type Stats struct {
	Keys           int
	ActiveTxns     int
	NextXid        transaction.Xid
	Phase          transaction.CheckpointPhase
	Cycle          uint64
	StableKeys     int
	Graveyard      int
	WALEntries     uint64
	WALBytes       int64
	LastCheckpoint CheckpointStats
	Recovery       RecoveryStats
}

func (db *DB) Stats() Stats {
	state := db.cell.Load()
	db.statsMu.Lock()
	last, rec := db.lastCheckpoint, db.recovery
	db.statsMu.Unlock()

	return Stats{
		Keys:           db.live.Len(),
		ActiveTxns:     db.table.ActiveCount(),
		NextXid:        db.table.PeekNextXid(),
		Phase:          state.Phase,
		Cycle:          state.Cycle,
		StableKeys:     db.stableKeys.Len(),
		Graveyard:      db.graveyard.Len(),
		WALEntries:     db.log.Appended(),
		WALBytes:       db.log.Size(),
		LastCheckpoint: last,
		Recovery:       rec,
	}
}
