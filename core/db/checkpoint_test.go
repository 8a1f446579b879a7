package db

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/sushant-115/gojokv/core/checkpoint"
	"github.com/sushant-115/gojokv/core/transaction"
	flushmanager "github.com/sushant-115/gojokv/core/write_engine/flush_manager"
)

func seed(t *testing.T, db *DB, kv map[string]string) {
	t.Helper()
	for k, v := range kv {
		require.NoError(t, db.Put([]byte(k), []byte(v)))
	}
}

func TestCheckpoint_SnapshotIgnoresPostBoundaryWrites(t *testing.T) {
	var db *DB
	observe := func(s checkpoint.PhaseState) {
		switch s.Phase {
		case transaction.PhaseResolve:
			require.NoError(t, db.Put([]byte("k1"), []byte("k1-after")))
			require.NoError(t, db.Delete([]byte("k2")))
			require.NoError(t, db.Put([]byte("k4"), []byte("created-after")))
		case transaction.PhaseCapture:
			require.NoError(t, db.Put([]byte("k3"), []byte("k3-after")))
			require.NoError(t, db.Delete([]byte("k1")))
		}
	}
	db = openTestDB(t, DefaultConfig(t.TempDir()), WithPhaseObserver(observe))
	seed(t, db, map[string]string{"k1": "v1", "k2": "v2", "k3": "v3"})

	require.NoError(t, db.Checkpoint(context.Background()))

	// The snapshot is the state at the RESOLVE barrier.
	require.Equal(t, map[string]string{"k1": "v1", "k2": "v2", "k3": "v3"}, readSnapshot(t, db))

	// The live store has every write.
	_, err := db.Get([]byte("k1"))
	require.ErrorIs(t, err, flushmanager.ErrKeyNotFound)
	_, err = db.Get([]byte("k2"))
	require.ErrorIs(t, err, flushmanager.ErrKeyNotFound)
	require.Equal(t, "k3-after", mustGet(t, db, "k3"))
	require.Equal(t, "created-after", mustGet(t, db, "k4"))

	stats := db.Stats()
	require.Zero(t, stats.StableKeys)
	require.Zero(t, stats.Graveyard)

	// The next cycle sees the new state.
	require.NoError(t, db.Checkpoint(context.Background()))
	require.Equal(t, map[string]string{"k3": "k3-after", "k4": "created-after"}, readSnapshot(t, db))
}

func TestCheckpoint_PreBoundaryCommitIsCaptured(t *testing.T) {
	var db *DB
	var pre *Txn
	resolved := make(chan struct{})

	observe := func(s checkpoint.PhaseState) {
		switch s.Phase {
		case transaction.PhasePrepare:
			// Begins after the PREPARE barrier but before the RESOLVE barrier.
			pre = db.Begin()
		case transaction.PhaseResolve:
			require.Less(t, pre.ID(), s.Boundary)
			require.NoError(t, db.Put([]byte("shared"), []byte("post")))
			close(resolved)
		}
	}
	db = openTestDB(t, DefaultConfig(t.TempDir()), WithPhaseObserver(observe))
	seed(t, db, map[string]string{"shared": "orig", "solo": "orig"})

	done := make(chan error, 1)
	go func() { done <- db.Checkpoint(context.Background()) }()

	<-resolved
	// The cycle is held at RESOLVE until the older transaction ends.
	select {
	case err := <-done:
		t.Fatalf("checkpoint finished before an older transaction ended: %v", err)
	case <-time.After(30 * time.Millisecond):
	}
	require.Equal(t, transaction.PhaseResolve, db.Phase())

	require.NoError(t, pre.Put([]byte("shared"), []byte("pre")))
	require.NoError(t, pre.Put([]byte("solo"), []byte("pre")))
	require.NoError(t, pre.Commit())
	require.NoError(t, <-done)

	require.Equal(t, map[string]string{"shared": "pre", "solo": "pre"}, readSnapshot(t, db))
	require.Equal(t, "pre", mustGet(t, db, "shared"))
}

func TestCheckpoint_DeletedBeforeBoundaryIsOmitted(t *testing.T) {
	var db *DB
	observe := func(s checkpoint.PhaseState) {
		if s.Phase == transaction.PhaseCapture {
			require.NoError(t, db.Put([]byte("ghost"), []byte("back")))
		}
	}
	db = openTestDB(t, DefaultConfig(t.TempDir()), WithPhaseObserver(observe))
	seed(t, db, map[string]string{"ghost": "v", "keep": "v"})
	require.NoError(t, db.Delete([]byte("ghost")))

	require.NoError(t, db.Checkpoint(context.Background()))
	require.Equal(t, map[string]string{"keep": "v"}, readSnapshot(t, db))
	require.Equal(t, "back", mustGet(t, db, "ghost"))
}

func TestCheckpoint_FailedCaptureKeepsServing(t *testing.T) {
	cfg := DefaultConfig(t.TempDir())
	// A directory in place of the temporary snapshot file makes capture fail.
	cfg.CheckpointFile = "snap"
	db := openTestDB(t, cfg)
	require.NoError(t, os.Mkdir(db.checkpointPath()+".tmp", 0755))
	seed(t, db, map[string]string{"a": "1"})

	err := db.Checkpoint(context.Background())
	require.ErrorIs(t, err, flushmanager.ErrIO)
	require.Equal(t, transaction.PhaseRest, db.Phase())

	require.NoError(t, db.Put([]byte("b"), []byte("2")))
	require.Equal(t, "1", mustGet(t, db, "a"))

	require.NoError(t, os.Remove(db.checkpointPath()+".tmp"))
	require.NoError(t, db.Checkpoint(context.Background()))
	require.Equal(t, map[string]string{"a": "1", "b": "2"}, readSnapshot(t, db))
}

// A preserved boundary value is released only after its record is written,
// so a capture that fails before the write still holds it.
func TestCheckpoint_StableCopyOutlivesFailedRecordWrite(t *testing.T) {
	var db *DB
	var cancelCapture context.CancelFunc
	var atComplete []string

	stableValue := func() string {
		v, ok := db.stable.Get([]byte("k"))
		if !ok {
			return "<none>"
		}
		return string(v)
	}
	observe := func(s checkpoint.PhaseState) {
		switch s.Phase {
		case transaction.PhaseResolve:
			require.NoError(t, db.Put([]byte("k"), []byte(fmt.Sprintf("after-%d", s.Cycle))))
		case transaction.PhaseCapture:
			if cancelCapture != nil {
				cancelCapture()
			}
		case transaction.PhaseComplete:
			atComplete = append(atComplete, stableValue())
		}
	}

	cfg := DefaultConfig(t.TempDir())
	// One byte per second: the throttled record write is the first thing to
	// fail once the capture context is cancelled.
	cfg.BytesPerSecond = 1
	db = openTestDB(t, cfg, WithPhaseObserver(observe))
	seed(t, db, map[string]string{"k": "before"})

	ctx, cancel := context.WithCancel(context.Background())
	cancelCapture = cancel
	err := db.Checkpoint(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, transaction.PhaseRest, db.Phase())

	db.cfg.BytesPerSecond = 0
	cancelCapture = nil
	require.NoError(t, db.Checkpoint(context.Background()))

	require.Equal(t, []string{"before", "<none>"}, atComplete)
	require.Equal(t, map[string]string{"k": "after-1"}, readSnapshot(t, db))
	require.Equal(t, "after-2", mustGet(t, db, "k"))
}

// Every transaction writes the same value to a pair of keys, or deletes both.
// A snapshot taken while these run must never split a pair.
func TestCheckpoint_TransactionsAreNeverSplit(t *testing.T) {
	cfg := DefaultConfig(t.TempDir())
	cfg.SyncEvery = 64
	db := openTestDB(t, cfg)

	const writers = 6
	var stop atomic.Bool
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(w)))
			a, b := []byte(fmt.Sprintf("a%d", w)), []byte(fmt.Sprintf("b%d", w))
			for i := 0; !stop.Load(); i++ {
				txn := db.Begin()
				if rng.Intn(5) == 0 {
					require.NoError(t, txn.Delete(a))
					require.NoError(t, txn.Delete(b))
				} else {
					v := []byte(fmt.Sprintf("%d-%d", w, i))
					require.NoError(t, txn.Put(a, v))
					require.NoError(t, txn.Put(b, v))
				}
				require.NoError(t, txn.Commit())
			}
		}(w)
	}

	for cycle := 0; cycle < 8; cycle++ {
		require.NoError(t, db.Checkpoint(context.Background()))
		snap := readSnapshot(t, db)
		for w := 0; w < writers; w++ {
			a, aok := snap[fmt.Sprintf("a%d", w)]
			b, bok := snap[fmt.Sprintf("b%d", w)]
			require.Equal(t, aok, bok, "pair %d split in cycle %d", w, cycle)
			require.Equal(t, a, b, "pair %d split in cycle %d", w, cycle)
		}
	}
	stop.Store(true)
	wg.Wait()

	stats := db.Stats()
	require.Equal(t, uint64(8), stats.Cycle)
	require.Zero(t, stats.StableKeys)
}

func TestCheckpoint_BackgroundInterval(t *testing.T) {
	cfg := DefaultConfig(t.TempDir())
	cfg.CheckpointInterval = 5 * time.Millisecond
	db := openTestDB(t, cfg)
	seed(t, db, map[string]string{"k": "v"})

	require.Eventually(t, func() bool {
		return db.Stats().LastCheckpoint.Records == 1
	}, 2*time.Second, time.Millisecond)
	require.NoError(t, db.Close())
	require.Equal(t, map[string]string{"k": "v"}, readSnapshot(t, db))
}

func TestDB_BackupCopiesLatestSnapshot(t *testing.T) {
	db := openTestDB(t, DefaultConfig(t.TempDir()))
	dst := filepath.Join(t.TempDir(), "backup.bin")

	_, err := db.Backup(context.Background(), dst)
	require.ErrorIs(t, err, flushmanager.ErrIO)

	seed(t, db, map[string]string{"a": "1", "b": "2"})
	require.NoError(t, db.Checkpoint(context.Background()))
	res, err := db.Backup(context.Background(), dst)
	require.NoError(t, err)
	require.Len(t, res.SHA256, 64)

	got := make(map[string]string)
	_, err = checkpoint.LoadCheckpoint(dst, func(k, v []byte) { got[string(k)] = string(v) })
	require.NoError(t, err)
	require.Equal(t, map[string]string{"a": "1", "b": "2"}, got)
}
