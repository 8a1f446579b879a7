package db

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sushant-115/gojokv/core/transaction"
	flushmanager "github.com/sushant-115/gojokv/core/write_engine/flush_manager"
	"github.com/sushant-115/gojokv/core/write_engine/wal"
	"go.uber.org/zap"
)

// Txn is a transaction. Writes are buffered until Commit, which logs them
// durably and only then applies them to the live store. A Txn must end with
// Commit or Abort; until then its id holds back checkpoint barriers.
type Txn struct {
	db  *DB
	xid transaction.Xid

	mu     sync.Mutex
	writes map[string]*pendingWrite
	order  []string // Keys in first-write order
	logged bool     // XBegin is in the log
	state  transaction.TransactionState
}

type pendingWrite struct {
	key    []byte
	value  []byte // nil for a delete
	delete bool
}

// Begin starts a transaction.
func (db *DB) Begin() *Txn {
	xid := db.table.Begin()
	ctx := context.Background()
	db.metrics.TxnBegunCounter.Add(ctx, 1)
	db.metrics.ActiveTxnsUpDownCounter.Add(ctx, 1)
	return &Txn{db: db, xid: xid, writes: make(map[string]*pendingWrite)}
}

// ID returns the transaction id.
func (t *Txn) ID() transaction.Xid { return t.xid }

// State reports whether the transaction is running, committed or aborted.
func (t *Txn) State() transaction.TransactionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Get returns the transaction's own pending write for key if there is one,
// otherwise the committed value.
func (t *Txn) Get(key []byte) ([]byte, error) {
	t.mu.Lock()
	if t.state != transaction.TxnStateRunning {
		t.mu.Unlock()
		return nil, flushmanager.ErrTxnNotActive
	}
	w, ok := t.writes[string(key)]
	t.mu.Unlock()

	if ok {
		if w.delete {
			return nil, flushmanager.ErrKeyNotFound
		}
		return append([]byte(nil), w.value...), nil
	}
	return t.db.Get(key)
}

func (t *Txn) Put(key, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	return t.write(key, value, false)
}

func (t *Txn) Delete(key []byte) error {
	return t.write(key, nil, true)
}

func (t *Txn) write(key, value []byte, del bool) error {
	if len(key) == 0 {
		return flushmanager.ErrEmptyKey
	}
	if t.db.closed.Load() {
		return flushmanager.ErrClosed
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != transaction.TxnStateRunning {
		return flushmanager.ErrTxnNotActive
	}

	if !t.logged {
		if err := t.db.log.Append(wal.XBegin{Xid: t.xid}); err != nil {
			return fmt.Errorf("begin transaction %d: %w", t.xid, err)
		}
		t.logged = true
	}

	k := string(key)
	w, ok := t.writes[k]
	if !ok {
		w = &pendingWrite{key: append([]byte(nil), key...)}
		t.writes[k] = w
		t.order = append(t.order, k)
	}
	w.delete = del
	w.value = nil
	if !del {
		w.value = append([]byte{}, value...)
	}
	return nil
}

// Commit makes the transaction's writes durable and visible. If the log
// append fails nothing is applied and the transaction is aborted.
func (t *Txn) Commit() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != transaction.TxnStateRunning {
		return flushmanager.ErrTxnNotActive
	}
	defer t.end()

	if len(t.order) == 0 {
		t.state = transaction.TxnStateCommitted
		t.db.metrics.TxnCommittedCounter.Add(context.Background(), 1)
		return nil
	}
	if t.db.closed.Load() {
		t.state = transaction.TxnStateAborted
		return flushmanager.ErrClosed
	}

	keys := make([][]byte, len(t.order))
	for i, k := range t.order {
		keys[i] = t.writes[k].key
	}
	unlock := t.db.stripes.LockMany(keys)
	defer unlock()

	entries := make([]wal.LogEntry, 0, len(t.order)+1)
	for _, k := range t.order {
		w := t.writes[k]
		prev, _ := t.db.live.Get(w.key)
		entries = append(entries, wal.Update{
			Xid:           t.xid,
			Key:           w.key,
			Value:         w.value,
			PreviousValue: prev,
		})
	}
	entries = append(entries, wal.XCommit{Xid: t.xid})

	start := time.Now()
	if err := t.db.log.Append(entries...); err != nil {
		if abortErr := t.db.log.Append(wal.XAbort{Xid: t.xid}); abortErr != nil {
			t.db.logger.Warn("Failed to log abort after failed commit",
				zap.Uint64("xid", uint64(t.xid)), zap.Error(abortErr))
		}
		t.state = transaction.TxnStateAborted
		t.db.metrics.TxnAbortedCounter.Add(context.Background(), 1)
		return fmt.Errorf("commit transaction %d: %w", t.xid, err)
	}

	for _, k := range t.order {
		w := t.writes[k]
		t.db.apply(t.xid, w.key, w.value, w.delete)
	}
	t.state = transaction.TxnStateCommitted
	t.db.metrics.TxnCommittedCounter.Add(context.Background(), 1)
	t.db.logger.Debug("Transaction committed",
		zap.Uint64("xid", uint64(t.xid)),
		zap.Int("writes", len(t.order)),
		zap.Duration("duration", time.Since(start)))
	return nil
}

// Abort discards the transaction's writes. Aborting an ended transaction
// does nothing.
func (t *Txn) Abort() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != transaction.TxnStateRunning {
		return
	}
	t.state = transaction.TxnStateAborted
	defer t.end()

	if t.logged && !t.db.closed.Load() {
		if err := t.db.log.Append(wal.XAbort{Xid: t.xid}); err != nil {
			t.db.logger.Warn("Failed to log abort", zap.Uint64("xid", uint64(t.xid)), zap.Error(err))
		}
	}
	t.db.metrics.TxnAbortedCounter.Add(context.Background(), 1)
}

func (t *Txn) end() {
	t.db.table.End(t.xid)
	t.db.metrics.ActiveTxnsUpDownCounter.Add(context.Background(), -1)
}
