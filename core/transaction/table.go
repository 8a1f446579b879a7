package transaction

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/btree"
)

const activeSetDegree = 32

// TransactionTable issues transaction ids and tracks which of them are still
// active. The checkpointer reads OldestActive to decide when a phase barrier
// has been passed.
type TransactionTable struct {
	nextXid atomic.Uint64

	mu     sync.Mutex
	active *btree.BTreeG[Xid]
	// ended is closed and replaced every time an active transaction ends.
	ended chan struct{}
}

// NewTransactionTable creates an empty table whose first issued id is 1.
func NewTransactionTable() *TransactionTable {
	t := &TransactionTable{
		active: btree.NewOrderedG[Xid](activeSetDegree),
		ended:  make(chan struct{}),
	}
	t.nextXid.Store(1)
	return t
}

// Begin issues the next transaction id and marks it active. Both happen under
// t.mu, so a barrier stamped from PeekNextXid never misses an issued id that
// is not yet in the active set.
func (t *TransactionTable) Begin() Xid {
	t.mu.Lock()
	defer t.mu.Unlock()

	xid := Xid(t.nextXid.Add(1) - 1)
	t.active.ReplaceOrInsert(xid)
	return xid
}

// End marks xid as finished. Ending an id that is not active is a no-op.
func (t *TransactionTable) End(xid Xid) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, removed := t.active.Delete(xid); removed {
		close(t.ended)
		t.ended = make(chan struct{})
	}
}

// OldestActive returns the smallest active id. The boolean is false when no
// transaction is active.
func (t *TransactionTable) OldestActive() (Xid, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active.Min()
}

// PeekNextXid returns the id the next Begin would issue without consuming it.
func (t *TransactionTable) PeekNextXid() Xid {
	return Xid(t.nextXid.Load())
}

// ActiveCount returns the number of active transactions.
func (t *TransactionTable) ActiveCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active.Len()
}

// Advance makes sure ids issued from now on are greater than last. Recovery
// uses it so replayed ids are never handed out again.
func (t *TransactionTable) Advance(last Xid) {
	for {
		cur := t.nextXid.Load()
		if cur > uint64(last) {
			return
		}
		if t.nextXid.CompareAndSwap(cur, uint64(last)+1) {
			return
		}
	}
}

// Quiescent reports whether every transaction with an id below barrier has
// ended.
func (t *TransactionTable) Quiescent(barrier Xid) bool {
	oldest, ok := t.OldestActive()
	return !ok || oldest >= barrier
}

// WaitQuiescent blocks until Quiescent(barrier) holds. The table is polled
// every poll interval and re-checked early whenever a transaction ends. tick,
// if not nil, is called with the oldest active id after every unsuccessful
// check. The wait has no deadline; only ctx cancellation stops it early.
func (t *TransactionTable) WaitQuiescent(ctx context.Context, barrier Xid, poll time.Duration, tick func(oldest Xid)) error {
	if poll <= 0 {
		poll = time.Millisecond
	}
	timer := time.NewTimer(poll)
	defer timer.Stop()

	for {
		t.mu.Lock()
		oldest, ok := t.active.Min()
		ended := t.ended
		t.mu.Unlock()

		if !ok || oldest >= barrier {
			return nil
		}
		if tick != nil {
			tick(oldest)
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(poll)

		select {
		case <-ended:
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
