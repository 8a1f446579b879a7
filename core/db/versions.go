package db

import (
	"github.com/sushant-115/gojokv/core/transaction"
)

// apply writes one committed change to the live store. The caller holds the
// key's stripe.
//
// While a checkpoint is in RESOLVE or CAPTURE the snapshot must show every
// key as of the RESOLVE barrier. The first write to a key by a transaction at
// or after the barrier therefore copies the boundary value into the stable
// store before touching the live store. Transactions older than the barrier
// are part of the snapshot, so their writes also update an existing stable
// copy.
func (db *DB) apply(xid transaction.Xid, key, value []byte, del bool) {
	state := db.cell.Load()
	if state.Phase == transaction.PhaseResolve || state.Phase == transaction.PhaseCapture {
		if state.Boundary != transaction.InvalidXid && xid >= state.Boundary {
			db.preserve(key, del)
		} else if db.stableKeys.Contains(key) {
			if del {
				db.stable.Delete(key)
				db.graveyard.Remove(key)
			} else {
				db.stable.Put(key, value)
			}
		}
	}

	if del {
		db.live.Delete(key)
	} else {
		db.live.Put(key, value)
	}
}

// preserve keeps the boundary version of key before a post-boundary write.
// Bookkeeping is updated before the live store so a capture that missed the
// key in the live store still finds it in the graveyard.
func (db *DB) preserve(key []byte, del bool) {
	if db.captured.Contains(key) {
		return
	}
	if db.stableKeys.Add(key) {
		if v, ok := db.live.Get(key); ok {
			db.stable.Put(key, v)
		}
	}
	if del {
		if _, ok := db.stable.Get(key); ok {
			db.graveyard.Add(key)
		}
	}
}

// clearStable drops the stable bookkeeping of key.
func (db *DB) clearStable(key []byte) {
	db.stable.Delete(key)
	db.graveyard.Remove(key)
	db.stableKeys.Remove(key)
}
