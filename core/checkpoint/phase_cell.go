package checkpoint

import (
	"sync"

	"github.com/sushant-115/gojokv/core/transaction"
)

// PhaseState is a consistent view of the checkpoint coordinator's state.
type PhaseState struct {
	Phase transaction.CheckpointPhase
	// Barrier is the id stamped by the most recent barrier transition.
	Barrier transaction.Xid
	// Boundary is the RESOLVE barrier of the current cycle. Transactions with
	// an id at or above it run after the snapshot boundary.
	Boundary transaction.Xid
	Cycle    uint64
}

// PhaseCell holds the process-wide checkpoint phase. Transactions read it;
// only the Checkpointer writes it.
type PhaseCell struct {
	mu    sync.RWMutex
	state PhaseState
}

func NewPhaseCell() *PhaseCell {
	return &PhaseCell{state: PhaseState{Phase: transaction.PhaseRest}}
}

// Load returns the current state.
func (c *PhaseCell) Load() PhaseState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Phase returns the current phase.
func (c *PhaseCell) Phase() transaction.CheckpointPhase {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Phase
}

// advance flips the phase and, when stamp is set, stamps a barrier from
// table while still holding the write lock. A transaction that obtains an id
// at or above the barrier therefore can only observe the new phase.
func (c *PhaseCell) advance(next transaction.CheckpointPhase, table *transaction.TransactionTable, stamp bool) PhaseState {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state.Phase = next
	if stamp {
		c.state.Barrier = table.PeekNextXid()
	}
	switch next {
	case transaction.PhasePrepare:
		c.state.Cycle++
		c.state.Boundary = transaction.InvalidXid
	case transaction.PhaseResolve:
		c.state.Boundary = c.state.Barrier
	}
	return c.state
}
