package transaction

import "fmt"

// CheckpointPhase is the phase of the fuzzy checkpoint cycle. Phases advance in
// the fixed order REST -> PREPARE -> RESOLVE -> CAPTURE -> COMPLETE -> REST.
type CheckpointPhase uint8

const (
	PhaseRest CheckpointPhase = iota + 1
	PhasePrepare
	PhaseResolve
	PhaseCapture
	PhaseComplete
)

// Phases lists every phase in cycle order, starting at REST.
var Phases = []CheckpointPhase{PhaseRest, PhasePrepare, PhaseResolve, PhaseCapture, PhaseComplete}

// Valid reports whether p is one of the five known phases.
func (p CheckpointPhase) Valid() bool {
	return p >= PhaseRest && p <= PhaseComplete
}

// Next returns the phase that follows p in the cycle.
func (p CheckpointPhase) Next() CheckpointPhase {
	if !p.Valid() || p == PhaseComplete {
		return PhaseRest
	}
	return p + 1
}

func (p CheckpointPhase) String() string {
	switch p {
	case PhaseRest:
		return "REST"
	case PhasePrepare:
		return "PREPARE"
	case PhaseResolve:
		return "RESOLVE"
	case PhaseCapture:
		return "CAPTURE"
	case PhaseComplete:
		return "COMPLETE"
	default:
		return fmt.Sprintf("PHASE(%d)", uint8(p))
	}
}
