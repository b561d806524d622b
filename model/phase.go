package model

import "fmt"

// Phase is a step in a work order's life. Phase transitions are governed by a
// single table; see NextPhase.
type Phase string

const (
	PhasePendingAssignment Phase = "pending_assignment"
	PhaseInitialTesting    Phase = "initial_testing"
	PhaseTeardown          Phase = "teardown"
	PhaseRepairScope       Phase = "repair_scope"
	PhaseRebuild           Phase = "rebuild"
	PhaseFinalTesting      Phase = "final_testing"
	PhaseInspection        Phase = "inspection"
	PhaseAwaitingApproval  Phase = "awaiting_approval"
	PhaseQCReview          Phase = "qc_review"
	PhaseCompleted         Phase = "completed"
	PhaseCancelled         Phase = "cancelled"
)

// Work types with a dedicated entry phase.
const (
	WorkTypeInspection = "inspection"
	WorkTypeQC         = "qc"
)

type phaseEdge struct {
	next             Phase
	requiresApproval bool
}

// phaseTable is the only place phase transitions are defined. Terminal phases
// have no entry.
var phaseTable = map[Phase]phaseEdge{
	PhasePendingAssignment: {next: PhaseInitialTesting},
	PhaseInitialTesting:    {next: PhaseTeardown},
	PhaseTeardown:          {next: PhaseRepairScope},
	PhaseRepairScope:       {next: PhaseRebuild, requiresApproval: true},
	PhaseRebuild:           {next: PhaseFinalTesting},
	PhaseFinalTesting:      {next: PhaseCompleted},
	PhaseInspection:        {next: PhaseAwaitingApproval},
	PhaseAwaitingApproval:  {next: PhaseCompleted, requiresApproval: true},
	PhaseQCReview:          {next: PhaseCompleted, requiresApproval: true},
}

// AllPhases lists every phase in display order.
var AllPhases = []Phase{
	PhasePendingAssignment,
	PhaseInitialTesting,
	PhaseTeardown,
	PhaseRepairScope,
	PhaseRebuild,
	PhaseFinalTesting,
	PhaseInspection,
	PhaseAwaitingApproval,
	PhaseQCReview,
	PhaseCompleted,
	PhaseCancelled,
}

// ParsePhase converts s into a Phase, rejecting unknown values.
func ParsePhase(s string) (Phase, error) {
	p := Phase(s)
	if !p.Valid() {
		return "", fmt.Errorf("unknown phase %q", s)
	}
	return p, nil
}

// Valid reports whether p is one of the known phases.
func (p Phase) Valid() bool {
	switch p {
	case PhaseCompleted, PhaseCancelled:
		return true
	}
	_, ok := phaseTable[p]
	return ok
}

// Terminal reports whether no further transition is possible out of p.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseCancelled
}

// NextPhase returns the phase that follows p. ok is false for terminal or
// unknown phases.
func NextPhase(p Phase) (next Phase, ok bool) {
	edge, ok := phaseTable[p]
	if !ok {
		return "", false
	}
	return edge.next, true
}

// RequiresApproval reports whether leaving p needs a manager decision.
func RequiresApproval(p Phase) bool {
	return phaseTable[p].requiresApproval
}

// CanTransition reports whether moving from -> to is allowed: either the
// table edge out of from, or a cancellation of a non-terminal phase.
func CanTransition(from, to Phase) bool {
	if !from.Valid() || from.Terminal() {
		return false
	}
	if to == PhaseCancelled {
		return true
	}
	next, ok := NextPhase(from)
	return ok && next == to
}

// InitialPhase returns the entry phase for a new work order of workType.
func InitialPhase(workType string) Phase {
	switch workType {
	case WorkTypeInspection:
		return PhaseInspection
	case WorkTypeQC:
		return PhaseQCReview
	default:
		return PhasePendingAssignment
	}
}
