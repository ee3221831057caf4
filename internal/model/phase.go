package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Phase names one step of the production workflow.
type Phase string

const (
	PhaseDesign1 Phase = "Design-1"
	PhaseDesign2 Phase = "Design-2"
	PhaseCreate  Phase = "Create"
	PhaseReuse   Phase = "Reuse"
	PhaseWeld    Phase = "Weld"
	PhaseCast    Phase = "Cast"
	PhaseRest    Phase = "Rest"
)

// Phases lists every phase in workflow order, earliest first.
var Phases = []Phase{
	PhaseDesign1,
	PhaseDesign2,
	PhaseCreate,
	PhaseWeld,
	PhaseCast,
	PhaseReuse,
	PhaseRest,
}

// PerUnit reports whether the phase is allocated once per production unit.
// Design phases are group-level.
func (p Phase) PerUnit() bool {
	return p != PhaseDesign1 && p != PhaseDesign2
}

// PhaseInterval is one scheduled phase: its working window and effort.
type PhaseInterval struct {
	Phase Phase           `json:"phase"`
	Start time.Time       `json:"start"`
	End   time.Time       `json:"end"`
	Hours decimal.Decimal `json:"hours"`
}
