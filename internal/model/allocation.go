package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Allocation is one planned unit of work: a department doing an activity for
// one production unit during a window.
//
// Key is derived from GroupName, UnitIndex, Department and Activity when the
// allocation is built and is never recomputed for a stored record.
type Allocation struct {
	Key          string          `json:"key"`
	GroupID      string          `json:"group_id"`
	Phase        Phase           `json:"phase"`
	DepartmentID string          `json:"department_id"`
	Department   string          `json:"department"`
	Activity     string          `json:"activity"`
	Hours        decimal.Decimal `json:"hours"`
	Start        time.Time       `json:"start"`
	End          time.Time       `json:"end"`
	UnitIndex    int             `json:"unit_index"`
}

// StoredAllocation is an allocation as it currently exists in the store.
type StoredAllocation struct {
	ID      string `json:"id"`
	Marker  string `json:"generation_marker"`
	Deleted bool   `json:"deleted"`
	Allocation
}

// Op is the kind of write a Patch performs.
type Op string

const (
	// OpUpdate rewrites the comparable fields, clears the deleted flag and
	// sets the marker.
	OpUpdate Op = "update"
	// OpRefresh only sets the marker.
	OpRefresh Op = "refresh"
	// OpSoftDelete sets the deleted flag and the marker.
	OpSoftDelete Op = "soft_delete"
)

// Reason explains why a stored allocation is patched.
type Reason string

const (
	ReasonHours     Reason = "hours"
	ReasonStart     Reason = "start"
	ReasonEnd       Reason = "end"
	ReasonUnitIndex Reason = "unit_index"
	ReasonRevived   Reason = "revived"
	ReasonMarker    Reason = "marker"
	ReasonStale     Reason = "stale"
	ReasonDuplicate Reason = "duplicate"
)

// Patch is a write against an existing stored allocation.
type Patch struct {
	ID      string
	Key     string
	Op      Op
	Reasons []Reason
	Marker  string

	// Fields is set for OpUpdate only.
	Fields *Allocation
	// Deleted is nil when the flag is left as is.
	Deleted *bool
}

// UpdatePatch rewrites id with the planned fields under marker and clears
// the deleted flag.
func UpdatePatch(id string, planned Allocation, marker string, reasons ...Reason) Patch {
	fields := planned
	return Patch{
		ID:      id,
		Key:     planned.Key,
		Op:      OpUpdate,
		Reasons: reasons,
		Marker:  marker,
		Fields:  &fields,
		Deleted: boolPtr(false),
	}
}

// RefreshPatch moves id to marker without touching anything else.
func RefreshPatch(id, key, marker string, reasons ...Reason) Patch {
	return Patch{ID: id, Key: key, Op: OpRefresh, Reasons: reasons, Marker: marker}
}

// SoftDeletePatch flags id as deleted under marker.
func SoftDeletePatch(id, key, marker string, reasons ...Reason) Patch {
	return Patch{
		ID:      id,
		Key:     key,
		Op:      OpSoftDelete,
		Reasons: reasons,
		Marker:  marker,
		Deleted: boolPtr(true),
	}
}

// Apply returns stored with the patch applied. Stores without partial
// updates use it to compute the full row.
func (p Patch) Apply(stored StoredAllocation) StoredAllocation {
	out := stored
	if p.Fields != nil {
		id := out.ID
		out.Allocation = *p.Fields
		out.ID = id
	}
	if p.Deleted != nil {
		out.Deleted = *p.Deleted
	}
	out.Marker = p.Marker
	return out
}

func boolPtr(b bool) *bool { return &b }

// Department is a row of the department lookup table.
type Department struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}
