package reconcile

import (
	"github.com/roach88/castplan/internal/calendar"
	"github.com/roach88/castplan/internal/model"
)

// FieldDiff lists the comparable fields on which stored differs from
// planned: hours (decimal equality), start and end (calendar day only) and
// unit index. Department and activity are part of the key and never compared.
func FieldDiff(planned model.Allocation, stored model.StoredAllocation) []model.Reason {
	var reasons []model.Reason
	if !planned.Hours.Equal(stored.Hours) {
		reasons = append(reasons, model.ReasonHours)
	}
	if !calendar.SameDay(planned.Start, stored.Start) {
		reasons = append(reasons, model.ReasonStart)
	}
	if !calendar.SameDay(planned.End, stored.End) {
		reasons = append(reasons, model.ReasonEnd)
	}
	if planned.UnitIndex != stored.UnitIndex {
		reasons = append(reasons, model.ReasonUnitIndex)
	}
	return reasons
}

// classify decides what a matched stored record needs. It returns ok=false
// when the record already matches the plan under marker.
func classify(planned model.Allocation, stored model.StoredAllocation, marker string) (model.Patch, bool) {
	reasons := FieldDiff(planned, stored)
	if stored.Deleted {
		reasons = append(reasons, model.ReasonRevived)
	}
	if len(reasons) > 0 {
		if stored.Marker != marker {
			reasons = append(reasons, model.ReasonMarker)
		}
		return model.UpdatePatch(stored.ID, planned, marker, reasons...), true
	}
	if stored.Marker != marker {
		return model.RefreshPatch(stored.ID, stored.Key, marker, model.ReasonMarker), true
	}
	return model.Patch{}, false
}

// prune decides what a stored record absent from the plan needs.
func prune(stored model.StoredAllocation, marker string, reason model.Reason) (model.Patch, bool) {
	switch {
	case !stored.Deleted:
		return model.SoftDeletePatch(stored.ID, stored.Key, marker, reason), true
	case stored.Marker != marker:
		return model.RefreshPatch(stored.ID, stored.Key, marker, reason), true
	default:
		return model.Patch{}, false
	}
}
