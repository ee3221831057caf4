// Package reconcile diffs a planned allocation set against the store.
//
// Every run carries a fresh generation marker. A matched record is updated
// when a comparable field differs or it is soft-deleted, and refreshed when
// only its marker is old. Stored records absent from the plan are
// soft-deleted. Right before each create chunk the snapshot is read again so
// that keys created by a concurrent run are updated or dropped instead of
// created twice. That re-check narrows the race window; it does not close it.
package reconcile

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/roach88/castplan/internal/logging"
	"github.com/roach88/castplan/internal/model"
)

// Plan is the reconciliation outcome for one run.
type Plan struct {
	GroupID string
	Marker  string
	Planned int

	// Create holds planned allocations with no stored record, in plan order.
	Create []model.Allocation
	// Update holds patches for matched records, in plan order.
	Update []model.Patch
	// Unchanged holds the keys that already match the plan and marker.
	Unchanged []string
	// Stale holds patches for stored records absent from the plan and for
	// duplicate records, ordered by key then ID.
	Stale []model.Patch
}

// Counts summarizes the plan.
type Counts struct {
	Planned   int `json:"planned"`
	Create    int `json:"create"`
	Update    int `json:"update"`
	Refresh   int `json:"refresh"`
	Unchanged int `json:"unchanged"`
	Stale     int `json:"stale"`
}

// Counts tallies the plan. Refresh counts marker-only patches among both
// updates and stale records.
func (p Plan) Counts() Counts {
	c := Counts{
		Planned:   p.Planned,
		Create:    len(p.Create),
		Unchanged: len(p.Unchanged),
	}
	for _, u := range p.Update {
		if u.Op == model.OpRefresh {
			c.Refresh++
		} else {
			c.Update++
		}
	}
	for _, s := range p.Stale {
		if s.Op == model.OpRefresh {
			c.Refresh++
		} else {
			c.Stale++
		}
	}
	return c
}

// Reconciler reads snapshots and classifies planned allocations.
type Reconciler struct {
	src Source
	log logrus.FieldLogger
}

// New returns a Reconciler reading from src. A nil logger discards output.
func New(src Source, log logrus.FieldLogger) *Reconciler {
	return &Reconciler{src: src, log: logging.OrDiscard(log)}
}

// Snapshot reads the current stored allocations of groupID.
func (r *Reconciler) Snapshot(ctx context.Context, groupID string) (Snapshot, error) {
	return ReadSnapshot(ctx, r.src, groupID)
}

// Reconcile classifies planned against snap under marker. It performs no
// I/O. A key planned twice is only considered once.
func (r *Reconciler) Reconcile(groupID string, planned []model.Allocation, snap Snapshot, marker string) Plan {
	plan := Plan{GroupID: groupID, Marker: marker}
	seen := make(map[string]bool, len(planned))

	for _, a := range planned {
		if seen[a.Key] {
			r.log.WithFields(logrus.Fields{"group_id": groupID, "key": a.Key}).Warn("duplicate planned key ignored")
			continue
		}
		seen[a.Key] = true
		plan.Planned++

		stored, ok := snap.ByKey[a.Key]
		if !ok {
			plan.Create = append(plan.Create, a)
			continue
		}
		if patch, needed := classify(a, stored, marker); needed {
			plan.Update = append(plan.Update, patch)
		} else {
			plan.Unchanged = append(plan.Unchanged, a.Key)
		}
	}

	for _, key := range snap.Keys() {
		if seen[key] {
			continue
		}
		if patch, needed := prune(snap.ByKey[key], marker, model.ReasonStale); needed {
			plan.Stale = append(plan.Stale, patch)
		}
	}
	for _, dup := range snap.Duplicates {
		if patch, needed := prune(dup, marker, model.ReasonDuplicate); needed {
			plan.Stale = append(plan.Stale, patch)
		}
	}

	c := plan.Counts()
	r.log.WithFields(logrus.Fields{
		"group_id":          groupID,
		"generation_marker": marker,
		"planned":           c.Planned,
		"create":            c.Create,
		"update":            c.Update,
		"refresh":           c.Refresh,
		"unchanged":         c.Unchanged,
		"stale":             c.Stale,
		"duplicates":        len(snap.Duplicates),
	}).Debug("reconciled plan")
	return plan
}

// RecheckResult splits a create chunk after re-reading the store.
type RecheckResult struct {
	// Create holds allocations still absent from the store.
	Create []model.Allocation
	// Redirect holds updates for keys that appeared with different fields
	// or in deleted state.
	Redirect []model.Patch
	// Dropped holds keys that appeared already matching the plan.
	Dropped []string
}

// Recheck re-reads the snapshot of groupID and re-evaluates chunk against
// it. Marker differences alone do not redirect: a record that matches the
// plan was written by a concurrent run and is left to it.
func (r *Reconciler) Recheck(ctx context.Context, groupID string, chunk []model.Allocation, marker string) (RecheckResult, error) {
	fresh, err := r.Snapshot(ctx, groupID)
	if err != nil {
		return RecheckResult{}, err
	}
	res := RecheckChunk(chunk, fresh, marker)
	if len(res.Redirect) > 0 || len(res.Dropped) > 0 {
		r.log.WithFields(logrus.Fields{
			"group_id":          groupID,
			"generation_marker": marker,
			"redirected":        len(res.Redirect),
			"dropped":           len(res.Dropped),
		}).Info("concurrent writes detected before create")
	}
	return res, nil
}

// RecheckChunk is the pure part of Recheck.
func RecheckChunk(chunk []model.Allocation, fresh Snapshot, marker string) RecheckResult {
	var res RecheckResult
	for _, a := range chunk {
		stored, ok := fresh.ByKey[a.Key]
		if !ok {
			res.Create = append(res.Create, a)
			continue
		}
		reasons := FieldDiff(a, stored)
		if stored.Deleted {
			reasons = append(reasons, model.ReasonRevived)
		}
		if len(reasons) == 0 {
			res.Dropped = append(res.Dropped, a.Key)
			continue
		}
		res.Redirect = append(res.Redirect, model.UpdatePatch(stored.ID, a, marker, reasons...))
	}
	return res
}
