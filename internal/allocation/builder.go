// Package allocation expands a phase timeline into the planned allocation
// set of a production group.
package allocation

import (
	"fmt"

	"github.com/roach88/castplan/internal/config"
	"github.com/roach88/castplan/internal/model"
	"github.com/roach88/castplan/internal/schedule"
)

// DepartmentIndex maps normalized department names to department IDs.
type DepartmentIndex map[string]string

// Resolve indexes depts and reports every roster department that has no
// entry, sorted.
func Resolve(roster config.Roster, depts []model.Department) (DepartmentIndex, []string) {
	idx := make(DepartmentIndex, len(depts))
	for _, d := range depts {
		name := model.NormalizeName(d.Name)
		if _, dup := idx[name]; !dup {
			idx[name] = d.ID
		}
	}
	var missing []string
	for _, name := range roster.Departments() {
		if _, ok := idx[name]; !ok {
			missing = append(missing, name)
		}
	}
	return idx, missing
}

// perUnitOrder is the emission order of the phases allocated per unit.
var perUnitOrder = []model.Phase{
	model.PhaseRest,
	model.PhaseCast,
	model.PhaseWeld,
	model.PhaseReuse,
	model.PhaseCreate,
}

// Builder turns timelines into planned allocations.
type Builder struct {
	roster config.Roster
}

// NewBuilder returns a Builder that binds phases through roster.
func NewBuilder(roster config.Roster) *Builder {
	return &Builder{roster: roster}
}

// Build emits, for every unit 1..UnitCount, one allocation per scheduled
// per-unit phase, followed by the two design allocations pinned to unit 1.
// Phases missing from the timeline are skipped. The result is the same, in
// the same order, for the same arguments.
func (b *Builder) Build(in model.GroupInputs, tl schedule.Timeline, depts DepartmentIndex) ([]model.Allocation, error) {
	out := make([]model.Allocation, 0, in.UnitCount*len(perUnitOrder)+2)

	for unit := 1; unit <= in.UnitCount; unit++ {
		for _, p := range perUnitOrder {
			a, ok, err := b.allocation(in, tl, depts, p, unit)
			if err != nil {
				return nil, err
			}
			if ok {
				out = append(out, a)
			}
		}
	}
	for _, p := range []model.Phase{model.PhaseDesign1, model.PhaseDesign2} {
		a, ok, err := b.allocation(in, tl, depts, p, 1)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, a)
		}
	}
	return out, nil
}

func (b *Builder) allocation(in model.GroupInputs, tl schedule.Timeline, depts DepartmentIndex, p model.Phase, unit int) (model.Allocation, bool, error) {
	iv, ok := tl.Interval(p)
	if !ok {
		return model.Allocation{}, false, nil
	}
	bind := b.roster.For(p)
	dept := model.NormalizeName(bind.Department)
	activity := model.NormalizeName(bind.Activity)

	deptID, ok := depts[dept]
	if !ok {
		return model.Allocation{}, false, fmt.Errorf("build allocations: unknown department %q", dept)
	}
	return model.Allocation{
		Key:          Key(in.Name, unit, dept, activity),
		GroupID:      in.GroupID,
		Phase:        p,
		DepartmentID: deptID,
		Department:   dept,
		Activity:     activity,
		Hours:        iv.Hours,
		Start:        iv.Start,
		End:          iv.End,
		UnitIndex:    unit,
	}, true, nil
}
