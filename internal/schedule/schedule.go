// Package schedule derives the backward-chained phase timeline of a
// production group.
//
// The chain is anchored on the delivery date and recomputed from scratch on
// every run:
//
//	Rest    ends ProductionBufferDays before delivery, spans 2n-1 days
//	Cast    ends 1 day before Rest starts, spans 2n-1 days
//	Weld    ends 1 day before Cast starts, spans 2n-1 days
//	Reuse   runs inside the Cast window, from Cast start+1 to Cast end-1
//	Create  ends 1 day before Weld starts
//	Design2 ends DesignToProductionBufferDays before Create starts
//	Design1 ends InterDesignBufferDays before Design2 starts
//
// where n is the unit count and all offsets are working days. Shop-floor
// phases (Rest, Cast, Weld, Reuse) honour the group's extra excluded weekday;
// Create and the design phases use the standard calendar.
package schedule

import (
	"github.com/shopspring/decimal"

	"github.com/roach88/castplan/internal/calendar"
	"github.com/roach88/castplan/internal/config"
	"github.com/roach88/castplan/internal/model"
)

// Scheduler computes timelines. It holds no state beyond its settings and is
// safe for concurrent use.
type Scheduler struct {
	cfg         config.Schedule
	efficiency  decimal.Decimal
	hoursPerDay decimal.Decimal
}

// New returns a Scheduler for the given settings.
func New(cfg config.Schedule) *Scheduler {
	return &Scheduler{
		cfg:         cfg,
		efficiency:  decimal.NewFromFloat(cfg.EfficiencyFactor),
		hoursPerDay: decimal.NewFromInt(int64(cfg.HoursPerDay)),
	}
}

// Schedule computes the timeline of in. The result depends on in and the
// scheduler settings only.
func (s *Scheduler) Schedule(in model.GroupInputs) Timeline {
	std := calendar.Standard()
	shop := s.shopCalendar(in)

	n := in.UnitCount
	span := 2*n - 1
	units := decimal.NewFromInt(int64(n))

	restEnd := shop.SubWorkingDays(in.DeliveryDate, s.cfg.ProductionBufferDays)
	restStart := shop.SubWorkingDays(restEnd, span)

	castEnd := shop.SubWorkingDays(restStart, 1)
	castStart := shop.SubWorkingDays(castEnd, span)

	weldEnd := shop.SubWorkingDays(castStart, 1)
	weldStart := shop.SubWorkingDays(weldEnd, span)

	createEnd := std.SubWorkingDays(weldStart, 1)
	createStart := std.SubWorkingDays(createEnd, s.CreateDays(in.CreateHours))

	design2End := std.SubWorkingDays(createStart, s.cfg.DesignToProductionBufferDays)
	design2Start := std.SubWorkingDays(design2End, s.designDays(in.Design2Hours))

	design1End := std.SubWorkingDays(design2Start, s.cfg.InterDesignBufferDays)
	design1Start := std.SubWorkingDays(design1End, s.designDays(in.Design1Hours))

	tl := Timeline{
		GroupID:             in.GroupID,
		DeliveryDate:        calendar.Day(in.DeliveryDate),
		UnitCount:           n,
		ExcludeExtraWeekday: shop.ExcludesExtra(),
	}
	tl.add(model.PhaseDesign1, design1Start, design1End, in.Design1Hours)
	tl.add(model.PhaseDesign2, design2Start, design2End, in.Design2Hours)
	tl.add(model.PhaseCreate, createStart, createEnd, in.CreateHours)
	tl.add(model.PhaseWeld, weldStart, weldEnd, units.Mul(in.WeldRate))
	tl.add(model.PhaseCast, castStart, castEnd, units.Mul(in.CastRate))

	if reuse := ReuseHours(n, in.ReuseRate); reuse.IsPositive() {
		tl.add(model.PhaseReuse,
			shop.AddWorkingDays(castStart, 1),
			shop.SubWorkingDays(castEnd, 1),
			reuse)
	}

	tl.add(model.PhaseRest, restStart, restEnd, units.Mul(in.RestRate))
	return tl
}

// CreateDays converts create-phase hours into working days:
// ceil(ceil(hours / efficiency) / hoursPerDay).
func (s *Scheduler) CreateDays(hours decimal.Decimal) int {
	if !hours.IsPositive() {
		return 0
	}
	effective := hours.Div(s.efficiency).Ceil()
	return int(effective.Div(s.hoursPerDay).Ceil().IntPart())
}

// designDays is the working-day span of a design phase: the estimate in
// days plus the customer response buffer.
func (s *Scheduler) designDays(hours decimal.Decimal) int {
	days := 0
	if hours.IsPositive() {
		days = int(hours.Div(s.hoursPerDay).Ceil().IntPart())
	}
	return days + s.cfg.CustomerResponseBufferDays
}

func (s *Scheduler) shopCalendar(in model.GroupInputs) calendar.Calendar {
	wd, ok := s.cfg.ExtraWeekday()
	return calendar.New(wd, ok && in.ExcludeExtraWeekday)
}

// ReuseHours is the mould-reuse effort: (units-1) x rate, never negative.
func ReuseHours(units int, rate decimal.Decimal) decimal.Decimal {
	if units <= 1 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(units - 1)).Mul(rate)
}
