package schedule

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/castplan/internal/calendar"
	"github.com/roach88/castplan/internal/model"
)

// Timeline is the computed schedule of one group, in workflow order.
type Timeline struct {
	GroupID             string
	DeliveryDate        time.Time
	UnitCount           int
	ExcludeExtraWeekday bool
	Intervals           []model.PhaseInterval
}

func (t *Timeline) add(p model.Phase, start, end time.Time, hours decimal.Decimal) {
	t.Intervals = append(t.Intervals, model.PhaseInterval{
		Phase: p,
		Start: start,
		End:   end,
		Hours: hours,
	})
}

// Interval returns the interval of p. ok is false when the phase is not
// scheduled, which only happens for Reuse.
func (t Timeline) Interval(p model.Phase) (model.PhaseInterval, bool) {
	for _, iv := range t.Intervals {
		if iv.Phase == p {
			return iv, true
		}
	}
	return model.PhaseInterval{}, false
}

// Row is the printable form of one interval.
type Row struct {
	Phase string `json:"phase"`
	Start string `json:"start"`
	End   string `json:"end"`
	Hours string `json:"hours"`
}

// Summary is the printable form of a timeline.
type Summary struct {
	GroupID             string `json:"group_id"`
	DeliveryDate        string `json:"delivery_date"`
	UnitCount           int    `json:"unit_count"`
	ExcludeExtraWeekday bool   `json:"exclude_extra_weekday"`
	Phases              []Row  `json:"phases"`
}

// Summary renders dates as ISO days and hours as plain decimals.
func (t Timeline) Summary() Summary {
	s := Summary{
		GroupID:             t.GroupID,
		DeliveryDate:        calendar.Format(t.DeliveryDate),
		UnitCount:           t.UnitCount,
		ExcludeExtraWeekday: t.ExcludeExtraWeekday,
		Phases:              make([]Row, 0, len(t.Intervals)),
	}
	for _, iv := range t.Intervals {
		s.Phases = append(s.Phases, Row{
			Phase: string(iv.Phase),
			Start: calendar.Format(iv.Start),
			End:   calendar.Format(iv.End),
			Hours: iv.Hours.String(),
		})
	}
	return s
}
