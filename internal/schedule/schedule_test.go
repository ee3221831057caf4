package schedule

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/castplan/internal/calendar"
	"github.com/roach88/castplan/internal/config"
	"github.com/roach88/castplan/internal/model"
)

func inputs(t *testing.T, units int) model.GroupInputs {
	t.Helper()
	delivery, err := calendar.Parse("2025-06-30")
	require.NoError(t, err)
	return model.GroupInputs{
		GroupID:      "grp-1",
		Name:         "PG100",
		UnitCount:    units,
		DeliveryDate: delivery,
		RestRate:     decimal.NewFromInt(2),
		CastRate:     decimal.NewFromInt(4),
		WeldRate:     decimal.NewFromInt(5),
		ReuseRate:    decimal.NewFromInt(3),
		CreateHours:  decimal.NewFromInt(100),
		Design1Hours: decimal.NewFromInt(16),
		Design2Hours: decimal.NewFromInt(24),
	}
}

func newScheduler() *Scheduler {
	return New(config.Default().Schedule)
}

func assertGolden(t *testing.T, name string, tl Timeline) {
	t.Helper()
	data, err := json.MarshalIndent(tl.Summary(), "", "  ")
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, append(data, '\n'))
}

func TestSchedule_Golden(t *testing.T) {
	assertGolden(t, "delivery_2025_06_30", newScheduler().Schedule(inputs(t, 3)))
}

func TestSchedule_GoldenExtraWeekday(t *testing.T) {
	in := inputs(t, 3)
	in.ExcludeExtraWeekday = true
	assertGolden(t, "delivery_2025_06_30_friday", newScheduler().Schedule(in))
}

func TestSchedule_ReuseForEveryMultiUnitGroup(t *testing.T) {
	tl := newScheduler().Schedule(inputs(t, 3))

	reuse, ok := tl.Interval(model.PhaseReuse)
	require.True(t, ok)
	assert.True(t, reuse.Hours.Equal(decimal.NewFromInt(6)))

	cast, _ := tl.Interval(model.PhaseCast)
	assert.True(t, reuse.Start.After(cast.Start))
	assert.True(t, reuse.End.Before(cast.End))
}

func TestSchedule_SingleUnitHasNoReuse(t *testing.T) {
	tl := newScheduler().Schedule(inputs(t, 1))

	_, ok := tl.Interval(model.PhaseReuse)
	assert.False(t, ok)
	assert.Len(t, tl.Intervals, 6)
	assert.True(t, ReuseHours(1, decimal.NewFromInt(3)).IsZero())
}

func TestSchedule_ZeroReuseRateHasNoReuse(t *testing.T) {
	in := inputs(t, 4)
	in.ReuseRate = decimal.Zero
	_, ok := newScheduler().Schedule(in).Interval(model.PhaseReuse)
	assert.False(t, ok)
}

func TestCreateDays(t *testing.T) {
	s := newScheduler()
	assert.Equal(t, 20, s.CreateDays(decimal.NewFromInt(100)))
	assert.Equal(t, 1, s.CreateDays(decimal.NewFromInt(1)))
	assert.Equal(t, 0, s.CreateDays(decimal.Zero))
	// 52 / 0.65 is exactly 80 hours, or 10 days.
	assert.Equal(t, 10, s.CreateDays(decimal.NewFromInt(52)))
}

func TestSchedule_ChainOrdering(t *testing.T) {
	tl := newScheduler().Schedule(inputs(t, 5))

	order := []model.Phase{model.PhaseDesign1, model.PhaseDesign2, model.PhaseCreate, model.PhaseWeld, model.PhaseCast, model.PhaseRest}
	for i := 1; i < len(order); i++ {
		prev, _ := tl.Interval(order[i-1])
		next, _ := tl.Interval(order[i])
		assert.Truef(t, prev.End.Before(next.Start), "%s must end before %s starts", prev.Phase, next.Phase)
	}
	for _, iv := range tl.Intervals {
		assert.Falsef(t, iv.End.Before(iv.Start), "%s ends before it starts", iv.Phase)
	}

	rest, _ := tl.Interval(model.PhaseRest)
	assert.Equal(t, tl.DeliveryDate, calendar.Standard().AddWorkingDays(rest.End, 8))
}

func TestSchedule_ShopFloorSkipsExtraWeekday(t *testing.T) {
	in := inputs(t, 6)
	in.ExcludeExtraWeekday = true
	tl := newScheduler().Schedule(in)

	for _, iv := range tl.Intervals {
		if iv.Phase.PerUnit() && iv.Phase != model.PhaseCreate {
			assert.NotEqualf(t, time.Friday, iv.Start.Weekday(), "%s start", iv.Phase)
			assert.NotEqualf(t, time.Friday, iv.End.Weekday(), "%s end", iv.Phase)
		}
	}
}

func TestSchedule_ExtraWeekdayDisabledByConfig(t *testing.T) {
	cfg := config.Default().Schedule
	cfg.ExtraExcludedWeekday = ""
	in := inputs(t, 3)
	in.ExcludeExtraWeekday = true

	tl := New(cfg).Schedule(in)
	assert.False(t, tl.ExcludeExtraWeekday)
	assert.Equal(t, newScheduler().Schedule(inputs(t, 3)).Intervals, tl.Intervals)
}

func TestSchedule_Deterministic(t *testing.T) {
	s := newScheduler()
	in := inputs(t, 4)
	assert.Equal(t, s.Schedule(in), s.Schedule(in))
}

func TestSchedule_InterDesignBuffer(t *testing.T) {
	cfg := config.Default().Schedule
	cfg.InterDesignBufferDays = 3
	tl := New(cfg).Schedule(inputs(t, 3))

	d1, _ := tl.Interval(model.PhaseDesign1)
	d2, _ := tl.Interval(model.PhaseDesign2)
	assert.Equal(t, d2.Start, calendar.Standard().AddWorkingDays(d1.End, 3))
}
