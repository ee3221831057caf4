package harness

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/roach88/castplan/internal/config"
	"github.com/roach88/castplan/internal/engine"
	"github.com/roach88/castplan/internal/logging"
	"github.com/roach88/castplan/internal/model"
	"github.com/roach88/castplan/internal/store"
	"github.com/roach88/castplan/internal/testutil"
)

// scenarioStart is the fixed wall clock of every scenario.
var scenarioStart = time.Date(2025, 3, 3, 6, 0, 0, 0, time.UTC)

// Harness executes one scenario against its own store.
type Harness struct {
	store   *hookedStore
	engine  *engine.Engine
	preview *engine.Engine
	group   string
	logger  logrus.FieldLogger
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
//
// Execution flow:
//  1. Create fresh in-memory database and seed the fixture
//  2. Execute flow steps, checking each run's expect clause
//  3. Capture the final state and evaluate assertions
//
// An error is returned when the scenario cannot be executed at all; failed
// expectations are reported through Result.
func Run(scenario *Scenario) (*Result, error) {
	return RunWithLogger(scenario, nil)
}

// RunWithLogger is Run with engine logging sent to log.
func RunWithLogger(scenario *Scenario, log logrus.FieldLogger) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()
	if err := store.Seed(ctx, st, scenario.Fixture); err != nil {
		return nil, fmt.Errorf("failed to seed fixture: %w", err)
	}

	log = logging.OrDiscard(log)
	hs := &hookedStore{Store: st}
	clock := testutil.NewClock(scenarioStart)
	cfg := config.Default()
	h := &Harness{
		store: hs,
		engine: engine.New(hs, cfg,
			engine.WithMarkerGenerator(engine.NewFixedGenerator(markersFor(scenario)...)),
			engine.WithClock(clock.Now),
			engine.WithLogger(log),
		),
		preview: engine.New(hs, cfg,
			engine.WithMarkerGenerator(testutil.NewMarkerSequence("preview")),
			engine.WithClock(clock.Now),
		),
		group:  scenario.Group,
		logger: log,
	}

	result := NewResult()
	for i, step := range scenario.Flow {
		clock.Advance(time.Minute)
		if err := h.executeStep(ctx, i+1, step, result); err != nil {
			return nil, fmt.Errorf("flow step %d (%s): %w", i+1, step.Kind(), err)
		}
	}
	if hs.pending() {
		result.AddError("concurrent insert was armed but no run re-checked before creating")
	}

	state, err := h.captureState(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to capture final state: %w", err)
	}
	result.State = state

	actx := &AssertionContext{Store: st, Ctx: ctx, Group: scenario.Group}
	for _, msg := range EvaluateAssertions(scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

func markersFor(s *Scenario) []string {
	if len(s.Markers) > 0 {
		return s.Markers
	}
	var markers []string
	for _, step := range s.Flow {
		if step.Run != nil {
			markers = append(markers, fmt.Sprintf("gen-%d", len(markers)+1))
		}
	}
	return markers
}

func (h *Harness) executeStep(ctx context.Context, n int, step Step, result *Result) error {
	event := TraceEvent{Step: n, Action: step.Kind()}
	log := h.logger.WithFields(logrus.Fields{"step": n, "action": event.Action})

	switch {
	case step.Run != nil:
		res, err := h.engine.Run(ctx, h.group)
		event.Marker = res.Marker
		if err != nil {
			event.Error = errorCode(err)
		} else {
			event.Ledger = countLedger(res.Ledger)
		}
		for _, msg := range checkExpect(n, step.Run.Expect, event, err) {
			result.AddError(msg)
		}

	case step.Set != nil:
		if err := h.setGroup(ctx, *step.Set); err != nil {
			return err
		}

	case step.Duplicate != "":
		event.Key = step.Duplicate
		if err := h.duplicate(ctx, step.Duplicate); err != nil {
			return err
		}

	case step.ConcurrentInsert != nil:
		event.Key = step.ConcurrentInsert.Key
		if err := h.armInsert(ctx, *step.ConcurrentInsert); err != nil {
			return err
		}
	}

	log.Debug("scenario step done")
	result.Trace = append(result.Trace, event)
	return nil
}

func errorCode(err error) string {
	var re *engine.RunError
	if errors.As(err, &re) {
		return string(re.Code)
	}
	return "ERROR"
}

func checkExpect(n int, exp *Expect, event TraceEvent, runErr error) []string {
	if exp == nil {
		if runErr != nil {
			return []string{fmt.Sprintf("step %d: run failed: %v", n, runErr)}
		}
		return nil
	}
	if exp.Error != "" || runErr != nil {
		if event.Error != exp.Error {
			return []string{fmt.Sprintf("step %d: expected error %q, got %q (%v)", n, exp.Error, event.Error, runErr)}
		}
		return nil
	}

	var errs []string
	check := func(name string, want *int, got int) {
		if want != nil && *want != got {
			errs = append(errs, fmt.Sprintf("step %d: expected %d %s, got %d", n, *want, name, got))
		}
	}
	l := event.Ledger
	check("created", exp.Created, l.Created)
	check("updated", exp.Updated, l.Updated)
	check("deleted", exp.Deleted, l.Deleted)
	check("failed", exp.Failed, l.Failed)
	check("redirected", exp.Redirected, l.Redirected)
	check("dropped", exp.Dropped, l.Dropped)
	return errs
}

// setGroup overwrites the fields set in patch.
func (h *Harness) setGroup(ctx context.Context, patch model.GroupRecord) error {
	rec, err := h.store.GetGroup(ctx, h.group)
	if err != nil {
		return err
	}
	mergeGroup(&rec, patch)
	return h.store.PutGroup(ctx, rec)
}

func mergeGroup(dst *model.GroupRecord, src model.GroupRecord) {
	if src.Name != nil {
		dst.Name = src.Name
	}
	if src.UnitCount != nil {
		dst.UnitCount = src.UnitCount
	}
	if src.DeliveryDate != nil {
		dst.DeliveryDate = src.DeliveryDate
	}
	if src.RestRate != nil {
		dst.RestRate = src.RestRate
	}
	if src.CastRate != nil {
		dst.CastRate = src.CastRate
	}
	if src.WeldRate != nil {
		dst.WeldRate = src.WeldRate
	}
	if src.ReuseRate != nil {
		dst.ReuseRate = src.ReuseRate
	}
	if src.CreateHours != nil {
		dst.CreateHours = src.CreateHours
	}
	if src.Design1Hours != nil {
		dst.Design1Hours = src.Design1Hours
	}
	if src.Design2Hours != nil {
		dst.Design2Hours = src.Design2Hours
	}
	if src.ColorCode != nil {
		dst.ColorCode = src.ColorCode
	}
}

// duplicate stores a second copy of the live record with key.
func (h *Harness) duplicate(ctx context.Context, key string) error {
	records, err := h.store.Store.QueryAllocations(ctx, h.group)
	if err != nil {
		return err
	}
	for _, r := range records {
		if r.Key == key && !r.Deleted {
			_, err := h.store.CreateAllocations(ctx, []model.Allocation{r.Allocation}, r.Marker)
			return err
		}
	}
	return fmt.Errorf("no live record with key %s", key)
}

// armInsert makes the next run's re-check find a record for ins.Key that
// was written after its snapshot.
func (h *Harness) armInsert(ctx context.Context, ins InsertStep) error {
	_, plan, err := h.preview.DryRun(ctx, h.group)
	if err != nil {
		return err
	}
	var planned *model.Allocation
	for i := range plan.Create {
		if plan.Create[i].Key == ins.Key {
			planned = &plan.Create[i]
			break
		}
	}
	if planned == nil {
		return fmt.Errorf("key %s is not planned for creation", ins.Key)
	}

	a := *planned
	if ins.Hours != "" {
		a.Hours = decimal.RequireFromString(ins.Hours)
	}
	// Query 1 of the next run is its snapshot, query 2 the first re-check.
	h.store.arm(2, func(ctx context.Context) error {
		ids, err := h.store.Store.CreateAllocations(ctx, []model.Allocation{a}, ins.marker())
		if err != nil || !ins.Deleted {
			return err
		}
		return h.store.Store.UpdateAllocations(ctx, []model.Patch{
			model.SoftDeletePatch(ids[0], a.Key, ins.marker()),
		})
	})
	return nil
}

func (h *Harness) captureState(ctx context.Context) (State, error) {
	records, err := h.store.Store.QueryAllocations(ctx, h.group)
	if err != nil {
		return State{}, err
	}
	state := State{Markers: map[string]int{}}
	for _, r := range records {
		if r.Deleted {
			state.Deleted++
		} else {
			state.Live++
		}
		state.Markers[r.Marker]++
	}
	return state, nil
}

// hookedStore lets a scenario interleave a write with the engine's reads.
type hookedStore struct {
	*store.Store

	mu        sync.Mutex
	countdown int
	hook      func(context.Context) error
}

// arm runs hook right before the n-th QueryAllocations call from now.
func (s *hookedStore) arm(n int, hook func(context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.countdown = n
	s.hook = hook
}

func (s *hookedStore) pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hook != nil
}

func (s *hookedStore) QueryAllocations(ctx context.Context, groupID string) ([]model.StoredAllocation, error) {
	s.mu.Lock()
	var fire func(context.Context) error
	if s.hook != nil {
		s.countdown--
		if s.countdown == 0 {
			fire, s.hook = s.hook, nil
		}
	}
	s.mu.Unlock()

	if fire != nil {
		if err := fire(ctx); err != nil {
			return nil, fmt.Errorf("concurrent insert: %w", err)
		}
	}
	return s.Store.QueryAllocations(ctx, groupID)
}
