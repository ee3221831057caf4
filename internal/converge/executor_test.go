package converge

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/castplan/internal/audit"
	"github.com/roach88/castplan/internal/metrics"
	"github.com/roach88/castplan/internal/model"
	"github.com/roach88/castplan/internal/reconcile"
	tu "github.com/roach88/castplan/internal/testutil"
)

const groupID = "grp-1"

type fixture struct {
	store    *tu.MemStore
	rec      *reconcile.Reconciler
	exec     *Executor
	metrics  *metrics.Metrics
	logHook  *test.Hook
	clock    *tu.Clock
	recorder audit.Recorder
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	store := tu.NewMemStore()
	name := "PG100"
	store.PutGroup(model.GroupRecord{ID: groupID, Name: &name})

	log, hook := test.NewNullLogger()
	_, m := metrics.NewRegistry()
	clock := tu.NewClock(time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC))
	rec := audit.NewStoreRecorder(store, audit.WithLogger(log))
	r := reconcile.New(store, log)

	opts = append([]Option{WithLogger(log), WithMetrics(m), WithClock(clock.Now)}, opts...)
	return &fixture{
		store:    store,
		rec:      r,
		exec:     NewExecutor(store, r, rec, opts...),
		metrics:  m,
		logHook:  hook,
		clock:    clock,
		recorder: rec,
	}
}

func (f *fixture) plan(t *testing.T, planned []model.Allocation, marker string) reconcile.Plan {
	t.Helper()
	snap, err := f.rec.Snapshot(context.Background(), groupID)
	require.NoError(t, err)
	return f.rec.Reconcile(groupID, planned, snap, marker)
}

func planned(n int) []model.Allocation {
	out := make([]model.Allocation, n)
	for i := range out {
		out[i] = model.Allocation{
			Key:       fmt.Sprintf("PG100-T%d-Rest-Rest", i+1),
			GroupID:   groupID,
			Hours:     decimal.NewFromInt(6),
			Start:     time.Date(2025, 6, 11, 0, 0, 0, 0, time.UTC),
			End:       time.Date(2025, 6, 18, 0, 0, 0, 0, time.UTC),
			UnitIndex: i + 1,
		}
	}
	return out
}

func liveKeys(records []model.StoredAllocation, marker string) []string {
	var keys []string
	for _, r := range records {
		if !r.Deleted && r.Marker == marker {
			keys = append(keys, r.Key)
		}
	}
	return keys
}

func TestExecute_FirstRunCreatesEverything(t *testing.T) {
	f := newFixture(t)
	plan := f.plan(t, planned(3), "gen-1")

	ledger, err := f.exec.Execute(context.Background(), plan)
	require.NoError(t, err)

	assert.Len(t, ledger.Created, 3)
	assert.Empty(t, ledger.Updated)
	assert.Empty(t, ledger.Deleted)
	assert.Zero(t, ledger.Failed)
	assert.Len(t, liveKeys(f.store.Allocations(groupID), "gen-1"), 3)
	assert.Equal(t, 3.0, testutil.ToFloat64(f.metrics.Writes.WithLabelValues("create", "ok")))
}

func TestExecute_SecondRunOnlyRefreshes(t *testing.T) {
	f := newFixture(t)
	_, err := f.exec.Execute(context.Background(), f.plan(t, planned(3), "gen-1"))
	require.NoError(t, err)

	ledger, err := f.exec.Execute(context.Background(), f.plan(t, planned(3), "gen-2"))
	require.NoError(t, err)

	assert.Empty(t, ledger.Created)
	assert.Len(t, ledger.Updated, 3)
	assert.Empty(t, ledger.Deleted)
	assert.Len(t, liveKeys(f.store.Allocations(groupID), "gen-2"), 3)
	assert.Equal(t, 3.0, testutil.ToFloat64(f.metrics.Writes.WithLabelValues("refresh", "ok")))
}

func TestExecute_ShrinkSoftDeletes(t *testing.T) {
	f := newFixture(t)
	_, err := f.exec.Execute(context.Background(), f.plan(t, planned(3), "gen-1"))
	require.NoError(t, err)

	ledger, err := f.exec.Execute(context.Background(), f.plan(t, planned(1), "gen-2"))
	require.NoError(t, err)
	assert.Len(t, ledger.Deleted, 2)
	assert.Len(t, ledger.Updated, 1)

	deleted := 0
	for _, r := range f.store.Allocations(groupID) {
		if r.Deleted {
			deleted++
			assert.Equal(t, "gen-2", r.Marker)
		}
	}
	assert.Equal(t, 2, deleted)

	// Already deleted records only get their marker refreshed.
	ledger, err = f.exec.Execute(context.Background(), f.plan(t, planned(1), "gen-3"))
	require.NoError(t, err)
	assert.Empty(t, ledger.Deleted)
	assert.Len(t, ledger.Updated, 3)
}

func TestExecute_Batches(t *testing.T) {
	f := newFixture(t, WithBatchSize(50))
	var sizes []int
	f.store.SetFaults(tu.Faults{Create: func(a []model.Allocation) error {
		sizes = append(sizes, len(a))
		return nil
	}})

	ledger, err := f.exec.Execute(context.Background(), f.plan(t, planned(120), "gen-1"))
	require.NoError(t, err)
	assert.Equal(t, []int{50, 50, 20}, sizes)
	assert.Len(t, ledger.Created, 120)
}

func TestWithBatchSize_IgnoresOutOfRange(t *testing.T) {
	assert.Equal(t, 50, NewExecutor(nil, nil, nil, WithBatchSize(500)).batchSize)
	assert.Equal(t, 50, NewExecutor(nil, nil, nil, WithBatchSize(0)).batchSize)
	assert.Equal(t, 7, NewExecutor(nil, nil, nil, WithBatchSize(7)).batchSize)
}

func TestExecute_BatchFailureFallsBackPerRecord(t *testing.T) {
	f := newFixture(t)
	f.store.SetFaults(tu.Faults{Create: func(a []model.Allocation) error {
		if len(a) > 1 {
			return tu.ErrInjected
		}
		return nil
	}})

	ledger, err := f.exec.Execute(context.Background(), f.plan(t, planned(4), "gen-1"))
	require.NoError(t, err)
	assert.Len(t, ledger.Created, 4)
	assert.Zero(t, ledger.Failed)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.BatchFallbacks.WithLabelValues("create")))
	assert.Empty(t, f.store.ErrorEntries())
}

func TestExecute_RecordFailureIsReportedAndExcluded(t *testing.T) {
	f := newFixture(t)
	bad := "PG100-T2-Rest-Rest"
	f.store.SetFaults(tu.Faults{Create: func(a []model.Allocation) error {
		for _, x := range a {
			if x.Key == bad {
				return tu.ErrInjected
			}
		}
		return nil
	}})

	ledger, err := f.exec.Execute(context.Background(), f.plan(t, planned(3), "gen-1"))
	require.NoError(t, err)

	assert.Len(t, ledger.Created, 2)
	assert.Equal(t, 1, ledger.Failed)

	errs := f.store.ErrorEntries()
	require.Len(t, errs, 1)
	assert.Equal(t, groupID, errs[0].GroupID)
	assert.Contains(t, errs[0].Message, bad)
	assert.Contains(t, errs[0].Details, "injected fault")
	assert.NotContains(t, liveKeys(f.store.Allocations(groupID), "gen-1"), bad)
}

func TestExecute_UpdateFailure(t *testing.T) {
	f := newFixture(t)
	_, err := f.exec.Execute(context.Background(), f.plan(t, planned(2), "gen-1"))
	require.NoError(t, err)

	f.store.SetFaults(tu.Faults{Update: func([]model.Patch) error { return tu.ErrInjected }})
	ledger, err := f.exec.Execute(context.Background(), f.plan(t, planned(1), "gen-2"))
	require.NoError(t, err)

	assert.Empty(t, ledger.Updated)
	assert.Empty(t, ledger.Deleted)
	assert.Equal(t, 2, ledger.Failed)
	assert.Len(t, f.store.ErrorEntries(), 2)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.BatchFallbacks.WithLabelValues("refresh")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.BatchFallbacks.WithLabelValues("soft_delete")))
}

func TestExecute_RecheckRedirectsConcurrentCreate(t *testing.T) {
	f := newFixture(t)
	allocs := planned(3)
	plan := f.plan(t, allocs, "gen-1")
	require.Len(t, plan.Create, 3)

	// Another run writes two of the keys between our snapshot and our create.
	same := allocs[0]
	differs := allocs[1]
	differs.Hours = decimal.NewFromInt(99)
	f.store.Insert(model.StoredAllocation{Marker: "gen-other", Allocation: same})
	raced := f.store.Insert(model.StoredAllocation{Marker: "gen-other", Allocation: differs})

	ledger, err := f.exec.Execute(context.Background(), plan)
	require.NoError(t, err)

	assert.Len(t, ledger.Created, 1)
	assert.Equal(t, []string{raced.ID}, ledger.Updated)
	assert.Equal(t, 1, ledger.Redirected)
	assert.Equal(t, 1, ledger.Dropped)

	records := f.store.Allocations(groupID)
	assert.Len(t, records, 3)
	for _, r := range records {
		assert.True(t, r.Hours.Equal(decimal.NewFromInt(6)), r.Key)
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Rechecks.WithLabelValues("dropped")))
}

func TestExecute_RecheckFailureCreatesAsPlanned(t *testing.T) {
	f := newFixture(t)
	plan := f.plan(t, planned(2), "gen-1")
	f.store.SetFaults(tu.Faults{Query: func(int) error { return tu.ErrInjected }})

	ledger, err := f.exec.Execute(context.Background(), plan)
	require.NoError(t, err)
	assert.Len(t, ledger.Created, 2)

	errs := f.store.ErrorEntries()
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Message, "Re-check")
}

func TestExecute_WithoutRechecker(t *testing.T) {
	f := newFixture(t)
	exec := NewExecutor(f.store, nil, nil)

	ledger, err := exec.Execute(context.Background(), f.plan(t, planned(2), "gen-1"))
	require.NoError(t, err)
	assert.Len(t, ledger.Created, 2)
	assert.Equal(t, 1, f.store.Queries())
}

func TestExecute_CancelledContext(t *testing.T) {
	f := newFixture(t)
	plan := f.plan(t, planned(2), "gen-1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ledger, err := f.exec.Execute(ctx, plan)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, ledger.Created)
	assert.Zero(t, f.store.Writes())
}

func TestStamp(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.exec.Stamp(context.Background(), groupID, "gen-1"))

	g := f.store.Group(groupID)
	assert.True(t, g.AllocationsGenerated)
	assert.Equal(t, "gen-1", g.Marker)
	assert.Equal(t, f.clock.Now(), g.LastGeneratedAt)

	err := f.exec.Stamp(context.Background(), "missing", "gen-1")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestErrors(t *testing.T) {
	we := &WriteError{Op: "update", AllocationID: "a1", Key: "K", Err: tu.ErrInjected}
	assert.Equal(t, "update allocation a1 (K): injected fault", we.Error())
	assert.ErrorIs(t, we, tu.ErrInjected)

	be := &BatchError{Op: "create", Size: 50, Err: tu.ErrInjected}
	assert.Equal(t, "create batch of 50: injected fault", be.Error())
	assert.ErrorIs(t, be, tu.ErrInjected)
}
