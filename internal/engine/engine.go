package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/roach88/castplan/internal/allocation"
	"github.com/roach88/castplan/internal/audit"
	"github.com/roach88/castplan/internal/config"
	"github.com/roach88/castplan/internal/converge"
	"github.com/roach88/castplan/internal/lock"
	"github.com/roach88/castplan/internal/logging"
	"github.com/roach88/castplan/internal/metrics"
	"github.com/roach88/castplan/internal/model"
	"github.com/roach88/castplan/internal/reconcile"
	"github.com/roach88/castplan/internal/schedule"
)

// Store is everything a run reads and writes.
type Store interface {
	GetGroup(ctx context.Context, id string) (model.GroupRecord, error)
	Departments(ctx context.Context) ([]model.Department, error)
	ActivityOptions(ctx context.Context) ([]string, error)

	reconcile.Source
	converge.Writer
	audit.Journal
}

// Run outcomes reported to metrics.
const (
	outcomeConverged = "converged"
	outcomePartial   = "partial"
	outcomeInvalid   = "invalid"
	outcomeFailed    = "failed"
)

// Engine runs the allocation pipeline.
//
// Thread-safety: Engine is safe for concurrent use. Runs of different groups
// are independent; runs of one group are tolerated, see the package doc.
type Engine struct {
	store      Store
	cfg        config.Config
	scheduler  *schedule.Scheduler
	builder    *allocation.Builder
	reconciler *reconcile.Reconciler
	executor   *converge.Executor
	recorder   audit.Recorder
	locker     lock.Locker
	markers    MarkerGenerator
	metrics    *metrics.Metrics
	log        logrus.FieldLogger
	now        func() time.Time
	flights    singleflight.Group
}

// Option configures an Engine.
type Option func(*Engine)

// WithLocker sets the advisory group lock. The default never blocks.
func WithLocker(l lock.Locker) Option {
	return func(e *Engine) { e.locker = l }
}

// WithClock sets the time source for stamps and journal entries.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithMarkerGenerator sets the generation marker source.
// Default: UUIDv7Generator.
func WithMarkerGenerator(g MarkerGenerator) Option {
	return func(e *Engine) { e.markers = g }
}

// WithRecorder replaces the recorder that writes to the store's journal.
func WithRecorder(r audit.Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithMetrics records run metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(e *Engine) { e.log = log }
}

// New creates an Engine over store configured by cfg. cfg is expected to
// have passed config.Validate.
func New(store Store, cfg config.Config, opts ...Option) *Engine {
	e := &Engine{
		store:   store,
		cfg:     cfg,
		locker:  lock.Nop{},
		markers: UUIDv7Generator{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = logging.OrDiscard(e.log)
	if e.recorder == nil {
		e.recorder = audit.NewStoreRecorder(store,
			audit.WithLogger(e.log),
			audit.WithMetrics(e.metrics),
			audit.WithClock(e.now),
		)
	}

	e.scheduler = schedule.New(cfg.Schedule)
	e.builder = allocation.NewBuilder(cfg.Roster)
	e.reconciler = reconcile.New(store, e.log)
	e.executor = converge.NewExecutor(store, e.reconciler, e.recorder,
		converge.WithBatchSize(cfg.Reconcile.BatchSize),
		converge.WithMetrics(e.metrics),
		converge.WithLogger(e.log),
		converge.WithClock(e.now),
	)
	return e
}

// Result describes one run.
type Result struct {
	GroupID  string            `json:"group_id"`
	Marker   string            `json:"generation_marker"`
	DryRun   bool              `json:"dry_run,omitempty"`
	Timeline schedule.Timeline `json:"-"`
	Counts   reconcile.Counts  `json:"plan"`
	Ledger   converge.Ledger   `json:"ledger"`
}

// prepared is the pure part of a run: validated inputs through planned
// allocations.
type prepared struct {
	inputs   model.GroupInputs
	timeline schedule.Timeline
	planned  []model.Allocation
}

// Run converges the stored allocations of groupID onto a fresh plan.
//
// A *RunError is returned when the run aborts before convergence; nothing
// but an error entry has been written then. Write failures during
// convergence do not fail the run: they show up as Ledger.Failed and as
// error entries. The only other error is ctx ending mid-run.
func (e *Engine) Run(ctx context.Context, groupID string) (Result, error) {
	start := e.now()
	marker := e.markers.Generate()
	log := logging.ForGroup(e.log, groupID, marker)
	res := Result{GroupID: groupID, Marker: marker}

	p, err := e.prepare(ctx, groupID)
	if err != nil {
		e.fail(ctx, log, groupID, err, start)
		return res, err
	}
	res.Timeline = p.timeline

	release, err := e.acquire(ctx, log, groupID)
	if err != nil {
		e.metrics.RecordRun(outcomeFailed, e.now().Sub(start), len(p.planned))
		return res, err
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			log.WithError(err).Warn("could not release group lock")
		}
	}()

	e.stamp(ctx, log, groupID, marker)

	snap, err := e.reconciler.Snapshot(ctx, groupID)
	if err != nil {
		rerr := newStoreReadError(groupID, "allocations", err)
		e.fail(ctx, log, groupID, rerr, start)
		return res, rerr
	}

	plan := e.reconciler.Reconcile(groupID, p.planned, snap, marker)
	res.Counts = plan.Counts()

	ledger, execErr := e.executor.Execute(ctx, plan)
	res.Ledger = ledger

	// Journal and stamp even when ctx ended, so the partial run is visible.
	wctx := context.WithoutCancel(ctx)
	e.recorder.LogAudit(wctx, model.AuditEntry{
		GroupID: groupID,
		Action:  model.ActionConverge,
		Marker:  marker,
		Details: model.AuditDetails{
			Planned: plan.Planned,
			Created: len(ledger.Created),
			Updated: len(ledger.Updated),
			Deleted: len(ledger.Deleted),
			Failed:  ledger.Failed,
		},
		CreatedIDs: ledger.Created,
		UpdatedIDs: ledger.Updated,
		DeletedIDs: ledger.Deleted,
	})
	e.stamp(wctx, log, groupID, marker)

	outcome := outcomeConverged
	switch {
	case execErr != nil:
		outcome = outcomeFailed
	case ledger.Failed > 0:
		outcome = outcomePartial
	}
	e.metrics.RecordRun(outcome, e.now().Sub(start), plan.Planned)

	if execErr != nil {
		return res, fmt.Errorf("converge group %s: %w", groupID, execErr)
	}
	log.WithFields(logrus.Fields{
		"planned": plan.Planned,
		"created": len(ledger.Created),
		"updated": len(ledger.Updated),
		"deleted": len(ledger.Deleted),
		"failed":  ledger.Failed,
	}).Info("run finished")
	return res, nil
}

// RunShared is Run, except that concurrent calls for the same group inside
// this process share one run and its result.
func (e *Engine) RunShared(ctx context.Context, groupID string) (Result, error) {
	v, err, shared := e.flights.Do(groupID, func() (any, error) {
		return e.Run(ctx, groupID)
	})
	if shared {
		e.log.WithField(logging.FieldGroupID, groupID).Debug("joined in-flight run")
	}
	res, _ := v.(Result)
	return res, err
}

// DryRun computes the plan a run would apply, without writing anything.
func (e *Engine) DryRun(ctx context.Context, groupID string) (Result, reconcile.Plan, error) {
	marker := e.markers.Generate()
	res := Result{GroupID: groupID, Marker: marker, DryRun: true}

	p, err := e.prepare(ctx, groupID)
	if err != nil {
		return res, reconcile.Plan{}, err
	}
	res.Timeline = p.timeline

	snap, err := e.reconciler.Snapshot(ctx, groupID)
	if err != nil {
		return res, reconcile.Plan{}, newStoreReadError(groupID, "allocations", err)
	}
	plan := e.reconciler.Reconcile(groupID, p.planned, snap, marker)
	res.Counts = plan.Counts()
	return res, plan, nil
}

// Schedule validates groupID and returns its timeline.
func (e *Engine) Schedule(ctx context.Context, groupID string) (schedule.Timeline, error) {
	in, err := e.inputs(ctx, groupID)
	if err != nil {
		return schedule.Timeline{}, err
	}
	return e.scheduler.Schedule(in), nil
}

func (e *Engine) inputs(ctx context.Context, groupID string) (model.GroupInputs, error) {
	rec, err := e.store.GetGroup(ctx, groupID)
	if errors.Is(err, model.ErrNotFound) {
		return model.GroupInputs{}, &RunError{
			Code:    ErrCodeGroupNotFound,
			Message: "production group not found",
			GroupID: groupID,
			Err:     err,
		}
	}
	if err != nil {
		return model.GroupInputs{}, newStoreReadError(groupID, "group", err)
	}

	in, err := model.ValidateGroup(rec, e.cfg.Schedule.ExtraExclusionSuffix)
	var fe *model.FieldError
	if errors.As(err, &fe) {
		return model.GroupInputs{}, newFieldError(fe)
	}
	if err != nil {
		return model.GroupInputs{}, &RunError{Code: ErrCodeValidation, Message: err.Error(), GroupID: groupID, Err: err}
	}
	return in, nil
}

func (e *Engine) prepare(ctx context.Context, groupID string) (prepared, error) {
	in, err := e.inputs(ctx, groupID)
	if err != nil {
		return prepared{}, err
	}

	depts, err := e.store.Departments(ctx)
	if err != nil {
		return prepared{}, newStoreReadError(groupID, "departments", err)
	}
	idx, missing := allocation.Resolve(e.cfg.Roster, depts)
	if len(missing) > 0 {
		return prepared{}, newMissingLookupError(groupID, "departments", missing)
	}

	options, err := e.store.ActivityOptions(ctx)
	if err != nil {
		return prepared{}, newStoreReadError(groupID, "activity options", err)
	}
	if missing := missingActivities(e.cfg.Roster, options); len(missing) > 0 {
		return prepared{}, newMissingLookupError(groupID, "activity options", missing)
	}

	tl := e.scheduler.Schedule(in)
	planned, err := e.builder.Build(in, tl, idx)
	if err != nil {
		return prepared{}, &RunError{Code: ErrCodeValidation, Message: err.Error(), GroupID: groupID, Err: err}
	}
	return prepared{inputs: in, timeline: tl, planned: planned}, nil
}

// missingActivities reports roster activities absent from options. An empty
// option list disables the check.
func missingActivities(roster config.Roster, options []string) []string {
	if len(options) == 0 {
		return nil
	}
	known := make(map[string]bool, len(options))
	for _, o := range options {
		known[model.NormalizeName(o)] = true
	}
	var missing []string
	for _, a := range roster.Activities() {
		if !known[a] {
			missing = append(missing, a)
		}
	}
	sort.Strings(missing)
	return missing
}

// acquire takes the advisory lock. Failing to get it is logged and the run
// proceeds; only a cancelled ctx stops the run.
func (e *Engine) acquire(ctx context.Context, log logrus.FieldLogger, groupID string) (lock.Release, error) {
	release, err := e.locker.Acquire(ctx, lock.Key(groupID))
	switch {
	case err == nil:
		e.metrics.RecordLock("obtained")
		return release, nil
	case ctx.Err() != nil:
		e.metrics.RecordLock("cancelled")
		return nil, &RunError{Code: ErrCodeLock, Message: "cancelled waiting for group lock", GroupID: groupID, Err: ctx.Err()}
	case errors.Is(err, lock.ErrNotObtained):
		e.metrics.RecordLock("not_obtained")
		log.Warn("group lock held elsewhere, proceeding without it")
	default:
		e.metrics.RecordLock("error")
		log.WithError(err).Warn("could not acquire group lock, proceeding without it")
	}
	return func(context.Context) error { return nil }, nil
}

func (e *Engine) stamp(ctx context.Context, log logrus.FieldLogger, groupID, marker string) {
	if err := e.executor.Stamp(ctx, groupID, marker); err != nil {
		log.WithError(err).Warn("could not stamp group")
		e.recorder.LogError(ctx, model.ErrorEntry{
			GroupID: groupID,
			Message: "Could not stamp group with generation marker " + marker,
			Details: err.Error(),
		})
	}
}

// fail records an aborted run.
func (e *Engine) fail(ctx context.Context, log logrus.FieldLogger, groupID string, err error, start time.Time) {
	outcome := outcomeFailed
	if IsValidationError(err) || IsNotFound(err) {
		outcome = outcomeInvalid
	}
	e.metrics.RecordRun(outcome, e.now().Sub(start), 0)
	log.WithError(err).Error("run aborted")
	e.recorder.LogError(ctx, model.ErrorEntry{
		GroupID: groupID,
		Message: err.Error(),
	})
}
