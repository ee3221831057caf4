// Package converge applies a reconciliation plan to the record store.
//
// Writes happen in three passes: creates, then updates, then soft-deletes.
// Each pass is cut into batches. A rejected batch is retried record by
// record; a record that fails again is reported through the audit recorder
// and left out of the ledger. Nothing that happens here aborts a run.
package converge

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/roach88/castplan/internal/audit"
	"github.com/roach88/castplan/internal/config"
	"github.com/roach88/castplan/internal/logging"
	"github.com/roach88/castplan/internal/metrics"
	"github.com/roach88/castplan/internal/model"
	"github.com/roach88/castplan/internal/reconcile"
)

// Writer is the batched write side of the record store.
type Writer interface {
	// CreateAllocations inserts allocs under marker and returns their IDs in
	// input order. A failed call may have written nothing or everything.
	CreateAllocations(ctx context.Context, allocs []model.Allocation, marker string) ([]string, error)
	UpdateAllocations(ctx context.Context, patches []model.Patch) error
	StampGroup(ctx context.Context, groupID string, stamp model.GroupStamp) error
}

// Rechecker re-evaluates a create chunk against a fresh snapshot.
type Rechecker interface {
	Recheck(ctx context.Context, groupID string, chunk []model.Allocation, marker string) (reconcile.RecheckResult, error)
}

// Ledger is what a run actually changed.
type Ledger struct {
	Created []string `json:"created_ids"`
	Updated []string `json:"updated_ids"`
	Deleted []string `json:"deleted_ids"`
	// Failed counts records that could not be written.
	Failed int `json:"failed"`
	// Redirected counts planned creates turned into updates by the re-check;
	// Dropped counts those found already satisfied.
	Redirected int `json:"redirected"`
	Dropped    int `json:"dropped"`
}

// Executor applies plans.
type Executor struct {
	writer    Writer
	rechecker Rechecker
	recorder  audit.Recorder
	batchSize int
	metrics   *metrics.Metrics
	log       logrus.FieldLogger
	now       func() time.Time
}

// Option configures an Executor.
type Option func(*Executor)

// WithBatchSize sets the batch size, capped at config.MaxBatchSize.
func WithBatchSize(n int) Option {
	return func(e *Executor) {
		if n > 0 && n <= config.MaxBatchSize {
			e.batchSize = n
		}
	}
}

// WithMetrics records write counts.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Executor) { e.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(e *Executor) { e.log = log }
}

// WithClock sets the stamp timestamp source.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

// NewExecutor returns an Executor writing through w. A nil rechecker skips
// the pre-create re-check; a nil recorder discards error entries.
func NewExecutor(w Writer, rc Rechecker, rec audit.Recorder, opts ...Option) *Executor {
	e := &Executor{
		writer:    w,
		rechecker: rc,
		recorder:  rec,
		batchSize: config.MaxBatchSize,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.recorder == nil {
		e.recorder = audit.Nop{}
	}
	e.log = logging.OrDiscard(e.log)
	return e
}

// Stamp marks groupID as generated under marker. Runs stamp once before
// reading the snapshot, so concurrent triggers can see the run in progress,
// and once after converging.
func (e *Executor) Stamp(ctx context.Context, groupID, marker string) error {
	err := e.writer.StampGroup(ctx, groupID, model.GroupStamp{
		Generated: true,
		At:        e.now().UTC(),
		Marker:    marker,
	})
	if err != nil {
		return fmt.Errorf("stamp group %s: %w", groupID, err)
	}
	return nil
}

// Execute applies plan and returns the ledger of what was written. Per-record
// failures are reported and counted, never returned. The error is non-nil
// only when ctx ends before all passes finished; the ledger then covers the
// writes made so far.
func (e *Executor) Execute(ctx context.Context, plan reconcile.Plan) (Ledger, error) {
	run := &pass{Executor: e, plan: plan, log: e.log.WithFields(logrus.Fields{
		"group_id":          plan.GroupID,
		"generation_marker": plan.Marker,
	})}

	updates := append([]model.Patch(nil), plan.Update...)
	for _, chunk := range chunks(plan.Create, e.batchSize) {
		if err := ctx.Err(); err != nil {
			return run.ledger, err
		}
		updates = append(updates, run.create(ctx, chunk)...)
	}
	for _, chunk := range chunks(updates, e.batchSize) {
		if err := ctx.Err(); err != nil {
			return run.ledger, err
		}
		run.update(ctx, chunk)
	}
	for _, chunk := range chunks(plan.Stale, e.batchSize) {
		if err := ctx.Err(); err != nil {
			return run.ledger, err
		}
		run.update(ctx, chunk)
	}

	run.log.WithFields(logrus.Fields{
		"created":    len(run.ledger.Created),
		"updated":    len(run.ledger.Updated),
		"deleted":    len(run.ledger.Deleted),
		"failed":     run.ledger.Failed,
		"redirected": run.ledger.Redirected,
		"dropped":    run.ledger.Dropped,
	}).Info("plan applied")
	return run.ledger, nil
}

// pass is the state of one Execute call.
type pass struct {
	*Executor
	plan   reconcile.Plan
	log    logrus.FieldLogger
	ledger Ledger
}

// create re-checks and writes one chunk. It returns the updates the
// re-check redirected; they run with the update pass.
func (p *pass) create(ctx context.Context, chunk []model.Allocation) []model.Patch {
	var redirected []model.Patch
	if p.rechecker != nil {
		res, err := p.rechecker.Recheck(ctx, p.plan.GroupID, chunk, p.plan.Marker)
		if err != nil {
			p.metrics.RecordRecheck("failed", len(chunk))
			p.log.WithError(err).Warn("re-check before create failed, creating as planned")
			p.recorder.LogError(ctx, model.ErrorEntry{
				GroupID: p.plan.GroupID,
				Message: fmt.Sprintf("Re-check before creating %d allocations failed", len(chunk)),
				Details: err.Error(),
			})
		} else {
			chunk = res.Create
			redirected = res.Redirect
			p.ledger.Redirected += len(res.Redirect)
			p.ledger.Dropped += len(res.Dropped)
			p.metrics.RecordRecheck("redirected", len(res.Redirect))
			p.metrics.RecordRecheck("dropped", len(res.Dropped))
		}
	}
	if len(chunk) == 0 {
		return redirected
	}

	ids, err := p.writer.CreateAllocations(ctx, chunk, p.plan.Marker)
	if err == nil {
		p.ledger.Created = append(p.ledger.Created, ids...)
		p.metrics.RecordWrites("create", "ok", len(ids))
		return redirected
	}

	p.fallback(&BatchError{Op: "create", Size: len(chunk), Err: err})
	for _, a := range chunk {
		ids, err := p.writer.CreateAllocations(ctx, []model.Allocation{a}, p.plan.Marker)
		if err != nil || len(ids) != 1 {
			if err == nil {
				err = fmt.Errorf("store returned %d ids", len(ids))
			}
			p.fail(ctx, &WriteError{Op: "create", Key: a.Key, Err: err})
			continue
		}
		p.ledger.Created = append(p.ledger.Created, ids[0])
		p.metrics.RecordWrites("create", "ok", 1)
	}
	return redirected
}

// update writes one chunk of patches of any op.
func (p *pass) update(ctx context.Context, chunk []model.Patch) {
	err := p.writer.UpdateAllocations(ctx, chunk)
	if err == nil {
		for _, patch := range chunk {
			p.record(patch)
		}
		return
	}

	p.fallback(&BatchError{Op: opLabel(chunk), Size: len(chunk), Err: err})

	for _, patch := range chunk {
		if err := p.writer.UpdateAllocations(ctx, []model.Patch{patch}); err != nil {
			p.fail(ctx, &WriteError{Op: string(patch.Op), AllocationID: patch.ID, Key: patch.Key, Err: err})
			continue
		}
		p.record(patch)
	}
}

func (p *pass) record(patch model.Patch) {
	p.metrics.RecordWrites(string(patch.Op), "ok", 1)
	if patch.Op == model.OpSoftDelete {
		p.ledger.Deleted = append(p.ledger.Deleted, patch.ID)
		return
	}
	p.ledger.Updated = append(p.ledger.Updated, patch.ID)
}

func (p *pass) fallback(err *BatchError) {
	p.metrics.RecordFallback(err.Op)
	p.log.WithError(err).Warn("batch rejected, retrying record by record")
}

func (p *pass) fail(ctx context.Context, err *WriteError) {
	p.ledger.Failed++
	p.metrics.RecordWrites(err.Op, "failed", 1)
	p.log.WithFields(logrus.Fields{
		"op":            err.Op,
		"allocation_id": err.AllocationID,
		"key":           err.Key,
	}).WithError(err.Err).Error("allocation write failed")
	p.recorder.LogError(ctx, model.ErrorEntry{
		GroupID: p.plan.GroupID,
		Message: fmt.Sprintf("Could not %s allocation %s", describe(err.Op), err.Key),
		Details: err.Error(),
	})
}

func describe(op string) string {
	switch op {
	case string(model.OpSoftDelete):
		return "soft-delete"
	case string(model.OpRefresh):
		return "refresh marker of"
	default:
		return op
	}
}

// opLabel names a patch chunk for logs and metrics: the common op, or
// "mixed".
func opLabel(chunk []model.Patch) string {
	if len(chunk) == 0 {
		return "update"
	}
	op := chunk[0].Op
	for _, p := range chunk[1:] {
		if p.Op != op {
			return "mixed"
		}
	}
	return string(op)
}

func chunks[T any](items []T, size int) [][]T {
	var out [][]T
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		out = append(out, items[start:end])
	}
	return out
}
