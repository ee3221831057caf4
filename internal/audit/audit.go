// Package audit records run summaries and recoverable failures.
//
// Recording is best-effort. A Recorder never returns an error: when the
// journal rejects an entry the failure goes to the diagnostic log and the
// run carries on.
package audit

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/roach88/castplan/internal/logging"
	"github.com/roach88/castplan/internal/metrics"
	"github.com/roach88/castplan/internal/model"
)

// Recorder is the logging capability handed to the engine and executor.
type Recorder interface {
	LogError(ctx context.Context, entry model.ErrorEntry)
	LogAudit(ctx context.Context, entry model.AuditEntry)
}

// Journal is the append-only store behind StoreRecorder.
type Journal interface {
	AppendError(ctx context.Context, entry model.ErrorEntry) error
	AppendAudit(ctx context.Context, entry model.AuditEntry) error
}

// StoreRecorder writes entries to a Journal.
//
// Error entries are first written with a link to their group. If the journal
// rejects that, for instance because the group row is gone, the entry is
// written again with the group ID as plain text.
type StoreRecorder struct {
	journal Journal
	log     logrus.FieldLogger
	metrics *metrics.Metrics
	now     func() time.Time
}

// Option configures a StoreRecorder.
type Option func(*StoreRecorder)

// WithLogger sets the diagnostic logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(r *StoreRecorder) { r.log = log }
}

// WithMetrics counts lost entries.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *StoreRecorder) { r.metrics = m }
}

// WithClock sets the timestamp source for entries without one.
func WithClock(now func() time.Time) Option {
	return func(r *StoreRecorder) { r.now = now }
}

// NewStoreRecorder returns a Recorder backed by journal.
func NewStoreRecorder(journal Journal, opts ...Option) *StoreRecorder {
	r := &StoreRecorder{journal: journal, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	r.log = logging.OrDiscard(r.log)
	return r
}

// LogError appends entry, falling back to the text form of the group
// reference.
func (r *StoreRecorder) LogError(ctx context.Context, entry model.ErrorEntry) {
	if entry.At.IsZero() {
		entry.At = r.now().UTC()
	}
	fields := logrus.Fields{"group_id": entry.GroupID, "message": entry.Message}

	err := r.journal.AppendError(ctx, entry)
	if err == nil {
		return
	}
	if !entry.SourceAsText {
		r.log.WithFields(fields).WithError(err).Warn("linked error entry rejected, retrying as text")
		entry.SourceAsText = true
		if err = r.journal.AppendError(ctx, entry); err == nil {
			return
		}
	}
	r.metrics.RecordJournalFailure("error")
	r.log.WithFields(fields).WithError(err).Error("could not write error entry")
}

// LogAudit appends entry once.
func (r *StoreRecorder) LogAudit(ctx context.Context, entry model.AuditEntry) {
	if entry.At.IsZero() {
		entry.At = r.now().UTC()
	}
	if err := r.journal.AppendAudit(ctx, entry); err != nil {
		r.metrics.RecordJournalFailure("audit")
		r.log.WithFields(logrus.Fields{
			"group_id":          entry.GroupID,
			"generation_marker": entry.Marker,
		}).WithError(err).Error("could not write audit entry")
	}
}

// Nop discards every entry.
type Nop struct{}

func (Nop) LogError(context.Context, model.ErrorEntry) {}
func (Nop) LogAudit(context.Context, model.AuditEntry) {}
