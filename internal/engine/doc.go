// Package engine runs the allocation pipeline for one production group.
//
// A run reads the group, validates it, schedules the phase timeline, builds
// the planned allocation set, reconciles it against the store and converges
// the store onto it. Every run carries a fresh generation marker.
//
// Only validation failures and an unreadable store abort a run, and both do
// so before anything is written. Once convergence starts, failed writes are
// recorded as error entries and the run finishes with a partial ledger.
//
// Concurrent runs for one group are tolerated. An optional advisory lock
// and the pre-create re-check narrow the window for duplicates; whatever
// slips through is soft-deleted by the next run.
package engine
