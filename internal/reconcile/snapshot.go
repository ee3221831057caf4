package reconcile

import (
	"context"
	"fmt"
	"sort"

	"github.com/roach88/castplan/internal/model"
)

// Source loads every allocation currently linked to a group, deleted ones
// included.
type Source interface {
	QueryAllocations(ctx context.Context, groupID string) ([]model.StoredAllocation, error)
}

// Snapshot is the stored allocation set of one group, keyed by derived key.
type Snapshot struct {
	ByKey map[string]model.StoredAllocation

	// Duplicates holds records that share a key with the record kept in
	// ByKey. Concurrent runs can leave these behind.
	Duplicates []model.StoredAllocation
}

// ReadSnapshot queries src and indexes the result.
func ReadSnapshot(ctx context.Context, src Source, groupID string) (Snapshot, error) {
	records, err := src.QueryAllocations(ctx, groupID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read snapshot for group %s: %w", groupID, err)
	}
	return NewSnapshot(records), nil
}

// NewSnapshot indexes records by key. Records without a key are ignored.
// When several records share a key, a live record wins over a deleted one
// and the lexicographically smallest ID wins among equals; the others become
// duplicates. For the UUIDv7 IDs the stores mint that is the oldest record.
func NewSnapshot(records []model.StoredAllocation) Snapshot {
	sorted := make([]model.StoredAllocation, 0, len(records))
	for _, r := range records {
		if r.Key != "" {
			sorted = append(sorted, r)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Key != b.Key {
			return a.Key < b.Key
		}
		if a.Deleted != b.Deleted {
			return !a.Deleted
		}
		return a.ID < b.ID
	})

	snap := Snapshot{ByKey: make(map[string]model.StoredAllocation, len(sorted))}
	for _, r := range sorted {
		if _, taken := snap.ByKey[r.Key]; taken {
			snap.Duplicates = append(snap.Duplicates, r)
			continue
		}
		snap.ByKey[r.Key] = r
	}
	return snap
}

// Len is the number of distinct keys.
func (s Snapshot) Len() int {
	return len(s.ByKey)
}

// Keys returns the distinct keys in sorted order.
func (s Snapshot) Keys() []string {
	keys := make([]string, 0, len(s.ByKey))
	for k := range s.ByKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
