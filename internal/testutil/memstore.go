package testutil

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/roach88/castplan/internal/model"
)

// ErrInjected is returned by MemStore fault hooks that do not supply their
// own error.
var ErrInjected = errors.New("injected fault")

// Faults are optional hooks that make MemStore calls fail or interleave.
// A nil hook never fires.
type Faults struct {
	// Create fails a CreateAllocations call before anything is written.
	Create func(allocs []model.Allocation) error
	// Update fails an UpdateAllocations call before anything is written.
	Update func(patches []model.Patch) error
	// Query fails the n-th QueryAllocations call (1-based).
	Query func(n int) error
	// BeforeQuery runs ahead of the n-th QueryAllocations call, with the
	// store unlocked, so tests can simulate a concurrent writer.
	BeforeQuery func(n int)
	Stamp       error
	GetGroup    error
	Audit       error
	Error       error
}

// MemStore is an in-memory record store with fault injection. It
// implements every store interface the engine consumes.
//
// Batches are atomic: a failed call writes nothing. Error entries linked to
// an unknown group are rejected, like a foreign key would.
//
// Thread-safety: MemStore is safe for concurrent use.
type MemStore struct {
	mu      sync.Mutex
	faults  Faults
	groups  map[string]model.GroupRecord
	stamps  map[string][]model.GroupStamp
	depts   []model.Department
	options []string
	allocs  map[string]model.StoredAllocation
	nextID  int
	queries int
	writes  int
	audits  []model.AuditEntry
	errs    []model.ErrorEntry
}

// NewMemStore returns an empty store.
func NewMemStore() *MemStore {
	return &MemStore{
		groups: make(map[string]model.GroupRecord),
		stamps: make(map[string][]model.GroupStamp),
		allocs: make(map[string]model.StoredAllocation),
	}
}

// SetFaults replaces the fault hooks.
func (s *MemStore) SetFaults(f Faults) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = f
}

// PutGroup inserts or replaces a group.
func (s *MemStore) PutGroup(g model.GroupRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups[g.ID] = g
}

// SetDepartments replaces the department table.
func (s *MemStore) SetDepartments(depts ...model.Department) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.depts = append([]model.Department(nil), depts...)
}

// SetActivityOptions replaces the activity option list.
func (s *MemStore) SetActivityOptions(opts ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.options = append([]string(nil), opts...)
}

// Insert stores a record directly, bypassing faults and the write counter.
// An empty ID is assigned. It returns the stored record.
func (s *MemStore) Insert(a model.StoredAllocation) model.StoredAllocation {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == "" {
		a.ID = s.newID()
	}
	s.allocs[a.ID] = a
	return a
}

// GetGroup implements the engine store.
func (s *MemStore) GetGroup(_ context.Context, id string) (model.GroupRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.faults.GetGroup != nil {
		return model.GroupRecord{}, s.faults.GetGroup
	}
	g, ok := s.groups[id]
	if !ok {
		return model.GroupRecord{}, fmt.Errorf("get group %s: %w", id, model.ErrNotFound)
	}
	return g, nil
}

// StampGroup implements converge.Writer.
func (s *MemStore) StampGroup(_ context.Context, groupID string, stamp model.GroupStamp) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.faults.Stamp != nil {
		return s.faults.Stamp
	}
	g, ok := s.groups[groupID]
	if !ok {
		return fmt.Errorf("stamp group %s: %w", groupID, model.ErrNotFound)
	}
	g.AllocationsGenerated = stamp.Generated
	g.LastGeneratedAt = stamp.At
	g.Marker = stamp.Marker
	s.groups[groupID] = g
	s.stamps[groupID] = append(s.stamps[groupID], stamp)
	s.writes++
	return nil
}

// Departments implements the engine store.
func (s *MemStore) Departments(context.Context) ([]model.Department, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Department(nil), s.depts...), nil
}

// ActivityOptions implements the engine store.
func (s *MemStore) ActivityOptions(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.options...), nil
}

// QueryAllocations implements reconcile.Source.
func (s *MemStore) QueryAllocations(_ context.Context, groupID string) ([]model.StoredAllocation, error) {
	s.mu.Lock()
	s.queries++
	n := s.queries
	before := s.faults.BeforeQuery
	s.mu.Unlock()

	if before != nil {
		before(n)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.faults.Query != nil {
		if err := s.faults.Query(n); err != nil {
			return nil, err
		}
	}
	out := []model.StoredAllocation{}
	for _, a := range s.allocs {
		if a.GroupID == groupID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CreateAllocations implements converge.Writer.
func (s *MemStore) CreateAllocations(_ context.Context, allocs []model.Allocation, marker string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.faults.Create != nil {
		if err := s.faults.Create(allocs); err != nil {
			return nil, err
		}
	}
	ids := make([]string, 0, len(allocs))
	for _, a := range allocs {
		id := s.newID()
		s.allocs[id] = model.StoredAllocation{ID: id, Marker: marker, Allocation: a}
		ids = append(ids, id)
	}
	s.writes++
	return ids, nil
}

// UpdateAllocations implements converge.Writer.
func (s *MemStore) UpdateAllocations(_ context.Context, patches []model.Patch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.faults.Update != nil {
		if err := s.faults.Update(patches); err != nil {
			return err
		}
	}
	for _, p := range patches {
		if _, ok := s.allocs[p.ID]; !ok {
			return fmt.Errorf("update allocation %s: %w", p.ID, model.ErrNotFound)
		}
	}
	for _, p := range patches {
		s.allocs[p.ID] = p.Apply(s.allocs[p.ID])
	}
	s.writes++
	return nil
}

// AppendAudit implements audit.Journal.
func (s *MemStore) AppendAudit(_ context.Context, e model.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.faults.Audit != nil {
		return s.faults.Audit
	}
	e.ID = fmt.Sprintf("audit-%04d", len(s.audits)+1)
	s.audits = append(s.audits, e)
	return nil
}

// AppendError implements audit.Journal.
func (s *MemStore) AppendError(_ context.Context, e model.ErrorEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.faults.Error != nil {
		return s.faults.Error
	}
	if !e.SourceAsText {
		if _, ok := s.groups[e.GroupID]; !ok {
			return fmt.Errorf("append error entry: unknown group %s", e.GroupID)
		}
	}
	e.ID = fmt.Sprintf("error-%04d", len(s.errs)+1)
	s.errs = append(s.errs, e)
	return nil
}

// ListAudit returns the newest limit audit entries of groupID, newest first.
func (s *MemStore) ListAudit(_ context.Context, groupID string, limit int) ([]model.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []model.AuditEntry{}
	for i := len(s.audits) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if s.audits[i].GroupID == groupID {
			out = append(out, s.audits[i])
		}
	}
	return out, nil
}

// Allocations returns every stored allocation of groupID ordered by ID,
// without firing faults or counting a query.
func (s *MemStore) Allocations(groupID string) []model.StoredAllocation {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.StoredAllocation
	for _, a := range s.allocs {
		if a.GroupID == groupID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Group returns the current group record.
func (s *MemStore) Group(id string) model.GroupRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.groups[id]
}

// Stamps returns every stamp written to groupID, oldest first.
func (s *MemStore) Stamps(groupID string) []model.GroupStamp {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.GroupStamp(nil), s.stamps[groupID]...)
}

// AuditEntries returns every audit entry, oldest first.
func (s *MemStore) AuditEntries() []model.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.AuditEntry(nil), s.audits...)
}

// ErrorEntries returns every error entry, oldest first.
func (s *MemStore) ErrorEntries() []model.ErrorEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.ErrorEntry(nil), s.errs...)
}

// Writes counts successful stamp, create and update calls. Journal appends
// and Insert are not counted.
func (s *MemStore) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// Queries counts QueryAllocations calls.
func (s *MemStore) Queries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries
}

func (s *MemStore) newID() string {
	s.nextID++
	return fmt.Sprintf("alloc-%04d", s.nextID)
}
