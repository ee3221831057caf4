package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/castplan/internal/model"
)

// createTestStore creates a new file-backed store in a temp dir.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestGroup stores a complete group with one department, so
// allocations can reference both.
func createTestGroup(t *testing.T, s *Store, id string) model.GroupRecord {
	t.Helper()
	ctx := context.Background()
	if err := s.PutDepartment(ctx, model.Department{ID: "dept-beton", Name: "Beton"}); err != nil {
		t.Fatalf("PutDepartment() failed: %v", err)
	}
	g := testGroupRecord(id)
	if err := s.PutGroup(ctx, g); err != nil {
		t.Fatalf("PutGroup() failed: %v", err)
	}
	return g
}

func testGroupRecord(id string) model.GroupRecord {
	str := func(s string) *string { return &s }
	num := func(f float64) *float64 { return &f }
	units := 4
	return model.GroupRecord{
		ID:           id,
		Name:         str("Facade"),
		UnitCount:    &units,
		DeliveryDate: str("2025-06-30"),
		RestRate:     num(2),
		CastRate:     num(3),
		WeldRate:     num(1.5),
		ReuseRate:    num(2),
		CreateHours:  num(100),
		Design1Hours: num(16),
		Design2Hours: num(24),
	}
}

// createTestAllocation creates a Cast allocation for unit i with minimal
// required fields.
func createTestAllocation(groupID string, i int) model.Allocation {
	start := time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC)
	return model.Allocation{
		Key:          fmt.Sprintf("Facade-T%d-Beton-Beton", i),
		GroupID:      groupID,
		Phase:        model.PhaseCast,
		DepartmentID: "dept-beton",
		Department:   "Beton",
		Activity:     "Beton",
		Hours:        decimal.RequireFromString("12.5"),
		Start:        start,
		End:          start.AddDate(0, 0, 7),
		UnitIndex:    i,
	}
}
