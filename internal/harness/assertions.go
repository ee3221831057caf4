package harness

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/castplan/internal/model"
	"github.com/roach88/castplan/internal/store"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s", e.Actual)
	return buf.String()
}

// AssertionContext provides context for evaluating assertions.
type AssertionContext struct {
	Store *store.Store
	Ctx   context.Context
	Group string
}

func (a *AssertionContext) records() ([]model.StoredAllocation, error) {
	return a.Store.QueryAllocations(a.Ctx, a.Group)
}

// EvaluateAssertions evaluates all assertions against the store and returns
// one message per failure.
func EvaluateAssertions(assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertLiveCount:
			err = assertRecordCount(actx, assertion, false)
		case AssertDeletedCount:
			err = assertRecordCount(actx, assertion, true)
		case AssertMarker:
			err = assertMarker(actx, assertion)
		case AssertKeyState:
			err = assertKeyState(actx, assertion)
		case AssertUniqueKeys:
			err = assertUniqueKeys(actx)
		case AssertAuditCount:
			err = assertAuditCount(actx, assertion)
		case AssertErrorCount:
			err = assertErrorCount(actx, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}

func assertRecordCount(actx *AssertionContext, a Assertion, deleted bool) error {
	records, err := actx.records()
	if err != nil {
		return err
	}
	n := 0
	for _, r := range records {
		if r.Deleted == deleted {
			n++
		}
	}
	if n != a.Count {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%d records", a.Count),
			Actual:   fmt.Sprintf("%d records", n),
		}
	}
	return nil
}

func assertMarker(actx *AssertionContext, a Assertion) error {
	records, err := actx.records()
	if err != nil {
		return err
	}
	var wrong []string
	for _, r := range records {
		if r.Marker != a.Marker {
			wrong = append(wrong, fmt.Sprintf("%s=%s", r.Key, r.Marker))
		}
	}
	if len(wrong) > 0 {
		sort.Strings(wrong)
		return &AssertionError{
			Type:     AssertMarker,
			Expected: fmt.Sprintf("every record marked %s", a.Marker),
			Actual:   strings.Join(wrong, ", "),
		}
	}
	return nil
}

// assertKeyState checks the records with a.Key. With several records the
// live one is checked; duplicates are the job of unique_keys.
func assertKeyState(actx *AssertionContext, a Assertion) error {
	records, err := actx.records()
	if err != nil {
		return err
	}
	var found *model.StoredAllocation
	for i := range records {
		r := &records[i]
		if r.Key != a.Key {
			continue
		}
		if found == nil || (found.Deleted && !r.Deleted) {
			found = r
		}
	}
	if found == nil {
		return &AssertionError{
			Type:     AssertKeyState,
			Expected: fmt.Sprintf("record with key %s", a.Key),
			Actual:   "record not found",
		}
	}
	if a.Deleted != nil && found.Deleted != *a.Deleted {
		return &AssertionError{
			Type:     AssertKeyState,
			Expected: fmt.Sprintf("%s deleted=%t", a.Key, *a.Deleted),
			Actual:   fmt.Sprintf("deleted=%t", found.Deleted),
		}
	}
	if a.Marker != "" && found.Marker != a.Marker {
		return &AssertionError{
			Type:     AssertKeyState,
			Expected: fmt.Sprintf("%s marked %s", a.Key, a.Marker),
			Actual:   fmt.Sprintf("marked %s", found.Marker),
		}
	}
	return nil
}

func assertUniqueKeys(actx *AssertionContext) error {
	records, err := actx.records()
	if err != nil {
		return err
	}
	seen := make(map[string]int)
	for _, r := range records {
		if !r.Deleted {
			seen[r.Key]++
		}
	}
	var dups []string
	for key, n := range seen {
		if n > 1 {
			dups = append(dups, fmt.Sprintf("%s x%d", key, n))
		}
	}
	if len(dups) > 0 {
		sort.Strings(dups)
		return &AssertionError{
			Type:     AssertUniqueKeys,
			Expected: "at most one live record per key",
			Actual:   strings.Join(dups, ", "),
		}
	}
	return nil
}

func assertAuditCount(actx *AssertionContext, a Assertion) error {
	entries, err := actx.Store.ListAudit(actx.Ctx, actx.Group, 0)
	if err != nil {
		return err
	}
	return compareCount(a, len(entries), "audit entries")
}

func assertErrorCount(actx *AssertionContext, a Assertion) error {
	entries, err := actx.Store.ListErrors(actx.Ctx, actx.Group)
	if err != nil {
		return err
	}
	return compareCount(a, len(entries), "error entries")
}

func compareCount(a Assertion, got int, what string) error {
	if got != a.Count {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%d %s", a.Count, what),
			Actual:   fmt.Sprintf("%d %s", got, what),
		}
	}
	return nil
}
