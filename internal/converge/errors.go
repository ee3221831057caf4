package converge

import "fmt"

// WriteError is a single-record write that failed after its retry.
type WriteError struct {
	Op           string
	AllocationID string
	Key          string
	Err          error
}

func (e *WriteError) Error() string {
	if e.AllocationID != "" {
		return fmt.Sprintf("%s allocation %s (%s): %v", e.Op, e.AllocationID, e.Key, e.Err)
	}
	return fmt.Sprintf("%s allocation %s: %v", e.Op, e.Key, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// BatchError is a whole batch rejected by the store.
type BatchError struct {
	Op   string
	Size int
	Err  error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("%s batch of %d: %v", e.Op, e.Size, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }
