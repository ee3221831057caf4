package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/castplan/internal/model"
)

// RunError is a failure that aborts a run before convergence starts.
type RunError struct {
	// Code identifies the error category.
	Code RunErrorCode

	// Message is a human-readable description.
	Message string

	// GroupID identifies the affected group.
	GroupID string

	// Fields lists every offending field, department or activity for
	// validation errors.
	Fields []string

	// Err is the underlying cause, if any.
	Err error
}

// RunErrorCode categorizes run errors.
type RunErrorCode string

const (
	// ErrCodeValidation indicates missing or invalid group inputs, or a
	// roster entry missing from the lookup tables.
	ErrCodeValidation RunErrorCode = "VALIDATION"

	// ErrCodeGroupNotFound indicates the group does not exist.
	ErrCodeGroupNotFound RunErrorCode = "GROUP_NOT_FOUND"

	// ErrCodeStoreRead indicates the store could not be read.
	ErrCodeStoreRead RunErrorCode = "STORE_READ"

	// ErrCodeLock indicates the run was cancelled while waiting for the
	// group lock.
	ErrCodeLock RunErrorCode = "LOCK"
)

// Error implements the error interface.
func (e *RunError) Error() string {
	if e.GroupID != "" {
		return fmt.Sprintf("%s: %s (group=%s)", e.Code, e.Message, e.GroupID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// IsValidationError returns true if the error is a validation error.
// Uses errors.As to handle wrapped errors.
func IsValidationError(err error) bool {
	var re *RunError
	if errors.As(err, &re) {
		return re.Code == ErrCodeValidation
	}
	return false
}

// IsNotFound returns true if the run's group does not exist.
func IsNotFound(err error) bool {
	var re *RunError
	if errors.As(err, &re) && re.Code == ErrCodeGroupNotFound {
		return true
	}
	return errors.Is(err, model.ErrNotFound)
}

func newFieldError(fe *model.FieldError) *RunError {
	return &RunError{
		Code:    ErrCodeValidation,
		Message: fe.Error(),
		GroupID: fe.GroupID,
		Fields:  fe.Fields,
		Err:     fe,
	}
}

func newMissingLookupError(groupID, what string, names []string) *RunError {
	return &RunError{
		Code:    ErrCodeValidation,
		Message: fmt.Sprintf("missing %s: %s", what, strings.Join(names, ", ")),
		GroupID: groupID,
		Fields:  names,
	}
}

func newStoreReadError(groupID, what string, err error) *RunError {
	return &RunError{
		Code:    ErrCodeStoreRead,
		Message: fmt.Sprintf("read %s: %v", what, err),
		GroupID: groupID,
		Err:     err,
	}
}
