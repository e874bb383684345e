package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrTerminalJob     = errors.New("job is terminal")
	ErrProviderFailure = errors.New("provider failure")
	ErrStorageFailure  = errors.New("storage failure")
)

// ProviderError wraps a generation-provider failure. Retryable at the
// generate stage only.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrProviderFailure) match any ProviderError.
func (e *ProviderError) Is(target error) bool { return target == ErrProviderFailure }

// StorageError wraps an object-store failure. Terminal for the affected
// child; never retried.
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("storage %s %s: %v", e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorageFailure }

// BarrierInconsistencyError reports a violated fan-in invariant: the finalize
// step observed a sibling set that does not match the size the barrier was
// armed with, or an arrival past zero. Fatal for the affected root job.
type BarrierInconsistencyError struct {
	ParentID string
	Expected int
	Got      int
}

func (e *BarrierInconsistencyError) Error() string {
	return fmt.Sprintf("barrier inconsistency for job %s: expected %d siblings, got %d", e.ParentID, e.Expected, e.Got)
}
