package domain

import (
	"context"
	"time"
)

// JobUpdate is a partial, last-writer-wins update of a single job row. Nil
// fields are left untouched. Media replaces the whole sequence when set.
type JobUpdate struct {
	Status          *JobStatus
	Media           []MediaItem
	ErrorMessage    *string
	RetryCount      *int
	ExternalTaskRef *string
	StartedAt       *time.Time
	CompletedAt     *time.Time
}

// JobRepository is the durable job store. Implementations provide single-row
// durability only; cross-job consistency (fan-in counting) is handled by the
// barrier, not by store transactions.
type JobRepository interface {
	Create(ctx context.Context, job *Job) error
	GetByID(ctx context.Context, id string) (*Job, error)
	Update(ctx context.Context, id string, upd JobUpdate) (*Job, error)
	// ListChildren returns the children of parentID in spawn order.
	ListChildren(ctx context.Context, parentID string) ([]*Job, error)
}
