package domain

import "time"

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusRetrying   JobStatus = "retrying"
)

// Terminal reports whether no further transition may occur from s.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// MediaItem is one artifact slot. On a completed child it carries the source
// artifact URL and the storage key; on a failed child the key is empty and
// Error holds the failure message, so aggregation never shrinks the list.
type MediaItem struct {
	ArtifactURL string `json:"artifact_url"`
	StorageKey  string `json:"storage_key,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Job encapsulates the lifecycle of one media-generation request (root) or of
// one artifact's persistence step (child, ParentID set). Children never have
// children of their own.
type Job struct {
	ID       string
	ParentID *string

	// SpawnIndex is the child's position in its parent's artifact set. It is
	// what makes the children-in-spawn-order guarantee unconditional; two
	// children created within the same timestamp tick still order correctly.
	SpawnIndex int

	Model        string
	Prompt       string
	NumOutputs   int
	Seed         *int64
	OutputFormat string

	Status       JobStatus
	Media        []MediaItem
	ErrorMessage string
	RetryCount   int

	// ExternalTaskRef correlates the job to its queued task instance.
	ExternalTaskRef string

	CreatedAt   time.Time
	UpdatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// IsChild reports whether the job is a fan-out child rather than a root.
func (j *Job) IsChild() bool {
	return j.ParentID != nil
}
