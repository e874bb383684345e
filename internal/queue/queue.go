// Package queue defines the task transport the orchestration engine runs on:
// at-least-once delivery of typed work items to a pool of workers, with
// delayed re-submission for backoff retries.
package queue

import (
	"context"
	"time"
)

// TaskType identifies which stage handler a task is dispatched to.
type TaskType string

const (
	TaskGenerate TaskType = "generate"
	TaskPersist  TaskType = "persist"
	TaskFinalize TaskType = "finalize"
)

// Task is one unit of asynchronous work. JobID names the job the stage owns:
// the root for generate/finalize, the child for persist.
type Task struct {
	Type        TaskType `json:"type"`
	JobID       string   `json:"job_id"`
	ArtifactURL string   `json:"artifact_url,omitempty"`
	// Ref is the queue-assigned correlation id, set on submission.
	Ref string `json:"ref,omitempty"`
}

// Handler processes one delivered task. A nil return acknowledges the
// delivery; an error rejects it. Handlers must tolerate redelivery.
type Handler func(ctx context.Context, task Task) error

// TaskQueue submits tasks for asynchronous execution. Delivery is
// at-least-once; acknowledgment is worker-controlled.
type TaskQueue interface {
	// Submit enqueues the task for immediate delivery and returns its
	// correlation ref.
	Submit(ctx context.Context, task Task) (string, error)
	// SubmitAfter enqueues the task for delivery no earlier than delay from
	// now.
	SubmitAfter(ctx context.Context, task Task, delay time.Duration) (string, error)
}
