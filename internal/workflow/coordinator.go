// Package workflow drives the generation pipeline: generate an ordered set of
// artifacts, fan out one persist task per artifact, wait on the barrier, and
// finalize the root job exactly once.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"mediagen/internal/barrier"
	"mediagen/internal/domain"
	"mediagen/internal/infra"
	"mediagen/internal/providers/generation"
	"mediagen/internal/queue"
	"mediagen/internal/retry"
	"mediagen/internal/storage"
)

// Coordinator owns every job state transition past creation. It is safe for
// concurrent use from many queue consumers; the barrier is the only shared
// synchronization point between them.
type Coordinator struct {
	repo      domain.JobRepository
	queue     queue.TaskQueue
	barrier   barrier.Barrier
	generator generation.Generator
	store     storage.Store
	policy    retry.Policy
	logger    infra.Logger
}

// New wires a Coordinator from its collaborators.
func New(
	repo domain.JobRepository,
	q queue.TaskQueue,
	b barrier.Barrier,
	gen generation.Generator,
	store storage.Store,
	policy retry.Policy,
	logger infra.Logger,
) *Coordinator {
	return &Coordinator{
		repo:      repo,
		queue:     q,
		barrier:   b,
		generator: gen,
		store:     store,
		policy:    policy,
		logger:    logger,
	}
}

// Handlers returns the stage handlers keyed by task type, ready to register
// on a queue consumer.
func (c *Coordinator) Handlers() map[queue.TaskType]queue.Handler {
	return map[queue.TaskType]queue.Handler{
		queue.TaskGenerate: c.HandleGenerate,
		queue.TaskPersist:  c.HandlePersist,
		queue.TaskFinalize: c.HandleFinalize,
	}
}

// HandleGenerate runs the generation stage for a root job. On success it
// spawns one child per artifact and fans out persist tasks; on failure it
// consults the retry policy.
func (c *Coordinator) HandleGenerate(ctx context.Context, task queue.Task) error {
	job, err := c.repo.GetByID(ctx, task.JobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		c.logger.Info().Str("job_id", job.ID).Str("status", string(job.Status)).Msg("workflow: generate redelivered for terminal job, skipping")
		return nil
	}

	children, err := c.repo.ListChildren(ctx, job.ID)
	if err != nil {
		return err
	}
	if len(children) > 0 {
		// A previous delivery already spawned the fan-out; generating again
		// would grow the child set past the armed barrier and finalize could
		// never reconcile it. Re-drive the outstanding work instead.
		return c.resumeFanOut(ctx, job, children)
	}

	job, err = c.beginAttempt(ctx, job)
	if err != nil {
		return err
	}

	c.logger.Info().Str("job_id", job.ID).Str("model", job.Model).Int("attempt", job.RetryCount).Msg("workflow: generating media")

	artifacts, err := c.generator.Generate(ctx, generation.Request{
		Model:        job.Model,
		Prompt:       job.Prompt,
		NumOutputs:   job.NumOutputs,
		Seed:         job.Seed,
		OutputFormat: job.OutputFormat,
	})
	if err != nil {
		return c.failOrRetry(ctx, job, err)
	}

	if len(artifacts) == 0 {
		// Nothing to persist; the barrier never arms and the root finalizes
		// immediately with an empty result set.
		return c.completeRoot(ctx, job.ID, []domain.MediaItem{})
	}

	return c.spawnChildren(ctx, job, artifacts)
}

// beginAttempt moves the root into Processing and counts the attempt.
// StartedAt is recorded once, on the first attempt only.
func (c *Coordinator) beginAttempt(ctx context.Context, job *domain.Job) (*domain.Job, error) {
	status := domain.JobStatusProcessing
	attempt := job.RetryCount + 1
	upd := domain.JobUpdate{Status: &status, RetryCount: &attempt}
	if job.StartedAt == nil {
		now := time.Now().UTC()
		upd.StartedAt = &now
	}
	return c.repo.Update(ctx, job.ID, upd)
}

// failOrRetry applies the backoff policy after a failed generation attempt.
// The error is always recorded on the job before this returns.
func (c *Coordinator) failOrRetry(ctx context.Context, job *domain.Job, genErr error) error {
	msg := genErr.Error()
	decision := c.policy.Next(job.RetryCount)

	if !decision.Retry {
		c.logger.Error().Err(genErr).Str("job_id", job.ID).Int("attempt", job.RetryCount).Msg("workflow: generation failed terminally")
		return c.markFailed(ctx, job.ID, msg)
	}

	status := domain.JobStatusRetrying
	if _, err := c.repo.Update(ctx, job.ID, domain.JobUpdate{Status: &status, ErrorMessage: &msg}); err != nil {
		return err
	}
	ref, err := c.queue.SubmitAfter(ctx, queue.Task{Type: queue.TaskGenerate, JobID: job.ID}, decision.Delay)
	if err != nil {
		return err
	}
	if _, err := c.repo.Update(ctx, job.ID, domain.JobUpdate{ExternalTaskRef: &ref}); err != nil {
		return err
	}
	c.logger.Warn().Err(genErr).
		Str("job_id", job.ID).
		Int("attempt", job.RetryCount).
		Dur("delay", decision.Delay).
		Msg("workflow: generation failed, retry scheduled")
	return nil
}

// spawnChildren creates one child job per artifact in order, arms the
// barrier, and submits the persist fan-out.
func (c *Coordinator) spawnChildren(ctx context.Context, root *domain.Job, artifacts []string) error {
	children := make([]*domain.Job, 0, len(artifacts))
	for i, artifact := range artifacts {
		parentID := root.ID
		child := &domain.Job{
			ID:         uuid.NewString(),
			ParentID:   &parentID,
			SpawnIndex: i,
			Status:     domain.JobStatusPending,
			Media:      []domain.MediaItem{{ArtifactURL: artifact}},
		}
		if err := c.repo.Create(ctx, child); err != nil {
			return err
		}
		children = append(children, child)
	}

	if err := c.barrier.Init(ctx, root.ID, len(children)); err != nil {
		return err
	}

	for _, child := range children {
		ref, err := c.queue.Submit(ctx, queue.Task{
			Type:        queue.TaskPersist,
			JobID:       child.ID,
			ArtifactURL: child.Media[0].ArtifactURL,
		})
		if err != nil {
			return err
		}
		if _, err := c.repo.Update(ctx, child.ID, domain.JobUpdate{ExternalTaskRef: &ref}); err != nil {
			return err
		}
	}

	c.logger.Info().Str("job_id", root.ID).Int("children", len(children)).Msg("workflow: spawned persist fan-out")
	return nil
}

// resumeFanOut recovers a generate task redelivered after children were
// already spawned (a worker crash between the fan-out and the broker ack).
// The child set is fixed at spawn time, so the only safe moves are arming a
// barrier that never armed, re-submitting persist tasks for children that
// have not settled, and kicking finalize when every child already has.
func (c *Coordinator) resumeFanOut(ctx context.Context, root *domain.Job, children []*domain.Job) error {
	pending := make([]*domain.Job, 0, len(children))
	for _, child := range children {
		if !child.Status.Terminal() {
			pending = append(pending, child)
		}
	}

	if len(pending) == 0 {
		c.logger.Info().Str("job_id", root.ID).Msg("workflow: generate redelivered with all children settled, finalizing")
		_, err := c.queue.Submit(ctx, queue.Task{Type: queue.TaskFinalize, JobID: root.ID})
		return err
	}

	if _, err := c.barrier.Size(ctx, root.ID); err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		// The crash hit before the barrier armed, so no persist task has run
		// yet and the full child set is still outstanding.
		if err := c.barrier.Init(ctx, root.ID, len(children)); err != nil {
			return err
		}
	}

	for _, child := range pending {
		artifact := ""
		if len(child.Media) > 0 {
			artifact = child.Media[0].ArtifactURL
		}
		ref, err := c.queue.Submit(ctx, queue.Task{Type: queue.TaskPersist, JobID: child.ID, ArtifactURL: artifact})
		if err != nil {
			return err
		}
		if _, err := c.repo.Update(ctx, child.ID, domain.JobUpdate{ExternalTaskRef: &ref}); err != nil {
			return err
		}
	}

	c.logger.Info().Str("job_id", root.ID).Int("resubmitted", len(pending)).Msg("workflow: generate redelivered after fan-out, resubmitted persist tasks")
	return nil
}

// HandlePersist uploads one child's artifact and reports to the barrier. A
// failed upload fails that child only; siblings and the barrier proceed.
func (c *Coordinator) HandlePersist(ctx context.Context, task queue.Task) error {
	child, err := c.repo.GetByID(ctx, task.JobID)
	if err != nil {
		return err
	}
	if child.Status.Terminal() {
		// Redelivery of a settled persist task. The delivery that settled the
		// child already arrived at the barrier, so do not arrive again.
		c.logger.Info().Str("job_id", child.ID).Str("status", string(child.Status)).Msg("workflow: persist redelivered for terminal child, skipping")
		return nil
	}
	if child.ParentID == nil {
		return errors.New("persist task for a job without a parent")
	}
	parentID := *child.ParentID

	status := domain.JobStatusProcessing
	now := time.Now().UTC()
	if _, err := c.repo.Update(ctx, child.ID, domain.JobUpdate{Status: &status, StartedAt: &now}); err != nil {
		return err
	}

	artifact := task.ArtifactURL
	if artifact == "" && len(child.Media) > 0 {
		artifact = child.Media[0].ArtifactURL
	}

	key, upErr := c.store.UploadFromURL(ctx, artifact, parentID)
	if upErr != nil {
		msg := upErr.Error()
		if err := c.markFailed(ctx, child.ID, msg); err != nil {
			return err
		}
		c.logger.Error().Err(upErr).Str("job_id", child.ID).Str("parent_id", parentID).Msg("workflow: persist failed")
	} else {
		completed := domain.JobStatusCompleted
		done := time.Now().UTC()
		media := []domain.MediaItem{{ArtifactURL: artifact, StorageKey: key}}
		if _, err := c.repo.Update(ctx, child.ID, domain.JobUpdate{Status: &completed, Media: media, CompletedAt: &done}); err != nil {
			return err
		}
	}

	last, err := c.barrier.Arrive(ctx, parentID)
	if err != nil {
		return err
	}
	if last {
		if _, err := c.queue.Submit(ctx, queue.Task{Type: queue.TaskFinalize, JobID: parentID}); err != nil {
			return err
		}
	}
	return nil
}

// HandleFinalize aggregates all children onto the root in spawn order and
// marks the root terminal. The barrier guarantees it runs once per root; a
// redelivered finalize finds the root terminal and no-ops.
func (c *Coordinator) HandleFinalize(ctx context.Context, task queue.Task) error {
	root, err := c.repo.GetByID(ctx, task.JobID)
	if err != nil {
		return err
	}
	if root.Status.Terminal() {
		c.logger.Info().Str("job_id", root.ID).Msg("workflow: finalize redelivered for terminal job, skipping")
		return nil
	}

	children, err := c.repo.ListChildren(ctx, root.ID)
	if err != nil {
		return err
	}

	expected, err := c.barrier.Size(ctx, root.ID)
	if err != nil {
		return err
	}
	if expected != len(children) {
		incErr := &domain.BarrierInconsistencyError{ParentID: root.ID, Expected: expected, Got: len(children)}
		msg := incErr.Error()
		if _, err := c.repo.Update(ctx, root.ID, domain.JobUpdate{ErrorMessage: &msg}); err != nil {
			return err
		}
		c.logger.Error().Str("job_id", root.ID).Int("expected", expected).Int("got", len(children)).Msg("workflow: finalize set size mismatch")
		return incErr
	}

	media := make([]domain.MediaItem, 0, len(children))
	for _, child := range children {
		media = append(media, childMediaItem(child))
	}

	if err := c.completeRoot(ctx, root.ID, media); err != nil {
		return err
	}
	if err := c.barrier.Forget(ctx, root.ID); err != nil {
		c.logger.Warn().Err(err).Str("job_id", root.ID).Msg("workflow: failed to discard barrier state")
	}
	c.logger.Info().Str("job_id", root.ID).Int("media", len(media)).Msg("workflow: job finalized")
	return nil
}

// childMediaItem maps one settled child to its slot in the aggregated media
// sequence. A failed child keeps its slot with an error placeholder.
func childMediaItem(child *domain.Job) domain.MediaItem {
	if child.Status == domain.JobStatusCompleted && len(child.Media) > 0 {
		return child.Media[0]
	}
	item := domain.MediaItem{Error: child.ErrorMessage}
	if item.Error == "" {
		item.Error = "artifact was not persisted"
	}
	if len(child.Media) > 0 {
		item.ArtifactURL = child.Media[0].ArtifactURL
	}
	return item
}

// RecordDropped settles a job whose task the queue gave up on, so a dropped
// delivery always leaves its error on the job. For a dropped persist the
// child still arrives at the barrier, keeping the parent from waiting on a
// delivery that will never come. Terminal jobs are left untouched.
func (c *Coordinator) RecordDropped(ctx context.Context, task queue.Task, taskErr error) {
	job, err := c.repo.GetByID(ctx, task.JobID)
	if err != nil {
		c.logger.Error().Err(err).Str("job_id", task.JobID).Msg("workflow: failed to load job for dropped task")
		return
	}
	if job.Status.Terminal() {
		return
	}

	msg := fmt.Sprintf("%s task dropped after repeated failures: %v", task.Type, taskErr)
	if err := c.markFailed(ctx, job.ID, msg); err != nil {
		c.logger.Error().Err(err).Str("job_id", job.ID).Msg("workflow: failed to record dropped task")
		return
	}
	c.logger.Error().Str("job_id", job.ID).Str("task_type", string(task.Type)).Msg("workflow: dropped task recorded as job failure")

	if !job.IsChild() {
		return
	}
	last, err := c.barrier.Arrive(ctx, *job.ParentID)
	if err != nil {
		c.logger.Error().Err(err).Str("job_id", job.ID).Str("parent_id", *job.ParentID).Msg("workflow: barrier arrival for dropped persist failed")
		return
	}
	if last {
		if _, err := c.queue.Submit(ctx, queue.Task{Type: queue.TaskFinalize, JobID: *job.ParentID}); err != nil {
			c.logger.Error().Err(err).Str("parent_id", *job.ParentID).Msg("workflow: failed to enqueue finalize after dropped persist")
		}
	}
}

func (c *Coordinator) completeRoot(ctx context.Context, jobID string, media []domain.MediaItem) error {
	status := domain.JobStatusCompleted
	now := time.Now().UTC()
	_, err := c.repo.Update(ctx, jobID, domain.JobUpdate{Status: &status, Media: media, CompletedAt: &now})
	return err
}

func (c *Coordinator) markFailed(ctx context.Context, jobID, msg string) error {
	status := domain.JobStatusFailed
	now := time.Now().UTC()
	_, err := c.repo.Update(ctx, jobID, domain.JobUpdate{Status: &status, ErrorMessage: &msg, CompletedAt: &now})
	return err
}
