package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"mediagen/internal/domain"
	"mediagen/internal/queue"
	"mediagen/internal/storage"
)

const maxOutputs = 10

type generateRequest struct {
	Model        string `json:"model"`
	Prompt       string `json:"prompt"`
	NumOutputs   int    `json:"num_outputs"`
	Seed         *int64 `json:"seed"`
	OutputFormat string `json:"output_format"`
}

type generateResponse struct {
	JobID   string           `json:"job_id"`
	Status  domain.JobStatus `json:"status"`
	Message string           `json:"message"`
}

// Generate accepts a media-generation request, creates the root job, and
// enqueues the generate stage.
func (a *App) Generate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if strings.TrimSpace(req.Model) == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "model is required")
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "prompt is required")
		return
	}
	if req.NumOutputs == 0 {
		req.NumOutputs = 1
	}
	if req.NumOutputs < 1 || req.NumOutputs > maxOutputs {
		a.error(w, http.StatusBadRequest, "bad_request", "num_outputs must be between 1 and 10")
		return
	}

	job := &domain.Job{
		ID:           uuid.NewString(),
		Model:        req.Model,
		Prompt:       req.Prompt,
		NumOutputs:   req.NumOutputs,
		Seed:         req.Seed,
		OutputFormat: req.OutputFormat,
		Status:       domain.JobStatusPending,
	}
	if err := a.Repo.Create(r.Context(), job); err != nil {
		a.Logger.Error().Err(err).Msg("api: failed to create job")
		a.error(w, http.StatusInternalServerError, "internal", "failed to create job")
		return
	}

	ref, err := a.Queue.Submit(r.Context(), queue.Task{Type: queue.TaskGenerate, JobID: job.ID})
	if err != nil {
		a.Logger.Error().Err(err).Str("job_id", job.ID).Msg("api: failed to enqueue job")
		a.error(w, http.StatusInternalServerError, "internal", "failed to queue job")
		return
	}
	if _, err := a.Repo.Update(r.Context(), job.ID, domain.JobUpdate{ExternalTaskRef: &ref}); err != nil {
		a.Logger.Error().Err(err).Str("job_id", job.ID).Msg("api: failed to record task ref")
	}

	a.Logger.Info().Str("job_id", job.ID).Str("task_ref", ref).Msg("api: job created")
	a.json(w, http.StatusAccepted, generateResponse{
		JobID:   job.ID,
		Status:  job.Status,
		Message: "Job created and queued for processing",
	})
}

type outputEntry struct {
	ArtifactURL  string  `json:"artifact_url,omitempty"`
	Status       string  `json:"status,omitempty"`
	StorageKey   string  `json:"storage_key,omitempty"`
	PresignedURL *string `json:"presigned_url"`
	Error        string  `json:"error,omitempty"`
}

type statusResponse struct {
	JobID        string           `json:"job_id"`
	Status       domain.JobStatus `json:"status"`
	Model        string           `json:"model"`
	Prompt       string           `json:"prompt"`
	NumOutputs   int              `json:"num_outputs"`
	Seed         *int64           `json:"seed"`
	OutputFormat string           `json:"output_format,omitempty"`
	Outputs      []outputEntry    `json:"outputs"`
	ErrorMessage string           `json:"error_message,omitempty"`
	RetryCount   int              `json:"retry_count"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
	StartedAt    *time.Time       `json:"started_at"`
	CompletedAt  *time.Time       `json:"completed_at"`
}

// Status reports a root job and its per-artifact outputs in child creation
// order. Presign failures degrade to a null URL, never to a failed response.
func (a *App) Status(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if jobID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "job_id required")
		return
	}

	job, err := a.Repo.GetByID(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		a.Logger.Error().Err(err).Str("job_id", jobID).Msg("api: failed to load job")
		a.error(w, http.StatusInternalServerError, "internal", "failed to get job status")
		return
	}

	children, err := a.Repo.ListChildren(r.Context(), job.ID)
	if err != nil {
		a.Logger.Error().Err(err).Str("job_id", jobID).Msg("api: failed to list children")
		a.error(w, http.StatusInternalServerError, "internal", "failed to get job status")
		return
	}

	var outputs []outputEntry
	if len(children) > 0 {
		outputs = a.childOutputs(r, children)
	} else {
		outputs = a.legacyOutputs(r, job)
	}

	a.json(w, http.StatusOK, statusResponse{
		JobID:        job.ID,
		Status:       job.Status,
		Model:        job.Model,
		Prompt:       job.Prompt,
		NumOutputs:   job.NumOutputs,
		Seed:         job.Seed,
		OutputFormat: job.OutputFormat,
		Outputs:      outputs,
		ErrorMessage: job.ErrorMessage,
		RetryCount:   job.RetryCount,
		CreatedAt:    job.CreatedAt,
		UpdatedAt:    job.UpdatedAt,
		StartedAt:    job.StartedAt,
		CompletedAt:  job.CompletedAt,
	})
}

func (a *App) childOutputs(r *http.Request, children []*domain.Job) []outputEntry {
	outputs := make([]outputEntry, 0, len(children))
	for _, child := range children {
		entry := outputEntry{Status: string(child.Status), Error: child.ErrorMessage}
		if len(child.Media) > 0 {
			entry.ArtifactURL = child.Media[0].ArtifactURL
			entry.StorageKey = child.Media[0].StorageKey
		}
		entry.PresignedURL = a.presign(r, entry.StorageKey, child.ID)
		outputs = append(outputs, entry)
	}
	return outputs
}

// legacyOutputs serves jobs persisted before fan-out existed: the root's own
// media field is the source of truth, and a missing storage key may still be
// recoverable from the stored object URL.
func (a *App) legacyOutputs(r *http.Request, job *domain.Job) []outputEntry {
	outputs := make([]outputEntry, 0, len(job.Media))
	for _, item := range job.Media {
		entry := outputEntry{
			ArtifactURL: item.ArtifactURL,
			StorageKey:  item.StorageKey,
			Status:      string(job.Status),
			Error:       item.Error,
		}
		key := item.StorageKey
		if key == "" && strings.HasPrefix(item.ArtifactURL, "http") {
			key = storage.LegacyKeyFromURL(item.ArtifactURL)
		}
		entry.PresignedURL = a.presign(r, key, job.ID)
		outputs = append(outputs, entry)
	}
	return outputs
}

func (a *App) presign(r *http.Request, key, jobID string) *string {
	if key == "" || a.Store == nil {
		return nil
	}
	url, err := a.Store.PresignedURL(r.Context(), key, a.PresignTTL)
	if err != nil {
		a.Logger.Error().Err(err).Str("job_id", jobID).Str("storage_key", key).Msg("api: presign failed")
		return nil
	}
	return &url
}
