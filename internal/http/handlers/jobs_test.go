package handlers_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"mediagen/internal/adapter/repo"
	"mediagen/internal/domain"
	"mediagen/internal/http/handlers"
	"mediagen/internal/http/httpapi"
	"mediagen/internal/queue"
)

type stubStore struct {
	failKeys map[string]bool
}

func (s *stubStore) UploadFromURL(_ context.Context, artifactURL, jobID string) (string, error) {
	return "jobs/" + jobID + "/upload", nil
}

func (s *stubStore) PresignedURL(_ context.Context, key string, _ time.Duration) (string, error) {
	if s.failKeys[key] {
		return "", &domain.StorageError{Op: "presign", Key: key, Err: context.DeadlineExceeded}
	}
	return "https://signed.example/" + key, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *repo.Memory, *stubStore) {
	t.Helper()
	jobs := repo.NewMemory()
	store := &stubStore{failKeys: map[string]bool{}}
	app := handlers.NewApp(jobs, queue.NewMemory(), store, time.Hour, zerolog.Nop())
	srv := httptest.NewServer(httpapi.NewRouter(app))
	t.Cleanup(srv.Close)
	return srv, jobs, store
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestGenerateCreatesAndQueuesJob(t *testing.T) {
	srv, jobs, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/v1/generate", `{"model":"stability-ai/sdxl","prompt":"a lighthouse","num_outputs":3}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}

	var body struct {
		JobID  string `json:"job_id"`
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.JobID == "" || body.Status != "pending" {
		t.Fatalf("response = %+v, want pending job with id", body)
	}

	job, err := jobs.GetByID(context.Background(), body.JobID)
	if err != nil {
		t.Fatalf("job not persisted: %v", err)
	}
	if job.NumOutputs != 3 || job.Model != "stability-ai/sdxl" {
		t.Fatalf("persisted job = %+v", job)
	}
	if job.ExternalTaskRef == "" {
		t.Fatal("job missing external task ref")
	}
}

func TestGenerateValidation(t *testing.T) {
	srv, _, _ := newTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{`},
		{"missing model", `{"prompt":"p"}`},
		{"missing prompt", `{"model":"m"}`},
		{"num_outputs too high", `{"model":"m","prompt":"p","num_outputs":11}`},
		{"num_outputs negative", `{"model":"m","prompt":"p","num_outputs":-1}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp := postJSON(t, srv.URL+"/v1/generate", tc.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestGenerateDefaultsNumOutputs(t *testing.T) {
	srv, jobs, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/v1/generate", `{"model":"m","prompt":"p"}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	var body struct {
		JobID string `json:"job_id"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&body)
	job, _ := jobs.GetByID(context.Background(), body.JobID)
	if job.NumOutputs != 1 {
		t.Fatalf("num_outputs = %d, want defaulted 1", job.NumOutputs)
	}
}

func TestStatusUnknownJob(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/v1/status/nope")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func getStatus(t *testing.T, srv *httptest.Server, jobID string) map[string]any {
	t.Helper()
	resp, err := http.Get(srv.URL + "/v1/status/" + jobID)
	if err != nil {
		t.Fatalf("GET status: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return body
}

func TestStatusReportsChildrenInSpawnOrder(t *testing.T) {
	srv, jobs, _ := newTestServer(t)
	ctx := context.Background()

	root := &domain.Job{ID: "root-1", Model: "m", Prompt: "p", NumOutputs: 2, Status: domain.JobStatusCompleted}
	if err := jobs.Create(ctx, root); err != nil {
		t.Fatalf("create root: %v", err)
	}
	parentID := root.ID
	okChild := &domain.Job{
		ID:         "child-1",
		ParentID:   &parentID,
		SpawnIndex: 0,
		Status:     domain.JobStatusCompleted,
		Media:      []domain.MediaItem{{ArtifactURL: "http://x/a.jpg", StorageKey: "jobs/root-1/a.jpg"}},
	}
	badChild := &domain.Job{
		ID:           "child-2",
		ParentID:     &parentID,
		SpawnIndex:   1,
		Status:       domain.JobStatusFailed,
		ErrorMessage: "storage put: boom",
		Media:        []domain.MediaItem{{ArtifactURL: "http://x/b.jpg"}},
	}
	if err := jobs.Create(ctx, okChild); err != nil {
		t.Fatalf("create child: %v", err)
	}
	if err := jobs.Create(ctx, badChild); err != nil {
		t.Fatalf("create child: %v", err)
	}

	body := getStatus(t, srv, root.ID)
	outputs, ok := body["outputs"].([]any)
	if !ok || len(outputs) != 2 {
		t.Fatalf("outputs = %v, want 2 entries", body["outputs"])
	}

	first := outputs[0].(map[string]any)
	if first["artifact_url"] != "http://x/a.jpg" {
		t.Fatalf("first output = %v, want the first-created child", first)
	}
	if first["presigned_url"] != "https://signed.example/jobs/root-1/a.jpg" {
		t.Fatalf("first presigned_url = %v", first["presigned_url"])
	}

	second := outputs[1].(map[string]any)
	if second["presigned_url"] != nil {
		t.Fatalf("failed child presigned_url = %v, want null", second["presigned_url"])
	}
	if second["error"] != "storage put: boom" {
		t.Fatalf("failed child error = %v", second["error"])
	}
}

func TestStatusPresignFailureYieldsNullURL(t *testing.T) {
	srv, jobs, store := newTestServer(t)
	ctx := context.Background()

	root := &domain.Job{ID: "root-2", Model: "m", Prompt: "p", NumOutputs: 1, Status: domain.JobStatusCompleted}
	_ = jobs.Create(ctx, root)
	parentID := root.ID
	child := &domain.Job{
		ID:       "child-3",
		ParentID: &parentID,
		Status:   domain.JobStatusCompleted,
		Media:    []domain.MediaItem{{ArtifactURL: "http://x/a.jpg", StorageKey: "jobs/root-2/a.jpg"}},
	}
	_ = jobs.Create(ctx, child)
	store.failKeys["jobs/root-2/a.jpg"] = true

	body := getStatus(t, srv, root.ID)
	outputs := body["outputs"].([]any)
	entry := outputs[0].(map[string]any)
	if entry["presigned_url"] != nil {
		t.Fatalf("presigned_url = %v, want null on presign failure", entry["presigned_url"])
	}
	if entry["storage_key"] != "jobs/root-2/a.jpg" {
		t.Fatalf("storage_key = %v", entry["storage_key"])
	}
}

func TestStatusLegacyFallbackDerivesKeyFromURL(t *testing.T) {
	srv, jobs, _ := newTestServer(t)
	ctx := context.Background()

	// Pre-fan-out job: no children, media holds only the stored object URL.
	legacy := &domain.Job{
		ID:         "legacy-1",
		Model:      "m",
		Prompt:     "p",
		NumOutputs: 1,
		Status:     domain.JobStatusCompleted,
		Media:      []domain.MediaItem{{ArtifactURL: "http://minio:9000/media-generation/jobs/legacy-1/file.jpg"}},
	}
	if err := jobs.Create(ctx, legacy); err != nil {
		t.Fatalf("create legacy job: %v", err)
	}

	body := getStatus(t, srv, legacy.ID)
	outputs := body["outputs"].([]any)
	if len(outputs) != 1 {
		t.Fatalf("outputs = %v, want 1 entry from the root's own media", outputs)
	}
	entry := outputs[0].(map[string]any)
	if entry["presigned_url"] != "https://signed.example/jobs/legacy-1/file.jpg" {
		t.Fatalf("presigned_url = %v, want URL presigned from the derived key", entry["presigned_url"])
	}
}
