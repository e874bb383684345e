package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"mediagen/internal/domain"
	"mediagen/internal/infra"
	"mediagen/internal/queue"
	"mediagen/internal/storage"
)

// App bundles the dependencies of the HTTP boundary.
type App struct {
	Repo       domain.JobRepository
	Queue      queue.TaskQueue
	Store      storage.Store
	PresignTTL time.Duration
	Logger     infra.Logger
}

// NewApp constructs the handler container.
func NewApp(repo domain.JobRepository, q queue.TaskQueue, store storage.Store, presignTTL time.Duration, logger infra.Logger) *App {
	if presignTTL <= 0 {
		presignTTL = time.Hour
	}
	return &App{Repo: repo, Queue: q, Store: store, PresignTTL: presignTTL, Logger: logger}
}

// Health responds 200 while the process is serving.
func (a *App) Health(w http.ResponseWriter, _ *http.Request) {
	a.json(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, errCode, detail string) {
	a.json(w, code, map[string]string{"error": errCode, "detail": detail})
}
