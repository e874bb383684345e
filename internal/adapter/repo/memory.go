package repo

import (
	"context"
	"sort"
	"sync"
	"time"

	"mediagen/internal/domain"
)

// Memory implements domain.JobRepository in process. It is intended for tests
// and development environments where Postgres is not available.
type Memory struct {
	mu   sync.Mutex
	jobs map[string]*domain.Job
	seq  int
	ord  map[string]int
}

// NewMemory returns an empty in-memory repository.
func NewMemory() *Memory {
	return &Memory{
		jobs: make(map[string]*domain.Job),
		ord:  make(map[string]int),
	}
}

func (m *Memory) Create(_ context.Context, job *domain.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now
	cp := cloneJob(job)
	m.jobs[job.ID] = cp
	m.seq++
	m.ord[job.ID] = m.seq
	return nil
}

func (m *Memory) GetByID(_ context.Context, id string) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneJob(job), nil
}

func (m *Memory) Update(_ context.Context, id string, upd domain.JobUpdate) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if upd.Status != nil {
		job.Status = *upd.Status
	}
	if upd.Media != nil {
		job.Media = append([]domain.MediaItem(nil), upd.Media...)
	}
	if upd.ErrorMessage != nil {
		job.ErrorMessage = *upd.ErrorMessage
	}
	if upd.RetryCount != nil {
		job.RetryCount = *upd.RetryCount
	}
	if upd.ExternalTaskRef != nil {
		job.ExternalTaskRef = *upd.ExternalTaskRef
	}
	if upd.StartedAt != nil {
		t := *upd.StartedAt
		job.StartedAt = &t
	}
	if upd.CompletedAt != nil {
		t := *upd.CompletedAt
		job.CompletedAt = &t
	}
	job.UpdatedAt = time.Now().UTC()
	return cloneJob(job), nil
}

func (m *Memory) ListChildren(_ context.Context, parentID string) ([]*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var children []*domain.Job
	for _, job := range m.jobs {
		if job.ParentID != nil && *job.ParentID == parentID {
			children = append(children, cloneJob(job))
		}
	}
	sort.Slice(children, func(i, j int) bool {
		if children[i].SpawnIndex != children[j].SpawnIndex {
			return children[i].SpawnIndex < children[j].SpawnIndex
		}
		return m.ord[children[i].ID] < m.ord[children[j].ID]
	})
	return children, nil
}

func cloneJob(job *domain.Job) *domain.Job {
	cp := *job
	if job.ParentID != nil {
		v := *job.ParentID
		cp.ParentID = &v
	}
	if job.Seed != nil {
		v := *job.Seed
		cp.Seed = &v
	}
	if job.StartedAt != nil {
		v := *job.StartedAt
		cp.StartedAt = &v
	}
	if job.CompletedAt != nil {
		v := *job.CompletedAt
		cp.CompletedAt = &v
	}
	cp.Media = append([]domain.MediaItem(nil), job.Media...)
	return &cp
}

var _ domain.JobRepository = (*Memory)(nil)
