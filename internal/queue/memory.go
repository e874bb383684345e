package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process TaskQueue for tests and single-binary development
// runs. Every delivery runs on its own goroutine, which preserves the "any
// sibling may finish first" scheduling the broker gives in production.
type Memory struct {
	mu       sync.Mutex
	handlers map[TaskType]Handler
	wg       sync.WaitGroup
	closed   bool
}

// NewMemory returns an empty in-process queue.
func NewMemory() *Memory {
	return &Memory{handlers: make(map[TaskType]Handler)}
}

// Register installs the handler for a task type. Must be called before any
// task of that type is submitted.
func (m *Memory) Register(t TaskType, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[t] = h
}

// Submit schedules the task for immediate asynchronous execution.
func (m *Memory) Submit(ctx context.Context, task Task) (string, error) {
	return m.schedule(ctx, task, 0)
}

// SubmitAfter schedules the task after the given delay.
func (m *Memory) SubmitAfter(ctx context.Context, task Task, delay time.Duration) (string, error) {
	return m.schedule(ctx, task, delay)
}

func (m *Memory) schedule(ctx context.Context, task Task, delay time.Duration) (string, error) {
	if task.Ref == "" {
		task.Ref = uuid.NewString()
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return "", context.Canceled
	}
	m.wg.Add(1)
	m.mu.Unlock()

	run := func() {
		defer m.wg.Done()
		m.mu.Lock()
		handler := m.handlers[task.Type]
		m.mu.Unlock()
		if handler == nil {
			return
		}
		_ = handler(ctx, task)
	}

	if delay <= 0 {
		go run()
	} else {
		time.AfterFunc(delay, run)
	}
	return task.Ref, nil
}

// Wait blocks until every submitted task, including delayed ones and tasks
// they submitted in turn, has finished.
func (m *Memory) Wait() {
	m.wg.Wait()
}

// Close rejects further submissions.
func (m *Memory) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
}
