package barrier

import (
	"context"
	"fmt"
	"sync"

	"mediagen/internal/domain"
)

// Memory implements Barrier for tests and single-process development runs.
// The mutex gives the same single-winner guarantee Redis DECR gives across
// processes.
type Memory struct {
	mu        sync.Mutex
	remaining map[string]int
	size      map[string]int
}

// NewMemory returns an empty in-process barrier.
func NewMemory() *Memory {
	return &Memory{
		remaining: make(map[string]int),
		size:      make(map[string]int),
	}
}

func (b *Memory) Init(_ context.Context, parentID string, n int) error {
	if n <= 0 {
		return fmt.Errorf("barrier size must be positive, got %d", n)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.remaining[parentID] = n
	b.size[parentID] = n
	return nil
}

func (b *Memory) Arrive(_ context.Context, parentID string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rem, ok := b.remaining[parentID]
	if !ok || rem <= 0 {
		size := b.size[parentID]
		return false, &domain.BarrierInconsistencyError{ParentID: parentID, Expected: size, Got: size + 1}
	}
	rem--
	b.remaining[parentID] = rem
	return rem == 0, nil
}

func (b *Memory) Size(_ context.Context, parentID string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n, ok := b.size[parentID]
	if !ok {
		return 0, domain.ErrNotFound
	}
	return n, nil
}

func (b *Memory) Forget(_ context.Context, parentID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.remaining, parentID)
	delete(b.size, parentID)
	return nil
}

var _ Barrier = (*Memory)(nil)
