// Package locks provides the per-playlist refresh lock.
//
// Acquisition never blocks: a caller either gets the lock or learns immediately that someone
// else holds it.
package locks

import (
	"context"
	"sync"

	"github.com/desertthunder/mixtape/internal/shared"
)

// Release gives the lock back. It is safe to call more than once.
type Release func()

// Locker hands out exclusive, non-blocking locks keyed by name.
type Locker interface {
	// TryAcquire returns ok=false without waiting when key is already held.
	TryAcquire(ctx context.Context, key string) (release Release, ok bool, err error)
}

// MemoryLocker is an in-process [Locker].
type MemoryLocker struct {
	held sync.Map
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{}
}

func (m *MemoryLocker) TryAcquire(_ context.Context, key string) (Release, bool, error) {
	token := shared.GenerateID()
	if _, loaded := m.held.LoadOrStore(key, token); loaded {
		return nil, false, nil
	}

	var once sync.Once
	return func() {
		once.Do(func() { m.held.CompareAndDelete(key, token) })
	}, true, nil
}

// Held reports whether key is currently locked.
func (m *MemoryLocker) Held(key string) bool {
	_, ok := m.held.Load(key)
	return ok
}
