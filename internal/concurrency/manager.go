// Package concurrency refuses overlapping bundle runs on the same output
// directory.
package concurrency

import (
	"errors"
	"path/filepath"
	"sync"
)

// ErrBusy is returned when a run for the same key is already in progress.
var ErrBusy = errors.New("a bundle run is already in progress")

// Manager hands out one slot per key.
type Manager struct {
	locks sync.Map // map[string]chan struct{}
}

// NewManager creates a new concurrency manager
func NewManager() *Manager {
	return &Manager{}
}

// Key normalizes an output directory into a lock key.
func Key(dir string) string {
	if abs, err := filepath.Abs(dir); err == nil {
		return abs
	}
	return filepath.Clean(dir)
}

func (m *Manager) slot(key string) chan struct{} {
	actual, _ := m.locks.LoadOrStore(key, make(chan struct{}, 1))
	return actual.(chan struct{})
}

// TryAcquire takes the slot for key without blocking.
func (m *Manager) TryAcquire(key string) bool {
	select {
	case m.slot(key) <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release frees the slot for key. Releasing a free slot is a no-op.
func (m *Manager) Release(key string) {
	if actual, ok := m.locks.Load(key); ok {
		select {
		case <-actual.(chan struct{}):
		default:
		}
	}
}

// Acquire takes the slot for key or returns ErrBusy. The returned release
// func is safe to call more than once.
func (m *Manager) Acquire(key string) (func(), error) {
	if !m.TryAcquire(key) {
		return nil, ErrBusy
	}
	var once sync.Once
	return func() { once.Do(func() { m.Release(key) }) }, nil
}

// Busy reports whether key is currently held.
func (m *Manager) Busy(key string) bool {
	actual, ok := m.locks.Load(key)
	if !ok {
		return false
	}
	return len(actual.(chan struct{})) > 0
}
