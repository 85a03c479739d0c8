package openqalocal

import (
	"fmt"
	"sync"

	"github.com/gofrs/flock"
)

// lockGroup provides mutual exclusion over sets of keys. The cache holds one
// lock per sidecar file across its read-modify-write-rename sequences, so
// writes to the same job never interleave while distinct jobs stay fully
// independent.
type lockGroup interface {
	// doWithLock runs fn with mutual exclusion over key.
	doWithLock(key string, fn func() error) error
}

// memLock is a lockGroup backed by in-memory mutexes. It only provides
// exclusion within a single process, which is enough for library embedders
// and for tests running against an in-memory filesystem.
type memLock struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newMemLock() *memLock {
	return &memLock{locks: make(map[string]*sync.Mutex)}
}

func (m *memLock) doWithLock(key string, fn func() error) error {
	m.mu.Lock()
	lock, ok := m.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[key] = lock
	}
	m.mu.Unlock()
	lock.Lock()
	defer lock.Unlock()
	return fn()
}

// fileLock is a lockGroup backed by advisory file locks, for callers that
// share one cache directory across processes (the CLI). The lock file lives
// next to the sidecar it guards.
type fileLock struct{}

func newFileLock() *fileLock {
	return &fileLock{}
}

func (f *fileLock) doWithLock(key string, fn func() error) error {
	fl := flock.New(key + ".lock")
	if err := fl.Lock(); err != nil {
		return fmt.Errorf("failed to acquire lock %s: %w", fl.Path(), err)
	}
	defer fl.Unlock()
	return fn()
}
