// ABOUTME: Per-(tenant, recordId) exclusive logical lock spanning pipeline steps 4-8 (spec.md §5)
// ABOUTME: Readers never take this lock; lock-request ids are uuid-tagged for log correlation only

package writehandler

import (
	"sync"

	"github.com/google/uuid"
)

// recordLocks is a map of (tenant, recordId) keys to mutexes, grown
// lazily and never shrunk. The map itself is guarded by one sync.Mutex,
// held only while looking up or creating a key's mutex, so writers to
// different keys do not wait on each other.
type recordLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newRecordLocks() *recordLocks {
	return &recordLocks{locks: make(map[string]*sync.Mutex)}
}

func (r *recordLocks) mutexFor(key string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.locks[key]
	if !ok {
		m = &sync.Mutex{}
		r.locks[key] = m
	}
	return m
}

// acquisition is a held lock plus the correlation id it was requested
// under, released by calling release.
type acquisition struct {
	id    string
	mutex *sync.Mutex
}

func (a acquisition) release() {
	a.mutex.Unlock()
}

func (r *recordLocks) acquire(tenant, recordID string) acquisition {
	a := acquisition{id: uuid.NewString(), mutex: r.mutexFor(tenant + "/" + recordID)}
	a.mutex.Lock()
	return a
}
