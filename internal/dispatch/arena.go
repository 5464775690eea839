package dispatch

import (
	"sync"

	"github.com/starford/marginalia/internal/thread"
)

// Arena tracks in-flight requests per thread. A result is only accepted
// when its (blockId, annotator, requestId) handle is still registered.
// Several handles per thread may be live at once; each resolves once.
type Arena struct {
	mu       sync.Mutex
	inflight map[thread.Key]map[string]struct{}
}

// NewArena creates an empty arena.
func NewArena() *Arena {
	return &Arena{inflight: make(map[thread.Key]map[string]struct{})}
}

// Register records a handle.
func (a *Arena) Register(key thread.Key, requestID string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	reqs, ok := a.inflight[key]
	if !ok {
		reqs = make(map[string]struct{})
		a.inflight[key] = reqs
	}
	reqs[requestID] = struct{}{}
}

// Resolve consumes a handle and reports whether it was valid.
func (a *Arena) Resolve(key thread.Key, requestID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	reqs, ok := a.inflight[key]
	if !ok {
		return false
	}
	if _, ok := reqs[requestID]; !ok {
		return false
	}
	delete(reqs, requestID)
	if len(reqs) == 0 {
		delete(a.inflight, key)
	}
	return true
}

// Release drops the handles of a request that never reached the worker.
func (a *Arena) Release(requestID string, keys []thread.Key) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, key := range keys {
		if reqs, ok := a.inflight[key]; ok {
			delete(reqs, requestID)
			if len(reqs) == 0 {
				delete(a.inflight, key)
			}
		}
	}
}

// Pending reports whether the thread has a request in flight.
func (a *Arena) Pending(key thread.Key) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.inflight[key]) > 0
}

// Requests returns the ids of the requests in flight for key.
func (a *Arena) Requests(key thread.Key) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.inflight[key]))
	for id := range a.inflight[key] {
		out = append(out, id)
	}
	return out
}

// Retain invalidates every handle whose block is not live and returns the
// affected keys.
func (a *Arena) Retain(live map[string]struct{}) []thread.Key {
	a.mu.Lock()
	defer a.mu.Unlock()

	var dropped []thread.Key
	for key := range a.inflight {
		if _, ok := live[key.BlockID]; !ok {
			delete(a.inflight, key)
			dropped = append(dropped, key)
		}
	}
	return dropped
}

// Len returns the number of live handles.
func (a *Arena) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, reqs := range a.inflight {
		n += len(reqs)
	}
	return n
}
