package thumbs

import "sync"

// futureTable tracks in-flight thumbnail loads per global index,
// remembering the path each was issued for. A result is accepted only
// if its index is still pending *and* the path matches — a page
// reloaded with different content under the same index silently drops
// the stale result.
type futureTable struct {
	mu      sync.Mutex
	pending map[int]string
}

func newFutureTable() *futureTable {
	return &futureTable{pending: make(map[int]string)}
}

// register marks an index as in flight. Returns false when a load for
// the same index is already pending (deduplication).
func (t *futureTable) register(idx int, path string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.pending[idx]; exists {
		return false
	}
	t.pending[idx] = path
	return true
}

// accept resolves a future. True only if the index is pending and the
// issuing path still matches.
func (t *futureTable) accept(idx int, path string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	issued, ok := t.pending[idx]
	if !ok || issued != path {
		return false
	}
	delete(t.pending, idx)
	return true
}

// cancel drops one pending future if present.
func (t *futureTable) cancel(idx int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.pending, idx)
}

// cancelRange drops every pending future with lo <= index < hi and
// returns how many were dropped. Called when a page is evicted.
func (t *futureTable) cancelRange(lo, hi int) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for idx := range t.pending {
		if idx >= lo && idx < hi {
			delete(t.pending, idx)
			n++
		}
	}
	return n
}

// pendingCount is for tests and stats.
func (t *futureTable) pendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}
