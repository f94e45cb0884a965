// Package selection tracks which items the user has selected, keyed by
// global index. Global identity is what keeps a selection stable while
// pages load and evict underneath it.
package selection

import (
	"sync"

	"github.com/RoaringBitmap/roaring"
)

// Set is a concurrent selection of global indices. Roaring bitmaps keep
// million-item selections cheap.
type Set struct {
	mu   sync.Mutex
	bits *roaring.Bitmap
}

// New returns an empty selection.
func New() *Set {
	return &Set{bits: roaring.New()}
}

// Add selects a global index.
func (s *Set) Add(globalIndex uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bits.Add(globalIndex)
}

// Remove deselects a global index.
func (s *Set) Remove(globalIndex uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bits.Remove(globalIndex)
}

// Toggle flips one index and reports the new state.
func (s *Set) Toggle(globalIndex uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bits.Contains(globalIndex) {
		s.bits.Remove(globalIndex)
		return false
	}
	s.bits.Add(globalIndex)
	return true
}

// Contains reports whether an index is selected.
func (s *Set) Contains(globalIndex uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bits.Contains(globalIndex)
}

// AddRange selects [start, end) — shift-click semantics.
func (s *Set) AddRange(start, end uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bits.AddRange(uint64(start), uint64(end))
}

// Clear drops the whole selection.
func (s *Set) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bits.Clear()
}

// Count returns the number of selected items.
func (s *Set) Count() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bits.GetCardinality()
}

// Indices returns the selected global indices in ascending order.
func (s *Set) Indices() []uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bits.ToArray()
}
