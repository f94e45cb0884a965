package selection

import "testing"

func TestToggleAndContains(t *testing.T) {
	s := New()
	if !s.Toggle(7) {
		t.Error("first toggle should select")
	}
	if !s.Contains(7) {
		t.Error("7 should be selected")
	}
	if s.Toggle(7) {
		t.Error("second toggle should deselect")
	}
	if s.Contains(7) {
		t.Error("7 should be deselected")
	}
}

func TestAddRangeAndCount(t *testing.T) {
	s := New()
	s.AddRange(100, 200)
	if got := s.Count(); got != 100 {
		t.Errorf("Count = %d, want 100", got)
	}
	s.Remove(150)
	if got := s.Count(); got != 99 {
		t.Errorf("Count = %d, want 99", got)
	}
	if s.Contains(150) {
		t.Error("150 should be removed")
	}
}

func TestIndicesOrderedAndClear(t *testing.T) {
	s := New()
	for _, i := range []uint32{9, 3, 1000000} {
		s.Add(i)
	}
	got := s.Indices()
	want := []uint32{3, 9, 1000000}
	if len(got) != len(want) {
		t.Fatalf("Indices = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Indices[%d] = %d, want %d", i, got[i], want[i])
		}
	}
	s.Clear()
	if s.Count() != 0 {
		t.Error("Clear should empty the set")
	}
}
