package masonry

// Anchor remembers which item sat at the top of the viewport and how
// far into it the viewport had scrolled, so the scroll position can be
// restored after a recompute moves everything.
type Anchor struct {
	GlobalIndex int
	OffsetY     int
	valid       bool
}

// CaptureAnchor finds the first real item whose rectangle intersects
// the viewport top. Spacers are skipped; if only spacers are visible
// the anchor is invalid and restoration is a no-op.
func CaptureAnchor(items []Item, scrollY int) Anchor {
	best := Anchor{}
	bestY := -1
	for _, it := range items {
		if it.IsSpacer() {
			continue
		}
		if it.Y+it.Height <= scrollY {
			continue
		}
		if bestY == -1 || it.Y < bestY {
			best = Anchor{GlobalIndex: it.GlobalIndex, OffsetY: scrollY - it.Y, valid: true}
			bestY = it.Y
		}
	}
	return best
}

// RestoreAnchor returns the scroll position that puts the anchored
// item back where it was. Falls back to the old position when the
// anchor is invalid or the item left the materialized window.
func RestoreAnchor(items []Item, a Anchor, oldScrollY int) int {
	if !a.valid {
		return oldScrollY
	}
	for _, it := range items {
		if it.GlobalIndex == a.GlobalIndex {
			y := it.Y + a.OffsetY
			if y < 0 {
				y = 0
			}
			return y
		}
	}
	return oldScrollY
}
