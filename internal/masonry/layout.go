// Package masonry computes packed rectangle geometry for a variable
// aspect-ratio item stream across a fixed number of columns, either for
// everything resident (full-compat) or for a bounded page window with
// collapsed spacers standing in for unloaded regions (windowed-strict).
package masonry

// Spacer pseudo-indices. Spacers carry geometry only — no item
// identity — and represent the not-yet-loaded regions above and below
// the materialized window.
const (
	SpacerAbove = -2
	SpacerBelow = -3
)

// Aspect ratio clamp, mirroring the data model bound so a bad value
// sneaking past the index still cannot produce a degenerate rectangle.
const (
	minAspect = 1.0 / 3.0
	maxAspect = 100.0
)

// Item is one positioned rectangle in layout space.
type Item struct {
	GlobalIndex int `json:"gi"`
	X           int `json:"x"`
	Y           int `json:"y"`
	Width       int `json:"w"`
	Height      int `json:"h"`
}

// IsSpacer reports whether the item is a collapsed region placeholder.
func (it Item) IsSpacer() bool { return it.GlobalIndex < 0 }

// Slot is the layout input for one item: its stable global index and
// its (possibly estimated) aspect ratio.
type Slot struct {
	GlobalIndex int
	Aspect      float64
}

// Params fixes the geometry of one layout generation.
type Params struct {
	ColumnWidth int
	Spacing     int
	Columns     int
}

// ColumnsFor derives the column count from an available pixel width.
func ColumnsFor(availableWidth, columnWidth, spacing int) int {
	cols := availableWidth / (columnWidth + spacing)
	if cols < 1 {
		cols = 1
	}
	return cols
}

// rowWidth is the full pixel width spanned by the columns.
func (p Params) rowWidth() int {
	return p.Columns*(p.ColumnWidth+p.Spacing) - p.Spacing
}

func clampAspect(ar float64) float64 {
	if ar != ar || ar <= 0 {
		return 1.0
	}
	if ar < minAspect {
		return minAspect
	}
	if ar > maxAspect {
		return maxAspect
	}
	return ar
}

// layoutInto places slots shortest-column-first, mutating heights in
// place so a caller can continue from where a previous page ended.
func layoutInto(slots []Slot, heights []int, p Params) []Item {
	items := make([]Item, 0, len(slots))
	for _, s := range slots {
		aspect := clampAspect(s.Aspect)
		h := int(float64(p.ColumnWidth) / aspect)
		if h < 1 {
			h = 1
		}

		col := 0
		for c := 1; c < len(heights); c++ {
			if heights[c] < heights[col] {
				col = c
			}
		}

		items = append(items, Item{
			GlobalIndex: s.GlobalIndex,
			X:           col * (p.ColumnWidth + p.Spacing),
			Y:           heights[col],
			Width:       p.ColumnWidth,
			Height:      h,
		})
		heights[col] += h + p.Spacing
	}
	return items
}

func maxHeight(heights []int) int {
	m := 0
	for _, h := range heights {
		if h > m {
			m = h
		}
	}
	return m
}
