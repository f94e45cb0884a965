package masonry

import (
	"math"

	log "github.com/sirupsen/logrus"
)

// Strategy selects how much of the dataset gets real geometry.
type Strategy string

const (
	// StrategyFullCompat lays out every resident item from the top.
	// Simple and exact, but recomputes everything on any change.
	StrategyFullCompat Strategy = "full-compat"
	// StrategyWindowedStrict lays out only the loaded page window and
	// stands in collapsed spacers for the rest.
	StrategyWindowedStrict Strategy = "windowed-strict"
)

// maxCachedPages bounds the incremental page cache during long scrolls.
const maxCachedPages = 12

// Engine owns the layout state for one browsing session: current
// column geometry, the scroll domain estimate, the incremental page
// cache, and the assembled item list handed to the view.
//
// Not safe for concurrent use; the browse coordinator is the only
// caller.
type Engine struct {
	strategy Strategy
	domain   *ScrollDomain
	cache    *pageCache
	disk     *LayoutCache

	params     Params
	pageSize   int
	totalItems int
	items      []Item
}

// NewEngine builds an engine. disk may be nil to skip layout
// persistence.
func NewEngine(strategy Strategy, columnWidth, spacing, pageSize int, disk *LayoutCache) *Engine {
	if columnWidth < 10 {
		columnWidth = 10
	}
	if spacing < 0 {
		spacing = 0
	}
	if pageSize < 1 {
		pageSize = 1
	}
	if strategy != StrategyFullCompat {
		strategy = StrategyWindowedStrict
	}
	return &Engine{
		strategy: strategy,
		domain:   NewScrollDomain(float64(columnWidth+spacing), strategy == StrategyWindowedStrict),
		cache:    newPageCache(),
		disk:     disk,
		params:   Params{ColumnWidth: columnWidth, Spacing: spacing, Columns: 1},
		pageSize: pageSize,
	}
}

// SetViewportWidth rederives the column count. Reports whether it
// changed, which obsoletes all current geometry.
func (e *Engine) SetViewportWidth(availableWidth int) bool {
	cols := ColumnsFor(availableWidth, e.params.ColumnWidth, e.params.Spacing)
	if cols == e.params.Columns {
		return false
	}
	e.params.Columns = cols
	e.cache.invalidate("column count changed")
	e.domain.Reset()
	e.items = nil
	return true
}

// SetTotalItems records the dataset size, which sizes the trailing
// spacer and the virtual scroll extent.
func (e *Engine) SetTotalItems(n int) {
	if n < 0 {
		n = 0
	}
	e.totalItems = n
}

// Invalidate drops all cached geometry. Called on sort, filter, or
// dataset identity changes.
func (e *Engine) Invalidate(reason string) {
	e.cache.invalidate(reason)
	e.items = nil
}

// Recompute performs a full layout of the given window. For
// windowed-strict, slots are the contiguous loaded window and
// firstPage is the page its first slot belongs to; a prefix spacer
// stands in for everything above. For full-compat, firstPage is
// ignored and slots are laid out from the top.
func (e *Engine) Recompute(firstPage int, slots []Slot) []Item {
	if e.strategy == StrategyFullCompat {
		return e.recomputeFull(slots)
	}
	return e.recomputeWindowed(firstPage, slots)
}

func (e *Engine) recomputeFull(slots []Slot) []Item {
	if cached := e.disk.Load(e.params, slots); cached != nil {
		log.WithField("items", len(cached)).Debug("layout restored from disk cache")
		e.items = cached
		return e.items
	}
	heights := make([]int, e.params.Columns)
	items := layoutInto(slots, heights, e.params)
	e.observeWindow(len(slots), 0, maxHeight(heights))
	e.items = e.withTrailingSpacer(items, maxHeight(heights), lastIndex(items))
	e.disk.Store(e.params, slots, e.items)
	return e.items
}

func (e *Engine) recomputeWindowed(firstPage int, slots []Slot) []Item {
	prefix := e.prefixHeight(firstPage)
	heights := make([]int, e.params.Columns)
	for i := range heights {
		heights[i] = prefix
	}
	items := layoutInto(slots, heights, e.params)
	bottom := maxHeight(heights)
	e.observeWindow(len(slots), prefix, bottom)

	e.cache.seed(items, e.params, e.pageSize, e.domain.AvgRowHeight(), prefix)
	e.items = e.cache.assemble(e.totalItems, e.domain.AvgRowHeight())
	return e.items
}

// CanExtendDown reports whether appending this page is a cheap
// incremental operation.
func (e *Engine) CanExtendDown(page int) bool { return e.cache.canExtendDown(page) }

// CanExtendUp reports whether prepending this page is a cheap
// incremental operation.
func (e *Engine) CanExtendUp(page int) bool { return e.cache.canExtendUp(page) }

// ExtendDown appends one page below the cached window.
func (e *Engine) ExtendDown(page int, slots []Slot) []Item {
	if e.cache.extendDown(page, slots) == nil {
		return e.items
	}
	e.afterExtend(page)
	return e.items
}

// ExtendUp prepends one page above the cached window.
func (e *Engine) ExtendUp(page int, slots []Slot) []Item {
	if e.cache.extendUp(page, slots) == nil {
		return e.items
	}
	e.afterExtend(page)
	return e.items
}

func (e *Engine) afterExtend(page int) {
	e.cache.purgeFar(page, maxCachedPages)
	e.items = e.cache.assemble(e.totalItems, e.domain.AvgRowHeight())
}

// Items returns the current assembled layout, spacers included.
func (e *Engine) Items() []Item { return e.items }

// Params exposes the current geometry.
func (e *Engine) Params() Params { return e.params }

// PageSize returns the page granularity the engine was built with.
func (e *Engine) PageSize() int { return e.pageSize }

// AvgRowHeight exposes the scroll domain's current row estimate.
func (e *Engine) AvgRowHeight() float64 { return e.domain.AvgRowHeight() }

// VirtualHeight is the estimated total scrollable extent. Never less
// than the real bottom of materialized geometry.
func (e *Engine) VirtualHeight() int {
	h := e.domain.VirtualHeight(e.totalItems, e.params.Columns)
	for _, it := range e.items {
		if b := it.Y + it.Height; b > h {
			h = b
		}
	}
	return h
}

// PageForScroll maps a scroll position onto the page that owns it.
func (e *Engine) PageForScroll(scrollY, viewportHeight int) int {
	return e.domain.PageFromPosition(scrollY, viewportHeight, e.totalItems, e.pageSize, e.params.Columns)
}

// prefixHeight estimates the collapsed height of all pages above
// firstPage.
func (e *Engine) prefixHeight(firstPage int) int {
	if firstPage <= 0 {
		return 0
	}
	rows := math.Ceil(float64(firstPage*e.pageSize) / float64(e.params.Columns))
	return int(rows * e.domain.AvgRowHeight())
}

// observeWindow feeds the measured average row height of a freshly
// laid out window into the scroll domain.
func (e *Engine) observeWindow(count, top, bottom int) {
	if count < 1 || bottom <= top {
		return
	}
	rows := math.Ceil(float64(count) / float64(e.params.Columns))
	if rows < 1 {
		return
	}
	e.domain.ObserveRowHeight(float64(bottom-top) / rows)
}

func (e *Engine) withTrailingSpacer(items []Item, bottom, last int) []Item {
	remaining := e.totalItems - last - 1
	if remaining <= 0 {
		return items
	}
	rows := math.Ceil(float64(remaining) / float64(e.params.Columns))
	return append(items, Item{
		GlobalIndex: SpacerBelow,
		Y:           bottom,
		Width:       e.params.rowWidth(),
		Height:      int(rows * e.domain.AvgRowHeight()),
	})
}

func lastIndex(items []Item) int {
	last := -1
	for _, it := range items {
		if it.GlobalIndex > last {
			last = it.GlobalIndex
		}
	}
	return last
}
