package masonry

import (
	"math"

	log "github.com/sirupsen/logrus"
)

// pageCache holds per-page layout results so that scrolling one page
// further extends the existing geometry instead of recomputing the
// whole window. Any non-adjacent change (jump, resize, zoom, filter,
// sort, enrichment) invalidates it.
type pageCache struct {
	pages        map[int]*pageLayout
	params       Params
	valid        bool
	prefixHeight int
	avgRow       float64
	pageSize     int
}

type pageLayout struct {
	items      []Item
	endHeights []int
}

func newPageCache() *pageCache {
	return &pageCache{pages: make(map[int]*pageLayout)}
}

func (c *pageCache) invalidate(reason string) {
	if len(c.pages) > 0 {
		log.WithFields(log.Fields{"pages": len(c.pages), "reason": reason}).Debug("incremental layout cache invalidated")
	}
	c.pages = make(map[int]*pageLayout)
	c.valid = false
	c.prefixHeight = 0
}

func (c *pageCache) active() bool {
	return c.valid && len(c.pages) > 0
}

// seed splits a full layout result per page and records each page's
// ending column-height vector so later appends continue seamlessly.
func (c *pageCache) seed(items []Item, params Params, pageSize int, avgRow float64, prefixHeight int) {
	c.pages = make(map[int]*pageLayout)
	c.params = params
	c.pageSize = pageSize
	c.avgRow = avgRow
	c.prefixHeight = prefixHeight
	c.valid = true

	byPage := make(map[int][]Item)
	for _, it := range items {
		if it.IsSpacer() {
			continue
		}
		page := it.GlobalIndex / pageSize
		byPage[page] = append(byPage[page], it)
	}

	// Reconstruct the running column-height vector page by page so a
	// column untouched in one page keeps its height from earlier pages.
	pages := make([]int, 0, len(byPage))
	for p := range byPage {
		pages = append(pages, p)
	}
	for i := 1; i < len(pages); i++ {
		for j := i; j > 0 && pages[j] < pages[j-1]; j-- {
			pages[j], pages[j-1] = pages[j-1], pages[j]
		}
	}
	heights := make([]int, params.Columns)
	for i := range heights {
		heights[i] = prefixHeight
	}
	for _, page := range pages {
		applyItems(heights, byPage[page], params)
		c.pages[page] = &pageLayout{
			items:      byPage[page],
			endHeights: append([]int(nil), heights...),
		}
	}
}

// applyItems raises the column-height vector to cover the given
// items' geometry.
func applyItems(heights []int, items []Item, params Params) {
	for _, it := range items {
		col := it.X / (params.ColumnWidth + params.Spacing)
		if col < 0 || col >= len(heights) {
			continue
		}
		bottom := it.Y + it.Height + params.Spacing
		if bottom > heights[col] {
			heights[col] = bottom
		}
	}
}

func (c *pageCache) canExtendDown(page int) bool {
	if !c.active() {
		return false
	}
	if _, cached := c.pages[page]; cached {
		return false
	}
	_, prev := c.pages[page-1]
	return prev
}

func (c *pageCache) canExtendUp(page int) bool {
	if !c.active() {
		return false
	}
	if _, cached := c.pages[page]; cached {
		return false
	}
	_, next := c.pages[page+1]
	return next
}

// extendDown lays out one page appended below the cached window,
// continuing from the previous page's ending heights.
func (c *pageCache) extendDown(page int, slots []Slot) []Item {
	if !c.canExtendDown(page) {
		return nil
	}
	heights := append([]int(nil), c.pages[page-1].endHeights...)
	items := layoutInto(slots, heights, c.params)
	c.pages[page] = &pageLayout{items: items, endHeights: heights}
	return items
}

// extendUp lays out one page prepended above the cached window. The
// page starts at the estimated prefix height for the pages before it;
// if its real extent disagrees with where the next page already sits,
// everything below shifts to close the gap.
func (c *pageCache) extendUp(page int, slots []Slot) []Item {
	if !c.canExtendUp(page) {
		return nil
	}

	newPrefix := 0
	if page > 0 {
		rows := math.Ceil(float64(page*c.pageSize) / float64(c.params.Columns))
		newPrefix = int(rows * c.avgRow)
	}
	heights := make([]int, c.params.Columns)
	for i := range heights {
		heights[i] = newPrefix
	}
	items := layoutInto(slots, heights, c.params)

	next := c.pages[page+1]
	nextStart := math.MaxInt
	for _, it := range next.items {
		if it.Y < nextStart {
			nextStart = it.Y
		}
	}
	if nextStart == math.MaxInt {
		nextStart = 0
	}
	delta := maxHeight(heights) - nextStart
	if delta > 2 || delta < -2 {
		c.shiftFrom(page+1, delta)
	}

	c.pages[page] = &pageLayout{items: items, endHeights: heights}
	c.prefixHeight = newPrefix
	return items
}

// shiftFrom moves every cached page at or after startPage by deltaY.
func (c *pageCache) shiftFrom(startPage, deltaY int) {
	for page, pl := range c.pages {
		if page < startPage {
			continue
		}
		for i := range pl.items {
			pl.items[i].Y += deltaY
		}
		for i := range pl.endHeights {
			pl.endHeights[i] += deltaY
		}
	}
}

// purgeFar drops cached pages farthest from current, keeping at most
// keep pages. Keeps the incremental cache bounded during long scrolls.
func (c *pageCache) purgeFar(current, keep int) {
	if len(c.pages) <= keep {
		return
	}
	type dist struct{ page, d int }
	ds := make([]dist, 0, len(c.pages))
	for p := range c.pages {
		d := p - current
		if d < 0 {
			d = -d
		}
		ds = append(ds, dist{p, d})
	}
	// Small n; selection by repeated max is fine.
	for len(ds) > keep {
		far := 0
		for i := 1; i < len(ds); i++ {
			if ds[i].d > ds[far].d {
				far = i
			}
		}
		delete(c.pages, ds[far].page)
		ds = append(ds[:far], ds[far+1:]...)
	}
}

// cachedPages returns the sorted set of pages currently cached.
func (c *pageCache) cachedPages() []int {
	pages := make([]int, 0, len(c.pages))
	for p := range c.pages {
		pages = append(pages, p)
	}
	for i := 1; i < len(pages); i++ {
		for j := i; j > 0 && pages[j] < pages[j-1]; j-- {
			pages[j], pages[j-1] = pages[j-1], pages[j]
		}
	}
	return pages
}

// assemble concatenates the prefix spacer and all cached page items in
// page order.
func (c *pageCache) assemble(totalItems int, avgRow float64) []Item {
	pages := c.cachedPages()
	if len(pages) == 0 {
		return nil
	}
	items := make([]Item, 0, 64)
	if first := pages[0]; first > 0 && c.prefixHeight > 0 {
		items = append(items, Item{
			GlobalIndex: SpacerAbove,
			Width:       c.params.rowWidth(),
			Height:      c.prefixHeight,
		})
	}
	bottom := 0
	lastIndex := -1
	for _, p := range pages {
		items = append(items, c.pages[p].items...)
		if h := maxHeight(c.pages[p].endHeights); h > bottom {
			bottom = h
		}
		if n := len(c.pages[p].items); n > 0 {
			if gi := c.pages[p].items[n-1].GlobalIndex; gi > lastIndex {
				lastIndex = gi
			}
		}
	}
	if remaining := totalItems - lastIndex - 1; remaining > 0 {
		rows := math.Ceil(float64(remaining) / float64(c.params.Columns))
		items = append(items, Item{
			GlobalIndex: SpacerBelow,
			Y:           bottom,
			Width:       c.params.rowWidth(),
			Height:      int(rows * avgRow),
		})
	}
	return items
}
