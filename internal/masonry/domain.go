package masonry

import "math"

// ScrollDomain maps a one-dimensional scroll position onto the
// dataset's virtual vertical extent. Because most pages are never
// resident, the extent is an estimate built from the running average
// height of rows that were actually measured.
//
// In monotone mode the average never shrinks: letting it shrink after
// growth feeds back through the spacer sizes into a larger recomputed
// average and the domain oscillates.
type ScrollDomain struct {
	avgRow   float64
	fallback float64
	monotone bool
}

// NewScrollDomain builds a domain. fallback seeds the average before
// any real row has been measured (typically columnWidth + spacing).
func NewScrollDomain(fallback float64, monotone bool) *ScrollDomain {
	if fallback < 10 {
		fallback = 10
	}
	return &ScrollDomain{fallback: fallback, monotone: monotone}
}

// ObserveRowHeight feeds one measured average row height.
func (d *ScrollDomain) ObserveRowHeight(avg float64) {
	if avg <= 1 || math.IsNaN(avg) || math.IsInf(avg, 0) {
		return
	}
	if d.monotone && avg < d.avgRow {
		return
	}
	d.avgRow = avg
}

// AvgRowHeight returns the current estimate.
func (d *ScrollDomain) AvgRowHeight() float64 {
	if d.avgRow > 1 {
		return d.avgRow
	}
	return d.fallback
}

// Reset clears the measured average, keeping the fallback. Called on
// zoom or column-width changes, which legitimately shrink rows.
func (d *ScrollDomain) Reset() {
	d.avgRow = 0
}

// VirtualHeight estimates the total extent of the dataset.
func (d *ScrollDomain) VirtualHeight(totalItems, columns int) int {
	if totalItems <= 0 || columns < 1 {
		return 0
	}
	rows := int(math.Ceil(float64(totalItems) / float64(columns)))
	return int(float64(rows) * d.AvgRowHeight())
}

// PageFromPosition derives which page owns a scroll position, used to
// decide what to load when the user drags the scrollbar into an
// unmaterialized region.
func (d *ScrollDomain) PageFromPosition(scrollY, viewportHeight, totalItems, pageSize, columns int) int {
	if totalItems <= 0 || pageSize <= 0 {
		return 0
	}
	lastPage := (totalItems - 1) / pageSize
	domain := d.VirtualHeight(totalItems, columns) - viewportHeight
	if domain < 1 {
		domain = 1
	}
	frac := float64(scrollY) / float64(domain)
	if frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}
	page := int(frac*float64(totalItems)) / pageSize
	if page < 0 {
		page = 0
	}
	if page > lastPage {
		page = lastPage
	}
	return page
}
