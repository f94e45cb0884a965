// Package pagecache keeps a bounded set of index pages memory-resident
// for a dataset far too large to hold whole. Pages load in the
// background off a debounced visibility signal and evict LRU, with
// eviction propagated to the thumbnail pipeline so work for invisible
// regions is cancelled.
package pagecache

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	log "github.com/sirupsen/logrus"

	"github.com/agentic-research/vitrine/internal/index"
)

// Loader fetches one page of item records for the current query.
type Loader interface {
	Page(ctx context.Context, req index.PageRequest) ([]index.ItemRecord, error)
}

// Canceller is notified when a page leaves memory so pending work for
// its global index range can be dropped.
type Canceller interface {
	CancelRange(lo, hi int)
}

// Page is one resident slice of the dataset.
type Page struct {
	Number int
	Items  []index.ItemRecord
}

// GlobalStart is the global index of the page's first row.
func (p *Page) GlobalStart(pageSize int) int { return p.Number * pageSize }

// PageLoaded announces a page that just became resident.
type PageLoaded struct {
	Page  int
	Count int
}

// AspectSlot pairs a global index with its (possibly estimated)
// aspect ratio, copied out of the resident records.
type AspectSlot struct {
	GlobalIndex int
	Aspect      float64
}

// Options sizes the manager.
type Options struct {
	PageSize         int
	MaxResidentPages int
	Margin           int           // extra pages kept wanted on each side
	Workers          int           // parallel page loaders
	Debounce         time.Duration // quiet period before a range request acts
}

type span struct{ lo, hi int }

// Manager owns page residency. All state behind mu; the LRU eviction
// callback deliberately takes no Manager lock.
type Manager struct {
	opt       Options
	loader    Loader
	canceller Canceller

	mu       sync.Mutex
	resident *lru.Cache[int, *Page]
	loading  map[int]struct{}
	wanted   map[int]bool
	total    int
	sort     index.Sort
	filter   index.Filter
	gen      uint64

	requests chan span
	jobs     chan int
	events   chan PageLoaded

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager builds and starts a manager. canceller may be nil.
func NewManager(loader Loader, canceller Canceller, opt Options) (*Manager, error) {
	if opt.PageSize < 1 {
		opt.PageSize = 1000
	}
	if opt.MaxResidentPages < 2 {
		opt.MaxResidentPages = 2
	}
	if opt.Margin < 0 {
		opt.Margin = 0
	}
	if opt.Workers < 1 {
		opt.Workers = 1
	}
	if opt.Debounce <= 0 {
		opt.Debounce = 30 * time.Millisecond
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		opt:       opt,
		loader:    loader,
		canceller: canceller,
		loading:   make(map[int]struct{}),
		wanted:    make(map[int]bool),
		sort:      index.DefaultSort(),
		requests:  make(chan span, 1),
		jobs:      make(chan int, 256),
		events:    make(chan PageLoaded, 64),
		ctx:       ctx,
		cancel:    cancel,
	}

	resident, err := lru.NewWithEvict(opt.MaxResidentPages, m.onEvict)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create page lru: %w", err)
	}
	m.resident = resident

	m.wg.Add(1 + opt.Workers)
	go m.debounceLoop()
	for i := 0; i < opt.Workers; i++ {
		go m.loadLoop()
	}
	return m, nil
}

func (m *Manager) onEvict(page int, _ *Page) {
	lo := page * m.opt.PageSize
	log.WithFields(log.Fields{"page": page, "lo": lo, "hi": lo + m.opt.PageSize}).Debug("page evicted")
	if m.canceller != nil {
		m.canceller.CancelRange(lo, lo+m.opt.PageSize)
	}
}

// Events yields page-load completions. Overflow is dropped; consumers
// resynchronize from residency state.
func (m *Manager) Events() <-chan PageLoaded { return m.events }

// Close stops background loading and waits for workers.
func (m *Manager) Close() {
	m.cancel()
	m.wg.Wait()
}

// SetQuery replaces the sort and filter, purging all residency.
// In-flight loads for the old query are dropped on arrival.
func (m *Manager) SetQuery(sort index.Sort, filter index.Filter, total int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sort = sort.Normalize()
	m.filter = filter
	m.total = total
	m.gen++
	m.wanted = make(map[int]bool)
	m.resident.Purge()
}

// SetTotal updates the dataset size without disturbing residency.
func (m *Manager) SetTotal(total int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if total < 0 {
		total = 0
	}
	m.total = total
}

// Total returns the current dataset size.
func (m *Manager) Total() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.total
}

// EnsureRange signals that global indices [lo, hi] are (about to be)
// visible. Calls coalesce: only the latest range surviving the
// debounce window triggers loading. Never blocks.
func (m *Manager) EnsureRange(lo, hi int) {
	s := span{lo: lo, hi: hi}
	for {
		select {
		case m.requests <- s:
			return
		default:
		}
		select {
		case <-m.requests: // displace the stale request
		default:
		}
	}
}

func (m *Manager) debounceLoop() {
	defer m.wg.Done()
	timer := time.NewTimer(time.Hour)
	if !timer.Stop() {
		<-timer.C
	}
	var pending span
	have := false
	for {
		select {
		case <-m.ctx.Done():
			return
		case s := <-m.requests:
			pending = s
			have = true
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(m.opt.Debounce)
		case <-timer.C:
			if have {
				m.schedule(pending)
				have = false
			}
		}
	}
}

// schedule converts a global index span into a wanted page set and
// queues loads for the pages not yet resident or in flight.
func (m *Manager) schedule(s span) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.total == 0 {
		return
	}
	lastPage := (m.total - 1) / m.opt.PageSize
	pageLo := s.lo/m.opt.PageSize - m.opt.Margin
	pageHi := s.hi/m.opt.PageSize + m.opt.Margin
	if pageLo < 0 {
		pageLo = 0
	}
	if pageHi > lastPage {
		pageHi = lastPage
	}

	m.wanted = make(map[int]bool)
	for page := pageLo; page <= pageHi; page++ {
		m.wanted[page] = true
		if m.resident.Contains(page) {
			continue
		}
		if _, inflight := m.loading[page]; inflight {
			continue
		}
		m.loading[page] = struct{}{}
		select {
		case m.jobs <- page:
		default:
			delete(m.loading, page) // queue full; a later signal retries
		}
	}
}

func (m *Manager) loadLoop() {
	defer m.wg.Done()
	for {
		select {
		case <-m.ctx.Done():
			return
		case page := <-m.jobs:
			m.load(page)
		}
	}
}

func (m *Manager) load(page int) {
	m.mu.Lock()
	gen := m.gen
	req := index.PageRequest{Page: page, PageSize: m.opt.PageSize, Sort: m.sort, Filter: m.filter}
	m.mu.Unlock()

	items, err := m.loader.Page(m.ctx, req)

	m.mu.Lock()
	delete(m.loading, page)
	if err != nil {
		m.mu.Unlock()
		log.WithFields(log.Fields{"page": page, "err": err}).Warn("page load failed")
		return
	}
	if gen != m.gen || !m.wanted[page] {
		m.mu.Unlock()
		return // result arrived for a query or viewport that moved on
	}
	m.resident.Add(page, &Page{Number: page, Items: items})
	m.mu.Unlock()

	select {
	case m.events <- PageLoaded{Page: page, Count: len(items)}:
	default:
	}
}

// LoadSync fetches one page on the caller's goroutine, for the initial
// paint before the background machinery warms up.
func (m *Manager) LoadSync(ctx context.Context, page int) (*Page, error) {
	m.mu.Lock()
	req := index.PageRequest{Page: page, PageSize: m.opt.PageSize, Sort: m.sort, Filter: m.filter}
	m.mu.Unlock()

	items, err := m.loader.Page(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("load page %d: %w", page, err)
	}
	p := &Page{Number: page, Items: items}

	m.mu.Lock()
	m.wanted[page] = true
	m.resident.Add(page, p)
	m.mu.Unlock()
	return p, nil
}

// ResidentPages returns the resident page numbers in ascending order.
func (m *Manager) ResidentPages() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	pages := m.resident.Keys()
	for i := 1; i < len(pages); i++ {
		for j := i; j > 0 && pages[j] < pages[j-1]; j-- {
			pages[j], pages[j-1] = pages[j-1], pages[j]
		}
	}
	return pages
}

// ResidentCount returns how many pages are currently in memory.
func (m *Manager) ResidentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resident.Len()
}

// Contains reports page residency without touching recency.
func (m *Manager) Contains(page int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resident.Contains(page)
}

// Item returns a copy of the record at a global index if its page is
// resident. Marks the page recently used.
func (m *Manager) Item(globalIndex int) (index.ItemRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if globalIndex < 0 {
		return index.ItemRecord{}, false
	}
	page, ok := m.resident.Get(globalIndex / m.opt.PageSize)
	if !ok {
		return index.ItemRecord{}, false
	}
	row := globalIndex % m.opt.PageSize
	if row >= len(page.Items) {
		return index.ItemRecord{}, false
	}
	return page.Items[row], true
}

// GlobalIndexForLoadedRow maps a row of the concatenated resident
// pages back to its global index.
func (m *Manager) GlobalIndexForLoadedRow(row int) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if row < 0 {
		return 0, false
	}
	for _, page := range m.sortedPagesLocked() {
		p, ok := m.resident.Peek(page)
		if !ok {
			continue
		}
		if row < len(p.Items) {
			return page*m.opt.PageSize + row, true
		}
		row -= len(p.Items)
	}
	return 0, false
}

// LoadedRowForGlobalIndex maps a global index to its row within the
// concatenated resident pages.
func (m *Manager) LoadedRowForGlobalIndex(globalIndex int) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if globalIndex < 0 {
		return 0, false
	}
	target := globalIndex / m.opt.PageSize
	row := 0
	for _, page := range m.sortedPagesLocked() {
		p, ok := m.resident.Peek(page)
		if !ok {
			continue
		}
		if page == target {
			offset := globalIndex % m.opt.PageSize
			if offset >= len(p.Items) {
				return 0, false
			}
			return row + offset, true
		}
		row += len(p.Items)
	}
	return 0, false
}

// AspectWindow returns the maximal contiguous run of resident pages
// containing page, as copied aspect slots ready for layout. The copy
// means layout never reads records while a loader mutates them.
func (m *Manager) AspectWindow(page int) (firstPage int, slots []AspectSlot, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.resident.Contains(page) {
		return 0, nil, false
	}
	lo := page
	for lo > 0 && m.resident.Contains(lo-1) {
		lo--
	}
	hi := page
	for m.resident.Contains(hi + 1) {
		hi++
	}
	for p := lo; p <= hi; p++ {
		pg, found := m.resident.Peek(p)
		if !found {
			return 0, nil, false
		}
		base := p * m.opt.PageSize
		for i := range pg.Items {
			slots = append(slots, AspectSlot{
				GlobalIndex: base + i,
				Aspect:      pg.Items[i].Aspect(),
			})
		}
	}
	return lo, slots, true
}

// PageSlots returns the aspect slots of one resident page.
func (m *Manager) PageSlots(page int) ([]AspectSlot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pg, ok := m.resident.Peek(page)
	if !ok {
		return nil, false
	}
	base := page * m.opt.PageSize
	slots := make([]AspectSlot, len(pg.Items))
	for i := range pg.Items {
		slots[i] = AspectSlot{GlobalIndex: base + i, Aspect: pg.Items[i].Aspect()}
	}
	return slots, true
}

// PatchDimensionsByPath updates a resident record found by path.
// Returns the global index it patched, or -1 when the path is not
// resident.
func (m *Manager) PatchDimensionsByPath(path string, width, height int, video *index.VideoFacts) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, page := range m.resident.Keys() {
		pg, ok := m.resident.Peek(page)
		if !ok {
			continue
		}
		for i := range pg.Items {
			if pg.Items[i].Path != path {
				continue
			}
			rec := &pg.Items[i]
			rec.Width = width
			rec.Height = height
			if height > 0 {
				rec.AspectRatio = index.ClampAspect(float64(width) / float64(height))
			}
			if video != nil {
				rec.Facts.Kind = index.KindVideo
				rec.Facts.Video = video
			}
			return page*m.opt.PageSize + i
		}
	}
	return -1
}

// PatchTags replaces a resident record's tag list, path-checked.
func (m *Manager) PatchTags(globalIndex int, path string, tags []string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.recordLocked(globalIndex, path)
	if rec == nil {
		return false
	}
	rec.Tags = append([]string(nil), tags...)
	return true
}

// PatchRating updates a resident record's rating, path-checked.
func (m *Manager) PatchRating(globalIndex int, path string, rating float64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.recordLocked(globalIndex, path)
	if rec == nil {
		return false
	}
	rec.Rating = rating
	return true
}

// PatchDimensions updates a resident record's measured dimensions.
// The path must still match; a page reloaded with different content at
// the same global index rejects the stale patch.
func (m *Manager) PatchDimensions(globalIndex int, path string, width, height int, video *index.VideoFacts) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.recordLocked(globalIndex, path)
	if rec == nil {
		return false
	}
	rec.Width = width
	rec.Height = height
	if height > 0 {
		rec.AspectRatio = index.ClampAspect(float64(width) / float64(height))
	}
	if video != nil {
		rec.Facts.Kind = index.KindVideo
		rec.Facts.Video = video
	}
	return true
}

// MarkThumbCached flips the resident record's thumbnail flag, with the
// same path identity check as PatchDimensions.
func (m *Manager) MarkThumbCached(globalIndex int, path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.recordLocked(globalIndex, path)
	if rec == nil {
		return false
	}
	rec.ThumbCached = true
	return true
}

func (m *Manager) recordLocked(globalIndex int, path string) *index.ItemRecord {
	if globalIndex < 0 {
		return nil
	}
	page, ok := m.resident.Peek(globalIndex / m.opt.PageSize)
	if !ok {
		return nil
	}
	row := globalIndex % m.opt.PageSize
	if row >= len(page.Items) || page.Items[row].Path != path {
		return nil
	}
	return &page.Items[row]
}

func (m *Manager) sortedPagesLocked() []int {
	pages := m.resident.Keys()
	for i := 1; i < len(pages); i++ {
		for j := i; j > 0 && pages[j] < pages[j-1]; j-- {
			pages[j], pages[j-1] = pages[j-1], pages[j]
		}
	}
	return pages
}
