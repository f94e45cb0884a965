// Package browse is the coordinator behind a directory browsing
// session. It owns the metadata store, page residency, layout engine,
// thumbnail pipeline and enrichment worker, and funnels their
// asynchronous completions through one event loop so the rest of the
// program sees a single consistent surface.
package browse

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/agentic-research/vitrine/internal/config"
	"github.com/agentic-research/vitrine/internal/enrich"
	"github.com/agentic-research/vitrine/internal/index"
	"github.com/agentic-research/vitrine/internal/masonry"
	"github.com/agentic-research/vitrine/internal/pagecache"
	"github.com/agentic-research/vitrine/internal/scan"
	"github.com/agentic-research/vitrine/internal/selection"
	"github.com/agentic-research/vitrine/internal/sidecar"
	"github.com/agentic-research/vitrine/internal/thumbs"
)

// EventKind discriminates coordinator notifications.
type EventKind int

const (
	// EventLayout means geometry changed; re-read Layout.
	EventLayout EventKind = iota
	// EventThumb carries one finished thumbnail.
	EventThumb
	// EventCount means the dataset size changed; re-read TotalCount.
	EventCount
)

// Event is one notification out of the coordinator.
type Event struct {
	Kind        EventKind
	GlobalIndex int
	Bitmap      image.Image
}

// Stats is a point-in-time snapshot for diagnostics.
type Stats struct {
	Total         int
	ResidentPages []int
	VirtualHeight int
	AvgRowHeight  float64
}

// Browser is one browsing session over a directory. Public methods are
// safe for concurrent use; the internal event loop is the only
// consumer of the component channels.
type Browser struct {
	root string
	cfg  config.Config

	store    *index.Store
	pages    *pagecache.Manager
	engine   *masonry.Engine
	thumbs   *thumbs.Service
	enricher *enrich.Scheduler
	watcher  *scan.Watcher
	selected *selection.Set

	mu        sync.Mutex
	sort      index.Sort
	filter    index.Filter
	total     int
	scrollY   int
	viewportH int

	events     chan Event
	flushQueue []string

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// Open builds a session over root and performs the initial scan and
// first page load, so the caller can paint immediately. prober may be
// nil; videos then stay unmeasured.
func Open(root string, cfg config.Config, prober enrich.VideoProber) (*Browser, error) {
	cfg = cfg.Clamp()

	store, err := index.Open(root)
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}

	disk, err := thumbs.NewDiskCache(filepath.Join(cfg.CacheDir, "thumbs"), cfg.CacheEnabled)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("open thumbnail cache: %w", err)
	}
	thumbSvc, err := thumbs.NewService(disk, thumbs.Options{
		Workers:       cfg.ThumbnailWorkers,
		Width:         cfg.ThumbnailWidth,
		MemoryEntries: cfg.EvictionPages * cfg.PageSize,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("start thumbnail service: %w", err)
	}

	layoutCache, err := masonry.NewLayoutCache(filepath.Join(cfg.CacheDir, "layouts"), cfg.CacheEnabled)
	if err != nil {
		thumbSvc.Close()
		_ = store.Close()
		return nil, fmt.Errorf("open layout cache: %w", err)
	}

	pages, err := pagecache.NewManager(store, thumbSvc, pagecache.Options{
		PageSize:         cfg.PageSize,
		MaxResidentPages: cfg.MaxResidentPages,
		Margin:           2,
		Workers:          cfg.LoadWorkers,
		Debounce:         cfg.DebounceWindow,
	})
	if err != nil {
		thumbSvc.Close()
		_ = store.Close()
		return nil, fmt.Errorf("start page manager: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Browser{
		root:     root,
		cfg:      cfg,
		store:    store,
		pages:    pages,
		engine:   masonry.NewEngine(strategyFor(cfg), cfg.ColumnWidth, cfg.Spacing, cfg.PageSize, layoutCache),
		thumbs:   thumbSvc,
		selected: selection.New(),
		sort:     index.DefaultSort(),
		events:   make(chan Event, 256),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	if err := b.Rescan(false); err != nil {
		b.shutdown()
		return nil, err
	}

	b.enricher = enrich.NewScheduler(store, prober, enrich.Options{
		Root:      root,
		BatchSize: cfg.EnrichBatchSize,
	})
	if w, err := scan.NewWatcher(root); err != nil {
		log.WithFields(log.Fields{"root": root, "err": err}).Warn("directory watching unavailable")
	} else {
		b.watcher = w
	}

	go b.loop()
	return b, nil
}

func strategyFor(cfg config.Config) masonry.Strategy {
	if cfg.MasonryStrategy == config.StrategyFullCompat {
		return masonry.StrategyFullCompat
	}
	return masonry.StrategyWindowedStrict
}

// Events yields coordinator notifications. Overflow is dropped; every
// event kind is resynchronizable from accessor methods.
func (b *Browser) Events() <-chan Event { return b.events }

// Close stops all background work and releases the store.
func (b *Browser) Close() error {
	b.cancel()
	<-b.done
	return b.shutdown()
}

func (b *Browser) shutdown() error {
	if b.watcher != nil {
		_ = b.watcher.Close()
	}
	if b.enricher != nil {
		b.enricher.Stop()
	}
	b.pages.Close()
	b.thumbs.Close()
	b.flushThumbFlags()
	return b.store.Close()
}

// Rescan walks the directory and reconciles the index. When the scan
// signature matches the stored one and force is false, the walk result
// is trusted as already indexed.
func (b *Browser) Rescan(force bool) error {
	entries, err := scan.Walk(b.root)
	if err != nil {
		return err
	}
	sig := scan.Signature(entries)
	stored, err := b.store.ScanSignature()
	if err != nil {
		return err
	}

	if force || sig != stored {
		if err := b.reindex(entries); err != nil {
			return err
		}
		if err := b.store.SetScanSignature(sig); err != nil {
			return err
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return b.resetQueryLocked(b.sort, b.filter)
}

// reindex upserts the walk result, imports sidecar tags, and drops
// rows whose file disappeared.
func (b *Browser) reindex(entries []scan.Entry) error {
	records := make([]index.ItemRecord, len(entries))
	for i, e := range entries {
		records[i] = recordFor(e)
	}
	if err := b.store.UpsertBatch(records); err != nil {
		return fmt.Errorf("index %d files: %w", len(records), err)
	}
	log.WithField("files", len(records)).Info("directory indexed")

	for i := range records {
		abs := b.absPath(records[i].Path)
		tags, err := sidecar.Read(abs, sidecar.DefaultSeparator)
		if err != nil || len(tags) == 0 {
			continue
		}
		if err := b.store.SetTags(records[i].ID, tags); err != nil {
			return fmt.Errorf("import sidecar tags for %s: %w", records[i].Path, err)
		}
	}

	if b.cfg.SkipMissing {
		return b.removeStale(entries)
	}
	return nil
}

func (b *Browser) removeStale(entries []scan.Entry) error {
	onDisk := make(map[string]bool, len(entries))
	for _, e := range entries {
		onDisk[e.RelPath] = true
	}
	stored, err := b.store.AllPaths()
	if err != nil {
		return err
	}
	removed := 0
	for _, p := range stored {
		if onDisk[p] {
			continue
		}
		if err := b.store.Remove(p); err != nil {
			return err
		}
		removed++
	}
	if removed > 0 {
		log.WithField("removed", removed).Info("dropped index rows for missing files")
	}
	return nil
}

func recordFor(e scan.Entry) index.ItemRecord {
	facts := index.MediaFacts{Kind: index.KindImage}
	if e.IsVideo {
		facts = index.MediaFacts{Kind: index.KindVideo, Video: &index.VideoFacts{}}
	}
	mtime := time.Unix(0, e.MTime)
	return index.ItemRecord{
		Path:     e.RelPath,
		Facts:    facts,
		Size:     e.Size,
		FileType: strings.TrimPrefix(strings.ToLower(filepath.Ext(e.RelPath)), "."),
		CTime:    mtime,
		MTime:    mtime,
	}
}

func (b *Browser) absPath(rel string) string {
	return filepath.Join(b.root, filepath.FromSlash(rel))
}

// resetQueryLocked re-counts, purges residency, loads the first page
// and lays it out. Every sort/filter/dataset change funnels through
// here so the invariants hold from one place.
func (b *Browser) resetQueryLocked(sort index.Sort, filter index.Filter) error {
	total, err := b.store.Count(filter)
	if err != nil {
		return fmt.Errorf("count items: %w", err)
	}
	b.sort = sort.Normalize()
	b.filter = filter
	b.total = total
	b.scrollY = 0
	b.selected.Clear()
	b.pages.SetQuery(b.sort, b.filter, total)
	b.engine.Invalidate("query changed")
	b.engine.SetTotalItems(total)

	if total > 0 {
		if _, err := b.pages.LoadSync(b.ctx, 0); err != nil {
			return err
		}
		b.recomputeLocked(0)
	}
	b.emit(Event{Kind: EventCount})
	b.emit(Event{Kind: EventLayout})
	return nil
}

// recomputeLocked runs a full layout pass over the contiguous resident
// window containing page, preserving the viewport anchor.
func (b *Browser) recomputeLocked(page int) {
	first, slots, ok := b.pages.AspectWindow(page)
	if !ok {
		return
	}
	anchor := masonry.CaptureAnchor(b.engine.Items(), b.scrollY)
	items := b.engine.Recompute(first, toSlots(slots))
	b.scrollY = masonry.RestoreAnchor(items, anchor, b.scrollY)
}

// recomputeNearestLocked recomputes around the resident page closest
// to the current scroll position.
func (b *Browser) recomputeNearestLocked() {
	target := b.engine.PageForScroll(b.scrollY, b.viewportH)
	resident := b.pages.ResidentPages()
	if len(resident) == 0 {
		return
	}
	best := resident[0]
	for _, p := range resident[1:] {
		if abs(p-target) < abs(best-target) {
			best = p
		}
	}
	b.recomputeLocked(best)
}

func toSlots(in []pagecache.AspectSlot) []masonry.Slot {
	out := make([]masonry.Slot, len(in))
	for i, s := range in {
		out[i] = masonry.Slot{GlobalIndex: s.GlobalIndex, Aspect: s.Aspect}
	}
	return out
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// loop is the single consumer of every component channel.
func (b *Browser) loop() {
	defer close(b.done)

	var changes <-chan scan.Change
	if b.watcher != nil {
		changes = b.watcher.Changes()
	}
	flush := time.NewTicker(time.Second)
	defer flush.Stop()

	results := b.thumbs.Results()
	saved := b.thumbs.Saved()
	updates := b.enricher.Updates()

	for {
		select {
		case <-b.ctx.Done():
			return
		case ev := <-b.pages.Events():
			b.handlePageLoaded(ev.Page)
		case res, ok := <-results:
			if !ok {
				results = nil
				continue
			}
			b.emit(Event{Kind: EventThumb, GlobalIndex: res.GlobalIndex, Bitmap: res.Bitmap})
		case path := <-saved:
			b.queueThumbFlag(path)
		case batch := <-updates:
			b.handleEnrichment(batch)
		case ch, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			b.handleFsChange(ch)
		case <-flush.C:
			b.flushThumbFlags()
		}
	}
}

func (b *Browser) handlePageLoaded(page int) {
	b.mu.Lock()
	switch {
	case b.engine.CanExtendDown(page):
		if slots, ok := b.pages.PageSlots(page); ok {
			b.engine.ExtendDown(page, toSlots(slots))
		}
	case b.engine.CanExtendUp(page):
		if slots, ok := b.pages.PageSlots(page); ok {
			anchor := masonry.CaptureAnchor(b.engine.Items(), b.scrollY)
			items := b.engine.ExtendUp(page, toSlots(slots))
			b.scrollY = masonry.RestoreAnchor(items, anchor, b.scrollY)
		}
	default:
		b.recomputeLocked(page)
	}
	b.mu.Unlock()
	b.emit(Event{Kind: EventLayout})
}

func (b *Browser) handleEnrichment(batch []enrich.Update) {
	b.mu.Lock()
	touched := false
	for _, u := range batch {
		if b.pages.PatchDimensionsByPath(u.Path, u.Width, u.Height, u.Video) >= 0 {
			touched = true
		}
	}
	if touched {
		// One relayout per batch, not per measured item.
		b.engine.Invalidate("dimensions measured")
		b.recomputeNearestLocked()
	}
	b.mu.Unlock()
	if touched {
		b.emit(Event{Kind: EventLayout})
	}
}

func (b *Browser) handleFsChange(ch scan.Change) {
	switch ch.Kind {
	case scan.Added:
		abs := b.absPath(ch.RelPath)
		info, err := os.Stat(abs)
		if err != nil {
			return
		}
		rec := recordFor(scan.Entry{
			RelPath: ch.RelPath,
			Size:    info.Size(),
			MTime:   info.ModTime().UnixNano(),
			IsVideo: scan.IsVideoPath(ch.RelPath),
		})
		if err := b.store.Upsert(&rec); err != nil {
			log.WithFields(log.Fields{"path": ch.RelPath, "err": err}).Warn("live index add failed")
			return
		}
	case scan.Removed:
		if err := b.store.Remove(ch.RelPath); err != nil {
			log.WithFields(log.Fields{"path": ch.RelPath, "err": err}).Warn("live index remove failed")
			return
		}
	}

	b.mu.Lock()
	err := b.resetQueryLocked(b.sort, b.filter)
	b.mu.Unlock()
	if err != nil {
		log.WithField("err", err).Warn("reload after filesystem change failed")
	}
}

func (b *Browser) queueThumbFlag(path string) {
	b.mu.Lock()
	b.flushQueue = append(b.flushQueue, path)
	full := len(b.flushQueue) >= 128
	b.mu.Unlock()
	if full {
		b.flushThumbFlags()
	}
}

func (b *Browser) flushThumbFlags() {
	b.mu.Lock()
	queue := b.flushQueue
	b.flushQueue = nil
	b.mu.Unlock()
	if len(queue) == 0 {
		return
	}
	if err := b.store.FlushThumbFlags(queue); err != nil {
		log.WithFields(log.Fields{"count": len(queue), "err": err}).Warn("thumb flag flush failed")
	}
}

func (b *Browser) emit(ev Event) {
	select {
	case b.events <- ev:
	default:
	}
}

// SetViewport records the viewport size. A width change rederives the
// column count and relays out.
func (b *Browser) SetViewport(width, height int) {
	b.mu.Lock()
	b.viewportH = height
	changed := b.engine.SetViewportWidth(width)
	if changed {
		b.recomputeNearestLocked()
	}
	b.mu.Unlock()
	if changed {
		b.emit(Event{Kind: EventLayout})
	}
}

// Scroll records a new scroll position and signals the page it lands
// on. Loading happens in the background after the debounce window.
func (b *Browser) Scroll(y int) {
	b.mu.Lock()
	b.scrollY = y
	page := b.engine.PageForScroll(y, b.viewportH)
	lo := page * b.cfg.PageSize
	b.mu.Unlock()
	b.pages.EnsureRange(lo, lo+b.cfg.PageSize-1)
}

// ScrollY returns the current (anchor-adjusted) scroll position.
func (b *Browser) ScrollY() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.scrollY
}

// EnsureRange signals that global indices [lo, hi] are about to be
// visible.
func (b *Browser) EnsureRange(lo, hi int) {
	b.pages.EnsureRange(lo, hi)
}

// Layout returns a copy of the current geometry, spacers included.
func (b *Browser) Layout() []masonry.Item {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]masonry.Item(nil), b.engine.Items()...)
}

// VirtualHeight is the estimated total scrollable extent.
func (b *Browser) VirtualHeight() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.engine.VirtualHeight()
}

// TotalCount is the dataset size under the current filter.
func (b *Browser) TotalCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total
}

// ItemAt returns the record at a global index if its page is resident.
func (b *Browser) ItemAt(globalIndex int) (index.ItemRecord, bool) {
	return b.pages.Item(globalIndex)
}

// RequestThumbnail returns the bitmap synchronously on a cache hit, or
// schedules generation and reports pending. Pending results arrive as
// EventThumb.
func (b *Browser) RequestThumbnail(globalIndex int) (image.Image, bool) {
	rec, ok := b.pages.Item(globalIndex)
	if !ok {
		return nil, false
	}
	return b.thumbs.Request(globalIndex, b.absPath(rec.Path), rec.MTime)
}

// ApplySort replaces the ordering and reloads from the top.
func (b *Browser) ApplySort(sort index.Sort) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.resetQueryLocked(sort, b.filter)
}

// ApplyFilter replaces the filter and reloads from the top. A nil
// filter shows everything.
func (b *Browser) ApplyFilter(filter index.Filter) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.resetQueryLocked(b.sort, filter)
}

// Shuffle switches to a seeded random order. The same seed replays the
// same permutation.
func (b *Browser) Shuffle(seed int64) error {
	return b.ApplySort(index.Sort{Field: index.SortRandom, Direction: index.Ascending, Seed: seed})
}

// SetTags replaces an item's tag list in the index, the sidecar file,
// and the resident record.
func (b *Browser) SetTags(globalIndex int, tags []string) error {
	rec, ok := b.pages.Item(globalIndex)
	if !ok {
		return fmt.Errorf("item %d not resident", globalIndex)
	}
	if err := b.store.SetTags(rec.ID, tags); err != nil {
		return err
	}
	if err := sidecar.Write(b.absPath(rec.Path), tags, sidecar.DefaultSeparator); err != nil {
		return fmt.Errorf("write sidecar for %s: %w", rec.Path, err)
	}
	b.pages.PatchTags(globalIndex, rec.Path, tags)
	return nil
}

// SetRating records a rating in the index and the resident record.
func (b *Browser) SetRating(globalIndex int, rating float64) error {
	rec, ok := b.pages.Item(globalIndex)
	if !ok {
		return fmt.Errorf("item %d not resident", globalIndex)
	}
	if err := b.store.SetRating(rec.ID, rating); err != nil {
		return err
	}
	b.pages.PatchRating(globalIndex, rec.Path, rating)
	return nil
}

// GlobalIndexForLoadedRow maps a row of the concatenated resident
// pages to its dataset-wide index.
func (b *Browser) GlobalIndexForLoadedRow(row int) (int, bool) {
	return b.pages.GlobalIndexForLoadedRow(row)
}

// LoadedRowForGlobalIndex maps a dataset-wide index to its row within
// the concatenated resident pages.
func (b *Browser) LoadedRowForGlobalIndex(globalIndex int) (int, bool) {
	return b.pages.LoadedRowForGlobalIndex(globalIndex)
}

// Selection exposes the selection set. Indices are global, so
// selections survive page eviction.
func (b *Browser) Selection() *selection.Set { return b.selected }

// PauseEnrichment suspends background measuring, for bulk operations.
func (b *Browser) PauseEnrichment() { b.enricher.Pause() }

// ResumeEnrichment restarts background measuring.
func (b *Browser) ResumeEnrichment() { b.enricher.Resume() }

// Stats snapshots the session for diagnostics.
func (b *Browser) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Total:         b.total,
		ResidentPages: b.pages.ResidentPages(),
		VirtualHeight: b.engine.VirtualHeight(),
		AvgRowHeight:  b.engine.AvgRowHeight(),
	}
}
