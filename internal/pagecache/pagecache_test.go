package pagecache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agentic-research/vitrine/internal/index"
)

// fakeLoader serves a synthetic dataset and counts per-page loads.
type fakeLoader struct {
	mu    sync.Mutex
	calls map[int]int
	total int
}

func newFakeLoader(total int) *fakeLoader {
	return &fakeLoader{calls: make(map[int]int), total: total}
}

func (l *fakeLoader) Page(_ context.Context, req index.PageRequest) ([]index.ItemRecord, error) {
	l.mu.Lock()
	l.calls[req.Page]++
	l.mu.Unlock()

	start := req.Page * req.PageSize
	items := make([]index.ItemRecord, 0, req.PageSize)
	for gi := start; gi < start+req.PageSize && gi < l.total; gi++ {
		items = append(items, index.ItemRecord{
			ID:     int64(gi + 1),
			Path:   fmt.Sprintf("img/%05d.jpg", gi),
			Width:  4,
			Height: 3,
			Facts:  index.MediaFacts{Kind: index.KindImage},
		})
	}
	return items, nil
}

func (l *fakeLoader) callCount(page int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls[page]
}

func (l *fakeLoader) totalCalls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, c := range l.calls {
		n += c
	}
	return n
}

// blockingLoader parks inside Page until released, to pin down
// orderings the fake loader resolves too fast to observe.
type blockingLoader struct {
	inner   *fakeLoader
	entered chan struct{}
	release chan struct{}
}

func (l *blockingLoader) Page(ctx context.Context, req index.PageRequest) ([]index.ItemRecord, error) {
	l.entered <- struct{}{}
	<-l.release
	return l.inner.Page(ctx, req)
}

type recordingCanceller struct {
	mu    sync.Mutex
	spans [][2]int
}

func (c *recordingCanceller) CancelRange(lo, hi int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.spans = append(c.spans, [2]int{lo, hi})
}

func (c *recordingCanceller) cancelled() [][2]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][2]int(nil), c.spans...)
}

func newTestManager(t *testing.T, loader Loader, canceller Canceller, opt Options, total int) *Manager {
	t.Helper()
	m, err := NewManager(loader, canceller, opt)
	require.NoError(t, err)
	t.Cleanup(m.Close)
	m.SetTotal(total)
	return m
}

func TestLoadSyncBootstrap(t *testing.T) {
	loader := newFakeLoader(2500)
	m := newTestManager(t, loader, nil, Options{PageSize: 1000, MaxResidentPages: 3}, 2500)

	p, err := m.LoadSync(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, p.Items, 1000)
	require.True(t, m.Contains(0))

	p, err = m.LoadSync(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, p.Items, 500, "tail page is short")
}

func TestDebounceCoalescesRequests(t *testing.T) {
	loader := newFakeLoader(500)
	m := newTestManager(t, loader, nil, Options{
		PageSize: 100, MaxResidentPages: 5, Margin: 0, Debounce: 40 * time.Millisecond,
	}, 500)

	m.EnsureRange(100, 200)
	time.Sleep(5 * time.Millisecond)
	m.EnsureRange(100, 200)

	require.Eventually(t, func() bool { return m.Contains(1) && m.Contains(2) },
		5*time.Second, 10*time.Millisecond)
	require.Equal(t, 1, loader.callCount(1), "rapid repeat signals must coalesce into one load")
	require.Equal(t, 1, loader.callCount(2))
	require.Equal(t, 2, loader.totalCalls())
}

func TestJumpKeepsResidencyBounded(t *testing.T) {
	loader := newFakeLoader(2500)
	canceller := &recordingCanceller{}
	m := newTestManager(t, loader, canceller, Options{
		PageSize: 1000, MaxResidentPages: 3, Margin: 0, Debounce: 5 * time.Millisecond,
	}, 2500)

	m.EnsureRange(2400, 2450)
	require.Eventually(t, func() bool { return m.Contains(2) }, 5*time.Second, 5*time.Millisecond)

	m.EnsureRange(0, 50)
	require.Eventually(t, func() bool { return m.Contains(0) }, 5*time.Second, 5*time.Millisecond)

	require.LessOrEqual(t, m.ResidentCount(), 3)
	require.True(t, m.Contains(0), "the jumped-to page must be resident")
}

func TestEvictionCancelsGlobalRange(t *testing.T) {
	loader := newFakeLoader(100)
	canceller := &recordingCanceller{}
	m := newTestManager(t, loader, canceller, Options{
		PageSize: 10, MaxResidentPages: 3,
	}, 100)

	ctx := context.Background()
	for page := 0; page < 4; page++ {
		_, err := m.LoadSync(ctx, page)
		require.NoError(t, err)
	}

	require.Equal(t, 3, m.ResidentCount())
	require.False(t, m.Contains(0), "oldest page evicts first")
	require.Equal(t, [][2]int{{0, 10}}, canceller.cancelled(),
		"eviction must cancel the page's whole global index range")
}

func TestStaleLoadDroppedAfterQueryChange(t *testing.T) {
	inner := newFakeLoader(500)
	loader := &blockingLoader{
		inner:   inner,
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	m := newTestManager(t, loader, nil, Options{
		PageSize: 100, MaxResidentPages: 5, Margin: 0, Debounce: 5 * time.Millisecond,
	}, 500)

	m.EnsureRange(0, 50)
	select {
	case <-loader.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("load never started")
	}

	m.SetQuery(index.Sort{Field: index.SortName}, nil, 500)
	close(loader.release)

	require.Never(t, func() bool { return m.ResidentCount() > 0 },
		300*time.Millisecond, 20*time.Millisecond)
}

func TestRowMappingRoundTrip(t *testing.T) {
	loader := newFakeLoader(100)
	m := newTestManager(t, loader, nil, Options{PageSize: 10, MaxResidentPages: 4}, 100)

	ctx := context.Background()
	_, err := m.LoadSync(ctx, 1)
	require.NoError(t, err)
	_, err = m.LoadSync(ctx, 2)
	require.NoError(t, err)

	gi, ok := m.GlobalIndexForLoadedRow(0)
	require.True(t, ok)
	require.Equal(t, 10, gi, "first loaded row belongs to the first resident page")

	gi, ok = m.GlobalIndexForLoadedRow(15)
	require.True(t, ok)
	require.Equal(t, 25, gi)

	row, ok := m.LoadedRowForGlobalIndex(25)
	require.True(t, ok)
	require.Equal(t, 15, row)

	_, ok = m.LoadedRowForGlobalIndex(5)
	require.False(t, ok, "global index on a non-resident page has no loaded row")
	_, ok = m.GlobalIndexForLoadedRow(20)
	require.False(t, ok, "row beyond the loaded window")
}

func TestAspectWindowIsContiguous(t *testing.T) {
	loader := newFakeLoader(100)
	m := newTestManager(t, loader, nil, Options{PageSize: 10, MaxResidentPages: 5}, 100)

	ctx := context.Background()
	for _, page := range []int{0, 1, 3} {
		_, err := m.LoadSync(ctx, page)
		require.NoError(t, err)
	}

	first, slots, ok := m.AspectWindow(1)
	require.True(t, ok)
	require.Equal(t, 0, first)
	require.Len(t, slots, 20, "window spans pages 0-1 but stops at the gap")
	require.Equal(t, 0, slots[0].GlobalIndex)
	require.Equal(t, 19, slots[19].GlobalIndex)
	require.InDelta(t, 4.0/3.0, slots[0].Aspect, 1e-9)

	first, slots, ok = m.AspectWindow(3)
	require.True(t, ok)
	require.Equal(t, 3, first)
	require.Len(t, slots, 10)

	_, _, ok = m.AspectWindow(2)
	require.False(t, ok, "non-resident page has no window")
}

func TestPatchDimensionsChecksIdentity(t *testing.T) {
	loader := newFakeLoader(100)
	m := newTestManager(t, loader, nil, Options{PageSize: 10, MaxResidentPages: 2}, 100)

	_, err := m.LoadSync(context.Background(), 0)
	require.NoError(t, err)

	require.True(t, m.PatchDimensions(3, "img/00003.jpg", 1920, 1080, nil))
	rec, ok := m.Item(3)
	require.True(t, ok)
	require.Equal(t, 1920, rec.Width)
	require.InDelta(t, 16.0/9.0, rec.AspectRatio, 1e-9)

	require.False(t, m.PatchDimensions(3, "img/other.jpg", 10, 10, nil),
		"stale patch for replaced content must be rejected")

	require.True(t, m.MarkThumbCached(3, "img/00003.jpg"))
	rec, _ = m.Item(3)
	require.True(t, rec.ThumbCached)
	require.False(t, m.MarkThumbCached(3, "img/other.jpg"))
}
