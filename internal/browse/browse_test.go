package browse

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agentic-research/vitrine/internal/config"
	"github.com/agentic-research/vitrine/internal/index"
)

func writeTestPNG(t *testing.T, dir, name string, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, 0, color.RGBA{R: 99, A: 255})
	}
	f, err := os.Create(filepath.Join(dir, name))
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.CacheDir = filepath.Join(t.TempDir(), "cache")
	cfg.PageSize = 50
	cfg.MaxResidentPages = 2
	cfg.DebounceWindow = 5 * time.Millisecond
	cfg.ThumbnailWorkers = 1
	return cfg
}

func openTestBrowser(t *testing.T, root string) *Browser {
	t.Helper()
	b, err := Open(root, testConfig(t), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func waitForEvent(t *testing.T, b *Browser, kind EventKind) Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-b.Events():
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("event kind %d never arrived", kind)
		}
	}
}

func TestOpenIndexesDirectory(t *testing.T) {
	root := t.TempDir()
	writeTestPNG(t, root, "alpha.png", 16, 8)
	writeTestPNG(t, root, "beta.png", 8, 16)
	writeTestPNG(t, root, "gamma.png", 10, 10)

	b := openTestBrowser(t, root)
	require.Equal(t, 3, b.TotalCount())

	b.SetViewport(660, 480)
	layout := b.Layout()
	real := 0
	for _, it := range layout {
		if !it.IsSpacer() {
			real++
		}
	}
	require.Equal(t, 3, real, "every indexed item gets geometry")

	rec, ok := b.ItemAt(0)
	require.True(t, ok)
	require.NotEmpty(t, rec.Path)
}

func TestReopenSkipsReindex(t *testing.T) {
	root := t.TempDir()
	writeTestPNG(t, root, "alpha.png", 16, 8)

	b := openTestBrowser(t, root)
	require.NoError(t, b.SetTags(0, []string{"red", "blue"}))
	require.NoError(t, b.Close())

	// Sidecar written next to the image.
	raw, err := os.ReadFile(filepath.Join(root, "alpha.txt"))
	require.NoError(t, err)
	require.Equal(t, "red, blue", string(raw))

	b2, err := Open(root, testConfig(t), nil)
	require.NoError(t, err)
	defer func() { _ = b2.Close() }()

	rec, ok := b2.ItemAt(0)
	require.True(t, ok)
	require.Equal(t, []string{"red", "blue"}, rec.Tags, "tags survive a reopen")
}

func TestApplyFilterNarrowsAndClearsSelection(t *testing.T) {
	root := t.TempDir()
	writeTestPNG(t, root, "cat.png", 8, 8)
	writeTestPNG(t, root, "dog.png", 8, 8)

	b := openTestBrowser(t, root)
	b.Selection().Add(1)

	require.NoError(t, b.ApplyFilter(&index.NameFilter{Substring: "cat"}))
	require.Equal(t, 1, b.TotalCount())
	require.Equal(t, uint64(0), b.Selection().Count(), "selection resets with the query")

	rec, ok := b.ItemAt(0)
	require.True(t, ok)
	require.Equal(t, "cat.png", rec.Path)

	require.NoError(t, b.ApplyFilter(nil))
	require.Equal(t, 2, b.TotalCount())
}

func TestShuffleIsSeedStable(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"a.png", "b.png", "c.png", "d.png", "e.png"} {
		writeTestPNG(t, root, name, 8, 8)
	}

	b := openTestBrowser(t, root)
	require.NoError(t, b.Shuffle(42))
	first := make([]string, 0, 5)
	for i := 0; i < 5; i++ {
		rec, ok := b.ItemAt(i)
		require.True(t, ok)
		first = append(first, rec.Path)
	}

	require.NoError(t, b.Shuffle(42))
	for i := 0; i < 5; i++ {
		rec, ok := b.ItemAt(i)
		require.True(t, ok)
		require.Equal(t, first[i], rec.Path, "same seed replays the same order")
	}
}

func TestThumbnailDeliveredAsEvent(t *testing.T) {
	root := t.TempDir()
	writeTestPNG(t, root, "alpha.png", 64, 32)

	b := openTestBrowser(t, root)
	img, pending := b.RequestThumbnail(0)
	require.Nil(t, img)
	require.True(t, pending)

	ev := waitForEvent(t, b, EventThumb)
	require.Equal(t, 0, ev.GlobalIndex)
	require.NotNil(t, ev.Bitmap)

	// Now a synchronous hit.
	require.Eventually(t, func() bool {
		img, pending := b.RequestThumbnail(0)
		return !pending && img != nil
	}, 5*time.Second, 10*time.Millisecond)
}

func TestEnrichmentMeasuresPlaceholders(t *testing.T) {
	root := t.TempDir()
	writeTestPNG(t, root, "wide.png", 30, 10)

	b := openTestBrowser(t, root)
	require.Eventually(t, func() bool {
		rec, ok := b.ItemAt(0)
		return ok && rec.Width == 30 && rec.Height == 10
	}, 10*time.Second, 20*time.Millisecond, "background enrichment patches the resident record")
}

func TestRatingRoundTrip(t *testing.T) {
	root := t.TempDir()
	writeTestPNG(t, root, "alpha.png", 8, 8)

	b := openTestBrowser(t, root)
	require.NoError(t, b.SetRating(0, 4.5))
	rec, ok := b.ItemAt(0)
	require.True(t, ok)
	require.Equal(t, 4.5, rec.Rating)
}

func TestEmptyDirectory(t *testing.T) {
	b := openTestBrowser(t, t.TempDir())
	require.Equal(t, 0, b.TotalCount())
	require.Empty(t, b.Layout())
	_, ok := b.ItemAt(0)
	require.False(t, ok)
}
