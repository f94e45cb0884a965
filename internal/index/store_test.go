package index

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedItems(t *testing.T, s *Store, n int) []ItemRecord {
	t.Helper()
	records := make([]ItemRecord, n)
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	for i := range records {
		records[i] = ItemRecord{
			Path:     fmt.Sprintf("sub/img_%04d.jpg", i),
			Width:    400 + i,
			Height:   400,
			Facts:    MediaFacts{Kind: KindImage},
			Size:     int64(1000 + i),
			FileType: "jpg",
			MTime:    base.Add(time.Duration(i) * time.Minute),
			CTime:    base,
		}
	}
	require.NoError(t, s.UpsertBatch(records))
	return records
}

func TestUpsertAndCount(t *testing.T) {
	s := newTestStore(t)
	seedItems(t, s, 25)

	n, err := s.Count(nil)
	require.NoError(t, err)
	require.Equal(t, 25, n)

	// Upserting the same path again must not grow the table.
	rec := ItemRecord{Path: "sub/img_0000.jpg", Width: 800, Height: 600,
		Facts: MediaFacts{Kind: KindImage}, MTime: time.Now()}
	require.NoError(t, s.Upsert(&rec))
	require.NotZero(t, rec.ID)

	n, err = s.Count(nil)
	require.NoError(t, err)
	require.Equal(t, 25, n)
}

func TestPageOrderingAndPagination(t *testing.T) {
	s := newTestStore(t)
	seedItems(t, s, 30)

	req := PageRequest{Page: 0, PageSize: 10, Sort: Sort{Field: SortMTime, Direction: Ascending}}
	page0, err := s.Page(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, page0, 10)
	require.Equal(t, "sub/img_0000.jpg", page0[0].Path)

	req.Page = 2
	page2, err := s.Page(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, page2, 10)
	require.Equal(t, "sub/img_0029.jpg", page2[9].Path)

	// Tail page may be short, never padded.
	req.Page = 3
	page3, err := s.Page(context.Background(), req)
	require.NoError(t, err)
	require.Empty(t, page3)
}

func TestSeededRandomIsReproducible(t *testing.T) {
	s := newTestStore(t)
	seedItems(t, s, 50)

	req := PageRequest{Page: 0, PageSize: 50, Sort: Sort{Field: SortRandom, Seed: 42}}
	first, err := s.Page(context.Background(), req)
	require.NoError(t, err)
	second, err := s.Page(context.Background(), req)
	require.NoError(t, err)

	require.Equal(t, paths(first), paths(second), "same seed must give identical order")

	req.Sort.Seed = 43
	other, err := s.Page(context.Background(), req)
	require.NoError(t, err)
	require.NotEqual(t, paths(first), paths(other), "different seed should shuffle differently")
}

func paths(records []ItemRecord) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.Path
	}
	return out
}

func TestTagsRoundTripPreservesOrder(t *testing.T) {
	s := newTestStore(t)
	records := seedItems(t, s, 3)

	want := []string{"zebra", "alpha", "middle"}
	require.NoError(t, s.SetTags(records[1].ID, want))

	got, err := s.TagsFor([]int64{records[1].ID})
	require.NoError(t, err)
	require.Equal(t, want, got[records[1].ID])

	// Replace-whole-list semantics.
	require.NoError(t, s.SetTags(records[1].ID, []string{"only"}))
	got, err = s.TagsFor([]int64{records[1].ID})
	require.NoError(t, err)
	require.Equal(t, []string{"only"}, got[records[1].ID])
}

func TestTagFilterQueriesTagsTable(t *testing.T) {
	s := newTestStore(t)
	records := seedItems(t, s, 5)
	require.NoError(t, s.SetTags(records[2].ID, []string{"sunset_beach"}))

	f, err := NewTagFilter("sunset*")
	require.NoError(t, err)
	n, err := s.Count(f)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	page, err := s.Page(context.Background(), PageRequest{Page: 0, PageSize: 10, Sort: DefaultSort(), Filter: f})
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, records[2].Path, page[0].Path)
	require.Equal(t, []string{"sunset_beach"}, page[0].Tags)
}

func TestPlaceholdersNeedingEnrichment(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Upsert(&ItemRecord{Path: "a.jpg", Facts: MediaFacts{Kind: KindImage}}))
	require.NoError(t, s.Upsert(&ItemRecord{Path: "b.jpg", Width: 100, Height: 100, Facts: MediaFacts{Kind: KindImage}}))
	require.NoError(t, s.Upsert(&ItemRecord{Path: "c.mp4", Facts: MediaFacts{Kind: KindVideo, Video: &VideoFacts{}}}))

	got, err := s.PlaceholdersNeedingEnrichment(10)
	require.NoError(t, err)
	require.Equal(t, []string{"a.jpg", "c.mp4"}, got)

	require.NoError(t, s.SetDimensions("a.jpg", 640, 480, nil))
	got, err = s.PlaceholdersNeedingEnrichment(10)
	require.NoError(t, err)
	require.Equal(t, []string{"c.mp4"}, got)
}

func TestSetDimensionsClampsAspect(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Upsert(&ItemRecord{Path: "tall.png", Facts: MediaFacts{Kind: KindImage}}))
	require.NoError(t, s.SetDimensions("tall.png", 10, 10000, nil))

	page, err := s.Page(context.Background(), PageRequest{Page: 0, PageSize: 1, Sort: DefaultSort()})
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.InDelta(t, MinAspectRatio, page[0].AspectRatio, 1e-9)
}

func TestVideoFactsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	rec := ItemRecord{
		Path:  "clip.mp4",
		Width: 1920, Height: 1080,
		Facts: MediaFacts{Kind: KindVideo, Video: &VideoFacts{FPS: 23.976, Duration: 12.5, FrameCount: 300}},
	}
	require.NoError(t, s.Upsert(&rec))

	page, err := s.Page(context.Background(), PageRequest{Page: 0, PageSize: 1, Sort: DefaultSort()})
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, KindVideo, page[0].Facts.Kind)
	require.NotNil(t, page[0].Facts.Video)
	require.InDelta(t, 23.976, page[0].Facts.Video.FPS, 1e-9)
	require.EqualValues(t, 300, page[0].Facts.Video.FrameCount)
}

func TestCorruptDatabaseIsRebuilt(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, dbFileName)
	require.NoError(t, os.WriteFile(path, []byte("this is not a sqlite file, not even close"), 0o644))

	s, err := Open(dir)
	require.NoError(t, err, "corrupt index must be rebuilt, not surfaced")
	defer func() { _ = s.Close() }()

	n, err := s.Count(nil)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestSchemaVersionMismatchWipes(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	seedItems(t, s, 3)
	require.NoError(t, s.MetaSet("version", "1"))
	require.NoError(t, s.Close())

	s, err = Open(dir)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	n, err := s.Count(nil)
	require.NoError(t, err)
	require.Zero(t, n, "old-version rows must be wiped")
}

func TestScanSignature(t *testing.T) {
	s := newTestStore(t)
	sig, err := s.ScanSignature()
	require.NoError(t, err)
	require.Empty(t, sig)

	require.NoError(t, s.SetScanSignature("abc123"))
	sig, err = s.ScanSignature()
	require.NoError(t, err)
	require.Equal(t, "abc123", sig)
}

func TestRemoveCascadesTags(t *testing.T) {
	s := newTestStore(t)
	records := seedItems(t, s, 2)
	require.NoError(t, s.SetTags(records[0].ID, []string{"doomed"}))
	require.NoError(t, s.Remove(records[0].Path))

	got, err := s.TagsFor([]int64{records[0].ID})
	require.NoError(t, err)
	require.Empty(t, got[records[0].ID])

	n, err := s.Count(nil)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}
