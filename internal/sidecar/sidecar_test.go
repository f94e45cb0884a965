package sidecar

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPathFor(t *testing.T) {
	require.Equal(t, "dir/photo.txt", PathFor("dir/photo.jpg"))
	require.Equal(t, "clip.txt", PathFor("clip.mp4"))
}

func TestRoundTrip(t *testing.T) {
	dir := t.TempDir()
	media := filepath.Join(dir, "photo.jpg")
	require.NoError(t, os.WriteFile(media, []byte("img"), 0o644))

	tags := []string{"sunset", "beach", "golden hour"}
	require.NoError(t, Write(media, tags, DefaultSeparator))

	got, err := Read(media, DefaultSeparator)
	require.NoError(t, err)
	require.Equal(t, tags, got)
}

func TestReadMissingSidecarIsEmpty(t *testing.T) {
	got, err := Read(filepath.Join(t.TempDir(), "ghost.png"), DefaultSeparator)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestWriteEmptyRemovesSidecar(t *testing.T) {
	dir := t.TempDir()
	media := filepath.Join(dir, "photo.jpg")
	require.NoError(t, Write(media, []string{"x"}, DefaultSeparator))
	require.FileExists(t, PathFor(media))

	require.NoError(t, Write(media, nil, DefaultSeparator))
	require.NoFileExists(t, PathFor(media))

	// Removing twice stays quiet.
	require.NoError(t, Write(media, nil, DefaultSeparator))
}

func TestSplitTrimsAndDropsEmpties(t *testing.T) {
	got := Split("  a,  b ,, c  ", ", ")
	require.Equal(t, []string{"a", "b", "c"}, got)
	require.Empty(t, Split("   ", ", "))
}
