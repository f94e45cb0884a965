package scan

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, root, rel string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
}

func TestWalkFiltersByExtension(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.jpg")
	writeFile(t, root, "sub/b.mp4")
	writeFile(t, root, "sub/notes.txt")
	writeFile(t, root, "c.JPEG") // case-insensitive

	entries, err := Walk(root)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	var rels []string
	for _, e := range entries {
		rels = append(rels, e.RelPath)
	}
	require.Equal(t, []string{"a.jpg", "c.JPEG", "sub/b.mp4"}, rels)
	require.True(t, entries[2].IsVideo)
	require.False(t, entries[0].IsVideo)
}

func TestSignatureChangesOnContentChange(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.jpg")
	writeFile(t, root, "b.png")

	entries, err := Walk(root)
	require.NoError(t, err)
	sig1 := Signature(entries)

	again, err := Walk(root)
	require.NoError(t, err)
	require.Equal(t, sig1, Signature(again), "unchanged tree must keep its signature")

	// Touch one file's mtime.
	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(root, "a.jpg"), future, future))
	touched, err := Walk(root)
	require.NoError(t, err)
	require.NotEqual(t, sig1, Signature(touched))

	// Add a file.
	writeFile(t, root, "c.webm")
	grown, err := Walk(root)
	require.NoError(t, err)
	require.NotEqual(t, Signature(touched), Signature(grown))
}

func TestMediaPathPredicates(t *testing.T) {
	require.True(t, IsImagePath("x/y.WEBP"))
	require.True(t, IsVideoPath("clip.mkv"))
	require.False(t, IsMediaPath("readme.md"))
	require.False(t, IsImagePath("clip.mkv"))
}

func TestWatcherSeesAddAndRemove(t *testing.T) {
	root := t.TempDir()
	w, err := NewWatcher(root)
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	writeFile(t, root, "new.jpg")
	select {
	case c := <-w.Changes():
		require.Equal(t, Added, c.Kind)
		require.Equal(t, "new.jpg", c.RelPath)
	case <-time.After(2 * time.Second):
		t.Fatal("no add event")
	}

	require.NoError(t, os.Remove(filepath.Join(root, "new.jpg")))
	deadline := time.After(2 * time.Second)
	for {
		select {
		case c := <-w.Changes():
			// Editors may emit intermediate writes; wait for the removal.
			if c.Kind == Removed && c.RelPath == "new.jpg" {
				return
			}
		case <-deadline:
			t.Fatal("no remove event")
		}
	}
}
