// Package scan discovers media files on disk. It exists only to learn
// which paths exist; all other metadata lives in the index.
package scan

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"
)

var imageExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true,
	".bmp": true, ".webp": true, ".tif": true, ".tiff": true, ".jxl": true,
}

var videoExtensions = map[string]bool{
	".mp4": true, ".avi": true, ".mov": true, ".mkv": true, ".webm": true,
}

// IsImagePath reports whether the path carries a supported image extension.
func IsImagePath(path string) bool {
	return imageExtensions[strings.ToLower(filepath.Ext(path))]
}

// IsVideoPath reports whether the path carries a supported video extension.
func IsVideoPath(path string) bool {
	return videoExtensions[strings.ToLower(filepath.Ext(path))]
}

// IsMediaPath reports whether the path is any supported media file.
func IsMediaPath(path string) bool {
	return IsImagePath(path) || IsVideoPath(path)
}

// Entry is one discovered file, with the cheap facts a stat yields.
type Entry struct {
	RelPath string
	Size    int64
	MTime   int64 // unix nanoseconds
	IsVideo bool
}

// Walk lists every supported media file under root, relative paths
// sorted for a deterministic signature. Unreadable entries are skipped,
// not fatal.
func Walk(root string) ([]Entry, error) {
	var entries []Entry
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			log.WithFields(log.Fields{"path": path, "err": err}).Debug("skipping unreadable entry")
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() || !IsMediaPath(path) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		entries = append(entries, Entry{
			RelPath: filepath.ToSlash(rel),
			Size:    info.Size(),
			MTime:   info.ModTime().UnixNano(),
			IsVideo: IsVideoPath(path),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].RelPath < entries[j].RelPath })
	return entries, nil
}

// Signature fingerprints a scan result. A matching stored signature
// lets a directory reload skip re-indexing entirely; any added,
// removed, renamed, resized or touched file changes it.
func Signature(entries []Entry) string {
	h := md5.New()
	fmt.Fprintf(h, "n=%d\n", len(entries))
	for _, e := range entries {
		fmt.Fprintf(h, "%s|%d|%d\n", e.RelPath, e.Size, e.MTime)
	}
	return hex.EncodeToString(h.Sum(nil))
}
