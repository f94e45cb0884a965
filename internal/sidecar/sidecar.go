// Package sidecar reads and writes the plain-text tag files that live
// next to each media file (photo.jpg -> photo.txt). The sidecar is the
// interchange format with training tools; the index is the source of
// truth while browsing.
package sidecar

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultSeparator joins tags on disk the way captioning tools expect.
const DefaultSeparator = ", "

// PathFor returns the sidecar path for a media file.
func PathFor(mediaPath string) string {
	ext := filepath.Ext(mediaPath)
	return strings.TrimSuffix(mediaPath, ext) + ".txt"
}

// Read loads the tag list for a media file. A missing sidecar is an
// empty list, not an error.
func Read(mediaPath, separator string) ([]string, error) {
	data, err := os.ReadFile(PathFor(mediaPath))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read sidecar for %s: %w", mediaPath, err)
	}
	return Split(string(data), separator), nil
}

// Write persists the tag list for a media file. An empty list removes
// the sidecar so stale captions do not linger.
func Write(mediaPath string, tags []string, separator string) error {
	path := PathFor(mediaPath)
	if len(tags) == 0 {
		err := os.Remove(path)
		if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove sidecar %s: %w", path, err)
		}
		return nil
	}
	if separator == "" {
		separator = DefaultSeparator
	}
	body := strings.Join(tags, separator)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		return fmt.Errorf("write sidecar %s: %w", path, err)
	}
	return nil
}

// Split parses sidecar text into a tag list, trimming whitespace and
// dropping empties.
func Split(text, separator string) []string {
	if separator == "" {
		separator = DefaultSeparator
	}
	sep := strings.TrimSpace(separator)
	if sep == "" {
		sep = ","
	}
	var tags []string
	for _, part := range strings.Split(strings.TrimSpace(text), sep) {
		if tag := strings.TrimSpace(part); tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}
