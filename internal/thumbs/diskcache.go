package thumbs

import (
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"sync"
	"time"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
	log "github.com/sirupsen/logrus"
)

// ErrMiss is returned by Get when no cached bitmap exists for a key.
var ErrMiss = errors.New("thumbs: cache miss")

// DiskCache is the content-addressed thumbnail store. Entries are PNG
// files named by fingerprint under two-character shard directories.
// The backing store is a billy filesystem so tests run against memfs.
type DiskCache struct {
	mu      sync.Mutex
	fs      billy.Filesystem
	root    string
	enabled bool
}

// NewDiskCache opens (or creates) the store rooted at dir.
func NewDiskCache(dir string, enabled bool) (*DiskCache, error) {
	if enabled {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create thumbnail cache dir: %w", err)
		}
	}
	return &DiskCache{fs: osfs.New(dir), root: dir, enabled: enabled}, nil
}

// NewDiskCacheFS builds a store over an arbitrary filesystem; used by
// tests with memfs.
func NewDiskCacheFS(fs billy.Filesystem) *DiskCache {
	return &DiskCache{fs: fs, enabled: true}
}

// Get loads the cached bitmap for a key. A corrupted entry is deleted
// and reported as a miss so the producer regenerates it.
func (c *DiskCache) Get(key Key) (image.Image, error) {
	c.mu.Lock()
	fs := c.fs
	enabled := c.enabled
	c.mu.Unlock()
	if !enabled || fs == nil {
		return nil, ErrMiss
	}

	path := fs.Join(key.shard(), key.filename())
	f, err := fs.Open(path)
	if err != nil {
		return nil, ErrMiss
	}
	img, err := png.Decode(f)
	_ = f.Close()
	if err != nil {
		log.WithFields(log.Fields{"key": string(key), "err": err}).Debug("corrupt cached thumbnail, deleting")
		_ = fs.Remove(path)
		return nil, ErrMiss
	}
	return img, nil
}

// Put stores a bitmap under its key. Called only from the single
// persist worker, so writes never contend with each other.
func (c *DiskCache) Put(key Key, img image.Image) error {
	c.mu.Lock()
	fs := c.fs
	enabled := c.enabled
	c.mu.Unlock()
	if !enabled || fs == nil || img == nil {
		return nil
	}

	if err := fs.MkdirAll(key.shard(), 0o755); err != nil {
		return fmt.Errorf("create shard dir: %w", err)
	}
	f, err := fs.Create(fs.Join(key.shard(), key.filename()))
	if err != nil {
		return fmt.Errorf("create cache entry: %w", err)
	}
	if err := png.Encode(f, img); err != nil {
		_ = f.Close()
		return fmt.Errorf("encode thumbnail: %w", err)
	}
	return f.Close()
}

// Has reports whether a key is present without decoding it.
func (c *DiskCache) Has(key Key) bool {
	c.mu.Lock()
	fs := c.fs
	enabled := c.enabled
	c.mu.Unlock()
	if !enabled || fs == nil {
		return false
	}
	_, err := fs.Stat(fs.Join(key.shard(), key.filename()))
	return err == nil
}

// Clear wipes the whole store. The handle is detached before deleting
// so platforms that lock open files do not fail the removal.
func (c *DiskCache) Clear() error {
	c.mu.Lock()
	fs := c.fs
	c.fs = nil
	c.mu.Unlock()
	if fs == nil {
		return nil
	}

	entries, err := fs.ReadDir(".")
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("list cache: %w", err)
	}
	for _, e := range entries {
		if err := util.RemoveAll(fs, e.Name()); err != nil {
			return fmt.Errorf("clear shard %s: %w", e.Name(), err)
		}
	}

	c.mu.Lock()
	c.fs = fs
	c.mu.Unlock()
	return nil
}

// PruneOlderThan deletes entries whose file mtime is older than age.
// Orphaned keys (source file changed) eventually drain through here.
func (c *DiskCache) PruneOlderThan(age time.Duration) (int, error) {
	c.mu.Lock()
	fs := c.fs
	enabled := c.enabled
	c.mu.Unlock()
	if !enabled || fs == nil {
		return 0, nil
	}

	cutoff := time.Now().Add(-age)
	pruned := 0
	shards, err := fs.ReadDir(".")
	if err != nil {
		return 0, fmt.Errorf("list cache: %w", err)
	}
	for _, shard := range shards {
		if !shard.IsDir() {
			continue
		}
		entries, err := fs.ReadDir(shard.Name())
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.ModTime().Before(cutoff) {
				if err := fs.Remove(fs.Join(shard.Name(), e.Name())); err == nil {
					pruned++
				}
			}
		}
	}
	return pruned, nil
}
