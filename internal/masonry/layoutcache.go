package masonry

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ohler55/ojg/oj"
	log "github.com/sirupsen/logrus"
)

const layoutCacheVersion = 1

// layoutSnapshot is the persisted form of one full layout, validated
// on load against the geometry it was computed for.
type layoutSnapshot struct {
	Version     int     `json:"version"`
	ColumnWidth int     `json:"column_width"`
	Spacing     int     `json:"spacing"`
	Columns     int     `json:"columns"`
	Count       int     `json:"count"`
	AspectSum   float64 `json:"aspect_sum"`
	Items       []Item  `json:"items"`
}

// LayoutCache persists computed layouts so reopening a large directory
// skips the initial full layout pass. Entries are advisory; any
// mismatch on load is treated as a miss.
type LayoutCache struct {
	dir     string
	enabled bool
}

// NewLayoutCache creates the cache directory when enabled.
func NewLayoutCache(dir string, enabled bool) (*LayoutCache, error) {
	if enabled {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create layout cache dir: %w", err)
		}
	}
	return &LayoutCache{dir: dir, enabled: enabled}, nil
}

// cacheKey fingerprints the inputs a layout depends on.
func cacheKey(p Params, slots []Slot) string {
	h := md5.New()
	fmt.Fprintf(h, "v=%d cw=%d sp=%d cols=%d n=%d\n", layoutCacheVersion, p.ColumnWidth, p.Spacing, p.Columns, len(slots))
	for _, s := range slots {
		fmt.Fprintf(h, "%d:%.4f\n", s.GlobalIndex, s.Aspect)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func aspectSum(slots []Slot) float64 {
	var sum float64
	for _, s := range slots {
		sum += clampAspect(s.Aspect)
	}
	return sum
}

// Load returns the cached layout for these inputs, or nil on any miss
// or validation failure.
func (c *LayoutCache) Load(p Params, slots []Slot) []Item {
	if c == nil || !c.enabled {
		return nil
	}
	path := filepath.Join(c.dir, cacheKey(p, slots)+".json")
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var snap layoutSnapshot
	if err := oj.Unmarshal(raw, &snap); err != nil {
		log.WithFields(log.Fields{"path": path, "err": err}).Debug("layout cache entry unreadable, dropping")
		_ = os.Remove(path)
		return nil
	}
	if snap.Version != layoutCacheVersion ||
		snap.ColumnWidth != p.ColumnWidth ||
		snap.Spacing != p.Spacing ||
		snap.Columns != p.Columns ||
		snap.Count != len(slots) {
		_ = os.Remove(path)
		return nil
	}
	if diff := snap.AspectSum - aspectSum(slots); diff > 0.01 || diff < -0.01 {
		_ = os.Remove(path)
		return nil
	}
	return snap.Items
}

// Store persists a layout. Failures are logged and ignored; the cache
// is an optimization, never a source of truth.
func (c *LayoutCache) Store(p Params, slots []Slot, items []Item) {
	if c == nil || !c.enabled {
		return
	}
	snap := layoutSnapshot{
		Version:     layoutCacheVersion,
		ColumnWidth: p.ColumnWidth,
		Spacing:     p.Spacing,
		Columns:     p.Columns,
		Count:       len(slots),
		AspectSum:   aspectSum(slots),
		Items:       items,
	}
	raw, err := oj.Marshal(&snap)
	if err != nil {
		log.WithField("err", err).Debug("layout cache encode failed")
		return
	}
	path := filepath.Join(c.dir, cacheKey(p, slots)+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		log.WithFields(log.Fields{"path": path, "err": err}).Debug("layout cache write failed")
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		log.WithFields(log.Fields{"path": path, "err": err}).Debug("layout cache rename failed")
	}
}
