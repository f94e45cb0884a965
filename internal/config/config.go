// Package config carries the tunables for the data-access layer. Every
// component receives its piece of this struct at construction; nothing
// reads ambient global state.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/hcl/v2/hclsimple"
	log "github.com/sirupsen/logrus"
)

// Masonry strategy names accepted in configuration.
const (
	StrategyWindowedStrict = "windowed-strict"
	StrategyFullCompat     = "full-compat"
)

// Config is the resolved, clamped configuration.
type Config struct {
	// Paging.
	PageSize         int
	MaxResidentPages int
	LoadWorkers      int
	DebounceWindow   time.Duration
	SkipMissing      bool

	// Thumbnails.
	CacheEnabled     bool
	CacheDir         string
	ThumbnailWidth   int
	ThumbnailWorkers int
	EvictionPages    int

	// Masonry.
	MasonryStrategy string
	ColumnWidth     int
	Spacing         int

	// Enrichment.
	EnrichBatchSize int
}

// Default returns the compiled-in defaults. The paging constants match
// what the layout and cache were tuned against: 1000-item pages, five
// resident.
func Default() Config {
	cacheDir := ".vitrine-cache"
	if home, err := os.UserHomeDir(); err == nil {
		cacheDir = filepath.Join(home, ".vitrine-cache")
	}
	return Config{
		PageSize:         1000,
		MaxResidentPages: 5,
		LoadWorkers:      2,
		DebounceWindow:   30 * time.Millisecond,
		SkipMissing:      true,

		CacheEnabled:     true,
		CacheDir:         cacheDir,
		ThumbnailWidth:   512,
		ThumbnailWorkers: 4,
		EvictionPages:    2,

		MasonryStrategy: StrategyWindowedStrict,
		ColumnWidth:     200,
		Spacing:         2,

		EnrichBatchSize: 200,
	}
}

// fileConfig is the HCL shape. Pointers distinguish "absent" from
// zero-valued so the file only overrides what it mentions.
type fileConfig struct {
	PageSize         *int    `hcl:"page_size,optional"`
	MaxResidentPages *int    `hcl:"max_resident_pages,optional"`
	LoadWorkers      *int    `hcl:"load_workers,optional"`
	DebounceMs       *int    `hcl:"debounce_ms,optional"`
	SkipMissing      *bool   `hcl:"skip_missing,optional"`
	CacheEnabled     *bool   `hcl:"cache_enabled,optional"`
	CacheDir         *string `hcl:"cache_dir,optional"`
	ThumbnailWidth   *int    `hcl:"thumbnail_width,optional"`
	ThumbnailWorkers *int    `hcl:"thumbnail_workers,optional"`
	EvictionPages    *int    `hcl:"eviction_pages,optional"`
	MasonryStrategy  *string `hcl:"masonry_strategy,optional"`
	ColumnWidth      *int    `hcl:"column_width,optional"`
	Spacing          *int    `hcl:"spacing,optional"`
	EnrichBatchSize  *int    `hcl:"enrich_batch_size,optional"`
}

// Load reads an optional HCL file over the defaults and clamps the
// result. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg.Clamp(), nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg.Clamp(), nil
	}

	var fc fileConfig
	if err := hclsimple.DecodeFile(path, nil, &fc); err != nil {
		return cfg, fmt.Errorf("decode config %s: %w", path, err)
	}

	overlayInt(&cfg.PageSize, fc.PageSize)
	overlayInt(&cfg.MaxResidentPages, fc.MaxResidentPages)
	overlayInt(&cfg.LoadWorkers, fc.LoadWorkers)
	if fc.DebounceMs != nil {
		cfg.DebounceWindow = time.Duration(*fc.DebounceMs) * time.Millisecond
	}
	if fc.SkipMissing != nil {
		cfg.SkipMissing = *fc.SkipMissing
	}
	if fc.CacheEnabled != nil {
		cfg.CacheEnabled = *fc.CacheEnabled
	}
	if fc.CacheDir != nil {
		cfg.CacheDir = *fc.CacheDir
	}
	overlayInt(&cfg.ThumbnailWidth, fc.ThumbnailWidth)
	overlayInt(&cfg.ThumbnailWorkers, fc.ThumbnailWorkers)
	overlayInt(&cfg.EvictionPages, fc.EvictionPages)
	if fc.MasonryStrategy != nil {
		cfg.MasonryStrategy = *fc.MasonryStrategy
	}
	overlayInt(&cfg.ColumnWidth, fc.ColumnWidth)
	overlayInt(&cfg.Spacing, fc.Spacing)
	overlayInt(&cfg.EnrichBatchSize, fc.EnrichBatchSize)

	return cfg.Clamp(), nil
}

func overlayInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

// Clamp forces out-of-range values into safe bounds. Bad configuration
// degrades, it never rejects.
func (c Config) Clamp() Config {
	c.PageSize = clampInt(c.PageSize, 50, 10000)
	c.MaxResidentPages = clampInt(c.MaxResidentPages, 2, 64)
	c.LoadWorkers = clampInt(c.LoadWorkers, 1, 8)
	if c.DebounceWindow < 5*time.Millisecond || c.DebounceWindow > time.Second {
		c.DebounceWindow = 30 * time.Millisecond
	}
	c.ThumbnailWidth = clampInt(c.ThumbnailWidth, 32, 2048)
	c.ThumbnailWorkers = clampInt(c.ThumbnailWorkers, 1, 16)
	// Eviction pages larger than the resident budget would pin bitmaps
	// for pages that can no longer exist.
	c.EvictionPages = clampInt(c.EvictionPages, 1, c.MaxResidentPages)
	if c.MasonryStrategy != StrategyWindowedStrict && c.MasonryStrategy != StrategyFullCompat {
		log.WithField("strategy", c.MasonryStrategy).Warn("unknown masonry strategy, using windowed-strict")
		c.MasonryStrategy = StrategyWindowedStrict
	}
	c.ColumnWidth = clampInt(c.ColumnWidth, 16, 2048)
	c.Spacing = clampInt(c.Spacing, 0, 64)
	c.EnrichBatchSize = clampInt(c.EnrichBatchSize, 1, 5000)
	return c
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
