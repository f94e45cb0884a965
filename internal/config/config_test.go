package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultsAreInBounds(t *testing.T) {
	cfg := Default()
	require.Equal(t, cfg, cfg.Clamp(), "defaults must survive clamping unchanged")
}

func TestClampEvictionPagesToBudget(t *testing.T) {
	cfg := Default()
	cfg.MaxResidentPages = 3
	cfg.EvictionPages = 50
	cfg = cfg.Clamp()
	require.Equal(t, 3, cfg.EvictionPages)

	cfg.EvictionPages = 0
	cfg = cfg.Clamp()
	require.Equal(t, 1, cfg.EvictionPages)
}

func TestClampUnknownStrategy(t *testing.T) {
	cfg := Default()
	cfg.MasonryStrategy = "diagonal"
	require.Equal(t, StrategyWindowedStrict, cfg.Clamp().MasonryStrategy)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.hcl"))
	require.NoError(t, err)
	require.Equal(t, Default().Clamp(), cfg)
}

func TestLoadOverlaysOnlyMentionedKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vitrine.hcl")
	body := `
page_size     = 500
debounce_ms   = 50
cache_enabled = false
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 500, cfg.PageSize)
	require.Equal(t, 50*time.Millisecond, cfg.DebounceWindow)
	require.False(t, cfg.CacheEnabled)
	// Untouched key keeps its default.
	require.Equal(t, Default().MaxResidentPages, cfg.MaxResidentPages)
}

func TestLoadClampsFileValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vitrine.hcl")
	body := `
page_size      = 5
eviction_pages = 999
debounce_ms    = 100000
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 50, cfg.PageSize)
	require.LessOrEqual(t, cfg.EvictionPages, cfg.MaxResidentPages)
	require.Equal(t, 30*time.Millisecond, cfg.DebounceWindow)
}
