package cmd

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentic-research/vitrine/internal/thumbs"
)

var pruneAge time.Duration

func init() {
	cachePruneCmd.Flags().DurationVar(&pruneAge, "age", 30*24*time.Hour, "Drop thumbnails older than this")
	cacheCmd.AddCommand(cacheClearCmd)
	cacheCmd.AddCommand(cachePruneCmd)
	rootCmd.AddCommand(cacheCmd)
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the thumbnail disk cache",
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every cached thumbnail",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cache, err := thumbs.NewDiskCache(filepath.Join(cfg.CacheDir, "thumbs"), true)
		if err != nil {
			return err
		}
		if err := cache.Clear(); err != nil {
			return err
		}
		fmt.Println("thumbnail cache cleared")
		return nil
	},
}

var cachePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove cached thumbnails not touched recently",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cache, err := thumbs.NewDiskCache(filepath.Join(cfg.CacheDir, "thumbs"), true)
		if err != nil {
			return err
		}
		pruned, err := cache.PruneOlderThan(pruneAge)
		if err != nil {
			return err
		}
		fmt.Printf("pruned %d thumbnails\n", pruned)
		return nil
	},
}
