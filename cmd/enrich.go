package cmd

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentic-research/vitrine/internal/enrich"
	"github.com/agentic-research/vitrine/internal/index"
	"github.com/agentic-research/vitrine/internal/scan"
)

func init() {
	rootCmd.AddCommand(enrichCmd)
}

var enrichCmd = &cobra.Command{
	Use:   "enrich [directory]",
	Short: "Measure dimensions for every unmeasured item in the index",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := args[0]
		store, err := index.Open(dir)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }() // safe to ignore

		s := enrich.NewScheduler(store, nil, enrich.Options{
			Root:      dir,
			BatchSize: cfg.EnrichBatchSize,
			Interval:  100 * time.Millisecond,
		})
		defer s.Stop()

		measured := 0
		idle := 0
		for {
			select {
			case batch := <-s.Updates():
				measured += len(batch)
				idle = 0
			case <-time.After(time.Second):
				pending, err := store.PlaceholdersNeedingEnrichment(1)
				if err != nil {
					return err
				}
				if len(pending) == 0 {
					fmt.Printf("measured %d items\n", measured)
					return nil
				}
				// Unreadable files and videos without a prober stay
				// pending forever; stop once no progress is being made.
				idle++
				if idle >= 3 {
					fmt.Printf("measured %d items, some left unmeasured\n", measured)
					return nil
				}
			}
		}
	},
}

func absPath(root, rel string) string {
	return filepath.Join(root, filepath.FromSlash(rel))
}

func factsFor(e scan.Entry) index.MediaFacts {
	if e.IsVideo {
		return index.MediaFacts{Kind: index.KindVideo, Video: &index.VideoFacts{}}
	}
	return index.MediaFacts{Kind: index.KindImage}
}

func fileTypeFor(path string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
}
