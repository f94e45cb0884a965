package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentic-research/vitrine/internal/index"
)

func init() {
	rootCmd.AddCommand(statsCmd)
}

var statsCmd = &cobra.Command{
	Use:   "stats [directory]",
	Short: "Print index statistics for a directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := index.Open(args[0])
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }() // safe to ignore

		total, err := store.Count(nil)
		if err != nil {
			return err
		}
		images, err := store.Count(&index.KindFilter{Kind: index.KindImage})
		if err != nil {
			return err
		}
		videos, err := store.Count(&index.KindFilter{Kind: index.KindVideo})
		if err != nil {
			return err
		}
		untagged, err := store.Count(index.Untagged{})
		if err != nil {
			return err
		}
		unmeasured, err := store.PlaceholdersNeedingEnrichment(total + 1)
		if err != nil {
			return err
		}
		sig, err := store.ScanSignature()
		if err != nil {
			return err
		}

		fmt.Printf("items:      %d\n", total)
		fmt.Printf("images:     %d\n", images)
		fmt.Printf("videos:     %d\n", videos)
		fmt.Printf("untagged:   %d\n", untagged)
		fmt.Printf("unmeasured: %d\n", len(unmeasured))
		fmt.Printf("signature:  %s\n", sig)
		return nil
	},
}
