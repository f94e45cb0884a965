package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentic-research/vitrine/internal/index"
	"github.com/agentic-research/vitrine/internal/scan"
	"github.com/agentic-research/vitrine/internal/sidecar"
)

var indexForce bool

func init() {
	indexCmd.Flags().BoolVarP(&indexForce, "force", "f", false, "Reindex even when the directory is unchanged")
	rootCmd.AddCommand(indexCmd)
}

var indexCmd = &cobra.Command{
	Use:   "index [directory]",
	Short: "Scan a directory and build or refresh its metadata index",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := args[0]
		start := time.Now()

		entries, err := scan.Walk(dir)
		if err != nil {
			return err
		}
		sig := scan.Signature(entries)

		store, err := index.Open(dir)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }() // safe to ignore

		stored, err := store.ScanSignature()
		if err != nil {
			return err
		}
		if !indexForce && sig == stored {
			fmt.Printf("%d files, index up to date\n", len(entries))
			return nil
		}

		records := make([]index.ItemRecord, len(entries))
		for i, e := range entries {
			records[i] = index.ItemRecord{
				Path:     e.RelPath,
				Facts:    factsFor(e),
				Size:     e.Size,
				FileType: fileTypeFor(e.RelPath),
				CTime:    time.Unix(0, e.MTime),
				MTime:    time.Unix(0, e.MTime),
			}
		}
		if err := store.UpsertBatch(records); err != nil {
			return err
		}

		imported := 0
		for i := range records {
			tags, err := sidecar.Read(absPath(dir, records[i].Path), sidecar.DefaultSeparator)
			if err != nil || len(tags) == 0 {
				continue
			}
			if err := store.SetTags(records[i].ID, tags); err != nil {
				return err
			}
			imported++
		}
		if err := store.SetScanSignature(sig); err != nil {
			return err
		}

		fmt.Printf("indexed %d files (%d sidecars) in %s\n", len(records), imported, time.Since(start).Round(time.Millisecond))
		return nil
	},
}
