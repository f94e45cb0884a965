package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentic-research/vitrine/internal/index"
	"github.com/agentic-research/vitrine/internal/sidecar"
)

func init() {
	tagsCmd.AddCommand(tagsExportCmd)
	tagsCmd.AddCommand(tagsImportCmd)
	rootCmd.AddCommand(tagsCmd)
}

var tagsCmd = &cobra.Command{
	Use:   "tags",
	Short: "Exchange tags between the index and sidecar files",
}

var tagsExportCmd = &cobra.Command{
	Use:   "export [directory]",
	Short: "Write every indexed tag list to its sidecar file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := args[0]
		store, err := index.Open(dir)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }() // safe to ignore

		written := 0
		err = forEachRecord(store, func(rec *index.ItemRecord) error {
			if len(rec.Tags) == 0 {
				return nil
			}
			if err := sidecar.Write(absPath(dir, rec.Path), rec.Tags, sidecar.DefaultSeparator); err != nil {
				return err
			}
			written++
			return nil
		})
		if err != nil {
			return err
		}
		fmt.Printf("wrote %d sidecars\n", written)
		return nil
	},
}

var tagsImportCmd = &cobra.Command{
	Use:   "import [directory]",
	Short: "Load sidecar tag lists into the index",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := args[0]
		store, err := index.Open(dir)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }() // safe to ignore

		imported := 0
		err = forEachRecord(store, func(rec *index.ItemRecord) error {
			tags, err := sidecar.Read(absPath(dir, rec.Path), sidecar.DefaultSeparator)
			if err != nil || len(tags) == 0 {
				return nil
			}
			if err := store.SetTags(rec.ID, tags); err != nil {
				return err
			}
			imported++
			return nil
		})
		if err != nil {
			return err
		}
		fmt.Printf("imported %d sidecars\n", imported)
		return nil
	},
}

// forEachRecord pages through the whole index in path order.
func forEachRecord(store *index.Store, fn func(*index.ItemRecord) error) error {
	sort := index.Sort{Field: index.SortName, Direction: index.Ascending}
	const pageSize = 1000
	for page := 0; ; page++ {
		records, err := store.Page(context.Background(), index.PageRequest{
			Page: page, PageSize: pageSize, Sort: sort,
		})
		if err != nil {
			return err
		}
		if len(records) == 0 {
			return nil
		}
		for i := range records {
			if err := fn(&records[i]); err != nil {
				return err
			}
		}
		if len(records) < pageSize {
			return nil
		}
	}
}
