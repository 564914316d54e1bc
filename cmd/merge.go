package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/stream-embed-audit/internal/merge"
)

// newMergeCmd creates the 'merge' subcommand.
func newMergeCmd() *cobra.Command {
	var folder, output string
	cmd := &cobra.Command{
		Use:   "merge",
		Short: "Concatenates result files into one report",
		Long: `Merges every .csv file of a folder, in directory-listing order, into a
single file. The first line of the first file is kept as the header and the
first line of every file is dropped. The output must not exist yet.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := merge.Merge(folder, output, time.Now().UTC())
			if err != nil {
				return fmt.Errorf("merge %s: %w", folder, err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
	cmd.Flags().StringVar(&folder, "folder", "", "folder holding the result files")
	cmd.Flags().StringVar(&output, "output", "", "merged file (default <folder>/merged-<timestamp>.csv)")
	_ = cmd.MarkFlagRequired("folder")
	return cmd
}
