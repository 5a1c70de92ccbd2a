package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/wikicrawl/internal/index"
)

func newIndexCmd() *cobra.Command {
	var dataDir string
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Build an inverted index over saved excerpts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			if dataDir == "" {
				dataDir = e.cfg.Output.Dir
			}
			dir, err := index.Build(cmd.Context(), dataDir, e.cfg.Index.Dir, e.logger.Named("index"))
			if err != nil {
				return fmt.Errorf("build index: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), dir)
			return err
		},
	}
	cmd.Flags().StringVar(&dataDir, "data", "", "excerpt directory; defaults to output.dir")
	return cmd
}
