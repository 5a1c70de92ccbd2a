package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/wikicrawl/internal/index"
)

func newQueryCmd() *cobra.Command {
	var (
		show    bool
		dataDir string
	)
	cmd := &cobra.Command{
		Use:   "query <terms...>",
		Short: "Rank indexed excerpts against a query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			dir, err := index.Current(e.cfg.Index.Dir)
			if err != nil {
				return err
			}
			ix, err := index.Open(dir)
			if err != nil {
				return fmt.Errorf("open index: %w", err)
			}
			results, err := ix.Search(strings.Join(args, " "))
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}
			out := cmd.OutOrStdout()
			if len(results) == 0 {
				_, err = fmt.Fprintln(out, index.ErrNoResults)
				return err
			}
			if n := e.cfg.Index.Results; n > 0 && len(results) > n {
				results = results[:n]
			}
			for _, r := range results {
				if _, err := fmt.Fprintf(out, "%.6f\t%s\n", r.Score, r.File); err != nil {
					return err
				}
			}
			if !show {
				return nil
			}
			if dataDir == "" {
				dataDir = e.cfg.Output.Dir
			}
			// #nosec G304 -- file name comes from the index.
			article, err := os.ReadFile(filepath.Join(dataDir, results[0].File))
			if err != nil {
				if errors.Is(err, os.ErrNotExist) {
					return fmt.Errorf("excerpt %s is no longer in %s", results[0].File, dataDir)
				}
				return fmt.Errorf("read excerpt: %w", err)
			}
			_, err = fmt.Fprintf(out, "\n%s\n", article)
			return err
		},
	}
	cmd.Flags().BoolVar(&show, "show", false, "print the best matching excerpt")
	cmd.Flags().StringVar(&dataDir, "data", "", "excerpt directory; defaults to output.dir")
	return cmd
}
