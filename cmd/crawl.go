package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/wikicrawl/internal/server"
)

// newCrawlCmd creates the 'crawl' subcommand, which runs one crawl to
// exhaustion or until interrupted.
func newCrawlCmd() *cobra.Command {
	var (
		seeds   []string
		workers int
		strict  bool
	)
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawl from the configured seeds and save article excerpts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			cfg := e.cfg
			if len(seeds) > 0 {
				cfg.Crawler.Seeds = seeds
			}
			if workers > 0 {
				cfg.Crawler.FetchWorkers = workers
			}
			if cmd.Flags().Changed("strict") {
				cfg.Crawler.StrictCompletion = strict
			}

			app, err := server.Build(cmd.Context(), cfg, e.logger)
			if err != nil {
				return fmt.Errorf("build crawler: %w", err)
			}
			defer func() {
				if cerr := app.Close(); cerr != nil {
					e.logger.Warn("failed to close application", zap.Error(cerr))
				}
			}()

			summary, err := app.Run(cmd.Context())
			if err != nil {
				if errors.Is(err, context.Canceled) {
					e.logger.Info("crawl interrupted", zap.Int64("visited", summary.Frontier.Taken))
					return nil
				}
				return fmt.Errorf("run crawl: %w", err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "run %s: visited %d, known %d, elapsed %s\n",
				summary.RunID, summary.Frontier.Taken, summary.Frontier.Known, summary.Elapsed)
			return err
		},
	}
	cmd.Flags().StringSliceVar(&seeds, "seed", nil, "seed article (repeatable); overrides crawler.seeds")
	cmd.Flags().IntVar(&workers, "workers", 0, "fetch workers; overrides crawler.fetch_workers")
	cmd.Flags().BoolVar(&strict, "strict", false, "wait for in-flight parser work before finishing")
	return cmd
}
