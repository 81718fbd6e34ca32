package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newCrawlCmd() *cobra.Command {
	var (
		kinds []string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Runs one harvest and prints its report",
		Long: `Pages through the title search for the given kinds until limit titles
have been dispatched, stores every enriched record and prints the job report
as JSON.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			cfg := e.cfg
			if cmd.Flags().Changed("kind") {
				cfg.Crawl.Kinds = kinds
			}
			if cmd.Flags().Changed("limit") {
				cfg.Crawl.Limit = limit
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			job, runErr := e.services.RunOnce(cmd.Context(), cfg.Crawl.Kinds, cfg.Crawl.Limit)
			if job.ID != "" {
				out, err := json.MarshalIndent(job, "", "  ")
				if err != nil {
					return fmt.Errorf("encode report: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(out))
			}
			if runErr != nil {
				return fmt.Errorf("crawl: %w", runErr)
			}
			e.logger.Info("crawl command finished", zap.String("job_id", job.ID))
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&kinds, "kind", nil, "title kind to harvest (repeatable, e.g. movie,tvSeries)")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of titles to harvest")
	return cmd
}
