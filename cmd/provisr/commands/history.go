package commands

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newHistoryCommand() *cobra.Command {
	var (
		historyDB string
		limit     int
		target    string
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded runs and audit reports",
		Long: `Show the most recent provisioning runs with their per-environment
outcomes, newest first, from the run history database.

With --target, show that environment's recorded audit reports instead.`,
		Example: `  # Show the last ten runs
  provisr history

  # Show more runs from a custom database
  provisr history --limit 50 --history-db /var/lib/provisr/history.db

  # Show production's audit history
  provisr history --target production`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			store, err := setupStore(ctx, historyDB, false)
			if err != nil {
				return err
			}
			defer func() {
				if err := store.Close(); err != nil {
					log.Warn().Err(err).Msg("Failed to close history database")
				}
			}()

			out := cmd.OutOrStdout()

			if target != "" {
				reports, err := store.ListAuditReports(ctx, target, limit)
				if err != nil {
					return err
				}
				if len(reports) == 0 {
					fmt.Fprintf(out, "no audit reports for %s\n", target)
					return nil
				}
				for _, r := range reports {
					status := "PASS"
					if !r.Pass {
						status = "FAIL"
					}
					fmt.Fprintf(out, "%s  %-12s %s  %s\n", r.CreatedAt.Format(time.RFC3339), r.Target, status, r.Checks)
				}
				return nil
			}

			runs, err := store.ListRuns(ctx, limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(out, "no recorded runs")
				return nil
			}

			for _, run := range runs {
				fmt.Fprintf(out, "%s  %s  %-9s %s\n", run.ID, run.StartedAt.Format(time.RFC3339), run.Status, run.Backend)

				results, err := store.GetTargetResults(ctx, run.ID)
				if err != nil {
					return err
				}
				for _, r := range results {
					detail := ""
					if r.FailedStage != nil {
						detail = "  failed in " + *r.FailedStage
					}
					if r.Error != nil {
						detail += ": " + *r.Error
					}
					fmt.Fprintf(out, "  %-12s %-9s %dms%s\n", r.Target, r.Status, r.DurationMS, detail)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&historyDB, "history-db", "", "run history database path (default {log-dir}/provisr.db)")
	cmd.Flags().IntVar(&limit, "limit", 10, "maximum number of runs or reports to show")
	cmd.Flags().StringVar(&target, "target", "", "show audit reports for one environment instead of runs")

	return cmd
}
