package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/provisr/provisr/pkg/config"
	"github.com/provisr/provisr/pkg/stores"
	"github.com/provisr/provisr/pkg/verify"
)

func newVerifyCommand() *cobra.Command {
	var (
		environments []string
		historyDB    string
		noHistory    bool
	)

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Audit the selected environments",
		Long: `Audit every selected environment with read-only probes: service active,
port bound, system user present, database present, config file present,
and virtual host enabled.

Probes never modify the host. Every check runs for every environment even
when earlier checks fail, so one pass gives the full picture.`,
		Example: `  # Audit all four environments locally
  provisr verify

  # Audit one environment on its configured remote host
  provisr verify --remote -e production`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			logger, err := newLogger()
			if err != nil {
				return fmt.Errorf("failed to set up logging: %w", err)
			}

			targets, err := resolveTargets(environments)
			if err != nil {
				return err
			}

			store, err := setupStore(ctx, historyDB, noHistory)
			if err != nil {
				return err
			}
			if store != nil {
				defer func() {
					if err := store.Close(); err != nil {
						log.Warn().Err(err).Msg("Failed to close history database")
					}
				}()
			}

			auditor := verify.NewAuditor(logger)

			var failed []string
			for _, t := range targets {
				backend, err := newBackend(t, logger, nil)
				if err != nil {
					fmt.Printf("\n%s: FAILED to connect: %v\n", t.Name, err)
					failed = append(failed, t.Name)
					continue
				}

				report := auditor.Audit(ctx, backend, t)
				if err := backend.Close(); err != nil {
					log.Warn().Err(err).Str("target", t.Name).Msg("Failed to close backend")
				}

				printReport(report)
				if !report.Pass() {
					failed = append(failed, t.Name)
				}
				if store != nil {
					persistReport(ctx, store, report)
				}
			}

			if len(failed) > 0 {
				return fmt.Errorf("verification failed for: %s", strings.Join(failed, ", "))
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&environments, "environments", "e", config.DefaultTargetNames, "environments to audit")
	cmd.Flags().StringVar(&historyDB, "history-db", "", "run history database path (default {log-dir}/provisr.db)")
	cmd.Flags().BoolVar(&noHistory, "no-history", false, "disable audit report persistence")

	return cmd
}

// printReport writes one environment's check table.
func printReport(report verify.Report) {
	status := "PASS"
	if !report.Pass() {
		status = "FAIL"
	}
	fmt.Printf("\n%s: %s\n", report.Target, status)
	for _, name := range verify.CheckNames {
		mark := "ok"
		if !report.Checks[name] {
			mark = "MISSING"
		}
		fmt.Printf("  %-16s %s\n", name, mark)
	}
}

// persistReport records one audit outcome. Persistence failures are logged,
// never fatal.
func persistReport(ctx context.Context, store stores.Store, report verify.Report) {
	checks, err := json.Marshal(report.Checks)
	if err != nil {
		log.Warn().Err(err).Str("target", report.Target).Msg("Failed to encode audit checks")
		return
	}
	record := &stores.AuditReport{
		ID:        uuid.NewString(),
		Target:    report.Target,
		Pass:      report.Pass(),
		Checks:    string(checks),
		CreatedAt: time.Now(),
	}
	if err := store.SaveAuditReport(ctx, record); err != nil {
		log.Warn().Err(err).Str("target", report.Target).Msg("Failed to record audit report")
	}
}
