package commands

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/provisr/provisr/pkg/config"
	"github.com/provisr/provisr/pkg/executor"
	"github.com/provisr/provisr/pkg/pipeline"
	"github.com/provisr/provisr/pkg/stores"
	"github.com/provisr/provisr/pkg/telemetry"
)

func newInstallCommand() *cobra.Command {
	var (
		environments []string
		packages     []string
		historyDB    string
		noHistory    bool
		metricsAddr  string
	)

	cmd := &cobra.Command{
		Use:   "install",
		Short: "Provision the selected environments",
		Long: `Provision every selected environment through the full stage sequence:
system user and directories, PostgreSQL role and database, application
checkout, rendered config, extension directories, systemd unit, nginx
virtual host, firewall rules, and service startup.

Host-wide package installation runs once per distinct host. A failing
environment is recorded and skipped past; the remaining environments are
still attempted. Re-running is safe: every stage checks before it creates.`,
		Example: `  # Provision all four environments locally
  provisr install

  # Provision two environments on their configured remote hosts
  provisr install --remote -e production -e uat

  # Keep run history in a custom database and expose metrics
  provisr install --history-db /var/lib/provisr/history.db --metrics-addr :9090`,
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

			metrics, err := setupMetrics(metricsAddr)
			if err != nil {
				return err
			}
			if metrics != nil {
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = metrics.Shutdown(shutdownCtx)
				}()
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

			backend := "local"
			if remote {
				backend = "ssh"
			}

			runID := uuid.NewString()
			now := time.Now()
			if store != nil {
				run := &stores.Run{
					ID:        runID,
					Backend:   backend,
					Status:    stores.RunStatusRunning,
					StartedAt: now,
					CreatedAt: now,
					UpdatedAt: now,
				}
				if err := store.CreateRun(ctx, run); err != nil {
					log.Warn().Err(err).Msg("Failed to record run start")
				}
			}

			log.Info().
				Str("run_id", runID).
				Strs("environments", environments).
				Str("backend", backend).
				Msg("Starting provisioning run")

			factory := func(t config.Target) (executor.Backend, error) {
				return newBackend(t, logger, metrics)
			}
			opts := []pipeline.Option{pipeline.WithMetrics(metrics)}
			if len(packages) > 0 {
				opts = append(opts, pipeline.WithPackages(packages))
			}

			p := pipeline.New(factory, logger.WithRunID(runID), opts...)
			summary := p.Run(ctx, targets)

			printSummary(summary)

			if store != nil {
				persistRun(ctx, store, runID, summary)
			}

			if !summary.AllSucceeded() {
				return fmt.Errorf("provisioning failed for: %s", strings.Join(summary.FailedTargets(), ", "))
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&environments, "environments", "e", config.DefaultTargetNames, "environments to provision")
	cmd.Flags().StringSliceVar(&packages, "packages", nil, "override the host package set installed before provisioning")
	cmd.Flags().StringVar(&historyDB, "history-db", "", "run history database path (default {log-dir}/provisr.db)")
	cmd.Flags().BoolVar(&noHistory, "no-history", false, "disable run history persistence")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "listen address for the Prometheus /metrics endpoint")

	return cmd
}

// setupMetrics builds and starts the metrics endpoint when an address was
// requested. A nil return means metrics are disabled.
func setupMetrics(addr string) (*telemetry.Metrics, error) {
	if addr == "" {
		return nil, nil
	}
	metrics, err := telemetry.NewMetrics(telemetry.MetricsConfig{
		Enabled:       true,
		Namespace:     "provisr",
		ListenAddress: addr,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to set up metrics: %w", err)
	}
	if err := metrics.StartServer(); err != nil {
		return nil, fmt.Errorf("failed to start metrics endpoint: %w", err)
	}
	return metrics, nil
}

// setupStore opens and migrates the run history database. A nil return
// means history is disabled.
func setupStore(ctx context.Context, path string, disabled bool) (stores.Store, error) {
	if disabled {
		return nil, nil
	}
	if path == "" {
		path = filepath.Join(logDir, "provisr.db")
	}
	store, err := stores.NewSQLiteStore(stores.Config{Path: path})
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize history database: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to migrate history database: %w", err)
	}
	return store, nil
}

// persistRun records the per-target outcomes and finalizes the run.
// Persistence failures are logged, never fatal: the provisioning outcome
// already happened.
func persistRun(ctx context.Context, store stores.Store, runID string, summary pipeline.Summary) {
	for _, r := range summary.Results {
		result := &stores.TargetResult{
			ID:         uuid.NewString(),
			RunID:      runID,
			Target:     r.Target,
			Host:       r.Host,
			Status:     stores.RunStatusCompleted,
			DurationMS: r.Duration.Milliseconds(),
			CreatedAt:  time.Now(),
		}
		if r.Failed() {
			result.Status = stores.RunStatusFailed
			msg := r.Err.Error()
			result.Error = &msg
			if stage := failedStage(r); stage != "" {
				result.FailedStage = &stage
			}
		}
		if err := store.SaveTargetResult(ctx, result); err != nil {
			log.Warn().Err(err).Str("target", r.Target).Msg("Failed to record target result")
		}
	}

	status := stores.RunStatusCompleted
	var errMsg *string
	if !summary.AllSucceeded() {
		status = stores.RunStatusFailed
		msg := fmt.Sprintf("failed targets: %s", strings.Join(summary.FailedTargets(), ", "))
		errMsg = &msg
	}
	if err := store.CompleteRun(ctx, runID, status, errMsg); err != nil {
		log.Warn().Err(err).Msg("Failed to record run completion")
	}
}

// failedStage returns the name of the stage a target failed in, if any.
func failedStage(r pipeline.TargetResult) string {
	for _, s := range r.Stages {
		if s.Err != nil {
			return s.Stage
		}
	}
	return ""
}

// printSummary writes the human-readable per-target outcome table. It is
// printed unconditionally, including under partial failure.
func printSummary(summary pipeline.Summary) {
	fmt.Printf("\nProvisioning summary (%s):\n", summary.Finished.Sub(summary.Started).Round(time.Millisecond))
	for _, r := range summary.Results {
		if r.Failed() {
			fmt.Printf("  %-12s FAILED  %v\n", r.Target, r.Err)
			continue
		}
		fmt.Printf("  %-12s ok      %d stages in %s\n", r.Target, len(r.Stages), r.Duration.Round(time.Millisecond))
	}
}
