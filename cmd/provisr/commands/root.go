package commands

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/provisr/provisr/pkg/config"
	"github.com/provisr/provisr/pkg/executor"
	"github.com/provisr/provisr/pkg/telemetry"
	"github.com/provisr/provisr/pkg/transports/ssh"
)

var (
	// Global flags
	configDir string
	logDir    string
	debug     bool
	remote    bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "provisr",
		Short: "Provisr - Multi-Target Environment Provisioning Orchestrator",
		Long: `Provisr provisions and verifies isolated application environments
(production, uat, testing, training) on local or remote hosts.

Each environment gets its own system user, PostgreSQL database, rendered
application config, systemd service, and nginx virtual host, derived from
layered YAML configuration. Every stage is idempotent: re-running against
an already provisioned host changes nothing.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configDir, "config-dir", "c", "./config", "directory holding default.yaml and per-environment overrides")
	rootCmd.PersistentFlags().StringVar(&logDir, "log-dir", "./logs", "directory for log files and run history")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&remote, "remote", false, "execute over SSH using each environment's remote_* settings")

	// Add subcommands
	rootCmd.AddCommand(newInstallCommand())
	rootCmd.AddCommand(newVerifyCommand())
	rootCmd.AddCommand(newTargetsCommand())
	rootCmd.AddCommand(newHistoryCommand())

	return rootCmd
}

// newLogger builds the file logger shared by all commands. Console output
// stays on the global zerolog logger; the JSON file under logDir is the
// durable record.
func newLogger() (*telemetry.Logger, error) {
	cfg := telemetry.DefaultLoggingConfig()
	cfg.Format = "json"
	cfg.Output = filepath.Join(logDir, "provisr.log")
	if debug {
		cfg.Level = "debug"
	}
	return telemetry.NewLogger(cfg)
}

// resolveTargets loads and layers configuration for the named environments.
func resolveTargets(names []string) ([]config.Target, error) {
	resolver := config.NewResolver()
	targets, err := resolver.ResolveTargets(configDir, names)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve targets: %w", err)
	}
	return targets, nil
}

// newBackend builds the execution backend for one target: a subprocess
// runner on the orchestrator host, or a lazy SSH connection when --remote
// is set.
func newBackend(t config.Target, logger *telemetry.Logger, metrics *telemetry.Metrics) (executor.Backend, error) {
	if remote {
		return ssh.NewRunner(ssh.ConfigForTarget(t), logger, ssh.WithMetrics(metrics))
	}
	return executor.NewLocal(logger, executor.WithMetrics(metrics)), nil
}
