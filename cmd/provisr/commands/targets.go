package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/provisr/provisr/pkg/config"
)

func newTargetsCommand() *cobra.Command {
	var environments []string

	cmd := &cobra.Command{
		Use:   "targets",
		Short: "Show the resolved settings for each environment",
		Long: `Resolve and print the effective settings for each environment after
layering default.yaml with the per-environment override, including the
derived names (database, service, virtual host) and paths.

Nothing is executed; this is the fastest way to check what install would
do with the current configuration.`,
		Example: `  # Show all four environments
  provisr targets

  # Show one environment against a specific config directory
  provisr targets -c /etc/provisr -e production`,
		RunE: func(cmd *cobra.Command, args []string) error {
			targets, err := resolveTargets(environments)
			if err != nil {
				return err
			}

			for _, t := range targets {
				printTarget(t)
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&environments, "environments", "e", config.DefaultTargetNames, "environments to show")

	return cmd
}

func printTarget(t config.Target) {
	fmt.Printf("%s:\n", t.Name)
	fmt.Printf("  version:      %s\n", t.Settings.Version)
	fmt.Printf("  domain:       %s\n", t.Settings.Domain)
	fmt.Printf("  user:         %s\n", t.User())
	fmt.Printf("  home:         %s\n", t.Home())
	fmt.Printf("  port:         %d (longpoll %d)\n", t.Port(), t.LongpollPort())
	fmt.Printf("  database:     %s (owner %s on %s:%d)\n", t.DatabaseName(), t.DatabaseUser(), t.Settings.DBHost, t.Settings.DBPort)
	fmt.Printf("  service:      %s (%s)\n", t.ServiceUnit(), t.UnitPath())
	fmt.Printf("  config:       %s\n", t.ConfigPath())
	fmt.Printf("  vhost:        %s -> %s\n", t.VhostAvailablePath(), t.VhostEnabledPath())
	fmt.Printf("  firewall:     %v\n", t.Settings.SetupFirewall)
	if t.Settings.RemoteHost != "" {
		fmt.Printf("  remote:       %s@%s:%d\n", t.Settings.RemoteUser, t.Settings.RemoteHost, t.Settings.RemotePort)
	}
	fmt.Println()
}
