// Package provision provides the idempotency primitive every provisioning
// step is built on: check whether a resource exists, create it only when it
// does not.
package provision

import (
	"context"

	"github.com/provisr/provisr/pkg/executor"
	"github.com/provisr/provisr/pkg/telemetry"
)

// Guard wraps a runner with the ensure-exists pattern. Re-invoking
// EnsureExists with the same arguments any number of times produces at most
// one creation side effect and never errors on the already-exists path.
type Guard struct {
	runner executor.Runner
	logger *telemetry.Logger
}

// NewGuard creates a guard over the given runner.
func NewGuard(runner executor.Runner, logger *telemetry.Logger) *Guard {
	return &Guard{
		runner: runner,
		logger: logger.NewComponentLogger("guard"),
	}
}

// EnsureOptions controls privilege escalation for the two commands.
type EnsureOptions struct {
	// ElevateCheck runs the existence check elevated.
	ElevateCheck bool

	// ElevateCreate runs the creation command elevated.
	ElevateCreate bool
}

// Elevated elevates both the check and the creation command.
var Elevated = EnsureOptions{ElevateCheck: true, ElevateCreate: true}

// EnsureExists runs the check command leniently; a zero exit status means the
// resource already exists and nothing happens. Otherwise the create command
// runs strictly. The single convention for every resource type is the check
// command's exit status, never sentinel output.
func (g *Guard) EnsureExists(ctx context.Context, check, create string, opts EnsureOptions) (created bool, err error) {
	result, err := g.runner.Run(ctx, check, executor.RunOptions{
		Elevate: opts.ElevateCheck,
		Lenient: true,
	})
	if err != nil {
		// Lenient runs only fail on execution problems (connection loss,
		// timeout), which must abort the stage.
		return false, err
	}

	if result.Success() {
		g.logger.Debugf("already exists, skipping: %s", check)
		return false, nil
	}

	if _, err := g.runner.Run(ctx, create, executor.RunOptions{Elevate: opts.ElevateCreate}); err != nil {
		return false, err
	}

	g.logger.Debugf("created: %s", create)
	return true, nil
}
