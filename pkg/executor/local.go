package executor

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/provisr/provisr/pkg/telemetry"
)

// Local executes commands in fresh subprocesses on the current host.
type Local struct {
	logger         *telemetry.Logger
	metrics        *telemetry.Metrics
	commandTimeout time.Duration
}

// LocalOption customizes a Local backend.
type LocalOption func(*Local)

// WithCommandTimeout bounds each command's execution time.
func WithCommandTimeout(d time.Duration) LocalOption {
	return func(l *Local) { l.commandTimeout = d }
}

// WithMetrics records command counts on the given collector.
func WithMetrics(m *telemetry.Metrics) LocalOption {
	return func(l *Local) { l.metrics = m }
}

// NewLocal creates a local execution backend.
func NewLocal(logger *telemetry.Logger, opts ...LocalOption) *Local {
	l := &Local{
		logger:         logger.NewComponentLogger("executor.local"),
		commandTimeout: 10 * time.Minute,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run executes a command via /bin/sh on the current host.
func (l *Local) Run(ctx context.Context, cmd string, opts RunOptions) (Result, error) {
	final := cmd
	if opts.Elevate {
		final = "sudo " + cmd
	}

	if l.commandTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.commandTimeout)
		defer cancel()
	}

	l.logger.Debugf("executing: %s", final)
	start := time.Now()

	proc := exec.CommandContext(ctx, "/bin/sh", "-c", final)
	var stdout, stderr bytes.Buffer
	proc.Stdout = &stdout
	proc.Stderr = &stderr
	// Without a wait delay, a grandchild holding the output pipes keeps
	// Run blocked long past the deadline.
	proc.WaitDelay = 5 * time.Second

	runErr := proc.Run()

	result := Result{
		Cmd:      cmd,
		Stdout:   strings.TrimSpace(stdout.String()),
		Stderr:   strings.TrimSpace(stderr.String()),
		Duration: time.Since(start),
	}

	if runErr != nil {
		// A killed process still surfaces as *exec.ExitError, so the
		// deadline has to be checked first: a timeout is never a normal
		// exit status, lenient or not.
		var exitErr *exec.ExitError
		switch {
		case ctx.Err() != nil:
			l.record("timeout")
			return result, &CommandError{Cmd: cmd, Result: result, Err: ctx.Err()}
		case errors.As(runErr, &exitErr):
			result.ExitCode = exitErr.ExitCode()
		default:
			l.record("error")
			return result, &CommandError{Cmd: cmd, Result: result, Err: runErr}
		}
	}

	l.logger.Debugf("command exited %d in %s", result.ExitCode, result.Duration)

	if !result.Success() && !opts.Lenient {
		l.record("failed")
		return result, &CommandError{Cmd: cmd, Result: result}
	}

	l.record("ok")
	return result, nil
}

// WriteFileAtomic writes data next to the final path and renames it into
// place, so readers observe either the old content or the new, never a
// partial write.
func (l *Local) WriteFileAtomic(_ context.Context, path string, data []byte, mode fs.FileMode) error {
	dir := filepath.Dir(path)

	tmp, err := os.CreateTemp(dir, ".provisr-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Chmod(mode); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}

// Host identifies the backend in logs and scheduling.
func (l *Local) Host() string {
	return "local"
}

// Close is a no-op for the local backend.
func (l *Local) Close() error {
	return nil
}

func (l *Local) record(status string) {
	l.metrics.RecordCommand("local", status)
}
