package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/provisr/provisr/pkg/executor"
	"github.com/provisr/provisr/pkg/telemetry"
)

// Runner is the remote execution backend. It implements executor.Backend
// over a single SSH connection, opened lazily on the first command.
type Runner struct {
	config  *Config
	logger  *telemetry.Logger
	metrics *telemetry.Metrics

	mu     sync.Mutex
	client *ssh.Client
	files  *sftp.Client
}

// RunnerOption customizes a Runner.
type RunnerOption func(*Runner)

// WithMetrics records command counts on the given collector.
func WithMetrics(m *telemetry.Metrics) RunnerOption {
	return func(r *Runner) { r.metrics = m }
}

// NewRunner creates a remote backend for the configured host. No connection
// is opened until the first command runs.
func NewRunner(cfg *Config, logger *telemetry.Logger, opts ...RunnerOption) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid ssh config: %w", err)
	}

	r := &Runner{
		config: cfg,
		logger: logger.NewComponentLogger("executor.ssh").WithField("host", cfg.Address()),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// ensureConnected dials the host on first use and reuses the connection for
// every later command. Dial failures map to executor.ConnectionError.
func (r *Runner) ensureConnected(ctx context.Context) (*ssh.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.client != nil {
		return r.client, nil
	}

	clientConfig, err := r.config.BuildSSHClientConfig()
	if err != nil {
		return nil, &executor.ConnectionError{Host: r.config.Address(), Op: "auth", Err: err}
	}

	address := r.config.Address()
	r.logger.Debugf("establishing SSH connection to %s", address)

	connChan := make(chan *ssh.Client, 1)
	errChan := make(chan error, 1)

	go func() {
		client, err := ssh.Dial("tcp", address, clientConfig)
		if err != nil {
			errChan <- err
			return
		}
		connChan <- client
	}()

	select {
	case <-ctx.Done():
		// The dial is still in flight; if it eventually succeeds nobody
		// will use the client, so drain and close it. ClientConfig.Timeout
		// bounds how long the drain goroutine lives.
		go func() {
			select {
			case client := <-connChan:
				_ = client.Close()
			case <-errChan:
			}
		}()
		return nil, &executor.ConnectionError{Host: address, Op: "dial", Err: ctx.Err()}
	case err := <-errChan:
		return nil, &executor.ConnectionError{Host: address, Op: "dial", Err: err}
	case client := <-connChan:
		r.client = client
		r.logger.Info("SSH connection established")
		return client, nil
	}
}

// Run executes a command in a new session over the shared connection.
func (r *Runner) Run(ctx context.Context, cmd string, opts executor.RunOptions) (executor.Result, error) {
	client, err := r.ensureConnected(ctx)
	if err != nil {
		r.record("connection")
		return executor.Result{Cmd: cmd}, err
	}

	session, err := client.NewSession()
	if err != nil {
		r.record("connection")
		return executor.Result{Cmd: cmd}, &executor.ConnectionError{
			Host: r.config.Address(),
			Op:   "session",
			Err:  err,
		}
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	final := cmd
	if opts.Elevate {
		if r.config.SudoPassword != "" {
			final = fmt.Sprintf("echo '%s' | sudo -S %s", r.config.SudoPassword, cmd)
		} else {
			final = "sudo " + cmd
		}
	}

	if r.config.CommandTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.config.CommandTimeout)
		defer cancel()
	}

	r.logger.Debugf("executing: %s", cmd)
	start := time.Now()

	doneChan := make(chan error, 1)
	go func() {
		doneChan <- session.Run(final)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGTERM)
		time.Sleep(100 * time.Millisecond)
		_ = session.Signal(ssh.SIGKILL)
		runErr = ctx.Err()
	case runErr = <-doneChan:
	}

	result := executor.Result{
		Cmd:      cmd,
		Stdout:   strings.TrimSpace(stdout.String()),
		Stderr:   strings.TrimSpace(stderr.String()),
		Duration: time.Since(start),
	}

	if runErr != nil {
		var exitErr *ssh.ExitError
		switch {
		case errors.As(runErr, &exitErr):
			result.ExitCode = exitErr.ExitStatus()
		case ctx.Err() != nil:
			r.record("timeout")
			return result, &executor.CommandError{Cmd: cmd, Result: result, Err: ctx.Err()}
		default:
			// The session died without an exit status.
			r.record("connection")
			return result, &executor.ConnectionError{
				Host: r.config.Address(),
				Op:   "execute",
				Err:  runErr,
			}
		}
	}

	r.logger.Debugf("command exited %d in %s", result.ExitCode, result.Duration)

	if !result.Success() && !opts.Lenient {
		r.record("failed")
		return result, &executor.CommandError{Cmd: cmd, Result: result}
	}

	r.record("ok")
	return result, nil
}

// WriteFileAtomic uploads data over SFTP to a temporary name beside the final
// path, then moves it into place with a single POSIX rename.
func (r *Runner) WriteFileAtomic(ctx context.Context, filePath string, data []byte, mode fs.FileMode) error {
	files, err := r.ensureFiles(ctx)
	if err != nil {
		return err
	}

	tmpPath := path.Join(path.Dir(filePath), ".provisr-"+uuid.NewString()[:8])

	f, err := files.Create(tmpPath)
	if err != nil {
		return &executor.ConnectionError{Host: r.config.Address(), Op: "write", Err: err}
	}

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = files.Remove(tmpPath)
		return &executor.ConnectionError{Host: r.config.Address(), Op: "write", Err: err}
	}
	if err := f.Chmod(mode); err != nil {
		_ = f.Close()
		_ = files.Remove(tmpPath)
		return &executor.ConnectionError{Host: r.config.Address(), Op: "write", Err: err}
	}
	if err := f.Close(); err != nil {
		_ = files.Remove(tmpPath)
		return &executor.ConnectionError{Host: r.config.Address(), Op: "write", Err: err}
	}

	if err := files.PosixRename(tmpPath, filePath); err != nil {
		_ = files.Remove(tmpPath)
		return &executor.ConnectionError{Host: r.config.Address(), Op: "rename", Err: err}
	}
	return nil
}

// ensureFiles lazily opens one SFTP subsystem over the shared connection.
func (r *Runner) ensureFiles(ctx context.Context) (*sftp.Client, error) {
	client, err := r.ensureConnected(ctx)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.files != nil {
		return r.files, nil
	}

	files, err := sftp.NewClient(client)
	if err != nil {
		return nil, &executor.ConnectionError{Host: r.config.Address(), Op: "sftp", Err: err}
	}
	r.files = files
	return files, nil
}

// Host describes the backend for log and scheduling purposes.
func (r *Runner) Host() string {
	return fmt.Sprintf("%s@%s", r.config.User, r.config.Address())
}

// Close shuts down the SFTP subsystem and the SSH connection.
func (r *Runner) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.files != nil {
		_ = r.files.Close()
		r.files = nil
	}
	if r.client != nil {
		err := r.client.Close()
		r.client = nil
		return err
	}
	return nil
}

func (r *Runner) record(status string) {
	r.metrics.RecordCommand("ssh", status)
}
