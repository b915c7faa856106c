package executor

import (
	"context"
	"io/fs"
	"time"
)

// RunOptions controls how a single command is executed. The zero value is a
// strict, unprivileged command.
type RunOptions struct {
	// Elevate prefixes the command with a privilege-escalation wrapper
	// before dispatch to the backend.
	Elevate bool

	// Lenient makes a non-zero exit status a normal, interpretable result
	// instead of an error. Existence checks run lenient: "does this already
	// exist?" is a command whose failure is expected.
	Lenient bool
}

// Result is the outcome of one executed command.
type Result struct {
	// Cmd is the command text as given by the caller, without any
	// elevation prefix.
	Cmd string

	// ExitCode is the command's exit status.
	ExitCode int

	// Stdout is the captured standard output, trimmed.
	Stdout string

	// Stderr is the captured standard error, trimmed.
	Stderr string

	// Duration is the total execution time.
	Duration time.Duration
}

// Success reports whether the command exited with status zero.
func (r Result) Success() bool {
	return r.ExitCode == 0
}

// Runner executes shell commands. Implementations must capture stdout and
// stderr separately and never lose output on non-zero exit.
type Runner interface {
	Run(ctx context.Context, cmd string, opts RunOptions) (Result, error)
}

// Backend is a full execution backend for one host: command execution plus
// atomic file placement. The remote implementation owns its connection
// lifecycle (opened lazily, reused across commands, closed by Close).
type Backend interface {
	Runner

	// WriteFileAtomic writes data to a temporary path on the same
	// filesystem as path and moves it into place with a single rename, so
	// no reader ever observes a partially written file.
	WriteFileAtomic(ctx context.Context, path string, data []byte, mode fs.FileMode) error

	// Host describes the backend's host for log and scheduling purposes.
	Host() string

	// Close releases backend resources.
	Close() error
}
