package executor

import "fmt"

// CommandError reports a strict command that exited non-zero or could not be
// executed at all. It carries the full result so captured stderr survives.
type CommandError struct {
	// Cmd is the failed command text.
	Cmd string

	// Result is the execution outcome, if the command ran.
	Result Result

	// Err is the underlying error for commands that never produced an
	// exit status (startup failure, timeout).
	Err error
}

// Error implements the error interface.
func (e *CommandError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("command %q: %v", e.Cmd, e.Err)
	}
	if e.Result.Stderr != "" {
		return fmt.Sprintf("command %q exited %d: %s", e.Cmd, e.Result.ExitCode, e.Result.Stderr)
	}
	return fmt.Sprintf("command %q exited %d", e.Cmd, e.Result.ExitCode)
}

// Unwrap returns the underlying error for error chain inspection.
func (e *CommandError) Unwrap() error {
	return e.Err
}

// ConnectionError reports an unreachable remote backend. It is fatal to the
// current target's pipeline but never to other targets.
type ConnectionError struct {
	// Host is the remote address the backend tried to reach.
	Host string

	// Op is the operation that failed (dial, session, write).
	Op string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection to %s failed during %s: %v", e.Host, e.Op, e.Err)
}

// Unwrap returns the underlying error for error chain inspection.
func (e *ConnectionError) Unwrap() error {
	return e.Err
}
