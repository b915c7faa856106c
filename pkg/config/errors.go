package config

import "fmt"

// ConfigError reports missing or invalid settings for one target.
// It is fatal to that target before its pipeline starts.
type ConfigError struct {
	// Target is the target name the error applies to.
	Target string

	// Reason is the human-readable cause.
	Reason string

	// Err is the underlying error, if any.
	Err error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("config for target %q: %s: %v", e.Target, e.Reason, e.Err)
	}
	return fmt.Sprintf("config for target %q: %s", e.Target, e.Reason)
}

// Unwrap returns the underlying error for error chain inspection.
func (e *ConfigError) Unwrap() error {
	return e.Err
}
