package telemetry

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level sets the minimum log level (trace, debug, info, warn, error, fatal).
	Level string

	// Format specifies the log format (console, json).
	Format string

	// Output specifies where logs are written (stdout, stderr, file path).
	Output string

	// EnableCaller adds file:line caller information to logs.
	EnableCaller bool

	// TimeFormat specifies the timestamp format (unix, unixms, unixmicro, rfc3339).
	TimeFormat string
}

// DefaultLoggingConfig returns the logging configuration used when the CLI
// does not override anything: human-readable console output at info level.
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Level:      "info",
		Format:     "console",
		Output:     "stderr",
		TimeFormat: "rfc3339",
	}
}

// MetricsConfig configures Prometheus metrics collection.
type MetricsConfig struct {
	// Enabled controls whether metrics are collected at all.
	// When false every recording method is a no-op.
	Enabled bool

	// Namespace is prefixed to every metric name.
	Namespace string

	// ListenAddress is the optional address for the /metrics endpoint.
	// Empty means metrics are collected but not served.
	ListenAddress string
}
