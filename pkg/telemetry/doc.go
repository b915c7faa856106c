// Package telemetry provides structured logging and metrics for the
// provisioning orchestrator. Loggers are explicit handles passed into
// components at construction; there is no process-wide logger registry.
package telemetry
