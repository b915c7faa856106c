// Package executor defines the polymorphic shell-command execution contract
// shared by the local and remote backends, together with the local
// implementation. Every command blocks until the backend returns and its
// captured output is never discarded: callers decide whether a non-zero exit
// status is fatal (strict) or informational (lenient).
//
// The local backend runs commands in a fresh subprocess on the current host.
// Writing artifacts into system paths assumes the orchestrator itself runs
// with sufficient privileges, matching elevated command execution.
package executor
