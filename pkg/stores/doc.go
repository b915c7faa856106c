// Package stores provides the run-history persistence layer: an SQLite store
// with WAL mode and embedded schema migrations, recording provisioning runs,
// per-target results, and verification reports.
package stores
