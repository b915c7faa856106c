package stores

import (
	"context"
	"time"
)

// RunStatus represents the status of a provisioning run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Run represents one orchestrator invocation.
type Run struct {
	ID          string     `json:"id"`
	Backend     string     `json:"backend"` // local or remote
	Status      RunStatus  `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       *string    `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// TargetResult records the outcome of one target's pipeline within a run.
type TargetResult struct {
	ID          string    `json:"id"`
	RunID       string    `json:"run_id"`
	Target      string    `json:"target"`
	Host        string    `json:"host"`
	Status      RunStatus `json:"status"`
	FailedStage *string   `json:"failed_stage,omitempty"`
	Error       *string   `json:"error,omitempty"`
	DurationMS  int64     `json:"duration_ms"`
	CreatedAt   time.Time `json:"created_at"`
}

// AuditReport records the outcome of one verification audit.
type AuditReport struct {
	ID        string    `json:"id"`
	Target    string    `json:"target"`
	Pass      bool      `json:"pass"`
	Checks    string    `json:"checks"` // JSON object of check name -> bool
	CreatedAt time.Time `json:"created_at"`
}

// Store is the persistence interface for run history.
type Store interface {
	// Init initializes the database connection.
	Init(ctx context.Context) error

	// Migrate applies pending schema migrations.
	Migrate(ctx context.Context) error

	// Close closes the database connection.
	Close() error

	// CreateRun inserts a new run record.
	CreateRun(ctx context.Context, run *Run) error

	// CompleteRun finalizes a run with its outcome.
	CompleteRun(ctx context.Context, id string, status RunStatus, errMsg *string) error

	// GetRun retrieves a run by ID.
	GetRun(ctx context.Context, id string) (*Run, error)

	// ListRuns returns the most recent runs, newest first.
	ListRuns(ctx context.Context, limit int) ([]*Run, error)

	// SaveTargetResult inserts one target outcome.
	SaveTargetResult(ctx context.Context, result *TargetResult) error

	// GetTargetResults returns every target outcome of a run, in insert order.
	GetTargetResults(ctx context.Context, runID string) ([]*TargetResult, error)

	// SaveAuditReport inserts one verification report.
	SaveAuditReport(ctx context.Context, report *AuditReport) error

	// ListAuditReports returns the most recent reports for a target, newest first.
	ListAuditReports(ctx context.Context, target string, limit int) ([]*AuditReport, error)
}
