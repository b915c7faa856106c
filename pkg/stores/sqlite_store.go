package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// Config holds SQLite store configuration.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	return &SQLiteStore{
		path: cfg.Path,
	}, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	// Foreign keys are a connection-level setting.
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// CreateRun inserts a new run record.
func (s *SQLiteStore) CreateRun(ctx context.Context, run *Run) error {
	query := `
		INSERT INTO runs (id, backend, status, started_at, completed_at, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		run.ID,
		run.Backend,
		run.Status,
		run.StartedAt,
		run.CompletedAt,
		run.Error,
		run.CreatedAt,
		run.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// CompleteRun finalizes a run with its outcome.
func (s *SQLiteStore) CompleteRun(ctx context.Context, id string, status RunStatus, errMsg *string) error {
	query := `
		UPDATE runs
		SET status = ?, error = ?, completed_at = ?, updated_at = ?
		WHERE id = ?
	`

	now := time.Now()
	res, err := s.db.ExecContext(ctx, query, status, errMsg, now, now, id)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check completed run: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("run not found: %s", id)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	query := `
		SELECT id, backend, status, started_at, completed_at, error, created_at, updated_at
		FROM runs
		WHERE id = ?
	`

	run := &Run{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&run.ID,
		&run.Backend,
		&run.Status,
		&run.StartedAt,
		&run.CompletedAt,
		&run.Error,
		&run.CreatedAt,
		&run.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns returns the most recent runs, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	query := `
		SELECT id, backend, status, started_at, completed_at, error, created_at, updated_at
		FROM runs
		ORDER BY started_at DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run := &Run{}
		if err := rows.Scan(
			&run.ID,
			&run.Backend,
			&run.Status,
			&run.StartedAt,
			&run.CompletedAt,
			&run.Error,
			&run.CreatedAt,
			&run.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// SaveTargetResult inserts one target outcome.
func (s *SQLiteStore) SaveTargetResult(ctx context.Context, result *TargetResult) error {
	query := `
		INSERT INTO target_results (id, run_id, target, host, status, failed_stage, error, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		result.ID,
		result.RunID,
		result.Target,
		result.Host,
		result.Status,
		result.FailedStage,
		result.Error,
		result.DurationMS,
		result.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save target result: %w", err)
	}
	return nil
}

// GetTargetResults returns every target outcome of a run, in insert order.
func (s *SQLiteStore) GetTargetResults(ctx context.Context, runID string) ([]*TargetResult, error) {
	query := `
		SELECT id, run_id, target, host, status, failed_stage, error, duration_ms, created_at
		FROM target_results
		WHERE run_id = ?
		ORDER BY created_at ASC
	`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get target results: %w", err)
	}
	defer rows.Close()

	var results []*TargetResult
	for rows.Next() {
		r := &TargetResult{}
		if err := rows.Scan(
			&r.ID,
			&r.RunID,
			&r.Target,
			&r.Host,
			&r.Status,
			&r.FailedStage,
			&r.Error,
			&r.DurationMS,
			&r.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan target result: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// SaveAuditReport inserts one verification report.
func (s *SQLiteStore) SaveAuditReport(ctx context.Context, report *AuditReport) error {
	query := `
		INSERT INTO audit_reports (id, target, pass, checks, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		report.ID,
		report.Target,
		report.Pass,
		report.Checks,
		report.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save audit report: %w", err)
	}
	return nil
}

// ListAuditReports returns the most recent reports for a target, newest first.
func (s *SQLiteStore) ListAuditReports(ctx context.Context, target string, limit int) ([]*AuditReport, error) {
	query := `
		SELECT id, target, pass, checks, created_at
		FROM audit_reports
		WHERE target = ?
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, target, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit reports: %w", err)
	}
	defer rows.Close()

	var reports []*AuditReport
	for rows.Next() {
		r := &AuditReport{}
		if err := rows.Scan(
			&r.ID,
			&r.Target,
			&r.Pass,
			&r.Checks,
			&r.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit report: %w", err)
		}
		reports = append(reports, r)
	}
	return reports, rows.Err()
}
