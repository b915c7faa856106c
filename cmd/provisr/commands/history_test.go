package commands

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/provisr/provisr/pkg/stores"
)

func seedHistory(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "history.db")
	store, err := stores.NewSQLiteStore(stores.Config{Path: path})
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}

	now := time.Now()
	run := &stores.Run{
		ID:        uuid.NewString(),
		Backend:   "local",
		Status:    stores.RunStatusRunning,
		StartedAt: now,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	stage := "configure-database"
	msg := "simulated failure"
	results := []*stores.TargetResult{
		{
			ID:         uuid.NewString(),
			RunID:      run.ID,
			Target:     "production",
			Host:       "local",
			Status:     stores.RunStatusCompleted,
			DurationMS: 1200,
			CreatedAt:  now,
		},
		{
			ID:          uuid.NewString(),
			RunID:       run.ID,
			Target:      "uat",
			Host:        "local",
			Status:      stores.RunStatusFailed,
			FailedStage: &stage,
			Error:       &msg,
			DurationMS:  300,
			CreatedAt:   now.Add(time.Second),
		},
	}
	for _, r := range results {
		if err := store.SaveTargetResult(ctx, r); err != nil {
			t.Fatalf("SaveTargetResult failed: %v", err)
		}
	}
	if err := store.CompleteRun(ctx, run.ID, stores.RunStatusFailed, &msg); err != nil {
		t.Fatalf("CompleteRun failed: %v", err)
	}

	report := &stores.AuditReport{
		ID:        uuid.NewString(),
		Target:    "production",
		Pass:      true,
		Checks:    `{"service-active":true}`,
		CreatedAt: now,
	}
	if err := store.SaveAuditReport(ctx, report); err != nil {
		t.Fatalf("SaveAuditReport failed: %v", err)
	}

	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	return path
}

func runCommand(t *testing.T, args ...string) string {
	t.Helper()

	root := newRootCommand("test", "none", "none")
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(args)

	if err := root.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("command failed: %v", err)
	}
	return buf.String()
}

func TestHistoryCommandListsRuns(t *testing.T) {
	db := seedHistory(t)

	out := runCommand(t, "history", "--history-db", db)

	for _, want := range []string{
		"failed",
		"production",
		"uat",
		"configure-database",
		"simulated failure",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("history output missing %q:\n%s", want, out)
		}
	}
}

func TestHistoryCommandTargetAudits(t *testing.T) {
	db := seedHistory(t)

	out := runCommand(t, "history", "--history-db", db, "--target", "production")
	if !strings.Contains(out, "PASS") || !strings.Contains(out, "service-active") {
		t.Errorf("audit history output missing report:\n%s", out)
	}

	out = runCommand(t, "history", "--history-db", db, "--target", "training")
	if !strings.Contains(out, "no audit reports") {
		t.Errorf("expected empty-report message, got:\n%s", out)
	}
}

func TestHistoryCommandEmptyDatabase(t *testing.T) {
	db := filepath.Join(t.TempDir(), "history.db")

	out := runCommand(t, "history", "--history-db", db)
	if !strings.Contains(out, "no recorded runs") {
		t.Errorf("expected empty-history message, got:\n%s", out)
	}
}
