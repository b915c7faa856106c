package executor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/provisr/provisr/pkg/telemetry"
)

func TestLocalRunCapturesOutput(t *testing.T) {
	local := NewLocal(telemetry.Nop())

	result, err := local.Run(context.Background(), "echo out; echo err >&2", RunOptions{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Stdout != "out" {
		t.Errorf("expected stdout %q, got %q", "out", result.Stdout)
	}
	if result.Stderr != "err" {
		t.Errorf("expected stderr %q, got %q", "err", result.Stderr)
	}
	if !result.Success() {
		t.Errorf("expected success, got exit code %d", result.ExitCode)
	}
}

func TestLocalRunStrictFailure(t *testing.T) {
	local := NewLocal(telemetry.Nop())

	result, err := local.Run(context.Background(), "echo oops >&2; exit 3", RunOptions{})
	if err == nil {
		t.Fatal("expected error for strict non-zero exit")
	}

	var cerr *CommandError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected CommandError, got %T", err)
	}
	if cerr.Result.ExitCode != 3 {
		t.Errorf("expected exit code 3, got %d", cerr.Result.ExitCode)
	}
	if cerr.Result.Stderr != "oops" {
		t.Errorf("expected captured stderr to survive, got %q", cerr.Result.Stderr)
	}
	if result.ExitCode != 3 {
		t.Errorf("expected result exit code 3, got %d", result.ExitCode)
	}
}

func TestLocalRunLenientFailure(t *testing.T) {
	local := NewLocal(telemetry.Nop())

	result, err := local.Run(context.Background(), "exit 3", RunOptions{Lenient: true})
	if err != nil {
		t.Fatalf("lenient run returned error: %v", err)
	}
	if result.Success() {
		t.Error("expected Success() to be false")
	}
	if result.ExitCode != 3 {
		t.Errorf("expected exit code 3, got %d", result.ExitCode)
	}
}

func TestLocalRunTimeout(t *testing.T) {
	local := NewLocal(telemetry.Nop(), WithCommandTimeout(50*time.Millisecond))

	_, err := local.Run(context.Background(), "sleep 5", RunOptions{})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	var cerr *CommandError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected CommandError, got %T", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline to be the cause, got %v", cerr.Err)
	}
}

func TestLocalRunLenientTimeoutIsError(t *testing.T) {
	local := NewLocal(telemetry.Nop(), WithCommandTimeout(100*time.Millisecond))

	start := time.Now()
	result, err := local.Run(context.Background(), "sleep 30", RunOptions{Lenient: true})
	elapsed := time.Since(start)

	// A timed-out command never produced an answer; lenient mode must not
	// convert it into a normal "non-zero exit" result, or existence checks
	// would read it as "absent" and re-create resources.
	if err == nil {
		t.Fatalf("expected timeout error, got result %+v", result)
	}
	var cerr *CommandError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected CommandError, got %T", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline to be the cause, got %v", cerr.Err)
	}
	if elapsed > 10*time.Second {
		t.Errorf("Run blocked %s past its 100ms deadline", elapsed)
	}
}

func TestLocalWriteFileAtomic(t *testing.T) {
	local := NewLocal(telemetry.Nop())

	path := filepath.Join(t.TempDir(), "app.conf")
	if err := local.WriteFileAtomic(context.Background(), path, []byte("[options]\n"), 0o640); err != nil {
		t.Fatalf("WriteFileAtomic failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading written file: %v", err)
	}
	if string(data) != "[options]\n" {
		t.Errorf("unexpected content %q", data)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o640 {
		t.Errorf("expected mode 640, got %o", info.Mode().Perm())
	}

	// No temp file may survive.
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("expected only the final file, got %d entries", len(entries))
	}
}

func TestLocalWriteFileAtomicOverwrites(t *testing.T) {
	local := NewLocal(telemetry.Nop())

	path := filepath.Join(t.TempDir(), "app.conf")
	if err := os.WriteFile(path, []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := local.WriteFileAtomic(context.Background(), path, []byte("new"), 0o644); err != nil {
		t.Fatalf("WriteFileAtomic failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "new" {
		t.Errorf("expected replacement content, got %q", data)
	}
}

func TestLocalHost(t *testing.T) {
	local := NewLocal(telemetry.Nop())
	if local.Host() != "local" {
		t.Errorf("expected host local, got %q", local.Host())
	}
}
