package ssh

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/provisr/provisr/pkg/executor"
	"github.com/provisr/provisr/pkg/telemetry"
)

// 203.0.113.0/24 is reserved for documentation and never routes.
func unreachableConfig() *Config {
	cfg := DefaultConfig("203.0.113.1", "deploy")
	cfg.AuthMethod = AuthMethodPassword
	cfg.Password = "secret"
	cfg.StrictHostKeyChecking = false
	cfg.KnownHostsPath = ""
	cfg.ConnectionTimeout = time.Second
	return cfg
}

func TestRunnerDialCancelled(t *testing.T) {
	runner, err := NewRunner(unreachableConfig(), telemetry.Nop())
	if err != nil {
		t.Fatalf("NewRunner failed: %v", err)
	}
	defer runner.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = runner.Run(ctx, "true", executor.RunOptions{})
	if err == nil {
		t.Fatal("expected error for cancelled dial")
	}
	var connErr *executor.ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("expected ConnectionError, got %T", err)
	}
	if connErr.Op != "dial" {
		t.Errorf("expected dial failure, got op %q", connErr.Op)
	}

	// A cancelled dial must not leave a connection behind.
	runner.mu.Lock()
	connected := runner.client != nil
	runner.mu.Unlock()
	if connected {
		t.Error("runner kept a client after a cancelled dial")
	}
}

func TestRunnerCloseWithoutConnection(t *testing.T) {
	runner, err := NewRunner(unreachableConfig(), telemetry.Nop())
	if err != nil {
		t.Fatalf("NewRunner failed: %v", err)
	}

	if err := runner.Close(); err != nil {
		t.Errorf("Close on unconnected runner failed: %v", err)
	}
}
