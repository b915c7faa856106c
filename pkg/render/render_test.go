package render

import (
	"context"
	"fmt"
	"io/fs"
	"strings"
	"testing"

	"github.com/provisr/provisr/pkg/config"
	"github.com/provisr/provisr/pkg/executor"
)

func testTarget(t *testing.T) config.Target {
	t.Helper()
	return config.NewTarget("testing", config.Settings{
		Environment:   "testing",
		Version:       "17.0",
		Port:          8071,
		Prefix:        "test_",
		Domain:        "testing.example.com",
		User:          "test_app",
		Home:          "/opt/test_app",
		DBHost:        "localhost",
		DBPort:        5432,
		DBPassword:    "secret",
		AdminPassword: "admin-secret",
		Workers:       3,
	})
}

func TestRenderAppConfig(t *testing.T) {
	target := testTarget(t)

	text, err := Render(KindAppConfig, AppConfigVarsFor(target))
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	for _, want := range []string{
		"[options]",
		"admin_passwd = admin-secret",
		"db_host = localhost",
		"db_port = 5432",
		"db_user = test_app",
		"db_password = secret",
		"dbfilter = test_app",
		"http_port = 8071",
		"longpolling_port = 9071",
		"workers = 3",
		"logfile = /var/log/test_app/server.log",
		"proxy_mode = True",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("app config missing %q:\n%s", want, text)
		}
	}

	if !strings.Contains(text, "addons_path = /opt/test_app/app/addons,/opt/test_app/addons") {
		t.Errorf("app config has wrong addons_path:\n%s", text)
	}
}

func TestRenderServiceUnit(t *testing.T) {
	target := testTarget(t)

	text, err := Render(KindServiceUnit, ServiceUnitVarsFor(target))
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	for _, want := range []string{
		"Requires=postgresql.service",
		"User=test_app",
		"Group=test_app",
		"ExecStart=/opt/test_app/bin/app --config /etc/test_app/app.conf",
		"Restart=always",
		"RestartSec=5",
		"WantedBy=multi-user.target",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("service unit missing %q:\n%s", want, text)
		}
	}
}

func TestRenderVhost(t *testing.T) {
	target := testTarget(t)

	text, err := Render(KindVhost, VhostVarsFor(target))
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	for _, want := range []string{
		"upstream test_app {",
		"server 127.0.0.1:8071;",
		"upstream test_app-longpoll {",
		"server 127.0.0.1:9071;",
		"server_name testing.example.com;",
		"listen 80;",
		"location /longpolling {",
		"location ~* /web/static/ {",
		"gzip on;",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("vhost missing %q:\n%s", want, text)
		}
	}
}

func TestRenderUnknownKind(t *testing.T) {
	if _, err := Render(Kind("bogus"), nil); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

// recordingBackend records the operations WriteArtifact performs, in order.
type recordingBackend struct {
	ops []string
}

func (b *recordingBackend) Run(_ context.Context, cmd string, opts executor.RunOptions) (executor.Result, error) {
	op := cmd
	if opts.Elevate {
		op = "elevated: " + cmd
	}
	b.ops = append(b.ops, op)
	return executor.Result{Cmd: cmd}, nil
}

func (b *recordingBackend) WriteFileAtomic(_ context.Context, path string, data []byte, mode fs.FileMode) error {
	b.ops = append(b.ops, fmt.Sprintf("write %s %d bytes mode %o", path, len(data), mode.Perm()))
	return nil
}

func (b *recordingBackend) Host() string { return "fake" }
func (b *recordingBackend) Close() error { return nil }

func TestWriteArtifactOrder(t *testing.T) {
	backend := &recordingBackend{}

	err := WriteArtifact(context.Background(), backend, "/etc/test_app/app.conf", "[options]\n", "test_app", 0o640)
	if err != nil {
		t.Fatalf("WriteArtifact failed: %v", err)
	}

	want := []string{
		"write /etc/test_app/app.conf 10 bytes mode 640",
		"elevated: chown test_app:test_app /etc/test_app/app.conf",
		"elevated: chmod 640 /etc/test_app/app.conf",
	}
	if len(backend.ops) != len(want) {
		t.Fatalf("expected %d operations, got %v", len(want), backend.ops)
	}
	for i, op := range want {
		if backend.ops[i] != op {
			t.Errorf("operation %d: expected %q, got %q", i, op, backend.ops[i])
		}
	}
}

func TestWriteArtifactNoOwner(t *testing.T) {
	backend := &recordingBackend{}

	err := WriteArtifact(context.Background(), backend, "/etc/nginx/sites-available/x", "server {}\n", "", 0o644)
	if err != nil {
		t.Fatalf("WriteArtifact failed: %v", err)
	}

	for _, op := range backend.ops {
		if strings.Contains(op, "chown") {
			t.Errorf("unexpected chown without owner: %q", op)
		}
	}
}
