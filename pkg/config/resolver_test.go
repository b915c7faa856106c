package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func baseDefaults() map[string]interface{} {
	return map[string]interface{}{
		"version": "17.0",
		"port":    8069,
		"workers": 2,
	}
}

func TestResolveLayersOverrideOverDefaults(t *testing.T) {
	r := NewResolver()

	settings, err := r.Resolve("uat", baseDefaults(), map[string]interface{}{
		"port":    8070,
		"workers": 4,
	})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if settings.Port != 8070 {
		t.Errorf("expected override port 8070, got %d", settings.Port)
	}
	if settings.Version != "17.0" {
		t.Errorf("expected default version to survive, got %q", settings.Version)
	}
	if settings.Workers != 4 {
		t.Errorf("expected override workers 4, got %d", settings.Workers)
	}
}

func TestResolveComputedDefaults(t *testing.T) {
	r := NewResolver()

	settings, err := r.Resolve("uat", baseDefaults(), nil)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"environment", settings.Environment, "uat"},
		{"prefix", settings.Prefix, "uat_"},
		{"domain", settings.Domain, "uat.example.com"},
		{"user", settings.User, "uat_app"},
		{"home", settings.Home, "/opt/uat_app"},
		{"db_host", settings.DBHost, "localhost"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s: expected %q, got %q", tt.name, tt.want, tt.got)
		}
	}
	if settings.DBPort != 5432 {
		t.Errorf("expected default db_port 5432, got %d", settings.DBPort)
	}
	if !settings.SetupFirewall {
		t.Error("expected setup_firewall to default to true")
	}
}

func TestResolveExplicitValuesWin(t *testing.T) {
	r := NewResolver()

	settings, err := r.Resolve("production", baseDefaults(), map[string]interface{}{
		"prefix": "live_",
		"domain": "erp.example.org",
		"home":   "/srv/live",
	})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if settings.Prefix != "live_" {
		t.Errorf("expected explicit prefix, got %q", settings.Prefix)
	}
	if settings.Domain != "erp.example.org" {
		t.Errorf("expected explicit domain, got %q", settings.Domain)
	}
	if settings.Home != "/srv/live" {
		t.Errorf("expected explicit home, got %q", settings.Home)
	}
	// user derives from the explicit prefix
	if settings.User != "live_app" {
		t.Errorf("expected user live_app, got %q", settings.User)
	}
}

func TestResolveRequiredKeys(t *testing.T) {
	tests := []struct {
		name     string
		defaults map[string]interface{}
	}{
		{"missing version", map[string]interface{}{"port": 8069}},
		{"missing port", map[string]interface{}{"version": "17.0"}},
		{"zero port", map[string]interface{}{"version": "17.0", "port": 0}},
		{"port out of range", map[string]interface{}{"version": "17.0", "port": 70000}},
	}

	r := NewResolver()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Resolve("testing", tt.defaults, nil)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			var cerr *ConfigError
			if !errors.As(err, &cerr) {
				t.Fatalf("expected ConfigError, got %T", err)
			}
			if cerr.Target != "testing" {
				t.Errorf("expected error to name the target, got %q", cerr.Target)
			}
		})
	}
}

func TestResolveDoesNotMutateInputs(t *testing.T) {
	defaults := map[string]interface{}{
		"version": "17.0",
		"port":    8069,
		"nested":  map[string]interface{}{"key": "value"},
	}
	override := map[string]interface{}{"port": 8070}

	r := NewResolver()
	if _, err := r.Resolve("uat", defaults, override); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if _, ok := defaults["environment"]; ok {
		t.Error("defaults mapping gained an injected key")
	}
	if _, ok := defaults["prefix"]; ok {
		t.Error("defaults mapping gained a computed key")
	}
	if defaults["port"] != 8069 {
		t.Errorf("defaults port changed to %v", defaults["port"])
	}
	if len(override) != 1 {
		t.Errorf("override mapping changed: %v", override)
	}
}

func TestResolveExtraPassthrough(t *testing.T) {
	r := NewResolver()

	settings, err := r.Resolve("testing", baseDefaults(), map[string]interface{}{
		"proxy_cache_ttl": 90,
	})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if settings.Extra["proxy_cache_ttl"] != 90 {
		t.Errorf("expected unknown key in Extra, got %v", settings.Extra)
	}
	if _, ok := settings.Extra["version"]; ok {
		t.Error("known key leaked into Extra")
	}
}

func TestResolveTargetFromFiles(t *testing.T) {
	dir := t.TempDir()

	defaultYAML := `version: "17.0"
port: 8069
source_repo: https://example.com/app.git
`
	if err := os.WriteFile(filepath.Join(dir, DefaultFileName), []byte(defaultYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	overrideYAML := `port: 8071
extensions:
  - reporting
`
	if err := os.WriteFile(filepath.Join(dir, "testing.yaml"), []byte(overrideYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	r := NewResolver()
	target, err := r.ResolveTarget(dir, "testing")
	if err != nil {
		t.Fatalf("ResolveTarget failed: %v", err)
	}

	if target.Port() != 8071 {
		t.Errorf("expected override port 8071, got %d", target.Port())
	}
	if target.LongpollPort() != 9071 {
		t.Errorf("expected longpoll port 9071, got %d", target.LongpollPort())
	}
	if target.Settings.SourceRepo != "https://example.com/app.git" {
		t.Errorf("expected default source_repo to survive, got %q", target.Settings.SourceRepo)
	}
	if len(target.Settings.Extensions) != 1 || target.Settings.Extensions[0] != "reporting" {
		t.Errorf("expected extensions from override, got %v", target.Settings.Extensions)
	}
}

func TestResolveTargetMissingOverrideIsFine(t *testing.T) {
	dir := t.TempDir()

	defaultYAML := `version: "17.0"
port: 8069
`
	if err := os.WriteFile(filepath.Join(dir, DefaultFileName), []byte(defaultYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	r := NewResolver()
	target, err := r.ResolveTarget(dir, "training")
	if err != nil {
		t.Fatalf("ResolveTarget failed: %v", err)
	}
	if target.Settings.Prefix != "train_" {
		t.Errorf("expected computed prefix train_, got %q", target.Settings.Prefix)
	}
}

func TestResolveTargetNoConfigAtAll(t *testing.T) {
	r := NewResolver()

	_, err := r.ResolveTarget(t.TempDir(), "production")
	if err == nil {
		t.Fatal("expected error when neither mapping file exists")
	}
	var cerr *ConfigError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected ConfigError, got %T", err)
	}
}

func TestDerivedNamesAreDisjoint(t *testing.T) {
	r := NewResolver()

	seen := map[string]string{}
	for i, name := range DefaultTargetNames {
		settings, err := r.Resolve(name, map[string]interface{}{
			"version": "17.0",
			"port":    8069 + i,
		}, nil)
		if err != nil {
			t.Fatalf("Resolve(%s) failed: %v", name, err)
		}
		target := NewTarget(name, settings)

		for key, value := range map[string]string{
			"user":     target.User(),
			"database": target.DatabaseName(),
			"service":  target.ServiceUnit(),
			"vhost":    target.VhostName(),
			"home":     target.Home(),
		} {
			id := key + ":" + value
			if owner, ok := seen[id]; ok {
				t.Errorf("%s %q collides between %s and %s", key, value, owner, name)
			}
			seen[id] = name
		}
	}
}
