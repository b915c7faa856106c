package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// DefaultTargetNames are the targets provisioned when none are selected.
var DefaultTargetNames = []string{"production", "uat", "testing", "training"}

// defaultPrefixes maps well-known target names to their namespace prefix.
var defaultPrefixes = map[string]string{
	"production": "prod_",
	"uat":        "uat_",
	"testing":    "test_",
	"training":   "train_",
}

// DefaultFileName is the shared default mapping file inside the config dir.
const DefaultFileName = "default.yaml"

// Resolver resolves layered settings for targets.
type Resolver struct {
	validate *validator.Validate
}

// NewResolver creates a new settings resolver.
func NewResolver() *Resolver {
	return &Resolver{
		validate: validator.New(),
	}
}

// Resolve layers the override mapping over a deep copy of the default
// mapping, injects the target name and computed defaults, and validates the
// result. Neither input mapping is mutated. A nil override means no
// target-specific mapping exists.
func (r *Resolver) Resolve(name string, defaults, override map[string]interface{}) (Settings, error) {
	merged := deepCopyMap(defaults)
	if merged == nil {
		merged = make(map[string]interface{})
	}
	for k, v := range override {
		merged[k] = deepCopyValue(v)
	}

	merged["environment"] = name
	if _, ok := merged["prefix"]; !ok {
		merged["prefix"] = defaultPrefix(name)
	}
	prefix, _ := merged["prefix"].(string)
	if _, ok := merged["domain"]; !ok {
		merged["domain"] = name + ".example.com"
	}
	if _, ok := merged["home"]; !ok {
		merged["home"] = "/opt/" + prefix + "app"
	}
	if _, ok := merged["user"]; !ok {
		merged["user"] = prefix + "app"
	}
	if _, ok := merged["db_host"]; !ok {
		merged["db_host"] = "localhost"
	}
	if _, ok := merged["db_port"]; !ok {
		merged["db_port"] = 5432
	}
	if _, ok := merged["setup_firewall"]; !ok {
		merged["setup_firewall"] = true
	}

	settings, err := decodeSettings(merged)
	if err != nil {
		return Settings{}, &ConfigError{
			Target: name,
			Reason: "invalid settings mapping",
			Err:    err,
		}
	}

	if err := r.validate.Struct(settings); err != nil {
		return Settings{}, &ConfigError{
			Target: name,
			Reason: describeValidationError(err),
			Err:    err,
		}
	}

	return settings, nil
}

// ResolveTarget loads and resolves a single target from the config directory.
// The directory must contain the default mapping file, a per-target mapping
// file ("{name}.yaml"), or both.
func (r *Resolver) ResolveTarget(dir, name string) (Target, error) {
	defaults, foundDefault, err := loadMapping(filepath.Join(dir, DefaultFileName))
	if err != nil {
		return Target{}, &ConfigError{Target: name, Reason: "reading default mapping", Err: err}
	}

	override, foundOverride, err := loadMapping(filepath.Join(dir, name+".yaml"))
	if err != nil {
		return Target{}, &ConfigError{Target: name, Reason: "reading target mapping", Err: err}
	}

	if !foundDefault && !foundOverride {
		return Target{}, &ConfigError{
			Target: name,
			Reason: fmt.Sprintf("no configuration found in %s (neither %s nor %s.yaml)", dir, DefaultFileName, name),
		}
	}

	settings, err := r.Resolve(name, defaults, override)
	if err != nil {
		return Target{}, err
	}

	return NewTarget(name, settings), nil
}

// ResolveTargets resolves every named target in order. Resolution stops at
// the first failure: a target with broken configuration is fatal before any
// pipeline starts.
func (r *Resolver) ResolveTargets(dir string, names []string) ([]Target, error) {
	targets := make([]Target, 0, len(names))
	for _, name := range names {
		t, err := r.ResolveTarget(dir, name)
		if err != nil {
			return nil, err
		}
		targets = append(targets, t)
	}
	return targets, nil
}

// defaultPrefix returns the namespace prefix for a target name.
func defaultPrefix(name string) string {
	if p, ok := defaultPrefixes[name]; ok {
		return p
	}
	return name + "_"
}

// loadMapping reads a YAML mapping file. A missing file is not an error;
// the second return value reports whether the file existed.
func loadMapping(path string) (map[string]interface{}, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}

	var m map[string]interface{}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, true, fmt.Errorf("parsing %s: %w", path, err)
	}
	if m == nil {
		m = make(map[string]interface{})
	}
	return m, true, nil
}

// knownKeys are the option names decoded into named Settings fields.
// Everything else is passed through in Settings.Extra.
var knownKeys = map[string]struct{}{
	"environment":     {},
	"version":         {},
	"port":            {},
	"prefix":          {},
	"domain":          {},
	"user":            {},
	"home":            {},
	"source_repo":     {},
	"db_host":         {},
	"db_port":         {},
	"db_password":     {},
	"admin_password":  {},
	"workers":         {},
	"extensions":      {},
	"setup_firewall":  {},
	"remote_host":     {},
	"remote_port":     {},
	"remote_user":     {},
	"remote_password": {},
	"remote_key":      {},
}

// decodeSettings converts a merged mapping into Settings via a YAML
// round-trip, then captures unknown keys into Extra.
func decodeSettings(merged map[string]interface{}) (Settings, error) {
	data, err := yaml.Marshal(merged)
	if err != nil {
		return Settings{}, err
	}

	var s Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Settings{}, err
	}

	for k, v := range merged {
		if _, ok := knownKeys[k]; ok {
			continue
		}
		if s.Extra == nil {
			s.Extra = make(map[string]interface{})
		}
		s.Extra[k] = v
	}

	return s, nil
}

// describeValidationError names the first offending option key.
func describeValidationError(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return fmt.Sprintf("required key %q missing or invalid", yamlKeyForField(verrs[0].Field()))
	}
	return "settings validation failed"
}

// yamlKeyForField maps Settings struct field names back to option keys.
func yamlKeyForField(field string) string {
	switch field {
	case "Version":
		return "version"
	case "Port":
		return "port"
	case "Prefix":
		return "prefix"
	default:
		return field
	}
}

// deepCopyMap returns a recursive copy of a YAML-shaped mapping.
func deepCopyMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

// deepCopyValue copies nested maps and slices; scalars are returned as-is.
func deepCopyValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		return deepCopyMap(val)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = deepCopyValue(item)
		}
		return out
	default:
		return v
	}
}
