// Package config resolves layered YAML configuration into validated,
// per-target settings. A target's settings start from the shared default
// mapping, are overlaid key-by-key with the target's own mapping, and are
// completed with computed defaults (prefix, domain, user, home directory).
// Resolution never mutates its inputs.
package config
