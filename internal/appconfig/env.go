// Package appconfig loads the small set of environment-variable-driven
// settings the cmd/ entrypoints need. Structured configuration loading
// (schema validation, file-based config) is an external collaborator out
// of scope for this module (spec.md §1); this package only covers the
// handful of broker/runtime knobs spec.md §6 names.
package appconfig

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// ConfigError wraps a missing or malformed environment variable. cmd/
// entrypoints exit with code 2 (spec.md §6) when this is returned.
type ConfigError struct {
	Var string
	Err error
}

func (e *ConfigError) Error() string {
	return errors.Wrapf(e.Err, "invalid configuration for %s", e.Var).Error()
}
func (e *ConfigError) Unwrap() error { return e.Err }

func getEnv(name, def string) string {
	if v, ok := os.LookupEnv(name); ok && v != "" {
		return v
	}
	return def
}

// StringList reads a comma-separated environment variable.
func StringList(name string, def []string) []string {
	raw, ok := os.LookupEnv(name)
	if !ok || raw == "" {
		return def
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// String reads a plain environment variable with a default.
func String(name, def string) string { return getEnv(name, def) }

// Int reads an integer environment variable with a default, returning a
// *ConfigError if set but unparseable.
func Int(name string, def int) (int, error) {
	raw, ok := os.LookupEnv(name)
	if !ok || raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &ConfigError{Var: name, Err: err}
	}
	return v, nil
}

// DurationMillis reads a millisecond-valued integer environment variable with a
// default, returning a *ConfigError if set but unparseable.
func DurationMillis(name string, def time.Duration) (time.Duration, error) {
	raw, ok := os.LookupEnv(name)
	if !ok || raw == "" {
		return def, nil
	}
	ms, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &ConfigError{Var: name, Err: err}
	}
	return time.Duration(ms) * time.Millisecond, nil
}

// Bool reads a boolean environment variable with a default.
func Bool(name string, def bool) (bool, error) {
	raw, ok := os.LookupEnv(name)
	if !ok || raw == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, &ConfigError{Var: name, Err: err}
	}
	return v, nil
}
