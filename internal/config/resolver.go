// Package config resolves per-instance module configuration and loads the
// startup placement file. A Resolved value is built once per instance from the
// definition's declared defaults plus the user's overrides and is immutable
// from then on.
package config

import (
	"context"
	"time"

	"github.com/quantum28/MagicMirror/internal/ctxlog"
)

// Resolved is an instance's merged configuration. The backing map is private
// and copied on the way in and out, so callers cannot mutate a started
// instance's options.
type Resolved struct {
	values map[string]any
}

// Resolve merges user overrides over a module's declared defaults. Nested
// map values merge recursively; any other override replaces the default
// wholesale. Override keys absent from the defaults are kept but warned
// about, since they usually indicate a typo in the user's config.
func Resolve(ctx context.Context, moduleName string, defaults, overrides map[string]any) Resolved {
	logger := ctxlog.FromContext(ctx)
	merged := deepMerge(defaults, overrides)
	for key := range overrides {
		if _, declared := defaults[key]; !declared {
			logger.Warn("Config override not declared in module defaults.",
				"module", moduleName, "key", key)
		}
	}
	return Resolved{values: merged}
}

func deepMerge(defaults, overrides map[string]any) map[string]any {
	merged := make(map[string]any, len(defaults)+len(overrides))
	for k, v := range defaults {
		merged[k] = v
	}
	for k, v := range overrides {
		base, ok := merged[k].(map[string]any)
		next, nested := v.(map[string]any)
		if ok && nested {
			merged[k] = deepMerge(base, next)
			continue
		}
		merged[k] = v
	}
	return merged
}

// Get returns the raw value for key.
func (c Resolved) Get(key string) (any, bool) {
	v, ok := c.values[key]
	return v, ok
}

// String returns the string value for key, or fallback.
func (c Resolved) String(key, fallback string) string {
	if v, ok := c.values[key].(string); ok {
		return v
	}
	return fallback
}

// Bool returns the bool value for key, or fallback.
func (c Resolved) Bool(key string, fallback bool) bool {
	if v, ok := c.values[key].(bool); ok {
		return v
	}
	return fallback
}

// Int returns the integer value for key, or fallback. HCL and JSON both
// decode numbers as float64, so that representation is accepted too.
func (c Resolved) Int(key string, fallback int) int {
	switch v := c.values[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return fallback
}

// Duration parses the value for key as a time.Duration, or returns fallback.
func (c Resolved) Duration(key string, fallback time.Duration) time.Duration {
	if s, ok := c.values[key].(string); ok {
		if d, err := time.ParseDuration(s); err == nil {
			return d
		}
	}
	return fallback
}

// Map returns a copy of the full option map.
func (c Resolved) Map() map[string]any {
	out := make(map[string]any, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}
