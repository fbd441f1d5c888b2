// Package sysutil holds the tiny environment-and-startup helpers shared by
// the command entrypoints.
package sysutil

import (
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// LogLevel resolves a configured level name to a zerolog level. "warning" is
// accepted as an alias for "warn"; empty or unparsable values fall back to
// info.
func LogLevel(name string) zerolog.Level {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "warning" {
		name = "warn"
	}
	lvl, err := zerolog.ParseLevel(name)
	if err != nil || name == "" {
		return zerolog.InfoLevel
	}
	return lvl
}

// SetLogLevel resolves name with LogLevel, applies it globally, and returns
// the level that took effect.
func SetLogLevel(name string) zerolog.Level {
	lvl := LogLevel(name)
	zerolog.SetGlobalLevel(lvl)
	return lvl
}

// IsTruthy reports whether an environment flag value means "enabled". It
// accepts everything strconv.ParseBool does, plus yes/y/on.
func IsTruthy(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	if b, err := strconv.ParseBool(v); err == nil {
		return b
	}
	switch v {
	case "yes", "y", "on":
		return true
	}
	return false
}

// FirstNonEmpty returns the first value that contains more than whitespace,
// or "" when none does. Used to layer flag overrides on top of environment
// configuration.
func FirstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
