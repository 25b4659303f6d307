// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// EnvPrefix prefixes every environment key the loader reads.
const EnvPrefix = "RESTREAM_"

// envReader resolves RESTREAM_* variables and records which ones were used.
// Malformed values are collected rather than silently replaced by defaults.
type envReader struct {
	lookup   func(string) (string, bool)
	logger   zerolog.Logger
	consumed map[string]struct{}
	errs     []error
}

func newEnvReader(lookup func(string) (string, bool), logger zerolog.Logger) *envReader {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	return &envReader{lookup: lookup, logger: logger, consumed: make(map[string]struct{})}
}

func (r *envReader) raw(key string) (string, bool) {
	v, ok := r.lookup(key)
	if !ok || v == "" {
		return "", false
	}
	r.consumed[key] = struct{}{}
	ev := r.logger.Debug().Str("key", key).Str("source", "environment")
	if isSensitive(key) {
		ev = ev.Bool("sensitive", true)
	} else {
		ev = ev.Str("value", v)
	}
	ev.Msg("using environment variable")
	return v, true
}

func (r *envReader) fail(key, v, kind string, err error) {
	r.errs = append(r.errs, fmt.Errorf("%s: invalid %s %q: %w", key, kind, v, err))
}

func (r *envReader) String(key, def string) string {
	if v, ok := r.raw(key); ok {
		return v
	}
	return def
}

func (r *envReader) Bool(key string, def bool) bool {
	v, ok := r.raw(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		r.fail(key, v, "boolean", err)
		return def
	}
	return b
}

func (r *envReader) Int(key string, def int) int {
	v, ok := r.raw(key)
	if !ok {
		return def
	}
	i, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		r.fail(key, v, "integer", err)
		return def
	}
	return i
}

func (r *envReader) Float(key string, def float64) float64 {
	v, ok := r.raw(key)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		r.fail(key, v, "float", err)
		return def
	}
	return f
}

func (r *envReader) Duration(key string, def time.Duration) time.Duration {
	v, ok := r.raw(key)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		r.fail(key, v, "duration", err)
		return def
	}
	return d
}

// Consumed lists the keys that contributed a value.
func (r *envReader) Consumed() []string {
	out := make([]string, 0, len(r.consumed))
	for k := range r.consumed {
		out = append(out, k)
	}
	return out
}

func isSensitive(key string) bool {
	k := strings.ToLower(key)
	return strings.Contains(k, "password") || strings.Contains(k, "token")
}
