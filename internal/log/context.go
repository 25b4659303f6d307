// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

import (
	"context"

	"github.com/rs/zerolog"
)

// correlationKey is a context key whose value is logged under its own name.
type correlationKey string

const (
	requestIDKey correlationKey = FieldRequestID
	taskIDKey    correlationKey = FieldTaskID
)

// correlationKeys lists the keys WithContext copies onto a logger, in
// output order.
var correlationKeys = [...]correlationKey{requestIDKey, taskIDKey}

func withCorrelation(ctx context.Context, key correlationKey, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, key, id)
}

func (k correlationKey) from(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(k).(string)
	return v
}

// ContextWithRequestID tags ctx with an ops request ID.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return withCorrelation(ctx, requestIDKey, id)
}

// ContextWithTaskID tags ctx with the task a log line belongs to.
func ContextWithTaskID(ctx context.Context, id string) context.Context {
	return withCorrelation(ctx, taskIDKey, id)
}

func RequestIDFromContext(ctx context.Context) string { return requestIDKey.from(ctx) }

func TaskIDFromContext(ctx context.Context) string { return taskIDKey.from(ctx) }

// WithContext adds the request, task and trace IDs carried by ctx to logger.
func WithContext(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	if ctx == nil {
		return logger
	}
	var lc *zerolog.Context
	for _, k := range correlationKeys {
		id := k.from(ctx)
		if id == "" {
			continue
		}
		if lc == nil {
			c := logger.With()
			lc = &c
		}
		*lc = lc.Str(string(k), id)
	}
	if lc != nil {
		logger = lc.Logger()
	}
	return withTrace(ctx, logger)
}

// WithComponentFromContext returns a component logger enriched with
// correlation fields from ctx.
func WithComponentFromContext(ctx context.Context, component string) zerolog.Logger {
	return WithContext(ctx, WithComponent(component))
}

// FromContext returns the logger attached with zerolog's WithContext, falling
// back to Base.
func FromContext(ctx context.Context) *zerolog.Logger {
	if ctx != nil {
		if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
			return l
		}
	}
	base := Base()
	return &base
}
