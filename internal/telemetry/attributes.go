// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys shared by task spans.
const (
	TaskIDKey        = "task.id"
	TaskNameKey      = "task.name"
	TaskStatusKey    = "task.status"
	TaskTranscodeKey = "task.transcode"
	TaskProxiedKey   = "task.proxied"
	TaskAutoStopKey  = "task.auto_stop_minutes"
	TaskAttemptKey   = "task.attempt"

	ProcessPIDKey      = "process.pid"
	ProcessExitKindKey = "process.exit_kind"
	ProcessExitCodeKey = "process.exit_code"

	ErrorTypeKey = "error.type"
)

// TaskAttributes describes the task a span works on.
func TaskAttributes(id, name string, transcode, proxied bool, autoStopMinutes int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(TaskIDKey, id),
		attribute.Bool(TaskTranscodeKey, transcode),
		attribute.Bool(TaskProxiedKey, proxied),
		attribute.Int(TaskAutoStopKey, autoStopMinutes),
	}
	if name != "" {
		attrs = append(attrs, attribute.String(TaskNameKey, name))
	}
	return attrs
}

// ExitAttributes describes how a process ended.
func ExitAttributes(kind string, code int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(ProcessExitKindKey, kind),
		attribute.Int(ProcessExitCodeKey, code),
	}
}

// RecordError marks span failed with a typed error.
func RecordError(span trace.Span, err error, errorType string) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetAttributes(attribute.String(ErrorTypeKey, errorType))
	span.SetStatus(codes.Error, err.Error())
}
