// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package task defines the task record, its lifecycle state machine and
// submission validation.
package task

import (
	"time"
)

// Spec is the operator-supplied description of a stream task.
type Spec struct {
	VideoFilename      string     `json:"video_filename"`
	RTMPURL            string     `json:"rtmp_url"`
	TaskName           string     `json:"task_name,omitempty"`
	AutoStopMinutes    int        `json:"auto_stop_minutes"`
	TranscodeEnabled   bool       `json:"transcode_enabled"`
	SOCKS5Proxy        string     `json:"socks5_proxy,omitempty"`
	ScheduledStartTime *time.Time `json:"scheduled_start_time,omitempty"`
}

// Record is the durable state of one task.
type Record struct {
	ID     string `json:"id"`
	Status Status `json:"status"`

	VideoFilename    string `json:"video_filename"`
	RTMPURL          string `json:"rtmp_url"`
	TaskName         string `json:"task_name,omitempty"`
	AutoStopMinutes  int    `json:"auto_stop_minutes"`
	TranscodeEnabled bool   `json:"transcode_enabled"`
	SOCKS5Proxy      string `json:"socks5_proxy,omitempty"`

	CreateTime         time.Time  `json:"create_time"`
	UpdateTime         time.Time  `json:"update_time"`
	ScheduledStartTime *time.Time `json:"scheduled_start_time,omitempty"`
	StartTime          *time.Time `json:"start_time,omitempty"`
	EndTime            *time.Time `json:"end_time,omitempty"`

	Message        string   `json:"message,omitempty"`
	ErrorMessage   string   `json:"error_message,omitempty"`
	RuntimeMinutes *float64 `json:"runtime_minutes,omitempty"`
	Restarts       int      `json:"restarts,omitempty"`
}

// NewRecord builds the initial record for a validated spec.
func NewRecord(id string, spec Spec, now time.Time) *Record {
	r := &Record{
		ID:               id,
		VideoFilename:    spec.VideoFilename,
		RTMPURL:          spec.RTMPURL,
		TaskName:         spec.TaskName,
		AutoStopMinutes:  spec.AutoStopMinutes,
		TranscodeEnabled: spec.TranscodeEnabled,
		SOCKS5Proxy:      spec.SOCKS5Proxy,
		// Immediate tasks also start out scheduled and move to running on launch.
		Status:     StatusScheduled,
		Message:    "starting",
		CreateTime: now,
		UpdateTime: now,
	}
	if spec.ScheduledStartTime != nil {
		r.ScheduledStartTime = timePtr(*spec.ScheduledStartTime)
		r.Message = "scheduled for " + spec.ScheduledStartTime.Format(time.RFC3339)
	}
	return r
}

// Clone returns a deep copy.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.ScheduledStartTime = clonePtr(r.ScheduledStartTime)
	c.StartTime = clonePtr(r.StartTime)
	c.EndTime = clonePtr(r.EndTime)
	if r.RuntimeMinutes != nil {
		v := *r.RuntimeMinutes
		c.RuntimeMinutes = &v
	}
	return &c
}

// Finalize stamps EndTime (if unset) and derives RuntimeMinutes.
func (r *Record) Finalize(now time.Time) {
	if r.EndTime == nil {
		r.EndTime = timePtr(now)
	}
	if r.StartTime != nil {
		mins := r.EndTime.Sub(*r.StartTime).Minutes()
		if mins < 0 {
			mins = 0
		}
		r.RuntimeMinutes = &mins
	}
}

// SortTime returns the timestamp used for a given ordering key. Missing
// values sort as the zero time.
func (r *Record) SortTime(field string) time.Time {
	switch field {
	case OrderStartTime:
		if r.StartTime != nil {
			return *r.StartTime
		}
	case OrderScheduledStartTime:
		if r.ScheduledStartTime != nil {
			return *r.ScheduledStartTime
		}
	default:
		return r.CreateTime
	}
	return time.Time{}
}

// Ordering keys understood by registries.
const (
	OrderCreateTime         = "create_time"
	OrderStartTime          = "start_time"
	OrderScheduledStartTime = "scheduled_start_time"
)

func timePtr(t time.Time) *time.Time { return &t }

func clonePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
