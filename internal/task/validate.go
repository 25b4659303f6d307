// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package task

import (
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/ManuGH/restream/internal/proxyconf"
)

// MaxTaskNameRunes bounds the stored task name.
const MaxTaskNameRunes = 100

// SupportedVideoExtensions lists the container formats accepted as input.
var SupportedVideoExtensions = []string{".mp4", ".mov", ".avi", ".flv"}

// Normalize trims inputs, NFC-normalises the task name and truncates it.
func (s *Spec) Normalize() {
	s.VideoFilename = strings.TrimSpace(s.VideoFilename)
	s.RTMPURL = strings.TrimSpace(s.RTMPURL)
	s.SOCKS5Proxy = strings.TrimSpace(s.SOCKS5Proxy)

	name := norm.NFC.String(strings.TrimSpace(s.TaskName))
	if runes := []rune(name); len(runes) > MaxTaskNameRunes {
		name = string(runes[:MaxTaskNameRunes])
	}
	s.TaskName = name
}

// Validate checks a normalised spec. now is the submission instant used to
// reject scheduled start times that are not in the future.
func (s Spec) Validate(now time.Time) error {
	if s.RTMPURL == "" {
		return invalid("rtmp_url", "required")
	}
	if err := validateRTMPURL(s.RTMPURL); err != nil {
		return err
	}

	if s.VideoFilename == "" {
		return invalid("video_filename", "required")
	}
	if s.VideoFilename != filepath.Base(s.VideoFilename) || strings.ContainsAny(s.VideoFilename, `/\`) ||
		s.VideoFilename == "." || s.VideoFilename == ".." {
		return invalid("video_filename", "must be a bare file name")
	}
	if !supportedExtension(s.VideoFilename) {
		return invalid("video_filename", "unsupported extension %q (supported: %s)",
			filepath.Ext(s.VideoFilename), strings.Join(SupportedVideoExtensions, ", "))
	}

	if s.AutoStopMinutes < 0 {
		return invalid("auto_stop_minutes", "must not be negative")
	}

	if s.SOCKS5Proxy != "" {
		if _, err := proxyconf.ParseEndpoint(s.SOCKS5Proxy); err != nil {
			return invalid("socks5_proxy", "%v", err)
		}
	}

	if s.ScheduledStartTime != nil && !s.ScheduledStartTime.After(now) {
		return invalid("scheduled_start_time", "must be in the future")
	}
	return nil
}

func validateRTMPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return invalid("rtmp_url", "malformed url")
	}
	switch strings.ToLower(u.Scheme) {
	case "rtmp", "rtmps":
	default:
		return invalid("rtmp_url", "scheme must be rtmp or rtmps")
	}
	if u.Host == "" {
		return invalid("rtmp_url", "missing host")
	}
	return nil
}

func supportedExtension(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, allowed := range SupportedVideoExtensions {
		if ext == allowed {
			return true
		}
	}
	return false
}
