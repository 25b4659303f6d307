// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package launcher

import (
	"regexp"
	"strings"
)

// networkKeywords mark stderr lines that indicate a lost or refused
// connection to the RTMP endpoint or the proxy.
var networkKeywords = []string{
	"connection refused",
	"connection reset",
	"connection timed out",
	"timeout",
	"timed out",
	"network is unreachable",
	"no route to host",
	"broken pipe",
	"end of file",
	"server returned 4",
	"server returned 5",
	"network error",
	"socket closed",
	"i/o error",
	"could not connect",
	"failed to connect",
	"unexpected eof",
	"protocol error",
	"connection closed",
	"disconnected",
	"host not found",
	"resolve failed",
	"network down",
	"could not write",
	"av_interleaved_write_frame()",
	"error writing trailer",
	"error closing file",
}

// descriptions map stderr fragments to operator-facing summaries; first match wins.
var descriptions = []struct {
	match []string
	text  string
}{
	{[]string{"broken pipe"}, "network connection dropped unexpectedly"},
	{[]string{"connection reset"}, "connection reset by remote server"},
	{[]string{"timeout", "timed out"}, "connection timed out"},
	{[]string{"refused"}, "connection refused"},
	{[]string{"av_interleaved_write_frame()"}, "failed to write RTMP frame"},
	{[]string{"error writing trailer", "error closing file"}, "failed to close RTMP stream"},
	{[]string{"no route to host"}, "target server unreachable"},
	{[]string{"network is unreachable"}, "network unreachable"},
	{[]string{"stream not found"}, "stream address does not exist"},
	{[]string{"invalid data found"}, "invalid media data"},
	{[]string{"no such file or directory"}, "input file not found"},
	{[]string{"permission denied"}, "permission denied"},
}

var errorLinePattern = regexp.MustCompile(`(?i)(error|couldn't|failed|invalid|unable|no such|denied|not found|refused|timed out)`)

// IsNetworkFailure reports whether any tail line matches a network failure keyword.
func IsNetworkFailure(tail []string) bool {
	for _, line := range tail {
		lower := strings.ToLower(line)
		for _, kw := range networkKeywords {
			if strings.Contains(lower, kw) {
				return true
			}
		}
	}
	return false
}

// Diagnose summarises a failure tail. It returns "unknown error" when nothing matches.
func Diagnose(tail []string) string {
	joined := strings.ToLower(strings.Join(tail, "\n"))
	for _, d := range descriptions {
		for _, m := range d.match {
			if strings.Contains(joined, m) {
				return d.text
			}
		}
	}
	return "unknown error"
}

// ErrorLines returns up to n of the last lines that look like errors, falling
// back to the last n raw lines when none do.
func ErrorLines(tail []string, n int) []string {
	var matched []string
	for _, line := range tail {
		if errorLinePattern.MatchString(line) {
			matched = append(matched, line)
		}
	}
	if len(matched) == 0 {
		matched = tail
	}
	if len(matched) > n {
		matched = matched[len(matched)-n:]
	}
	return matched
}
