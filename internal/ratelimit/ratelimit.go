// Package ratelimit detects quota exhaustion in agent logs. A task that
// trips the detector is routed to the backup agent for the rest of its life.
package ratelimit

import (
	"os"
	"path/filepath"
	"strings"
)

// Markers are the known exhaustion announcements in codex output.
var Markers = []string{
	"usage_limit_reached",
	"You've hit your usage limit",
}

// LogGlobs are the primary-backend log patterns inspected, in the order
// they are checked. Only the newest matching file is read.
var LogGlobs = []string{
	"codex-exec-*.log",
	"codex-review-*.log",
}

// CheckDir examines the most recent primary-agent log under the given
// agent_logs directory and reports whether it contains a rate-limit marker.
// A missing directory or empty log set is not an error.
func CheckDir(agentLogsDir string) (bool, error) {
	newest := ""
	var newestMod int64

	for _, glob := range LogGlobs {
		matches, err := filepath.Glob(filepath.Join(agentLogsDir, glob))
		if err != nil {
			return false, err
		}
		for _, m := range matches {
			info, err := os.Stat(m)
			if err != nil {
				continue
			}
			if mod := info.ModTime().UnixNano(); newest == "" || mod > newestMod {
				newest = m
				newestMod = mod
			}
		}
	}

	if newest == "" {
		return false, nil
	}

	data, err := os.ReadFile(newest)
	if err != nil {
		return false, err
	}
	return ContainsMarker(string(data)), nil
}

// ContainsMarker reports whether the text announces quota exhaustion.
func ContainsMarker(text string) bool {
	for _, marker := range Markers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}
