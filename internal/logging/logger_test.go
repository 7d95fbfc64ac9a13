package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: "info", Format: "text", Output: &buf})

	logger.Info("tick", "active", 2)

	out := buf.String()
	assert.Contains(t, out, "tick")
	assert.Contains(t, out, "active=2")
}

func TestNew_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: "warn", Format: "text", Output: &buf})

	logger.Info("hidden")
	logger.Warn("visible")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "visible")
}

func TestWithTask(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: "info", Format: "text", Output: &buf})

	logger.WithTask("0001-noop").WithPhase("PLANNING").Info("advance")

	out := buf.String()
	assert.Contains(t, out, "task=0001-noop")
	assert.Contains(t, out, "phase=PLANNING")
}

func TestPrettyHandler(t *testing.T) {
	var buf bytes.Buffer
	h := NewPrettyHandler(&buf, parseLevel("info"))
	logger := Logger{Logger: slog.New(h)}

	logger.Info("merge complete", "task", "0001-noop")

	out := buf.String()
	assert.Contains(t, out, "merge complete")
	assert.Contains(t, out, "task")
	assert.True(t, strings.Contains(out, "INF"), out)
}
