package config

import (
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
)

// DefaultConfigYAML is the commented starting point that WriteDefault puts
// in place for operators to edit.
const DefaultConfigYAML = `# Conveyor configuration
#
# Values not specified here use defaults; CONVEYOR_* environment variables
# and CLI flags override file values.

workspace: workspace

repo:
  path: .
  mainline: main
  remote: origin
  push_branches: false

scheduler:
  concurrency: 3
  tick_interval: 5s

merge:
  freeze_timeout: 60s
  terminate_grace: 30s
  rebase_attempts: 3

agents:
  claude:
    path: claude
  codex:
    path: codex

log:
  level: info
  format: auto

history:
  enabled: true
`

// WriteDefault writes the default config file under <workspace>/.conveyor/
// if it does not already exist. The write is atomic so a crash mid-write
// never leaves a half-written config behind.
func WriteDefault(workspace string) (string, error) {
	dir := filepath.Join(workspace, ".conveyor")
	path := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", err
	}
	if err := renameio.WriteFile(path, []byte(DefaultConfigYAML), 0o644); err != nil {
		return "", err
	}
	return path, nil
}
