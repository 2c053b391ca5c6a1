package models

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/zarigata/MP3paraMIDI/logging"
)

const (
	separationScript    = "separate.py"
	transcriptionScript = "transcribe.py"
)

// BackendConfig configures python backend discovery
type BackendConfig struct {
	PythonPath string        `json:"python_path"` // Empty triggers discovery
	ScriptsDir string        `json:"scripts_dir"` // Directory holding the runner scripts
	Timeout    time.Duration `json:"timeout"`     // Per script invocation, 0 means no limit
}

// DefaultBackendConfig returns the standard discovery configuration
func DefaultBackendConfig() BackendConfig {
	return BackendConfig{
		ScriptsDir: "scripts",
	}
}

// Backend is the resolved python process backend for the AI models.
// Resolution happens once at construction; afterwards Available reports
// whether the AI path can run and, if not, why.
type Backend struct {
	config BackendConfig
	runner *Runner
	reason string
	logger logging.Logger
}

// ResolveBackend probes for a python interpreter and the runner scripts.
// An explicitly configured interpreter is trusted as-is; otherwise the
// scripts directory's virtualenv is preferred over the system python.
func ResolveBackend(config BackendConfig) *Backend {
	b := &Backend{
		config: config,
		logger: logging.WithFields(logging.Fields{"component": "model_backend"}),
	}

	scriptsDir := config.ScriptsDir
	if scriptsDir == "" {
		scriptsDir = "scripts"
	}
	b.config.ScriptsDir = scriptsDir

	for _, script := range []string{separationScript, transcriptionScript} {
		if _, err := os.Stat(filepath.Join(scriptsDir, script)); err != nil {
			b.reason = fmt.Sprintf("runner script %s not found in %s", script, scriptsDir)
			b.logger.Debug("python backend unavailable", logging.Fields{"reason": b.reason})
			return b
		}
	}

	python := config.PythonPath
	if python == "" {
		venvPython := filepath.Join(scriptsDir, ".venv", "bin", "python")
		if _, err := os.Stat(venvPython); err == nil {
			python = venvPython
		} else if path, err := exec.LookPath("python3"); err == nil {
			python = path
		} else if path, err := exec.LookPath("python"); err == nil {
			python = path
		} else {
			b.reason = "no python interpreter found on PATH"
			b.logger.Debug("python backend unavailable", logging.Fields{"reason": b.reason})
			return b
		}
	}
	b.config.PythonPath = python

	b.runner = newRunner(python, scriptsDir, config.Timeout)
	b.logger.Info("python backend resolved", logging.Fields{
		"python":      python,
		"scripts_dir": scriptsDir,
	})
	return b
}

// Available returns nil when the backend can run AI models, or an error
// naming what is missing
func (b *Backend) Available() error {
	if b == nil {
		return errors.New("python backend not resolved")
	}
	if b.runner == nil {
		return fmt.Errorf("python backend unavailable: %s", b.reason)
	}
	return nil
}

// Runner returns the script runner. It is nil when the backend is
// unavailable.
func (b *Backend) Runner() *Runner {
	if b == nil {
		return nil
	}
	return b.runner
}

// PythonPath returns the resolved interpreter path, empty when unavailable
func (b *Backend) PythonPath() string {
	if b == nil || b.runner == nil {
		return ""
	}
	return b.config.PythonPath
}

// ScriptsDir returns the runner scripts directory
func (b *Backend) ScriptsDir() string {
	if b == nil {
		return ""
	}
	return b.config.ScriptsDir
}
