package models

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/zarigata/MP3paraMIDI/logging"
)

// RunResult holds the output of one runner script invocation
type RunResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Runner executes the python runner scripts hosting the AI models. Output
// is captured in full; scripts report structured results as a single JSON
// object on their last stdout line.
type Runner struct {
	pythonPath string
	scriptsDir string
	timeout    time.Duration
	logger     logging.Logger
}

func newRunner(pythonPath, scriptsDir string, timeout time.Duration) *Runner {
	return &Runner{
		pythonPath: pythonPath,
		scriptsDir: scriptsDir,
		timeout:    timeout,
		logger:     logging.WithFields(logging.Fields{"component": "model_runner"}),
	}
}

// RunScript executes a python script from the scripts directory
func (r *Runner) RunScript(ctx context.Context, script string, args ...string) (*RunResult, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	scriptPath := filepath.Join(r.scriptsDir, script)
	cmd := exec.CommandContext(ctx, r.pythonPath, append([]string{scriptPath}, args...)...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Env = append(os.Environ(), "PYTHONUNBUFFERED=1")

	r.logger.Debug("running model script", logging.Fields{
		"script": script,
		"args":   strings.Join(args, " "),
	})

	start := time.Now()
	err := cmd.Run()

	result := &RunResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
	}

	if err != nil {
		return result, fmt.Errorf("script %s failed: %w", script, err)
	}

	r.logger.Debug("model script finished", logging.Fields{
		"script":      script,
		"duration_ms": result.Duration.Milliseconds(),
	})

	return result, nil
}

// CheckPythonDependency verifies a python package can be imported by the
// resolved interpreter
func (r *Runner) CheckPythonDependency(ctx context.Context, packageName string) error {
	cmd := exec.CommandContext(ctx, r.pythonPath, "-c", fmt.Sprintf("import %s", packageName))
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s not importable: %s", packageName, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// decodeLastJSONLine parses the last stdout line that looks like a JSON
// object. Runner scripts may log freely before printing their result.
func decodeLastJSONLine(stdout string, v any) error {
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(line, "{") {
			continue
		}
		return json.Unmarshal([]byte(line), v)
	}
	return fmt.Errorf("no JSON object in script output")
}

// runDetails extracts the most useful diagnostic text from a failed run
func runDetails(result *RunResult, err error) string {
	if result != nil && strings.TrimSpace(result.Stderr) != "" {
		return strings.TrimSpace(result.Stderr)
	}
	if err != nil {
		return err.Error()
	}
	return ""
}
