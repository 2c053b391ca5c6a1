package models

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func scriptsDirWithRunners(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeScript(t, dir, separationScript, "echo '{}'\n")
	writeScript(t, dir, transcriptionScript, "echo '{}'\n")
	return dir
}

func TestResolveBackendMissingScripts(t *testing.T) {
	b := ResolveBackend(BackendConfig{ScriptsDir: t.TempDir()})

	err := b.Available()
	if err == nil {
		t.Fatal("Available() = nil, want error for missing runner scripts")
	}
	if !strings.Contains(err.Error(), "runner script") {
		t.Errorf("Available() = %v, want mention of runner script", err)
	}
	if b.Runner() != nil {
		t.Error("Runner() should be nil for an unavailable backend")
	}
	if b.PythonPath() != "" {
		t.Errorf("PythonPath() = %q, want empty", b.PythonPath())
	}
}

func TestResolveBackendExplicitPython(t *testing.T) {
	dir := scriptsDirWithRunners(t)

	// An explicit interpreter is trusted without probing
	b := ResolveBackend(BackendConfig{
		PythonPath: "/opt/custom/bin/python",
		ScriptsDir: dir,
	})

	if err := b.Available(); err != nil {
		t.Fatalf("Available() = %v, want nil", err)
	}
	if b.PythonPath() != "/opt/custom/bin/python" {
		t.Errorf("PythonPath() = %q, want explicit path", b.PythonPath())
	}
	if b.ScriptsDir() != dir {
		t.Errorf("ScriptsDir() = %q, want %q", b.ScriptsDir(), dir)
	}
	if b.Runner() == nil {
		t.Error("Runner() is nil for an available backend")
	}
}

func TestResolveBackendPrefersVenv(t *testing.T) {
	dir := scriptsDirWithRunners(t)
	venvBin := filepath.Join(dir, ".venv", "bin")
	if err := os.MkdirAll(venvBin, 0755); err != nil {
		t.Fatal(err)
	}
	venvPython := filepath.Join(venvBin, "python")
	if err := os.WriteFile(venvPython, []byte("#!/bin/sh\n"), 0755); err != nil {
		t.Fatal(err)
	}

	b := ResolveBackend(BackendConfig{ScriptsDir: dir})
	if err := b.Available(); err != nil {
		t.Fatalf("Available() = %v, want nil", err)
	}
	if b.PythonPath() != venvPython {
		t.Errorf("PythonPath() = %q, want venv interpreter %q", b.PythonPath(), venvPython)
	}
}

func TestBackendNilReceiver(t *testing.T) {
	var b *Backend

	if err := b.Available(); err == nil {
		t.Error("nil backend Available() = nil, want error")
	}
	if b.Runner() != nil {
		t.Error("nil backend Runner() should be nil")
	}
	if b.PythonPath() != "" {
		t.Error("nil backend PythonPath() should be empty")
	}
}
