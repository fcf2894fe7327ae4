package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type cliTestEnv struct {
	baseDir    string
	configPath string
	ffmpeg     string
	ffprobe    string
}

// setupCLITestEnv writes a self-contained configuration under a temp HOME,
// with tool overrides pointing at stub scripts so commands never touch a
// real ffmpeg install.
func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	base := t.TempDir()
	homeDir := filepath.Join(base, "home")
	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		t.Fatalf("mkdir home: %v", err)
	}
	t.Setenv("HOME", homeDir)
	t.Setenv("XDG_CACHE_HOME", "")

	env := &cliTestEnv{
		baseDir:    base,
		configPath: filepath.Join(base, "config.toml"),
		ffmpeg:     writeToolStub(t, base, "ffmpeg"),
		ffprobe:    writeToolStub(t, base, "ffprobe"),
	}
	writeTestConfig(t, env)
	return env
}

func writeToolStub(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	script := "#!/bin/sh\necho \"" + name + " version 7.1 Copyright (c) 2000-2024\"\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write %s stub: %v", name, err)
	}
	return path
}

func writeTestConfig(t *testing.T, env *cliTestEnv) {
	t.Helper()
	body := fmt.Sprintf(`[paths]
work_dir = %q
log_dir = %q
rollback_dir = %q

[cache]
enabled = true
path = %q

[tools]
ffmpeg = %q
ffprobe = %q
`,
		filepath.Join(env.baseDir, "work"),
		filepath.Join(env.baseDir, "logs"),
		filepath.Join(env.baseDir, "rollback"),
		filepath.Join(env.baseDir, "loudness.db"),
		env.ffmpeg,
		env.ffprobe,
	)
	if err := os.WriteFile(env.configPath, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func runCLI(t *testing.T, env *cliTestEnv, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	full := append([]string{"--config", env.configPath}, args...)
	cmd.SetArgs(full)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
