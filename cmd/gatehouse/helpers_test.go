// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// isolate points every XDG base directory into a fresh temp dir.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for _, env := range []string{"XDG_CONFIG_HOME", "XDG_DATA_HOME", "XDG_STATE_HOME"} {
		t.Setenv(env, filepath.Join(dir, env))
	}
	t.Setenv("DATABASE_URL", "")
	return dir
}

// writeConfig writes a YAML config with a cheap hasher and no metrics
// server, followed by extra.
func writeConfig(t *testing.T, dir, extra string) string {
	t.Helper()
	path := filepath.Join(dir, "gatehouse.yaml")
	body := `hasher:
  memory_kib: 1024
  iterations: 1
  threads: 1
metrics:
  addr: ""
` + extra
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

// execute runs the root command with args and returns everything it
// printed.
func execute(t *testing.T, deps *Deps, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmdWithDeps(deps)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}
