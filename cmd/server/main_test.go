// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flandriendev/briven/internal/crypto"
)

// writeConfig writes a YAML config pointing at a fresh database and log dir
func writeConfig(t *testing.T) (path, logDir string) {
	t.Helper()
	dir := t.TempDir()
	logDir = filepath.Join(dir, "logs")
	require.NoError(t, os.MkdirAll(logDir, 0755))

	path = filepath.Join(dir, "config.yaml")
	body := fmt.Sprintf(`database:
  type: sqlite
  sqlite_path: %s
sessionlog:
  dir: %s
  scope: agent
logging:
  level: error
`, filepath.Join(dir, "briven.db"), logDir)
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path, logDir
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestKeygen(t *testing.T) {
	out, err := run(t, "keygen")
	require.NoError(t, err)

	key, err := crypto.StringToKey(string(bytes.TrimSpace([]byte(out))))
	require.NoError(t, err)
	assert.Len(t, key, 32)
}

func TestTokenLifecycle(t *testing.T) {
	cfg, _ := writeConfig(t)

	out, err := run(t, "--config", cfg, "token", "create", "laptop", "--scope", "work")
	require.NoError(t, err)
	var created struct {
		ID    uint   `json:"id"`
		Name  string `json:"name"`
		Scope string `json:"scope"`
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &created))
	assert.Equal(t, "laptop", created.Name)
	assert.Equal(t, "work", created.Scope)
	assert.NotEmpty(t, created.Token)

	out, err = run(t, "--config", cfg, "token", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "laptop")
	assert.Contains(t, out, "active")

	out, err = run(t, "--config", cfg, "token", "revoke", "laptop")
	require.NoError(t, err)
	assert.Contains(t, out, "revoked 1")

	out, err = run(t, "--config", cfg, "token", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "revoked")

	_, err = run(t, "--config", cfg, "token", "revoke", "nobody")
	assert.Error(t, err)
}

func TestIngestExportImport(t *testing.T) {
	cfg, logDir := writeConfig(t)
	require.NoError(t, os.WriteFile(filepath.Join(logDir, "2026-10-15.md"), []byte("Fixed the flaky login test."), 0644))

	out, err := run(t, "--config", cfg, "ingest")
	require.NoError(t, err)
	var results []struct {
		ID     string `json:"id"`
		Action string `json:"action"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 1)
	assert.Equal(t, "created", results[0].Action)

	snap := filepath.Join(t.TempDir(), "snapshot.yaml")
	_, err = run(t, "--config", cfg, "export", "-o", snap)
	require.NoError(t, err)
	data, err := os.ReadFile(snap)
	require.NoError(t, err)
	assert.Contains(t, string(data), results[0].ID)

	other, _ := writeConfig(t)
	out, err = run(t, "--config", other, "import", snap)
	require.NoError(t, err)
	var imported struct {
		Imported int `json:"imported"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &imported))
	assert.Equal(t, 1, imported.Imported)

	out, err = run(t, "--config", other, "verify")
	require.NoError(t, err)
	assert.Contains(t, out, `"live": 1`)
}
