package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	music := filepath.Join(dir, "music")
	require.NoError(t, os.MkdirAll(music, 0o755))
	cfg := `library_sources = ["` + music + `"]

[database]
library = "` + filepath.Join(dir, "library.db") + `"

[scan]
checkpoint = "` + filepath.Join(dir, "scan_record.json") + `"

[log]
level = "silent"
`
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return path
}

func TestCLIMigrateAndLedger(t *testing.T) {
	cfg := writeTestConfig(t)

	out, err := run(t, "--config", cfg, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "+ 0001_initial")

	out, err = run(t, "--config", cfg, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "applied: 0")

	out, err = run(t, "--config", cfg, "ledger")
	require.NoError(t, err)
	assert.Equal(t, 6, strings.Count(out, "\n"))
}

func TestCLIScanEmptyLibrary(t *testing.T) {
	cfg := writeTestConfig(t)

	out, err := run(t, "--config", cfg, "scan")
	require.NoError(t, err)
	assert.Contains(t, out, "full scan of 0 files")

	out, err = run(t, "--config", cfg, "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "tracks:   0")
	assert.NotContains(t, out, "never")
}

func TestCLIPlaylists(t *testing.T) {
	cfg := writeTestConfig(t)

	out, err := run(t, "--config", cfg, "playlist", "create", "Road Trip")
	require.NoError(t, err)
	assert.Equal(t, "1\n", out)

	_, err = run(t, "--config", cfg, "pl", "rename", "1", "Long Drive")
	require.NoError(t, err)

	out, err = run(t, "--config", cfg, "playlist", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Long Drive")

	_, err = run(t, "--config", cfg, "playlist", "delete", "1")
	require.NoError(t, err)
	_, err = run(t, "--config", cfg, "playlist", "delete", "1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Failed to delete playlist '1'")
}

func TestCLIRejectsBadInput(t *testing.T) {
	cfg := writeTestConfig(t)

	_, err := run(t, "--config", cfg, "albums", "--sort", "bpm")
	require.Error(t, err)

	_, err = run(t, "--config", cfg, "album", "abc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid id "abc"`)
}

func TestParseID(t *testing.T) {
	id, err := parseID("42")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	for _, bad := range []string{"", "0", "-3", "x"} {
		_, err := parseID(bad)
		assert.Error(t, err, bad)
	}
}
