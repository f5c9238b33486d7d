package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/0xPuncker/periodic/internal/runner"
	"github.com/0xPuncker/periodic/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := rootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func writeJobs(t *testing.T) (cfgPath, storeDir string) {
	t.Helper()
	dir := t.TempDir()
	storeDir = filepath.Join(dir, "state")
	t.Setenv("PERIODIC_STORE_PATH", storeDir)
	t.Setenv("SLACK_WEBHOOK_URL", "")
	t.Setenv("LOG_LEVEL", "error")

	cfgPath = filepath.Join(dir, "jobs.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
timezone: UTC
jobs:
  Hello:
    interval: 1 day
    task: echo
    pass: [hello]
  Broken:
    interval: PT5M
    task: nope
`), 0o644))
	return cfgPath, storeDir
}

func TestRunCommand(t *testing.T) {
	cfgPath, storeDir := writeJobs(t)

	out, err := execute(t, "run", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "1 ran, 1 failed, 0 skipped")
	assert.Contains(t, out, "OUTCOME")
	assert.Contains(t, out, "Broken")

	snap, err := store.Load(filepath.Join(storeDir, store.DefaultFile), nil)
	require.NoError(t, err)
	require.Contains(t, snap, "Hello")
	assert.NotNil(t, snap["Hello"].LastRun)
	assert.JSONEq(t, `["hello"]`, string(snap["Hello"].LastResult))
	assert.Nil(t, snap["Broken"].LastRun)

	_, err = os.Stat(filepath.Join(storeDir, ".scheduler_running_flag"))
	assert.True(t, os.IsNotExist(err))

	out, err = execute(t, "run", "--config", cfgPath, "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "0 ran, 1 failed, 1 skipped, 0 due (dry run)")
}

func TestStatusCommand(t *testing.T) {
	cfgPath, _ := writeJobs(t)

	_, err := execute(t, "run", "--config", cfgPath)
	require.NoError(t, err)

	out, err := execute(t, "status", "--config", cfgPath, "--json")
	require.NoError(t, err)

	var statuses []runner.JobStatus
	require.NoError(t, json.Unmarshal([]byte(out), &statuses))
	require.Len(t, statuses, 2)
	assert.Equal(t, "Hello", statuses[0].Name)
	assert.False(t, statuses[0].Due)
	assert.True(t, statuses[1].Failed)

	out, err = execute(t, "status", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "JOB")
	assert.Contains(t, out, "Hello")
}

func TestRunFailsOnCorruptStore(t *testing.T) {
	cfgPath, storeDir := writeJobs(t)
	require.NoError(t, os.MkdirAll(storeDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(storeDir, store.DefaultFile), []byte("not json"), 0o644))

	_, err := execute(t, "run", "--config", cfgPath)
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrCorrupt)
}

func TestRunWhileAnotherPassHoldsFlag(t *testing.T) {
	cfgPath, storeDir := writeJobs(t)
	require.NoError(t, os.MkdirAll(storeDir, 0o755))
	flag := filepath.Join(storeDir, ".scheduler_running_flag")
	require.NoError(t, os.WriteFile(flag, nil, 0o644))

	out, err := execute(t, "run", "--config", cfgPath)
	require.NoError(t, err, "already running exits 0")
	assert.Contains(t, out, "Scheduler already running, nothing done.")
	assert.NotContains(t, out, "ran,")

	_, err = os.Stat(filepath.Join(storeDir, store.DefaultFile))
	assert.True(t, os.IsNotExist(err), "nothing is written")
	_, err = os.Stat(flag)
	assert.NoError(t, err, "the other pass keeps its flag")

	out, err = execute(t, "run", "--help")
	require.NoError(t, err)
	assert.Contains(t, out, "also when another pass holds the running flag")
}

func TestAbbreviate(t *testing.T) {
	assert.Equal(t, `{"ok": true}`, abbreviate("{\"ok\":\n   true}", 60))
	assert.Equal(t, "short", abbreviate("short", 10))

	got := abbreviate(strings.Repeat("é", 20), 10)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, strings.Repeat("é", 7)+"...", got)

	got = abbreviate("日本語のテキストです", 8)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, "日本語のテ...", got)
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "periodic dev")
	assert.Contains(t, out, "shell.main")
}
