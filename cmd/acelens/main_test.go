package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexcodex/acelens/framework/lens"
)

func writeWorkspace(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, ".ace", "fundamentals")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "apis.ts"), []byte(
		"export const apiPing = createApiFn('/ping', 'GET', 'apiPing', apiLoaders.apiPing)\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "apiLoaders.ts"), []byte(
		"export async function apiPing() {\n  return import('../../src/api/ping')\n}\n"), 0o644))
	return root
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	flagWorkspace, flagConfig, flagVariant, flagLog = "", "", "", ""
	flagLogEvents = false
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestMapCommand(t *testing.T) {
	root := writeWorkspace(t)
	out, err := run(t, "--workspace", root, "map")
	require.NoError(t, err)
	assert.Equal(t, "apiPing\t"+filepath.Join(root, "src", "api", "ping.ts")+"\n", out)
}

func TestMapCommandMissingSources(t *testing.T) {
	_, err := run(t, "--workspace", t.TempDir(), "map")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api sources not found")
}

func TestLensesCommand(t *testing.T) {
	root := writeWorkspace(t)
	file := filepath.Join(root, "src", "page.ts")
	require.NoError(t, os.MkdirAll(filepath.Dir(file), 0o755))
	require.NoError(t, os.WriteFile(file, []byte("import { apiPing as ping } from '@ace/apis'\n\nping()\n"), 0o644))

	out, err := run(t, "--workspace", root, "lenses", file)
	require.NoError(t, err)
	var annotations []lens.Annotation
	require.NoError(t, json.Unmarshal([]byte(out), &annotations))
	require.Len(t, annotations, 1)
	assert.Equal(t, 2, annotations[0].Line)
	assert.Equal(t, filepath.Join(root, "src", "api", "ping.ts"), annotations[0].Path)
}

func TestInitCommand(t *testing.T) {
	root := t.TempDir()
	_, err := run(t, "--workspace", root, "init")
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(root, ".acelens.yaml"))
	require.NoError(t, err)

	_, err = run(t, "--workspace", root, "init")
	assert.Error(t, err)
}

func TestLogEventsFlag(t *testing.T) {
	root := writeWorkspace(t)
	logPath := filepath.Join(root, "acelens.log")
	_, err := run(t, "--workspace", root, "--log", logPath, "--log-events", "map")
	require.NoError(t, err)

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "[rebuild_finish]")
	assert.Contains(t, string(data), "count=1")
}

func TestUnknownVariantFails(t *testing.T) {
	root := writeWorkspace(t)
	_, err := run(t, "--workspace", root, "--variant", "ast", "map")
	assert.Error(t, err)
}
