package cmd

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEnvFiles(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "gate.env")
	require.NoError(t, os.WriteFile(file, []byte("GATE_TEST_LOADED=yes\nGATE_TEST_PRESET=from-file\n"), 0o600))
	t.Setenv("GATE_TEST_PRESET", "from-environment")
	t.Setenv("GATE_TEST_LOADED", "")
	require.NoError(t, os.Unsetenv("GATE_TEST_LOADED"))

	require.NoError(t, loadEnvFiles([]string{filepath.Join(dir, "missing.env"), file}, false))
	assert.Equal(t, "yes", os.Getenv("GATE_TEST_LOADED"))
	assert.Equal(t, "from-environment", os.Getenv("GATE_TEST_PRESET"), "set variables win over env files")

	assert.Error(t, loadEnvFiles([]string{filepath.Join(dir, "missing.env")}, true))
}

func TestSetupLogging(t *testing.T) {
	previous := slog.Default()
	t.Cleanup(func() { slog.SetDefault(previous) })

	for _, format := range []string{"console", "text", "json"} {
		assert.NoError(t, setupLogging(format, false), format)
	}
	assert.Error(t, setupLogging("xml", true))
}
