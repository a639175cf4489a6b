package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NotEmpty(t, cfg.DataDir)
	require.EqualValues(t, 16, cfg.FDBudget)
	require.NotEmpty(t, cfg.Sandbox.DefaultSystem)
}

func TestLoadMissingFileFallsBackToDefault(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	require.Equal(t, Default().FDBudget, cfg.FDBudget)
}

func TestLoadParsesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	const body = "data_dir: /tmp/x\naddress: tcp://127.0.0.1:8080\nfd_budget: 4\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/tmp/x", cfg.DataDir)
	require.Equal(t, "tcp://127.0.0.1:8080", cfg.Address)
	require.EqualValues(t, 4, cfg.FDBudget)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("TANGRAM_DATA_DIR", "/override")
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "/override", cfg.DataDir)
}
