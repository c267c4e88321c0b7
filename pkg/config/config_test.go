package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "smogvm.toml")
	require.NoError(t, os.WriteFile(path, []byte("worker_count = 4\nstack_limit = 2048\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, Config{WorkerCount: 4, StackLimit: 2048}, cfg)
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "smogvm.toml")
	require.NoError(t, os.WriteFile(path, []byte("worker_count = 4\nsteal_attempts = 8\n"), 0o644))

	t.Setenv(EnvWorkerCount, "16")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 16, cfg.WorkerCount)
	require.Equal(t, 8, cfg.StealAttempts)
}

func TestLoadRejectsUnknownField(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "smogvm.toml")
	require.NoError(t, os.WriteFile(path, []byte("bogus_field = 1\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsNonIntegerEnv(t *testing.T) {
	t.Setenv(EnvStackLimit, "not-a-number")
	_, err := Load("")
	require.Error(t, err)
}

func TestLoadWithNoPathUsesDefaultsAndEnv(t *testing.T) {
	t.Setenv(EnvStealAttempts, "3")
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, Config{StealAttempts: 3}, cfg)
}
