package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(old) })
}

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, "duckdb", cfg.Database.Type)
	assert.Equal(t, ":memory:", cfg.Database.Path)
	assert.Equal(t, filepath.Base(DefaultStateFile), filepath.Base(cfg.StatePath))
	assert.False(t, cfg.Verbose)
	assert.Empty(t, cfg.ConfigFile)
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "quarry.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
database:
  type: duckdb
  path: traces.db
state_path: graphs.db
verbose: true
`), 0o600))
	chdir(t, dir)

	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, cfgPath, cfg.ConfigFile)
	assert.Equal(t, filepath.Join(dir, "traces.db"), cfg.Database.Path)
	assert.Equal(t, filepath.Join(dir, "graphs.db"), cfg.StatePath)
	assert.True(t, cfg.Verbose)
}

func TestLoadSearchesUpward(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "quarry.yml"), []byte("verbose: true\n"), 0o600))
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o750))
	chdir(t, nested)

	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, root, cfg.ProjectRoot)
	assert.True(t, cfg.Verbose)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "quarry.yaml"), []byte("database:\n  type: duckdb\n"), 0o600))
	chdir(t, dir)
	t.Setenv("QUARRY_DATABASE__PATH", "/tmp/env.db")

	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/env.db", cfg.Database.Path)
}

func TestLoadFlagsOverrideEnv(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("QUARRY_STATE_PATH", "/tmp/env-state.db")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("state", "", "")
	flags.String("database", "", "")
	flags.Bool("verbose", false, "")
	require.NoError(t, flags.Parse([]string{"--state", "/tmp/flag-state.db", "--database", ":memory:"}))

	cfg, err := Load("", flags)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/flag-state.db", cfg.StatePath)
	assert.Equal(t, ":memory:", cfg.Database.Path)
}

func TestLoadExpandsCredentialEnvVars(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "quarry.yaml"), []byte(`
database:
  type: postgres
  host: localhost
  password: ${QUARRY_TEST_PW}
`), 0o600))
	chdir(t, dir)
	t.Setenv("QUARRY_TEST_PW", "hunter2")

	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", cfg.Database.Password)
}

func TestLoadRejectsPostgresWithoutHost(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "quarry.yaml"), []byte("database:\n  type: postgres\n"), 0o600))
	chdir(t, dir)

	_, err := Load("", nil)
	assert.Error(t, err)
}
