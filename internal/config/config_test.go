package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func chdir(t *testing.T, dir string) {
	t.Helper()
	orig, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(orig) })
}

func TestLoad_FullConfig(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
server:
  host: "127.0.0.1"
  port: 9090
database:
  url: "postgres://localhost/nodeflow?sslmode=disable"
backend:
  url: "http://render:8188"
  token: "secret"
  timeout: 5s
execution:
  poll_interval: 500ms
  max_poll_interval: 10s
  max_attempts: 40
  global_max: 3
catalog:
  path: "nodes.yaml"
logging:
  level: debug
  format: json
events:
  ttl: 1m
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9090", cfg.Addr())
	assert.Equal(t, "postgres://localhost/nodeflow?sslmode=disable", cfg.Database.URL)
	assert.Equal(t, "http://render:8188", cfg.Backend.URL)
	assert.Equal(t, "secret", cfg.Backend.Token)
	assert.Equal(t, 5*time.Second, cfg.Backend.Timeout)
	assert.Equal(t, 500*time.Millisecond, cfg.Execution.PollInterval)
	assert.Equal(t, 10*time.Second, cfg.Execution.MaxPollInterval)
	assert.Equal(t, 40, cfg.Execution.MaxAttempts)
	assert.Equal(t, 3, cfg.Execution.GlobalMax)
	assert.Equal(t, "nodes.yaml", cfg.Catalog.Path)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, time.Minute, cfg.Events.TTL)
}

func TestLoad_PartialConfig(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
server:
  port: 3000
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 30*time.Second, cfg.Backend.Timeout)
	assert.Equal(t, 2*time.Second, cfg.Execution.PollInterval)
	assert.Equal(t, 600, cfg.Execution.MaxAttempts)
	assert.Equal(t, 10*time.Minute, cfg.Events.TTL)
	assert.Empty(t, cfg.Database.URL)
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "server:\n\t- not valid\n  port: oops")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_InvalidDuration(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "execution:\n  poll_interval: soon\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
server:
  port: 3000
backend:
  url: "http://from-file"
`)
	t.Setenv("NODEFLOW_BACKEND_URL", "http://from-env")
	t.Setenv("NODEFLOW_BACKEND_TOKEN", "tok")
	t.Setenv("DATABASE_URL", "postgres://env/db")
	t.Setenv("NODEFLOW_PORT", "7070")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://from-env", cfg.Backend.URL)
	assert.Equal(t, "tok", cfg.Backend.Token)
	assert.Equal(t, "postgres://env/db", cfg.Database.URL)
	assert.Equal(t, 7070, cfg.Server.Port)
}

func TestLoad_BadPortEnv(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "server:\n  port: 3000\n")
	t.Setenv("NODEFLOW_PORT", "eighty")

	_, err := Load(path)
	assert.ErrorContains(t, err, "NODEFLOW_PORT")
}

func TestLoadDefault_NoFile(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := LoadDefault()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 10, cfg.Execution.GlobalMax)
}

func TestLoadDefault_WithFile(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
server:
  host: "10.0.0.1"
  port: 4000
`)
	chdir(t, dir)

	cfg, err := LoadDefault()
	require.NoError(t, err)

	assert.Equal(t, "10.0.0.1", cfg.Server.Host)
	assert.Equal(t, 4000, cfg.Server.Port)
}

func TestLoadDefault_DotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"),
		[]byte("NODEFLOW_BACKEND_TOKEN=from-dotenv\n"), 0644))
	chdir(t, dir)
	// Registers cleanup that restores the variable godotenv sets.
	t.Setenv("NODEFLOW_BACKEND_TOKEN", "")
	os.Unsetenv("NODEFLOW_BACKEND_TOKEN")

	cfg, err := LoadDefault()
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.Backend.Token)
}
