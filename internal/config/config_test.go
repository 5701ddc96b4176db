package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/romcoding/architex/internal/config"
	"github.com/romcoding/architex/pkg/types"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host,
		"Default host must be 127.0.0.1 for security")
	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1:8000", cfg.Server.Addr())
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, config.EngineSQLite, cfg.Storage.Engine)
	assert.Equal(t, "./data/architex.db", cfg.Storage.SQLitePath())
	assert.Equal(t, 5*time.Second, cfg.Storage.Timeout)
	assert.Equal(t, uint32(5), cfg.Storage.BreakerMaxFailures)
	assert.Equal(t, 20, cfg.Search.DefaultLimit)
	assert.Equal(t, 5, cfg.Search.TopUsage)
	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, types.Principal{ID: "user-123", Role: types.RoleArchitect}, cfg.Security.DevPrincipal())
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("ARCHITEX_HOST", "0.0.0.0")
	t.Setenv("ARCHITEX_PORT", "9090")
	t.Setenv("ARCHITEX_STORAGE_ENGINE", "Memory")
	t.Setenv("ARCHITEX_STORAGE_TIMEOUT", "250ms")
	t.Setenv("ARCHITEX_ALLOWED_ORIGINS", "https://a.example,https://b.example")

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9090", cfg.Server.Addr())
	assert.Equal(t, config.EngineMemory, cfg.Storage.Engine)
	assert.Equal(t, 250*time.Millisecond, cfg.Storage.Timeout)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.AllowedOrigins)
}

func TestLoad_YAMLFileWithEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "architex.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 7000
storage:
  engine: memory
search:
  default_limit: 10
log:
  level: debug
`), 0o600))
	t.Setenv("ARCHITEX_PORT", "7100")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7100, cfg.Server.Port, "environment wins over the file")
	assert.Equal(t, config.EngineMemory, cfg.Storage.Engine)
	assert.Equal(t, 10, cfg.Search.DefaultLimit)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_ProductionRequiresSecret(t *testing.T) {
	t.Setenv("ARCHITEX_SECURITY_MODE", "production")

	_, err := config.Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ARCHITEX_JWT_SECRET")

	t.Setenv("ARCHITEX_JWT_SECRET", "a-long-enough-production-secret")
	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.False(t, cfg.IsDevelopment())
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	cfg.Storage.Engine = "cassandra"
	cfg.Storage.Timeout = 0
	cfg.Server.Port = 0
	cfg.Search.DefaultLimit = 500

	err = cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"unknown engine", "timeout", "invalid port", "default limit"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidate_PostgresNeedsDSN(t *testing.T) {
	t.Setenv("ARCHITEX_STORAGE_ENGINE", "postgres")
	_, err := config.Load("")
	require.Error(t, err)

	t.Setenv("ARCHITEX_POSTGRES_DSN", "postgres://architex@localhost/architex?sslmode=disable")
	_, err = config.Load("")
	assert.NoError(t, err)
}
