package config

import (
	"testing"

	"github.com/evocrm/wabridge/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigReadsEnvironment(t *testing.T) {
	t.Setenv("APP_PORT", "4100")
	t.Setenv("APP_DEBUG", "true")
	t.Setenv("DB_DRIVER", "postgres")
	t.Setenv("DB_PORT", "5433")
	t.Setenv("EVOLUTION_API_URL", "http://gateway:8080/")
	t.Setenv("EVOLUTION_DEFAULT_INSTANCE", "main")
	t.Setenv("MESSAGE_WORKER_POOL_SIZE", "8")

	utils.LoadConfig(t.TempDir())
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "4100", cfg.App.Port)
	assert.True(t, cfg.App.Debug)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 5433, cfg.Database.Port)
	assert.Equal(t, "http://gateway:8080", cfg.Gateway.BaseURL)
	assert.Equal(t, "main", cfg.Gateway.DefaultInstance)
	assert.Equal(t, 8, cfg.WorkerPool.Size)
}

func TestLoadConfigDefaults(t *testing.T) {
	utils.LoadConfig(t.TempDir())
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "3000", cfg.App.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "55", cfg.Gateway.CountryCode)
	assert.Equal(t, 20, cfg.WorkerPool.Size)
}
