package config

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetViper() {
	viper.Reset()
}

func TestLoad_AppliesDefaults(t *testing.T) {
	resetViper()
	t.Setenv("DATABASE_HOST", "")
	t.Setenv("ENV_FILE", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, int64(5), cfg.Worker.HeavyAdmissionLimit)
	assert.Equal(t, "redis://localhost:6379/0", cfg.KVStore.URL)
}

func TestValidateConfig_RejectsInvalidServerPort(t *testing.T) {
	cfg := &Config{
		Database: DatabaseConfig{Host: "localhost", Port: 5432, Name: "db"},
		Server:   ServerConfig{Port: 0},
		Worker:   WorkerConfig{HeavyAdmissionLimit: 1},
	}
	err := validateConfig(cfg)
	assert.Error(t, err)
}

func TestValidateConfig_RejectsNonPositiveAdmissionLimit(t *testing.T) {
	cfg := &Config{
		Database: DatabaseConfig{Host: "localhost", Port: 5432, Name: "db"},
		Server:   ServerConfig{Port: 8080},
		Worker:   WorkerConfig{HeavyAdmissionLimit: 0},
	}
	err := validateConfig(cfg)
	assert.Error(t, err)
}

func TestDatabaseConfig_DSNPrefersExplicitURL(t *testing.T) {
	d := DatabaseConfig{URL: "postgres://explicit", Host: "ignored"}
	assert.Equal(t, "postgres://explicit", d.DSN())
}
