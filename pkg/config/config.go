// Package config is the Viper + godotenv configuration layer, adapted from
// the teacher's pkg/config.Load: same env-file loading policy (dev reads a
// local .env, production reads a fixed path, both fall back to automatic
// env-var binding) and the same mapstructure struct-of-structs shape,
// re-keyed from the agriculture domain's sections to this service's.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const productionEnvPath = "/etc/gfl-ze-watcher-sub000/.env"

// Config holds all application configuration.
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	KVStore  KVStoreConfig  `mapstructure:"kv_store"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Sweeper  SweeperConfig  `mapstructure:"sweeper"`
}

// DatabaseConfig holds the Postgres connection configuration.
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"ssl_mode"`
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	Host         string        `mapstructure:"host"`
	GinMode      string        `mapstructure:"gin_mode"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// KVStoreConfig holds the shared (tier 2) cache/lock backend configuration.
type KVStoreConfig struct {
	URL string `mapstructure:"url"`
}

// CacheConfig holds CacheCore tuning.
type CacheConfig struct {
	InProcessCacheSize int           `mapstructure:"in_process_cache_size"`
	FingerprintTTL     time.Duration `mapstructure:"fingerprint_ttl"`
}

// WorkerConfig holds WorkerCore tuning.
type WorkerConfig struct {
	HeavyAdmissionLimit int64         `mapstructure:"heavy_admission_limit"`
	LightQueryTTL       time.Duration `mapstructure:"light_query_ttl"`
	HeavyQueryTTL       time.Duration `mapstructure:"heavy_query_ttl"`
}

// NotifyConfig holds NotifyCore's listen channels and self-call fan-out. Each
// fan-out list holds URL templates with `{container-id}`/`{entity-id}` or
// `{container-id}`/`{rotation-name}` placeholders, substituted per
// notification before the self-call is issued.
type NotifyConfig struct {
	SelfCallBaseURL      string   `mapstructure:"self_call_base_url"`
	EntityActivityFanOut []string `mapstructure:"entity_activity_fan_out"`
	RotationEndedFanOut  []string `mapstructure:"rotation_ended_fan_out"`
}

// SweeperConfig holds SweeperCore's periodic intervals.
type SweeperConfig struct {
	RotationInterval          time.Duration `mapstructure:"rotation_interval"`
	RecentParticipantInterval time.Duration `mapstructure:"recent_participant_interval"`
}

// Load loads configuration using Viper from environment variables and
// config files.
func Load() (*Config, error) {
	if err := loadRuntimeEnv(); err != nil {
		return nil, err
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("$HOME/.gfl-ze-watcher-sub000")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults()

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")
	viper.BindEnv("kv_store.url", "KV_STORE_URL")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func loadRuntimeEnv() error {
	customEnvPath := strings.TrimSpace(os.Getenv("ENV_FILE"))
	if customEnvPath != "" {
		if err := godotenv.Load(customEnvPath); err != nil {
			return fmt.Errorf("failed to load ENV_FILE '%s': %w", customEnvPath, err)
		}
		return nil
	}

	if isProductionRuntime() {
		if err := godotenv.Load(productionEnvPath); err != nil {
			return fmt.Errorf("production env file is required at '%s': %w", productionEnvPath, err)
		}
		return nil
	}

	_ = godotenv.Load()
	return nil
}

func isProductionRuntime() bool {
	productionEnvKeys := []string{"APP_ENV", "ENVIRONMENT", "ENV", "GO_ENV"}
	for _, key := range productionEnvKeys {
		if strings.EqualFold(strings.TrimSpace(os.Getenv(key)), "production") {
			return true
		}
	}
	return strings.EqualFold(strings.TrimSpace(os.Getenv("GIN_MODE")), "release")
}

func setDefaults() {
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.name", "gfl_ze_watcher")
	viper.SetDefault("database.ssl_mode", "disable")

	viper.SetDefault("server.port", 3000)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.gin_mode", "release")
	viper.SetDefault("server.read_timeout", 30*time.Second)
	viper.SetDefault("server.write_timeout", 30*time.Second)
	viper.SetDefault("server.idle_timeout", 120*time.Second)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")

	viper.SetDefault("kv_store.url", "redis://localhost:6379/0")

	viper.SetDefault("cache.in_process_cache_size", 10000)
	viper.SetDefault("cache.fingerprint_ttl", 5*time.Second)

	viper.SetDefault("worker.heavy_admission_limit", 5)
	viper.SetDefault("worker.light_query_ttl", 30*time.Second)
	viper.SetDefault("worker.heavy_query_ttl", 10*time.Minute)

	viper.SetDefault("notify.self_call_base_url", "http://localhost:3000")
	viper.SetDefault("notify.entity_activity_fan_out", []string{})
	viper.SetDefault("notify.rotation_ended_fan_out", []string{})

	viper.SetDefault("sweeper.rotation_interval", time.Hour)
	viper.SetDefault("sweeper.recent_participant_interval", time.Hour)
}

func validateConfig(config *Config) error {
	if config.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if config.Database.Port <= 0 || config.Database.Port > 65535 {
		return fmt.Errorf("database port must be between 1 and 65535")
	}
	if config.Database.Name == "" {
		return fmt.Errorf("database name is required")
	}
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535")
	}
	if config.Worker.HeavyAdmissionLimit <= 0 {
		return fmt.Errorf("worker heavy admission limit must be positive")
	}
	return nil
}

// GetConfigString returns a string configuration value, for callers that
// need a single value outside the struct.
func GetConfigString(key string) string {
	return viper.GetString(key)
}
