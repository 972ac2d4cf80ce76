package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"

	// DevJWTSecret is only accepted with the memory driver
	DevJWTSecret = "dev-secret-change-me"
)

// Config holds the application configuration
type Config struct {
	ServerAddress string        `mapstructure:"SERVER_ADDRESS"`
	Port          string        `mapstructure:"PORT"`
	StorageDriver string        `mapstructure:"STORAGE_DRIVER"`
	PostgresConn  string        `mapstructure:"POSTGRES_CONN"`
	MigrationURL  string        `mapstructure:"MIGRATION_URL"`
	JWTSecret     string        `mapstructure:"JWT_SECRET"`
	LockTimeout   time.Duration `mapstructure:"BIDDING_LOCK_TIMEOUT"`
	MaxAttempts   int           `mapstructure:"BIDDING_MAX_ATTEMPTS"`
	LogLevel      string        `mapstructure:"LOG_LEVEL"`
	SeedDemoLots  bool          `mapstructure:"SEED_DEMO_LOTS"`
}

var keys = []string{
	"SERVER_ADDRESS", "PORT", "STORAGE_DRIVER", "POSTGRES_CONN", "MIGRATION_URL",
	"JWT_SECRET", "BIDDING_LOCK_TIMEOUT", "BIDDING_MAX_ATTEMPTS", "LOG_LEVEL", "SEED_DEMO_LOTS",
}

// LoadConfig reads app.env from path when present and lets environment variables override it
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("app")
	v.SetConfigType("env")

	v.SetDefault("SERVER_ADDRESS", ":8080")
	v.SetDefault("PORT", "")
	v.SetDefault("STORAGE_DRIVER", DriverMemory)
	v.SetDefault("POSTGRES_CONN", "")
	v.SetDefault("MIGRATION_URL", "file://internal/db/migrations")
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("BIDDING_LOCK_TIMEOUT", 2*time.Second)
	v.SetDefault("BIDDING_MAX_ATTEMPTS", 3)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("SEED_DEMO_LOTS", true)

	v.AutomaticEnv()
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return Config{}, fmt.Errorf("bind %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	if cfg.Port != "" {
		cfg.ServerAddress = ":" + cfg.Port
	}
	if cfg.JWTSecret == "" && cfg.StorageDriver == DriverMemory {
		cfg.JWTSecret = DevJWTSecret
	}

	return cfg, cfg.Validate()
}

// Validate checks the combination of settings
func (c Config) Validate() error {
	switch c.StorageDriver {
	case DriverMemory:
	case DriverPostgres:
		if c.PostgresConn == "" {
			return fmt.Errorf("config: POSTGRES_CONN is required when STORAGE_DRIVER=%s", DriverPostgres)
		}
		if c.JWTSecret == "" {
			return fmt.Errorf("config: JWT_SECRET is required when STORAGE_DRIVER=%s", DriverPostgres)
		}
	default:
		return fmt.Errorf("config: unknown STORAGE_DRIVER %q", c.StorageDriver)
	}
	if c.LockTimeout <= 0 {
		return fmt.Errorf("config: BIDDING_LOCK_TIMEOUT must be positive")
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("config: BIDDING_MAX_ATTEMPTS must be at least 1")
	}
	return nil
}
