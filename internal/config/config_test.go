package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// clearEnv blanks every config key so the host environment cannot leak into a test
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range keys {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	require.Equal(t, ":8080", cfg.ServerAddress)
	require.Equal(t, DriverMemory, cfg.StorageDriver)
	require.Equal(t, DevJWTSecret, cfg.JWTSecret)
	require.Equal(t, 2*time.Second, cfg.LockTimeout)
	require.Equal(t, 3, cfg.MaxAttempts)
	require.Equal(t, "info", cfg.LogLevel)
	require.True(t, cfg.SeedDemoLots)
}

func TestLoadConfig_FileAndEnv(t *testing.T) {
	clearEnv(t)

	dir := t.TempDir()
	content := "STORAGE_DRIVER=postgres\nPOSTGRES_CONN=postgres://u:p@localhost:5432/auction\nJWT_SECRET=from-file\nBIDDING_MAX_ATTEMPTS=5\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.env"), []byte(content), 0o600))

	t.Setenv("JWT_SECRET", "from-env")
	t.Setenv("BIDDING_LOCK_TIMEOUT", "750ms")
	t.Setenv("PORT", "9090")
	t.Setenv("SEED_DEMO_LOTS", "false")

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	require.Equal(t, DriverPostgres, cfg.StorageDriver)
	require.Equal(t, "postgres://u:p@localhost:5432/auction", cfg.PostgresConn)
	require.Equal(t, "from-env", cfg.JWTSecret)
	require.Equal(t, 5, cfg.MaxAttempts)
	require.Equal(t, 750*time.Millisecond, cfg.LockTimeout)
	require.Equal(t, ":9090", cfg.ServerAddress)
	require.False(t, cfg.SeedDemoLots)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "unknown_driver", env: map[string]string{"STORAGE_DRIVER": "mongo"}},
		{name: "postgres_without_conn", env: map[string]string{"STORAGE_DRIVER": "postgres", "JWT_SECRET": "s"}},
		{name: "postgres_without_secret", env: map[string]string{"STORAGE_DRIVER": "postgres", "POSTGRES_CONN": "postgres://x"}},
		{name: "zero_attempts", env: map[string]string{"BIDDING_MAX_ATTEMPTS": "0"}},
		{name: "negative_timeout", env: map[string]string{"BIDDING_LOCK_TIMEOUT": "-1s"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}

			_, err := LoadConfig(t.TempDir())
			require.Error(t, err)
		})
	}
}
