package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var configKeys = []string{
	"APP_PORT", "POSTGRES_HOST", "POSTGRES_PORT", "POSTGRES_USER", "POSTGRES_PASSWORD", "POSTGRES_DB",
	"POSTGRES_SSLMODE", "REDIS_HOST", "REDIS_PORT", "REDIS_PASSWORD", "REDIS_DB", "IDENTITY_BASE_URL",
	"IDENTITY_TIMEOUT", "OUTBOX_POLL_INTERVAL", "OUTBOX_BATCH_SIZE", "OUTBOX_MAX_RETRIES", "DEDUPE_TTL",
	"RECONCILE_INTERVAL", "LOG_FILE", "LOG_LEVEL", "AUTO_MIGRATE",
}

// clearEnv unsets every config variable for the test and restores them after.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range configKeys {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
}

func missingFile(t *testing.T) string {
	return filepath.Join(t.TempDir(), "missing.env")
}

func TestLoadConfig_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("POSTGRES_USER", "app")
	t.Setenv("POSTGRES_PASSWORD", "pw")
	t.Setenv("POSTGRES_DB", "orgchart")

	cfg, err := LoadConfig(missingFile(t))
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.AppPort)
	assert.Equal(t, "host=localhost port=5432 user=app password=pw dbname=orgchart sslmode=disable", cfg.PostgresDSN())
	assert.Equal(t, "localhost:6379", cfg.RedisAddr())
	assert.Equal(t, 5*time.Second, cfg.IdentityTimeout)
	assert.Equal(t, 100, cfg.OutboxBatchSize)
	assert.Equal(t, 5, cfg.OutboxMaxRetries)
	assert.Equal(t, 24*time.Hour, cfg.DedupeTTL)
	assert.Equal(t, time.Minute, cfg.ReconcileInterval)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.True(t, cfg.AutoMigrate)
}

func TestLoadConfig_RequiredMissing(t *testing.T) {
	clearEnv(t)
	t.Setenv("POSTGRES_PASSWORD", "pw")
	t.Setenv("POSTGRES_DB", "orgchart")

	_, err := LoadConfig(missingFile(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "POSTGRES_USER")
}

func TestLoadConfig_DotEnvFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte(
		"POSTGRES_USER=app\nPOSTGRES_PASSWORD=pw\nPOSTGRES_DB=orgchart\nREDIS_HOST=cache\nOUTBOX_POLL_INTERVAL=250ms\n"), 0o600))
	// Values already in the environment win over the file.
	t.Setenv("POSTGRES_DB", "override")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "override", cfg.PostgresDB)
	assert.Equal(t, "cache:6379", cfg.RedisAddr())
	assert.Equal(t, 250*time.Millisecond, cfg.OutboxPollInterval)
}

func TestLoadConfig_RejectsBadValues(t *testing.T) {
	tests := map[string]string{
		"OUTBOX_BATCH_SIZE":  "0",
		"OUTBOX_MAX_RETRIES": "-1",
		"IDENTITY_TIMEOUT":   "soon",
	}
	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("POSTGRES_USER", "app")
			t.Setenv("POSTGRES_PASSWORD", "pw")
			t.Setenv("POSTGRES_DB", "orgchart")
			t.Setenv(key, value)

			_, err := LoadConfig(missingFile(t))
			assert.Error(t, err)
		})
	}
}
