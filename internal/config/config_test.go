package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("CONFIG_ENV_PATH", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("APP_ENV", "development")
	t.Setenv("DATABASE_DSN", "file:test.db")
	t.Setenv("MYSQL_DSN", "")
	t.Setenv("DB_DRIVER", "sqlite3")
	t.Setenv("GENERATION_PROVIDER", "replicate")
	t.Setenv("REPLICATE_API_TOKEN", "r8_token")
	t.Setenv("REPLICATE_MODEL_VERSION", "abc123")
	t.Setenv("REPLICATE_WEBHOOK_SECRET", "")
	t.Setenv("PAYMENT_WEBHOOK_SECRET", "")
	t.Setenv("STORAGE_DRIVER", "filesystem")
	t.Setenv("PUBLIC_BASE_URL", "")
	t.Setenv("ADMIN_USERNAME", "")
	t.Setenv("ADMIN_PASSWORD", "")
}

func TestLoadDefaults(t *testing.T) {
	setBaseEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite3", cfg.DBDriver)
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, 15*time.Second, cfg.PollTimeout)
	assert.Equal(t, 30*time.Second, cfg.PollAfter)
	assert.Equal(t, time.Duration(0), cfg.SweepInterval)
	assert.Equal(t, 1, cfg.CreditsPerJob)
	assert.True(t, cfg.FreeTierEnabled)
	assert.Equal(t, []string{"*"}, cfg.CORSAllowedOrigins)
	assert.False(t, cfg.IsProduction())
}

func TestLoadMissingDatabaseDSN(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("DATABASE_DSN", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_DSN")
}

func TestLoadFallsBackToMySQLDSN(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("DATABASE_DSN", "")
	t.Setenv("MYSQL_DSN", "user:pass@tcp(db:3306)/app")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "user:pass@tcp(db:3306)/app", cfg.DatabaseDSN)
}

func TestLoadProductionRequiresWebhookSecrets(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("APP_ENV", "production")
	t.Setenv("STORAGE_DRIVER", "s3")
	t.Setenv("S3_REGION", "eu-central-1")
	t.Setenv("S3_ACCESS_KEY", "ak")
	t.Setenv("S3_SECRET_KEY", "sk")
	t.Setenv("S3_BUCKET", "results")
	t.Setenv("S3_PUBLIC_BASE_URL", "https://cdn.example.com")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REPLICATE_WEBHOOK_SECRET")
	assert.Contains(t, err.Error(), "PAYMENT_WEBHOOK_SECRET")
}

func TestLoadProductionRequiresAdminCredentials(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("APP_ENV", "production")
	t.Setenv("REPLICATE_WEBHOOK_SECRET", "whsec_dGVzdA==")
	t.Setenv("PAYMENT_WEBHOOK_SECRET", "secret")
	t.Setenv("STORAGE_DRIVER", "s3")
	t.Setenv("S3_REGION", "eu-central-1")
	t.Setenv("S3_ACCESS_KEY", "ak")
	t.Setenv("S3_SECRET_KEY", "sk")
	t.Setenv("S3_BUCKET", "results")
	t.Setenv("S3_PUBLIC_BASE_URL", "https://cdn.example.com")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ADMIN_USERNAME")
	assert.Contains(t, err.Error(), "ADMIN_PASSWORD")

	t.Setenv("ADMIN_USERNAME", "ops")
	t.Setenv("ADMIN_PASSWORD", "change-me")
	_, err = Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ADMIN_PASSWORD")

	t.Setenv("ADMIN_PASSWORD", "s3cret-admin")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "ops", cfg.AdminUsername)
}

func TestLoadRejectsFilesystemStorageInProduction(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("APP_ENV", "production")
	t.Setenv("REPLICATE_WEBHOOK_SECRET", "whsec_dGVzdA==")
	t.Setenv("PAYMENT_WEBHOOK_SECRET", "secret")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "filesystem storage")
}

func TestLoadKIERequiresAPIKey(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("GENERATION_PROVIDER", "kie")
	t.Setenv("KIE_API_KEY", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "KIE_API_KEY")
}

func TestLoadReadsEnvFile(t *testing.T) {
	setBaseEnv(t)
	path := filepath.Join(t.TempDir(), "app.env")
	require.NoError(t, os.WriteFile(path, []byte("POLL_AFTER_SECONDS=5\nCORS_ALLOWED_ORIGINS=https://a.example, https://b.example\n"), 0o600))
	t.Setenv("CONFIG_ENV_PATH", path)
	t.Setenv("POLL_AFTER_SECONDS", "")
	t.Setenv("CORS_ALLOWED_ORIGINS", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.PollAfter)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSAllowedOrigins)
}

func TestCallbackURLRequiresHTTPS(t *testing.T) {
	cfg := Config{PublicBaseURL: "http://localhost:8080"}
	assert.Empty(t, cfg.CallbackURL("replicate"))

	cfg.PublicBaseURL = ""
	assert.Empty(t, cfg.CallbackURL("replicate"))

	cfg.PublicBaseURL = "https://photo.example.com"
	assert.Equal(t, "https://photo.example.com/webhooks/generation/replicate", cfg.CallbackURL("replicate"))
}

func TestNormalizeKIEBaseURL(t *testing.T) {
	assert.Equal(t, "https://api.kie.ai", normalizeKIEBaseURL("kie.ai", "https://fallback"))
	assert.Equal(t, "https://api.kie.ai", normalizeKIEBaseURL("https://kie.ai/", "https://fallback"))
	assert.Equal(t, "https://fallback", normalizeKIEBaseURL("  ", "https://fallback"))
}
