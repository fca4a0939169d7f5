package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, domain.TierCommunity, cfg.Tier)
	assert.Equal(t, "sqlite", cfg.Repository.Driver)
	assert.Equal(t, 20, cfg.Server.MaxUploadMB)
	assert.Equal(t, 0.5, cfg.Scoring.StatusPDThreshold)
	assert.Empty(t, cfg.Scoring.PolicyFile)
	assert.Empty(t, cfg.Worker.Tenants)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadEnvironment(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("KESTREL_TIER", "pro")
	t.Setenv("KESTREL_PORT", "9090")
	t.Setenv("KESTREL_MAX_UPLOAD_MB", "5")
	t.Setenv("KESTREL_UPLOADS_PER_MINUTE", "10")
	t.Setenv("KESTREL_POSTGRES_DB", "ratings")
	t.Setenv("KESTREL_POLICY_FILE", "policy.yaml")
	t.Setenv("KESTREL_SQUASH", "false")
	t.Setenv("KESTREL_DEBUG", "true")
	t.Setenv("KESTREL_TENANTS", " acme, ,globex ")
	t.Setenv("KESTREL_CORS_ORIGINS", "https://app.example.com")
	t.Setenv("KESTREL_LOG_FORMAT", "TEXT")
	t.Setenv("KESTREL_REDIS_ADDR", "cache:6379")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, domain.TierPro, cfg.Tier)
	assert.Equal(t, "postgres", cfg.Repository.Driver)
	assert.Equal(t, "ratings", cfg.Repository.PostgresDB)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 5, cfg.Server.MaxUploadMB)
	assert.Equal(t, 10, cfg.Server.UploadsPerMinute)
	assert.Equal(t, "policy.yaml", cfg.Scoring.PolicyFile)
	assert.False(t, cfg.Scoring.Squash)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, []string{"acme", "globex"}, cfg.Worker.Tenants)
	assert.Equal(t, []string{"https://app.example.com"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "redis", cfg.Cache.Type)
	assert.Equal(t, "cache:6379", cfg.Cache.RedisAddr)
	assert.True(t, cfg.Cache.EnableTwoTier)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("KESTREL_SQLITE_PATH=/tmp/from-dotenv.db\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("KESTREL_SQLITE_PATH") })

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/from-dotenv.db", cfg.Repository.SQLitePath)
}

func TestLoadInvalid(t *testing.T) {
	t.Chdir(t.TempDir())

	t.Run("Driver", func(t *testing.T) {
		t.Setenv("KESTREL_DB_DRIVER", "mysql")
		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("LogFormat", func(t *testing.T) {
		t.Setenv("KESTREL_LOG_FORMAT", "xml")
		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("Threshold", func(t *testing.T) {
		t.Setenv("KESTREL_STATUS_PD_THRESHOLD", "1.5")
		_, err := Load()
		assert.Error(t, err)
	})
}

func TestLoadPolicy(t *testing.T) {
	t.Run("EmptyPathIsDefault", func(t *testing.T) {
		policy, err := LoadPolicy("")
		require.NoError(t, err)
		assert.Equal(t, domain.DefaultRatingPolicy(), policy)
	})

	t.Run("MissingFile", func(t *testing.T) {
		_, err := LoadPolicy(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})

	t.Run("PartialOverride", func(t *testing.T) {
		doc := `
blend_ties: even
sector_rules:
  - name: mining
    keywords: [mines]
    bonus: 1
`
		path := filepath.Join(t.TempDir(), "policy.yaml")
		require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

		policy, err := LoadPolicy(path)
		require.NoError(t, err)
		assert.Equal(t, domain.BlendTiesEven, policy.BlendTies)
		require.Len(t, policy.SectorRules, 1)
		assert.Equal(t, "mining", policy.SectorRules[0].Name)
		assert.Equal(t, domain.DefaultScale(), policy.Scale)
		assert.Equal(t, 0.70, policy.Caps.NoBonusIfPDGE)
	})

	t.Run("Invalid", func(t *testing.T) {
		_, err := ReadPolicy(strings.NewReader("scale: {not: [a list"))
		assert.Error(t, err)
	})

	t.Run("EmptyDocument", func(t *testing.T) {
		policy, err := ReadPolicy(strings.NewReader(""))
		require.NoError(t, err)
		assert.Equal(t, domain.DefaultRatingPolicy(), policy)
	})
}

func TestWritePolicyRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WritePolicy(&buf, domain.DefaultRatingPolicy()))
	assert.Contains(t, buf.String(), "target_shares:")
	assert.Contains(t, buf.String(), "no_bonus_if_pd_ge: 0.7")

	policy, err := ReadPolicy(&buf)
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultRatingPolicy(), policy)
}
