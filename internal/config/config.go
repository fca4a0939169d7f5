// Package config loads the Kestrel configuration from the environment and
// the rating policy from YAML.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Load builds the configuration for the tier named by KESTREL_TIER and
// overlays the KESTREL_* environment variables. A .env file in the
// working directory is loaded first when present.
func Load() (*domain.Config, error) {
	_ = godotenv.Load()

	cfg := domain.DefaultConfig()
	if strings.EqualFold(os.Getenv("KESTREL_TIER"), string(domain.TierPro)) {
		cfg = domain.ProConfig()
	}

	cfg.Server.Host = getEnv("KESTREL_HOST", cfg.Server.Host)
	cfg.Server.Port = getEnvAsInt("KESTREL_PORT", cfg.Server.Port)
	cfg.Server.MaxUploadMB = getEnvAsInt("KESTREL_MAX_UPLOAD_MB", cfg.Server.MaxUploadMB)
	cfg.Server.UploadsPerMinute = getEnvAsInt("KESTREL_UPLOADS_PER_MINUTE", cfg.Server.UploadsPerMinute)
	cfg.Server.AllowedOrigins = getEnvAsList("KESTREL_CORS_ORIGINS", cfg.Server.AllowedOrigins)

	cfg.Repository.Driver = getEnv("KESTREL_DB_DRIVER", cfg.Repository.Driver)
	cfg.Repository.SQLitePath = getEnv("KESTREL_SQLITE_PATH", cfg.Repository.SQLitePath)
	cfg.Repository.PostgresHost = getEnv("KESTREL_POSTGRES_HOST", cfg.Repository.PostgresHost)
	cfg.Repository.PostgresPort = getEnvAsInt("KESTREL_POSTGRES_PORT", cfg.Repository.PostgresPort)
	cfg.Repository.PostgresUser = getEnv("KESTREL_POSTGRES_USER", cfg.Repository.PostgresUser)
	cfg.Repository.PostgresPassword = getEnv("KESTREL_POSTGRES_PASSWORD", cfg.Repository.PostgresPassword)
	cfg.Repository.PostgresDB = getEnv("KESTREL_POSTGRES_DB", cfg.Repository.PostgresDB)
	cfg.Repository.PostgresSSLMode = getEnv("KESTREL_POSTGRES_SSLMODE", cfg.Repository.PostgresSSLMode)

	if addr := os.Getenv("KESTREL_REDIS_ADDR"); addr != "" {
		cfg.Cache.Type = "redis"
		cfg.Cache.RedisAddr = addr
	}
	cfg.Cache.RedisPassword = getEnv("KESTREL_REDIS_PASSWORD", cfg.Cache.RedisPassword)

	if url := os.Getenv("KESTREL_NATS_URL"); url != "" {
		cfg.EventBus.Type = "nats"
		cfg.EventBus.NATSUrl = url
	}
	cfg.EventBus.NATSToken = getEnv("KESTREL_NATS_TOKEN", cfg.EventBus.NATSToken)

	cfg.Scoring.PolicyFile = getEnv("KESTREL_POLICY_FILE", cfg.Scoring.PolicyFile)
	cfg.Scoring.ModelFile = getEnv("KESTREL_MODEL_FILE", cfg.Scoring.ModelFile)
	cfg.Scoring.Squash = getEnvAsBool("KESTREL_SQUASH", cfg.Scoring.Squash)
	cfg.Scoring.MaxWorkers = getEnvAsInt("KESTREL_MAX_WORKERS", cfg.Scoring.MaxWorkers)
	cfg.Scoring.StatusPDThreshold = getEnvAsFloat("KESTREL_STATUS_PD_THRESHOLD", cfg.Scoring.StatusPDThreshold)

	cfg.Worker.Tenants = getEnvAsList("KESTREL_TENANTS", cfg.Worker.Tenants)

	cfg.Logging.Level = strings.ToLower(getEnv("KESTREL_LOG_LEVEL", cfg.Logging.Level))
	cfg.Logging.Format = strings.ToLower(getEnv("KESTREL_LOG_FORMAT", cfg.Logging.Format))
	if getEnvAsBool("KESTREL_DEBUG", false) {
		cfg.Logging.Level = "debug"
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the services cannot start with.
func Validate(cfg *domain.Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid port %d", cfg.Server.Port)
	}
	if cfg.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("max upload size must be positive, got %d MB", cfg.Server.MaxUploadMB)
	}
	switch cfg.Repository.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database driver %q", cfg.Repository.Driver)
	}
	if t := cfg.Scoring.StatusPDThreshold; t <= 0 || t > 1 {
		return fmt.Errorf("status PD threshold must be in (0, 1], got %v", t)
	}
	switch cfg.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("unsupported log format %q", cfg.Logging.Format)
	}
	return nil
}

// LoadPolicy reads a YAML rating policy. An empty path yields the default
// policy. Sections missing from the file keep their default values.
func LoadPolicy(path string) (*domain.RatingPolicy, error) {
	if path == "" {
		return domain.DefaultRatingPolicy(), nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open policy file %s: %w", path, err)
	}
	defer f.Close()

	return ReadPolicy(f)
}

// ReadPolicy decodes a YAML rating policy from r over the defaults.
func ReadPolicy(r io.Reader) (*domain.RatingPolicy, error) {
	policy := domain.DefaultRatingPolicy()

	var doc domain.RatingPolicy
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse policy: %w", err)
	}

	if len(doc.Scale) > 0 {
		policy.Scale = doc.Scale
	}
	if len(doc.TargetShares) > 0 {
		policy.TargetShares = doc.TargetShares
	}
	if doc.Caps != (domain.OverlayCaps{}) {
		policy.Caps = doc.Caps
	}
	if doc.SectorRules != nil {
		policy.SectorRules = doc.SectorRules
	}
	if doc.BlendTies != "" {
		policy.BlendTies = doc.BlendTies
	}
	return policy, nil
}

// WritePolicy renders policy as YAML.
func WritePolicy(w io.Writer, policy *domain.RatingPolicy) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(policy); err != nil {
		return fmt.Errorf("failed to encode policy: %w", err)
	}
	return enc.Close()
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return v
	}
	return fallback
}

// getEnvAsList splits a comma-separated variable, dropping blank items.
func getEnvAsList(key string, fallback []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getEnvAsBool(key string, fallback bool) bool {
	if v, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}
