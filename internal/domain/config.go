package domain

import "time"

// Config is the service configuration. Tier picks the defaults; the
// environment overrides single fields.
type Config struct {
	Tier Tier `json:"tier"`

	Server     ServerConfig     `json:"server"`
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`
	Worker     WorkerConfig     `json:"worker"`
	Scoring    ScoringConfig    `json:"scoring"`
	Logging    LoggingConfig    `json:"logging"`
}

// ServerConfig holds the HTTP listener and upload limits.
type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`

	// Timeouts in seconds.
	ReadTimeout  int `json:"readTimeout"`
	WriteTimeout int `json:"writeTimeout"`

	// MaxUploadMB bounds the size of uploaded spreadsheets.
	MaxUploadMB int `json:"maxUploadMb"`

	// UploadsPerMinute limits batch submissions per tenant (0 = unlimited).
	UploadsPerMinute int `json:"uploadsPerMinute"`

	// AllowedOrigins lists the browser origins allowed by CORS.
	AllowedOrigins []string `json:"allowedOrigins"`
}

// WorkerConfig scopes the asynchronous rater.
type WorkerConfig struct {
	// Tenants restricts the rater to these tenants. Empty serves all of
	// them through one global subscription.
	Tenants []string `json:"tenants"`
}

// ScoringConfig holds the PD and rating settings.
type ScoringConfig struct {
	// PolicyFile is an optional YAML rating policy. Empty means defaults.
	PolicyFile string `json:"policyFile"`

	// ModelFile is an optional PD model artifact. Empty or missing means
	// PD comes from the financial-health criteria.
	ModelFile string `json:"modelFile"`

	// Squash enables logit compression of estimated PD.
	Squash bool `json:"squash"`

	// StatusPDThreshold labels an entity defaulted when no criteria apply
	// and its PD is at or above this value.
	StatusPDThreshold float64 `json:"statusPdThreshold"`

	// MaxWorkers bounds concurrent criteria evaluation.
	MaxWorkers int `json:"maxWorkers"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// Tier selects a backend set.
type Tier string

const (
	// TierCommunity runs on one node: SQLite, in-process cache and bus.
	TierCommunity Tier = "community"

	// TierPro shares state between replicas: PostgreSQL, Redis and NATS.
	TierPro Tier = "pro"
)

// DefaultConfig returns the Community tier defaults.
func DefaultConfig() *Config {
	return &Config{
		Tier: TierCommunity,
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8080,
			ReadTimeout:    30,
			WriteTimeout:   30,
			MaxUploadMB:    20,
			AllowedOrigins: []string{"*"},
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 256,
			LocalTTL:     5 * time.Minute,
			BatchTTL:     time.Hour,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 100,
		},
		Scoring: ScoringConfig{
			Squash:            true,
			StatusPDThreshold: 0.5,
			MaxWorkers:        8,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// ProConfig returns the Pro tier defaults.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "kestrel",
	}
	cfg.Cache = CacheConfig{
		Type:          "redis",
		RedisAddr:     "localhost:6379",
		EnableTwoTier: true,
		LocalMaxSize:  64,
		LocalTTL:      5 * time.Minute,
		BatchTTL:      24 * time.Hour,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	return cfg
}
