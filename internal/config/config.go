// Package config loads the process-wide configuration from environment
// variables (optionally backed by a .env file), matching spec §6's
// enumerated configuration surface. Grounded on
// codeready-toolchain/tarsy's pkg/config/queue.go (typed, defaulted
// sub-configs) and pkg/database/config.go (env-var parsing with
// validation) — generalized from tarsy's alert-chain registries (dropped;
// no equivalent concept in this domain) to this system's job/vision/
// phenomenon knobs.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Database holds PostgreSQL connection configuration.
type Database struct {
	Host            string
	Port            int
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DSN builds a libpq-style connection string for pgx/v5's stdlib driver.
func (d Database) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
	)
}

// Queue holds worker-pool and lease/heartbeat tuning, matching spec §5/§6.
type Queue struct {
	// WorkerCount is the logical worker pool size per process (spec default 2, hard cap 3).
	WorkerCount int
	// BatchConcurrency is the Pipeline B batch-runner semaphore size (default 2, cap 3).
	BatchConcurrency int
	// LeaseTTL is how long a claimed item's lease lasts before it is reclaimable.
	LeaseTTL time.Duration
	// HeartbeatInterval is the maximum interval between item/job heartbeat touches.
	HeartbeatInterval time.Duration
	// StaleThreshold is how long without a heartbeat before a job reads as "stale".
	StaleThreshold time.Duration
	// PollInterval is the base delay between claim attempts when no item is available.
	PollInterval time.Duration
	// JitterMin/JitterMax bound the batch-runner's per-launch jitter.
	JitterMin time.Duration
	JitterMax time.Duration
}

// Cache holds the degraded-read LRU cache tuning (spec §6 "Degraded reads").
type Cache struct {
	MaxKeys int
	TTL     time.Duration
}

// Vision holds the vision-gate mode configuration (spec §6).
type Vision struct {
	Mode      string // off|auto|force
	StageCap  string // v1|v2|auto
	Threshold float64
}

// Phenomenon holds the match-or-mint registry tuning (spec §6).
type Phenomenon struct {
	EnrichmentEnabled    bool
	EnrichInline         bool
	PersistAssignments   bool
	MatchThreshold       float64
	MatchTopK            int
	EmbeddingDim         int
}

// Config is the umbrella process configuration.
type Config struct {
	HTTPPort       string
	GinMode        string
	Database       Database
	Queue          Queue
	Cache          Cache
	Vision         Vision
	Phenomenon     Phenomenon
	SlackToken     string
	SlackChannelID string
	DashboardURL    string
	EmbeddingAPIKey string
	LLMAPIKey       string
	AnthropicModel  string
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// Load reads configuration from the environment with production-ready
// defaults, and hard-fails (spec §7 "Operator error") when required
// credentials are missing.
func Load() (*Config, error) {
	port, err := strconv.Atoi(getEnv("DB_PORT", "5432"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_PORT: %w", err)
	}

	cfg := &Config{
		HTTPPort: getEnv("HTTP_PORT", "8080"),
		GinMode:  getEnv("GIN_MODE", "release"),
		Database: Database{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            port,
			User:            getEnv("DB_USER", "discourse_lens"),
			Password:        os.Getenv("DB_PASSWORD"),
			Name:            getEnv("DB_NAME", "discourse_lens"),
			SSLMode:         getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 10),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", time.Hour),
			ConnMaxIdleTime: getEnvDuration("DB_CONN_MAX_IDLE_TIME", 15*time.Minute),
		},
		Queue: Queue{
			WorkerCount:       clampInt(getEnvInt("WORKER_COUNT", 2), 1, 3),
			BatchConcurrency:  clampInt(getEnvInt("BATCH_CONCURRENCY", 2), 1, 3),
			LeaseTTL:          getEnvDuration("LEASE_TTL", 60*time.Second),
			HeartbeatInterval: getEnvDuration("HEARTBEAT_INTERVAL", 4*time.Second),
			StaleThreshold:    getEnvDuration("STALE_THRESHOLD", 60*time.Second),
			PollInterval:      getEnvDuration("POLL_INTERVAL", 1*time.Second),
			JitterMin:         getEnvDuration("BATCH_JITTER_MIN", 500*time.Millisecond),
			JitterMax:         getEnvDuration("BATCH_JITTER_MAX", time.Second),
		},
		Cache: Cache{
			MaxKeys: getEnvInt("CACHE_MAX_KEYS", 256),
			TTL:     getEnvDuration("CACHE_TTL", 2*time.Second),
		},
		Vision: Vision{
			Mode:      getEnv("VISION_MODE", "auto"),
			StageCap:  getEnv("VISION_STAGE_CAP", "auto"),
			Threshold: getEnvFloat("VISION_THRESHOLD", 2.0),
		},
		Phenomenon: Phenomenon{
			EnrichmentEnabled:  getEnvBool("ENABLE_PHENOMENON_ENRICHMENT", true),
			EnrichInline:       getEnvBool("DL_ENRICH_INLINE", true),
			PersistAssignments: getEnvBool("DL_PERSIST_ASSIGNMENTS", false),
			MatchThreshold:     getEnvFloat("PHENOMENON_MATCH_THRESHOLD", 0.86),
			MatchTopK:          getEnvInt("PHENOMENON_MATCH_TOPK", 5),
			EmbeddingDim:       getEnvInt("EMBEDDING_DIM", 768),
		},
		SlackToken:      os.Getenv("SLACK_BOT_TOKEN"),
		SlackChannelID:  os.Getenv("SLACK_CHANNEL_ID"),
		DashboardURL:    getEnv("DASHBOARD_URL", "http://localhost:5173"),
		EmbeddingAPIKey: os.Getenv("EMBEDDING_API_KEY"),
		LLMAPIKey:       os.Getenv("LLM_API_KEY"),
		AnthropicModel:  getEnv("ANTHROPIC_MODEL", ""),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func (c *Config) validate() error {
	if c.Database.Password == "" {
		return fmt.Errorf("DB_PASSWORD is required")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("DB_MAX_IDLE_CONNS (%d) cannot exceed DB_MAX_OPEN_CONNS (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}
	if c.EmbeddingAPIKey == "" {
		return fmt.Errorf("EMBEDDING_API_KEY is required (missing embedding credentials is a hard failure per spec)")
	}
	if c.LLMAPIKey == "" {
		return fmt.Errorf("LLM_API_KEY is required")
	}
	return nil
}
