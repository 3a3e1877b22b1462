package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures process-level configuration. Everything comes from the
// environment so main stays lean and deployments stay twelve-factor.
type Config struct {
	Addr string

	// PostgresDSN enables the Postgres-backed stores when set; empty means
	// in-memory stores (development and tests).
	PostgresDSN string

	// RedisURL enables the Redis claim-flag store for multi-instance
	// deployments; empty means the in-process store.
	RedisURL string
	Redis    RedisConfig

	// Kafka audit stream. Empty brokers disable the stream worker; audit
	// events still land in the audit store.
	KafkaBrokers []string
	AuditTopic   string

	// JWTSigningKey verifies operator capability tokens.
	JWTSigningKey string

	// ExclusionLimit bounds the exclusion set accepted at dividend creation.
	ExclusionLimit int

	// Treasury is the default destination for reclaims and withholding
	// withdrawals when a dividend does not name its own.
	Treasury string
}

// RedisConfig tunes the go-redis client.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultExclusionLimit bounds exclusion sets when EXCLUSION_LIMIT is unset.
const DefaultExclusionLimit = 150

// FromEnv builds a Config from environment variables.
func FromEnv() Config {
	cfg := Config{
		Addr:           envOr("MERIDIAN_ADDR", ":8080"),
		PostgresDSN:    os.Getenv("MERIDIAN_POSTGRES_DSN"),
		RedisURL:       os.Getenv("MERIDIAN_REDIS_URL"),
		AuditTopic:     envOr("MERIDIAN_AUDIT_TOPIC", "meridian.audit.v1"),
		JWTSigningKey:  envOr("MERIDIAN_JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		ExclusionLimit: envIntOr("MERIDIAN_EXCLUSION_LIMIT", DefaultExclusionLimit),
		Treasury:       envOr("MERIDIAN_TREASURY", "treasury"),
	}

	if brokers := os.Getenv("MERIDIAN_KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = strings.Split(brokers, ",")
	}

	cfg.Redis = RedisConfig{
		URL:          cfg.RedisURL,
		PoolSize:     envIntOr("MERIDIAN_REDIS_POOL_SIZE", 10),
		MinIdleConns: envIntOr("MERIDIAN_REDIS_MIN_IDLE", 2),
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}

	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
