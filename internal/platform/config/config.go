package config

import (
	"os"
	"strconv"
	"time"
)

// Server captures process level configuration.
type Server struct {
	Addr          string
	PublicBaseURL string
	JWTSigningKey string
	Environment   string

	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Ledger   LedgerConfig

	TicketTTL       time.Duration
	CleanupInterval time.Duration
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig holds connection settings for the holder claim queue.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig holds event publishing settings.
type KafkaConfig struct {
	Brokers         string
	Acks            string
	Retries         int
	DeliveryTimeout time.Duration
}

// LedgerConfig holds the anchoring target. Values are validated lazily at
// submission time, not at startup, so the engine can run without a ledger
// until an anchor is actually requested.
type LedgerConfig struct {
	RPCURL          string
	ContractAddress string
	PrivateKey      string
	ChainID         int64

	SubmitTimeout  time.Duration
	SubmitAttempts int
	SubmitBackoff  time.Duration
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	cfg := Server{
		Addr:          envOr("ATTESTOR_ADDR", ":8080"),
		PublicBaseURL: envOr("ATTESTOR_PUBLIC_URL", "http://localhost:8080"),
		JWTSigningKey: envOr("JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		Environment:   envOr("ATTESTOR_ENV", "development"),
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Kafka: KafkaConfig{
			Brokers:         os.Getenv("KAFKA_BROKERS"),
			Acks:            envOr("KAFKA_ACKS", "all"),
			Retries:         3,
			DeliveryTimeout: 10 * time.Second,
		},
		Ledger: LedgerConfig{
			RPCURL:          os.Getenv("LEDGER_RPC_URL"),
			ContractAddress: os.Getenv("LEDGER_CONTRACT_ADDRESS"),
			PrivateKey:      os.Getenv("LEDGER_PRIVATE_KEY"),
			ChainID:         envInt64("LEDGER_CHAIN_ID", 0),
			SubmitTimeout:   envDuration("LEDGER_SUBMIT_TIMEOUT", 30*time.Second),
			SubmitAttempts:  int(envInt64("LEDGER_SUBMIT_ATTEMPTS", 3)),
			SubmitBackoff:   envDuration("LEDGER_SUBMIT_BACKOFF", 500*time.Millisecond),
		},
		TicketTTL:       envDuration("TICKET_TTL", 7*24*time.Hour),
		CleanupInterval: envDuration("CLEANUP_INTERVAL", 15*time.Minute),
	}
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}
