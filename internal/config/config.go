package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

type Config struct {
	HTTPAddr          string
	MetricsAddr       string
	Storage           string
	PostgresDSN       string
	MigrationsPath    string
	RedisAddr         string
	KafkaBrokers      []string
	KafkaTopic        string
	KafkaGroupID      string
	JWTSecret         string
	OwnerSharePercent int64
	TxTimeout         time.Duration
	TxMaxRetries      int
	OTLPEndpoint      string
	LogLevel          string
}

// Load reads the environment, after merging an optional .env file, and fills
// unset or malformed values with defaults.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		slog.Warn("failed to load .env file, using environment only", "error", err)
	}

	cfg := &Config{
		HTTPAddr:          getString("HTTP_ADDR", ":8080"),
		MetricsAddr:       getString("METRICS_ADDR", ":9090"),
		Storage:           strings.ToLower(getString("STORAGE", StoragePostgres)),
		PostgresDSN:       getString("POSTGRES_DSN", "host=localhost user=postgres password=postgres dbname=rewear sslmode=disable"),
		MigrationsPath:    getString("MIGRATIONS_PATH", "file://migrations"),
		RedisAddr:         os.Getenv("REDIS_ADDR"),
		KafkaBrokers:      getList("KAFKA_BROKERS", os.Getenv("KAFKA_BROKER")),
		KafkaTopic:        getString("KAFKA_TOPIC", "exchange-events"),
		KafkaGroupID:      getString("KAFKA_GROUP_ID", "rewear-balance-cache"),
		JWTSecret:         getString("JWT_SECRET", "supersecret"),
		OwnerSharePercent: getPercent("OWNER_SHARE_PERCENT", 80),
		TxTimeout:         getDuration("TX_TIMEOUT", 5*time.Second),
		TxMaxRetries:      getInt("TX_MAX_RETRIES", 3),
		OTLPEndpoint:      os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		LogLevel:          getString("LOG_LEVEL", "info"),
	}

	if cfg.Storage != StoragePostgres && cfg.Storage != StorageMemory {
		slog.Warn("unknown storage, falling back to postgres", "storage", cfg.Storage)
		cfg.Storage = StoragePostgres
	}

	slog.Info("config loaded",
		"storage", cfg.Storage,
		"http_addr", cfg.HTTPAddr,
		"redis_addr", cfg.RedisAddr,
		"kafka_brokers", cfg.KafkaBrokers,
		"owner_share_percent", cfg.OwnerSharePercent,
		"tx_timeout", cfg.TxTimeout,
	)
	return cfg
}

func getString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		slog.Warn("invalid integer in environment, using default", "key", key, "value", v)
		return def
	}
	return n
}

// getPercent accepts 1..100. Zero is out of range since service options read
// a zero share as unset.
func getPercent(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil || n < 1 || n > 100 {
		slog.Warn("percentage out of range 1..100, using default", "key", key, "value", v, "default", def)
		return def
	}
	return n
}

func getDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		slog.Warn("invalid duration in environment, using default", "key", key, "value", v)
		return def
	}
	return d
}

// getList splits a comma separated variable. fallback is used when key is unset.
func getList(key, fallback string) []string {
	v := os.Getenv(key)
	if v == "" {
		v = fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
