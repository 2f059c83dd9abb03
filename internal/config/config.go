package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures runtime settings for the approval engine.
type Config struct {
	Addr           string
	DatabaseURL    string
	APITokenSecret string
	AllowedOrigins []string

	// Kafka is optional; without brokers the streamer does not start and
	// notification events stay queued in the outbox.
	KafkaBrokers []string
	KafkaTopic   string

	// S3 is optional; without a bucket terminal decisions are not archived.
	S3Bucket string
	S3Prefix string

	// Redis is optional; without an address the public action endpoints run
	// without rate limiting.
	RedisAddr        string
	ActionRateLimit  int
	ActionRateWindow time.Duration

	StreamerBatchSize    int
	StreamerConcurrency  int
	StreamerPollInterval time.Duration
}

const (
	defaultAddr         = ":8072"
	defaultKafkaTopic   = "order-approvals"
	defaultRateLimit    = 30
	defaultRateWindow   = time.Minute
	defaultBatchSize    = 10
	defaultConcurrency  = 5
	defaultPollInterval = 3 * time.Second
)

// Load reads environment variables and returns a Config.
func Load() (Config, error) {
	cfg := Config{
		Addr:           getEnv("APPROVAL_ADDR", defaultAddr),
		DatabaseURL:    firstNonEmpty(os.Getenv("APPROVAL_DATABASE_URL"), os.Getenv("DATABASE_URL")),
		APITokenSecret: os.Getenv("APPROVAL_API_SECRET"),
		AllowedOrigins: splitList(getEnv("APPROVAL_ALLOWED_ORIGINS", "http://localhost:5173")),

		KafkaBrokers: splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:   getEnv("KAFKA_TOPIC", defaultKafkaTopic),

		S3Bucket: os.Getenv("APPROVAL_ARCHIVE_BUCKET"),
		S3Prefix: os.Getenv("APPROVAL_ARCHIVE_PREFIX"),

		RedisAddr:        os.Getenv("REDIS_ADDR"),
		ActionRateLimit:  getInt("APPROVAL_ACTION_RATE_LIMIT", defaultRateLimit),
		ActionRateWindow: getDuration("APPROVAL_ACTION_RATE_WINDOW", defaultRateWindow),

		StreamerBatchSize:    getInt("APPROVAL_STREAMER_BATCH", defaultBatchSize),
		StreamerConcurrency:  getInt("APPROVAL_STREAMER_CONCURRENCY", defaultConcurrency),
		StreamerPollInterval: getDuration("APPROVAL_STREAMER_POLL", defaultPollInterval),
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL or APPROVAL_DATABASE_URL is required")
	}
	if cfg.APITokenSecret == "" {
		return Config{}, fmt.Errorf("APPROVAL_API_SECRET is required")
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil && i > 0 {
			return i
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}

func splitList(v string) []string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
