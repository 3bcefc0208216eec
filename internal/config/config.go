package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	DBHost     string
	DBPort     string
	DBUser     string
	DBPass     string
	DBName     string
	ServerPort string
	RedisURL   string
	Env        string

	// FrontendURL is a comma-separated list of CORS origins.
	FrontendURL string

	BufferBackend string
	BufferKey     string

	MaxCacheSize         int
	CompactionWindow     int
	CompactionTimeout    time.Duration
	CompactionRetries    int
	CompactionMinBackoff time.Duration
	CompactionMaxBackoff time.Duration

	MessageRateLimit float64
	MessageRateBurst int
	MaxMessageLength int
}

const (
	BufferBackendRedis  = "redis"
	BufferBackendMemory = "memory"
)

func LoadConfig() Config {
	backend := getEnv("BUFFER_BACKEND", BufferBackendRedis)
	if backend != BufferBackendRedis && backend != BufferBackendMemory {
		backend = BufferBackendRedis
	}

	return Config{
		DBHost:     getEnv("DB_HOST", "postgres"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPass:     getEnv("DB_PASSWORD", "password"),
		DBName:     getEnv("DB_NAME", "db_chat"),
		ServerPort: getEnv("SERVER_PORT", "8080"),
		RedisURL:   getEnv("REDIS_URL", "redis:6379"),
		Env:        getEnv("ENV", "dev"),

		FrontendURL: getEnv("FRONTEND_URL", ""),

		BufferBackend: backend,
		BufferKey:     getEnv("BUFFER_KEY", "messages:buffer"),

		MaxCacheSize:         atLeastOne(getEnvAsInt("MAX_CACHE_SIZE", 100)),
		CompactionWindow:     atLeastOne(getEnvAsInt("COMPACTION_WINDOW", 50)),
		CompactionTimeout:    getEnvAsDuration("COMPACTION_TIMEOUT", 5*time.Second),
		CompactionRetries:    atLeastOne(getEnvAsInt("COMPACTION_RETRIES", 3)),
		CompactionMinBackoff: getEnvAsDuration("COMPACTION_MIN_BACKOFF", 100*time.Millisecond),
		CompactionMaxBackoff: getEnvAsDuration("COMPACTION_MAX_BACKOFF", 2*time.Second),

		MessageRateLimit: getEnvAsFloat("MESSAGE_RATE_LIMIT", 2),
		MessageRateBurst: atLeastOne(getEnvAsInt("MESSAGE_RATE_BURST", 5)),
		MaxMessageLength: atLeastOne(getEnvAsInt("MAX_MESSAGE_LENGTH", 4000)),
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if v, err := strconv.Atoi(value); err == nil {
			return v
		}
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if v, err := strconv.ParseFloat(value, 64); err == nil {
			return v
		}
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}

func atLeastOne(v int) int {
	if v < 1 {
		return 1
	}
	return v
}

// AllowedOrigins splits FrontendURL, falling back to the local dev frontend.
func (c *Config) AllowedOrigins() []string {
	var origins []string
	for _, o := range strings.Split(c.FrontendURL, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	if len(origins) == 0 {
		return []string{"http://localhost:3000", "http://127.0.0.1:3000"}
	}
	return origins
}

func (c *Config) PostgresDSN() string {
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=disable",
		c.DBHost, c.DBUser, c.DBPass, c.DBName, c.DBPort,
	)
}
