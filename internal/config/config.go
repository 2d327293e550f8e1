package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const dotEnvPath = ".env"

type Config struct {
	Port          string
	AllowedOrigin string
	DatabaseURL   string
	AutoMigrate   bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	QuoteCacheTTL time.Duration
	KafkaBrokers  []string
	KafkaTopic    string
	Locale        string
	LogLevel      string
}

// Load reads the environment after a best-effort .env load.
func Load() Config {
	_ = loadDotEnv(dotEnvPath)

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil || redisDB < 0 {
		redisDB = 0
	}
	ttl, err := strconv.Atoi(getEnv("QUOTE_CACHE_TTL_SECONDS", "20"))
	if err != nil || ttl < 1 {
		ttl = 20
	}
	autoMigrate, err := strconv.ParseBool(getEnv("AUTO_MIGRATE", "true"))
	if err != nil {
		autoMigrate = true
	}

	return Config{
		Port:          getEnv("PORT", "8080"),
		AllowedOrigin: getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:5173"),
		DatabaseURL:   strings.TrimSpace(os.Getenv("DATABASE_URL")),
		AutoMigrate:   autoMigrate,
		RedisAddr:     strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       redisDB,
		QuoteCacheTTL: time.Duration(ttl) * time.Second,
		KafkaBrokers:  splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:    getEnv("KAFKA_TOPIC", "pricing-events"),
		Locale:        getEnv("LOCALE", "sv"),
		LogLevel:      strings.ToLower(getEnv("LOG_LEVEL", "info")),
	}
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key string, fallback string) string {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	return val
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
