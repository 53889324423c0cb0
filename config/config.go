package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Scrape   ScrapeConfig
	Observ   ObservabilityConfig
	Referral ReferralConfig
}

type ServerConfig struct {
	Port string
	Env  string
}

type DatabaseConfig struct {
	URL string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type KafkaConfig struct {
	Brokers       []string
	ConsumerGroup string
}

type ScrapeConfig struct {
	Interval         time.Duration
	FeaturedInterval time.Duration
	FeaturedSource   string
	Concurrency      int
	MaxAttempts      int
	DealScoreTTL     time.Duration
}

type ObservabilityConfig struct {
	JaegerEndpoint string
}

// ReferralConfig maps store slugs to affiliate tags appended to store URLs.
type ReferralConfig struct {
	Tags map[string]string
}

func Load() *Config {
	_ = godotenv.Load()

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	concurrency, _ := strconv.Atoi(getEnv("SCRAPER_CONCURRENCY", "3"))
	maxAttempts, _ := strconv.Atoi(getEnv("SCRAPE_MAX_ATTEMPTS", "3"))

	cfg := &Config{
		Server: ServerConfig{
			Port: getEnv("PORT", "4000"),
			Env:  getEnv("ENV", "development"),
		},
		Database: DatabaseConfig{
			URL: os.Getenv("DATABASE_URL"),
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		Kafka: KafkaConfig{
			Brokers:       splitNonEmpty(os.Getenv("KAFKA_BROKERS")),
			ConsumerGroup: getEnv("KAFKA_CONSUMER_GROUP", "deal-pipeline"),
		},
		Scrape: ScrapeConfig{
			Interval:         getDuration("SCRAPE_INTERVAL", 6*time.Hour),
			FeaturedInterval: getDuration("FEATURED_SCRAPE_INTERVAL", time.Hour),
			FeaturedSource:   getEnv("FEATURED_SOURCE", "steam"),
			Concurrency:      concurrency,
			MaxAttempts:      maxAttempts,
			DealScoreTTL:     getDuration("DEAL_SCORE_TTL", time.Hour),
		},
		Observ: ObservabilityConfig{
			JaegerEndpoint: getEnv("JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
		},
		Referral: ReferralConfig{
			Tags: loadReferralTags(),
		},
	}

	validate(cfg)

	log.Printf("Config loaded: env=%s, port=%s", cfg.Server.Env, cfg.Server.Port)
	return cfg
}

// validate ensures required connection settings are present. The pipeline
// cannot run without its database, cache, and broker, so missing values
// are fatal at startup rather than retried.
func validate(cfg *Config) {
	if cfg.Database.URL == "" {
		log.Fatal("DATABASE_URL is required")
	}
	if cfg.Redis.Addr == "" {
		log.Fatal("REDIS_ADDR is required")
	}
	if len(cfg.Kafka.Brokers) == 0 {
		log.Fatal("KAFKA_BROKERS is required")
	}
}

// loadReferralTags reads per-store affiliate tag environment variables.
// Stores without a configured tag are absent from the map.
func loadReferralTags() map[string]string {
	vars := map[string]string{
		"steam":         "STEAM_AFFILIATE_TAG",
		"gog":           "GOG_AFFILIATE_ID",
		"epic-games":    "EPIC_CREATOR_TAG",
		"humble-bundle": "HUMBLE_PARTNER_ID",
		"fanatical":     "FANATICAL_REF",
	}

	tags := make(map[string]string)
	for slug, envVar := range vars {
		if val := os.Getenv(envVar); val != "" {
			tags[slug] = val
		}
	}
	return tags
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func splitNonEmpty(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
