// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures the tunables for the API process. Values come from
// environment variables with defaults that let the binary run locally against
// in-memory backends.
type Config struct {
	HTTPAddr        string
	ShutdownTimeout time.Duration

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	RedisAddr     string
	RedisPassword string
	RedisGeoKey   string

	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroup   string

	JWTSecret string

	SMSAPIKey   string
	SMSUsername string
	SMSSenderID string

	OfferWindow     time.Duration
	OtpTTL          time.Duration
	SurgeMultiplier float64

	LogLevel string
}

func defaults() Config {
	return Config{
		HTTPAddr:        ":8080",
		ShutdownTimeout: 15 * time.Second,
		DBHost:          "localhost",
		DBPort:          "5432",
		DBUser:          "postgres",
		DBName:          "ridelink",
		RedisGeoKey:     "drivers:geo",
		KafkaTopic:      "driver-locations",
		KafkaGroup:      "ridelink-consumer",
		OfferWindow:     45 * time.Second,
		OtpTTL:          10 * time.Minute,
		SurgeMultiplier: 1.0,
		LogLevel:        "info",
	}
}

// Load reads the environment into a Config. Malformed values are collected
// and returned joined so a bad deploy fails with every problem listed.
func Load() (Config, error) {
	cfg := defaults()
	var errs []error

	setString(&cfg.HTTPAddr, "HTTP_ADDR")
	setDuration(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	setString(&cfg.DBHost, "DB_HOST")
	setString(&cfg.DBPort, "DB_PORT")
	setString(&cfg.DBUser, "DB_USER")
	cfg.DBPassword = os.Getenv("DB_PASSWORD")
	setString(&cfg.DBName, "DB_NAME")

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setString(&cfg.RedisGeoKey, "REDIS_GEO_KEY")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setString(&cfg.KafkaTopic, "KAFKA_TOPIC")
	setString(&cfg.KafkaGroup, "KAFKA_GROUP")

	cfg.JWTSecret = os.Getenv("JWT_SECRET")

	cfg.SMSAPIKey = os.Getenv("SMS_API_KEY")
	setString(&cfg.SMSUsername, "SMS_USERNAME")
	setString(&cfg.SMSSenderID, "SMS_SENDER_ID")

	setDuration(&cfg.OfferWindow, "OFFER_WINDOW", &errs)
	setDuration(&cfg.OtpTTL, "OTP_TTL", &errs)
	setFloat(&cfg.SurgeMultiplier, "SURGE_MULTIPLIER", &errs)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if cfg.SurgeMultiplier < 1.0 {
		errs = append(errs, fmt.Errorf("SURGE_MULTIPLIER must be >= 1.0"))
	}
	if cfg.OfferWindow <= 0 {
		errs = append(errs, fmt.Errorf("OFFER_WINDOW must be positive"))
	}

	return cfg, errors.Join(errs...)
}

// DatabaseDSN assembles the postgres connection string.
func (c Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=disable",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort,
	)
}

// RedisEnabled reports whether a redis address was configured; without one
// the process falls back to in-memory backends.
func (c Config) RedisEnabled() bool { return c.RedisAddr != "" }

// KafkaEnabled reports whether location ingest via kafka is configured.
func (c Config) KafkaEnabled() bool { return len(c.KafkaBrokers) > 0 }

func setString(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func setDuration(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloat(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		if s := strings.TrimSpace(r); s != "" {
			out = append(out, s)
		}
	}
	return out
}
