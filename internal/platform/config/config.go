// Package config builds runtime configuration from the environment so main
// stays lean. A local .env file is honored in development; real deployments
// set variables directly.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	pkgstrings "facturador/pkg/platform/strings"
)

// Config is the full configuration surface of the billing service.
type Config struct {
	Server    Server
	Postgres  Postgres
	Redis     Redis
	Kafka     Kafka
	Verifactu Verifactu
	Facturae  Facturae
	Retry     Retry
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr          string
	JWTSigningKey string
	// RateLimit caps billing API requests per caller per window. Zero
	// disables the limiter.
	RateLimit       int
	RateLimitWindow time.Duration
}

// Postgres holds the SQL connection settings.
type Postgres struct {
	DSN          string
	MaxOpenConns int
}

// Redis holds the scheduler-lock connection settings. An empty URL disables
// Redis and the scheduler falls back to a process-local lock.
type Redis struct {
	URL          string
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Kafka holds outbox relay settings. Empty brokers disable the relay.
type Kafka struct {
	Brokers []string
	Topic   string
}

// Verifactu configures the tax authority submission endpoint.
type Verifactu struct {
	Endpoint     string
	TestEndpoint string
	TestMode     bool
	Timeout      time.Duration
	CertFile     string
	KeyFile      string
	CertAlias    string
}

// URL returns the endpoint in force for the configured mode.
func (v Verifactu) URL() string {
	if v.TestMode {
		return v.TestEndpoint
	}
	return v.Endpoint
}

// Facturae configures B2B XML export.
type Facturae struct {
	OutputDir     string
	SchemaVersion string
	SignExports   bool
	RequireAck    bool
	CertFile      string
	KeyFile       string
}

// Retry bounds the submission retry schedule.
type Retry struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// FromEnv builds a Config from environment variables, loading .env first if
// one is present.
func FromEnv() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Server: Server{
			Addr:            getenv("FACTURADOR_ADDR", ":8080"),
			JWTSigningKey:   os.Getenv("FACTURADOR_JWT_SIGNING_KEY"),
			RateLimit:       getint("FACTURADOR_RATE_LIMIT", 120),
			RateLimitWindow: getduration("FACTURADOR_RATE_LIMIT_WINDOW", time.Minute),
		},
		Postgres: Postgres{
			DSN:          os.Getenv("FACTURADOR_POSTGRES_DSN"),
			MaxOpenConns: getint("FACTURADOR_POSTGRES_MAX_CONNS", 16),
		},
		Redis: Redis{
			URL:          os.Getenv("FACTURADOR_REDIS_URL"),
			PoolSize:     getint("FACTURADOR_REDIS_POOL_SIZE", 8),
			DialTimeout:  getduration("FACTURADOR_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getduration("FACTURADOR_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getduration("FACTURADOR_REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: Kafka{
			Brokers: pkgstrings.DedupeAndTrim(strings.Split(os.Getenv("FACTURADOR_KAFKA_BROKERS"), ",")),
			Topic:   getenv("FACTURADOR_KAFKA_TOPIC", "billing.events"),
		},
		Verifactu: Verifactu{
			Endpoint:     getenv("VERIFACTU_ENDPOINT", "https://www1.agenciatributaria.gob.es/wlpl/TIKE-CONT/ws/SistemaFacturacion/VerifactuSOAP"),
			TestEndpoint: getenv("VERIFACTU_TEST_ENDPOINT", "https://prewww1.aeat.es/wlpl/TIKE-CONT/ws/SistemaFacturacion/VerifactuSOAP"),
			TestMode:     getenv("VERIFACTU_TEST_MODE", "true") == "true",
			Timeout:      getduration("VERIFACTU_TIMEOUT", 30*time.Second),
			CertFile:     os.Getenv("VERIFACTU_CERT_FILE"),
			KeyFile:      os.Getenv("VERIFACTU_KEY_FILE"),
			CertAlias:    getenv("VERIFACTU_CERT_ALIAS", "facturador-default"),
		},
		Facturae: Facturae{
			OutputDir:     getenv("FACTURAE_OUTPUT_DIR", "/var/lib/facturador/facturae"),
			SchemaVersion: getenv("FACTURAE_SCHEMA_VERSION", "3.2.2"),
			SignExports:   getenv("FACTURAE_SIGN_EXPORTS", "false") == "true",
			RequireAck:    getenv("FACTURAE_REQUIRE_ACK", "true") == "true",
			CertFile:      os.Getenv("FACTURAE_CERT_FILE"),
			KeyFile:       os.Getenv("FACTURAE_KEY_FILE"),
		},
		Retry: Retry{
			MaxAttempts: getint("SUBMISSION_MAX_ATTEMPTS", 8),
			BaseDelay:   getduration("SUBMISSION_BASE_DELAY", 30*time.Second),
			MaxDelay:    getduration("SUBMISSION_MAX_DELAY", 4*time.Hour),
		},
	}

	if cfg.Postgres.DSN == "" {
		return Config{}, fmt.Errorf("FACTURADOR_POSTGRES_DSN is required")
	}
	if cfg.Server.JWTSigningKey == "" {
		// Use a default for development - must be overridden in production
		cfg.Server.JWTSigningKey = "dev-secret-key-change-in-production"
	}
	if cfg.Retry.MaxAttempts <= 0 {
		return Config{}, fmt.Errorf("SUBMISSION_MAX_ATTEMPTS must be positive")
	}
	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getint(key string, fallback int) int {
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

func getduration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
