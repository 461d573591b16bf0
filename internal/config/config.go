package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	Redis     RedisConfig
	RateLimit RateLimitConfig
	Telephony TelephonyConfig
	Webhook   WebhookConfig
	Scheduler SchedulerConfig
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type RateLimitConfig struct {
	Enabled bool
	// Backend is either "redis" or "memory".
	Backend string

	IngestRate    float64
	IngestBurst   int
	WebhookRate   float64
	WebhookBurst  int
	MutationRate  float64
	MutationBurst int
}

type TelephonyConfig struct {
	SigningSecret    string
	HomeCountryCode  string
	SignatureHeader  string
	ResolverCacheTTL time.Duration
}

type WebhookConfig struct {
	Timeout           time.Duration
	MaxAttempts       int
	RetryInitial      time.Duration
	SuccessRateWindow int
	UserAgent         string
}

type SchedulerConfig struct {
	Enabled              bool
	RunInterval          time.Duration
	DeliveryLogRetention time.Duration
}

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:      getenv("APP_SERVICE", "voxbill"),
		AppVersion:   getenv("APP_VERSION", "0.1.0"),
		Environment:  getenv("ENVIRONMENT", EnvDevelopment),
		HTTPAddr:     getenv("HTTP_ADDR", ":8080"),
		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "voxbill"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),

		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
			Password: strings.TrimSpace(getenv("REDIS_PASSWORD", "")),
			DB:       getenvInt("REDIS_DB", 0),
		},
		RateLimit: RateLimitConfig{
			Enabled:      getenvBool("RATE_LIMIT_ENABLED", true),
			Backend:      strings.ToLower(getenv("RATE_LIMIT_BACKEND", "memory")),
			IngestRate:    getenvFloat("RATE_LIMIT_INGEST_RATE", 200),
			IngestBurst:   getenvInt("RATE_LIMIT_INGEST_BURST", 400),
			WebhookRate:   getenvFloat("RATE_LIMIT_WEBHOOK_RATE", 1),
			WebhookBurst:  getenvInt("RATE_LIMIT_WEBHOOK_BURST", 10),
			MutationRate:  getenvFloat("RATE_LIMIT_MUTATION_RATE", 2),
			MutationBurst: getenvInt("RATE_LIMIT_MUTATION_BURST", 20),
		},
		Telephony: TelephonyConfig{
			SigningSecret:    strings.TrimSpace(getenv("TELEPHONY_SIGNING_SECRET", "")),
			HomeCountryCode:  strings.TrimSpace(getenv("TELEPHONY_HOME_COUNTRY_CODE", "1")),
			SignatureHeader:  getenv("TELEPHONY_SIGNATURE_HEADER", "X-Telephony-Signature"),
			ResolverCacheTTL: time.Duration(getenvInt("TELEPHONY_RESOLVER_CACHE_SECONDS", 60)) * time.Second,
		},
		Webhook: WebhookConfig{
			Timeout:           time.Duration(getenvInt("WEBHOOK_TIMEOUT_MS", 5000)) * time.Millisecond,
			MaxAttempts:       getenvInt("WEBHOOK_MAX_ATTEMPTS", 1),
			RetryInitial:      time.Duration(getenvInt("WEBHOOK_RETRY_INITIAL_MS", 500)) * time.Millisecond,
			SuccessRateWindow: getenvInt("WEBHOOK_SUCCESS_RATE_WINDOW", 100),
			UserAgent:         getenv("WEBHOOK_USER_AGENT", "voxbill-webhooks/1.0"),
		},
		Scheduler: SchedulerConfig{
			Enabled:              getenvBool("SCHEDULER_ENABLED", true),
			RunInterval:          time.Duration(getenvInt("SCHEDULER_INTERVAL_SECONDS", 300)) * time.Second,
			DeliveryLogRetention: time.Duration(getenvInt("WEBHOOK_LOG_RETENTION_DAYS", 30)) * 24 * time.Hour,
		},
	}
}

// IsDevelopment reports whether the service runs in a local/dev environment.
func (c Config) IsDevelopment() bool {
	switch strings.ToLower(strings.TrimSpace(c.Environment)) {
	case "dev", EnvDevelopment, "local", "test":
		return true
	default:
		return false
	}
}

var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(NewPricingHolder),
	fx.Provide(func(h *PricingHolder) PricingSource { return h }),
)

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}
