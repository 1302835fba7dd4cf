package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	EnvProduction  = "production"
	EnvDevelopment = "development"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	Observability ObservabilityConfig

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
	DBAutoMigrate     bool

	Redis      RedisConfig
	Affiliate  AffiliateConfig
	Webhook    WebhookConfig
	RateLimit  RateLimitConfig
	Settlement SettlementConfig
	Events     EventsConfig
	Auth       AuthConfig
}

// ObservabilityConfig covers logs, traces and pushed scheduler metrics. The
// OTEL_* names follow the OpenTelemetry SDK conventions.
type ObservabilityConfig struct {
	LogLevel  string
	LogFormat string

	OtelEnabled       bool
	OtelEndpoint      string
	OtelProtocol      string
	OtelSamplingRatio float64

	MetricsPushExporter  string
	MetricsPushEndpoint  string
	MetricsPushAuthToken string
}

type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// AffiliateConfig holds attribution and cashback defaults.
type AffiliateConfig struct {
	AttributionWindow       time.Duration
	VerificationDays        int
	FlaggedVerificationDays int
	ClickDedupeWindow       time.Duration
	DefaultCurrency         string
	TrackingRef             string
	TrackingSource          string
	TrackingMedium          string
	PolicyFile              string
}

// WebhookConfig controls brand webhook ingress. MasterKey has no default and
// must be supplied through the environment.
type WebhookConfig struct {
	MasterKey                  string
	AllowMasterKeyInProduction bool
	IdempotencyTTL             time.Duration
	LogRetention               time.Duration
	MaxBodyBytes               int64
}

type RateLimitConfig struct {
	WebhookEnabled bool
	WebhookLimit   int
	WebhookWindow  time.Duration

	ClickEnabled      bool
	ClickCapacity     int
	ClickRefillPerSec float64
}

type SettlementConfig struct {
	SchedulerEnabled bool

	CreditSchedule   string
	CreditLockTTL    time.Duration
	CreditTimeout    time.Duration
	CreditBatchSize  int
	CreditMaxBatches int

	ExpireSchedule string
	ExpireLockTTL  time.Duration
	ExpireTimeout  time.Duration

	PurgeSchedule string
	PurgeLockTTL  time.Duration
}

// EventsConfig tunes the event bus. RelayInterval is both how often the
// outbox is swept and how long an event waits there before redelivery.
type EventsConfig struct {
	Sink          string
	BufferSize    int
	MaxAttempts   int
	RetryBackoff  time.Duration
	RelayInterval time.Duration
	KafkaBrokers  []string
	KafkaTopic    string
}

type AuthConfig struct {
	UserJWTSecret       string
	UserJWTIssuer       string
	AllowHeaderIdentity bool
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	environment := strings.ToLower(getenv("ENVIRONMENT", EnvDevelopment))
	production := environment == EnvProduction

	cfg := Config{
		AppName:     getenv("APP_SERVICE", "cashback"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: environment,
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),

		Observability: ObservabilityConfig{
			LogLevel:             strings.ToLower(getenv("LOG_LEVEL", "info")),
			LogFormat:            strings.ToLower(getenv("LOG_FORMAT", "json")),
			OtelEnabled:          getenvBool("OTEL_ENABLED", production),
			OtelEndpoint:         getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			OtelProtocol:         strings.ToLower(getenv("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL", getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc"))),
			OtelSamplingRatio:    getenvFloat("OTEL_SAMPLING_RATIO", 0.1),
			MetricsPushExporter:  strings.ToLower(getenv("METRICS_PUSH_EXPORTER", "")),
			MetricsPushEndpoint:  getenv("METRICS_PUSH_ENDPOINT", ""),
			MetricsPushAuthToken: strings.TrimSpace(os.Getenv("METRICS_PUSH_AUTH_TOKEN")),
		},

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "cashback"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 50),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),
		DBAutoMigrate:     getenvBool("DATABASE_AUTO_MIGRATE", true),

		Redis: RedisConfig{
			Addr:      getenv("REDIS_ADDR", "localhost:6379"),
			Password:  getenv("REDIS_PASSWORD", ""),
			DB:        getenvInt("REDIS_DB", 0),
			KeyPrefix: getenv("REDIS_KEY_PREFIX", "cashback:"),
		},
		Affiliate: AffiliateConfig{
			AttributionWindow:       getenvDuration("AFFILIATE_ATTRIBUTION_WINDOW", 30*24*time.Hour),
			VerificationDays:        getenvInt("AFFILIATE_VERIFICATION_DAYS", 7),
			FlaggedVerificationDays: getenvInt("AFFILIATE_FLAGGED_VERIFICATION_DAYS", 14),
			ClickDedupeWindow:       getenvDuration("AFFILIATE_CLICK_DEDUPE_WINDOW", 5*time.Minute),
			DefaultCurrency:         strings.ToUpper(getenv("AFFILIATE_DEFAULT_CURRENCY", "INR")),
			TrackingRef:             getenv("AFFILIATE_TRACKING_REF", "rez"),
			TrackingSource:          getenv("AFFILIATE_TRACKING_SOURCE", "rez_mall"),
			TrackingMedium:          getenv("AFFILIATE_TRACKING_MEDIUM", "affiliate"),
			PolicyFile:              getenv("AFFILIATE_POLICY_FILE", ""),
		},
		Webhook: WebhookConfig{
			MasterKey:                  strings.TrimSpace(os.Getenv("WEBHOOK_MASTER_KEY")),
			AllowMasterKeyInProduction: getenvBool("WEBHOOK_MASTER_KEY_ALLOW_PRODUCTION", false),
			IdempotencyTTL:             getenvDuration("WEBHOOK_IDEMPOTENCY_TTL", 24*time.Hour),
			LogRetention:               getenvDuration("WEBHOOK_LOG_RETENTION", 90*24*time.Hour),
			MaxBodyBytes:               int64(getenvInt("WEBHOOK_MAX_BODY_BYTES", 1<<20)),
		},
		RateLimit: RateLimitConfig{
			WebhookEnabled:    getenvBool("WEBHOOK_RATE_LIMIT_ENABLED", true),
			WebhookLimit:      getenvInt("WEBHOOK_RATE_LIMIT", 100),
			WebhookWindow:     getenvDuration("WEBHOOK_RATE_LIMIT_WINDOW", time.Minute),
			ClickEnabled:      getenvBool("CLICK_RATE_LIMIT_ENABLED", true),
			ClickCapacity:     getenvInt("CLICK_RATE_LIMIT_CAPACITY", 10),
			ClickRefillPerSec: getenvFloat("CLICK_RATE_LIMIT_REFILL_PER_SEC", 10.0/60.0),
		},
		Settlement: SettlementConfig{
			SchedulerEnabled: getenvBool("SETTLEMENT_SCHEDULER_ENABLED", true),
			CreditSchedule:   getenv("SETTLEMENT_CREDIT_SCHEDULE", "0 * * * *"),
			CreditLockTTL:    getenvDuration("SETTLEMENT_CREDIT_LOCK_TTL", 30*time.Minute),
			CreditTimeout:    getenvDuration("SETTLEMENT_CREDIT_TIMEOUT", 25*time.Minute),
			CreditBatchSize:  getenvInt("SETTLEMENT_CREDIT_BATCH_SIZE", 200),
			CreditMaxBatches: getenvInt("SETTLEMENT_CREDIT_MAX_BATCHES", 50),
			ExpireSchedule:   getenv("SETTLEMENT_EXPIRE_SCHEDULE", "30 2 * * *"),
			ExpireLockTTL:    getenvDuration("SETTLEMENT_EXPIRE_LOCK_TTL", 10*time.Minute),
			ExpireTimeout:    getenvDuration("SETTLEMENT_EXPIRE_TIMEOUT", 5*time.Minute),
			PurgeSchedule:    getenv("SETTLEMENT_PURGE_SCHEDULE", "0 3 * * *"),
			PurgeLockTTL:     getenvDuration("SETTLEMENT_PURGE_LOCK_TTL", 10*time.Minute),
		},
		Events: EventsConfig{
			Sink:          strings.ToLower(getenv("EVENTS_SINK", "log")),
			BufferSize:    getenvInt("EVENTS_BUFFER_SIZE", 1024),
			MaxAttempts:   getenvInt("EVENTS_MAX_ATTEMPTS", 5),
			RetryBackoff:  getenvDuration("EVENTS_RETRY_BACKOFF", 500*time.Millisecond),
			RelayInterval: getenvDuration("EVENTS_RELAY_INTERVAL", 30*time.Second),
			KafkaBrokers:  getenvList("EVENTS_KAFKA_BROKERS"),
			KafkaTopic:    getenv("EVENTS_KAFKA_TOPIC", "cashback.events"),
		},
		Auth: AuthConfig{
			UserJWTSecret:       strings.TrimSpace(os.Getenv("USER_JWT_SECRET")),
			UserJWTIssuer:       getenv("USER_JWT_ISSUER", ""),
			AllowHeaderIdentity: !production && getenvBool("AUTH_ALLOW_HEADER_IDENTITY", true),
		},
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

// MasterKeyEnabled reports whether the webhook master key may be used in this
// environment.
func (c Config) MasterKeyEnabled() bool {
	if c.Webhook.MasterKey == "" {
		return false
	}
	return !c.IsProduction() || c.Webhook.AllowMasterKeyInProduction
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
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

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func getenvList(key string) []string {
	parts := strings.Split(os.Getenv(key), ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
