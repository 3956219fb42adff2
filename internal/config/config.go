package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
)

// ServerConfig captures all tunable parameters for the HTTP API process.
// Values are primarily loaded from environment variables with defaults so
// the binary can run locally without extra setup.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	PGDSN         string
	RunMigrations bool

	RedisAddr     string
	RedisPassword string

	KafkaBrokers     []string
	KafkaNotifyTopic string

	NotifyEndpoint    string
	NotifyAPIKey      string
	OperatorEmail     string
	TelephonyCallerID string
	PublicBaseURL     string

	RankingRadiusKm    float64
	RankingConcurrency int
	IVRMaxAttempts     int
	Timezone           string

	AdminSecret     string
	JWTSecret       string
	AdminSessionTTL time.Duration

	RateLimitRequests int
	RateLimitWindow   time.Duration
	TrustProxy        bool

	LogLevel string
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:           ":8080",
		ReadTimeout:        5 * time.Second,
		WriteTimeout:       10 * time.Second,
		IdleTimeout:        120 * time.Second,
		ShutdownTimeout:    15 * time.Second,
		KafkaNotifyTopic:   "assignment-notifications",
		RankingRadiusKm:    30,
		RankingConcurrency: 8,
		IVRMaxAttempts:     3,
		Timezone:           "Europe/Berlin",
		AdminSessionTTL:    8 * time.Hour,
		RateLimitRequests:  100,
		RateLimitWindow:    15 * time.Minute,
		LogLevel:           "info",
	}
}

// LoadDotEnv reads a .env file into the environment if one exists. Variables
// already set win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	cfg.PGDSN = os.Getenv("PG_DSN")
	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaNotifyTopic, "KAFKA_NOTIFY_TOPIC")

	setStringFromEnv(&cfg.NotifyEndpoint, "NOTIFY_ENDPOINT")
	cfg.NotifyAPIKey = os.Getenv("NOTIFY_API_KEY")
	setStringFromEnv(&cfg.OperatorEmail, "OPERATOR_EMAIL")
	setStringFromEnv(&cfg.TelephonyCallerID, "TELEPHONY_CALLER_ID")
	setStringFromEnv(&cfg.PublicBaseURL, "PUBLIC_BASE_URL")
	cfg.PublicBaseURL = strings.TrimRight(cfg.PublicBaseURL, "/")

	setFloatFromEnv(&cfg.RankingRadiusKm, "RANKING_DEFAULT_RADIUS_KM", &errs)
	setIntFromEnv(&cfg.RankingConcurrency, "RANKING_CONCURRENCY", &errs)
	setIntFromEnv(&cfg.IVRMaxAttempts, "IVR_MAX_ATTEMPTS", &errs)
	setStringFromEnv(&cfg.Timezone, "TIMEZONE")

	cfg.AdminSecret = os.Getenv("ADMIN_SECRET")
	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	setDurationFromEnv(&cfg.AdminSessionTTL, "ADMIN_SESSION_TTL", &errs)

	setIntFromEnv(&cfg.RateLimitRequests, "RATE_LIMIT_REQUESTS", &errs)
	setDurationFromEnv(&cfg.RateLimitWindow, "RATE_LIMIT_WINDOW", &errs)
	cfg.TrustProxy = strings.EqualFold(os.Getenv("TRUST_PROXY"), "true")

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if cfg.RankingRadiusKm <= 0 {
		errs = append(errs, fmt.Errorf("RANKING_DEFAULT_RADIUS_KM must be > 0"))
	}
	if cfg.RankingConcurrency <= 0 {
		errs = append(errs, fmt.Errorf("RANKING_CONCURRENCY must be > 0"))
	}
	if cfg.IVRMaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("IVR_MAX_ATTEMPTS must be > 0"))
	}
	if cfg.RateLimitRequests < 0 || cfg.RateLimitWindow <= 0 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_REQUESTS must be >= 0 and RATE_LIMIT_WINDOW > 0"))
	}
	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("invalid TIMEZONE: %w", err))
	}

	return cfg, errors.Join(errs...)
}

// Location resolves Timezone; LoadServerConfig has already validated it.
func (c ServerConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ConsumerConfig drives the notification delivery worker.
type ConsumerConfig struct {
	MetricsAddr string

	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroup   string

	RedisAddr     string
	RedisPassword string
	DedupTTL      time.Duration

	NotifyEndpoint string
	NotifyAPIKey   string
	Attempts       int
	RetryDelay     time.Duration

	// MaxRedeliveries bounds how often one message is handed back to the
	// delivery loop before it is committed as failed. 0 retries forever.
	MaxRedeliveries int

	LogLevel string
}

func LoadConsumerConfig() (ConsumerConfig, error) {
	cfg := ConsumerConfig{
		MetricsAddr:  ":2112",
		KafkaBrokers: []string{"localhost:9092"},
		KafkaTopic:   "assignment-notifications",
		KafkaGroup:   "roadside-dispatch-notifier",
		RedisAddr:    "localhost:6379",
		DedupTTL:     24 * time.Hour,
		Attempts:     3,
		RetryDelay:   200 * time.Millisecond,
		LogLevel:     "info",

		MaxRedeliveries: 20,
	}
	var errs []error

	setStringFromEnv(&cfg.MetricsAddr, "METRICS_ADDR")
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_NOTIFY_TOPIC")
	setStringFromEnv(&cfg.KafkaGroup, "KAFKA_GROUP")
	setStringFromEnv(&cfg.RedisAddr, "REDIS_ADDR")
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setDurationFromEnv(&cfg.DedupTTL, "NOTIFY_DEDUP_TTL", &errs)
	setStringFromEnv(&cfg.NotifyEndpoint, "NOTIFY_ENDPOINT")
	cfg.NotifyAPIKey = os.Getenv("NOTIFY_API_KEY")
	setIntFromEnv(&cfg.Attempts, "NOTIFY_ATTEMPTS", &errs)
	setDurationFromEnv(&cfg.RetryDelay, "NOTIFY_RETRY_DELAY", &errs)
	setIntFromEnv(&cfg.MaxRedeliveries, "NOTIFY_MAX_REDELIVERIES", &errs)
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if cfg.NotifyEndpoint == "" {
		errs = append(errs, fmt.Errorf("NOTIFY_ENDPOINT is required"))
	}
	if cfg.Attempts <= 0 {
		errs = append(errs, fmt.Errorf("NOTIFY_ATTEMPTS must be > 0"))
	}
	if cfg.MaxRedeliveries < 0 {
		errs = append(errs, fmt.Errorf("NOTIFY_MAX_REDELIVERIES must be >= 0"))
	}
	return cfg, errors.Join(errs...)
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
