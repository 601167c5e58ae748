package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port     int
	LogLevel string
	Env      string

	// Database. DBDriver is "sqlite" or "pgx".
	DBDriver   string
	DBPath     string
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis is optional. When RedisHost is empty the digest claim falls back
	// to the database and the API runs without rate limiting.
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// AWS delivery channels (email, sms, topic, queue)
	AWSEnabled   bool
	AWSRegion    string
	AWSEndpoint  string // e.g. LocalStack
	SESFromEmail string
	SNSRegion    string
	SQSRegion    string

	TelegramToken string

	WebhookTimeout time.Duration
	WebhookRPS     float64

	// Pollers
	ReminderSchedule string
	DigestSchedule   string
	DeliveryTimeout  time.Duration
	MinLeadTime      time.Duration

	RateLimitPerMinute int
}

// Load reads configuration from a .env file, if present, and then from
// environment variables, with sensible defaults.
func Load() (*Config, error) {
	// existing environment variables win over .env
	_ = godotenv.Load()

	cfg := &Config{
		Port:     8080,
		LogLevel: "info",
		Env:      "development",

		DBDriver:  "sqlite",
		DBPath:    "deadlines.db",
		DBHost:    "localhost",
		DBPort:    5432,
		DBUser:    "deadlines",
		DBName:    "deadlines",
		DBSSLMode: "disable",

		RedisPort: 6379,

		AWSRegion:    "us-east-1",
		SESFromEmail: "noreply@deadlines.local",

		WebhookTimeout: 30 * time.Second,
		WebhookRPS:     5,

		ReminderSchedule: "@every 30s",
		DigestSchedule:   "@every 1m",
		DeliveryTimeout:  10 * time.Second,
		MinLeadTime:      time.Minute,

		RateLimitPerMinute: 120,
	}

	var err error

	if cfg.Port, err = intEnv("PORT", cfg.Port); err != nil {
		return nil, err
	}
	cfg.LogLevel = stringEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.Env = stringEnv("ENV", cfg.Env)

	// Database config
	cfg.DBDriver = stringEnv("DB_DRIVER", cfg.DBDriver)
	if cfg.DBDriver != "sqlite" && cfg.DBDriver != "pgx" {
		return nil, fmt.Errorf("invalid DB_DRIVER %q: want sqlite or pgx", cfg.DBDriver)
	}
	cfg.DBPath = stringEnv("DB_PATH", cfg.DBPath)
	cfg.DBHost = stringEnv("DB_HOST", cfg.DBHost)
	if cfg.DBPort, err = intEnv("DB_PORT", cfg.DBPort); err != nil {
		return nil, err
	}
	cfg.DBUser = stringEnv("DB_USER", cfg.DBUser)
	cfg.DBPassword = stringEnv("DB_PASSWORD", cfg.DBPassword)
	cfg.DBName = stringEnv("DB_NAME", cfg.DBName)
	cfg.DBSSLMode = stringEnv("DB_SSLMODE", cfg.DBSSLMode)

	// Redis config
	cfg.RedisHost = stringEnv("REDIS_HOST", cfg.RedisHost)
	if cfg.RedisPort, err = intEnv("REDIS_PORT", cfg.RedisPort); err != nil {
		return nil, err
	}
	cfg.RedisPassword = stringEnv("REDIS_PASSWORD", cfg.RedisPassword)
	if cfg.RedisDB, err = intEnv("REDIS_DB", cfg.RedisDB); err != nil {
		return nil, err
	}

	// AWS
	if v := os.Getenv("AWS_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid AWS_ENABLED: %w", err)
		}
		cfg.AWSEnabled = b
	}
	cfg.AWSRegion = stringEnv("AWS_REGION", cfg.AWSRegion)
	cfg.AWSEndpoint = stringEnv("AWS_ENDPOINT_URL", cfg.AWSEndpoint)
	cfg.SESFromEmail = stringEnv("SES_FROM_EMAIL", cfg.SESFromEmail)
	cfg.SNSRegion = stringEnv("SNS_REGION", cfg.AWSRegion)
	cfg.SQSRegion = stringEnv("SQS_REGION", cfg.AWSRegion)

	cfg.TelegramToken = stringEnv("TELEGRAM_TOKEN", cfg.TelegramToken)

	// Webhook config
	if cfg.WebhookTimeout, err = durationEnv("WEBHOOK_TIMEOUT", cfg.WebhookTimeout); err != nil {
		return nil, err
	}
	if v := os.Getenv("WEBHOOK_RPS"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid WEBHOOK_RPS: %w", err)
		}
		cfg.WebhookRPS = f
	}

	// Pollers
	cfg.ReminderSchedule = stringEnv("REMINDER_SCHEDULE", cfg.ReminderSchedule)
	cfg.DigestSchedule = stringEnv("DIGEST_SCHEDULE", cfg.DigestSchedule)
	if cfg.DeliveryTimeout, err = durationEnv("DELIVERY_TIMEOUT", cfg.DeliveryTimeout); err != nil {
		return nil, err
	}
	if cfg.MinLeadTime, err = durationEnv("MIN_LEAD_TIME", cfg.MinLeadTime); err != nil {
		return nil, err
	}

	if cfg.RateLimitPerMinute, err = intEnv("RATE_LIMIT_PER_MINUTE", cfg.RateLimitPerMinute); err != nil {
		return nil, err
	}

	return cfg, nil
}

func stringEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func intEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

// durationEnv accepts Go durations ("45s") or a bare number of seconds.
func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
