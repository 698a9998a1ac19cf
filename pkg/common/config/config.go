package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Server
	ServerPort     string
	ServerHost     string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxRequestBody int64
	RateLimitRPS   int
	RateLimitBurst int

	// Database
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Redis
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Kafka
	KafkaBrokers []string
	KafkaGroupID string

	// OIDC
	OIDCIssuer       string
	OIDCClientID     string
	OIDCClientSecret string

	// Forecast window
	ForecastDefaultDaysAhead int
	ForecastMaxDaysAhead     int

	// Policy clamps
	MaxInventoryBufferDays   int
	MaxVisitWindowBufferDays int
	MaxDeliveryDays          int

	// Alerting thresholds; overridable per deployment via FORECAST_POLICY_FILE
	ForecastSlackWarningThreshold int
	AlertDefaultResurfaceDays     int
	AlertDeficitRestoreMultiplier float64
	AlertDeficitRestoreThreshold  int
	AlertExpiryCountMultiplier    float64
	AlertExpiryWindowShrinkDays   int
	ForecastPolicyFile            string

	// Nightly recompute job
	ForecastJobLockTTL  time.Duration
	ForecastJobLockKey  string
	ForecastKafkaTopic  string
	NotifierKafkaTopics []string
}

func Load() *Config {
	return &Config{
		ServerPort:     getEnv("SERVER_PORT", "8080"),
		ServerHost:     getEnv("SERVER_HOST", "0.0.0.0"),
		ReadTimeout:    getDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:   getDuration("WRITE_TIMEOUT", 30*time.Second),
		MaxRequestBody: int64(getIntEnv("MAX_REQUEST_BODY_BYTES", 4*1024*1024)),
		RateLimitRPS:   getIntEnv("RATE_LIMIT_RPS", 50),
		RateLimitBurst: getIntEnv("RATE_LIMIT_BURST", 100),

		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "trialkit"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "trialkit123"),
		PostgresDB:       getEnv("POSTGRES_DB", "trialkit"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),

		KafkaBrokers: getStringSliceEnv("KAFKA_BROKERS", []string{"localhost:9092"}),
		KafkaGroupID: getEnv("KAFKA_GROUP_ID", "trialkit-platform"),

		OIDCIssuer:       getEnv("OIDC_ISSUER", ""),
		OIDCClientID:     getEnv("OIDC_CLIENT_ID", ""),
		OIDCClientSecret: getEnv("OIDC_CLIENT_SECRET", ""),

		ForecastDefaultDaysAhead: getIntEnv("FORECAST_DEFAULT_DAYS_AHEAD", 30),
		ForecastMaxDaysAhead:     getIntEnv("FORECAST_MAX_DAYS_AHEAD", 180),

		MaxInventoryBufferDays:   getIntEnv("MAX_INVENTORY_BUFFER_DAYS", 120),
		MaxVisitWindowBufferDays: getIntEnv("MAX_VISIT_WINDOW_BUFFER_DAYS", 60),
		MaxDeliveryDays:          getIntEnv("MAX_DELIVERY_DAYS", 120),

		ForecastSlackWarningThreshold: getIntEnv("FORECAST_SLACK_WARNING_THRESHOLD", 2),
		AlertDefaultResurfaceDays:     getIntEnv("ALERT_DEFAULT_RESURFACE_DAYS", 7),
		AlertDeficitRestoreMultiplier: getFloatEnv("ALERT_DEFICIT_RESTORE_MULTIPLIER", 1.5),
		AlertDeficitRestoreThreshold:  getIntEnv("ALERT_DEFICIT_RESTORE_THRESHOLD", 10),
		AlertExpiryCountMultiplier:    getFloatEnv("ALERT_EXPIRY_COUNT_MULTIPLIER", 2.0),
		AlertExpiryWindowShrinkDays:   getIntEnv("ALERT_EXPIRY_WINDOW_SHRINK_DAYS", 2),
		ForecastPolicyFile:            getEnv("FORECAST_POLICY_FILE", ""),

		ForecastJobLockTTL:  getDuration("FORECAST_JOB_LOCK_TTL", 30*time.Minute),
		ForecastJobLockKey:  getEnv("FORECAST_JOB_LOCK_KEY", "trialkit:forecast-job:lease"),
		ForecastKafkaTopic:  getEnv("FORECAST_KAFKA_TOPIC", "forecast-events"),
		NotifierKafkaTopics: getStringSliceEnv("NOTIFIER_KAFKA_TOPICS", []string{"forecast-events"}),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getStringSliceEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, part := range parts {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}
