package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type AppConfig struct {
	App      AppSettings      `mapstructure:"app"`
	API      APISettings      `mapstructure:"api"`
	Auth     AuthSettings     `mapstructure:"auth"`
	Otp      OtpSettings      `mapstructure:"otp"`
	OpenAPI  OpenAPISettings  `mapstructure:"openapi"`
	Postgres PostgresSettings `mapstructure:"postgres"`
	Redis    RedisSettings    `mapstructure:"redis"`
	Kafka    KafkaSettings    `mapstructure:"kafka"`

	RateLimit RateLimitSettings `mapstructure:"rate_limit"`
}

type AppSettings struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// APISettings configures the uniform HTTP surface.
type APISettings struct {
	Prefix string `mapstructure:"prefix"`
	// NotMonitored lists URL prefixes excluded from request tracking.
	NotMonitored []string `mapstructure:"not_monitored"`
	Language     string   `mapstructure:"language"`
	// AsyncAvailable gates deferred OTP dispatch through the queue.
	AsyncAvailable bool `mapstructure:"async_available"`
}

// AuthSettings configures the token codec and visitor keys.
type AuthSettings struct {
	JWTKey            string `mapstructure:"jwt_key"`
	TokenValidSeconds int    `mapstructure:"token_valid_seconds"`
	VisitorKeyLength  int    `mapstructure:"visitor_key_length"`
}

// OtpChannelSettings holds the per-identifier-kind challenge parameters.
type OtpChannelSettings struct {
	GapSeconds   int `mapstructure:"gap_seconds"`
	ValidSeconds int `mapstructure:"valid_seconds"`
	TriesCount   int `mapstructure:"tries_count"`
	CodeLength   int `mapstructure:"code_length"`
}

type OtpSettings struct {
	Phone OtpChannelSettings `mapstructure:"phone"`
	Email OtpChannelSettings `mapstructure:"email"`
}

// Channel returns the challenge parameters for the identifier kind.
func (c OtpSettings) Channel(kind string) OtpChannelSettings {
	if kind == "email" {
		return c.Email
	}
	return c.Phone
}

// OpenAPISettings feeds the document synthesizer.
type OpenAPISettings struct {
	Title             string   `mapstructure:"title"`
	Description       string   `mapstructure:"description"`
	Version           string   `mapstructure:"version"`
	Servers           []string `mapstructure:"servers"`
	IgnoredPathModels []string `mapstructure:"ignored_path_models"`
}

type PostgresSettings struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	User              string        `mapstructure:"user"`
	Password          string        `mapstructure:"password"`
	Database          string        `mapstructure:"database"`
	SSLMode           string        `mapstructure:"ssl_mode"`
	MaxConns          int32         `mapstructure:"max_conns"`
	MinConns          int32         `mapstructure:"min_conns"`
	MaxConnLifetime   time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   time.Duration `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
}

// RedisSettings configures Redis connection and TLS
type RedisSettings struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	DB         int    `mapstructure:"db"`
	Password   string `mapstructure:"password"`
	TLSEnabled bool   `mapstructure:"tls_enabled"`
}

// KafkaSettings configures the deferred OTP dispatch producer and its
// consumer group
type KafkaSettings struct {
	Brokers       []string `mapstructure:"brokers"`
	TopicPrefix   string   `mapstructure:"topic_prefix"`
	ConsumerGroup string   `mapstructure:"consumer_group"`
}

// RateLimitSettings configures rate limiting windows and max attempts per endpoint
type RateLimitSettings struct {
	WindowDuration       time.Duration `mapstructure:"window_duration"`
	LoginMaxAttempts     int           `mapstructure:"login_max_attempts"`
	ChallengeMaxAttempts int           `mapstructure:"challenge_max_attempts"`
}

func Load() (*AppConfig, error) {
	v := viper.New()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("AVISHAN")

	setDefaults(v)

	if err := bindEnvs(v, []string{
		"app.name",
		"app.env",
		"app.host",
		"app.port",
		"api.prefix",
		"api.not_monitored",
		"api.language",
		"api.async_available",
		"auth.jwt_key",
		"auth.token_valid_seconds",
		"auth.visitor_key_length",
		"otp.phone.gap_seconds",
		"otp.phone.valid_seconds",
		"otp.phone.tries_count",
		"otp.phone.code_length",
		"otp.email.gap_seconds",
		"otp.email.valid_seconds",
		"otp.email.tries_count",
		"otp.email.code_length",
		"openapi.title",
		"openapi.description",
		"openapi.version",
		"openapi.servers",
		"openapi.ignored_path_models",
		"postgres.host",
		"postgres.port",
		"postgres.user",
		"postgres.password",
		"postgres.database",
		"postgres.ssl_mode",
		"postgres.max_conns",
		"postgres.min_conns",
		"postgres.max_conn_lifetime",
		"postgres.max_conn_idle_time",
		"postgres.health_check_period",
		"redis.host",
		"redis.port",
		"redis.db",
		"redis.password",
		"redis.tls_enabled",
		"kafka.brokers",
		"kafka.topic_prefix",
		"kafka.consumer_group",
		"rate_limit.window_duration",
		"rate_limit.login_max_attempts",
		"rate_limit.challenge_max_attempts",
	}); err != nil {
		return nil, err
	}

	v.AutomaticEnv()

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "avishan")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.host", "0.0.0.0")
	v.SetDefault("app.port", 8080)

	v.SetDefault("api.prefix", "api/v1")
	v.SetDefault("api.not_monitored", []string{"/healthz", "/readyz", "/metrics"})
	v.SetDefault("api.language", "EN")
	v.SetDefault("api.async_available", false)

	v.SetDefault("auth.jwt_key", "")
	v.SetDefault("auth.token_valid_seconds", 3600)
	v.SetDefault("auth.visitor_key_length", 24)

	v.SetDefault("otp.phone.gap_seconds", 90)
	v.SetDefault("otp.phone.valid_seconds", 300)
	v.SetDefault("otp.phone.tries_count", 3)
	v.SetDefault("otp.phone.code_length", 5)

	v.SetDefault("otp.email.gap_seconds", 120)
	v.SetDefault("otp.email.valid_seconds", 600)
	v.SetDefault("otp.email.tries_count", 3)
	v.SetDefault("otp.email.code_length", 6)

	v.SetDefault("openapi.title", "Avishan API")
	v.SetDefault("openapi.description", "Model-driven HTTP API")
	v.SetDefault("openapi.version", "0.1.0")
	v.SetDefault("openapi.servers", []string{"http://localhost:8080"})
	v.SetDefault("openapi.ignored_path_models", []string{})

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "avishan")
	v.SetDefault("postgres.password", "avishan_password")
	v.SetDefault("postgres.database", "avishan")
	v.SetDefault("postgres.ssl_mode", "disable")
	v.SetDefault("postgres.max_conns", 10)
	v.SetDefault("postgres.min_conns", 2)
	v.SetDefault("postgres.max_conn_lifetime", "60m")
	v.SetDefault("postgres.max_conn_idle_time", "15m")
	v.SetDefault("postgres.health_check_period", "30s")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.tls_enabled", false)

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic_prefix", "avishan")
	v.SetDefault("kafka.consumer_group", "avishan-challenge-workers")

	v.SetDefault("rate_limit.window_duration", "1m")
	v.SetDefault("rate_limit.login_max_attempts", 5)
	v.SetDefault("rate_limit.challenge_max_attempts", 3)
}

func bindEnvs(v *viper.Viper, keys []string) error {
	for _, key := range keys {
		envKey := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, "AVISHAN_"+envKey, envKey); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}
