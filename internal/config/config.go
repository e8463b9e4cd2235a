package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port            string        `mapstructure:"PORT"`
	Env             string        `mapstructure:"ENV"`
	LogLevel        string        `mapstructure:"LOG_LEVEL"`
	AuthMode        string        `mapstructure:"AUTH_MODE"`
	AuthIssuer      string        `mapstructure:"AUTH_ISSUER"`
	AuthAudience    string        `mapstructure:"AUTH_AUDIENCE"`
	AuthJWKSURL     string        `mapstructure:"AUTH_JWKS_URL"`
	JWTSigningKey   string        `mapstructure:"JWT_SIGNING_KEY"`
	DatabaseURL     string        `mapstructure:"DATABASE_URL"`
	DBMaxConns      int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns      int32         `mapstructure:"DB_MIN_CONNS"`
	MigrationsDir   string        `mapstructure:"MIGRATIONS_DIR"`
	RedisURL        string        `mapstructure:"REDIS_URL"`
	CacheTTL        time.Duration `mapstructure:"CACHE_TTL"`
	NotifyDriver    string        `mapstructure:"NOTIFY_DRIVER"`
	FCMURL          string        `mapstructure:"FCM_URL"`
	FCMServerKey    string        `mapstructure:"FCM_SERVER_KEY"`
	KafkaBrokers    []string      `mapstructure:"KAFKA_BROKERS"`
	KafkaPushTopic  string        `mapstructure:"KAFKA_PUSH_TOPIC"`
	ReportsDir      string        `mapstructure:"REPORTS_DIR"`
	ReportsBaseURL  string        `mapstructure:"REPORTS_BASE_URL"`
	RateLimitRPS    float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst  int           `mapstructure:"RATE_LIMIT_BURST"`
	CORSOrigins     []string      `mapstructure:"CORS_ORIGINS"`
	OTLPEndpoint    string        `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	SentryDSN       string        `mapstructure:"SENTRY_DSN"`
	Timezone        string        `mapstructure:"TIMEZONE"`
}

var envKeys = []string{
	"PORT", "ENV", "LOG_LEVEL",
	"AUTH_MODE", "AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_JWKS_URL", "JWT_SIGNING_KEY",
	"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "MIGRATIONS_DIR",
	"REDIS_URL", "CACHE_TTL",
	"NOTIFY_DRIVER", "FCM_URL", "FCM_SERVER_KEY", "KAFKA_BROKERS", "KAFKA_PUSH_TOPIC",
	"REPORTS_DIR", "REPORTS_BASE_URL",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "CORS_ORIGINS",
	"OTEL_EXPORTER_OTLP_ENDPOINT", "SENTRY_DSN", "TIMEZONE",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("AUTH_MODE", "") // inferred from ENV when empty
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("MIGRATIONS_DIR", "./migrations")
	v.SetDefault("CACHE_TTL", "5m")
	v.SetDefault("NOTIFY_DRIVER", "log")
	v.SetDefault("FCM_URL", "https://fcm.googleapis.com/fcm/send")
	v.SetDefault("KAFKA_PUSH_TOPIC", "labbox.push")
	v.SetDefault("REPORTS_DIR", "./uploads")
	v.SetDefault("REPORTS_BASE_URL", "http://localhost:8000/uploads")
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("TIMEZONE", "Local")

	for _, k := range envKeys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(cfg.CORSOrigins, v.GetString("CORS_ORIGINS"))
	cfg.KafkaBrokers = splitList(cfg.KafkaBrokers, v.GetString("KAFKA_BROKERS"))

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

// splitList normalizes comma separated env values. Viper may hand them back
// as one element or already split without trimming, so both are rejoined and
// split again with blanks dropped.
func splitList(cur []string, raw string) []string {
	joined := strings.Join(cur, ",")
	if joined == "" {
		joined = raw
	}
	var out []string
	for _, s := range strings.Split(joined, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ResolvedAuthMode returns the effective auth mode. If AUTH_MODE is set it
// wins; otherwise development maps to "development", a configured issuer or
// JWKS URL to "external", and a shared signing key to "hmac".
func (c *Config) ResolvedAuthMode() string {
	if c.AuthMode != "" {
		return c.AuthMode
	}
	if c.IsDev() {
		return "development"
	}
	if c.AuthIssuer != "" || c.AuthJWKSURL != "" {
		return "external"
	}
	return "hmac"
}

// Location resolves TIMEZONE, used to compute calendar-day windows.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	switch mode := c.ResolvedAuthMode(); mode {
	case "development":
	case "external":
		if c.AuthIssuer == "" && c.AuthJWKSURL == "" {
			return fmt.Errorf("AUTH_ISSUER or AUTH_JWKS_URL must be set when AUTH_MODE is \"external\"")
		}
	case "hmac":
		if c.JWTSigningKey == "" {
			return fmt.Errorf("JWT_SIGNING_KEY is required when AUTH_MODE is \"hmac\" (current ENV=%q)", c.Env)
		}
	default:
		return fmt.Errorf("AUTH_MODE must be \"development\", \"external\", or \"hmac\", got %q", mode)
	}

	switch c.NotifyDriver {
	case "log":
	case "fcm":
		if c.FCMServerKey == "" {
			return fmt.Errorf("FCM_SERVER_KEY is required when NOTIFY_DRIVER is \"fcm\"")
		}
	case "kafka":
		if len(c.KafkaBrokers) == 0 {
			return fmt.Errorf("KAFKA_BROKERS is required when NOTIFY_DRIVER is \"kafka\"")
		}
		if c.KafkaPushTopic == "" {
			return fmt.Errorf("KAFKA_PUSH_TOPIC is required when NOTIFY_DRIVER is \"kafka\"")
		}
	default:
		return fmt.Errorf("NOTIFY_DRIVER must be \"log\", \"fcm\", or \"kafka\", got %q", c.NotifyDriver)
	}

	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) must not exceed DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}

	if _, err := c.Location(); err != nil {
		return fmt.Errorf("TIMEZONE is invalid: %w", err)
	}

	return nil
}
