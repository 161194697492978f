package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix               = "BIBLI"
	defaultHTTPAddress      = "0.0.0.0:5000"
	defaultDatabaseDriver   = "sqlite"
	defaultDatabasePath     = "bibli.db"
	defaultLogLevel         = "info"
	defaultTokenTTLMinutes  = 24 * 60
	defaultBcryptCost       = 10
	defaultUploadsDir       = "uploads"
	defaultUploadsMaxBytes  = 10 << 20
	defaultStripeCurrency   = "jpy"
	defaultFrontendOrigin   = "http://localhost:5173"
	defaultRateCapacity     = 30
	defaultRateRefillPerMin = 30
	defaultEventsDriver     = "none"
	defaultEventsTopic      = "bibli.events"
	defaultSMTPPort         = 587
	defaultRedisDatabase    = 0
	defaultTokenIssuer      = "bibli-api"
	defaultTokenAudience    = "bibli-web"
	supportedDriversMessage = "sqlite or mysql"
	supportedEventsMessage  = "none, amqp or kafka"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress    string
	AllowedOrigins []string
	FrontendOrigin string
	LogLevel       string
	Database       DatabaseConfig
	Auth           AuthConfig
	Uploads        UploadsConfig
	Stripe         StripeConfig
	Redis          RedisConfig
	RateLimit      RateLimitConfig
	Events         EventsConfig
	SMTP           SMTPConfig
}

// DatabaseConfig selects the gorm dialect and its connection target.
type DatabaseConfig struct {
	Driver string
	Path   string
	DSN    string
}

// AuthConfig configures password hashing and bearer tokens.
type AuthConfig struct {
	SigningSecret string
	Issuer        string
	Audience      string
	TokenTTL      time.Duration
	BcryptCost    int
}

type UploadsConfig struct {
	Dir      string
	MaxBytes int64
}

// StripeConfig is optional; checkout endpoints report unavailable when SecretKey is empty.
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	Currency      string
}

// RedisConfig is optional; rate limiting is disabled when Address is empty.
type RedisConfig struct {
	Address  string
	Password string
	Database int
}

type RateLimitConfig struct {
	Capacity        int
	RefillPerMinute int
}

type EventsConfig struct {
	Driver       string
	AMQPURL      string
	KafkaBrokers []string
	Topic        string
}

// SMTPConfig is optional; e-mail delivery is skipped when Host is empty.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("http.allowed_origins", []string{})
	configViper.SetDefault("http.frontend_origin", defaultFrontendOrigin)
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("database.dsn", "")
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("auth.issuer", defaultTokenIssuer)
	configViper.SetDefault("auth.audience", defaultTokenAudience)
	configViper.SetDefault("auth.token_ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("auth.bcrypt_cost", defaultBcryptCost)
	configViper.SetDefault("uploads.dir", defaultUploadsDir)
	configViper.SetDefault("uploads.max_bytes", defaultUploadsMaxBytes)
	configViper.SetDefault("stripe.secret_key", "")
	configViper.SetDefault("stripe.webhook_secret", "")
	configViper.SetDefault("stripe.currency", defaultStripeCurrency)
	configViper.SetDefault("redis.address", "")
	configViper.SetDefault("redis.password", "")
	configViper.SetDefault("redis.db", defaultRedisDatabase)
	configViper.SetDefault("ratelimit.capacity", defaultRateCapacity)
	configViper.SetDefault("ratelimit.refill_per_minute", defaultRateRefillPerMin)
	configViper.SetDefault("events.driver", defaultEventsDriver)
	configViper.SetDefault("events.amqp_url", "")
	configViper.SetDefault("events.kafka_brokers", "")
	configViper.SetDefault("events.topic", defaultEventsTopic)
	configViper.SetDefault("smtp.host", "")
	configViper.SetDefault("smtp.port", defaultSMTPPort)
	configViper.SetDefault("smtp.username", "")
	configViper.SetDefault("smtp.password", "")
	configViper.SetDefault("smtp.from", "")
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:    configViper.GetString("http.address"),
		AllowedOrigins: splitList(configViper.GetStringSlice("http.allowed_origins")),
		FrontendOrigin: strings.TrimRight(strings.TrimSpace(configViper.GetString("http.frontend_origin")), "/"),
		LogLevel:       configViper.GetString("log.level"),
		Database: DatabaseConfig{
			Driver: strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
			Path:   configViper.GetString("database.path"),
			DSN:    configViper.GetString("database.dsn"),
		},
		Auth: AuthConfig{
			SigningSecret: configViper.GetString("auth.signing_secret"),
			Issuer:        configViper.GetString("auth.issuer"),
			Audience:      configViper.GetString("auth.audience"),
			TokenTTL:      time.Duration(configViper.GetInt("auth.token_ttl_minutes")) * time.Minute,
			BcryptCost:    configViper.GetInt("auth.bcrypt_cost"),
		},
		Uploads: UploadsConfig{
			Dir:      configViper.GetString("uploads.dir"),
			MaxBytes: configViper.GetInt64("uploads.max_bytes"),
		},
		Stripe: StripeConfig{
			SecretKey:     configViper.GetString("stripe.secret_key"),
			WebhookSecret: configViper.GetString("stripe.webhook_secret"),
			Currency:      strings.ToLower(strings.TrimSpace(configViper.GetString("stripe.currency"))),
		},
		Redis: RedisConfig{
			Address:  strings.TrimSpace(configViper.GetString("redis.address")),
			Password: configViper.GetString("redis.password"),
			Database: configViper.GetInt("redis.db"),
		},
		RateLimit: RateLimitConfig{
			Capacity:        configViper.GetInt("ratelimit.capacity"),
			RefillPerMinute: configViper.GetInt("ratelimit.refill_per_minute"),
		},
		Events: EventsConfig{
			Driver:       strings.ToLower(strings.TrimSpace(configViper.GetString("events.driver"))),
			AMQPURL:      configViper.GetString("events.amqp_url"),
			KafkaBrokers: splitList(configViper.GetStringSlice("events.kafka_brokers")),
			Topic:        configViper.GetString("events.topic"),
		},
		SMTP: SMTPConfig{
			Host:     strings.TrimSpace(configViper.GetString("smtp.host")),
			Port:     configViper.GetInt("smtp.port"),
			Username: configViper.GetString("smtp.username"),
			Password: configViper.GetString("smtp.password"),
			From:     strings.TrimSpace(configViper.GetString("smtp.from")),
		},
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.Auth.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl_minutes must be positive")
	}
	switch c.Database.Driver {
	case "sqlite":
		if strings.TrimSpace(c.Database.Path) == "" {
			return fmt.Errorf("database.path is required")
		}
	case "mysql":
		if strings.TrimSpace(c.Database.DSN) == "" {
			return fmt.Errorf("database.dsn is required for mysql")
		}
	default:
		return fmt.Errorf("database.driver must be %s", supportedDriversMessage)
	}
	if strings.TrimSpace(c.Uploads.Dir) == "" {
		return fmt.Errorf("uploads.dir is required")
	}
	if c.Uploads.MaxBytes <= 0 {
		return fmt.Errorf("uploads.max_bytes must be positive")
	}
	if c.Stripe.SecretKey != "" && strings.TrimSpace(c.Stripe.WebhookSecret) == "" {
		return fmt.Errorf("stripe.webhook_secret is required when stripe.secret_key is set")
	}
	if c.Stripe.Currency == "" {
		return fmt.Errorf("stripe.currency is required")
	}
	if c.Redis.Address != "" && (c.RateLimit.Capacity <= 0 || c.RateLimit.RefillPerMinute <= 0) {
		return fmt.Errorf("ratelimit.capacity and ratelimit.refill_per_minute must be positive")
	}
	switch c.Events.Driver {
	case "none":
	case "amqp":
		if strings.TrimSpace(c.Events.AMQPURL) == "" {
			return fmt.Errorf("events.amqp_url is required for amqp")
		}
	case "kafka":
		if len(c.Events.KafkaBrokers) == 0 {
			return fmt.Errorf("events.kafka_brokers is required for kafka")
		}
	default:
		return fmt.Errorf("events.driver must be %s", supportedEventsMessage)
	}
	if c.Events.Driver != "none" && strings.TrimSpace(c.Events.Topic) == "" {
		return fmt.Errorf("events.topic is required")
	}
	if c.SMTP.Host != "" && c.SMTP.From == "" {
		return fmt.Errorf("smtp.from is required when smtp.host is set")
	}
	return nil
}

// splitList flattens comma separated entries so env values like "a,b" behave
// the same as YAML lists.
func splitList(values []string) []string {
	var result []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			trimmed := strings.TrimSpace(part)
			if trimmed != "" {
				result = append(result, trimmed)
			}
		}
	}
	return result
}
