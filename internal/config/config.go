package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {

	// Application configuration
	AppConfig struct {
		Port           int      `envconfig:"PORTAL_PORT" default:"8080"`
		Address        string   `envconfig:"PORTAL_ADDRESS"`
		AllowedOrigins []string `envconfig:"PORTAL_ALLOWED_ORIGINS" default:"http://localhost:3000"`
	}

	// Interventoría backend API configuration
	BackendConfig struct {
		BaseURL        string `envconfig:"BACKEND_URL" required:"true"`
		TimeoutSeconds int    `envconfig:"BACKEND_TIMEOUT" default:"10"`
	}

	// Session cookie configuration
	SessionConfig struct {
		Secret      string `envconfig:"SESSION_SECRET"`
		Name        string `envconfig:"SESSION_NAME" default:"interventoria_session"`
		MaxAgeHours int    `envconfig:"SESSION_MAX_AGE_HOURS" default:"24"`
		Environment string `envconfig:"PORTAL_ENV" default:"development"`
		SignInURL   string `envconfig:"SIGN_IN_URL" default:"/login"`
	}

	// Authorization policy configuration
	PolicyConfig struct {
		StrictAccess        bool     `envconfig:"POLICY_STRICT_ACCESS"`
		PublicResources     []string `envconfig:"POLICY_PUBLIC_RESOURCES"`
		CacheTTLSeconds     int      `envconfig:"POLICY_CACHE_TTL" default:"60"`
		SessionSweepMinutes int      `envconfig:"POLICY_SESSION_SWEEP" default:"15"`
		FetchTimeoutSeconds int      `envconfig:"POLICY_FETCH_TIMEOUT" default:"10"`
	}

	// Redis configuration, the in-memory grant cache is used when empty
	RedisConfig struct {
		Address  string `envconfig:"REDIS_ADDRESS"`
		Password string `envconfig:"REDIS_PASSWORD"`
		DB       int    `envconfig:"REDIS_DB"`
	}

	// RabbitMQ configuration, events are disabled when empty
	RabbitMQConfig struct {
		RabbitMQUser    string `envconfig:"RABBITMQ_USER"`
		RabbitMQPass    string `envconfig:"RABBITMQ_PASSWORD"`
		RabbitMQAddress string `envconfig:"RABBITMQ_ADDRESS"`
		RabbitMQPort    int    `envconfig:"RABBITMQ_PORT" default:"5672"`
		Exchange        string `envconfig:"RABBITMQ_EXCHANGE" default:"interventoria.access"`
		PermissionQueue string `envconfig:"RABBITMQ_PERMISSION_QUEUE" default:"interventoria.portal.permissions"`
		PermissionTopic string `envconfig:"RABBITMQ_PERMISSION_EXCHANGE" default:"interventoria.permissions"`
	}

	// Database configuration, the access audit log is disabled when empty
	DatabaseConfig struct {
		DatabaseHost                      string `envconfig:"DB_HOST"`
		DatabaseUser                      string `envconfig:"DB_USER"`
		DatabasePassword                  string `envconfig:"DB_PASSWORD"`
		DatabaseName                      string `envconfig:"DB_NAME"`
		DatabasePort                      int32  `envconfig:"DB_PORT" default:"5432"`
		DatabasePoolMaxConnections        int32  `envconfig:"DB_MAX_CON" default:"10"`
		DatabasePoolMinConnections        int32  `envconfig:"DB_POOL_MIN_CON" default:"1"`
		DatabasePoolMaxConnectionLifetime int    `envconfig:"DB_POOL_MAX_LIFETIME" default:"1"`
	}
}

// The LoadConfig function loads the env file specified and returns
// a valid configuration object ready for use
func LoadConfig() (*Config, error) {
	cfg := Config{}

	// We ignore the error so it doesn't crash if the file is missing.
	_ = godotenv.Load()

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	return &cfg, nil
}

func (c *Config) BackendTimeout() time.Duration {
	return time.Duration(c.BackendConfig.TimeoutSeconds) * time.Second
}

func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.PolicyConfig.FetchTimeoutSeconds) * time.Second
}

func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.PolicyConfig.CacheTTLSeconds) * time.Second
}

func (c *Config) SessionSweepInterval() time.Duration {
	return time.Duration(c.PolicyConfig.SessionSweepMinutes) * time.Minute
}
