package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Webhook intake configuration
	Webhook WebhookConfig

	// Identity provider (Keycloak) configuration
	Keycloak KeycloakConfig

	// Downstream application (Outline) configuration
	Outline OutlineConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// WebhookConfig holds webhook intake settings
type WebhookConfig struct {
	// Secret is the shared signing secret for inbound webhooks
	Secret string

	// MaxSkew rejects signatures whose timestamp is further than this
	// from now. Zero disables the check, matching upstream behavior.
	MaxSkew time.Duration

	// ReplayTTL is how long a seen (timestamp, signature) pair is
	// remembered for replay rejection. Zero disables the guard.
	ReplayTTL time.Duration
}

// KeycloakConfig holds identity provider settings
type KeycloakConfig struct {
	Endpoint     string
	Realm        string
	ClientID     string
	ClientSecret string

	// Discovery resolves the token endpoint via OIDC issuer discovery
	// instead of the well-known Keycloak path
	Discovery bool
}

// OutlineConfig holds downstream application settings
type OutlineConfig struct {
	Endpoint string
	APIToken string
}

// ObservabilityConfig holds logging and metrics settings
type ObservabilityConfig struct {
	LogLevel       string
	MetricsEnabled bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("GROUPSYNC_HOST", "0.0.0.0"),
			Port:            getEnv("GROUPSYNC_PORT", "8000"),
			ReadTimeout:     getEnvDuration("GROUPSYNC_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("GROUPSYNC_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("GROUPSYNC_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("GROUPSYNC_SHUTDOWN_TIMEOUT", 30*time.Second),
			HealthPort:      getEnv("GROUPSYNC_HEALTH_PORT", "9090"),
		},
		Webhook: WebhookConfig{
			Secret:    os.Getenv("WEBHOOK_SECRET"),
			MaxSkew:   getEnvDuration("WEBHOOK_MAX_SKEW", 0),
			ReplayTTL: getEnvDuration("WEBHOOK_REPLAY_TTL", 5*time.Minute),
		},
		Keycloak: KeycloakConfig{
			Endpoint:     strings.TrimRight(os.Getenv("KEYCLOAK_ENDPOINT"), "/"),
			Realm:        os.Getenv("KEYCLOAK_REALM"),
			ClientID:     os.Getenv("KEYCLOAK_CLIENT_ID"),
			ClientSecret: os.Getenv("KEYCLOAK_CLIENT_SECRET"),
			Discovery:    getEnvBool("KEYCLOAK_DISCOVERY", true),
		},
		Outline: OutlineConfig{
			Endpoint: strings.TrimRight(os.Getenv("OUTLINE_ENDPOINT"), "/"),
			APIToken: os.Getenv("OUTLINE_API_TOKEN"),
		},
		Observability: ObservabilityConfig{
			LogLevel:       getEnv("GROUPSYNC_LOG_LEVEL", "info"),
			MetricsEnabled: getEnvBool("GROUPSYNC_METRICS_ENABLED", true),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Webhook.Secret == "" {
		return fmt.Errorf("WEBHOOK_SECRET is required")
	}

	if c.Keycloak.Endpoint == "" {
		return fmt.Errorf("KEYCLOAK_ENDPOINT is required")
	}
	if c.Keycloak.Realm == "" {
		return fmt.Errorf("KEYCLOAK_REALM is required")
	}
	if c.Keycloak.ClientID == "" {
		return fmt.Errorf("KEYCLOAK_CLIENT_ID is required")
	}
	if c.Keycloak.ClientSecret == "" {
		return fmt.Errorf("KEYCLOAK_CLIENT_SECRET is required")
	}

	if c.Outline.Endpoint == "" {
		return fmt.Errorf("OUTLINE_ENDPOINT is required")
	}
	if c.Outline.APIToken == "" {
		return fmt.Errorf("OUTLINE_API_TOKEN is required")
	}

	return nil
}

// IssuerURL returns the realm issuer URL used for OIDC discovery
func (c KeycloakConfig) IssuerURL() string {
	return fmt.Sprintf("%s/realms/%s", c.Endpoint, c.Realm)
}

// AdminRealmURL returns the base URL of the realm admin API
func (c KeycloakConfig) AdminRealmURL() string {
	return fmt.Sprintf("%s/admin/realms/%s", c.Endpoint, c.Realm)
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
