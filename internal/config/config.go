package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config holds the SuperOffice proxy configuration.
type Config struct {
	App           AppConfig           `yaml:"app" validate:"required"`
	Server        ServerConfig        `yaml:"server" validate:"required"`
	Observability ObservabilityConfig `yaml:"observability" validate:"required"`
	Auth          AuthConfig          `yaml:"auth" validate:"required"`
	Crypto        CryptoConfig        `yaml:"crypto" validate:"required"`
	Session       SessionConfig       `yaml:"session" validate:"required"`
	CSRF          CSRFConfig          `yaml:"csrf"`
	Upstream      UpstreamConfig      `yaml:"upstream"`
}

// AppConfig identifies the service.
type AppConfig struct {
	Name        string `yaml:"name" validate:"required"`
	Version     string `yaml:"version" validate:"required"`
	Tier        string `yaml:"tier" validate:"required,oneof=system business service"`
	Environment string `yaml:"environment" validate:"required,oneof=dev staging prod"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Host            string `yaml:"host" validate:"required"`
	Port            int    `yaml:"port" validate:"required,min=1,max=65535"`
	ReadTimeout     string `yaml:"read_timeout"`
	WriteTimeout    string `yaml:"write_timeout"`
	ShutdownTimeout string `yaml:"shutdown_timeout"`
}

// ObservabilityConfig holds log/trace/metrics settings.
type ObservabilityConfig struct {
	Log     LogConfig     `yaml:"log"`
	Trace   TraceConfig   `yaml:"trace"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `yaml:"format" validate:"omitempty,oneof=json text"`
}

// TraceConfig configures OpenTelemetry tracing.
type TraceConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint"`
	SampleRate float64 `yaml:"sample_rate" validate:"min=0,max=1"`
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// AuthConfig holds the SuperOffice identity provider settings. The
// discovery, issuer and token URLs default from Environment.
type AuthConfig struct {
	Environment  string   `yaml:"environment" validate:"required,oneof=sod stage online"`
	DiscoveryURL string   `yaml:"discovery_url" validate:"omitempty,url"`
	Issuer       string   `yaml:"issuer" validate:"omitempty,url"`
	TokenURL     string   `yaml:"token_url" validate:"omitempty,url"`
	ClientID     string   `yaml:"client_id" validate:"required"`
	ClientSecret string   `yaml:"client_secret" validate:"required"`
	RedirectURI  string   `yaml:"redirect_uri" validate:"required,url"`
	PostLogout   string   `yaml:"post_logout_redirect_uri" validate:"omitempty,url"`
	Scopes       []string `yaml:"scopes"`
	Timeout      string   `yaml:"timeout"`
}

// CryptoConfig holds the per-token-kind encryption secrets.
type CryptoConfig struct {
	AccessToken  SecretConfig `yaml:"access_token" validate:"required"`
	RefreshToken SecretConfig `yaml:"refresh_token" validate:"required"`
}

// SecretConfig is a key and initialization vector pair.
type SecretConfig struct {
	Secret string `yaml:"secret" validate:"required,min=16"`
	IV     string `yaml:"iv" validate:"required,min=8"`
}

// SessionConfig holds Redis session store and cookie settings.
type SessionConfig struct {
	Redis      RedisSessionConfig `yaml:"redis" validate:"required"`
	TTL        string             `yaml:"ttl"`
	Prefix     string             `yaml:"prefix"`
	Sliding    bool               `yaml:"sliding"`
	CookieName string             `yaml:"cookie_name"`
}

// RedisSessionConfig holds Redis connection parameters for session storage.
type RedisSessionConfig struct {
	Addr       string `yaml:"addr" validate:"required"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	MasterName string `yaml:"master_name"`
}

// CSRFConfig holds CSRF protection settings.
type CSRFConfig struct {
	Enabled    bool   `yaml:"enabled"`
	HeaderName string `yaml:"header_name"`
}

// UpstreamConfig holds the routing prefix and REST API settings. The base URL
// itself comes from each session.
type UpstreamConfig struct {
	Prefix     string `yaml:"prefix"`
	APIVersion string `yaml:"api_version"`
	Timeout    string `yaml:"timeout"`
}

// Defaults applied by Load when the field is empty.
const (
	DefaultUpstreamPrefix = "/api/superoffice"
	DefaultAPIVersion     = "v1"
	DefaultCookieName     = "superoffice_session"
	DefaultSessionPrefix  = "superoffice:session:"
)

// ParseDuration parses a duration string with a fallback default.
func ParseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// Load reads the base YAML configuration, deep-merges an optional environment
// overlay, applies environment variable overrides from lookup (os.LookupEnv
// when nil) and fills defaults. It does not validate.
func Load(basePath, envPath string, lookup func(string) (string, bool)) (*Config, error) {
	data, err := os.ReadFile(basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if envPath != "" {
		if err := mergeFromFile(&cfg, envPath); err != nil {
			return nil, fmt.Errorf("failed to merge env config: %w", err)
		}
	}

	if lookup == nil {
		lookup = os.LookupEnv
	}
	cfg.ApplyEnv(lookup)
	cfg.applyDefaults()

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if env := c.Auth.Environment; env != "" {
		if c.Auth.DiscoveryURL == "" {
			c.Auth.DiscoveryURL = fmt.Sprintf("https://%s.superoffice.com/login", env)
		}
		if c.Auth.Issuer == "" {
			c.Auth.Issuer = fmt.Sprintf("https://%s.superoffice.com", env)
		}
		if c.Auth.TokenURL == "" {
			c.Auth.TokenURL = fmt.Sprintf("https://%s.superoffice.com/login/common/oauth/tokens", env)
		}
	}
	if len(c.Auth.Scopes) == 0 {
		c.Auth.Scopes = []string{"openid"}
	}
	if c.Session.Prefix == "" {
		c.Session.Prefix = DefaultSessionPrefix
	}
	if c.Session.CookieName == "" {
		c.Session.CookieName = DefaultCookieName
	}
	if c.Upstream.Prefix == "" {
		c.Upstream.Prefix = DefaultUpstreamPrefix
	}
	if c.Upstream.APIVersion == "" {
		c.Upstream.APIVersion = DefaultAPIVersion
	}
}

// Validate checks struct constraints and that the access and refresh token
// secrets differ.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	if c.Crypto.AccessToken == c.Crypto.RefreshToken {
		return errors.New("config validation failed: crypto.access_token and crypto.refresh_token must differ")
	}
	return nil
}
