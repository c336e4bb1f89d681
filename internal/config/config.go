// Package config loads and validates the vault gate configuration using Viper.
//
// Configuration is layered: built-in defaults < YAML config file < environment
// variables. Environment variables use the VG_ prefix (e.g., VG_DATABASE_HOST
// overrides database.host in the YAML). This layering allows the same binary to
// run with a config.yaml in local development and with pure environment variables
// in containerized deployments — no recompilation or different binaries needed.
//
// Secrets (the token signing secret, the database password, the admin bearer
// hash) support ${VAR_NAME} expansion so infrastructure tooling can inject
// them under generic names without knowing the application prefix.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/vault-gate/vault-gate/internal/audit"
	"github.com/vault-gate/vault-gate/internal/tier"
)

// Config holds all application configuration
type Config struct {
	Server     ServerConfig      `mapstructure:"server"`
	Database   DatabaseConfig    `mapstructure:"database"`
	Redis      RedisConfig       `mapstructure:"redis"`
	Auth       AuthConfig        `mapstructure:"auth"`
	RateLimits RateLimitsConfig  `mapstructure:"rate_limits"`
	Resources  map[string]string `mapstructure:"resources"`
	Security   SecurityConfig    `mapstructure:"security"`
	Logging    LoggingConfig     `mapstructure:"logging"`
	Telemetry  TelemetryConfig   `mapstructure:"telemetry"`
	Audit      AuditConfig       `mapstructure:"audit"`
	Jobs       JobsConfig        `mapstructure:"jobs"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	BaseURL      string        `mapstructure:"base_url"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

/// GetAddress returns the server address in host:port format
func (s *ServerConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host               string `mapstructure:"host"`
	Port               int    `mapstructure:"port"`
	Name               string `mapstructure:"name"`
	User               string `mapstructure:"user"`
	Password           string `mapstructure:"password"`
	SSLMode            string `mapstructure:"ssl_mode"`
	MaxConnections     int    `mapstructure:"max_connections"`
	MinIdleConnections int    `mapstructure:"min_idle_connections"`
}

// GetDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// RedisConfig holds the optional shared Redis used by the rate limiter and
// the coarse throttle. When disabled, both fall back to in-process state —
// correct on a single instance, per-instance counting on a fleet.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig holds credential and session configuration.
type AuthConfig struct {
	// SigningSecret signs download tokens. Minimum 32 bytes; the process
	// refuses to start without it rather than falling back to a default.
	SigningSecret string `mapstructure:"signing_secret"`
	// AdminTokenHash is the bcrypt hash of the admin bearer credential
	// (generate with cmd/hash). Empty disables the whole admin surface.
	AdminTokenHash string `mapstructure:"admin_token_hash"`
	// SessionTTL is the lifetime of a minted session.
	SessionTTL time.Duration `mapstructure:"session_ttl"`
	// KeyTTL is the lifetime of an issued access key; 0 = no expiry.
	KeyTTL time.Duration `mapstructure:"key_ttl"`
	// DownloadTokenTTL is the lifetime of a signed download token.
	DownloadTokenTTL time.Duration `mapstructure:"download_token_ttl"`
	// CookieDomain scopes the session cookie; empty uses the request host.
	CookieDomain string `mapstructure:"cookie_domain"`
	// CookieSecure marks the session cookie Secure. Disable only for local
	// plain-HTTP development.
	CookieSecure bool `mapstructure:"cookie_secure"`
}

// RateLimitRule parameterizes one rate-limit scope.
type RateLimitRule struct {
	Window           time.Duration `mapstructure:"window"`
	Max              int           `mapstructure:"max"`
	BlockDuration    time.Duration `mapstructure:"block_duration"`
	MaxBlockDuration time.Duration `mapstructure:"max_block_duration"`
	StrikeWindow     time.Duration `mapstructure:"strike_window"`
}

// ThrottleConfig holds the coarse per-IP throttle applied in front of the
// whole API when Redis is available.
type ThrottleConfig struct {
	Enabled bool `mapstructure:"enabled"`
	RPS     int  `mapstructure:"rps"`
	Burst   int  `mapstructure:"burst"`
}

// RateLimitsConfig holds per-scope rate limit rules.
type RateLimitsConfig struct {
	Register RateLimitRule  `mapstructure:"register"`
	Resend   RateLimitRule  `mapstructure:"resend"`
	Redeem   RateLimitRule  `mapstructure:"redeem"`
	Vault    RateLimitRule  `mapstructure:"vault"`
	Download RateLimitRule  `mapstructure:"download"`
	Throttle ThrottleConfig `mapstructure:"throttle"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	CORS CORSConfig `mapstructure:"cors"`
	TLS  TLSConfig  `mapstructure:"tls"`
}

// CORSConfig holds CORS configuration
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
}

// TLSConfig holds TLS/HTTPS configuration
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TelemetryConfig holds observability configuration
type TelemetryConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	ServiceName string        `mapstructure:"service_name"`
	Metrics     MetricsConfig `mapstructure:"metrics"`
}

// MetricsConfig holds Prometheus metrics configuration
type MetricsConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	PrometheusPort int  `mapstructure:"prometheus_port"`
}

// AuditConfig holds audit sink configuration. The database sink is always
// on; shippers add external forwarding and unmarshal straight into the audit
// package's config types.
type AuditConfig struct {
	Shippers []audit.ShipperConfig `mapstructure:"shippers"`
}

// JobsConfig holds background job configuration.
type JobsConfig struct {
	// KeySweepInterval is how often expired active keys are flipped to
	// expired status.
	KeySweepInterval time.Duration `mapstructure:"key_sweep_interval"`
	// SessionRetention is how long after expiry dead session rows are kept
	// before deletion.
	SessionRetention time.Duration `mapstructure:"session_retention"`
}

// bindEnvVars explicitly binds environment variables to config keys.
// This is necessary because AutomaticEnv() doesn't work well with nested structs during Unmarshal.
// viper.BindEnv only errors when called with zero keys; since every key here is a non-empty
// hardcoded string, any error indicates a programming bug and is surfaced to the caller.
func bindEnvVars(v *viper.Viper) error {
	keys := []string{
		// Server
		"server.host",
		"server.port",
		"server.base_url",
		"server.read_timeout",
		"server.write_timeout",

		// Database
		"database.host",
		"database.port",
		"database.name",
		"database.user",
		"database.password",
		"database.ssl_mode",
		"database.max_connections",
		"database.min_idle_connections",

		// Redis
		"redis.enabled",
		"redis.addr",
		"redis.password",
		"redis.db",

		// Auth
		"auth.signing_secret",
		"auth.admin_token_hash",
		"auth.session_ttl",
		"auth.key_ttl",
		"auth.download_token_ttl",
		"auth.cookie_domain",
		"auth.cookie_secure",

		// Rate limits
		"rate_limits.register.window",
		"rate_limits.register.max",
		"rate_limits.register.block_duration",
		"rate_limits.register.max_block_duration",
		"rate_limits.register.strike_window",
		"rate_limits.resend.window",
		"rate_limits.resend.max",
		"rate_limits.resend.block_duration",
		"rate_limits.resend.max_block_duration",
		"rate_limits.resend.strike_window",
		"rate_limits.redeem.window",
		"rate_limits.redeem.max",
		"rate_limits.redeem.block_duration",
		"rate_limits.redeem.max_block_duration",
		"rate_limits.redeem.strike_window",
		"rate_limits.vault.window",
		"rate_limits.vault.max",
		"rate_limits.vault.block_duration",
		"rate_limits.vault.max_block_duration",
		"rate_limits.vault.strike_window",
		"rate_limits.download.window",
		"rate_limits.download.max",
		"rate_limits.download.block_duration",
		"rate_limits.download.max_block_duration",
		"rate_limits.download.strike_window",
		"rate_limits.throttle.enabled",
		"rate_limits.throttle.rps",
		"rate_limits.throttle.burst",

		// Security
		"security.cors.allowed_origins",
		"security.cors.allowed_methods",
		"security.tls.enabled",
		"security.tls.cert_file",
		"security.tls.key_file",

		// Logging
		"logging.level",
		"logging.format",

		// Telemetry
		"telemetry.enabled",
		"telemetry.service_name",
		"telemetry.metrics.enabled",
		"telemetry.metrics.prometheus_port",

		// Jobs
		"jobs.key_sweep_interval",
		"jobs.session_retention",
	}
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("failed to bind env var %q: %w", key, err)
		}
	}
	return nil
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Look for config.yaml in common locations
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/vault-gate")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; use defaults and environment variables
	}

	v.SetEnvPrefix("VG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicitly bind environment variables for nested structures
	// This is necessary because AutomaticEnv() doesn't work well with Unmarshal()
	if err := bindEnvVars(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Expand environment variables in sensitive fields
	cfg.Database.Password = os.ExpandEnv(cfg.Database.Password)
	cfg.Redis.Password = os.ExpandEnv(cfg.Redis.Password)
	cfg.Auth.SigningSecret = os.ExpandEnv(cfg.Auth.SigningSecret)
	cfg.Auth.AdminTokenHash = os.ExpandEnv(cfg.Auth.AdminTokenHash)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.base_url", "http://localhost:8080")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "vault_gate")
	v.SetDefault("database.user", "vaultgate")
	v.SetDefault("database.ssl_mode", "require")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_idle_connections", 5)

	// Redis defaults
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	// Auth defaults. No default signing secret: a gate that signs tokens
	// with a known default is worse than one that refuses to start.
	v.SetDefault("auth.session_ttl", "720h") // 30 days
	v.SetDefault("auth.key_ttl", "168h")     // 7 days
	v.SetDefault("auth.download_token_ttl", "15m")
	v.SetDefault("auth.cookie_secure", true)

	// Rate limit defaults: registration and resend are expensive paths,
	// redemption guesses are the attack surface, vault reads are cheap.
	setRuleDefaults(v, "register", "1h", 5, "15m")
	setRuleDefaults(v, "resend", "1h", 5, "15m")
	setRuleDefaults(v, "redeem", "15m", 10, "30m")
	setRuleDefaults(v, "vault", "1m", 120, "5m")
	setRuleDefaults(v, "download", "15m", 30, "15m")
	v.SetDefault("rate_limits.throttle.enabled", true)
	v.SetDefault("rate_limits.throttle.rps", 50)
	v.SetDefault("rate_limits.throttle.burst", 100)

	// Security defaults
	v.SetDefault("security.cors.allowed_origins", []string{})
	v.SetDefault("security.cors.allowed_methods", []string{"GET", "POST", "OPTIONS"})
	v.SetDefault("security.tls.enabled", false)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Telemetry defaults
	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.service_name", "vault-gate")
	v.SetDefault("telemetry.metrics.enabled", true)
	v.SetDefault("telemetry.metrics.prometheus_port", 9090)

	// Jobs defaults
	v.SetDefault("jobs.key_sweep_interval", "1h")
	v.SetDefault("jobs.session_retention", "720h")
}

func setRuleDefaults(v *viper.Viper, scope, window string, max int, block string) {
	v.SetDefault("rate_limits."+scope+".window", window)
	v.SetDefault("rate_limits."+scope+".max", max)
	v.SetDefault("rate_limits."+scope+".block_duration", block)
	v.SetDefault("rate_limits."+scope+".strike_window", "24h")
}

// Validate validates the configuration. Secrets fail closed: a missing or
// short signing secret is a startup error, never a silent default.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.BaseURL == "" {
		return fmt.Errorf("server.base_url is required")
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database.name is required")
	}
	if c.Database.User == "" {
		return fmt.Errorf("database.user is required")
	}

	if c.Auth.SigningSecret == "" {
		return fmt.Errorf("auth.signing_secret is required (set VG_AUTH_SIGNING_SECRET)")
	}
	if len(c.Auth.SigningSecret) < 32 {
		return fmt.Errorf("auth.signing_secret must be at least 32 bytes, got %d", len(c.Auth.SigningSecret))
	}
	if c.Auth.SessionTTL <= 0 {
		return fmt.Errorf("auth.session_ttl must be positive")
	}
	if c.Auth.DownloadTokenTTL <= 0 {
		return fmt.Errorf("auth.download_token_ttl must be positive")
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when redis is enabled")
	}

	for scope, rule := range map[string]RateLimitRule{
		"register": c.RateLimits.Register,
		"resend":   c.RateLimits.Resend,
		"redeem":   c.RateLimits.Redeem,
		"vault":    c.RateLimits.Vault,
		"download": c.RateLimits.Download,
	} {
		if rule.Window <= 0 {
			return fmt.Errorf("rate_limits.%s.window must be positive", scope)
		}
		if rule.Max < 1 {
			return fmt.Errorf("rate_limits.%s.max must be at least 1", scope)
		}
	}

	// Resource tiers must parse; a typo here would otherwise surface as a
	// runtime denial with no hint why.
	for slug, name := range c.Resources {
		if _, err := tier.Parse(name); err != nil {
			return fmt.Errorf("resources.%s: %w", slug, err)
		}
	}

	if c.Security.TLS.Enabled {
		if c.Security.TLS.CertFile == "" {
			return fmt.Errorf("security.tls.cert_file is required when TLS is enabled")
		}
		if c.Security.TLS.KeyFile == "" {
			return fmt.Errorf("security.tls.key_file is required when TLS is enabled")
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	for i, s := range c.Audit.Shippers {
		if !s.Enabled {
			continue
		}
		switch s.Type {
		case "webhook":
			if s.Webhook == nil || s.Webhook.URL == "" {
				return fmt.Errorf("audit.shippers[%d]: webhook url is required", i)
			}
		case "file":
			if s.File == nil || s.File.Path == "" {
				return fmt.Errorf("audit.shippers[%d]: file path is required", i)
			}
		default:
			return fmt.Errorf("audit.shippers[%d]: unknown type %q", i, s.Type)
		}
	}

	return nil
}

// ResourceTier resolves the required tier for a vault slug. Unknown slugs
// resolve to Private: an undeclared resource is locked down, not open.
func (c *Config) ResourceTier(slug string) tier.Tier {
	name, ok := c.Resources[slug]
	if !ok {
		return tier.Private
	}
	t, err := tier.Parse(name)
	if err != nil {
		return tier.Private
	}
	return t
}
