package config

import (
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the campus auth service.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	API       APIConfig       `yaml:"api"`
	Security  SecurityConfig  `yaml:"security"`
	Sessions  SessionsConfig  `yaml:"sessions"`
	Logging   LoggingConfig   `yaml:"logging"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Redis     RedisConfig     `yaml:"redis"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// SecurityConfig contains token and password hashing settings.
type SecurityConfig struct {
	JWT      JWTConfig      `yaml:"jwt"`
	Password PasswordConfig `yaml:"password"`
}

// JWTConfig contains token signing settings.
//
// Access and refresh tokens are signed with independent secrets. TTLs use the
// compact grammar "<digits><s|m|h|d>", e.g. "15m" or "7d".
type JWTConfig struct {
	AccessSecret  string `yaml:"access_secret"`
	RefreshSecret string `yaml:"refresh_secret"`
	AccessTTL     string `yaml:"access_ttl"`
	RefreshTTL    string `yaml:"refresh_ttl"`
}

// PasswordConfig contains Argon2id cost parameters.
type PasswordConfig struct {
	MemoryKiB   uint32 `yaml:"memory_kib"`
	Iterations  uint32 `yaml:"iterations"`
	Parallelism uint8  `yaml:"parallelism"`
}

// SessionsConfig contains refresh session policy.
type SessionsConfig struct {
	MaxPerUser    int `yaml:"max_per_user"`
	SweepInterval int `yaml:"sweep_interval"` // seconds, 0 disables the expired-session sweep
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// MQTTConfig contains MQTT broker connection settings for the activity feed.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// InfluxDBConfig contains InfluxDB connection settings for auth metrics.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// RedisConfig contains Redis connection settings used by the rate limiter.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// RateLimitConfig contains per-route request limits.
// Each limit is the number of requests allowed per client IP per window.
type RateLimitConfig struct {
	Enabled  bool `yaml:"enabled"`
	Window   int  `yaml:"window"` // seconds
	Register int  `yaml:"register"`
	Login    int  `yaml:"login"`
	Refresh  int  `yaml:"refresh"`
	Default  int  `yaml:"default"`

	// TrustedProxies lists reverse proxies (IPs or CIDRs) whose
	// X-Forwarded-For header is believed. Empty means the socket peer is
	// always the client.
	TrustedProxies []string `yaml:"trusted_proxies"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: CAMPUSAUTH_SECTION_KEY
// For example: CAMPUSAUTH_DATABASE_PATH, CAMPUSAUTH_JWT_ACCESS_SECRET
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:        "./data/campusauth.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTTL:  "15m",
				RefreshTTL: "7d",
			},
			Password: PasswordConfig{
				MemoryKiB:   64 * 1024,
				Iterations:  3,
				Parallelism: 4,
			},
		},
		Sessions: SessionsConfig{
			MaxPerUser:    5,
			SweepInterval: 3600,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "campusauth",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Redis: RedisConfig{
			Host: "localhost",
			Port: 6379,
		},
		RateLimit: RateLimitConfig{
			Enabled:  true,
			Window:   60,
			Register: 5,
			Login:    10,
			Refresh:  20,
			Default:  100,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("CAMPUSAUTH_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// API
	if v := os.Getenv("CAMPUSAUTH_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("CAMPUSAUTH_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	// Security - always set secrets from the environment in production
	if v := os.Getenv("CAMPUSAUTH_JWT_ACCESS_SECRET"); v != "" {
		cfg.Security.JWT.AccessSecret = v
	}
	if v := os.Getenv("CAMPUSAUTH_JWT_REFRESH_SECRET"); v != "" {
		cfg.Security.JWT.RefreshSecret = v
	}
	if v := os.Getenv("CAMPUSAUTH_JWT_ACCESS_TTL"); v != "" {
		cfg.Security.JWT.AccessTTL = v
	}
	if v := os.Getenv("CAMPUSAUTH_JWT_REFRESH_TTL"); v != "" {
		cfg.Security.JWT.RefreshTTL = v
	}

	// MQTT
	if v := os.Getenv("CAMPUSAUTH_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("CAMPUSAUTH_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("CAMPUSAUTH_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("CAMPUSAUTH_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Redis
	if v := os.Getenv("CAMPUSAUTH_REDIS_HOST"); v != "" {
		cfg.Redis.Host = v
	}
	if v := os.Getenv("CAMPUSAUTH_REDIS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Redis.Port = port
		}
	}
	if v := os.Getenv("CAMPUSAUTH_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
}

// Validate checks the configuration for errors and security issues.
// All problems are reported together.
func (c *Config) Validate() error {
	var errs []string

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// Signing secrets are REQUIRED. A forged refresh token is a full account
	// takeover, so the two secrets must also differ.
	const minJWTSecretLength = 32
	jwt := c.Security.JWT
	switch {
	case jwt.AccessSecret == "":
		errs = append(errs, "security.jwt.access_secret is required (set CAMPUSAUTH_JWT_ACCESS_SECRET environment variable)")
	case len(jwt.AccessSecret) < minJWTSecretLength:
		errs = append(errs, "security.jwt.access_secret must be at least 32 characters")
	}
	switch {
	case jwt.RefreshSecret == "":
		errs = append(errs, "security.jwt.refresh_secret is required (set CAMPUSAUTH_JWT_REFRESH_SECRET environment variable)")
	case len(jwt.RefreshSecret) < minJWTSecretLength:
		errs = append(errs, "security.jwt.refresh_secret must be at least 32 characters")
	}
	if jwt.AccessSecret != "" && jwt.AccessSecret == jwt.RefreshSecret {
		errs = append(errs, "security.jwt.access_secret and security.jwt.refresh_secret must differ")
	}

	pw := c.Security.Password
	if pw.MemoryKiB < 64*1024 {
		errs = append(errs, "security.password.memory_kib must be at least 65536")
	}
	if pw.Iterations < 3 {
		errs = append(errs, "security.password.iterations must be at least 3")
	}
	if pw.Parallelism < 4 {
		errs = append(errs, "security.password.parallelism must be at least 4")
	}

	if c.Sessions.MaxPerUser < 1 {
		errs = append(errs, "sessions.max_per_user must be at least 1")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if c.RateLimit.Enabled && c.RateLimit.Window < 1 {
		errs = append(errs, "rate_limit.window must be at least 1 second")
	}

	for _, proxy := range c.RateLimit.TrustedProxies {
		if _, err := ParseProxy(proxy); err != nil {
			errs = append(errs, fmt.Sprintf("rate_limit.trusted_proxies: %q is not an IP or CIDR", proxy))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// ParseProxy parses a trusted proxy entry. A bare address becomes a
// single-host prefix.
func ParseProxy(s string) (netip.Prefix, error) {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "/") {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return netip.Prefix{}, fmt.Errorf("parsing proxy prefix: %w", err)
		}
		return p.Masked(), nil
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("parsing proxy address: %w", err)
	}
	addr = addr.Unmap()
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

// RedisAddr returns the host:port address of the Redis server.
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}
