package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Relay     RelayConfig     `mapstructure:"relay"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Retention RetentionConfig `mapstructure:"retention"`
	Log       LogConfig       `mapstructure:"log"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
	Path     string `mapstructure:"path"`
}

// AuthConfig holds bearer token verification settings
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
	Audience  string `mapstructure:"audience"`
}

// RelayConfig bounds the forwarding of webhook payloads
type RelayConfig struct {
	SendTimeout      time.Duration `mapstructure:"send_timeout"`
	ReceiveTimeout   time.Duration `mapstructure:"receive_timeout"`
	MaxPayloadBytes  int           `mapstructure:"max_payload_bytes"`
	MaxResponseBytes int64         `mapstructure:"max_response_bytes"`
	MaxBodyBytes     int64         `mapstructure:"max_body_bytes"`
	ResolveGuard     bool          `mapstructure:"resolve_guard"`
}

// RateLimitConfig holds per-client rate limiting for the relay routes.
// A zero RPS disables limiting.
type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// RetentionConfig controls pruning of old relay logs.
// Days == 0 keeps logs forever.
type RetentionConfig struct {
	Days     int    `mapstructure:"days"`
	Schedule string `mapstructure:"schedule"`
}

// LogConfig holds logrus settings
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LoadConfig loads configuration from environment variables and config file.
// An empty configFile searches for config.yaml in . and ./config.
func LoadConfig(configFile string) (*Config, error) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
	}

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Environment variables override config file
	viper.AutomaticEnv()
	bindEnvVars()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "45s")

	viper.SetDefault("database.driver", "mysql")
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 3306)
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("database.path", "cnpj-relay.db")

	viper.SetDefault("relay.send_timeout", "30s")
	viper.SetDefault("relay.receive_timeout", "30s")
	viper.SetDefault("relay.max_payload_bytes", 100000)
	viper.SetDefault("relay.max_response_bytes", 1<<20)
	viper.SetDefault("relay.max_body_bytes", 1<<20)
	viper.SetDefault("relay.resolve_guard", true)

	viper.SetDefault("ratelimit.rps", 5)
	viper.SetDefault("ratelimit.burst", 20)

	viper.SetDefault("retention.days", 0)
	viper.SetDefault("retention.schedule", "0 0 3 * * *")

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "json")
}

// bindEnvVars binds environment variables to configuration keys
func bindEnvVars() {
	// Server
	viper.BindEnv("server.port", "SERVER_PORT")
	viper.BindEnv("server.read_timeout", "SERVER_READ_TIMEOUT")
	viper.BindEnv("server.write_timeout", "SERVER_WRITE_TIMEOUT")

	// Database
	viper.BindEnv("database.driver", "DB_DRIVER")
	viper.BindEnv("database.host", "DB_HOST")
	viper.BindEnv("database.port", "DB_PORT")
	viper.BindEnv("database.user", "DB_USER")
	viper.BindEnv("database.password", "DB_PASSWORD")
	viper.BindEnv("database.dbname", "DB_NAME")
	viper.BindEnv("database.sslmode", "DB_SSLMODE")
	viper.BindEnv("database.path", "DB_PATH")

	// Auth
	viper.BindEnv("auth.jwt_secret", "AUTH_JWT_SECRET")
	viper.BindEnv("auth.issuer", "AUTH_ISSUER")
	viper.BindEnv("auth.audience", "AUTH_AUDIENCE")

	// Relay
	viper.BindEnv("relay.send_timeout", "RELAY_SEND_TIMEOUT")
	viper.BindEnv("relay.receive_timeout", "RELAY_RECEIVE_TIMEOUT")
	viper.BindEnv("relay.max_payload_bytes", "RELAY_MAX_PAYLOAD_BYTES")
	viper.BindEnv("relay.max_response_bytes", "RELAY_MAX_RESPONSE_BYTES")
	viper.BindEnv("relay.max_body_bytes", "RELAY_MAX_BODY_BYTES")
	viper.BindEnv("relay.resolve_guard", "RELAY_RESOLVE_GUARD")

	// Rate limiting
	viper.BindEnv("ratelimit.rps", "RATELIMIT_RPS")
	viper.BindEnv("ratelimit.burst", "RATELIMIT_BURST")

	// Retention
	viper.BindEnv("retention.days", "RETENTION_DAYS")
	viper.BindEnv("retention.schedule", "RETENTION_SCHEDULE")

	// Logging
	viper.BindEnv("log.level", "LOG_LEVEL")
	viper.BindEnv("log.format", "LOG_FORMAT")
}

// GetDSN returns the database connection string for the configured driver
func (c *DatabaseConfig) GetDSN() string {
	switch strings.ToLower(c.Driver) {
	case "postgres", "postgresql":
		return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
			c.Host, c.Port, c.DBName, c.User, c.Password, c.SSLMode)
	case "sqlite":
		if strings.Contains(c.Path, "?") {
			return c.Path
		}
		return c.Path + "?_time_format=sqlite"
	default:
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
			c.User, c.Password, c.Host, c.Port, c.DBName)
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	switch strings.ToLower(c.Database.Driver) {
	case "mysql", "postgres", "postgresql":
		if c.Database.Host == "" || c.Database.User == "" || c.Database.DBName == "" {
			return fmt.Errorf("database host, user, and dbname are required")
		}
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database path is required for sqlite")
		}
	default:
		return fmt.Errorf("unsupported database driver: %q", c.Database.Driver)
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth jwt secret is required")
	}

	if c.Relay.SendTimeout <= 0 || c.Relay.ReceiveTimeout <= 0 {
		return fmt.Errorf("relay timeouts must be greater than 0")
	}
	if c.Relay.MaxPayloadBytes <= 0 || c.Relay.MaxResponseBytes <= 0 {
		return fmt.Errorf("relay size limits must be greater than 0")
	}
	if c.Relay.MaxBodyBytes < int64(c.Relay.MaxPayloadBytes) {
		return fmt.Errorf("relay max body bytes must be at least max payload bytes")
	}

	if c.RateLimit.RPS < 0 {
		return fmt.Errorf("ratelimit rps cannot be negative")
	}
	if c.RateLimit.RPS > 0 && c.RateLimit.Burst <= 0 {
		return fmt.Errorf("ratelimit burst must be greater than 0 when rps is set")
	}

	if c.Retention.Days < 0 {
		return fmt.Errorf("retention days cannot be negative")
	}
	if c.Retention.Days > 0 && c.Retention.Schedule == "" {
		return fmt.Errorf("retention schedule is required when retention is enabled")
	}

	return nil
}
