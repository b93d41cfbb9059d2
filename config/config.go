// Package config loads the engine's configuration from a YAML file and
// environment variables.
package config

import "time"

// Config is the root application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Settlement SettlementConfig `yaml:"settlement"`
	Directory  DirectoryConfig  `yaml:"directory"`
	Mail       MailConfig       `yaml:"mail"`
	Auth       AuthConfig       `yaml:"auth"`
	Log        LogConfig        `yaml:"log"`
	CORS       CORSConfig       `yaml:"cors"`
	Monitor    MonitorConfig    `yaml:"monitor"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `yaml:"host"             env:"SERVER_HOST"             env-default:"0.0.0.0"`
	Port            int           `yaml:"port"             env:"SERVER_PORT"             env-default:"8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout"     env:"SERVER_READ_TIMEOUT"     env-default:"10s"`
	WriteTimeout    time.Duration `yaml:"write_timeout"    env:"SERVER_WRITE_TIMEOUT"    env-default:"60s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"     env:"SERVER_IDLE_TIMEOUT"     env-default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT" env-default:"30s"`
}

// DatabaseConfig holds SQLite settings.
type DatabaseConfig struct {
	Path string `yaml:"path" env:"DATABASE_PATH" env-default:"./data/compliance.db"`
}

// SettlementConfig points at the token settlement gateway.
type SettlementConfig struct {
	BaseURL string        `yaml:"base_url" env:"SETTLEMENT_BASE_URL" env-required:"true"`
	APIKey  string        `yaml:"api_key"  env:"SETTLEMENT_API_KEY"`
	Timeout time.Duration `yaml:"timeout"  env:"SETTLEMENT_TIMEOUT"  env-default:"30s"`
}

// DirectoryConfig points at the identity directory.
type DirectoryConfig struct {
	BaseURL string        `yaml:"base_url" env:"DIRECTORY_BASE_URL" env-required:"true"`
	APIKey  string        `yaml:"api_key"  env:"DIRECTORY_API_KEY"`
	Timeout time.Duration `yaml:"timeout"  env:"DIRECTORY_TIMEOUT"  env-default:"15s"`
}

// MailConfig holds SMTP settings. With Enabled false e-mails are logged.
type MailConfig struct {
	Enabled  bool   `yaml:"enabled"  env:"MAIL_ENABLED"  env-default:"false"`
	Host     string `yaml:"host"     env:"MAIL_HOST"     env-default:"localhost"`
	Port     int    `yaml:"port"     env:"MAIL_PORT"     env-default:"587"`
	From     string `yaml:"from"     env:"MAIL_FROM"     env-default:"no-reply@localhost"`
	Username string `yaml:"username" env:"MAIL_USERNAME"`
	Password string `yaml:"password" env:"MAIL_PASSWORD"`
}

// AuthConfig holds bearer-token verification settings.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" env:"AUTH_JWT_SECRET" env-required:"true"`
	JWTIssuer string `yaml:"jwt_issuer" env:"AUTH_JWT_ISSUER" env-default:"compliance-engine"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"  env:"LOG_LEVEL"  env-default:"info"`
	Format string `yaml:"format" env:"LOG_FORMAT" env-default:"json"`
}

// CORSConfig holds CORS settings.
type CORSConfig struct {
	AllowedOrigins   string `yaml:"allowed_origins"   env:"CORS_ALLOWED_ORIGINS"   env-default:"*"`
	AllowedMethods   string `yaml:"allowed_methods"   env:"CORS_ALLOWED_METHODS"   env-default:"GET,POST,PATCH,DELETE,OPTIONS"`
	AllowedHeaders   string `yaml:"allowed_headers"   env:"CORS_ALLOWED_HEADERS"   env-default:"Authorization,Content-Type"`
	AllowCredentials bool   `yaml:"allow_credentials" env:"CORS_ALLOW_CREDENTIALS" env-default:"false"`
	MaxAge           int    `yaml:"max_age"           env:"CORS_MAX_AGE"           env-default:"300"`
}

// MonitorConfig controls the stalled compliance request monitor.
type MonitorConfig struct {
	Enabled       bool          `yaml:"enabled"        env:"MONITOR_ENABLED"        env-default:"true"`
	CheckInterval time.Duration `yaml:"check_interval" env:"MONITOR_CHECK_INTERVAL" env-default:"5m"`
}
