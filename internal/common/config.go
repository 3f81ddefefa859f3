// Package common provides shared utilities for Covault
package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Config holds all configuration for Covault
type Config struct {
	Environment string        `toml:"environment"`
	Server      ServerConfig  `toml:"server"`
	Storage     StorageConfig `toml:"storage"`
	Blob        BlobConfig    `toml:"blob"`
	Mail        MailConfig    `toml:"mail"`
	Logging     LoggingConfig `toml:"logging"`
	Auth        AuthConfig    `toml:"auth"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// StorageConfig holds document store configuration.
// Engine selects the backend: "surreal" (default) or "file" for a
// local JSON store used in development and tests.
type StorageConfig struct {
	Engine    string `toml:"engine"`
	Address   string `toml:"address"`
	Namespace string `toml:"namespace"`
	Database  string `toml:"database"`
	Username  string `toml:"username"`
	Password  string `toml:"password"`
	DataPath  string `toml:"data_path"` // base path for the file engine
}

// BlobConfig selects and configures the vault blob backend.
type BlobConfig struct {
	Backend string         `toml:"backend"` // "file" or "s3"
	File    FileBlobConfig `toml:"file"`
	S3      S3BlobConfig   `toml:"s3"`
}

// FileBlobConfig holds filesystem blob storage configuration.
type FileBlobConfig struct {
	Path string `toml:"path"`
}

// S3BlobConfig holds AWS S3 (or S3-compatible) blob storage configuration.
type S3BlobConfig struct {
	Bucket    string `toml:"bucket"`
	Prefix    string `toml:"prefix"`   // Optional key prefix within bucket
	Region    string `toml:"region"`   // AWS region (e.g., "us-east-1")
	Endpoint  string `toml:"endpoint"` // Custom endpoint for S3-compatible stores (MinIO, R2)
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
}

// MailConfig holds outbound notification mail configuration.
// When Host is empty, notifications are logged but not sent.
type MailConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	Username string `toml:"username"`
	Password string `toml:"password"`
	From     string `toml:"from"`
}

// Enabled reports whether an SMTP relay is configured.
func (c *MailConfig) Enabled() bool {
	return c.Host != ""
}

// AuthConfig holds authentication configuration for passwords, JWTs and
// the shared access token.
type AuthConfig struct {
	JWTSecret         string `toml:"jwt_secret"`
	TokenExpiry       string `toml:"token_expiry"`        // primary credential lifetime, default "24h"
	DeviceTokenExpiry string `toml:"device_token_expiry"` // device credential lifetime, default "10m"
	TokenSealKey      string `toml:"token_seal_key"`      // key material for sealing shared access tokens at rest
}

// GetTokenExpiry parses and returns the primary credential lifetime.
func (c *AuthConfig) GetTokenExpiry() time.Duration {
	d, err := time.ParseDuration(c.TokenExpiry)
	if err != nil {
		return 24 * time.Hour
	}
	return d
}

// GetDeviceTokenExpiry parses and returns the device credential lifetime.
func (c *AuthConfig) GetDeviceTokenExpiry() time.Duration {
	d, err := time.ParseDuration(c.DeviceTokenExpiry)
	if err != nil {
		return 10 * time.Minute
	}
	return d
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string   `toml:"level"`
	Format     string   `toml:"format"`
	Outputs    []string `toml:"outputs"`
	FilePath   string   `toml:"file_path"`
	MaxSizeMB  int      `toml:"max_size_mb"`
	MaxBackups int      `toml:"max_backups"`
}

// NewDefaultConfig returns a Config with sensible defaults
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Storage: StorageConfig{
			Engine:    "surreal",
			Address:   "ws://localhost:8000/rpc",
			Namespace: "covault",
			Database:  "covault",
			Username:  "root",
			Password:  "root",
			DataPath:  "data/store",
		},
		Blob: BlobConfig{
			Backend: "file",
			File:    FileBlobConfig{Path: "data/blobs"},
			S3:      S3BlobConfig{Region: "us-east-1"},
		},
		Mail: MailConfig{
			Port: 587,
			From: "covault@localhost",
		},
		Auth: AuthConfig{
			JWTSecret:         "dev-jwt-secret-change-in-production",
			TokenExpiry:       "24h",
			DeviceTokenExpiry: "10m",
			TokenSealKey:      "dev-seal-key-change-in-production",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			Outputs:    []string{"console", "file"},
			FilePath:   "./logs/covault.log",
			MaxSizeMB:  100,
			MaxBackups: 3,
		},
	}
}

// LoadConfig loads configuration from files with environment overrides
func LoadConfig(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	// Load and merge each config file in order (later files override earlier)
	for _, path := range paths {
		if path == "" {
			continue
		}

		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue // Skip missing files
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	// Apply environment overrides
	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("COVAULT_ENV"); env != "" {
		config.Environment = env
	}

	if host := os.Getenv("COVAULT_HOST"); host != "" {
		config.Server.Host = host
	}

	if port := os.Getenv("COVAULT_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	if level := os.Getenv("COVAULT_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}

	if engine := os.Getenv("COVAULT_STORAGE_ENGINE"); engine != "" {
		config.Storage.Engine = engine
	}
	if addr := os.Getenv("COVAULT_STORAGE_ADDRESS"); addr != "" {
		config.Storage.Address = addr
	}
	if ns := os.Getenv("COVAULT_STORAGE_NAMESPACE"); ns != "" {
		config.Storage.Namespace = ns
	}
	if db := os.Getenv("COVAULT_STORAGE_DATABASE"); db != "" {
		config.Storage.Database = db
	}
	if user := os.Getenv("COVAULT_STORAGE_USERNAME"); user != "" {
		config.Storage.Username = user
	}
	if pass := os.Getenv("COVAULT_STORAGE_PASSWORD"); pass != "" {
		config.Storage.Password = pass
	}
	if path := os.Getenv("COVAULT_DATA_PATH"); path != "" {
		config.Storage.DataPath = path
	}

	// Auth overrides
	if v := os.Getenv("COVAULT_AUTH_JWT_SECRET"); v != "" {
		config.Auth.JWTSecret = v
	}
	if v := os.Getenv("COVAULT_AUTH_TOKEN_EXPIRY"); v != "" {
		config.Auth.TokenExpiry = v
	}
	if v := os.Getenv("COVAULT_AUTH_DEVICE_TOKEN_EXPIRY"); v != "" {
		config.Auth.DeviceTokenExpiry = v
	}
	if v := os.Getenv("COVAULT_AUTH_TOKEN_SEAL_KEY"); v != "" {
		config.Auth.TokenSealKey = v
	}

	// Blob overrides
	if v := os.Getenv("COVAULT_BLOB_BACKEND"); v != "" {
		config.Blob.Backend = v
	}
	if v := os.Getenv("COVAULT_BLOB_S3_BUCKET"); v != "" {
		config.Blob.S3.Bucket = v
	}
	if v := os.Getenv("COVAULT_BLOB_S3_REGION"); v != "" {
		config.Blob.S3.Region = v
	}
	if v := os.Getenv("COVAULT_BLOB_S3_ENDPOINT"); v != "" {
		config.Blob.S3.Endpoint = v
	}
	if v := os.Getenv("COVAULT_BLOB_S3_ACCESS_KEY"); v != "" {
		config.Blob.S3.AccessKey = v
	}
	if v := os.Getenv("COVAULT_BLOB_S3_SECRET_KEY"); v != "" {
		config.Blob.S3.SecretKey = v
	}

	// Mail overrides
	if v := os.Getenv("COVAULT_MAIL_HOST"); v != "" {
		config.Mail.Host = v
	}
	if v := os.Getenv("COVAULT_MAIL_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			config.Mail.Port = p
		}
	}
	if v := os.Getenv("COVAULT_MAIL_USERNAME"); v != "" {
		config.Mail.Username = v
	}
	if v := os.Getenv("COVAULT_MAIL_PASSWORD"); v != "" {
		config.Mail.Password = v
	}
	if v := os.Getenv("COVAULT_MAIL_FROM"); v != "" {
		config.Mail.From = v
	}
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

// ValidateRequired returns the list of required settings still at their
// placeholder values. Non-empty in production is a startup error.
func (c *Config) ValidateRequired() []string {
	var missing []string

	if c.Auth.JWTSecret == "" || strings.Contains(c.Auth.JWTSecret, "change-in-production") {
		missing = append(missing, "auth.jwt_secret")
	}
	if c.Auth.TokenSealKey == "" || strings.Contains(c.Auth.TokenSealKey, "change-in-production") {
		missing = append(missing, "auth.token_seal_key")
	}
	if c.Storage.Engine == "surreal" && c.Storage.Address == "" {
		missing = append(missing, "storage.address")
	}
	if c.Blob.Backend == "s3" && c.Blob.S3.Bucket == "" {
		missing = append(missing, "blob.s3.bucket")
	}

	return missing
}
