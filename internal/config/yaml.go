package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// YAMLConfig represents the top-level aegisx configuration file. Keys match
// the viper keys used by the CLI (auth.bcrypt_cost, store.driver, ...).
type YAMLConfig struct {
	Server  ServerConfig  `yaml:"server"`
	Auth    AuthConfig    `yaml:"auth"`
	Store   StoreConfig   `yaml:"store"`
	License LicenseConfig `yaml:"license"`
	Log     LogConfig     `yaml:"log"`
}

// ServerConfig controls the HTTP server behavior.
type ServerConfig struct {
	Host      string     `yaml:"host"`
	Port      int        `yaml:"port"`
	RateLimit int        `yaml:"rate_limit"` // requests per minute per API key; 0 disables
	CORS      CORSConfig `yaml:"cors"`
}

// CORSConfig controls cross-origin resource sharing settings.
type CORSConfig struct {
	Origins []string `yaml:"origins"`
}

// AuthConfig controls API key hashing and admin tokens.
type AuthConfig struct {
	BcryptCost  int    `yaml:"bcrypt_cost"`
	HashWorkers int    `yaml:"hash_workers"` // 0 means GOMAXPROCS
	JWTSecret   string `yaml:"jwt_secret"`
	JWTExpiry   string `yaml:"jwt_expiry"`
}

// StoreConfig selects the credential database.
type StoreConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// LicenseConfig controls where the license key is stored.
type LicenseConfig struct {
	File string `yaml:"file"` // empty means ~/.aegisx/license
}

// LogConfig controls log output.
type LogConfig struct {
	Level string `yaml:"level"`
}

// LoadYAMLConfig reads and parses a YAML configuration file. Environment
// variables referenced as ${VAR_NAME} in the file are expanded before parsing.
func LoadYAMLConfig(path string) (*YAMLConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Expand environment variables: ${VAR_NAME}
	content := os.ExpandEnv(string(data))

	cfg := DefaultYAMLConfig()
	if err := yaml.Unmarshal([]byte(content), cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}

// DefaultYAMLConfig returns a YAMLConfig pre-filled with sensible defaults.
func DefaultYAMLConfig() *YAMLConfig {
	return &YAMLConfig{
		Server: ServerConfig{
			Host:      "127.0.0.1",
			Port:      8080,
			RateLimit: 600,
			CORS: CORSConfig{
				Origins: []string{"*"},
			},
		},
		Auth: AuthConfig{
			BcryptCost: 12,
			JWTExpiry:  "1h",
		},
		Store: StoreConfig{
			Driver: DriverSQLite,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// WriteDefaultConfig writes the default configuration to a YAML file.
func WriteDefaultConfig(path string) error {
	cfg := DefaultYAMLConfig()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
