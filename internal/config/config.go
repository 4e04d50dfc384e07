// Package config loads the bridgestore configuration from a YAML file with
// environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "BRIDGE_"

type Config struct {
	Database Database `yaml:"database" envPrefix:"DB_"`
	Logging  Logging  `yaml:"logging" envPrefix:"LOG_"`
	Server   Server   `yaml:"server" envPrefix:"SERVER_"`
}

// Database selects and tunes the storage backend.
// Filename takes precedence over ConnectionString when both are set.
type Database struct {
	Filename            string `yaml:"filename" env:"FILENAME"`
	ConnectionString    string `yaml:"connectionString" env:"CONNECTION_STRING"`
	BackupBeforeMigrate bool   `yaml:"backupBeforeMigrate" env:"BACKUP_BEFORE_MIGRATE"`
	// TargetVersion overrides the latest schema version when non-zero.
	TargetVersion int `yaml:"targetVersion" env:"TARGET_VERSION"`
	MaxConns      int `yaml:"maxConns" env:"MAX_CONNS"`
}

type Logging struct {
	Level     string `yaml:"level" env:"LEVEL"`
	File      string `yaml:"file" env:"FILE"`
	MaxSizeMB int    `yaml:"maxSizeMB" env:"MAX_SIZE_MB"`
	MaxFiles  int    `yaml:"maxFiles" env:"MAX_FILES"`
}

type Server struct {
	Port      int `yaml:"port" env:"PORT"`
	AdminPort int `yaml:"adminPort" env:"ADMIN_PORT"`
}

// Default returns the configuration used when nothing else is given.
func Default() Config {
	return Config{
		Database: Database{
			BackupBeforeMigrate: true,
		},
		Logging: Logging{
			Level: "info",
		},
		Server: Server{
			Port:      8080,
			AdminPort: 8383,
		},
	}
}

// Load reads path (if not empty) over the defaults, then applies environment
// overrides and finally overrides, in order, before validating.
// A missing file is an error; an empty path skips the file entirely.
func Load(path string, overrides ...func(*Config)) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	for _, override := range overrides {
		override(&cfg)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports configuration that cannot select a backend.
func (c Config) Validate() error {
	if c.Database.Filename == "" && c.Database.ConnectionString == "" {
		return errors.New("config: database.filename or database.connectionString is required")
	}
	if c.Database.TargetVersion < 0 {
		return fmt.Errorf("config: database.targetVersion must not be negative, got %d", c.Database.TargetVersion)
	}
	return nil
}
