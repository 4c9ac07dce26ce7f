package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Config is the application configuration, loaded from a yaml file with
// environment variable overrides. Environment wins so deployments can keep
// one file per environment and tweak secrets outside it.
type Config struct {
	Port        int    `yaml:"port"`
	MetricsPort int    `yaml:"metrics_port"`
	LogLevel    string `yaml:"log_level"`
	JWTSecret   string `yaml:"jwt_secret"`

	Database struct {
		Dialect string `yaml:"dialect"` // sqlite3 | postgres
		DSN     string `yaml:"dsn"`
	} `yaml:"database"`

	Sterilization struct {
		ShelfLifeDays int `yaml:"shelf_life_days"`
	} `yaml:"sterilization"`

	Overdue struct {
		SweepMinutes int `yaml:"sweep_minutes"`
	} `yaml:"overdue"`
}

// Defaults applied before the file and environment are read
func defaults() *Config {
	cfg := &Config{
		Port:        8080,
		MetricsPort: 9090,
		LogLevel:    "info",
	}
	cfg.Database.Dialect = "sqlite3"
	cfg.Database.DSN = "cssd.db"
	cfg.Sterilization.ShelfLifeDays = 14
	cfg.Overdue.SweepMinutes = 60
	return cfg
}

// Load reads the configuration file, then applies environment overrides.
// A missing file is not an error; defaults plus environment still produce a
// runnable configuration. A .env file in the working directory is loaded
// first if present.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err == nil {
		log.Debug().Msg("loaded .env file")
	}

	cfg := defaults()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		log.Warn().Str("path", path).Msg("config file not found, using defaults")
	case err != nil:
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("CSSD_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Port = port
		}
	}
	if v := os.Getenv("CSSD_METRICS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MetricsPort = port
		}
	}
	if v := os.Getenv("CSSD_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("CSSD_JWT_SECRET"); v != "" {
		cfg.JWTSecret = v
	}
	if v := os.Getenv("CSSD_DB_DIALECT"); v != "" {
		cfg.Database.Dialect = v
	}
	if v := os.Getenv("CSSD_DB_DSN"); v != "" {
		cfg.Database.DSN = v
	}
}

func (c *Config) validate() error {
	switch c.Database.Dialect {
	case "sqlite3", "postgres":
	default:
		return fmt.Errorf("unsupported database dialect %q", c.Database.Dialect)
	}
	if c.Sterilization.ShelfLifeDays <= 0 {
		return fmt.Errorf("sterilization shelf life must be positive, got %d", c.Sterilization.ShelfLifeDays)
	}
	if c.Overdue.SweepMinutes <= 0 {
		return fmt.Errorf("overdue sweep interval must be positive, got %d", c.Overdue.SweepMinutes)
	}
	return nil
}

// ShelfLife returns the sterile pack shelf life as a duration
func (c *Config) ShelfLife() time.Duration {
	return time.Duration(c.Sterilization.ShelfLifeDays) * 24 * time.Hour
}

// SweepInterval returns the overdue sweep interval as a duration
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Overdue.SweepMinutes) * time.Minute
}
