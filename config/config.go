/*
Package config loads server settings.

PRECEDENCE (later wins):
  1. Built-in defaults
  2. YAML file named by -config
  3. Environment: RELIEF_PORT, RELIEF_DB, RELIEF_LOG_MODE, RELIEF_CATALOG,
     RELIEF_PREDICTOR_URL
  4. Flags that were set explicitly on the command line

FLAGS:
  -config              YAML file
  -port                HTTP server port (default: 8080)
  -db                  SQLite database path (default: relief.db), ":memory:" for tests
  -log                 development | production
  -catalog             resource catalog file (JSON or YAML)
  -reconcile-interval  flag reconciliation period, 0 disables
  -predictor-url       remote flood model; empty uses the rule-based predictor
  -predictor-timeout   deadline for the remote model
*/
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/warp/relief-engine/logging"
)

// Config holds everything cmd/server needs to start.
type Config struct {
	Port              int           `yaml:"port"`
	DBPath            string        `yaml:"db"`
	LogMode           string        `yaml:"log_mode"`
	CatalogPath       string        `yaml:"catalog"`
	ReconcileInterval time.Duration `yaml:"reconcile_interval"`
	PredictorURL      string        `yaml:"predictor_url"`
	PredictorTimeout  time.Duration `yaml:"predictor_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Port:              8080,
		DBPath:            "relief.db",
		LogMode:           logging.ModeDevelopment,
		ReconcileInterval: time.Minute,
		PredictorTimeout:  5 * time.Second,
		ShutdownTimeout:   30 * time.Second,
	}
}

// Load builds a Config from args (without the program name) and the
// process environment.
func Load(args []string) (Config, error) {
	return load(args, os.LookupEnv)
}

func load(args []string, lookupEnv func(string) (string, bool)) (Config, error) {
	cfg := Default()

	fs := flag.NewFlagSet("relief-engine", flag.ContinueOnError)
	configPath := fs.String("config", "", "YAML configuration file")
	port := fs.Int("port", cfg.Port, "HTTP server port")
	dbPath := fs.String("db", cfg.DBPath, "SQLite database path")
	logMode := fs.String("log", cfg.LogMode, "log mode: development or production")
	catalog := fs.String("catalog", "", "resource catalog file (JSON or YAML)")
	reconcile := fs.Duration("reconcile-interval", cfg.ReconcileInterval, "flag reconciliation period, 0 disables")
	predictorURL := fs.String("predictor-url", "", "remote flood model URL")
	predictorTimeout := fs.Duration("predictor-timeout", cfg.PredictorTimeout, "remote flood model deadline")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if *configPath != "" {
		data, err := os.ReadFile(*configPath)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", *configPath, err)
		}
	}

	if err := applyEnv(&cfg, lookupEnv); err != nil {
		return Config{}, err
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.Port = *port
		case "db":
			cfg.DBPath = *dbPath
		case "log":
			cfg.LogMode = *logMode
		case "catalog":
			cfg.CatalogPath = *catalog
		case "reconcile-interval":
			cfg.ReconcileInterval = *reconcile
		case "predictor-url":
			cfg.PredictorURL = *predictorURL
		case "predictor-timeout":
			cfg.PredictorTimeout = *predictorTimeout
		}
	})

	return cfg, cfg.Validate()
}

func applyEnv(cfg *Config, lookupEnv func(string) (string, bool)) error {
	if v, ok := lookupEnv("RELIEF_PORT"); ok && v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("RELIEF_PORT: %w", err)
		}
		cfg.Port = p
	}
	if v, ok := lookupEnv("RELIEF_DB"); ok && v != "" {
		cfg.DBPath = v
	}
	if v, ok := lookupEnv("RELIEF_LOG_MODE"); ok && v != "" {
		cfg.LogMode = v
	}
	if v, ok := lookupEnv("RELIEF_CATALOG"); ok {
		cfg.CatalogPath = v
	}
	if v, ok := lookupEnv("RELIEF_PREDICTOR_URL"); ok {
		cfg.PredictorURL = v
	}
	return nil
}

// Validate checks ranges.
func (c Config) Validate() error {
	var errs []error
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.DBPath == "" {
		errs = append(errs, errors.New("db path is required"))
	}
	if !logging.ValidMode(c.LogMode) {
		errs = append(errs, fmt.Errorf("unknown log mode %q", c.LogMode))
	}
	if c.ReconcileInterval < 0 {
		errs = append(errs, errors.New("reconcile interval cannot be negative"))
	}
	if c.PredictorTimeout <= 0 {
		errs = append(errs, errors.New("predictor timeout must be positive"))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("shutdown timeout must be positive"))
	}
	return errors.Join(errs...)
}
