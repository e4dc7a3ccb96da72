package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "convoy.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "CONVOY_PORT")
	setString(&cfg.Server.CORSOrigin, "CONVOY_CORS_ORIGIN")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "CONVOY_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "CONVOY_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "CONVOY_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "CONVOY_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "CONVOY_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.Agent.BaseURL, "CONVOY_AGENT_BASE_URL")
	setDuration(&cfg.Agent.Timeout, "CONVOY_AGENT_TIMEOUT")
	setString(&cfg.GitHub.BaseURL, "CONVOY_GITHUB_BASE_URL")
	setDuration(&cfg.GitHub.Timeout, "CONVOY_GITHUB_TIMEOUT")
	setString(&cfg.Logging.Level, "CONVOY_LOG_LEVEL")
	setString(&cfg.Logging.Service, "CONVOY_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "CONVOY_LOG_ASYNC")
	setInt(&cfg.Breaker.MaxFailures, "CONVOY_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "CONVOY_BREAKER_TIMEOUT")
	setInt64(&cfg.Cache.MaxSizeMB, "CONVOY_CACHE_SIZE_MB")
	setDuration(&cfg.Cache.TTL, "CONVOY_CACHE_TTL")
	setDuration(&cfg.Reconcile.AgentInterval, "CONVOY_RECONCILE_AGENT_INTERVAL")
	setDuration(&cfg.Reconcile.BranchInterval, "CONVOY_RECONCILE_BRANCH_INTERVAL")
	setDuration(&cfg.Reconcile.PRInterval, "CONVOY_RECONCILE_PR_INTERVAL")
	setDuration(&cfg.Reconcile.WaitingInterval, "CONVOY_RECONCILE_WAITING_INTERVAL")
	setDuration(&cfg.Reconcile.WaitTimeout, "CONVOY_RECONCILE_WAIT_TIMEOUT")
	setString(&cfg.Reconcile.SweepSpec, "CONVOY_RECONCILE_SWEEP_SPEC")
	setInt(&cfg.Reconcile.LaunchParallel, "CONVOY_RECONCILE_LAUNCH_PARALLEL")
	setBool(&cfg.Telemetry.Enabled, "CONVOY_TELEMETRY_ENABLED")
	setString(&cfg.Telemetry.OTLPEndpoint, "CONVOY_OTLP_ENDPOINT")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.NATS.URL == "" {
		return errors.New("nats.url is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Reconcile.AgentInterval <= 0 || cfg.Reconcile.BranchInterval <= 0 || cfg.Reconcile.PRInterval <= 0 {
		return errors.New("reconcile intervals must be positive")
	}
	if cfg.Reconcile.WaitingInterval <= 0 {
		return errors.New("reconcile.waiting_interval must be positive")
	}
	if cfg.Reconcile.LaunchParallel < 1 {
		return errors.New("reconcile.launch_parallel must be >= 1")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
