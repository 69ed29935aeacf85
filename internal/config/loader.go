package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "starter.yaml"

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
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from the operator
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
	setString(&cfg.Server.Port, "STARTER_PORT")
	setString(&cfg.Server.CORSOrigin, "STARTER_CORS_ORIGIN")
	setInt64(&cfg.Server.MaxRequestBodySize, "STARTER_MAX_BODY_SIZE")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "STARTER_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "STARTER_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "STARTER_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "STARTER_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "STARTER_PG_HEALTH_CHECK")

	// Sandbox provider
	setString(&cfg.Sandbox.APIURL, "SANDBOX_API_URL")
	setString(&cfg.Sandbox.APIKey, "SANDBOX_API_KEY")
	setString(&cfg.Sandbox.Template, "SANDBOX_TEMPLATE")
	setDuration(&cfg.Sandbox.Timeout, "SANDBOX_TIMEOUT")
	setString(&cfg.Sandbox.MountPath, "SANDBOX_MOUNT_PATH")
	setString(&cfg.Sandbox.SessionDir, "SANDBOX_SESSION_DIR")

	// Agent
	setString(&cfg.Agent.CallbackBaseURL, "CALLBACK_BASE_URL")
	setString(&cfg.Agent.CallbackToken, "STARTER_CALLBACK_TOKEN")
	setString(&cfg.Agent.ModelAPIKey, "ANTHROPIC_API_KEY")

	setInt64(&cfg.Cache.MaxSizeMB, "STARTER_CACHE_SIZE_MB")
	setDuration(&cfg.Cache.TTL, "STARTER_CACHE_TTL")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.OTEL.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setBool(&cfg.OTEL.Insecure, "OTEL_EXPORTER_OTLP_INSECURE")

	setString(&cfg.Logging.Level, "STARTER_LOG_LEVEL")
	setString(&cfg.Logging.Service, "STARTER_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "STARTER_LOG_ASYNC")
	setInt(&cfg.Breaker.MaxFailures, "STARTER_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "STARTER_BREAKER_TIMEOUT")
	setFloat64(&cfg.Rate.RequestsPerSecond, "STARTER_RATE_RPS")
	setInt(&cfg.Rate.Burst, "STARTER_RATE_BURST")

	setBool(&cfg.Reaper.Enabled, "STARTER_REAPER_ENABLED")
	setString(&cfg.Reaper.Schedule, "STARTER_REAPER_SCHEDULE")
	setDuration(&cfg.Reaper.Grace, "STARTER_REAPER_GRACE")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Sandbox.APIURL == "" {
		return errors.New("sandbox.api_url is required")
	}
	if cfg.Sandbox.Timeout <= 0 {
		return errors.New("sandbox.timeout must be > 0")
	}
	if cfg.Agent.CallbackBaseURL == "" {
		return errors.New("agent.callback_base_url is required")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Rate.Burst < 1 {
		return errors.New("rate.burst must be >= 1")
	}
	if cfg.Reaper.Enabled {
		if cfg.Reaper.Schedule == "" {
			return errors.New("reaper.schedule is required when the reaper is enabled")
		}
		if _, err := cron.ParseStandard(cfg.Reaper.Schedule); err != nil {
			return fmt.Errorf("reaper.schedule: %w", err)
		}
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

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
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
