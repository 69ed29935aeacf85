package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.Server.Port != "8080" {
		t.Errorf("expected port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Postgres.MaxConns != 15 {
		t.Errorf("expected max_conns 15, got %d", cfg.Postgres.MaxConns)
	}
	if cfg.Sandbox.Timeout != 30*time.Minute {
		t.Errorf("expected sandbox timeout 30m, got %v", cfg.Sandbox.Timeout)
	}
	if cfg.Breaker.Timeout != 30*time.Second {
		t.Errorf("expected breaker timeout 30s, got %v", cfg.Breaker.Timeout)
	}
	if cfg.NATS.URL != "" {
		t.Errorf("expected NATS disabled by default, got %q", cfg.NATS.URL)
	}
}

func TestLoadYAMLOverride(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "test.yaml")

	content := `
server:
  port: "9090"
  cors_origin: "http://example.com"
sandbox:
  template: "agent-v2"
  timeout: 10m
agent:
  callback_base_url: "https://starter.example.com"
logging:
  level: "debug"
`
	if err := os.WriteFile(yamlPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := Defaults()
	if err := loadYAML(&cfg, yamlPath); err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Server.Port)
	}
	if cfg.Server.CORSOrigin != "http://example.com" {
		t.Errorf("expected cors http://example.com, got %s", cfg.Server.CORSOrigin)
	}
	if cfg.Sandbox.Template != "agent-v2" {
		t.Errorf("expected template agent-v2, got %s", cfg.Sandbox.Template)
	}
	if cfg.Sandbox.Timeout != 10*time.Minute {
		t.Errorf("expected sandbox timeout 10m, got %v", cfg.Sandbox.Timeout)
	}
	if cfg.Agent.CallbackBaseURL != "https://starter.example.com" {
		t.Errorf("expected callback base URL override, got %s", cfg.Agent.CallbackBaseURL)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected log level debug, got %s", cfg.Logging.Level)
	}
	// Unchanged fields keep defaults
	if cfg.Sandbox.MountPath != "/workspace" {
		t.Errorf("expected default mount path, got %s", cfg.Sandbox.MountPath)
	}
}

func TestLoadYAMLMissing(t *testing.T) {
	cfg := Defaults()
	err := loadYAML(&cfg, "/nonexistent/path.yaml")
	if err != nil {
		t.Errorf("missing YAML should not error, got %v", err)
	}
}

func TestLoadYAMLInvalid(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(yamlPath, []byte("server: [unterminated"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := Defaults()
	if err := loadYAML(&cfg, yamlPath); err == nil {
		t.Fatal("expected parse error, got nil")
	}
}

func TestEnvOverride(t *testing.T) {
	cfg := Defaults()

	t.Setenv("STARTER_PORT", "7070")
	t.Setenv("DATABASE_URL", "postgres://test:test@db:5432/test")
	t.Setenv("STARTER_PG_MAX_CONNS", "25")
	t.Setenv("STARTER_LOG_LEVEL", "warn")
	t.Setenv("STARTER_BREAKER_TIMEOUT", "1m")
	t.Setenv("CALLBACK_BASE_URL", "https://cb.example.com")
	t.Setenv("SANDBOX_API_KEY", "sk-sandbox")
	t.Setenv("ANTHROPIC_API_KEY", "sk-model")
	t.Setenv("SANDBOX_TIMEOUT", "45m")
	t.Setenv("STARTER_REAPER_ENABLED", "false")

	loadEnv(&cfg)

	if cfg.Server.Port != "7070" {
		t.Errorf("expected port 7070, got %s", cfg.Server.Port)
	}
	if cfg.Postgres.DSN != "postgres://test:test@db:5432/test" {
		t.Errorf("expected test DSN, got %s", cfg.Postgres.DSN)
	}
	if cfg.Postgres.MaxConns != 25 {
		t.Errorf("expected max_conns 25, got %d", cfg.Postgres.MaxConns)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("expected log level warn, got %s", cfg.Logging.Level)
	}
	if cfg.Breaker.Timeout != time.Minute {
		t.Errorf("expected breaker timeout 1m, got %v", cfg.Breaker.Timeout)
	}
	if cfg.Agent.CallbackBaseURL != "https://cb.example.com" {
		t.Errorf("expected callback base URL from env, got %s", cfg.Agent.CallbackBaseURL)
	}
	if cfg.Sandbox.APIKey != "sk-sandbox" {
		t.Errorf("expected sandbox key from env, got %s", cfg.Sandbox.APIKey)
	}
	if cfg.Agent.ModelAPIKey != "sk-model" {
		t.Errorf("expected model key from env, got %s", cfg.Agent.ModelAPIKey)
	}
	if cfg.Sandbox.Timeout != 45*time.Minute {
		t.Errorf("expected sandbox timeout 45m, got %v", cfg.Sandbox.Timeout)
	}
	if cfg.Reaper.Enabled {
		t.Error("expected reaper disabled from env")
	}
}

func TestEnvInvalidValuesIgnored(t *testing.T) {
	cfg := Defaults()

	t.Setenv("STARTER_PG_MAX_CONNS", "lots")
	t.Setenv("SANDBOX_TIMEOUT", "soon")

	loadEnv(&cfg)

	if cfg.Postgres.MaxConns != 15 {
		t.Errorf("expected default max_conns to survive, got %d", cfg.Postgres.MaxConns)
	}
	if cfg.Sandbox.Timeout != 30*time.Minute {
		t.Errorf("expected default sandbox timeout to survive, got %v", cfg.Sandbox.Timeout)
	}
}

func TestValidateRequired(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		errMsg string
	}{
		{
			name:   "empty port",
			modify: func(c *Config) { c.Server.Port = "" },
			errMsg: "server.port is required",
		},
		{
			name:   "empty DSN",
			modify: func(c *Config) { c.Postgres.DSN = "" },
			errMsg: "postgres.dsn is required",
		},
		{
			name:   "zero max_conns",
			modify: func(c *Config) { c.Postgres.MaxConns = 0 },
			errMsg: "postgres.max_conns must be >= 1",
		},
		{
			name:   "empty sandbox API URL",
			modify: func(c *Config) { c.Sandbox.APIURL = "" },
			errMsg: "sandbox.api_url is required",
		},
		{
			name:   "zero sandbox timeout",
			modify: func(c *Config) { c.Sandbox.Timeout = 0 },
			errMsg: "sandbox.timeout must be > 0",
		},
		{
			name:   "empty callback base URL",
			modify: func(c *Config) { c.Agent.CallbackBaseURL = "" },
			errMsg: "agent.callback_base_url is required",
		},
		{
			name:   "zero breaker failures",
			modify: func(c *Config) { c.Breaker.MaxFailures = 0 },
			errMsg: "breaker.max_failures must be >= 1",
		},
		{
			name:   "zero rate burst",
			modify: func(c *Config) { c.Rate.Burst = 0 },
			errMsg: "rate.burst must be >= 1",
		},
		{
			name:   "reaper without schedule",
			modify: func(c *Config) { c.Reaper.Schedule = "" },
			errMsg: "reaper.schedule is required when the reaper is enabled",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.modify(&cfg)
			err := validate(&cfg)
			if err == nil {
				t.Fatalf("expected error %q, got nil", tt.errMsg)
			}
			if err.Error() != tt.errMsg {
				t.Errorf("expected %q, got %q", tt.errMsg, err.Error())
			}
		})
	}
}

func TestValidateRejectsBadSchedule(t *testing.T) {
	cfg := Defaults()
	cfg.Reaper.Schedule = "every minute"
	err := validate(&cfg)
	if err == nil || !strings.HasPrefix(err.Error(), "reaper.schedule: ") {
		t.Fatalf("expected schedule parse error, got %v", err)
	}

	cfg.Reaper.Enabled = false
	if err := validate(&cfg); err != nil {
		t.Errorf("disabled reaper should skip schedule check, got %v", err)
	}
}

func TestValidateDefaults(t *testing.T) {
	cfg := Defaults()
	if err := validate(&cfg); err != nil {
		t.Errorf("defaults should validate, got %v", err)
	}
}

func TestLoadFromPrecedence(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "starter.yaml")
	content := `
server:
  port: "5555"
sandbox:
  template: "from-yaml"
`
	if err := os.WriteFile(yamlPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SANDBOX_TEMPLATE", "from-env")

	cfg, err := LoadFrom(yamlPath)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Port != "5555" {
		t.Errorf("expected port 5555 from YAML, got %s", cfg.Server.Port)
	}
	if cfg.Sandbox.Template != "from-env" {
		t.Errorf("expected ENV to win over YAML, got %s", cfg.Sandbox.Template)
	}
}
