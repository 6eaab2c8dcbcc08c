package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
manager:
  max_connections: 20
  connection_timeout: 10s
  health_check_interval: 5s
  healing_interval: 3s
  failure_threshold: 2
  recovery_timeout: 45s
  pool_size_min: 1
  pool_size_max: 4
  enable_load_balancing: false
endpoints:
  primary:
    url: wss://primary.example.com/ws
    type: primary
    priority: 1
    weight: 10
  backup:
    url: wss://backup.example.com/ws
    type: backup
    priority: 2
    metadata:
      region: us-east-1
`)

	cfg, err := LoadAndValidate(path)
	if err != nil {
		t.Fatalf("LoadAndValidate: %v", err)
	}

	m := cfg.Manager
	if m.MaxConnections != 20 {
		t.Errorf("MaxConnections = %d, want 20", m.MaxConnections)
	}
	if m.ConnectionTimeout != 10*time.Second {
		t.Errorf("ConnectionTimeout = %v, want 10s", m.ConnectionTimeout)
	}
	if m.FailureThreshold != 2 {
		t.Errorf("FailureThreshold = %d, want 2", m.FailureThreshold)
	}
	if m.RecoveryTimeout != 45*time.Second {
		t.Errorf("RecoveryTimeout = %v, want 45s", m.RecoveryTimeout)
	}
	if m.EnableLoadBalancing {
		t.Error("EnableLoadBalancing should be false when the file disables it")
	}
	// Unset flags keep their default.
	if !m.EnableAutoHealing || !m.EnableConnectionPooling {
		t.Error("unset enable flags should default to true")
	}
	// Unset numerics get defaults.
	if m.ProbeTimeout != DefaultProbeTimeout {
		t.Errorf("ProbeTimeout = %v, want default %v", m.ProbeTimeout, DefaultProbeTimeout)
	}

	if len(cfg.Endpoints) != 2 {
		t.Fatalf("endpoints = %d, want 2", len(cfg.Endpoints))
	}
	backup := cfg.Endpoints["backup"]
	if backup.Type != "backup" || backup.Priority != 2 {
		t.Errorf("backup endpoint = %+v", backup)
	}
	if backup.Metadata["region"] != "us-east-1" {
		t.Errorf("metadata = %v, want region us-east-1", backup.Metadata)
	}
}

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv("TEST_WS_URL", "wss://env.example.com/ws")

	path := writeConfig(t, `
endpoints:
  primary:
    url: ${TEST_WS_URL}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.Endpoints["primary"].URL; got != "wss://env.example.com/ws" {
		t.Errorf("url = %q, want expanded env value", got)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !strings.Contains(err.Error(), "read config file") {
		t.Errorf("err = %v, want read config file wrapping", err)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeConfig(t, "manager: [not a mapping")
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected parse error")
	}
}

func TestDefaultsApplied(t *testing.T) {
	path := writeConfig(t, "manager: {}\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	m := cfg.Manager
	if m.MaxConnections != DefaultMaxConnections {
		t.Errorf("MaxConnections = %d, want %d", m.MaxConnections, DefaultMaxConnections)
	}
	if m.HealthCheckInterval != DefaultHealthCheckInterval {
		t.Errorf("HealthCheckInterval = %v, want %v", m.HealthCheckInterval, DefaultHealthCheckInterval)
	}
	if m.HealingInterval != DefaultHealingInterval {
		t.Errorf("HealingInterval = %v, want %v", m.HealingInterval, DefaultHealingInterval)
	}
	if m.PoolSizeMin != DefaultPoolSizeMin || m.PoolSizeMax != DefaultPoolSizeMax {
		t.Errorf("pool sizes = %d/%d, want %d/%d", m.PoolSizeMin, m.PoolSizeMax, DefaultPoolSizeMin, DefaultPoolSizeMax)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative max_connections", func(c *Config) { c.Manager.MaxConnections = -1 }},
		{"zero connection_timeout", func(c *Config) { c.Manager.ConnectionTimeout = 0 }},
		{"zero health_check_interval", func(c *Config) { c.Manager.HealthCheckInterval = 0 }},
		{"zero healing_interval", func(c *Config) { c.Manager.HealingInterval = 0 }},
		{"zero failure_threshold", func(c *Config) { c.Manager.FailureThreshold = 0 }},
		{"min above max pool size", func(c *Config) {
			c.Manager.PoolSizeMin = 10
			c.Manager.PoolSizeMax = 2
		}},
		{"endpoint without url", func(c *Config) {
			c.Endpoints = map[string]EndpointConfig{"x": {}}
		}},
		{"endpoint with unknown type", func(c *Config) {
			c.Endpoints = map[string]EndpointConfig{"x": {URL: "wss://x", Type: "tertiary"}}
		}},
		{"endpoint with negative max_connections", func(c *Config) {
			c.Endpoints = map[string]EndpointConfig{"x": {URL: "wss://x", MaxConnections: -5}}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{Manager: DefaultManagerConfig()}
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	cfg := Config{
		Manager: DefaultManagerConfig(),
		Endpoints: map[string]EndpointConfig{
			"primary": {URL: "wss://p.example.com/ws", Type: "primary"},
		},
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}
