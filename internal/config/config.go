package config

import "time"

// Config is the root configuration for the connection manager and the
// endpoints it should register at startup.
type Config struct {
	Manager   ManagerConfig             `yaml:"manager"`
	Endpoints map[string]EndpointConfig `yaml:"endpoints"`
}

// ManagerConfig holds connection manager settings. All fields are optional;
// see defaults.go for the values applied when unset.
type ManagerConfig struct {
	// Connection establishment and acquisition.
	MaxConnections    int           `yaml:"max_connections"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
	AcquireTimeout    time.Duration `yaml:"acquire_timeout"`

	// Reconnect / healing cadence.
	ReconnectInterval    time.Duration `yaml:"reconnect_interval"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	HealingInterval      time.Duration `yaml:"healing_interval"`
	HealingWorkers       int           `yaml:"healing_workers"`

	// Health checking.
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`
	ProbeTimeout        time.Duration `yaml:"probe_timeout"`
	ProbeConcurrency    int           `yaml:"probe_concurrency"`
	DegradedThreshold   time.Duration `yaml:"degraded_threshold"`
	IdleTimeout         time.Duration `yaml:"idle_timeout"`

	// Circuit breaking.
	FailureThreshold int           `yaml:"failure_threshold"`
	RecoveryTimeout  time.Duration `yaml:"recovery_timeout"`
	HalfOpenMaxCalls int           `yaml:"half_open_max_calls"`

	// Feature toggles.
	EnableAutoHealing       bool `yaml:"enable_auto_healing"`
	EnableLoadBalancing     bool `yaml:"enable_load_balancing"`
	EnableConnectionPooling bool `yaml:"enable_connection_pooling"`

	// Pooling.
	PoolSizeMin int `yaml:"pool_size_min"`
	PoolSizeMax int `yaml:"pool_size_max"`

	// Event bus sizing.
	EventBufferSize int `yaml:"event_buffer_size"`
	EventHistory    int `yaml:"event_history"`
}

// EndpointConfig describes one remote target to register.
type EndpointConfig struct {
	URL            string            `yaml:"url"`
	Type           string            `yaml:"type"` // primary, backup, fallback, emergency
	Priority       int               `yaml:"priority"`
	Weight         int               `yaml:"weight"`
	MaxConnections int               `yaml:"max_connections"`
	HealthCheckURL string            `yaml:"health_check_url"`
	Metadata       map[string]string `yaml:"metadata"`
}
