package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultMaxConnections       = 100
	DefaultConnectionTimeout    = 30 * time.Second
	DefaultAcquireTimeout       = 5 * time.Second
	DefaultReconnectInterval    = 5 * time.Second
	DefaultMaxReconnectAttempts = 10
	DefaultHealingInterval      = 10 * time.Second
	DefaultHealingWorkers       = 4
	DefaultHealthCheckInterval  = 15 * time.Second
	DefaultProbeTimeout         = 100 * time.Millisecond
	DefaultProbeConcurrency     = 16
	DefaultDegradedThreshold    = 2 * time.Second
	DefaultIdleTimeout          = 5 * time.Minute
	DefaultFailureThreshold     = 5
	DefaultRecoveryTimeout      = 30 * time.Second
	DefaultHalfOpenMaxCalls     = 3
	DefaultPoolSizeMin          = 5
	DefaultPoolSizeMax          = 50
	DefaultEventBufferSize      = 64
	DefaultEventHistory         = 100
)

// DefaultManagerConfig returns a fully populated configuration. The enable
// flags default to true; Load unmarshals on top of these values so a flag is
// only false when the file says so.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		MaxConnections:          DefaultMaxConnections,
		ConnectionTimeout:       DefaultConnectionTimeout,
		AcquireTimeout:          DefaultAcquireTimeout,
		ReconnectInterval:       DefaultReconnectInterval,
		MaxReconnectAttempts:    DefaultMaxReconnectAttempts,
		HealingInterval:         DefaultHealingInterval,
		HealingWorkers:          DefaultHealingWorkers,
		HealthCheckInterval:     DefaultHealthCheckInterval,
		ProbeTimeout:            DefaultProbeTimeout,
		ProbeConcurrency:        DefaultProbeConcurrency,
		DegradedThreshold:       DefaultDegradedThreshold,
		IdleTimeout:             DefaultIdleTimeout,
		FailureThreshold:        DefaultFailureThreshold,
		RecoveryTimeout:         DefaultRecoveryTimeout,
		HalfOpenMaxCalls:        DefaultHalfOpenMaxCalls,
		EnableAutoHealing:       true,
		EnableLoadBalancing:     true,
		EnableConnectionPooling: true,
		PoolSizeMin:             DefaultPoolSizeMin,
		PoolSizeMax:             DefaultPoolSizeMax,
		EventBufferSize:         DefaultEventBufferSize,
		EventHistory:            DefaultEventHistory,
	}
}

// ApplyDefaults fills zero-valued numeric fields. It does not touch the
// enable flags: a zero bool is a legitimate "disabled".
func (c *ManagerConfig) ApplyDefaults() {
	if c.MaxConnections == 0 {
		c.MaxConnections = DefaultMaxConnections
	}
	if c.ConnectionTimeout == 0 {
		c.ConnectionTimeout = DefaultConnectionTimeout
	}
	if c.AcquireTimeout == 0 {
		c.AcquireTimeout = DefaultAcquireTimeout
	}
	if c.ReconnectInterval == 0 {
		c.ReconnectInterval = DefaultReconnectInterval
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.HealingInterval == 0 {
		c.HealingInterval = DefaultHealingInterval
	}
	if c.HealingWorkers == 0 {
		c.HealingWorkers = DefaultHealingWorkers
	}
	if c.HealthCheckInterval == 0 {
		c.HealthCheckInterval = DefaultHealthCheckInterval
	}
	if c.ProbeTimeout == 0 {
		c.ProbeTimeout = DefaultProbeTimeout
	}
	if c.ProbeConcurrency == 0 {
		c.ProbeConcurrency = DefaultProbeConcurrency
	}
	if c.DegradedThreshold == 0 {
		c.DegradedThreshold = DefaultDegradedThreshold
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.FailureThreshold == 0 {
		c.FailureThreshold = DefaultFailureThreshold
	}
	if c.RecoveryTimeout == 0 {
		c.RecoveryTimeout = DefaultRecoveryTimeout
	}
	if c.HalfOpenMaxCalls == 0 {
		c.HalfOpenMaxCalls = DefaultHalfOpenMaxCalls
	}
	if c.PoolSizeMin == 0 {
		c.PoolSizeMin = DefaultPoolSizeMin
	}
	if c.PoolSizeMax == 0 {
		c.PoolSizeMax = DefaultPoolSizeMax
	}
	if c.EventBufferSize == 0 {
		c.EventBufferSize = DefaultEventBufferSize
	}
	if c.EventHistory == 0 {
		c.EventHistory = DefaultEventHistory
	}
}
