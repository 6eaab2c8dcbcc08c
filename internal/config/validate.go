package config

import (
	"fmt"

	"github.com/a2z2k25/connmgr/internal/model"
)

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if err := c.Manager.Validate(); err != nil {
		return err
	}
	for id, ep := range c.Endpoints {
		if err := ep.Validate(); err != nil {
			return fmt.Errorf("endpoint %q: %w", id, err)
		}
	}
	return nil
}

// Validate checks manager settings.
func (c *ManagerConfig) Validate() error {
	if c.MaxConnections <= 0 {
		return fmt.Errorf("max_connections must be positive, got %d", c.MaxConnections)
	}
	if c.ConnectionTimeout <= 0 {
		return fmt.Errorf("connection_timeout must be positive, got %v", c.ConnectionTimeout)
	}
	if c.HealthCheckInterval <= 0 {
		return fmt.Errorf("health_check_interval must be positive, got %v", c.HealthCheckInterval)
	}
	if c.HealingInterval <= 0 {
		return fmt.Errorf("healing_interval must be positive, got %v", c.HealingInterval)
	}
	if c.FailureThreshold <= 0 {
		return fmt.Errorf("failure_threshold must be positive, got %d", c.FailureThreshold)
	}
	if c.PoolSizeMin < 0 {
		return fmt.Errorf("pool_size_min must not be negative, got %d", c.PoolSizeMin)
	}
	if c.PoolSizeMax <= 0 {
		return fmt.Errorf("pool_size_max must be positive, got %d", c.PoolSizeMax)
	}
	if c.PoolSizeMin > c.PoolSizeMax {
		return fmt.Errorf("pool_size_min (%d) exceeds pool_size_max (%d)", c.PoolSizeMin, c.PoolSizeMax)
	}
	return nil
}

// Validate checks one endpoint registration.
func (e *EndpointConfig) Validate() error {
	if e.URL == "" {
		return fmt.Errorf("url is required")
	}
	if e.Type != "" && !model.EndpointType(e.Type).Valid() {
		return fmt.Errorf("unknown endpoint type %q", e.Type)
	}
	if e.MaxConnections < 0 {
		return fmt.Errorf("max_connections must not be negative, got %d", e.MaxConnections)
	}
	return nil
}
