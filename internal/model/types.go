package model

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EndpointType ranks how an endpoint should be preferred by callers.
type EndpointType string

const (
	EndpointPrimary   EndpointType = "primary"
	EndpointBackup    EndpointType = "backup"
	EndpointFallback  EndpointType = "fallback"
	EndpointEmergency EndpointType = "emergency"
)

// Valid reports whether t is one of the known endpoint types.
func (t EndpointType) Valid() bool {
	switch t {
	case EndpointPrimary, EndpointBackup, EndpointFallback, EndpointEmergency:
		return true
	}
	return false
}

// Handle is an established channel to an endpoint. The subsystem treats it as
// opaque; the only operation it relies on is Close.
type Handle interface {
	Close() error
}

// Factory establishes a new handle. Implementations must honor ctx
// cancellation and deadlines.
type Factory func(ctx context.Context) (Handle, error)

// Prober checks whether an endpoint is reachable. A nil error means healthy.
type Prober func(ctx context.Context, ep *Endpoint) error

// Pinger measures the responsiveness of a live connection.
type Pinger func(ctx context.Context, c *Connection) (time.Duration, error)

// Endpoint is a registered remote target. Identity fields are immutable after
// registration; health fields are mutated by the manager's health loop only.
type Endpoint struct {
	ID             string
	URL            string
	Type           EndpointType
	Priority       int
	Weight         int
	MaxConnections int
	HealthCheckURL string
	Metadata       map[string]string

	mu              sync.Mutex
	healthy         bool
	lastHealthCheck time.Time
}

// NewEndpoint creates an endpoint record. Endpoints start out healthy; the
// first health-check tick corrects that if needed.
func NewEndpoint(id, url string, typ EndpointType) *Endpoint {
	return &Endpoint{
		ID:      id,
		URL:     url,
		Type:    typ,
		healthy: true,
	}
}

// Healthy reports the result of the most recent health check.
func (e *Endpoint) Healthy() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.healthy
}

// SetHealthy records a health-check result.
func (e *Endpoint) SetHealthy(ok bool) {
	e.mu.Lock()
	e.healthy = ok
	e.lastHealthCheck = time.Now()
	e.mu.Unlock()
}

// LastHealthCheck returns when the endpoint was last checked. Zero if never.
func (e *Endpoint) LastHealthCheck() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastHealthCheck
}

// ConnState is the lifecycle state of a connection.
//
//	Disconnected -> Connecting -> Connected <-> Degraded
//
// Connected or Degraded transition to Disconnected on close. Failure is not a
// terminal state: a failed connection is removed from tracking and the
// failure is recorded on the endpoint's circuit breaker instead.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateDegraded
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDegraded:
		return "degraded"
	}
	return "unknown"
}

// Connection is a handle to an established channel, plus the bookkeeping the
// subsystem keeps about it. It is owned by exactly one container at a time:
// the manager's connection table while checked out, or one pool while idle.
type Connection struct {
	id         string
	endpointID string
	createdAt  time.Time
	handle     Handle

	mu           sync.Mutex
	state        ConnState
	lastActivity time.Time
	latency      time.Duration
	uses         int64
	errors       int64
}

// NewConnection wraps an established handle.
func NewConnection(endpointID string, h Handle) *Connection {
	now := time.Now()
	return &Connection{
		id:           uuid.NewString(),
		endpointID:   endpointID,
		createdAt:    now,
		handle:       h,
		state:        StateConnecting,
		lastActivity: now,
	}
}

func (c *Connection) ID() string           { return c.id }
func (c *Connection) EndpointID() string   { return c.endpointID }
func (c *Connection) CreatedAt() time.Time { return c.createdAt }
func (c *Connection) Handle() Handle       { return c.handle }

// State returns the current lifecycle state.
func (c *Connection) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SetState moves the connection to a new lifecycle state.
func (c *Connection) SetState(s ConnState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Touch marks the connection as recently used.
func (c *Connection) Touch() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

// LastActivity returns the time of the most recent use.
func (c *Connection) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

// IdleFor returns how long the connection has been unused.
func (c *Connection) IdleFor() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.lastActivity)
}

// Latency returns the most recent latency measurement.
func (c *Connection) Latency() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latency
}

// SetLatency records a latency measurement.
func (c *Connection) SetLatency(d time.Duration) {
	c.mu.Lock()
	c.latency = d
	c.mu.Unlock()
}

// RecordUse accumulates per-connection error-rate accounting.
func (c *Connection) RecordUse(failed bool) {
	c.mu.Lock()
	c.uses++
	if failed {
		c.errors++
	}
	c.mu.Unlock()
}

// ErrorRate returns the fraction of recorded uses that failed.
func (c *Connection) ErrorRate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.uses == 0 {
		return 0
	}
	return float64(c.errors) / float64(c.uses)
}

// HealingOperation is a queued remediation attempt for an endpoint.
type HealingOperation struct {
	EndpointID  string
	Reason      string
	ScheduledAt time.Time
	Attempts    int
}
