// Package manager orchestrates resilient connections to a set of remote
// endpoints. It owns one circuit breaker and (when pooling is enabled) one
// connection pool per endpoint, load-balances acquisition across healthy
// endpoints, and runs two background loops: periodic health checking and
// automatic healing of endpoints that went bad.
package manager

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alitto/pond/v2"

	"github.com/a2z2k25/connmgr/internal/balancer"
	"github.com/a2z2k25/connmgr/internal/breaker"
	"github.com/a2z2k25/connmgr/internal/config"
	"github.com/a2z2k25/connmgr/internal/events"
	"github.com/a2z2k25/connmgr/internal/model"
	"github.com/a2z2k25/connmgr/internal/pool"
)

// failureWindow bounds the per-endpoint failure history used in stats.
const failureWindow = 5 * time.Minute

// ConnectionFactory establishes a handle to a specific endpoint. Supplied by
// the caller; the manager binds it per endpoint at registration.
type ConnectionFactory func(ctx context.Context, ep *model.Endpoint) (model.Handle, error)

// Opts carries the manager's injectable collaborators. Factory is required;
// everything else has a default.
type Opts struct {
	// Factory establishes connections. Required.
	Factory ConnectionFactory
	// Prober checks endpoint reachability. Defaults to an always-healthy
	// stand-in; supply a real probe for production transports.
	Prober model.Prober
	// Pinger measures connection responsiveness. Defaults to echoing the
	// connection's last known latency.
	Pinger model.Pinger
	// Strategy picks endpoints for GetBestConnection. Defaults to
	// round-robin.
	Strategy balancer.Strategy
	// Logger defaults to slog.Default().
	Logger *slog.Logger
	// Bus defaults to a new bus sized from the config.
	Bus *events.Bus
}

// endpointState bundles everything the manager owns for one endpoint.
type endpointState struct {
	ep      *model.Endpoint
	breaker *breaker.Breaker
	pool    *pool.Pool // nil when pooling is disabled
	factory model.Factory

	mu           sync.Mutex
	failures     []time.Time
	healAttempts int // cumulative, reset on recovery
}

func (es *endpointState) noteFailure() {
	now := time.Now()
	es.mu.Lock()
	kept := es.failures[:0]
	for _, t := range es.failures {
		if now.Sub(t) <= failureWindow {
			kept = append(kept, t)
		}
	}
	es.failures = append(kept, now)
	es.mu.Unlock()
}

func (es *endpointState) recentFailures() int {
	now := time.Now()
	es.mu.Lock()
	defer es.mu.Unlock()
	n := 0
	for _, t := range es.failures {
		if now.Sub(t) <= failureWindow {
			n++
		}
	}
	return n
}

func (es *endpointState) clearFailures() {
	es.mu.Lock()
	es.failures = nil
	es.healAttempts = 0
	es.mu.Unlock()
}

// noteHealAttempt bumps the cumulative healing-attempt count and returns it.
func (es *endpointState) noteHealAttempt() int {
	es.mu.Lock()
	defer es.mu.Unlock()
	es.healAttempts++
	return es.healAttempts
}

func (es *endpointState) healAttemptCount() int {
	es.mu.Lock()
	defer es.mu.Unlock()
	return es.healAttempts
}

// trackedConn is a connection checked out to a caller.
type trackedConn struct {
	conn   *model.Connection
	es     *endpointState
	pooled bool
}

// Manager is the single entry point callers use to obtain and return
// connections.
type Manager struct {
	cfg      config.ManagerConfig
	logger   *slog.Logger
	bus      *events.Bus
	factory  ConnectionFactory
	prober   model.Prober
	pinger   model.Pinger
	balancer *balancer.Balancer
	metrics  *Metrics
	healPool pond.Pool

	mu             sync.Mutex
	endpoints      map[string]*endpointState
	order          []string // registration order
	conns          map[string]*trackedConn
	healQueue      []*model.HealingOperation
	healQueued     map[string]struct{}
	healInProgress map[string]struct{}
	started        bool
	closed         bool
	cancel         context.CancelFunc

	wg sync.WaitGroup
}

// New creates a manager. No background work starts until Start.
func New(cfg config.ManagerConfig, opts Opts) (*Manager, error) {
	if opts.Factory == nil {
		return nil, fmt.Errorf("manager: Opts.Factory is required")
	}
	cfg.ApplyDefaults()

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	bus := opts.Bus
	if bus == nil {
		bus = events.NewBus(cfg.EventBufferSize, cfg.EventHistory, logger)
	}
	prober := opts.Prober
	if prober == nil {
		// Stand-in for callers that have no probe; real transports should
		// inject one (see wsconn.Prober).
		prober = func(ctx context.Context, ep *model.Endpoint) error { return nil }
	}
	pinger := opts.Pinger
	if pinger == nil {
		pinger = func(ctx context.Context, c *model.Connection) (time.Duration, error) {
			return c.Latency(), nil
		}
	}

	return &Manager{
		cfg:            cfg,
		logger:         logger,
		bus:            bus,
		factory:        opts.Factory,
		prober:         prober,
		pinger:         pinger,
		balancer:       balancer.New(opts.Strategy),
		metrics:        &Metrics{},
		healPool:       pond.NewPool(cfg.HealingWorkers),
		endpoints:      make(map[string]*endpointState),
		conns:          make(map[string]*trackedConn),
		healQueued:     make(map[string]struct{}),
		healInProgress: make(map[string]struct{}),
	}, nil
}

// Events exposes the manager's event bus for subscribers.
func (m *Manager) Events() *events.Bus { return m.bus }

// Metrics exposes the manager's counters.
func (m *Manager) Metrics() *Metrics { return m.metrics }

// Start launches the health-check and healing loops. The loops stop when
// Stop is called or ctx is cancelled.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrManagerClosed
	}
	if m.started {
		m.mu.Unlock()
		return fmt.Errorf("connection manager already started")
	}
	m.started = true
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.mu.Unlock()

	m.wg.Add(1)
	go m.healthLoop(runCtx)

	if m.cfg.EnableAutoHealing {
		m.wg.Add(1)
		go m.healingLoop(runCtx)
	}

	m.logger.Info("connection manager started",
		"health_check_interval", m.cfg.HealthCheckInterval,
		"healing_interval", m.cfg.HealingInterval,
		"auto_healing", m.cfg.EnableAutoHealing,
		"load_balancing", m.cfg.EnableLoadBalancing,
		"pooling", m.cfg.EnableConnectionPooling,
	)
	return nil
}

// Stop shuts the manager down: loops first, then pools and any connections
// still checked out. ctx bounds how long to wait for the loops.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	if m.cancel != nil {
		m.cancel()
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		m.logger.Warn("shutdown timeout waiting for control loops")
	}

	m.healPool.StopAndWait()

	m.mu.Lock()
	states := make([]*endpointState, 0, len(m.endpoints))
	for _, es := range m.endpoints {
		states = append(states, es)
	}
	tracked := make([]*trackedConn, 0, len(m.conns))
	for _, tc := range m.conns {
		tracked = append(tracked, tc)
	}
	m.conns = make(map[string]*trackedConn)
	m.mu.Unlock()

	for _, tc := range tracked {
		m.closeConn(tc.conn)
	}
	for _, es := range states {
		if es.pool != nil {
			es.pool.Shutdown()
		}
	}

	m.bus.Publish(events.Event{Type: events.ManagerShutdown})
	m.bus.Close()
	m.logger.Info("connection manager stopped")
	return nil
}

// RegisterEndpoint creates the endpoint record, its circuit breaker, and its
// pool. Re-registering an id overwrites the previous registration; the old
// pool is shut down.
func (m *Manager) RegisterEndpoint(ctx context.Context, id string, epCfg config.EndpointConfig) error {
	if id == "" {
		return fmt.Errorf("endpoint id is required")
	}
	if err := epCfg.Validate(); err != nil {
		return fmt.Errorf("endpoint %q: %w", id, err)
	}

	typ := model.EndpointType(epCfg.Type)
	if typ == "" {
		typ = model.EndpointPrimary
	}
	ep := model.NewEndpoint(id, epCfg.URL, typ)
	ep.Priority = epCfg.Priority
	ep.Weight = epCfg.Weight
	ep.MaxConnections = epCfg.MaxConnections
	ep.HealthCheckURL = epCfg.HealthCheckURL
	ep.Metadata = epCfg.Metadata

	es := &endpointState{
		ep: ep,
		breaker: breaker.New(breaker.Config{
			FailureThreshold: m.cfg.FailureThreshold,
			RecoveryTimeout:  m.cfg.RecoveryTimeout,
			HalfOpenMaxCalls: m.cfg.HalfOpenMaxCalls,
		}),
		factory: m.bindFactory(ep),
	}

	if m.cfg.EnableConnectionPooling {
		maxSize := m.cfg.PoolSizeMax
		if ep.MaxConnections > 0 && ep.MaxConnections < maxSize {
			maxSize = ep.MaxConnections
		}
		es.pool = pool.New(pool.Config{
			EndpointID:     id,
			MinSize:        m.cfg.PoolSizeMin,
			MaxSize:        maxSize,
			AcquireTimeout: m.cfg.AcquireTimeout,
		}, es.factory, m.logger)
		if err := es.pool.Initialize(ctx); err != nil {
			m.logger.Warn("pool warm-up aborted", "endpoint", id, "error", err)
		}
	}

	m.mu.Lock()
	old, existed := m.endpoints[id]
	m.endpoints[id] = es
	if !existed {
		m.order = append(m.order, id)
	}
	m.mu.Unlock()

	if existed && old.pool != nil {
		old.pool.Shutdown()
	}

	m.logger.Info("endpoint registered",
		"endpoint", id,
		"url", ep.URL,
		"type", ep.Type,
		"priority", ep.Priority,
		"weight", ep.Weight,
	)
	return nil
}

// bindFactory scopes the caller's factory to one endpoint and instruments it
// with connection metrics.
func (m *Manager) bindFactory(ep *model.Endpoint) model.Factory {
	return func(ctx context.Context) (model.Handle, error) {
		start := time.Now()
		h, err := m.factory(ctx, ep)
		if err != nil {
			m.metrics.connectionFailed()
			return nil, err
		}
		m.metrics.connectionCreated(time.Since(start))
		return h, nil
	}
}

// GetConnection returns a connection to the given endpoint: rejected while
// the breaker is open, served from the pool when possible, and falling back
// to a direct connection when the pool cannot deliver. The fallback turns
// pool exhaustion into extra latency instead of a hard failure.
func (m *Manager) GetConnection(ctx context.Context, endpointID string) (*model.Connection, error) {
	es := m.endpoint(endpointID)
	if es == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEndpoint, endpointID)
	}
	if m.isClosed() {
		return nil, ErrManagerClosed
	}
	if !es.breaker.CanExecute() {
		return nil, fmt.Errorf("%w: endpoint %q", ErrCircuitOpen, endpointID)
	}

	if es.pool != nil {
		c, err := es.pool.Acquire(ctx)
		if err == nil {
			// No breaker outcome here: popping an idle handle involves no
			// endpoint I/O. The caller reports the result at release.
			m.track(c, es, true)
			return c, nil
		}
		m.logger.Warn("pool acquire failed, falling back to direct connection",
			"endpoint", endpointID,
			"error", err,
		)
	}

	return m.CreateConnection(ctx, endpointID)
}

// CreateConnection dials the endpoint directly, bypassing the pool. Factory
// failures feed the endpoint's breaker and failure history before being
// returned to the caller.
func (m *Manager) CreateConnection(ctx context.Context, endpointID string) (*model.Connection, error) {
	es := m.endpoint(endpointID)
	if es == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEndpoint, endpointID)
	}

	dialCtx, cancel := context.WithTimeout(ctx, m.cfg.ConnectionTimeout)
	defer cancel()

	start := time.Now()
	h, err := es.factory(dialCtx)
	if err != nil {
		es.breaker.RecordFailure(err)
		es.noteFailure()
		if es.breaker.Snapshot().State == breaker.Open {
			es.ep.SetHealthy(false)
			m.enqueueHealing(endpointID, "connection_failures")
		}
		return nil, &FactoryError{EndpointID: endpointID, Err: err}
	}

	c := model.NewConnection(endpointID, h)
	c.SetLatency(time.Since(start))
	c.SetState(model.StateConnected)
	es.breaker.RecordSuccess()
	m.track(c, es, false)

	m.bus.Publish(events.Event{
		Type:         events.ConnectionEstablished,
		EndpointID:   endpointID,
		ConnectionID: c.ID(),
		Details:      map[string]any{"latency": c.Latency()},
	})
	return c, nil
}

// ReleaseConnection returns a checked-out connection and reports the call
// outcome to the endpoint's breaker. A non-nil callErr marks the connection
// untrusted: the failure is recorded and the handle is closed instead of
// being pooled for reuse. Unknown ids are a no-op.
func (m *Manager) ReleaseConnection(connectionID string, callErr error) {
	m.mu.Lock()
	tc, ok := m.conns[connectionID]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.conns, connectionID)
	m.mu.Unlock()

	tc.conn.RecordUse(callErr != nil)

	if callErr != nil {
		tc.es.breaker.RecordFailure(callErr)
		tc.es.noteFailure()
		if tc.pooled {
			tc.es.pool.Discard(tc.conn)
		}
		m.closeConn(tc.conn)
		return
	}

	tc.es.breaker.RecordSuccess()
	if tc.pooled {
		m.metrics.checkedIn()
		tc.es.pool.Release(tc.conn)
		return
	}
	m.closeConn(tc.conn)
}

// CloseConnection closes a checked-out connection outright. Unknown ids are
// a no-op.
func (m *Manager) CloseConnection(connectionID string) {
	m.mu.Lock()
	tc, ok := m.conns[connectionID]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.conns, connectionID)
	m.mu.Unlock()

	if tc.pooled {
		tc.es.pool.Discard(tc.conn)
	}
	m.closeConn(tc.conn)
}

// GetBestConnection picks an endpoint via the load balancer and connects to
// it, falling back to registration order when balancing is disabled, returns
// nothing, or its pick fails.
func (m *Manager) GetBestConnection(ctx context.Context, crit balancer.Criteria) (*model.Connection, error) {
	eps := m.endpointsInOrder()
	if len(eps) == 0 {
		return nil, ErrNoHealthyEndpoints
	}

	tried := make(map[string]bool, 1)
	if m.cfg.EnableLoadBalancing {
		if ep := m.balancer.Select(eps, crit); ep != nil {
			c, err := m.GetConnection(ctx, ep.ID)
			if err == nil {
				return c, nil
			}
			tried[ep.ID] = true
			m.logger.Debug("balancer pick failed, trying remaining endpoints",
				"endpoint", ep.ID,
				"error", err,
			)
		}
	}

	var lastErr error
	for _, ep := range eps {
		if tried[ep.ID] {
			continue
		}
		c, err := m.GetConnection(ctx, ep.ID)
		if err == nil {
			return c, nil
		}
		lastErr = err
	}

	if lastErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoHealthyEndpoints, lastErr)
	}
	return nil, ErrNoHealthyEndpoints
}

// EndpointStats reports one endpoint's health, breaker, and pool state.
type EndpointStats struct {
	Healthy         bool             `json:"healthy"`
	LastHealthCheck time.Time        `json:"last_health_check"`
	Breaker         breaker.Snapshot `json:"breaker"`
	Pool            *pool.Stats      `json:"pool,omitempty"`
	RecentFailures  int              `json:"recent_failures"`
	HealingAttempts int              `json:"healing_attempts"`
}

// Stats aggregates connection counters and per-endpoint state. Observability
// only; control decisions never read this.
type Stats struct {
	Connections    MetricsSnapshot          `json:"connections"`
	Endpoints      map[string]EndpointStats `json:"endpoints"`
	PendingHealing int                      `json:"pending_healing"`
}

// GetConnectionStats returns a point-in-time report across all endpoints.
func (m *Manager) GetConnectionStats() Stats {
	m.mu.Lock()
	states := make(map[string]*endpointState, len(m.endpoints))
	for id, es := range m.endpoints {
		states[id] = es
	}
	pending := len(m.healQueue)
	m.mu.Unlock()

	out := Stats{
		Connections:    m.metrics.Snapshot(),
		Endpoints:      make(map[string]EndpointStats, len(states)),
		PendingHealing: pending,
	}
	for id, es := range states {
		st := EndpointStats{
			Healthy:         es.ep.Healthy(),
			LastHealthCheck: es.ep.LastHealthCheck(),
			Breaker:         es.breaker.Snapshot(),
			RecentFailures:  es.recentFailures(),
			HealingAttempts: es.healAttemptCount(),
		}
		if es.pool != nil {
			ps := es.pool.GetStats()
			st.Pool = &ps
		}
		out.Endpoints[id] = st
	}
	return out
}

// track records a connection as checked out to a caller.
func (m *Manager) track(c *model.Connection, es *endpointState, pooled bool) {
	m.mu.Lock()
	m.conns[c.ID()] = &trackedConn{conn: c, es: es, pooled: pooled}
	m.mu.Unlock()
	m.metrics.checkedOut()
}

// closeConn closes the handle and reports the closure. The caller has
// already removed the connection from all tracking.
func (m *Manager) closeConn(c *model.Connection) {
	if err := c.Handle().Close(); err != nil {
		m.logger.Warn("closing connection", "conn_id", c.ID(), "error", err)
	}
	c.SetState(model.StateDisconnected)
	m.metrics.checkedIn()
	m.bus.Publish(events.Event{
		Type:         events.ConnectionClosed,
		EndpointID:   c.EndpointID(),
		ConnectionID: c.ID(),
	})
}

func (m *Manager) endpoint(id string) *endpointState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.endpoints[id]
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// endpointsInOrder snapshots endpoints in registration order.
func (m *Manager) endpointsInOrder() []*model.Endpoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	eps := make([]*model.Endpoint, 0, len(m.order))
	for _, id := range m.order {
		if es, ok := m.endpoints[id]; ok {
			eps = append(eps, es.ep)
		}
	}
	return eps
}

// endpointStates snapshots all endpoint states for the control loops.
func (m *Manager) endpointStates() []*endpointState {
	m.mu.Lock()
	defer m.mu.Unlock()
	states := make([]*endpointState, 0, len(m.endpoints))
	for _, es := range m.endpoints {
		states = append(states, es)
	}
	return states
}

// trackedConns snapshots the checked-out connection table.
func (m *Manager) trackedConns() []*trackedConn {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*trackedConn, 0, len(m.conns))
	for _, tc := range m.conns {
		out = append(out, tc)
	}
	return out
}
