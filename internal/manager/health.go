package manager

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/a2z2k25/connmgr/internal/events"
	"github.com/a2z2k25/connmgr/internal/model"
)

// healthLoop probes every endpoint and inspects live connections on a fixed
// interval until ctx is cancelled.
func (m *Manager) healthLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.runHealthCheck(ctx)
		}
	}
}

// runHealthCheck probes all endpoints concurrently, then sweeps the
// connections. Endpoint probes finish before the connection sweep so that
// degraded-connection handling sees up-to-date endpoint health.
func (m *Manager) runHealthCheck(ctx context.Context) {
	states := m.endpointStates()

	g, probeCtx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.ProbeConcurrency)
	for _, es := range states {
		es := es
		g.Go(func() error {
			m.probeEndpoint(probeCtx, es)
			return nil
		})
	}
	_ = g.Wait() // probes never return errors; failures are recorded in place

	m.checkConnections(ctx)

	healthy := 0
	for _, es := range states {
		if es.ep.Healthy() {
			healthy++
		}
	}
	m.bus.Publish(events.Event{
		Type: events.HealthCheckCompleted,
		Details: map[string]any{
			"endpoints": len(states),
			"healthy":   healthy,
		},
	})
	m.logger.Debug("health check completed", "endpoints", len(states), "healthy", healthy)
}

// probeEndpoint runs one reachability probe and feeds the outcome into the
// endpoint's breaker and failure history.
func (m *Manager) probeEndpoint(ctx context.Context, es *endpointState) {
	probeCtx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	defer cancel()

	if err := m.prober(probeCtx, es.ep); err != nil {
		wasHealthy := es.ep.Healthy()
		es.ep.SetHealthy(false)
		es.breaker.RecordFailure(err)
		es.noteFailure()
		m.logger.Warn("endpoint probe failed",
			"endpoint", es.ep.ID,
			"url", es.ep.URL,
			"error", err,
		)
		if wasHealthy {
			m.enqueueHealing(es.ep.ID, "health_check_failed")
		}
		return
	}

	es.ep.SetHealthy(true)
	es.breaker.RecordSuccess()
}

// checkConnections reaps idle pooled connections and pings the checked-out
// ones, moving them between Connected and Degraded based on measured latency.
func (m *Manager) checkConnections(ctx context.Context) {
	for _, es := range m.endpointStates() {
		if es.pool == nil {
			continue
		}
		// ReapIdle owns the teardown (close + state); only the event is
		// published here.
		for _, c := range es.pool.ReapIdle(m.cfg.IdleTimeout) {
			m.bus.Publish(events.Event{
				Type:         events.ConnectionClosed,
				EndpointID:   c.EndpointID(),
				ConnectionID: c.ID(),
				Details:      map[string]any{"reason": "idle"},
			})
		}
	}

	for _, tc := range m.trackedConns() {
		c := tc.conn
		if c.IdleFor() > m.cfg.IdleTimeout {
			m.logger.Info("closing idle connection", "conn_id", c.ID(), "endpoint", c.EndpointID())
			m.CloseConnection(c.ID())
			continue
		}

		pingCtx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
		latency, err := m.pinger(pingCtx, c)
		cancel()
		if err != nil {
			c.RecordUse(true)
			if c.State() == model.StateConnected {
				c.SetState(model.StateDegraded)
				m.logger.Warn("connection degraded",
					"conn_id", c.ID(),
					"endpoint", c.EndpointID(),
					"error", err,
				)
			}
			continue
		}

		c.SetLatency(latency)
		switch {
		case latency > m.cfg.DegradedThreshold && c.State() == model.StateConnected:
			c.SetState(model.StateDegraded)
			m.logger.Warn("connection degraded",
				"conn_id", c.ID(),
				"endpoint", c.EndpointID(),
				"latency", latency,
			)
		case latency <= m.cfg.DegradedThreshold && c.State() == model.StateDegraded:
			c.SetState(model.StateConnected)
			m.logger.Info("connection recovered",
				"conn_id", c.ID(),
				"endpoint", c.EndpointID(),
				"latency", latency,
			)
		}
	}
}
