package manager

import (
	"context"
	"time"

	"github.com/a2z2k25/connmgr/internal/events"
	"github.com/a2z2k25/connmgr/internal/model"
)

// maxHealingAttempts bounds how many times one queued operation is retried
// before it is abandoned.
const maxHealingAttempts = 3

// healingLoop drains the healing queue on a fixed interval until ctx is
// cancelled.
func (m *Manager) healingLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.HealingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.runHealing(ctx)
		}
	}
}

// runHealing dispatches queued operations to the worker pool. At most one
// healing attempt runs per endpoint at a time; operations for a busy endpoint
// or whose retry backoff has not elapsed stay queued for the next tick.
func (m *Manager) runHealing(ctx context.Context) {
	now := time.Now()

	m.mu.Lock()
	var ready []*model.HealingOperation
	var deferred []*model.HealingOperation
	for _, op := range m.healQueue {
		if now.Before(op.ScheduledAt) {
			deferred = append(deferred, op)
			continue
		}
		if _, busy := m.healInProgress[op.EndpointID]; busy {
			deferred = append(deferred, op)
			continue
		}
		m.healInProgress[op.EndpointID] = struct{}{}
		delete(m.healQueued, op.EndpointID)
		ready = append(ready, op)
	}
	m.healQueue = deferred
	m.mu.Unlock()

	for _, op := range ready {
		m.healPool.Submit(func() {
			m.heal(ctx, op)
		})
	}
}

// heal runs one remediation attempt: re-probe the endpoint and, on success,
// reset the breaker and re-warm the pool. Failed attempts requeue until the
// attempt budget runs out.
func (m *Manager) heal(ctx context.Context, op *model.HealingOperation) {
	defer func() {
		m.mu.Lock()
		delete(m.healInProgress, op.EndpointID)
		m.mu.Unlock()
	}()

	es := m.endpoint(op.EndpointID)
	if es == nil {
		return // endpoint was dropped while queued
	}

	m.metrics.healingAttempt()
	es.noteHealAttempt()
	op.Attempts++
	m.logger.Info("healing endpoint",
		"endpoint", op.EndpointID,
		"reason", op.Reason,
		"attempt", op.Attempts,
	)

	probeCtx, cancel := context.WithTimeout(ctx, m.cfg.ConnectionTimeout)
	err := m.prober(probeCtx, es.ep)
	cancel()

	if err == nil {
		es.breaker.Reset()
		es.clearFailures()
		es.ep.SetHealthy(true)
		if es.pool != nil {
			if warmErr := es.pool.Initialize(ctx); warmErr != nil {
				m.logger.Warn("pool re-warm after healing failed",
					"endpoint", op.EndpointID,
					"error", warmErr,
				)
			}
		}
		m.logger.Info("endpoint healed", "endpoint", op.EndpointID, "attempts", op.Attempts)
		m.bus.Publish(events.Event{
			Type:       events.HealingCompleted,
			EndpointID: op.EndpointID,
			Details: map[string]any{
				"attempts": op.Attempts,
				"reason":   op.Reason,
			},
		})
		return
	}

	if op.Attempts >= maxHealingAttempts {
		m.logger.Error("healing abandoned",
			"endpoint", op.EndpointID,
			"attempts", op.Attempts,
			"error", err,
		)
		m.bus.Publish(events.Event{
			Type:       events.HealingCompleted,
			EndpointID: op.EndpointID,
			Err:        err,
			Details: map[string]any{
				"attempts":  op.Attempts,
				"reason":    op.Reason,
				"abandoned": true,
			},
		})
		return
	}

	m.logger.Warn("healing attempt failed",
		"endpoint", op.EndpointID,
		"attempt", op.Attempts,
		"error", err,
	)
	op.ScheduledAt = time.Now().Add(m.cfg.ReconnectInterval)
	m.mu.Lock()
	if !m.closed {
		m.healQueue = append(m.healQueue, op)
		m.healQueued[op.EndpointID] = struct{}{}
	}
	m.mu.Unlock()
}

// enqueueHealing schedules a remediation for the endpoint unless one is
// already queued or running, or the endpoint has burned through its
// reconnect budget. The budget resets when the endpoint recovers.
func (m *Manager) enqueueHealing(endpointID, reason string) {
	if !m.cfg.EnableAutoHealing {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	if _, ok := m.healQueued[endpointID]; ok {
		return
	}
	if _, ok := m.healInProgress[endpointID]; ok {
		return
	}
	if es, ok := m.endpoints[endpointID]; ok {
		if attempts := es.healAttemptCount(); attempts >= m.cfg.MaxReconnectAttempts {
			m.logger.Warn("reconnect budget exhausted, not scheduling healing",
				"endpoint", endpointID,
				"attempts", attempts,
			)
			return
		}
	}
	m.healQueue = append(m.healQueue, &model.HealingOperation{
		EndpointID:  endpointID,
		Reason:      reason,
		ScheduledAt: time.Now(),
	})
	m.healQueued[endpointID] = struct{}{}
	m.logger.Info("healing scheduled", "endpoint", endpointID, "reason", reason)
}
