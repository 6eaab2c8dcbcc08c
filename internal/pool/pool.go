// Package pool implements a bounded, reusable set of live connections to a
// single endpoint. It amortizes connection-establishment cost and enforces
// that the number of live handles never exceeds the configured maximum.
//
// Exhaustion policy: Acquire under a full pool enqueues a FIFO waiter that is
// woken by Release (the released handle is transferred directly) or by
// Discard (freed capacity lets the waiter create a fresh handle). The waiter
// gives up when its context expires. This is a deliberate departure from a
// fail-fast policy: pool pressure degrades to latency instead of errors.
package pool

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/a2z2k25/connmgr/internal/model"
)

// Errors returned by Acquire.
var (
	// ErrAcquireTimeout means no handle became available within the caller's
	// timeout while the pool was at capacity.
	ErrAcquireTimeout = errors.New("pool: acquire timeout")
	// ErrClosed means the pool has been shut down.
	ErrClosed = errors.New("pool: closed")
)

// Config sizes a pool for one endpoint.
type Config struct {
	EndpointID string
	// MinSize handles are pre-created by Initialize (best effort).
	MinSize int
	// MaxSize bounds live handles, including in-flight creations.
	MaxSize int
	// AcquireTimeout bounds Acquire when the caller's context carries no
	// deadline of its own.
	AcquireTimeout time.Duration
}

// Stats is a point-in-time view of pool occupancy.
type Stats struct {
	Total     int `json:"total"`
	Available int `json:"available"`
	Active    int `json:"active"`
	Waiting   int `json:"waiting"`
}

// Pool owns the idle connections of one endpoint. Checked-out connections are
// tracked in the active set until released or discarded.
//
// Invariants: available and active are disjoint, and
// len(conns) + creating <= MaxSize.
type Pool struct {
	cfg     Config
	factory model.Factory
	logger  *slog.Logger

	mu        sync.Mutex
	conns     map[string]*model.Connection // every tracked handle, idle or active
	available []*model.Connection          // idle, ready for reuse (LIFO)
	active    map[string]*model.Connection // checked out
	waiters   []chan *model.Connection     // FIFO; nil delivery = capacity freed, retry
	creating  int                          // factory calls in flight, reserved against MaxSize
	closed    bool
}

// New creates a pool. The factory is already bound to the pool's endpoint.
func New(cfg Config, factory model.Factory, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 1
	}
	if cfg.MinSize > cfg.MaxSize {
		cfg.MinSize = cfg.MaxSize
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = 5 * time.Second
	}
	return &Pool{
		cfg:     cfg,
		factory: factory,
		logger:  logger.With("endpoint", cfg.EndpointID),
		conns:   make(map[string]*model.Connection),
		active:  make(map[string]*model.Connection),
	}
}

// Initialize pre-creates MinSize handles. Factory failures during warm-up are
// logged and tolerated; the pool fills up lazily on demand instead.
func (p *Pool) Initialize(ctx context.Context) error {
	for i := 0; i < p.cfg.MinSize; i++ {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return ErrClosed
		}
		if p.size() >= p.cfg.MaxSize {
			p.mu.Unlock()
			break
		}
		p.creating++
		p.mu.Unlock()

		c, err := p.dial(ctx)

		p.mu.Lock()
		p.creating--
		if err != nil {
			p.mu.Unlock()
			p.logger.Warn("pool warm-up connection failed", "error", err)
			continue
		}
		p.conns[c.ID()] = c
		p.available = append(p.available, c)
		p.mu.Unlock()
	}
	return nil
}

// Acquire returns an idle handle, creates a new one when below MaxSize, or
// waits for a release. Bounded by ctx or by the configured AcquireTimeout.
func (p *Pool) Acquire(ctx context.Context) (*model.Connection, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.AcquireTimeout)
		defer cancel()
	}

	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrClosed
		}

		// Reuse an idle handle.
		if n := len(p.available); n > 0 {
			c := p.available[n-1]
			p.available = p.available[:n-1]
			p.active[c.ID()] = c
			p.mu.Unlock()
			c.Touch()
			return c, nil
		}

		// Room to grow: reserve a slot and dial outside the lock.
		if p.size() < p.cfg.MaxSize {
			p.creating++
			p.mu.Unlock()

			c, err := p.dial(ctx)

			p.mu.Lock()
			p.creating--
			if err != nil {
				p.mu.Unlock()
				if errors.Is(err, context.DeadlineExceeded) {
					return nil, ErrAcquireTimeout
				}
				return nil, err
			}
			if p.closed {
				p.mu.Unlock()
				c.Handle().Close()
				return nil, ErrClosed
			}
			p.conns[c.ID()] = c
			p.active[c.ID()] = c
			p.mu.Unlock()
			return c, nil
		}

		// At capacity: queue behind releases.
		w := make(chan *model.Connection, 1)
		p.waiters = append(p.waiters, w)
		p.mu.Unlock()

		select {
		case c := <-w:
			if c == nil {
				continue // capacity freed; retry the fast paths
			}
			c.Touch()
			return c, nil

		case <-ctx.Done():
			if !p.removeWaiter(w) {
				// A releaser already popped this waiter: the handoff is
				// committed and will land in the buffered channel. Take
				// delivery and hand the connection back so it is not
				// stranded in the active set.
				if c := <-w; c != nil {
					p.Release(c)
				}
			}
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, ErrAcquireTimeout
			}
			return nil, ctx.Err()
		}
	}
}

// Release returns a checked-out handle to the idle set, or hands it directly
// to the oldest waiter. Releasing a handle the pool is not tracking as active
// is a no-op.
func (p *Pool) Release(c *model.Connection) {
	if c == nil {
		return
	}

	p.mu.Lock()
	if _, ok := p.active[c.ID()]; !ok {
		p.mu.Unlock()
		return
	}

	if p.closed {
		delete(p.active, c.ID())
		delete(p.conns, c.ID())
		p.mu.Unlock()
		c.Handle().Close()
		return
	}

	c.Touch()
	if w := p.popWaiter(); w != nil {
		// Ownership transfers to the waiter; the handle stays active.
		p.mu.Unlock()
		w <- c
		return
	}

	delete(p.active, c.ID())
	p.available = append(p.available, c)
	p.mu.Unlock()
}

// Discard drops a handle from pool tracking without closing it; the caller
// owns the close. Used for handles that errored and must not be reused.
func (p *Pool) Discard(c *model.Connection) {
	if c == nil {
		return
	}

	p.mu.Lock()
	if _, ok := p.conns[c.ID()]; !ok {
		p.mu.Unlock()
		return
	}
	delete(p.conns, c.ID())
	delete(p.active, c.ID())
	for i, idle := range p.available {
		if idle.ID() == c.ID() {
			p.available = append(p.available[:i], p.available[i+1:]...)
			break
		}
	}
	w := p.popWaiter()
	p.mu.Unlock()

	if w != nil {
		w <- nil // capacity freed; waiter retries
	}
}

// ReapIdle closes idle handles unused for longer than maxIdle and returns
// them so the caller can emit close events.
func (p *Pool) ReapIdle(maxIdle time.Duration) []*model.Connection {
	p.mu.Lock()
	var keep, reaped []*model.Connection
	for _, c := range p.available {
		if c.IdleFor() > maxIdle {
			reaped = append(reaped, c)
			delete(p.conns, c.ID())
		} else {
			keep = append(keep, c)
		}
	}
	p.available = keep
	p.mu.Unlock()

	for _, c := range reaped {
		if err := c.Handle().Close(); err != nil {
			p.logger.Warn("closing idle connection", "conn_id", c.ID(), "error", err)
		}
		c.SetState(model.StateDisconnected)
	}
	return reaped
}

// GetStats returns current occupancy.
func (p *Pool) GetStats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Total:     len(p.conns) + p.creating,
		Available: len(p.available),
		Active:    len(p.active),
		Waiting:   len(p.waiters),
	}
}

// Shutdown closes every tracked handle and wakes all waiters, which then fail
// with ErrClosed. Idempotent.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	conns := make([]*model.Connection, 0, len(p.conns))
	for _, c := range p.conns {
		conns = append(conns, c)
	}
	waiters := p.waiters
	p.waiters = nil
	p.conns = make(map[string]*model.Connection)
	p.available = nil
	p.active = make(map[string]*model.Connection)
	p.mu.Unlock()

	for _, w := range waiters {
		w <- nil
	}
	for _, c := range conns {
		if err := c.Handle().Close(); err != nil {
			p.logger.Warn("closing pooled connection", "conn_id", c.ID(), "error", err)
		}
		c.SetState(model.StateDisconnected)
	}
}

// size must be called with p.mu held.
func (p *Pool) size() int {
	return len(p.conns) + p.creating
}

// popWaiter must be called with p.mu held.
func (p *Pool) popWaiter() chan *model.Connection {
	if len(p.waiters) == 0 {
		return nil
	}
	w := p.waiters[0]
	p.waiters = p.waiters[1:]
	return w
}

// removeWaiter unregisters a timed-out waiter. It returns false when the
// waiter was already popped by a releaser, which means a handoff is committed
// and a delivery is in flight on the waiter's channel.
func (p *Pool) removeWaiter(w chan *model.Connection) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, q := range p.waiters {
		if q == w {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			return true
		}
	}
	return false
}

// dial runs the factory and wraps the handle. If the caller's context expires
// while the factory is still in flight, a late successful handle is adopted
// back into the pool (or closed when there is no room) instead of leaking.
func (p *Pool) dial(ctx context.Context) (*model.Connection, error) {
	type result struct {
		h   model.Handle
		err error
	}
	ch := make(chan result, 1)
	start := time.Now()
	go func() {
		h, err := p.factory(ctx)
		ch <- result{h: h, err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, r.err
		}
		c := model.NewConnection(p.cfg.EndpointID, r.h)
		c.SetLatency(time.Since(start))
		c.SetState(model.StateConnected)
		return c, nil

	case <-ctx.Done():
		go func() {
			r := <-ch
			if r.err != nil {
				return
			}
			c := model.NewConnection(p.cfg.EndpointID, r.h)
			c.SetLatency(time.Since(start))
			c.SetState(model.StateConnected)
			p.adopt(c)
		}()
		return nil, ctx.Err()
	}
}

// adopt tracks a handle whose acquisition timed out but whose factory call
// eventually succeeded.
func (p *Pool) adopt(c *model.Connection) {
	p.mu.Lock()
	if p.closed || len(p.conns) >= p.cfg.MaxSize {
		p.mu.Unlock()
		c.Handle().Close()
		c.SetState(model.StateDisconnected)
		return
	}
	p.conns[c.ID()] = c
	if w := p.popWaiter(); w != nil {
		p.active[c.ID()] = c
		p.mu.Unlock()
		w <- c
		return
	}
	p.available = append(p.available, c)
	p.mu.Unlock()
	p.logger.Debug("adopted late connection", "conn_id", c.ID())
}
