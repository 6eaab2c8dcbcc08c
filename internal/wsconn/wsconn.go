// Package wsconn provides a WebSocket transport for the connection manager:
// a connection factory, a reachability prober, and a latency pinger built on
// gorilla/websocket.
package wsconn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/a2z2k25/connmgr/internal/model"
)

var (
	ErrClosed      = errors.New("websocket closed")
	ErrPingTimeout = errors.New("ping timeout")
)

// Options tune the dialer shared by the factory and the prober.
type Options struct {
	// HandshakeTimeout bounds the WebSocket upgrade. Defaults to 10s.
	HandshakeTimeout time.Duration
	// WriteTimeout is the deadline applied to control-frame writes.
	// Defaults to 5s.
	WriteTimeout time.Duration
	// Header is sent with every dial. Optional.
	Header http.Header
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

func (o *Options) applyDefaults() {
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 10 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

func (o Options) dialer() *websocket.Dialer {
	return &websocket.Dialer{HandshakeTimeout: o.HandshakeTimeout}
}

// Conn is a live WebSocket connection. It satisfies model.Handle and keeps a
// background read loop running so control frames (pings, pongs, close) are
// processed even when no application reads happen.
type Conn struct {
	ws           *websocket.Conn
	logger       *slog.Logger
	writeTimeout time.Duration

	writeMu sync.Mutex
	pong    chan string
	done    chan struct{}

	mu     sync.Mutex
	closed bool
}

func newConn(ws *websocket.Conn, opts Options) *Conn {
	c := &Conn{
		ws:           ws,
		logger:       opts.Logger,
		writeTimeout: opts.WriteTimeout,
		pong:         make(chan string, 1),
		done:         make(chan struct{}),
	}

	ws.SetPingHandler(func(data string) error {
		return ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(c.writeTimeout))
	})
	ws.SetPongHandler(func(data string) error {
		select {
		case c.pong <- data:
		default:
		}
		return nil
	})

	go c.readLoop()
	return c
}

// readLoop drives the underlying reader so ping/pong handlers fire. Data
// frames are discarded; these connections exist for transport health, not
// application traffic.
func (c *Conn) readLoop() {
	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			select {
			case <-c.done:
			default:
				c.logger.Debug("websocket read loop ended", "error", err)
			}
			return
		}
	}
}

// Ping sends a ping frame and waits for the matching pong, returning the
// round-trip time.
func (c *Conn) Ping(ctx context.Context) (time.Duration, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0, ErrClosed
	}
	c.mu.Unlock()

	// Drain any stale pong left from a previous timed-out ping.
	select {
	case <-c.pong:
	default:
	}

	payload := fmt.Sprintf("%d", time.Now().UnixNano())
	start := time.Now()

	c.writeMu.Lock()
	err := c.ws.WriteControl(websocket.PingMessage, []byte(payload), time.Now().Add(c.writeTimeout))
	c.writeMu.Unlock()
	if err != nil {
		return 0, err
	}

	select {
	case <-c.pong:
		return time.Since(start), nil
	case <-c.done:
		return 0, ErrClosed
	case <-ctx.Done():
		return 0, fmt.Errorf("%w: %v", ErrPingTimeout, ctx.Err())
	}
}

// Close sends a close frame and tears the connection down. Safe to call more
// than once.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	close(c.done)

	c.writeMu.Lock()
	_ = c.ws.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(c.writeTimeout),
	)
	c.writeMu.Unlock()

	return c.ws.Close()
}

// Factory returns a connection factory that dials each endpoint's URL.
func Factory(opts Options) func(ctx context.Context, ep *model.Endpoint) (model.Handle, error) {
	opts.applyDefaults()
	dialer := opts.dialer()
	return func(ctx context.Context, ep *model.Endpoint) (model.Handle, error) {
		ws, resp, err := dialer.DialContext(ctx, ep.URL, opts.Header)
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", ep.URL, err)
		}
		opts.Logger.Debug("websocket connected", "endpoint", ep.ID, "url", ep.URL)
		return newConn(ws, opts), nil
	}
}

// Prober returns a reachability probe that performs a full dial-and-close
// against the endpoint's health-check URL, falling back to its main URL.
func Prober(opts Options) model.Prober {
	opts.applyDefaults()
	dialer := opts.dialer()
	return func(ctx context.Context, ep *model.Endpoint) error {
		url := ep.HealthCheckURL
		if url == "" {
			url = ep.URL
		}
		ws, resp, err := dialer.DialContext(ctx, url, opts.Header)
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		if err != nil {
			return fmt.Errorf("probe %s: %w", url, err)
		}
		_ = ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(opts.WriteTimeout),
		)
		return ws.Close()
	}
}

// Pinger returns a latency pinger for connections produced by Factory.
// Handles of any other type report their last known latency unchanged.
func Pinger() model.Pinger {
	return func(ctx context.Context, c *model.Connection) (time.Duration, error) {
		ws, ok := c.Handle().(*Conn)
		if !ok {
			return c.Latency(), nil
		}
		return ws.Ping(ctx)
	}
}
