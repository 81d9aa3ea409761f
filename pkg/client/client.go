// Package client maintains one outbound WebSocket session to a fixed remote
// endpoint, redialing forever with capped exponential backoff until stopped.
package client

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zizhongfeiyang/MaiM-Connect/pkg/logger"
	"github.com/zizhongfeiyang/MaiM-Connect/pkg/message"
	"github.com/zizhongfeiyang/MaiM-Connect/pkg/wsconn"
)

// ErrNotConnected is returned by Send when the session is not open. Sends
// never block waiting for a connection to come up.
var ErrNotConnected = errors.New("client not connected")

// Options configures a Client beyond its target.
type Options struct {
	// BackoffMin is the first retry delay. Default 1s.
	BackoffMin time.Duration
	// BackoffMax caps the exponential growth. Default 30s.
	BackoffMax time.Duration
	// HandshakeTimeout bounds the WebSocket dial. Default 10s.
	HandshakeTimeout time.Duration
	// Conn options are passed through to each session.
	Conn wsconn.Options
}

func (o *Options) withDefaults() {
	if o.BackoffMin <= 0 {
		o.BackoffMin = time.Second
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = 30 * time.Second
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 10 * time.Second
	}
}

// Client owns one Conn dialing a fixed URL. On connect failure or a forced
// error transition it retries with exponential backoff, indefinitely, until
// Stop.
type Client struct {
	url      string
	token    string
	platform string
	opts     Options

	// dial is swappable so tests can run the reconnect machinery without a
	// listening server.
	dial func(ctx context.Context) (wsconn.Transport, error)

	running atomic.Bool
	state   atomic.Int32

	mu        sync.Mutex
	conn      *wsconn.Conn
	onMessage func(*message.Message)

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a client for the given WebSocket URL. platform is advertised
// in the handshake so the server can index the connection; token, when
// non-empty, is attached as the bearer credential.
func New(url, platform, token string, opts Options) *Client {
	opts.withDefaults()
	c := &Client{
		url:      url,
		token:    token,
		platform: platform,
		opts:     opts,
	}
	c.dial = c.dialWebSocket
	c.state.Store(int32(wsconn.StateDisconnected))
	return c
}

// OnMessage registers the inbound callback. Must be called before Start.
func (c *Client) OnMessage(fn func(*message.Message)) {
	c.mu.Lock()
	c.onMessage = fn
	c.mu.Unlock()
}

// State reports the endpoint's lifecycle state.
func (c *Client) State() wsconn.State {
	return wsconn.State(c.state.Load())
}

// IsRunning reports whether the reconnect loop is active.
func (c *Client) IsRunning() bool {
	return c.running.Load()
}

// Start launches the connect/reconnect loop. It returns immediately; the
// first dial happens in the background.
func (c *Client) Start(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.run(runCtx)
	return nil
}

// Stop ends the reconnect loop and gracefully closes the live session.
// Idempotent.
func (c *Client) Stop(ctx context.Context) error {
	if !c.running.CompareAndSwap(true, false) {
		return nil
	}
	c.cancel()
	select {
	case <-c.done:
	case <-ctx.Done():
	}
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		conn.Close(ctx)
	}
	c.state.Store(int32(wsconn.StateDisconnected))
	return nil
}

// Send enqueues a message on the live session. It fails fast with
// ErrNotConnected when the session is not open.
func (c *Client) Send(m *message.Message) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil || conn.State() != wsconn.StateOpen {
		return ErrNotConnected
	}
	return conn.Enqueue(m)
}

func (c *Client) run(ctx context.Context) {
	defer close(c.done)
	backoff := c.opts.BackoffMin
	for {
		if ctx.Err() != nil {
			return
		}
		c.state.Store(int32(wsconn.StateConnecting))
		tr, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.WarnCF("client", "connect failed", map[string]any{
				"platform": c.platform,
				"url":      c.url,
				"retry_in": backoff.String(),
				"error":    err.Error(),
			})
			if !sleepCtx(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff, c.opts.BackoffMax)
			continue
		}

		connErr := make(chan error, 1)
		c.mu.Lock()
		onMessage := c.onMessage
		conn := wsconn.New(tr, wsconn.Dialed, withCallbacks(c.opts.Conn, c.platform, onMessage, connErr))
		c.conn = conn
		c.mu.Unlock()
		conn.Start()
		c.state.Store(int32(wsconn.StateOpen))
		backoff = c.opts.BackoffMin
		logger.InfoCF("client", "connected", map[string]any{
			"platform": c.platform,
			"url":      c.url,
		})

		select {
		case <-ctx.Done():
			return
		case err := <-connErr:
			c.state.Store(int32(wsconn.StateReconnecting))
			c.mu.Lock()
			c.conn = nil
			c.mu.Unlock()
			conn.Close(context.Background())
			logger.WarnCF("client", "connection lost", map[string]any{
				"platform": c.platform,
				"retry_in": backoff.String(),
				"error":    err.Error(),
			})
			if !sleepCtx(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff, c.opts.BackoffMax)
		}
	}
}

func withCallbacks(opts wsconn.Options, label string, onMessage func(*message.Message), connErr chan error) wsconn.Options {
	opts.Label = label
	opts.OnMessage = onMessage
	opts.OnError = func(err error) {
		select {
		case connErr <- err:
		default:
		}
	}
	return opts
}

func (c *Client) dialWebSocket(ctx context.Context) (wsconn.Transport, error) {
	dialer := websocket.Dialer{HandshakeTimeout: c.opts.HandshakeTimeout}
	header := http.Header{}
	header.Set("X-Platform", c.platform)
	if c.token != "" {
		header.Set("Authorization", c.token)
	}
	ws, resp, err := dialer.DialContext(ctx, c.url, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, errors.New("authentication rejected by server")
		}
		return nil, err
	}
	return wsconn.NewWebSocketTransport(ws), nil
}

// nextBackoff doubles the delay up to the cap.
func nextBackoff(cur, max time.Duration) time.Duration {
	next := cur * 2
	if next > max {
		return max
	}
	return next
}

// sleepCtx waits for d, returning false if the context ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
