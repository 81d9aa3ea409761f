// Package wsconn manages a single WebSocket session: a bounded outbound FIFO
// drained by a dedicated send loop, a receive loop that parses frames back
// into messages, optional ping/pong heartbeating, and a graceful close with
// a bounded drain.
package wsconn

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zizhongfeiyang/MaiM-Connect/pkg/logger"
	"github.com/zizhongfeiyang/MaiM-Connect/pkg/message"
)

var (
	// ErrConnClosed is returned when a message is enqueued on a connection
	// that is closing, closed, or already failed.
	ErrConnClosed = errors.New("connection closed")
	// ErrQueueFull is returned when the outbound queue is at capacity.
	// The bound is deliberate: during a prolonged disconnect the queue
	// refuses new messages instead of growing without limit.
	ErrQueueFull = errors.New("outbound queue full")
)

// Side distinguishes who initiated the session. Dialed connections are owned
// by a client endpoint that redials on failure; accepted connections simply
// terminate, the remote peer is responsible for reconnecting.
type Side int

const (
	Dialed Side = iota
	Accepted
)

// State is the lifecycle position of a connection or endpoint.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateReconnecting
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateReconnecting:
		return "reconnecting"
	case StateClosing:
		return "closing"
	}
	return "unknown"
}

// Stats are cumulative per-connection counters.
type Stats struct {
	Sent             uint64
	Received         uint64
	DroppedMalformed uint64
}

// Options configures a Conn. Zero values get defaults from New.
type Options struct {
	// QueueSize bounds the outbound FIFO. Default 256.
	QueueSize int
	// HeartbeatInterval enables protocol pings when positive.
	HeartbeatInterval time.Duration
	// PongTimeout is how long after a ping a pong may take.
	// Default 2x HeartbeatInterval.
	PongTimeout time.Duration
	// DrainTimeout bounds the best-effort flush during Close. Default 5s.
	DrainTimeout time.Duration
	// OnMessage is invoked for every successfully parsed inbound message.
	OnMessage func(*message.Message)
	// OnError is notified once when the transport fails. Invoked on its own
	// goroutine so it may call Close.
	OnError func(error)
	// Label tags log lines, e.g. a platform name or connection id.
	Label string
}

// Conn drives one live transport session. A Conn is single-use: after it
// fails or is closed it is discarded, reconnection means a fresh dial and a
// fresh Conn.
type Conn struct {
	tr   Transport
	side Side
	opts Options

	queue    chan *message.Message
	done     chan struct{}
	sendDone chan struct{}
	recvDone chan struct{}

	closed  atomic.Bool
	state   atomic.Int32
	errOnce sync.Once

	sent     atomic.Uint64
	received atomic.Uint64
	dropped  atomic.Uint64
}

// New wraps an already-established transport. Call Start to begin the loops.
func New(tr Transport, side Side, opts Options) *Conn {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = 5 * time.Second
	}
	if opts.PongTimeout <= 0 {
		opts.PongTimeout = 2 * opts.HeartbeatInterval
	}
	c := &Conn{
		tr:       tr,
		side:     side,
		opts:     opts,
		queue:    make(chan *message.Message, opts.QueueSize),
		done:     make(chan struct{}),
		sendDone: make(chan struct{}),
		recvDone: make(chan struct{}),
	}
	c.state.Store(int32(StateConnecting))
	return c
}

// Start transitions the connection to open and launches the send and
// receive loops.
func (c *Conn) Start() {
	c.state.Store(int32(StateOpen))
	go c.sendLoop()
	go c.recvLoop()
	if c.opts.HeartbeatInterval > 0 {
		c.armHeartbeat()
		go c.heartbeatLoop()
	}
}

// State returns the current lifecycle state.
func (c *Conn) State() State {
	return State(c.state.Load())
}

// Side returns which side of the session this connection is.
func (c *Conn) Side() Side {
	return c.side
}

// Stats returns a snapshot of the connection counters.
func (c *Conn) Stats() Stats {
	return Stats{
		Sent:             c.sent.Load(),
		Received:         c.received.Load(),
		DroppedMalformed: c.dropped.Load(),
	}
}

// Enqueue appends a message to the outbound FIFO. It never blocks: a closed
// or failed connection yields ErrConnClosed, a full queue ErrQueueFull.
func (c *Conn) Enqueue(m *message.Message) error {
	if c.closed.Load() || c.State() != StateOpen {
		return ErrConnClosed
	}
	select {
	case c.queue <- m:
		return nil
	case <-c.done:
		return ErrConnClosed
	default:
		return ErrQueueFull
	}
}

// Close signals both loops to stop, flushes queued messages bounded by the
// drain timeout, then closes the socket. Safe to call more than once.
func (c *Conn) Close(ctx context.Context) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.state.Store(int32(StateClosing))
	close(c.done)

	drain := time.NewTimer(c.opts.DrainTimeout)
	defer drain.Stop()
	select {
	case <-c.sendDone:
	case <-drain.C:
	case <-ctx.Done():
	}

	err := c.tr.Close()
	wait := time.NewTimer(c.opts.DrainTimeout)
	defer wait.Stop()
	select {
	case <-c.recvDone:
	case <-wait.C:
	case <-ctx.Done():
	}
	c.state.Store(int32(StateDisconnected))
	return err
}

// fail records the first transport error, moves the connection to
// disconnected, and notifies the owner exactly once.
func (c *Conn) fail(err error) {
	c.errOnce.Do(func() {
		c.state.Store(int32(StateDisconnected))
		logger.WarnCF("wsconn", "transport error", map[string]any{
			"conn":  c.opts.Label,
			"error": err.Error(),
		})
		if c.opts.OnError != nil {
			go c.opts.OnError(err)
		}
	})
}

func (c *Conn) sendLoop() {
	defer close(c.sendDone)
	for {
		select {
		case m := <-c.queue:
			if err := c.write(m); err != nil {
				c.fail(err)
				return
			}
		case <-c.done:
			c.drainQueue()
			return
		}
	}
}

// drainQueue flushes whatever is still queued at close time, bounded by the
// drain timeout.
func (c *Conn) drainQueue() {
	deadline := time.Now().Add(c.opts.DrainTimeout)
	for {
		if time.Now().After(deadline) {
			return
		}
		select {
		case m := <-c.queue:
			if err := c.write(m); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Conn) write(m *message.Message) error {
	data, err := message.Marshal(m)
	if err != nil {
		// A message that cannot serialize is dropped, not fatal.
		logger.WarnCF("wsconn", "dropping unserializable message", map[string]any{
			"conn":  c.opts.Label,
			"error": err.Error(),
		})
		return nil
	}
	if err := c.tr.WriteMessage(data); err != nil {
		return err
	}
	c.sent.Add(1)
	return nil
}

func (c *Conn) recvLoop() {
	defer close(c.recvDone)
	for {
		data, err := c.tr.ReadMessage()
		if err != nil {
			if !c.closed.Load() {
				c.fail(err)
			}
			return
		}
		m, err := message.Unmarshal(data)
		if err != nil {
			// Drop the single malformed frame; the connection stays open.
			c.dropped.Add(1)
			logger.WarnCF("wsconn", "dropping malformed frame", map[string]any{
				"conn":  c.opts.Label,
				"error": err.Error(),
			})
			continue
		}
		c.received.Add(1)
		if c.opts.OnMessage != nil {
			c.opts.OnMessage(m)
		}
	}
}

func (c *Conn) armHeartbeat() {
	deadline := c.opts.HeartbeatInterval + c.opts.PongTimeout
	c.tr.SetReadDeadline(time.Now().Add(deadline))
	c.tr.SetPongHandler(func(string) error {
		return c.tr.SetReadDeadline(time.Now().Add(deadline))
	})
}

// heartbeatLoop emits pings on the configured interval. A missed pong shows
// up as a read-deadline error on the receive loop.
func (c *Conn) heartbeatLoop() {
	ticker := time.NewTicker(c.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := c.tr.Ping(time.Now().Add(c.opts.PongTimeout)); err != nil {
				c.fail(err)
				return
			}
		case <-c.done:
			return
		}
	}
}
