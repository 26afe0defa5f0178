// Package realtime implements the persistent bidirectional event channel to
// the chat backend. One Channel is shared process-wide per session; every
// consumer registers handlers through On, which returns a disposer, so
// repeated mount/unmount cycles cannot accumulate listeners.
//
// Wire framing is one JSON object per websocket text message:
//
//	{"event": "...", "id": "...", "data": ...}
//
// id is set only on request frames and on the server's matching
// {"event":"ack"} reply. Events for a single channel are dispatched in
// receipt order; independent Request round-trips resolve in whatever order
// the server answers them.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// State describes the channel's connection state.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// ErrClosed is returned after Close.
var ErrClosed = errors.New("realtime: channel closed")

// ErrNotConnected is returned when emitting while the link is down.
var ErrNotConnected = errors.New("realtime: not connected")

const ackEvent = "ack"

type frame struct {
	Event string          `json:"event"`
	ID    string          `json:"id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}

// Channel is a reconnecting websocket event channel.
type Channel struct {
	url    string
	logger *zap.Logger
	dialer *websocket.Dialer

	writeMu sync.Mutex
	conn    *websocket.Conn

	mu        sync.RWMutex
	state     State
	handlers  map[string]map[int]func(json.RawMessage)
	stateSubs map[int]func(State)
	nextSub   int

	pendingMu sync.Mutex
	pending   map[string]chan frame

	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects the channel and starts the read/reconnect loop. The initial
// connection is made synchronously so the caller can join rooms immediately
// after; later drops reconnect in the background with backoff.
func Dial(ctx context.Context, url string, logger *zap.Logger) (*Channel, error) {
	c := &Channel{
		url:       url,
		logger:    logger,
		dialer:    &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		handlers:  make(map[string]map[int]func(json.RawMessage)),
		stateSubs: make(map[int]func(State)),
		pending:   make(map[string]chan frame),
		done:      make(chan struct{}),
	}

	conn, _, err := c.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	c.conn = conn
	c.setState(Connected)

	go c.run(conn)
	return c, nil
}

// State returns the current connection state.
func (c *Channel) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// On registers a handler for an inbound event and returns its disposer.
// The disposer is idempotent and must be called on scope exit.
func (c *Channel) On(event string, h func(data json.RawMessage)) (off func()) {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	if c.handlers[event] == nil {
		c.handlers[event] = make(map[int]func(json.RawMessage))
	}
	c.handlers[event][id] = h
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		if m := c.handlers[event]; m != nil {
			delete(m, id)
			if len(m) == 0 {
				delete(c.handlers, event)
			}
		}
		c.mu.Unlock()
	}
}

// OnState registers a connection-state observer and returns its disposer.
func (c *Channel) OnState(fn func(State)) (off func()) {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.stateSubs[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.stateSubs, id)
		c.mu.Unlock()
	}
}

// Emit sends a fire-and-forget event.
func (c *Channel) Emit(event string, payload any) error {
	return c.write(frame{Event: event}, payload)
}

// Request sends an event and waits for the server's ack. The returned raw
// payload is the ack data. An error ack, connection loss, context
// cancellation or Close all fail the round-trip.
func (c *Channel) Request(ctx context.Context, event string, payload any) (json.RawMessage, error) {
	id := uuid.New().String()
	ch := make(chan frame, 1)

	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()

	cleanup := func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}

	if err := c.write(frame{Event: event, ID: id}, payload); err != nil {
		cleanup()
		return nil, err
	}

	select {
	case f := <-ch:
		if f.Error != "" {
			return nil, fmt.Errorf("realtime: %s rejected: %s", event, f.Error)
		}
		return f.Data, nil
	case <-ctx.Done():
		cleanup()
		return nil, ctx.Err()
	case <-c.done:
		cleanup()
		return nil, ErrClosed
	}
}

// Close shuts the channel down and fails all in-flight requests.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		if c.conn != nil {
			_ = c.conn.Close()
		}
		c.writeMu.Unlock()
		c.failPending()
		c.setState(Disconnected)
	})
	return nil
}

func (c *Channel) write(f frame, payload any) error {
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal %s payload: %w", f.Event, err)
		}
		f.Data = raw
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	if c.conn == nil || c.State() != Connected {
		return ErrNotConnected
	}
	return c.conn.WriteJSON(f)
}

// run owns one connection at a time: it drains frames until the connection
// fails, then reconnects with backoff until Close.
func (c *Channel) run(conn *websocket.Conn) {
	for {
		c.readLoop(conn)

		select {
		case <-c.done:
			return
		default:
		}

		c.setState(Disconnected)
		c.failPending()
		c.logger.Warn("realtime channel dropped, reconnecting")

		var ok bool
		conn, ok = c.reconnect()
		if !ok {
			return
		}
	}
}

func (c *Channel) readLoop(conn *websocket.Conn) {
	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			select {
			case <-c.done:
			default:
				c.logger.Warn("realtime read failed", zap.Error(err))
			}
			_ = conn.Close()
			return
		}

		if f.Event == ackEvent && f.ID != "" {
			c.resolvePending(f)
			continue
		}
		c.dispatch(f)
	}
}

// dispatch runs handlers synchronously so events are observed in receipt
// order, per the single-channel ordering guarantee.
func (c *Channel) dispatch(f frame) {
	c.mu.RLock()
	m := c.handlers[f.Event]
	hs := make([]func(json.RawMessage), 0, len(m))
	for _, h := range m {
		hs = append(hs, h)
	}
	c.mu.RUnlock()

	if len(hs) == 0 {
		c.logger.Debug("unhandled realtime event", zap.String("event", f.Event))
		return
	}
	for _, h := range hs {
		h(f.Data)
	}
}

func (c *Channel) resolvePending(f frame) {
	c.pendingMu.Lock()
	ch, ok := c.pending[f.ID]
	if ok {
		delete(c.pending, f.ID)
	}
	c.pendingMu.Unlock()
	if ok {
		ch <- f
	}
}

func (c *Channel) failPending() {
	c.pendingMu.Lock()
	for id, ch := range c.pending {
		delete(c.pending, id)
		ch <- frame{ID: id, Error: "connection lost"}
	}
	c.pendingMu.Unlock()
}

func (c *Channel) reconnect() (*websocket.Conn, bool) {
	backoff := time.Second
	for {
		c.setState(Connecting)
		conn, _, err := c.dialer.Dial(c.url, nil)
		if err == nil {
			c.writeMu.Lock()
			c.conn = conn
			c.writeMu.Unlock()
			c.setState(Connected)
			c.logger.Info("realtime channel reconnected")
			return conn, true
		}

		c.setState(Disconnected)
		select {
		case <-c.done:
			return nil, false
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (c *Channel) setState(s State) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	subs := make([]func(State), 0, len(c.stateSubs))
	for _, fn := range c.stateSubs {
		subs = append(subs, fn)
	}
	c.mu.Unlock()

	for _, fn := range subs {
		fn(s)
	}
}
