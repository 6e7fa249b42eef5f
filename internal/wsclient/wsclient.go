// Package wsclient generalizes the teacher's WSFeed (internal/exchange/ws.go)
// from two hardcoded Polymarket channels into a venue-agnostic WebSocket
// client: single connection, ordered subscription replay across reconnects,
// idle-triggered application heartbeats, and a single dispatch handler.
package wsclient

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// State is a position in the reconnect state machine described in the
// component design: DISCONNECTED -> CONNECTING -> CONNECTED -> BACKOFF ->
// CONNECTING ... ; DISCONNECTED is terminal once Disconnect is called.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateBackoff
)

// Descriptor is an opaque, venue-specific subscription payload. Key
// identifies it for dedup against the stored subscription list.
type Descriptor interface {
	Key() string
}

// Codec encodes the venue-specific wire format for subscribe, unsubscribe,
// resubscribe-after-reconnect, and heartbeat frames.
type Codec interface {
	EncodeSubscribe(descs []Descriptor) ([]byte, error)
	EncodeUnsubscribe(descs []Descriptor) ([]byte, error)
	// EncodeResubscribe builds the payload replayed after a reconnect. Many
	// venues want this identical to EncodeSubscribe but some require a
	// distinguishing flag, hence a separate hook.
	EncodeResubscribe(descs []Descriptor) ([]byte, error)
	// EncodePing builds an application-level heartbeat frame. Return nil to
	// use the WebSocket protocol-level ping control frame instead.
	EncodePing() []byte
}

// Handler receives every frame read off the connection, in arrival order.
// It must not block — long work belongs on the TaskManager.
type Handler func(frame []byte)

// Config bounds one Client's reconnect and heartbeat behavior.
type Config struct {
	URL              string
	PingIdleTimeout  time.Duration // silence duration before we send a heartbeat
	PingReplyTimeout time.Duration // time to wait for any frame after a heartbeat
	ReconnectDelay   time.Duration
}

// Client maintains one WebSocket connection to a venue, replaying
// subscriptions after every reconnect and dispatching frames to a single
// handler.
type Client struct {
	cfg     Config
	codec   Codec
	handler Handler
	logger  *slog.Logger

	state atomic.Int32

	connMu sync.Mutex
	conn   *websocket.Conn

	subMu    sync.Mutex
	subOrder []string
	subs     map[string]Descriptor
	pending  []Descriptor // subscribes issued while BACKOFF/CONNECTING, sent after resubscribe

	lastFrameAt atomic.Int64 // unix ms of the last frame received

	connectedOnce chan struct{}
	runOnce       sync.Once
	cancelRun     context.CancelFunc
}

// New constructs a Client. Connect must be called to open the connection.
func New(cfg Config, codec Codec, handler Handler, logger *slog.Logger) *Client {
	c := &Client{
		cfg:           cfg,
		codec:         codec,
		handler:       handler,
		logger:        logger.With("component", "wsclient", "url", cfg.URL),
		subs:          make(map[string]Descriptor),
		connectedOnce: make(chan struct{}),
	}
	c.state.Store(int32(StateDisconnected))
	return c
}

// State returns the client's current reconnect-state-machine position.
func (c *Client) State() State {
	return State(c.state.Load())
}

// Connect starts the connection loop if not already started, and blocks
// until the transport is ready or ctx is cancelled. Calling it again after
// the first successful connect is a no-op that returns immediately.
func (c *Client) Connect(ctx context.Context) error {
	c.runOnce.Do(func() {
		runCtx, cancel := context.WithCancel(context.Background())
		c.cancelRun = cancel
		go c.run(runCtx)
	})

	select {
	case <-c.connectedOnce:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Disconnect ends the connection loop cooperatively. DISCONNECTED becomes
// terminal: the client will not reconnect again.
func (c *Client) Disconnect() error {
	if c.cancelRun != nil {
		c.cancelRun()
	}
	c.state.Store(int32(StateDisconnected))
	return c.closeConn()
}

// Send serializes and transmits payload as a text frame. Errors if not
// currently connected.
func (c *Client) Send(payload []byte) error {
	return c.writeText(payload)
}

// Subscribe records descs (deduplicated against the stored list) and
// transmits a subscribe request if connected. If not connected, the new
// descriptors are queued and sent as part of the post-reconnect replay,
// after the resubscribe payload, per the ordering guarantee.
func (c *Client) Subscribe(descs []Descriptor) error {
	fresh := c.addSubs(descs)
	if len(fresh) == 0 {
		return nil
	}
	if c.State() != StateConnected {
		c.subMu.Lock()
		c.pending = append(c.pending, fresh...)
		c.subMu.Unlock()
		return nil
	}
	payload, err := c.codec.EncodeSubscribe(fresh)
	if err != nil {
		return fmt.Errorf("wsclient: encode subscribe: %w", err)
	}
	return c.writeText(payload)
}

// Unsubscribe removes descs from the stored list and transmits an
// unsubscribe request if connected.
func (c *Client) Unsubscribe(descs []Descriptor) error {
	removed := c.removeSubs(descs)
	if len(removed) == 0 {
		return nil
	}
	if c.State() != StateConnected {
		return nil
	}
	payload, err := c.codec.EncodeUnsubscribe(removed)
	if err != nil {
		return fmt.Errorf("wsclient: encode unsubscribe: %w", err)
	}
	return c.writeText(payload)
}

func (c *Client) addSubs(descs []Descriptor) []Descriptor {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	fresh := make([]Descriptor, 0, len(descs))
	for _, d := range descs {
		if _, ok := c.subs[d.Key()]; ok {
			continue
		}
		c.subs[d.Key()] = d
		c.subOrder = append(c.subOrder, d.Key())
		fresh = append(fresh, d)
	}
	return fresh
}

func (c *Client) removeSubs(descs []Descriptor) []Descriptor {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	removed := make([]Descriptor, 0, len(descs))
	for _, d := range descs {
		if _, ok := c.subs[d.Key()]; !ok {
			continue
		}
		delete(c.subs, d.Key())
		for i, k := range c.subOrder {
			if k == d.Key() {
				c.subOrder = append(c.subOrder[:i], c.subOrder[i+1:]...)
				break
			}
		}
		removed = append(removed, d)
	}
	return removed
}

func (c *Client) orderedSubs() []Descriptor {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	out := make([]Descriptor, 0, len(c.subOrder))
	for _, k := range c.subOrder {
		out = append(out, c.subs[k])
	}
	return out
}

func (c *Client) takePending() []Descriptor {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	p := c.pending
	c.pending = nil
	return p
}

// run drives the reconnect state machine until ctx is cancelled.
func (c *Client) run(ctx context.Context) {
	delay := c.cfg.ReconnectDelay
	first := true

	for {
		if ctx.Err() != nil {
			return
		}
		c.state.Store(int32(StateConnecting))

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.URL, nil)
		if err != nil {
			c.logger.Warn("dial failed", "error", err)
			c.state.Store(int32(StateBackoff))
			if !sleep(ctx, delay) {
				return
			}
			continue
		}

		c.connMu.Lock()
		c.conn = conn
		c.connMu.Unlock()
		c.lastFrameAt.Store(time.Now().UnixMilli())

		if err := c.resubscribeAndFlush(); err != nil {
			c.logger.Error("resubscribe failed", "error", err)
			c.closeConn()
			c.state.Store(int32(StateBackoff))
			if !sleep(ctx, delay) {
				return
			}
			continue
		}

		c.state.Store(int32(StateConnected))
		if first {
			close(c.connectedOnce)
			first = false
		}
		c.logger.Info("connected")

		heartbeatCtx, heartbeatCancel := context.WithCancel(ctx)
		go c.heartbeatLoop(heartbeatCtx, conn)

		readErr := c.readLoop(ctx, conn)
		heartbeatCancel()
		c.closeConn()

		if ctx.Err() != nil {
			return
		}
		c.logger.Warn("disconnected, reconnecting", "error", readErr, "delay", delay)
		c.state.Store(int32(StateBackoff))
		if !sleep(ctx, delay) {
			return
		}
	}
}

// resubscribeAndFlush sends the full subscription list replay, then any
// subscribe requests queued while the client was not CONNECTED — the
// ordering guarantee from the component design.
func (c *Client) resubscribeAndFlush() error {
	subs := c.orderedSubs()
	if len(subs) > 0 {
		payload, err := c.codec.EncodeResubscribe(subs)
		if err != nil {
			return fmt.Errorf("encode resubscribe: %w", err)
		}
		if err := c.writeText(payload); err != nil {
			return fmt.Errorf("send resubscribe: %w", err)
		}
	}

	pending := c.takePending()
	if len(pending) > 0 {
		payload, err := c.codec.EncodeSubscribe(pending)
		if err != nil {
			return fmt.Errorf("encode queued subscribe: %w", err)
		}
		if err := c.writeText(payload); err != nil {
			return fmt.Errorf("send queued subscribe: %w", err)
		}
	}
	return nil
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) error {
	deadline := c.cfg.PingIdleTimeout + c.cfg.PingReplyTimeout
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if deadline > 0 {
			conn.SetReadDeadline(time.Now().Add(deadline))
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		c.lastFrameAt.Store(time.Now().UnixMilli())
		c.dispatch(msg)
	}
}

func (c *Client) dispatch(frame []byte) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("handler panicked", "panic", r)
		}
	}()
	c.handler(frame)
}

// heartbeatLoop watches for PingIdleTimeout of silence and emits an
// application-level ping; if no frame arrives within PingReplyTimeout after
// that, it closes the connection to force a reconnect.
func (c *Client) heartbeatLoop(ctx context.Context, conn *websocket.Conn) {
	if c.cfg.PingIdleTimeout <= 0 {
		return
	}
	ticker := time.NewTicker(c.cfg.PingIdleTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			idleSince := time.Since(time.UnixMilli(c.lastFrameAt.Load()))
			if idleSince < c.cfg.PingIdleTimeout {
				continue
			}
			pingSentAt := time.Now()
			if err := c.sendPing(conn); err != nil {
				c.logger.Warn("heartbeat ping failed", "error", err)
				conn.Close()
				return
			}

			replyDeadline := pingSentAt.Add(c.cfg.PingReplyTimeout)
			gotReply := false
			for time.Now().Before(replyDeadline) {
				select {
				case <-ctx.Done():
					return
				case <-time.After(50 * time.Millisecond):
				}
				if time.UnixMilli(c.lastFrameAt.Load()).After(pingSentAt) {
					gotReply = true
					break
				}
			}
			if !gotReply {
				c.logger.Warn("no heartbeat reply, forcing reconnect")
				conn.Close()
				return
			}
		}
	}
}

func (c *Client) sendPing(conn *websocket.Conn) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if payload := c.codec.EncodePing(); payload != nil {
		return conn.WriteMessage(websocket.TextMessage, payload)
	}
	return conn.WriteMessage(websocket.PingMessage, nil)
}

func (c *Client) writeText(payload []byte) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("wsclient: not connected")
	}
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

func (c *Client) closeConn() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
