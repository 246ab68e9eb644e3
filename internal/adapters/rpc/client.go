// Package rpc implements the request/response channel to the system of
// record. Requests and responses share one websocket connection and are
// matched by a per-call correlation id.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/okian/raidsync/internal/domain/model"
	"github.com/okian/raidsync/pkg/logger"
	"github.com/okian/raidsync/pkg/metrics"
)

// Default client configuration constants.
const (
	defaultTimeout           = 5 * time.Second
	defaultMaxPending        = 1024
	defaultReconnectInterval = 5 * time.Second
	closeGracePeriod         = time.Second
)

// Client is a correlated RPC channel over a single websocket connection.
type Client struct {
	url               string
	header            http.Header
	dialer            *websocket.Dialer
	timeout           time.Duration
	maxPending        int64
	reconnectInterval time.Duration
	log               logger.Logger

	waiters  *xsync.Map[string, chan Envelope]
	inflight atomic.Int64

	mu      sync.Mutex
	conn    *websocket.Conn
	cancel  context.CancelFunc
	stopped bool
	wg      sync.WaitGroup

	writeMu   sync.Mutex
	connected atomic.Bool
}

// New creates a client for the websocket endpoint at url. Call Start to
// connect.
func New(url string, opts ...Option) *Client {
	c := &Client{
		url:               url,
		header:            http.Header{},
		dialer:            websocket.DefaultDialer,
		timeout:           defaultTimeout,
		maxPending:        defaultMaxPending,
		reconnectInterval: defaultReconnectInterval,
		waiters:           xsync.NewMap[string, chan Envelope](),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = logger.Get().Named("rpc").With(logger.String("url", url))
	return c
}

// Start dials the peer. A failed initial dial is logged and retried in the
// background, so Start only fails when the client was already stopped.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return ErrNotConnected
	}
	if c.cancel != nil {
		c.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel
	c.mu.Unlock()

	if err := c.dial(runCtx); err != nil {
		c.log.Warn(ctx, "initial dial failed, reconnecting in background", logger.Error(err))
		c.spawn(func() { c.reconnect(runCtx) })
	}
	return nil
}

// Connected reports whether a live connection is attached.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// Pending returns the number of calls waiting for a response.
func (c *Client) Pending() int {
	return c.waiters.Size()
}

// Send writes cmd and waits for the matching response.
func (c *Client) Send(ctx context.Context, cmd Command) (Response, error) {
	start := time.Now()
	resp, err := c.send(ctx, cmd)
	kind := cmd.Kind.String()
	metrics.RecordRPCCall(kind, outcome(err))
	metrics.RecordRPCLatency(kind, float64(time.Since(start).Milliseconds()))
	return resp, err
}

func (c *Client) send(ctx context.Context, cmd Command) (Response, error) {
	if _, ok := decoders[cmd.Kind]; !ok {
		return Response{}, fmt.Errorf("%w: %d", ErrUnknownKind, int(cmd.Kind))
	}
	if c.inflight.Add(1) > c.maxPending {
		c.inflight.Add(-1)
		return Response{}, ErrTableFull
	}
	defer func() {
		metrics.UpdateRPCWaiters(int(c.inflight.Add(-1)))
	}()

	id := uuid.NewString()
	ch := make(chan Envelope, 1)
	c.waiters.Store(id, ch)
	defer c.waiters.Delete(id)
	metrics.UpdateRPCWaiters(int(c.inflight.Load()))

	if err := c.write(id, cmd); err != nil {
		return Response{}, err
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case env := <-ch:
		return c.decode(cmd.Kind, env)
	case <-timer.C:
		return Response{}, fmt.Errorf("%w: %s after %s", ErrTimeout, cmd.Kind, c.timeout)
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}

// Notify writes cmd without waiting for a response.
func (c *Client) Notify(ctx context.Context, cmd Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, ok := decoders[cmd.Kind]; !ok {
		return fmt.Errorf("%w: %d", ErrUnknownKind, int(cmd.Kind))
	}
	err := c.write(uuid.NewString(), cmd)
	if err != nil {
		metrics.RecordRPCCall(cmd.Kind.String(), "error")
		return err
	}
	metrics.RecordRPCCall(cmd.Kind.String(), "sent")
	return nil
}

// IdentityDetails fetches the authoritative view of identityID.
func (c *Client) IdentityDetails(ctx context.Context, identityID string) (model.Identity, error) {
	resp, err := c.Send(ctx, Command{Kind: KindIdentityDetails, Payload: IdentityDetailsRequest{IdentityID: identityID}})
	if err != nil {
		return model.Identity{}, err
	}
	return resp.Value.(model.Identity), nil
}

// SystemConfig fetches the global ingestion configuration.
func (c *Client) SystemConfig(ctx context.Context) (model.SystemConfig, error) {
	resp, err := c.Send(ctx, Command{Kind: KindSystemConfig, Payload: SystemConfigRequest{}})
	if err != nil {
		return model.SystemConfig{}, err
	}
	return resp.Value.(model.SystemConfig), nil
}

// PendingCreated announces a new pending aggregation.
func (c *Client) PendingCreated(ctx context.Context, recordID string, association model.Association) error {
	return c.Notify(ctx, Command{
		Kind:    KindPendingCreated,
		Payload: PendingCreatedNotice{RecordID: recordID, Association: association.String()},
	})
}

// Stop closes the connection with a normal closure, ends reconnection and
// waits for background goroutines. Calls still waiting time out.
func (c *Client) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	conn := c.conn
	c.conn = nil
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		c.writeMu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGracePeriod))
		c.writeMu.Unlock()
		_ = conn.Close()
	}
	c.setConnected(false)
	c.wg.Wait()
}

func (c *Client) dial(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	conn, _, err := c.dialer.DialContext(dialCtx, c.url, c.header)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.url, err)
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		_ = conn.Close()
		return ErrNotConnected
	}
	c.conn = conn
	c.wg.Add(1)
	c.mu.Unlock()

	c.setConnected(true)
	c.log.Info(ctx, "connected")
	go c.readLoop(ctx, conn)
	return nil
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer c.wg.Done()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.detach(conn)
			if c.isStopped() || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				c.log.Info(ctx, "connection closed", logger.Error(err))
				return
			}
			c.log.Warn(ctx, "connection lost, reconnecting", logger.Error(err))
			c.spawn(func() { c.reconnect(ctx) })
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.log.Warn(ctx, "discarding undecodable frame", logger.Error(err))
			continue
		}
		ch, ok := c.waiters.LoadAndDelete(env.ID)
		if !ok {
			c.log.Debug(ctx, "response without waiter", logger.String("id", env.ID), logger.String("kind", env.Kind.String()))
			continue
		}
		ch <- env
	}
}

func (c *Client) reconnect(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.reconnectInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		metrics.RecordRPCReconnect()
		err := c.dial(ctx)
		if err == nil {
			return
		}
		if c.isStopped() {
			return
		}
		c.log.Debug(ctx, "redial failed", logger.Error(err))
	}
}

// spawn runs fn on a tracked goroutine unless the client is stopped.
func (c *Client) spawn(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	c.wg.Add(1)
	go fn()
}

func (c *Client) write(id string, cmd Command) error {
	env := Envelope{ID: id, Kind: cmd.Kind}
	if cmd.Payload != nil {
		raw, err := json.Marshal(cmd.Payload)
		if err != nil {
			return fmt.Errorf("encode %s payload: %w", cmd.Kind, err)
		}
		env.Payload = raw
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode %s envelope: %w", cmd.Kind, err)
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(c.timeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("%w: write %s: %v", ErrNotConnected, cmd.Kind, err)
	}
	return nil
}

func (c *Client) decode(kind Kind, env Envelope) (Response, error) {
	if env.OK == nil || !*env.OK {
		text := env.Error
		if text == "" {
			text = "unspecified failure"
		}
		return Response{}, fmt.Errorf("%w: %s: %s", ErrRemote, kind, text)
	}
	if env.Kind != kind {
		return Response{}, fmt.Errorf("%w: expected %s, got %s", ErrBadResponse, kind, env.Kind)
	}
	value, err := Decode(kind, env.Payload)
	if err != nil {
		return Response{}, err
	}
	return Response{ID: env.ID, Kind: kind, Value: value}, nil
}

func (c *Client) detach(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	_ = conn.Close()
	c.setConnected(false)
}

func (c *Client) isStopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

func (c *Client) setConnected(v bool) {
	c.connected.Store(v)
	metrics.UpdateRPCConnected(v)
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrTableFull):
		return "table_full"
	case errors.Is(err, ErrNotConnected):
		return "not_connected"
	case errors.Is(err, ErrRemote):
		return "remote_error"
	case errors.Is(err, ErrBadResponse):
		return "bad_response"
	default:
		return "error"
	}
}
