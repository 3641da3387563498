// Package stream provides the reconnecting websocket client venue adapters
// build their ExchangeStream implementations on.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// MessageHandler consumes one raw frame of its registered type.
type MessageHandler func(message json.RawMessage) error

type Options struct {
	URL string
	// HandshakeTimeout bounds the dial. Defaults to 10s.
	HandshakeTimeout time.Duration
	// PingInterval spaces keep-alive pings. Defaults to 30s.
	PingInterval time.Duration
	// SubscribeRate throttles outbound frames; venues drop connections that
	// subscribe too fast. Defaults to 5/s.
	SubscribeRate rate.Limit
	// ReconnectDelay is the initial backoff after a dropped connection; it
	// doubles up to 30s. Defaults to 1s.
	ReconnectDelay time.Duration
	Logger         *logrus.Logger
}

func (o Options) withDefaults() Options {
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 10 * time.Second
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.SubscribeRate <= 0 {
		o.SubscribeRate = 5
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = time.Second
	}
	if o.Logger == nil {
		o.Logger = logrus.New()
	}
	return o
}

// Client is a long-lived websocket session that redials on failure and
// replays its pending subscriptions after each reconnect.
type Client struct {
	opts    Options
	limiter *rate.Limiter
	log     *logrus.Logger

	mu            sync.Mutex
	conn          *websocket.Conn
	connected     bool
	closed        bool
	handlers      map[string]MessageHandler
	subscriptions []any
}

// typeProbe extracts the routing key of a frame.
type typeProbe struct {
	Type string `json:"type"`
}

func NewClient(opts Options) *Client {
	opts = opts.withDefaults()
	return &Client{
		opts:     opts,
		limiter:  rate.NewLimiter(opts.SubscribeRate, 1),
		log:      opts.Logger,
		handlers: make(map[string]MessageHandler),
	}
}

// Connect dials the venue and starts the read and keep-alive loops. It is a
// no-op when already connected.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connected {
		return nil
	}
	if err := c.dial(ctx); err != nil {
		return err
	}
	go c.readLoop(ctx)
	go c.keepAlive(ctx)
	return nil
}

// dial requires c.mu held.
func (c *Client) dial(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: c.opts.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, c.opts.URL, nil)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", c.opts.URL, err)
	}
	c.conn = conn
	c.connected = true
	return nil
}

// Close tears the session down for good; no reconnect follows.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.connected = false
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// RegisterHandler routes frames with the given "type" field to handler.
func (c *Client) RegisterHandler(messageType string, handler MessageHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[messageType] = handler
}

// Subscribe sends a subscription frame, throttled, and remembers it so it can
// be replayed after a reconnect.
func (c *Client) Subscribe(ctx context.Context, frame any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return fmt.Errorf("websocket not connected")
	}
	c.subscriptions = append(c.subscriptions, frame)
	return c.conn.WriteJSON(frame)
}

// Send writes a one-off frame without registering it for replay.
func (c *Client) Send(ctx context.Context, frame any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return fmt.Errorf("websocket not connected")
	}
	return c.conn.WriteJSON(frame)
}

func (c *Client) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		c.mu.Lock()
		conn := c.conn
		connected := c.connected
		c.mu.Unlock()
		if !connected {
			if !c.reconnect(ctx) {
				return
			}
			continue
		}
		_, payload, err := conn.ReadMessage()
		if err != nil {
			c.log.WithError(err).Warn("Websocket read failed")
			c.markDisconnected()
			continue
		}
		var probe typeProbe
		if err := json.Unmarshal(payload, &probe); err != nil {
			c.log.WithError(err).Debug("Dropping unparseable frame")
			continue
		}
		c.mu.Lock()
		handler := c.handlers[probe.Type]
		c.mu.Unlock()
		if handler == nil {
			continue
		}
		if err := handler(payload); err != nil {
			c.log.WithError(err).WithField("type", probe.Type).Error("Handler error")
		}
	}
}

func (c *Client) keepAlive(ctx context.Context) {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			if c.closed {
				c.mu.Unlock()
				return
			}
			if c.connected {
				if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					c.log.WithError(err).Warn("Failed to send ping")
					c.connected = false
					c.conn.Close()
				}
			}
			c.mu.Unlock()
		}
	}
}

func (c *Client) markDisconnected() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	if c.conn != nil {
		c.conn.Close()
	}
}

// reconnect redials with doubling backoff and replays the recorded
// subscriptions. Returns false when the client was closed or ctx ended.
func (c *Client) reconnect(ctx context.Context) bool {
	delay := c.opts.ReconnectDelay
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return false
		}
		err := c.dial(ctx)
		if err == nil {
			pending := make([]any, len(c.subscriptions))
			copy(pending, c.subscriptions)
			conn := c.conn
			c.mu.Unlock()
			for _, frame := range pending {
				if err := conn.WriteJSON(frame); err != nil {
					c.log.WithError(err).Warn("Failed to replay subscription")
				}
			}
			c.log.Info("Websocket reconnected")
			return true
		}
		c.mu.Unlock()
		c.log.WithError(err).WithField("retryIn", delay.String()).Warn("Websocket reconnect failed")
		select {
		case <-ctx.Done():
			return false
		case <-time.After(delay):
		}
		if delay < 30*time.Second {
			delay *= 2
		}
	}
}
