package pyth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WSClient handles the Hermes WebSocket connection and message routing.
type WSClient struct {
	url            string
	ids            []string
	reconnectDelay time.Duration
	dialer         *websocket.Dialer
	handler        func([]byte)
	logger         *zap.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewWSClient creates a streaming client subscribing to the given feed ids.
func NewWSClient(url string, ids []string, reconnectDelay time.Duration, logger *zap.Logger) *WSClient {
	if reconnectDelay <= 0 {
		reconnectDelay = 3 * time.Second
	}
	return &WSClient{
		url:            url,
		ids:            append([]string(nil), ids...),
		reconnectDelay: reconnectDelay,
		dialer:         websocket.DefaultDialer,
		logger:         logger,
	}
}

// SetMessageHandler sets the function to handle incoming messages.
// It must be called before Listen.
func (c *WSClient) SetMessageHandler(h func([]byte)) {
	c.handler = h
}

// Connect establishes the WebSocket connection and subscribes to the
// configured feeds. It does not start the listener.
func (c *WSClient) Connect(ctx context.Context) error {
	conn, err := c.dial(ctx)
	if err != nil {
		c.logger.Error("failed to connect to websocket", zap.String("url", c.url), zap.Error(err))
		return err
	}
	c.setConn(conn)
	c.logger.Info("websocket connected", zap.String("url", c.url), zap.Int("feeds", len(c.ids)))
	return nil
}

// Listen reads messages until ctx is done, reconnecting after read errors.
func (c *WSClient) Listen(ctx context.Context) {
	// unblock ReadMessage when the caller goes away
	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	for {
		conn := c.current()
		if conn == nil {
			if !c.reconnect(ctx) {
				return
			}
			continue
		}

		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("websocket read error", zap.Error(err))
			_ = c.Close()

			// Retry reconnecting until the context ends
			if !c.reconnect(ctx) {
				return
			}
			continue // Start listening again with the new connection
		}

		if c.handler != nil {
			c.handler(msg)
		}
	}
}

// Close closes the current connection, if any.
func (c *WSClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *WSClient) reconnect(ctx context.Context) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(c.reconnectDelay):
		}

		conn, err := c.dial(ctx)
		if err != nil {
			c.logger.Warn("retrying websocket reconnect", zap.Error(err))
			continue
		}
		c.setConn(conn)

		// ctx may have ended while dialing; AfterFunc has already fired then
		if ctx.Err() != nil {
			_ = c.Close()
			return false
		}
		c.logger.Info("websocket reconnected")
		return true
	}
}

func (c *WSClient) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}

	sub := SubscribeRequest{Type: MessageTypeSubscribe, IDs: c.ids}
	if err := conn.WriteJSON(sub); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("websocket subscribe failed: %w", err)
	}
	return conn, nil
}

func (c *WSClient) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.conn = conn
}

func (c *WSClient) current() *websocket.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}
