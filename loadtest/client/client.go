// Package client provides a reusable live-preview WebSocket client for load
// and end-to-end tests. It connects using gobwas/ws (the same library the
// server uses), waits for the connected handshake, and tracks per-connection
// performance metrics.
package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Client -> Server message types.
const (
	TypePreview = "preview"
	TypePing    = "ping"
)

// Server -> Client message types.
const (
	TypeConnected     = "connected"
	TypePreviewResult = "preview_result"
	TypeRateLimited   = "rate_limited"
	TypeError         = "error"
	TypePong          = "pong"
)

// PreviewResult is the decoded preview_result message.
type PreviewResult struct {
	Seq          int64  `json:"seq"`
	Text         string `json:"text"`
	Replacements int    `json:"replacements"`
}

// Metrics tracks per-connection performance data.
type Metrics struct {
	ConnectLatency   time.Duration
	MessagesReceived int
	MessagesSent     int
	Errors           int
}

// Client represents a single preview connection. It dispatches incoming
// messages to registered handlers and records the connection ID sent by the
// server after the upgrade.
type Client struct {
	conn      net.Conn
	br        *bufio.Reader
	connID    string
	mu        sync.Mutex
	hmu       sync.RWMutex
	metrics   Metrics
	handlers  map[string]func(json.RawMessage)
	connected chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	seq       int64
}

// New dials the preview endpoint at wsURL, authenticating with token, and
// starts the background read loop.
func New(ctx context.Context, wsURL, token string) (*Client, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if token != "" {
		q := u.Query()
		q.Set("access_token", token)
		u.RawQuery = q.Encode()
	}

	start := time.Now()
	conn, br, _, err := ws.Dial(ctx, u.String())
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	c := &Client{
		conn:      conn,
		br:        br,
		handlers:  make(map[string]func(json.RawMessage)),
		connected: make(chan struct{}),
		done:      make(chan struct{}),
	}
	c.metrics.ConnectLatency = time.Since(start)

	go c.readLoop()

	return c, nil
}

// Preview sends draft text and returns the sequence number attached to it.
func (c *Client) Preview(text string) (int64, error) {
	c.mu.Lock()
	c.seq++
	seq := c.seq
	c.mu.Unlock()
	return seq, c.Send(map[string]interface{}{
		"type": TypePreview,
		"seq":  seq,
		"text": text,
	})
}

// Send sends a JSON message to the server. It is goroutine-safe.
func (c *Client) Send(msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics.MessagesSent++
	return wsutil.WriteClientMessage(c.conn, ws.OpText, data)
}

// On registers a handler for a specific server message type. Handlers run on
// the read loop goroutine; registering a second handler for the same type
// replaces the first.
func (c *Client) On(msgType string, handler func(json.RawMessage)) {
	c.hmu.Lock()
	c.handlers[msgType] = handler
	c.hmu.Unlock()
}

// WaitConnected blocks until the server's connected message arrives.
func (c *Client) WaitConnected(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return fmt.Errorf("connection closed before handshake completed")
	case <-c.connected:
		return nil
	}
}

// Close closes the connection and stops the read loop. It is safe to call
// multiple times.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

// ConnectionID returns the ID assigned by the server, or an empty string if
// the handshake has not completed yet.
func (c *Client) ConnectionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connID
}

// GetMetrics returns a copy of the client's metrics.
func (c *Client) GetMetrics() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metrics
}

func (c *Client) readLoop() {
	var r io.Reader = c.conn
	if c.br != nil {
		r = io.MultiReader(c.br, c.conn)
	}
	rw := struct {
		io.Reader
		io.Writer
	}{r, c.conn}

	for {
		data, err := wsutil.ReadServerText(rw)
		if err != nil {
			select {
			case <-c.done:
				// Connection was intentionally closed; do not count as error.
			default:
				c.mu.Lock()
				c.metrics.Errors++
				c.mu.Unlock()
				c.Close()
			}
			return
		}

		c.mu.Lock()
		c.metrics.MessagesReceived++
		c.mu.Unlock()

		var envelope struct {
			Type         string `json:"type"`
			ConnectionID string `json:"connection_id"`
		}
		if err := json.Unmarshal(data, &envelope); err != nil {
			continue
		}

		if envelope.Type == TypeConnected {
			c.mu.Lock()
			first := c.connID == ""
			c.connID = envelope.ConnectionID
			c.mu.Unlock()
			if first {
				close(c.connected)
			}
		}

		c.hmu.RLock()
		handler, ok := c.handlers[envelope.Type]
		c.hmu.RUnlock()
		if ok {
			handler(json.RawMessage(data))
		}
	}
}
