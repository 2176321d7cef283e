// Package websocket follows the load-test status stream a sentimeter server
// publishes at /api/loadtest/stream.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/torosent/sentimeter/internal/runstate"
)

// StreamPath is where the server publishes run state.
const StreamPath = "/api/loadtest/stream"

// ErrStop can be returned from a Follow callback to end the stream cleanly.
var ErrStop = errors.New("stop following")

// Metrics captures stream connection statistics.
type Metrics struct {
	ConnectionDuration time.Duration
	MessagesReceived   int64
	BytesReceived      int64
	Errors             int64
}

// Config configures the stream client.
type Config struct {
	URL              string
	Headers          http.Header
	HandshakeTimeout time.Duration
	MaxMessageSize   int64
}

// Client reads run state snapshots from a status stream.
type Client struct {
	url            string
	headers        http.Header
	dialer         *websocket.Dialer
	maxMessageSize int64

	mu           sync.Mutex
	conn         *websocket.Conn
	connectTime  time.Time
	messagesRecv int64
	bytesRecv    int64
	errors       int64
}

// NewClient applies defaults to cfg. Call Connect before reading.
func NewClient(cfg Config) *Client {
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = 30 * time.Second
	}
	if cfg.MaxMessageSize == 0 {
		cfg.MaxMessageSize = 1024 * 1024
	}
	return &Client{
		url:     cfg.URL,
		headers: cfg.Headers,
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.HandshakeTimeout,
			Proxy:            http.ProxyFromEnvironment,
		},
		maxMessageSize: cfg.MaxMessageSize,
	}
}

// StreamURL turns a server base URL such as http://localhost:8000 into the
// websocket URL of its status stream.
func StreamURL(base string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("server url %q must use http, https, ws or wss", base)
	}
	if u.Host == "" {
		return "", fmt.Errorf("server url %q has no host", base)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + StreamPath
	u.RawQuery = ""
	return u.String(), nil
}

// Connect dials the stream. It fails while a connection is already open.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return errors.New("already connected")
	}

	conn, resp, err := c.dialer.DialContext(ctx, c.url, c.headers)
	if err != nil {
		c.errors++
		if resp != nil {
			return fmt.Errorf("websocket dial failed with status %d: %w", resp.StatusCode, err)
		}
		return fmt.Errorf("websocket dial failed: %w", err)
	}
	conn.SetReadLimit(c.maxMessageSize)

	c.conn = conn
	c.connectTime = time.Now()
	return nil
}

// Next blocks until the server pushes the next state.
func (c *Client) Next() (runstate.State, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return runstate.State{}, errors.New("not connected")
	}

	_, data, err := conn.ReadMessage()
	if err != nil {
		c.recordError()
		return runstate.State{}, fmt.Errorf("read message: %w", err)
	}

	c.mu.Lock()
	c.messagesRecv++
	c.bytesRecv += int64(len(data))
	c.mu.Unlock()

	var st runstate.State
	if err := json.Unmarshal(data, &st); err != nil {
		c.recordError()
		return runstate.State{}, fmt.Errorf("decode state: %w", err)
	}
	return st, nil
}

// Follow calls fn for every state until ctx is cancelled, the server closes
// the stream, or fn returns an error. ErrStop and a normal close both yield
// nil.
func (c *Client) Follow(ctx context.Context, fn func(runstate.State) error) error {
	stop := context.AfterFunc(ctx, func() {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn != nil {
			// Unblocks a pending read.
			_ = conn.SetReadDeadline(time.Now())
		}
	})
	defer stop()

	for {
		st, err := c.Next()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) &&
				(closeErr.Code == websocket.CloseNormalClosure || closeErr.Code == websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		if err := fn(st); err != nil {
			if errors.Is(err, ErrStop) {
				return nil
			}
			return err
		}
	}
}

// Close sends a close frame and releases the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}

	err := c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(5*time.Second),
	)
	closeErr := c.conn.Close()
	c.conn = nil

	if err != nil {
		return err
	}
	return closeErr
}

// Metrics returns a snapshot of the connection statistics.
func (c *Client) Metrics() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	duration := time.Duration(0)
	if !c.connectTime.IsZero() {
		duration = time.Since(c.connectTime)
	}
	return Metrics{
		ConnectionDuration: duration,
		MessagesReceived:   c.messagesRecv,
		BytesReceived:      c.bytesRecv,
		Errors:             c.errors,
	}
}

func (c *Client) recordError() {
	c.mu.Lock()
	c.errors++
	c.mu.Unlock()
}
