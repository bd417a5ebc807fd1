package live

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	ws "github.com/fasthttp/websocket"
)

// UpstreamConn wraps the WebSocket connection to the live upstream.
// Writes are serialized; a single read loop owns the read side.
type UpstreamConn struct {
	conn         *ws.Conn
	model        string
	authProfile  string
	writeTimeout time.Duration

	writeMu sync.Mutex

	closed atomic.Bool
}

func newUpstreamConn(conn *ws.Conn, model, authProfile string, writeTimeout time.Duration) *UpstreamConn {
	return &UpstreamConn{
		conn:         conn,
		model:        model,
		authProfile:  authProfile,
		writeTimeout: writeTimeout,
	}
}

// WriteMessage sends a frame upstream. Thread-safe.
func (c *UpstreamConn) WriteMessage(messageType int, data []byte) error {
	if c.closed.Load() {
		return ErrNotConnected
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
	}
	return c.conn.WriteMessage(messageType, data)
}

// ReadMessage reads the next upstream frame. Only the read loop calls this.
func (c *UpstreamConn) ReadMessage() (messageType int, p []byte, err error) {
	return c.conn.ReadMessage()
}

// Close closes the underlying WebSocket connection.
func (c *UpstreamConn) Close() error {
	if c.closed.CompareAndSwap(false, true) {
		return c.conn.Close()
	}
	return nil
}

// Model returns the model this connection was opened for.
func (c *UpstreamConn) Model() string {
	return c.model
}

// AuthProfile returns the name of the auth profile used to connect.
func (c *UpstreamConn) AuthProfile() string {
	return c.authProfile
}

// dialUpstream opens a WebSocket connection bounded by timeout. A rejected
// handshake reports the upstream HTTP status.
func dialUpstream(ctx context.Context, dialer *ws.Dialer, url string, headers map[string]string, timeout time.Duration) (*ws.Conn, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	h := http.Header{}
	for k, v := range headers {
		h.Set(k, v)
	}
	conn, resp, err := dialer.DialContext(ctx, url, h)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("upstream rejected handshake with status %d: %w", resp.StatusCode, err)
		}
		return nil, err
	}
	return conn, nil
}
