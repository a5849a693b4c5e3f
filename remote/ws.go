package remote

import (
	"context"
	"sync"

	"github.com/gorilla/websocket"
)

// wsDialer implements Dialer on top of gorilla/websocket.
type wsDialer struct {
	dialer *websocket.Dialer
}

// NewWebSocketDialer returns the production dialer used when no custom
// Dialer is configured.
func NewWebSocketDialer() Dialer {
	return &wsDialer{dialer: websocket.DefaultDialer}
}

// Dial implements Dialer
func (d *wsDialer) Dial(ctx context.Context, url string, subprotocol string) (Conn, error) {
	dialer := *d.dialer
	if subprotocol != "" {
		dialer.Subprotocols = []string{subprotocol}
	}
	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return &wsConn{conn: conn}, nil
}

// wsConn wraps a websocket connection as a Conn.
type wsConn struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// WriteText sends one text frame
func (c *wsConn) WriteText(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// ReadText blocks until the next frame arrives
func (c *wsConn) ReadText() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

// Close tears the connection down
func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// Compile-time checks
var (
	_ Dialer = (*wsDialer)(nil)
	_ Conn   = (*wsConn)(nil)
)
