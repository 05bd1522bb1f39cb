package feed

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is one live upstream connection.
type Conn interface {
	// ReadMessage blocks for the next inbound message.
	ReadMessage() ([]byte, error)

	// WriteJSON sends one outbound directive.
	WriteJSON(v any) error

	// Close tears the connection down; a blocked ReadMessage returns an
	// error.
	Close() error
}

// Transport dials upstream connections. The production transport speaks
// websocket; tests substitute a scripted one.
type Transport interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WebsocketTransport dials with gorilla/websocket.
type WebsocketTransport struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
}

// NewWebsocketTransport returns a transport with standard timeouts.
func NewWebsocketTransport() *WebsocketTransport {
	return &WebsocketTransport{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
	}
}

func (t *WebsocketTransport) Dial(ctx context.Context, url string) (Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: t.HandshakeTimeout,
	}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}

	conn.SetPingHandler(func(data string) error {
		return conn.WriteControl(
			websocket.PongMessage,
			[]byte(data),
			time.Now().Add(time.Second),
		)
	})

	return &wsConn{conn: conn, writeTimeout: t.WriteTimeout}, nil
}

// wsConn adapts *websocket.Conn. Writes are serialized; gorilla allows only
// one concurrent writer.
type wsConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	writeMu      sync.Mutex
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

func (c *wsConn) WriteJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.conn.WriteJSON(v)
}

func (c *wsConn) Close() error {
	c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	return c.conn.Close()
}
