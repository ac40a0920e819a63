package mqttclient

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketSubprotocol is the subprotocol MQTT brokers expect on WebSocket.
const WebSocketSubprotocol = "mqtt"

// wsConn exposes a WebSocket as a byte stream. Each Write is one binary
// message; reads concatenate message payloads.
//
// The websocket conn allows a single writer, and its SetWriteDeadline is a
// write method. Deadlines set from other goroutines go to the underlying
// socket at once and are copied onto the websocket conn by the next Write.
type wsConn struct {
	conn *websocket.Conn

	readMu  sync.Mutex
	pending []byte

	writeMu sync.Mutex

	deadlineMu    sync.Mutex
	writeDeadline time.Time
}

func newWSConn(conn *websocket.Conn) *wsConn {
	return &wsConn{conn: conn}
}

func (c *wsConn) Read(p []byte) (int, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	for len(c.pending) == 0 {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return 0, err
		}
		if messageType != websocket.BinaryMessage {
			return 0, fmt.Errorf("%w: websocket text frame", ErrProtocolError)
		}
		c.pending = data
	}

	n := copy(p, c.pending)
	c.pending = c.pending[n:]
	return n, nil
}

func (c *wsConn) Write(p []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.deadlineMu.Lock()
	deadline := c.writeDeadline
	c.deadlineMu.Unlock()

	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return 0, err
	}
	if err := c.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *wsConn) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()

	return c.conn.Close()
}

func (c *wsConn) LocalAddr() net.Addr  { return c.conn.LocalAddr() }
func (c *wsConn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

func (c *wsConn) SetDeadline(t time.Time) error {
	if err := c.conn.SetReadDeadline(t); err != nil {
		return err
	}
	return c.SetWriteDeadline(t)
}

func (c *wsConn) SetReadDeadline(t time.Time) error { return c.conn.SetReadDeadline(t) }

func (c *wsConn) SetWriteDeadline(t time.Time) error {
	c.deadlineMu.Lock()
	c.writeDeadline = t
	c.deadlineMu.Unlock()

	// Bounds a WriteMessage already in progress.
	return c.conn.NetConn().SetWriteDeadline(t)
}

// dialWebSocket performs the HTTP upgrade for ws:// and wss:// hosts. The
// TCP leg goes through dialStream so the proxy and socket options apply.
func (d *schemeDialer) dialWebSocket(ctx context.Context, u *url.URL) (net.Conn, error) {
	target := *u
	if target.Path == "" {
		target.Path = "/mqtt"
	}

	dialer := &websocket.Dialer{
		Subprotocols:     []string{WebSocketSubprotocol},
		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
		HandshakeTimeout: DefaultConnectTimeout,
		NetDialContext: func(ctx context.Context, _, addr string) (net.Conn, error) {
			return d.dialStream(ctx, addr)
		},
	}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = clientTLSConfig(d.tlsConfig, u.Hostname())
	}

	conn, resp, err := dialer.DialContext(ctx, target.String(), http.Header{})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}

	if conn.Subprotocol() != WebSocketSubprotocol {
		_ = conn.Close()
		return nil, fmt.Errorf("broker did not accept the %q subprotocol", WebSocketSubprotocol)
	}

	return newWSConn(conn), nil
}
