package mqttclient

import (
	"context"
	"crypto/tls"
	"net"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
)

// quicALPN is the application protocol negotiated for MQTT over QUIC.
const quicALPN = "mqtt"

// quicConn carries the MQTT stream on a single bidirectional QUIC stream.
type quicConn struct {
	conn   *quic.Conn
	stream *quic.Stream

	closeOnce sync.Once
	closeErr  error
}

func (c *quicConn) Read(b []byte) (int, error)  { return c.stream.Read(b) }
func (c *quicConn) Write(b []byte) (int, error) { return c.stream.Write(b) }

func (c *quicConn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.stream.Close()
		if err := c.conn.CloseWithError(0, ""); c.closeErr == nil {
			c.closeErr = err
		}
	})
	return c.closeErr
}

func (c *quicConn) LocalAddr() net.Addr  { return c.conn.LocalAddr() }
func (c *quicConn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

func (c *quicConn) SetDeadline(t time.Time) error {
	if err := c.stream.SetReadDeadline(t); err != nil {
		return err
	}
	return c.stream.SetWriteDeadline(t)
}

func (c *quicConn) SetReadDeadline(t time.Time) error  { return c.stream.SetReadDeadline(t) }
func (c *quicConn) SetWriteDeadline(t time.Time) error { return c.stream.SetWriteDeadline(t) }

// quicTLSConfig returns cfg with TLS 1.3 and the MQTT ALPN enforced.
func quicTLSConfig(cfg *tls.Config) *tls.Config {
	if cfg == nil {
		return &tls.Config{MinVersion: tls.VersionTLS13, NextProtos: []string{quicALPN}}
	}

	out := cfg.Clone()
	if out.MinVersion < tls.VersionTLS13 {
		out.MinVersion = tls.VersionTLS13
	}
	if len(out.NextProtos) == 0 {
		out.NextProtos = []string{quicALPN}
	}
	return out
}

// dialQUIC opens a QUIC connection to addr (host:port) and its MQTT stream.
func dialQUIC(ctx context.Context, addr string, cfg *tls.Config) (net.Conn, error) {
	conn, err := quic.DialAddr(ctx, addr, quicTLSConfig(cfg), &quic.Config{
		KeepAlivePeriod: 15 * time.Second,
	})
	if err != nil {
		return nil, err
	}

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		_ = conn.CloseWithError(0, "failed to open stream")
		return nil, err
	}

	return &quicConn{conn: conn, stream: stream}, nil
}
