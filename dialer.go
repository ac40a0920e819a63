package mqttclient

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/url"
	"time"
)

// Dialer opens the byte stream to a broker. The address is the configured
// Host URI.
type Dialer interface {
	Dial(ctx context.Context, address string) (net.Conn, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, address string) (net.Conn, error)

// Dial calls f.
func (f DialerFunc) Dial(ctx context.Context, address string) (net.Conn, error) {
	return f(ctx, address)
}

var defaultPorts = map[string]string{
	"tcp":   "1883",
	"mqtt":  "1883",
	"ssl":   "8883",
	"tls":   "8883",
	"mqtts": "8883",
	"ws":    "80",
	"wss":   "443",
	"quic":  "8883",
}

func supportedScheme(scheme string) bool {
	_, ok := defaultPorts[scheme]
	return ok || scheme == "unix"
}

// hostPort returns host:port for u, filling in the scheme's default port.
func hostPort(u *url.URL) string {
	if u.Port() != "" {
		return u.Host
	}
	return net.JoinHostPort(u.Hostname(), defaultPorts[u.Scheme])
}

// schemeDialer picks the transport from the URI scheme of the address.
type schemeDialer struct {
	tlsConfig    *tls.Config
	proxyURL     string
	localAddress string
	sendBuffer   int
	recvBuffer   int
	trafficClass int
}

func newSchemeDialer(cfg Config) *schemeDialer {
	return &schemeDialer{
		tlsConfig:    cfg.TLSConfig,
		proxyURL:     cfg.Proxy,
		localAddress: cfg.LocalAddress,
		sendBuffer:   cfg.SendBufferSize,
		recvBuffer:   cfg.ReceiveBufferSize,
		trafficClass: cfg.TrafficClass,
	}
}

// Dial implements Dialer.
func (d *schemeDialer) Dial(ctx context.Context, address string) (net.Conn, error) {
	u, err := url.Parse(address)
	if err != nil {
		return nil, fmt.Errorf("invalid address: %w", err)
	}

	var conn net.Conn
	switch u.Scheme {
	case "tcp", "mqtt":
		conn, err = d.dialStream(ctx, hostPort(u))
	case "ssl", "tls", "mqtts":
		conn, err = d.dialTLS(ctx, u)
	case "ws", "wss":
		conn, err = d.dialWebSocket(ctx, u)
	case "unix":
		conn, err = dialUnix(ctx, u)
	case "quic":
		conn, err = dialQUIC(ctx, hostPort(u), d.tlsConfig)
	default:
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", address, err)
	}

	return conn, nil
}

// netDialer returns the TCP dialer with the configured socket options.
func (d *schemeDialer) netDialer() (*net.Dialer, error) {
	nd := &net.Dialer{Control: socketControl(d.trafficClass)}
	if d.localAddress != "" {
		host, port, err := net.SplitHostPort(d.localAddress)
		if err != nil {
			host, port = d.localAddress, "0"
		}
		addr, err := net.ResolveTCPAddr("tcp", net.JoinHostPort(host, port))
		if err != nil {
			return nil, fmt.Errorf("local address: %w", err)
		}
		nd.LocalAddr = addr
	}
	return nd, nil
}

// dialStream opens a TCP stream, through the proxy when one is configured.
func (d *schemeDialer) dialStream(ctx context.Context, addr string) (net.Conn, error) {
	nd, err := d.netDialer()
	if err != nil {
		return nil, err
	}

	var conn net.Conn
	if d.proxyURL != "" {
		pd, err := NewProxyDialer(d.proxyURL, nd)
		if err != nil {
			return nil, err
		}
		conn, err = pd.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, err
		}
	} else {
		conn, err = nd.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, err
		}
	}

	d.tune(conn)
	return conn, nil
}

func (d *schemeDialer) dialTLS(ctx context.Context, u *url.URL) (net.Conn, error) {
	conn, err := d.dialStream(ctx, hostPort(u))
	if err != nil {
		return nil, err
	}

	tlsConn := tls.Client(conn, clientTLSConfig(d.tlsConfig, u.Hostname()))
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("TLS handshake failed: %w", err)
	}
	return tlsConn, nil
}

// tune applies the socket buffer sizes. Connections that are not plain TCP
// are left alone.
func (d *schemeDialer) tune(conn net.Conn) {
	tcp, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}
	if d.sendBuffer > 0 {
		_ = tcp.SetWriteBuffer(d.sendBuffer)
	}
	if d.recvBuffer > 0 {
		_ = tcp.SetReadBuffer(d.recvBuffer)
	}
	_ = tcp.SetNoDelay(true)
	_ = tcp.SetKeepAlivePeriod(30 * time.Second)
}

// clientTLSConfig returns cfg, or a TLS 1.2 minimum default, with the
// server name filled in from the host.
func clientTLSConfig(cfg *tls.Config, serverName string) *tls.Config {
	if cfg == nil {
		return &tls.Config{MinVersion: tls.VersionTLS12, ServerName: serverName}
	}
	if cfg.ServerName == "" && !cfg.InsecureSkipVerify {
		cfg = cfg.Clone()
		cfg.ServerName = serverName
	}
	return cfg
}
