// Package transport carries MQTT frames over TCP, TLS or WebSocket.
//
// A Conn is byte oriented: Send writes one encoded frame, Chunks yields whatever the
// network delivered, which may hold a partial packet or several packets.
package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"
)

var (
	// ErrTransport is wrapped by every failure to open or use a connection.
	ErrTransport = errors.New("transport error")

	// ErrConnectionLost reports that an open connection ended without a local Close.
	ErrConnectionLost = fmt.Errorf("%w: connection lost", ErrTransport)
)

const (
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultWriteTimeout     = 10 * time.Second

	// DefaultPath is the request path used for ws:// and wss:// URLs without one.
	DefaultPath = "/mqtt"

	// Subprotocol is the WebSocket sub-protocol MQTT requires [MQTT-6.0.0-3].
	Subprotocol = "mqtt"

	readBufferSize = 4 * 1024
)

// Conn is an open, bidirectional byte stream to a broker.
type Conn interface {
	// Send writes b as one unit, bounded by the write timeout.
	Send(b []byte) error

	// Chunks yields inbound bytes in arrival order. It is closed once the connection
	// ends, after which Err reports why.
	Chunks() <-chan []byte

	// Done is closed when the connection ends for any reason.
	Done() <-chan struct{}

	// Err is nil while open and after a local Close, and wraps ErrConnectionLost when
	// the peer or the network ended the connection.
	Err() error

	Close() error

	RemoteAddr() string
}

// Dialer opens connections. The scheme of the URL selects the transport.
type Dialer interface {
	Dial(ctx context.Context, u *url.URL) (Conn, error)
}

// NetDialer is the default Dialer.
//
// Supported schemes: mqtt and tcp (plain TCP, port 1883), mqtts, tls and ssl (TLS,
// port 8883), ws and wss (WebSocket, sub-protocol mqtt, binary frames).
type NetDialer struct {
	// TLSConfig is used for mqtts and wss. If nil, the default configuration is used.
	TLSConfig *tls.Config

	// Header is sent with the WebSocket opening handshake, e.g. a signed token.
	Header http.Header

	// HandshakeTimeout bounds the TCP, TLS and WebSocket handshakes.
	HandshakeTimeout time.Duration

	// WriteTimeout bounds every Send.
	WriteTimeout time.Duration

	// DialContext, when set, creates the underlying TCP connections.
	DialContext func(ctx context.Context, network, addr string) (net.Conn, error)
}

// Dial opens a connection to u.
func (d *NetDialer) Dial(ctx context.Context, u *url.URL) (Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, d.handshakeTimeout())
	defer cancel()

	switch u.Scheme {
	case "mqtt", "tcp":
		con, err := d.dialContext(ctx, "tcp", hostPort(u, "1883"))
		if err != nil {
			return nil, fmt.Errorf("%w: dial %s: %v", ErrTransport, u.Redacted(), err)
		}
		return newStreamConn(con, d.writeTimeout()), nil
	case "mqtts", "tls", "ssl":
		con, err := d.dialContext(ctx, "tcp", hostPort(u, "8883"))
		if err != nil {
			return nil, fmt.Errorf("%w: dial %s: %v", ErrTransport, u.Redacted(), err)
		}
		cfg := d.tlsConfig(u)
		tc := tls.Client(con, cfg)
		if err := tc.HandshakeContext(ctx); err != nil {
			_ = con.Close()
			return nil, fmt.Errorf("%w: tls handshake %s: %v", ErrTransport, u.Redacted(), err)
		}
		return newStreamConn(tc, d.writeTimeout()), nil
	case "ws", "wss":
		return d.dialWebsocket(ctx, u)
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrTransport, u.Scheme)
	}
}

func (d *NetDialer) dialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	if d.DialContext != nil {
		con, err := d.DialContext(ctx, network, addr)
		if con == nil && err == nil {
			err = errors.New("DialContext hook returned (nil, nil)")
		}
		return con, err
	}
	return (&net.Dialer{}).DialContext(ctx, network, addr)
}

func (d *NetDialer) tlsConfig(u *url.URL) *tls.Config {
	cfg := &tls.Config{}
	if d.TLSConfig != nil {
		cfg = d.TLSConfig.Clone()
	}
	if cfg.ServerName == "" {
		cfg.ServerName = u.Hostname()
	}
	return cfg
}

func (d *NetDialer) handshakeTimeout() time.Duration {
	if d.HandshakeTimeout > 0 {
		return d.HandshakeTimeout
	}
	return DefaultHandshakeTimeout
}

func (d *NetDialer) writeTimeout() time.Duration {
	if d.WriteTimeout > 0 {
		return d.WriteTimeout
	}
	return DefaultWriteTimeout
}

func hostPort(u *url.URL, port string) string {
	if u.Port() != "" {
		return u.Host
	}
	return net.JoinHostPort(u.Hostname(), port)
}
