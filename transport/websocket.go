package transport

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

func (d *NetDialer) dialWebsocket(ctx context.Context, u *url.URL) (Conn, error) {
	loc := *u
	if loc.Path == "" {
		loc.Path = DefaultPath
	}
	dialer := websocket.Dialer{
		HandshakeTimeout: d.handshakeTimeout(),
		Subprotocols:     []string{Subprotocol},
		ReadBufferSize:   readBufferSize,
		WriteBufferSize:  readBufferSize,
		NetDialContext:   d.DialContext,
	}
	if loc.Scheme == "wss" {
		dialer.TLSClientConfig = d.tlsConfig(&loc)
	}

	ws, resp, err := dialer.DialContext(ctx, loc.String(), d.Header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w: websocket handshake %s: %s: %v", ErrTransport, loc.Redacted(), resp.Status, err)
		}
		return nil, fmt.Errorf("%w: websocket dial %s: %v", ErrTransport, loc.Redacted(), err)
	}
	if p := ws.Subprotocol(); p != "" && p != Subprotocol {
		_ = ws.Close()
		return nil, fmt.Errorf("%w: server selected sub-protocol %q", ErrTransport, p)
	}
	return newWebsocketConn(ws, d.writeTimeout()), nil
}

// wsConn carries frames in binary WebSocket messages. One Send is one message;
// inbound messages are yielded as they arrive, without regard to packet boundaries.
type wsConn struct {
	*state
	ws           *websocket.Conn
	writeTimeout time.Duration
	wmu          sync.Mutex
}

func newWebsocketConn(ws *websocket.Conn, writeTimeout time.Duration) *wsConn {
	c := &wsConn{state: newState(), ws: ws, writeTimeout: writeTimeout}
	go c.readLoop(c.read)
	return c
}

func (c *wsConn) read() ([]byte, error) {
	kind, b, err := c.ws.ReadMessage()
	if err != nil {
		return nil, err
	}
	// MQTT Control Packets MUST be sent in WebSocket binary data frames [MQTT-6.0.0-1].
	if kind != websocket.BinaryMessage {
		return nil, fmt.Errorf("unexpected websocket message type %d", kind)
	}
	return b, nil
}

func (c *wsConn) Send(b []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	select {
	case <-c.done:
		return c.lost(nil)
	default:
	}
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return c.lost(err)
	}
	if err := c.ws.WriteMessage(websocket.BinaryMessage, b); err != nil {
		_ = c.ws.Close()
		return c.lost(err)
	}
	return nil
}

func (c *wsConn) Close() error {
	c.closed.Store(true)
	c.finish(nil)

	c.wmu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	c.wmu.Unlock()
	return c.ws.Close()
}

func (c *wsConn) RemoteAddr() string {
	return c.ws.RemoteAddr().String()
}
