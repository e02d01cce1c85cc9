package transport

import (
	"net"
	"sync"
	"time"
)

// streamConn carries frames over a TCP or TLS net.Conn.
type streamConn struct {
	*state
	rwc          net.Conn
	writeTimeout time.Duration
	wmu          sync.Mutex
}

func newStreamConn(rwc net.Conn, writeTimeout time.Duration) *streamConn {
	c := &streamConn{state: newState(), rwc: rwc, writeTimeout: writeTimeout}
	go c.readLoop(c.read)
	return c
}

func (c *streamConn) read() ([]byte, error) {
	buf := make([]byte, readBufferSize)
	n, err := c.rwc.Read(buf)
	if n > 0 {
		// bytes read before an error are still delivered; the error surfaces next call
		return buf[:n], nil
	}
	return nil, err
}

func (c *streamConn) Send(b []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	select {
	case <-c.done:
		return c.lost(nil)
	default:
	}
	if err := c.rwc.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return c.lost(err)
	}
	if _, err := c.rwc.Write(b); err != nil {
		_ = c.rwc.Close()
		return c.lost(err)
	}
	return nil
}

func (c *streamConn) Close() error {
	c.closed.Store(true)
	c.finish(nil)
	return c.rwc.Close()
}

func (c *streamConn) RemoteAddr() string {
	return c.rwc.RemoteAddr().String()
}
