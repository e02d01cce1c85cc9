// Package mqtttest provides an in-process MQTT 3.1.1 broker for tests.
//
// The broker listens on a loopback TCP port and serves WebSocket connections (sub-protocol
// "mqtt") on a second port. It keeps no sessions across connections and supports only
// what tests need: subscriptions with wildcards, QoS 0/1/2 flows in both directions,
// Last Will, and knobs to refuse, withhold or drop packets.
package mqtttest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/golang-io/iotmqtt/packet"
	"golang.org/x/net/websocket"
	"golang.org/x/sync/errgroup"
)

// Path is where the WebSocket listener accepts connections.
const Path = "/mqtt"

// A Server is a running test broker. Its knobs may be changed at any time.
type Server struct {
	URL   string // mqtt://127.0.0.1:port
	WSURL string // ws://127.0.0.1:port/mqtt

	log   *slog.Logger
	ln    net.Listener
	http  *http.Server
	group errgroup.Group
	wg    sync.WaitGroup

	mu             sync.Mutex
	closed         bool
	active         map[*conn]struct{}
	received       []packet.Packet
	changed        chan struct{} // closed and replaced whenever received grows
	connackCode    byte
	sessionPresent bool
	dropPingresp   bool
	withhold       int
	refused        map[string]bool
	keep           int
}

// NewServer starts a broker on loopback ports. It panics when it cannot listen.
func NewServer() *Server {
	return NewServerLogger(slog.Default())
}

// NewServerLogger is NewServer with a logger for connection events.
func NewServerLogger(log *slog.Logger) *Server {
	s, err := Listen(log, "127.0.0.1:0", "127.0.0.1:0")
	if err != nil {
		panic(fmt.Sprintf("mqtttest: failed to listen: %v", err))
	}
	return s
}

// Listen starts a broker with its TCP listener on tcpAddr and its WebSocket listener
// on wsAddr.
func Listen(log *slog.Logger, tcpAddr, wsAddr string) (*Server, error) {
	ln, err := net.Listen("tcp", tcpAddr)
	if err != nil {
		return nil, err
	}
	wl, err := net.Listen("tcp", wsAddr)
	if err != nil {
		_ = ln.Close()
		return nil, err
	}

	s := &Server{
		URL:     "mqtt://" + ln.Addr().String(),
		WSURL:   "ws://" + wl.Addr().String() + Path,
		log:     log.With("component", "mqtttest"),
		ln:      ln,
		active:  make(map[*conn]struct{}),
		changed: make(chan struct{}),
		refused: make(map[string]bool),
	}
	mux := http.NewServeMux()
	mux.Handle(Path, websocket.Server{Handshake: handshake, Handler: s.serveWebsocket})
	s.http = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	s.group.Go(func() error { return s.serve(ln) })
	s.group.Go(func() error {
		if err := s.http.Serve(wl); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	return s, nil
}

// handshake accepts clients offering the "mqtt" sub-protocol and answers with it.
// Clients without an Origin header are accepted.
func handshake(cfg *websocket.Config, _ *http.Request) error {
	if !slices.Contains(cfg.Protocol, "mqtt") {
		return fmt.Errorf("mqtttest: sub-protocol %v not supported", cfg.Protocol)
	}
	cfg.Protocol = []string{"mqtt"}
	return nil
}

func (s *Server) serveWebsocket(ws *websocket.Conn) {
	ws.PayloadType = websocket.BinaryFrame
	s.newConn(ws, ws.Request().RemoteAddr).serve()
}

func (s *Server) serve(ln net.Listener) error {
	for {
		rw, err := ln.Accept()
		if err != nil {
			if s.shuttingDown() {
				return nil
			}
			return err
		}
		go s.newConn(rw, rw.RemoteAddr().String()).serve()
	}
}

func (s *Server) shuttingDown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// trackConn adds or removes c. It reports false when the server is closed and c
// must not be served.
func (s *Server) trackConn(c *conn, add bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !add {
		delete(s.active, c)
		s.wg.Done()
		return true
	}
	if s.closed {
		return false
	}
	s.active[c] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) snapshot() []*conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs := make([]*conn, 0, len(s.active))
	for c := range s.active {
		cs = append(cs, c)
	}
	return cs
}

// Close stops the listeners, drops every connection and waits for them to finish.
func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	_ = s.ln.Close()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = s.http.Shutdown(ctx)
	s.Kick()
	if err := s.group.Wait(); err != nil {
		s.log.Warn("mqtttest serve failed", "error", err)
	}
	s.wg.Wait()
}

// Kick closes every client connection without a DISCONNECT, as a network failure would.
// Last Will messages are published.
func (s *Server) Kick() {
	for _, c := range s.snapshot() {
		c.close()
	}
}

// KickClient closes the connections of the client with the given id.
func (s *Server) KickClient(id string) {
	for _, c := range s.snapshot() {
		if c.clientID() == id {
			c.close()
		}
	}
}

// Connections returns the number of open client connections.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// SetConnackCode makes the broker answer CONNECT with code and close the connection
// when code is not zero.
func (s *Server) SetConnackCode(code byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connackCode = code
}

func (s *Server) SetSessionPresent(present bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionPresent = present
}

// DropPingresp stops the broker from answering PINGREQ.
func (s *Server) DropPingresp(drop bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropPingresp = drop
}

// WithholdAcks makes the broker ignore the next n QoS 1 and 2 PUBLISH packets: they
// are recorded but neither acknowledged nor forwarded.
func (s *Server) WithholdAcks(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.withhold = n
}

// Refuse makes SUBSCRIBE to filter return the failure code 0x80.
func (s *Server) Refuse(filter string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refused[filter] = true
}

// RecordLimit bounds the packets kept for Received: once 2n are stored the oldest are
// dropped down to n. Zero keeps all of them.
func (s *Server) RecordLimit(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keep = n
}

// Received returns the packets of kind received from clients, oldest first. Kind 0
// returns every packet.
func (s *Server) Received(kind byte) []packet.Packet {
	s.mu.Lock()
	defer s.mu.Unlock()
	var pkts []packet.Packet
	for _, pkt := range s.received {
		if kind == 0 || pkt.Kind() == kind {
			pkts = append(pkts, pkt)
		}
	}
	return pkts
}

// WaitReceived waits until at least n packets of kind were received and returns them.
func (s *Server) WaitReceived(ctx context.Context, kind byte, n int) ([]packet.Packet, error) {
	for {
		s.mu.Lock()
		changed := s.changed
		s.mu.Unlock()
		if pkts := s.Received(kind); len(pkts) >= n {
			return pkts, nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return s.Received(kind), fmt.Errorf("mqtttest: waiting for %d %s: %w", n, packet.Kind[kind], ctx.Err())
		}
	}
}

func (s *Server) record(pkt packet.Packet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.received = append(s.received, pkt)
	if s.keep > 0 && len(s.received) >= 2*s.keep {
		s.received = slices.Clone(s.received[len(s.received)-s.keep:])
	}
	close(s.changed)
	s.changed = make(chan struct{})
}

// Publish sends a message from the broker to every matching subscriber.
func (s *Server) Publish(topicName string, payload []byte, qos byte, retain bool) error {
	return s.fanOut(&packet.Message{TopicName: topicName, Content: payload}, qos, retain)
}

// Inject writes raw bytes to every client connection.
func (s *Server) Inject(b []byte) error {
	var errs []error
	for _, c := range s.snapshot() {
		errs = append(errs, c.write(b))
	}
	return errors.Join(errs...)
}
