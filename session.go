package mqtt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/golang-io/iotmqtt/packet"
	"github.com/golang-io/iotmqtt/transport"
)

type requestKind int

const (
	requestConnect requestKind = iota
	requestDisconnect
	requestPublish
	requestSubscribe
	requestUnsubscribe
)

// request is a facade call handed to the session goroutine.
type request struct {
	kind    requestKind
	token   *Token
	msg     *Message
	subs    []packet.Subscription
	handler MessageHandler
	filters []string
}

// pendingAck is a SUBSCRIBE or UNSUBSCRIBE waiting for its acknowledgement.
type pendingAck struct {
	kind     byte
	req      *request // nil for the resubscribe sent after CONNACK
	filters  []string
	entries  []*subscription
	deadline time.Time
}

type dialResult struct {
	conn  transport.Conn
	creds Credentials
	err   error
}

// timer is a one-shot timer whose channel is nil while it is not armed, so a select
// on it blocks forever.
type timer struct {
	t *time.Timer
	C <-chan time.Time
}

func (t *timer) reset(d time.Duration) {
	t.stop()
	t.t = time.NewTimer(d)
	t.C = t.t.C
}

func (t *timer) stop() {
	if t.t != nil {
		t.t.Stop()
	}
	t.t, t.C = nil, nil
}

// session is the connection state machine. Fields from status down are owned by the
// run goroutine; state and inflight mirror them for readers on other goroutines.
type session struct {
	opts     *Options
	url      *url.URL
	log      *slog.Logger
	stat     *Stat
	dispatch *dispatcher

	requests chan *request
	quit     chan struct{}
	exited   chan struct{}
	stopOnce sync.Once
	state    atomic.Int32
	inflight atomic.Int32

	status       State
	reconnecting bool
	conn         transport.Conn
	chunks       <-chan []byte
	connDone     <-chan struct{}
	rbuf         []byte
	dialCancel   context.CancelFunc
	dialCh       chan dialResult

	ids      *packetIDs
	flow     *inFlight
	subs     *subscriptions
	acks     map[uint16]*pendingAck
	deferred []*request
	inbound  map[uint16]struct{} // QoS 2 ids received, PUBREL pending
	waiters  []*Token            // Connect calls

	lastSend time.Time
	pingSent bool
	backoff  *backoff.ExponentialBackOff

	connack, keepAlive, ping, retry, reconnect timer
}

func newSession(opts *Options, u *url.URL, d *dispatcher) *session {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ids := newPacketIDs()
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = opts.ReconnectMin
	b.MaxInterval = opts.ReconnectMax
	b.MaxElapsedTime = 0
	b.Reset()

	s := &session{
		opts:     opts,
		url:      u,
		log:      logger.With("client_id", opts.ClientID),
		stat:     opts.Stat,
		dispatch: d,
		requests: make(chan *request),
		quit:     make(chan struct{}),
		exited:   make(chan struct{}),
		ids:      ids,
		flow:     newInFlight(ids, opts.Window, opts.MaxQueued, opts.AckTimeout, opts.MaxRetries),
		subs:     newSubscriptions(),
		acks:     make(map[uint16]*pendingAck),
		inbound:  make(map[uint16]struct{}),
		backoff:  b,
	}
	s.seed()
	go s.run()
	return s
}

// seed registers the subscriptions configured with the Subscriptions option.
func (s *session) seed() {
	for _, sub := range s.opts.Subscriptions {
		s.subs.set(sub.TopicFilter, sub.MaximumQoS, nil)
	}
}

// submit hands req to the session goroutine.
func (s *session) submit(ctx context.Context, req *request) error {
	select {
	case s.requests <- req:
		return nil
	case <-s.exited:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// stop ends the session goroutine after failing all pending work with ErrClosed.
func (s *session) stop() {
	s.stopOnce.Do(func() { close(s.quit) })
	<-s.exited
}

func (s *session) run() {
	defer close(s.exited)
	for {
		select {
		case req := <-s.requests:
			s.handleRequest(req)
		case res := <-s.dialCh:
			s.dialCh = nil
			s.handleDial(res)
		case chunk, ok := <-s.chunks:
			if !ok {
				s.chunks = nil
				continue
			}
			s.handleChunk(chunk)
		case <-s.connDone:
			err := s.conn.Err()
			if err == nil {
				err = ErrConnectionLost
			}
			s.connectionLost(err)
		case <-s.connack.C:
			s.connack.stop()
			s.connectionFailed(fmt.Errorf("%w: no CONNACK within %s", ErrConnectFailed, s.opts.ConnectTimeout), true)
		case <-s.keepAlive.C:
			s.keepAlive.stop()
			s.keepAliveFired()
		case <-s.ping.C:
			s.ping.stop()
			s.connectionLost(fmt.Errorf("%w: no PINGRESP within %s", ErrConnectionLost, s.opts.pingTimeout()))
		case <-s.retry.C:
			s.retry.stop()
			s.retryFired()
		case <-s.reconnect.C:
			s.reconnect.stop()
			s.stat.reconnect()
			s.dial()
		case <-s.quit:
			s.teardown(ErrClosed)
			return
		}
	}
}

func (s *session) handleRequest(req *request) {
	switch req.kind {
	case requestConnect:
		s.requestConnect(req.token)
	case requestDisconnect:
		s.teardownGracefully()
		req.token.complete(nil)
	case requestPublish:
		s.requestPublish(req)
	case requestSubscribe, requestUnsubscribe:
		s.requestSubscription(req)
	}
}

func (s *session) requestConnect(tok *Token) {
	switch s.status {
	case StateConnected:
		tok.complete(nil)
	case StateConnecting:
		s.waiters = append(s.waiters, tok)
	case StateReconnecting:
		s.waiters = append(s.waiters, tok)
		s.reconnect.stop()
		s.dial()
	default:
		s.waiters = append(s.waiters, tok)
		s.dial()
	}
}

// dial opens the transport in the background; the result arrives on dialCh.
func (s *session) dial() {
	s.setState(StateConnecting, nil)
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.ConnectTimeout)
	ch := make(chan dialResult, 1)
	s.dialCancel, s.dialCh = cancel, ch
	s.log.Info("client attempting to connect", "server", s.url.Redacted())

	go func() {
		var res dialResult
		if s.opts.Credentials != nil {
			res.creds, res.err = s.opts.Credentials(ctx)
		}
		if res.err == nil && res.creds.Password != nil && res.creds.Username == "" {
			// a CONNECT with a password needs a user name [MQTT-3.1.2-22]
			res.err = fmt.Errorf("%w: password without username", ErrInvalidArgument)
		}
		if res.err == nil {
			res.conn, res.err = s.dialer(res.creds).Dial(ctx, s.url)
		}
		ch <- res
	}()
}

func (s *session) dialer(creds Credentials) transport.Dialer {
	if s.opts.Dialer != nil {
		return s.opts.Dialer
	}
	header := s.opts.Header.Clone()
	if len(creds.Header) > 0 {
		if header == nil {
			header = make(http.Header)
		}
		for k, v := range creds.Header {
			header[k] = append(header[k], v...)
		}
	}
	return &transport.NetDialer{
		TLSConfig:        s.opts.TLSConfig,
		Header:           header,
		HandshakeTimeout: s.opts.ConnectTimeout,
		WriteTimeout:     s.opts.WriteTimeout,
	}
}

func (s *session) cancelDial() {
	if s.dialCancel != nil {
		s.dialCancel()
		s.dialCancel = nil
	}
	if ch := s.dialCh; ch != nil {
		s.dialCh = nil
		go func() {
			if res := <-ch; res.conn != nil {
				_ = res.conn.Close()
			}
		}()
	}
}

func (s *session) handleDial(res dialResult) {
	if s.dialCancel != nil {
		s.dialCancel()
		s.dialCancel = nil
	}
	if res.err != nil {
		s.connectionFailed(fmt.Errorf("%w: %w", ErrConnectFailed, res.err), true)
		return
	}
	s.conn, s.chunks, s.connDone = res.conn, res.conn.Chunks(), res.conn.Done()
	s.rbuf = s.rbuf[:0]

	connect := &packet.CONNECT{
		CleanSession: s.opts.CleanSession,
		KeepAlive:    uint16(s.opts.KeepAlive / time.Second),
		ClientID:     s.opts.ClientID,
		Username:     res.creds.Username,
		Password:     res.creds.Password,
	}
	if w := s.opts.Will; w != nil {
		connect.Will = &packet.Will{TopicName: w.Topic, Message: w.Payload, QoS: w.QoS, Retain: w.Retain}
	}
	if err := s.send(connect); err != nil {
		// a failed write already ended the attempt through connectionLost
		if s.conn != nil {
			s.connectionFailed(fmt.Errorf("%w: %w", ErrConnectFailed, err), false)
		}
		return
	}
	s.connack.reset(s.opts.ConnectTimeout)
}

func (s *session) handleConnack(pkt *packet.CONNACK) {
	s.connack.stop()
	if err := pkt.Err(); err != nil {
		s.connectionFailed(fmt.Errorf("%w: %w", ErrConnectFailed, err), false)
		return
	}
	if !pkt.SessionPresent {
		s.inbound = make(map[uint16]struct{})
	}
	s.reconnecting = false
	s.backoff.Reset()
	s.setState(StateConnected, nil)
	s.log.Info("client connected", "server", s.url.Redacted(), "session_present", pkt.SessionPresent)

	for _, tok := range s.waiters {
		tok.complete(nil)
	}
	s.waiters = nil
	if s.opts.KeepAlive > 0 {
		s.keepAlive.reset(s.opts.KeepAlive)
	}

	if subs := s.subs.all(); len(subs) > 0 {
		s.sendSubscribe(subs, nil, nil)
	}
	deferred := s.deferred
	s.deferred = nil
	for _, req := range deferred {
		s.handleRequest(req)
	}
	for _, fl := range s.flow.pending() {
		if s.status != StateConnected {
			return
		}
		if err := s.transmit(fl); err != nil {
			return
		}
	}
	s.promote()
	s.armRetry()
	s.syncFlow()
}

// connectionFailed ends a connection attempt. retryable failures continue an automatic
// reconnect cycle; a refused CONNACK ends it.
func (s *session) connectionFailed(err error, retryable bool) {
	s.log.Warn("client connect failed", "error", err)
	s.cancelDial()
	s.closeConn()
	s.stopTimers()
	for _, tok := range s.waiters {
		tok.complete(err)
	}
	s.waiters = nil
	if s.reconnecting && retryable {
		s.scheduleReconnect(err)
		return
	}
	s.reconnecting = false
	s.setState(StateDisconnected, err)
}

func (s *session) connectionLost(err error) {
	switch s.status {
	case StateConnecting:
		s.connectionFailed(fmt.Errorf("%w: %w", ErrConnectFailed, err), true)
		return
	case StateConnected:
	default:
		return
	}
	s.log.Warn("client connection lost", "error", err)
	s.closeConn()
	s.stopTimers()

	requeue := s.opts.AutoReconnect && s.opts.Offline == OfflineQueue
	for _, id := range s.ackIDs() {
		ack := s.acks[id]
		delete(s.acks, id)
		s.ids.release(id)
		if ack.req == nil {
			continue
		}
		if requeue {
			s.deferred = append(s.deferred, ack.req)
			continue
		}
		s.dropEntries(ack)
		ack.req.token.complete(err)
	}

	if s.opts.AutoReconnect {
		s.setState(StateDisconnected, err)
		s.reconnecting = true
		s.scheduleReconnect(err)
		return
	}
	s.failFlights(err)
	s.setState(StateDisconnected, err)
}

func (s *session) scheduleReconnect(err error) {
	d := s.backoff.NextBackOff()
	d = min(max(d, s.opts.ReconnectMin), s.opts.ReconnectMax)
	s.reconnect.reset(d)
	s.log.Info("client reconnect scheduled", "after", d)
	s.setState(StateReconnecting, err)
}

// teardownGracefully sends DISCONNECT when connected, then drops everything.
func (s *session) teardownGracefully() {
	if s.status == StateConnected {
		s.setState(StateDisconnecting, nil)
		if err := s.send(&packet.DISCONNECT{}); err != nil {
			s.log.Warn("client disconnect packet send failed", "error", err)
		}
	}
	s.teardown(ErrDisconnected)
}

// teardown closes the connection, cancels timers and dials, and fails every pending
// request with cause. Subscriptions made at runtime are forgotten.
func (s *session) teardown(cause error) {
	s.cancelDial()
	s.closeConn()
	s.stopTimers()
	s.reconnect.stop()
	s.reconnecting = false

	for _, tok := range s.waiters {
		tok.complete(cause)
	}
	s.waiters = nil
	s.failFlights(cause)
	for _, id := range s.ackIDs() {
		if ack := s.acks[id]; ack.req != nil {
			ack.req.token.complete(cause)
		}
		s.ids.release(id)
	}
	s.acks = make(map[uint16]*pendingAck)
	for _, req := range s.deferred {
		req.token.complete(cause)
	}
	s.deferred = nil
	s.subs.clear()
	s.seed()
	s.inbound = make(map[uint16]struct{})
	s.backoff.Reset()
	s.setState(StateDisconnected, nil)
	s.log.Info("client disconnected")
}

func (s *session) closeConn() {
	if s.conn != nil {
		c := s.conn
		s.conn, s.chunks, s.connDone = nil, nil, nil
		_ = c.Close()
	}
	s.rbuf = s.rbuf[:0]
	s.pingSent = false
}

func (s *session) stopTimers() {
	s.connack.stop()
	s.keepAlive.stop()
	s.ping.stop()
	s.retry.stop()
}

func (s *session) failFlights(err error) {
	for _, fl := range s.flow.drain() {
		fl.token.complete(err)
	}
	s.syncFlow()
}

func (s *session) ackIDs() []uint16 {
	ids := make([]uint16, 0, len(s.acks))
	for id := range s.acks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// send encodes and writes pkt. A write failure is handled as a lost connection.
func (s *session) send(pkt packet.Packet) error {
	if s.conn == nil {
		return ErrNotConnected
	}
	frame, err := packet.Encode(pkt)
	if err != nil {
		s.log.Error("client packet encode failed", "packet", packet.Kind[pkt.Kind()], "error", err)
		return err
	}
	if err := s.conn.Send(frame); err != nil {
		s.connectionLost(err)
		return err
	}
	s.lastSend = time.Now()
	s.stat.sent(len(frame))
	s.log.Debug("client packet sent", "packet", packet.Kind[pkt.Kind()], "len", len(frame))
	return nil
}

func (s *session) requestPublish(req *request) {
	connected := s.status == StateConnected
	if !connected && s.opts.Offline == OfflineReject {
		req.token.complete(ErrNotConnected)
		return
	}
	if req.msg.QoS == AtMostOnce {
		if !connected {
			s.deferRequest(req)
			return
		}
		req.token.complete(s.send(req.msg.packet(0, false)))
		return
	}

	fl := &flight{msg: req.msg, token: req.token}
	ready, err := s.flow.admit(fl)
	if err != nil {
		req.token.complete(err)
		return
	}
	if ready && connected {
		if err := s.transmit(fl); err == nil {
			s.armRetry()
		}
	}
	s.syncFlow()
}

func (s *session) transmit(fl *flight) error {
	return s.send(s.flow.transmit(fl, time.Now()))
}

// promote sends publishes that just got a window slot.
func (s *session) promote() {
	for _, fl := range s.flow.promote() {
		if s.status != StateConnected {
			continue
		}
		if err := s.transmit(fl); err != nil {
			return
		}
	}
}

func (s *session) requestSubscription(req *request) {
	if s.status != StateConnected {
		if s.opts.Offline == OfflineReject {
			req.token.complete(ErrNotConnected)
			return
		}
		s.deferRequest(req)
		return
	}
	if req.kind == requestSubscribe {
		s.sendSubscribe(req.subs, req.handler, req)
		return
	}
	s.sendUnsubscribe(req)
}

// deferRequest holds req until the next CONNACK, at most MaxQueued of them.
func (s *session) deferRequest(req *request) {
	if len(s.deferred) >= s.opts.MaxQueued {
		req.token.complete(ErrQueueFull)
		return
	}
	s.deferred = append(s.deferred, req)
}

func (s *session) sendSubscribe(subs []packet.Subscription, handler MessageHandler, req *request) {
	id, ok := s.ids.acquire()
	if !ok {
		if req != nil {
			req.token.complete(ErrQueueFull)
		}
		return
	}
	ack := &pendingAck{kind: packet.KindSubscribe, req: req, deadline: time.Now().Add(s.opts.AckTimeout)}
	for _, sub := range subs {
		ack.filters = append(ack.filters, sub.TopicFilter)
		if req != nil {
			// registered now so messages racing the SUBACK find their handler
			ack.entries = append(ack.entries, s.subs.set(sub.TopicFilter, sub.MaximumQoS, handler))
		}
	}
	s.acks[id] = ack
	if err := s.send(&packet.SUBSCRIBE{PacketID: id, Subscriptions: subs}); err != nil {
		return
	}
	s.armRetry()
}

func (s *session) sendUnsubscribe(req *request) {
	id, ok := s.ids.acquire()
	if !ok {
		req.token.complete(ErrQueueFull)
		return
	}
	s.acks[id] = &pendingAck{kind: packet.KindUnsubscribe, req: req, filters: req.filters, deadline: time.Now().Add(s.opts.AckTimeout)}
	if err := s.send(&packet.UNSUBSCRIBE{PacketID: id, TopicFilters: req.filters}); err != nil {
		return
	}
	s.armRetry()
}

// dropEntries forgets the subscriptions a failed SUBSCRIBE registered.
func (s *session) dropEntries(ack *pendingAck) {
	if ack.kind != packet.KindSubscribe {
		return
	}
	for i, f := range ack.filters {
		var entry *subscription
		if i < len(ack.entries) {
			entry = ack.entries[i]
		}
		s.subs.remove(f, entry)
	}
}

func (s *session) handleSuback(pkt *packet.SUBACK) {
	ack, ok := s.acks[pkt.PacketID]
	if !ok || ack.kind != packet.KindSubscribe {
		s.log.Warn("client unknown SUBACK ignored", "packet_id", pkt.PacketID)
		return
	}
	delete(s.acks, pkt.PacketID)
	s.ids.release(pkt.PacketID)

	var failed []string
	for i, f := range ack.filters {
		code := packet.CodeSubackFailure
		if i < len(pkt.ReturnCodes) {
			code = pkt.ReturnCodes[i]
		}
		if code != packet.CodeSubackFailure {
			continue
		}
		failed = append(failed, f)
		var entry *subscription
		if i < len(ack.entries) {
			entry = ack.entries[i]
		}
		s.subs.remove(f, entry)
	}
	if len(failed) > 0 {
		s.log.Warn("client subscription refused", "topic", strings.Join(failed, ","))
	}
	if ack.req != nil {
		ack.req.token.granted = pkt.ReturnCodes
		if len(failed) > 0 {
			ack.req.token.complete(fmt.Errorf("%w: %s", ErrSubscribeFailed, strings.Join(failed, ",")))
		} else {
			ack.req.token.complete(nil)
		}
	}
	s.armRetry()
}

func (s *session) handleUnsuback(pkt *packet.UNSUBACK) {
	ack, ok := s.acks[pkt.PacketID]
	if !ok || ack.kind != packet.KindUnsubscribe {
		s.log.Warn("client unknown UNSUBACK ignored", "packet_id", pkt.PacketID)
		return
	}
	delete(s.acks, pkt.PacketID)
	s.ids.release(pkt.PacketID)
	for _, f := range ack.filters {
		s.subs.remove(f, nil)
	}
	ack.req.token.complete(nil)
	s.armRetry()
}

func (s *session) handleAck(kind byte, id uint16) {
	done, reply, ok := s.flow.ack(kind, id, time.Now())
	if !ok {
		s.log.Warn("client ack ignored", "packet", packet.Kind[kind], "packet_id", id)
		return
	}
	if reply != nil {
		if err := s.send(reply); err != nil {
			return
		}
	}
	if done != nil {
		done.token.complete(nil)
		s.promote()
	}
	s.armRetry()
	s.syncFlow()
}

func (s *session) retryFired() {
	now := time.Now()
	retransmit, failed := s.flow.expired(now)
	for _, fl := range failed {
		s.stat.publishTimeout()
		s.log.Warn("client publish timeout", "packet_id", fl.id, "topic", fl.msg.Topic, "retries", fl.retries)
		fl.token.complete(fmt.Errorf("%w: packet_id=%d, topic=%s", ErrPublishTimeout, fl.id, fl.msg.Topic))
	}
	for _, fl := range retransmit {
		s.stat.retransmit()
		s.log.Debug("client retransmit", "packet_id", fl.id, "state", fl.state, "retry", fl.retries)
		if err := s.transmit(fl); err != nil {
			return
		}
	}
	for _, id := range s.ackIDs() {
		ack := s.acks[id]
		if ack.deadline.After(now) {
			continue
		}
		delete(s.acks, id)
		s.ids.release(id)
		s.log.Warn("client acknowledgement timeout", "packet", packet.Kind[ack.kind], "packet_id", id)
		if ack.req != nil {
			s.dropEntries(ack)
			ack.req.token.complete(fmt.Errorf("%w: %s packet_id=%d", ErrTimeout, packet.Kind[ack.kind], id))
		}
	}
	s.promote()
	s.armRetry()
	s.syncFlow()
}

// armRetry points the retry timer at the earliest acknowledgement deadline.
func (s *session) armRetry() {
	if s.status != StateConnected {
		s.retry.stop()
		return
	}
	next, ok := s.flow.nextDeadline()
	for _, ack := range s.acks {
		if !ok || ack.deadline.Before(next) {
			next, ok = ack.deadline, true
		}
	}
	if !ok {
		s.retry.stop()
		return
	}
	s.retry.reset(max(time.Until(next), 0))
}

func (s *session) keepAliveFired() {
	if s.status != StateConnected {
		return
	}
	if idle := time.Since(s.lastSend); idle < s.opts.KeepAlive {
		s.keepAlive.reset(s.opts.KeepAlive - idle)
		return
	}
	if !s.pingSent {
		if err := s.send(&packet.PINGREQ{}); err != nil {
			return
		}
		s.pingSent = true
		s.ping.reset(s.opts.pingTimeout())
	}
	s.keepAlive.reset(s.opts.KeepAlive)
}

func (s *session) handleChunk(chunk []byte) {
	s.rbuf = append(s.rbuf, chunk...)
	off := 0
	for off < len(s.rbuf) {
		if err := s.checkSize(s.rbuf[off:]); err != nil {
			s.malformed(err)
			return
		}
		pkt, n, err := packet.Decode(s.rbuf[off:])
		if errors.Is(err, packet.ErrNeedMoreData) {
			break
		}
		if err != nil {
			s.malformed(err)
			return
		}
		off += n
		s.stat.received(n)
		s.handlePacket(pkt)
		if s.conn == nil {
			return
		}
	}
	s.rbuf = append(s.rbuf[:0], s.rbuf[off:]...)
}

// checkSize rejects a packet larger than MaxPacketSize from its fixed header alone.
func (s *session) checkSize(b []byte) error {
	if s.opts.MaxPacketSize == 0 {
		return nil
	}
	size, err := packet.FrameSize(b)
	if err != nil || size <= s.opts.MaxPacketSize {
		return nil
	}
	return fmt.Errorf("%w: %w: %d bytes", packet.ErrMalformedPacket, packet.ErrPacketTooLarge, size)
}

func (s *session) malformed(err error) {
	s.stat.malformed()
	s.log.Warn("client malformed packet", "error", err)
	if s.opts.DisconnectOnMalformed {
		s.connectionLost(fmt.Errorf("%w: %w", ErrConnectionLost, err))
		return
	}
	s.rbuf = s.rbuf[:0]
}

func (s *session) handlePacket(pkt packet.Packet) {
	s.log.Debug("client packet received", "packet", packet.Kind[pkt.Kind()])
	if s.status == StateConnecting {
		if connack, ok := pkt.(*packet.CONNACK); ok {
			s.handleConnack(connack)
			return
		}
		s.malformed(fmt.Errorf("%w: %s before CONNACK", packet.ErrMalformedPacket, packet.Kind[pkt.Kind()]))
		return
	}

	switch pkt := pkt.(type) {
	case *packet.PUBLISH:
		s.handlePublish(pkt)
	case *packet.PUBACK:
		s.handleAck(packet.KindPuback, pkt.PacketID)
	case *packet.PUBREC:
		s.handleAck(packet.KindPubrec, pkt.PacketID)
	case *packet.PUBCOMP:
		s.handleAck(packet.KindPubcomp, pkt.PacketID)
	case *packet.PUBREL:
		delete(s.inbound, pkt.PacketID)
		_ = s.send(&packet.PUBCOMP{PacketID: pkt.PacketID})
	case *packet.SUBACK:
		s.handleSuback(pkt)
	case *packet.UNSUBACK:
		s.handleUnsuback(pkt)
	case *packet.PINGRESP:
		s.pingSent = false
		s.ping.stop()
	default:
		s.malformed(fmt.Errorf("%w: unexpected %s from server", packet.ErrMalformedPacket, packet.Kind[pkt.Kind()]))
	}
}

func (s *session) handlePublish(pkt *packet.PUBLISH) {
	msg := messageFromPacket(pkt)
	switch pkt.QoS {
	case AtMostOnce:
		s.deliver(msg)
	case AtLeastOnce:
		s.deliver(msg)
		_ = s.send(&packet.PUBACK{PacketID: pkt.PacketID})
	case ExactlyOnce:
		// delivered once per id until the PUBREL releases it [MQTT-4.3.3-2]
		if _, seen := s.inbound[pkt.PacketID]; !seen {
			s.inbound[pkt.PacketID] = struct{}{}
			s.deliver(msg)
		}
		_ = s.send(&packet.PUBREC{PacketID: pkt.PacketID})
	}
}

func (s *session) deliver(msg *Message) {
	handlers := s.subs.handlers(msg.Topic, s.opts.OnMessage)
	if len(handlers) == 0 {
		s.log.Debug("client message without handler dropped", "topic", msg.Topic)
		return
	}
	s.dispatch.post(func() {
		for _, h := range handlers {
			h(msg)
		}
	})
}

func (s *session) setState(st State, err error) {
	prev := s.status
	s.status = st
	s.state.Store(int32(st))
	s.stat.connected(st == StateConnected)
	if prev == st && err == nil {
		return
	}
	if fn := s.opts.OnStatus; fn != nil {
		ev := StatusEvent{State: st, Err: err}
		s.dispatch.post(func() { fn(ev) })
	}
}

func (s *session) syncFlow() {
	s.inflight.Store(int32(s.flow.len()))
	s.stat.flow(s.flow.len(), s.flow.queued())
}
