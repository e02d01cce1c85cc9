package mqtt

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-io/iotmqtt/mqtttest"
	"github.com/golang-io/iotmqtt/packet"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func newTestServer(t *testing.T) *mqtttest.Server {
	t.Helper()
	s := mqtttest.NewServerLogger(discard)
	t.Cleanup(s.Close)
	return s
}

// statusRecorder collects status events.
type statusRecorder chan StatusEvent

func (r statusRecorder) option() Option {
	return OnStatus(func(ev StatusEvent) { r <- ev })
}

func (r statusRecorder) wait(t *testing.T, state State) StatusEvent {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev := <-r:
			if ev.State == state {
				return ev
			}
		case <-timeout:
			t.Fatalf("no %s status event", state)
		}
	}
}

func newTestClient(t *testing.T, url string, opts ...Option) *Client {
	t.Helper()
	c, err := New(append([]Option{URL(url), Logger(discard)}, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func connect(t *testing.T, c *Client) {
	t.Helper()
	if err := c.Connect(testContext(t)); err != nil {
		t.Fatalf("Connect: %v", err)
	}
}

func receive(t *testing.T, ch <-chan *Message) *Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("no message received")
		return nil
	}
}

func TestPublishSubscribeRoundTrip(t *testing.T) {
	s := newTestServer(t)
	for name, url := range map[string]string{"tcp": s.URL, "websocket": s.WSURL} {
		t.Run(name, func(t *testing.T) {
			ctx := testContext(t)
			c := newTestClient(t, url)
			connect(t, c)

			got := make(chan *Message, 3)
			sub, err := c.Subscribe(ctx, name+"/+/c", ExactlyOnce, func(m *Message) { got <- m })
			if err != nil {
				t.Fatalf("Subscribe: %v", err)
			}
			if sub.QoS != ExactlyOnce {
				t.Errorf("granted QoS = %d", sub.QoS)
			}

			for qos := AtMostOnce; qos <= ExactlyOnce; qos++ {
				if err := c.Publish(ctx, name+"/b/c", []byte{'0' + qos}, qos, false); err != nil {
					t.Fatalf("Publish qos %d: %v", qos, err)
				}
				msg := receive(t, got)
				if msg.Topic != name+"/b/c" || msg.QoS != qos || string(msg.Payload) != string([]byte{'0' + qos}) {
					t.Errorf("received %s", msg)
				}
			}
			if c.InFlight() != 0 {
				t.Errorf("InFlight = %d after completed publishes", c.InFlight())
			}

			if err := sub.Unsubscribe(ctx); err != nil {
				t.Fatalf("Unsubscribe: %v", err)
			}
			if err := c.Publish(ctx, name+"/b/c", nil, AtLeastOnce, false); err != nil {
				t.Fatal(err)
			}
			select {
			case msg := <-got:
				t.Errorf("received %s after Unsubscribe", msg)
			case <-time.After(100 * time.Millisecond):
			}
		})
	}
}

func TestExactlyOnceFlow(t *testing.T) {
	s := newTestServer(t)
	c := newTestClient(t, s.URL)
	connect(t, c)

	ctx := testContext(t)
	if err := c.Publish(ctx, "t", []byte("x"), ExactlyOnce, false); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if c.InFlight() != 0 {
		t.Errorf("InFlight = %d, want 0", c.InFlight())
	}
	pubs := s.Received(packet.KindPublish)
	rels := s.Received(packet.KindPubrel)
	if len(pubs) != 1 || len(rels) != 1 {
		t.Fatalf("broker got %d PUBLISH and %d PUBREL, want 1 each", len(pubs), len(rels))
	}
	pub := pubs[0].(*packet.PUBLISH)
	if pub.QoS != 2 || pub.Message.TopicName != "t" || string(pub.Message.Content) != "x" {
		t.Errorf("PUBLISH = %s %q qos=%d", pub.Message.TopicName, pub.Message.Content, pub.QoS)
	}
	if rel := rels[0].(*packet.PUBREL); rel.PacketID != pub.PacketID {
		t.Errorf("PUBREL id %d, PUBLISH id %d", rel.PacketID, pub.PacketID)
	}
}

func TestInboundExactlyOnceDeduplicated(t *testing.T) {
	s := newTestServer(t)
	var calls atomic.Int32
	c := newTestClient(t, s.URL, OnMessage(func(*Message) { calls.Add(1) }))
	connect(t, c)

	pub := &packet.PUBLISH{
		FixedHeader: &packet.FixedHeader{Kind: packet.KindPublish, QoS: 2},
		PacketID:    7,
		Message:     &packet.Message{TopicName: "dup", Content: []byte("x")},
	}
	first, _ := packet.Encode(pub)
	pub.Dup = 1
	again, _ := packet.Encode(pub)
	rel, _ := packet.Encode(&packet.PUBREL{PacketID: 7})
	for _, b := range [][]byte{first, again, rel} {
		if err := s.Inject(b); err != nil {
			t.Fatal(err)
		}
	}

	ctx := testContext(t)
	if _, err := s.WaitReceived(ctx, packet.KindPubcomp, 1); err != nil {
		t.Fatal(err)
	}
	if recs := s.Received(packet.KindPubrec); len(recs) != 2 {
		t.Errorf("PUBREC sent %d times, want 2", len(recs))
	}
	// the dispatcher may still be running the handler
	deadline := time.Now().Add(time.Second)
	for calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)
	if n := calls.Load(); n != 1 {
		t.Errorf("handler called %d times, want 1", n)
	}
}

func TestKeepAlive(t *testing.T) {
	t.Run("idle sends one PINGREQ", func(t *testing.T) {
		s := newTestServer(t)
		status := make(statusRecorder, 16)
		c := newTestClient(t, s.URL, KeepAlive(time.Second), status.option())
		connect(t, c)

		time.Sleep(1500 * time.Millisecond)
		if n := len(s.Received(packet.KindPingreq)); n != 1 {
			t.Errorf("PINGREQ sent %d times in 1.5s, want 1", n)
		}
		if c.State() != StateConnected {
			t.Errorf("State = %s, want CONNECTED", c.State())
		}
	})

	t.Run("dropped PINGRESP loses the connection", func(t *testing.T) {
		s := newTestServer(t)
		s.DropPingresp(true)
		status := make(statusRecorder, 16)
		c := newTestClient(t, s.URL, KeepAlive(time.Second), PingTimeout(300*time.Millisecond), status.option())
		connect(t, c)

		ev := status.wait(t, StateDisconnected)
		if !errors.Is(ev.Err, ErrConnectionLost) || !errors.Is(ev.Err, ErrTransport) {
			t.Errorf("status error = %v, want %v", ev.Err, ErrConnectionLost)
		}
		if c.State() != StateDisconnected {
			t.Errorf("State = %s", c.State())
		}
	})
}

func TestConnectRefused(t *testing.T) {
	s := newTestServer(t)
	s.SetConnackCode(packet.ErrNotAuthorized.Code)
	c := newTestClient(t, s.URL, AutoReconnect(10*time.Millisecond, 20*time.Millisecond))

	err := c.Connect(testContext(t))
	if !errors.Is(err, ErrConnectFailed) || !errors.Is(err, packet.ErrNotAuthorized) {
		t.Fatalf("Connect err = %v, want %v wrapping %v", err, ErrConnectFailed, packet.ErrNotAuthorized)
	}
	time.Sleep(100 * time.Millisecond)
	if c.State() != StateDisconnected || len(s.Received(packet.KindConnect)) != 1 {
		t.Errorf("state=%s CONNECT count=%d: a refused connect must not be retried", c.State(), len(s.Received(packet.KindConnect)))
	}
}

func TestConnectTimeout(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go func() {
		var conns []net.Conn
		for {
			conn, err := ln.Accept()
			if err != nil {
				for _, c := range conns {
					c.Close()
				}
				return
			}
			conns = append(conns, conn)
		}
	}()

	c := newTestClient(t, "mqtt://"+ln.Addr().String(), ConnectTimeout(200*time.Millisecond))
	if err := c.Connect(testContext(t)); !errors.Is(err, ErrConnectFailed) {
		t.Fatalf("Connect err = %v, want %v", err, ErrConnectFailed)
	}

	c = newTestClient(t, "mqtt://127.0.0.1:1", ConnectTimeout(200*time.Millisecond))
	if err := c.Connect(testContext(t)); !errors.Is(err, ErrConnectFailed) {
		t.Fatalf("Connect to a closed port err = %v, want %v", err, ErrConnectFailed)
	}
}

func TestCredentialsAndWill(t *testing.T) {
	s := newTestServer(t)
	var calls atomic.Int32
	c := newTestClient(t, s.URL,
		ClientID("creds"),
		CleanSession(false),
		CredentialsFunc(func(context.Context) (Credentials, error) {
			calls.Add(1)
			return Credentials{Username: "user", Password: []byte("secret")}, nil
		}),
		LastWill("will/creds", []byte("gone"), AtLeastOnce, true),
	)
	connect(t, c)

	connects := s.Received(packet.KindConnect)
	if len(connects) != 1 {
		t.Fatalf("CONNECT count = %d", len(connects))
	}
	pkt := connects[0].(*packet.CONNECT)
	if pkt.ClientID != "creds" || pkt.Username != "user" || string(pkt.Password) != "secret" || pkt.CleanSession {
		t.Errorf("CONNECT = %+v", pkt)
	}
	if pkt.Will == nil || pkt.Will.TopicName != "will/creds" || pkt.Will.QoS != 1 || !pkt.Will.Retain {
		t.Errorf("CONNECT will = %+v", pkt.Will)
	}
	if calls.Load() != 1 {
		t.Errorf("credentials provider called %d times", calls.Load())
	}

	failing := newTestClient(t, s.URL, CredentialsFunc(func(context.Context) (Credentials, error) {
		return Credentials{}, errors.New("no token")
	}))
	if err := failing.Connect(testContext(t)); !errors.Is(err, ErrConnectFailed) {
		t.Errorf("Connect with failing credentials err = %v", err)
	}
}

func TestConnectInvalidCredentials(t *testing.T) {
	s := newTestServer(t)
	tests := []struct {
		name  string
		creds Credentials
		want  error
	}{
		{"password without username", Credentials{Password: []byte("signed-token")}, ErrInvalidArgument},
		{"password too long", Credentials{Username: "u", Password: make([]byte, 0x10000)}, ErrMalformedPacket},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status := make(statusRecorder, 16)
			c := newTestClient(t, s.URL, status.option(), ConnectTimeout(300*time.Millisecond), CredentialsFunc(func(context.Context) (Credentials, error) {
				return tt.creds, nil
			}))
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()

			err := c.Connect(ctx)
			if !errors.Is(err, ErrConnectFailed) || !errors.Is(err, tt.want) {
				t.Fatalf("Connect err = %v, want %v wrapping %v", err, ErrConnectFailed, tt.want)
			}
			if errors.Is(err, context.DeadlineExceeded) {
				t.Errorf("Connect waited for its deadline: %v", err)
			}
			if ev := status.wait(t, StateDisconnected); !errors.Is(ev.Err, tt.want) {
				t.Errorf("status error = %v", ev.Err)
			}
		})
	}
	if n := len(s.Received(packet.KindConnect)); n != 0 {
		t.Errorf("broker got %d CONNECT", n)
	}
}

func TestOfflineQueue(t *testing.T) {
	s := newTestServer(t)
	ctx := testContext(t)
	c := newTestClient(t, s.URL)

	got := make(chan *Message, 2)
	subscribed := make(chan error, 1)
	go func() {
		_, err := c.Subscribe(ctx, "q/#", AtLeastOnce, func(m *Message) { got <- m })
		subscribed <- err
	}()
	tok0, err := c.PublishAsync(ctx, "q/0", []byte("zero"), AtMostOnce, false)
	if err != nil {
		t.Fatal(err)
	}
	tok1, err := c.PublishAsync(ctx, "q/1", []byte("one"), AtLeastOnce, false)
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)
	if len(s.Received(0)) != 0 {
		t.Fatal("packets sent before Connect")
	}

	connect(t, c)
	if err := <-subscribed; err != nil {
		t.Fatalf("queued Subscribe: %v", err)
	}
	for _, tok := range []*Token{tok0, tok1} {
		if err := tok.Wait(ctx); err != nil {
			t.Fatalf("queued publish: %v", err)
		}
	}
	if n := len(s.Received(packet.KindPublish)); n != 2 {
		t.Errorf("broker got %d PUBLISH, want 2", n)
	}
}

func TestOfflineReject(t *testing.T) {
	c := newTestClient(t, "mqtt://127.0.0.1:1", Offline(OfflineReject))
	ctx := testContext(t)
	if err := c.Publish(ctx, "a", nil, AtLeastOnce, false); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish err = %v, want %v", err, ErrNotConnected)
	}
	if err := c.Publish(ctx, "a", nil, AtMostOnce, false); !errors.Is(err, ErrNotConnected) {
		t.Errorf("QoS 0 Publish err = %v, want %v", err, ErrNotConnected)
	}
	if _, err := c.Subscribe(ctx, "a", 0, nil); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Subscribe err = %v, want %v", err, ErrNotConnected)
	}
	if err := c.Unsubscribe(ctx, "a"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Unsubscribe err = %v, want %v", err, ErrNotConnected)
	}
}

func TestOfflineQueueBound(t *testing.T) {
	c := newTestClient(t, "mqtt://127.0.0.1:1", MaxQueued(2))
	ctx := testContext(t)

	var held []*Token
	for i := 0; i < 2; i++ {
		tok, err := c.PublishAsync(ctx, "a", nil, AtMostOnce, false)
		if err != nil {
			t.Fatal(err)
		}
		held = append(held, tok)
	}
	tok, err := c.PublishAsync(ctx, "a", nil, AtMostOnce, false)
	if err != nil {
		t.Fatal(err)
	}
	if err := tok.Wait(ctx); !errors.Is(err, ErrQueueFull) {
		t.Errorf("third QoS 0 publish err = %v, want %v", err, ErrQueueFull)
	}
	if _, err := c.Subscribe(ctx, "a", AtLeastOnce, nil); !errors.Is(err, ErrQueueFull) {
		t.Errorf("Subscribe err = %v, want %v", err, ErrQueueFull)
	}
	if err := c.Unsubscribe(ctx, "a"); !errors.Is(err, ErrQueueFull) {
		t.Errorf("Unsubscribe err = %v, want %v", err, ErrQueueFull)
	}
	for i, tok := range held {
		select {
		case <-tok.Done():
			t.Errorf("held publish %d completed offline: %v", i, tok.Err())
		default:
		}
	}
}

func TestPublishRetransmitThenTimeout(t *testing.T) {
	s := newTestServer(t)
	s.WithholdAcks(10)
	stat := NewStat(nil)
	c := newTestClient(t, s.URL, Retry(200*time.Millisecond, 2), Metrics(stat))
	connect(t, c)

	err := c.Publish(testContext(t), "r", []byte("x"), AtLeastOnce, false)
	if !errors.Is(err, ErrPublishTimeout) {
		t.Fatalf("Publish err = %v, want %v", err, ErrPublishTimeout)
	}
	pubs := s.Received(packet.KindPublish)
	if len(pubs) != 3 {
		t.Fatalf("PUBLISH sent %d times, want 3", len(pubs))
	}
	first := pubs[0].(*packet.PUBLISH)
	for i, p := range pubs {
		pub := p.(*packet.PUBLISH)
		if want := uint8(min(i, 1)); pub.Dup != want || pub.PacketID != first.PacketID {
			t.Errorf("PUBLISH %d: DUP=%d id=%d, want DUP=%d id=%d", i, pub.Dup, pub.PacketID, want, first.PacketID)
		}
	}
	if c.InFlight() != 0 || c.State() != StateConnected {
		t.Errorf("InFlight=%d State=%s", c.InFlight(), c.State())
	}
	if n := testutil.ToFloat64(stat.Retransmits); n != 2 {
		t.Errorf("retransmits metric = %v, want 2", n)
	}
	if n := testutil.ToFloat64(stat.PublishTimeouts); n != 1 {
		t.Errorf("publish timeouts metric = %v, want 1", n)
	}
}

func TestPublishWindow(t *testing.T) {
	s := newTestServer(t)
	s.WithholdAcks(100)
	c := newTestClient(t, s.URL, Window(2), Retry(time.Minute, 0))
	connect(t, c)
	ctx := testContext(t)

	var tokens []*Token
	for i := 0; i < 5; i++ {
		tok, err := c.PublishAsync(ctx, "w", []byte{byte(i)}, AtLeastOnce, false)
		if err != nil {
			t.Fatal(err)
		}
		tokens = append(tokens, tok)
	}
	if _, err := s.WaitReceived(ctx, packet.KindPublish, 2); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)
	if n := len(s.Received(packet.KindPublish)); n != 2 {
		t.Errorf("broker got %d PUBLISH with a window of 2", n)
	}
	if c.InFlight() != 2 {
		t.Errorf("InFlight = %d, want 2", c.InFlight())
	}

	if err := c.Disconnect(ctx); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	for i, tok := range tokens {
		if err := tok.Wait(ctx); !errors.Is(err, ErrDisconnected) {
			t.Errorf("publish %d err = %v, want %v", i, err, ErrDisconnected)
		}
	}
	if c.InFlight() != 0 {
		t.Errorf("InFlight = %d after Disconnect", c.InFlight())
	}
}

func TestPublishBlock(t *testing.T) {
	s := newTestServer(t)
	s.WithholdAcks(100)
	c := newTestClient(t, s.URL, Window(1), Admission(PublishBlock), Retry(time.Minute, 0))
	connect(t, c)

	if _, err := c.PublishAsync(testContext(t), "b", nil, AtLeastOnce, false); err != nil {
		t.Fatal(err)
	}
	short, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, err := c.PublishAsync(short, "b", nil, AtLeastOnce, false); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("second PublishAsync err = %v, want it to block until the deadline", err)
	}
	if err := c.Publish(testContext(t), "b", nil, AtMostOnce, false); err != nil {
		t.Errorf("QoS 0 publish blocked by the window: %v", err)
	}
}

func TestAutoReconnect(t *testing.T) {
	s := newTestServer(t)
	status := make(statusRecorder, 64)
	stat := NewStat(nil)
	c := newTestClient(t, s.URL,
		ClientID("phoenix"),
		AutoReconnect(20*time.Millisecond, 100*time.Millisecond),
		Metrics(stat),
		status.option(),
	)
	connect(t, c)
	status.wait(t, StateConnected)
	ctx := testContext(t)

	got := make(chan *Message, 8)
	if _, err := c.Subscribe(ctx, "r/#", AtLeastOnce, func(m *Message) { got <- m }); err != nil {
		t.Fatal(err)
	}

	// an unacknowledged publish survives the reconnect
	s.WithholdAcks(1)
	tok, err := c.PublishAsync(ctx, "elsewhere", []byte("keep"), AtLeastOnce, false)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.WaitReceived(ctx, packet.KindPublish, 1); err != nil {
		t.Fatal(err)
	}

	s.KickClient("phoenix")
	ev := status.wait(t, StateDisconnected)
	if !errors.Is(ev.Err, ErrConnectionLost) {
		t.Errorf("loss error = %v, want %v", ev.Err, ErrConnectionLost)
	}
	status.wait(t, StateReconnecting)
	status.wait(t, StateConnected)

	if err := tok.Wait(ctx); err != nil {
		t.Fatalf("publish across reconnect: %v", err)
	}
	pubs := s.Received(packet.KindPublish)
	if last := pubs[len(pubs)-1].(*packet.PUBLISH); last.Dup != 1 || string(last.Message.Content) != "keep" {
		t.Errorf("resent PUBLISH DUP=%d payload=%q", last.Dup, last.Message.Content)
	}

	if _, err := s.WaitReceived(ctx, packet.KindSubscribe, 2); err != nil {
		t.Fatalf("no resubscribe: %v", err)
	}
	for {
		if err := s.Publish("r/x", []byte("after"), 1, false); err != nil {
			t.Fatal(err)
		}
		select {
		case msg := <-got:
			if string(msg.Payload) != "after" {
				t.Errorf("payload = %q", msg.Payload)
			}
			if n := testutil.ToFloat64(stat.Reconnects); n < 1 {
				t.Errorf("reconnects metric = %v", n)
			}
			return
		case <-time.After(50 * time.Millisecond):
		case <-ctx.Done():
			t.Fatal("no message after resubscribe")
		}
	}
}

func TestConnectionLostWithoutReconnect(t *testing.T) {
	s := newTestServer(t)
	s.WithholdAcks(1)
	c := newTestClient(t, s.URL, ClientID("mortal"))
	connect(t, c)
	ctx := testContext(t)

	tok, err := c.PublishAsync(ctx, "t", nil, AtLeastOnce, false)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.WaitReceived(ctx, packet.KindPublish, 1); err != nil {
		t.Fatal(err)
	}
	s.KickClient("mortal")
	if err := tok.Wait(ctx); !errors.Is(err, ErrConnectionLost) {
		t.Errorf("in-flight publish err = %v, want %v", err, ErrConnectionLost)
	}
	if c.State() != StateDisconnected {
		t.Errorf("State = %s", c.State())
	}
	connect(t, c)
}

func TestMalformedInbound(t *testing.T) {
	t.Run("disconnect", func(t *testing.T) {
		s := newTestServer(t)
		status := make(statusRecorder, 16)
		c := newTestClient(t, s.URL, status.option())
		connect(t, c)

		_ = s.Inject([]byte{0xF0, 0x00})
		ev := status.wait(t, StateDisconnected)
		if !errors.Is(ev.Err, ErrMalformedPacket) || !errors.Is(ev.Err, ErrConnectionLost) {
			t.Errorf("status error = %v", ev.Err)
		}
	})

	t.Run("discard", func(t *testing.T) {
		s := newTestServer(t)
		stat := NewStat(nil)
		c := newTestClient(t, s.URL, DisconnectOnMalformed(false), Metrics(stat))
		connect(t, c)

		_ = s.Inject([]byte{0x40, 0x03, 0x00, 0x01, 0x00})
		deadline := time.Now().Add(5 * time.Second)
		for testutil.ToFloat64(stat.MalformedPackets) == 0 && time.Now().Before(deadline) {
			time.Sleep(10 * time.Millisecond)
		}
		if err := c.Publish(testContext(t), "still", nil, AtLeastOnce, false); err != nil {
			t.Fatalf("Publish after malformed packet: %v", err)
		}
		if n := testutil.ToFloat64(stat.MalformedPackets); n != 1 {
			t.Errorf("malformed metric = %v, want 1", n)
		}
		if c.State() != StateConnected {
			t.Errorf("State = %s", c.State())
		}
	})
	t.Run("too large", func(t *testing.T) {
		s := newTestServer(t)
		stat := NewStat(nil)
		status := make(statusRecorder, 16)
		c := newTestClient(t, s.URL, MaxPacketSize(1024), Metrics(stat), status.option())
		connect(t, c)

		// a PUBLISH header declaring 2 MiB, the body never follows
		_ = s.Inject([]byte{0x30, 0x80, 0x80, 0x80, 0x01})
		ev := status.wait(t, StateDisconnected)
		if !errors.Is(ev.Err, ErrMalformedPacket) || !errors.Is(ev.Err, packet.ErrPacketTooLarge) {
			t.Errorf("status error = %v", ev.Err)
		}
		if n := testutil.ToFloat64(stat.MalformedPackets); n != 1 {
			t.Errorf("malformed metric = %v, want 1", n)
		}
	})
}

func TestUnknownAckIgnored(t *testing.T) {
	s := newTestServer(t)
	c := newTestClient(t, s.URL)
	connect(t, c)

	for _, pkt := range []packet.Packet{&packet.PUBACK{PacketID: 999}, &packet.PUBCOMP{PacketID: 998}, &packet.SUBACK{PacketID: 997, ReturnCodes: []byte{0}}} {
		b, _ := packet.Encode(pkt)
		_ = s.Inject(b)
	}
	if err := c.Publish(testContext(t), "t", nil, AtLeastOnce, false); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if c.State() != StateConnected {
		t.Errorf("State = %s", c.State())
	}
}

func TestSubscribeRefused(t *testing.T) {
	s := newTestServer(t)
	s.Refuse("secret/#")
	c := newTestClient(t, s.URL)
	connect(t, c)
	ctx := testContext(t)

	if _, err := c.Subscribe(ctx, "secret/#", 0, func(*Message) {}); !errors.Is(err, ErrSubscribeFailed) {
		t.Fatalf("Subscribe err = %v, want %v", err, ErrSubscribeFailed)
	}
	if n := c.session.subs.len(); n != 0 {
		t.Errorf("refused filter kept, %d subscriptions", n)
	}
}

func TestInitialSubscriptions(t *testing.T) {
	s := newTestServer(t)
	got := make(chan *Message, 1)
	c := newTestClient(t, s.URL,
		Subscriptions(packet.Subscription{TopicFilter: "init/+", MaximumQoS: 1}),
		OnMessage(func(m *Message) { got <- m }),
	)
	connect(t, c)

	ctx := testContext(t)
	if _, err := s.WaitReceived(ctx, packet.KindSubscribe, 1); err != nil {
		t.Fatal(err)
	}
	for {
		_ = s.Publish("init/a", []byte("hi"), 1, false)
		select {
		case msg := <-got:
			if msg.Topic != "init/a" {
				t.Errorf("topic = %s", msg.Topic)
			}
			return
		case <-time.After(50 * time.Millisecond):
		case <-ctx.Done():
			t.Fatal("initial subscription not made")
		}
	}
}

func TestDisconnectAndReconnect(t *testing.T) {
	s := newTestServer(t)
	status := make(statusRecorder, 16)
	c := newTestClient(t, s.URL, status.option())
	ctx := testContext(t)
	connect(t, c)

	if _, err := c.Subscribe(ctx, "d/#", 0, nil); err != nil {
		t.Fatal(err)
	}
	if err := c.Disconnect(ctx); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if _, err := s.WaitReceived(ctx, packet.KindDisconnect, 1); err != nil {
		t.Fatal(err)
	}
	ev := status.wait(t, StateDisconnected)
	if ev.Err != nil {
		t.Errorf("Disconnect status error = %v, want nil", ev.Err)
	}
	if c.session.subs.len() != 0 {
		t.Error("subscriptions kept after Disconnect")
	}
	if err := c.Disconnect(ctx); err != nil {
		t.Errorf("second Disconnect: %v", err)
	}

	connect(t, c)
	time.Sleep(50 * time.Millisecond)
	if n := len(s.Received(packet.KindSubscribe)); n != 1 {
		t.Errorf("SUBSCRIBE count = %d, forgotten subscription was resent", n)
	}
}

func TestClose(t *testing.T) {
	s := newTestServer(t)
	s.WithholdAcks(1)
	c := newTestClient(t, s.URL)
	connect(t, c)
	ctx := testContext(t)

	tok, err := c.PublishAsync(ctx, "c", nil, AtLeastOnce, false)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if err := tok.Wait(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("pending publish err = %v, want %v", err, ErrClosed)
	}
	if err := c.Publish(ctx, "c", nil, AtMostOnce, false); !errors.Is(err, ErrClosed) {
		t.Errorf("Publish after Close err = %v, want %v", err, ErrClosed)
	}
	if err := c.Connect(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("Connect after Close err = %v, want %v", err, ErrClosed)
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestStatCounts(t *testing.T) {
	s := newTestServer(t)
	stat := NewStat(nil)
	c := newTestClient(t, s.URL, Metrics(stat))
	connect(t, c)

	if err := c.Publish(testContext(t), "m", []byte("x"), AtLeastOnce, false); err != nil {
		t.Fatal(err)
	}
	if testutil.ToFloat64(stat.Connected) != 1 {
		t.Error("connected gauge not set")
	}
	// CONNECT and PUBLISH out, CONNACK and PUBACK in
	if n := testutil.ToFloat64(stat.PacketSent); n != 2 {
		t.Errorf("packets sent = %v, want 2", n)
	}
	if n := testutil.ToFloat64(stat.PacketReceived); n != 2 {
		t.Errorf("packets received = %v, want 2", n)
	}
	if n := testutil.ToFloat64(stat.ByteReceived); n != 8 {
		t.Errorf("bytes received = %v, want 8", n)
	}
}
