package mqtt

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-io/iotmqtt/packet"
)

func TestNewOptionsDefaults(t *testing.T) {
	o := newOptions()
	if !strings.HasPrefix(o.ClientID, "mqtt-") {
		t.Errorf("ClientID = %q", o.ClientID)
	}
	if o.KeepAlive != 60*time.Second || o.Window != 16 || o.MaxRetries != 3 || !o.CleanSession {
		t.Errorf("unexpected defaults: %+v", o)
	}
	if o.pingTimeout() != 30*time.Second {
		t.Errorf("pingTimeout = %s, want 30s", o.pingTimeout())
	}
	if o := newOptions(KeepAlive(time.Second)); o.pingTimeout() != time.Second {
		t.Error("pingTimeout below one second")
	}
	if o := newOptions(PingTimeout(time.Millisecond)); o.pingTimeout() != time.Millisecond {
		t.Error("PingTimeout option ignored")
	}
	if o := newOptions(KeepAlive(1500 * time.Millisecond)); o.KeepAlive != time.Second {
		t.Errorf("KeepAlive = %s, want whole seconds", o.KeepAlive)
	}
}

func TestOptionsValidate(t *testing.T) {
	tests := map[string][]Option{
		"bad scheme":       {URL("http://127.0.0.1")},
		"bad url":          {URL("mqtt://[::1")},
		"keep alive":       {KeepAlive(0x10000 * time.Second)},
		"window":           {Window(0)},
		"packet size":      {MaxPacketSize(-1)},
		"retries":          {Retry(time.Second, -1)},
		"ack timeout":      {Retry(0, 1)},
		"reconnect":        {AutoReconnect(time.Minute, time.Second)},
		"will topic":       {LastWill("a/+", nil, 0, false)},
		"will qos":         {LastWill("a", nil, 3, false)},
		"subscription":     {Subscriptions(packet.Subscription{TopicFilter: "a/#/b"})},
		"subscription qos": {Subscriptions(packet.Subscription{TopicFilter: "a", MaximumQoS: 3})},
	}
	for name, opts := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := New(opts...); !errors.Is(err, ErrInvalidArgument) {
				t.Errorf("New err = %v, want %v", err, ErrInvalidArgument)
			}
		})
	}

	c, err := New(URL("ws://broker.example/mqtt"), ClientID("c1"), Header("Authorization", "Bearer x"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()
	if c.ID() != "c1" || c.State() != StateDisconnected || c.InFlight() != 0 {
		t.Errorf("new client: id=%s state=%s inflight=%d", c.ID(), c.State(), c.InFlight())
	}
}

func TestClientInvalidArgument(t *testing.T) {
	c, err := New(Logger(discard))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	ctx := context.Background()

	publishes := []struct {
		name  string
		topic string
		qos   byte
	}{
		{"empty topic", "", 0},
		{"wildcard +", "a/+/c", 0},
		{"wildcard #", "a/#", 1},
		{"qos", "a", 3},
		{"null", "a\x00b", 0},
	}
	for _, tt := range publishes {
		t.Run("publish "+tt.name, func(t *testing.T) {
			if err := c.Publish(ctx, tt.topic, nil, tt.qos, false); !errors.Is(err, ErrInvalidArgument) {
				t.Errorf("Publish err = %v, want %v", err, ErrInvalidArgument)
			}
		})
	}

	for _, filter := range []string{"", "a/#/b", "a+", "#/a"} {
		t.Run("subscribe "+filter, func(t *testing.T) {
			if _, err := c.Subscribe(ctx, filter, 0, nil); !errors.Is(err, ErrInvalidArgument) {
				t.Errorf("Subscribe err = %v, want %v", err, ErrInvalidArgument)
			}
		})
	}
	if _, err := c.Subscribe(ctx, "a", 3, nil); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("Subscribe qos 3 err = %v", err)
	}
	if err := c.Unsubscribe(ctx); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("Unsubscribe without filters err = %v", err)
	}
}
