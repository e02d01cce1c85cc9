package mqtt

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestStatRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := NewStat(prometheus.Labels{"client": "c1"})
	if err := s.Register(reg); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := s.Register(reg); err == nil {
		t.Error("registering the same metrics twice returned nil error")
	}

	// a second client needs its own labels
	if err := NewStat(prometheus.Labels{"client": "c2"}).Register(reg); err != nil {
		t.Errorf("Register with other labels: %v", err)
	}
}

func TestStatHelpers(t *testing.T) {
	s := NewStat(nil)
	s.received(10)
	s.sent(4)
	s.sent(6)
	s.flow(3, 7)
	s.retransmit()
	s.connected(true)

	if got := testutil.ToFloat64(s.ByteReceived); got != 10 {
		t.Errorf("ByteReceived = %v", got)
	}
	if got := testutil.ToFloat64(s.PacketSent); got != 2 {
		t.Errorf("PacketSent = %v", got)
	}
	if testutil.ToFloat64(s.InFlight) != 3 || testutil.ToFloat64(s.Queued) != 7 {
		t.Error("flow gauges not set")
	}
	if testutil.ToFloat64(s.Retransmits) != 1 || testutil.ToFloat64(s.Connected) != 1 {
		t.Error("retransmit or connected not recorded")
	}
	s.connected(false)
	if testutil.ToFloat64(s.Connected) != 0 {
		t.Error("connected gauge not cleared")
	}

	var none *Stat
	none.received(1)
	none.sent(1)
	none.flow(1, 1)
	none.retransmit()
	none.publishTimeout()
	none.reconnect()
	none.malformed()
	none.connected(true)
}
