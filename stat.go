package mqtt

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Stat holds the session metrics. Create it with NewStat, pass it with the Metrics
// option and register it with Register.
type Stat struct {
	PacketReceived   prometheus.Counter
	ByteReceived     prometheus.Counter
	PacketSent       prometheus.Counter
	ByteSent         prometheus.Counter
	InFlight         prometheus.Gauge
	Queued           prometheus.Gauge
	Retransmits      prometheus.Counter
	PublishTimeouts  prometheus.Counter
	Reconnects       prometheus.Counter
	MalformedPackets prometheus.Counter
	Connected        prometheus.Gauge
}

// NewStat creates unregistered metrics. labels are attached to every series.
func NewStat(labels prometheus.Labels) *Stat {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help, ConstLabels: labels})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: help, ConstLabels: labels})
	}
	return &Stat{
		PacketReceived:   counter("mqtt_client_received_packets", "The total number of received MQTT packets"),
		ByteReceived:     counter("mqtt_client_received_bytes", "The total number of received MQTT bytes"),
		PacketSent:       counter("mqtt_client_send_packets", "The total number of send MQTT packets"),
		ByteSent:         counter("mqtt_client_send_bytes", "The total number of send MQTT bytes"),
		InFlight:         gauge("mqtt_client_inflight_messages", "QoS 1/2 publishes awaiting acknowledgement"),
		Queued:           gauge("mqtt_client_queued_messages", "QoS 1/2 publishes waiting for a window slot"),
		Retransmits:      counter("mqtt_client_retransmits", "The total number of retransmitted PUBLISH and PUBREL packets"),
		PublishTimeouts:  counter("mqtt_client_publish_timeouts", "The total number of publishes failed after the last retry"),
		Reconnects:       counter("mqtt_client_reconnects", "The total number of automatic reconnect attempts"),
		MalformedPackets: counter("mqtt_client_malformed_packets", "The total number of malformed inbound packets"),
		Connected:        gauge("mqtt_client_connected", "1 while the session is connected"),
	}
}

func (s *Stat) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		s.PacketReceived, s.ByteReceived, s.PacketSent, s.ByteSent,
		s.InFlight, s.Queued, s.Retransmits, s.PublishTimeouts,
		s.Reconnects, s.MalformedPackets, s.Connected,
	}
}

// Register adds the metrics to reg.
func (s *Stat) Register(reg prometheus.Registerer) error {
	for _, c := range s.collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// The helpers below accept a nil *Stat so the session can call them unconditionally.

func (s *Stat) received(n int) {
	if s == nil {
		return
	}
	s.PacketReceived.Inc()
	s.ByteReceived.Add(float64(n))
}

func (s *Stat) sent(n int) {
	if s == nil {
		return
	}
	s.PacketSent.Inc()
	s.ByteSent.Add(float64(n))
}

func (s *Stat) flow(inflight, queued int) {
	if s == nil {
		return
	}
	s.InFlight.Set(float64(inflight))
	s.Queued.Set(float64(queued))
}

func (s *Stat) retransmit() {
	if s != nil {
		s.Retransmits.Inc()
	}
}

func (s *Stat) publishTimeout() {
	if s != nil {
		s.PublishTimeouts.Inc()
	}
}

func (s *Stat) reconnect() {
	if s != nil {
		s.Reconnects.Inc()
	}
}

func (s *Stat) malformed() {
	if s != nil {
		s.MalformedPackets.Inc()
	}
}

func (s *Stat) connected(up bool) {
	if s == nil {
		return
	}
	if up {
		s.Connected.Set(1)
	} else {
		s.Connected.Set(0)
	}
}
