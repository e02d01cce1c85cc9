// Package mqtt is an MQTT 3.1.1 client session engine.
//
// A Client keeps one session to a broker over TCP, TLS or WebSocket (sub-protocol
// "mqtt"). All session state is owned by a single goroutine: calls on the Client,
// inbound bytes, dial results and timers reach it over channels and are handled one
// at a time. Handlers and status callbacks run on a separate dispatcher goroutine,
// in the order the session produced them.
package mqtt

import (
	"fmt"

	"github.com/golang-io/iotmqtt/packet"
)

// State is the connection state of a session.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateDisconnecting
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateDisconnecting:
		return "DISCONNECTING"
	case StateReconnecting:
		return "RECONNECTING"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// StatusEvent is delivered to the OnStatus callback on every state change.
// Err carries the cause when the session left CONNECTED or failed to reach it.
type StatusEvent struct {
	State State
	Err   error
}

// Quality of service levels. 4.3 Quality of Service levels and protocol flows
const (
	AtMostOnce  byte = 0x0
	AtLeastOnce byte = 0x1
	ExactlyOnce byte = 0x2
)

// Message is an application message received from, or sent to, the broker.
// Handlers must treat it as read-only; it may be shared between handlers.
type Message struct {
	Topic     string
	Payload   []byte
	QoS       byte
	Retain    bool
	Duplicate bool
	PacketID  uint16
}

func (m *Message) String() string {
	return fmt.Sprintf("%s # qos=%d, retain=%v, dup=%v, len=%d", m.Topic, m.QoS, m.Retain, m.Duplicate, len(m.Payload))
}

// MessageHandler is called for every message matching a subscription.
type MessageHandler func(*Message)

func messageFromPacket(pkt *packet.PUBLISH) *Message {
	return &Message{
		Topic:     pkt.Message.TopicName,
		Payload:   pkt.Message.Content,
		QoS:       pkt.QoS,
		Retain:    pkt.Retain == 1,
		Duplicate: pkt.Dup == 1,
		PacketID:  pkt.PacketID,
	}
}

func (m *Message) packet(id uint16, dup bool) *packet.PUBLISH {
	pkt := &packet.PUBLISH{
		FixedHeader: &packet.FixedHeader{Kind: packet.KindPublish, QoS: m.QoS},
		Message:     &packet.Message{TopicName: m.Topic, Content: m.Payload},
	}
	if m.Retain {
		pkt.Retain = 1
	}
	if m.QoS > 0 {
		pkt.PacketID = id
		if dup {
			pkt.Dup = 1
		}
	}
	return pkt
}
