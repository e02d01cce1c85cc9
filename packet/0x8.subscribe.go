package packet

import (
	"bytes"
	"fmt"
	"io"
)

// SUBSCRIBE - Subscribe to topics
//
// The SUBSCRIBE Packet is sent from the Client to the Server to create one or more
// Subscriptions. Bits 3,2,1 and 0 of the fixed header MUST be set to 0,0,1 and 0
// respectively [MQTT-3.8.1-1].
type SUBSCRIBE struct {
	*FixedHeader `json:"FixedHeader,omitempty"`

	PacketID uint16 `json:"PacketID,omitempty"`

	// Subscriptions is the payload; it MUST contain at least one pair [MQTT-3.8.3-3].
	Subscriptions []Subscription `json:"Subscriptions,omitempty"`
}

// Subscription is one Topic Filter / Requested QoS pair. 3.8.3 Payload
type Subscription struct {
	TopicFilter string
	MaximumQoS  uint8
}

func (s *Subscription) String() string {
	return fmt.Sprintf("%s@%d", s.TopicFilter, s.MaximumQoS)
}

func (pkt *SUBSCRIBE) Kind() byte {
	return KindSubscribe
}

func (pkt *SUBSCRIBE) String() string {
	return fmt.Sprintf("[0x8]SUBSCRIBE: PacketID=%d, Subscriptions=%v", pkt.PacketID, pkt.Subscriptions)
}

func (pkt *SUBSCRIBE) Pack(w io.Writer) error {
	if pkt.FixedHeader == nil {
		pkt.FixedHeader = fixed(KindSubscribe)
	}
	if pkt.PacketID == 0 {
		return ErrMalformedPacketID
	}
	if len(pkt.Subscriptions) == 0 {
		return ErrMalformedNoTopic
	}

	buf := GetBuffer()
	defer PutBuffer(buf)

	buf.Write(i2b(pkt.PacketID))
	for _, subscription := range pkt.Subscriptions {
		if subscription.TopicFilter == "" {
			return ErrMalformedNoTopic
		}
		if subscription.MaximumQoS > 2 {
			return ErrMalformedQos
		}
		buf.Write(s2b(subscription.TopicFilter))
		buf.WriteByte(subscription.MaximumQoS)
	}

	pkt.RemainingLength = uint32(buf.Len())
	if err := pkt.FixedHeader.Pack(w); err != nil {
		return err
	}
	_, err := buf.WriteTo(w)
	return err
}

func (pkt *SUBSCRIBE) Unpack(buf *bytes.Buffer) error {
	var err error
	if pkt.PacketID, err = readUint16(buf); err != nil {
		return err
	}
	if pkt.PacketID == 0 {
		return ErrMalformedPacketID
	}
	for buf.Len() != 0 {
		subscription := Subscription{}
		if subscription.TopicFilter, err = readString(buf); err != nil {
			return err
		}
		if subscription.TopicFilter == "" {
			return ErrMalformedNoTopic
		}
		options, err := readByte(buf)
		if err != nil {
			return err
		}
		// The upper 6 bits of the Requested QoS byte are reserved [MQTT-3-8.3-4].
		if options&0b11111100 != 0 || options > 2 {
			return ErrMalformedQos
		}
		subscription.MaximumQoS = options
		pkt.Subscriptions = append(pkt.Subscriptions, subscription)
	}
	if len(pkt.Subscriptions) == 0 {
		return ErrMalformedNoTopic
	}
	return nil
}
