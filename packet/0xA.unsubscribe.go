package packet

import (
	"bytes"
	"fmt"
	"io"
)

// UNSUBSCRIBE - Unsubscribe from topics
//
// An UNSUBSCRIBE Packet is sent by the Client to the Server, to unsubscribe from topics.
// Bits 3,2,1 and 0 of the fixed header MUST be set to 0,0,1 and 0 respectively [MQTT-3.10.1-1].
type UNSUBSCRIBE struct {
	*FixedHeader `json:"FixedHeader,omitempty"`

	PacketID uint16 `json:"PacketID,omitempty"`

	// TopicFilters MUST contain at least one entry [MQTT-3.10.3-2].
	TopicFilters []string `json:"TopicFilters,omitempty"`
}

func (pkt *UNSUBSCRIBE) Kind() byte {
	return KindUnsubscribe
}

func (pkt *UNSUBSCRIBE) String() string {
	return fmt.Sprintf("[0xA]UNSUBSCRIBE: PacketID=%d, TopicFilters=%v", pkt.PacketID, pkt.TopicFilters)
}

func (pkt *UNSUBSCRIBE) Pack(w io.Writer) error {
	if pkt.FixedHeader == nil {
		pkt.FixedHeader = fixed(KindUnsubscribe)
	}
	if pkt.PacketID == 0 {
		return ErrMalformedPacketID
	}
	if len(pkt.TopicFilters) == 0 {
		return ErrMalformedNoTopic
	}

	buf := GetBuffer()
	defer PutBuffer(buf)
	buf.Write(i2b(pkt.PacketID))
	for _, filter := range pkt.TopicFilters {
		if filter == "" {
			return ErrMalformedNoTopic
		}
		buf.Write(s2b(filter))
	}

	pkt.RemainingLength = uint32(buf.Len())
	if err := pkt.FixedHeader.Pack(w); err != nil {
		return err
	}
	_, err := buf.WriteTo(w)
	return err
}

func (pkt *UNSUBSCRIBE) Unpack(buf *bytes.Buffer) error {
	var err error
	if pkt.PacketID, err = readUint16(buf); err != nil {
		return err
	}
	if pkt.PacketID == 0 {
		return ErrMalformedPacketID
	}
	for buf.Len() != 0 {
		filter, err := readString(buf)
		if err != nil {
			return err
		}
		if filter == "" {
			return ErrMalformedNoTopic
		}
		pkt.TopicFilters = append(pkt.TopicFilters, filter)
	}
	if len(pkt.TopicFilters) == 0 {
		return ErrMalformedNoTopic
	}
	return nil
}
