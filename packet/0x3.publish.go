package packet

import (
	"bytes"
	"fmt"
	"io"
	"strings"
)

// PUBLISH - Publish message
//
// A PUBLISH Control Packet is sent from a Client to a Server or from Server to a Client
// to transport an Application Message.
type PUBLISH struct {
	*FixedHeader `json:"FixedHeader,omitempty"`

	// PacketID is only present when QoS is 1 or 2. 3.3.2.2 Packet Identifier
	PacketID uint16 `json:"PacketID,omitempty"`

	Message *Message `json:"Message,omitempty"`
}

// Message is the topic and payload carried by a PUBLISH packet.
type Message struct {
	// TopicName 3.3.2.1 Topic Name
	TopicName string

	// Content is the Application Message; its length is implied by the remaining length. 3.3.3 Payload
	Content []byte
}

func (m *Message) String() string {
	return fmt.Sprintf("%s # %s", m.TopicName, m.Content)
}

func (pkt *PUBLISH) Kind() byte {
	return KindPublish
}

func (pkt *PUBLISH) String() string {
	return fmt.Sprintf("[0x3]PUBLISH: PacketID=%d, QoS=%d, Dup=%d, %s", pkt.PacketID, pkt.QoS, pkt.Dup, pkt.Message)
}

func (pkt *PUBLISH) Pack(w io.Writer) error {
	if pkt.FixedHeader == nil {
		pkt.FixedHeader = fixed(KindPublish)
	}
	if pkt.Message == nil || !validTopicName(pkt.Message.TopicName) {
		return ErrMalformedTopic
	}
	if pkt.QoS > 2 {
		return ErrMalformedQos
	}
	if pkt.QoS != 0 && pkt.PacketID == 0 {
		return ErrMalformedPacketID
	}

	buf := GetBuffer()
	defer PutBuffer(buf)

	buf.Write(s2b(pkt.Message.TopicName))
	if pkt.QoS != 0 {
		buf.Write(i2b(pkt.PacketID))
	}
	buf.Write(pkt.Message.Content)

	pkt.RemainingLength = uint32(buf.Len())
	if buf.Len() > MaxRemainingLength {
		return ErrPacketTooLarge
	}
	if err := pkt.FixedHeader.Pack(w); err != nil {
		return err
	}
	_, err := buf.WriteTo(w)
	return err
}

func (pkt *PUBLISH) Unpack(buf *bytes.Buffer) error {
	pkt.Message = &Message{}

	var err error
	if pkt.Message.TopicName, err = readString(buf); err != nil {
		return err
	}
	// The Topic Name in the PUBLISH Packet MUST NOT contain wildcard characters [MQTT-3.3.2-2].
	if !validTopicName(pkt.Message.TopicName) {
		return fmt.Errorf("%w: %q", ErrMalformedTopic, pkt.Message.TopicName)
	}
	if pkt.QoS != 0 {
		if pkt.PacketID, err = readUint16(buf); err != nil {
			return err
		}
		// SUBSCRIBE, UNSUBSCRIBE, and PUBLISH (in cases where QoS > 0) Control Packets MUST
		// contain a non-zero 16-bit Packet Identifier [MQTT-2.3.1-1].
		if pkt.PacketID == 0 {
			return ErrMalformedPacketID
		}
	}

	if buf.Len() != 0 {
		pkt.Message.Content = bytes.Clone(buf.Next(buf.Len()))
	}
	return nil
}

func validTopicName(name string) bool {
	return name != "" && len(name) <= 0xFFFF && !strings.ContainsAny(name, "+#") && validUTF8([]byte(name))
}
