package packet

import (
	"bytes"
	"fmt"
	"io"
)

// PUBREL - Publish release (QoS 2 publish received, part 2)
//
// A PUBREL Packet is the response to a PUBREC Packet. Bits 3,2,1 and 0 of the fixed
// header MUST be set to 0,0,1 and 0 respectively [MQTT-3.6.1-1].
type PUBREL struct {
	*FixedHeader `json:"FixedHeader,omitempty"`

	PacketID uint16 `json:"PacketID,omitempty"`
}

func (pkt *PUBREL) Kind() byte {
	return KindPubrel
}

func (pkt *PUBREL) String() string {
	return fmt.Sprintf("[0x6]PUBREL: PacketID=%d", pkt.PacketID)
}

func (pkt *PUBREL) Pack(w io.Writer) error {
	if pkt.FixedHeader == nil {
		pkt.FixedHeader = fixed(KindPubrel)
	}
	return packPacketID(w, pkt.FixedHeader, pkt.PacketID)
}

func (pkt *PUBREL) Unpack(buf *bytes.Buffer) error {
	var err error
	pkt.PacketID, err = unpackPacketID(buf)
	return err
}
