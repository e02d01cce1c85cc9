package packet

import (
	"bytes"
	"fmt"
	"io"
)

// UNSUBACK - Unsubscribe acknowledgement
//
// The UNSUBACK Packet is sent by the Server to the Client to confirm receipt of an
// UNSUBSCRIBE Packet.
type UNSUBACK struct {
	*FixedHeader `json:"FixedHeader,omitempty"`

	PacketID uint16 `json:"PacketID,omitempty"`
}

func (pkt *UNSUBACK) Kind() byte {
	return KindUnsuback
}

func (pkt *UNSUBACK) String() string {
	return fmt.Sprintf("[0xB]UNSUBACK: PacketID=%d", pkt.PacketID)
}

func (pkt *UNSUBACK) Pack(w io.Writer) error {
	if pkt.FixedHeader == nil {
		pkt.FixedHeader = fixed(KindUnsuback)
	}
	return packPacketID(w, pkt.FixedHeader, pkt.PacketID)
}

func (pkt *UNSUBACK) Unpack(buf *bytes.Buffer) error {
	var err error
	pkt.PacketID, err = unpackPacketID(buf)
	return err
}
