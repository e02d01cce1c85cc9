package packet

import (
	"bytes"
	"fmt"
	"io"
)

// PUBACK - Publish acknowledgement
//
// A PUBACK Packet is the response to a PUBLISH Packet with QoS level 1.
type PUBACK struct {
	*FixedHeader `json:"FixedHeader,omitempty"`

	PacketID uint16 `json:"PacketID,omitempty"`
}

func (pkt *PUBACK) Kind() byte {
	return KindPuback
}

func (pkt *PUBACK) String() string {
	return fmt.Sprintf("[0x4]PUBACK: PacketID=%d", pkt.PacketID)
}

func (pkt *PUBACK) Pack(w io.Writer) error {
	if pkt.FixedHeader == nil {
		pkt.FixedHeader = fixed(KindPuback)
	}
	return packPacketID(w, pkt.FixedHeader, pkt.PacketID)
}

func (pkt *PUBACK) Unpack(buf *bytes.Buffer) error {
	var err error
	pkt.PacketID, err = unpackPacketID(buf)
	return err
}
