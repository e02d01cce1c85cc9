package packet

import (
	"bytes"
	"fmt"
	"io"
)

// PUBCOMP - Publish complete (QoS 2 publish received, part 3)
//
// The PUBCOMP Packet is the response to a PUBREL Packet.
type PUBCOMP struct {
	*FixedHeader `json:"FixedHeader,omitempty"`

	PacketID uint16 `json:"PacketID,omitempty"`
}

func (pkt *PUBCOMP) Kind() byte {
	return KindPubcomp
}

func (pkt *PUBCOMP) String() string {
	return fmt.Sprintf("[0x7]PUBCOMP: PacketID=%d", pkt.PacketID)
}

func (pkt *PUBCOMP) Pack(w io.Writer) error {
	if pkt.FixedHeader == nil {
		pkt.FixedHeader = fixed(KindPubcomp)
	}
	return packPacketID(w, pkt.FixedHeader, pkt.PacketID)
}

func (pkt *PUBCOMP) Unpack(buf *bytes.Buffer) error {
	var err error
	pkt.PacketID, err = unpackPacketID(buf)
	return err
}
