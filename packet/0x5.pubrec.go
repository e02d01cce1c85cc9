package packet

import (
	"bytes"
	"fmt"
	"io"
)

// PUBREC - Publish received (QoS 2 publish received, part 1)
//
// A PUBREC Packet is the response to a PUBLISH Packet with QoS 2.
type PUBREC struct {
	*FixedHeader `json:"FixedHeader,omitempty"`

	PacketID uint16 `json:"PacketID,omitempty"`
}

func (pkt *PUBREC) Kind() byte {
	return KindPubrec
}

func (pkt *PUBREC) String() string {
	return fmt.Sprintf("[0x5]PUBREC: PacketID=%d", pkt.PacketID)
}

func (pkt *PUBREC) Pack(w io.Writer) error {
	if pkt.FixedHeader == nil {
		pkt.FixedHeader = fixed(KindPubrec)
	}
	return packPacketID(w, pkt.FixedHeader, pkt.PacketID)
}

func (pkt *PUBREC) Unpack(buf *bytes.Buffer) error {
	var err error
	pkt.PacketID, err = unpackPacketID(buf)
	return err
}
