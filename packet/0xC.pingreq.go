package packet

import (
	"bytes"
	"io"
)

// PINGREQ - PING request
//
// The PINGREQ Packet is sent from a Client to the Server to indicate that the Client is
// alive in the absence of any other Control Packets.
type PINGREQ struct {
	*FixedHeader `json:"FixedHeader,omitempty"`
}

func (pkt *PINGREQ) Kind() byte {
	return KindPingreq
}

func (pkt *PINGREQ) Pack(w io.Writer) error {
	if pkt.FixedHeader == nil {
		pkt.FixedHeader = fixed(KindPingreq)
	}
	pkt.RemainingLength = 0
	return pkt.FixedHeader.Pack(w)
}

func (pkt *PINGREQ) Unpack(buf *bytes.Buffer) error {
	if buf.Len() != 0 {
		return ErrMalformedRemainingLength
	}
	return nil
}
