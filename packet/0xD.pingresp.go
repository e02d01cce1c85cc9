package packet

import (
	"bytes"
	"io"
)

// PINGRESP - PING response
//
// A PINGRESP Packet is sent by the Server to the Client in response to a PINGREQ Packet.
type PINGRESP struct {
	*FixedHeader `json:"FixedHeader,omitempty"`
}

func (pkt *PINGRESP) Kind() byte {
	return KindPingresp
}

func (pkt *PINGRESP) Pack(w io.Writer) error {
	if pkt.FixedHeader == nil {
		pkt.FixedHeader = fixed(KindPingresp)
	}
	pkt.RemainingLength = 0
	return pkt.FixedHeader.Pack(w)
}

func (pkt *PINGRESP) Unpack(buf *bytes.Buffer) error {
	if buf.Len() != 0 {
		return ErrMalformedRemainingLength
	}
	return nil
}
