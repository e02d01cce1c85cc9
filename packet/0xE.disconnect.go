package packet

import (
	"bytes"
	"io"
)

// DISCONNECT - Disconnect notification
//
// The DISCONNECT Packet is the final Control Packet sent from the Client to the Server.
// After sending it the Client MUST close the Network Connection [MQTT-3.14.4-1].
type DISCONNECT struct {
	*FixedHeader `json:"FixedHeader,omitempty"`
}

func (pkt *DISCONNECT) Kind() byte {
	return KindDisconnect
}

func (pkt *DISCONNECT) Pack(w io.Writer) error {
	if pkt.FixedHeader == nil {
		pkt.FixedHeader = fixed(KindDisconnect)
	}
	pkt.RemainingLength = 0
	return pkt.FixedHeader.Pack(w)
}

func (pkt *DISCONNECT) Unpack(buf *bytes.Buffer) error {
	if buf.Len() != 0 {
		return ErrMalformedRemainingLength
	}
	return nil
}
