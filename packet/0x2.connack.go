package packet

import (
	"bytes"
	"fmt"
	"io"
)

// CONNACK - Acknowledge connection request
//
// The CONNACK Packet is the packet sent by the Server in response to a CONNECT Packet
// received from a Client. The first packet sent from the Server to the Client MUST be
// a CONNACK Packet [MQTT-3.2.0-1].
type CONNACK struct {
	*FixedHeader `json:"FixedHeader,omitempty"`

	// SessionPresent position: bit 0 of the Connect Acknowledge Flags. 3.2.2.2 Session Present
	SessionPresent bool `json:"SessionPresent,omitempty"`

	// ReturnCode 3.2.2.3 Connect Return code
	ReturnCode byte `json:"ReturnCode,omitempty"`
}

func (pkt *CONNACK) Kind() byte {
	return KindConnack
}

func (pkt *CONNACK) String() string {
	return fmt.Sprintf("[0x2]CONNACK: ReturnCode=%d, SessionPresent=%v", pkt.ReturnCode, pkt.SessionPresent)
}

// Err returns nil for an accepted connection and the matching ReasonCode otherwise.
func (pkt *CONNACK) Err() error {
	if pkt.ReturnCode == CodeAccepted.Code {
		return nil
	}
	if int(pkt.ReturnCode) < len(connackCodes) {
		return connackCodes[pkt.ReturnCode]
	}
	return ReasonCode{Code: pkt.ReturnCode, Reason: "unknown connect return code"}
}

func (pkt *CONNACK) Pack(w io.Writer) error {
	if pkt.FixedHeader == nil {
		pkt.FixedHeader = fixed(KindConnack)
	}
	pkt.RemainingLength = 2
	if err := pkt.FixedHeader.Pack(w); err != nil {
		return err
	}
	_, err := w.Write([]byte{b2i(pkt.SessionPresent), pkt.ReturnCode})
	return err
}

func (pkt *CONNACK) Unpack(buf *bytes.Buffer) error {
	if buf.Len() != 2 {
		return ErrMalformedRemainingLength
	}
	flags, _ := buf.ReadByte()
	// Bits 7-1 are reserved and MUST be set to 0.
	if flags&0b11111110 != 0 {
		return ErrMalformedSessionPresent
	}
	pkt.SessionPresent = flags == 1
	pkt.ReturnCode, _ = buf.ReadByte()
	if int(pkt.ReturnCode) >= len(connackCodes) {
		return ErrMalformedReturnCode
	}
	// If a server sends a CONNACK packet containing a non-zero return code it MUST set
	// Session Present to 0 [MQTT-3.2.2-4].
	if pkt.ReturnCode != 0 && pkt.SessionPresent {
		return ErrMalformedSessionPresent
	}
	return nil
}
