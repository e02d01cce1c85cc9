package packet

import (
	"bytes"
	"fmt"
	"io"
)

// SUBACK - Subscribe acknowledgement
//
// A SUBACK Packet is sent by the Server to the Client to confirm receipt and processing
// of a SUBSCRIBE Packet. It contains a list of return codes, one per Topic Filter in
// the SUBSCRIBE being acknowledged, in the same order [MQTT-3.9.3-1].
type SUBACK struct {
	*FixedHeader `json:"FixedHeader,omitempty"`

	PacketID uint16 `json:"PacketID,omitempty"`

	// ReturnCodes holds the granted QoS (0x00-0x02) or 0x80 for a failure.
	ReturnCodes []byte `json:"ReturnCodes,omitempty"`
}

func (pkt *SUBACK) Kind() byte {
	return KindSuback
}

func (pkt *SUBACK) String() string {
	return fmt.Sprintf("[0x9]SUBACK: PacketID=%d, ReturnCodes=%v", pkt.PacketID, pkt.ReturnCodes)
}

func (pkt *SUBACK) Pack(w io.Writer) error {
	if pkt.FixedHeader == nil {
		pkt.FixedHeader = fixed(KindSuback)
	}
	if len(pkt.ReturnCodes) == 0 {
		return ErrMalformedReturnCode
	}
	for _, code := range pkt.ReturnCodes {
		if !validSubackCode(code) {
			return ErrMalformedReturnCode
		}
	}

	buf := GetBuffer()
	defer PutBuffer(buf)
	buf.Write(i2b(pkt.PacketID))
	buf.Write(pkt.ReturnCodes)

	pkt.RemainingLength = uint32(buf.Len())
	if err := pkt.FixedHeader.Pack(w); err != nil {
		return err
	}
	_, err := buf.WriteTo(w)
	return err
}

func (pkt *SUBACK) Unpack(buf *bytes.Buffer) error {
	var err error
	if pkt.PacketID, err = readUint16(buf); err != nil {
		return err
	}
	if buf.Len() == 0 {
		return ErrMalformedReturnCode
	}
	// SUBACK return codes other than 0x00, 0x01, 0x02 and 0x80 are reserved and MUST NOT be used [MQTT-3.9.3-2].
	pkt.ReturnCodes = bytes.Clone(buf.Next(buf.Len()))
	for _, code := range pkt.ReturnCodes {
		if !validSubackCode(code) {
			return ErrMalformedReturnCode
		}
	}
	return nil
}

func validSubackCode(code byte) bool {
	return code <= CodeGrantedQos2 || code == CodeSubackFailure
}
