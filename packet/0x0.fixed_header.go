package packet

import (
	"fmt"
	"io"
)

// FixedHeader contains the values of the fixed header portion of the MQTT pkt.
// Each MQTT Control Packet contains a fixed header.
// Bit 		| 7 | 6 |	5	4	3	2	1	0
// byte1    | MQTT Control Packet type | Flags specific to each MQTT Control Packet type|
// byte2...	|    Remaining Length
type FixedHeader struct {
	// Kind MQTT Control Packet type
	// Position: byte 1, bits 7-4.
	Kind byte `json:"Kind,omitempty"`

	// Dup position: byte 1, bit 3. Only meaningful for PUBLISH.
	Dup uint8 `json:"Dup,omitempty"`

	// QoS position: byte 1, bits 2-1.
	QoS uint8 `json:"QoS,omitempty"`

	// Retain position: byte 1, bit 0.
	Retain uint8 `json:"Retain,omitempty"`

	// RemainingLength position: starts at byte 2. Set by Pack.
	RemainingLength uint32 `json:"RemainingLength,omitempty"`
}

func (pkt *FixedHeader) String() string {
	return fmt.Sprintf("%s: Len=%d", Kind[pkt.Kind], pkt.RemainingLength)
}

func (pkt *FixedHeader) Pack(w io.Writer) error {
	b := make([]byte, 1, 5)

	b[0] |= pkt.Kind << 4
	b[0] |= pkt.Dup << 3
	b[0] |= pkt.QoS << 1
	b[0] |= pkt.Retain
	enc, err := encodeLength(pkt.RemainingLength)
	if err != nil {
		return err
	}

	b = append(b, enc...)
	_, err = w.Write(b)
	return err
}

// Unpack reads the fixed header from a stream.
func (pkt *FixedHeader) Unpack(r io.Reader) error {
	b := []uint8{0x00}
	if _, err := io.ReadFull(r, b); err != nil {
		return err
	}
	if err := pkt.parse(b[0]); err != nil {
		return err
	}

	var err error
	pkt.RemainingLength, err = readLength(r)
	return err
}

// parse splits byte 1 and validates the flags.
//
// 2.2.2 Flags: where a flag bit is marked as "Reserved" it MUST be set to the value
// listed [MQTT-2.2.2-1]. If invalid flags are received, the receiver MUST close the
// Network Connection [MQTT-2.2.2-2].
func (pkt *FixedHeader) parse(b byte) error {
	pkt.Kind = b >> 4
	pkt.Dup = b & 0b00001000 >> 3
	pkt.QoS = b & 0b00000110 >> 1
	pkt.Retain = b & 0b00000001

	switch pkt.Kind {
	case 0x0, 0xF:
		return ErrMalformedKind
	case KindPublish:
		if pkt.QoS > 2 {
			return ErrMalformedQos
		}
		// The DUP flag MUST be set to 0 for all QoS 0 messages [MQTT-3.3.1-2].
		if pkt.QoS == 0 && pkt.Dup != 0 {
			return ErrMalformedFlags
		}
	case KindPubrel, KindSubscribe, KindUnsubscribe:
		if pkt.Dup != 0 || pkt.QoS != 1 || pkt.Retain != 0 {
			return ErrMalformedFlags
		}
	default:
		if pkt.Dup != 0 || pkt.QoS != 0 || pkt.Retain != 0 {
			return ErrMalformedFlags
		}
	}
	return nil
}

// readLength reads a variable byte integer from a stream.
func readLength(r io.Reader) (uint32, error) {
	var vbi uint32
	b := []byte{0x00}
	for i := 0; i < 4; i++ {
		if _, err := io.ReadFull(r, b); err != nil {
			return 0, err
		}
		vbi |= uint32(b[0]&127) << (7 * i)
		if b[0]&128 == 0 {
			return vbi, nil
		}
	}
	return 0, ErrMalformedVariableByteInteger
}

// fixed returns a header for kind with the flags MQTT 3.1.1 requires.
func fixed(kind byte) *FixedHeader {
	h := &FixedHeader{Kind: kind}
	switch kind {
	case KindPubrel, KindSubscribe, KindUnsubscribe:
		h.QoS = 1
	}
	return h
}
