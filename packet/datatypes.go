package packet

import (
	"bytes"
	"encoding/binary"
	"io"
	"unicode/utf8"
)

const (
	// VERSION311 is the protocol level carried in CONNECT for MQTT 3.1.1.
	VERSION311 byte = 0x4

	max1 = 0x7F      // 127
	max2 = 0x3FFF    // 16383
	max3 = 0x1FFFFF  // 2097151
	max4 = 0xFFFFFFF // 268435455

	// MaxRemainingLength is the largest value the remaining length field can carry.
	MaxRemainingLength = max4

	KB = 1024 * 1
	MB = 1024 * KB
)

// Control packet types. Position: byte 1, bits 7-4
const (
	KindConnect     byte = 0x1
	KindConnack     byte = 0x2
	KindPublish     byte = 0x3
	KindPuback      byte = 0x4
	KindPubrec      byte = 0x5
	KindPubrel      byte = 0x6
	KindPubcomp     byte = 0x7
	KindSubscribe   byte = 0x8
	KindSuback      byte = 0x9
	KindUnsubscribe byte = 0xA
	KindUnsuback    byte = 0xB
	KindPingreq     byte = 0xC
	KindPingresp    byte = 0xD
	KindDisconnect  byte = 0xE
)

// Kind names every control packet type, keyed by bits 7-4 of byte 1.
var Kind = map[byte]string{
	0x0: "[0x0]RESERVED",    // Forbidden
	0x1: "[0x1]CONNECT",     // Client to Server: connection request
	0x2: "[0x2]CONNACK",     // Server to Client: connect acknowledgment
	0x3: "[0x3]PUBLISH",     // both directions: publish message
	0x4: "[0x4]PUBACK",      // both directions: QoS 1 acknowledgment
	0x5: "[0x5]PUBREC",      // both directions: assured delivery part 1
	0x6: "[0x6]PUBREL",      // both directions: assured delivery part 2
	0x7: "[0x7]PUBCOMP",     // both directions: assured delivery part 3
	0x8: "[0x8]SUBSCRIBE",   // Client to Server: subscribe request
	0x9: "[0x9]SUBACK",      // Server to Client: subscribe acknowledgment
	0xA: "[0xA]UNSUBSCRIBE", // Client to Server: unsubscribe request
	0xB: "[0xB]UNSUBACK",    // Server to Client: unsubscribe acknowledgment
	0xC: "[0xC]PINGREQ",     // Client to Server: PING request
	0xD: "[0xD]PINGRESP",    // Server to Client: PING response
	0xE: "[0xE]DISCONNECT",  // Client to Server: client is disconnecting
	0xF: "[0xF]RESERVED",    // Forbidden in 3.1.1
}

// encodeLength encodes v as a variable byte integer (1 to 4 bytes).
func encodeLength[T ~uint32 | ~int | ~int64](v T) ([]byte, error) {
	if v < 0 || v > max4 {
		return nil, ErrPacketTooLarge
	}
	result := make([]byte, 0, 4)
	for {
		enc := byte(v % 128)
		v = v / 128
		// if there is more data to encode, set the top bit of this byte
		if v > 0 {
			enc |= 128
		}
		result = append(result, enc)
		if v == 0 {
			return result, nil
		}
	}
}

// decodeLength reads a variable byte integer from the head of b. It reports the
// value and the number of bytes it occupied. A prefix that ends before the last
// byte of the integer returns ErrNeedMoreData; a fifth byte is malformed.
func decodeLength(b []byte) (uint32, int, error) {
	var vbi uint32
	for i := 0; i < 4; i++ {
		if i >= len(b) {
			return 0, 0, ErrNeedMoreData
		}
		vbi |= uint32(b[i]&127) << (7 * i)
		if b[i]&128 == 0 {
			return vbi, i + 1, nil
		}
	}
	return 0, 0, ErrMalformedVariableByteInteger
}

// s2b prefixes s with its big-endian uint16 length.
func s2b[T string | []byte](s T) []byte {
	b := make([]byte, 2, 2+len(s))
	binary.BigEndian.PutUint16(b, uint16(len(s)))
	return append(b, s...)
}

func i2b(i uint16) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, i)
	return b
}

func b2i(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

func readByte(buf *bytes.Buffer) (byte, error) {
	b, err := buf.ReadByte()
	if err != nil {
		return 0, ErrMalformedOffsetByteOutOfRange
	}
	return b, nil
}

func readUint16(buf *bytes.Buffer) (uint16, error) {
	if buf.Len() < 2 {
		return 0, ErrMalformedOffsetUintOutOfRange
	}
	return binary.BigEndian.Uint16(buf.Next(2)), nil
}

// readBytes reads a length-prefixed byte field and returns a copy of it.
func readBytes(buf *bytes.Buffer) ([]byte, error) {
	n, err := readUint16(buf)
	if err != nil {
		return nil, err
	}
	if buf.Len() < int(n) {
		return nil, ErrMalformedOffsetBytesOutOfRange
	}
	return bytes.Clone(buf.Next(int(n))), nil
}

// readString reads a length-prefixed UTF-8 string. [MQTT-1.5.3-1], [MQTT-1.5.3-2]
func readString(buf *bytes.Buffer) (string, error) {
	n, err := readUint16(buf)
	if err != nil {
		return "", err
	}
	if buf.Len() < int(n) {
		return "", ErrMalformedOffsetBytesOutOfRange
	}
	b := buf.Next(int(n))
	if !validUTF8(b) {
		return "", ErrMalformedInvalidUTF8
	}
	return string(b), nil
}

func validUTF8(b []byte) bool {
	return utf8.Valid(b) && bytes.IndexByte(b, 0x00) < 0
}

// packPacketID writes a packet whose variable header is only a Packet Identifier.
func packPacketID(w io.Writer, fh *FixedHeader, id uint16) error {
	if id == 0 {
		return ErrMalformedPacketID
	}
	fh.RemainingLength = 2
	if err := fh.Pack(w); err != nil {
		return err
	}
	_, err := w.Write(i2b(id))
	return err
}

// unpackPacketID parses a body of exactly one non-zero Packet Identifier.
func unpackPacketID(buf *bytes.Buffer) (uint16, error) {
	if buf.Len() != 2 {
		return 0, ErrMalformedRemainingLength
	}
	id, _ := readUint16(buf)
	if id == 0 {
		return 0, ErrMalformedPacketID
	}
	return id, nil
}
