package packet

import (
	"bytes"
)

// Encode serializes pkt into a freshly allocated frame.
func Encode(pkt Packet) ([]byte, error) {
	buf := GetBuffer()
	defer PutBuffer(buf)
	if err := pkt.Pack(buf); err != nil {
		return nil, err
	}
	return bytes.Clone(buf.Bytes()), nil
}

// Decode parses the first control packet in b.
//
// On success it returns the packet and the number of bytes it occupied. When b holds
// only a prefix of a packet it returns ErrNeedMoreData and consumes nothing, so the
// caller can append more bytes and call again. Any other error satisfies
// errors.Is(err, ErrMalformedPacket) and the stream cannot be resynchronized.
func Decode(b []byte) (Packet, int, error) {
	if len(b) == 0 {
		return nil, 0, ErrNeedMoreData
	}
	fixed := &FixedHeader{}
	if err := fixed.parse(b[0]); err != nil {
		return nil, 0, err
	}
	length, n, err := decodeLength(b[1:])
	if err != nil {
		return nil, 0, err
	}
	fixed.RemainingLength = length

	total := 1 + n + int(length)
	if len(b) < total {
		return nil, 0, ErrNeedMoreData
	}

	pkt, err := unpackBody(fixed, bytes.NewBuffer(b[1+n:total]))
	if err != nil {
		return nil, 0, err
	}
	return pkt, total, nil
}

// FrameSize returns the size of the packet at the start of b as declared by its fixed
// header, before the body has arrived. It returns ErrNeedMoreData while the remaining
// length is incomplete.
func FrameSize(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, ErrNeedMoreData
	}
	length, n, err := decodeLength(b[1:])
	if err != nil {
		return 0, err
	}
	return 1 + n + int(length), nil
}
