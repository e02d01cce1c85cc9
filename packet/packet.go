package packet

import (
	"bytes"
	"io"
)

// Packet is implemented by every MQTT 3.1.1 control packet.
//
// 2.1 Structure of an MQTT Control Packet: a fixed header, present in all packets,
// a variable header and a payload, present in some packets.
type Packet interface {
	// Kind returns bits 7-4 of byte 1. 2.2.1 MQTT Control Packet type
	Kind() byte

	// Unpack parses the variable header and payload. The fixed header is already set.
	Unpack(*bytes.Buffer) error

	// Pack writes the whole packet, fixed header included.
	Pack(io.Writer) error
}

// newPacket returns an empty packet of the kind named by the fixed header.
func newPacket(fixed *FixedHeader) (Packet, error) {
	switch fixed.Kind {
	case KindConnect:
		return &CONNECT{FixedHeader: fixed}, nil
	case KindConnack:
		return &CONNACK{FixedHeader: fixed}, nil
	case KindPublish:
		return &PUBLISH{FixedHeader: fixed}, nil
	case KindPuback:
		return &PUBACK{FixedHeader: fixed}, nil
	case KindPubrec:
		return &PUBREC{FixedHeader: fixed}, nil
	case KindPubrel:
		return &PUBREL{FixedHeader: fixed}, nil
	case KindPubcomp:
		return &PUBCOMP{FixedHeader: fixed}, nil
	case KindSubscribe:
		return &SUBSCRIBE{FixedHeader: fixed}, nil
	case KindSuback:
		return &SUBACK{FixedHeader: fixed}, nil
	case KindUnsubscribe:
		return &UNSUBSCRIBE{FixedHeader: fixed}, nil
	case KindUnsuback:
		return &UNSUBACK{FixedHeader: fixed}, nil
	case KindPingreq:
		return &PINGREQ{FixedHeader: fixed}, nil
	case KindPingresp:
		return &PINGRESP{FixedHeader: fixed}, nil
	case KindDisconnect:
		return &DISCONNECT{FixedHeader: fixed}, nil
	default:
		return nil, ErrMalformedKind
	}
}

// Unpack reads exactly one control packet from r.
//
// It is the streaming counterpart of Decode, for callers that own a blocking reader.
// The returned error is io.EOF (or io.ErrUnexpectedEOF) when the stream ends, and a
// ReasonCode when the bytes are not a valid packet.
func Unpack(r io.Reader) (Packet, error) {
	fixed := &FixedHeader{}
	if err := fixed.Unpack(r); err != nil {
		return nil, err
	}

	buf := GetBuffer()
	defer PutBuffer(buf)

	if _, err := io.CopyN(buf, r, int64(fixed.RemainingLength)); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return unpackBody(fixed, buf)
}

func unpackBody(fixed *FixedHeader, buf *bytes.Buffer) (Packet, error) {
	pkt, err := newPacket(fixed)
	if err != nil {
		return nil, err
	}
	if err := pkt.Unpack(buf); err != nil {
		return nil, err
	}
	// Every byte the remaining length promised must belong to a field.
	if buf.Len() != 0 {
		return nil, ErrMalformedRemainingLength
	}
	return pkt, nil
}
