package packet

import (
	"errors"
	"fmt"
)

// ReasonCode pairs an MQTT result code with a readable reason.
//
// MQTT v3.1.1 only defines codes for CONNACK (3.2.2.3) and SUBACK (3.9.3); the
// 0x81 family is used locally to classify decoding failures, so every malformed
// variant satisfies errors.Is(err, ErrMalformedPacket).
type ReasonCode struct {
	Code   uint8
	Reason string
}

// Error implements the error interface.
func (rc ReasonCode) Error() string {
	return fmt.Sprintf("%d:%s", rc.Code, rc.Reason)
}

// Is reports whether rc belongs to the class named by target.
func (rc ReasonCode) Is(target error) bool {
	t, ok := target.(ReasonCode)
	if !ok {
		return false
	}
	if t == ErrMalformedPacket {
		return rc.Code == ErrMalformedPacket.Code
	}
	return t == rc
}

// ErrNeedMoreData is returned by Decode when the buffer holds only a prefix of a packet.
var ErrNeedMoreData = errors.New("packet: need more data")

// CONNACK return codes. 3.2.2.3 Connect Return code
var (
	CodeAccepted = ReasonCode{Code: 0x00, Reason: "connection accepted"}

	ErrUnacceptableProtocolVersion = ReasonCode{Code: 0x01, Reason: "unacceptable protocol version"}
	ErrIdentifierRejected          = ReasonCode{Code: 0x02, Reason: "identifier rejected"}
	ErrServerUnavailable           = ReasonCode{Code: 0x03, Reason: "server unavailable"}
	ErrBadUsernameOrPassword       = ReasonCode{Code: 0x04, Reason: "bad username or password"}
	ErrNotAuthorized               = ReasonCode{Code: 0x05, Reason: "not authorized"}
)

var connackCodes = []ReasonCode{
	CodeAccepted,
	ErrUnacceptableProtocolVersion,
	ErrIdentifierRejected,
	ErrServerUnavailable,
	ErrBadUsernameOrPassword,
	ErrNotAuthorized,
}

// SUBACK return codes. 3.9.3 Payload
const (
	CodeGrantedQos0   byte = 0x00
	CodeGrantedQos1   byte = 0x01
	CodeGrantedQos2   byte = 0x02
	CodeSubackFailure byte = 0x80
)

var (
	// ErrMalformedPacket classifies every decoding failure.
	ErrMalformedPacket = ReasonCode{Code: 0x81, Reason: "malformed packet"}

	ErrMalformedProtocolName          = ReasonCode{Code: 0x81, Reason: "malformed packet: protocol name"}
	ErrMalformedProtocolVersion       = ReasonCode{Code: 0x81, Reason: "malformed packet: protocol version"}
	ErrMalformedFlags                 = ReasonCode{Code: 0x81, Reason: "malformed packet: flags"}
	ErrMalformedKind                  = ReasonCode{Code: 0x81, Reason: "malformed packet: reserved packet type"}
	ErrMalformedPacketID              = ReasonCode{Code: 0x81, Reason: "malformed packet: packet identifier"}
	ErrMalformedTopic                 = ReasonCode{Code: 0x81, Reason: "malformed packet: topic"}
	ErrMalformedQos                   = ReasonCode{Code: 0x81, Reason: "malformed packet: qos"}
	ErrMalformedWillQos               = ReasonCode{Code: 0x81, Reason: "malformed packet: will qos"}
	ErrMalformedUsername              = ReasonCode{Code: 0x81, Reason: "malformed packet: username"}
	ErrMalformedOffsetUintOutOfRange  = ReasonCode{Code: 0x81, Reason: "malformed packet: offset uint out of range"}
	ErrMalformedOffsetBytesOutOfRange = ReasonCode{Code: 0x81, Reason: "malformed packet: offset bytes out of range"}
	ErrMalformedOffsetByteOutOfRange  = ReasonCode{Code: 0x81, Reason: "malformed packet: offset byte out of range"}
	ErrMalformedInvalidUTF8           = ReasonCode{Code: 0x81, Reason: "malformed packet: invalid utf-8 string"}
	ErrMalformedVariableByteInteger   = ReasonCode{Code: 0x81, Reason: "malformed packet: variable byte integer out of range"}
	ErrMalformedRemainingLength       = ReasonCode{Code: 0x81, Reason: "malformed packet: remaining length mismatch"}
	ErrMalformedReturnCode            = ReasonCode{Code: 0x81, Reason: "malformed packet: return code"}
	ErrMalformedSessionPresent        = ReasonCode{Code: 0x81, Reason: "malformed packet: session present"}
	ErrMalformedNoTopic               = ReasonCode{Code: 0x81, Reason: "malformed packet: no topic filter"}

	// ErrPacketTooLarge is returned when encoding a packet whose body does not fit the
	// remaining length field.
	ErrPacketTooLarge = ReasonCode{Code: 0x95, Reason: "packet too large"}
)
