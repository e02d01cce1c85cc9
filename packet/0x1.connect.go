package packet

import (
	"bytes"
	"fmt"
	"io"
)

// NAME is the protocol name field: 3.1.2.1 Protocol Name.
var NAME = []byte{0x00, 0x04, 'M', 'Q', 'T', 'T'}

// CONNECT - Client requests a connection to a Server
//
// After a Network Connection is established by a Client to a Server, the first Packet
// sent from the Client to the Server MUST be a CONNECT Packet [MQTT-3.1.0-1].
type CONNECT struct {
	*FixedHeader `json:"FixedHeader,omitempty"`

	// CleanSession position: bit 1 of the Connect Flags byte. 3.1.2.4 Clean Session
	CleanSession bool `json:"CleanSession,omitempty"`

	// KeepAlive is a time interval measured in seconds. 3.1.2.10 Keep Alive
	KeepAlive uint16 `json:"KeepAlive,omitempty"`

	// ClientID identifies the Client to the Server. 3.1.3.1 Client Identifier
	ClientID string `json:"ClientID,omitempty"`

	// Will is the Last Will; nil clears the Will Flag. 3.1.2.5 Will Flag
	Will *Will `json:"Will,omitempty"`

	// Username is sent when non-empty. 3.1.3.4 User Name
	Username string `json:"Username,omitempty"`

	// Password is sent when non-nil. 3.1.3.5 Password
	Password []byte `json:"Password,omitempty"`
}

// Will is the message the Server publishes when the connection closes without DISCONNECT.
type Will struct {
	TopicName string
	Message   []byte
	QoS       uint8
	Retain    bool
}

func (pkt *CONNECT) Kind() byte {
	return KindConnect
}

func (pkt *CONNECT) String() string {
	return fmt.Sprintf("[0x1]CONNECT: ClientID=%s, KeepAlive=%d", pkt.ClientID, pkt.KeepAlive)
}

func (pkt *CONNECT) Pack(w io.Writer) error {
	if pkt.FixedHeader == nil {
		pkt.FixedHeader = fixed(KindConnect)
	}
	// The Server MAY reject a Password without a User Name [MQTT-3.1.2-22].
	if pkt.Password != nil && pkt.Username == "" {
		return ErrMalformedUsername
	}
	for _, n := range []int{len(pkt.ClientID), len(pkt.Username), len(pkt.Password)} {
		if n > 0xFFFF {
			return ErrMalformedOffsetBytesOutOfRange
		}
	}
	if pkt.Will != nil && (len(pkt.Will.TopicName) > 0xFFFF || len(pkt.Will.Message) > 0xFFFF) {
		return ErrMalformedOffsetBytesOutOfRange
	}

	buf := GetBuffer()
	defer PutBuffer(buf)

	buf.Write(NAME)
	buf.WriteByte(VERSION311)

	uf := b2i(pkt.Username != "") // UserNameFlag - bit 7
	pf := b2i(pkt.Password != nil) // PasswordFlag - bit 6
	wr := uint8(0)                 // WillRetain - bit 5
	wq := uint8(0)                 // WillQoS - bits 4-3
	wf := uint8(0)                 // WillFlag - bit 2
	cs := b2i(pkt.CleanSession)    // CleanSession - bit 1
	if pkt.Will != nil {
		if pkt.Will.QoS > 2 {
			return ErrMalformedWillQos
		}
		wr, wq, wf = b2i(pkt.Will.Retain), pkt.Will.QoS, 1
	}
	buf.WriteByte(uf<<7 | pf<<6 | wr<<5 | wq<<3 | wf<<2 | cs<<1)
	buf.Write(i2b(pkt.KeepAlive))

	// Payload: Client Identifier, Will Topic, Will Message, User Name, Password.
	buf.Write(s2b(pkt.ClientID))
	if pkt.Will != nil {
		buf.Write(s2b(pkt.Will.TopicName))
		buf.Write(s2b(pkt.Will.Message))
	}
	if pkt.Username != "" {
		buf.Write(s2b(pkt.Username))
	}
	if pkt.Password != nil {
		buf.Write(s2b(pkt.Password))
	}

	pkt.RemainingLength = uint32(buf.Len())
	if err := pkt.FixedHeader.Pack(w); err != nil {
		return err
	}
	_, err := buf.WriteTo(w)
	return err
}

func (pkt *CONNECT) Unpack(buf *bytes.Buffer) error {
	// If the protocol name is incorrect the Server MAY disconnect the Client [MQTT-3.1.2-1].
	if buf.Len() < len(NAME) {
		return ErrMalformedProtocolName
	}
	if name := buf.Next(len(NAME)); !bytes.Equal(name, NAME) {
		return fmt.Errorf("%w: %q", ErrMalformedProtocolName, name)
	}

	level, err := readByte(buf)
	if err != nil {
		return err
	}
	if level != VERSION311 {
		return ErrMalformedProtocolVersion
	}

	flags, err := readByte(buf)
	if err != nil {
		return err
	}
	// The Server MUST validate that the reserved flag in the CONNECT Control Packet is
	// set to zero [MQTT-3.1.2-3].
	if flags&0b00000001 != 0 {
		return ErrMalformedFlags
	}
	pkt.CleanSession = flags&0b00000010 != 0
	willFlag := flags&0b00000100 != 0
	willQoS := flags & 0b00011000 >> 3
	willRetain := flags&0b00100000 != 0
	passwordFlag := flags&0b01000000 != 0
	usernameFlag := flags&0b10000000 != 0

	if willQoS > 2 {
		return ErrMalformedWillQos
	}
	// If the Will Flag is set to 0, then the Will QoS and Will Retain MUST be 0 [MQTT-3.1.2-13], [MQTT-3.1.2-15].
	if !willFlag && (willQoS != 0 || willRetain) {
		return ErrMalformedFlags
	}
	// If the User Name Flag is set to 0, the Password Flag MUST be set to 0 [MQTT-3.1.2-22].
	if !usernameFlag && passwordFlag {
		return ErrMalformedUsername
	}

	if pkt.KeepAlive, err = readUint16(buf); err != nil {
		return err
	}
	if pkt.ClientID, err = readString(buf); err != nil {
		return err
	}
	if willFlag {
		pkt.Will = &Will{QoS: willQoS, Retain: willRetain}
		if pkt.Will.TopicName, err = readString(buf); err != nil {
			return err
		}
		if pkt.Will.Message, err = readBytes(buf); err != nil {
			return err
		}
	}
	if usernameFlag {
		if pkt.Username, err = readString(buf); err != nil {
			return err
		}
	}
	if passwordFlag {
		if pkt.Password, err = readBytes(buf); err != nil {
			return err
		}
	}
	return nil
}
