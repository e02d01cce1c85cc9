package mqtt

import (
	"errors"

	"github.com/golang-io/iotmqtt/packet"
	"github.com/golang-io/iotmqtt/transport"
)

var (
	// ErrInvalidArgument is returned before anything reaches the session.
	ErrInvalidArgument = errors.New("mqtt: invalid argument")

	// ErrConnectFailed is returned when the broker refused the CONNECT, did not answer
	// it in time, or the transport could not be opened.
	ErrConnectFailed = errors.New("mqtt: connect failed")

	// ErrPublishTimeout is returned when a QoS 1 or 2 publish was not acknowledged
	// after the configured number of retransmissions.
	ErrPublishTimeout = errors.New("mqtt: publish timeout")

	// ErrTimeout is returned when a SUBACK or UNSUBACK did not arrive in time.
	ErrTimeout = errors.New("mqtt: acknowledgement timeout")

	ErrNotConnected    = errors.New("mqtt: not connected")
	ErrDisconnected    = errors.New("mqtt: disconnected")
	ErrClosed          = errors.New("mqtt: client closed")
	ErrQueueFull       = errors.New("mqtt: publish queue full")
	ErrSubscribeFailed = errors.New("mqtt: subscription refused")

	// ErrConnectionLost reports a connection ended by the network, the peer or a
	// missing PINGRESP. It is a transport error.
	ErrConnectionLost = transport.ErrConnectionLost

	ErrTransport       = transport.ErrTransport
	ErrMalformedPacket = packet.ErrMalformedPacket
)
