package mqtttest

import (
	"context"

	"github.com/golang-io/iotmqtt/packet"
	"golang.org/x/sync/errgroup"
)

// fanOut delivers message to every connection with a matching subscription, at the
// lower of qos and the granted QoS.
func (s *Server) fanOut(message *packet.Message, qos byte, retain bool) error {
	group, _ := errgroup.WithContext(context.Background())
	for _, c := range s.snapshot() {
		c := c
		granted, ok := c.match(message.TopicName)
		if !ok {
			continue
		}
		pub := &packet.PUBLISH{
			FixedHeader: &packet.FixedHeader{Kind: packet.KindPublish, QoS: min(qos, granted)},
			Message:     message,
		}
		if retain {
			pub.Retain = 1
		}
		if pub.QoS > 0 {
			pub.PacketID = c.packetID()
		}
		group.Go(func() error {
			s.log.Debug("mqtttest publish", "remote", c.remoteAddr, "topic", message.TopicName, "qos", pub.QoS)
			return c.send(pub)
		})
	}
	return group.Wait()
}
