package mqtttest

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/golang-io/iotmqtt/packet"
	"github.com/golang-io/iotmqtt/topic"
)

var errDisconnect = errors.New("mqtttest: client sent DISCONNECT")

// conn is the broker side of one client connection.
type conn struct {
	server     *Server
	rwc        net.Conn
	remoteAddr string

	mu       sync.Mutex // guards writes, id, nextID and granted
	id       string
	nextID   uint16
	subs     *topic.MemoryTrie
	granted  map[string]byte
	will     *packet.Will
	once     sync.Once

	inbound map[uint16]*packet.PUBLISH // QoS 2 awaiting PUBREL; serve goroutine only
}

func (s *Server) newConn(rwc net.Conn, remoteAddr string) *conn {
	return &conn{
		server:     s,
		rwc:        rwc,
		remoteAddr: remoteAddr,
		subs:       topic.NewMemoryTrie(),
		granted:    make(map[string]byte),
		inbound:    make(map[uint16]*packet.PUBLISH),
	}
}

func (c *conn) close() {
	c.once.Do(func() { _ = c.rwc.Close() })
}

func (c *conn) serve() {
	s := c.server
	if !s.trackConn(c, true) {
		c.close()
		return
	}
	s.log.Debug("mqtttest client connected", "remote", c.remoteAddr)

	defer func() {
		s.trackConn(c, false)
		c.close()
		s.log.Debug("mqtttest client disconnected", "client_id", c.id, "remote", c.remoteAddr)
		if c.will != nil {
			_ = s.fanOut(&packet.Message{TopicName: c.will.TopicName, Content: c.will.Message}, c.will.QoS, c.will.Retain)
		}
	}()

	for {
		pkt, err := packet.Unpack(c.rwc)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				s.log.Debug("mqtttest read failed", "client_id", c.id, "error", err)
			}
			return
		}
		s.record(pkt)
		if err := c.handle(pkt); err != nil {
			if errors.Is(err, errDisconnect) {
				c.will = nil
			} else {
				s.log.Debug("mqtttest connection ended", "client_id", c.id, "error", err)
			}
			return
		}
	}
}

func (c *conn) write(b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.rwc.Write(b)
	return err
}

func (c *conn) send(pkt packet.Packet) error {
	b, err := packet.Encode(pkt)
	if err != nil {
		return err
	}
	return c.write(b)
}

func (c *conn) clientID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

func (c *conn) packetID() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	if c.nextID == 0 {
		c.nextID = 1
	}
	return c.nextID
}

// match returns the highest QoS granted to a filter matching topicName.
func (c *conn) match(topicName string) (byte, bool) {
	filters := c.subs.Match(topicName)
	if len(filters) == 0 {
		return 0, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	var qos byte
	for _, f := range filters {
		qos = max(qos, c.granted[f])
	}
	return qos, true
}

func (c *conn) handle(pkt packet.Packet) error {
	s := c.server
	if c.id == "" {
		connect, ok := pkt.(*packet.CONNECT)
		if !ok {
			return fmt.Errorf("%s before CONNECT", packet.Kind[pkt.Kind()])
		}
		return c.connect(connect)
	}

	switch pkt := pkt.(type) {
	case *packet.PUBLISH:
		if pkt.QoS > 0 {
			s.mu.Lock()
			withhold := s.withhold > 0
			if withhold {
				s.withhold--
			}
			s.mu.Unlock()
			if withhold {
				return nil
			}
		}
		switch pkt.QoS {
		case 0:
			return s.fanOut(pkt.Message, 0, pkt.Retain == 1)
		case 1:
			if err := s.fanOut(pkt.Message, 1, pkt.Retain == 1); err != nil {
				s.log.Debug("mqtttest fan out failed", "error", err)
			}
			return c.send(&packet.PUBACK{PacketID: pkt.PacketID})
		default:
			c.inbound[pkt.PacketID] = pkt
			return c.send(&packet.PUBREC{PacketID: pkt.PacketID})
		}
	case *packet.PUBREL:
		if pub, ok := c.inbound[pkt.PacketID]; ok {
			delete(c.inbound, pkt.PacketID)
			if err := s.fanOut(pub.Message, 2, pub.Retain == 1); err != nil {
				s.log.Debug("mqtttest fan out failed", "error", err)
			}
		}
		return c.send(&packet.PUBCOMP{PacketID: pkt.PacketID})
	case *packet.PUBREC:
		return c.send(&packet.PUBREL{PacketID: pkt.PacketID})
	case *packet.PUBACK, *packet.PUBCOMP:
		return nil
	case *packet.SUBSCRIBE:
		return c.subscribe(pkt)
	case *packet.UNSUBSCRIBE:
		c.mu.Lock()
		for _, f := range pkt.TopicFilters {
			c.subs.Unsubscribe(f)
			delete(c.granted, f)
		}
		c.mu.Unlock()
		s.log.Debug("mqtttest client unsubscribed", "client_id", c.id, "topic", pkt.TopicFilters)
		return c.send(&packet.UNSUBACK{PacketID: pkt.PacketID})
	case *packet.PINGREQ:
		s.mu.Lock()
		drop := s.dropPingresp
		s.mu.Unlock()
		if drop {
			return nil
		}
		return c.send(&packet.PINGRESP{})
	case *packet.DISCONNECT:
		// the will is discarded on DISCONNECT [MQTT-3.14.4-3]
		return errDisconnect
	default:
		return fmt.Errorf("unexpected %s from client", packet.Kind[pkt.Kind()])
	}
}

func (c *conn) connect(pkt *packet.CONNECT) error {
	s := c.server
	s.mu.Lock()
	code, present := s.connackCode, s.sessionPresent
	s.mu.Unlock()

	if code != packet.CodeAccepted.Code {
		s.log.Debug("mqtttest client refused", "client_id", pkt.ClientID, "code", code)
		_ = c.send(&packet.CONNACK{ReturnCode: code})
		return fmt.Errorf("connect refused with code %d", code)
	}
	id := pkt.ClientID
	if id == "" {
		id = c.remoteAddr
	}
	c.mu.Lock()
	c.id, c.will = id, pkt.Will
	c.mu.Unlock()
	s.log.Debug("mqtttest client accepted", "client_id", c.id, "username", pkt.Username)
	return c.send(&packet.CONNACK{SessionPresent: present && !pkt.CleanSession})
}

func (c *conn) subscribe(pkt *packet.SUBSCRIBE) error {
	s := c.server
	codes := make([]byte, len(pkt.Subscriptions))
	for i, sub := range pkt.Subscriptions {
		s.mu.Lock()
		refused := s.refused[sub.TopicFilter]
		s.mu.Unlock()
		if refused {
			codes[i] = packet.CodeSubackFailure
			continue
		}
		if err := c.subs.Subscribe(sub.TopicFilter); err != nil {
			codes[i] = packet.CodeSubackFailure
			continue
		}
		c.mu.Lock()
		c.granted[sub.TopicFilter] = sub.MaximumQoS
		c.mu.Unlock()
		codes[i] = sub.MaximumQoS
	}
	s.log.Debug("mqtttest client subscribed", "client_id", c.id, "codes", codes)
	return c.send(&packet.SUBACK{PacketID: pkt.PacketID, ReturnCodes: codes})
}
