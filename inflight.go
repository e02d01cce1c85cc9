package mqtt

import (
	"time"

	"github.com/golang-io/iotmqtt/packet"
)

type flightState int

const (
	flightSent         flightState = iota // admitted, not yet acknowledged (maybe not yet written)
	flightAwaitPuback                     // QoS 1 written
	flightAwaitPubrec                     // QoS 2 written
	flightAwaitPubcomp                    // QoS 2 PUBREL written
)

func (s flightState) String() string {
	switch s {
	case flightSent:
		return "SENT"
	case flightAwaitPuback:
		return "AWAIT_PUBACK"
	case flightAwaitPubrec:
		return "AWAIT_PUBREC"
	case flightAwaitPubcomp:
		return "AWAIT_PUBCOMP"
	}
	return "UNKNOWN"
}

// flight is one outbound QoS 1 or 2 publish.
type flight struct {
	id       uint16
	msg      *Message
	token    *Token
	state    flightState
	retries  int
	deadline time.Time
	written  bool // the PUBLISH went out at least once, so a resend carries DUP
}

// inFlight is the outbound flow controller.
//
// At most window publishes hold a packet identifier and wait for acknowledgement;
// the rest wait in a FIFO of at most maxQueued entries. Unacknowledged publishes are
// retransmitted after ackTimeout, up to maxRetries times, then fail. It never reads
// the clock: the session passes the current time in. Owned by the session goroutine.
type inFlight struct {
	window     int
	maxQueued  int
	ackTimeout time.Duration
	maxRetries int

	ids    *packetIDs
	active []*flight // admission order
	byID   map[uint16]*flight
	queue  []*flight
}

func newInFlight(ids *packetIDs, window, maxQueued int, ackTimeout time.Duration, maxRetries int) *inFlight {
	return &inFlight{
		window:     window,
		maxQueued:  maxQueued,
		ackTimeout: ackTimeout,
		maxRetries: maxRetries,
		ids:        ids,
		byID:       make(map[uint16]*flight),
	}
}

// admit takes a new publish. It reports true when the publish received an identifier
// and should be transmitted now, false when it was queued.
func (f *inFlight) admit(fl *flight) (bool, error) {
	if len(f.queue) == 0 && f.activate(fl) {
		return true, nil
	}
	if len(f.queue) >= f.maxQueued {
		return false, ErrQueueFull
	}
	f.queue = append(f.queue, fl)
	return false, nil
}

func (f *inFlight) activate(fl *flight) bool {
	if len(f.active) >= f.window {
		return false
	}
	id, ok := f.ids.acquire()
	if !ok {
		return false
	}
	fl.id, fl.state = id, flightSent
	f.active = append(f.active, fl)
	f.byID[id] = fl
	return true
}

// promote moves queued publishes into free window slots, in FIFO order, and returns them.
func (f *inFlight) promote() []*flight {
	var ready []*flight
	for len(f.queue) > 0 && f.activate(f.queue[0]) {
		ready = append(ready, f.queue[0])
		f.queue[0] = nil
		f.queue = f.queue[1:]
	}
	return ready
}

// transmit returns the packet to write for fl and arms its acknowledgement deadline.
func (f *inFlight) transmit(fl *flight, now time.Time) packet.Packet {
	fl.deadline = now.Add(f.ackTimeout)
	if fl.state == flightAwaitPubcomp {
		return &packet.PUBREL{PacketID: fl.id}
	}
	pkt := fl.msg.packet(fl.id, fl.written)
	fl.written = true
	if fl.msg.QoS == AtLeastOnce {
		fl.state = flightAwaitPuback
	} else {
		fl.state = flightAwaitPubrec
	}
	return pkt
}

// ack applies a PUBACK, PUBREC or PUBCOMP. It returns the flight when the exchange
// completed, and a PUBREL to write in reply to an in-sequence PUBREC. ok is false
// when the acknowledgement matched nothing in the expected state and was ignored.
func (f *inFlight) ack(kind byte, id uint16, now time.Time) (done *flight, reply packet.Packet, ok bool) {
	fl, found := f.byID[id]
	if !found {
		return nil, nil, false
	}
	switch {
	case kind == packet.KindPuback && fl.state == flightAwaitPuback:
		f.remove(fl)
		return fl, nil, true
	case kind == packet.KindPubrec && fl.state == flightAwaitPubrec:
		fl.state = flightAwaitPubcomp
		fl.retries = 0
		return nil, f.transmit(fl, now), true
	case kind == packet.KindPubcomp && fl.state == flightAwaitPubcomp:
		f.remove(fl)
		return fl, nil, true
	}
	return nil, nil, false
}

// expired handles deadlines at or before now. Flights with retries left are returned
// for retransmission (their packets rebuilt by transmit), the rest are removed and
// returned as failed.
func (f *inFlight) expired(now time.Time) (retransmit, failed []*flight) {
	for _, fl := range append([]*flight(nil), f.active...) {
		if fl.state == flightSent || fl.deadline.After(now) {
			continue
		}
		if fl.retries >= f.maxRetries {
			f.remove(fl)
			failed = append(failed, fl)
			continue
		}
		fl.retries++
		retransmit = append(retransmit, fl)
	}
	return retransmit, failed
}

// nextDeadline is the earliest acknowledgement deadline of a written flight.
func (f *inFlight) nextDeadline() (time.Time, bool) {
	var next time.Time
	for _, fl := range f.active {
		if fl.state == flightSent {
			continue
		}
		if next.IsZero() || fl.deadline.Before(next) {
			next = fl.deadline
		}
	}
	return next, !next.IsZero()
}

// pending returns the active flights in admission order, for retransmission on a new
// connection. Deadlines and retry counts start over.
func (f *inFlight) pending() []*flight {
	for _, fl := range f.active {
		fl.retries = 0
		fl.deadline = time.Time{}
	}
	return append([]*flight(nil), f.active...)
}

// drain removes every active and queued flight and returns them.
func (f *inFlight) drain() []*flight {
	all := append(f.active, f.queue...)
	for _, fl := range f.active {
		f.ids.release(fl.id)
	}
	f.active, f.queue = nil, nil
	f.byID = make(map[uint16]*flight)
	return all
}

func (f *inFlight) remove(fl *flight) {
	delete(f.byID, fl.id)
	f.ids.release(fl.id)
	for i, a := range f.active {
		if a == fl {
			f.active = append(f.active[:i], f.active[i+1:]...)
			break
		}
	}
}

func (f *inFlight) len() int { return len(f.active) }

func (f *inFlight) queued() int { return len(f.queue) }
