package mqtt

// packetIDs hands out packet identifiers for one session.
//
// An identifier stays reserved until its exchange completes; identifiers run 1..65535
// and wrap back to 1, never 0 [MQTT-2.3.1-1]. Owned by the session goroutine.
type packetIDs struct {
	next uint16
	used map[uint16]struct{}
}

func newPacketIDs() *packetIDs {
	return &packetIDs{next: 1, used: make(map[uint16]struct{})}
}

// acquire reserves the next free identifier. It fails only when all 65535 are in use.
func (p *packetIDs) acquire() (uint16, bool) {
	if len(p.used) >= 0xFFFF {
		return 0, false
	}
	for {
		id := p.next
		p.next++
		if p.next == 0 {
			p.next = 1
		}
		if _, ok := p.used[id]; !ok {
			p.used[id] = struct{}{}
			return id, true
		}
	}
}

func (p *packetIDs) release(id uint16) {
	delete(p.used, id)
}

func (p *packetIDs) inUse(id uint16) bool {
	_, ok := p.used[id]
	return ok
}

func (p *packetIDs) len() int {
	return len(p.used)
}
