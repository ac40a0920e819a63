package mqttclient

import (
	"slices"
)

// OutboundState is the progress of an outbound QoS 1/2 publish.
type OutboundState int

const (
	// OutboundSent means the PUBLISH went out and no acknowledgment arrived yet.
	OutboundSent OutboundState = 0
	// OutboundReceived means a QoS 2 PUBREC arrived and PUBREL was sent.
	OutboundReceived OutboundState = 1
)

// String returns the string representation of the state.
func (s OutboundState) String() string {
	switch s {
	case OutboundSent:
		return "SENT"
	case OutboundReceived:
		return "RECEIVED"
	default:
		return "UNKNOWN"
	}
}

// InFlightPublish is an outbound QoS 1/2 publish awaiting acknowledgment.
type InFlightPublish struct {
	PacketID uint16
	Topic    string
	Payload  []byte
	QoS      byte
	Retain   bool
	Dup      bool
	State    OutboundState

	seq  uint64
	done func(error)
}

// packet returns the PUBLISH carrying this entry.
func (p *InFlightPublish) packet() *PublishPacket {
	return &PublishPacket{
		Topic:    p.Topic,
		Payload:  p.Payload,
		QoS:      p.QoS,
		Retain:   p.Retain,
		DUP:      p.Dup,
		PacketID: p.PacketID,
	}
}

// resolve completes the caller's request once.
func (p *InFlightPublish) resolve(err error) {
	if p.done != nil {
		done := p.done
		p.done = nil
		done(err)
	}
}

// QoSTracker implements the QoS 1 and QoS 2 acknowledgment flows of one
// connection. It is not safe for concurrent use; the connection drives it
// from its serial queue.
type QoSTracker struct {
	outbound map[uint16]*InFlightPublish
	inbound  map[uint16]struct{}
	seq      uint64
}

// NewQoSTracker creates an empty tracker.
func NewQoSTracker() *QoSTracker {
	return &QoSTracker{
		outbound: make(map[uint16]*InFlightPublish),
		inbound:  make(map[uint16]struct{}),
	}
}

// Track records a QoS 1/2 publish that is about to be sent.
func (t *QoSTracker) Track(p *InFlightPublish) {
	t.seq++
	p.seq = t.seq
	p.State = OutboundSent
	t.outbound[p.PacketID] = p
}

// Get returns the outbound entry for id.
func (t *QoSTracker) Get(id uint16) (*InFlightPublish, bool) {
	p, ok := t.outbound[id]
	return p, ok
}

// Puback handles a PUBACK. It returns the completed QoS 1 entry, which is
// removed from the tracker.
func (t *QoSTracker) Puback(id uint16) (*InFlightPublish, bool) {
	p, ok := t.outbound[id]
	if !ok || p.QoS != 1 {
		return nil, false
	}
	delete(t.outbound, id)
	return p, true
}

// Pubrec handles a PUBREC. The QoS 2 entry moves to OutboundReceived; a
// repeated PUBREC for an entry already there is accepted so PUBREL is sent again.
func (t *QoSTracker) Pubrec(id uint16) (*InFlightPublish, bool) {
	p, ok := t.outbound[id]
	if !ok || p.QoS != 2 {
		return nil, false
	}
	p.State = OutboundReceived
	return p, true
}

// Pubcomp handles a PUBCOMP. It returns the completed QoS 2 entry, which is
// removed from the tracker.
func (t *QoSTracker) Pubcomp(id uint16) (*InFlightPublish, bool) {
	p, ok := t.outbound[id]
	if !ok || p.QoS != 2 || p.State != OutboundReceived {
		return nil, false
	}
	delete(t.outbound, id)
	return p, true
}

// Replay returns the packets that restore every outstanding exchange after a
// reconnect, in submission order: a PUBLISH with DUP set for entries still
// in OutboundSent and a PUBREL for entries in OutboundReceived.
func (t *QoSTracker) Replay() []Packet {
	entries := t.pending()
	packets := make([]Packet, 0, len(entries))

	for _, p := range entries {
		if p.State == OutboundReceived {
			packets = append(packets, &PubrelPacket{PacketID: p.PacketID})
			continue
		}
		p.Dup = true
		packets = append(packets, p.packet())
	}

	return packets
}

// InboundPublish records an inbound QoS 2 PUBLISH. It returns false when the
// id is already recorded, meaning the PUBLISH is a retransmission that must
// not be delivered again.
func (t *QoSTracker) InboundPublish(id uint16) bool {
	if _, ok := t.inbound[id]; ok {
		return false
	}
	t.inbound[id] = struct{}{}
	return true
}

// InboundRelease drops the record for id after PUBREL. It reports whether
// the id was known; PUBCOMP is sent either way.
func (t *QoSTracker) InboundRelease(id uint16) bool {
	_, ok := t.inbound[id]
	delete(t.inbound, id)
	return ok
}

// ClearInbound forgets every inbound QoS 2 record.
func (t *QoSTracker) ClearInbound() {
	clear(t.inbound)
}

// Drain removes and returns every outbound entry in submission order.
func (t *QoSTracker) Drain() []*InFlightPublish {
	entries := t.pending()
	clear(t.outbound)
	return entries
}

// Outbound returns the number of outstanding outbound publishes.
func (t *QoSTracker) Outbound() int {
	return len(t.outbound)
}

// Inbound returns the number of inbound QoS 2 records.
func (t *QoSTracker) Inbound() int {
	return len(t.inbound)
}

func (t *QoSTracker) pending() []*InFlightPublish {
	entries := make([]*InFlightPublish, 0, len(t.outbound))
	for _, p := range t.outbound {
		entries = append(entries, p)
	}
	slices.SortFunc(entries, func(a, b *InFlightPublish) int {
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		default:
			return 0
		}
	})
	return entries
}
