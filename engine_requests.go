package mqttclient

import (
	"fmt"
	"slices"
)

// outbound is a request waiting in the submission queue.
type outbound interface {
	// ready reports whether the request may be transmitted now.
	ready(e *engine) bool
	transmit(e *engine)
	fail(err error)
}

// pendingAck is a SUBSCRIBE or UNSUBSCRIBE awaiting its acknowledgment.
type pendingAck struct {
	seq          uint64
	packet       PacketWithID
	subscribed   func([]byte, error)
	unsubscribed func(error)
}

func (a *pendingAck) fail(err error) {
	if a.subscribed != nil {
		a.subscribed(nil, err)
		return
	}
	a.unsubscribed(err)
}

// submit queues r behind earlier requests and transmits what it can.
func (e *engine) submit(r outbound) {
	if err := e.terminalErr(); err != nil {
		r.fail(err)
		return
	}

	e.queued = append(e.queued, r)
	e.flushQueued()
}

// flushQueued transmits queued requests in submission order. It stops at
// the first request that is not ready so later ones never overtake it.
func (e *engine) flushQueued() {
	for len(e.queued) > 0 && e.sm.state() == StateConnected {
		r := e.queued[0]
		if !r.ready(e) {
			return
		}
		e.queued[0] = nil
		e.queued = e.queued[1:]
		r.transmit(e)
	}
	if len(e.queued) == 0 {
		e.queued = nil
	}
}

type publishRequest struct {
	msg  *Message
	done func(error)
}

func (r *publishRequest) ready(e *engine) bool {
	if r.msg.QoS == 0 || e.cfg.MaxInflight == 0 {
		return true
	}
	return e.tracker.Outbound() < e.cfg.MaxInflight
}

func (r *publishRequest) transmit(e *engine) {
	if r.msg.QoS == 0 {
		pkt := &PublishPacket{}
		pkt.FromMessage(r.msg)
		r.done(e.send(pkt))
		return
	}

	id, err := e.ids.Allocate()
	if err != nil {
		r.done(err)
		return
	}

	entry := &InFlightPublish{
		PacketID: id,
		Topic:    r.msg.Topic,
		Payload:  r.msg.Payload,
		QoS:      r.msg.QoS,
		Retain:   r.msg.Retain,
		done:     r.done,
	}

	data, err := Encode(entry.packet())
	if err != nil {
		e.ids.Release(id)
		r.done(err)
		return
	}

	e.tracker.Track(entry)
	e.metrics.inflight(e.tracker.Outbound())

	// A failed write leaves the entry tracked; it is replayed on the next connection.
	if err := e.write(PacketPUBLISH, data); err != nil {
		e.log.Debug("PUBLISH deferred", LogFields{LogFieldPacketID: id, LogFieldError: err.Error()})
	}
}

func (r *publishRequest) fail(err error) { r.done(err) }

type subscribeRequest struct {
	subs []Subscription
	done func([]byte, error)
}

func (r *subscribeRequest) ready(*engine) bool { return true }

func (r *subscribeRequest) transmit(e *engine) {
	e.transmitAck(&SubscribePacket{Subscriptions: r.subs}, &pendingAck{subscribed: r.done})
}

func (r *subscribeRequest) fail(err error) { r.done(nil, err) }

type unsubscribeRequest struct {
	filters []string
	done    func(error)
}

func (r *unsubscribeRequest) ready(*engine) bool { return true }

func (r *unsubscribeRequest) transmit(e *engine) {
	e.transmitAck(&UnsubscribePacket{TopicFilters: r.filters}, &pendingAck{unsubscribed: r.done})
}

func (r *unsubscribeRequest) fail(err error) { r.done(err) }

// transmitAck assigns an identifier to pkt, registers ack under it and
// sends the packet.
func (e *engine) transmitAck(pkt PacketWithID, ack *pendingAck) {
	id, err := e.ids.Allocate()
	if err != nil {
		ack.fail(err)
		return
	}
	pkt.SetPacketID(id)

	data, err := Encode(pkt)
	if err != nil {
		e.ids.Release(id)
		ack.fail(err)
		return
	}

	e.ackSeq++
	ack.seq = e.ackSeq
	ack.packet = pkt
	e.acks[id] = ack

	if err := e.write(pkt.Type(), data); err != nil {
		e.log.Debug("request deferred", LogFields{LogFieldPacketID: id, LogFieldError: err.Error()})
	}
}

// takeAck removes the pending request of the given type registered under id.
func (e *engine) takeAck(id uint16, requestType PacketType) (*pendingAck, bool) {
	ack, ok := e.acks[id]
	if !ok || ack.packet.Type() != requestType {
		return nil, false
	}
	delete(e.acks, id)
	e.ids.Release(id)
	return ack, true
}

// pendingAcks returns the outstanding SUBSCRIBE and UNSUBSCRIBE requests in
// submission order.
func (e *engine) pendingAcks() []*pendingAck {
	acks := make([]*pendingAck, 0, len(e.acks))
	for _, ack := range e.acks {
		acks = append(acks, ack)
	}
	slices.SortFunc(acks, func(a, b *pendingAck) int {
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		default:
			return 0
		}
	})
	return acks
}

func (e *engine) publishReceived(p *PublishPacket) {
	switch p.QoS {
	case 0:
		e.deliver(p)
	case 1:
		e.deliver(p)
		e.reply(&PubackPacket{PacketID: p.PacketID})
	case 2:
		if e.tracker.InboundPublish(p.PacketID) {
			e.deliver(p)
		} else {
			e.log.Debug("duplicate QoS 2 PUBLISH", LogFields{LogFieldPacketID: p.PacketID})
		}
		e.reply(&PubrecPacket{PacketID: p.PacketID})
	}
}

func (e *engine) deliver(p *PublishPacket) {
	e.metrics.delivered(p.QoS)
	if e.onMessage != nil {
		e.onMessage(p.ToMessage())
	}
}

// reply sends an acknowledgment. A write failure is reported by the
// transport's close event.
func (e *engine) reply(pkt Packet) {
	if err := e.send(pkt); err != nil {
		e.log.Debug("acknowledgment not sent", LogFields{LogFieldPacketType: pkt.Type().String(), LogFieldError: err.Error()})
	}
}

func (e *engine) pubackReceived(id uint16) {
	entry, ok := e.tracker.Puback(id)
	if !ok {
		e.log.Debug("unknown PUBACK", LogFields{LogFieldPacketID: id})
		return
	}
	e.completed(entry)
}

func (e *engine) pubrecReceived(id uint16) {
	if _, ok := e.tracker.Pubrec(id); !ok {
		e.log.Debug("unknown PUBREC", LogFields{LogFieldPacketID: id})
		return
	}
	e.reply(&PubrelPacket{PacketID: id})
}

func (e *engine) pubrelReceived(id uint16) {
	if !e.tracker.InboundRelease(id) {
		e.log.Debug("PUBREL for unknown id", LogFields{LogFieldPacketID: id})
	}
	e.reply(&PubcompPacket{PacketID: id})
}

func (e *engine) pubcompReceived(id uint16) {
	entry, ok := e.tracker.Pubcomp(id)
	if !ok {
		e.log.Debug("unknown PUBCOMP", LogFields{LogFieldPacketID: id})
		return
	}
	e.completed(entry)
}

// completed finishes an outbound exchange and lets queued publishes use the
// freed slot.
func (e *engine) completed(entry *InFlightPublish) {
	e.ids.Release(entry.PacketID)
	e.metrics.inflight(e.tracker.Outbound())
	entry.resolve(nil)
	e.flushQueued()
}

func (e *engine) subackReceived(p *SubackPacket) {
	ack, ok := e.takeAck(p.PacketID, PacketSUBSCRIBE)
	if !ok {
		e.log.Debug("unknown SUBACK", LogFields{LogFieldPacketID: p.PacketID})
		return
	}

	subs := ack.packet.(*SubscribePacket).Subscriptions
	if len(p.ReturnCodes) != len(subs) {
		ack.subscribed(nil, fmt.Errorf("%w: SUBACK has %d return codes for %d filters",
			ErrProtocolViolation, len(p.ReturnCodes), len(subs)))
		return
	}

	var refused []string
	for i, code := range p.ReturnCodes {
		if code == SubackFailure {
			refused = append(refused, subs[i].TopicFilter)
		}
	}

	codes := slices.Clone(p.ReturnCodes)
	if len(refused) > 0 {
		ack.subscribed(codes, NewSubscribeError(refused))
		return
	}
	ack.subscribed(codes, nil)
}

func (e *engine) unsubackReceived(id uint16) {
	ack, ok := e.takeAck(id, PacketUNSUBSCRIBE)
	if !ok {
		e.log.Debug("unknown UNSUBACK", LogFields{LogFieldPacketID: id})
		return
	}
	ack.unsubscribed(nil)
}
