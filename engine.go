package mqttclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// engine is the protocol core shared by the three connection layers. Every
// method runs on the connection's executor and none of them blocks; dials
// and socket writes are handed to the worker pool.
type engine struct {
	cfg       Config
	queue     Executor
	pool      *WorkerPool
	log       Logger
	metrics   clientMetrics
	keepAlive time.Duration

	sm      *stateMachine
	policy  *reconnectState
	ids     *PacketIDAllocator
	tracker *QoSTracker

	// Current attempt.
	transport     Transport
	attempt       uint64
	dialStarted   time.Time
	inbuf         []byte
	lastSend      time.Time
	everConnected bool

	connectTimer   deadline
	reconnectTimer deadline
	keepAliveTimer deadline
	pingTimer      deadline

	// Requests.
	connectWaiters []func(error)
	queued         []outbound
	acks           map[uint16]*pendingAck
	ackSeq         uint64

	failure error
	closed  bool

	onMessage func(*Message)
	onState   func(StateChange)
}

// newEngine creates an engine for a resolved config.
func newEngine(cfg Config) *engine {
	e := &engine{
		cfg:       cfg,
		queue:     cfg.Executor,
		pool:      cfg.WorkerPool,
		log:       cfg.Logger.WithFields(LogFields{LogFieldClientID: cfg.ClientID}),
		metrics:   newClientMetrics(cfg.Metrics),
		keepAlive: time.Duration(cfg.KeepAlive) * time.Second,
		policy:    newReconnectState(cfg.Reconnect),
		ids:       NewPacketIDAllocator(),
		tracker:   NewQoSTracker(),
		acks:      make(map[uint16]*pendingAck),
	}
	e.sm = newStateMachine(e.stateChanged)
	return e
}

func (e *engine) stateChanged(change StateChange) {
	fields := LogFields{LogFieldState: change.To.String()}
	if change.Err != nil {
		fields[LogFieldError] = change.Err.Error()
	}
	e.log.Info("connection state changed", fields)

	if e.onState != nil {
		e.onState(change)
	}
}

func (e *engine) fire(event string, cause error) {
	if err := e.sm.fire(event, cause); err != nil {
		e.log.Debug("state event ignored", LogFields{"event": event, LogFieldError: err.Error()})
	}
}

// terminalErr returns the error for requests made after Failed or after a
// completed disconnect.
func (e *engine) terminalErr() error {
	switch {
	case e.failure != nil:
		return alreadyFailed(e.failure)
	case e.closed:
		return ErrAlreadyClosed
	}
	return nil
}

func (e *engine) connect(done func(error)) {
	if err := e.terminalErr(); err != nil {
		done(err)
		return
	}

	switch e.sm.state() {
	case StateConnected:
		done(nil)
	case StateConnecting, StateReconnectWait:
		e.connectWaiters = append(e.connectWaiters, done)
	case StateDisconnected:
		e.connectWaiters = append(e.connectWaiters, done)
		e.fire(eventConnect, nil)
		e.startAttempt()
	}
}

func (e *engine) startAttempt() {
	e.policy.attemptStarted()
	e.metrics.connectAttempt()
	e.attempt++
	e.dialStarted = time.Now()

	id := e.attempt
	timeout := e.cfg.ConnectTimeout
	dialer := e.cfg.Dialer
	host := e.cfg.Host

	e.log.Debug("connecting", LogFields{LogFieldHost: host, LogFieldAttempt: e.policy.attempts})

	e.connectTimer.arm(e.queue, timeout, func() {
		e.lost(fmt.Errorf("%w: %w", ErrConnectFailed, ErrTimeout))
	})

	e.pool.Submit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		conn, err := dialer.Dial(ctx, host)
		e.queue.Execute(func() {
			e.dialed(id, conn, err)
		})
	})
}

func (e *engine) dialed(id uint64, conn net.Conn, err error) {
	if id != e.attempt || e.sm.state() != StateConnecting {
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		e.lost(fmt.Errorf("%w: %w", ErrConnectFailed, err))
		return
	}

	t := newStreamTransport(conn, e.pool, e.cfg)
	e.transport = t
	e.inbuf = nil
	t.Start(&transportEvents{engine: e, transport: t})

	e.log.Debug("transport open", LogFields{LogFieldRemoteAddr: t.RemoteAddr().String()})

	if err := e.send(e.connectPacket()); err != nil {
		e.lost(fmt.Errorf("%w: %w", ErrConnectFailed, err))
	}
}

func (e *engine) connectPacket() *ConnectPacket {
	p := &ConnectPacket{
		Version:      e.cfg.Version,
		ClientID:     e.cfg.ClientID,
		CleanSession: e.cfg.CleanSession,
		KeepAlive:    e.cfg.KeepAlive,
		Username:     e.cfg.Username,
	}
	if e.cfg.Password != "" {
		p.Password = []byte(e.cfg.Password)
	}
	if w := e.cfg.Will; w != nil {
		p.WillFlag = true
		p.WillTopic = w.Topic
		p.WillPayload = w.Payload
		p.WillQoS = w.QoS
		p.WillRetain = w.Retain
	}
	return p
}

// transportEvents forwards the events of one transport to the engine's
// executor. Events from a transport the engine already dropped are ignored.
type transportEvents struct {
	engine    *engine
	transport Transport
}

func (h *transportEvents) OnData(data []byte) {
	h.engine.queue.Execute(func() {
		if h.engine.transport == h.transport {
			h.engine.received(data)
		}
	})
}

func (h *transportEvents) OnClose(err error) {
	h.engine.queue.Execute(func() {
		if h.engine.transport == h.transport {
			h.engine.transportClosed(err)
		}
	})
}

func (e *engine) received(data []byte) {
	e.inbuf = append(e.inbuf, data...)

	for e.transport != nil {
		pkt, n, err := Decode(e.inbuf, e.cfg.MaxPacketSize)
		if errors.Is(err, ErrNeedMoreData) {
			break
		}
		if err != nil {
			e.protocolError(err)
			return
		}

		e.inbuf = e.inbuf[n:]
		e.dispatch(pkt)
	}

	if len(e.inbuf) == 0 {
		e.inbuf = nil
	}
}

func (e *engine) dispatch(pkt Packet) {
	e.metrics.packetReceived(pkt.Type())
	e.log.Debug("packet received", LogFields{LogFieldPacketType: pkt.Type().String()})

	// Any inbound packet answers an outstanding PINGREQ.
	e.pingTimer.stop()

	if e.sm.state() == StateConnecting {
		connack, ok := pkt.(*ConnackPacket)
		if !ok {
			e.protocolError(fmt.Errorf("%w: %s before CONNACK", ErrProtocolViolation, pkt.Type()))
			return
		}
		e.connackReceived(connack)
		return
	}

	switch p := pkt.(type) {
	case *PublishPacket:
		e.publishReceived(p)
	case *PubackPacket:
		e.pubackReceived(p.PacketID)
	case *PubrecPacket:
		e.pubrecReceived(p.PacketID)
	case *PubrelPacket:
		e.pubrelReceived(p.PacketID)
	case *PubcompPacket:
		e.pubcompReceived(p.PacketID)
	case *SubackPacket:
		e.subackReceived(p)
	case *UnsubackPacket:
		e.unsubackReceived(p.PacketID)
	case *PingrespPacket:
	case *DisconnectPacket:
		e.lost(ErrServerDisconnect)
	default:
		e.protocolError(fmt.Errorf("%w: unexpected %s", ErrProtocolViolation, pkt.Type()))
	}
}

func (e *engine) connackReceived(p *ConnackPacket) {
	e.connectTimer.stop()

	if !p.ReturnCode.Accepted() {
		e.log.Warn("connection refused", LogFields{LogFieldReturnCode: p.ReturnCode.String()})
		e.lost(NewConnectError(p.ReturnCode))
		return
	}

	e.policy.connected()
	e.metrics.connectDuration(time.Since(e.dialStarted))

	reconnected := e.everConnected
	e.everConnected = true

	e.fire(eventEstablished, nil)
	e.scheduleKeepAlive()

	if reconnected {
		e.replay()
	}

	waiters := e.connectWaiters
	e.connectWaiters = nil
	for _, done := range waiters {
		done(nil)
	}

	e.flushQueued()
}

// replay restores every outstanding exchange on a new connection before any
// new request goes out: tracker entries first, then SUBSCRIBE and
// UNSUBSCRIBE requests still waiting for their acknowledgment.
func (e *engine) replay() {
	if e.cfg.CleanSession {
		e.tracker.ClearInbound()
	}

	packets := e.tracker.Replay()
	for _, ack := range e.pendingAcks() {
		packets = append(packets, ack.packet)
	}

	for _, pkt := range packets {
		if err := e.send(pkt); err != nil {
			e.log.Warn("replay interrupted", LogFields{LogFieldError: err.Error()})
			return
		}
	}

	if len(packets) > 0 {
		e.log.Info("replayed outstanding exchanges", LogFields{"count": len(packets)})
	}
}

func (e *engine) scheduleKeepAlive() {
	if e.keepAlive <= 0 {
		return
	}
	e.keepAliveTimer.arm(e.queue, e.keepAlive, e.keepAliveCheck)
}

// keepAliveCheck sends PINGREQ once nothing was written for a full
// interval. The ping deadline is cleared by any inbound packet.
func (e *engine) keepAliveCheck() {
	if e.sm.state() != StateConnected {
		return
	}

	idle := time.Since(e.lastSend)
	if idle < e.keepAlive {
		e.keepAliveTimer.arm(e.queue, e.keepAlive-idle, e.keepAliveCheck)
		return
	}

	if !e.pingTimer.active() {
		if err := e.send(&PingreqPacket{}); err != nil {
			return
		}
		e.pingTimer.arm(e.queue, e.keepAlive, func() {
			e.log.Warn("keep-alive timeout", nil)
			e.lost(ErrTimeout)
		})
	}

	e.keepAliveTimer.arm(e.queue, e.keepAlive, e.keepAliveCheck)
}

// send encodes and writes pkt.
func (e *engine) send(pkt Packet) error {
	data, err := Encode(pkt)
	if err != nil {
		return err
	}
	return e.write(pkt.Type(), data)
}

func (e *engine) write(packetType PacketType, data []byte) error {
	if e.transport == nil {
		return ErrConnectionLost
	}
	if err := e.transport.Send(data); err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionLost, err)
	}

	e.lastSend = time.Now()
	e.metrics.packetSent(packetType)
	e.log.Debug("packet sent", LogFields{LogFieldPacketType: packetType.String(), LogFieldBytes: len(data)})
	return nil
}

func (e *engine) transportClosed(err error) {
	sentinel := ErrConnectionLost
	if e.sm.state() == StateConnecting {
		sentinel = ErrConnectFailed
	}

	if err == nil {
		e.lost(sentinel)
		return
	}
	e.lost(fmt.Errorf("%w: %w", sentinel, err))
}

func (e *engine) protocolError(err error) {
	err = fmt.Errorf("%w: %w", ErrProtocolError, err)
	e.log.Error("protocol error", LogFields{LogFieldError: err.Error()})
	e.lost(err)
}

// lost tears down the current attempt and either schedules the next one or
// fails the connection.
func (e *engine) lost(cause error) {
	e.dropTransport()

	attempt, delay, ok := e.policy.failed()
	if !ok {
		e.fail(NewFailedError(cause, e.policy.attempts))
		return
	}

	e.metrics.reconnect()
	e.log.Warn("reconnect scheduled", LogFields{
		LogFieldAttempt:  attempt,
		LogFieldDuration: delay.String(),
		LogFieldError:    cause.Error(),
	})

	e.fire(eventLost, &ReconnectEvent{Cause: cause, Attempt: attempt, Delay: delay})
	e.reconnectTimer.arm(e.queue, delay, func() {
		e.fire(eventRetry, nil)
		e.startAttempt()
	})
}

func (e *engine) dropTransport() {
	e.connectTimer.stop()
	e.keepAliveTimer.stop()
	e.pingTimer.stop()

	if e.transport != nil {
		_ = e.transport.Close()
		e.transport = nil
	}
	e.inbuf = nil
}

func (e *engine) fail(err error) {
	e.dropTransport()
	e.reconnectTimer.stop()
	e.failure = err

	e.log.Error("connection failed", LogFields{LogFieldError: err.Error()})
	e.fire(eventFail, err)
	e.resolveAll(err)
}

func (e *engine) disconnect(done func(error)) {
	if err := e.terminalErr(); err != nil {
		done(err)
		return
	}

	if e.sm.state() != StateConnected {
		e.dropTransport()
		e.reconnectTimer.stop()
		e.finishDisconnect()
		done(nil)
		return
	}

	e.keepAliveTimer.stop()
	e.pingTimer.stop()

	t := e.transport
	if err := e.send(&DisconnectPacket{}); err != nil {
		e.log.Debug("DISCONNECT not sent", LogFields{LogFieldError: err.Error()})
	}
	e.transport = nil
	e.inbuf = nil
	_ = t.Close()

	e.finishDisconnect()

	// Report completion once the DISCONNECT is flushed and the socket closed.
	e.pool.Submit(func() {
		<-t.Done()
		e.queue.Execute(func() {
			done(nil)
		})
	})
}

func (e *engine) finishDisconnect() {
	e.closed = true
	if e.sm.state() != StateDisconnected {
		e.fire(eventClose, nil)
	}
	e.resolveAll(ErrCancelled)
}

// resolveAll completes every request the engine still holds with err.
func (e *engine) resolveAll(err error) {
	waiters := e.connectWaiters
	e.connectWaiters = nil
	for _, done := range waiters {
		done(err)
	}

	for _, p := range e.tracker.Drain() {
		p.resolve(err)
	}

	acks := e.pendingAcks()
	clear(e.acks)
	for _, ack := range acks {
		ack.fail(err)
	}

	queued := e.queued
	e.queued = nil
	for _, r := range queued {
		r.fail(err)
	}

	e.tracker.ClearInbound()
	e.ids.Reset()
	e.metrics.inflight(0)
}
