package mqttclient

import (
	"context"
	"errors"
	"sync"
	"time"
)

// BlockingConnection is the synchronous connection. Each request blocks
// until it completes or ctx is done; a done ctx only abandons the wait and
// the exchange itself carries on. Received messages are buffered in arrival
// order and read with Receive.
//
// The methods must not be called from a handler running on the connection's
// executor: the handler would wait for work queued behind itself.
type BlockingConnection struct {
	conn   *FutureConnection
	buffer *messageBuffer

	mu      sync.Mutex
	onState StateHandler
}

// NewBlockingConnection validates cfg and creates a connection from a copy of it.
func NewBlockingConnection(cfg Config) (*BlockingConnection, error) {
	conn, err := NewFutureConnection(cfg)
	if err != nil {
		return nil, err
	}

	b := &BlockingConnection{
		conn:   conn,
		buffer: newMessageBuffer(),
	}
	conn.OnMessage(b.buffer.push)
	conn.OnStateChange(b.stateChanged)
	return b, nil
}

// Connect blocks until the broker accepted the connection.
func (b *BlockingConnection) Connect(ctx context.Context) error {
	_, err := b.conn.Connect().Await(ctx)
	return err
}

// Disconnect blocks until the transport is closed. Pending Receive calls
// return ErrConnectionClosed once buffered messages are drained.
func (b *BlockingConnection) Disconnect(ctx context.Context) error {
	_, err := b.conn.Disconnect().Await(ctx)
	if err == nil {
		b.buffer.close()
	}
	return err
}

// Publish blocks until the message is acknowledged as its QoS requires.
func (b *BlockingConnection) Publish(ctx context.Context, topic string, payload []byte, qos byte, retain bool) error {
	_, err := b.conn.Publish(topic, payload, qos, retain).Await(ctx)
	return err
}

// Subscribe blocks until SUBACK and returns its return codes.
func (b *BlockingConnection) Subscribe(ctx context.Context, subs ...Subscription) ([]byte, error) {
	return b.conn.Subscribe(subs...).Await(ctx)
}

// Unsubscribe blocks until UNSUBACK.
func (b *BlockingConnection) Unsubscribe(ctx context.Context, filters ...string) error {
	_, err := b.conn.Unsubscribe(filters...).Await(ctx)
	return err
}

// Receive returns the next buffered message, waiting for one if needed. It
// returns ErrConnectionClosed once the connection failed or was disconnected
// and the buffer is empty.
func (b *BlockingConnection) Receive(ctx context.Context) (*Message, error) {
	return b.buffer.pop(ctx)
}

// ReceiveTimeout is Receive with a deadline. It returns nil and no error
// when no message arrives within d.
func (b *BlockingConnection) ReceiveTimeout(d time.Duration) (*Message, error) {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()

	msg, err := b.buffer.pop(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		return nil, nil
	}
	return msg, err
}

// OnStateChange sets a handler for state transitions. It runs on the
// connection's executor.
func (b *BlockingConnection) OnStateChange(handler StateHandler) {
	b.mu.Lock()
	b.onState = handler
	b.mu.Unlock()
}

// State returns the current connection state.
func (b *BlockingConnection) State() ConnectionState {
	return b.conn.State()
}

// ClientID returns the client identifier sent in CONNECT.
func (b *BlockingConnection) ClientID() string {
	return b.conn.ClientID()
}

// Buffered returns the number of received messages not yet read.
func (b *BlockingConnection) Buffered() int {
	return b.buffer.len()
}

func (b *BlockingConnection) stateChanged(change StateChange) {
	if change.To == StateFailed || change.To == StateDisconnected {
		b.buffer.close()
	}

	b.mu.Lock()
	handler := b.onState
	b.mu.Unlock()

	if handler != nil {
		handler(change)
	}
}

// messageBuffer is an unbounded FIFO of received messages.
type messageBuffer struct {
	mu       sync.Mutex
	messages []*Message
	closed   bool
	notify   chan struct{}
}

func newMessageBuffer() *messageBuffer {
	return &messageBuffer{notify: make(chan struct{})}
}

func (b *messageBuffer) push(msg *Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.messages = append(b.messages, msg)
	b.wakeLocked()
}

func (b *messageBuffer) close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.closed {
		b.closed = true
		b.wakeLocked()
	}
}

// wakeLocked releases every waiter. b.mu must be held.
func (b *messageBuffer) wakeLocked() {
	close(b.notify)
	b.notify = make(chan struct{})
}

func (b *messageBuffer) pop(ctx context.Context) (*Message, error) {
	for {
		b.mu.Lock()
		if len(b.messages) > 0 {
			msg := b.messages[0]
			b.messages[0] = nil
			b.messages = b.messages[1:]
			b.mu.Unlock()
			return msg, nil
		}
		if b.closed {
			b.mu.Unlock()
			return nil, ErrConnectionClosed
		}
		wait := b.notify
		b.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (b *messageBuffer) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.messages)
}
