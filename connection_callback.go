package mqttclient

import (
	"bytes"
	"fmt"
	"slices"
)

// MessageHandler receives application messages.
type MessageHandler func(msg *Message)

// StateHandler receives connection state transitions.
type StateHandler func(change StateChange)

// CallbackConnection is the event-driven connection. Every method returns
// immediately. Completion handlers, message handlers and state handlers all
// run on the connection's executor, one at a time and in order, so they must
// not block. A nil completion handler is allowed.
//
// Requests made before the connection is established are queued and sent in
// submission order once CONNACK arrives.
type CallbackConnection struct {
	engine *engine
}

// NewCallbackConnection validates cfg and creates a connection from a copy
// of it. The connection stays idle until Connect is called.
func NewCallbackConnection(cfg Config) (*CallbackConnection, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &CallbackConnection{engine: newEngine(cfg.resolved())}, nil
}

func (c *CallbackConnection) post(task func()) {
	c.engine.queue.Execute(task)
}

// Connect starts connecting. done is called once the broker accepted the
// connection, or with the terminal error if the attempt bounds are exhausted
// or the connection is disconnected first. Calling Connect on an established
// connection completes at once.
func (c *CallbackConnection) Connect(done func(error)) {
	done = orNoop(done)
	c.post(func() {
		c.engine.connect(done)
	})
}

// Disconnect sends DISCONNECT if connected, closes the transport and
// completes every outstanding request with ErrCancelled. done is called once
// the transport is closed. The connection cannot be reused afterwards.
func (c *CallbackConnection) Disconnect(done func(error)) {
	done = orNoop(done)
	c.post(func() {
		c.engine.disconnect(done)
	})
}

// Publish sends an application message. For QoS 0 done is called once the
// packet is handed to the transport, for QoS 1 on PUBACK and for QoS 2 on
// PUBCOMP. The payload is copied.
func (c *CallbackConnection) Publish(topic string, payload []byte, qos byte, retain bool, done func(error)) {
	done = orNoop(done)

	if err := validatePublish(topic, qos); err != nil {
		c.post(func() { done(err) })
		return
	}

	msg := &Message{
		Topic:   topic,
		Payload: bytes.Clone(payload),
		QoS:     qos,
		Retain:  retain,
	}
	c.post(func() {
		c.engine.submit(&publishRequest{msg: msg, done: done})
	})
}

// Subscribe requests subscriptions. done receives the SUBACK return codes,
// one per filter: the granted QoS or SubackFailure. When the broker refuses
// any filter the error is a *SubscribeError.
func (c *CallbackConnection) Subscribe(subs []Subscription, done func([]byte, error)) {
	if done == nil {
		done = func([]byte, error) {}
	}

	if err := validateSubscriptions(subs); err != nil {
		c.post(func() { done(nil, err) })
		return
	}

	subs = slices.Clone(subs)
	c.post(func() {
		c.engine.submit(&subscribeRequest{subs: subs, done: done})
	})
}

// Unsubscribe removes subscriptions. done is called on UNSUBACK.
func (c *CallbackConnection) Unsubscribe(filters []string, done func(error)) {
	done = orNoop(done)

	if err := validateFilters(filters); err != nil {
		c.post(func() { done(err) })
		return
	}

	filters = slices.Clone(filters)
	c.post(func() {
		c.engine.submit(&unsubscribeRequest{filters: filters, done: done})
	})
}

// OnMessage sets the handler for received messages, replacing the previous
// one. QoS 0 and QoS 1 messages are delivered on every receipt, so QoS 1
// duplicates are possible and carry Dup. QoS 2 messages are delivered once.
func (c *CallbackConnection) OnMessage(handler MessageHandler) {
	c.post(func() {
		c.engine.onMessage = handler
	})
}

// OnStateChange sets the handler for state transitions, replacing the
// previous one.
func (c *CallbackConnection) OnStateChange(handler StateHandler) {
	c.post(func() {
		c.engine.onState = handler
	})
}

// State returns the current connection state.
func (c *CallbackConnection) State() ConnectionState {
	return c.engine.sm.state()
}

// ClientID returns the client identifier sent in CONNECT.
func (c *CallbackConnection) ClientID() string {
	return c.engine.cfg.ClientID
}

func orNoop(done func(error)) func(error) {
	if done == nil {
		return func(error) {}
	}
	return done
}

func validatePublish(topic string, qos byte) error {
	if qos > 2 {
		return ErrInvalidQoS
	}
	return ValidateTopicName(topic)
}

func validateSubscriptions(subs []Subscription) error {
	if len(subs) == 0 {
		return fmt.Errorf("%w: no subscriptions", ErrInvalidTopicFilter)
	}
	for _, sub := range subs {
		if sub.QoS > 2 {
			return ErrInvalidQoS
		}
		if err := ValidateTopicFilter(sub.TopicFilter); err != nil {
			return err
		}
	}
	return nil
}

func validateFilters(filters []string) error {
	if len(filters) == 0 {
		return fmt.Errorf("%w: no topic filters", ErrInvalidTopicFilter)
	}
	for _, filter := range filters {
		if err := ValidateTopicFilter(filter); err != nil {
			return err
		}
	}
	return nil
}
