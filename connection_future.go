package mqttclient

// FutureConnection turns every request of a CallbackConnection into a
// Future. Message and state notifications are plain handlers, as on the
// callback layer.
type FutureConnection struct {
	conn *CallbackConnection
}

// NewFutureConnection validates cfg and creates a connection from a copy of it.
func NewFutureConnection(cfg Config) (*FutureConnection, error) {
	conn, err := NewCallbackConnection(cfg)
	if err != nil {
		return nil, err
	}
	return &FutureConnection{conn: conn}, nil
}

// Connect starts connecting. See CallbackConnection.Connect.
func (c *FutureConnection) Connect() *Future[struct{}] {
	f := newFuture[struct{}]()
	c.conn.Connect(completion(f))
	return f
}

// Disconnect closes the connection. See CallbackConnection.Disconnect.
func (c *FutureConnection) Disconnect() *Future[struct{}] {
	f := newFuture[struct{}]()
	c.conn.Disconnect(completion(f))
	return f
}

// Publish sends an application message. See CallbackConnection.Publish.
func (c *FutureConnection) Publish(topic string, payload []byte, qos byte, retain bool) *Future[struct{}] {
	f := newFuture[struct{}]()
	c.conn.Publish(topic, payload, qos, retain, completion(f))
	return f
}

// Subscribe requests subscriptions. The future holds the SUBACK return codes.
func (c *FutureConnection) Subscribe(subs ...Subscription) *Future[[]byte] {
	f := newFuture[[]byte]()
	c.conn.Subscribe(subs, func(codes []byte, err error) {
		f.resolve(codes, err)
	})
	return f
}

// Unsubscribe removes subscriptions.
func (c *FutureConnection) Unsubscribe(filters ...string) *Future[struct{}] {
	f := newFuture[struct{}]()
	c.conn.Unsubscribe(filters, completion(f))
	return f
}

// OnMessage sets the handler for received messages.
func (c *FutureConnection) OnMessage(handler MessageHandler) {
	c.conn.OnMessage(handler)
}

// OnStateChange sets the handler for state transitions.
func (c *FutureConnection) OnStateChange(handler StateHandler) {
	c.conn.OnStateChange(handler)
}

// State returns the current connection state.
func (c *FutureConnection) State() ConnectionState {
	return c.conn.State()
}

// ClientID returns the client identifier sent in CONNECT.
func (c *FutureConnection) ClientID() string {
	return c.conn.ClientID()
}

// Callback returns the underlying callback connection.
func (c *FutureConnection) Callback() *CallbackConnection {
	return c.conn
}

func completion(f *Future[struct{}]) func(error) {
	return func(err error) {
		f.resolve(struct{}{}, err)
	}
}
