package mqttclient

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// TransportHandler receives the events of a Transport. Calls come from the
// transport's reader goroutine, in order, and must not block for long.
type TransportHandler interface {
	// OnData delivers bytes read from the stream. The slice is owned by the handler.
	OnData(data []byte)

	// OnClose reports that the stream ended. It is the last call.
	OnClose(err error)
}

// Transport is an open byte stream to the broker.
type Transport interface {
	// Start begins reading and delivering events to h.
	Start(h TransportHandler)

	// Send queues data for writing. It never blocks on the network.
	Send(data []byte) error

	// Close writes out queued data, then closes the stream.
	Close() error

	// Done is closed once the underlying stream is closed.
	Done() <-chan struct{}

	LocalAddr() net.Addr
	RemoteAddr() net.Addr
}

const (
	defaultReadChunk  = 32 * 1024
	closeFlushTimeout = 5 * time.Second
)

var noDeadline time.Time

// streamTransport runs a net.Conn: a goroutine reads, and writes are
// coalesced into one buffer that a worker pool task drains.
type streamTransport struct {
	conn       net.Conn
	pool       *WorkerPool
	readLimit  *rate.Limiter
	writeLimit *rate.Limiter
	readChunk  int

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.Mutex
	pending  []byte
	flushing bool
	closing  bool
	closed   bool
	writeErr error
}

func newStreamTransport(conn net.Conn, pool *WorkerPool, cfg Config) *streamTransport {
	ctx, cancel := context.WithCancel(context.Background())

	chunk := cfg.ReceiveBufferSize
	if chunk <= 0 || chunk > defaultReadChunk*2 {
		chunk = defaultReadChunk
	}

	return &streamTransport{
		conn:       conn,
		pool:       pool,
		readLimit:  newByteLimiter(cfg.MaxReadRate),
		writeLimit: newByteLimiter(cfg.MaxWriteRate),
		readChunk:  chunk,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// newByteLimiter returns a limiter for bytesPerSecond, or nil for no limit.
func newByteLimiter(bytesPerSecond int) *rate.Limiter {
	if bytesPerSecond <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(bytesPerSecond), bytesPerSecond)
}

// waitBytes blocks until l admits n bytes, in bursts no larger than the
// limiter allows.
func waitBytes(ctx context.Context, l *rate.Limiter, n int) error {
	if l == nil {
		return nil
	}
	for n > 0 {
		chunk := min(n, l.Burst())
		if err := l.WaitN(ctx, chunk); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}

func (t *streamTransport) Start(h TransportHandler) {
	go t.readLoop(h)
}

func (t *streamTransport) readLoop(h TransportHandler) {
	buf := make([]byte, t.readChunk)

	for {
		n, err := t.conn.Read(buf)
		if n > 0 {
			if werr := waitBytes(t.ctx, t.readLimit, n); werr != nil && err == nil {
				err = werr
			}
			data := make([]byte, n)
			copy(data, buf[:n])
			h.OnData(data)
		}

		if err != nil {
			_ = t.shutdown()
			h.OnClose(t.cause(err))
			return
		}
	}
}

// cause prefers a write failure over the read error it provoked.
func (t *streamTransport) cause(readErr error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.writeErr != nil {
		return t.writeErr
	}
	return readErr
}

func (t *streamTransport) Send(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch {
	case t.writeErr != nil:
		return t.writeErr
	case t.closing || t.closed:
		return net.ErrClosed
	}

	t.pending = append(t.pending, data...)
	if !t.flushing {
		t.flushing = true
		t.pool.Submit(t.flush)
	}
	return nil
}

func (t *streamTransport) flush() {
	for {
		t.mu.Lock()
		if len(t.pending) == 0 || t.writeErr != nil {
			t.flushing = false
			closing := t.closing || t.writeErr != nil
			t.mu.Unlock()

			if closing {
				_ = t.shutdown()
			}
			return
		}
		data := t.pending
		t.pending = nil
		t.mu.Unlock()

		if err := t.write(data); err != nil {
			t.mu.Lock()
			t.writeErr = err
			t.pending = nil
			t.mu.Unlock()
		}
	}
}

func (t *streamTransport) write(data []byte) error {
	for len(data) > 0 {
		chunk := len(data)
		if t.writeLimit != nil {
			chunk = min(chunk, t.writeLimit.Burst())
			if err := t.writeLimit.WaitN(t.ctx, chunk); err != nil {
				return err
			}
		}

		n, err := t.conn.Write(data[:chunk])
		if err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}

func (t *streamTransport) Close() error {
	t.mu.Lock()
	if t.closing || t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closing = true
	busy := t.flushing
	t.mu.Unlock()

	if busy {
		_ = t.conn.SetWriteDeadline(time.Now().Add(closeFlushTimeout))
		return nil
	}
	return t.shutdown()
}

func (t *streamTransport) shutdown() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	t.cancel()
	err := t.conn.Close()
	close(t.done)

	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func (t *streamTransport) Done() <-chan struct{} { return t.done }

func (t *streamTransport) LocalAddr() net.Addr  { return t.conn.LocalAddr() }
func (t *streamTransport) RemoteAddr() net.Addr { return t.conn.RemoteAddr() }
