package mqttclient

import "sync"

// maxPooledBuffer caps the capacity of encode buffers kept for reuse so one
// large publish does not pin memory.
const maxPooledBuffer = 64 << 10

// pool is a typed sync.Pool. recycle clears a value before it goes back and
// reports false when the value should be dropped instead.
type pool[T any] struct {
	inner   sync.Pool
	recycle func(*T) bool
}

func newPool[T any](recycle func(*T) bool) *pool[T] {
	return &pool[T]{
		inner:   sync.Pool{New: func() any { return new(T) }},
		recycle: recycle,
	}
}

func (p *pool[T]) get() *T {
	return p.inner.Get().(*T)
}

func (p *pool[T]) put(v *T) {
	if v != nil && p.recycle(v) {
		p.inner.Put(v)
	}
}

var (
	readers = newPool(func(r *bytesReader) bool {
		r.data, r.pos = nil, 0
		return true
	})

	buffers = newPool(func(b *bytesBuffer) bool {
		if cap(b.data) > maxPooledBuffer {
			return false
		}
		b.data = b.data[:0]
		return true
	})
)

func getBytesReader(data []byte) *bytesReader {
	r := readers.get()
	r.data, r.pos = data, 0
	return r
}

func putBytesReader(r *bytesReader) { readers.put(r) }

func getBytesBuffer() *bytesBuffer {
	b := buffers.get()
	b.data = b.data[:0]
	return b
}

func putBytesBuffer(b *bytesBuffer) { buffers.put(b) }
