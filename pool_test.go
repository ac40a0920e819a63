package mqttclient

import (
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBytesReaderPool(t *testing.T) {
	t.Run("reads the wrapped slice", func(t *testing.T) {
		r := getBytesReader([]byte("hello world"))
		defer putBytesReader(r)

		buf := make([]byte, 5)
		n, err := r.Read(buf)
		require.NoError(t, err)
		assert.Equal(t, 5, n)
		assert.Equal(t, []byte("hello"), buf)

		rest, err := io.ReadAll(r)
		require.NoError(t, err)
		assert.Equal(t, []byte(" world"), rest)

		n, err = r.Read(buf)
		assert.Zero(t, n)
		assert.ErrorIs(t, err, io.EOF)
	})

	t.Run("reused reader starts over", func(t *testing.T) {
		r := getBytesReader([]byte("first"))
		_, _ = io.ReadAll(r)
		putBytesReader(r)

		r = getBytesReader([]byte("second"))
		defer putBytesReader(r)
		assert.Zero(t, r.pos)

		data, err := io.ReadAll(r)
		require.NoError(t, err)
		assert.Equal(t, []byte("second"), data)
	})

	t.Run("put nil", func(t *testing.T) {
		assert.NotPanics(t, func() { putBytesReader(nil) })
	})
}

func TestBytesBufferPool(t *testing.T) {
	t.Run("starts empty", func(t *testing.T) {
		b := getBytesBuffer()
		defer putBytesBuffer(b)

		assert.Empty(t, b.Bytes())

		n, err := b.Write([]byte("abc"))
		require.NoError(t, err)
		assert.Equal(t, 3, n)
		assert.Equal(t, []byte("abc"), b.Bytes())
	})

	t.Run("reused buffer is reset", func(t *testing.T) {
		b := getBytesBuffer()
		_, _ = b.Write([]byte("stale"))
		putBytesBuffer(b)

		b = getBytesBuffer()
		defer putBytesBuffer(b)
		assert.Empty(t, b.Bytes())
	})

	t.Run("oversized buffer is dropped", func(t *testing.T) {
		b := &bytesBuffer{data: make([]byte, 0, maxPooledBuffer+1)}
		assert.NotPanics(t, func() { putBytesBuffer(b) })
		assert.NotPanics(t, func() { putBytesBuffer(nil) })
	})

	t.Run("encode output outlives the buffer", func(t *testing.T) {
		first, err := Encode(&PubackPacket{PacketID: 1})
		require.NoError(t, err)
		_, err = Encode(&PubackPacket{PacketID: 2})
		require.NoError(t, err)

		assert.Equal(t, []byte{0x40, 0x02, 0x00, 0x01}, first)
	})
}

func TestPoolConcurrency(t *testing.T) {
	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func(id uint16) {
			defer wg.Done()
			for range 100 {
				data, err := Encode(&PubackPacket{PacketID: id})
				if !assert.NoError(t, err) {
					return
				}
				pkt, _, err := Decode(data, 0)
				if !assert.NoError(t, err) {
					return
				}
				assert.Equal(t, id, pkt.(*PubackPacket).PacketID)
			}
		}(uint16(i + 1))
	}
	wg.Wait()
}
