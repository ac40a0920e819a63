package mqttclient

import (
	"bytes"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeString(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{name: "empty string", input: ""},
		{name: "simple ASCII", input: "hello"},
		{name: "UTF-8 characters", input: "hello 世界 🌍"},
		{name: "max length string", input: strings.Repeat("a", 65535)},
		{name: "string too long", input: strings.Repeat("a", 65536), wantErr: ErrStringTooLong},
		{name: "string with null", input: "hello\x00world", wantErr: ErrStringContainsNull},
		{name: "invalid UTF-8", input: "\xff\xfe", wantErr: ErrInvalidUTF8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer

			n, err := encodeString(&buf, tt.input)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Zero(t, buf.Len())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 2+len(tt.input), n)

			decoded, dn, err := decodeString(&buf)
			require.NoError(t, err)
			assert.Equal(t, n, dn)
			assert.Equal(t, tt.input, decoded)
		})
	}
}

func TestDecodeStringInvalid(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		wantErr error
	}{
		{name: "invalid UTF-8", data: []byte{0x00, 0x02, 0xff, 0xfe}, wantErr: ErrInvalidUTF8},
		{name: "null character", data: []byte{0x00, 0x03, 'a', 0x00, 'b'}, wantErr: ErrStringContainsNull},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := decodeString(bytes.NewReader(tt.data))
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	t.Run("truncated", func(t *testing.T) {
		_, _, err := decodeString(bytes.NewReader([]byte{0x00, 0x05, 'a'}))
		assert.Error(t, err)
	})
}

func TestEncodeDecodeBinary(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		var buf bytes.Buffer
		data := []byte{0x00, 0x01, 0xff}

		n, err := encodeBinary(&buf, data)
		require.NoError(t, err)
		assert.Equal(t, []byte{0x00, 0x03, 0x00, 0x01, 0xff}, buf.Bytes())

		decoded, dn, err := decodeBinary(&buf)
		require.NoError(t, err)
		assert.Equal(t, n, dn)
		assert.Equal(t, data, decoded)
	})

	t.Run("empty decodes to nil", func(t *testing.T) {
		decoded, n, err := decodeBinary(bytes.NewReader([]byte{0x00, 0x00}))
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		assert.Nil(t, decoded)
	})

	t.Run("too long", func(t *testing.T) {
		var buf bytes.Buffer
		_, err := encodeBinary(&buf, make([]byte, 65536))
		assert.ErrorIs(t, err, ErrBinaryTooLong)
	})
}

func TestEncodeDecodeVarint(t *testing.T) {
	tests := []struct {
		value uint32
		wire  []byte
	}{
		{value: 0, wire: []byte{0x00}},
		{value: 127, wire: []byte{0x7F}},
		{value: 128, wire: []byte{0x80, 0x01}},
		{value: 16383, wire: []byte{0xFF, 0x7F}},
		{value: 16384, wire: []byte{0x80, 0x80, 0x01}},
		{value: 2097151, wire: []byte{0xFF, 0xFF, 0x7F}},
		{value: 2097152, wire: []byte{0x80, 0x80, 0x80, 0x01}},
		{value: 268435455, wire: []byte{0xFF, 0xFF, 0xFF, 0x7F}},
	}

	for _, tt := range tests {
		t.Run(strconv.FormatUint(uint64(tt.value), 10), func(t *testing.T) {
			var buf bytes.Buffer

			n, err := encodeVarint(&buf, tt.value)
			require.NoError(t, err)
			assert.Equal(t, tt.wire, buf.Bytes())
			assert.Equal(t, len(tt.wire), n)
			assert.Equal(t, n, varintSize(tt.value))

			decoded, dn, err := decodeVarint(&buf)
			require.NoError(t, err)
			assert.Equal(t, n, dn)
			assert.Equal(t, tt.value, decoded)
		})
	}

	t.Run("too large", func(t *testing.T) {
		var buf bytes.Buffer
		_, err := encodeVarint(&buf, 268435456)
		assert.ErrorIs(t, err, ErrVarintTooLarge)
	})

	t.Run("five bytes", func(t *testing.T) {
		_, _, err := decodeVarint(bytes.NewReader([]byte{0xFF, 0xFF, 0xFF, 0xFF, 0x01}))
		assert.ErrorIs(t, err, ErrVarintMalformed)
	})

	t.Run("truncated", func(t *testing.T) {
		_, _, err := decodeVarint(bytes.NewReader([]byte{0x80}))
		assert.Error(t, err)
	})
}

func TestEncodeDecodeUint16(t *testing.T) {
	var buf bytes.Buffer

	_, err := encodeUint16(&buf, 0xBEEF)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xBE, 0xEF}, buf.Bytes())

	v, n, err := decodeUint16(&buf)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, uint16(0xBEEF), v)

	_, _, err = decodeUint16(bytes.NewReader([]byte{0x01}))
	assert.Error(t, err)
}

func BenchmarkEncodeString(b *testing.B) {
	var buf bytes.Buffer
	s := "sensors/building-1/floor-2/temperature"

	b.ReportAllocs()
	for b.Loop() {
		buf.Reset()
		_, _ = encodeString(&buf, s)
	}
}

func BenchmarkDecodeVarint(b *testing.B) {
	data := []byte{0xFF, 0xFF, 0xFF, 0x7F}

	b.ReportAllocs()
	for b.Loop() {
		_, _, _ = decodeVarint(bytes.NewReader(data))
	}
}

func FuzzDecodeString(f *testing.F) {
	f.Add([]byte{0x00, 0x05, 'h', 'e', 'l', 'l', 'o'})
	f.Add([]byte{0x00, 0x00})
	f.Add([]byte{0xFF, 0xFF})

	f.Fuzz(func(t *testing.T, data []byte) {
		s, _, err := decodeString(bytes.NewReader(data))
		if err != nil {
			return
		}

		var buf bytes.Buffer
		_, err = encodeString(&buf, s)
		require.NoError(t, err)
	})
}

func FuzzDecode(f *testing.F) {
	for _, tt := range wireVectors {
		f.Add(tt.wire)
	}

	f.Fuzz(func(t *testing.T, data []byte) {
		pkt, n, err := Decode(data, 0)
		if err != nil {
			assert.Nil(t, pkt)
			assert.Zero(t, n)
			return
		}
		assert.LessOrEqual(t, n, len(data))
	})
}
