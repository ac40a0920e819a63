package mqttclient

import (
	"encoding/binary"
	"errors"
	"io"
	"strings"
	"unicode/utf8"
)

// Encoding errors.
var (
	ErrStringTooLong      = errors.New("string exceeds maximum length of 65535 bytes")
	ErrBinaryTooLong      = errors.New("binary data exceeds maximum length of 65535 bytes")
	ErrInvalidUTF8        = errors.New("invalid UTF-8 string")
	ErrStringContainsNull = errors.New("string contains null character")
	ErrVarintTooLarge     = errors.New("variable byte integer exceeds maximum value")
	ErrVarintMalformed    = errors.New("malformed variable byte integer")
)

const (
	maxUint16      = 1<<16 - 1
	maxVarint      = 1<<28 - 1
	maxVarintBytes = 4
)

// checkUTF8 reports why s cannot travel as an MQTT UTF-8 string.
func checkUTF8(s string) error {
	if !utf8.ValidString(s) {
		return ErrInvalidUTF8
	}
	if strings.IndexByte(s, 0) >= 0 {
		return ErrStringContainsNull
	}
	return nil
}

func writePrefixed(w io.Writer, length int, write func() (int, error)) (int, error) {
	var prefix [2]byte
	binary.BigEndian.PutUint16(prefix[:], uint16(length))

	n, err := w.Write(prefix[:])
	if err != nil {
		return n, err
	}

	m, err := write()
	return n + m, err
}

// encodeString writes s with its two byte length prefix. Nothing is written
// when s is rejected.
func encodeString(w io.Writer, s string) (int, error) {
	if len(s) > maxUint16 {
		return 0, ErrStringTooLong
	}
	if err := checkUTF8(s); err != nil {
		return 0, err
	}

	return writePrefixed(w, len(s), func() (int, error) {
		return io.WriteString(w, s)
	})
}

func decodeString(r io.Reader) (string, int, error) {
	raw, n, err := decodeBinary(r)
	if err != nil {
		return "", n, err
	}

	s := string(raw)
	if err := checkUTF8(s); err != nil {
		return "", n, err
	}
	return s, n, nil
}

func encodeBinary(w io.Writer, data []byte) (int, error) {
	if len(data) > maxUint16 {
		return 0, ErrBinaryTooLong
	}

	return writePrefixed(w, len(data), func() (int, error) {
		return w.Write(data)
	})
}

// decodeBinary reads length-prefixed bytes. A zero length yields nil.
func decodeBinary(r io.Reader) ([]byte, int, error) {
	length, n, err := decodeUint16(r)
	if err != nil || length == 0 {
		return nil, n, err
	}

	data := make([]byte, length)
	m, err := io.ReadFull(r, data)
	if err != nil {
		return nil, n + m, err
	}
	return data, n + m, nil
}

func encodeUint16(w io.Writer, v uint16) (int, error) {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], v)
	return w.Write(buf[:])
}

func decodeUint16(r io.Reader) (uint16, int, error) {
	var buf [2]byte
	if n, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, n, err
	}
	return binary.BigEndian.Uint16(buf[:]), 2, nil
}

// encodeVarint writes the remaining-length encoding of value. The MQTT
// variable byte integer is the unsigned LEB128 form capped at four bytes.
func encodeVarint(w io.Writer, value uint32) (int, error) {
	if value > maxVarint {
		return 0, ErrVarintTooLarge
	}

	var buf [maxVarintBytes]byte
	return w.Write(binary.AppendUvarint(buf[:0], uint64(value)))
}

func decodeVarint(r io.Reader) (uint32, int, error) {
	var (
		value uint32
		b     [1]byte
	)

	for i := range maxVarintBytes {
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return 0, i, err
		}

		value |= uint32(b[0]&0x7F) << (7 * i)
		if b[0]&0x80 == 0 {
			return value, i + 1, nil
		}
	}

	return 0, maxVarintBytes, ErrVarintMalformed
}

// varintSize returns the encoded length of value in bytes.
func varintSize(value uint32) int {
	size := 1
	for value >= 0x80 && size < maxVarintBytes {
		value >>= 7
		size++
	}
	return size
}
