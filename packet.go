package mqttclient

import (
	"bytes"
	"io"
)

// Packet is one MQTT control packet.
//
// Decode is handed the already parsed fixed header and reads exactly
// RemainingLength bytes of body. Encode validates before writing anything.
type Packet interface {
	Type() PacketType
	Encode(w io.Writer) (int, error)
	Decode(r io.Reader, header FixedHeader) (int, error)
	Validate() error
}

// PacketWithID is implemented by packets that carry a packet identifier.
type PacketWithID interface {
	Packet
	GetPacketID() uint16
	SetPacketID(id uint16)
}

// writeFrame encodes a packet body with fill and writes it behind its fixed
// header. Nothing reaches w when fill fails.
func writeFrame(w io.Writer, t PacketType, flags byte, fill func(body io.Writer) error) (int, error) {
	body := getBytesBuffer()
	defer putBytesBuffer(body)

	if err := fill(body); err != nil {
		return 0, err
	}

	header := FixedHeader{PacketType: t, Flags: flags, RemainingLength: uint32(len(body.data))}
	n, err := header.Encode(w)
	if err != nil {
		return n, err
	}

	m, err := w.Write(body.data)
	return n + m, err
}

// fieldReader decodes body fields in sequence. After the first failure every
// read is a no-op so callers check err once at the end.
type fieldReader struct {
	r   io.Reader
	n   int
	err error
}

func (f *fieldReader) readByte() byte {
	b := f.readN(1)
	if len(b) == 0 {
		return 0
	}
	return b[0]
}

func (f *fieldReader) readUint16() uint16 {
	if f.err != nil {
		return 0
	}
	v, n, err := decodeUint16(f.r)
	f.n, f.err = f.n+n, err
	return v
}

func (f *fieldReader) readString() string {
	if f.err != nil {
		return ""
	}
	s, n, err := decodeString(f.r)
	f.n, f.err = f.n+n, err
	return s
}

func (f *fieldReader) readBinary() []byte {
	if f.err != nil {
		return nil
	}
	b, n, err := decodeBinary(f.r)
	f.n, f.err = f.n+n, err
	return b
}

// readN reads exactly n raw bytes. Zero yields nil.
func (f *fieldReader) readN(n int) []byte {
	if f.err != nil || n <= 0 {
		return nil
	}
	buf := make([]byte, n)
	m, err := io.ReadFull(f.r, buf)
	f.n, f.err = f.n+m, err
	if err != nil {
		return nil
	}
	return buf
}

// fail records err unless an earlier read already failed.
func (f *fieldReader) fail(err error) {
	if f.err == nil {
		f.err = err
	}
}

// Message is an application message as delivered to or accepted from callers.
type Message struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool

	// Dup is set when the broker marked the PUBLISH as a retransmission.
	// Only QoS 1 deliveries can surface duplicates to the application.
	Dup bool
}

// Clone returns a copy of m that shares no memory with it.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	clone := *m
	clone.Payload = bytes.Clone(m.Payload)
	return &clone
}
