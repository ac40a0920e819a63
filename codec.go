package mqttclient

import (
	"errors"
	"fmt"
	"io"
)

var (
	ErrPacketTooLarge    = errors.New("mqttclient: packet exceeds maximum size")
	ErrUnknownPacketType = errors.New("mqttclient: unknown packet type")

	// ErrNeedMoreData is returned by Decode when the buffer holds an incomplete frame.
	ErrNeedMoreData = errors.New("mqttclient: need more data")

	// ErrMalformedPacket wraps every framing or body error reported by Decode.
	ErrMalformedPacket = errors.New("mqttclient: malformed packet")
)

// newPacket returns an empty packet value for the given type.
func newPacket(t PacketType) (Packet, error) {
	switch t {
	case PacketCONNECT:
		return &ConnectPacket{}, nil
	case PacketCONNACK:
		return &ConnackPacket{}, nil
	case PacketPUBLISH:
		return &PublishPacket{}, nil
	case PacketPUBACK:
		return &PubackPacket{}, nil
	case PacketPUBREC:
		return &PubrecPacket{}, nil
	case PacketPUBREL:
		return &PubrelPacket{}, nil
	case PacketPUBCOMP:
		return &PubcompPacket{}, nil
	case PacketSUBSCRIBE:
		return &SubscribePacket{}, nil
	case PacketSUBACK:
		return &SubackPacket{}, nil
	case PacketUNSUBSCRIBE:
		return &UnsubscribePacket{}, nil
	case PacketUNSUBACK:
		return &UnsubackPacket{}, nil
	case PacketPINGREQ:
		return &PingreqPacket{}, nil
	case PacketPINGRESP:
		return &PingrespPacket{}, nil
	case PacketDISCONNECT:
		return &DisconnectPacket{}, nil
	default:
		return nil, ErrUnknownPacketType
	}
}

// decodeBody decodes a complete packet body that follows the given header.
func decodeBody(header FixedHeader, body []byte) (Packet, error) {
	if err := header.ValidateFlags(); err != nil {
		return nil, err
	}

	packet, err := newPacket(header.PacketType)
	if err != nil {
		return nil, err
	}

	reader := getBytesReader(body)
	defer putBytesReader(reader)

	n, err := packet.Decode(reader, header)
	if err != nil {
		return nil, err
	}
	if n != len(body) {
		return nil, ErrProtocolViolation
	}

	return packet, nil
}

// Encode serializes a packet into a newly allocated frame.
func Encode(packet Packet) ([]byte, error) {
	buf := getBytesBuffer()
	defer putBytesBuffer(buf)

	if _, err := packet.Encode(buf); err != nil {
		return nil, err
	}

	out := make([]byte, len(buf.Bytes()))
	copy(out, buf.Bytes())
	return out, nil
}

// Decode parses one packet from the front of data.
// It returns the packet and the number of bytes consumed. When data holds
// only part of a frame it returns ErrNeedMoreData and consumes nothing. Any
// other error wraps ErrMalformedPacket. If maxSize is greater than 0, frames
// with a larger remaining length fail with ErrPacketTooLarge.
func Decode(data []byte, maxSize uint32) (Packet, int, error) {
	header, headerLen, err := peekFixedHeader(data)
	if err != nil {
		return nil, 0, err
	}

	if maxSize > 0 && header.RemainingLength > maxSize {
		return nil, 0, fmt.Errorf("%w: %w", ErrMalformedPacket, ErrPacketTooLarge)
	}

	total := headerLen + int(header.RemainingLength)
	if len(data) < total {
		return nil, 0, ErrNeedMoreData
	}

	packet, err := decodeBody(header, data[headerLen:total])
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %s: %w", ErrMalformedPacket, header.PacketType, err)
	}

	return packet, total, nil
}

// peekFixedHeader parses the fixed header at the start of data without
// consuming it.
func peekFixedHeader(data []byte) (FixedHeader, int, error) {
	var header FixedHeader
	if len(data) == 0 {
		return header, 0, ErrNeedMoreData
	}

	header.PacketType = PacketType(data[0] >> 4)
	header.Flags = data[0] & 0x0F
	if !header.PacketType.Valid() {
		return header, 0, fmt.Errorf("%w: %w", ErrMalformedPacket, ErrInvalidPacketType)
	}

	var length uint32
	for i := range maxVarintBytes {
		if 1+i >= len(data) {
			return header, 0, ErrNeedMoreData
		}

		b := data[1+i]
		length |= uint32(b&0x7F) << (7 * i)
		if b&0x80 == 0 {
			header.RemainingLength = length
			return header, 2 + i, nil
		}
	}
	return header, 0, fmt.Errorf("%w: %w", ErrMalformedPacket, ErrVarintMalformed)
}

// ReadPacket reads a complete MQTT packet from the reader.
// If maxSize is greater than 0, packets larger than maxSize will return ErrPacketTooLarge.
func ReadPacket(r io.Reader, maxSize uint32) (Packet, int, error) {
	var header FixedHeader
	n, err := header.Decode(r)
	if err != nil {
		return nil, n, err
	}

	if maxSize > 0 && header.RemainingLength > maxSize {
		return nil, n, ErrPacketTooLarge
	}

	remaining := make([]byte, header.RemainingLength)
	if header.RemainingLength > 0 {
		rn, err := io.ReadFull(r, remaining)
		n += rn
		if err != nil {
			return nil, n, err
		}
	}

	packet, err := decodeBody(header, remaining)
	if err != nil {
		return nil, n, err
	}

	return packet, n, nil
}

// WritePacket writes a complete MQTT packet to the writer.
// If maxSize is greater than 0, packets larger than maxSize will return ErrPacketTooLarge.
func WritePacket(w io.Writer, packet Packet, maxSize uint32) (int, error) {
	if err := packet.Validate(); err != nil {
		return 0, err
	}

	data, err := Encode(packet)
	if err != nil {
		return 0, err
	}
	if maxSize > 0 && uint32(len(data)) > maxSize {
		return 0, ErrPacketTooLarge
	}

	return w.Write(data)
}

// bytesReader wraps a byte slice for io.Reader interface.
type bytesReader struct {
	data []byte
	pos  int
}

func (r *bytesReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}

// bytesBuffer is a simple buffer for encoding.
type bytesBuffer struct {
	data []byte
}

func (b *bytesBuffer) Write(p []byte) (int, error) {
	b.data = append(b.data, p...)
	return len(p), nil
}

func (b *bytesBuffer) Bytes() []byte {
	return b.data
}
