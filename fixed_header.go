package mqttclient

import (
	"errors"
	"io"
)

// PacketType is the four bit control packet type of the fixed header.
type PacketType byte

// Control packet types. 0 and 15 are reserved.
const (
	PacketCONNECT PacketType = iota + 1
	PacketCONNACK
	PacketPUBLISH
	PacketPUBACK
	PacketPUBREC
	PacketPUBREL
	PacketPUBCOMP
	PacketSUBSCRIBE
	PacketSUBACK
	PacketUNSUBSCRIBE
	PacketUNSUBACK
	PacketPINGREQ
	PacketPINGRESP
	PacketDISCONNECT
)

var packetTypeNames = [...]string{
	PacketCONNECT:     "CONNECT",
	PacketCONNACK:     "CONNACK",
	PacketPUBLISH:     "PUBLISH",
	PacketPUBACK:      "PUBACK",
	PacketPUBREC:      "PUBREC",
	PacketPUBREL:      "PUBREL",
	PacketPUBCOMP:     "PUBCOMP",
	PacketSUBSCRIBE:   "SUBSCRIBE",
	PacketSUBACK:      "SUBACK",
	PacketUNSUBSCRIBE: "UNSUBSCRIBE",
	PacketUNSUBACK:    "UNSUBACK",
	PacketPINGREQ:     "PINGREQ",
	PacketPINGRESP:    "PINGRESP",
	PacketDISCONNECT:  "DISCONNECT",
}

func (p PacketType) String() string {
	if !p.Valid() {
		return "UNKNOWN"
	}
	return packetTypeNames[p]
}

// Valid reports whether p is one of the fourteen defined types.
func (p PacketType) Valid() bool {
	return p >= PacketCONNECT && p <= PacketDISCONNECT
}

// requiredFlags returns the only flag nibble allowed for p. PUBLISH carries
// variable flags and reports ok false.
func (p PacketType) requiredFlags() (flags byte, ok bool) {
	switch p {
	case PacketPUBLISH:
		return 0, false
	case PacketPUBREL, PacketSUBSCRIBE, PacketUNSUBSCRIBE:
		return 0x02, true
	default:
		return 0x00, true
	}
}

var (
	ErrInvalidPacketType  = errors.New("invalid packet type")
	ErrInvalidPacketFlags = errors.New("invalid packet flags")
)

// FixedHeader is the first two to five bytes of every control packet.
type FixedHeader struct {
	PacketType      PacketType
	Flags           byte
	RemainingLength uint32
}

// Encode writes the header and returns the number of bytes written.
func (h *FixedHeader) Encode(w io.Writer) (int, error) {
	if !h.PacketType.Valid() {
		return 0, ErrInvalidPacketType
	}
	if h.RemainingLength > maxVarint {
		return 0, ErrVarintTooLarge
	}

	var buf [1 + maxVarintBytes]byte
	buf[0] = byte(h.PacketType)<<4 | h.Flags&0x0F
	n := 1
	for v := h.RemainingLength; ; v >>= 7 {
		if v < 0x80 {
			buf[n] = byte(v)
			n++
			break
		}
		buf[n] = byte(v) | 0x80
		n++
	}

	return w.Write(buf[:n])
}

// Decode reads the header and returns the number of bytes read.
func (h *FixedHeader) Decode(r io.Reader) (int, error) {
	var first [1]byte
	if n, err := io.ReadFull(r, first[:]); err != nil {
		return n, err
	}

	h.PacketType, h.Flags = PacketType(first[0]>>4), first[0]&0x0F
	if !h.PacketType.Valid() {
		return 1, ErrInvalidPacketType
	}

	length, n, err := decodeVarint(r)
	if err != nil {
		return 1 + n, err
	}
	h.RemainingLength = length
	return 1 + n, nil
}

// Size returns the encoded length of the header.
func (h *FixedHeader) Size() int {
	return 1 + varintSize(h.RemainingLength)
}

// ValidateFlags checks the flag nibble against the packet type. PUBLISH may
// carry any QoS but the reserved value 3.
func (h *FixedHeader) ValidateFlags() error {
	if !h.PacketType.Valid() {
		return ErrInvalidPacketType
	}

	want, fixed := h.PacketType.requiredFlags()
	switch {
	case fixed && h.Flags != want:
		return ErrInvalidPacketFlags
	case !fixed && h.Flags>>1&0x03 == 0x03:
		return ErrInvalidPacketFlags
	}
	return nil
}
