package mqttclient

import "io"

// Acknowledgments are a fixed header plus a two byte packet identifier.

func encodeAck(w io.Writer, t PacketType, flags byte, id uint16) (int, error) {
	if err := validatePacketID(id); err != nil {
		return 0, err
	}
	return writeFrame(w, t, flags, func(body io.Writer) error {
		_, err := encodeUint16(body, id)
		return err
	})
}

func decodeAck(r io.Reader, header FixedHeader, t PacketType) (uint16, int, error) {
	switch {
	case header.PacketType != t:
		return 0, 0, ErrInvalidPacketType
	case header.ValidateFlags() != nil:
		return 0, 0, ErrInvalidPacketFlags
	case header.RemainingLength != 2:
		return 0, 0, ErrProtocolViolation
	}

	f := fieldReader{r: r}
	id := f.readUint16()
	if f.err == nil {
		f.err = validatePacketID(id)
	}
	return id, f.n, f.err
}

func validatePacketID(id uint16) error {
	if id == 0 {
		return ErrInvalidPacketID
	}
	return nil
}

// PubackPacket answers a QoS 1 PUBLISH.
type PubackPacket struct {
	PacketID uint16
}

func (p *PubackPacket) Type() PacketType      { return PacketPUBACK }
func (p *PubackPacket) GetPacketID() uint16   { return p.PacketID }
func (p *PubackPacket) SetPacketID(id uint16) { p.PacketID = id }
func (p *PubackPacket) Validate() error       { return validatePacketID(p.PacketID) }

func (p *PubackPacket) Encode(w io.Writer) (int, error) {
	return encodeAck(w, PacketPUBACK, 0x00, p.PacketID)
}

func (p *PubackPacket) Decode(r io.Reader, header FixedHeader) (int, error) {
	id, n, err := decodeAck(r, header, PacketPUBACK)
	p.PacketID = id
	return n, err
}

// PubrecPacket is the first answer to a QoS 2 PUBLISH.
type PubrecPacket struct {
	PacketID uint16
}

func (p *PubrecPacket) Type() PacketType      { return PacketPUBREC }
func (p *PubrecPacket) GetPacketID() uint16   { return p.PacketID }
func (p *PubrecPacket) SetPacketID(id uint16) { p.PacketID = id }
func (p *PubrecPacket) Validate() error       { return validatePacketID(p.PacketID) }

func (p *PubrecPacket) Encode(w io.Writer) (int, error) {
	return encodeAck(w, PacketPUBREC, 0x00, p.PacketID)
}

func (p *PubrecPacket) Decode(r io.Reader, header FixedHeader) (int, error) {
	id, n, err := decodeAck(r, header, PacketPUBREC)
	p.PacketID = id
	return n, err
}

// PubrelPacket releases a QoS 2 identifier after PUBREC. It carries fixed flags 0x02.
type PubrelPacket struct {
	PacketID uint16
}

func (p *PubrelPacket) Type() PacketType      { return PacketPUBREL }
func (p *PubrelPacket) GetPacketID() uint16   { return p.PacketID }
func (p *PubrelPacket) SetPacketID(id uint16) { p.PacketID = id }
func (p *PubrelPacket) Validate() error       { return validatePacketID(p.PacketID) }

func (p *PubrelPacket) Encode(w io.Writer) (int, error) {
	return encodeAck(w, PacketPUBREL, 0x02, p.PacketID)
}

func (p *PubrelPacket) Decode(r io.Reader, header FixedHeader) (int, error) {
	id, n, err := decodeAck(r, header, PacketPUBREL)
	p.PacketID = id
	return n, err
}

// PubcompPacket completes a QoS 2 exchange.
type PubcompPacket struct {
	PacketID uint16
}

func (p *PubcompPacket) Type() PacketType      { return PacketPUBCOMP }
func (p *PubcompPacket) GetPacketID() uint16   { return p.PacketID }
func (p *PubcompPacket) SetPacketID(id uint16) { p.PacketID = id }
func (p *PubcompPacket) Validate() error       { return validatePacketID(p.PacketID) }

func (p *PubcompPacket) Encode(w io.Writer) (int, error) {
	return encodeAck(w, PacketPUBCOMP, 0x00, p.PacketID)
}

func (p *PubcompPacket) Decode(r io.Reader, header FixedHeader) (int, error) {
	id, n, err := decodeAck(r, header, PacketPUBCOMP)
	p.PacketID = id
	return n, err
}

// UnsubackPacket answers an UNSUBSCRIBE.
type UnsubackPacket struct {
	PacketID uint16
}

func (p *UnsubackPacket) Type() PacketType      { return PacketUNSUBACK }
func (p *UnsubackPacket) GetPacketID() uint16   { return p.PacketID }
func (p *UnsubackPacket) SetPacketID(id uint16) { p.PacketID = id }
func (p *UnsubackPacket) Validate() error       { return validatePacketID(p.PacketID) }

func (p *UnsubackPacket) Encode(w io.Writer) (int, error) {
	return encodeAck(w, PacketUNSUBACK, 0x00, p.PacketID)
}

func (p *UnsubackPacket) Decode(r io.Reader, header FixedHeader) (int, error) {
	id, n, err := decodeAck(r, header, PacketUNSUBACK)
	p.PacketID = id
	return n, err
}
