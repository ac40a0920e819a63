package mqttclient

import "io"

// SubackPacket answers a SUBSCRIBE with one return code per requested
// filter: the granted QoS or SubackFailure.
type SubackPacket struct {
	PacketID    uint16
	ReturnCodes []byte
}

func (p *SubackPacket) Type() PacketType      { return PacketSUBACK }
func (p *SubackPacket) GetPacketID() uint16   { return p.PacketID }
func (p *SubackPacket) SetPacketID(id uint16) { p.PacketID = id }

func (p *SubackPacket) Encode(w io.Writer) (int, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}

	return writeFrame(w, PacketSUBACK, 0x00, func(body io.Writer) error {
		if _, err := encodeUint16(body, p.PacketID); err != nil {
			return err
		}
		_, err := body.Write(p.ReturnCodes)
		return err
	})
}

func (p *SubackPacket) Decode(r io.Reader, header FixedHeader) (int, error) {
	if header.PacketType != PacketSUBACK {
		return 0, ErrInvalidPacketType
	}
	// Identifier plus at least one code.
	if header.RemainingLength < 3 {
		return 0, ErrProtocolViolation
	}

	f := fieldReader{r: r}
	p.PacketID = f.readUint16()
	p.ReturnCodes = f.readN(int(header.RemainingLength) - 2)
	if f.err != nil {
		return f.n, f.err
	}

	return f.n, p.Validate()
}

func (p *SubackPacket) Validate() error {
	if p.PacketID == 0 {
		return ErrInvalidPacketID
	}
	if len(p.ReturnCodes) == 0 {
		return ErrProtocolViolation
	}
	for _, code := range p.ReturnCodes {
		if code > 2 && code != SubackFailure {
			return ErrProtocolViolation
		}
	}
	return nil
}
