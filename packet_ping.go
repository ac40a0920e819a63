package mqttclient

import "io"

// A body-less packet is a two byte fixed header with zero flags and zero
// remaining length.
func decodeEmpty(header FixedHeader, t PacketType) (int, error) {
	switch {
	case header.PacketType != t:
		return 0, ErrInvalidPacketType
	case header.Flags != 0:
		return 0, ErrInvalidPacketFlags
	case header.RemainingLength != 0:
		return 0, ErrProtocolViolation
	}
	return 0, nil
}

// PingreqPacket keeps an idle connection alive.
type PingreqPacket struct{}

func (p *PingreqPacket) Type() PacketType                { return PacketPINGREQ }
func (p *PingreqPacket) Validate() error                 { return nil }
func (p *PingreqPacket) Encode(w io.Writer) (int, error) { return (&FixedHeader{PacketType: PacketPINGREQ}).Encode(w) }

func (p *PingreqPacket) Decode(_ io.Reader, header FixedHeader) (int, error) {
	return decodeEmpty(header, PacketPINGREQ)
}

// PingrespPacket answers PINGREQ.
type PingrespPacket struct{}

func (p *PingrespPacket) Type() PacketType                { return PacketPINGRESP }
func (p *PingrespPacket) Validate() error                 { return nil }
func (p *PingrespPacket) Encode(w io.Writer) (int, error) { return (&FixedHeader{PacketType: PacketPINGRESP}).Encode(w) }

func (p *PingrespPacket) Decode(_ io.Reader, header FixedHeader) (int, error) {
	return decodeEmpty(header, PacketPINGRESP)
}

// DisconnectPacket ends the session cleanly. The broker then discards the will.
type DisconnectPacket struct{}

func (p *DisconnectPacket) Type() PacketType                { return PacketDISCONNECT }
func (p *DisconnectPacket) Validate() error                 { return nil }
func (p *DisconnectPacket) Encode(w io.Writer) (int, error) { return (&FixedHeader{PacketType: PacketDISCONNECT}).Encode(w) }

func (p *DisconnectPacket) Decode(_ io.Reader, header FixedHeader) (int, error) {
	return decodeEmpty(header, PacketDISCONNECT)
}
