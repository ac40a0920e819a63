package mqttclient

import (
	"io"
	"slices"
)

// UnsubscribePacket withdraws one or more filters.
type UnsubscribePacket struct {
	PacketID     uint16
	TopicFilters []string
}

func (p *UnsubscribePacket) Type() PacketType      { return PacketUNSUBSCRIBE }
func (p *UnsubscribePacket) GetPacketID() uint16   { return p.PacketID }
func (p *UnsubscribePacket) SetPacketID(id uint16) { p.PacketID = id }

func (p *UnsubscribePacket) Encode(w io.Writer) (int, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}

	return writeFrame(w, PacketUNSUBSCRIBE, 0x02, func(body io.Writer) error {
		if _, err := encodeUint16(body, p.PacketID); err != nil {
			return err
		}
		for _, filter := range p.TopicFilters {
			if _, err := encodeString(body, filter); err != nil {
				return err
			}
		}
		return nil
	})
}

func (p *UnsubscribePacket) Decode(r io.Reader, header FixedHeader) (int, error) {
	if header.PacketType != PacketUNSUBSCRIBE {
		return 0, ErrInvalidPacketType
	}
	if header.Flags != 0x02 {
		return 0, ErrInvalidPacketFlags
	}

	f := fieldReader{r: r}
	p.PacketID = f.readUint16()
	p.TopicFilters = nil

	for f.err == nil && f.n < int(header.RemainingLength) {
		if filter := f.readString(); f.err == nil {
			p.TopicFilters = append(p.TopicFilters, filter)
		}
	}
	if f.err != nil {
		return f.n, f.err
	}

	return f.n, p.Validate()
}

func (p *UnsubscribePacket) Validate() error {
	switch {
	case p.PacketID == 0:
		return ErrInvalidPacketID
	case len(p.TopicFilters) == 0, slices.Contains(p.TopicFilters, ""):
		return ErrProtocolViolation
	}
	return nil
}
