package mqttclient

import (
	"errors"
	"io"
)

var (
	ErrTopicNameEmpty   = errors.New("topic name cannot be empty")
	ErrInvalidQoS       = errors.New("invalid QoS level")
	ErrPacketIDRequired = errors.New("packet identifier required for QoS > 0")
)

const (
	publishFlagRetain = 0x01
	publishFlagDUP    = 0x08
	publishQoSShift   = 1
)

// PublishPacket carries an application message in either direction.
// PacketID is only on the wire when QoS is above 0.
type PublishPacket struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retain   bool
	DUP      bool
	PacketID uint16
}

func (p *PublishPacket) Type() PacketType      { return PacketPUBLISH }
func (p *PublishPacket) GetPacketID() uint16   { return p.PacketID }
func (p *PublishPacket) SetPacketID(id uint16) { p.PacketID = id }

func (p *PublishPacket) flags() byte {
	f := (p.QoS & 0x03) << publishQoSShift
	if p.DUP {
		f |= publishFlagDUP
	}
	if p.Retain {
		f |= publishFlagRetain
	}
	return f
}

func (p *PublishPacket) Encode(w io.Writer) (int, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}

	return writeFrame(w, PacketPUBLISH, p.flags(), func(body io.Writer) error {
		if _, err := encodeString(body, p.Topic); err != nil {
			return err
		}
		if p.QoS > 0 {
			if _, err := encodeUint16(body, p.PacketID); err != nil {
				return err
			}
		}
		_, err := body.Write(p.Payload)
		return err
	})
}

func (p *PublishPacket) Decode(r io.Reader, header FixedHeader) (int, error) {
	if header.PacketType != PacketPUBLISH {
		return 0, ErrInvalidPacketType
	}

	p.DUP = header.Flags&publishFlagDUP != 0
	p.Retain = header.Flags&publishFlagRetain != 0
	p.QoS = header.Flags >> publishQoSShift & 0x03
	if p.QoS > 2 {
		return 0, ErrInvalidQoS
	}

	f := fieldReader{r: r}
	if p.Topic = f.readString(); p.Topic == "" {
		f.fail(ErrTopicNameEmpty)
	}
	if p.QoS > 0 {
		if p.PacketID = f.readUint16(); p.PacketID == 0 {
			f.fail(ErrPacketIDRequired)
		}
	}
	if f.err != nil {
		return f.n, f.err
	}

	rest := int(header.RemainingLength) - f.n
	if rest < 0 {
		return f.n, io.ErrUnexpectedEOF
	}
	p.Payload = f.readN(rest)
	return f.n, f.err
}

func (p *PublishPacket) Validate() error {
	switch {
	case p.QoS > 2:
		return ErrInvalidQoS
	case p.Topic == "":
		return ErrTopicNameEmpty
	case p.QoS == 0 && p.DUP:
		return ErrInvalidPacketFlags
	case p.QoS > 0 && p.PacketID == 0:
		return ErrPacketIDRequired
	}
	return nil
}

// ToMessage returns the application view of the packet. The payload is
// shared, not copied.
func (p *PublishPacket) ToMessage() *Message {
	return &Message{
		Topic:   p.Topic,
		Payload: p.Payload,
		QoS:     p.QoS,
		Retain:  p.Retain,
		Dup:     p.DUP,
	}
}

// FromMessage copies the routing fields of m. DUP and PacketID are left to
// the sender.
func (p *PublishPacket) FromMessage(m *Message) {
	p.Topic, p.Payload, p.QoS, p.Retain = m.Topic, m.Payload, m.QoS, m.Retain
}
