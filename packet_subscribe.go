package mqttclient

import (
	"errors"
	"io"
)

var (
	ErrInvalidPacketID   = errors.New("invalid packet identifier")
	ErrProtocolViolation = errors.New("protocol violation")
)

// Subscription is a topic filter paired with the maximum QoS requested for it.
type Subscription struct {
	TopicFilter string `yaml:"topic" mapstructure:"topic"`
	QoS         byte   `yaml:"qos" mapstructure:"qos"`
}

// SubscribePacket asks the broker for one or more filters.
type SubscribePacket struct {
	PacketID      uint16
	Subscriptions []Subscription
}

func (p *SubscribePacket) Type() PacketType      { return PacketSUBSCRIBE }
func (p *SubscribePacket) GetPacketID() uint16   { return p.PacketID }
func (p *SubscribePacket) SetPacketID(id uint16) { p.PacketID = id }

func (p *SubscribePacket) Encode(w io.Writer) (int, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}

	return writeFrame(w, PacketSUBSCRIBE, 0x02, func(body io.Writer) error {
		if _, err := encodeUint16(body, p.PacketID); err != nil {
			return err
		}
		for _, sub := range p.Subscriptions {
			if _, err := encodeString(body, sub.TopicFilter); err != nil {
				return err
			}
			if _, err := body.Write([]byte{sub.QoS & 0x03}); err != nil {
				return err
			}
		}
		return nil
	})
}

func (p *SubscribePacket) Decode(r io.Reader, header FixedHeader) (int, error) {
	if header.PacketType != PacketSUBSCRIBE {
		return 0, ErrInvalidPacketType
	}
	if header.Flags != 0x02 {
		return 0, ErrInvalidPacketFlags
	}

	f := fieldReader{r: r}
	p.PacketID = f.readUint16()
	p.Subscriptions = nil

	for f.err == nil && f.n < int(header.RemainingLength) {
		filter := f.readString()
		qos := f.readByte()
		if qos&0xFC != 0 {
			// Upper six bits of the requested QoS are reserved.
			f.fail(ErrProtocolViolation)
		}
		if f.err == nil {
			p.Subscriptions = append(p.Subscriptions, Subscription{TopicFilter: filter, QoS: qos})
		}
	}
	if f.err != nil {
		return f.n, f.err
	}

	return f.n, p.Validate()
}

func (p *SubscribePacket) Validate() error {
	if p.PacketID == 0 {
		return ErrInvalidPacketID
	}
	if len(p.Subscriptions) == 0 {
		return ErrProtocolViolation
	}
	for _, sub := range p.Subscriptions {
		switch {
		case sub.TopicFilter == "":
			return ErrProtocolViolation
		case sub.QoS > 2:
			return ErrInvalidQoS
		}
	}
	return nil
}
