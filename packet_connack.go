package mqttclient

import (
	"errors"
	"io"
)

var (
	ErrInvalidConnackFlags  = errors.New("invalid CONNACK flags")
	ErrInvalidConnackLength = errors.New("invalid CONNACK length")
)

// ConnackPacket is the broker's answer to CONNECT.
type ConnackPacket struct {
	// SessionPresent reports that the broker resumed stored session state.
	SessionPresent bool
	ReturnCode     ReturnCode
}

func (p *ConnackPacket) Type() PacketType { return PacketCONNACK }

func (p *ConnackPacket) Encode(w io.Writer) (int, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}

	var ackFlags byte
	if p.SessionPresent {
		ackFlags = 0x01
	}

	return writeFrame(w, PacketCONNACK, 0x00, func(body io.Writer) error {
		_, err := body.Write([]byte{ackFlags, byte(p.ReturnCode)})
		return err
	})
}

func (p *ConnackPacket) Decode(r io.Reader, header FixedHeader) (int, error) {
	if header.PacketType != PacketCONNACK {
		return 0, ErrInvalidPacketType
	}
	if header.RemainingLength != 2 {
		return 0, ErrInvalidConnackLength
	}

	f := fieldReader{r: r}
	ackFlags, code := f.readByte(), f.readByte()
	if f.err != nil {
		return f.n, f.err
	}
	if ackFlags&^0x01 != 0 {
		return f.n, ErrInvalidConnackFlags
	}

	p.SessionPresent = ackFlags == 0x01
	p.ReturnCode = ReturnCode(code)
	return f.n, nil
}

// Validate rejects a refusal that claims a stored session.
func (p *ConnackPacket) Validate() error {
	if p.SessionPresent && !p.ReturnCode.Accepted() {
		return ErrInvalidConnackFlags
	}
	return nil
}
