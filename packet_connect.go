package mqttclient

import (
	"errors"
	"io"
)

// Protocol names and levels carried in the CONNECT variable header.
const (
	protocolNameV311  = "MQTT"
	protocolLevelV311 = 4
	protocolNameV31   = "MQIsdp"
	protocolLevelV31  = 3

	maxClientIDLenV31 = 23
)

// Connect flag bit positions.
const (
	connectFlagCleanSession = 0x02
	connectFlagWillFlag     = 0x04
	connectFlagWillRetain   = 0x20
	connectFlagPasswordFlag = 0x40
	connectFlagUsernameFlag = 0x80
)

// CONNECT packet errors.
var (
	ErrInvalidProtocolName    = errors.New("invalid protocol name")
	ErrInvalidProtocolVersion = errors.New("unsupported protocol version")
	ErrInvalidConnectFlags    = errors.New("invalid connect flags")
	ErrClientIDTooLong        = errors.New("client ID too long")
	ErrClientIDRequired       = errors.New("client ID required with clean session false")
	ErrPasswordWithoutUser    = errors.New("password requires a username")
)

// ProtocolVersion selects the CONNECT protocol name and level.
type ProtocolVersion string

const (
	// ProtocolV311 is MQTT 3.1.1 (protocol name "MQTT", level 4).
	ProtocolV311 ProtocolVersion = "3.1.1"
	// ProtocolV31 is MQTT 3.1 (protocol name "MQIsdp", level 3).
	ProtocolV31 ProtocolVersion = "3.1"
)

// Valid reports whether the version is one the client can speak.
func (v ProtocolVersion) Valid() bool {
	return v == ProtocolV311 || v == ProtocolV31
}

func (v ProtocolVersion) nameAndLevel() (string, byte) {
	if v == ProtocolV31 {
		return protocolNameV31, protocolLevelV31
	}
	return protocolNameV311, protocolLevelV311
}

// ConnectPacket opens a session. Username and Password are sent only when
// set; a will is sent only with WillFlag.
type ConnectPacket struct {
	// Version selects the protocol name and level. Empty means 3.1.1.
	Version ProtocolVersion

	ClientID     string
	CleanSession bool
	KeepAlive    uint16 // seconds
	Username     string
	Password     []byte

	WillFlag    bool
	WillRetain  bool
	WillQoS     byte
	WillTopic   string
	WillPayload []byte
}

func (p *ConnectPacket) Type() PacketType { return PacketCONNECT }

func (p *ConnectPacket) connectFlags() byte {
	var flags byte
	if p.CleanSession {
		flags |= connectFlagCleanSession
	}
	if p.WillFlag {
		flags |= connectFlagWillFlag | (p.WillQoS&0x03)<<3
		if p.WillRetain {
			flags |= connectFlagWillRetain
		}
	}
	if len(p.Password) > 0 {
		flags |= connectFlagPasswordFlag
	}
	if p.Username != "" {
		flags |= connectFlagUsernameFlag
	}
	return flags
}

// setConnectFlags applies the flag byte and rejects the reserved bit, a will
// QoS of 3 and will bits set without the will flag.
func (p *ConnectPacket) setConnectFlags(flags byte) error {
	p.CleanSession = flags&connectFlagCleanSession != 0
	p.WillFlag = flags&connectFlagWillFlag != 0
	p.WillQoS = flags >> 3 & 0x03
	p.WillRetain = flags&connectFlagWillRetain != 0

	switch {
	case flags&0x01 != 0, p.WillQoS > 2:
		return ErrInvalidConnectFlags
	case !p.WillFlag && (p.WillQoS != 0 || p.WillRetain):
		return ErrInvalidConnectFlags
	}
	return nil
}

func (p *ConnectPacket) Encode(w io.Writer) (int, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}

	name, level := p.Version.nameAndLevel()

	return writeFrame(w, PacketCONNECT, 0x00, func(body io.Writer) error {
		if _, err := encodeString(body, name); err != nil {
			return err
		}
		if _, err := body.Write([]byte{level, p.connectFlags()}); err != nil {
			return err
		}
		if _, err := encodeUint16(body, p.KeepAlive); err != nil {
			return err
		}

		// Payload fields follow in flag order.
		if _, err := encodeString(body, p.ClientID); err != nil {
			return err
		}
		if p.WillFlag {
			if _, err := encodeString(body, p.WillTopic); err != nil {
				return err
			}
			if _, err := encodeBinary(body, p.WillPayload); err != nil {
				return err
			}
		}
		if p.Username != "" {
			if _, err := encodeString(body, p.Username); err != nil {
				return err
			}
		}
		if len(p.Password) > 0 {
			if _, err := encodeBinary(body, p.Password); err != nil {
				return err
			}
		}
		return nil
	})
}

func (p *ConnectPacket) Decode(r io.Reader, header FixedHeader) (int, error) {
	if header.PacketType != PacketCONNECT {
		return 0, ErrInvalidPacketType
	}

	f := fieldReader{r: r}
	name, level := f.readString(), f.readByte()
	if f.err != nil {
		return f.n, f.err
	}

	switch {
	case name == protocolNameV311 && level == protocolLevelV311:
		p.Version = ProtocolV311
	case name == protocolNameV31 && level == protocolLevelV31:
		p.Version = ProtocolV31
	case name != protocolNameV311 && name != protocolNameV31:
		return f.n, ErrInvalidProtocolName
	default:
		return f.n, ErrInvalidProtocolVersion
	}

	flags := f.readByte()
	if f.err != nil {
		return f.n, f.err
	}
	if err := p.setConnectFlags(flags); err != nil {
		return f.n, err
	}

	p.KeepAlive = f.readUint16()
	p.ClientID = f.readString()
	if p.WillFlag {
		p.WillTopic = f.readString()
		p.WillPayload = f.readBinary()
	}
	if flags&connectFlagUsernameFlag != 0 {
		p.Username = f.readString()
	}
	if flags&connectFlagPasswordFlag != 0 {
		p.Password = f.readBinary()
	}

	return f.n, f.err
}

// Validate checks the packet before it is encoded.
func (p *ConnectPacket) Validate() error {
	switch {
	case p.Version != "" && !p.Version.Valid():
		return ErrInvalidProtocolVersion
	case len(p.ClientID) > maxUint16:
		return ErrClientIDTooLong
	case p.Version == ProtocolV31 && len(p.ClientID) > maxClientIDLenV31:
		// 3.1 brokers reject identifiers longer than 23 bytes.
		return ErrClientIDTooLong
	case !p.CleanSession && p.ClientID == "":
		return ErrClientIDRequired
	case p.WillQoS > 2, !p.WillFlag && (p.WillRetain || p.WillQoS != 0):
		return ErrInvalidConnectFlags
	case len(p.Password) > 0 && p.Username == "":
		return ErrPasswordWithoutUser
	}
	return nil
}
