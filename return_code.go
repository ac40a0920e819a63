package mqttclient

import "fmt"

// ReturnCode is the connect return code carried in a CONNACK packet.
// Values outside the documented range are kept verbatim.
type ReturnCode byte

// Connect return codes as defined for MQTT 3.1.1.
const (
	// Connection accepted
	ReturnAccepted ReturnCode = 0x00
	// Connection refused, unacceptable protocol version
	ReturnUnacceptableProtocolVersion ReturnCode = 0x01
	// Connection refused, identifier rejected
	ReturnIdentifierRejected ReturnCode = 0x02
	// Connection refused, server unavailable
	ReturnServerUnavailable ReturnCode = 0x03
	// Connection refused, bad user name or password
	ReturnBadUserNameOrPassword ReturnCode = 0x04
	// Connection refused, not authorized
	ReturnNotAuthorized ReturnCode = 0x05
)

// SubackFailure is the SUBACK return code for a rejected topic filter.
const SubackFailure byte = 0x80

// String returns a human readable description of the return code.
func (c ReturnCode) String() string {
	switch c {
	case ReturnAccepted:
		return "connection accepted"
	case ReturnUnacceptableProtocolVersion:
		return "unacceptable protocol version"
	case ReturnIdentifierRejected:
		return "identifier rejected"
	case ReturnServerUnavailable:
		return "server unavailable"
	case ReturnBadUserNameOrPassword:
		return "bad user name or password"
	case ReturnNotAuthorized:
		return "not authorized"
	default:
		return fmt.Sprintf("return code 0x%02X", byte(c))
	}
}

// Accepted reports whether the broker accepted the connection.
func (c ReturnCode) Accepted() bool {
	return c == ReturnAccepted
}
