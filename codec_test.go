package mqttclient

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wireVectors pairs packets with their MQTT 3.1.1 encoding.
var wireVectors = []struct {
	name   string
	packet Packet
	wire   []byte
}{
	{
		name:   "CONNECT 3.1.1",
		packet: &ConnectPacket{Version: ProtocolV311, ClientID: "c1", CleanSession: true, KeepAlive: 30},
		wire: []byte{
			0x10, 0x0E,
			0x00, 0x04, 'M', 'Q', 'T', 'T', 0x04, 0x02, 0x00, 0x1E,
			0x00, 0x02, 'c', '1',
		},
	},
	{
		name:   "CONNECT 3.1",
		packet: &ConnectPacket{Version: ProtocolV31, ClientID: "c1", CleanSession: true, KeepAlive: 30},
		wire: []byte{
			0x10, 0x10,
			0x00, 0x06, 'M', 'Q', 'I', 's', 'd', 'p', 0x03, 0x02, 0x00, 0x1E,
			0x00, 0x02, 'c', '1',
		},
	},
	{
		name: "CONNECT with will and credentials",
		packet: &ConnectPacket{
			Version:     ProtocolV311,
			ClientID:    "c",
			KeepAlive:   10,
			Username:    "u",
			Password:    []byte("p"),
			WillFlag:    true,
			WillQoS:     1,
			WillRetain:  true,
			WillTopic:   "w",
			WillPayload: []byte("x"),
		},
		wire: []byte{
			0x10, 0x19,
			0x00, 0x04, 'M', 'Q', 'T', 'T', 0x04, 0xEC, 0x00, 0x0A,
			0x00, 0x01, 'c',
			0x00, 0x01, 'w',
			0x00, 0x01, 'x',
			0x00, 0x01, 'u',
			0x00, 0x01, 'p',
		},
	},
	{
		name:   "CONNACK",
		packet: &ConnackPacket{SessionPresent: true, ReturnCode: ReturnAccepted},
		wire:   []byte{0x20, 0x02, 0x01, 0x00},
	},
	{
		name:   "CONNACK refused",
		packet: &ConnackPacket{ReturnCode: ReturnBadUserNameOrPassword},
		wire:   []byte{0x20, 0x02, 0x00, 0x04},
	},
	{
		name:   "PUBLISH QoS 0 retained",
		packet: &PublishPacket{Topic: "t", Payload: []byte("hi"), Retain: true},
		wire:   []byte{0x31, 0x05, 0x00, 0x01, 't', 'h', 'i'},
	},
	{
		name:   "PUBLISH QoS 1",
		packet: &PublishPacket{Topic: "t", Payload: []byte("hi"), QoS: 1, PacketID: 1},
		wire:   []byte{0x32, 0x07, 0x00, 0x01, 't', 0x00, 0x01, 'h', 'i'},
	},
	{
		name:   "PUBLISH QoS 2 duplicate",
		packet: &PublishPacket{Topic: "t", Payload: []byte("hi"), QoS: 2, PacketID: 2, DUP: true},
		wire:   []byte{0x3C, 0x07, 0x00, 0x01, 't', 0x00, 0x02, 'h', 'i'},
	},
	{
		name:   "PUBACK",
		packet: &PubackPacket{PacketID: 0x1234},
		wire:   []byte{0x40, 0x02, 0x12, 0x34},
	},
	{
		name:   "PUBREC",
		packet: &PubrecPacket{PacketID: 1},
		wire:   []byte{0x50, 0x02, 0x00, 0x01},
	},
	{
		name:   "PUBREL",
		packet: &PubrelPacket{PacketID: 1},
		wire:   []byte{0x62, 0x02, 0x00, 0x01},
	},
	{
		name:   "PUBCOMP",
		packet: &PubcompPacket{PacketID: 1},
		wire:   []byte{0x70, 0x02, 0x00, 0x01},
	},
	{
		name:   "SUBSCRIBE",
		packet: &SubscribePacket{PacketID: 10, Subscriptions: []Subscription{{TopicFilter: "a/#", QoS: 1}}},
		wire:   []byte{0x82, 0x08, 0x00, 0x0A, 0x00, 0x03, 'a', '/', '#', 0x01},
	},
	{
		name:   "SUBACK",
		packet: &SubackPacket{PacketID: 10, ReturnCodes: []byte{1, SubackFailure}},
		wire:   []byte{0x90, 0x04, 0x00, 0x0A, 0x01, 0x80},
	},
	{
		name:   "UNSUBSCRIBE",
		packet: &UnsubscribePacket{PacketID: 11, TopicFilters: []string{"a/#"}},
		wire:   []byte{0xA2, 0x07, 0x00, 0x0B, 0x00, 0x03, 'a', '/', '#'},
	},
	{
		name:   "UNSUBACK",
		packet: &UnsubackPacket{PacketID: 11},
		wire:   []byte{0xB0, 0x02, 0x00, 0x0B},
	},
	{
		name:   "PINGREQ",
		packet: &PingreqPacket{},
		wire:   []byte{0xC0, 0x00},
	},
	{
		name:   "PINGRESP",
		packet: &PingrespPacket{},
		wire:   []byte{0xD0, 0x00},
	},
	{
		name:   "DISCONNECT",
		packet: &DisconnectPacket{},
		wire:   []byte{0xE0, 0x00},
	},
}

func TestWireFormat(t *testing.T) {
	for _, tt := range wireVectors {
		t.Run(tt.name, func(t *testing.T) {
			data, err := Encode(tt.packet)
			require.NoError(t, err)
			assert.Equal(t, tt.wire, data)

			decoded, n, err := Decode(tt.wire, 0)
			require.NoError(t, err)
			assert.Equal(t, len(tt.wire), n)
			assert.Equal(t, tt.packet, decoded)
		})
	}
}

func TestDecodeNeedMoreData(t *testing.T) {
	for _, tt := range wireVectors {
		t.Run(tt.name, func(t *testing.T) {
			for i := range len(tt.wire) {
				pkt, n, err := Decode(tt.wire[:i], 0)
				require.ErrorIs(t, err, ErrNeedMoreData, "prefix of %d bytes", i)
				assert.Nil(t, pkt)
				assert.Zero(t, n)
			}
		})
	}
}

func TestDecodeStream(t *testing.T) {
	var stream []byte
	for _, tt := range wireVectors {
		stream = append(stream, tt.wire...)
	}

	var decoded []Packet
	for len(stream) > 0 {
		pkt, n, err := Decode(stream, 0)
		require.NoError(t, err)
		decoded = append(decoded, pkt)
		stream = stream[n:]
	}

	require.Len(t, decoded, len(wireVectors))
	for i, tt := range wireVectors {
		assert.Equal(t, tt.packet.Type(), decoded[i].Type(), tt.name)
	}
}

func TestDecodeMalformed(t *testing.T) {
	tests := []struct {
		name string
		wire []byte
		want error
	}{
		{name: "reserved type 0", wire: []byte{0x00, 0x00}, want: ErrInvalidPacketType},
		{name: "reserved type 15", wire: []byte{0xF0, 0x00}, want: ErrInvalidPacketType},
		{name: "five byte remaining length", wire: []byte{0x30, 0xFF, 0xFF, 0xFF, 0xFF, 0x01}, want: ErrVarintMalformed},
		{name: "publish QoS 3", wire: []byte{0x36, 0x05, 0x00, 0x01, 't', 0x00, 0x01}, want: ErrInvalidPacketFlags},
		{name: "pubrel without flags", wire: []byte{0x60, 0x02, 0x00, 0x01}, want: ErrInvalidPacketFlags},
		{name: "subscribe without flags", wire: []byte{0x80, 0x06, 0x00, 0x01, 0x00, 0x01, 'a', 0x00}},
		{name: "pingresp with flags", wire: []byte{0xD1, 0x00}, want: ErrInvalidPacketFlags},
		{name: "puback too long", wire: []byte{0x40, 0x03, 0x00, 0x01, 0x00}},
		{name: "publish QoS 1 without id", wire: []byte{0x32, 0x03, 0x00, 0x01, 't'}},
		{name: "connect with unknown protocol", wire: []byte{0x10, 0x0C, 0x00, 0x04, 'M', 'Q', 'X', 'X', 0x04, 0x02, 0x00, 0x1E, 0x00, 0x00}},
		{name: "suback with invalid code", wire: []byte{0x90, 0x03, 0x00, 0x01, 0x03}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Decode(tt.wire, 0)
			require.ErrorIs(t, err, ErrMalformedPacket)
			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
			}
		})
	}
}

func TestDecodeMaxSize(t *testing.T) {
	wire := []byte{0x32, 0x07, 0x00, 0x01, 't', 0x00, 0x01, 'h', 'i'}

	_, _, err := Decode(wire, 6)
	require.ErrorIs(t, err, ErrPacketTooLarge)
	assert.ErrorIs(t, err, ErrMalformedPacket)

	// The limit applies as soon as the header is known.
	_, _, err = Decode(wire[:2], 6)
	assert.ErrorIs(t, err, ErrPacketTooLarge)

	_, n, err := Decode(wire, 7)
	require.NoError(t, err)
	assert.Equal(t, len(wire), n)
}

func TestEncodeInvalid(t *testing.T) {
	tests := []struct {
		name   string
		packet Packet
		want   error
	}{
		{name: "publish without topic", packet: &PublishPacket{}, want: ErrTopicNameEmpty},
		{name: "publish QoS 1 without id", packet: &PublishPacket{Topic: "t", QoS: 1}, want: ErrPacketIDRequired},
		{name: "publish QoS 3", packet: &PublishPacket{Topic: "t", QoS: 3, PacketID: 1}, want: ErrInvalidQoS},
		{name: "publish QoS 0 duplicate", packet: &PublishPacket{Topic: "t", DUP: true}, want: ErrInvalidPacketFlags},
		{
			name:   "connect 3.1 long client id",
			packet: &ConnectPacket{Version: ProtocolV31, ClientID: strings.Repeat("x", 24), CleanSession: true},
			want:   ErrClientIDTooLong,
		},
		{name: "connect without id or clean session", packet: &ConnectPacket{}, want: ErrClientIDRequired},
		{
			name:   "connect password without user",
			packet: &ConnectPacket{ClientID: "c", CleanSession: true, Password: []byte("p")},
			want:   ErrPasswordWithoutUser,
		},
		{name: "puback id 0", packet: &PubackPacket{}, want: ErrInvalidPacketID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Encode(tt.packet)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestReadWritePacket(t *testing.T) {
	var buf bytes.Buffer

	pub := &PublishPacket{Topic: "a/b", Payload: []byte("payload"), QoS: 1, PacketID: 42}
	n, err := WritePacket(&buf, pub, 0)
	require.NoError(t, err)
	assert.Equal(t, buf.Len(), n)

	_, err = WritePacket(&buf, pub, 4)
	assert.ErrorIs(t, err, ErrPacketTooLarge)

	decoded, rn, err := ReadPacket(&buf, 0)
	require.NoError(t, err)
	assert.Equal(t, n, rn)
	assert.Equal(t, pub, decoded)

	_, err = WritePacket(&buf, pub, 0)
	require.NoError(t, err)
	_, _, err = ReadPacket(&buf, 4)
	assert.ErrorIs(t, err, ErrPacketTooLarge)
}

func TestPublishMessageConversion(t *testing.T) {
	pkt := &PublishPacket{Topic: "t", Payload: []byte("m"), QoS: 1, Retain: true, DUP: true, PacketID: 9}

	msg := pkt.ToMessage()
	assert.Equal(t, &Message{Topic: "t", Payload: []byte("m"), QoS: 1, Retain: true, Dup: true}, msg)

	var out PublishPacket
	out.FromMessage(msg)
	assert.Equal(t, "t", out.Topic)
	assert.Equal(t, byte(1), out.QoS)
	assert.True(t, out.Retain)
	assert.False(t, out.DUP)
	assert.Zero(t, out.PacketID)
}

func BenchmarkEncodePublish(b *testing.B) {
	pkt := &PublishPacket{Topic: "sensors/temp", Payload: bytes.Repeat([]byte("x"), 256), QoS: 1, PacketID: 1}

	b.ReportAllocs()
	for b.Loop() {
		if _, err := Encode(pkt); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkDecodePublish(b *testing.B) {
	pkt := &PublishPacket{Topic: "sensors/temp", Payload: bytes.Repeat([]byte("x"), 256), QoS: 1, PacketID: 1}
	data, err := Encode(pkt)
	if err != nil {
		b.Fatal(err)
	}

	b.ReportAllocs()
	for b.Loop() {
		if _, _, err := Decode(data, 0); err != nil {
			b.Fatal(err)
		}
	}
}
