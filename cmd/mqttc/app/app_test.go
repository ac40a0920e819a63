package app

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitalvas/mqttclient"
)

const testWait = 5 * time.Second

// testBroker answers one client connection with canned acknowledgments and
// records every packet the client sends.
type testBroker struct {
	ln      net.Listener
	packets chan mqttclient.Packet

	connack mqttclient.ReturnCode
	refuse  []string
	deliver []*mqttclient.PublishPacket
}

func newTestBroker(t *testing.T, configure func(b *testBroker)) *testBroker {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	b := &testBroker{ln: ln, packets: make(chan mqttclient.Packet, 64)}
	if configure != nil {
		configure(b)
	}

	go b.serve()
	return b
}

func (b *testBroker) host() string {
	return "tcp://" + b.ln.Addr().String()
}

func (b *testBroker) serve() {
	conn, err := b.ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()

	for {
		pkt, _, err := mqttclient.ReadPacket(conn, 0)
		if err != nil {
			return
		}
		b.packets <- pkt

		var replies []mqttclient.Packet
		switch p := pkt.(type) {
		case *mqttclient.ConnectPacket:
			replies = append(replies, &mqttclient.ConnackPacket{ReturnCode: b.connack})
		case *mqttclient.PublishPacket:
			switch p.QoS {
			case 1:
				replies = append(replies, &mqttclient.PubackPacket{PacketID: p.PacketID})
			case 2:
				replies = append(replies, &mqttclient.PubrecPacket{PacketID: p.PacketID})
			}
		case *mqttclient.PubrelPacket:
			replies = append(replies, &mqttclient.PubcompPacket{PacketID: p.PacketID})
		case *mqttclient.SubscribePacket:
			codes := make([]byte, len(p.Subscriptions))
			for i, sub := range p.Subscriptions {
				codes[i] = sub.QoS
				if slices.Contains(b.refuse, sub.TopicFilter) {
					codes[i] = mqttclient.SubackFailure
				}
			}
			replies = append(replies, &mqttclient.SubackPacket{PacketID: p.PacketID, ReturnCodes: codes})
			for _, msg := range b.deliver {
				replies = append(replies, msg)
			}
		case *mqttclient.PingreqPacket:
			replies = append(replies, &mqttclient.PingrespPacket{})
		case *mqttclient.DisconnectPacket:
			return
		}

		for _, reply := range replies {
			if _, err := mqttclient.WritePacket(conn, reply, 0); err != nil {
				return
			}
		}
	}
}

// received drains the recorded packets once the client said goodbye.
func (b *testBroker) received(t *testing.T) []mqttclient.Packet {
	t.Helper()

	var out []mqttclient.Packet
	for {
		select {
		case pkt := <-b.packets:
			out = append(out, pkt)
			if _, ok := pkt.(*mqttclient.DisconnectPacket); ok {
				return out
			}
		case <-time.After(testWait):
			t.Fatalf("no DISCONNECT, got %d packets", len(out))
			return out
		}
	}
}

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), testWait)
	defer cancel()

	var out bytes.Buffer
	cmd := NewRootCommand(ctx)
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetIn(bytes.NewReader(nil))
	cmd.SetArgs(args)

	err := cmd.Execute()
	return out.String(), err
}

// bounded keeps failing tests from retrying forever.
var bounded = []string{
	"--max-connect-attempts=1",
	"--max-reconnect-attempts=0",
	"--log.level=error",
	"--log.enable-color=false",
}

func withBroker(b *testBroker, args ...string) []string {
	out := append([]string{args[0], "--host", b.host()}, bounded...)
	return append(out, args[1:]...)
}

func packetTypes(packets []mqttclient.Packet) []mqttclient.PacketType {
	out := make([]mqttclient.PacketType, len(packets))
	for i, pkt := range packets {
		out[i] = pkt.Type()
	}
	return out
}

func TestPubCommand(t *testing.T) {
	t.Run("publishes repeatedly", func(t *testing.T) {
		b := newTestBroker(t, nil)

		out, err := runCommand(t, withBroker(b, "pub", "-t", "a/b", "-m", "hello", "-q", "1", "-n", "2", "-r")...)
		require.NoError(t, err)
		assert.Contains(t, out, "published 2 messages to a/b")

		packets := b.received(t)
		assert.Equal(t, []mqttclient.PacketType{
			mqttclient.PacketCONNECT,
			mqttclient.PacketPUBLISH,
			mqttclient.PacketPUBLISH,
			mqttclient.PacketDISCONNECT,
		}, packetTypes(packets))

		for _, pkt := range packets[1:3] {
			pub := pkt.(*mqttclient.PublishPacket)
			assert.Equal(t, "a/b", pub.Topic)
			assert.Equal(t, []byte("hello"), pub.Payload)
			assert.Equal(t, byte(1), pub.QoS)
			assert.True(t, pub.Retain)
		}
	})

	t.Run("connect packet carries client options", func(t *testing.T) {
		b := newTestBroker(t, nil)

		_, err := runCommand(t, withBroker(b, "pub", "-t", "x", "-m", "y",
			"-i", "cli-test", "-u", "alice", "-P", "secret", "--clean-session=false",
			"-k", "30s", "-V", "3.1", "--will-topic", "status/cli", "--will-payload", "gone")...)
		require.NoError(t, err)

		packets := b.received(t)
		connect, ok := packets[0].(*mqttclient.ConnectPacket)
		require.True(t, ok)
		assert.Equal(t, "cli-test", connect.ClientID)
		assert.Equal(t, "alice", connect.Username)
		assert.Equal(t, []byte("secret"), connect.Password)
		assert.False(t, connect.CleanSession)
		assert.Equal(t, uint16(30), connect.KeepAlive)
		assert.Equal(t, mqttclient.ProtocolV31, connect.Version)
		assert.Equal(t, "status/cli", connect.WillTopic)
		assert.Equal(t, []byte("gone"), connect.WillPayload)
	})

	t.Run("qos 2 payload from file", func(t *testing.T) {
		b := newTestBroker(t, nil)

		path := filepath.Join(t.TempDir(), "payload.bin")
		require.NoError(t, os.WriteFile(path, []byte{0x00, 0xFF, 0x10}, 0o600))

		_, err := runCommand(t, withBroker(b, "pub", "-t", "bin", "-f", path, "-q", "2")...)
		require.NoError(t, err)

		packets := b.received(t)
		assert.Equal(t, []mqttclient.PacketType{
			mqttclient.PacketCONNECT,
			mqttclient.PacketPUBLISH,
			mqttclient.PacketPUBREL,
			mqttclient.PacketDISCONNECT,
		}, packetTypes(packets))
		assert.Equal(t, []byte{0x00, 0xFF, 0x10}, packets[1].(*mqttclient.PublishPacket).Payload)
	})

	t.Run("environment", func(t *testing.T) {
		b := newTestBroker(t, nil)
		t.Setenv("MQTTC_HOST", b.host())
		t.Setenv("MQTTC_TOPIC", "env/topic")
		t.Setenv("MQTTC_MESSAGE", "from env")
		t.Setenv("MQTTC_CLIENT_ID", "env-client")

		_, err := runCommand(t, append([]string{"pub"}, bounded...)...)
		require.NoError(t, err)

		packets := b.received(t)
		assert.Equal(t, "env-client", packets[0].(*mqttclient.ConnectPacket).ClientID)
		pub := packets[1].(*mqttclient.PublishPacket)
		assert.Equal(t, "env/topic", pub.Topic)
		assert.Equal(t, []byte("from env"), pub.Payload)
	})

	t.Run("config file with flag precedence", func(t *testing.T) {
		b := newTestBroker(t, nil)

		path := filepath.Join(t.TempDir(), "mqttc.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`host: `+b.host()+`
topic: file/topic
message: from file
max-connect-attempts: 1
max-reconnect-attempts: 0
log:
  level: error
  enable-color: false
`), 0o600))

		_, err := runCommand(t, "pub", "--config", path, "-m", "from flag")
		require.NoError(t, err)

		pub := b.received(t)[1].(*mqttclient.PublishPacket)
		assert.Equal(t, "file/topic", pub.Topic)
		assert.Equal(t, []byte("from flag"), pub.Payload)
	})

	t.Run("refused connection", func(t *testing.T) {
		b := newTestBroker(t, func(b *testBroker) { b.connack = mqttclient.ReturnNotAuthorized })

		_, err := runCommand(t, withBroker(b, "pub", "-t", "x", "-m", "y")...)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "broker refused connection")

		var connErr *mqttclient.ConnectError
		require.ErrorAs(t, err, &connErr)
		assert.Equal(t, mqttclient.ReturnNotAuthorized, connErr.ReturnCode)
	})

	t.Run("invalid flags", func(t *testing.T) {
		tests := []struct {
			name string
			args []string
			want string
		}{
			{name: "missing topic", args: []string{"pub", "-m", "x"}, want: "topic"},
			{name: "wildcard topic", args: []string{"pub", "-t", "a/+", "-m", "x"}, want: "topic"},
			{name: "qos", args: []string{"pub", "-t", "a", "-q", "3"}, want: "qos 3"},
			{name: "count", args: []string{"pub", "-t", "a", "-n", "0"}, want: "count"},
			{name: "two sources", args: []string{"pub", "-t", "a", "-m", "x", "--stdin"}, want: "mutually exclusive"},
			{name: "keep alive", args: []string{"pub", "-t", "a", "-k", "1500ms"}, want: "keep-alive"},
			{name: "log level", args: []string{"pub", "-t", "a", "--log.level", "loud"}, want: "log.level"},
			{name: "unknown scheme", args: []string{"pub", "-t", "a", "-H", "gopher://host"}, want: "scheme"},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := runCommand(t, tt.args...)
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.want)
			})
		}
	})
}

func TestSubCommand(t *testing.T) {
	t.Run("prints routed messages and suback", func(t *testing.T) {
		b := newTestBroker(t, func(b *testBroker) {
			b.refuse = []string{"secret/#"}
			b.deliver = []*mqttclient.PublishPacket{
				{Topic: "sensors/temp", Payload: []byte("21.5")},
				{Topic: "sensors/rh", Payload: []byte("40"), Retain: true},
			}
		})

		out, err := runCommand(t, withBroker(b, "sub", "-t", "sensors/+", "-t", "secret/#",
			"-q", "1", "-n", "2", "-v", "--no-color")...)
		require.NoError(t, err)

		assert.Contains(t, out, "FILTER")
		assert.Contains(t, out, "refused")
		assert.Contains(t, out, "sensors/temp [sensors/+ qos=0] 21.5")
		assert.Contains(t, out, "sensors/rh [sensors/+ qos=0 retained] 40")

		packets := b.received(t)
		subscribe, ok := packets[1].(*mqttclient.SubscribePacket)
		require.True(t, ok)
		assert.Equal(t, []mqttclient.Subscription{
			{TopicFilter: "secret/#", QoS: 1},
			{TopicFilter: "sensors/+", QoS: 1},
		}, subscribe.Subscriptions)
	})

	t.Run("payload only", func(t *testing.T) {
		b := newTestBroker(t, func(b *testBroker) {
			b.deliver = []*mqttclient.PublishPacket{{Topic: "a/b", Payload: []byte("plain")}}
		})

		out, err := runCommand(t, withBroker(b, "sub", "-t", "a/#", "-t", "a/b", "-n", "1")...)
		require.NoError(t, err)
		assert.Equal(t, "plain\n", out)
		b.received(t)
	})

	t.Run("idle timeout", func(t *testing.T) {
		b := newTestBroker(t, nil)

		out, err := runCommand(t, withBroker(b, "sub", "-t", "quiet", "-W", "100ms")...)
		require.NoError(t, err)
		assert.Empty(t, out)
		assert.Equal(t, mqttclient.PacketDISCONNECT, b.received(t)[2].Type())
	})

	t.Run("every filter refused", func(t *testing.T) {
		b := newTestBroker(t, func(b *testBroker) { b.refuse = []string{"denied"} })

		_, err := runCommand(t, withBroker(b, "sub", "-t", "denied")...)
		require.Error(t, err)
		assert.ErrorIs(t, err, mqttclient.ErrSubscribeFailed)
		b.received(t)
	})

	t.Run("invalid filter", func(t *testing.T) {
		_, err := runCommand(t, "sub", "-t", "a/#/b")
		require.Error(t, err)
		assert.Contains(t, err.Error(), `topic "a/#/b"`)

		_, err = runCommand(t, "sub")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "at least one topic filter")
	})
}

func TestServeMetrics(t *testing.T) {
	ctx := context.Background()

	metrics, stop, err := serveMetrics(ctx, "127.0.0.1:0")
	require.NoError(t, err)
	defer stop()
	require.NotNil(t, metrics)

	_, _, err = serveMetrics(ctx, "not-an-address")
	assert.Error(t, err)
}

func TestSessionCloseIgnoresFinishedConnections(t *testing.T) {
	b := newTestBroker(t, nil)

	args := append([]string{"pub", "--host", b.host(), "-t", "x"}, bounded...)
	o := NewPubOptions()
	cmd := newPubCommand()
	require.NoError(t, cmd.ParseFlags(args[1:]))
	require.NoError(t, loadOptions(cmd, o))

	s, err := openSession(&o.ClientOptions)
	require.NoError(t, err)
	require.NoError(t, s.connect(context.Background()))

	require.NoError(t, s.close(time.Second))
	assert.NoError(t, s.close(time.Second))
	assert.True(t, errors.Is(s.conn.Disconnect(context.Background()), mqttclient.ErrAlreadyClosed))
}
