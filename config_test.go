package mqttclient

import (
	"crypto/tls"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, DefaultHost, cfg.Host)
	assert.True(t, cfg.CleanSession)
	assert.Equal(t, uint16(DefaultKeepAlive), cfg.KeepAlive)
	assert.Equal(t, ProtocolV311, cfg.Version)
	assert.Equal(t, DefaultConnectTimeout, cfg.ConnectTimeout)
	assert.Equal(t, uint32(DefaultMaxPacketSize), cfg.MaxPacketSize)
	assert.Equal(t, DefaultReconnectPolicy(), cfg.Reconnect)
	assert.NoError(t, cfg.Validate())
}

func TestConfigOptions(t *testing.T) {
	queue := NewSerialQueue()
	pool := NewWorkerPool(1, time.Second)
	metrics := NewMemoryMetrics()

	cfg := NewConfig(
		WithHost("ssl://broker:8883"),
		WithLocalAddress("127.0.0.1"),
		WithTLS(&tls.Config{ServerName: "broker"}),
		WithProxy("socks5://proxy:1080"),
		WithClientID("id"),
		WithCredentials("user", "pass"),
		WithCleanSession(false),
		WithKeepAlive(5),
		WithVersion(ProtocolV31),
		WithWill("will/topic", []byte("bye"), 1, true),
		WithReconnectDelay(time.Second, time.Minute),
		WithMaxAttempts(3, 10),
		WithConnectTimeout(2*time.Second),
		WithMaxInflight(7),
		WithMaxPacketSize(1024),
		WithSocketBuffers(1, 2),
		WithTrafficClass(-1),
		WithRateLimits(100, 200),
		WithExecutor(queue),
		WithWorkerPool(pool),
		WithMetrics(metrics),
	)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "ssl://broker:8883", cfg.Host)
	assert.Equal(t, "127.0.0.1", cfg.LocalAddress)
	assert.Equal(t, "broker", cfg.TLSConfig.ServerName)
	assert.Equal(t, "socks5://proxy:1080", cfg.Proxy)
	assert.Equal(t, "id", cfg.ClientID)
	assert.Equal(t, "user", cfg.Username)
	assert.Equal(t, "pass", cfg.Password)
	assert.False(t, cfg.CleanSession)
	assert.Equal(t, uint16(5), cfg.KeepAlive)
	assert.Equal(t, ProtocolV31, cfg.Version)
	assert.Equal(t, &Will{Topic: "will/topic", Payload: []byte("bye"), QoS: 1, Retain: true}, cfg.Will)
	assert.Equal(t, time.Second, cfg.Reconnect.InitialDelay)
	assert.Equal(t, time.Minute, cfg.Reconnect.MaxDelay)
	assert.Equal(t, 3, cfg.Reconnect.MaxReconnectAttempts)
	assert.Equal(t, 10, cfg.Reconnect.MaxConnectAttempts)
	assert.Equal(t, 2*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, 7, cfg.MaxInflight)
	assert.Equal(t, uint32(1024), cfg.MaxPacketSize)
	assert.Equal(t, 1, cfg.SendBufferSize)
	assert.Equal(t, 2, cfg.ReceiveBufferSize)
	assert.Equal(t, -1, cfg.TrafficClass)
	assert.Equal(t, 100, cfg.MaxReadRate)
	assert.Equal(t, 200, cfg.MaxWriteRate)
	assert.Same(t, queue, cfg.Executor)
	assert.Same(t, pool, cfg.WorkerPool)
	assert.Same(t, metrics, cfg.Metrics)
}

func TestConfigCopy(t *testing.T) {
	t.Run("With leaves the original alone", func(t *testing.T) {
		base := NewConfig(WithWill("w", []byte("a"), 0, false))
		derived := base.With(WithClientID("other"))

		derived.Will.Payload[0] = 'b'
		assert.Equal(t, []byte("a"), base.Will.Payload)
		assert.Empty(t, base.ClientID)
		assert.Equal(t, "other", derived.ClientID)
	})

	t.Run("WithWill copies the payload", func(t *testing.T) {
		payload := []byte("a")
		cfg := NewConfig(WithWill("w", payload, 0, false))
		payload[0] = 'b'
		assert.Equal(t, []byte("a"), cfg.Will.Payload)
	})

	t.Run("connections ignore later changes", func(t *testing.T) {
		cfg := NewConfig(WithClientID("before"))
		conn, err := NewCallbackConnection(cfg)
		require.NoError(t, err)

		cfg.ClientID = "after"
		assert.Equal(t, "before", conn.ClientID())
	})
}

func TestConfigResolved(t *testing.T) {
	cfg := Config{Host: DefaultHost, CleanSession: true}.resolved()

	assert.Equal(t, ProtocolV311, cfg.Version)
	assert.True(t, strings.HasPrefix(cfg.ClientID, "mqttc-"))
	assert.LessOrEqual(t, len(cfg.ClientID), maxClientIDLenV31)
	assert.Equal(t, DefaultConnectTimeout, cfg.ConnectTimeout)
	assert.NotNil(t, cfg.Executor)
	assert.Same(t, DefaultWorkerPool(), cfg.WorkerPool)
	assert.NotNil(t, cfg.Logger)
	assert.NotNil(t, cfg.Metrics)
	assert.NotNil(t, cfg.Dialer)
}

func TestGenerateClientID(t *testing.T) {
	seen := make(map[string]struct{})
	for range 100 {
		id := GenerateClientID()
		assert.Len(t, id, len("mqttc-")+16)
		assert.NotContains(t, seen, id)
		seen[id] = struct{}{}
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name string
		opts []Option
		want error
	}{
		{name: "empty host", opts: []Option{WithHost("")}},
		{name: "unsupported scheme", opts: []Option{WithHost("ftp://broker")}},
		{name: "bad proxy scheme", opts: []Option{WithProxy("ftp://proxy")}},
		{name: "unknown version", opts: []Option{WithVersion("5.0")}, want: ErrInvalidProtocolVersion},
		{name: "password without user", opts: []Option{WithCredentials("", "secret")}, want: ErrPasswordWithoutUser},
		{name: "persistent session without id", opts: []Option{WithCleanSession(false)}, want: ErrClientIDRequired},
		{
			name: "3.1 client id too long",
			opts: []Option{WithVersion(ProtocolV31), WithClientID(strings.Repeat("x", 24))},
			want: ErrClientIDTooLong,
		},
		{name: "will without topic", opts: []Option{WithWill("", nil, 0, false)}},
		{name: "will with wildcard", opts: []Option{WithWill("a/#", nil, 0, false)}, want: ErrInvalidTopicName},
		{name: "will QoS 3", opts: []Option{WithWill("w", nil, 3, false)}, want: ErrInvalidQoS},
		{name: "negative delay", opts: []Option{WithReconnectDelay(-1, time.Second)}},
		{name: "max delay below initial", opts: []Option{WithReconnectDelay(time.Second, time.Millisecond)}},
		{name: "zero connect attempts", opts: []Option{WithMaxAttempts(Unlimited, 0)}},
		{name: "attempt bound below unlimited", opts: []Option{WithMaxAttempts(-2, Unlimited)}},
		{
			name: "backoff multiplier below one",
			opts: []Option{WithReconnectPolicy(ReconnectPolicy{BackoffMultiplier: 0.5, MaxConnectAttempts: Unlimited})},
		},
		{name: "negative connect timeout", opts: []Option{WithConnectTimeout(-time.Second)}},
		{name: "max inflight too large", opts: []Option{WithMaxInflight(65536)}},
		{name: "negative socket buffer", opts: []Option{WithSocketBuffers(-1, 0)}},
		{name: "traffic class too large", opts: []Option{WithTrafficClass(256)}},
		{name: "negative rate", opts: []Option{WithRateLimits(-1, 0)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewConfig(tt.opts...).Validate()
			require.ErrorIs(t, err, ErrInvalidConfig)
			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
			}

			_, err = NewCallbackConnection(NewConfig(tt.opts...))
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}

	t.Run("every scheme", func(t *testing.T) {
		for _, host := range []string{
			"tcp://b", "mqtt://b", "ssl://b", "tls://b", "mqtts://b",
			"ws://b/mqtt", "wss://b/mqtt", "unix:///tmp/mqtt.sock", "quic://b",
		} {
			assert.NoError(t, NewConfig(WithHost(host)).Validate(), host)
		}
	})
}

func TestParseConfig(t *testing.T) {
	t.Run("full document", func(t *testing.T) {
		doc := `
host: tcp://broker:1884
client_id: sensor-1
username: user
password: pass
clean_session: false
keep_alive: 15
version: "3.1"
connect_timeout: 3s
max_inflight: 20
will:
  topic: status/sensor-1
  payload: offline
  qos: 1
  retain: true
reconnect:
  initial_delay: 250ms
  max_delay: 10s
  backoff_multiplier: 1.5
  max_reconnect_attempts: 5
  max_connect_attempts: -1
`
		cfg, err := ParseConfig([]byte(doc))
		require.NoError(t, err)

		assert.Equal(t, "tcp://broker:1884", cfg.Host)
		assert.Equal(t, "sensor-1", cfg.ClientID)
		assert.Equal(t, "user", cfg.Username)
		assert.Equal(t, "pass", cfg.Password)
		assert.False(t, cfg.CleanSession)
		assert.Equal(t, uint16(15), cfg.KeepAlive)
		assert.Equal(t, ProtocolV31, cfg.Version)
		assert.Equal(t, 3*time.Second, cfg.ConnectTimeout)
		assert.Equal(t, 20, cfg.MaxInflight)
		assert.Equal(t, &Will{Topic: "status/sensor-1", Payload: []byte("offline"), QoS: 1, Retain: true}, cfg.Will)
		assert.Equal(t, ReconnectPolicy{
			InitialDelay:         250 * time.Millisecond,
			MaxDelay:             10 * time.Second,
			BackoffMultiplier:    1.5,
			MaxReconnectAttempts: 5,
			MaxConnectAttempts:   Unlimited,
		}, cfg.Reconnect)

		// Unset fields keep their defaults.
		assert.Equal(t, uint32(DefaultMaxPacketSize), cfg.MaxPacketSize)
	})

	t.Run("empty document is the default", func(t *testing.T) {
		cfg, err := ParseConfig(nil)
		require.NoError(t, err)
		assert.Equal(t, DefaultConfig(), cfg)
	})

	t.Run("unknown field", func(t *testing.T) {
		_, err := ParseConfig([]byte("hots: tcp://typo\n"))
		assert.Error(t, err)
	})

	t.Run("invalid result", func(t *testing.T) {
		_, err := ParseConfig([]byte("host: ftp://broker\n"))
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("environment overrides", func(t *testing.T) {
		t.Setenv(EnvHost, "tcp://env:1883")
		t.Setenv(EnvClientID, "env-id")
		t.Setenv(EnvUsername, "env-user")
		t.Setenv(EnvPassword, "env-pass")

		cfg, err := ParseConfig([]byte("host: tcp://file:1883\nclient_id: file-id\n"))
		require.NoError(t, err)

		assert.Equal(t, "tcp://env:1883", cfg.Host)
		assert.Equal(t, "env-id", cfg.ClientID)
		assert.Equal(t, "env-user", cfg.Username)
		assert.Equal(t, "env-pass", cfg.Password)
	})
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.yaml")
	require.NoError(t, os.WriteFile(path, []byte("client_id: from-file\n"), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.ClientID)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
