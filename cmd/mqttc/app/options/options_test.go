package options

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitalvas/mqttclient"
)

func TestNewClientOptions(t *testing.T) {
	o := NewClientOptions()
	def := mqttclient.DefaultConfig()

	assert.Equal(t, def.Host, o.Host)
	assert.True(t, o.CleanSession)
	assert.Equal(t, time.Duration(def.KeepAlive)*time.Second, o.KeepAlive)
	assert.Equal(t, "3.1.1", o.Version)
	assert.Equal(t, def.Reconnect.MaxConnectAttempts, o.MaxConnectAttempts)
	assert.Empty(t, o.Validate())

	cfg, err := o.ToConfig()
	require.NoError(t, err)
	assert.Equal(t, def.KeepAlive, cfg.KeepAlive)
	assert.Nil(t, cfg.TLSConfig)
	assert.Nil(t, cfg.Will)
}

func TestClientOptionsFlags(t *testing.T) {
	o := NewClientOptions()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	o.AddFlags(fs)

	require.NoError(t, fs.Parse([]string{
		"-H", "ws://broker:8080/mqtt",
		"-i", "flags",
		"-u", "user", "-P", "pass",
		"--clean-session=false",
		"-k", "15s",
		"-V", "3.1",
		"--proxy", "socks5://127.0.0.1:1080",
		"--connect-timeout", "3s",
		"--reconnect-delay", "2s", "--reconnect-delay-max", "20s",
		"--max-reconnect-attempts", "5", "--max-connect-attempts", "-1",
		"--max-inflight", "16",
		"--will-topic", "bye", "--will-payload", "gone", "--will-qos", "1", "--will-retain",
		"--log.level", "debug", "--log.format", "json",
	}))

	cfg, err := o.ToConfig()
	require.NoError(t, err)

	assert.Equal(t, "ws://broker:8080/mqtt", cfg.Host)
	assert.Equal(t, "flags", cfg.ClientID)
	assert.Equal(t, "user", cfg.Username)
	assert.Equal(t, "pass", cfg.Password)
	assert.False(t, cfg.CleanSession)
	assert.Equal(t, uint16(15), cfg.KeepAlive)
	assert.Equal(t, mqttclient.ProtocolV31, cfg.Version)
	assert.Equal(t, "socks5://127.0.0.1:1080", cfg.Proxy)
	assert.Equal(t, 3*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, 2*time.Second, cfg.Reconnect.InitialDelay)
	assert.Equal(t, 20*time.Second, cfg.Reconnect.MaxDelay)
	assert.Equal(t, 5, cfg.Reconnect.MaxReconnectAttempts)
	assert.Equal(t, mqttclient.Unlimited, cfg.Reconnect.MaxConnectAttempts)
	assert.Equal(t, 16, cfg.MaxInflight)

	require.NotNil(t, cfg.Will)
	assert.Equal(t, "bye", cfg.Will.Topic)
	assert.Equal(t, []byte("gone"), cfg.Will.Payload)
	assert.Equal(t, byte(1), cfg.Will.QoS)
	assert.True(t, cfg.Will.Retain)

	assert.Equal(t, "debug", o.Log.Level)
	assert.Equal(t, "json", o.Log.Format)
}

func TestClientOptionsValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(o *ClientOptions)
		want   string
	}{
		{name: "negative keep alive", mutate: func(o *ClientOptions) { o.KeepAlive = -time.Second }, want: "out of range"},
		{name: "keep alive too long", mutate: func(o *ClientOptions) { o.KeepAlive = 20 * time.Hour }, want: "out of range"},
		{name: "fractional keep alive", mutate: func(o *ClientOptions) { o.KeepAlive = 2500 * time.Millisecond }, want: "whole number"},
		{name: "will qos", mutate: func(o *ClientOptions) { o.WillTopic = "w"; o.WillQoS = 3 }, want: "will-qos 3"},
		{name: "will payload without topic", mutate: func(o *ClientOptions) { o.WillPayload = "x" }, want: "require will-topic"},
		{name: "log format", mutate: func(o *ClientOptions) { o.Log.Format = "xml" }, want: "log.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := NewClientOptions()
			tt.mutate(o)

			errs := o.Validate()
			require.Len(t, errs, 1)
			assert.Contains(t, errs[0].Error(), tt.want)

			_, err := o.ToConfig()
			assert.Error(t, err)
		})
	}

	t.Run("config validation", func(t *testing.T) {
		o := NewClientOptions()
		o.MaxConnectAttempts = 0

		_, err := o.ToConfig()
		assert.ErrorIs(t, err, mqttclient.ErrInvalidConfig)
	})
}

func TestClientOptionsTLS(t *testing.T) {
	t.Run("ca file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "ca.pem")
		require.NoError(t, os.WriteFile(path, selfSignedPEM(t), 0o600))

		o := NewClientOptions()
		o.Host = "ssl://broker:8883"
		o.CAFile = path

		cfg, err := o.ToConfig()
		require.NoError(t, err)
		require.NotNil(t, cfg.TLSConfig)
		assert.NotNil(t, cfg.TLSConfig.RootCAs)
		assert.False(t, cfg.TLSConfig.InsecureSkipVerify)
	})

	t.Run("insecure", func(t *testing.T) {
		o := NewClientOptions()
		o.InsecureSkipVerify = true

		cfg, err := o.ToConfig()
		require.NoError(t, err)
		require.NotNil(t, cfg.TLSConfig)
		assert.True(t, cfg.TLSConfig.InsecureSkipVerify)
		assert.Nil(t, cfg.TLSConfig.RootCAs)
	})

	t.Run("missing ca file", func(t *testing.T) {
		o := NewClientOptions()
		o.CAFile = filepath.Join(t.TempDir(), "missing.pem")

		_, err := o.ToConfig()
		assert.ErrorContains(t, err, "read CA file")
	})

	t.Run("ca file without certificates", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "empty.pem")
		require.NoError(t, os.WriteFile(path, []byte("not a certificate"), 0o600))

		o := NewClientOptions()
		o.CAFile = path

		_, err := o.ToConfig()
		assert.ErrorContains(t, err, "no certificates")
	})
}

func TestLogOptions(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		o := NewLogOptions()
		assert.Empty(t, o.Validate())

		logger, err := o.Build()
		require.NoError(t, err)
		assert.False(t, logger.Core().Enabled(-1))
		assert.True(t, logger.Core().Enabled(1))
	})

	t.Run("json to file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "client.log")

		o := NewLogOptions()
		o.Level = "info"
		o.Format = "json"
		o.OutputPaths = []string{path}

		logger, err := o.Build()
		require.NoError(t, err)

		mqttclient.NewZapLogger(logger).Info("connected", mqttclient.LogFields{"client_id": "abc"})
		require.NoError(t, logger.Sync())

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), `"message":"connected"`)
		assert.Contains(t, string(data), `"client_id":"abc"`)
	})

	t.Run("invalid", func(t *testing.T) {
		o := NewLogOptions()
		o.Level = "loud"
		o.Format = "xml"

		assert.Len(t, o.Validate(), 2)
		_, err := o.Build()
		assert.ErrorContains(t, err, "log.level")
	})
}

func selfSignedPEM(t *testing.T) []byte {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "mqttc test CA"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)

	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
}
