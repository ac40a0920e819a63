package options

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/vitalvas/mqttclient"
)

// ClientOptions holds the connection settings shared by every command.
type ClientOptions struct {
	Host         string        `mapstructure:"host"`
	ClientID     string        `mapstructure:"client-id"`
	Username     string        `mapstructure:"username"`
	Password     string        `mapstructure:"password"`
	CleanSession bool          `mapstructure:"clean-session"`
	KeepAlive    time.Duration `mapstructure:"keep-alive"`
	Version      string        `mapstructure:"version"`
	Proxy        string        `mapstructure:"proxy"`

	ConnectTimeout       time.Duration `mapstructure:"connect-timeout"`
	ReconnectDelay       time.Duration `mapstructure:"reconnect-delay"`
	ReconnectDelayMax    time.Duration `mapstructure:"reconnect-delay-max"`
	MaxReconnectAttempts int           `mapstructure:"max-reconnect-attempts"`
	MaxConnectAttempts   int           `mapstructure:"max-connect-attempts"`
	MaxInflight          int           `mapstructure:"max-inflight"`

	// CAFile adds a PEM bundle to the trusted roots for secure schemes.
	CAFile string `mapstructure:"ca-file"`

	// InsecureSkipVerify disables broker certificate checks. Testing only.
	InsecureSkipVerify bool `mapstructure:"insecure-skip-verify"`

	WillTopic   string `mapstructure:"will-topic"`
	WillPayload string `mapstructure:"will-payload"`
	WillQoS     int    `mapstructure:"will-qos"`
	WillRetain  bool   `mapstructure:"will-retain"`

	Log *LogOptions `mapstructure:"log"`
}

// NewClientOptions returns the defaults of mqttclient.DefaultConfig.
func NewClientOptions() *ClientOptions {
	def := mqttclient.DefaultConfig()
	return &ClientOptions{
		Host:                 def.Host,
		CleanSession:         def.CleanSession,
		KeepAlive:            time.Duration(def.KeepAlive) * time.Second,
		Version:              string(def.Version),
		ConnectTimeout:       def.ConnectTimeout,
		ReconnectDelay:       def.Reconnect.InitialDelay,
		ReconnectDelayMax:    def.Reconnect.MaxDelay,
		MaxReconnectAttempts: def.Reconnect.MaxReconnectAttempts,
		MaxConnectAttempts:   def.Reconnect.MaxConnectAttempts,
		Log:                  NewLogOptions(),
	}
}

// AddFlags binds the options to fs.
func (o *ClientOptions) AddFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&o.Host, "host", "H", o.Host, "Broker URI (tcp, ssl, ws, wss, unix or quic scheme).")
	fs.StringVarP(&o.ClientID, "client-id", "i", o.ClientID, "Client identifier. Generated when empty.")
	fs.StringVarP(&o.Username, "username", "u", o.Username, "Username for authentication.")
	fs.StringVarP(&o.Password, "password", "P", o.Password, "Password for authentication.")
	fs.BoolVar(&o.CleanSession, "clean-session", o.CleanSession, "Ask the broker to discard previous session state.")
	fs.DurationVarP(&o.KeepAlive, "keep-alive", "k", o.KeepAlive, "Keep-alive interval. Zero disables pings.")
	fs.StringVarP(&o.Version, "version", "V", o.Version, "MQTT protocol version (3.1.1 or 3.1).")
	fs.StringVar(&o.Proxy, "proxy", o.Proxy, "socks5:// or http:// proxy for stream transports.")

	fs.DurationVar(&o.ConnectTimeout, "connect-timeout", o.ConnectTimeout, "Timeout of a single connect attempt.")
	fs.DurationVar(&o.ReconnectDelay, "reconnect-delay", o.ReconnectDelay, "Wait before the first reconnect.")
	fs.DurationVar(&o.ReconnectDelayMax, "reconnect-delay-max", o.ReconnectDelayMax, "Upper bound of the reconnect wait.")
	fs.IntVar(&o.MaxReconnectAttempts, "max-reconnect-attempts", o.MaxReconnectAttempts,
		"Consecutive failed attempts before giving up (-1 is unlimited).")
	fs.IntVar(&o.MaxConnectAttempts, "max-connect-attempts", o.MaxConnectAttempts,
		"Total connect attempts before giving up (-1 is unlimited).")
	fs.IntVar(&o.MaxInflight, "max-inflight", o.MaxInflight, "Cap on unacknowledged QoS 1/2 publishes (0 is no cap).")

	fs.StringVar(&o.CAFile, "ca-file", o.CAFile, "PEM file with additional trusted CA certificates.")
	fs.BoolVar(&o.InsecureSkipVerify, "insecure-skip-verify", o.InsecureSkipVerify, "Skip broker certificate verification.")

	fs.StringVar(&o.WillTopic, "will-topic", o.WillTopic, "Topic of the last will message.")
	fs.StringVar(&o.WillPayload, "will-payload", o.WillPayload, "Payload of the last will message.")
	fs.IntVar(&o.WillQoS, "will-qos", o.WillQoS, "QoS of the last will message.")
	fs.BoolVar(&o.WillRetain, "will-retain", o.WillRetain, "Retain the last will message.")

	o.Log.AddFlags(fs)
}

// Validate checks the values a Config cannot represent.
func (o *ClientOptions) Validate() []error {
	var errs []error

	if o.KeepAlive < 0 || o.KeepAlive > math.MaxUint16*time.Second {
		errs = append(errs, fmt.Errorf("keep-alive %s out of range", o.KeepAlive))
	}
	if o.KeepAlive%time.Second != 0 {
		errs = append(errs, fmt.Errorf("keep-alive %s is not a whole number of seconds", o.KeepAlive))
	}
	if o.WillQoS < 0 || o.WillQoS > 2 {
		errs = append(errs, fmt.Errorf("will-qos %d out of range", o.WillQoS))
	}
	if o.WillTopic == "" && (o.WillPayload != "" || o.WillRetain) {
		errs = append(errs, errors.New("will-payload and will-retain require will-topic"))
	}

	return append(errs, o.Log.Validate()...)
}

// ToConfig converts the options into a connection configuration.
func (o *ClientOptions) ToConfig(extra ...mqttclient.Option) (mqttclient.Config, error) {
	if err := errors.Join(o.Validate()...); err != nil {
		return mqttclient.Config{}, err
	}

	opts := []mqttclient.Option{
		mqttclient.WithHost(o.Host),
		mqttclient.WithClientID(o.ClientID),
		mqttclient.WithCredentials(o.Username, o.Password),
		mqttclient.WithCleanSession(o.CleanSession),
		mqttclient.WithKeepAlive(uint16(o.KeepAlive / time.Second)),
		mqttclient.WithVersion(mqttclient.ProtocolVersion(o.Version)),
		mqttclient.WithProxy(o.Proxy),
		mqttclient.WithConnectTimeout(o.ConnectTimeout),
		mqttclient.WithReconnectDelay(o.ReconnectDelay, o.ReconnectDelayMax),
		mqttclient.WithMaxAttempts(o.MaxReconnectAttempts, o.MaxConnectAttempts),
		mqttclient.WithMaxInflight(o.MaxInflight),
	}

	if o.WillTopic != "" {
		opts = append(opts, mqttclient.WithWill(o.WillTopic, []byte(o.WillPayload), byte(o.WillQoS), o.WillRetain))
	}

	tlsConfig, err := o.tlsConfig()
	if err != nil {
		return mqttclient.Config{}, err
	}
	if tlsConfig != nil {
		opts = append(opts, mqttclient.WithTLS(tlsConfig))
	}

	cfg := mqttclient.NewConfig(append(opts, extra...)...)
	if err := cfg.Validate(); err != nil {
		return mqttclient.Config{}, err
	}
	return cfg, nil
}

func (o *ClientOptions) tlsConfig() (*tls.Config, error) {
	if o.CAFile == "" && !o.InsecureSkipVerify {
		return nil, nil
	}

	cfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: o.InsecureSkipVerify, //nolint:gosec // opt-in flag for test brokers
	}

	if o.CAFile != "" {
		pem, err := os.ReadFile(o.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read CA file: %w", err)
		}
		pool, err := x509.SystemCertPool()
		if err != nil {
			pool = x509.NewCertPool()
		}
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates in %s", o.CAFile)
		}
		cfg.RootCAs = pool
	}

	return cfg, nil
}
