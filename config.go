package mqttclient

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Configuration defaults.
const (
	DefaultHost              = "tcp://127.0.0.1:1883"
	DefaultKeepAlive         = 30
	DefaultConnectTimeout    = 10 * time.Second
	DefaultSocketBufferSize  = 64 * 1024
	DefaultTrafficClass      = 0x08
	DefaultMaxPacketSize     = maxVarint
	clientIDPrefix           = "mqttc-"
	clientIDRandomCharacters = 16
)

// ErrInvalidConfig is wrapped by every error returned from Config.Validate.
var ErrInvalidConfig = errors.New("invalid config")

// Will is the message the broker publishes when the client goes away
// without a DISCONNECT.
type Will struct {
	Topic   string `yaml:"topic" mapstructure:"topic"`
	Payload []byte `yaml:"-" mapstructure:"payload"`
	QoS     byte   `yaml:"qos" mapstructure:"qos"`
	Retain  bool   `yaml:"retain" mapstructure:"retain"`
}

// UnmarshalYAML reads the payload as a plain string.
func (w *Will) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Topic   string `yaml:"topic"`
		Payload string `yaml:"payload"`
		QoS     byte   `yaml:"qos"`
		Retain  bool   `yaml:"retain"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	*w = Will{Topic: raw.Topic, Payload: []byte(raw.Payload), QoS: raw.QoS, Retain: raw.Retain}
	return nil
}

// Config holds the parameters of a connection. A connection copies its
// Config when it is created; later changes to the caller's value have no effect.
type Config struct {
	// Host is the broker URI: tcp://, mqtt://, ssl://, tls://, mqtts://,
	// ws://, wss://, unix:// or quic://.
	Host string `yaml:"host" mapstructure:"host"`

	// LocalAddress binds the client side of TCP connections ("host" or "host:port").
	LocalAddress string `yaml:"local_address" mapstructure:"local_address"`

	// TLSConfig is used for ssl, tls, mqtts, wss and quic hosts.
	TLSConfig *tls.Config `yaml:"-" mapstructure:"-"`

	// Proxy is a socks5:// or http:// proxy URL for stream transports.
	Proxy string `yaml:"proxy" mapstructure:"proxy"`

	// ClientID is generated when empty and CleanSession is set.
	ClientID     string `yaml:"client_id" mapstructure:"client_id"`
	Username     string `yaml:"username" mapstructure:"username"`
	Password     string `yaml:"password" mapstructure:"password"`
	CleanSession bool   `yaml:"clean_session" mapstructure:"clean_session"`

	// KeepAlive is the ping interval in seconds. Zero disables keep-alive.
	KeepAlive uint16 `yaml:"keep_alive" mapstructure:"keep_alive"`

	Version ProtocolVersion `yaml:"version" mapstructure:"version"`
	Will    *Will           `yaml:"will" mapstructure:"will"`

	Reconnect ReconnectPolicy `yaml:"reconnect" mapstructure:"reconnect"`

	// ConnectTimeout bounds a single attempt from dial to CONNACK.
	ConnectTimeout time.Duration `yaml:"connect_timeout" mapstructure:"connect_timeout"`

	// MaxInflight caps outstanding QoS 1/2 publishes. Zero means only the
	// packet identifier space limits them.
	MaxInflight int `yaml:"max_inflight" mapstructure:"max_inflight"`

	// MaxPacketSize bounds the remaining length of inbound packets.
	MaxPacketSize uint32 `yaml:"max_packet_size" mapstructure:"max_packet_size"`

	SendBufferSize    int `yaml:"send_buffer_size" mapstructure:"send_buffer_size"`
	ReceiveBufferSize int `yaml:"receive_buffer_size" mapstructure:"receive_buffer_size"`

	// TrafficClass is the IP TOS byte for TCP sockets. Negative leaves the OS default.
	TrafficClass int `yaml:"traffic_class" mapstructure:"traffic_class"`

	// MaxReadRate and MaxWriteRate cap throughput in bytes per second. Zero is unlimited.
	MaxReadRate  int `yaml:"max_read_rate" mapstructure:"max_read_rate"`
	MaxWriteRate int `yaml:"max_write_rate" mapstructure:"max_write_rate"`

	// Runtime collaborators. Nil selects the default.
	Executor   Executor    `yaml:"-" mapstructure:"-"`
	WorkerPool *WorkerPool `yaml:"-" mapstructure:"-"`
	Dialer     Dialer      `yaml:"-" mapstructure:"-"`
	Logger     Logger      `yaml:"-" mapstructure:"-"`
	Metrics    Metrics     `yaml:"-" mapstructure:"-"`
}

// DefaultConfig returns the configuration used when no option is given.
func DefaultConfig() Config {
	return Config{
		Host:              DefaultHost,
		CleanSession:      true,
		KeepAlive:         DefaultKeepAlive,
		Version:           ProtocolV311,
		Reconnect:         DefaultReconnectPolicy(),
		ConnectTimeout:    DefaultConnectTimeout,
		MaxPacketSize:     DefaultMaxPacketSize,
		SendBufferSize:    DefaultSocketBufferSize,
		ReceiveBufferSize: DefaultSocketBufferSize,
		TrafficClass:      DefaultTrafficClass,
	}
}

// Option configures a Config.
type Option func(*Config)

// NewConfig returns DefaultConfig with opts applied.
func NewConfig(opts ...Option) Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// With returns a copy of c with opts applied.
func (c Config) With(opts ...Option) Config {
	out := c.clone()
	for _, opt := range opts {
		opt(&out)
	}
	return out
}

// WithHost sets the broker URI.
func WithHost(host string) Option {
	return func(c *Config) {
		c.Host = host
	}
}

// WithLocalAddress binds outgoing TCP connections to addr.
func WithLocalAddress(addr string) Option {
	return func(c *Config) {
		c.LocalAddress = addr
	}
}

// WithTLS sets the TLS configuration for secure schemes.
func WithTLS(config *tls.Config) Option {
	return func(c *Config) {
		c.TLSConfig = config
	}
}

// WithProxy routes stream connections through a socks5:// or http:// proxy.
func WithProxy(proxyURL string) Option {
	return func(c *Config) {
		c.Proxy = proxyURL
	}
}

// WithClientID sets the client identifier.
func WithClientID(id string) Option {
	return func(c *Config) {
		c.ClientID = id
	}
}

// WithCredentials sets the username and password.
func WithCredentials(username, password string) Option {
	return func(c *Config) {
		c.Username = username
		c.Password = password
	}
}

// WithCleanSession sets the clean session flag.
func WithCleanSession(clean bool) Option {
	return func(c *Config) {
		c.CleanSession = clean
	}
}

// WithKeepAlive sets the keep-alive interval in seconds.
func WithKeepAlive(seconds uint16) Option {
	return func(c *Config) {
		c.KeepAlive = seconds
	}
}

// WithVersion selects MQTT 3.1.1 or 3.1.
func WithVersion(v ProtocolVersion) Option {
	return func(c *Config) {
		c.Version = v
	}
}

// WithWill sets the last will message.
func WithWill(topic string, payload []byte, qos byte, retain bool) Option {
	return func(c *Config) {
		c.Will = &Will{
			Topic:   topic,
			Payload: append([]byte(nil), payload...),
			QoS:     qos,
			Retain:  retain,
		}
	}
}

// WithReconnectPolicy replaces the reconnect policy.
func WithReconnectPolicy(p ReconnectPolicy) Option {
	return func(c *Config) {
		c.Reconnect = p
	}
}

// WithReconnectDelay sets the initial and maximum reconnect delay.
func WithReconnectDelay(initial, maxDelay time.Duration) Option {
	return func(c *Config) {
		c.Reconnect.InitialDelay = initial
		c.Reconnect.MaxDelay = maxDelay
	}
}

// WithMaxAttempts sets the reconnect and total connect attempt bounds.
// Use Unlimited for no bound.
func WithMaxAttempts(reconnect, connect int) Option {
	return func(c *Config) {
		c.Reconnect.MaxReconnectAttempts = reconnect
		c.Reconnect.MaxConnectAttempts = connect
	}
}

// WithConnectTimeout bounds a single connect attempt.
func WithConnectTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.ConnectTimeout = d
	}
}

// WithMaxInflight caps outstanding QoS 1/2 publishes.
func WithMaxInflight(n int) Option {
	return func(c *Config) {
		c.MaxInflight = n
	}
}

// WithMaxPacketSize bounds inbound packets.
func WithMaxPacketSize(size uint32) Option {
	return func(c *Config) {
		c.MaxPacketSize = size
	}
}

// WithSocketBuffers sets the kernel send and receive buffer sizes.
func WithSocketBuffers(send, receive int) Option {
	return func(c *Config) {
		c.SendBufferSize = send
		c.ReceiveBufferSize = receive
	}
}

// WithTrafficClass sets the IP TOS byte.
func WithTrafficClass(tc int) Option {
	return func(c *Config) {
		c.TrafficClass = tc
	}
}

// WithRateLimits caps read and write throughput in bytes per second.
func WithRateLimits(read, write int) Option {
	return func(c *Config) {
		c.MaxReadRate = read
		c.MaxWriteRate = write
	}
}

// WithExecutor sets the serial execution context.
func WithExecutor(e Executor) Option {
	return func(c *Config) {
		c.Executor = e
	}
}

// WithWorkerPool sets the pool used for dials and socket writes.
func WithWorkerPool(p *WorkerPool) Option {
	return func(c *Config) {
		c.WorkerPool = p
	}
}

// WithDialer replaces scheme based dialing.
func WithDialer(d Dialer) Option {
	return func(c *Config) {
		c.Dialer = d
	}
}

// WithLogger sets the logger.
func WithLogger(l Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}

// WithMetrics sets the metrics backend.
func WithMetrics(m Metrics) Option {
	return func(c *Config) {
		c.Metrics = m
	}
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host is empty", ErrInvalidConfig)
	}
	u, err := url.Parse(c.Host)
	if err != nil {
		return fmt.Errorf("%w: host: %w", ErrInvalidConfig, err)
	}
	if !supportedScheme(u.Scheme) {
		return fmt.Errorf("%w: unsupported scheme %q", ErrInvalidConfig, u.Scheme)
	}

	if c.Proxy != "" {
		p, err := url.Parse(c.Proxy)
		if err != nil {
			return fmt.Errorf("%w: proxy: %w", ErrInvalidConfig, err)
		}
		switch p.Scheme {
		case "http", "https", "socks5", "socks5h":
		default:
			return fmt.Errorf("%w: unsupported proxy scheme %q", ErrInvalidConfig, p.Scheme)
		}
	}

	if c.Version != "" && !c.Version.Valid() {
		return fmt.Errorf("%w: %w: %q", ErrInvalidConfig, ErrInvalidProtocolVersion, c.Version)
	}

	if c.Password != "" && c.Username == "" {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, ErrPasswordWithoutUser)
	}

	if c.ClientID == "" && !c.CleanSession {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, ErrClientIDRequired)
	}
	if c.Version == ProtocolV31 && len(c.ClientID) > maxClientIDLenV31 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, ErrClientIDTooLong)
	}

	if c.Will != nil {
		if c.Will.Topic == "" {
			return fmt.Errorf("%w: will topic is empty", ErrInvalidConfig)
		}
		if err := ValidateTopicName(c.Will.Topic); err != nil {
			return fmt.Errorf("%w: will: %w", ErrInvalidConfig, err)
		}
		if c.Will.QoS > 2 {
			return fmt.Errorf("%w: will: %w", ErrInvalidConfig, ErrInvalidQoS)
		}
	}

	if err := c.Reconnect.validate(); err != nil {
		return fmt.Errorf("%w: reconnect: %w", ErrInvalidConfig, err)
	}

	switch {
	case c.ConnectTimeout < 0:
		return fmt.Errorf("%w: negative connect timeout", ErrInvalidConfig)
	case c.MaxInflight < 0 || c.MaxInflight > maxPacketIDs:
		return fmt.Errorf("%w: max inflight %d out of range", ErrInvalidConfig, c.MaxInflight)
	case c.SendBufferSize < 0 || c.ReceiveBufferSize < 0:
		return fmt.Errorf("%w: negative socket buffer size", ErrInvalidConfig)
	case c.TrafficClass > 0xFF:
		return fmt.Errorf("%w: traffic class %d out of range", ErrInvalidConfig, c.TrafficClass)
	case c.MaxReadRate < 0 || c.MaxWriteRate < 0:
		return fmt.Errorf("%w: negative rate limit", ErrInvalidConfig)
	}

	return nil
}

func (p ReconnectPolicy) validate() error {
	switch {
	case p.InitialDelay < 0 || p.MaxDelay < 0:
		return errors.New("negative delay")
	case p.MaxDelay > 0 && p.MaxDelay < p.InitialDelay:
		return errors.New("max delay below initial delay")
	case p.BackoffMultiplier < 1:
		return fmt.Errorf("backoff multiplier %v below 1", p.BackoffMultiplier)
	case p.MaxReconnectAttempts < Unlimited || p.MaxConnectAttempts < Unlimited:
		return errors.New("attempt bound below -1")
	case p.MaxConnectAttempts == 0:
		return errors.New("max connect attempts is zero")
	}
	return nil
}

// clone copies c so the result shares no mutable state with it.
func (c Config) clone() Config {
	out := c
	if c.Will != nil {
		w := *c.Will
		w.Payload = append([]byte(nil), c.Will.Payload...)
		out.Will = &w
	}
	if c.TLSConfig != nil {
		out.TLSConfig = c.TLSConfig.Clone()
	}
	return out
}

// resolved returns the copy a connection works from: defaults filled in
// and a client identifier generated when needed.
func (c Config) resolved() Config {
	out := c.clone()
	if out.Version == "" {
		out.Version = ProtocolV311
	}
	if out.ClientID == "" {
		out.ClientID = GenerateClientID()
	}
	if out.ConnectTimeout == 0 {
		out.ConnectTimeout = DefaultConnectTimeout
	}
	if out.Executor == nil {
		out.Executor = NewSerialQueue()
	}
	if out.WorkerPool == nil {
		out.WorkerPool = DefaultWorkerPool()
	}
	if out.Logger == nil {
		out.Logger = NewNoOpLogger()
	}
	if out.Metrics == nil {
		out.Metrics = &NoOpMetrics{}
	}
	if out.Dialer == nil {
		out.Dialer = newSchemeDialer(out)
	}
	return out
}

// GenerateClientID returns a random identifier short enough for MQTT 3.1
// brokers, which limit identifiers to 23 bytes.
func GenerateClientID() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return clientIDPrefix + id[:clientIDRandomCharacters]
}
