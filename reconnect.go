package mqttclient

import (
	"math"
	"time"
)

// Unlimited disables an attempt bound.
const Unlimited = -1

// Reconnect defaults.
const (
	DefaultReconnectDelay      = 10 * time.Millisecond
	DefaultReconnectDelayMax   = 30 * time.Second
	DefaultBackoffMultiplier   = 2.0
	DefaultReconnectAttemptMax = Unlimited
	DefaultConnectAttemptMax   = Unlimited
)

// ReconnectPolicy controls the wait between connect attempts and how many
// attempts are made before the connection gives up.
type ReconnectPolicy struct {
	// InitialDelay is the wait before the first retry.
	InitialDelay time.Duration `yaml:"initial_delay" mapstructure:"initial_delay"`

	// MaxDelay caps the computed wait.
	MaxDelay time.Duration `yaml:"max_delay" mapstructure:"max_delay"`

	// BackoffMultiplier scales the wait after every consecutive failure.
	BackoffMultiplier float64 `yaml:"backoff_multiplier" mapstructure:"backoff_multiplier"`

	// MaxReconnectAttempts bounds consecutive failed attempts since the last
	// successful connection. Unlimited (-1) means no bound.
	MaxReconnectAttempts int `yaml:"max_reconnect_attempts" mapstructure:"max_reconnect_attempts"`

	// MaxConnectAttempts bounds the total attempts made by the connection.
	// Unlimited (-1) means no bound.
	MaxConnectAttempts int `yaml:"max_connect_attempts" mapstructure:"max_connect_attempts"`
}

// DefaultReconnectPolicy returns the policy used when none is configured.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		InitialDelay:         DefaultReconnectDelay,
		MaxDelay:             DefaultReconnectDelayMax,
		BackoffMultiplier:    DefaultBackoffMultiplier,
		MaxReconnectAttempts: DefaultReconnectAttemptMax,
		MaxConnectAttempts:   DefaultConnectAttemptMax,
	}
}

// Delay returns the wait before retry number attempt (starting at 1):
// min(InitialDelay * BackoffMultiplier^(attempt-1), MaxDelay).
func (p ReconnectPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := float64(p.InitialDelay) * math.Pow(p.BackoffMultiplier, float64(attempt-1))
	if p.MaxDelay > 0 && (delay > float64(p.MaxDelay) || math.IsInf(delay, 0) || math.IsNaN(delay)) {
		return p.MaxDelay
	}
	if delay > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}

	return time.Duration(delay)
}

// reconnectState tracks the two attempt counters of one connection.
// It is owned by the connection's serial queue.
type reconnectState struct {
	policy ReconnectPolicy

	// attempts counts every connect attempt since the connection was created.
	attempts int

	// consecutive counts failures since the last successful connection.
	consecutive int
}

func newReconnectState(policy ReconnectPolicy) *reconnectState {
	return &reconnectState{policy: policy}
}

// attemptStarted records a new connect attempt.
func (s *reconnectState) attemptStarted() {
	s.attempts++
}

// connected resets the consecutive failure counter. The total attempt
// counter keeps running.
func (s *reconnectState) connected() {
	s.consecutive = 0
}

// failed records a failed attempt or a lost connection. It returns the
// retry number and the wait before it, or false when a bound is exceeded and
// no further attempt may be made.
func (s *reconnectState) failed() (int, time.Duration, bool) {
	s.consecutive++

	if s.policy.MaxConnectAttempts >= 0 && s.attempts >= s.policy.MaxConnectAttempts {
		return s.consecutive, 0, false
	}

	if s.policy.MaxReconnectAttempts >= 0 && s.consecutive > s.policy.MaxReconnectAttempts {
		return s.consecutive, 0, false
	}

	return s.consecutive, s.policy.Delay(s.consecutive), true
}
