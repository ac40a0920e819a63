package mqttclient

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for connection establishment - check with errors.Is().
var (
	// ErrConnectFailed is returned when a connect attempt fails, either at the
	// transport level or because the broker refused the CONNECT.
	ErrConnectFailed = errors.New("connect failed")

	// ErrProtocolError is returned when a malformed or unexpected packet is received.
	ErrProtocolError = errors.New("protocol error")

	// ErrTimeout is returned when the broker does not answer a PINGREQ or a CONNECT in time.
	ErrTimeout = errors.New("timeout")

	// ErrExhaustedAttempts is returned once the connect or reconnect budget is spent.
	ErrExhaustedAttempts = errors.New("connection attempts exhausted")

	// ErrConnectionLost is the cause recorded when the transport closes while connected.
	ErrConnectionLost = errors.New("connection lost")

	// ErrServerDisconnect is the cause recorded when the broker sends DISCONNECT.
	ErrServerDisconnect = errors.New("server disconnect")
)

// Sentinel errors for requests - check with errors.Is().
var (
	// ErrCancelled is returned to requests invalidated by a user disconnect.
	ErrCancelled = errors.New("request cancelled")

	// ErrExhaustedIDs is returned when all packet identifiers are in use.
	ErrExhaustedIDs = errors.New("no available packet IDs")

	// ErrAlreadyFailed is returned for calls made after the connection failed.
	ErrAlreadyFailed = errors.New("connection already failed")

	// ErrAlreadyClosed is returned for calls made after a completed disconnect.
	ErrAlreadyClosed = errors.New("connection already closed")

	// ErrConnectionClosed is returned by blocking receives once no more
	// messages can arrive.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrSubscribeFailed is wrapped by SubscribeError when the broker refuses
	// one or more filters of a SUBSCRIBE.
	ErrSubscribeFailed = errors.New("subscribe failed")
)

// ConnectError carries the broker's CONNACK return code for a refused connection.
// Extract with errors.As().
type ConnectError struct {
	err        error
	ReturnCode ReturnCode
}

func (e *ConnectError) Error() string {
	return "connect failed: " + e.ReturnCode.String()
}

func (e *ConnectError) Unwrap() error { return e.err }

// NewConnectError creates a new ConnectError from a CONNACK return code.
func NewConnectError(code ReturnCode) *ConnectError {
	return &ConnectError{
		err:        ErrConnectFailed,
		ReturnCode: code,
	}
}

// FailedError is the terminal error of a connection that ran out of attempts.
// It matches ErrExhaustedAttempts and the last connect error with errors.Is().
type FailedError struct {
	Cause    error
	Attempts int
}

func (e *FailedError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s after %d attempts", ErrExhaustedAttempts, e.Attempts)
	}
	return fmt.Sprintf("%s after %d attempts: %s", ErrExhaustedAttempts, e.Attempts, e.Cause)
}

func (e *FailedError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrExhaustedAttempts}
	}
	return []error{ErrExhaustedAttempts, e.Cause}
}

// NewFailedError creates a new FailedError.
func NewFailedError(cause error, attempts int) *FailedError {
	return &FailedError{
		Cause:    cause,
		Attempts: attempts,
	}
}

// SubscribeError lists the filters the broker refused in a SUBACK.
// Extract with errors.As().
type SubscribeError struct {
	err     error
	Refused []string
}

func (e *SubscribeError) Error() string {
	return fmt.Sprintf("subscribe failed: broker refused %v", e.Refused)
}

func (e *SubscribeError) Unwrap() error { return e.err }

// NewSubscribeError creates a new SubscribeError.
func NewSubscribeError(refused []string) *SubscribeError {
	return &SubscribeError{
		err:     ErrSubscribeFailed,
		Refused: refused,
	}
}

// ReconnectEvent describes a scheduled reconnect attempt. It is attached as
// the error of a StateReconnectWait change. Extract with errors.As().
type ReconnectEvent struct {
	Cause   error
	Attempt int
	Delay   time.Duration
}

func (e *ReconnectEvent) Error() string {
	return fmt.Sprintf("reconnect attempt %d in %s: %v", e.Attempt, e.Delay, e.Cause)
}

func (e *ReconnectEvent) Unwrap() error { return e.Cause }

// alreadyFailed wraps a terminal failure for calls made after it.
func alreadyFailed(failure error) error {
	return fmt.Errorf("%w: %w", ErrAlreadyFailed, failure)
}
