package ami

import (
	"errors"
	"fmt"
	"time"
)

// Errors
var (
	ErrNotReady       = errors.New("session not ready")
	ErrTimeout        = errors.New("action timeout")
	ErrConnectionLost = errors.New("connection lost")
	ErrSessionClosed  = errors.New("session closed")
)

// AuthError is a rejected Login action. Fatal marks rejections that name
// bad credentials; the reconnect loop treats those as non-retryable when
// HaltOnAuthFailure is set.
type AuthError struct {
	Message string
	Fatal   bool
}

func (e *AuthError) Error() string {
	if e.Message == "" {
		return "authentication rejected"
	}
	return "authentication rejected: " + e.Message
}

// FramingError is a line that does not follow the Key: Value form. The
// connection resynchronizes at the next blank line before returning it.
type FramingError struct {
	Line string
}

func (e *FramingError) Error() string {
	return fmt.Sprintf("malformed manager line %q", e.Line)
}

// DecodeError is a framed block that is neither a response nor an event.
type DecodeError struct {
	Frame Fields
}

func (e *DecodeError) Error() string {
	if e.Frame.Len() == 0 {
		return "undecodable frame: empty block"
	}
	f := e.Frame[0]
	return fmt.Sprintf("undecodable frame: no Response or Event field (starts %q: %q)", f.Key, f.Value)
}

// EncodeError is an action parameter that cannot be written safely.
type EncodeError struct {
	Key   string
	Value string
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("unencodable action field %q: value contains a line break", e.Key)
}

// ActionError is an Error response from the peer to a submitted action.
type ActionError struct {
	Action  string
	Message string
}

func (e *ActionError) Error() string {
	if e.Message == "" {
		return e.Action + " rejected"
	}
	return e.Action + " rejected: " + e.Message
}

// State is the session lifecycle state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateAuthenticating
	StateReady
	StateDisconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateReady:
		return "ready"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// ConnConfig configures a single manager-interface connection.
type ConnConfig struct {
	Address       string        // host:port of the manager interface
	DialTimeout   time.Duration // TCP connect deadline
	WriteTimeout  time.Duration // Write deadline per block
	BannerTimeout time.Duration // Max wait for the greeting line after connect
}

// DefaultConnConfig returns sensible defaults.
func DefaultConnConfig() ConnConfig {
	return ConnConfig{
		DialTimeout:   10 * time.Second,
		WriteTimeout:  5 * time.Second,
		BannerTimeout: 5 * time.Second,
	}
}

// SessionConfig configures a manager session.
type SessionConfig struct {
	Address  string // host:port of the manager interface
	Username string
	Secret   string

	DialTimeout   time.Duration
	WriteTimeout  time.Duration
	BannerTimeout time.Duration
	ActionTimeout time.Duration // Default deadline for submitted actions

	ReconnectBaseWait time.Duration // Base wait time for reconnection
	ReconnectMaxWait  time.Duration // Max wait time for reconnection

	// HaltOnAuthFailure stops the reconnect loop when the peer rejects the
	// configured credentials instead of retrying forever with bad ones.
	HaltOnAuthFailure bool

	EventBuffer int // Decoded event channel capacity
}

// DefaultSessionConfig returns sensible defaults.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		DialTimeout:       10 * time.Second,
		WriteTimeout:      5 * time.Second,
		BannerTimeout:     5 * time.Second,
		ActionTimeout:     10 * time.Second,
		ReconnectBaseWait: 1 * time.Second,
		ReconnectMaxWait:  60 * time.Second,
		HaltOnAuthFailure: true,
		EventBuffer:       1024,
	}
}

// connConfig derives the per-connection settings.
func (c SessionConfig) connConfig() ConnConfig {
	return ConnConfig{
		Address:       c.Address,
		DialTimeout:   c.DialTimeout,
		WriteTimeout:  c.WriteTimeout,
		BannerTimeout: c.BannerTimeout,
	}
}
