package ssh

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrClosed is returned for operations on a connection after Close.
var ErrClosed = errors.New("ssh: connection closed")

// ErrNotConnected is returned when an operation needs a live transport and
// there is none. Transient: the reconnect loop may restore it.
var ErrNotConnected = errors.New("ssh: not connected")

// AuthError is fatal: the credential was rejected and the user must supply
// a new one. It is never retried.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string { return fmt.Sprintf("ssh: authentication failed: %v", e.Err) }
func (e *AuthError) Unwrap() error { return e.Err }

// NetworkError is transient: the host was unreachable or the link dropped.
// It feeds the backoff-retry loop rather than surfacing as a hard failure.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("ssh: network error: %v", e.Err) }
func (e *NetworkError) Unwrap() error { return e.Err }

// ProtocolError is fatal for the operation that hit it: the two ends could
// not agree on the protocol. Logged, not retried.
type ProtocolError struct {
	Err error
}

func (e *ProtocolError) Error() string { return fmt.Sprintf("ssh: protocol error: %v", e.Err) }
func (e *ProtocolError) Unwrap() error { return e.Err }

func errUnknownHost(hostID string) error {
	return fmt.Errorf("ssh: host %q not registered", hostID)
}

// classifyDialError sorts a dial failure into the retry taxonomy. The
// crypto/ssh package reports auth rejection only through error text, so the
// substrings it emits are matched here.
func classifyDialError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "unable to authenticate"),
		strings.Contains(msg, "no supported methods remain"),
		strings.Contains(msg, "permission denied"):
		return &AuthError{Err: err}
	case isNetworkErr(err):
		return &NetworkError{Err: err}
	case strings.Contains(msg, "handshake failed"),
		strings.Contains(msg, "version string"),
		strings.Contains(msg, "no common algorithm"):
		return &ProtocolError{Err: err}
	default:
		return &NetworkError{Err: err}
	}
}

func isNetworkErr(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "no route to host") ||
		strings.Contains(msg, "i/o timeout") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "EOF")
}
