// Package errs defines the error taxonomy shared by every component of the
// proxy. Per-flow errors are recovered by the engine's flow supervisor, which
// branches on the wrapped kind only to decide which counter to bump (see
// IsTimeout and stats.Counters).
package errs

import (
	"errors"
	"net"
)

// Kind identifies one of the error categories named in the design.
type Kind string

const (
	KindConfigMissing       Kind = "config_missing"
	KindConfigInvalid       Kind = "config_invalid"
	KindConnectFailed       Kind = "connect_failed"
	KindConnectTimeout      Kind = "connect_timeout"
	KindHandshakeRejected   Kind = "handshake_rejected"
	KindHandshakeMalformed  Kind = "handshake_malformed"
	KindAuthFailed          Kind = "auth_failed"
	KindConnectRejected     Kind = "connect_rejected"
	KindCryptoAuthFailed    Kind = "crypto_auth_failed"
	KindInboundProtocolErr  Kind = "inbound_protocol_error"
	KindLoopPrevention      Kind = "loop_prevention"
	KindSessionTimeout      Kind = "session_timeout"
)

// Error wraps an underlying cause with a Kind so the admission/lifecycle
// layer can decide which counter to increment without string matching.
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		if e.Reason != "" {
			return string(e.Kind) + ": " + e.Reason + ": " + e.Err.Error()
		}
		return string(e.Kind) + ": " + e.Err.Error()
	}
	if e.Reason != "" {
		return string(e.Kind) + ": " + e.Reason
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error of the given kind.
func New(kind Kind, reason string, cause error) *Error {
	return &Error{Kind: kind, Reason: reason, Err: cause}
}

// IsTimeout reports whether err (at any wrap depth) is a timeout-flavored
// Error — ConnectTimeout or SessionTimeout — or wraps a deadline-exceeded
// net.Error, which the admission layer must route to the timeout_connections
// counter instead of failed_connections. A handshake step that trips its
// per-step deadline (spec §4.3's StepTimeout) surfaces as a net.Error under
// whichever Kind that step names (HandshakeMalformed, AuthFailed,
// ConnectRejected, ...); the terminal cause being a timeout is what spec
// §4.3 asks the counter to key on, not the step's own Kind label.
func IsTimeout(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		if e.Kind == KindConnectTimeout || e.Kind == KindSessionTimeout {
			return true
		}
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return false
}

// KindOf extracts the Kind from err, or "" if err does not wrap an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
