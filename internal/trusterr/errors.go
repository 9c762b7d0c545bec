// Package trusterr defines the typed failures surfaced by the sealrun client.
//
// Every error returned across a package boundary of the trust layer is a
// *Error with one of a fixed set of kinds, so callers can branch on the kind
// with errors.Is without parsing messages:
//
//	if errors.Is(err, trusterr.ErrAttestation) { ... }
package trusterr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure.
type Kind int

const (
	KindConfig Kind = iota + 1
	KindConnection
	KindVersion
	KindAttestation
	KindSignature
	KindEncoding
	KindInvalidState
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindConnection:
		return "connection"
	case KindVersion:
		return "version"
	case KindAttestation:
		return "attestation"
	case KindSignature:
		return "signature"
	case KindEncoding:
		return "encoding"
	case KindInvalidState:
		return "invalid state"
	default:
		return "unknown"
	}
}

// Cause narrows down a connection failure.
type Cause string

const (
	CauseUnreachable Cause = "unreachable"
	CauseTimeout     Cause = "timeout"
	CauseReset       Cause = "reset"
	CauseCanceled    Cause = "canceled"
	CauseProtocol    Cause = "protocol"
	CauseTLS         Cause = "tls"
)

// Error is the single concrete error type of the trust layer.
type Error struct {
	Kind  Kind
	Phase string
	Cause Cause // connection errors only
	Msg   string
	Err   error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	b.WriteString(" error")
	if e.Phase != "" {
		b.WriteString(" [")
		b.WriteString(e.Phase)
		b.WriteString("]")
	}
	if e.Cause != "" {
		b.WriteString(" (")
		b.WriteString(string(e.Cause))
		b.WriteString(")")
	}
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error of the same kind when the target carries no
// message, which makes the Err* sentinels below usable with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Msg != "" || t.Phase != "" || t.Err != nil {
		return false
	}
	return t.Kind == e.Kind && (t.Cause == "" || t.Cause == e.Cause)
}

// Sentinels for errors.Is.
var (
	ErrConfig       = &Error{Kind: KindConfig}
	ErrConnection   = &Error{Kind: KindConnection}
	ErrVersion      = &Error{Kind: KindVersion}
	ErrAttestation  = &Error{Kind: KindAttestation}
	ErrSignature    = &Error{Kind: KindSignature}
	ErrEncoding     = &Error{Kind: KindEncoding}
	ErrInvalidState = &Error{Kind: KindInvalidState}
)

func newf(k Kind, phase string, err error, format string, args ...any) *Error {
	return &Error{Kind: k, Phase: phase, Msg: fmt.Sprintf(format, args...), Err: err}
}

func Config(phase string, err error, format string, args ...any) *Error {
	return newf(KindConfig, phase, err, format, args...)
}

func Version(phase string, format string, args ...any) *Error {
	return newf(KindVersion, phase, nil, format, args...)
}

func Attestation(phase string, err error, format string, args ...any) *Error {
	return newf(KindAttestation, phase, err, format, args...)
}

func Signature(phase string, format string, args ...any) *Error {
	return newf(KindSignature, phase, nil, format, args...)
}

func Encoding(format string, args ...any) *Error {
	return newf(KindEncoding, "", nil, format, args...)
}

func InvalidState(phase string, format string, args ...any) *Error {
	return newf(KindInvalidState, phase, nil, format, args...)
}

// Connection builds a connection failure with an explicit cause.
func Connection(phase string, cause Cause, err error, format string, args ...any) *Error {
	e := newf(KindConnection, phase, err, format, args...)
	e.Cause = cause
	return e
}

// KindOf returns the kind of err, or 0 when err is not a trust layer error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// Exit codes used by the CLI.
const (
	ExitGeneral      = 1
	ExitConfig       = 2
	ExitConnection   = 3
	ExitVersion      = 4
	ExitAttestation  = 5
	ExitSignature    = 6
	ExitEncoding     = 7
	ExitInvalidState = 8
)

// ExitCode maps err to a process exit code.
func ExitCode(err error) int {
	switch KindOf(err) {
	case KindConfig:
		return ExitConfig
	case KindConnection:
		return ExitConnection
	case KindVersion:
		return ExitVersion
	case KindAttestation:
		return ExitAttestation
	case KindSignature:
		return ExitSignature
	case KindEncoding:
		return ExitEncoding
	case KindInvalidState:
		return ExitInvalidState
	default:
		return ExitGeneral
	}
}
