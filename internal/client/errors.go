package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"syscall"

	"github.com/aspect-build/sealrun/internal/trusterr"
)

// transportError maps a failed round trip to a connection error with a cause
// the caller can act on.
func transportError(phase string, err error) error {
	var te *trusterr.Error
	if errors.As(err, &te) {
		return err
	}
	cause := classify(err)
	return trusterr.Connection(phase, cause, err, "%s", describe(cause))
}

func classify(err error) trusterr.Cause {
	var (
		netErr     net.Error
		dnsErr     *net.DNSError
		opErr      *net.OpError
		verifyErr  *tls.CertificateVerificationError
		unknownCA  x509.UnknownAuthorityError
		hostErr    x509.HostnameError
		invalidErr x509.CertificateInvalidError
		recordErr  tls.RecordHeaderError
	)
	switch {
	case errors.Is(err, context.Canceled):
		return trusterr.CauseCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return trusterr.CauseTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		return trusterr.CauseTimeout
	case errors.As(err, &verifyErr), errors.As(err, &unknownCA), errors.As(err, &hostErr),
		errors.As(err, &invalidErr), errors.As(err, &recordErr):
		return trusterr.CauseTLS
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.EPIPE),
		errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.EOF):
		return trusterr.CauseReset
	case errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.EHOSTUNREACH),
		errors.Is(err, syscall.ENETUNREACH), errors.As(err, &dnsErr):
		return trusterr.CauseUnreachable
	case errors.As(err, &opErr) && opErr.Op == "dial":
		return trusterr.CauseUnreachable
	default:
		return trusterr.CauseProtocol
	}
}

func describe(c trusterr.Cause) string {
	switch c {
	case trusterr.CauseUnreachable:
		return "server unreachable"
	case trusterr.CauseTimeout:
		return "request timed out"
	case trusterr.CauseReset:
		return "connection reset by peer"
	case trusterr.CauseCanceled:
		return "request canceled"
	case trusterr.CauseTLS:
		return "TLS handshake failed"
	default:
		return "unexpected reply"
	}
}
