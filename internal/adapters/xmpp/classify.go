package xmpp

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"strings"
	"syscall"

	"github.com/bnema/kaidan/internal/ports"
)

// Classify turns an error of the XMPP library or the network stack into the
// transport error categories the client worker understands.
func Classify(err error) ports.TransportError {
	if err == nil {
		return ports.TransportError{}
	}

	socket := func(kind ports.SocketError) ports.TransportError {
		return ports.TransportError{Kind: ports.TransportErrorSocket, Socket: kind, Err: err}
	}
	stream := func(condition ports.StreamCondition) ports.TransportError {
		return ports.TransportError{Kind: ports.TransportErrorStream, Stream: condition, Err: err}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return socket(ports.SocketHostNotFound)
	}

	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return socket(ports.SocketConnectionRefused)
	case errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, net.ErrClosed):
		return socket(ports.SocketRemoteHostClosed)
	case errors.Is(err, syscall.EACCES), errors.Is(err, syscall.EPERM):
		return socket(ports.SocketAccess)
	}

	if isTLSError(err) {
		return socket(ports.SocketTLSHandshakeFailed)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return socket(ports.SocketTimeout)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "auth failure"), strings.Contains(msg, "not-authorized"):
		return stream(ports.StreamNotAuthorized)
	case strings.Contains(msg, "mechanism"):
		return stream(ports.StreamNoSupportedMechanism)
	case strings.Contains(msg, "feature-not-implemented"):
		return stream(ports.StreamFeatureNotImplemented)
	case strings.Contains(msg, "starttls"):
		return socket(ports.SocketTLSUnavailable)
	case strings.Contains(msg, "tls:"):
		return socket(ports.SocketTLSInternal)
	}

	return socket(ports.SocketUnknown)
}

func isTLSError(err error) bool {
	var recordErr tls.RecordHeaderError
	var verifyErr *tls.CertificateVerificationError
	var authorityErr x509.UnknownAuthorityError
	var hostnameErr x509.HostnameError
	var invalidErr x509.CertificateInvalidError

	return errors.As(err, &recordErr) ||
		errors.As(err, &verifyErr) ||
		errors.As(err, &authorityErr) ||
		errors.As(err, &hostnameErr) ||
		errors.As(err, &invalidErr)
}
