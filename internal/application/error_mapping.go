package application

import (
	"github.com/bnema/kaidan/internal/domain"
	"github.com/bnema/kaidan/internal/ports"
)

// MapConnectionError normalizes a transport failure. registering selects the
// registration reading of a not-implemented stream error.
func MapConnectionError(terr ports.TransportError, registering bool) domain.ConnectionError {
	switch terr.Kind {
	case ports.TransportErrorKeepAlive:
		return domain.KeepAliveError
	case ports.TransportErrorStream:
		return mapStreamCondition(terr.Stream, registering)
	case ports.TransportErrorSocket:
		return mapSocketError(terr.Socket)
	default:
		return domain.NotConnected
	}
}

func mapStreamCondition(condition ports.StreamCondition, registering bool) domain.ConnectionError {
	switch condition {
	case ports.StreamNotAuthorized:
		return domain.AuthenticationFailed
	case ports.StreamFeatureNotImplemented:
		if registering {
			return domain.RegistrationUnsupported
		}
		return domain.NotConnected
	case ports.StreamNoSupportedMechanism:
		return domain.NoSupportedAuth
	default:
		return domain.NotConnected
	}
}

func mapSocketError(socketErr ports.SocketError) domain.ConnectionError {
	switch socketErr {
	case ports.SocketConnectionRefused, ports.SocketRemoteHostClosed:
		return domain.ConnectionRefused
	case ports.SocketHostNotFound:
		return domain.DnsError
	case ports.SocketAccess:
		return domain.NoNetworkPermission
	case ports.SocketTimeout:
		return domain.KeepAliveError
	case ports.SocketTLSHandshakeFailed, ports.SocketTLSInternal:
		return domain.TlsFailed
	case ports.SocketTLSUnavailable:
		return domain.TlsNotAvailable
	default:
		return domain.NotConnected
	}
}
