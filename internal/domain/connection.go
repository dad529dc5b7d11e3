package domain

type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// ConnectionError is the normalized reason of a failed connection attempt,
// independent of how the transport reports it.
type ConnectionError int

const (
	NoError ConnectionError = iota
	AuthenticationFailed
	NotConnected
	TlsFailed
	TlsNotAvailable
	DnsError
	ConnectionRefused
	NoSupportedAuth
	KeepAliveError
	NoNetworkPermission
	RegistrationUnsupported
)

var connectionErrorNames = map[ConnectionError]string{
	NoError:                 "no_error",
	AuthenticationFailed:    "authentication_failed",
	NotConnected:            "not_connected",
	TlsFailed:               "tls_failed",
	TlsNotAvailable:         "tls_not_available",
	DnsError:                "dns_error",
	ConnectionRefused:       "connection_refused",
	NoSupportedAuth:         "no_supported_auth",
	KeepAliveError:          "keep_alive_error",
	NoNetworkPermission:     "no_network_permission",
	RegistrationUnsupported: "registration_unsupported",
}

func (e ConnectionError) String() string {
	if name, ok := connectionErrorNames[e]; ok {
		return name
	}

	return "unknown"
}

// Message is the user-facing text for a connection error.
func (e ConnectionError) Message() string {
	switch e {
	case NoError:
		return ""
	case AuthenticationFailed:
		return "Invalid username or password."
	case TlsFailed:
		return "Your server does not support secure connections."
	case TlsNotAvailable:
		return "Your server does not offer TLS."
	case DnsError:
		return "Could not resolve your server's address."
	case ConnectionRefused:
		return "Your server refused the connection."
	case NoSupportedAuth:
		return "Authentication protocol not supported by the server."
	case KeepAliveError:
		return "The connection timed out."
	case NoNetworkPermission:
		return "No permission to access the network."
	case RegistrationUnsupported:
		return "The server does not support registration via this client."
	default:
		return "Could not connect to the server."
	}
}
