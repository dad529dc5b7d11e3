package ports

import (
	"context"

	"github.com/bnema/kaidan/internal/domain"
)

// Transport is the black-box network session. Connect and Disconnect only
// start the work; progress and outcomes arrive on Events in the order the
// session observed them.
type Transport interface {
	Connect(ctx context.Context, cfg domain.ConnectionConfig) error
	Disconnect(ctx context.Context) error
	ChangePassword(ctx context.Context, newPassword string) error
	DeleteAccount(ctx context.Context) error
	RequestRoster(ctx context.Context) error
	// AddContact creates the roster item and asks the contact for a presence
	// subscription, with message as the request text.
	AddContact(ctx context.Context, contact domain.Contact, message string) error
	RenameContact(ctx context.Context, contact domain.Contact) error
	RemoveContact(ctx context.Context, jid string) error
	Events() <-chan TransportEvent
}

type TransportEventKind int

const (
	TransportStateChanged TransportEventKind = iota
	TransportFailed
	TransportPasswordChanged
	TransportPasswordChangeFailed
	TransportAccountDeleted
	TransportAccountDeletionFailed
	TransportRosterReceived
	TransportRosterFailed
	TransportContactUpdated
	TransportContactRemoved
	TransportContactChangeFailed
	TransportPresenceReceived
)

// TransportEvent carries Contact for the contact events, with only the JID
// set on removals, and Presence for TransportPresenceReceived.
type TransportEvent struct {
	Kind     TransportEventKind
	State    domain.ConnectionState
	Error    TransportError
	Err      error
	Contacts []domain.Contact
	Contact  domain.Contact
	Presence domain.Presence
}

// TransportErrorKind follows the three failure sources of an XMPP session.
type TransportErrorKind int

const (
	TransportErrorNone TransportErrorKind = iota
	TransportErrorSocket
	TransportErrorKeepAlive
	TransportErrorStream
)

type SocketError int

const (
	SocketUnknown SocketError = iota
	SocketConnectionRefused
	SocketRemoteHostClosed
	SocketHostNotFound
	SocketAccess
	SocketTimeout
	SocketTLSHandshakeFailed
	SocketTLSInternal
	SocketTLSUnavailable
)

type StreamCondition int

const (
	StreamUndefined StreamCondition = iota
	StreamNotAuthorized
	StreamFeatureNotImplemented
	StreamNoSupportedMechanism
)

type TransportError struct {
	Kind   TransportErrorKind
	Socket SocketError
	Stream StreamCondition
	Err    error
}

func (e TransportError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}

	return "transport error"
}

func (e TransportError) Unwrap() error {
	return e.Err
}
