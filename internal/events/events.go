package events

import (
	"time"

	"github.com/bnema/kaidan/internal/domain"
)

type Kind string

const (
	ConnectionStateChanged     Kind = "connection_state_changed"
	ConnectionErrorChanged     Kind = "connection_error_changed"
	LoggedInWithNewCredentials Kind = "logged_in_with_new_credentials"
	NewCredentialsNeeded       Kind = "new_credentials_needed"
	CredentialChanged          Kind = "credential_changed"
	AccountDataPurgeRequested  Kind = "account_data_purge_requested"
	AccountDeletionFailed      Kind = "account_deletion_failed"
	PasswordChanged            Kind = "password_changed"
	PasswordChangeFailed       Kind = "password_change_failed"
	RosterReceived             Kind = "roster_received"
	RosterSyncFailed           Kind = "roster_sync_failed"
	ContactUpdated             Kind = "contact_updated"
	ContactRemoved             Kind = "contact_removed"
	ContactChangeFailed        Kind = "contact_change_failed"
	PresenceChanged            Kind = "presence_changed"
	ApplicationCloseReady      Kind = "application_close_ready"
)

// Credential field names carried by CredentialChanged.
const (
	FieldJID      = "jid"
	FieldPassword = "password"
	FieldHost     = "host"
	FieldPort     = "port"
)

type Event struct {
	Kind     Kind
	At       time.Time
	State    domain.ConnectionState
	Error    domain.ConnectionError
	Field    string
	Reason   string
	Contacts []domain.Contact
	Contact  domain.Contact
	Presence domain.Presence
}

func StateChanged(state domain.ConnectionState) Event {
	return Event{Kind: ConnectionStateChanged, State: state}
}

func ErrorChanged(err domain.ConnectionError) Event {
	return Event{Kind: ConnectionErrorChanged, Error: err}
}

func FieldChanged(field string) Event {
	return Event{Kind: CredentialChanged, Field: field}
}
