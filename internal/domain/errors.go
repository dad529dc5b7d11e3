package domain

import "errors"

var (
	ErrCredentialsMissing  = errors.New("credentials missing")
	ErrSecretNotFound      = errors.New("secret not found")
	ErrSettingsNotFound    = errors.New("settings not found")
	ErrNotConnected        = errors.New("not connected")
	ErrInvalidJID          = errors.New("invalid jid")
	ErrTransportClosed     = errors.New("transport closed")
	ErrRegistrationBlocked = errors.New("registration not supported by transport")
)
