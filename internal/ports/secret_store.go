package ports

import "context"

// SecretStore keeps account passwords out of the settings file. Keys look
// like kaidan/accounts/<bare-jid>/password.
type SecretStore interface {
	// Get returns domain.ErrSecretNotFound when key was never stored.
	Get(ctx context.Context, key string) (string, error)
	Put(ctx context.Context, key string, value string) error
	// Delete succeeds when key is already absent.
	Delete(ctx context.Context, key string) error
}
