package ports

import (
	"context"

	"github.com/bnema/kaidan/internal/domain"
)

// AccountSettings is the non-secret account state persisted between runs.
type AccountSettings struct {
	JID                string
	ResourcePrefix     string
	Host               string
	Port               int
	PasswordRef        string
	Online             bool
	PasswordVisibility string
	MutedJIDs          []string
}

// Credentials returns the persisted credential fields without the password.
func (s AccountSettings) Credentials() domain.Credentials {
	return domain.Credentials{
		JID:            s.JID,
		Host:           s.Host,
		Port:           s.Port,
		ResourcePrefix: s.ResourcePrefix,
	}
}

type SettingsRepository interface {
	Load(ctx context.Context) (AccountSettings, error)
	Save(ctx context.Context, settings AccountSettings) error
}
