package application

import (
	"fmt"
	"strings"

	"github.com/bnema/kaidan/internal/domain"
)

// LoginCommand sets the credentials used by the next login. Zero Host and
// Port keep the current values.
type LoginCommand struct {
	JID      string
	Password string
	Host     string
	Port     int
}

func (c LoginCommand) Validate() error {
	if !domain.ValidBareJID(strings.TrimSpace(c.JID)) {
		return fmt.Errorf("%w: %q", domain.ErrInvalidJID, c.JID)
	}
	if c.Password == "" {
		return fmt.Errorf("password: %w", domain.ErrCredentialsMissing)
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}

	return nil
}

// AccountCommand edits the stored server settings. Reset flags clear the
// custom value.
type AccountCommand struct {
	Host      string
	Port      int
	ResetHost bool
	ResetPort bool
}

// ContactCommand names a roster contact. Message is only sent along with a
// new subscription request.
type ContactCommand struct {
	JID     string
	Name    string
	Message string
}

// Contact validates the JID and strips a resource from it.
func (c ContactCommand) Contact() (domain.Contact, error) {
	jid := domain.BareJID(strings.TrimSpace(c.JID))
	if !domain.ValidBareJID(jid) {
		return domain.Contact{}, fmt.Errorf("%w: %q", domain.ErrInvalidJID, c.JID)
	}

	return domain.Contact{JID: jid, Name: strings.TrimSpace(c.Name)}, nil
}
