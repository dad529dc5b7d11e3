package ports

import (
	"context"

	"github.com/bnema/kaidan/internal/domain"
)

type RosterRepository interface {
	Replace(ctx context.Context, contacts []domain.Contact) error
	// Upsert adds contact or renames it when the JID is already cached.
	Upsert(ctx context.Context, contact domain.Contact) error
	Remove(ctx context.Context, jid string) error
	List(ctx context.Context) ([]domain.Contact, error)
	Clear(ctx context.Context) error
}
