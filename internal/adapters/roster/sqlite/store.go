// Package sqlite caches the account roster in a local SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bnema/kaidan/internal/domain"
	"github.com/bnema/kaidan/internal/ports"
	_ "modernc.org/sqlite"
)

const upsertContact = `
	INSERT INTO roster (jid, name, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(jid) DO UPDATE SET name = excluded.name, updated_at = excluded.updated_at`

// Store implements ports.RosterRepository.
type Store struct {
	db *sql.DB
}

var _ ports.RosterRepository = (*Store)(nil)

func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create roster directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open roster database: %w", err)
	}
	// A single writer avoids SQLITE_BUSY between Replace and Clear.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping roster database: %w", err)
	}

	store := &Store{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize roster schema: %w", err)
	}

	return store, nil
}

func (s *Store) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS roster (
		jid TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		updated_at INTEGER NOT NULL
	);`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Replace swaps the whole cached roster for contacts in one transaction.
func (s *Store) Replace(ctx context.Context, contacts []domain.Contact) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin roster replace: %w", err)
	}
	defer func() {
		if err != nil {
			err = errors.Join(err, tx.Rollback())
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM roster`); err != nil {
		return fmt.Errorf("clear roster: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, upsertContact)
	if err != nil {
		return fmt.Errorf("prepare roster insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().Unix()
	for _, contact := range contacts {
		jid := domain.BareJID(contact.JID)
		if jid == "" {
			continue
		}
		if _, err = stmt.ExecContext(ctx, jid, contact.Name, now); err != nil {
			return fmt.Errorf("insert contact %s: %w", jid, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit roster replace: %w", err)
	}
	return nil
}

func (s *Store) Upsert(ctx context.Context, contact domain.Contact) error {
	jid := domain.BareJID(contact.JID)
	if jid == "" {
		return fmt.Errorf("upsert contact: %w", domain.ErrInvalidJID)
	}

	if _, err := s.db.ExecContext(ctx, upsertContact, jid, contact.Name, time.Now().Unix()); err != nil {
		return fmt.Errorf("upsert contact %s: %w", jid, err)
	}
	return nil
}

// Remove deletes the cached contact. Removing an unknown JID is not an
// error.
func (s *Store) Remove(ctx context.Context, jid string) error {
	jid = domain.BareJID(jid)
	if _, err := s.db.ExecContext(ctx, `DELETE FROM roster WHERE jid = ?`, jid); err != nil {
		return fmt.Errorf("remove contact %s: %w", jid, err)
	}
	return nil
}

func (s *Store) List(ctx context.Context) ([]domain.Contact, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT jid, name FROM roster ORDER BY jid`)
	if err != nil {
		return nil, fmt.Errorf("query roster: %w", err)
	}
	defer rows.Close()

	var contacts []domain.Contact
	for rows.Next() {
		var contact domain.Contact
		if err := rows.Scan(&contact.JID, &contact.Name); err != nil {
			return nil, fmt.Errorf("scan contact row: %w", err)
		}
		contacts = append(contacts, contact)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate roster: %w", err)
	}

	return contacts, nil
}

func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM roster`); err != nil {
		return fmt.Errorf("clear roster: %w", err)
	}
	return nil
}
