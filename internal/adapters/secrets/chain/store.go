// Package chain tries an ordered list of secret backends.
package chain

import (
	"context"
	"errors"
	"fmt"

	filestore "github.com/bnema/kaidan/internal/adapters/secrets/file"
	passstore "github.com/bnema/kaidan/internal/adapters/secrets/pass"
	"github.com/bnema/kaidan/internal/domain"
	kaidanlog "github.com/bnema/kaidan/internal/log"
	"github.com/bnema/kaidan/internal/ports"
	"github.com/rs/zerolog"
)

var errNoBackends = errors.New("secret chain has no backends")

type Backend struct {
	Name  string
	Store ports.SecretStore
}

type Store struct {
	backends []Backend
	logger   zerolog.Logger
}

var _ ports.SecretStore = (*Store)(nil)

func NewStore(backends ...Backend) (*Store, error) {
	kept := make([]Backend, 0, len(backends))
	for _, b := range backends {
		if b.Store == nil {
			return nil, fmt.Errorf("secret backend %q is nil", b.Name)
		}
		kept = append(kept, b)
	}
	if len(kept) == 0 {
		return nil, errNoBackends
	}

	return &Store{backends: kept, logger: kaidanlog.WithComponent("secrets")}, nil
}

// NewAuto prefers pass when it is installed and always keeps the file vault
// as the last resort.
func NewAuto(vaultDir string, passOpts ...passstore.Option) (*Store, error) {
	var backends []Backend
	if passstore.Available() {
		backends = append(backends, Backend{Name: "pass", Store: passstore.NewStore(passOpts...)})
	}
	backends = append(backends, Backend{Name: "file", Store: filestore.NewVault(vaultDir)})

	return NewStore(backends...)
}

// Names lists the backends in lookup order.
func (s *Store) Names() []string {
	names := make([]string, len(s.backends))
	for i, b := range s.backends {
		names[i] = b.Name
	}
	return names
}

// Put writes to the first backend that accepts the secret.
func (s *Store) Put(ctx context.Context, key string, value string) error {
	var errs []error
	for _, b := range s.backends {
		err := b.Store.Put(ctx, key, value)
		if err == nil {
			s.logger.Debug().Str("backend", b.Name).Msg("secret stored")
			return nil
		}
		if isContextErr(err) {
			return err
		}
		s.logger.Debug().Err(err).Str("backend", b.Name).Msg("secret backend rejected put")
		errs = append(errs, fmt.Errorf("%s: %w", b.Name, err))
	}

	return fmt.Errorf("store secret %q: %w", key, errors.Join(errs...))
}

// Get reports domain.ErrSecretNotFound only when no backend knows key.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	var errs []error
	missing := 0
	for _, b := range s.backends {
		value, err := b.Store.Get(ctx, key)
		if err == nil {
			return value, nil
		}
		if isContextErr(err) {
			return "", err
		}
		if errors.Is(err, domain.ErrSecretNotFound) {
			missing++
			continue
		}
		errs = append(errs, fmt.Errorf("%s: %w", b.Name, err))
	}

	if missing == len(s.backends) {
		return "", fmt.Errorf("secret %q: %w", key, domain.ErrSecretNotFound)
	}
	return "", fmt.Errorf("read secret %q: %w", key, errors.Join(errs...))
}

// Delete clears key from every backend since earlier writes may have landed
// in any of them. It fails only when no backend could be cleared.
func (s *Store) Delete(ctx context.Context, key string) error {
	var errs []error
	for _, b := range s.backends {
		err := b.Store.Delete(ctx, key)
		if err == nil {
			continue
		}
		if isContextErr(err) {
			return err
		}
		s.logger.Debug().Err(err).Str("backend", b.Name).Msg("secret backend rejected delete")
		errs = append(errs, fmt.Errorf("%s: %w", b.Name, err))
	}

	if len(errs) == len(s.backends) {
		return fmt.Errorf("delete secret %q: %w", key, errors.Join(errs...))
	}
	return nil
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
