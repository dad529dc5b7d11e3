// Package pass keeps account secrets in the standard unix password manager.
package pass

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/bnema/kaidan/internal/domain"
	"github.com/bnema/kaidan/internal/ports"
)

// ErrUnavailable reports a missing pass binary or an uninitialized store.
var ErrUnavailable = errors.New("pass unavailable")

const (
	storeDirEnv = "PASSWORD_STORE_DIR"

	missingEntryMarker = "is not in the password store"
	uninitMarker       = "pass init"
)

type invocation struct {
	args  []string
	stdin string
	env   []string
}

type output struct {
	stdout string
	stderr string
}

type runner func(ctx context.Context, inv invocation) (output, error)

type Option func(*Store)

// WithStoreDir points pass at a password store other than ~/.password-store.
func WithStoreDir(dir string) Option {
	return func(s *Store) {
		if strings.TrimSpace(dir) != "" {
			s.env = append(s.env, storeDirEnv+"="+dir)
		}
	}
}

type Store struct {
	run runner
	env []string
}

var _ ports.SecretStore = (*Store)(nil)

func NewStore(opts ...Option) *Store {
	s := &Store{run: execPass}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Available reports whether the pass binary can be found.
func Available() bool {
	_, err := exec.LookPath("pass")
	return err == nil
}

func (s *Store) Put(ctx context.Context, key string, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	_, err := s.invoke(ctx, "insert", key, value+"\n", "insert", "--multiline", "--force", key)
	return err
}

// Get returns the first line of the entry, matching what pass -c copies.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	out, err := s.invoke(ctx, "show", key, "", "show", key)
	if err != nil {
		return "", err
	}

	secret, _, _ := strings.Cut(out.stdout, "\n")
	return strings.TrimSuffix(secret, "\r"), nil
}

// Delete treats a missing entry as already deleted.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	_, err := s.invoke(ctx, "rm", key, "", "rm", "--force", key)
	if errors.Is(err, domain.ErrSecretNotFound) {
		return nil
	}
	return err
}

func (s *Store) invoke(ctx context.Context, op string, key string, stdin string, args ...string) (output, error) {
	out, err := s.run(ctx, invocation{args: args, stdin: stdin, env: s.env})
	if err == nil {
		return out, nil
	}
	if errors.Is(err, ErrUnavailable) {
		return out, err
	}

	switch {
	case strings.Contains(out.stderr, missingEntryMarker):
		return out, fmt.Errorf("pass %s %q: %w", op, key, domain.ErrSecretNotFound)
	case strings.Contains(out.stderr, uninitMarker):
		return out, fmt.Errorf("pass %s %q: %w: %s", op, key, ErrUnavailable, out.stderr)
	case out.stderr == "":
		return out, fmt.Errorf("pass %s %q: %w", op, key, err)
	default:
		return out, fmt.Errorf("pass %s %q: %w: %s", op, key, err, out.stderr)
	}
}

func execPass(ctx context.Context, inv invocation) (output, error) {
	path, err := exec.LookPath("pass")
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return output{}, ErrUnavailable
		}
		return output{}, fmt.Errorf("locate pass: %w", err)
	}

	cmd := exec.CommandContext(ctx, path, inv.args...)
	if inv.stdin != "" {
		cmd.Stdin = strings.NewReader(inv.stdin)
	}
	if len(inv.env) > 0 {
		cmd.Env = append(os.Environ(), inv.env...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()
	return output{stdout: stdout.String(), stderr: strings.TrimSpace(stderr.String())}, err
}
