package toml

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/bnema/kaidan/internal/domain"
	"github.com/bnema/kaidan/internal/ports"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepository(t *testing.T, settingsPath string) *Repository {
	t.Helper()

	config := viper.New()
	config.Set(SettingsPathKey, settingsPath)

	repo, err := NewRepository(config)
	require.NoError(t, err)
	return repo
}

func TestRepositoryRoundTrip(t *testing.T) {
	t.Parallel()

	repo := newTestRepository(t, filepath.Join(t.TempDir(), "settings.toml"))

	settings := ports.AccountSettings{
		JID:                "alice@example.org",
		ResourcePrefix:     "laptop",
		Host:               "xmpp.example.org",
		Port:               5223,
		PasswordRef:        "kaidan/accounts/alice@example.org/password",
		PasswordVisibility: "invisible",
		Online:             true,
		MutedJIDs:          []string{"spam@example.org"},
	}

	require.NoError(t, repo.Save(context.Background(), settings))

	got, err := repo.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, settings, got)
}

func TestRepositoryMissingFileReturnsNotFound(t *testing.T) {
	t.Parallel()

	repo := newTestRepository(t, filepath.Join(t.TempDir(), "missing", "settings.toml"))

	_, err := repo.Load(context.Background())
	require.ErrorIs(t, err, domain.ErrSettingsNotFound)
}

func TestRepositorySaveCreatesDefaultPathAndEnforcesPermissions(t *testing.T) {
	homeDir := t.TempDir()
	t.Setenv("HOME", homeDir)

	repo, err := NewRepository(viper.New())
	require.NoError(t, err)

	require.NoError(t, repo.Save(context.Background(), ports.AccountSettings{JID: "alice@example.org"}))

	settingsPath := filepath.Join(homeDir, ".config", "kaidan", "settings.toml")
	assert.Equal(t, settingsPath, repo.Path())
	info, err := os.Stat(settingsPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestRepositoryReadsPathFromConfigFile(t *testing.T) {
	homeDir := t.TempDir()
	t.Setenv("HOME", homeDir)

	configDir := filepath.Join(homeDir, ".config", "kaidan")
	require.NoError(t, os.MkdirAll(configDir, 0o700))
	custom := filepath.Join(homeDir, "custom.toml")
	require.NoError(t, os.WriteFile(filepath.Join(configDir, "config.toml"), []byte("[settings]\npath = \""+custom+"\"\n"), 0o600))

	repo, err := NewRepository(viper.New())
	require.NoError(t, err)
	assert.Equal(t, custom, repo.Path())
}

func TestRepositoryLoadMalformedTOMLReturnsError(t *testing.T) {
	t.Parallel()

	settingsPath := filepath.Join(t.TempDir(), "settings.toml")
	require.NoError(t, os.WriteFile(settingsPath, []byte("account = ["), 0o600))

	repo := newTestRepository(t, settingsPath)

	_, err := repo.Load(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "decode settings file")
}

func TestRepositorySaveCanceledContextReturnsContextError(t *testing.T) {
	t.Parallel()

	repo := newTestRepository(t, filepath.Join(t.TempDir(), "settings.toml"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := repo.Save(ctx, ports.AccountSettings{JID: "alice@example.org"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestRepositoryConcurrentSavesAcrossInstancesKeepFileValid(t *testing.T) {
	t.Parallel()

	settingsPath := filepath.Join(t.TempDir(), "settings.toml")
	repoA := newTestRepository(t, settingsPath)
	repoB := newTestRepository(t, settingsPath)

	const perRepoWrites = 50
	start := make(chan struct{})
	errCh := make(chan error, perRepoWrites*2)
	var wg sync.WaitGroup
	wg.Add(2)

	for _, repo := range []*Repository{repoA, repoB} {
		go func() {
			defer wg.Done()
			<-start
			for i := 0; i < perRepoWrites; i++ {
				errCh <- repo.Save(context.Background(), ports.AccountSettings{JID: "alice@example.org", Online: i%2 == 0})
			}
		}()
	}

	close(start)
	wg.Wait()
	close(errCh)

	for err := range errCh {
		require.NoError(t, err)
	}

	got, err := repoA.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "alice@example.org", got.JID)
}

func TestRepositorySaveSerializedTOMLIncludesVersion(t *testing.T) {
	t.Parallel()

	settingsPath := filepath.Join(t.TempDir(), "settings.toml")
	repo := newTestRepository(t, settingsPath)

	require.NoError(t, repo.Save(context.Background(), ports.AccountSettings{JID: "alice@example.org"}))

	data, err := os.ReadFile(settingsPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "version = 1")
	assert.Contains(t, string(data), "alice@example.org")
}

func TestRepositoryFutureSchemaVersionReturnsError(t *testing.T) {
	t.Parallel()

	settingsPath := filepath.Join(t.TempDir(), "settings.toml")
	require.NoError(t, os.WriteFile(settingsPath, []byte(strings.Join([]string{
		"version = 999",
		"",
		"[account]",
		"jid = \"alice@example.org\"",
		"",
	}, "\n")), 0o600))

	repo := newTestRepository(t, settingsPath)

	_, err := repo.Load(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "unsupported settings schema version")
}
