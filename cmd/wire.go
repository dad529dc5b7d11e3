package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	statusadapter "github.com/bnema/kaidan/internal/adapters/render/status"
	tomlrepo "github.com/bnema/kaidan/internal/adapters/repo/toml"
	rostersqlite "github.com/bnema/kaidan/internal/adapters/roster/sqlite"
	chainstore "github.com/bnema/kaidan/internal/adapters/secrets/chain"
	filestore "github.com/bnema/kaidan/internal/adapters/secrets/file"
	passstore "github.com/bnema/kaidan/internal/adapters/secrets/pass"
	xmppadapter "github.com/bnema/kaidan/internal/adapters/xmpp"
	"github.com/bnema/kaidan/internal/application"
	"github.com/bnema/kaidan/internal/domain"
	"github.com/bnema/kaidan/internal/events"
	kaidanlog "github.com/bnema/kaidan/internal/log"
	"github.com/bnema/kaidan/internal/ports"
	"github.com/spf13/viper"
)

// Config keys read from config.toml or KAIDAN_* environment variables.
const (
	keySecretsBackend    = "secrets.backend"
	keySecretsRoot       = "secrets.root"
	keySecretsPassDir    = "secrets.pass_dir"
	keyRosterPath        = "roster.path"
	keyServeAddr         = "serve.addr"
	keyKeepAliveInterval = "xmpp.keepalive_interval"
	keyKeepAliveTimeout  = "xmpp.keepalive_timeout"
	keyInsecureTLS       = "xmpp.insecure_skip_verify"
	keyTimeout           = "timeout"
)

var errUnknownSecretsBackend = errors.New("unknown secrets backend")

type app struct {
	config         *viper.Viper
	bus            *events.Bus
	credentials    *application.CredentialStore
	worker         *application.ClientWorker
	service        *application.Service
	roster         *rostersqlite.Store
	statusRenderer func(application.Status, statusadapter.RenderOptions) (string, error)
	serveAddr      string
	timeout        time.Duration
	closers        []func() error
}

// transportFactory builds the session transport. Tests replace it.
type transportFactory func() ports.Transport

func defaultTransport() ports.Transport {
	return xmppadapter.NewTransport()
}

func wireApp(newTransport transportFactory) (*app, error) {
	cfg := viper.New()
	cfg.SetEnvPrefix("KAIDAN")
	cfg.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	cfg.AutomaticEnv()

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}
	configDir := filepath.Join(homeDir, ".config", "kaidan")

	cfg.SetDefault(keySecretsBackend, "auto")
	cfg.SetDefault(keySecretsRoot, filepath.Join(configDir, "secrets"))
	cfg.SetDefault(keyRosterPath, filepath.Join(configDir, "roster.db"))
	cfg.SetDefault(keyServeAddr, "127.0.0.1:5281")
	cfg.SetDefault(keyKeepAliveInterval, application.DefaultKeepAliveInterval)
	cfg.SetDefault(keyKeepAliveTimeout, application.DefaultKeepAliveTimeout)
	cfg.SetDefault(keyTimeout, 30*time.Second)

	// NewRepository loads config.toml into cfg.
	settings, err := tomlrepo.NewRepository(cfg)
	if err != nil {
		return nil, fmt.Errorf("wire settings repository: %w", err)
	}

	secrets, err := newSecretStore(cfg.GetString(keySecretsBackend), cfg.GetString(keySecretsRoot), cfg.GetString(keySecretsPassDir))
	if err != nil {
		return nil, fmt.Errorf("wire secret store: %w", err)
	}

	roster, err := rostersqlite.Open(cfg.GetString(keyRosterPath))
	if err != nil {
		return nil, fmt.Errorf("wire roster cache: %w", err)
	}

	bus := events.NewBus(ports.SystemClock{})
	transport := newTransport()
	credentials := application.NewCredentialStore(settings, secrets, bus, kaidanlog.WithComponent("credentials"))
	worker := application.NewClientWorker(transport, credentials, bus,
		application.WithConnectionDefaults(domain.ConnectionConfig{
			KeepAliveInterval: cfg.GetDuration(keyKeepAliveInterval),
			KeepAliveTimeout:  cfg.GetDuration(keyKeepAliveTimeout),
			InsecureSkipTLS:   cfg.GetBool(keyInsecureTLS),
		}),
	)

	a := &app{
		config:         cfg,
		bus:            bus,
		credentials:    credentials,
		worker:         worker,
		service:        application.NewService(worker, credentials, transport, roster, bus),
		roster:         roster,
		statusRenderer: statusadapter.Render,
		serveAddr:      cfg.GetString(keyServeAddr),
		timeout:        cfg.GetDuration(keyTimeout),
		closers:        []func() error{roster.Close},
	}
	if closer, ok := transport.(interface{ Close() error }); ok {
		a.closers = append(a.closers, closer.Close)
	}

	return a, nil
}

func (a *app) Close() error {
	var errs []error
	for _, closeFn := range a.closers {
		errs = append(errs, closeFn())
	}
	return errors.Join(errs...)
}

func newSecretStore(backend string, vaultDir string, passDir string) (ports.SecretStore, error) {
	passOpts := []passstore.Option{passstore.WithStoreDir(passDir)}
	switch backend {
	case "auto", "":
		store, err := chainstore.NewAuto(vaultDir, passOpts...)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "pass":
		return passstore.NewStore(passOpts...), nil
	case "file":
		return filestore.NewVault(vaultDir), nil
	default:
		return nil, fmt.Errorf("%w %q", errUnknownSecretsBackend, backend)
	}
}
