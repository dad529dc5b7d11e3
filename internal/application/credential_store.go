package application

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/bnema/kaidan/internal/domain"
	"github.com/bnema/kaidan/internal/events"
	kaidanlog "github.com/bnema/kaidan/internal/log"
	"github.com/bnema/kaidan/internal/ports"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const resourceSuffixLength = 4

// CredentialStore holds the account credentials shared by the control side
// and the client worker. Fields are guarded by one mutex that is never held
// while events are published.
type CredentialStore struct {
	settings ports.SettingsRepository
	secrets  ports.SecretStore
	events   events.Publisher
	logger   zerolog.Logger

	mu                sync.Mutex
	jid               string
	password          string
	host              string
	port              int
	resourcePrefix    string
	resource          string
	hasNewCredentials bool
}

func NewCredentialStore(settings ports.SettingsRepository, secrets ports.SecretStore, publisher events.Publisher, logger zerolog.Logger) *CredentialStore {
	return &CredentialStore{
		settings: settings,
		secrets:  secrets,
		events:   publisher,
		logger:   logger,
		port:     domain.PortUnset,
	}
}

func (s *CredentialStore) JID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jid
}

func (s *CredentialStore) SetJID(jid string) {
	s.mu.Lock()
	s.jid = jid
	s.hasNewCredentials = true
	s.mu.Unlock()

	s.events.Publish(events.FieldChanged(events.FieldJID))
}

func (s *CredentialStore) Password() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.password
}

func (s *CredentialStore) SetPassword(password string) {
	s.mu.Lock()
	s.password = password
	s.hasNewCredentials = true
	s.mu.Unlock()

	s.events.Publish(events.FieldChanged(events.FieldPassword))
}

func (s *CredentialStore) Host() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.host
}

func (s *CredentialStore) SetHost(host string) {
	s.mu.Lock()
	s.host = host
	s.hasNewCredentials = true
	s.mu.Unlock()

	s.events.Publish(events.FieldChanged(events.FieldHost))
}

func (s *CredentialStore) ResetHost() {
	s.SetHost("")
}

// Port returns the custom port or the XMPP client default when none is set.
func (s *CredentialStore) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port < 0 {
		return domain.PortDefault
	}
	return s.port
}

func (s *CredentialStore) SetPort(port int) {
	s.mu.Lock()
	s.port = port
	s.hasNewCredentials = true
	s.mu.Unlock()

	s.events.Publish(events.FieldChanged(events.FieldPort))
}

func (s *CredentialStore) ResetPort() {
	s.SetPort(domain.PortUnset)
}

func (s *CredentialStore) SetResourcePrefix(prefix string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resourcePrefix = prefix
	s.resource = generateResource(prefix)
}

// JIDResource returns the resource for the next session. Without a prefix a
// fresh resource is generated on every call.
func (s *CredentialStore) JIDResource() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resourcePrefix == "" {
		return generateResource(domain.DefaultResourcePrefix)
	}
	return s.resource
}

func (s *CredentialStore) HasNewCredentials() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasNewCredentials
}

func (s *CredentialStore) SetHasNewCredentials(hasNew bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hasNewCredentials = hasNew
}

func (s *CredentialStore) HasEnoughCredentialsForLogin() bool {
	return s.Credentials().HasEnoughForLogin()
}

// Credentials returns a consistent snapshot of all credential fields.
func (s *CredentialStore) Credentials() domain.Credentials {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.Credentials{
		JID:            s.jid,
		Password:       s.password,
		Host:           s.host,
		Port:           s.port,
		ResourcePrefix: s.resourcePrefix,
	}
}

// LoadCredentials fills missing credentials from persistent storage. It
// reports false and publishes NewCredentialsNeeded when login is impossible.
func (s *CredentialStore) LoadCredentials(ctx context.Context) bool {
	if s.HasEnoughCredentialsForLogin() {
		return true
	}

	settings, err := s.loadSettings(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("load account settings")
	}

	password := ""
	if settings.JID != "" {
		password, err = s.loadPassword(ctx, settings)
		if err != nil && !errors.Is(err, domain.ErrSecretNotFound) {
			s.logger.Warn().Err(err).Str(kaidanlog.FieldJID, settings.JID).Msg("load account password")
		}
	}

	s.SetJID(settings.JID)
	s.SetPassword(password)

	prefix := settings.ResourcePrefix
	if prefix == "" {
		prefix = domain.DefaultResourcePrefix
	}
	s.SetResourcePrefix(prefix)

	s.SetHost(settings.Host)
	port := settings.Port
	if port <= 0 {
		port = domain.PortUnset
	}
	s.SetPort(port)

	// Loaded credentials have worked before.
	s.SetHasNewCredentials(false)

	if !s.HasEnoughCredentialsForLogin() {
		s.events.Publish(events.Event{Kind: events.NewCredentialsNeeded})
		return false
	}

	return true
}

// StoreCredentials persists the current credentials. The password goes to
// the secret store, everything else to the settings file.
func (s *CredentialStore) StoreCredentials(ctx context.Context) error {
	creds := s.Credentials()
	if creds.JID == "" {
		return fmt.Errorf("store credentials: %w", domain.ErrCredentialsMissing)
	}

	settings, err := s.loadSettings(ctx)
	if err != nil {
		return fmt.Errorf("load account settings: %w", err)
	}

	key := passwordKey(creds.JID)
	if err := s.secrets.Put(ctx, key, encodePassword(creds.Password)); err != nil {
		return fmt.Errorf("store account password: %w", err)
	}

	if settings.PasswordRef != "" && settings.PasswordRef != key {
		if err := s.secrets.Delete(ctx, settings.PasswordRef); err != nil {
			s.logger.Warn().Err(err).Msg("delete previous account password")
		}
	}

	settings.JID = creds.JID
	settings.PasswordRef = key
	settings.ResourcePrefix = creds.ResourcePrefix
	settings.Host = creds.Host
	settings.Port = 0
	if creds.Port > 0 {
		settings.Port = creds.Port
	}

	if err := s.settings.Save(ctx, settings); err != nil {
		return fmt.Errorf("save account settings: %w", err)
	}

	return nil
}

// DeleteCredentials removes the persisted credentials, clears the in-memory
// copy and asks for new credentials.
func (s *CredentialStore) DeleteCredentials(ctx context.Context) error {
	settings, err := s.loadSettings(ctx)
	if err != nil {
		return fmt.Errorf("load account settings: %w", err)
	}

	var errs []error
	for _, ref := range uniqueRefs(settings.PasswordRef, passwordKeyOrEmpty(settings.JID), passwordKeyOrEmpty(s.JID())) {
		if err := s.secrets.Delete(ctx, ref); err != nil {
			errs = append(errs, fmt.Errorf("delete account password: %w", err))
		}
	}

	settings.JID = ""
	settings.ResourcePrefix = ""
	settings.PasswordRef = ""
	settings.Host = ""
	settings.Port = 0
	settings.PasswordVisibility = ""
	if err := s.settings.Save(ctx, settings); err != nil {
		errs = append(errs, fmt.Errorf("save account settings: %w", err))
	}

	s.SetJID("")
	s.mu.Lock()
	s.resourcePrefix = ""
	s.resource = ""
	s.mu.Unlock()
	s.SetPassword("")
	s.ResetHost()
	s.ResetPort()

	s.events.Publish(events.Event{Kind: events.NewCredentialsNeeded})

	return errors.Join(errs...)
}

// DeleteSettings removes the account-specific preferences.
func (s *CredentialStore) DeleteSettings(ctx context.Context) error {
	settings, err := s.loadSettings(ctx)
	if err != nil {
		return fmt.Errorf("load account settings: %w", err)
	}

	settings.Online = false
	settings.MutedJIDs = nil

	if err := s.settings.Save(ctx, settings); err != nil {
		return fmt.Errorf("save account settings: %w", err)
	}

	return nil
}

// SetOnline records whether the user wants to be logged in, restored on the
// next start.
func (s *CredentialStore) SetOnline(ctx context.Context, online bool) error {
	settings, err := s.loadSettings(ctx)
	if err != nil {
		return fmt.Errorf("load account settings: %w", err)
	}
	if settings.Online == online {
		return nil
	}

	settings.Online = online
	if err := s.settings.Save(ctx, settings); err != nil {
		return fmt.Errorf("save account settings: %w", err)
	}

	return nil
}

func (s *CredentialStore) Online(ctx context.Context) (bool, error) {
	settings, err := s.loadSettings(ctx)
	if err != nil {
		return false, fmt.Errorf("load account settings: %w", err)
	}

	return settings.Online, nil
}

// SetNotificationsMuted adds jid to the contacts whose notifications are
// muted, or takes it out again.
func (s *CredentialStore) SetNotificationsMuted(ctx context.Context, jid string, muted bool) error {
	jid = domain.BareJID(strings.TrimSpace(jid))
	if !domain.ValidBareJID(jid) {
		return fmt.Errorf("mute %q: %w", jid, domain.ErrInvalidJID)
	}

	settings, err := s.loadSettings(ctx)
	if err != nil {
		return fmt.Errorf("load account settings: %w", err)
	}

	idx := slices.Index(settings.MutedJIDs, jid)
	switch {
	case muted && idx < 0:
		settings.MutedJIDs = append(settings.MutedJIDs, jid)
		slices.Sort(settings.MutedJIDs)
	case !muted && idx >= 0:
		settings.MutedJIDs = slices.Delete(settings.MutedJIDs, idx, idx+1)
	default:
		return nil
	}

	if err := s.settings.Save(ctx, settings); err != nil {
		return fmt.Errorf("save account settings: %w", err)
	}

	return nil
}

func (s *CredentialStore) MutedJIDs(ctx context.Context) ([]string, error) {
	settings, err := s.loadSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("load account settings: %w", err)
	}

	return settings.MutedJIDs, nil
}

func (s *CredentialStore) SetPasswordVisibility(ctx context.Context, visibility domain.PasswordVisibility) error {
	settings, err := s.loadSettings(ctx)
	if err != nil {
		return fmt.Errorf("load account settings: %w", err)
	}

	settings.PasswordVisibility = visibility.String()
	if err := s.settings.Save(ctx, settings); err != nil {
		return fmt.Errorf("save account settings: %w", err)
	}

	return nil
}

// PasswordVisibility falls back to domain.PasswordVisible when nothing or an
// unknown value is stored.
func (s *CredentialStore) PasswordVisibility(ctx context.Context) (domain.PasswordVisibility, error) {
	settings, err := s.loadSettings(ctx)
	if err != nil {
		return domain.PasswordVisible, fmt.Errorf("load account settings: %w", err)
	}

	visibility, err := domain.ParsePasswordVisibility(settings.PasswordVisibility)
	if err != nil {
		s.logger.Warn().Err(err).Msg("ignoring stored password visibility")
	}
	return visibility, nil
}

func (s *CredentialStore) loadSettings(ctx context.Context) (ports.AccountSettings, error) {
	settings, err := s.settings.Load(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrSettingsNotFound) {
			return ports.AccountSettings{}, nil
		}
		return ports.AccountSettings{}, err
	}

	return settings, nil
}

func (s *CredentialStore) loadPassword(ctx context.Context, settings ports.AccountSettings) (string, error) {
	key := settings.PasswordRef
	if key == "" {
		key = passwordKey(settings.JID)
	}

	encoded, err := s.secrets.Get(ctx, key)
	if err != nil {
		return "", err
	}

	return decodePassword(encoded)
}

func passwordKey(jid string) string {
	return "kaidan/accounts/" + domain.BareJID(strings.TrimSpace(jid)) + "/password"
}

func passwordKeyOrEmpty(jid string) string {
	if strings.TrimSpace(jid) == "" {
		return ""
	}
	return passwordKey(jid)
}

func uniqueRefs(refs ...string) []string {
	result := make([]string, 0, len(refs))
	seen := make(map[string]struct{}, len(refs))

	for _, ref := range refs {
		if ref == "" {
			continue
		}
		if _, ok := seen[ref]; ok {
			continue
		}

		seen[ref] = struct{}{}
		result = append(result, ref)
	}

	return result
}

func encodePassword(password string) string {
	return base64.StdEncoding.EncodeToString([]byte(password))
}

func decodePassword(encoded string) (string, error) {
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return "", fmt.Errorf("decode account password: %w", err)
	}

	return string(decoded), nil
}

func generateResource(prefix string) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:resourceSuffixLength]
	return prefix + "." + suffix
}
