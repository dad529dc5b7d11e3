package application

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/bnema/kaidan/internal/domain"
	"github.com/bnema/kaidan/internal/events"
	kaidanlog "github.com/bnema/kaidan/internal/log"
	"github.com/bnema/kaidan/internal/ports"
	"github.com/rs/zerolog"
)

var ErrEmptyPassword = errors.New("new password is empty")

type taskKind int

const (
	taskPasswordChange taskKind = iota
	taskRosterSync
	taskRosterChange
)

// Service is the control side. It issues requests to the client worker and
// mirrors the state the worker publishes.
type Service struct {
	worker      *ClientWorker
	credentials *CredentialStore
	transport   ports.Transport
	roster      ports.RosterRepository
	presence    *PresenceCache
	bus         *events.Bus
	sub         *events.Subscription
	logger      zerolog.Logger

	mu              sync.RWMutex
	connectionState domain.ConnectionState
	connectionError domain.ConnectionError
	pendingPassword string
	outstanding     map[taskKind]int
	drains          map[string]chan struct{}
	drainSeq        int
}

// drained marks the point Drain waits for. It is only ever injected into the
// service's own subscription.
const drained events.Kind = "service_drained"

func NewService(worker *ClientWorker, credentials *CredentialStore, transport ports.Transport, roster ports.RosterRepository, bus *events.Bus) *Service {
	return &Service{
		worker:      worker,
		credentials: credentials,
		transport:   transport,
		roster:      roster,
		presence:    NewPresenceCache(),
		bus:         bus,
		sub:         bus.Subscribe(),
		logger:      kaidanlog.WithComponent("service"),
		outstanding: make(map[taskKind]int),
		drains:      make(map[string]chan struct{}),
	}
}

// Run applies worker events to the mirrored state until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	defer s.sub.Close()

	for {
		ev, err := s.sub.Next(ctx)
		if err != nil {
			if errors.Is(err, events.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("next event: %w", err)
		}

		if ev.Kind == drained {
			s.mu.Lock()
			if ch, ok := s.drains[ev.Reason]; ok {
				close(ch)
				delete(s.drains, ev.Reason)
			}
			s.mu.Unlock()
			continue
		}

		s.handleEvent(ctx, ev)
	}
}

// Drain waits until Run has handled every event published before the call.
func (s *Service) Drain(ctx context.Context) error {
	s.mu.Lock()
	s.drainSeq++
	id := strconv.Itoa(s.drainSeq)
	done := make(chan struct{})
	s.drains[id] = done
	s.mu.Unlock()

	if !s.sub.Inject(events.Event{Kind: drained, Reason: id}) {
		return events.ErrClosed
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.mu.Lock()
		delete(s.drains, id)
		s.mu.Unlock()
		return ctx.Err()
	}
}

func (s *Service) Credentials() *CredentialStore {
	return s.credentials
}

func (s *Service) Worker() *ClientWorker {
	return s.worker
}

func (s *Service) ConnectionState() domain.ConnectionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connectionState
}

func (s *Service) ConnectionError() domain.ConnectionError {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connectionError
}

// SetCredentials replaces the credentials for the next login.
func (s *Service) SetCredentials(cmd LoginCommand) error {
	if err := cmd.Validate(); err != nil {
		return fmt.Errorf("validate login: %w", err)
	}

	s.credentials.SetJID(strings.TrimSpace(cmd.JID))
	s.credentials.SetPassword(cmd.Password)
	if cmd.Host != "" {
		s.credentials.SetHost(cmd.Host)
	}
	if cmd.Port > 0 {
		s.credentials.SetPort(cmd.Port)
	}

	return nil
}

func (s *Service) LogIn() {
	s.worker.LogIn()
}

func (s *Service) LogOut() {
	s.worker.LogOut(false)
}

// Close ends the session without changing the persisted online state.
// ApplicationCloseReady follows once the session is gone.
func (s *Service) Close() {
	s.worker.LogOut(true)
}

func (s *Service) RequestRegistrationForm() {
	s.worker.ConnectToRegister()
}

// LogInByURI logs in with the credentials of an xmpp: login URI. A URI
// without password only fills in the JID.
func (s *Service) LogInByURI(raw string) domain.LoginByURIState {
	uri, state := domain.ParseLoginURI(raw)

	switch state {
	case domain.LoginByURIConnecting:
		s.credentials.SetJID(uri.JID)
		s.credentials.SetPassword(uri.Password)
		s.worker.LogIn()
	case domain.LoginByURIPasswordNeeded:
		s.credentials.SetJID(uri.JID)
	}

	return state
}

// RestoreSession logs in again when the account was online at the end of the
// previous run.
func (s *Service) RestoreSession(ctx context.Context) (bool, error) {
	online, err := s.credentials.Online(ctx)
	if err != nil {
		return false, fmt.Errorf("restore session: %w", err)
	}
	if !online {
		return false, nil
	}

	s.worker.LogIn()
	return true, nil
}

// UpdateAccount changes the custom server settings used from the next login.
func (s *Service) UpdateAccount(ctx context.Context, cmd AccountCommand) error {
	if cmd.Port < 0 || cmd.Port > 65535 {
		return fmt.Errorf("port %d out of range", cmd.Port)
	}

	if !s.credentials.LoadCredentials(ctx) && s.credentials.JID() == "" {
		return fmt.Errorf("update account: %w", domain.ErrCredentialsMissing)
	}

	switch {
	case cmd.ResetHost:
		s.credentials.ResetHost()
	case cmd.Host != "":
		s.credentials.SetHost(cmd.Host)
	}
	switch {
	case cmd.ResetPort:
		s.credentials.ResetPort()
	case cmd.Port > 0:
		s.credentials.SetPort(cmd.Port)
	}

	if err := s.credentials.StoreCredentials(ctx); err != nil {
		return fmt.Errorf("update account: %w", err)
	}

	return nil
}

// ChangePassword changes the account password on the server. The request
// waits for a session if none is open.
func (s *Service) ChangePassword(ctx context.Context, newPassword string) error {
	if newPassword == "" {
		return ErrEmptyPassword
	}

	taskCtx := context.WithoutCancel(ctx)
	s.worker.StartTask(func() {
		s.beginTask(taskPasswordChange)
		s.mu.Lock()
		s.pendingPassword = newPassword
		s.mu.Unlock()

		if err := s.transport.ChangePassword(taskCtx, newPassword); err != nil {
			s.logger.Warn().Err(err).Msg("change password request failed")
			s.bus.Publish(events.Event{Kind: events.PasswordChangeFailed, Reason: err.Error()})
		}
	})

	return nil
}

// SyncRoster fetches the roster and replaces the local cache with it. A
// failed fetch keeps the cache as it was.
func (s *Service) SyncRoster(ctx context.Context) {
	taskCtx := context.WithoutCancel(ctx)
	s.worker.StartTask(func() {
		s.beginTask(taskRosterSync)

		if err := s.transport.RequestRoster(taskCtx); err != nil {
			s.logger.Warn().Err(err).Msg("roster request failed")
			s.bus.Publish(events.Event{Kind: events.RosterSyncFailed, Reason: err.Error()})
		}
	})
}

// AddContact adds a contact to the roster and asks it for a presence
// subscription.
func (s *Service) AddContact(ctx context.Context, cmd ContactCommand) error {
	contact, err := cmd.Contact()
	if err != nil {
		return fmt.Errorf("add contact: %w", err)
	}

	s.changeRoster(ctx, contact, func(taskCtx context.Context) error {
		return s.transport.AddContact(taskCtx, contact, cmd.Message)
	})
	return nil
}

// RenameContact sets the roster name of jid. An empty name clears it.
func (s *Service) RenameContact(ctx context.Context, jid, name string) error {
	contact, err := ContactCommand{JID: jid, Name: name}.Contact()
	if err != nil {
		return fmt.Errorf("rename contact: %w", err)
	}

	s.changeRoster(ctx, contact, func(taskCtx context.Context) error {
		return s.transport.RenameContact(taskCtx, contact)
	})
	return nil
}

func (s *Service) RemoveContact(ctx context.Context, jid string) error {
	contact, err := ContactCommand{JID: jid}.Contact()
	if err != nil {
		return fmt.Errorf("remove contact: %w", err)
	}

	s.changeRoster(ctx, contact, func(taskCtx context.Context) error {
		return s.transport.RemoveContact(taskCtx, contact.JID)
	})
	return nil
}

// changeRoster runs one roster change as a task. The cache follows once the
// server confirms it.
func (s *Service) changeRoster(ctx context.Context, contact domain.Contact, send func(context.Context) error) {
	taskCtx := context.WithoutCancel(ctx)
	s.worker.StartTask(func() {
		s.beginTask(taskRosterChange)

		if err := send(taskCtx); err != nil {
			s.logger.Warn().Err(err).Str(kaidanlog.FieldJID, contact.JID).Msg("roster change request failed")
			s.bus.Publish(events.Event{Kind: events.ContactChangeFailed, Contact: contact, Reason: err.Error()})
		}
	})
}

func (s *Service) Roster(ctx context.Context) ([]domain.Contact, error) {
	contacts, err := s.roster.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list roster: %w", err)
	}

	return contacts, nil
}

// RosterEntries lists the cached roster with the presence seen in this
// session and the notification preference of each contact.
func (s *Service) RosterEntries(ctx context.Context) ([]RosterEntry, error) {
	contacts, err := s.Roster(ctx)
	if err != nil {
		return nil, err
	}

	muted, err := s.credentials.MutedJIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list roster: %w", err)
	}

	entries := make([]RosterEntry, 0, len(contacts))
	for _, c := range contacts {
		entry := RosterEntry{
			JID:          c.JID,
			Name:         c.Name,
			Availability: domain.AvailabilityOffline,
			Muted:        slices.Contains(muted, c.JID),
		}
		if p, ok := s.presence.Pick(c.JID); ok {
			entry.Availability = p.Availability
			entry.Status = p.Status
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

// Presence returns the resource of jid to show, if any is online.
func (s *Service) Presence(jid string) (domain.Presence, bool) {
	return s.presence.Pick(jid)
}

func (s *Service) SetNotificationsMuted(ctx context.Context, jid string, muted bool) error {
	return s.credentials.SetNotificationsMuted(ctx, jid, muted)
}

func (s *Service) SetPasswordVisibility(ctx context.Context, visibility domain.PasswordVisibility) error {
	return s.credentials.SetPasswordVisibility(ctx, visibility)
}

func (s *Service) PasswordVisibility(ctx context.Context) (domain.PasswordVisibility, error) {
	return s.credentials.PasswordVisibility(ctx)
}

// LoginURI exports the stored account as an xmpp: login URI. The password
// is left out when its visibility is PasswordInvisible.
func (s *Service) LoginURI(ctx context.Context) (string, error) {
	if !s.credentials.LoadCredentials(ctx) && s.credentials.JID() == "" {
		return "", fmt.Errorf("export login uri: %w", domain.ErrCredentialsMissing)
	}

	visibility, err := s.credentials.PasswordVisibility(ctx)
	if err != nil {
		return "", fmt.Errorf("export login uri: %w", err)
	}

	uri := domain.LoginURI{JID: domain.BareJID(s.credentials.JID())}
	if visibility.InLoginURI() {
		uri.Password = s.credentials.Password()
	}
	return uri.String(), nil
}

func (s *Service) DeleteAccount(fromServer bool) {
	if fromServer {
		s.worker.DeleteAccountFromClientAndServer()
		return
	}

	s.worker.DeleteAccountFromClient()
}

func (s *Service) GetStatus(ctx context.Context) (Status, error) {
	if err := ctx.Err(); err != nil {
		return Status{}, err
	}

	creds := s.credentials.Credentials()
	snapshot := s.worker.Snapshot()

	online, err := s.credentials.Online(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("get status: %w", err)
	}

	contacts, err := s.roster.List(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("get status: %w", err)
	}

	return Status{
		JID:             creds.JID,
		Host:            creds.Host,
		Port:            creds.EffectivePort(),
		CustomHost:      creds.Host != "",
		CustomPort:      creds.Port > 0,
		Online:          online,
		State:           snapshot.State,
		Error:           snapshot.LastError,
		ActiveTasks:     snapshot.ActiveTasks,
		PendingTasks:    snapshot.PendingTasks,
		RosterSize:      len(contacts),
		OnlineContacts:  s.presence.Online(),
		HasCredentials:  creds.HasEnoughForLogin(),
		HasNewCreds:     s.credentials.HasNewCredentials(),
		IsReconnecting:  snapshot.IsReconnecting,
		IsDisconnecting: snapshot.IsDisconnecting,
	}, nil
}

func (s *Service) handleEvent(ctx context.Context, ev events.Event) {
	switch ev.Kind {
	case events.ConnectionStateChanged:
		s.mu.Lock()
		s.connectionState = ev.State
		s.mu.Unlock()
		if ev.State == domain.StateDisconnected {
			s.presence.Clear()
		}
	case events.ConnectionErrorChanged:
		s.mu.Lock()
		s.connectionError = ev.Error
		s.mu.Unlock()
	case events.PasswordChanged:
		if !s.endTask(taskPasswordChange) {
			return
		}
		s.mu.Lock()
		password := s.pendingPassword
		s.pendingPassword = ""
		s.mu.Unlock()

		s.credentials.SetPassword(password)
		if err := s.credentials.StoreCredentials(ctx); err != nil {
			s.logger.Error().Err(err).Msg("store changed password")
		}
		s.credentials.SetHasNewCredentials(false)
		s.worker.FinishTask()
	case events.PasswordChangeFailed:
		if !s.endTask(taskPasswordChange) {
			return
		}
		s.mu.Lock()
		s.pendingPassword = ""
		s.mu.Unlock()
		s.worker.FinishTask()
	case events.RosterReceived:
		if err := s.roster.Replace(ctx, ev.Contacts); err != nil {
			s.logger.Error().Err(err).Msg("store roster")
		}
		if s.endTask(taskRosterSync) {
			s.worker.FinishTask()
		}
	case events.RosterSyncFailed:
		s.logger.Warn().Str("reason", ev.Reason).Msg("roster sync failed, keeping cached roster")
		if s.endTask(taskRosterSync) {
			s.worker.FinishTask()
		}
	case events.ContactUpdated:
		if err := s.roster.Upsert(ctx, ev.Contact); err != nil {
			s.logger.Error().Err(err).Str(kaidanlog.FieldJID, ev.Contact.JID).Msg("store contact")
		}
		if s.endTask(taskRosterChange) {
			s.worker.FinishTask()
		}
	case events.ContactRemoved:
		if err := s.roster.Remove(ctx, ev.Contact.JID); err != nil {
			s.logger.Error().Err(err).Str(kaidanlog.FieldJID, ev.Contact.JID).Msg("remove contact")
		}
		if s.endTask(taskRosterChange) {
			s.worker.FinishTask()
		}
	case events.ContactChangeFailed:
		s.logger.Warn().Str(kaidanlog.FieldJID, ev.Contact.JID).Str("reason", ev.Reason).Msg("roster change rejected")
		if s.endTask(taskRosterChange) {
			s.worker.FinishTask()
		}
	case events.PresenceChanged:
		s.presence.Update(ev.Presence)
	case events.AccountDataPurgeRequested:
		if err := s.roster.Clear(ctx); err != nil {
			s.logger.Error().Err(err).Msg("clear roster")
		}
		s.presence.Clear()
	}
}

func (s *Service) beginTask(kind taskKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outstanding[kind]++
}

func (s *Service) endTask(kind taskKind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.outstanding[kind] == 0 {
		return false
	}
	s.outstanding[kind]--
	return true
}
