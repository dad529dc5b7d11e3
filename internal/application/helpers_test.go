package application

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/bnema/kaidan/internal/domain"
	"github.com/bnema/kaidan/internal/events"
	kaidanlog "github.com/bnema/kaidan/internal/log"
	"github.com/bnema/kaidan/internal/ports"
	"github.com/stretchr/testify/require"
)

const (
	testJID      = "alice@example.org"
	testPassword = "correct horse"
)

type testingT interface {
	require.TestingT
	Helper()
}

type fakeTransport struct {
	events chan ports.TransportEvent

	mu              sync.Mutex
	connects        []domain.ConnectionConfig
	disconnects     int
	passwordChanges []string
	deletions       int
	rosterRequests  int
	rosterChanges   []rosterChange
	connectErr      error
	disconnectErr   error
	changeErr       error
	rosterErr       error
}

type rosterChange struct {
	op      string
	contact domain.Contact
	message string
}

var _ ports.Transport = (*fakeTransport)(nil)

func newFakeTransport() *fakeTransport {
	// Unbuffered: an emit returns only once the worker has taken the event.
	return &fakeTransport{events: make(chan ports.TransportEvent)}
}

func (f *fakeTransport) Connect(_ context.Context, cfg domain.ConnectionConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects = append(f.connects, cfg)
	return f.connectErr
}

func (f *fakeTransport) Disconnect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	return f.disconnectErr
}

func (f *fakeTransport) ChangePassword(_ context.Context, newPassword string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.passwordChanges = append(f.passwordChanges, newPassword)
	return f.changeErr
}

func (f *fakeTransport) DeleteAccount(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletions++
	return nil
}

func (f *fakeTransport) RequestRoster(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rosterRequests++
	return nil
}

func (f *fakeTransport) AddContact(_ context.Context, contact domain.Contact, message string) error {
	return f.recordRosterChange(rosterChange{op: "add", contact: contact, message: message})
}

func (f *fakeTransport) RenameContact(_ context.Context, contact domain.Contact) error {
	return f.recordRosterChange(rosterChange{op: "rename", contact: contact})
}

func (f *fakeTransport) RemoveContact(_ context.Context, jid string) error {
	return f.recordRosterChange(rosterChange{op: "remove", contact: domain.Contact{JID: jid}})
}

func (f *fakeTransport) recordRosterChange(change rosterChange) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rosterChanges = append(f.rosterChanges, change)
	return f.rosterErr
}

func (f *fakeTransport) changes() []rosterChange {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]rosterChange(nil), f.rosterChanges...)
}

func (f *fakeTransport) Events() <-chan ports.TransportEvent {
	return f.events
}

func (f *fakeTransport) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.connects)
}

func (f *fakeTransport) lastConnect() domain.ConnectionConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.connects) == 0 {
		return domain.ConnectionConfig{}
	}
	return f.connects[len(f.connects)-1]
}

func (f *fakeTransport) disconnectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnects
}

type memorySettings struct {
	mu       sync.Mutex
	settings ports.AccountSettings
	saved    bool
	saves    int
}

var _ ports.SettingsRepository = (*memorySettings)(nil)

func (m *memorySettings) Load(context.Context) (ports.AccountSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.saved {
		return ports.AccountSettings{}, domain.ErrSettingsNotFound
	}
	return m.settings, nil
}

func (m *memorySettings) Save(_ context.Context, settings ports.AccountSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings = settings
	m.saved = true
	m.saves++
	return nil
}

func (m *memorySettings) get() ports.AccountSettings {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settings
}

type memorySecrets struct {
	mu     sync.Mutex
	values map[string]string
}

var _ ports.SecretStore = (*memorySecrets)(nil)

func newMemorySecrets() *memorySecrets {
	return &memorySecrets{values: make(map[string]string)}
}

func (m *memorySecrets) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	value, ok := m.values[key]
	if !ok {
		return "", domain.ErrSecretNotFound
	}
	return value, nil
}

func (m *memorySecrets) Put(_ context.Context, key string, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *memorySecrets) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

func (m *memorySecrets) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.values)
}

type memoryRoster struct {
	mu       sync.Mutex
	contacts []domain.Contact
	clears   int
}

var _ ports.RosterRepository = (*memoryRoster)(nil)

func (m *memoryRoster) Replace(_ context.Context, contacts []domain.Contact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contacts = append([]domain.Contact(nil), contacts...)
	return nil
}

func (m *memoryRoster) Upsert(_ context.Context, contact domain.Contact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.contacts {
		if m.contacts[i].JID == contact.JID {
			m.contacts[i].Name = contact.Name
			return nil
		}
	}
	m.contacts = append(m.contacts, contact)
	return nil
}

func (m *memoryRoster) Remove(_ context.Context, jid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contacts = slices.DeleteFunc(m.contacts, func(c domain.Contact) bool { return c.JID == jid })
	return nil
}

func (m *memoryRoster) List(context.Context) ([]domain.Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Contact(nil), m.contacts...), nil
}

func (m *memoryRoster) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contacts = nil
	m.clears++
	return nil
}

type harness struct {
	t         testingT
	transport *fakeTransport
	settings  *memorySettings
	secrets   *memorySecrets
	bus       *events.Bus
	sub       *events.Subscription
	creds     *CredentialStore
	worker    *ClientWorker
	cancel    context.CancelFunc
	done      chan struct{}
}

func startHarness(t testingT) *harness {
	t.Helper()

	h := &harness{
		t:         t,
		transport: newFakeTransport(),
		settings:  &memorySettings{},
		secrets:   newMemorySecrets(),
		bus:       events.NewBus(nil),
	}
	h.sub = h.bus.Subscribe()
	h.creds = NewCredentialStore(h.settings, h.secrets, h.bus, kaidanlog.Nop())
	h.worker = NewClientWorker(h.transport, h.creds, h.bus, WithWorkerLogger(kaidanlog.Nop()))

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.done = make(chan struct{})
	go func() {
		defer close(h.done)
		_ = h.worker.Run(ctx)
	}()

	return h
}

func (h *harness) stop() {
	h.cancel()
	<-h.done
	h.sub.Close()
}

// storeAccount persists credentials as a previous run would have left them.
func (h *harness) storeAccount() {
	h.t.Helper()
	key := passwordKey(testJID)
	require.NoError(h.t, h.secrets.Put(context.Background(), key, encodePassword(testPassword)))
	require.NoError(h.t, h.settings.Save(context.Background(), ports.AccountSettings{
		JID:            testJID,
		PasswordRef:    key,
		ResourcePrefix: domain.DefaultResourcePrefix,
	}))
}

func (h *harness) sync() {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(h.t, h.worker.Sync(ctx))
}

func (h *harness) emit(ev ports.TransportEvent) {
	h.t.Helper()
	select {
	case h.transport.events <- ev:
	case <-time.After(2 * time.Second):
		h.t.Errorf("worker did not take transport event %v", ev.Kind)
		h.t.FailNow()
	}
	h.sync()
}

func (h *harness) emitState(state domain.ConnectionState) {
	h.emit(ports.TransportEvent{Kind: ports.TransportStateChanged, State: state})
}

func (h *harness) emitFailure(terr ports.TransportError) {
	h.emit(ports.TransportEvent{Kind: ports.TransportFailed, Error: terr})
}

// login runs LogIn and acknowledges the connection.
func (h *harness) login() {
	h.worker.LogIn()
	h.sync()
	h.emitState(domain.StateConnected)
}

// logout runs LogOut and acknowledges the disconnection.
func (h *harness) logout() {
	h.worker.LogOut(false)
	h.sync()
	h.emitState(domain.StateDisconnected)
}

// drain returns the events published so far.
func (h *harness) drain() []events.Event {
	var out []events.Event
	for h.sub.Pending() > 0 {
		ev, err := h.sub.Next(context.Background())
		if errors.Is(err, events.ErrClosed) {
			break
		}
		out = append(out, ev)
	}
	return out
}

// kinds drops CredentialChanged noise so that assertions can focus on the
// session flow.
func kinds(evs []events.Event) []events.Kind {
	out := make([]events.Kind, 0, len(evs))
	for _, ev := range evs {
		if ev.Kind == events.CredentialChanged {
			continue
		}
		out = append(out, ev.Kind)
	}
	return out
}

func states(evs []events.Event) []domain.ConnectionState {
	var out []domain.ConnectionState
	for _, ev := range evs {
		if ev.Kind == events.ConnectionStateChanged {
			out = append(out, ev.State)
		}
	}
	return out
}
