package application

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bnema/kaidan/internal/domain"
	"github.com/bnema/kaidan/internal/events"
	kaidanlog "github.com/bnema/kaidan/internal/log"
	"github.com/bnema/kaidan/internal/metrics"
	"github.com/bnema/kaidan/internal/ports"
	"github.com/rs/zerolog"
)

const (
	DefaultKeepAliveInterval = 60 * time.Second
	DefaultKeepAliveTimeout  = 20 * time.Second
)

// WorkerSnapshot is a consistent view of the worker state for readers on
// other goroutines.
type WorkerSnapshot struct {
	State           domain.ConnectionState
	LastError       domain.ConnectionError
	ActiveTasks     int
	PendingTasks    int
	IsReconnecting  bool
	IsDisconnecting bool
	IsFirstLogin    bool
}

type WorkerOption func(*ClientWorker)

func WithWorkerLogger(logger zerolog.Logger) WorkerOption {
	return func(w *ClientWorker) {
		w.logger = logger
	}
}

// WithConnectionDefaults sets the values every connection attempt starts
// from, such as keep-alive timing and TLS policy.
func WithConnectionDefaults(cfg domain.ConnectionConfig) WorkerOption {
	return func(w *ClientWorker) {
		w.defaults = cfg.MergeOver(w.defaults)
	}
}

// ClientWorker owns the session. All state below the mutex is touched only by
// the goroutine running Run; the public methods post commands to it.
type ClientWorker struct {
	transport   ports.Transport
	credentials *CredentialStore
	events      events.Publisher
	logger      zerolog.Logger
	defaults    domain.ConnectionConfig
	commands    *events.Mailbox[func()]

	snapshotMu sync.RWMutex
	snapshot   WorkerSnapshot

	ctx                      context.Context
	state                    domain.ConnectionState
	lastError                domain.ConnectionError
	current                  domain.ConnectionConfig
	nextConfig               domain.ConnectionConfig
	isReconnecting           bool
	isDisconnecting          bool
	isApplicationBeingClosed bool
	sessions                 int
	sessionWithNewCreds      bool
	tasks                    taskQueue
	deletion                 accountDeletion
}

func NewClientWorker(transport ports.Transport, credentials *CredentialStore, publisher events.Publisher, opts ...WorkerOption) *ClientWorker {
	w := &ClientWorker{
		transport:   transport,
		credentials: credentials,
		events:      publisher,
		logger:      kaidanlog.WithComponent("client_worker"),
		defaults: domain.ConnectionConfig{
			KeepAliveInterval: DefaultKeepAliveInterval,
			KeepAliveTimeout:  DefaultKeepAliveTimeout,
			StreamManagement:  true,
		},
		commands: events.NewMailbox[func()](),
		ctx:      context.Background(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.updateSnapshot()

	return w
}

// Run processes commands and transport events until ctx is done. Commands
// posted before Run starts are kept and handled in order. Commands posted
// after Run returns are dropped.
func (w *ClientWorker) Run(ctx context.Context) error {
	w.ctx = ctx
	transportEvents := w.transport.Events()
	defer w.commands.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.commands.Ready():
			w.drainCommands()
		case ev, ok := <-transportEvents:
			if !ok {
				transportEvents = nil
				continue
			}
			w.handleTransportEvent(ev)
			w.updateSnapshot()
		}
	}
}

// Snapshot may be called from any goroutine.
func (w *ClientWorker) Snapshot() WorkerSnapshot {
	w.snapshotMu.RLock()
	defer w.snapshotMu.RUnlock()
	return w.snapshot
}

// Sync blocks until every command posted before it has been handled. It
// returns events.ErrClosed once Run has returned.
func (w *ClientWorker) Sync(ctx context.Context) error {
	done := make(chan struct{})
	if !w.post(func() { close(done) }) {
		return events.ErrClosed
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LogIn connects with the stored credentials. Without enough credentials it
// asks for new ones instead.
func (w *ClientWorker) LogIn() {
	w.post(func() { w.logIn() })
}

// ConnectToRegister opens a session that only negotiates in-band
// registration.
func (w *ClientWorker) ConnectToRegister() {
	w.post(func() {
		metrics.IncLoginAttempt("register")
		w.connectToServer(domain.ConnectionConfig{RegisterOnConnect: true})
	})
}

// ConnectToServer connects with cfg layered over the stored credentials. A
// request during an ongoing session is kept for the next connection.
func (w *ClientWorker) ConnectToServer(cfg domain.ConnectionConfig) {
	w.post(func() {
		metrics.IncLoginAttempt("manual")
		w.connectToServer(cfg)
	})
}

// Reconnect ends the current session and connects again with the
// configuration cached by ConnectToServer.
func (w *ClientWorker) Reconnect() {
	w.post(func() { w.reconnect() })
}

// LogOut ends the session. With closing set, ApplicationCloseReady is
// published once the session is gone.
func (w *ClientWorker) LogOut(closing bool) {
	w.post(func() { w.logOut(closing) })
}

// StartTask runs task now when logged in, otherwise after the next
// successful login. The first waiting task triggers that login.
func (w *ClientWorker) StartTask(task Task) {
	w.post(func() { w.startTask(task) })
}

// FinishTask marks one started task as done. The session is closed when no
// task is left, except during the first login after start.
func (w *ClientWorker) FinishTask() {
	w.post(func() { w.finishTask() })
}

func (w *ClientWorker) DeleteAccountFromClientAndServer() {
	w.post(func() { w.deleteAccountFromClientAndServer() })
}

func (w *ClientWorker) DeleteAccountFromClient() {
	w.post(func() { w.deleteAccountFromClient() })
}

func (w *ClientWorker) post(cmd func()) bool {
	if !w.commands.Push(cmd) {
		w.logger.Warn().Msg("command dropped after shutdown")
		return false
	}
	return true
}

func (w *ClientWorker) drainCommands() {
	for {
		cmd, ok := w.commands.TryPop()
		if !ok {
			return
		}
		cmd()
		w.updateSnapshot()
	}
}

func (w *ClientWorker) logIn() bool {
	if !w.credentials.LoadCredentials(w.ctx) {
		w.logger.Info().Msg("login skipped, credentials missing")
		w.discardPendingTasks("credentials missing")
		return false
	}

	if err := w.credentials.SetOnline(w.ctx, true); err != nil {
		w.logger.Warn().Err(err).Msg("persist online state")
	}

	metrics.IncLoginAttempt("login")
	w.connectToServer(domain.ConnectionConfig{})
	return true
}

func (w *ClientWorker) connectToServer(cfg domain.ConnectionConfig) {
	if w.state != domain.StateDisconnected {
		w.nextConfig = cfg.MergeOver(w.nextConfig)
		w.logger.Debug().Str(kaidanlog.FieldNewState, w.state.String()).Msg("session in progress, config kept for next connection")
		return
	}

	if !w.nextConfig.IsZero() {
		cfg = cfg.MergeOver(w.nextConfig)
		w.nextConfig = domain.ConnectionConfig{}
	}

	w.current = cfg.MergeOver(w.baseConfig())
	w.setState(domain.StateConnecting)

	w.logger.Info().
		Str(kaidanlog.FieldJID, w.current.JID).
		Str(kaidanlog.FieldHost, w.current.Host).
		Int(kaidanlog.FieldPort, w.current.Port).
		Bool("register", w.current.RegisterOnConnect).
		Msg("connecting")

	if err := w.transport.Connect(w.ctx, w.current); err != nil {
		var terr ports.TransportError
		if !errors.As(err, &terr) {
			terr = ports.TransportError{Err: err}
		}
		w.onConnectionError(terr)
		w.onDisconnected()
	}
}

func (w *ClientWorker) baseConfig() domain.ConnectionConfig {
	creds := w.credentials.Credentials()

	base := w.defaults
	base.JID = creds.JID
	base.Password = creds.Password
	base.Resource = w.credentials.JIDResource()
	base.Host = creds.Host
	base.Port = creds.EffectivePort()

	return base
}

func (w *ClientWorker) reconnect() {
	if w.state == domain.StateDisconnected {
		metrics.IncLoginAttempt("reconnect")
		w.connectToServer(domain.ConnectionConfig{})
		return
	}

	w.isReconnecting = true
	w.disconnect(false)
}

func (w *ClientWorker) logOut(closing bool) {
	if !closing {
		if err := w.credentials.SetOnline(w.ctx, false); err != nil {
			w.logger.Warn().Err(err).Msg("persist online state")
		}
	}

	w.disconnect(closing)
}

func (w *ClientWorker) disconnect(closing bool) {
	if w.state == domain.StateDisconnected {
		if closing {
			w.events.Publish(events.Event{Kind: events.ApplicationCloseReady})
		}
		return
	}

	w.isDisconnecting = true
	w.isApplicationBeingClosed = w.isApplicationBeingClosed || closing

	if err := w.transport.Disconnect(w.ctx); err != nil {
		w.logger.Warn().Err(err).Msg("disconnect failed, treating session as closed")
		w.onDisconnected()
	}
}

func (w *ClientWorker) startTask(task Task) {
	if w.state == domain.StateConnected && !w.current.RegisterOnConnect {
		w.tasks.start()
		metrics.IncTaskStarted("immediate")
		task()
		return
	}

	first := w.tasks.enqueue(task)
	w.logger.Debug().Int(kaidanlog.FieldPending, len(w.tasks.pending)).Msg("task deferred until login")

	if first && w.state == domain.StateDisconnected {
		w.logIn()
	}
}

func (w *ClientWorker) finishTask() {
	reachedZero, unmatched := w.tasks.finish()
	if unmatched {
		w.logger.Warn().Msg("task finished without a matching start")
		return
	}

	if reachedZero && !w.isFirstLogin() {
		w.logger.Debug().Msg("all tasks finished, logging out")
		w.logOut(false)
	}
}

// isFirstLogin covers the first session after start and a session opened
// with fresh credentials, where the user expects to stay online.
func (w *ClientWorker) isFirstLogin() bool {
	return w.sessions <= 1 || w.sessionWithNewCreds
}

func (w *ClientWorker) startPendingTasks() {
	tasks := w.tasks.drain()
	for _, task := range tasks {
		metrics.IncTaskStarted("deferred")
		task()
	}
}

func (w *ClientWorker) discardPendingTasks(reason string) {
	n := w.tasks.discard()
	if n == 0 {
		return
	}

	metrics.TasksDiscardedTotal.Add(float64(n))
	w.logger.Warn().Int(kaidanlog.FieldPending, n).Str("reason", reason).Msg("pending tasks discarded")
}

func (w *ClientWorker) handleTransportEvent(ev ports.TransportEvent) {
	switch ev.Kind {
	case ports.TransportStateChanged:
		switch ev.State {
		case domain.StateConnecting:
			w.setState(domain.StateConnecting)
		case domain.StateConnected:
			w.onConnected()
		case domain.StateDisconnected:
			w.onDisconnected()
		}
	case ports.TransportFailed:
		w.onConnectionError(ev.Error)
	case ports.TransportPasswordChanged:
		w.events.Publish(events.Event{Kind: events.PasswordChanged})
	case ports.TransportPasswordChangeFailed:
		w.events.Publish(events.Event{Kind: events.PasswordChangeFailed, Reason: errorText(ev.Err)})
	case ports.TransportAccountDeleted:
		w.onAccountDeletedFromServer()
	case ports.TransportAccountDeletionFailed:
		w.onAccountDeletionFromServerFailed(ev.Err)
	case ports.TransportRosterReceived:
		w.events.Publish(events.Event{Kind: events.RosterReceived, Contacts: ev.Contacts})
	case ports.TransportRosterFailed:
		w.events.Publish(events.Event{Kind: events.RosterSyncFailed, Reason: errorText(ev.Err)})
	case ports.TransportContactUpdated:
		w.events.Publish(events.Event{Kind: events.ContactUpdated, Contact: ev.Contact})
	case ports.TransportContactRemoved:
		w.events.Publish(events.Event{Kind: events.ContactRemoved, Contact: ev.Contact})
	case ports.TransportContactChangeFailed:
		w.events.Publish(events.Event{Kind: events.ContactChangeFailed, Contact: ev.Contact, Reason: errorText(ev.Err)})
	case ports.TransportPresenceReceived:
		w.events.Publish(events.Event{Kind: events.PresenceChanged, Presence: ev.Presence})
	default:
		w.logger.Debug().Int("kind", int(ev.Kind)).Msg("ignoring unknown transport event")
	}
}

func (w *ClientWorker) onConnected() {
	if w.state == domain.StateConnected {
		return
	}

	if w.current.RegisterOnConnect {
		w.setState(domain.StateConnected)
		return
	}

	newCredentials := w.credentials.HasNewCredentials()
	if newCredentials {
		w.events.Publish(events.Event{Kind: events.LoggedInWithNewCredentials})
	}
	if err := w.credentials.StoreCredentials(w.ctx); err != nil {
		w.logger.Error().Err(err).Msg("store credentials after login")
	}
	w.credentials.SetHasNewCredentials(false)

	w.sessions++
	w.sessionWithNewCreds = newCredentials
	w.setState(domain.StateConnected)

	w.continueAccountDeletion()
	w.startPendingTasks()

	if w.lastError != domain.NoError {
		w.setLastError(domain.NoError)
	}
}

func (w *ClientWorker) onConnectionError(terr ports.TransportError) {
	mapped := MapConnectionError(terr, w.current.RegisterOnConnect)

	w.logger.Warn().
		Err(terr.Err).
		Str(kaidanlog.FieldError, mapped.String()).
		Msg("connection failed")
	metrics.IncConnectionError(mapped.String())

	w.setLastError(mapped)
}

func (w *ClientWorker) onDisconnected() {
	if w.state == domain.StateDisconnected {
		w.isDisconnecting = false
		return
	}

	wasLoggingIn := w.state == domain.StateConnecting
	w.isDisconnecting = false
	w.setState(domain.StateDisconnected)

	if wasLoggingIn {
		w.discardPendingTasks("login failed")
		w.failPendingAccountDeletion("login failed")
	}
	w.completeAccountDeletion()

	if w.isApplicationBeingClosed {
		w.isApplicationBeingClosed = false
		w.events.Publish(events.Event{Kind: events.ApplicationCloseReady})
		return
	}

	if w.isReconnecting {
		w.isReconnecting = false
		metrics.IncLoginAttempt("reconnect")
		w.connectToServer(domain.ConnectionConfig{})
	}
}

func (w *ClientWorker) setState(state domain.ConnectionState) {
	if w.state == state {
		return
	}

	old := w.state
	w.state = state
	metrics.SetConnectionState(int(state))

	w.logger.Info().
		Str(kaidanlog.FieldOldState, old.String()).
		Str(kaidanlog.FieldNewState, state.String()).
		Msg("connection state changed")

	w.events.Publish(events.StateChanged(state))
}

// setLastError publishes every failure, including repeats, so that each
// failed attempt is visible.
func (w *ClientWorker) setLastError(err domain.ConnectionError) {
	w.lastError = err
	w.events.Publish(events.ErrorChanged(err))
}

func (w *ClientWorker) updateSnapshot() {
	snapshot := WorkerSnapshot{
		State:           w.state,
		LastError:       w.lastError,
		ActiveTasks:     w.tasks.active,
		PendingTasks:    len(w.tasks.pending),
		IsReconnecting:  w.isReconnecting,
		IsDisconnecting: w.isDisconnecting,
		IsFirstLogin:    w.isFirstLogin(),
	}
	metrics.SetTaskCounts(snapshot.ActiveTasks, snapshot.PendingTasks)

	w.snapshotMu.Lock()
	w.snapshot = snapshot
	w.snapshotMu.Unlock()
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
