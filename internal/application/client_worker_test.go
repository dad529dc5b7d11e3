package application

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/bnema/kaidan/internal/domain"
	"github.com/bnema/kaidan/internal/events"
	"github.com/bnema/kaidan/internal/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestClientWorkerLogInUsesStoredCredentials(t *testing.T) {
	h := startHarness(t)
	defer h.stop()
	h.storeAccount()

	h.worker.LogIn()
	h.sync()

	require.Equal(t, 1, h.transport.connectCount())
	cfg := h.transport.lastConnect()
	assert.Equal(t, testJID, cfg.JID)
	assert.Equal(t, testPassword, cfg.Password)
	assert.Equal(t, domain.PortDefault, cfg.Port)
	assert.True(t, strings.HasPrefix(cfg.Resource, domain.DefaultResourcePrefix+"."))
	assert.Equal(t, DefaultKeepAliveInterval, cfg.KeepAliveInterval)
	assert.False(t, cfg.RegisterOnConnect)
	assert.True(t, h.settings.get().Online)

	h.emitState(domain.StateConnected)

	evs := h.drain()
	assert.Equal(t, []domain.ConnectionState{domain.StateConnecting, domain.StateConnected}, states(evs))
	assert.NotContains(t, kinds(evs), events.LoggedInWithNewCredentials)
	assert.Equal(t, domain.StateConnected, h.worker.Snapshot().State)
}

func TestClientWorkerLogInWithoutCredentialsAsksForThem(t *testing.T) {
	h := startHarness(t)
	defer h.stop()

	h.worker.LogIn()
	h.sync()

	assert.Zero(t, h.transport.connectCount())
	assert.Equal(t, []events.Kind{events.NewCredentialsNeeded}, kinds(h.drain()))
	assert.Equal(t, domain.StateDisconnected, h.worker.Snapshot().State)
}

func TestClientWorkerFirstLoginWithNewCredentials(t *testing.T) {
	h := startHarness(t)
	defer h.stop()

	h.creds.SetJID(testJID)
	h.creds.SetPassword(testPassword)
	h.drain()

	h.login()

	assert.Equal(t, []events.Kind{
		events.ConnectionStateChanged,
		events.LoggedInWithNewCredentials,
		events.ConnectionStateChanged,
	}, kinds(h.drain()))

	stored := h.settings.get()
	assert.Equal(t, testJID, stored.JID)
	assert.Equal(t, passwordKey(testJID), stored.PasswordRef)
	encoded, err := h.secrets.Get(context.Background(), stored.PasswordRef)
	require.NoError(t, err)
	decoded, err := decodePassword(encoded)
	require.NoError(t, err)
	assert.Equal(t, testPassword, decoded)
	assert.False(t, h.creds.HasNewCredentials())
}

func TestClientWorkerPublishesErrorBeforeDisconnected(t *testing.T) {
	h := startHarness(t)
	defer h.stop()
	h.storeAccount()

	h.worker.LogIn()
	h.sync()
	h.emitFailure(ports.TransportError{Kind: ports.TransportErrorSocket, Socket: ports.SocketHostNotFound})
	h.emitState(domain.StateDisconnected)

	evs := h.drain()
	var flow []string
	for _, ev := range evs {
		switch ev.Kind {
		case events.ConnectionStateChanged:
			flow = append(flow, ev.State.String())
		case events.ConnectionErrorChanged:
			flow = append(flow, ev.Error.String())
		}
	}
	assert.Equal(t, []string{"connecting", "dns_error", "disconnected"}, flow)
	assert.Equal(t, domain.DnsError, h.worker.Snapshot().LastError)
}

func TestClientWorkerClearsErrorAfterSuccessfulLogin(t *testing.T) {
	h := startHarness(t)
	defer h.stop()
	h.storeAccount()

	h.worker.LogIn()
	h.sync()
	h.emitFailure(ports.TransportError{Kind: ports.TransportErrorKeepAlive})
	h.emitState(domain.StateDisconnected)
	h.drain()

	h.login()

	evs := h.drain()
	require.NotEmpty(t, evs)
	last := evs[len(evs)-1]
	assert.Equal(t, events.ConnectionErrorChanged, last.Kind)
	assert.Equal(t, domain.NoError, last.Error)
	assert.Equal(t, domain.NoError, h.worker.Snapshot().LastError)
}

func TestClientWorkerSynchronousConnectFailure(t *testing.T) {
	h := startHarness(t)
	defer h.stop()
	h.storeAccount()
	h.transport.connectErr = ports.TransportError{Kind: ports.TransportErrorSocket, Socket: ports.SocketConnectionRefused}

	ran := false
	h.worker.StartTask(func() { ran = true })
	h.sync()

	assert.False(t, ran)
	assert.Equal(t, []domain.ConnectionState{domain.StateConnecting, domain.StateDisconnected}, states(h.drain()))
	snapshot := h.worker.Snapshot()
	assert.Equal(t, domain.ConnectionRefused, snapshot.LastError)
	assert.Zero(t, snapshot.PendingTasks)
}

func TestClientWorkerStartTaskWhileDisconnectedCoalescesLogin(t *testing.T) {
	h := startHarness(t)
	defer h.stop()
	h.storeAccount()

	var order []int
	for i := 1; i <= 3; i++ {
		h.worker.StartTask(func() { order = append(order, i) })
	}
	h.sync()

	assert.Equal(t, 1, h.transport.connectCount())
	assert.Equal(t, 3, h.worker.Snapshot().PendingTasks)
	assert.Empty(t, order)

	h.emitState(domain.StateConnected)

	assert.Equal(t, []int{1, 2, 3}, order)
	snapshot := h.worker.Snapshot()
	assert.Zero(t, snapshot.PendingTasks)
	assert.Equal(t, 3, snapshot.ActiveTasks)
}

func TestClientWorkerStartTaskWhileConnectingWaits(t *testing.T) {
	h := startHarness(t)
	defer h.stop()
	h.storeAccount()

	h.worker.LogIn()
	h.sync()

	ran := false
	h.worker.StartTask(func() { ran = true })
	h.sync()

	assert.Equal(t, 1, h.transport.connectCount())
	assert.False(t, ran)

	h.emitState(domain.StateConnected)
	assert.True(t, ran)
}

func TestClientWorkerDiscardsPendingTasksWhenLoginFails(t *testing.T) {
	h := startHarness(t)
	defer h.stop()
	h.storeAccount()

	ran := 0
	h.worker.StartTask(func() { ran++ })
	h.worker.StartTask(func() { ran++ })
	h.sync()

	h.emitFailure(ports.TransportError{Kind: ports.TransportErrorStream, Stream: ports.StreamNotAuthorized})
	h.emitState(domain.StateDisconnected)

	assert.Zero(t, ran)
	assert.Zero(t, h.worker.Snapshot().PendingTasks)
	assert.Equal(t, domain.AuthenticationFailed, h.worker.Snapshot().LastError)

	// A later login does not resurrect discarded tasks.
	h.worker.StartTask(func() { ran += 10 })
	h.sync()
	assert.Equal(t, 2, h.transport.connectCount())
	h.emitState(domain.StateConnected)
	assert.Equal(t, 10, ran)
}

func TestClientWorkerStartTaskWhileConnectedRunsImmediately(t *testing.T) {
	h := startHarness(t)
	defer h.stop()
	h.storeAccount()
	h.login()

	ran := false
	h.worker.StartTask(func() { ran = true })
	h.sync()

	assert.True(t, ran)
	assert.Equal(t, 1, h.worker.Snapshot().ActiveTasks)
	assert.Equal(t, 1, h.transport.connectCount())
}

func TestClientWorkerFinishTaskKeepsFirstSessionOpen(t *testing.T) {
	h := startHarness(t)
	defer h.stop()
	h.storeAccount()

	h.worker.StartTask(func() {})
	h.sync()
	h.emitState(domain.StateConnected)

	h.worker.FinishTask()
	h.sync()

	assert.Zero(t, h.transport.disconnectCount())
	assert.Zero(t, h.worker.Snapshot().ActiveTasks)
	assert.True(t, h.worker.Snapshot().IsFirstLogin)
}

func TestClientWorkerFinishTaskLogsOutAfterLaterLogin(t *testing.T) {
	h := startHarness(t)
	defer h.stop()
	h.storeAccount()

	h.login()
	h.logout()
	require.Equal(t, 1, h.transport.disconnectCount())

	h.worker.StartTask(func() {})
	h.worker.StartTask(func() {})
	h.sync()
	h.emitState(domain.StateConnected)
	assert.False(t, h.worker.Snapshot().IsFirstLogin)

	h.worker.FinishTask()
	h.sync()
	assert.Equal(t, 1, h.transport.disconnectCount())

	h.worker.FinishTask()
	h.sync()
	assert.Equal(t, 2, h.transport.disconnectCount())
	assert.False(t, h.settings.get().Online)

	// An unmatched finish is ignored.
	h.worker.FinishTask()
	h.sync()
	assert.Equal(t, 2, h.transport.disconnectCount())
	assert.Zero(t, h.worker.Snapshot().ActiveTasks)
}

func TestClientWorkerConnectToServerDuringSessionIsCached(t *testing.T) {
	h := startHarness(t)
	defer h.stop()
	h.storeAccount()
	h.login()

	h.worker.ConnectToServer(domain.ConnectionConfig{Host: "xmpp.example.org", Port: 5223})
	h.sync()

	assert.Equal(t, 1, h.transport.connectCount())
	assert.Zero(t, h.transport.disconnectCount())
	assert.Equal(t, domain.StateConnected, h.worker.Snapshot().State)

	h.worker.Reconnect()
	h.sync()
	assert.Equal(t, 1, h.transport.disconnectCount())
	assert.True(t, h.worker.Snapshot().IsReconnecting)

	h.emitState(domain.StateDisconnected)

	require.Equal(t, 2, h.transport.connectCount())
	cfg := h.transport.lastConnect()
	assert.Equal(t, "xmpp.example.org", cfg.Host)
	assert.Equal(t, 5223, cfg.Port)
	assert.Equal(t, testJID, cfg.JID)
	assert.False(t, h.worker.Snapshot().IsReconnecting)
	assert.True(t, h.settings.get().Online)
}

func TestClientWorkerLogOutWhileDisconnected(t *testing.T) {
	h := startHarness(t)
	defer h.stop()

	h.worker.LogOut(false)
	h.sync()
	assert.Empty(t, kinds(h.drain()))

	h.worker.LogOut(true)
	h.sync()
	assert.Equal(t, []events.Kind{events.ApplicationCloseReady}, kinds(h.drain()))
	assert.Zero(t, h.transport.disconnectCount())
}

func TestClientWorkerLogOutForCloseWaitsForDisconnect(t *testing.T) {
	h := startHarness(t)
	defer h.stop()
	h.storeAccount()
	h.login()
	h.drain()

	h.worker.LogOut(true)
	h.sync()
	assert.Empty(t, kinds(h.drain()))
	assert.True(t, h.worker.Snapshot().IsDisconnecting)

	h.emitState(domain.StateDisconnected)

	assert.Equal(t, []events.Kind{events.ConnectionStateChanged, events.ApplicationCloseReady}, kinds(h.drain()))
	// Closing the application keeps the account online for the next start.
	assert.True(t, h.settings.get().Online)
	assert.False(t, h.worker.Snapshot().IsDisconnecting)
}

func TestClientWorkerDisconnectFailureStillEndsSession(t *testing.T) {
	h := startHarness(t)
	defer h.stop()
	h.storeAccount()
	h.login()
	h.transport.disconnectErr = errors.New("socket already closed")

	h.worker.LogOut(false)
	h.sync()

	assert.Equal(t, domain.StateDisconnected, h.worker.Snapshot().State)
}

func TestClientWorkerRegistrationUnsupported(t *testing.T) {
	h := startHarness(t)
	defer h.stop()

	h.creds.SetJID("example.org")
	h.worker.ConnectToRegister()
	h.sync()

	require.Equal(t, 1, h.transport.connectCount())
	assert.True(t, h.transport.lastConnect().RegisterOnConnect)

	h.emitFailure(ports.TransportError{Kind: ports.TransportErrorStream, Stream: ports.StreamFeatureNotImplemented})
	h.emitState(domain.StateDisconnected)

	assert.Equal(t, domain.RegistrationUnsupported, h.worker.Snapshot().LastError)
}

func TestClientWorkerRegistrationSessionDefersTasks(t *testing.T) {
	h := startHarness(t)
	defer h.stop()

	h.creds.SetJID("example.org")
	h.worker.ConnectToRegister()
	h.sync()
	h.emitState(domain.StateConnected)

	ran := false
	h.worker.StartTask(func() { ran = true })
	h.sync()

	assert.False(t, ran)
	assert.Equal(t, 1, h.worker.Snapshot().PendingTasks)
	assert.NotContains(t, kinds(h.drain()), events.LoggedInWithNewCredentials)
	assert.False(t, h.settings.saved)
}

func TestClientWorkerDeleteAccountFromClientAndServer(t *testing.T) {
	h := startHarness(t)
	defer h.stop()
	h.storeAccount()

	h.worker.DeleteAccountFromClientAndServer()
	h.sync()
	require.Equal(t, 1, h.transport.connectCount())

	h.emitState(domain.StateConnected)
	assert.Equal(t, 1, h.transport.deletions)

	h.emit(ports.TransportEvent{Kind: ports.TransportAccountDeleted})
	assert.Equal(t, 1, h.transport.disconnectCount())

	h.emitState(domain.StateDisconnected)

	got := kinds(h.drain())
	assert.Contains(t, got, events.AccountDataPurgeRequested)
	assert.Equal(t, events.NewCredentialsNeeded, got[len(got)-1])
	assert.Empty(t, h.settings.get().JID)
	assert.Zero(t, h.secrets.len())
	assert.Empty(t, h.creds.JID())
}

func TestClientWorkerDeleteAccountFailureRestoresDisconnectedState(t *testing.T) {
	h := startHarness(t)
	defer h.stop()
	h.storeAccount()

	h.worker.DeleteAccountFromClientAndServer()
	h.sync()
	h.emitState(domain.StateConnected)
	h.drain()

	h.emit(ports.TransportEvent{Kind: ports.TransportAccountDeletionFailed, Err: errors.New("forbidden")})

	evs := h.drain()
	require.NotEmpty(t, evs)
	assert.Equal(t, events.AccountDeletionFailed, evs[0].Kind)
	assert.Equal(t, "forbidden", evs[0].Reason)
	assert.Equal(t, 1, h.transport.disconnectCount())
	assert.Equal(t, testJID, h.settings.get().JID)
}

func TestClientWorkerDeleteAccountFailureKeepsExistingSession(t *testing.T) {
	h := startHarness(t)
	defer h.stop()
	h.storeAccount()
	h.login()

	h.worker.DeleteAccountFromClientAndServer()
	h.sync()
	assert.Equal(t, 1, h.transport.deletions)

	h.emit(ports.TransportEvent{Kind: ports.TransportAccountDeletionFailed, Err: errors.New("forbidden")})

	assert.Zero(t, h.transport.disconnectCount())
	assert.Equal(t, domain.StateConnected, h.worker.Snapshot().State)
}

func TestClientWorkerDeleteAccountLoginFailure(t *testing.T) {
	h := startHarness(t)
	defer h.stop()
	h.storeAccount()

	h.worker.DeleteAccountFromClientAndServer()
	h.sync()
	h.emitFailure(ports.TransportError{Kind: ports.TransportErrorSocket, Socket: ports.SocketHostNotFound})
	h.emitState(domain.StateDisconnected)

	assert.Contains(t, kinds(h.drain()), events.AccountDeletionFailed)
	assert.Zero(t, h.transport.deletions)
	assert.Equal(t, testJID, h.settings.get().JID)
}

func TestClientWorkerDeleteAccountFromClientWhileDisconnected(t *testing.T) {
	h := startHarness(t)
	defer h.stop()
	h.storeAccount()

	h.worker.DeleteAccountFromClient()
	h.sync()

	assert.Equal(t, []events.Kind{events.AccountDataPurgeRequested, events.NewCredentialsNeeded}, kinds(h.drain()))
	assert.Zero(t, h.transport.disconnectCount())
	assert.Empty(t, h.settings.get().JID)
}

func TestClientWorkerDeleteAccountFromClientWhileConnected(t *testing.T) {
	h := startHarness(t)
	defer h.stop()
	h.storeAccount()
	h.login()
	h.drain()

	h.worker.DeleteAccountFromClient()
	h.sync()
	assert.Equal(t, 1, h.transport.disconnectCount())
	assert.Empty(t, kinds(h.drain()))

	h.emitState(domain.StateDisconnected)

	assert.Equal(t, []events.Kind{
		events.ConnectionStateChanged,
		events.AccountDataPurgeRequested,
		events.NewCredentialsNeeded,
	}, kinds(h.drain()))
}

func TestClientWorkerRunStopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	h := startHarness(t)
	h.storeAccount()
	h.login()
	h.stop()
}

func TestClientWorkerSyncAfterStopReturnsClosed(t *testing.T) {
	h := startHarness(t)
	h.storeAccount()
	h.login()
	h.stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := h.worker.Sync(ctx)
	require.ErrorIs(t, err, events.ErrClosed)
	require.NoError(t, ctx.Err(), "Sync must not wait for the deadline")

	// Commands after shutdown are dropped without blocking.
	h.worker.LogOut(false)
	h.worker.StartTask(func() { t.Error("task ran after shutdown") })
	assert.Zero(t, h.transport.disconnectCount())
}
