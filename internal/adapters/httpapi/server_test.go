package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bnema/kaidan/internal/application"
	"github.com/bnema/kaidan/internal/domain"
	"github.com/bnema/kaidan/internal/events"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeController struct {
	mu        sync.Mutex
	status    application.Status
	statusErr error
	creds     []application.LoginCommand
	credsErr  error
	uris      []string
	logins    int
	logouts   int
	syncs     int
	entries   []application.RosterEntry
	changes   []string
}

func (f *fakeController) GetStatus(context.Context) (application.Status, error) {
	return f.status, f.statusErr
}

func (f *fakeController) SetCredentials(cmd application.LoginCommand) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.credsErr != nil {
		return f.credsErr
	}
	f.creds = append(f.creds, cmd)
	return nil
}

func (f *fakeController) LogIn() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logins++
}

func (f *fakeController) LogOut() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logouts++
}

func (f *fakeController) LogInByURI(raw string) domain.LoginByURIState {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uris = append(f.uris, raw)
	_, state := domain.ParseLoginURI(raw)
	return state
}

func (f *fakeController) SyncRoster(context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncs++
}

func (f *fakeController) RosterEntries(context.Context) ([]application.RosterEntry, error) {
	return f.entries, nil
}

func (f *fakeController) AddContact(_ context.Context, cmd application.ContactCommand) error {
	contact, err := cmd.Contact()
	if err != nil {
		return err
	}
	f.record("add " + contact.JID + " " + contact.Name + " " + cmd.Message)
	return nil
}

func (f *fakeController) RenameContact(_ context.Context, jid, name string) error {
	contact, err := application.ContactCommand{JID: jid, Name: name}.Contact()
	if err != nil {
		return err
	}
	f.record("rename " + contact.JID + " " + contact.Name)
	return nil
}

func (f *fakeController) RemoveContact(_ context.Context, jid string) error {
	f.record("remove " + jid)
	return nil
}

func (f *fakeController) record(change string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.changes = append(f.changes, change)
}

type controllerCalls struct {
	creds   []application.LoginCommand
	uris    []string
	logins  int
	logouts int
	syncs   int
	changes []string
}

func (f *fakeController) calls() controllerCalls {
	f.mu.Lock()
	defer f.mu.Unlock()
	return controllerCalls{creds: f.creds, uris: f.uris, logins: f.logins, logouts: f.logouts, syncs: f.syncs, changes: f.changes}
}

func newTestServer(t *testing.T, ctrl *fakeController) (*httptest.Server, *events.Bus) {
	t.Helper()
	bus := events.NewBus(nil)
	srv := httptest.NewServer(NewHandler(ctrl, bus).Router())
	t.Cleanup(srv.Close)
	return srv, bus
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t, &fakeController{})

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStatus(t *testing.T) {
	ctrl := &fakeController{status: application.Status{
		JID:         "alice@example.org",
		Host:        "example.org",
		Port:        5222,
		State:       domain.StateConnected,
		Error:       domain.DnsError,
		ActiveTasks: 1,
	}}
	srv, _ := newTestServer(t, ctrl)

	resp, err := http.Get(srv.URL + "/api/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body StatusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "alice@example.org", body.JID)
	assert.Equal(t, domain.StateConnected.String(), body.State)
	assert.Equal(t, domain.DnsError.String(), body.Error)
	assert.NotEmpty(t, body.ErrorMessage)
	assert.Equal(t, 1, body.ActiveTasks)
}

func TestStatusError(t *testing.T) {
	srv, _ := newTestServer(t, &fakeController{statusErr: errors.New("settings unreadable")})

	resp, err := http.Get(srv.URL + "/api/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestLoginWithCredentials(t *testing.T) {
	ctrl := &fakeController{}
	srv, _ := newTestServer(t, ctrl)

	resp, err := http.Post(srv.URL+"/api/login", "application/json",
		strings.NewReader(`{"jid":"alice@example.org","password":"secret","port":5223}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	calls := ctrl.calls()
	require.Len(t, calls.creds, 1)
	assert.Equal(t, application.LoginCommand{JID: "alice@example.org", Password: "secret", Port: 5223}, calls.creds[0])
	assert.Equal(t, 1, calls.logins)
}

func TestLoginRejectsInvalidCredentials(t *testing.T) {
	ctrl := &fakeController{credsErr: domain.ErrInvalidJID}
	srv, _ := newTestServer(t, ctrl)

	resp, err := http.Post(srv.URL+"/api/login", "application/json", strings.NewReader(`{"jid":"nope","password":"x"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Zero(t, ctrl.calls().logins)
}

func TestLoginByURI(t *testing.T) {
	ctrl := &fakeController{}
	srv, _ := newTestServer(t, ctrl)

	resp, err := http.Post(srv.URL+"/api/login", "application/json", strings.NewReader(`{"uri":"not a uri"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	calls := ctrl.calls()
	assert.Equal(t, []string{"not a uri"}, calls.uris)
	assert.Zero(t, calls.logins)
}

func TestLogoutAndRosterSync(t *testing.T) {
	ctrl := &fakeController{entries: []application.RosterEntry{
		{JID: "bob@example.org", Name: "Bob", Availability: domain.AvailabilityAway, Status: "lunch", Muted: true},
	}}
	srv, _ := newTestServer(t, ctrl)

	for _, path := range []string{"/api/logout", "/api/roster/sync"} {
		resp, err := http.Post(srv.URL+path, "application/json", nil)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusAccepted, resp.StatusCode, path)
	}
	calls := ctrl.calls()
	assert.Equal(t, 1, calls.logouts)
	assert.Equal(t, 1, calls.syncs)

	resp, err := http.Get(srv.URL + "/api/roster")
	require.NoError(t, err)
	defer resp.Body.Close()

	var contacts []ContactResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&contacts))
	assert.Equal(t, []ContactResponse{
		{JID: "bob@example.org", Name: "Bob", Availability: "away", Status: "lunch", Muted: true},
	}, contacts)
}

func TestRosterContactChanges(t *testing.T) {
	ctrl := &fakeController{}
	srv, _ := newTestServer(t, ctrl)

	resp, err := http.Post(srv.URL+"/api/roster/contacts", "application/json",
		strings.NewReader(`{"jid":"dave@example.org","name":"Dave","message":"hi"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	req, err := http.NewRequest(http.MethodPut, srv.URL+"/api/roster/contacts/bob@example.org", strings.NewReader(`{"name":"Robert"}`))
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	req, err = http.NewRequest(http.MethodDelete, srv.URL+"/api/roster/contacts/carol@example.org", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	assert.Equal(t, []string{
		"add dave@example.org Dave hi",
		"rename bob@example.org Robert",
		"remove carol@example.org",
	}, ctrl.calls().changes)
}

func TestRosterContactChangeRejectsInvalidJID(t *testing.T) {
	ctrl := &fakeController{}
	srv, _ := newTestServer(t, ctrl)

	resp, err := http.Post(srv.URL+"/api/roster/contacts", "application/json", strings.NewReader(`{"jid":"not a jid"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/api/roster/contacts", "application/json", strings.NewReader(`{`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, ctrl.calls().changes)
}

func TestEventMessageCarriesContactAndPresence(t *testing.T) {
	msg := NewEventMessage(events.Event{Kind: events.ContactRemoved, Contact: domain.Contact{JID: "bob@example.org"}})
	require.NotNil(t, msg.Contact)
	assert.Equal(t, "bob@example.org", msg.Contact.JID)
	assert.Nil(t, msg.Presence)

	msg = NewEventMessage(events.Event{Kind: events.PresenceChanged, Presence: domain.Presence{
		JID: "bob@example.org", Resource: "phone", Availability: domain.AvailabilityDND, Status: "busy",
	}})
	require.NotNil(t, msg.Presence)
	assert.Equal(t, PresenceResponse{JID: "bob@example.org", Resource: "phone", Availability: "dnd", Status: "busy"}, *msg.Presence)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, &fakeController{})

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestEventStream(t *testing.T) {
	srv, bus := newTestServer(t, &fakeController{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/events", nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	// The subscription is registered after the handshake.
	go func() {
		for ctx.Err() == nil {
			bus.Publish(events.StateChanged(domain.StateConnecting))
			time.Sleep(20 * time.Millisecond)
		}
	}()

	var msg EventMessage
	require.NoError(t, wsjson.Read(ctx, conn, &msg))
	assert.Equal(t, string(events.ConnectionStateChanged), msg.Kind)
	assert.Equal(t, domain.StateConnecting.String(), msg.State)
	assert.False(t, msg.At.IsZero())

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, ""))
}

func TestServeStopsEventStreamsOnShutdown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	served := make(chan error, 1)
	go func() { served <- NewHandler(&fakeController{}, events.NewBus(nil)).serve(ctx, ln) }()

	dialCtx, dialCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer dialCancel()

	conn, _, err := websocket.Dial(dialCtx, "ws://"+ln.Addr().String()+"/events", nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	cancel()

	select {
	case err := <-served:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after its context ended")
	}

	_, _, err = conn.Read(dialCtx)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusGoingAway, websocket.CloseStatus(err))
}
