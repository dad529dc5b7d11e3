// Package xmpp implements the session transport on top of go-xmpp.
package xmpp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bnema/kaidan/internal/domain"
	kaidanlog "github.com/bnema/kaidan/internal/log"
	"github.com/bnema/kaidan/internal/ports"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	goxmpp "github.com/xmppo/go-xmpp"
)

const (
	eventBuffer   = 32
	directTLSPort = 5223
	// PingC2S sends every ping under this id.
	pingID = "c2s1"
)

var errSessionExists = errors.New("xmpp session already active")

// client is the part of *goxmpp.Client the transport uses.
type client interface {
	Recv() (interface{}, error)
	Close() error
	PingC2S(jid, server string) error
	RawInformationQuery(from, to, id, iqType, requestNamespace, body string) (string, error)
	SendOrg(org string) (int, error)
}

type dialFunc func(opts goxmpp.Options) (client, error)

func dialGoXMPP(opts goxmpp.Options) (client, error) {
	c, err := opts.NewClient()
	if err != nil {
		return nil, err
	}
	return c, nil
}

type iqKind int

const (
	iqPasswordChange iqKind = iota + 1
	iqAccountDeletion
	iqRoster
	iqRosterSet
	iqRosterRemove
)

type Option func(*Transport)

func WithLogger(logger zerolog.Logger) Option {
	return func(t *Transport) {
		t.logger = logger
	}
}

func withDialer(dial dialFunc) Option {
	return func(t *Transport) {
		t.dial = dial
	}
}

// Transport runs at most one XMPP session at a time and reports its progress
// on Events in the order it happened.
type Transport struct {
	events chan ports.TransportEvent
	dial   dialFunc
	logger zerolog.Logger
	closed chan struct{}
	once   sync.Once

	mu      sync.Mutex
	session *session
}

var _ ports.Transport = (*Transport)(nil)

func NewTransport(opts ...Option) *Transport {
	t := &Transport{
		events: make(chan ports.TransportEvent, eventBuffer),
		dial:   dialGoXMPP,
		logger: kaidanlog.WithComponent("xmpp"),
		closed: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}

	return t
}

func (t *Transport) Events() <-chan ports.TransportEvent {
	return t.events
}

// Close stops event delivery and ends a running session.
func (t *Transport) Close() error {
	t.once.Do(func() { close(t.closed) })

	t.mu.Lock()
	sess := t.session
	t.mu.Unlock()
	if sess != nil {
		sess.shutdown()
	}

	return nil
}

func (t *Transport) Connect(ctx context.Context, cfg domain.ConnectionConfig) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !domain.ValidBareJID(domain.BareJID(cfg.JID)) && !cfg.RegisterOnConnect {
		return ports.TransportError{Kind: ports.TransportErrorSocket, Socket: ports.SocketHostNotFound, Err: domain.ErrInvalidJID}
	}

	t.mu.Lock()
	if t.session != nil {
		t.mu.Unlock()
		return errSessionExists
	}
	sess := newSession(cfg)
	t.session = sess
	t.mu.Unlock()

	go t.run(sess)
	return nil
}

func (t *Transport) Disconnect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	sess := t.session
	t.mu.Unlock()
	if sess == nil {
		return domain.ErrNotConnected
	}

	sess.shutdown()
	return nil
}

func (t *Transport) ChangePassword(ctx context.Context, newPassword string) error {
	return t.query(ctx, pendingQuery{kind: iqPasswordChange}, "set", nsRegister, func(cfg domain.ConnectionConfig) (string, string) {
		return domain.JIDDomain(cfg.JID), passwordChangeBody(cfg.JID, newPassword)
	})
}

func (t *Transport) DeleteAccount(ctx context.Context) error {
	return t.query(ctx, pendingQuery{kind: iqAccountDeletion}, "set", nsRegister, func(cfg domain.ConnectionConfig) (string, string) {
		return domain.JIDDomain(cfg.JID), "<remove/>"
	})
}

func (t *Transport) RequestRoster(ctx context.Context) error {
	return t.query(ctx, pendingQuery{kind: iqRoster}, "get", nsRoster, func(cfg domain.ConnectionConfig) (string, string) {
		return domain.BareJID(cfg.JID), ""
	})
}

func (t *Transport) AddContact(ctx context.Context, contact domain.Contact, message string) error {
	if err := t.setRosterItem(ctx, contact); err != nil {
		return err
	}

	c := t.current().connectedClient()
	if c == nil {
		return domain.ErrNotConnected
	}
	if _, err := c.SendOrg(subscribeStanza(contact.JID, message)); err != nil {
		return fmt.Errorf("request subscription: %w", err)
	}

	return nil
}

func (t *Transport) RenameContact(ctx context.Context, contact domain.Contact) error {
	return t.setRosterItem(ctx, contact)
}

func (t *Transport) RemoveContact(ctx context.Context, jid string) error {
	contact := domain.Contact{JID: domain.BareJID(jid)}
	return t.query(ctx, pendingQuery{kind: iqRosterRemove, contact: contact}, "set", nsRoster, func(cfg domain.ConnectionConfig) (string, string) {
		return domain.BareJID(cfg.JID), rosterRemoveBody(contact.JID)
	})
}

func (t *Transport) setRosterItem(ctx context.Context, contact domain.Contact) error {
	contact.JID = domain.BareJID(contact.JID)
	return t.query(ctx, pendingQuery{kind: iqRosterSet, contact: contact}, "set", nsRoster, func(cfg domain.ConnectionConfig) (string, string) {
		return domain.BareJID(cfg.JID), rosterItemBody(contact)
	})
}

func (t *Transport) current() *session {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.session
}

func (t *Transport) query(ctx context.Context, q pendingQuery, iqType, namespace string, build func(domain.ConnectionConfig) (to string, body string)) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	sess := t.current()
	c := sess.connectedClient()
	if c == nil {
		return domain.ErrNotConnected
	}

	to, body := build(sess.cfg)
	id := uuid.NewString()
	sess.track(id, q)

	if _, err := c.RawInformationQuery(sess.cfg.JID, to, id, iqType, namespace, body); err != nil {
		sess.take(id)
		return fmt.Errorf("send %s query: %w", namespace, err)
	}

	return nil
}

func (t *Transport) run(sess *session) {
	t.emit(ports.TransportEvent{Kind: ports.TransportStateChanged, State: domain.StateConnecting})
	t.end(sess, t.serve(sess))
}

// serve runs the session until it ends and returns why it failed, or nil
// when it was closed on request.
func (t *Transport) serve(sess *session) *ports.TransportError {
	if sess.cfg.RegisterOnConnect {
		// go-xmpp authenticates while opening the stream, so there is no
		// unauthenticated session to register on.
		return &ports.TransportError{
			Kind:   ports.TransportErrorStream,
			Stream: ports.StreamFeatureNotImplemented,
			Err:    domain.ErrRegistrationBlocked,
		}
	}

	c, err := t.dial(options(sess.cfg))
	if err != nil {
		if sess.isClosing() {
			return nil
		}
		terr := Classify(err)
		return &terr
	}

	if !sess.attach(c) {
		_ = c.Close()
		return nil
	}

	t.logger.Info().Str(kaidanlog.FieldJID, sess.cfg.JID).Msg("session established")
	t.emit(ports.TransportEvent{Kind: ports.TransportStateChanged, State: domain.StateConnected})

	go t.keepAlive(sess, c)
	return t.receive(sess, c)
}

func (t *Transport) receive(sess *session, c client) *ports.TransportError {
	for {
		stanza, err := c.Recv()
		if err != nil {
			switch {
			case sess.isClosing():
				return nil
			case sess.keepAliveFailed():
				return &ports.TransportError{Kind: ports.TransportErrorKeepAlive, Err: err}
			default:
				terr := Classify(err)
				return &terr
			}
		}

		switch v := stanza.(type) {
		case goxmpp.IQ:
			t.handleIQ(sess, v.ID, v.Type, v.Query)
		case goxmpp.Roster:
			contacts := make([]domain.Contact, 0, len(v))
			for _, contact := range v {
				contacts = append(contacts, domain.Contact{JID: domain.BareJID(contact.Remote), Name: contact.Name})
			}
			if sess.takeKind(iqRoster) {
				t.emit(ports.TransportEvent{Kind: ports.TransportRosterReceived, Contacts: contacts})
			}
		case goxmpp.Presence:
			t.handlePresence(v)
		}
	}
}

func (t *Transport) handleIQ(sess *session, id, iqType string, payload []byte) {
	if id == pingID {
		sess.pong()
		return
	}

	q := sess.take(id)
	failed := iqType == "error"

	switch q.kind {
	case iqPasswordChange:
		if failed {
			t.emit(ports.TransportEvent{Kind: ports.TransportPasswordChangeFailed, Err: iqError(payload)})
			return
		}
		t.emit(ports.TransportEvent{Kind: ports.TransportPasswordChanged})
	case iqAccountDeletion:
		if failed {
			t.emit(ports.TransportEvent{Kind: ports.TransportAccountDeletionFailed, Err: iqError(payload)})
			return
		}
		// The server closes the stream next.
		sess.markClosing()
		t.emit(ports.TransportEvent{Kind: ports.TransportAccountDeleted})
	case iqRoster:
		if failed {
			err := iqError(payload)
			t.logger.Warn().Err(err).Msg("roster request rejected")
			t.emit(ports.TransportEvent{Kind: ports.TransportRosterFailed, Err: err})
			return
		}
		contacts, err := parseRoster(payload)
		if err != nil {
			t.logger.Warn().Err(err).Msg("decode roster")
			t.emit(ports.TransportEvent{Kind: ports.TransportRosterFailed, Err: fmt.Errorf("decode roster: %w", err)})
			return
		}
		t.emit(ports.TransportEvent{Kind: ports.TransportRosterReceived, Contacts: contacts})
	case iqRosterSet, iqRosterRemove:
		if failed {
			t.emit(ports.TransportEvent{Kind: ports.TransportContactChangeFailed, Contact: q.contact, Err: iqError(payload)})
			return
		}
		kind := ports.TransportContactUpdated
		if q.kind == iqRosterRemove {
			kind = ports.TransportContactRemoved
		}
		t.emit(ports.TransportEvent{Kind: kind, Contact: q.contact})
	}
}

// handlePresence forwards availability changes. Subscription requests and
// other presence types are not tracked.
func (t *Transport) handlePresence(p goxmpp.Presence) {
	if p.Type != "" && p.Type != "unavailable" {
		t.logger.Debug().Str(kaidanlog.FieldJID, p.From).Str("type", p.Type).Msg("ignoring presence")
		return
	}

	bare := domain.BareJID(p.From)
	if bare == "" {
		return
	}
	_, resource, _ := strings.Cut(p.From, "/")

	t.emit(ports.TransportEvent{Kind: ports.TransportPresenceReceived, Presence: domain.Presence{
		JID:          bare,
		Resource:     resource,
		Availability: domain.AvailabilityFromShow(p.Type, p.Show),
		Status:       p.Status,
	}})
}

func (t *Transport) keepAlive(sess *session, c client) {
	interval := sess.cfg.KeepAliveInterval
	if interval <= 0 {
		return
	}
	timeout := sess.cfg.KeepAliveTimeout
	if timeout <= 0 {
		timeout = interval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-sess.done:
			return
		case <-ticker.C:
		}

		if sess.pingOverdue(timeout) {
			t.logger.Warn().Dur("timeout", timeout).Msg("keep-alive ping unanswered")
			sess.failKeepAlive()
			_ = c.Close()
			return
		}

		if err := c.PingC2S(sess.cfg.JID, domain.JIDDomain(sess.cfg.JID)); err != nil {
			t.logger.Warn().Err(err).Msg("send keep-alive ping")
			sess.failKeepAlive()
			_ = c.Close()
			return
		}
		sess.pinged()
	}
}

// end frees the transport for the next Connect before reporting the session
// as gone, so a Connect issued on Disconnected is accepted.
func (t *Transport) end(sess *session, terr *ports.TransportError) {
	t.release(sess)

	if terr != nil {
		t.logger.Warn().Err(terr.Err).Msg("session failed")
		t.emit(ports.TransportEvent{Kind: ports.TransportFailed, Error: *terr})
	}
	t.emit(ports.TransportEvent{Kind: ports.TransportStateChanged, State: domain.StateDisconnected})
}

func (t *Transport) emit(ev ports.TransportEvent) {
	select {
	case t.events <- ev:
	case <-t.closed:
	}
}

func (t *Transport) release(sess *session) {
	sess.finish()

	t.mu.Lock()
	if t.session == sess {
		t.session = nil
	}
	t.mu.Unlock()
}

func options(cfg domain.ConnectionConfig) goxmpp.Options {
	serverName := domain.JIDDomain(cfg.JID)
	host := cfg.Host
	if host == "" {
		host = serverName
	}
	port := cfg.Port
	if port <= 0 {
		port = domain.PortDefault
	}

	return goxmpp.Options{
		Host:     net.JoinHostPort(host, strconv.Itoa(port)),
		User:     domain.BareJID(cfg.JID),
		Password: cfg.Password,
		Resource: cfg.Resource,
		NoTLS:    port != directTLSPort,
		StartTLS: port != directTLSPort,
		TLSConfig: &tls.Config{
			ServerName:         serverName,
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: cfg.InsecureSkipTLS, //nolint:gosec // opt-in for self-hosted servers
		},
		Session: true,
	}
}
