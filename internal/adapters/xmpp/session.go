package xmpp

import (
	"sync"
	"time"

	"github.com/bnema/kaidan/internal/domain"
)

// pendingQuery remembers what an outstanding IQ was about.
type pendingQuery struct {
	kind    iqKind
	contact domain.Contact
}

type session struct {
	cfg  domain.ConnectionConfig
	done chan struct{}

	mu            sync.Mutex
	client        client
	closing       bool
	finished      bool
	keepAliveLost bool
	pending       map[string]pendingQuery
	pingSentAt    time.Time
}

func newSession(cfg domain.ConnectionConfig) *session {
	return &session{
		cfg:     cfg,
		done:    make(chan struct{}),
		pending: make(map[string]pendingQuery),
	}
}

// attach stores the connected client. It reports false when the session was
// shut down while connecting.
func (s *session) attach(c client) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.client = c
	return true
}

func (s *session) connectedClient() client {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return nil
	}
	return s.client
}

func (s *session) shutdown() {
	s.mu.Lock()
	s.closing = true
	c := s.client
	s.mu.Unlock()

	if c != nil {
		_ = c.Close()
	}
}

func (s *session) markClosing() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closing = true
}

func (s *session) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

func (s *session) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.finished {
		s.finished = true
		close(s.done)
	}
}

func (s *session) track(id string, q pendingQuery) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[id] = q
}

func (s *session) take(id string) pendingQuery {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.pending[id]
	delete(s.pending, id)
	return q
}

// takeKind removes one outstanding query of kind, for results that arrive
// without their request id.
func (s *session) takeKind(kind iqKind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, q := range s.pending {
		if q.kind == kind {
			delete(s.pending, id)
			return true
		}
	}
	return false
}

func (s *session) pinged() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pingSentAt.IsZero() {
		s.pingSentAt = time.Now()
	}
}

func (s *session) pong() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pingSentAt = time.Time{}
}

func (s *session) pingOverdue(timeout time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.pingSentAt.IsZero() && time.Since(s.pingSentAt) > timeout
}

func (s *session) failKeepAlive() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keepAliveLost = true
}

func (s *session) keepAliveFailed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keepAliveLost
}
