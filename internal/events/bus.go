package events

import (
	"context"
	"sync"

	"github.com/bnema/kaidan/internal/ports"
)

// Publisher is what producers depend on.
type Publisher interface {
	Publish(ev Event)
}

// Bus fans typed events out to subscribers. Every subscriber owns an
// unbounded mailbox, so events are neither dropped nor reordered and a
// publisher never blocks on a consumer.
type Bus struct {
	mu    sync.RWMutex
	subs  map[*Subscription]struct{}
	clock ports.Clock
}

var _ Publisher = (*Bus)(nil)

func NewBus(clock ports.Clock) *Bus {
	if clock == nil {
		clock = ports.SystemClock{}
	}

	return &Bus{subs: make(map[*Subscription]struct{}), clock: clock}
}

func (b *Bus) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = b.clock.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subs {
		sub.box.Push(ev)
	}
}

func (b *Bus) Subscribe() *Subscription {
	sub := &Subscription{bus: b, box: NewMailbox[Event]()}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	return sub
}

// Consume runs fn for every event on its own goroutine until ctx is done.
// The returned channel is closed when the loop has exited.
func (b *Bus) Consume(ctx context.Context, fn func(Event)) <-chan struct{} {
	sub := b.Subscribe()
	done := make(chan struct{})

	go func() {
		defer close(done)
		defer sub.Close()

		for {
			ev, err := sub.Next(ctx)
			if err != nil {
				return
			}
			fn(ev)
		}
	}()

	return done
}

type Subscription struct {
	bus  *Bus
	box  *Mailbox[Event]
	once sync.Once
}

func (s *Subscription) Next(ctx context.Context) (Event, error) {
	return s.box.Next(ctx)
}

// Inject delivers ev to this subscriber only. It reports false once the
// subscription is closed.
func (s *Subscription) Inject(ev Event) bool {
	return s.box.Push(ev)
}

func (s *Subscription) Pending() int {
	return s.box.Len()
}

func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s)
		s.bus.mu.Unlock()

		s.box.Close()
	})
}
