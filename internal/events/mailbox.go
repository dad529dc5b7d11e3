package events

import (
	"context"
	"errors"
	"sync"
)

var ErrClosed = errors.New("mailbox closed")

// Mailbox is an unbounded FIFO with a single consumer. Push never blocks, so
// producers on other goroutines cannot stall behind a slow consumer.
type Mailbox[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool
	ready  chan struct{}
}

func NewMailbox[T any]() *Mailbox[T] {
	return &Mailbox[T]{ready: make(chan struct{}, 1)}
}

// Push appends v. It reports false when the mailbox is closed.
func (m *Mailbox[T]) Push(v T) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.items = append(m.items, v)
	m.mu.Unlock()

	m.signal()
	return true
}

// TryPop removes the oldest item without waiting.
func (m *Mailbox[T]) TryPop() (T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var zero T
	if len(m.items) == 0 {
		return zero, false
	}

	v := m.items[0]
	m.items[0] = zero
	m.items = m.items[1:]
	return v, true
}

// Ready fires at least once after every Push. Spurious wakeups are possible.
func (m *Mailbox[T]) Ready() <-chan struct{} {
	return m.ready
}

// Next waits for the oldest item. Items pushed before Close are still
// delivered; ErrClosed is returned once the mailbox is closed and empty.
func (m *Mailbox[T]) Next(ctx context.Context) (T, error) {
	var zero T
	for {
		if v, ok := m.TryPop(); ok {
			return v, nil
		}

		m.mu.Lock()
		closed := m.closed
		m.mu.Unlock()
		if closed {
			return zero, ErrClosed
		}

		select {
		case <-m.ready:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

func (m *Mailbox[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

func (m *Mailbox[T]) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	m.signal()
}

func (m *Mailbox[T]) signal() {
	select {
	case m.ready <- struct{}{}:
	default:
	}
}
