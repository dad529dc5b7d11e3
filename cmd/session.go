package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bnema/kaidan/internal/domain"
	"github.com/bnema/kaidan/internal/events"
	"golang.org/x/sync/errgroup"
)

const closeTimeout = 10 * time.Second

var errDisconnected = errors.New("disconnected before the session was established")

// errConnection carries the connection error that ended a wait.
type errConnection struct {
	err domain.ConnectionError
}

func (e errConnection) Error() string {
	return e.err.Message()
}

// runSession starts the worker and the service for the duration of fn. On
// return the session is closed without touching the persisted online state,
// and every event published so far has been applied.
func (a *app) runSession(ctx context.Context, fn func(ctx context.Context, sub *events.Subscription) error) error {
	// The worker outlives ctx so that the session can still be closed cleanly.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()

	sub := a.bus.Subscribe()
	defer sub.Close()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return a.worker.Run(gctx) })
	g.Go(func() error { return a.service.Run(gctx) })

	fnErr := fn(ctx, sub)
	closeErr := a.closeSession(ctx, sub)

	cancel()
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return errors.Join(fnErr, err)
	}

	return errors.Join(fnErr, closeErr)
}

func (a *app) closeSession(parent context.Context, sub *events.Subscription) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), closeTimeout)
	defer cancel()

	if err := a.worker.Sync(ctx); err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	if a.worker.Snapshot().State != domain.StateDisconnected {
		a.service.Close()
		_, err := waitFor(ctx, sub, func(ev events.Event) (bool, error) {
			return ev.Kind == events.ApplicationCloseReady, nil
		})
		if err != nil {
			return fmt.Errorf("close session: %w", err)
		}
	}

	if err := a.worker.Sync(ctx); err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	if err := a.service.Drain(ctx); err != nil {
		return fmt.Errorf("close session: %w", err)
	}

	return nil
}

// waitFor reads events until match reports done or an error.
func waitFor(ctx context.Context, sub *events.Subscription, match func(events.Event) (bool, error)) (events.Event, error) {
	for {
		ev, err := sub.Next(ctx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return events.Event{}, errTimedOut
			}
			return events.Event{}, err
		}

		done, err := match(ev)
		if err != nil {
			return ev, err
		}
		if done {
			return ev, nil
		}
	}
}

// untilConnected matches the end of a login attempt: Connected on success,
// otherwise the error published before Disconnected.
func untilConnected() func(events.Event) (bool, error) {
	return failOnConnectionLoss(func(ev events.Event) (bool, error) {
		if ev.Kind != events.ConnectionStateChanged {
			return false, nil
		}
		switch ev.State {
		case domain.StateConnected:
			return true, nil
		case domain.StateDisconnected:
			return false, errDisconnected
		}
		return false, nil
	})
}

// failOnConnectionLoss wraps match so that a login attempt that fails with a
// connection error, or missing credentials, ends the wait with an error.
func failOnConnectionLoss(match func(events.Event) (bool, error)) func(events.Event) (bool, error) {
	lastErr := domain.NoError
	connecting := false

	return func(ev events.Event) (bool, error) {
		switch ev.Kind {
		case events.ConnectionErrorChanged:
			lastErr = ev.Error
		case events.NewCredentialsNeeded:
			if !connecting {
				return false, domain.ErrCredentialsMissing
			}
		case events.ConnectionStateChanged:
			switch ev.State {
			case domain.StateConnecting:
				connecting = true
			case domain.StateDisconnected:
				if connecting && lastErr != domain.NoError {
					return false, errConnection{err: lastErr}
				}
			}
		}

		return match(ev)
	}
}
