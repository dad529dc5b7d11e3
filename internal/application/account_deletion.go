package application

import (
	"errors"

	"github.com/bnema/kaidan/internal/domain"
	"github.com/bnema/kaidan/internal/events"
)

// accountDeletion tracks a deletion that spans several worker events.
type accountDeletion struct {
	fromServer      bool // waiting for a session to send the request
	requestSent     bool
	wasConnected    bool // the session existed before the deletion started
	deletedOnServer bool
	fromClient      bool
}

func (d accountDeletion) inProgress() bool {
	return d.fromServer || d.deletedOnServer || d.fromClient
}

func (w *ClientWorker) deleteAccountFromClientAndServer() {
	if w.deletion.inProgress() {
		w.logger.Debug().Msg("account deletion already in progress")
		return
	}

	w.deletion = accountDeletion{fromServer: true, wasConnected: w.state == domain.StateConnected}

	switch w.state {
	case domain.StateConnected:
		w.sendAccountDeletion()
	case domain.StateConnecting:
		// Continues once the session is up.
	default:
		if !w.logIn() {
			w.failPendingAccountDeletion("credentials missing")
		}
	}
}

func (w *ClientWorker) deleteAccountFromClient() {
	if w.state == domain.StateDisconnected {
		w.purgeAccount()
		return
	}

	w.deletion.fromClient = true
	w.logOut(false)
}

// continueAccountDeletion sends the request once a session opened for the
// deletion is established.
func (w *ClientWorker) continueAccountDeletion() {
	if w.deletion.fromServer && !w.deletion.requestSent {
		w.sendAccountDeletion()
	}
}

func (w *ClientWorker) sendAccountDeletion() {
	w.deletion.requestSent = true
	w.logger.Info().Msg("requesting account deletion on server")

	if err := w.transport.DeleteAccount(w.ctx); err != nil {
		w.onAccountDeletionFromServerFailed(err)
	}
}

func (w *ClientWorker) onAccountDeletedFromServer() {
	w.logger.Info().Msg("account deleted on server")

	w.deletion.fromServer = false
	w.deletion.deletedOnServer = true

	if w.state == domain.StateDisconnected {
		w.purgeAccount()
		return
	}
	w.logOut(false)
}

func (w *ClientWorker) onAccountDeletionFromServerFailed(err error) {
	if err == nil {
		err = errors.New("account deletion failed")
	}
	w.logger.Warn().Err(err).Msg("account deletion on server failed")

	wasConnected := w.deletion.wasConnected
	w.deletion = accountDeletion{}
	w.events.Publish(events.Event{Kind: events.AccountDeletionFailed, Reason: err.Error()})

	if !wasConnected {
		w.logOut(false)
	}
}

// failPendingAccountDeletion reports a deletion whose session never came up.
func (w *ClientWorker) failPendingAccountDeletion(reason string) {
	if !w.deletion.fromServer || w.deletion.requestSent {
		return
	}

	w.deletion = accountDeletion{}
	w.events.Publish(events.Event{Kind: events.AccountDeletionFailed, Reason: reason})
}

// completeAccountDeletion purges local data once the session of a finished
// deletion is closed.
func (w *ClientWorker) completeAccountDeletion() {
	if w.deletion.deletedOnServer || w.deletion.fromClient {
		w.purgeAccount()
	}
}

func (w *ClientWorker) purgeAccount() {
	w.deletion = accountDeletion{}

	w.events.Publish(events.Event{Kind: events.AccountDataPurgeRequested})

	if err := w.credentials.DeleteSettings(w.ctx); err != nil {
		w.logger.Error().Err(err).Msg("delete account settings")
	}
	if err := w.credentials.DeleteCredentials(w.ctx); err != nil {
		w.logger.Error().Err(err).Msg("delete account credentials")
	}

	w.tasks.reset()
	w.sessions = 0
	w.sessionWithNewCreds = false
}
