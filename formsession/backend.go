package formsession

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"punchsync/worklog"
)

// Backend is one form-driven timesheet system driven through a Session.
type Backend interface {
	Name() string
	// Mode is the aggregation shape SetDay stores.
	Mode() worklog.Mode
	Session() *Session
	// Probe checks whether the current cookies are still authenticated and
	// captures identity ids when they are.
	Probe(ctx context.Context) (bool, error)
	Authenticate(ctx context.Context) error
	// SetDay submits the day's entries, which carry accounts in the
	// backend's vocabulary. It adds to what the day already holds; each
	// backend documents how existing rows are treated.
	SetDay(ctx context.Context, day worklog.Day) error
	// Lookup resolves a name substring to candidate identifiers, cached for
	// the session's lifetime.
	Lookup(ctx context.Context, kind, term string) ([]Match, error)
	LookupKinds() []string
}

// Start brings backend's session to LoggedIn, authenticating only when the
// restored cookies fail the liveness probe.
func Start(ctx context.Context, backend Backend) error {
	session := backend.Session()
	alive, err := backend.Probe(ctx)
	if err != nil {
		return fmt.Errorf("%s liveness probe: %w", backend.Name(), err)
	}
	if alive {
		log.WithField("backend", backend.Name()).Debug("restored session is alive")
		session.SetState(LoggedIn)
		return nil
	}

	session.SetState(Authenticating)
	if err := backend.Authenticate(ctx); err != nil {
		session.SetState(LoggedOut)
		return err
	}
	session.SetState(LoggedIn)
	log.WithField("backend", backend.Name()).Info("logged in")
	return nil
}

// With loads persisted state, starts the session, runs fn and always writes
// the state back, also when Start or fn fail.
func With(ctx context.Context, backend Backend, fn func(Backend) error) (err error) {
	session := backend.Session()
	if err := session.Load(); err != nil {
		return err
	}
	defer func() {
		if saveErr := session.Save(); saveErr != nil {
			if err == nil {
				err = saveErr
				return
			}
			log.WithError(saveErr).WithField("backend", backend.Name()).Warn("could not save session state")
		}
	}()

	if err := Start(ctx, backend); err != nil {
		return err
	}
	return fn(backend)
}
