// Package timer is the session state machine. Elapsed time is never counted
// by ticks: it is always derived from the persisted session as
// accumulated + (now - lastUpdate), so any suspension of the process heals
// itself the next time the engine is asked.
package timer

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/christopherklint97/punchclock/internal/apperr"
	"github.com/christopherklint97/punchclock/internal/relay"
	"github.com/christopherklint97/punchclock/internal/store"
)

type State int

const (
	Idle State = iota
	Running
	Paused
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Paused:
		return "paused"
	case Closed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Messenger receives fire-and-forget updates for the background relay.
type Messenger interface {
	Post(relay.Message)
}

// Status is the engine's view of the session at one instant.
type Status struct {
	State   State
	Session *store.ActiveSession
	Elapsed time.Duration
	At      time.Time
}

type Engine struct {
	store      *store.Store
	now        func() time.Time
	relay      Messenger
	onCheckOut func(store.Record) error
	logger     *slog.Logger

	mu      sync.Mutex
	state   State
	tracked int64 // check-in id of the last session this engine observed
	paused  bool
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithRelay(m Messenger) Option {
	return func(e *Engine) { e.relay = m }
}

// WithCheckOutHook runs fn after every persisted check-out. Its error is
// logged, never returned to the caller of Stop.
func WithCheckOutHook(fn func(store.Record) error) Option {
	return func(e *Engine) { e.onCheckOut = fn }
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func New(s *store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:  s,
		now:    time.Now,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// State is the state observed by the last operation on this engine.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) observe(s *store.ActiveSession) {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch {
	case s == nil:
		e.state, e.tracked, e.paused = Idle, 0, false
	case s.Paused:
		e.state, e.tracked, e.paused = Paused, s.CheckInID, true
	default:
		e.state, e.tracked, e.paused = Running, s.CheckInID, false
	}
}

func (e *Engine) trackedID() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tracked
}

func (e *Engine) status(s *store.ActiveSession, now time.Time) Status {
	st := Status{State: Idle, Session: s, At: now}
	if s != nil {
		st.State = Running
		if s.Paused {
			st.State = Paused
		}
		st.Elapsed = s.ElapsedAt(now)
	}
	return st
}

func (e *Engine) post(msg relay.Message) {
	if e.relay == nil {
		return
	}
	e.relay.Post(msg)
}

// Start opens a session for employee: a check-in record plus a running
// ActiveSession with nothing accumulated.
func (e *Engine) Start(employee string) (store.Record, error) {
	employee = strings.TrimSpace(employee)
	if employee == "" {
		return store.Record{}, apperr.Invalid("employee", "name is required")
	}

	now := e.now()
	var checkIn store.Record
	var session *store.ActiveSession

	err := e.store.Update(func(tx *store.Tx) error {
		active, err := tx.ActiveSession()
		if err != nil {
			return err
		}
		if active != nil {
			return &apperr.StateConflictError{
				Op:     "start",
				Reason: fmt.Sprintf("session started at %s is still open", active.StartedAt.Format(time.RFC3339)),
				Err:    apperr.ErrAlreadyActive,
			}
		}

		checkIn, err = tx.AppendRecord(store.Record{
			Type:      store.CheckIn,
			Timestamp: now,
			Employee:  employee,
		})
		if err != nil {
			return fmt.Errorf("writing check-in: %w", err)
		}

		session = &store.ActiveSession{
			CheckInID:  checkIn.ID,
			StartedAt:  now,
			Employee:   employee,
			LastUpdate: now,
		}
		if err := tx.PutActiveSession(session); err != nil {
			if _, derr := tx.DeleteRecord(checkIn.ID); derr != nil {
				e.logger.Error("removing check-in after failed session write", "id", checkIn.ID, "error", derr)
			}
			return fmt.Errorf("writing active session: %w", err)
		}
		if err := tx.PutEmployeeName(employee); err != nil {
			e.logger.Warn("saving employee name", "error", err)
		}
		return nil
	})
	if err != nil {
		return store.Record{}, err
	}

	e.observe(session)
	e.logger.Info("checked in", "id", checkIn.ID, "employee", employee)
	e.post(relay.Init(session, now))
	return checkIn, nil
}

// Tick recomputes elapsed time from the persisted session without writing.
func (e *Engine) Tick() (Status, error) {
	s, err := e.store.ActiveSession()
	if err != nil {
		return Status{}, err
	}
	e.observe(s)
	return e.status(s, e.now()), nil
}

// Checkpoint folds the running delta into the persisted accumulated time.
func (e *Engine) Checkpoint() (Status, error) {
	now := e.now()
	var session *store.ActiveSession

	err := e.store.Update(func(tx *store.Tx) error {
		var err error
		session, err = tx.ActiveSession()
		if err != nil || session == nil || session.Paused {
			return err
		}
		session.Fold(now)
		return tx.PutActiveSession(session)
	})
	if err != nil {
		return Status{}, err
	}

	e.observe(session)
	return e.status(session, now), nil
}

// Pause stops the clock. Pausing a paused session changes nothing.
func (e *Engine) Pause() (Status, error) {
	now := e.now()
	var session *store.ActiveSession
	changed := false

	err := e.store.Update(func(tx *store.Tx) error {
		var err error
		session, err = tx.ActiveSession()
		if err != nil {
			return err
		}
		if session == nil {
			return apperr.Conflict("pause", apperr.ErrNoActiveSession)
		}
		if session.Paused {
			return nil
		}
		session.Fold(now)
		session.Paused = true
		changed = true
		return tx.PutActiveSession(session)
	})
	if err != nil {
		return Status{}, err
	}

	e.observe(session)
	if changed {
		e.logger.Info("session paused", "id", session.CheckInID, "accumulated", session.Accumulated())
		e.post(relay.TogglePause{IsPaused: true})
	}
	return e.status(session, now), nil
}

// Resume restarts the clock from now; accumulated time is kept as is.
// Resuming a running session changes nothing.
func (e *Engine) Resume() (Status, error) {
	now := e.now()
	var session *store.ActiveSession
	changed := false

	err := e.store.Update(func(tx *store.Tx) error {
		var err error
		session, err = tx.ActiveSession()
		if err != nil {
			return err
		}
		if session == nil {
			return apperr.Conflict("resume", apperr.ErrNoActiveSession)
		}
		if !session.Paused {
			return nil
		}
		session.Paused = false
		session.LastUpdate = now
		changed = true
		return tx.PutActiveSession(session)
	})
	if err != nil {
		return Status{}, err
	}

	e.observe(session)
	if changed {
		e.logger.Info("session resumed", "id", session.CheckInID)
		e.post(relay.Init(session, now))
	}
	return e.status(session, now), nil
}

// Stop closes the session with a check-out carrying the worked time and
// retires the ActiveSession.
func (e *Engine) Stop() (store.Record, error) {
	now := e.now()
	tracked := e.trackedID()
	var checkOut store.Record

	err := e.store.Update(func(tx *store.Tx) error {
		session, err := tx.ActiveSession()
		if err != nil {
			return err
		}
		records, err := tx.Records()
		if err != nil {
			return err
		}
		if session == nil {
			if tracked != 0 {
				if _, closed := store.CheckOutFor(records, tracked); closed {
					return apperr.Conflict("stop", apperr.ErrAlreadyClosed)
				}
			}
			return apperr.Conflict("stop", apperr.ErrNoActiveSession)
		}
		if _, closed := store.CheckOutFor(records, session.CheckInID); closed {
			return apperr.Conflict("stop", apperr.ErrAlreadyClosed)
		}

		wasPaused := session.Paused
		session.Fold(now)
		worked := session.AccumulatedSeconds

		checkOut, err = tx.AppendRecord(store.Record{
			Type:            store.CheckOut,
			Timestamp:       now,
			Employee:        session.Employee,
			CheckInID:       session.CheckInID,
			WorkedSeconds:   &worked,
			WorkedFormatted: store.FormatClock(session.Accumulated()),
			Paused:          &wasPaused,
		})
		if err != nil {
			return fmt.Errorf("writing check-out: %w", err)
		}
		return tx.ClearActiveSession()
	})
	if err != nil {
		return store.Record{}, err
	}

	// Closed until the next operation observes the store again.
	e.mu.Lock()
	e.state, e.paused = Closed, false
	e.mu.Unlock()
	e.logger.Info("checked out", "id", checkOut.ID, "check_in", checkOut.CheckInID, "worked", checkOut.WorkedFormatted)

	e.post(relay.StopTimer{})
	if e.onCheckOut != nil {
		if err := e.onCheckOut(checkOut); err != nil {
			e.logger.Warn("check-out hook failed", "id", checkOut.ID, "error", err)
		}
	}
	return checkOut, nil
}

// Cancel discards the open session and its check-in without a check-out.
// When the session this engine was tracking has already been checked out
// (by another engine sharing the store) it fails and writes nothing.
func (e *Engine) Cancel() error {
	tracked := e.trackedID()
	var cancelled int64

	err := e.store.Update(func(tx *store.Tx) error {
		session, err := tx.ActiveSession()
		if err != nil {
			return err
		}
		records, err := tx.Records()
		if err != nil {
			return err
		}
		if tracked != 0 && (session == nil || session.CheckInID != tracked) {
			if _, closed := store.CheckOutFor(records, tracked); closed {
				return apperr.Conflict("cancel", apperr.ErrAlreadyClosed)
			}
		}
		if session == nil {
			return apperr.Conflict("cancel", apperr.ErrNoActiveSession)
		}
		if _, closed := store.CheckOutFor(records, session.CheckInID); closed {
			return apperr.Conflict("cancel", apperr.ErrAlreadyClosed)
		}

		if _, err := tx.DeleteRecord(session.CheckInID); err != nil {
			return fmt.Errorf("deleting check-in: %w", err)
		}
		cancelled = session.CheckInID
		return tx.ClearActiveSession()
	})
	if err != nil {
		return err
	}

	e.observe(nil)
	e.logger.Info("session cancelled", "check_in", cancelled)
	e.post(relay.StopTimer{})
	return nil
}

// Recover reconciles the persisted session with the record log at process
// start. A session whose check-in is missing or already closed is discarded
// and logged; that is a repair, not an error. Recovering twice against the
// same state leaves the session untouched.
func (e *Engine) Recover() (Status, error) {
	return e.reconcile(true)
}

// Refresh is the visibility-restored checkpoint: the same re-derivation as
// Recover, telling the relay only when the session changed underneath.
func (e *Engine) Refresh() (Status, error) {
	return e.reconcile(false)
}

func (e *Engine) reconcile(announce bool) (Status, error) {
	now := e.now()
	var session *store.ActiveSession
	var orphan *store.ActiveSession

	err := e.store.Update(func(tx *store.Tx) error {
		var err error
		session, err = tx.ActiveSession()
		if err != nil || session == nil {
			return err
		}
		records, err := tx.Records()
		if err != nil {
			return err
		}
		checkIn, found := store.FindRecord(records, session.CheckInID)
		_, closed := store.CheckOutFor(records, session.CheckInID)
		if found && checkIn.Type == store.CheckIn && !closed {
			return nil
		}
		orphan, session = session, nil
		return tx.ClearActiveSession()
	})
	if err != nil {
		return Status{}, err
	}

	e.mu.Lock()
	prevID, prevPaused := e.tracked, e.paused
	e.mu.Unlock()
	e.observe(session)

	if orphan != nil {
		e.logger.Warn("discarded orphaned active session", "check_in", orphan.CheckInID, "started", orphan.StartedAt)
	}

	changed := session == nil && prevID != 0 ||
		session != nil && (session.CheckInID != prevID || session.Paused != prevPaused)
	switch {
	case session != nil && (announce || changed):
		e.post(relay.Init(session, now))
	case session == nil && (orphan != nil || changed):
		e.post(relay.StopTimer{})
	}
	return e.status(session, now), nil
}
