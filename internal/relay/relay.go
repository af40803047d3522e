// Package relay mirrors the active session in its own goroutine so hourly
// reminders keep firing while the foreground is idle. It only ever receives
// messages; its copy of the session is advisory and never read back.
package relay

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/christopherklint97/punchclock/internal/notify"
	"github.com/christopherklint97/punchclock/internal/store"
)

const (
	TypeInitTimer   = "INIT_TIMER"
	TypeStopTimer   = "STOP_TIMER"
	TypeTogglePause = "TOGGLE_PAUSE"
)

// Message is one command of the foreground-to-relay protocol.
type Message interface {
	Type() string
}

// InitTimer (re)starts mirroring a session; sent on start, resume and any
// edit of the persisted session.
type InitTimer struct {
	SessionID       int64
	StartTime       time.Time
	AccumulatedTime time.Duration
	IsPaused        bool
}

// Init describes s as seen at now. AccumulatedTime includes the running
// delta since the session's last update, which the relay cannot see.
func Init(s *store.ActiveSession, now time.Time) InitTimer {
	return InitTimer{
		SessionID:       s.CheckInID,
		StartTime:       s.StartedAt,
		AccumulatedTime: s.ElapsedAt(now),
		IsPaused:        s.Paused,
	}
}

type StopTimer struct{}

type TogglePause struct {
	IsPaused bool
}

func (InitTimer) Type() string   { return TypeInitTimer }
func (StopTimer) Type() string   { return TypeStopTimer }
func (TogglePause) Type() string { return TypeTogglePause }

const (
	DefaultInterval = time.Hour
	inboxSize       = 8
)

type Relay struct {
	inbox    chan Message
	sink     notify.Sink
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger

	// Owned by the Run goroutine.
	session   *store.ActiveSession
	reminders int
}

type Option func(*Relay)

func WithInterval(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.interval = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Relay) { r.now = now }
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func New(sink notify.Sink, opts ...Option) *Relay {
	if sink == nil {
		sink = notify.Discard{}
	}
	r := &Relay{
		inbox:    make(chan Message, inboxSize),
		sink:     sink,
		interval: DefaultInterval,
		now:      time.Now,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Post delivers msg without blocking. When the inbox is full the oldest
// queued message is dropped so the newest state always gets through.
func (r *Relay) Post(msg Message) {
	for {
		select {
		case r.inbox <- msg:
			return
		default:
		}
		select {
		case old := <-r.inbox:
			r.logger.Warn("relay inbox full, dropping message", "type", old.Type())
		default:
		}
	}
}

// Run processes messages and fires reminders until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	var timer *time.Timer
	var due <-chan time.Time

	reschedule := func() {
		if timer != nil {
			timer.Stop()
			timer, due = nil, nil
		}
		if d, ok := r.nextDue(r.now()); ok {
			timer = time.NewTimer(d)
			due = timer.C
		}
	}
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-r.inbox:
			r.handle(msg, r.now())
			reschedule()
		case <-due:
			r.fire(r.now())
			reschedule()
		}
	}
}

func (r *Relay) handle(msg Message, now time.Time) {
	r.logger.Debug("relay message", "type", msg.Type())

	switch m := msg.(type) {
	case InitTimer:
		r.session = &store.ActiveSession{
			CheckInID:          m.SessionID,
			StartedAt:          m.StartTime,
			AccumulatedSeconds: m.AccumulatedTime.Seconds(),
			Paused:             m.IsPaused,
			LastUpdate:         now,
		}
		r.reminders = int(m.AccumulatedTime / r.interval)
	case StopTimer:
		r.session = nil
		r.reminders = 0
	case TogglePause:
		if r.session == nil {
			return
		}
		if m.IsPaused {
			r.session.Fold(now)
			r.session.Paused = true
		} else {
			r.session.Paused = false
			r.session.LastUpdate = now
		}
	}
}

// nextDue is how long until the mirrored session crosses its next whole
// interval of worked time.
func (r *Relay) nextDue(now time.Time) (time.Duration, bool) {
	if r.session == nil || r.session.Paused {
		return 0, false
	}
	next := time.Duration(r.reminders+1) * r.interval
	wait := next - r.session.ElapsedAt(now)
	if wait < 0 {
		wait = 0
	}
	return wait, true
}

func (r *Relay) fire(now time.Time) {
	if r.session == nil || r.session.Paused {
		return
	}
	elapsed := r.session.ElapsedAt(now)
	if elapsed < time.Duration(r.reminders+1)*r.interval {
		return
	}
	r.reminders = int(elapsed / r.interval)

	body := fmt.Sprintf("Time worked: %s", store.FormatClock(elapsed))
	if err := r.sink.Show("Work session active", body); err != nil {
		r.logger.Warn("reminder notification failed", "error", err)
	}
}
