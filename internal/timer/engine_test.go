package timer_test

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/christopherklint97/punchclock/internal/apperr"
	"github.com/christopherklint97/punchclock/internal/relay"
	"github.com/christopherklint97/punchclock/internal/store"
	"github.com/christopherklint97/punchclock/internal/timer"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock(hour, min int) *fakeClock {
	return &fakeClock{t: time.Date(2025, time.March, 11, hour, min, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(hour, min int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = time.Date(c.t.Year(), c.t.Month(), c.t.Day(), hour, min, 0, 0, time.UTC)
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// recorder captures relay messages and, when check is set, inspects the
// store at the moment each message arrives.
type recorder struct {
	msgs  []relay.Message
	check func(relay.Message)
}

func (r *recorder) Post(m relay.Message) {
	if r.check != nil {
		r.check(m)
	}
	r.msgs = append(r.msgs, m)
}

func (r *recorder) types() []string {
	var out []string
	for _, m := range r.msgs {
		out = append(out, m.Type())
	}
	return out
}

func newEngine(t *testing.T, s *store.Store, clock *fakeClock, opts ...timer.Option) (*timer.Engine, *recorder) {
	t.Helper()
	rec := &recorder{}
	opts = append([]timer.Option{timer.WithClock(clock.Now), timer.WithRelay(rec)}, opts...)
	return timer.New(s, opts...), rec
}

func mustSession(t *testing.T, s *store.Store) *store.ActiveSession {
	t.Helper()
	session, err := s.ActiveSession()
	if err != nil {
		t.Fatalf("reading active session: %v", err)
	}
	if session == nil {
		t.Fatal("no active session persisted")
	}
	return session
}

func TestPauseExcludedFromWorkedTime(t *testing.T) {
	clock := newClock(9, 0)
	s := store.New(store.NewMemory(), nil)
	e, rec := newEngine(t, s, clock)

	checkIn, err := e.Start("Ana")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	clock.Set(13, 0)
	if _, err := e.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	clock.Set(14, 0)
	if _, err := e.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	clock.Set(18, 0)
	checkOut, err := e.Stop()
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}

	worked, ok := checkOut.Worked()
	if !ok || worked != 8*time.Hour {
		t.Fatalf("worked = %v (%v), want 8h", worked, ok)
	}
	if checkOut.CheckInID != checkIn.ID || checkOut.WorkedFormatted != "08:00:00" {
		t.Errorf("check-out = %+v", checkOut)
	}
	if checkOut.Paused == nil || *checkOut.Paused {
		t.Errorf("paused flag = %v, want false", checkOut.Paused)
	}

	if session, _ := s.ActiveSession(); session != nil {
		t.Errorf("active session not retired: %+v", session)
	}
	records, _ := s.Records()
	if len(records) != 2 || records[0].Type != store.CheckOut {
		t.Errorf("records = %+v, want check-out first", records)
	}
	if e.State() != timer.Closed {
		t.Errorf("state = %v, want closed", e.State())
	}

	want := []string{relay.TypeInitTimer, relay.TypeTogglePause, relay.TypeInitTimer, relay.TypeStopTimer}
	got := rec.types()
	if len(got) != len(want) {
		t.Fatalf("relay messages = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("relay messages = %v, want %v", got, want)
		}
	}
}

func TestStartWhileActive(t *testing.T) {
	clock := newClock(9, 0)
	s := store.New(store.NewMemory(), nil)
	e, _ := newEngine(t, s, clock)

	if _, err := e.Start("Ana"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	before, _ := s.Snapshot()

	clock.Advance(time.Minute)
	_, err := e.Start("Ana")
	if !errors.Is(err, apperr.ErrAlreadyActive) || !apperr.IsConflict(err) {
		t.Fatalf("second Start err = %v, want already-active conflict", err)
	}

	after, _ := s.Snapshot()
	if len(after.Records) != len(before.Records) {
		t.Errorf("records changed: %d -> %d", len(before.Records), len(after.Records))
	}
	if *after.ActiveSession != *before.ActiveSession {
		t.Errorf("session changed: %+v -> %+v", before.ActiveSession, after.ActiveSession)
	}
}

func TestStartFromTwoProcesses(t *testing.T) {
	path := filepath.Join(t.TempDir(), "punchclock.db")
	clock := newClock(9, 0)

	engines := make([]*timer.Engine, 2)
	for i := range engines {
		db, err := store.Open(path)
		if err != nil {
			t.Fatalf("opening %s: %v", path, err)
		}
		t.Cleanup(func() { db.Close() })
		engines[i], _ = newEngine(t, store.New(db, nil), clock)
	}

	var wg sync.WaitGroup
	errs := make([]error, len(engines))
	for i, e := range engines {
		wg.Add(1)
		go func(i int, e *timer.Engine) {
			defer wg.Done()
			_, errs[i] = e.Start("Ana")
		}(i, e)
	}
	wg.Wait()

	started, conflicts := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			started++
		case errors.Is(err, apperr.ErrAlreadyActive):
			conflicts++
		default:
			t.Fatalf("Start: %v", err)
		}
	}
	if started != 1 || conflicts != 1 {
		t.Fatalf("started=%d conflicts=%d, want exactly one of each", started, conflicts)
	}

	db, err := store.Open(path)
	if err != nil {
		t.Fatalf("reopening: %v", err)
	}
	defer db.Close()
	records, _ := store.New(db, nil).Records()
	if len(records) != 1 || records[0].Type != store.CheckIn {
		t.Errorf("records = %+v, want a single check-in", records)
	}
}

func TestStartRequiresEmployee(t *testing.T) {
	s := store.New(store.NewMemory(), nil)
	e, rec := newEngine(t, s, newClock(9, 0))

	if _, err := e.Start("   "); !apperr.IsValidation(err) {
		t.Fatalf("err = %v, want validation error", err)
	}
	if records, _ := s.Records(); len(records) != 0 {
		t.Errorf("records written: %+v", records)
	}
	if len(rec.msgs) != 0 {
		t.Errorf("relay notified: %v", rec.types())
	}
}

func TestPauseThenResumeKeepsAccumulated(t *testing.T) {
	clock := newClock(9, 0)
	s := store.New(store.NewMemory(), nil)
	e, rec := newEngine(t, s, clock)
	e.Start("Ana")

	clock.Advance(37 * time.Minute)
	if _, err := e.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	paused := mustSession(t, s).AccumulatedSeconds

	// A second pause is a no-op and sends nothing.
	n := len(rec.msgs)
	if _, err := e.Pause(); err != nil {
		t.Fatalf("repeated Pause: %v", err)
	}
	if len(rec.msgs) != n {
		t.Errorf("repeated pause posted %v", rec.types()[n:])
	}

	if _, err := e.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	session := mustSession(t, s)
	if session.AccumulatedSeconds != paused || paused != (37*time.Minute).Seconds() {
		t.Errorf("accumulated = %v after resume, %v after pause, want %v", session.AccumulatedSeconds, paused, (37 * time.Minute).Seconds())
	}
	if session.Paused || !session.LastUpdate.Equal(clock.Now()) {
		t.Errorf("session after resume = %+v", session)
	}
}

func TestHiddenPeriodIsRecomputed(t *testing.T) {
	const hidden = 3*time.Hour + 17*time.Second

	t.Run("running", func(t *testing.T) {
		clock := newClock(9, 0)
		s := store.New(store.NewMemory(), nil)
		e, _ := newEngine(t, s, clock)
		e.Start("Ana")
		clock.Advance(20 * time.Minute)

		before, _ := e.Tick()
		clock.Advance(hidden)
		after, err := e.Refresh()
		if err != nil {
			t.Fatalf("Refresh: %v", err)
		}
		if after.Elapsed != before.Elapsed+hidden {
			t.Errorf("elapsed = %v, want %v", after.Elapsed, before.Elapsed+hidden)
		}
	})

	t.Run("paused", func(t *testing.T) {
		clock := newClock(9, 0)
		s := store.New(store.NewMemory(), nil)
		e, _ := newEngine(t, s, clock)
		e.Start("Ana")
		clock.Advance(20 * time.Minute)
		e.Pause()

		before, _ := e.Tick()
		clock.Advance(hidden)
		after, _ := e.Refresh()
		if after.Elapsed != before.Elapsed || after.State != timer.Paused {
			t.Errorf("status = %+v, want %v paused", after, before.Elapsed)
		}
	})
}

func TestCheckpointFoldsDelta(t *testing.T) {
	clock := newClock(9, 0)
	s := store.New(store.NewMemory(), nil)
	e, _ := newEngine(t, s, clock)
	e.Start("Ana")

	clock.Advance(10 * time.Minute)
	st, err := e.Checkpoint()
	if err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	session := mustSession(t, s)
	if session.AccumulatedSeconds != 600 || !session.LastUpdate.Equal(clock.Now()) {
		t.Errorf("session = %+v, want 600s folded at now", session)
	}

	// Observers after a checkpoint see the same total, not a double count.
	again, _ := e.Tick()
	if st.Elapsed != 10*time.Minute || again.Elapsed != st.Elapsed {
		t.Errorf("elapsed = %v then %v, want 10m", st.Elapsed, again.Elapsed)
	}
}

func TestRecoverDiscardsOrphanedSession(t *testing.T) {
	s := store.New(store.NewMemory(), nil)
	err := s.Update(func(tx *store.Tx) error {
		return tx.PutActiveSession(&store.ActiveSession{
			CheckInID:  42,
			StartedAt:  time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC),
			Employee:   "Ana",
			LastUpdate: time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC),
		})
	})
	if err != nil {
		t.Fatalf("seeding session: %v", err)
	}

	e, rec := newEngine(t, s, newClock(9, 0))
	st, err := e.Recover()
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if st.State != timer.Idle || st.Session != nil {
		t.Errorf("status = %+v, want idle", st)
	}
	if session, _ := s.ActiveSession(); session != nil {
		t.Errorf("orphaned session still persisted: %+v", session)
	}
	if got := rec.types(); len(got) != 1 || got[0] != relay.TypeStopTimer {
		t.Errorf("relay messages = %v, want a single stop", got)
	}
}

func TestRecoverIsIdempotent(t *testing.T) {
	clock := newClock(9, 0)
	s := store.New(store.NewMemory(), nil)
	first, _ := newEngine(t, s, clock)
	first.Start("Ana")
	clock.Advance(2 * time.Hour)
	first.Pause()
	clock.Advance(time.Hour)

	// A fresh process.
	e, _ := newEngine(t, s, clock)
	st1, err := e.Recover()
	if err != nil {
		t.Fatalf("first Recover: %v", err)
	}
	s1 := *mustSession(t, s)
	st2, err := e.Recover()
	if err != nil {
		t.Fatalf("second Recover: %v", err)
	}
	s2 := *mustSession(t, s)

	if s1.CheckInID != s2.CheckInID || s1.AccumulatedSeconds != s2.AccumulatedSeconds ||
		s1.Paused != s2.Paused || !s1.LastUpdate.Equal(s2.LastUpdate) || !s1.StartedAt.Equal(s2.StartedAt) {
		t.Errorf("session changed between recoveries: %+v vs %+v", s1, s2)
	}
	if st1.State != timer.Paused || st2.State != timer.Paused || st1.Elapsed != 2*time.Hour {
		t.Errorf("statuses = %+v / %+v, want paused at 2h", st1, st2)
	}
}

func TestRecoverSeedsRelayWithLiveElapsed(t *testing.T) {
	clock := newClock(9, 0)
	s := store.New(store.NewMemory(), nil)
	first, _ := newEngine(t, s, clock)
	if _, err := first.Start("Ana"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// A later process opens the live view at 12:00.
	clock.Set(12, 0)
	e, rec := newEngine(t, s, clock)
	st, err := e.Recover()
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if len(rec.msgs) != 1 {
		t.Fatalf("relay messages = %v, want one init", rec.types())
	}
	m, ok := rec.msgs[0].(relay.InitTimer)
	if !ok {
		t.Fatalf("relay got %T, want InitTimer", rec.msgs[0])
	}
	if m.AccumulatedTime != 3*time.Hour || m.AccumulatedTime != st.Elapsed {
		t.Errorf("relay seeded with %v, engine elapsed %v, want both 3h", m.AccumulatedTime, st.Elapsed)
	}
	if got := mustSession(t, s).AccumulatedSeconds; got != 0 {
		t.Errorf("Recover persisted accumulated = %v, want untouched", got)
	}
}

func TestCancelDeletesCheckIn(t *testing.T) {
	s := store.New(store.NewMemory(), nil)
	e, rec := newEngine(t, s, newClock(9, 0))
	e.Start("Ana")

	if err := e.Cancel(); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	layout, _ := s.Snapshot()
	if len(layout.Records) != 0 || layout.ActiveSession != nil {
		t.Errorf("store after cancel = %+v", layout)
	}
	if got := rec.types(); got[len(got)-1] != relay.TypeStopTimer {
		t.Errorf("relay messages = %v, want stop last", got)
	}

	if err := e.Cancel(); !errors.Is(err, apperr.ErrNoActiveSession) {
		t.Errorf("Cancel with nothing open err = %v", err)
	}
}

func TestCancelAfterConcurrentStop(t *testing.T) {
	clock := newClock(9, 0)
	s := store.New(store.NewMemory(), nil)
	tabA, _ := newEngine(t, s, clock)
	tabB, _ := newEngine(t, s, clock)

	if _, err := tabA.Start("Ana"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := tabB.Recover(); err != nil {
		t.Fatalf("Recover: %v", err)
	}

	clock.Advance(time.Hour)
	if _, err := tabA.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	before, _ := s.Records()

	err := tabB.Cancel()
	if !errors.Is(err, apperr.ErrAlreadyClosed) || !apperr.IsConflict(err) {
		t.Fatalf("Cancel err = %v, want already-closed conflict", err)
	}
	after, _ := s.Records()
	if len(after) != len(before) || len(after) != 2 {
		t.Errorf("records after failed cancel = %+v", after)
	}
}

func TestStopWhilePaused(t *testing.T) {
	clock := newClock(9, 0)
	s := store.New(store.NewMemory(), nil)
	e, _ := newEngine(t, s, clock)
	e.Start("Ana")
	clock.Advance(90 * time.Minute)
	e.Pause()
	clock.Advance(5 * time.Hour)

	out, err := e.Stop()
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if w, _ := out.Worked(); w != 90*time.Minute {
		t.Errorf("worked = %v, want 1h30m", w)
	}
	if out.Paused == nil || !*out.Paused {
		t.Errorf("paused flag = %v, want true", out.Paused)
	}
}

func TestRelaySeesPersistedState(t *testing.T) {
	clock := newClock(9, 0)
	s := store.New(store.NewMemory(), nil)
	rec := &recorder{}
	rec.check = func(m relay.Message) {
		session, err := s.ActiveSession()
		if err != nil {
			t.Errorf("reading store from relay: %v", err)
			return
		}
		switch m := m.(type) {
		case relay.InitTimer:
			if session == nil || session.CheckInID != m.SessionID || session.Paused != m.IsPaused {
				t.Errorf("relay got %+v before store had it (store: %+v)", m, session)
			}
		case relay.TogglePause:
			if session == nil || session.Paused != m.IsPaused {
				t.Errorf("relay got %+v before store had it (store: %+v)", m, session)
			}
		case relay.StopTimer:
			if session != nil {
				t.Errorf("relay got stop while store still has %+v", session)
			}
		}
	}
	e := timer.New(s, timer.WithClock(clock.Now), timer.WithRelay(rec))

	e.Start("Ana")
	clock.Advance(time.Hour)
	e.Pause()
	e.Resume()
	clock.Advance(time.Hour)
	e.Stop()

	if len(rec.msgs) != 4 {
		t.Errorf("relay messages = %v", rec.types())
	}
}

func TestCheckOutHook(t *testing.T) {
	clock := newClock(9, 0)
	s := store.New(store.NewMemory(), nil)
	var got []store.Record
	e, _ := newEngine(t, s, clock, timer.WithCheckOutHook(func(r store.Record) error {
		got = append(got, r)
		return errors.New("sink offline")
	}))

	e.Start("Ana")
	clock.Advance(time.Hour)
	out, err := e.Stop()
	if err != nil {
		t.Fatalf("Stop must not surface hook errors: %v", err)
	}
	if len(got) != 1 || got[0].ID != out.ID {
		t.Errorf("hook got %+v, want %d", got, out.ID)
	}
}
