package worktime

import (
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/christopherklint97/punchclock/internal/apperr"
	"github.com/christopherklint97/punchclock/internal/notify"
	"github.com/christopherklint97/punchclock/internal/store"
)

// Tracker keeps the overtime log: one entry per (ISO week, year, employee)
// that went over the weekly threshold.
type Tracker struct {
	store  *store.Store
	agg    *Aggregator
	sink   notify.Sink
	now    func() time.Time
	logger *slog.Logger
}

type TrackerOption func(*Tracker)

func WithTrackerClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) { t.now = now }
}

func WithTrackerLogger(logger *slog.Logger) TrackerOption {
	return func(t *Tracker) {
		if logger != nil {
			t.logger = logger
		}
	}
}

func NewTracker(s *store.Store, agg *Aggregator, sink notify.Sink, opts ...TrackerOption) *Tracker {
	if sink == nil {
		sink = notify.Discard{}
	}
	t := &Tracker{
		store:  s,
		agg:    agg,
		sink:   sink,
		now:    time.Now,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func findEntry(log []store.OvertimeEntry, week, year int, employee string) int {
	for i, e := range log {
		if e.ISOWeek == week && e.Year == year && e.Employee == employee {
			return i
		}
	}
	return -1
}

// Process recomputes the week closed by checkOut. The first time the week
// goes over the threshold an entry is created and one notification is shown;
// later check-outs in that week only update the recorded figures. It returns
// the entry, or nil when the week has no overtime.
func (t *Tracker) Process(checkOut store.Record) (*store.OvertimeEntry, error) {
	if checkOut.Type != store.CheckOut {
		return nil, nil
	}
	now := t.now()
	var entry *store.OvertimeEntry
	created := false

	err := t.store.Update(func(tx *store.Tx) error {
		records, err := tx.Records()
		if err != nil {
			return err
		}
		active, err := tx.ActiveSession()
		if err != nil {
			return err
		}
		specials, err := tx.SpecialDays()
		if err != nil {
			return err
		}
		in := Input{Records: records, Active: active, SpecialDays: specials, Employee: checkOut.Employee}
		week := t.agg.Week(in, t.agg.AttributedDay(checkOut, records))
		if week.OvertimeHours <= 0 {
			return nil
		}

		log, err := tx.OvertimeLog()
		if err != nil {
			return err
		}
		i := findEntry(log, week.ISOWeek, week.Year, checkOut.Employee)
		if i < 0 {
			log = append(log, store.OvertimeEntry{
				ID:           "horas_extras_" + uuid.NewString(),
				ISOWeek:      week.ISOWeek,
				Year:         week.Year,
				WeekStart:    week.WeekStart,
				WeekEnd:      week.WeekEnd,
				Employee:     checkOut.Employee,
				RegisteredAt: now,
				ClosedBy:     store.RecordRef{ID: checkOut.ID, Timestamp: checkOut.Timestamp, Employee: checkOut.Employee},
				Status:       store.OvertimePending,
			})
			i = len(log) - 1
			created = true
		} else {
			log[i].LastUpdate = &now
		}
		log[i].WeeklyHours = week.WorkedHours()
		log[i].OvertimeHours = week.OvertimeHours
		log[i].DaysWorked = week.DaysWorked
		log[i].HolidayDays = week.Theoretical.HolidayDays
		log[i].TheoreticalHours = week.TheoreticalHours

		e := log[i]
		entry = &e
		return tx.PutOvertimeLog(log)
	})
	if err != nil {
		return nil, fmt.Errorf("recording overtime: %w", err)
	}
	if entry == nil {
		return nil, nil
	}

	if created {
		t.logger.Info("overtime recorded", "week", entry.ISOWeek, "year", entry.Year, "hours", entry.OvertimeHours)
		body := fmt.Sprintf("Week %d of %d: %.2fh worked, %.2fh over the %.0fh limit",
			entry.ISOWeek, entry.Year, entry.WeeklyHours, entry.OvertimeHours, t.agg.Threshold())
		if err := t.sink.Show("Overtime", body); err != nil {
			t.logger.Warn("overtime notification failed", "error", err)
		}
	} else {
		t.logger.Debug("overtime updated", "week", entry.ISOWeek, "year", entry.Year, "hours", entry.OvertimeHours)
	}
	return entry, nil
}

// OnCheckOut adapts Process to the timer's check-out hook.
func (t *Tracker) OnCheckOut(r store.Record) error {
	_, err := t.Process(r)
	return err
}

// Log returns the employee's entries (all when empty), newest week first.
func (t *Tracker) Log(employee string) ([]store.OvertimeEntry, error) {
	log, err := t.store.OvertimeLog()
	if err != nil {
		return nil, err
	}
	var out []store.OvertimeEntry
	for _, e := range log {
		if employee == "" || e.Employee == employee {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Year != out[j].Year {
			return out[i].Year > out[j].Year
		}
		return out[i].ISOWeek > out[j].ISOWeek
	})
	return out, nil
}

// SetStatus marks an entry pending, paid or compensated and appends the
// change to its history.
func (t *Tracker) SetStatus(id string, status store.OvertimeStatus, note string) error {
	if !status.Valid() {
		return apperr.Invalid("status", fmt.Sprintf("%q is not one of pendiente, pagado, compensado", status))
	}
	note = strings.TrimSpace(note)
	now := t.now()

	return t.store.Update(func(tx *store.Tx) error {
		log, err := tx.OvertimeLog()
		if err != nil {
			return err
		}
		for i := range log {
			if log[i].ID != id {
				continue
			}
			log[i].Status = status
			if note != "" {
				log[i].Notes = note
			}
			log[i].LastUpdate = &now
			log[i].History = append(log[i].History, store.StatusNote{At: now, Status: status, Note: note})
			t.logger.Info("overtime status changed", "id", id, "status", status)
			return tx.PutOvertimeLog(log)
		}
		return apperr.Conflict("set overtime status", apperr.ErrNotFound)
	})
}

func (t *Tracker) Delete(id string) error {
	return t.store.Update(func(tx *store.Tx) error {
		log, err := tx.OvertimeLog()
		if err != nil {
			return err
		}
		for i := range log {
			if log[i].ID == id {
				return tx.PutOvertimeLog(append(log[:i], log[i+1:]...))
			}
		}
		return apperr.Conflict("delete overtime entry", apperr.ErrNotFound)
	})
}

type LogSummary struct {
	Entries    int
	TotalHours float64
	ByStatus   map[store.OvertimeStatus]float64
	ByMonth    map[string]float64
}

// Summary totals the logged overtime of weeks starting in [from, to].
func (t *Tracker) Summary(from, to time.Time, employee string) (LogSummary, error) {
	entries, err := t.Log(employee)
	if err != nil {
		return LogSummary{}, err
	}
	s := LogSummary{
		ByStatus: make(map[store.OvertimeStatus]float64),
		ByMonth:  make(map[string]float64),
	}
	for _, e := range entries {
		if e.WeekStart.Before(from) || e.WeekStart.After(to) {
			continue
		}
		s.Entries++
		s.TotalHours += e.OvertimeHours
		s.ByStatus[e.Status] += e.OvertimeHours
		s.ByMonth[e.WeekStart.Format("2006-01")] += e.OvertimeHours
	}
	return s, nil
}
