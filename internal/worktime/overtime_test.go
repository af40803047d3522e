package worktime_test

import (
	"errors"
	"testing"
	"time"

	"github.com/christopherklint97/punchclock/internal/apperr"
	"github.com/christopherklint97/punchclock/internal/calendar"
	"github.com/christopherklint97/punchclock/internal/store"
	"github.com/christopherklint97/punchclock/internal/worktime"
)

type notes struct{ shown []string }

func (n *notes) Show(title, body string) error {
	n.shown = append(n.shown, body)
	return nil
}

// checkOut writes a closed session straight into the store.
func checkOut(t *testing.T, s *store.Store, employee string, start time.Time, worked time.Duration) store.Record {
	t.Helper()
	var out store.Record
	err := s.Update(func(tx *store.Tx) error {
		in, err := tx.AppendRecord(store.Record{Type: store.CheckIn, Timestamp: start, Employee: employee})
		if err != nil {
			return err
		}
		secs := worked.Seconds()
		out, err = tx.AppendRecord(store.Record{
			Type: store.CheckOut, Timestamp: start.Add(worked), Employee: employee,
			CheckInID: in.ID, WorkedSeconds: &secs,
		})
		return err
	})
	if err != nil {
		t.Fatalf("writing session: %v", err)
	}
	return out
}

func newTracker(s *store.Store, sink *notes) *worktime.Tracker {
	now := func() time.Time { return at(time.March, 16, 20, 0) }
	agg := worktime.New(calendar.New(), worktime.WithClock(now), worktime.WithLocation(time.UTC))
	return worktime.NewTracker(s, agg, sink, worktime.WithTrackerClock(now))
}

func TestOvertimeNotifiedOncePerWeek(t *testing.T) {
	s := store.New(store.NewMemory(), nil)
	sink := &notes{}
	tr := newTracker(s, sink)

	for d := 10; d <= 13; d++ {
		out := checkOut(t, s, "Ana", at(time.March, d, 8, 0), 10*time.Hour)
		entry, err := tr.Process(out)
		if err != nil {
			t.Fatalf("Process: %v", err)
		}
		if entry != nil {
			t.Fatalf("overtime recorded at %d hours", (d-9)*10)
		}
	}

	out := checkOut(t, s, "Ana", at(time.March, 14, 8, 0), 2*time.Hour)
	entry, err := tr.Process(out)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if entry == nil || entry.OvertimeHours != 2 || entry.Status != store.OvertimePending {
		t.Fatalf("entry = %+v, want 2h pending", entry)
	}
	if entry.ISOWeek != 11 || entry.Year != 2025 || entry.ClosedBy.ID != out.ID {
		t.Errorf("entry = %+v", entry)
	}

	out = checkOut(t, s, "Ana", at(time.March, 15, 9, 0), 3*time.Hour)
	if err := tr.OnCheckOut(out); err != nil {
		t.Fatalf("OnCheckOut: %v", err)
	}

	if len(sink.shown) != 1 {
		t.Fatalf("notifications = %v, want exactly one", sink.shown)
	}
	log, _ := tr.Log("Ana")
	if len(log) != 1 || log[0].OvertimeHours != 5 || log[0].WeeklyHours != 45 || log[0].LastUpdate == nil {
		t.Fatalf("log = %+v, want one updated entry with 5h", log)
	}
}

func TestOvertimeStatus(t *testing.T) {
	s := store.New(store.NewMemory(), nil)
	tr := newTracker(s, &notes{})

	out := checkOut(t, s, "Ana", at(time.March, 10, 0, 0), 41*time.Hour)
	entry, err := tr.Process(out)
	if err != nil || entry == nil {
		t.Fatalf("Process = %+v, %v", entry, err)
	}

	if err := tr.SetStatus(entry.ID, "cobrado", ""); !apperr.IsValidation(err) {
		t.Errorf("unknown status err = %v", err)
	}
	if err := tr.SetStatus("nope", store.OvertimePaid, ""); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("unknown id err = %v", err)
	}
	if err := tr.SetStatus(entry.ID, store.OvertimePaid, "March payroll"); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}

	log, _ := tr.Log("")
	if log[0].Status != store.OvertimePaid || log[0].Notes != "March payroll" || len(log[0].History) != 1 {
		t.Errorf("entry after SetStatus = %+v", log[0])
	}

	sum, err := tr.Summary(at(time.March, 1, 0, 0), at(time.March, 31, 0, 0), "Ana")
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum.Entries != 1 || sum.TotalHours != 1 || sum.ByStatus[store.OvertimePaid] != 1 || sum.ByMonth["2025-03"] != 1 {
		t.Errorf("summary = %+v", sum)
	}

	if err := tr.Delete(entry.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if log, _ := tr.Log(""); len(log) != 0 {
		t.Errorf("log after delete = %+v", log)
	}
}
