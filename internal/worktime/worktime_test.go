package worktime_test

import (
	"testing"
	"time"

	"github.com/christopherklint97/punchclock/internal/calendar"
	"github.com/christopherklint97/punchclock/internal/store"
	"github.com/christopherklint97/punchclock/internal/worktime"
)

func at(m time.Month, d, h, min int) time.Time {
	return time.Date(2025, m, d, h, min, 0, 0, time.UTC)
}

type logBuilder struct {
	records []store.Record
	next    int64
}

// session appends a check-in at start and a check-out worked later.
func (b *logBuilder) session(employee string, start time.Time, worked time.Duration) {
	b.next += 2
	secs := worked.Seconds()
	b.records = append([]store.Record{
		{ID: b.next, Type: store.CheckOut, Timestamp: start.Add(worked), Employee: employee, CheckInID: b.next - 1, WorkedSeconds: &secs},
		{ID: b.next - 1, Type: store.CheckIn, Timestamp: start, Employee: employee},
	}, b.records...)
}

func newAggregator(now time.Time, opts ...calendar.Option) *worktime.Aggregator {
	return worktime.New(calendar.New(opts...),
		worktime.WithClock(func() time.Time { return now }),
		worktime.WithLocation(time.UTC),
	)
}

func TestSickLeaveCreditsTuesday(t *testing.T) {
	agg := newAggregator(at(time.March, 14, 12, 0))
	in := worktime.Input{
		Employee: "Ana",
		SpecialDays: []store.SpecialDay{
			{ID: "s1", Date: "2025-03-11", Type: store.SickLeave, Employee: "Ana", Hours: 9, Active: true},
		},
	}

	w := agg.Week(in, at(time.March, 11, 0, 0))
	tue := w.Days[1]
	if tue.Kind.Tag != worktime.TagSpecial || tue.Worked != 9*time.Hour {
		t.Fatalf("Tuesday = %+v, want special with 9h", tue)
	}
	if w.Worked != 9*time.Hour {
		t.Errorf("week worked = %v, want 9h", w.Worked)
	}
}

func TestWeeklyOvertime(t *testing.T) {
	agg := newAggregator(at(time.March, 20, 12, 0))
	b := &logBuilder{}
	for d := 10; d <= 14; d++ {
		b.session("Ana", at(time.March, d, 9, 0), 8*time.Hour)
	}
	in := worktime.Input{Records: b.records, Employee: "Ana"}

	w := agg.Week(in, at(time.March, 12, 0, 0))
	if w.WorkedHours() != 40 || w.OvertimeHours != 0 {
		t.Fatalf("Mon-Fri = %vh worked, %vh overtime, want 40/0", w.WorkedHours(), w.OvertimeHours)
	}
	if w.TheoreticalHours != 40 || w.DaysWorked != 5 {
		t.Errorf("theoretical = %v, days = %d", w.TheoreticalHours, w.DaysWorked)
	}

	b.session("Ana", at(time.March, 15, 10, 0), 3*time.Hour)
	in.Records = b.records
	w = agg.Week(in, at(time.March, 12, 0, 0))
	if w.OvertimeHours != 3 {
		t.Errorf("with Saturday overtime = %v, want 3", w.OvertimeHours)
	}
	if w.Days[5].Kind.Tag != worktime.TagWeekend || w.Days[5].Worked != 3*time.Hour {
		t.Errorf("Saturday = %+v", w.Days[5])
	}
}

func TestMoveableFeastWeekThreshold(t *testing.T) {
	agg := newAggregator(at(time.May, 1, 12, 0), calendar.WithRegional(false))

	// Easter Monday 2025-04-21; four ordinary days of 10h.
	build := func(extra time.Duration) worktime.Input {
		b := &logBuilder{}
		for d := 22; d <= 25; d++ {
			b.session("Ana", at(time.April, d, 8, 0), 10*time.Hour)
		}
		if extra > 0 {
			b.session("Ana", at(time.April, 25, 20, 0), extra)
		}
		return worktime.Input{Records: b.records, Employee: "Ana"}
	}

	w := agg.Week(build(0), at(time.April, 21, 0, 0))
	if w.OvertimeHours != 0 || w.WorkedHours() != 40 {
		t.Fatalf("40h week overtime = %v (%vh)", w.OvertimeHours, w.WorkedHours())
	}
	if w.Days[0].Kind.Tag != worktime.TagHoliday || w.Days[0].Kind.Holiday.Kind != calendar.KindMoveable {
		t.Errorf("Monday kind = %v", w.Days[0].Kind)
	}
	if w.TheoreticalHours != 32 {
		t.Errorf("theoretical = %v, want 32", w.TheoreticalHours)
	}

	w = agg.Week(build(time.Second), at(time.April, 21, 0, 0))
	if w.OvertimeHours <= 0 {
		t.Errorf("40h+1s overtime = %v, want > 0", w.OvertimeHours)
	}
}

func TestAttendanceSupersedesSpecialDay(t *testing.T) {
	agg := newAggregator(at(time.March, 14, 12, 0))
	b := &logBuilder{}
	b.session("Ana", at(time.March, 12, 9, 0), 2*time.Hour)
	in := worktime.Input{
		Records:  b.records,
		Employee: "Ana",
		SpecialDays: []store.SpecialDay{
			{ID: "s1", Date: "2025-03-12", Type: store.Vacation, Employee: "Ana", Hours: 9, Active: true},
			{ID: "s2", Date: "2025-03-13", Type: store.Vacation, Employee: "Ana", Hours: 9, Active: false},
		},
	}

	w := agg.Week(in, at(time.March, 12, 0, 0))
	if wed := w.Days[2]; wed.Worked != 2*time.Hour || wed.Kind.Tag != worktime.TagOrdinary {
		t.Errorf("Wednesday = %+v, want 2h ordinary", wed)
	}
	if thu := w.Days[3]; thu.Worked != 0 || thu.Kind.Tag != worktime.TagOrdinary {
		t.Errorf("Thursday with deactivated entry = %+v", thu)
	}
	if w.Worked != 2*time.Hour {
		t.Errorf("week = %v, want 2h", w.Worked)
	}
}

func TestSpecialDaysOfSeveralEmployees(t *testing.T) {
	agg := newAggregator(at(time.March, 14, 12, 0))
	b := &logBuilder{}
	b.session("Ana", at(time.March, 12, 9, 0), 8*time.Hour)
	specials := []store.SpecialDay{
		{ID: "s1", Date: "2025-03-11", Type: store.SickLeave, Employee: "Ana", Hours: 9, Active: true},
		{ID: "s2", Date: "2025-03-11", Type: store.Vacation, Employee: "Luis", Hours: 9, Active: true},
		{ID: "s3", Date: "2025-03-12", Type: store.Vacation, Employee: "Ana", Hours: 9, Active: true},
		{ID: "s4", Date: "2025-03-12", Type: store.Permit, Employee: "Luis", Hours: 3, Active: true},
	}

	everyone := agg.Week(worktime.Input{Records: b.records, SpecialDays: specials}, at(time.March, 11, 0, 0))
	tue := everyone.Days[1]
	if tue.Kind.Tag != worktime.TagSpecial || tue.Worked != 18*time.Hour || len(tue.Specials) != 2 {
		t.Errorf("Tuesday = %+v, want both special days credited (18h)", tue)
	}
	// Ana attended on Wednesday, so only Luis's permit is credited.
	wed := everyone.Days[2]
	if wed.Worked != 11*time.Hour || len(wed.Specials) != 1 || wed.Specials[0].ID != "s4" {
		t.Errorf("Wednesday = %+v, want 8h worked + 3h permit", wed)
	}
	if everyone.Worked != 29*time.Hour {
		t.Errorf("everyone week = %v, want 29h", everyone.Worked)
	}

	ana := agg.Week(worktime.Input{Records: b.records, SpecialDays: specials, Employee: "Ana"}, at(time.March, 11, 0, 0))
	if ana.Days[1].Worked != 9*time.Hour || ana.Days[2].Worked != 8*time.Hour {
		t.Errorf("Ana Tuesday = %v, Wednesday = %v, want 9h and 8h", ana.Days[1].Worked, ana.Days[2].Worked)
	}
}

func TestActiveSessionCountsLive(t *testing.T) {
	agg := newAggregator(at(time.March, 11, 12, 30))
	b := &logBuilder{}
	b.session("Ana", at(time.March, 10, 9, 0), 8*time.Hour)
	b.records = append([]store.Record{{ID: 100, Type: store.CheckIn, Timestamp: at(time.March, 11, 9, 0), Employee: "Ana"}}, b.records...)

	in := worktime.Input{
		Records:  b.records,
		Employee: "Ana",
		Active: &store.ActiveSession{
			CheckInID:          100,
			StartedAt:          at(time.March, 11, 9, 0),
			Employee:           "Ana",
			AccumulatedSeconds: (2 * time.Hour).Seconds(),
			LastUpdate:         at(time.March, 11, 11, 0),
		},
	}

	w := agg.Week(in, at(time.March, 11, 0, 0))
	tue := w.Days[1]
	if !tue.Live || tue.Worked != 3*time.Hour+30*time.Minute {
		t.Errorf("Tuesday = %+v, want live 3h30m", tue)
	}
	if w.Worked != 11*time.Hour+30*time.Minute {
		t.Errorf("week = %v", w.Worked)
	}
}

func TestCheckOutAfterMidnightCountsOnCheckInDay(t *testing.T) {
	agg := newAggregator(at(time.March, 20, 0, 0))
	b := &logBuilder{}
	b.session("Ana", at(time.March, 16, 22, 0), 4*time.Hour) // Sunday night into Monday

	w := agg.Week(worktime.Input{Records: b.records}, at(time.March, 16, 0, 0))
	if w.Days[6].Worked != 4*time.Hour {
		t.Errorf("Sunday = %v, want 4h", w.Days[6].Worked)
	}
	next := agg.Week(worktime.Input{Records: b.records}, at(time.March, 17, 0, 0))
	if next.Worked != 0 {
		t.Errorf("following week = %v, want 0", next.Worked)
	}
}

func TestMissingWorkedSecondsFallsBack(t *testing.T) {
	agg := newAggregator(at(time.March, 20, 0, 0))
	records := []store.Record{
		{ID: 2, Type: store.CheckOut, Timestamp: at(time.March, 10, 15, 0), Employee: "Ana", CheckInID: 1},
		{ID: 1, Type: store.CheckIn, Timestamp: at(time.March, 10, 9, 0), Employee: "Ana"},
	}
	w := agg.Week(worktime.Input{Records: records}, at(time.March, 10, 0, 0))
	if w.Worked != 6*time.Hour {
		t.Errorf("worked = %v, want 6h", w.Worked)
	}
}

func TestEmployeeFilter(t *testing.T) {
	agg := newAggregator(at(time.March, 20, 0, 0))
	b := &logBuilder{}
	b.session("Ana", at(time.March, 10, 9, 0), 8*time.Hour)
	b.session("Luis", at(time.March, 10, 9, 0), 5*time.Hour)

	if w := agg.Week(worktime.Input{Records: b.records, Employee: "Luis"}, at(time.March, 10, 0, 0)); w.Worked != 5*time.Hour {
		t.Errorf("Luis = %v, want 5h", w.Worked)
	}
	if w := agg.Week(worktime.Input{Records: b.records}, at(time.March, 10, 0, 0)); w.Worked != 13*time.Hour {
		t.Errorf("everyone = %v, want 13h", w.Worked)
	}
}

func TestWeekUsesISOWeekOfMonday(t *testing.T) {
	agg := newAggregator(time.Date(2025, time.January, 10, 0, 0, 0, 0, time.UTC))
	// Thursday 2025-01-02 belongs to the week starting Monday 2024-12-30.
	w := agg.Week(worktime.Input{}, time.Date(2025, time.January, 2, 10, 0, 0, 0, time.UTC))
	if w.ISOWeek != 1 || w.Year != 2025 {
		t.Errorf("week = %d/%d, want 1/2025", w.ISOWeek, w.Year)
	}
	if !w.WeekStart.Equal(time.Date(2024, time.December, 30, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("start = %v", w.WeekStart)
	}
	if !w.WeekEnd.Equal(time.Date(2025, time.January, 5, 23, 59, 59, 0, time.UTC)) {
		t.Errorf("end = %v", w.WeekEnd)
	}
}

func TestRange(t *testing.T) {
	agg := newAggregator(at(time.April, 1, 0, 0))
	b := &logBuilder{}
	for d := 3; d <= 7; d++ {
		b.session("Ana", at(time.March, d, 8, 0), 9*time.Hour)
	}
	b.session("Ana", at(time.March, 18, 8, 0), 6*time.Hour)
	in := worktime.Input{Records: b.records, Employee: "Ana"}

	if got := agg.Range(in, at(time.March, 12, 0, 0), at(time.March, 13, 0, 0)); len(got) != 1 {
		t.Errorf("Wed-Thu range = %d weeks, want 1", len(got))
	}

	weeks := agg.Range(in, at(time.March, 5, 0, 0), at(time.March, 18, 0, 0))
	if len(weeks) != 3 {
		t.Fatalf("range = %d weeks, want 3", len(weeks))
	}
	for i := 1; i < len(weeks); i++ {
		if weeks[i].ISOWeek == weeks[i-1].ISOWeek {
			t.Errorf("duplicate week %d", weeks[i].ISOWeek)
		}
	}

	all := agg.All(in)
	if len(all) != 3 || all[0].ISOWeek != 10 || all[2].ISOWeek != 12 {
		t.Fatalf("All = %d weeks", len(all))
	}

	sum := worktime.Summarize(all)
	if sum.WeeksWithOvertime != 1 || sum.TotalOvertimeHours != 5 || sum.ByMonth["2025-03"] != 5 {
		t.Errorf("summary = %+v", sum)
	}
	if sum.TotalWorkedHours != 51 {
		t.Errorf("total worked = %v, want 51", sum.TotalWorkedHours)
	}
}
