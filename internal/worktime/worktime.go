// Package worktime rolls the attendance log, the live session and special
// days into per-day and per-week totals. It only reads.
package worktime

import (
	"fmt"
	"sort"
	"time"

	"github.com/christopherklint97/punchclock/internal/calendar"
	"github.com/christopherklint97/punchclock/internal/specialday"
	"github.com/christopherklint97/punchclock/internal/store"
)

const (
	DefaultWeeklyThreshold = 40.0
	DefaultDailyHours      = 8.0
)

type Tag int

const (
	TagOrdinary Tag = iota
	TagWeekend
	TagHoliday
	TagSpecial
)

func (t Tag) String() string {
	switch t {
	case TagOrdinary:
		return "ordinary"
	case TagWeekend:
		return "weekend"
	case TagHoliday:
		return "holiday"
	case TagSpecial:
		return "special"
	}
	return fmt.Sprintf("Tag(%d)", int(t))
}

// DayKind classifies a date. Holiday is set only for TagHoliday and Special
// only for TagSpecial.
type DayKind struct {
	Tag     Tag
	Holiday calendar.Result
	Special *store.SpecialDay
}

func (k DayKind) String() string {
	switch k.Tag {
	case TagHoliday:
		return fmt.Sprintf("holiday (%s)", k.Holiday.Name)
	case TagSpecial:
		return fmt.Sprintf("special (%s)", k.Special.Type.DisplayName())
	}
	return k.Tag.String()
}

type DayDetail struct {
	Date     time.Time
	Kind     DayKind
	Worked   time.Duration
	Sessions int
	// Live is set when Worked includes the still-open session.
	Live bool
	// Specials are the special days credited into Worked.
	Specials []store.SpecialDay
}

type WeekSummary struct {
	ISOWeek     int
	Year        int
	WeekStart   time.Time
	WeekEnd     time.Time
	Worked      time.Duration
	Theoretical calendar.Theoretical
	// TheoreticalHours is business days times the daily hours.
	TheoreticalHours float64
	OvertimeHours    float64
	DaysWorked       int
	Days             []DayDetail
}

func (w WeekSummary) WorkedHours() float64 {
	return w.Worked.Hours()
}

// Input is everything an aggregation reads. An empty Employee matches all.
type Input struct {
	Records     []store.Record
	Active      *store.ActiveSession
	SpecialDays []store.SpecialDay
	Employee    string
}

// Load reads an Input from s.
func Load(s *store.Store, employee string) (Input, error) {
	layout, err := s.Snapshot()
	if err != nil {
		return Input{}, fmt.Errorf("loading work time: %w", err)
	}
	return Input{
		Records:     layout.Records,
		Active:      layout.ActiveSession,
		SpecialDays: layout.SpecialDays,
		Employee:    employee,
	}, nil
}

type Aggregator struct {
	oracle     *calendar.Oracle
	now        func() time.Time
	loc        *time.Location
	threshold  float64
	dailyHours float64
}

type Option func(*Aggregator)

func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

func WithLocation(loc *time.Location) Option {
	return func(a *Aggregator) { a.loc = loc }
}

// WithThreshold sets the weekly hours above which time counts as overtime.
func WithThreshold(hours float64) Option {
	return func(a *Aggregator) {
		if hours > 0 {
			a.threshold = hours
		}
	}
}

func WithDailyHours(hours float64) Option {
	return func(a *Aggregator) {
		if hours > 0 {
			a.dailyHours = hours
		}
	}
}

func New(oracle *calendar.Oracle, opts ...Option) *Aggregator {
	if oracle == nil {
		oracle = calendar.New()
	}
	a := &Aggregator{
		oracle:     oracle,
		now:        time.Now,
		loc:        time.Local,
		threshold:  DefaultWeeklyThreshold,
		dailyHours: DefaultDailyHours,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Aggregator) Threshold() float64 { return a.threshold }

func (a *Aggregator) midnight(t time.Time) time.Time {
	t = t.In(a.loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, a.loc)
}

// WeekBounds returns Monday 00:00:00 and Sunday 23:59:59 of t's week.
func (a *Aggregator) WeekBounds(t time.Time) (time.Time, time.Time) {
	day := a.midnight(t)
	monday := day.AddDate(0, 0, -((int(day.Weekday()) + 6) % 7))
	sunday := monday.AddDate(0, 0, 6)
	end := time.Date(sunday.Year(), sunday.Month(), sunday.Day(), 23, 59, 59, 0, a.loc)
	return monday, end
}

// AttributedDay is the local date a record's time counts towards: a
// check-out counts on the date of the check-in it closes.
func (a *Aggregator) AttributedDay(r store.Record, records []store.Record) time.Time {
	if r.Type == store.CheckOut && r.CheckInID != 0 {
		if in, ok := store.FindRecord(records, r.CheckInID); ok {
			return a.midnight(in.Timestamp)
		}
	}
	return a.midnight(r.Timestamp)
}

func checkOutWorked(out store.Record, records []store.Record) time.Duration {
	if d, ok := out.Worked(); ok {
		return d
	}
	// Check-outs written without a worked figure fall back to wall time.
	if in, ok := store.FindRecord(records, out.CheckInID); ok && out.Timestamp.After(in.Timestamp) {
		return out.Timestamp.Sub(in.Timestamp)
	}
	return 0
}

func (a *Aggregator) classify(date time.Time, attended bool, special *store.SpecialDay) DayKind {
	if special != nil && !attended {
		return DayKind{Tag: TagSpecial, Special: special}
	}
	c := a.oracle.Classify(date)
	switch {
	case c.IsHoliday && !c.IsWeekend:
		return DayKind{Tag: TagHoliday, Holiday: calendar.Result{IsHoliday: true, Kind: c.Kind, Name: c.Name}}
	case c.IsWeekend:
		return DayKind{Tag: TagWeekend}
	}
	return DayKind{Tag: TagOrdinary}
}

func hoursToDuration(h float64) time.Duration {
	return time.Duration(h * float64(time.Hour))
}

func (in Input) matches(employee string) bool {
	return in.Employee == "" || in.Employee == employee
}

// Week summarizes the week containing weekOf. Attendance on a date always
// takes precedence over a special day registered for it.
func (a *Aggregator) Week(in Input, weekOf time.Time) WeekSummary {
	start, end := a.WeekBounds(weekOf)
	year, week := start.ISOWeek()

	index := make(map[string]int, 7)
	days := make([]DayDetail, 7)
	attended := make([]bool, 7)
	// present[i] holds the employees with attendance on day i.
	present := make([]map[string]bool, 7)
	mark := func(i int, employee string) {
		attended[i] = true
		if present[i] == nil {
			present[i] = make(map[string]bool)
		}
		present[i][employee] = true
	}
	for i := range days {
		d := start.AddDate(0, 0, i)
		days[i].Date = d
		index[store.DayKey(d, a.loc)] = i
	}
	slot := func(t time.Time) (int, bool) {
		i, ok := index[store.DayKey(t, a.loc)]
		return i, ok
	}

	for _, r := range in.Records {
		if !in.matches(r.Employee) {
			continue
		}
		i, ok := slot(a.AttributedDay(r, in.Records))
		if !ok {
			continue
		}
		mark(i, r.Employee)
		if r.Type == store.CheckOut {
			days[i].Worked += checkOutWorked(r, in.Records)
			days[i].Sessions++
		}
	}

	if s := in.Active; s != nil && in.matches(s.Employee) {
		if _, closed := store.CheckOutFor(in.Records, s.CheckInID); !closed {
			if i, ok := slot(s.StartedAt); ok {
				mark(i, s.Employee)
				days[i].Worked += s.ElapsedAt(a.now())
				days[i].Sessions++
				days[i].Live = true
			}
		}
	}

	// A special day is credited only when its own employee has no
	// attendance that date. With several employees each one is credited.
	credited := make([][]store.SpecialDay, 7)
	for _, sd := range specialday.FilterPeriod(in.SpecialDays, start, end, in.Employee, a.loc) {
		i, ok := index[sd.Date]
		if !ok || present[i][sd.Employee] {
			continue
		}
		credited[i] = append(credited[i], sd)
	}

	sum := WeekSummary{ISOWeek: week, Year: year, WeekStart: start, WeekEnd: end}
	for i := range days {
		var special *store.SpecialDay
		if len(credited[i]) > 0 {
			special = &credited[i][0]
		}
		days[i].Kind = a.classify(days[i].Date, attended[i], special)
		days[i].Specials = credited[i]
		for _, sd := range credited[i] {
			days[i].Worked += hoursToDuration(sd.Hours)
		}
		if attended[i] {
			sum.DaysWorked++
		}
		sum.Worked += days[i].Worked
	}
	sum.Days = days

	sum.Theoretical = a.oracle.TheoreticalHours(start, end, a.dailyHours)
	sum.TheoreticalHours = sum.Theoretical.Hours
	if over := sum.WorkedHours() - a.threshold; over > 0 {
		sum.OvertimeHours = over
	}
	return sum
}

// Range returns one summary per ISO week overlapping [from, to], oldest
// first.
func (a *Aggregator) Range(in Input, from, to time.Time) []WeekSummary {
	if to.Before(from) {
		from, to = to, from
	}
	seen := make(map[[2]int]bool)
	var out []WeekSummary
	monday, _ := a.WeekBounds(from)
	for d := monday; !d.After(to); d = d.AddDate(0, 0, 7) {
		w := a.Week(in, d)
		key := [2]int{w.ISOWeek, w.Year}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, w)
	}
	return out
}

// Span is the earliest and latest instant anything in the input refers to.
func (a *Aggregator) Span(in Input) (time.Time, time.Time, bool) {
	var first, last time.Time
	add := func(t time.Time) {
		if first.IsZero() || t.Before(first) {
			first = t
		}
		if last.IsZero() || t.After(last) {
			last = t
		}
	}
	for _, r := range in.Records {
		if in.matches(r.Employee) {
			add(r.Timestamp)
		}
	}
	if in.Active != nil && in.matches(in.Active.Employee) {
		add(in.Active.StartedAt)
		add(a.now())
	}
	for _, sd := range in.SpecialDays {
		if sd.Active && in.matches(sd.Employee) {
			if d, err := time.ParseInLocation("2006-01-02", sd.Date, a.loc); err == nil {
				add(d)
			}
		}
	}
	return first, last, !first.IsZero()
}

// All summarizes every week that has data.
func (a *Aggregator) All(in Input) []WeekSummary {
	from, to, ok := a.Span(in)
	if !ok {
		return nil
	}
	return a.Range(in, from, to)
}

type OvertimeSummary struct {
	TotalOvertimeHours float64
	TotalWorkedHours   float64
	WeeksWithOvertime  int
	// ByMonth is keyed by the YYYY-MM of each week's Monday.
	ByMonth map[string]float64
	Weeks   []WeekSummary
}

// Months returns the ByMonth keys in order.
func (s OvertimeSummary) Months() []string {
	months := make([]string, 0, len(s.ByMonth))
	for m := range s.ByMonth {
		months = append(months, m)
	}
	sort.Strings(months)
	return months
}

func Summarize(weeks []WeekSummary) OvertimeSummary {
	s := OvertimeSummary{ByMonth: make(map[string]float64), Weeks: weeks}
	for _, w := range weeks {
		s.TotalWorkedHours += w.WorkedHours()
		if w.OvertimeHours <= 0 {
			continue
		}
		s.WeeksWithOvertime++
		s.TotalOvertimeHours += w.OvertimeHours
		s.ByMonth[w.WeekStart.Format("2006-01")] += w.OvertimeHours
	}
	return s
}
