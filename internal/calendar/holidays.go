// Package calendar decides whether a date is a holiday or a business day.
// Fixed holidays are keyed by month-day; moveable feasts are offsets from
// Easter Sunday. Everything here is pure.
package calendar

import (
	"sort"
	"time"
)

type Kind string

const (
	KindNational Kind = "nacional"
	KindRegional Kind = "autonómico"
	KindMoveable Kind = "variable"
	KindExtra    Kind = "extra"
)

type Holiday struct {
	Date time.Time
	Kind Kind
	Name string
}

// Result is the answer to IsHoliday.
type Result struct {
	IsHoliday bool
	Kind      Kind
	Name      string
}

// Day is the derived classification of one calendar date.
type Day struct {
	Date          time.Time
	IsWeekend     bool
	IsHoliday     bool
	Kind          Kind
	Name          string
	IsBusinessDay bool
}

type fixedHoliday struct {
	month time.Month
	day   int
	name  string
}

var national = []fixedHoliday{
	{time.January, 1, "Año Nuevo"},
	{time.January, 6, "Epifanía del Señor"},
	{time.May, 1, "Día del Trabajador"},
	{time.August, 15, "Asunción de la Virgen"},
	{time.October, 12, "Fiesta Nacional de España"},
	{time.November, 1, "Todos los Santos"},
	{time.December, 6, "Día de la Constitución"},
	{time.December, 8, "Inmaculada Concepción"},
	{time.December, 25, "Navidad"},
}

var regional = []fixedHoliday{
	{time.April, 23, "Sant Jordi"},
	{time.June, 24, "Sant Joan"},
	{time.September, 11, "Diada Nacional de Catalunya"},
	{time.December, 26, "San Esteban"},
}

type moveableFeast struct {
	offset int // days from Easter Sunday
	name   string
}

var moveable = []moveableFeast{
	{-2, "Viernes Santo"},
	{1, "Lunes de Pascua"},
	{50, "Lunes de Pentecostés"},
}

// Easter returns Easter Sunday of year (Gregorian computus, Meeus/Jones/
// Butcher form of the Gauss congruences) as a UTC date.
func Easter(year int) time.Time {
	a := year % 19
	b := year / 100
	c := year % 100
	d := b / 4
	e := b % 4
	f := (b + 8) / 25
	g := (b - f + 1) / 3
	h := (19*a + b - d - g + 15) % 30
	i := c / 4
	k := c % 4
	l := (32 + 2*e + 2*i - h - k) % 7
	m := (a + 11*h + 22*l) / 451
	month := (h + l - 7*m + 114) / 31
	day := (h+l-7*m+114)%31 + 1
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
}

// Oracle answers holiday questions for one configured region.
type Oracle struct {
	includeRegional bool
	extra           map[string]Holiday
}

type Option func(*Oracle)

// WithRegional controls whether regional holidays count for IsBusinessDay.
func WithRegional(include bool) Option {
	return func(o *Oracle) { o.includeRegional = include }
}

// WithExtra adds holidays from another source (for example an ICS feed).
func WithExtra(holidays []Holiday) Option {
	return func(o *Oracle) {
		for _, h := range holidays {
			h.Kind = KindExtra
			o.extra[dateKey(h.Date)] = h
		}
	}
}

func New(opts ...Option) *Oracle {
	o := &Oracle{includeRegional: true, extra: make(map[string]Holiday)}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Oracle) IncludesRegional() bool { return o.includeRegional }

// IsHoliday reports whether date is a national, regional (when
// includeRegional), moveable or extra holiday.
func (o *Oracle) IsHoliday(date time.Time, includeRegional bool) Result {
	for _, h := range national {
		if date.Month() == h.month && date.Day() == h.day {
			return Result{IsHoliday: true, Kind: KindNational, Name: h.name}
		}
	}
	if includeRegional {
		for _, h := range regional {
			if date.Month() == h.month && date.Day() == h.day {
				return Result{IsHoliday: true, Kind: KindRegional, Name: h.name}
			}
		}
	}
	easter := Easter(date.Year())
	for _, f := range moveable {
		if sameDate(easter.AddDate(0, 0, f.offset), date) {
			return Result{IsHoliday: true, Kind: KindMoveable, Name: f.name}
		}
	}
	if h, ok := o.extra[dateKey(date)]; ok {
		return Result{IsHoliday: true, Kind: KindExtra, Name: h.Name}
	}
	return Result{}
}

func IsWeekend(date time.Time) bool {
	wd := date.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

func (o *Oracle) IsBusinessDay(date time.Time) bool {
	return !IsWeekend(date) && !o.IsHoliday(date, o.includeRegional).IsHoliday
}

func (o *Oracle) Classify(date time.Time) Day {
	r := o.IsHoliday(date, o.includeRegional)
	weekend := IsWeekend(date)
	return Day{
		Date:          date,
		IsWeekend:     weekend,
		IsHoliday:     r.IsHoliday,
		Kind:          r.Kind,
		Name:          r.Name,
		IsBusinessDay: !weekend && !r.IsHoliday,
	}
}

// HolidaysInYear lists every holiday of year in date order, in loc.
func (o *Oracle) HolidaysInYear(year int, includeRegional bool, loc *time.Location) []Holiday {
	var out []Holiday
	for _, h := range national {
		out = append(out, Holiday{Date: time.Date(year, h.month, h.day, 0, 0, 0, 0, loc), Kind: KindNational, Name: h.name})
	}
	if includeRegional {
		for _, h := range regional {
			out = append(out, Holiday{Date: time.Date(year, h.month, h.day, 0, 0, 0, 0, loc), Kind: KindRegional, Name: h.name})
		}
	}
	easter := Easter(year)
	for _, f := range moveable {
		d := easter.AddDate(0, 0, f.offset)
		out = append(out, Holiday{Date: time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, loc), Kind: KindMoveable, Name: f.name})
	}
	for _, h := range o.extra {
		if h.Date.Year() == year {
			out = append(out, Holiday{Date: time.Date(year, h.Date.Month(), h.Date.Day(), 0, 0, 0, 0, loc), Kind: KindExtra, Name: h.Name})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

// Theoretical is the expected workload of a date range.
type Theoretical struct {
	BusinessDays int
	HolidayDays  int
	WeekendDays  int
	HoursPerDay  float64
	Hours        float64
}

func (t Theoretical) TotalDays() int {
	return t.BusinessDays + t.HolidayDays + t.WeekendDays
}

// TheoreticalHours counts the dates of [from, to] (inclusive, by calendar
// date) and multiplies business days by hoursPerDay. A holiday falling on a
// weekend counts as a weekend day.
func (o *Oracle) TheoreticalHours(from, to time.Time, hoursPerDay float64) Theoretical {
	t := Theoretical{HoursPerDay: hoursPerDay}
	day := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, from.Location())
	last := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, from.Location())
	for !day.After(last) {
		switch c := o.Classify(day); {
		case c.IsBusinessDay:
			t.BusinessDays++
		case c.IsWeekend:
			t.WeekendDays++
		default:
			t.HolidayDays++
		}
		day = day.AddDate(0, 0, 1)
	}
	t.Hours = float64(t.BusinessDays) * hoursPerDay
	return t
}

func sameDate(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month() && a.Day() == b.Day()
}

func dateKey(t time.Time) string {
	return t.Format("2006-01-02")
}
