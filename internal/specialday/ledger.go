// Package specialday keeps the employee-declared date exceptions (holidays
// taken, sick leave, vacation, permits) that are credited as worked hours.
package specialday

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/christopherklint97/punchclock/internal/apperr"
	"github.com/christopherklint97/punchclock/internal/store"
)

const DefaultMaxDaysAhead = 7

// CreditedHours is the weekday table: Monday to Thursday 9h, Friday 4h,
// weekends 0h.
func CreditedHours(date time.Time) float64 {
	switch date.Weekday() {
	case time.Monday, time.Tuesday, time.Wednesday, time.Thursday:
		return 9
	case time.Friday:
		return 4
	}
	return 0
}

type RegisterRequest struct {
	Date     time.Time            `validate:"required"`
	Type     store.SpecialDayType `validate:"required,oneof=festivo_manual fiesta_personal baja_laboral vacaciones permiso"`
	Reason   string               `validate:"max=500"`
	Employee string               `validate:"required,max=200"`
	// Hours overrides the weekday table when set.
	Hours *float64 `validate:"omitempty,gte=0,lte=24"`
}

type Ledger struct {
	store        *store.Store
	now          func() time.Time
	loc          *time.Location
	maxDaysAhead int
	validate     *validator.Validate
	logger       *slog.Logger
}

type Option func(*Ledger)

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func WithLocation(loc *time.Location) Option {
	return func(l *Ledger) { l.loc = loc }
}

func WithMaxDaysAhead(days int) Option {
	return func(l *Ledger) { l.maxDaysAhead = days }
}

func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

func New(s *store.Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:        s,
		now:          time.Now,
		loc:          time.Local,
		maxDaysAhead: DefaultMaxDaysAhead,
		validate:     validator.New(),
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) dayStart(t time.Time) time.Time {
	t = t.In(l.loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, l.loc)
}

func (l *Ledger) check(req *RegisterRequest) error {
	req.Employee = strings.TrimSpace(req.Employee)
	req.Reason = strings.TrimSpace(req.Reason)

	if req.Date.IsZero() {
		return apperr.Invalid("date", "is required")
	}
	if err := l.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return &apperr.ValidationError{
				Field:  strings.ToLower(fe.Field()),
				Reason: fmt.Sprintf("failed %q check", fe.Tag()),
				Err:    err,
			}
		}
		return fmt.Errorf("validating special day: %w", err)
	}

	limit := l.dayStart(l.now()).AddDate(0, 0, l.maxDaysAhead)
	if l.dayStart(req.Date).After(limit) {
		return &apperr.ValidationError{
			Field:  "date",
			Reason: fmt.Sprintf("special days cannot be registered more than %d days ahead", l.maxDaysAhead),
			Err:    apperr.ErrFutureDateTooFar,
		}
	}
	return nil
}

// CanRegister reports why a registration for (date, employee) would be
// rejected, or nil if it would be accepted with the table hours.
func (l *Ledger) CanRegister(date time.Time, employee string) error {
	req := RegisterRequest{Date: date, Type: store.PersonalDay, Employee: employee}
	if err := l.check(&req); err != nil {
		return err
	}
	existing, err := l.Lookup(date, req.Employee)
	if err != nil {
		return err
	}
	if existing != nil {
		return &apperr.StateConflictError{
			Op:     "register special day",
			Reason: fmt.Sprintf("%s already registered for %s", existing.Type.DisplayName(), existing.Date),
			Err:    apperr.ErrDuplicateEntry,
		}
	}
	return nil
}

// Register stores a new active special day. It fails without writing when
// the input is invalid, the date is too far ahead, or an active entry already
// exists for the same date and employee.
func (l *Ledger) Register(req RegisterRequest) (store.SpecialDay, error) {
	if err := l.check(&req); err != nil {
		return store.SpecialDay{}, err
	}

	day := l.dayStart(req.Date)
	key := day.Format("2006-01-02")

	hours := CreditedHours(day)
	if req.Hours != nil {
		hours = *req.Hours
	}

	entry := store.SpecialDay{
		ID:           "especial_" + uuid.NewString(),
		Date:         key,
		FullDate:     day,
		Type:         req.Type,
		Reason:       req.Reason,
		Employee:     req.Employee,
		Hours:        hours,
		RegisteredAt: l.now(),
		Active:       true,
	}

	err := l.store.Update(func(tx *store.Tx) error {
		days, err := tx.SpecialDays()
		if err != nil {
			return err
		}
		for _, d := range days {
			if d.Active && d.Date == key && d.Employee == req.Employee {
				return &apperr.StateConflictError{
					Op:     "register special day",
					Reason: fmt.Sprintf("%s already registered for %s", d.Type.DisplayName(), key),
					Err:    apperr.ErrDuplicateEntry,
				}
			}
		}
		return tx.PutSpecialDays(append(days, entry))
	})
	if err != nil {
		return store.SpecialDay{}, err
	}

	l.logger.Info("special day registered", "id", entry.ID, "date", key, "type", entry.Type, "hours", hours)
	return entry, nil
}

// Lookup returns the active entry for (date, employee), or nil.
func (l *Ledger) Lookup(date time.Time, employee string) (*store.SpecialDay, error) {
	key := l.dayStart(date).Format("2006-01-02")
	days, err := l.store.SpecialDays()
	if err != nil {
		return nil, err
	}
	for _, d := range days {
		if d.Active && d.Date == key && d.Employee == employee {
			return &d, nil
		}
	}
	return nil, nil
}

// List returns every entry, active or not. An empty employee matches all.
func (l *Ledger) List(employee string) ([]store.SpecialDay, error) {
	days, err := l.store.SpecialDays()
	if err != nil {
		return nil, err
	}
	if employee == "" {
		return days, nil
	}
	var out []store.SpecialDay
	for _, d := range days {
		if d.Employee == employee {
			out = append(out, d)
		}
	}
	return out, nil
}

// ForPeriod returns the active entries whose date lies in [from, to].
func (l *Ledger) ForPeriod(from, to time.Time, employee string) ([]store.SpecialDay, error) {
	days, err := l.store.SpecialDays()
	if err != nil {
		return nil, err
	}
	return FilterPeriod(days, from, to, employee, l.loc), nil
}

// FilterPeriod keeps active entries for employee (any when empty) whose date
// lies in [from, to] by calendar date in loc.
func FilterPeriod(days []store.SpecialDay, from, to time.Time, employee string, loc *time.Location) []store.SpecialDay {
	first := from.In(loc).Format("2006-01-02")
	last := to.In(loc).Format("2006-01-02")
	var out []store.SpecialDay
	for _, d := range days {
		if !d.Active || (employee != "" && d.Employee != employee) {
			continue
		}
		if d.Date >= first && d.Date <= last {
			out = append(out, d)
		}
	}
	return out
}

// Deactivate excludes an entry from every later aggregation while keeping it
// in the ledger.
func (l *Ledger) Deactivate(id string) error {
	return l.store.Update(func(tx *store.Tx) error {
		days, err := tx.SpecialDays()
		if err != nil {
			return err
		}
		for i := range days {
			if days[i].ID != id {
				continue
			}
			if !days[i].Active {
				return nil
			}
			now := l.now()
			days[i].Active = false
			days[i].DeactivatedAt = &now
			l.logger.Info("special day deactivated", "id", id, "date", days[i].Date)
			return tx.PutSpecialDays(days)
		}
		return apperr.Conflict("deactivate special day", apperr.ErrNotFound)
	})
}

func (l *Ledger) Delete(id string) error {
	return l.store.Update(func(tx *store.Tx) error {
		days, err := tx.SpecialDays()
		if err != nil {
			return err
		}
		for i := range days {
			if days[i].ID == id {
				l.logger.Info("special day deleted", "id", id, "date", days[i].Date)
				return tx.PutSpecialDays(append(days[:i], days[i+1:]...))
			}
		}
		return apperr.Conflict("delete special day", apperr.ErrNotFound)
	})
}

type TypeStats struct {
	Count int
	Hours float64
}

type Stats struct {
	Total      int
	TotalHours float64
	ByType     map[store.SpecialDayType]TypeStats
}

// Stats summarizes the active entries of a period.
func (l *Ledger) Stats(from, to time.Time, employee string) (Stats, error) {
	days, err := l.ForPeriod(from, to, employee)
	if err != nil {
		return Stats{}, err
	}
	s := Stats{ByType: make(map[store.SpecialDayType]TypeStats)}
	for _, d := range days {
		s.Total++
		s.TotalHours += d.Hours
		ts := s.ByType[d.Type]
		ts.Count++
		ts.Hours += d.Hours
		s.ByType[d.Type] = ts
	}
	return s, nil
}
