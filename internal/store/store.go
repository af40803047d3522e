package store

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"
)

const (
	KeyRecords       = "records"
	KeyActiveSession = "activeSession"
	KeySpecialDays   = "specialDays"
	KeyOvertimeLog   = "horasExtrasLog"
	KeyEmployee      = "nombreEmpleado"
)

// Provider is the persistence collaborator. Get returns nil, nil for an
// absent key. Implementations must be immediately consistent: a Set is
// visible to the next Get.
type Provider interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
	Remove(key string) error
}

// Transactor is implemented by providers that can run a group of reads and
// writes as one transaction, isolated from other processes sharing the same
// data. fn must use only the Provider it is given. An error from fn rolls
// the transaction back.
type Transactor interface {
	Transact(fn func(p Provider) error) error
}

// Store is the typed Session Store over a Provider. All engines and ledgers
// that must observe each other's writes share one Store; Update serializes
// their read-check-write sequences.
type Store struct {
	mu     sync.Mutex
	p      Provider
	logger *slog.Logger
}

func New(p Provider, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Store{p: p, logger: logger}
}

// Update runs fn with exclusive access. When the provider is a Transactor,
// fn runs inside one of its transactions, so other processes on the same
// database see all of its writes or none. Otherwise writes are applied
// immediately and in order with no rollback, so fn must finish its checks
// before its first write.
func (s *Store) Update(fn func(tx *Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.p.(Transactor); ok {
		return t.Transact(func(p Provider) error {
			return fn(&Tx{p: p, logger: s.logger})
		})
	}
	return fn(&Tx{p: s.p, logger: s.logger})
}

// View runs fn with exclusive access for reads.
func (s *Store) View(fn func(tx *Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&Tx{p: s.p, logger: s.logger, readOnly: true})
}

// Close closes the provider if it holds resources.
func (s *Store) Close() error {
	if c, ok := s.p.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (s *Store) Records() ([]Record, error) {
	var out []Record
	err := s.View(func(tx *Tx) error {
		var err error
		out, err = tx.Records()
		return err
	})
	return out, err
}

func (s *Store) ActiveSession() (*ActiveSession, error) {
	var out *ActiveSession
	err := s.View(func(tx *Tx) error {
		var err error
		out, err = tx.ActiveSession()
		return err
	})
	return out, err
}

func (s *Store) SpecialDays() ([]SpecialDay, error) {
	var out []SpecialDay
	err := s.View(func(tx *Tx) error {
		var err error
		out, err = tx.SpecialDays()
		return err
	})
	return out, err
}

func (s *Store) OvertimeLog() ([]OvertimeEntry, error) {
	var out []OvertimeEntry
	err := s.View(func(tx *Tx) error {
		var err error
		out, err = tx.OvertimeLog()
		return err
	})
	return out, err
}

// Snapshot reads every table at once.
func (s *Store) Snapshot() (Layout, error) {
	var l Layout
	err := s.View(func(tx *Tx) error {
		var err error
		if l.Records, err = tx.Records(); err != nil {
			return err
		}
		if l.ActiveSession, err = tx.ActiveSession(); err != nil {
			return err
		}
		if l.SpecialDays, err = tx.SpecialDays(); err != nil {
			return err
		}
		if l.OvertimeLog, err = tx.OvertimeLog(); err != nil {
			return err
		}
		l.Employee, err = tx.EmployeeName()
		return err
	})
	return l, err
}

// Tx is the view of the store handed to Update and View callbacks.
type Tx struct {
	p        Provider
	logger   *slog.Logger
	readOnly bool
}

func (tx *Tx) load(key string, v any) (bool, error) {
	data, err := tx.p.Get(key)
	if err != nil {
		return false, fmt.Errorf("loading %s: %w", key, err)
	}
	if len(data) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("parsing %s: %w", key, err)
	}
	return true, nil
}

func (tx *Tx) save(key string, v any) error {
	if tx.readOnly {
		return fmt.Errorf("writing %s: read-only transaction", key)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", key, err)
	}
	if err := tx.p.Set(key, data); err != nil {
		return fmt.Errorf("saving %s: %w", key, err)
	}
	tx.logger.Debug("store write", "key", key, "bytes", len(data))
	return nil
}

// Records returns the attendance log, newest first.
func (tx *Tx) Records() ([]Record, error) {
	var records []Record
	if _, err := tx.load(KeyRecords, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// PutRecords replaces the attendance log, keeping it newest first.
func (tx *Tx) PutRecords(records []Record) error {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp.After(records[j].Timestamp)
	})
	return tx.save(KeyRecords, records)
}

// AppendRecord assigns a unique id (Unix milliseconds of the timestamp,
// bumped on collision) and prepends the record to the log.
func (tx *Tx) AppendRecord(r Record) (Record, error) {
	records, err := tx.Records()
	if err != nil {
		return Record{}, err
	}

	if r.ID == 0 {
		r.ID = r.Timestamp.UnixMilli()
	}
	for {
		if _, found := FindRecord(records, r.ID); !found {
			break
		}
		r.ID++
	}

	records = append([]Record{r}, records...)
	if err := tx.PutRecords(records); err != nil {
		return Record{}, err
	}
	return r, nil
}

// DeleteRecord removes the record with id. It reports whether one existed.
func (tx *Tx) DeleteRecord(id int64) (bool, error) {
	records, err := tx.Records()
	if err != nil {
		return false, err
	}
	kept := records[:0]
	found := false
	for _, r := range records {
		if r.ID == id {
			found = true
			continue
		}
		kept = append(kept, r)
	}
	if !found {
		return false, nil
	}
	return true, tx.PutRecords(kept)
}

func (tx *Tx) ActiveSession() (*ActiveSession, error) {
	var s ActiveSession
	ok, err := tx.load(KeyActiveSession, &s)
	if err != nil || !ok {
		return nil, err
	}
	return &s, nil
}

func (tx *Tx) PutActiveSession(s *ActiveSession) error {
	return tx.save(KeyActiveSession, s)
}

func (tx *Tx) ClearActiveSession() error {
	if tx.readOnly {
		return fmt.Errorf("removing %s: read-only transaction", KeyActiveSession)
	}
	if err := tx.p.Remove(KeyActiveSession); err != nil {
		return fmt.Errorf("removing %s: %w", KeyActiveSession, err)
	}
	return nil
}

func (tx *Tx) SpecialDays() ([]SpecialDay, error) {
	var days []SpecialDay
	if _, err := tx.load(KeySpecialDays, &days); err != nil {
		return nil, err
	}
	return days, nil
}

func (tx *Tx) PutSpecialDays(days []SpecialDay) error {
	return tx.save(KeySpecialDays, days)
}

func (tx *Tx) OvertimeLog() ([]OvertimeEntry, error) {
	var log []OvertimeEntry
	if _, err := tx.load(KeyOvertimeLog, &log); err != nil {
		return nil, err
	}
	return log, nil
}

func (tx *Tx) PutOvertimeLog(log []OvertimeEntry) error {
	return tx.save(KeyOvertimeLog, log)
}

func (tx *Tx) EmployeeName() (string, error) {
	var name string
	if _, err := tx.load(KeyEmployee, &name); err != nil {
		return "", err
	}
	return name, nil
}

func (tx *Tx) PutEmployeeName(name string) error {
	return tx.save(KeyEmployee, name)
}

// FindRecord returns the record with id.
func FindRecord(records []Record, id int64) (Record, bool) {
	for _, r := range records {
		if r.ID == id {
			return r, true
		}
	}
	return Record{}, false
}

// CheckOutFor returns the check-out that closes the given check-in, if any.
func CheckOutFor(records []Record, checkInID int64) (Record, bool) {
	for _, r := range records {
		if r.Type == CheckOut && r.CheckInID == checkInID {
			return r, true
		}
	}
	return Record{}, false
}

// OpenCheckIn returns the employee's check-in that has no matching
// check-out. An empty employee matches any.
func OpenCheckIn(records []Record, employee string) (Record, bool) {
	closed := make(map[int64]bool)
	for _, r := range records {
		if r.Type == CheckOut && r.CheckInID != 0 {
			closed[r.CheckInID] = true
		}
	}
	for _, r := range records {
		if r.Type != CheckIn || closed[r.ID] {
			continue
		}
		if employee == "" || r.Employee == employee {
			return r, true
		}
	}
	return Record{}, false
}

// DayKey is the local calendar date of t in loc as YYYY-MM-DD.
func DayKey(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("2006-01-02")
}
