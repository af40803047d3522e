package store

import (
	"fmt"
	"time"
)

type RecordType string

const (
	CheckIn  RecordType = "entrada"
	CheckOut RecordType = "salida"
)

// Record is one entry of the attendance log. Check-outs carry the id of the
// check-in they close and the worked time with paused intervals excluded.
type Record struct {
	ID              int64      `json:"id"`
	Type            RecordType `json:"type"`
	Timestamp       time.Time  `json:"fecha"`
	Employee        string     `json:"empleado"`
	CheckInID       int64      `json:"entradaId,omitempty"`
	WorkedSeconds   *float64   `json:"tiempoTrabajado,omitempty"`
	WorkedFormatted string     `json:"tiempoFormateado,omitempty"`
	Paused          *bool      `json:"pausada,omitempty"`
}

// Worked returns the recorded worked time of a check-out, if any.
func (r Record) Worked() (time.Duration, bool) {
	if r.Type != CheckOut || r.WorkedSeconds == nil {
		return 0, false
	}
	return secondsToDuration(*r.WorkedSeconds), true
}

// ActiveSession is the live projection of a still-open check-in.
type ActiveSession struct {
	CheckInID          int64     `json:"id"`
	StartedAt          time.Time `json:"fechaInicio"`
	Employee           string    `json:"empleado"`
	AccumulatedSeconds float64   `json:"tiempoAcumulado"`
	Paused             bool      `json:"pausada"`
	LastUpdate         time.Time `json:"ultimaActualizacion"`
}

func (s ActiveSession) Accumulated() time.Duration {
	return secondsToDuration(s.AccumulatedSeconds)
}

// ElapsedAt derives the session's worked time at now from the persisted
// fields alone: accumulated + (now - lastUpdate) while running. A clock that
// went backwards contributes nothing.
func (s ActiveSession) ElapsedAt(now time.Time) time.Duration {
	elapsed := s.Accumulated()
	if s.Paused {
		return elapsed
	}
	if delta := now.Sub(s.LastUpdate); delta > 0 {
		elapsed += delta
	}
	return elapsed
}

// Fold moves the running delta into AccumulatedSeconds and restarts the
// delta at now.
func (s *ActiveSession) Fold(now time.Time) {
	s.AccumulatedSeconds = s.ElapsedAt(now).Seconds()
	s.LastUpdate = now
}

type SpecialDayType string

const (
	ManualHoliday SpecialDayType = "festivo_manual"
	PersonalDay   SpecialDayType = "fiesta_personal"
	SickLeave     SpecialDayType = "baja_laboral"
	Vacation      SpecialDayType = "vacaciones"
	Permit        SpecialDayType = "permiso"
)

var SpecialDayTypes = []SpecialDayType{ManualHoliday, PersonalDay, SickLeave, Vacation, Permit}

func (t SpecialDayType) Valid() bool {
	for _, v := range SpecialDayTypes {
		if v == t {
			return true
		}
	}
	return false
}

func (t SpecialDayType) DisplayName() string {
	switch t {
	case ManualHoliday:
		return "Manual holiday"
	case PersonalDay:
		return "Personal day"
	case SickLeave:
		return "Sick leave"
	case Vacation:
		return "Vacation"
	case Permit:
		return "Permit"
	}
	return string(t)
}

// SpecialDay is an employee-declared exception credited with hours.
type SpecialDay struct {
	ID            string         `json:"id"`
	Date          string         `json:"fecha"`
	FullDate      time.Time      `json:"fechaCompleta"`
	Type          SpecialDayType `json:"tipo"`
	Reason        string         `json:"motivo"`
	Employee      string         `json:"empleado"`
	Hours         float64        `json:"horas"`
	RegisteredAt  time.Time      `json:"fechaRegistro"`
	Active        bool           `json:"activo"`
	DeactivatedAt *time.Time     `json:"fechaDesactivacion,omitempty"`
}

type OvertimeStatus string

const (
	OvertimePending     OvertimeStatus = "pendiente"
	OvertimePaid        OvertimeStatus = "pagado"
	OvertimeCompensated OvertimeStatus = "compensado"
)

func (s OvertimeStatus) Valid() bool {
	return s == OvertimePending || s == OvertimePaid || s == OvertimeCompensated
}

type RecordRef struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"fecha"`
	Employee  string    `json:"empleado"`
}

type StatusNote struct {
	At     time.Time      `json:"fecha"`
	Status OvertimeStatus `json:"estado"`
	Note   string         `json:"observacion"`
}

// OvertimeEntry is the persisted figure for one ISO week that crossed the
// weekly threshold.
type OvertimeEntry struct {
	ID               string         `json:"id"`
	ISOWeek          int            `json:"semanaISO"`
	Year             int            `json:"año"`
	WeekStart        time.Time      `json:"fechaInicio"`
	WeekEnd          time.Time      `json:"fechaFin"`
	WeeklyHours      float64        `json:"horasSemanales"`
	OvertimeHours    float64        `json:"horasExtras"`
	DaysWorked       int            `json:"diasTrabajados"`
	HolidayDays      int            `json:"diasFestivos"`
	TheoreticalHours float64        `json:"horasTeoricas"`
	Employee         string         `json:"empleado"`
	RegisteredAt     time.Time      `json:"fechaRegistro"`
	LastUpdate       *time.Time     `json:"ultimaActualizacion,omitempty"`
	ClosedBy         RecordRef      `json:"salidaQueCerroSemana"`
	Status           OvertimeStatus `json:"estado"`
	Notes            string         `json:"observaciones"`
	History          []StatusNote   `json:"historialObservaciones,omitempty"`
}

// Layout documents the full contents of the store for export consumers.
type Layout struct {
	Records       []Record        `json:"records"`
	ActiveSession *ActiveSession  `json:"activeSession,omitempty"`
	SpecialDays   []SpecialDay    `json:"specialDays"`
	OvertimeLog   []OvertimeEntry `json:"horasExtrasLog"`
	Employee      string          `json:"nombreEmpleado,omitempty"`
}

// FormatClock renders d as hh:mm:ss.
func FormatClock(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
