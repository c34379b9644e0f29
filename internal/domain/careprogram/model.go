package careprogram

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
)

// Program identifies one of the monthly billable care programs.
type Program string

const (
	ProgramRPM Program = "rpm"
	ProgramCCM Program = "ccm"
)

// Role is the kind of clinician whose management time is being logged.
type Role string

const (
	RoleStaff     Role = "staff"
	RolePhysician Role = "physician"
)

const (
	dateLayout  = "2006-01-02"
	monthLayout = "2006-01"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrWrongProgram = errors.New("operation not supported for program")
)

// ValidationError describes a rejected field. It unwraps to ErrInvalidInput.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidInput }

func invalid(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// ParseProgram validates a program name.
func ParseProgram(s string) (Program, error) {
	switch p := Program(strings.ToLower(strings.TrimSpace(s))); p {
	case ProgramRPM, ProgramCCM:
		return p, nil
	}
	return "", invalid("program", "unknown program %q", s)
}

// ParseRole validates a role name.
func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleStaff, RolePhysician:
		return r, nil
	}
	return "", invalid("role", "unknown role %q", s)
}

// MonthOf validates a YYYY-MM-DD date and returns the YYYY-MM month it
// belongs to. Every month key derived from a date goes through here.
func MonthOf(date string) (string, error) {
	t, err := time.Parse(dateLayout, date)
	if err != nil || t.Format(dateLayout) != date {
		return "", invalid("date", "expected YYYY-MM-DD, got %q", date)
	}
	return t.Format(monthLayout), nil
}

// ParseMonth validates a YYYY-MM month key.
func ParseMonth(month string) (string, error) {
	t, err := time.Parse(monthLayout, month)
	if err != nil || t.Format(monthLayout) != month {
		return "", invalid("month", "expected YYYY-MM, got %q", month)
	}
	return month, nil
}

// ProgramEnrollment is the per-patient, per-program enrollment record.
type ProgramEnrollment struct {
	PatientID        string
	Program          Program
	ConsentAt        *time.Time
	SetupCompletedAt *time.Time // rpm only
	DeviceType       string     // rpm only, informational
	Conditions       mapset.Set[string]
	EnrolledAt       time.Time
	UpdatedAt        time.Time
}

func newEnrollment(patientID string, program Program) *ProgramEnrollment {
	return &ProgramEnrollment{
		PatientID:  patientID,
		Program:    program,
		Conditions: mapset.NewThreadUnsafeSet[string](),
	}
}

// AddCondition adds a chronic condition label and reports whether it was new.
func (e *ProgramEnrollment) AddCondition(label string) bool {
	if e.Conditions == nil {
		e.Conditions = mapset.NewThreadUnsafeSet[string]()
	}
	return e.Conditions.Add(label)
}

// ConditionCount returns the number of distinct chronic conditions.
func (e *ProgramEnrollment) ConditionCount() int {
	if e == nil || e.Conditions == nil {
		return 0
	}
	return e.Conditions.Cardinality()
}

// Clone returns a deep copy.
func (e *ProgramEnrollment) Clone() *ProgramEnrollment {
	if e == nil {
		return nil
	}
	c := *e
	if e.ConsentAt != nil {
		t := *e.ConsentAt
		c.ConsentAt = &t
	}
	if e.SetupCompletedAt != nil {
		t := *e.SetupCompletedAt
		c.SetupCompletedAt = &t
	}
	if e.Conditions != nil {
		c.Conditions = e.Conditions.Clone()
	} else {
		c.Conditions = mapset.NewThreadUnsafeSet[string]()
	}
	return &c
}

// View is the JSON representation returned to callers.
func (e *ProgramEnrollment) View() EnrollmentView {
	v := EnrollmentView{
		PatientID:        e.PatientID,
		Program:          e.Program,
		ConsentAt:        e.ConsentAt,
		SetupCompletedAt: e.SetupCompletedAt,
		DeviceType:       e.DeviceType,
		Conditions:       sortedSet(e.Conditions),
		EnrolledAt:       e.EnrolledAt,
		UpdatedAt:        e.UpdatedAt,
	}
	return v
}

type EnrollmentView struct {
	PatientID        string     `json:"patient_id"`
	Program          Program    `json:"program"`
	ConsentAt        *time.Time `json:"consent_at,omitempty"`
	SetupCompletedAt *time.Time `json:"setup_completed_at,omitempty"`
	DeviceType       string     `json:"device_type,omitempty"`
	Conditions       []string   `json:"chronic_conditions,omitempty"`
	EnrolledAt       time.Time  `json:"enrolled_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// MonthlyActivity accumulates one patient's activity for one program and
// calendar month. Minutes only ever grow.
type MonthlyActivity struct {
	PatientID        string
	Program          Program
	Month            string
	DataDays         mapset.Set[string] // rpm only
	StaffMinutes     int
	PhysicianMinutes int
}

func newActivity(patientID string, program Program, month string) *MonthlyActivity {
	return &MonthlyActivity{
		PatientID: patientID,
		Program:   program,
		Month:     month,
		DataDays:  mapset.NewThreadUnsafeSet[string](),
	}
}

// AddDataDay records a data-collection date. The date must belong to the
// record's month. It reports whether the date was new.
func (a *MonthlyActivity) AddDataDay(date string) (bool, error) {
	month, err := MonthOf(date)
	if err != nil {
		return false, err
	}
	if month != a.Month {
		return false, invalid("date", "%s does not belong to month %s", date, a.Month)
	}
	if a.DataDays == nil {
		a.DataDays = mapset.NewThreadUnsafeSet[string]()
	}
	return a.DataDays.Add(date), nil
}

// AddMinutes adds positive minutes to the given role's tally.
func (a *MonthlyActivity) AddMinutes(role Role, minutes int) error {
	if minutes <= 0 {
		return invalid("minutes", "must be a positive integer, got %d", minutes)
	}
	switch role {
	case RoleStaff:
		a.StaffMinutes += minutes
	case RolePhysician:
		a.PhysicianMinutes += minutes
	default:
		return invalid("role", "unknown role %q", role)
	}
	return nil
}

// DataDayCount returns the number of distinct data days.
func (a *MonthlyActivity) DataDayCount() int {
	if a == nil || a.DataDays == nil {
		return 0
	}
	return a.DataDays.Cardinality()
}

// TotalMinutes returns staff plus physician minutes.
func (a *MonthlyActivity) TotalMinutes() int {
	if a == nil {
		return 0
	}
	return a.StaffMinutes + a.PhysicianMinutes
}

// Clone returns a deep copy.
func (a *MonthlyActivity) Clone() *MonthlyActivity {
	if a == nil {
		return nil
	}
	c := *a
	if a.DataDays != nil {
		c.DataDays = a.DataDays.Clone()
	} else {
		c.DataDays = mapset.NewThreadUnsafeSet[string]()
	}
	return &c
}

func (a *MonthlyActivity) View() ActivityView {
	return ActivityView{
		PatientID: a.PatientID,
		Program:   a.Program,
		Month:     a.Month,
		DataDays:  sortedSet(a.DataDays),
		Minutes: map[Role]int{
			RoleStaff:     a.StaffMinutes,
			RolePhysician: a.PhysicianMinutes,
		},
	}
}

type ActivityView struct {
	PatientID string       `json:"patient_id"`
	Program   Program      `json:"program"`
	Month     string       `json:"month"`
	DataDays  []string     `json:"data_days,omitempty"`
	Minutes   map[Role]int `json:"minutes_by_role"`
}

// RPMEligibility is the computed RPM outcome for one patient and month.
type RPMEligibility struct {
	Eligible99453          bool     `json:"eligible_99453"`
	DataDayCount           int      `json:"data_day_count"`
	Eligible99454          bool     `json:"eligible_99454"`
	TotalManagementMinutes int      `json:"total_management_minutes"`
	Eligible99457          bool     `json:"eligible_99457"`
	Eligible99458Units     int      `json:"eligible_99458_units"`
	Reasons                []string `json:"reasons"`
}

// CCMEligibility is the computed CCM outcome for one patient and month.
type CCMEligibility struct {
	ConditionCount         int      `json:"condition_count"`
	TotalManagementMinutes int      `json:"total_management_minutes"`
	PhysicianMinutes       int      `json:"physician_minutes"`
	Eligible99490          bool     `json:"eligible_99490"`
	Eligible99439Units     int      `json:"eligible_99439_units"`
	Eligible99491          bool     `json:"eligible_99491"`
	Reasons                []string `json:"reasons"`
}

// BillingCode is an earned code. Units is set only for add-on codes.
type BillingCode struct {
	Code  string `json:"code"`
	Units *int   `json:"units,omitempty"`
}

// BillingSummary is the combined monthly billing outcome for a patient.
type BillingSummary struct {
	PatientID string         `json:"patient_id"`
	Month     string         `json:"month"`
	RPM       RPMEligibility `json:"rpm"`
	CCM       CCMEligibility `json:"ccm"`
	Codes     []BillingCode  `json:"codes"`
}

func sortedSet(s mapset.Set[string]) []string {
	if s == nil {
		return nil
	}
	out := s.ToSlice()
	sort.Strings(out)
	return out
}
