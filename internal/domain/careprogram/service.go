package careprogram

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type Service struct {
	store  Store
	logger zerolog.Logger
	now    func() time.Time
}

func NewService(store Store, logger zerolog.Logger) *Service {
	return &Service{
		store:  store,
		logger: logger.With().Str("component", "careprogram").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source used for default timestamps.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

func patientKey(patientID string) (string, error) {
	id := strings.TrimSpace(patientID)
	if id == "" {
		return "", invalid("patient_id", "is required")
	}
	return id, nil
}

func requireProgram(program, want Program) error {
	if program != want {
		return fmt.Errorf("%w: %s only", ErrWrongProgram, want)
	}
	return nil
}

func (s *Service) touch(e *ProgramEnrollment) {
	now := s.now()
	if e.EnrolledAt.IsZero() {
		e.EnrolledAt = now
	}
	e.UpdatedAt = now
}

func (s *Service) stamp(at *time.Time) *time.Time {
	t := s.now()
	if at != nil {
		t = at.UTC()
	}
	return &t
}

// Enroll creates the enrollment if needed. A device type is only kept for RPM.
func (s *Service) Enroll(ctx context.Context, patientID string, program Program, deviceType string) (*ProgramEnrollment, error) {
	id, err := patientKey(patientID)
	if err != nil {
		return nil, err
	}
	if program, err = ParseProgram(string(program)); err != nil {
		return nil, err
	}
	enr, err := s.store.UpsertEnrollment(ctx, id, program, func(e *ProgramEnrollment) error {
		if program == ProgramRPM && deviceType != "" {
			e.DeviceType = deviceType
		}
		s.touch(e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Debug().Str("patient_id", id).Str("program", string(program)).Msg("enrolled")
	return enr, nil
}

// Consent stamps the consent time, defaulting to now.
func (s *Service) Consent(ctx context.Context, patientID string, program Program, at *time.Time) (*ProgramEnrollment, error) {
	id, err := patientKey(patientID)
	if err != nil {
		return nil, err
	}
	if program, err = ParseProgram(string(program)); err != nil {
		return nil, err
	}
	enr, err := s.store.UpsertEnrollment(ctx, id, program, func(e *ProgramEnrollment) error {
		e.ConsentAt = s.stamp(at)
		s.touch(e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Debug().Str("patient_id", id).Str("program", string(program)).Time("consent_at", *enr.ConsentAt).Msg("consent recorded")
	return enr, nil
}

// CompleteSetup stamps RPM device setup and education as done.
func (s *Service) CompleteSetup(ctx context.Context, patientID string, at *time.Time) (*ProgramEnrollment, error) {
	id, err := patientKey(patientID)
	if err != nil {
		return nil, err
	}
	enr, err := s.store.UpsertEnrollment(ctx, id, ProgramRPM, func(e *ProgramEnrollment) error {
		e.SetupCompletedAt = s.stamp(at)
		s.touch(e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Debug().Str("patient_id", id).Msg("rpm setup completed")
	return enr, nil
}

// AddCondition records a chronic condition for CCM. Repeats are no-ops.
func (s *Service) AddCondition(ctx context.Context, patientID, condition string) (*ProgramEnrollment, error) {
	id, err := patientKey(patientID)
	if err != nil {
		return nil, err
	}
	label := strings.TrimSpace(condition)
	if label == "" {
		return nil, invalid("condition", "is required")
	}
	added := false
	enr, err := s.store.UpsertEnrollment(ctx, id, ProgramCCM, func(e *ProgramEnrollment) error {
		added = e.AddCondition(label)
		s.touch(e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Debug().Str("patient_id", id).Str("condition", label).Bool("added", added).Msg("chronic condition recorded")
	return enr, nil
}

// LogDataDay records an RPM data-collection date. Repeats are no-ops.
func (s *Service) LogDataDay(ctx context.Context, patientID, date string) (*MonthlyActivity, error) {
	id, err := patientKey(patientID)
	if err != nil {
		return nil, err
	}
	month, err := MonthOf(date)
	if err != nil {
		return nil, err
	}
	act, err := s.store.UpsertActivity(ctx, id, ProgramRPM, month, func(a *MonthlyActivity) error {
		_, err := a.AddDataDay(date)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Debug().Str("patient_id", id).Str("date", date).Int("data_days", act.DataDayCount()).Msg("data day logged")
	return act, nil
}

// LogTime adds management minutes for a program, month and role.
func (s *Service) LogTime(ctx context.Context, patientID string, program Program, date string, minutes int, role Role) (*MonthlyActivity, error) {
	id, err := patientKey(patientID)
	if err != nil {
		return nil, err
	}
	if program, err = ParseProgram(string(program)); err != nil {
		return nil, err
	}
	if role, err = ParseRole(string(role)); err != nil {
		return nil, err
	}
	if minutes <= 0 {
		return nil, invalid("minutes", "must be a positive integer, got %d", minutes)
	}
	month, err := MonthOf(date)
	if err != nil {
		return nil, err
	}
	act, err := s.store.UpsertActivity(ctx, id, program, month, func(a *MonthlyActivity) error {
		return a.AddMinutes(role, minutes)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Debug().
		Str("patient_id", id).
		Str("program", string(program)).
		Str("role", string(role)).
		Int("minutes", minutes).
		Int("month_total", act.TotalMinutes()).
		Msg("time logged")
	return act, nil
}

// MonthValidation carries the outcome for one program.
type MonthValidation struct {
	PatientID string          `json:"patient_id"`
	Program   Program         `json:"program"`
	Month     string          `json:"month"`
	RPM       *RPMEligibility `json:"rpm,omitempty"`
	CCM       *CCMEligibility `json:"ccm,omitempty"`
}

func (s *Service) evaluateRPM(ctx context.Context, id, month string) (RPMEligibility, error) {
	enr, act, err := s.store.Snapshot(ctx, id, ProgramRPM, month)
	if err != nil {
		return RPMEligibility{}, fmt.Errorf("snapshot rpm: %w", err)
	}
	return EvaluateRPM(enr, act), nil
}

func (s *Service) evaluateCCM(ctx context.Context, id, month string) (CCMEligibility, error) {
	enr, act, err := s.store.Snapshot(ctx, id, ProgramCCM, month)
	if err != nil {
		return CCMEligibility{}, fmt.Errorf("snapshot ccm: %w", err)
	}
	return EvaluateCCM(enr, act), nil
}

// ValidateMonth evaluates one program for a month. Unknown patients yield
// the all-false result, not an error.
func (s *Service) ValidateMonth(ctx context.Context, patientID string, program Program, month string) (*MonthValidation, error) {
	id, err := patientKey(patientID)
	if err != nil {
		return nil, err
	}
	if program, err = ParseProgram(string(program)); err != nil {
		return nil, err
	}
	if _, err := ParseMonth(month); err != nil {
		return nil, err
	}
	out := &MonthValidation{PatientID: id, Program: program, Month: month}
	switch program {
	case ProgramRPM:
		res, err := s.evaluateRPM(ctx, id, month)
		if err != nil {
			return nil, err
		}
		out.RPM = &res
	case ProgramCCM:
		res, err := s.evaluateCCM(ctx, id, month)
		if err != nil {
			return nil, err
		}
		out.CCM = &res
	}
	return out, nil
}

// GenerateBilling evaluates both programs and composes the earned codes.
func (s *Service) GenerateBilling(ctx context.Context, patientID, month string) (*BillingSummary, error) {
	id, err := patientKey(patientID)
	if err != nil {
		return nil, err
	}
	if _, err := ParseMonth(month); err != nil {
		return nil, err
	}
	rpm, err := s.evaluateRPM(ctx, id, month)
	if err != nil {
		return nil, err
	}
	ccm, err := s.evaluateCCM(ctx, id, month)
	if err != nil {
		return nil, err
	}
	summary := &BillingSummary{
		PatientID: id,
		Month:     month,
		RPM:       rpm,
		CCM:       ccm,
		Codes:     ComposeCodes(rpm, ccm),
	}

	codes := make([]string, 0, len(summary.Codes))
	for _, c := range summary.Codes {
		codes = append(codes, c.Code)
	}
	s.logger.Info().Str("patient_id", id).Str("month", month).Strs("codes", codes).Msg("billing generated")
	return summary, nil
}

func (s *Service) GetEnrollment(ctx context.Context, patientID string, program Program) (*ProgramEnrollment, error) {
	id, err := patientKey(patientID)
	if err != nil {
		return nil, err
	}
	if program, err = ParseProgram(string(program)); err != nil {
		return nil, err
	}
	return s.store.GetEnrollment(ctx, id, program)
}

func (s *Service) GetActivity(ctx context.Context, patientID string, program Program, month string) (*MonthlyActivity, error) {
	id, err := patientKey(patientID)
	if err != nil {
		return nil, err
	}
	if program, err = ParseProgram(string(program)); err != nil {
		return nil, err
	}
	if _, err := ParseMonth(month); err != nil {
		return nil, err
	}
	return s.store.GetActivity(ctx, id, program, month)
}
