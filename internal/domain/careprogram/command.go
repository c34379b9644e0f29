package careprogram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// Command is one recorded operation against the engine, as read from a
// replay file. Only the fields the operation needs are used.
type Command struct {
	Op         string     `json:"op"`
	PatientID  string     `json:"patient_id"`
	Program    string     `json:"program,omitempty"`
	DeviceType string     `json:"device_type,omitempty"`
	At         *time.Time `json:"at,omitempty"`
	Condition  string     `json:"condition,omitempty"`
	Date       string     `json:"date,omitempty"`
	Minutes    int        `json:"minutes,omitempty"`
	Role       string     `json:"role,omitempty"`
}

const (
	OpEnroll        = "enroll"
	OpConsent       = "consent"
	OpCompleteSetup = "complete_setup"
	OpAddCondition  = "add_condition"
	OpLogDataDay    = "log_data_day"
	OpLogTime       = "log_time"
)

// DecodeCommands reads a JSON array of commands.
func DecodeCommands(r io.Reader) ([]Command, error) {
	var cmds []Command
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cmds); err != nil {
		return nil, fmt.Errorf("decode commands: %w", err)
	}
	return cmds, nil
}

// Apply runs a single command against the service.
func (s *Service) Apply(ctx context.Context, cmd Command) error {
	var err error
	switch cmd.Op {
	case OpEnroll, OpConsent, OpLogTime:
		program, perr := ParseProgram(cmd.Program)
		if perr != nil {
			return perr
		}
		switch cmd.Op {
		case OpEnroll:
			_, err = s.Enroll(ctx, cmd.PatientID, program, cmd.DeviceType)
		case OpConsent:
			_, err = s.Consent(ctx, cmd.PatientID, program, cmd.At)
		case OpLogTime:
			role, rerr := ParseRole(cmd.Role)
			if rerr != nil {
				return rerr
			}
			_, err = s.LogTime(ctx, cmd.PatientID, program, cmd.Date, cmd.Minutes, role)
		}
	case OpCompleteSetup:
		_, err = s.CompleteSetup(ctx, cmd.PatientID, cmd.At)
	case OpAddCondition:
		_, err = s.AddCondition(ctx, cmd.PatientID, cmd.Condition)
	case OpLogDataDay:
		_, err = s.LogDataDay(ctx, cmd.PatientID, cmd.Date)
	default:
		return invalid("op", "unknown operation %q", cmd.Op)
	}
	return err
}

// ApplyAll runs commands in order and stops at the first failure.
func (s *Service) ApplyAll(ctx context.Context, cmds []Command) error {
	for i, cmd := range cmds {
		if err := s.Apply(ctx, cmd); err != nil {
			return fmt.Errorf("command %d (%s): %w", i, cmd.Op, err)
		}
	}
	return nil
}
