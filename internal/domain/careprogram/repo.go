package careprogram

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("not found")

// Reader is the read side of the enrollment and activity stores. The
// evaluators only ever see this.
type Reader interface {
	// Snapshot returns copies of the enrollment and the month's activity
	// observed together. Absent records come back as nil.
	Snapshot(ctx context.Context, patientID string, program Program, month string) (*ProgramEnrollment, *MonthlyActivity, error)
	GetEnrollment(ctx context.Context, patientID string, program Program) (*ProgramEnrollment, error)
	GetActivity(ctx context.Context, patientID string, program Program, month string) (*MonthlyActivity, error)
}

// Store serializes all mutations of a single key. The mutate callback sees
// the current record (a fresh one if absent); if it returns an error
// nothing is written.
type Store interface {
	Reader
	UpsertEnrollment(ctx context.Context, patientID string, program Program, mutate func(*ProgramEnrollment) error) (*ProgramEnrollment, error)
	UpsertActivity(ctx context.Context, patientID string, program Program, month string, mutate func(*MonthlyActivity) error) (*MonthlyActivity, error)
}
