package careprogram

import (
	"context"
	"errors"
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore keeps enrollments and monthly activity in PostgreSQL. Upserts lock
// the row for the duration of the transaction; snapshots read both rows in
// one repeatable-read transaction.
type PGStore struct{ pool *pgxpool.Pool }

func NewPGStore(pool *pgxpool.Pool) *PGStore { return &PGStore{pool: pool} }

const enrollmentCols = `patient_id, program, consent_at, setup_completed_at, device_type,
	chronic_conditions, enrolled_at, updated_at`

const activityCols = `patient_id, program, month, data_days, staff_minutes, physician_minutes`

func scanEnrollment(row pgx.Row) (*ProgramEnrollment, error) {
	var e ProgramEnrollment
	var conditions []string
	err := row.Scan(&e.PatientID, &e.Program, &e.ConsentAt, &e.SetupCompletedAt, &e.DeviceType,
		&conditions, &e.EnrolledAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	e.Conditions = mapset.NewThreadUnsafeSet(conditions...)
	return &e, nil
}

func scanActivity(row pgx.Row) (*MonthlyActivity, error) {
	var a MonthlyActivity
	var days []string
	err := row.Scan(&a.PatientID, &a.Program, &a.Month, &days, &a.StaffMinutes, &a.PhysicianMinutes)
	if err != nil {
		return nil, err
	}
	a.DataDays = mapset.NewThreadUnsafeSet(days...)
	return &a, nil
}

func getEnrollment(ctx context.Context, q pgx.Tx, patientID string, program Program, lock bool) (*ProgramEnrollment, error) {
	sql := `SELECT ` + enrollmentCols + ` FROM program_enrollment WHERE patient_id = $1 AND program = $2`
	if lock {
		sql += ` FOR UPDATE`
	}
	e, err := scanEnrollment(q.QueryRow(ctx, sql, patientID, string(program)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

func getActivity(ctx context.Context, q pgx.Tx, patientID string, program Program, month string, lock bool) (*MonthlyActivity, error) {
	sql := `SELECT ` + activityCols + ` FROM monthly_activity WHERE patient_id = $1 AND program = $2 AND month = $3`
	if lock {
		sql += ` FOR UPDATE`
	}
	a, err := scanActivity(q.QueryRow(ctx, sql, patientID, string(program), month))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return a, err
}

func (r *PGStore) readOnly(ctx context.Context, fn func(pgx.Tx) error) error {
	return pgx.BeginTxFunc(ctx, r.pool, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	}, fn)
}

func (r *PGStore) Snapshot(ctx context.Context, patientID string, program Program, month string) (*ProgramEnrollment, *MonthlyActivity, error) {
	var enr *ProgramEnrollment
	var act *MonthlyActivity
	err := r.readOnly(ctx, func(tx pgx.Tx) error {
		var err error
		if enr, err = getEnrollment(ctx, tx, patientID, program, false); err != nil {
			return fmt.Errorf("read enrollment: %w", err)
		}
		if act, err = getActivity(ctx, tx, patientID, program, month, false); err != nil {
			return fmt.Errorf("read activity: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return enr, act, nil
}

func (r *PGStore) GetEnrollment(ctx context.Context, patientID string, program Program) (*ProgramEnrollment, error) {
	var enr *ProgramEnrollment
	err := r.readOnly(ctx, func(tx pgx.Tx) error {
		var err error
		enr, err = getEnrollment(ctx, tx, patientID, program, false)
		return err
	})
	if err != nil {
		return nil, err
	}
	if enr == nil {
		return nil, ErrNotFound
	}
	return enr, nil
}

func (r *PGStore) GetActivity(ctx context.Context, patientID string, program Program, month string) (*MonthlyActivity, error) {
	var act *MonthlyActivity
	err := r.readOnly(ctx, func(tx pgx.Tx) error {
		var err error
		act, err = getActivity(ctx, tx, patientID, program, month, false)
		return err
	})
	if err != nil {
		return nil, err
	}
	if act == nil {
		return nil, ErrNotFound
	}
	return act, nil
}

func (r *PGStore) UpsertEnrollment(ctx context.Context, patientID string, program Program, mutate func(*ProgramEnrollment) error) (*ProgramEnrollment, error) {
	var out *ProgramEnrollment
	err := pgx.BeginTxFunc(ctx, r.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO program_enrollment (patient_id, program) VALUES ($1, $2)
			ON CONFLICT (patient_id, program) DO NOTHING`, patientID, string(program))
		if err != nil {
			return fmt.Errorf("insert enrollment: %w", err)
		}
		rec, err := getEnrollment(ctx, tx, patientID, program, true)
		if err != nil {
			return fmt.Errorf("lock enrollment: %w", err)
		}
		if err := mutate(rec); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			UPDATE program_enrollment SET consent_at = $3, setup_completed_at = $4, device_type = $5,
				chronic_conditions = $6, enrolled_at = $7, updated_at = $8
			WHERE patient_id = $1 AND program = $2`,
			rec.PatientID, string(rec.Program), rec.ConsentAt, rec.SetupCompletedAt, rec.DeviceType,
			sortedSet(rec.Conditions), rec.EnrolledAt, rec.UpdatedAt)
		if err != nil {
			return fmt.Errorf("update enrollment: %w", err)
		}
		out = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *PGStore) UpsertActivity(ctx context.Context, patientID string, program Program, month string, mutate func(*MonthlyActivity) error) (*MonthlyActivity, error) {
	var out *MonthlyActivity
	err := pgx.BeginTxFunc(ctx, r.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO monthly_activity (patient_id, program, month) VALUES ($1, $2, $3)
			ON CONFLICT (patient_id, program, month) DO NOTHING`, patientID, string(program), month)
		if err != nil {
			return fmt.Errorf("insert activity: %w", err)
		}
		rec, err := getActivity(ctx, tx, patientID, program, month, true)
		if err != nil {
			return fmt.Errorf("lock activity: %w", err)
		}
		if err := mutate(rec); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			UPDATE monthly_activity SET data_days = $4, staff_minutes = $5, physician_minutes = $6
			WHERE patient_id = $1 AND program = $2 AND month = $3`,
			rec.PatientID, string(rec.Program), rec.Month, sortedSet(rec.DataDays),
			rec.StaffMinutes, rec.PhysicianMinutes)
		if err != nil {
			return fmt.Errorf("update activity: %w", err)
		}
		out = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
