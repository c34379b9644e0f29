package careprogram

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/careprograms/internal/platform/db"
	"github.com/ehr/careprograms/migrations"
)

// newTestPGStore connects to DATABASE_URL and applies the embedded
// migrations. Tests using it are skipped when no database is configured.
func newTestPGStore(t *testing.T) *PGStore {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set; skipping postgres store tests")
	}
	ctx := context.Background()

	pool, err := db.NewPool(ctx, url, 8, 1)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)

	if _, err := db.NewMigrator(pool, migrations.FS).Up(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewPGStore(pool)
}

// uniquePatient returns a patient ID no other test run uses and removes
// its rows when the test ends.
func uniquePatient(t *testing.T, s *PGStore) string {
	t.Helper()
	id := "pg-" + uuid.NewString()
	t.Cleanup(func() {
		ctx := context.Background()
		for _, table := range []string{"monthly_activity", "program_enrollment"} {
			if _, err := s.pool.Exec(ctx, "DELETE FROM "+table+" WHERE patient_id = $1", id); err != nil {
				t.Logf("warning: cleanup %s for %s: %v", table, id, err)
			}
		}
	})
	return id
}

func TestPGStore_AbsentRecords(t *testing.T) {
	s := newTestPGStore(t)
	ctx := context.Background()
	id := uniquePatient(t, s)

	if _, err := s.GetEnrollment(ctx, id, ProgramRPM); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.GetActivity(ctx, id, ProgramRPM, "2025-07"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	enr, act, err := s.Snapshot(ctx, id, ProgramRPM, "2025-07")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if enr != nil || act != nil {
		t.Errorf("expected empty snapshot, got %+v %+v", enr, act)
	}
}

func TestPGStore_FailedMutationRollsBack(t *testing.T) {
	s := newTestPGStore(t)
	ctx := context.Background()
	id := uniquePatient(t, s)
	boom := errors.New("boom")

	_, err := s.UpsertEnrollment(ctx, id, ProgramCCM, func(e *ProgramEnrollment) error {
		e.AddCondition("diabetes")
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if _, err := s.GetEnrollment(ctx, id, ProgramCCM); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected the inserted row to be rolled back, got %v", err)
	}

	if _, err := s.UpsertActivity(ctx, id, ProgramRPM, "2025-07", func(a *MonthlyActivity) error {
		return a.AddMinutes(RoleStaff, 5)
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := s.UpsertActivity(ctx, id, ProgramRPM, "2025-07", func(a *MonthlyActivity) error {
		a.StaffMinutes += 100
		return boom
	}); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	act, err := s.GetActivity(ctx, id, ProgramRPM, "2025-07")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if act.StaffMinutes != 5 {
		t.Errorf("expected 5 staff minutes after rejected update, got %d", act.StaffMinutes)
	}
}

func TestPGStore_SetsRoundTrip(t *testing.T) {
	s := newTestPGStore(t)
	ctx := context.Background()
	id := uniquePatient(t, s)

	for _, c := range []string{"hypertension", "copd", "copd"} {
		if _, err := s.UpsertEnrollment(ctx, id, ProgramCCM, func(e *ProgramEnrollment) error {
			e.AddCondition(c)
			return nil
		}); err != nil {
			t.Fatalf("UpsertEnrollment(%s): %v", c, err)
		}
	}
	for _, d := range []string{"2025-07-09", "2025-07-01", "2025-07-09"} {
		if _, err := s.UpsertActivity(ctx, id, ProgramRPM, "2025-07", func(a *MonthlyActivity) error {
			_, err := a.AddDataDay(d)
			return err
		}); err != nil {
			t.Fatalf("UpsertActivity(%s): %v", d, err)
		}
	}

	enr, err := s.GetEnrollment(ctx, id, ProgramCCM)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := enr.View().Conditions; len(got) != 2 || got[0] != "copd" || got[1] != "hypertension" {
		t.Errorf("expected [copd hypertension], got %v", got)
	}
	act, err := s.GetActivity(ctx, id, ProgramRPM, "2025-07")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if act.DataDayCount() != 2 {
		t.Errorf("expected 2 data days, got %d", act.DataDayCount())
	}
}

func TestPGStore_ConcurrentLogTime(t *testing.T) {
	s := newTestPGStore(t)
	ctx := context.Background()
	id := uniquePatient(t, s)
	svc := NewService(s, zerolog.Nop())

	const workers = 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.LogTime(ctx, id, ProgramCCM, "2025-07-09", 1, RoleStaff); err != nil {
				t.Errorf("LogTime: %v", err)
			}
		}()
	}
	wg.Wait()

	act, err := s.GetActivity(ctx, id, ProgramCCM, "2025-07")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if act.StaffMinutes != workers {
		t.Errorf("expected %d minutes, got %d", workers, act.StaffMinutes)
	}
}

func TestPGStore_GenerateBillingEndToEnd(t *testing.T) {
	s := newTestPGStore(t)
	ctx := context.Background()
	id := uniquePatient(t, s)

	svc := NewService(s, zerolog.Nop())
	svc.SetClock(func() time.Time { return fixedNow })

	if _, err := svc.Enroll(ctx, id, ProgramRPM, "bp_cuff"); err != nil {
		t.Fatalf("enroll: %v", err)
	}
	if _, err := svc.Consent(ctx, id, ProgramRPM, nil); err != nil {
		t.Fatalf("consent: %v", err)
	}
	if _, err := svc.CompleteSetup(ctx, id, nil); err != nil {
		t.Fatalf("setup: %v", err)
	}
	for d := 1; d <= 16; d++ {
		if _, err := svc.LogDataDay(ctx, id, fmt.Sprintf("2025-08-%02d", d)); err != nil {
			t.Fatalf("data day %d: %v", d, err)
		}
	}
	mustLogTime(t, svc, id, ProgramRPM, "2025-08-05", 25, RoleStaff)
	mustLogTime(t, svc, id, ProgramRPM, "2025-08-06", 15, RolePhysician)

	enr, err := svc.GetEnrollment(ctx, id, ProgramRPM)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !enr.UpdatedAt.Equal(fixedNow) {
		t.Errorf("expected stored updated_at %v, got %v", fixedNow, enr.UpdatedAt)
	}
	if enr.ConsentAt == nil || !enr.ConsentAt.Equal(fixedNow) {
		t.Errorf("expected stored consent_at %v, got %v", fixedNow, enr.ConsentAt)
	}

	summary, err := svc.GenerateBilling(ctx, id, "2025-08")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.RPM.DataDayCount != 16 || summary.RPM.TotalManagementMinutes != 40 {
		t.Errorf("unexpected rpm totals %+v", summary.RPM)
	}
	want := []string{Code99453, Code99454, Code99457, Code99458}
	if len(summary.Codes) != len(want) {
		t.Fatalf("expected %v, got %+v", want, summary.Codes)
	}
	for i, code := range want {
		if summary.Codes[i].Code != code {
			t.Errorf("codes[%d] = %s, want %s", i, summary.Codes[i].Code, code)
		}
	}
	if u := summary.Codes[3].Units; u == nil || *u != 1 {
		t.Errorf("expected 1 unit of 99458, got %v", u)
	}
}
