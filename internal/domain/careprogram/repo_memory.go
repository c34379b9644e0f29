package careprogram

import (
	"context"
	"sync"
)

type enrollmentKey struct {
	patientID string
	program   Program
}

type activityKey struct {
	patientID string
	program   Program
	month     string
}

type enrollmentSlot struct {
	mu  sync.Mutex
	rec *ProgramEnrollment
}

type activitySlot struct {
	mu  sync.Mutex
	rec *MonthlyActivity
}

// MemoryStore is an in-memory Store. The maps are guarded by mu; each
// record carries its own lock, so writers for different patients never
// contend on anything but the short map lookup.
type MemoryStore struct {
	mu          sync.Mutex
	enrollments map[enrollmentKey]*enrollmentSlot
	activities  map[activityKey]*activitySlot
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		enrollments: make(map[enrollmentKey]*enrollmentSlot),
		activities:  make(map[activityKey]*activitySlot),
	}
}

func (s *MemoryStore) enrollmentSlot(k enrollmentKey, create bool) *enrollmentSlot {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot, ok := s.enrollments[k]
	if !ok && create {
		slot = &enrollmentSlot{}
		s.enrollments[k] = slot
	}
	return slot
}

func (s *MemoryStore) activitySlot(k activityKey, create bool) *activitySlot {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot, ok := s.activities[k]
	if !ok && create {
		slot = &activitySlot{}
		s.activities[k] = slot
	}
	return slot
}

func (s *MemoryStore) Snapshot(_ context.Context, patientID string, program Program, month string) (*ProgramEnrollment, *MonthlyActivity, error) {
	es := s.enrollmentSlot(enrollmentKey{patientID, program}, false)
	as := s.activitySlot(activityKey{patientID, program, month}, false)

	// Enrollment before activity, same as every other path that holds both.
	if es != nil {
		es.mu.Lock()
		defer es.mu.Unlock()
	}
	if as != nil {
		as.mu.Lock()
		defer as.mu.Unlock()
	}

	var enr *ProgramEnrollment
	var act *MonthlyActivity
	if es != nil {
		enr = es.rec.Clone()
	}
	if as != nil {
		act = as.rec.Clone()
	}
	return enr, act, nil
}

func (s *MemoryStore) GetEnrollment(_ context.Context, patientID string, program Program) (*ProgramEnrollment, error) {
	slot := s.enrollmentSlot(enrollmentKey{patientID, program}, false)
	if slot == nil {
		return nil, ErrNotFound
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()
	if slot.rec == nil {
		return nil, ErrNotFound
	}
	return slot.rec.Clone(), nil
}

func (s *MemoryStore) GetActivity(_ context.Context, patientID string, program Program, month string) (*MonthlyActivity, error) {
	slot := s.activitySlot(activityKey{patientID, program, month}, false)
	if slot == nil {
		return nil, ErrNotFound
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()
	if slot.rec == nil {
		return nil, ErrNotFound
	}
	return slot.rec.Clone(), nil
}

func (s *MemoryStore) UpsertEnrollment(_ context.Context, patientID string, program Program, mutate func(*ProgramEnrollment) error) (*ProgramEnrollment, error) {
	slot := s.enrollmentSlot(enrollmentKey{patientID, program}, true)
	slot.mu.Lock()
	defer slot.mu.Unlock()

	rec := slot.rec.Clone()
	if rec == nil {
		rec = newEnrollment(patientID, program)
	}
	if err := mutate(rec); err != nil {
		return nil, err
	}
	slot.rec = rec
	return rec.Clone(), nil
}

func (s *MemoryStore) UpsertActivity(_ context.Context, patientID string, program Program, month string, mutate func(*MonthlyActivity) error) (*MonthlyActivity, error) {
	slot := s.activitySlot(activityKey{patientID, program, month}, true)
	slot.mu.Lock()
	defer slot.mu.Unlock()

	rec := slot.rec.Clone()
	if rec == nil {
		rec = newActivity(patientID, program, month)
	}
	if err := mutate(rec); err != nil {
		return nil, err
	}
	slot.rec = rec
	return rec.Clone(), nil
}
