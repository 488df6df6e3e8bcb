// Package enroll registers students: face and matric duplicate checks
// against the master roster, then appends to both rosters.
package enroll

import (
	"context"
	"errors"
	"fmt"
	"log"

	"rollcall/internal/face"
	"rollcall/internal/lock"
	"rollcall/internal/metrics"
	"rollcall/internal/roster"
)

var (
	ErrMissingFields   = errors.New("name, matric number, email, and face embedding required")
	ErrDuplicateFace   = errors.New("face already registered")
	ErrDuplicateMatric = errors.New("matric number already registered")
)

// Service validates and persists new student registrations.
type Service struct {
	master   roster.MasterRoster
	lecturer roster.AttendanceRoster
	matcher  *face.Matcher
	locks    lock.Locker
}

// NewService creates a registration service.
func NewService(master roster.MasterRoster, lecturer roster.AttendanceRoster, matcher *face.Matcher, locks lock.Locker) *Service {
	return &Service{master: master, lecturer: lecturer, matcher: matcher, locks: locks}
}

// Register checks the new student against the roster and appends them to the
// master and lecturer rosters. Short-circuits on the first failure.
//
// The two appends are independent stores with no cross-store transaction: a
// failure after the first leaves the master roster ahead of the lecturer
// roster until someone reconciles them. The error message calls that out.
func (s *Service) Register(ctx context.Context, name, matricNo, email string, emb face.Embedding) error {
	if name == "" || matricNo == "" || email == "" || len(emb) == 0 {
		return ErrMissingFields
	}
	if err := emb.Validate(); err != nil {
		return err
	}

	// Serialize registrations per matric so two concurrent submissions with
	// the same number cannot both pass the duplicate check.
	normalized := roster.NormalizeMatric(matricNo)
	release, err := s.locks.Acquire(ctx, "register:"+normalized)
	if err != nil {
		return fmt.Errorf("acquire registration lock: %w", err)
	}
	defer release()

	rows, err := s.master.ListRows(ctx)
	if err != nil {
		return fmt.Errorf("load roster: %w", err)
	}

	faces, skipped := roster.Faces(rows)
	if skipped > 0 {
		log.Printf("registration scan skipped %d malformed roster rows", skipped)
		metrics.SkippedRosterRows.Add(float64(skipped))
	}

	for _, enrolled := range faces {
		if s.matcher.IsMatch(emb, enrolled.Embedding) {
			return ErrDuplicateFace
		}
	}

	for _, row := range rows {
		if roster.NormalizeMatric(row.MatricNo) == normalized {
			return ErrDuplicateMatric
		}
	}

	serialized, err := emb.Serialize()
	if err != nil {
		return err
	}

	if err := s.master.AppendStudent(ctx, roster.StudentRecord{
		Name:     name,
		MatricNo: matricNo,
		Email:    email,
		FaceData: serialized,
	}); err != nil {
		return fmt.Errorf("append to master roster: %w", err)
	}

	if err := s.lecturer.AppendSeed(ctx, roster.AttendanceRow{
		MatricNo: matricNo,
		Name:     name,
		Email:    email,
	}); err != nil {
		return fmt.Errorf("append to lecturer roster (master roster already updated): %w", err)
	}

	return nil
}
