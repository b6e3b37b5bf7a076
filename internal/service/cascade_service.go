package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/noah-isme/olympiad-codes-api/internal/dto"
	"github.com/noah-isme/olympiad-codes-api/pkg/config"
	appErrors "github.com/noah-isme/olympiad-codes-api/pkg/errors"
)

type cascadeCodeReader interface {
	LowestAvailableClass(ctx context.Context, sessionID string, from, to int) (int, bool, error)
}

type cascadeReserveReader interface {
	CountUnused(ctx context.Context, sessionID, label string) (int, error)
}

// CascadeService finds the nearest class at or above a student's own with a free code.
type CascadeService struct {
	sessions     sessionReader
	students     studentReader
	codes        cascadeCodeReader
	reserve      cascadeReserveReader
	availability *AvailabilityService
	cfg          config.DistributionConfig
}

// NewCascadeService constructs CascadeService.
func NewCascadeService(
	sessions sessionReader,
	students studentReader,
	codes cascadeCodeReader,
	reserve cascadeReserveReader,
	availability *AvailabilityService,
	cfg config.DistributionConfig,
) *CascadeService {
	return &CascadeService{
		sessions:     sessions,
		students:     students,
		codes:        codes,
		reserve:      reserve,
		availability: availability,
		cfg:          cfg,
	}
}

// Resolve returns the lowest class between studentClass and the configured maximum that has an available code.
func (s *CascadeService) Resolve(ctx context.Context, sessionID string, studentClass int) (int, error) {
	if studentClass < s.cfg.MinClass || studentClass > s.cfg.MaxClass {
		return 0, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("class %d is outside %d-%d", studentClass, s.cfg.MinClass, s.cfg.MaxClass))
	}
	if _, err := loadSession(ctx, s.sessions, sessionID); err != nil {
		return 0, err
	}

	class, ok, err := s.codes.LowestAvailableClass(ctx, sessionID, studentClass, s.cfg.MaxClass)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve cascade class")
	}
	if !ok {
		return 0, appErrors.Clone(appErrors.ErrNothingAvailable, fmt.Sprintf("no codes available from class %d upwards", studentClass))
	}
	return class, nil
}

// Options describes the choices open to a student: the cascade class and, when the own pool is empty,
// the reserve bucket of the student's parallel.
func (s *CascadeService) Options(ctx context.Context, sessionID, studentID string) (*dto.CascadeOptions, error) {
	session, err := loadSession(ctx, s.sessions, sessionID)
	if err != nil {
		return nil, err
	}
	student, err := loadStudent(ctx, s.students, studentID)
	if err != nil {
		return nil, err
	}

	own, err := s.availability.OwnAvailable(ctx, session.ID, student.ClassNumber)
	if err != nil {
		return nil, err
	}
	opts := &dto.CascadeOptions{
		SessionID:    session.ID,
		StudentClass: student.ClassNumber,
		OwnAvailable: own,
	}

	class, err := s.Resolve(ctx, session.ID, student.ClassNumber)
	switch {
	case err == nil:
		opts.CascadeClass = &class
	case !errors.Is(err, appErrors.ErrNothingAvailable):
		return nil, err
	}

	if own > 0 {
		return opts, nil
	}
	label := student.Label()
	remaining, err := s.reserve.CountUnused(ctx, session.ID, label)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count reserve codes")
	}
	if remaining > 0 {
		opts.ReserveOffered = true
		opts.ReserveLabel = label
		opts.ReserveRemaining = remaining
	}
	return opts, nil
}
