package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/olympiad-codes-api/internal/dto"
	appErrors "github.com/noah-isme/olympiad-codes-api/pkg/errors"
	"github.com/noah-isme/olympiad-codes-api/pkg/jobs"
)

// JobTypeReservation identifies background reservation runs.
const JobTypeReservation = "reservation.apply"

type jobDispatcher interface {
	Enqueue(job jobs.Job) error
}

type reservationApplier interface {
	Apply(ctx context.Context, sessionID string) (*dto.ReservationResult, error)
}

// ReservationScheduler enqueues reservation runs, at most one pending per session.
type ReservationScheduler struct {
	queue  jobDispatcher
	logger *zap.Logger
}

// NewReservationScheduler constructs ReservationScheduler.
func NewReservationScheduler(queue jobDispatcher, logger *zap.Logger) *ReservationScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReservationScheduler{queue: queue, logger: logger}
}

// Schedule queues a reservation run for the session. A run already pending counts as queued.
func (s *ReservationScheduler) Schedule(sessionID string) (bool, error) {
	if s == nil || s.queue == nil {
		return false, nil
	}
	err := s.queue.Enqueue(jobs.Job{ID: uuid.NewString(), Key: sessionID, Type: JobTypeReservation, Payload: sessionID})
	if errors.Is(err, jobs.ErrDuplicate) {
		s.logger.Debug("reservation already pending", zap.String("session_id", sessionID))
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ReservationWorker bridges queue jobs to ReservationService.
type ReservationWorker struct {
	reservations reservationApplier
	logger       *zap.Logger
}

// NewReservationWorker constructs ReservationWorker.
func NewReservationWorker(reservations reservationApplier, logger *zap.Logger) *ReservationWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReservationWorker{reservations: reservations, logger: logger}
}

// Handle processes a queue job.
func (w *ReservationWorker) Handle(ctx context.Context, job jobs.Job) error {
	sessionID, ok := job.Payload.(string)
	if !ok || sessionID == "" {
		return fmt.Errorf("reservation job %s: missing session id", job.ID)
	}
	result, err := w.reservations.Apply(ctx, sessionID)
	if err != nil {
		if errors.Is(err, appErrors.ErrSessionNotFound) {
			w.logger.Warn("reservation skipped for deleted session", zap.String("session_id", sessionID))
			return nil
		}
		if !appErrors.Retryable(err) {
			w.logger.Warn("reservation job rejected", zap.String("session_id", sessionID), zap.String("code", appErrors.CodeOf(err)), zap.Error(err))
			return nil
		}
		return err
	}
	w.logger.Info("reservation job completed",
		zap.String("job_id", job.ID),
		zap.String("session_id", sessionID),
		zap.Int("reserved", result.Total()),
	)
	return nil
}

// OnFailure logs a job that exhausted its retries.
func (w *ReservationWorker) OnFailure(job jobs.Job, err error) {
	w.logger.Error("reservation job failed", zap.String("job_id", job.ID), zap.Any("payload", job.Payload), zap.String("code", appErrors.CodeOf(err)), zap.Int("attempt", job.Attempt), zap.Error(err))
}
