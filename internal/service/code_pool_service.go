package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/olympiad-codes-api/internal/dto"
	"github.com/noah-isme/olympiad-codes-api/internal/models"
	"github.com/noah-isme/olympiad-codes-api/pkg/config"
	appErrors "github.com/noah-isme/olympiad-codes-api/pkg/errors"
)

type ingestSessionRepository interface {
	Create(ctx context.Context, exec sqlx.ExtContext, session *models.Session) error
	FindBySubjectDate(ctx context.Context, exec sqlx.ExtContext, subject string, date time.Time) (*models.Session, error)
	UpdateSettings(ctx context.Context, exec sqlx.ExtContext, id string, mode models.DistributionMode, autoReserve bool) error
	Activate(ctx context.Context, exec sqlx.ExtContext, id string) error
}

type ingestCodeRepository interface {
	BulkInsert(ctx context.Context, exec sqlx.ExtContext, codes []models.Code) error
}

type reservationScheduler interface {
	Schedule(sessionID string) (bool, error)
}

type sessionPreassigner interface {
	PreassignAll(ctx context.Context, sessionID string) (*dto.PreassignResult, error)
}

// CodePoolService loads raw code batches into session pools.
type CodePoolService struct {
	sessions     ingestSessionRepository
	codes        ingestCodeRepository
	availability *AvailabilityService
	scheduler    reservationScheduler
	preassigner  sessionPreassigner
	tx           txProvider
	cfg          config.DistributionConfig
	validator    *validator.Validate
	logger       *zap.Logger
}

// NewCodePoolService constructs CodePoolService.
func NewCodePoolService(
	sessions ingestSessionRepository,
	codes ingestCodeRepository,
	availability *AvailabilityService,
	scheduler reservationScheduler,
	preassigner sessionPreassigner,
	tx txProvider,
	cfg config.DistributionConfig,
	validate *validator.Validate,
	logger *zap.Logger,
) *CodePoolService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CodePoolService{
		sessions:     sessions,
		codes:        codes,
		availability: availability,
		scheduler:    scheduler,
		preassigner:  preassigner,
		tx:           tx,
		cfg:          cfg,
		validator:    validate,
		logger:       logger,
	}
}

// Ingest stores the batch in the session of the same subject and date, creating it when needed,
// and makes that session the active one. Code values are not deduplicated. Pre-assigned sessions
// bind codes to students right after the commit, before any reservation job is queued.
func (s *CodePoolService) Ingest(ctx context.Context, req dto.IngestCodesRequest) (result *dto.IngestResult, err error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid ingest payload")
	}
	date, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "date must be YYYY-MM-DD")
	}
	perClass := make(map[int]int)
	for i, entry := range req.Codes {
		if entry.ClassNumber < s.cfg.MinClass || entry.ClassNumber > s.cfg.MaxClass {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("codes[%d]: class %d is outside %d-%d", i, entry.ClassNumber, s.cfg.MinClass, s.cfg.MaxClass))
		}
		perClass[entry.ClassNumber]++
	}

	mode := models.DistributionMode(req.DistributionMode)
	if mode == "" {
		mode = models.DistributionMode(s.cfg.DefaultMode)
	}
	autoReserve := s.cfg.AutoReserve
	if req.AutoReserve != nil {
		autoReserve = *req.AutoReserve
	}

	if s.tx == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "transaction provider missing")
	}
	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	created := false
	session, err := s.sessions.FindBySubjectDate(ctx, tx, req.Subject, date)
	switch {
	case err == nil:
		if err = s.sessions.UpdateSettings(ctx, tx, session.ID, mode, autoReserve); err != nil {
			err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update session")
			return nil, err
		}
	case errors.Is(err, sql.ErrNoRows):
		session = &models.Session{Subject: req.Subject, OlympiadDate: date, DistributionMode: mode, AutoReserve: autoReserve}
		if err = s.sessions.Create(ctx, tx, session); err != nil {
			err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create session")
			return nil, err
		}
		created = true
	default:
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to look up session")
		return nil, err
	}

	rows := make([]models.Code, len(req.Codes))
	for i, entry := range req.Codes {
		rows[i] = models.Code{SessionID: session.ID, ClassNumber: entry.ClassNumber, Code: entry.Code}
	}
	if err = s.codes.BulkInsert(ctx, tx, rows); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to insert codes")
		return nil, err
	}
	if err = s.sessions.Activate(ctx, tx, session.ID); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to activate session")
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit ingestion")
		return nil, err
	}

	s.availability.Invalidate(ctx, session.ID)
	result = &dto.IngestResult{SessionID: session.ID, Created: created, Inserted: len(rows), PerClass: perClass}
	if mode == models.DistributionModePreAssigned && s.preassigner != nil {
		preassigned, preassignErr := s.preassigner.PreassignAll(ctx, session.ID)
		if preassignErr != nil {
			s.logger.Warn("pre-assignment after ingest failed", zap.String("session_id", session.ID), zap.Error(preassignErr))
		}
		result.Preassigned = preassigned
	}
	if autoReserve && s.scheduler != nil {
		queued, scheduleErr := s.scheduler.Schedule(session.ID)
		if scheduleErr != nil {
			s.logger.Warn("failed to schedule reservation", zap.String("session_id", session.ID), zap.Error(scheduleErr))
		}
		result.ReservationQueued = queued
	}

	s.logger.Info("codes ingested",
		zap.String("session_id", session.ID),
		zap.String("subject", session.Subject),
		zap.Bool("created", created),
		zap.Int("inserted", len(rows)),
	)
	return result, nil
}
