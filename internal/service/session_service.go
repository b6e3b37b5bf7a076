package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/olympiad-codes-api/internal/models"
	appErrors "github.com/noah-isme/olympiad-codes-api/pkg/errors"
)

type sessionRepository interface {
	FindByID(ctx context.Context, id string) (*models.Session, error)
	FindActive(ctx context.Context) (*models.Session, error)
	List(ctx context.Context, filter models.SessionFilter) ([]models.Session, int, error)
	Activate(ctx context.Context, exec sqlx.ExtContext, id string) error
	Deactivate(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
}

type sessionStatsRepository interface {
	ClassStats(ctx context.Context, sessionID string) ([]models.ClassStats, error)
}

type reserveStatsRepository interface {
	BucketStats(ctx context.Context, sessionID string) ([]models.ReserveBucketStats, error)
}

type requestStatsRepository interface {
	Stats(ctx context.Context, sessionID string) (models.RequestStats, error)
}

// SessionService manages olympiad sessions and their activation.
type SessionService struct {
	repo         sessionRepository
	codes        sessionStatsRepository
	reserve      reserveStatsRepository
	requests     requestStatsRepository
	availability *AvailabilityService
	logger       *zap.Logger
}

// NewSessionService constructs SessionService.
func NewSessionService(
	repo sessionRepository,
	codes sessionStatsRepository,
	reserve reserveStatsRepository,
	requests requestStatsRepository,
	availability *AvailabilityService,
	logger *zap.Logger,
) *SessionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionService{
		repo:         repo,
		codes:        codes,
		reserve:      reserve,
		requests:     requests,
		availability: availability,
		logger:       logger,
	}
}

// List returns sessions with pagination.
func (s *SessionService) List(ctx context.Context, filter models.SessionFilter) ([]models.Session, *models.Pagination, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 || filter.PageSize > 100 {
		filter.PageSize = 20
	}
	sessions, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list sessions")
	}
	if sessions == nil {
		sessions = []models.Session{}
	}
	return sessions, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}

// Get returns a session by id.
func (s *SessionService) Get(ctx context.Context, id string) (*models.Session, error) {
	return loadSession(ctx, s.repo, id)
}

// Active returns the currently active session.
func (s *SessionService) Active(ctx context.Context) (*models.Session, error) {
	session, err := s.repo.FindActive(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNoActiveSession, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load active session")
	}
	return session, nil
}

// Activate makes the session the only active one.
func (s *SessionService) Activate(ctx context.Context, id string) (*models.Session, error) {
	session, err := loadSession(ctx, s.repo, id)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Activate(ctx, nil, session.ID); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to activate session")
	}
	session.IsActive = true
	s.logger.Info("session activated", zap.String("session_id", session.ID), zap.String("subject", session.Subject))
	return session, nil
}

// Deactivate clears the active flag of the session.
func (s *SessionService) Deactivate(ctx context.Context, id string) (*models.Session, error) {
	session, err := loadSession(ctx, s.repo, id)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Deactivate(ctx, session.ID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrSessionNotFound, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to deactivate session")
	}
	session.IsActive = false
	return session, nil
}

// Delete removes the session together with its codes, reserve buckets and ledger rows.
func (s *SessionService) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrSessionNotFound, "")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete session")
	}
	s.availability.Invalidate(ctx, id)
	s.logger.Info("session deleted", zap.String("session_id", id))
	return nil
}

// Stats aggregates pool, reserve bucket and ledger counters of the session.
func (s *SessionService) Stats(ctx context.Context, id string) (*models.SessionStats, error) {
	session, err := loadSession(ctx, s.repo, id)
	if err != nil {
		return nil, err
	}
	classes, err := s.codes.ClassStats(ctx, session.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class stats")
	}
	buckets, err := s.reserve.BucketStats(ctx, session.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load reserve stats")
	}
	requests, err := s.requests.Stats(ctx, session.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load request stats")
	}
	if classes == nil {
		classes = []models.ClassStats{}
	}
	if buckets == nil {
		buckets = []models.ReserveBucketStats{}
	}
	return &models.SessionStats{Session: session, Classes: classes, Reserve: buckets, RequestStats: requests}, nil
}
