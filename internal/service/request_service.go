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

const claimAttempts = 3

type requestLedgerRepository interface {
	FindActive(ctx context.Context, exec sqlx.ExtContext, sessionID, studentID string) (*models.CodeRequest, error)
	FindByID(ctx context.Context, id string) (*models.CodeRequest, error)
	Create(ctx context.Context, exec sqlx.ExtContext, request *models.CodeRequest) error
	MarkScreenshot(ctx context.Context, id, path string, at time.Time) error
	ListPendingScreenshots(ctx context.Context, sessionID string) ([]models.CodeRequest, error)
}

type requestCodeRepository interface {
	FindHeldByStudent(ctx context.Context, exec sqlx.ExtContext, sessionID, studentID string) (*models.Code, error)
	CountAvailable(ctx context.Context, exec sqlx.ExtContext, sessionID string, classNumber int) (int, error)
	MarkIssued(ctx context.Context, exec sqlx.ExtContext, codeID int64, at time.Time) error
}

type requestReserveRepository interface {
	ClaimNext(ctx context.Context, exec sqlx.ExtContext, sessionID, label, studentID string, at time.Time) (*models.ReserveCode, error)
}

type activeSessionReader interface {
	FindByID(ctx context.Context, id string) (*models.Session, error)
	FindActive(ctx context.Context) (*models.Session, error)
}

type codeClaimer interface {
	ClaimInClass(ctx context.Context, exec sqlx.ExtContext, sessionID string, classNumber int, studentID string) (*models.Code, error)
}

type classResolver interface {
	Resolve(ctx context.Context, sessionID string, studentClass int) (int, error)
}

// RequestService owns the request ledger: one live row per student and session, written together with the code state.
type RequestService struct {
	sessions     activeSessionReader
	students     studentReader
	requests     requestLedgerRepository
	codes        requestCodeRepository
	reserve      requestReserveRepository
	claimer      codeClaimer
	resolver     classResolver
	availability *AvailabilityService
	metrics      *MetricsService
	tx           txProvider
	cfg          config.DistributionConfig
	validator    *validator.Validate
	logger       *zap.Logger
	now          func() time.Time
}

// NewRequestService constructs RequestService.
func NewRequestService(
	sessions activeSessionReader,
	students studentReader,
	requests requestLedgerRepository,
	codes requestCodeRepository,
	reserve requestReserveRepository,
	claimer codeClaimer,
	resolver classResolver,
	availability *AvailabilityService,
	metrics *MetricsService,
	tx txProvider,
	cfg config.DistributionConfig,
	validate *validator.Validate,
	logger *zap.Logger,
) *RequestService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RequestService{
		sessions:     sessions,
		students:     students,
		requests:     requests,
		codes:        codes,
		reserve:      reserve,
		claimer:      claimer,
		resolver:     resolver,
		availability: availability,
		metrics:      metrics,
		tx:           tx,
		cfg:          cfg,
		validator:    validate,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// GetOrCreate returns the student's code for the session, issuing one when no live ledger row exists.
func (s *RequestService) GetOrCreate(ctx context.Context, req dto.GetOrCreateRequest) (*dto.RequestResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid code request")
	}
	if req.Source == "" {
		req.Source = models.CodeSourcePool
	}

	session, err := loadSession(ctx, s.sessions, req.SessionID)
	if err != nil {
		return nil, err
	}
	student, err := loadStudent(ctx, s.students, req.StudentID)
	if err != nil {
		return nil, err
	}
	return s.getOrCreate(ctx, session, student, req)
}

func (s *RequestService) getOrCreate(ctx context.Context, session *models.Session, student *models.Student, req dto.GetOrCreateRequest) (*dto.RequestResult, error) {
	existing, err := s.findExisting(ctx, session.ID, student.ID)
	if err != nil || existing != nil {
		return existing, err
	}

	if req.Source == models.CodeSourcePool {
		if req.ResolvedClass == 0 {
			req.ResolvedClass = student.ClassNumber
		}
		if req.ResolvedClass < student.ClassNumber || req.ResolvedClass > s.cfg.MaxClass {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("resolved class %d must be between %d and %d", req.ResolvedClass, student.ClassNumber, s.cfg.MaxClass))
		}
	}

	request, err := s.issue(ctx, session, student, req)
	if err != nil {
		if isUniqueViolation(err) {
			s.logger.Info("concurrent request resolved to existing ledger row",
				zap.String("session_id", session.ID),
				zap.String("student_id", student.ID),
			)
			winner, findErr := s.findExisting(ctx, session.ID, student.ID)
			if findErr != nil {
				return nil, findErr
			}
			if winner != nil {
				return winner, nil
			}
			return nil, appErrors.Clone(appErrors.ErrConflict, "code request conflict")
		}
		return nil, err
	}

	s.metrics.RecordClaim(request.Source)
	s.availability.Invalidate(ctx, session.ID)
	s.logger.Info("code issued",
		zap.String("session_id", session.ID),
		zap.String("student_id", student.ID),
		zap.String("source", string(request.Source)),
		zap.Int("class_tier", request.ClassTier),
	)
	return toRequestResult(request, false), nil
}

func (s *RequestService) findExisting(ctx context.Context, sessionID, studentID string) (*dto.RequestResult, error) {
	existing, err := s.requests.FindActive(ctx, nil, sessionID, studentID)
	if err == nil {
		return toRequestResult(existing, true), nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to look up code request")
}

// issue runs the claim, the ledger insert and the issued flag in one transaction.
// A code the student already holds anywhere in the session always wins over a fresh claim.
// A unique violation is returned unwrapped so the caller can fall back to the winning row.
func (s *RequestService) issue(ctx context.Context, session *models.Session, student *models.Student, req dto.GetOrCreateRequest) (request *models.CodeRequest, err error) {
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

	now := s.now()
	request = &models.CodeRequest{
		StudentID:   student.ID,
		SessionID:   session.ID,
		Source:      req.Source,
		RequestedAt: now,
	}

	held, holdErr := s.codes.FindHeldByStudent(ctx, tx, session.ID, student.ID)
	if holdErr != nil && !errors.Is(holdErr, sql.ErrNoRows) {
		err = appErrors.Wrap(holdErr, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to look up held code")
		return nil, err
	}

	poolCode := held
	switch {
	case held != nil:
		if req.Source == models.CodeSourceReserve {
			s.logger.Info("reserve requested by a student holding a pool code",
				zap.String("session_id", session.ID),
				zap.String("student_id", student.ID),
				zap.Int64("code_id", held.ID),
			)
		}
	case req.Source == models.CodeSourceReserve:
		own, countErr := s.codes.CountAvailable(ctx, tx, session.ID, student.ClassNumber)
		if countErr != nil {
			err = appErrors.Wrap(countErr, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count own class codes")
			return nil, err
		}
		if own > 0 {
			err = appErrors.Clone(appErrors.ErrOwnPoolAvailable, fmt.Sprintf("class %d still has %d free codes", student.ClassNumber, own))
			return nil, err
		}
		reserved, claimErr := s.reserve.ClaimNext(ctx, tx, session.ID, student.Label(), student.ID, now)
		if claimErr != nil {
			if errors.Is(claimErr, sql.ErrNoRows) {
				s.metrics.RecordAllocationFailure(appErrors.ErrReserveExhausted.Code)
				err = appErrors.Clone(appErrors.ErrReserveExhausted, fmt.Sprintf("no reserve codes left for %s", student.Label()))
				return nil, err
			}
			err = appErrors.Wrap(claimErr, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to claim reserve code")
			return nil, err
		}
		request.ReserveCodeID = &reserved.ID
		request.Code = reserved.Code
		request.ClassTier = reserved.DonorClass
	case session.DistributionMode == models.DistributionModePreAssigned:
		err = appErrors.Clone(appErrors.ErrNotPreassigned, "")
		return nil, err
	default:
		if poolCode, err = s.claimer.ClaimInClass(ctx, tx, session.ID, req.ResolvedClass, student.ID); err != nil {
			return nil, err
		}
	}
	if poolCode != nil {
		request.Source = models.CodeSourcePool
		request.CodeID = &poolCode.ID
		request.Code = poolCode.Code
		request.ClassTier = poolCode.ClassNumber
	}

	if err = s.requests.Create(ctx, tx, request); err != nil {
		if isUniqueViolation(err) {
			return nil, err
		}
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record code request")
		return nil, err
	}
	if poolCode != nil {
		if err = s.codes.MarkIssued(ctx, tx, poolCode.ID, now); err != nil {
			err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark code issued")
			return nil, err
		}
	}
	if err = tx.Commit(); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit code request")
		return nil, err
	}
	return request, nil
}

// Claim serves a student against the active session. A held code is always the answer. Otherwise pool
// requests go through the cascade, retried when a concurrent claim empties the resolved class first.
// Pre-assigned sessions serve held codes only.
func (s *RequestService) Claim(ctx context.Context, studentID string, req dto.ClaimCodeRequest) (*dto.RequestResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid claim payload")
	}
	session, err := s.activeSession(ctx)
	if err != nil {
		return nil, err
	}
	student, err := loadStudent(ctx, s.students, studentID)
	if err != nil {
		return nil, err
	}

	existing, err := s.findExisting(ctx, session.ID, student.ID)
	if err != nil || existing != nil {
		return existing, err
	}

	held, holdErr := s.codes.FindHeldByStudent(ctx, nil, session.ID, student.ID)
	if holdErr == nil {
		return s.getOrCreate(ctx, session, student, dto.GetOrCreateRequest{
			SessionID:     session.ID,
			StudentID:     student.ID,
			ResolvedClass: held.ClassNumber,
			Source:        models.CodeSourcePool,
		})
	}
	if !errors.Is(holdErr, sql.ErrNoRows) {
		return nil, appErrors.Wrap(holdErr, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to look up held code")
	}

	if req.Source == models.CodeSourceReserve {
		return s.getOrCreate(ctx, session, student, dto.GetOrCreateRequest{
			SessionID: session.ID,
			StudentID: student.ID,
			Source:    models.CodeSourceReserve,
		})
	}
	if session.DistributionMode == models.DistributionModePreAssigned {
		return nil, appErrors.Clone(appErrors.ErrNotPreassigned, "")
	}

	var lastErr error
	for attempt := 0; attempt < claimAttempts; attempt++ {
		class, err := s.resolver.Resolve(ctx, session.ID, student.ClassNumber)
		if err != nil {
			return nil, err
		}
		result, err := s.getOrCreate(ctx, session, student, dto.GetOrCreateRequest{
			SessionID:     session.ID,
			StudentID:     student.ID,
			ResolvedClass: class,
			Source:        models.CodeSourcePool,
		})
		if err == nil {
			return result, nil
		}
		if !errors.Is(err, appErrors.ErrPoolExhausted) {
			return nil, err
		}
		lastErr = err
		s.availability.Invalidate(ctx, session.ID)
	}
	return nil, lastErr
}

func (s *RequestService) activeSession(ctx context.Context) (*models.Session, error) {
	session, err := s.sessions.FindActive(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNoActiveSession, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load active session")
	}
	return session, nil
}

// Get returns the live ledger row of the student for the session.
func (s *RequestService) Get(ctx context.Context, sessionID, studentID string) (*dto.RequestResult, error) {
	request, err := s.requests.FindActive(ctx, nil, sessionID, studentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "code request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load code request")
	}
	return toRequestResult(request, true), nil
}

// MarkScreenshot records a screenshot for a ledger row. A non-empty ownerID restricts the update to that student's row.
func (s *RequestService) MarkScreenshot(ctx context.Context, requestID, ownerID string, req dto.ScreenshotRequest) (*models.CodeRequest, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid screenshot payload")
	}
	request, err := s.requests.FindByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "code request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load code request")
	}
	if ownerID != "" && request.StudentID != ownerID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "code request belongs to another student")
	}

	now := s.now()
	if err := s.requests.MarkScreenshot(ctx, request.ID, req.Path, now); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "code request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record screenshot")
	}
	request.ScreenshotSubmitted = true
	request.ScreenshotPath = &req.Path
	request.ScreenshotSubmittedAt = &now
	return request, nil
}

// PendingScreenshots lists live ledger rows of the session without a screenshot.
func (s *RequestService) PendingScreenshots(ctx context.Context, sessionID string) ([]models.CodeRequest, error) {
	if _, err := loadSession(ctx, s.sessions, sessionID); err != nil {
		return nil, err
	}
	requests, err := s.requests.ListPendingScreenshots(ctx, sessionID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list pending screenshots")
	}
	if requests == nil {
		requests = []models.CodeRequest{}
	}
	return requests, nil
}

func toRequestResult(request *models.CodeRequest, existing bool) *dto.RequestResult {
	return &dto.RequestResult{
		RequestID:   request.ID,
		SessionID:   request.SessionID,
		Code:        request.Code,
		ClassTier:   request.ClassTier,
		Source:      request.Source,
		WasExisting: existing,
		RequestedAt: request.RequestedAt,
	}
}
