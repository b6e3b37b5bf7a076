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

type txProvider interface {
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
}

type allocationCodeRepository interface {
	ClaimNext(ctx context.Context, exec sqlx.ExtContext, sessionID string, classNumber int, studentID string, at time.Time) (*models.Code, error)
	AssignTo(ctx context.Context, exec sqlx.ExtContext, codeID int64, studentID string, at time.Time) (bool, error)
	CountByClass(ctx context.Context, exec sqlx.ExtContext, sessionID string, classNumber int) (int, error)
	FindHeldByStudent(ctx context.Context, exec sqlx.ExtContext, sessionID, studentID string) (*models.Code, error)
	FindByID(ctx context.Context, exec sqlx.ExtContext, id int64) (*models.Code, error)
	ListAvailable(ctx context.Context, exec sqlx.ExtContext, sessionID string, classNumber, limit int) ([]models.Code, error)
	Reassign(ctx context.Context, exec sqlx.ExtContext, codeID int64, studentID string, at time.Time) error
}

type allocationStudentRepository interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
	ListWithoutCode(ctx context.Context, exec sqlx.ExtContext, sessionID string, classNumber int) ([]models.Student, error)
}

type allocationLedgerReader interface {
	FindActive(ctx context.Context, exec sqlx.ExtContext, sessionID, studentID string) (*models.CodeRequest, error)
}

// AllocationService binds pool codes to students, eagerly per class or one at a time on demand.
type AllocationService struct {
	sessions     sessionReader
	codes        allocationCodeRepository
	students     allocationStudentRepository
	requests     allocationLedgerReader
	availability *AvailabilityService
	metrics      *MetricsService
	tx           txProvider
	cfg          config.DistributionConfig
	validator    *validator.Validate
	logger       *zap.Logger
	now          func() time.Time
}

// NewAllocationService constructs AllocationService.
func NewAllocationService(
	sessions sessionReader,
	codes allocationCodeRepository,
	students allocationStudentRepository,
	requests allocationLedgerReader,
	availability *AvailabilityService,
	metrics *MetricsService,
	tx txProvider,
	cfg config.DistributionConfig,
	validate *validator.Validate,
	logger *zap.Logger,
) *AllocationService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AllocationService{
		sessions:     sessions,
		codes:        codes,
		students:     students,
		requests:     requests,
		availability: availability,
		metrics:      metrics,
		tx:           tx,
		cfg:          cfg,
		validator:    validate,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// PreassignAll binds available codes to students without one, class by class in ascending order.
// Each class commits independently; students left over are reported, not dropped.
func (s *AllocationService) PreassignAll(ctx context.Context, sessionID string) (*dto.PreassignResult, error) {
	session, err := loadSession(ctx, s.sessions, sessionID)
	if err != nil {
		return nil, err
	}
	if s.tx == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "transaction provider missing")
	}

	result := &dto.PreassignResult{SessionID: session.ID, Assigned: []dto.PreassignedCode{}, Failed: []dto.PreassignFailure{}}
	for class := s.cfg.MinClass; class <= s.cfg.MaxClass; class++ {
		if err := s.preassignClass(ctx, session.ID, class, result); err != nil {
			s.availability.Invalidate(ctx, session.ID)
			return nil, err
		}
	}
	s.availability.Invalidate(ctx, session.ID)

	for _, failure := range result.Failed {
		s.metrics.RecordAllocationFailure(failure.Reason)
	}
	s.logger.Info("pre-assignment finished",
		zap.String("session_id", session.ID),
		zap.Int("assigned", len(result.Assigned)),
		zap.Int("failed", len(result.Failed)),
	)
	return result, nil
}

func (s *AllocationService) preassignClass(ctx context.Context, sessionID string, class int, result *dto.PreassignResult) (err error) {
	students, err := s.students.ListWithoutCode(ctx, nil, sessionID, class)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list students")
	}
	if len(students) == 0 {
		return nil
	}

	total, err := s.codes.CountByClass(ctx, nil, sessionID, class)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count class codes")
	}
	if total == 0 {
		for _, st := range students {
			result.Failed = append(result.Failed, preassignFailure(st, dto.FailureNoPoolForClass))
		}
		return nil
	}

	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	available, err := s.codes.ListAvailable(ctx, tx, sessionID, class, len(students))
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list available codes")
	}

	var assigned []dto.PreassignedCode
	var failed []dto.PreassignFailure
	now := s.now()
	for i, st := range students {
		if i >= len(available) {
			failed = append(failed, preassignFailure(st, dto.FailurePoolExhausted))
			continue
		}
		ok, assignErr := s.codes.AssignTo(ctx, tx, available[i].ID, st.ID, now)
		if assignErr != nil {
			err = appErrors.Wrap(assignErr, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to assign code")
			return err
		}
		if !ok {
			failed = append(failed, preassignFailure(st, dto.FailureConflict))
			continue
		}
		assigned = append(assigned, dto.PreassignedCode{StudentID: st.ID, StudentName: st.FullName, ClassNumber: class, CodeID: available[i].ID})
	}

	if err = tx.Commit(); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit pre-assignment")
	}
	result.Assigned = append(result.Assigned, assigned...)
	result.Failed = append(result.Failed, failed...)
	return nil
}

func preassignFailure(st models.Student, reason string) dto.PreassignFailure {
	return dto.PreassignFailure{StudentID: st.ID, StudentName: st.FullName, ClassNumber: st.ClassNumber, Reason: reason}
}

// ClaimOnDemand assigns one code of the student's own class. A code the student already holds anywhere
// in the session is returned as is; a student served from the reserve is refused.
func (s *AllocationService) ClaimOnDemand(ctx context.Context, sessionID, studentID string) (*models.Code, error) {
	session, err := loadSession(ctx, s.sessions, sessionID)
	if err != nil {
		return nil, err
	}
	student, err := loadStudent(ctx, s.students, studentID)
	if err != nil {
		return nil, err
	}

	held, err := s.codes.FindHeldByStudent(ctx, nil, session.ID, student.ID)
	if err == nil {
		return held, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to look up held code")
	}
	if err := s.ensureNoLedgerRow(ctx, nil, session.ID, student.ID); err != nil {
		return nil, err
	}

	code, err := s.ClaimInClass(ctx, nil, session.ID, student.ClassNumber, student.ID)
	if err != nil {
		return nil, err
	}
	s.availability.Invalidate(ctx, session.ID)
	return code, nil
}

// ensureNoLedgerRow fails with ErrAlreadyHoldsCode when the student was already served in the session.
func (s *AllocationService) ensureNoLedgerRow(ctx context.Context, exec sqlx.ExtContext, sessionID, studentID string) error {
	if s.requests == nil {
		return nil
	}
	_, err := s.requests.FindActive(ctx, exec, sessionID, studentID)
	switch {
	case err == nil:
		return appErrors.Clone(appErrors.ErrAlreadyHoldsCode, "student was already served a code in this session")
	case errors.Is(err, sql.ErrNoRows):
		return nil
	default:
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to look up code request")
	}
}

// ClaimInClass runs the atomic claim against one class pool, within exec when given.
// An empty result is classified as ErrNoPoolForClass or ErrPoolExhausted.
func (s *AllocationService) ClaimInClass(ctx context.Context, exec sqlx.ExtContext, sessionID string, classNumber int, studentID string) (*models.Code, error) {
	start := time.Now()
	code, err := s.codes.ClaimNext(ctx, exec, sessionID, classNumber, studentID, s.now())
	s.metrics.ObserveDBQuery("claim_code", time.Since(start))
	if err == nil {
		return code, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to claim code")
	}

	total, countErr := s.codes.CountByClass(ctx, exec, sessionID, classNumber)
	if countErr != nil {
		return nil, appErrors.Wrap(countErr, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count class codes")
	}
	if total == 0 {
		s.metrics.RecordAllocationFailure(appErrors.ErrNoPoolForClass.Code)
		return nil, appErrors.Clone(appErrors.ErrNoPoolForClass, fmt.Sprintf("no codes were loaded for class %d", classNumber))
	}
	s.metrics.RecordAllocationFailure(appErrors.ErrPoolExhausted.Code)
	return nil, appErrors.Clone(appErrors.ErrPoolExhausted, fmt.Sprintf("no free codes left for class %d", classNumber))
}

// Reassign moves an assigned but unissued code to another student who holds nothing in the session yet.
func (s *AllocationService) Reassign(ctx context.Context, codeID int64, req dto.ReassignCodeRequest) (code *models.Code, err error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid reassign payload")
	}
	student, err := loadStudent(ctx, s.students, req.StudentID)
	if err != nil {
		return nil, err
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

	code, err = s.codes.FindByID(ctx, tx, codeID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = appErrors.Clone(appErrors.ErrNotFound, "code not found")
			return nil, err
		}
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load code")
		return nil, err
	}
	if code.IsIssued {
		err = appErrors.Clone(appErrors.ErrConflict, "issued codes cannot be reassigned")
		return nil, err
	}
	if !code.IsAssigned {
		err = appErrors.Clone(appErrors.ErrConflict, "only assigned codes can be reassigned")
		return nil, err
	}
	if code.StudentID != nil && *code.StudentID == student.ID {
		if err = tx.Commit(); err != nil {
			err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit reassignment")
			return nil, err
		}
		return code, nil
	}
	if code.IsReserved {
		err = appErrors.Clone(appErrors.ErrConflict, "code was moved to a reserve bucket")
		return nil, err
	}
	if code.ClassNumber < student.ClassNumber {
		err = appErrors.Clone(appErrors.ErrValidation, "code belongs to a class below the student's class")
		return nil, err
	}
	held, holdErr := s.codes.FindHeldByStudent(ctx, tx, code.SessionID, student.ID)
	if holdErr == nil {
		err = appErrors.Clone(appErrors.ErrAlreadyHoldsCode, fmt.Sprintf("student already holds code %d", held.ID))
		return nil, err
	}
	if !errors.Is(holdErr, sql.ErrNoRows) {
		err = appErrors.Wrap(holdErr, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to look up held code")
		return nil, err
	}
	if err = s.ensureNoLedgerRow(ctx, tx, code.SessionID, student.ID); err != nil {
		return nil, err
	}

	now := s.now()
	if err = s.codes.Reassign(ctx, tx, code.ID, student.ID, now); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = appErrors.Clone(appErrors.ErrConflict, "code changed state during reassignment")
			return nil, err
		}
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reassign code")
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit reassignment")
		return nil, err
	}

	code.StudentID = &student.ID
	code.IsAssigned = true
	code.AssignedAt = &now
	s.availability.Invalidate(ctx, code.SessionID)
	s.logger.Info("code reassigned", zap.Int64("code_id", code.ID), zap.String("student_id", student.ID))
	return code, nil
}
