package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/olympiad-codes-api/internal/dto"
	"github.com/noah-isme/olympiad-codes-api/internal/models"
	"github.com/noah-isme/olympiad-codes-api/pkg/config"
	appErrors "github.com/noah-isme/olympiad-codes-api/pkg/errors"
)

const registrationCodeLength = 10

type studentRepository interface {
	List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error)
	FindByID(ctx context.Context, id string) (*models.Student, error)
	FindByTelegramID(ctx context.Context, telegramID int64) (*models.Student, error)
	FindByRegistrationCode(ctx context.Context, exec sqlx.ExtContext, code string) (*models.Student, error)
	BulkCreate(ctx context.Context, exec sqlx.ExtContext, students []models.Student) error
	Register(ctx context.Context, exec sqlx.ExtContext, id string, telegramID int64, at time.Time) error
	ListIDsByClass(ctx context.Context, exec sqlx.ExtContext, classNumber int) ([]string, error)
	DeleteByIDs(ctx context.Context, exec sqlx.ExtContext, ids []string) (int64, error)
}

type studentCodeRepository interface {
	IssuedHolders(ctx context.Context, exec sqlx.ExtContext, studentIDs []string) ([]string, error)
	ReleaseForStudents(ctx context.Context, exec sqlx.ExtContext, studentIDs []string) (int64, error)
	RetireForStudents(ctx context.Context, exec sqlx.ExtContext, studentIDs []string) (int64, error)
}

type studentRequestRepository interface {
	SoftDeleteForStudents(ctx context.Context, exec sqlx.ExtContext, studentIDs []string, at time.Time) (int64, error)
}

// StudentService manages participants and their one-time registration.
type StudentService struct {
	repo         studentRepository
	codes        studentCodeRepository
	requests     studentRequestRepository
	availability *AvailabilityService
	tx           txProvider
	cfg          config.DistributionConfig
	validator    *validator.Validate
	logger       *zap.Logger
	now          func() time.Time
	newCode      func() string
}

// NewStudentService constructs StudentService.
func NewStudentService(
	repo studentRepository,
	codes studentCodeRepository,
	requests studentRequestRepository,
	availability *AvailabilityService,
	tx txProvider,
	cfg config.DistributionConfig,
	validate *validator.Validate,
	logger *zap.Logger,
) *StudentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StudentService{
		repo:         repo,
		codes:        codes,
		requests:     requests,
		availability: availability,
		tx:           tx,
		cfg:          cfg,
		validator:    validate,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
		newCode:      newRegistrationCode,
	}
}

func newRegistrationCode() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return strings.ToUpper(raw[:registrationCodeLength])
}

// List returns students with pagination.
func (s *StudentService) List(ctx context.Context, filter models.StudentFilter) ([]models.Student, *models.Pagination, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 || filter.PageSize > 100 {
		filter.PageSize = 20
	}
	students, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list students")
	}
	if students == nil {
		students = []models.Student{}
	}
	return students, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}

// Get returns a student by id.
func (s *StudentService) Get(ctx context.Context, id string) (*models.Student, error) {
	return loadStudent(ctx, s.repo, id)
}

// GetByTelegram returns the student registered with the chat identity.
func (s *StudentService) GetByTelegram(ctx context.Context, telegramID int64) (*models.Student, error) {
	student, err := s.repo.FindByTelegramID(ctx, telegramID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrStudentNotFound, "no student registered with this telegram id")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	return student, nil
}

// BulkCreate loads students, each with a fresh single-use registration code.
func (s *StudentService) BulkCreate(ctx context.Context, req dto.BulkCreateStudentsRequest) ([]models.Student, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid student payload")
	}

	students := make([]models.Student, len(req.Students))
	for i, item := range req.Students {
		if item.ClassNumber < s.cfg.MinClass || item.ClassNumber > s.cfg.MaxClass {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("students[%d]: class %d is outside %d-%d", i, item.ClassNumber, s.cfg.MinClass, s.cfg.MaxClass))
		}
		students[i] = models.Student{
			FullName:         strings.TrimSpace(item.FullName),
			ClassNumber:      item.ClassNumber,
			Parallel:         strings.ToUpper(strings.TrimSpace(item.Parallel)),
			RegistrationCode: s.newCode(),
			IsActive:         true,
		}
	}

	if err := s.repo.BulkCreate(ctx, nil, students); err != nil {
		if isUniqueViolation(err) {
			return nil, appErrors.Wrap(err, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, "registration code collision, retry the upload")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create students")
	}
	s.logger.Info("students created", zap.Int("count", len(students)))
	return students, nil
}

// Register redeems a registration code, linking the student to a chat identity.
func (s *StudentService) Register(ctx context.Context, req dto.RegisterStudentRequest) (student *models.Student, err error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid registration payload")
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

	student, err = s.repo.FindByRegistrationCode(ctx, tx, strings.ToUpper(strings.TrimSpace(req.RegistrationCode)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = appErrors.Clone(appErrors.ErrNotFound, "registration code not found")
			return nil, err
		}
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to look up registration code")
		return nil, err
	}
	if student.IsRegistered {
		err = appErrors.Clone(appErrors.ErrConflict, "registration code already used")
		return nil, err
	}

	now := s.now()
	if err = s.repo.Register(ctx, tx, student.ID, req.TelegramID, now); err != nil {
		switch {
		case isUniqueViolation(err):
			err = appErrors.Clone(appErrors.ErrConflict, "telegram account already linked to another student")
		case errors.Is(err, sql.ErrNoRows):
			err = appErrors.Clone(appErrors.ErrConflict, "registration code already used")
		default:
			err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to register student")
		}
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit registration")
		return nil, err
	}

	student.TelegramID = &req.TelegramID
	student.IsRegistered = true
	student.RegisteredAt = &now
	return student, nil
}

// DeleteByClass removes the students of a class. Their ledger rows are soft-deleted and unissued codes
// return to the pool. Holders of an issued code are skipped unless force is set, in which case the code
// is detached and marked spent.
func (s *StudentService) DeleteByClass(ctx context.Context, classNumber int, force bool) (result *models.StudentDeletion, err error) {
	if classNumber < s.cfg.MinClass || classNumber > s.cfg.MaxClass {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("class %d is outside %d-%d", classNumber, s.cfg.MinClass, s.cfg.MaxClass))
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

	result = &models.StudentDeletion{Skipped: []string{}}
	ids, err := s.repo.ListIDsByClass(ctx, tx, classNumber)
	if err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list class students")
		return nil, err
	}
	holders, err := s.codes.IssuedHolders(ctx, tx, ids)
	if err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list issued holders")
		return nil, err
	}

	targets := ids
	if !force && len(holders) > 0 {
		held := make(map[string]struct{}, len(holders))
		for _, id := range holders {
			held[id] = struct{}{}
		}
		targets = make([]string, 0, len(ids))
		for _, id := range ids {
			if _, ok := held[id]; ok {
				result.Skipped = append(result.Skipped, id)
				continue
			}
			targets = append(targets, id)
		}
	}
	if len(targets) == 0 {
		if err = tx.Commit(); err != nil {
			err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit deletion")
			return nil, err
		}
		return result, nil
	}

	if _, err = s.requests.SoftDeleteForStudents(ctx, tx, targets, s.now()); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to retire code requests")
		return nil, err
	}
	freed, err := s.codes.ReleaseForStudents(ctx, tx, targets)
	if err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to release codes")
		return nil, err
	}
	result.CodesFreed = int(freed)
	if force {
		retired, retireErr := s.codes.RetireForStudents(ctx, tx, targets)
		if retireErr != nil {
			err = appErrors.Wrap(retireErr, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to retire issued codes")
			return nil, err
		}
		result.CodesRetired = int(retired)
	}
	deleted, err := s.repo.DeleteByIDs(ctx, tx, targets)
	if err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete students")
		return nil, err
	}
	result.Deleted = int(deleted)
	if err = tx.Commit(); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit deletion")
		return nil, err
	}

	s.availability.InvalidateAll(ctx)
	s.logger.Info("class students deleted",
		zap.Int("class_number", classNumber),
		zap.Int("deleted", result.Deleted),
		zap.Int("skipped", len(result.Skipped)),
		zap.Bool("force", force),
	)
	return result, nil
}
