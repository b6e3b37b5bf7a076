package service

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/olympiad-codes-api/internal/dto"
	"github.com/noah-isme/olympiad-codes-api/internal/models"
	"github.com/noah-isme/olympiad-codes-api/pkg/config"
	appErrors "github.com/noah-isme/olympiad-codes-api/pkg/errors"
)

type reservationCodeRepository interface {
	AvailableCounts(ctx context.Context, sessionID string, classNumber *int) (map[int]int, error)
	ListAvailable(ctx context.Context, exec sqlx.ExtContext, sessionID string, classNumber, limit int) ([]models.Code, error)
	MarkReserved(ctx context.Context, exec sqlx.ExtContext, ids []int64) ([]int64, error)
}

type reservationReserveRepository interface {
	InsertBatch(ctx context.Context, exec sqlx.ExtContext, rows []models.ReserveCode) error
	CountByDonor(ctx context.Context, exec sqlx.ExtContext, sessionID string, donorClass, targetClass int) (int, error)
	CountByLabel(ctx context.Context, exec sqlx.ExtContext, sessionID string, targetClass int) (map[string]int, error)
}

type reservationStudentRepository interface {
	ParallelPopulation(ctx context.Context, exec sqlx.ExtContext, classNumber int) ([]models.ParallelPopulation, error)
	CountWithoutCode(ctx context.Context, exec sqlx.ExtContext, sessionID string, classNumber int) (int, error)
}

// ReservationService moves donor class surplus into per-parallel reserve buckets of lower classes.
type ReservationService struct {
	sessions     sessionReader
	codes        reservationCodeRepository
	reserve      reservationReserveRepository
	students     reservationStudentRepository
	availability *AvailabilityService
	metrics      *MetricsService
	tx           txProvider
	cfg          config.DistributionConfig
	logger       *zap.Logger
}

// NewReservationService constructs ReservationService.
func NewReservationService(
	sessions sessionReader,
	codes reservationCodeRepository,
	reserve reservationReserveRepository,
	students reservationStudentRepository,
	availability *AvailabilityService,
	metrics *MetricsService,
	tx txProvider,
	cfg config.DistributionConfig,
	logger *zap.Logger,
) *ReservationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReservationService{
		sessions:     sessions,
		codes:        codes,
		reserve:      reserve,
		students:     students,
		availability: availability,
		metrics:      metrics,
		tx:           tx,
		cfg:          cfg,
		logger:       logger,
	}
}

// Apply runs every configured reserve pair for the session. Re-running converges on the same buckets.
func (s *ReservationService) Apply(ctx context.Context, sessionID string) (*dto.ReservationResult, error) {
	session, err := loadSession(ctx, s.sessions, sessionID)
	if err != nil {
		return nil, err
	}
	if s.tx == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "transaction provider missing")
	}

	result := &dto.ReservationResult{SessionID: session.ID, Allocated: map[string]int{}, Pairs: []dto.ReservationPairResult{}}
	for _, pair := range s.cfg.ReservePairs {
		pairResult, err := s.applyPair(ctx, session.ID, pair)
		if err != nil {
			return nil, err
		}
		for label, n := range pairResult.Allocated {
			result.Allocated[label] += n
		}
		result.Pairs = append(result.Pairs, *pairResult)
		s.logger.Info("reservation pair evaluated",
			zap.String("session_id", session.ID),
			zap.Int("target_class", pair.TargetClass),
			zap.Int("donor_class", pairResult.DonorClass),
			zap.Int("surplus", pairResult.Surplus),
			zap.String("reason", pairResult.Reason),
		)
	}

	if total := result.Total(); total > 0 {
		s.metrics.RecordReserved(total)
		s.availability.Invalidate(ctx, session.ID)
	}
	return result, nil
}

func (s *ReservationService) applyPair(ctx context.Context, sessionID string, pair config.ReservePair) (*dto.ReservationPairResult, error) {
	out := &dto.ReservationPairResult{TargetClass: pair.TargetClass, Allocated: map[string]int{}}

	populations, err := s.students.ParallelPopulation(ctx, nil, pair.TargetClass)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count target population")
	}
	if totalPopulation(populations) == 0 {
		out.Reason = dto.ReservationReasonNoStudents
		return out, nil
	}

	available, err := s.codes.AvailableCounts(ctx, sessionID, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count available codes")
	}
	waiting, err := s.students.CountWithoutCode(ctx, nil, sessionID, pair.TargetClass)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count waiting students")
	}
	if available[pair.TargetClass] >= waiting {
		out.Reason = dto.ReservationReasonOwnPoolCovers
		return out, nil
	}

	var already int
	for _, donor := range pair.DonorClasses {
		reserved, err := s.reserve.CountByDonor(ctx, nil, sessionID, donor, pair.TargetClass)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count donor reserve codes")
		}
		donorWaiting, err := s.students.CountWithoutCode(ctx, nil, sessionID, donor)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count donor students")
		}
		surplus := available[donor] + reserved - donorWaiting
		if surplus <= 0 {
			out.ShortDonors = append(out.ShortDonors, donor)
			continue
		}
		out.DonorClass = donor
		out.Surplus = surplus
		already = reserved
		break
	}
	if out.DonorClass == 0 {
		out.Reason = dto.ReservationReasonNoDonorSurplus
		return out, nil
	}

	existing, err := s.reserve.CountByLabel(ctx, nil, sessionID, pair.TargetClass)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count reserve buckets")
	}

	var batch []models.Code
	if limit := out.Surplus - already; limit > 0 {
		batch, err = s.codes.ListAvailable(ctx, nil, sessionID, out.DonorClass, limit)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list donor codes")
		}
	}
	out.BatchSize = len(batch)

	plan := CalculateReservation(ReservationInput{
		Surplus:     out.Surplus,
		Populations: populations,
		Existing:    existing,
		Batch:       batch,
	})
	out.Shares = plan.Shares
	out.Leftover = plan.Leftover
	if len(plan.Allocations) == 0 {
		if len(existing) > 0 {
			out.Reason = dto.ReservationReasonAlreadyReserved
		} else {
			out.Reason = dto.ReservationReasonApplied
		}
		return out, nil
	}

	allocated, err := s.persistPlan(ctx, sessionID, out.DonorClass, pair.TargetClass, plan)
	if err != nil {
		return nil, err
	}
	out.Allocated = allocated
	out.Reason = dto.ReservationReasonApplied
	return out, nil
}

// persistPlan flags donor rows as spent and copies the ones that flipped into reserve rows, in plan order.
func (s *ReservationService) persistPlan(ctx context.Context, sessionID string, donor, target int, plan ReservationPlan) (allocated map[string]int, err error) {
	ids := make([]int64, 0, len(plan.Allocations))
	for _, alloc := range plan.Allocations {
		for _, code := range alloc.Codes {
			ids = append(ids, code.ID)
		}
	}

	start := time.Now()
	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	flipped, err := s.codes.MarkReserved(ctx, tx, ids)
	if err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to flag donor codes")
		return nil, err
	}
	spent := make(map[int64]struct{}, len(flipped))
	for _, id := range flipped {
		spent[id] = struct{}{}
	}

	allocated = make(map[string]int, len(plan.Allocations))
	rows := make([]models.ReserveCode, 0, len(flipped))
	for _, alloc := range plan.Allocations {
		for _, code := range alloc.Codes {
			if _, ok := spent[code.ID]; !ok {
				continue
			}
			rows = append(rows, models.ReserveCode{
				SessionID:     sessionID,
				DonorCodeID:   code.ID,
				DonorClass:    donor,
				TargetClass:   target,
				ClassParallel: alloc.Label,
				Code:          code.Code,
			})
			allocated[alloc.Label]++
		}
	}

	if err = s.reserve.InsertBatch(ctx, tx, rows); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to insert reserve codes")
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit reservation")
		return nil, err
	}
	s.metrics.ObserveDBQuery("apply_reservation", time.Since(start))
	return allocated, nil
}

func totalPopulation(populations []models.ParallelPopulation) int {
	total := 0
	for _, p := range populations {
		total += p.Population
	}
	return total
}
