package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/olympiad-codes-api/internal/models"
)

const reserveColumns = `id, session_id, donor_code_id, donor_class, target_class, class_parallel, code, is_used, used_by_student_id, used_at, created_at`

// ReserveCodeRepository persists per-parallel reserve buckets.
type ReserveCodeRepository struct {
	db *sqlx.DB
}

// NewReserveCodeRepository constructs a ReserveCodeRepository.
func NewReserveCodeRepository(db *sqlx.DB) *ReserveCodeRepository {
	return &ReserveCodeRepository{db: db}
}

func (r *ReserveCodeRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// InsertBatch stores reserve rows in the given order.
func (r *ReserveCodeRepository) InsertBatch(ctx context.Context, exec sqlx.ExtContext, rows []models.ReserveCode) error {
	if len(rows) == 0 {
		return nil
	}
	now := time.Now().UTC()
	for i := range rows {
		if rows[i].CreatedAt.IsZero() {
			rows[i].CreatedAt = now
		}
	}
	const query = `INSERT INTO reserve_codes (session_id, donor_code_id, donor_class, target_class, class_parallel, code, created_at)
        VALUES (:session_id, :donor_code_id, :donor_class, :target_class, :class_parallel, :code, :created_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, rows); err != nil {
		return fmt.Errorf("insert reserve codes: %w", err)
	}
	return nil
}

// CountByDonor counts reserve rows already copied from the donor class into the target class.
func (r *ReserveCodeRepository) CountByDonor(ctx context.Context, exec sqlx.ExtContext, sessionID string, donorClass, targetClass int) (int, error) {
	const query = `SELECT COUNT(*) FROM reserve_codes WHERE session_id = $1 AND donor_class = $2 AND target_class = $3`
	var total int
	if err := sqlx.GetContext(ctx, r.exec(exec), &total, query, sessionID, donorClass, targetClass); err != nil {
		return 0, fmt.Errorf("count donor reserve codes: %w", err)
	}
	return total, nil
}

// CountByLabel counts reserve rows per parallel label of the target class, used or not.
func (r *ReserveCodeRepository) CountByLabel(ctx context.Context, exec sqlx.ExtContext, sessionID string, targetClass int) (map[string]int, error) {
	const query = `SELECT class_parallel AS label, COUNT(*) AS population FROM reserve_codes
        WHERE session_id = $1 AND target_class = $2 GROUP BY class_parallel`
	var rows []models.ParallelPopulation
	if err := sqlx.SelectContext(ctx, r.exec(exec), &rows, query, sessionID, targetClass); err != nil {
		return nil, fmt.Errorf("count reserve codes by label: %w", err)
	}
	counts := make(map[string]int, len(rows))
	for _, row := range rows {
		counts[row.Label] = row.Population
	}
	return counts, nil
}

// ClaimNext atomically marks the lowest-id unused reserve code of the bucket as used by the student.
// It returns sql.ErrNoRows when the bucket is empty.
func (r *ReserveCodeRepository) ClaimNext(ctx context.Context, exec sqlx.ExtContext, sessionID, label, studentID string, at time.Time) (*models.ReserveCode, error) {
	const query = `UPDATE reserve_codes SET is_used = TRUE, used_by_student_id = $3, used_at = $4
WHERE id = (
    SELECT id FROM reserve_codes
    WHERE session_id = $1 AND class_parallel = $2 AND is_used = FALSE
    ORDER BY id
    LIMIT 1
    FOR UPDATE SKIP LOCKED
)
RETURNING ` + reserveColumns
	var code models.ReserveCode
	if err := sqlx.GetContext(ctx, r.exec(exec), &code, query, sessionID, label, studentID, at); err != nil {
		return nil, err
	}
	return &code, nil
}

// CountUnused reports how many reserve codes remain in the bucket.
func (r *ReserveCodeRepository) CountUnused(ctx context.Context, sessionID, label string) (int, error) {
	var total int
	const query = `SELECT COUNT(*) FROM reserve_codes WHERE session_id = $1 AND class_parallel = $2 AND is_used = FALSE`
	if err := r.db.GetContext(ctx, &total, query, sessionID, label); err != nil {
		return 0, fmt.Errorf("count unused reserve codes: %w", err)
	}
	return total, nil
}

// BucketStats aggregates totals per reserve bucket.
func (r *ReserveCodeRepository) BucketStats(ctx context.Context, sessionID string) ([]models.ReserveBucketStats, error) {
	const query = `SELECT target_class, class_parallel, COUNT(*) AS total, COUNT(*) FILTER (WHERE is_used = TRUE) AS used
        FROM reserve_codes WHERE session_id = $1
        GROUP BY target_class, class_parallel ORDER BY target_class, class_parallel`
	var stats []models.ReserveBucketStats
	if err := r.db.SelectContext(ctx, &stats, query, sessionID); err != nil {
		return nil, fmt.Errorf("reserve bucket stats: %w", err)
	}
	return stats, nil
}
