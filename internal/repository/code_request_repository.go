package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/olympiad-codes-api/internal/models"
)

const requestColumns = `id, student_id, session_id, code_id, reserve_code_id, code, class_tier, source, requested_at,
        screenshot_submitted, screenshot_path, screenshot_submitted_at, deleted_at`

// CodeRequestRepository persists the request ledger.
type CodeRequestRepository struct {
	db *sqlx.DB
}

// NewCodeRequestRepository constructs a CodeRequestRepository.
func NewCodeRequestRepository(db *sqlx.DB) *CodeRequestRepository {
	return &CodeRequestRepository{db: db}
}

func (r *CodeRequestRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// FindActive returns the live ledger row of the student for the session.
func (r *CodeRequestRepository) FindActive(ctx context.Context, exec sqlx.ExtContext, sessionID, studentID string) (*models.CodeRequest, error) {
	const query = `SELECT ` + requestColumns + ` FROM code_requests
        WHERE session_id = $1 AND student_id = $2 AND deleted_at IS NULL`
	var request models.CodeRequest
	if err := sqlx.GetContext(ctx, r.exec(exec), &request, query, sessionID, studentID); err != nil {
		return nil, err
	}
	return &request, nil
}

// FindByID fetches a ledger row by id.
func (r *CodeRequestRepository) FindByID(ctx context.Context, id string) (*models.CodeRequest, error) {
	var request models.CodeRequest
	if err := r.db.GetContext(ctx, &request, `SELECT `+requestColumns+` FROM code_requests WHERE id = $1 AND deleted_at IS NULL`, id); err != nil {
		return nil, err
	}
	return &request, nil
}

// Create inserts a ledger row. A second live row for the same student and session fails with a unique violation.
func (r *CodeRequestRepository) Create(ctx context.Context, exec sqlx.ExtContext, request *models.CodeRequest) error {
	if request.ID == "" {
		request.ID = uuid.NewString()
	}
	if request.RequestedAt.IsZero() {
		request.RequestedAt = time.Now().UTC()
	}
	const query = `INSERT INTO code_requests (id, student_id, session_id, code_id, reserve_code_id, code, class_tier, source, requested_at)
        VALUES (:id, :student_id, :session_id, :code_id, :reserve_code_id, :code, :class_tier, :source, :requested_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, request); err != nil {
		return fmt.Errorf("create code request: %w", err)
	}
	return nil
}

// MarkScreenshot records the screenshot submission of a ledger row.
func (r *CodeRequestRepository) MarkScreenshot(ctx context.Context, id, path string, at time.Time) error {
	const query = `UPDATE code_requests SET screenshot_submitted = TRUE, screenshot_path = $2, screenshot_submitted_at = $3
        WHERE id = $1 AND deleted_at IS NULL`
	res, err := r.db.ExecContext(ctx, query, id, path, at)
	if err != nil {
		return fmt.Errorf("mark screenshot: %w", err)
	}
	return expectAffected(res)
}

// ListPendingScreenshots returns live rows of the session still awaiting a screenshot, oldest first.
func (r *CodeRequestRepository) ListPendingScreenshots(ctx context.Context, sessionID string) ([]models.CodeRequest, error) {
	const query = `SELECT ` + requestColumns + ` FROM code_requests
        WHERE session_id = $1 AND deleted_at IS NULL AND screenshot_submitted = FALSE
        ORDER BY requested_at`
	var requests []models.CodeRequest
	if err := r.db.SelectContext(ctx, &requests, query, sessionID); err != nil {
		return nil, fmt.Errorf("list pending screenshots: %w", err)
	}
	return requests, nil
}

// SoftDeleteForStudents tombstones every live ledger row of the students.
func (r *CodeRequestRepository) SoftDeleteForStudents(ctx context.Context, exec sqlx.ExtContext, studentIDs []string, at time.Time) (int64, error) {
	if len(studentIDs) == 0 {
		return 0, nil
	}
	const query = `UPDATE code_requests SET deleted_at = $2 WHERE student_id = ANY($1::uuid[]) AND deleted_at IS NULL`
	res, err := r.exec(exec).ExecContext(ctx, query, pq.Array(studentIDs), at)
	if err != nil {
		return 0, fmt.Errorf("soft delete code requests: %w", err)
	}
	return res.RowsAffected()
}

// Stats counts live requests and submitted screenshots of a session.
func (r *CodeRequestRepository) Stats(ctx context.Context, sessionID string) (models.RequestStats, error) {
	const query = `SELECT COUNT(*) AS requests, COUNT(*) FILTER (WHERE screenshot_submitted = TRUE) AS screenshots
        FROM code_requests WHERE session_id = $1 AND deleted_at IS NULL`
	var stats models.RequestStats
	if err := r.db.GetContext(ctx, &stats, query, sessionID); err != nil {
		return models.RequestStats{}, fmt.Errorf("request stats: %w", err)
	}
	return stats, nil
}
