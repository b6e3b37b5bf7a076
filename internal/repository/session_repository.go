package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/olympiad-codes-api/internal/models"
)

const sessionColumns = `id, subject, olympiad_date, distribution_mode, auto_reserve, is_active, created_at, updated_at`

// SessionRepository persists olympiad sessions.
type SessionRepository struct {
	db *sqlx.DB
}

// NewSessionRepository constructs a SessionRepository.
func NewSessionRepository(db *sqlx.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

func (r *SessionRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// Create inserts a new session.
func (r *SessionRepository) Create(ctx context.Context, exec sqlx.ExtContext, session *models.Session) error {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	if session.DistributionMode == "" {
		session.DistributionMode = models.DistributionModeOnDemand
	}
	now := time.Now().UTC()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = now
	const query = `INSERT INTO olympiad_sessions (id, subject, olympiad_date, distribution_mode, auto_reserve, is_active, created_at, updated_at)
        VALUES (:id, :subject, :olympiad_date, :distribution_mode, :auto_reserve, :is_active, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, session); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// FindByID fetches a session by id.
func (r *SessionRepository) FindByID(ctx context.Context, id string) (*models.Session, error) {
	var session models.Session
	if err := r.db.GetContext(ctx, &session, `SELECT `+sessionColumns+` FROM olympiad_sessions WHERE id = $1`, id); err != nil {
		return nil, err
	}
	return &session, nil
}

// FindBySubjectDate returns the oldest session for the subject and date.
func (r *SessionRepository) FindBySubjectDate(ctx context.Context, exec sqlx.ExtContext, subject string, date time.Time) (*models.Session, error) {
	const query = `SELECT ` + sessionColumns + ` FROM olympiad_sessions
        WHERE subject = $1 AND olympiad_date = $2 ORDER BY created_at LIMIT 1`
	var session models.Session
	if err := sqlx.GetContext(ctx, r.exec(exec), &session, query, subject, date); err != nil {
		return nil, err
	}
	return &session, nil
}

// FindActive returns the active session.
func (r *SessionRepository) FindActive(ctx context.Context) (*models.Session, error) {
	const query = `SELECT ` + sessionColumns + ` FROM olympiad_sessions WHERE is_active = TRUE ORDER BY updated_at DESC LIMIT 1`
	var session models.Session
	if err := r.db.GetContext(ctx, &session, query); err != nil {
		return nil, err
	}
	return &session, nil
}

// List returns sessions newest first.
func (r *SessionRepository) List(ctx context.Context, filter models.SessionFilter) ([]models.Session, int, error) {
	conditions := []string{"1=1"}
	var args []interface{}
	if filter.Subject != "" {
		args = append(args, filter.Subject)
		conditions = append(conditions, fmt.Sprintf("subject = $%d", len(args)))
	}
	if filter.Active != nil {
		args = append(args, *filter.Active)
		conditions = append(conditions, fmt.Sprintf("is_active = $%d", len(args)))
	}
	where := strings.Join(conditions, " AND ")

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}

	query := fmt.Sprintf(`SELECT %s FROM olympiad_sessions WHERE %s ORDER BY olympiad_date DESC, created_at DESC LIMIT %d OFFSET %d`,
		sessionColumns, where, size, (page-1)*size)
	var sessions []models.Session
	if err := r.db.SelectContext(ctx, &sessions, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list sessions: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM olympiad_sessions WHERE "+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count sessions: %w", err)
	}
	return sessions, total, nil
}

// UpdateSettings rewrites the distribution settings of a session.
func (r *SessionRepository) UpdateSettings(ctx context.Context, exec sqlx.ExtContext, id string, mode models.DistributionMode, autoReserve bool) error {
	const query = `UPDATE olympiad_sessions SET distribution_mode = $2, auto_reserve = $3, updated_at = $4 WHERE id = $1`
	res, err := r.exec(exec).ExecContext(ctx, query, id, mode, autoReserve, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update session settings: %w", err)
	}
	return expectAffected(res)
}

// Activate marks the session active and every other session inactive in one statement.
func (r *SessionRepository) Activate(ctx context.Context, exec sqlx.ExtContext, id string) error {
	const query = `UPDATE olympiad_sessions SET is_active = (id = $1), updated_at = $2 WHERE is_active = TRUE OR id = $1`
	if _, err := r.exec(exec).ExecContext(ctx, query, id, time.Now().UTC()); err != nil {
		return fmt.Errorf("activate session: %w", err)
	}
	return nil
}

// Deactivate clears the active flag of a session.
func (r *SessionRepository) Deactivate(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE olympiad_sessions SET is_active = FALSE, updated_at = $2 WHERE id = $1`, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("deactivate session: %w", err)
	}
	return expectAffected(res)
}

// Delete removes a session; codes, reserve rows and ledger rows cascade.
func (r *SessionRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM olympiad_sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return expectAffected(res)
}

func expectAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
