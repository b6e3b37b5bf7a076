package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/olympiad-codes-api/internal/models"
)

const codeColumns = `id, session_id, class_number, code, student_id, is_assigned, assigned_at, is_issued, issued_at, is_reserved, created_at`

// codeInsertBatch keeps multi-row inserts well under the Postgres bind parameter limit.
const codeInsertBatch = 1000

// CodeRepository persists the per-class code pools.
type CodeRepository struct {
	db *sqlx.DB
}

// NewCodeRepository constructs a CodeRepository.
func NewCodeRepository(db *sqlx.DB) *CodeRepository {
	return &CodeRepository{db: db}
}

func (r *CodeRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// BulkInsert adds unassigned codes in input order, so ids follow insertion order.
func (r *CodeRepository) BulkInsert(ctx context.Context, exec sqlx.ExtContext, codes []models.Code) error {
	if len(codes) == 0 {
		return nil
	}
	now := time.Now().UTC()
	for i := range codes {
		if codes[i].CreatedAt.IsZero() {
			codes[i].CreatedAt = now
		}
	}
	const query = `INSERT INTO olympiad_codes (session_id, class_number, code, created_at)
        VALUES (:session_id, :class_number, :code, :created_at)`
	target := r.exec(exec)
	for start := 0; start < len(codes); start += codeInsertBatch {
		end := start + codeInsertBatch
		if end > len(codes) {
			end = len(codes)
		}
		if _, err := sqlx.NamedExecContext(ctx, target, query, codes[start:end]); err != nil {
			return fmt.Errorf("insert codes: %w", err)
		}
	}
	return nil
}

// ClaimNext atomically assigns the lowest-id available code of the class to the student.
// It returns sql.ErrNoRows when no code is free.
func (r *CodeRepository) ClaimNext(ctx context.Context, exec sqlx.ExtContext, sessionID string, classNumber int, studentID string, at time.Time) (*models.Code, error) {
	const query = `UPDATE olympiad_codes SET student_id = $3, is_assigned = TRUE, assigned_at = $4
WHERE id = (
    SELECT id FROM olympiad_codes
    WHERE session_id = $1 AND class_number = $2 AND is_assigned = FALSE AND is_reserved = FALSE
    ORDER BY id
    LIMIT 1
    FOR UPDATE SKIP LOCKED
)
RETURNING ` + codeColumns
	var code models.Code
	if err := sqlx.GetContext(ctx, r.exec(exec), &code, query, sessionID, classNumber, studentID, at); err != nil {
		return nil, err
	}
	return &code, nil
}

// AssignTo binds a specific code to a student only if it is still available.
func (r *CodeRepository) AssignTo(ctx context.Context, exec sqlx.ExtContext, codeID int64, studentID string, at time.Time) (bool, error) {
	const query = `UPDATE olympiad_codes SET student_id = $2, is_assigned = TRUE, assigned_at = $3
        WHERE id = $1 AND is_assigned = FALSE AND is_reserved = FALSE`
	res, err := r.exec(exec).ExecContext(ctx, query, codeID, studentID, at)
	if err != nil {
		return false, fmt.Errorf("assign code: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("assign code: %w", err)
	}
	return affected == 1, nil
}

// CountByClass counts every code ever loaded for the class, whatever its state.
func (r *CodeRepository) CountByClass(ctx context.Context, exec sqlx.ExtContext, sessionID string, classNumber int) (int, error) {
	var total int
	const query = `SELECT COUNT(*) FROM olympiad_codes WHERE session_id = $1 AND class_number = $2`
	if err := sqlx.GetContext(ctx, r.exec(exec), &total, query, sessionID, classNumber); err != nil {
		return 0, fmt.Errorf("count class codes: %w", err)
	}
	return total, nil
}

// FindHeldByStudent returns the code the student holds anywhere in the session, pre-assigned or issued.
func (r *CodeRepository) FindHeldByStudent(ctx context.Context, exec sqlx.ExtContext, sessionID, studentID string) (*models.Code, error) {
	const query = `SELECT ` + codeColumns + ` FROM olympiad_codes
        WHERE session_id = $1 AND student_id = $2 AND is_assigned = TRUE
        ORDER BY class_number, id LIMIT 1 FOR UPDATE`
	var code models.Code
	if err := sqlx.GetContext(ctx, r.exec(exec), &code, query, sessionID, studentID); err != nil {
		return nil, err
	}
	return &code, nil
}

// CountAvailable counts the unassigned, unreserved codes of one class, within exec when given.
func (r *CodeRepository) CountAvailable(ctx context.Context, exec sqlx.ExtContext, sessionID string, classNumber int) (int, error) {
	var total int
	const query = `SELECT COUNT(*) FROM olympiad_codes
        WHERE session_id = $1 AND class_number = $2 AND is_assigned = FALSE AND is_reserved = FALSE`
	if err := sqlx.GetContext(ctx, r.exec(exec), &total, query, sessionID, classNumber); err != nil {
		return 0, fmt.Errorf("count available codes: %w", err)
	}
	return total, nil
}

// FindByID fetches a code, locking it when exec is a transaction.
func (r *CodeRepository) FindByID(ctx context.Context, exec sqlx.ExtContext, id int64) (*models.Code, error) {
	var code models.Code
	if err := sqlx.GetContext(ctx, r.exec(exec), &code, `SELECT `+codeColumns+` FROM olympiad_codes WHERE id = $1 FOR UPDATE`, id); err != nil {
		return nil, err
	}
	return &code, nil
}

// ListAvailable returns up to limit available codes of the class in id order.
func (r *CodeRepository) ListAvailable(ctx context.Context, exec sqlx.ExtContext, sessionID string, classNumber, limit int) ([]models.Code, error) {
	const query = `SELECT ` + codeColumns + ` FROM olympiad_codes
        WHERE session_id = $1 AND class_number = $2 AND is_assigned = FALSE AND is_reserved = FALSE
        ORDER BY id LIMIT $3`
	var codes []models.Code
	if err := sqlx.SelectContext(ctx, r.exec(exec), &codes, query, sessionID, classNumber, limit); err != nil {
		return nil, fmt.Errorf("list available codes: %w", err)
	}
	return codes, nil
}

// MarkIssued flags a held code as revealed to its student.
func (r *CodeRepository) MarkIssued(ctx context.Context, exec sqlx.ExtContext, codeID int64, at time.Time) error {
	const query = `UPDATE olympiad_codes SET is_issued = TRUE, issued_at = COALESCE(issued_at, $2)
        WHERE id = $1 AND is_assigned = TRUE AND student_id IS NOT NULL`
	res, err := r.exec(exec).ExecContext(ctx, query, codeID, at)
	if err != nil {
		return fmt.Errorf("mark code issued: %w", err)
	}
	return expectAffected(res)
}

// MarkReserved flags donor codes as spent and returns the ids that were still available.
func (r *CodeRepository) MarkReserved(ctx context.Context, exec sqlx.ExtContext, ids []int64) ([]int64, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	const query = `UPDATE olympiad_codes SET is_reserved = TRUE
        WHERE id = ANY($1) AND is_assigned = FALSE AND is_reserved = FALSE
        RETURNING id`
	var flipped []int64
	if err := sqlx.SelectContext(ctx, r.exec(exec), &flipped, query, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("mark codes reserved: %w", err)
	}
	return flipped, nil
}

// Reassign moves an unissued code to another student.
func (r *CodeRepository) Reassign(ctx context.Context, exec sqlx.ExtContext, codeID int64, studentID string, at time.Time) error {
	const query = `UPDATE olympiad_codes SET student_id = $2, is_assigned = TRUE, assigned_at = $3
        WHERE id = $1 AND is_assigned = TRUE AND is_issued = FALSE AND is_reserved = FALSE`
	res, err := r.exec(exec).ExecContext(ctx, query, codeID, studentID, at)
	if err != nil {
		return fmt.Errorf("reassign code: %w", err)
	}
	return expectAffected(res)
}

// AvailableCounts returns available codes per class; classes with a pool but no free code report zero.
func (r *CodeRepository) AvailableCounts(ctx context.Context, sessionID string, classNumber *int) (map[int]int, error) {
	query := `SELECT class_number, COUNT(*) FILTER (WHERE is_assigned = FALSE AND is_reserved = FALSE) AS available
        FROM olympiad_codes WHERE session_id = $1`
	args := []interface{}{sessionID}
	if classNumber != nil {
		query += " AND class_number = $2"
		args = append(args, *classNumber)
	}
	query += " GROUP BY class_number ORDER BY class_number"

	var rows []struct {
		ClassNumber int `db:"class_number"`
		Available   int `db:"available"`
	}
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("count available codes: %w", err)
	}
	counts := make(map[int]int, len(rows))
	for _, row := range rows {
		counts[row.ClassNumber] = row.Available
	}
	return counts, nil
}

// LowestAvailableClass returns the smallest class in [from, to] with an available code.
func (r *CodeRepository) LowestAvailableClass(ctx context.Context, sessionID string, from, to int) (int, bool, error) {
	const query = `SELECT MIN(class_number) FROM olympiad_codes
        WHERE session_id = $1 AND class_number BETWEEN $2 AND $3 AND is_assigned = FALSE AND is_reserved = FALSE`
	var class sql.NullInt64
	if err := r.db.GetContext(ctx, &class, query, sessionID, from, to); err != nil {
		return 0, false, fmt.Errorf("resolve cascade class: %w", err)
	}
	if !class.Valid {
		return 0, false, nil
	}
	return int(class.Int64), true, nil
}

// ClassStats aggregates pool state per class.
func (r *CodeRepository) ClassStats(ctx context.Context, sessionID string) ([]models.ClassStats, error) {
	const query = `SELECT class_number,
        COUNT(*) AS total,
        COUNT(*) FILTER (WHERE is_assigned = FALSE AND is_reserved = FALSE) AS available,
        COUNT(*) FILTER (WHERE is_assigned = TRUE) AS assigned,
        COUNT(*) FILTER (WHERE is_issued = TRUE) AS issued,
        COUNT(*) FILTER (WHERE is_reserved = TRUE) AS reserved
        FROM olympiad_codes WHERE session_id = $1
        GROUP BY class_number ORDER BY class_number`
	var stats []models.ClassStats
	if err := r.db.SelectContext(ctx, &stats, query, sessionID); err != nil {
		return nil, fmt.Errorf("class stats: %w", err)
	}
	return stats, nil
}

// IssuedHolders returns which of the students hold an issued pool code or a used reserve code.
func (r *CodeRepository) IssuedHolders(ctx context.Context, exec sqlx.ExtContext, studentIDs []string) ([]string, error) {
	if len(studentIDs) == 0 {
		return nil, nil
	}
	const query = `SELECT student_id::text FROM olympiad_codes WHERE student_id = ANY($1::uuid[]) AND is_issued = TRUE
        UNION
        SELECT used_by_student_id::text FROM reserve_codes WHERE used_by_student_id = ANY($1::uuid[])`
	var holders []string
	if err := sqlx.SelectContext(ctx, r.exec(exec), &holders, query, pq.Array(studentIDs)); err != nil {
		return nil, fmt.Errorf("list issued holders: %w", err)
	}
	return holders, nil
}

// ReleaseForStudents returns the students' unissued codes to the pool.
func (r *CodeRepository) ReleaseForStudents(ctx context.Context, exec sqlx.ExtContext, studentIDs []string) (int64, error) {
	if len(studentIDs) == 0 {
		return 0, nil
	}
	const query = `UPDATE olympiad_codes SET student_id = NULL, is_assigned = FALSE, assigned_at = NULL
        WHERE student_id = ANY($1::uuid[]) AND is_issued = FALSE`
	res, err := r.exec(exec).ExecContext(ctx, query, pq.Array(studentIDs))
	if err != nil {
		return 0, fmt.Errorf("release codes: %w", err)
	}
	return res.RowsAffected()
}

// RetireForStudents detaches issued codes from the students and marks them spent so they are never served again.
func (r *CodeRepository) RetireForStudents(ctx context.Context, exec sqlx.ExtContext, studentIDs []string) (int64, error) {
	if len(studentIDs) == 0 {
		return 0, nil
	}
	const query = `UPDATE olympiad_codes SET student_id = NULL, is_assigned = FALSE, assigned_at = NULL,
        is_issued = FALSE, issued_at = NULL, is_reserved = TRUE
        WHERE student_id = ANY($1::uuid[]) AND is_issued = TRUE`
	res, err := r.exec(exec).ExecContext(ctx, query, pq.Array(studentIDs))
	if err != nil {
		return 0, fmt.Errorf("retire codes: %w", err)
	}
	return res.RowsAffected()
}
