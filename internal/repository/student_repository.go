package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/olympiad-codes-api/internal/models"
)

const studentColumns = `id, full_name, telegram_id, registration_code, is_registered, class_number, parallel, is_active, created_at, registered_at, updated_at`

// withoutCodeClause matches active students of a class holding neither a pool code nor a live ledger row in the session.
const withoutCodeClause = `s.class_number = $2 AND s.is_active = TRUE
        AND NOT EXISTS (SELECT 1 FROM olympiad_codes c WHERE c.session_id = $1 AND c.student_id = s.id)
        AND NOT EXISTS (SELECT 1 FROM code_requests q WHERE q.session_id = $1 AND q.student_id = s.id AND q.deleted_at IS NULL)`

// StudentRepository manages persistence for student records.
type StudentRepository struct {
	db *sqlx.DB
}

// NewStudentRepository constructs a StudentRepository.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

func (r *StudentRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// List returns students matching the provided filters.
func (r *StudentRepository) List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error) {
	conditions := []string{"1=1"}
	var args []interface{}
	if filter.ClassNumber != nil {
		args = append(args, *filter.ClassNumber)
		conditions = append(conditions, fmt.Sprintf("class_number = $%d", len(args)))
	}
	if filter.Parallel != "" {
		args = append(args, filter.Parallel)
		conditions = append(conditions, fmt.Sprintf("parallel = $%d", len(args)))
	}
	if filter.Registered != nil {
		args = append(args, *filter.Registered)
		conditions = append(conditions, fmt.Sprintf("is_registered = $%d", len(args)))
	}
	if filter.Search != "" {
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
		conditions = append(conditions, fmt.Sprintf("LOWER(full_name) LIKE $%d", len(args)))
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

	query := fmt.Sprintf(`SELECT %s FROM students WHERE %s ORDER BY class_number, parallel, full_name LIMIT %d OFFSET %d`,
		studentColumns, where, size, (page-1)*size)
	var students []models.Student
	if err := r.db.SelectContext(ctx, &students, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list students: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM students WHERE "+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count students: %w", err)
	}
	return students, total, nil
}

// FindByID fetches a student by id.
func (r *StudentRepository) FindByID(ctx context.Context, id string) (*models.Student, error) {
	var student models.Student
	if err := r.db.GetContext(ctx, &student, `SELECT `+studentColumns+` FROM students WHERE id = $1`, id); err != nil {
		return nil, err
	}
	return &student, nil
}

// FindByTelegramID fetches the student linked to a chat identity.
func (r *StudentRepository) FindByTelegramID(ctx context.Context, telegramID int64) (*models.Student, error) {
	var student models.Student
	if err := r.db.GetContext(ctx, &student, `SELECT `+studentColumns+` FROM students WHERE telegram_id = $1`, telegramID); err != nil {
		return nil, err
	}
	return &student, nil
}

// FindByRegistrationCode fetches and locks the student owning a registration code.
func (r *StudentRepository) FindByRegistrationCode(ctx context.Context, exec sqlx.ExtContext, code string) (*models.Student, error) {
	var student models.Student
	query := `SELECT ` + studentColumns + ` FROM students WHERE registration_code = $1 FOR UPDATE`
	if err := sqlx.GetContext(ctx, r.exec(exec), &student, query, code); err != nil {
		return nil, err
	}
	return &student, nil
}

// BulkCreate inserts students in one statement.
func (r *StudentRepository) BulkCreate(ctx context.Context, exec sqlx.ExtContext, students []models.Student) error {
	if len(students) == 0 {
		return nil
	}
	now := time.Now().UTC()
	for i := range students {
		if students[i].ID == "" {
			students[i].ID = uuid.NewString()
		}
		if students[i].CreatedAt.IsZero() {
			students[i].CreatedAt = now
		}
		students[i].UpdatedAt = now
	}
	const query = `INSERT INTO students (id, full_name, registration_code, is_registered, class_number, parallel, is_active, created_at, updated_at)
        VALUES (:id, :full_name, :registration_code, :is_registered, :class_number, :parallel, :is_active, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, students); err != nil {
		return fmt.Errorf("create students: %w", err)
	}
	return nil
}

// Register links a chat identity to an unregistered student.
func (r *StudentRepository) Register(ctx context.Context, exec sqlx.ExtContext, id string, telegramID int64, at time.Time) error {
	const query = `UPDATE students SET telegram_id = $2, is_registered = TRUE, registered_at = $3, updated_at = $3
        WHERE id = $1 AND is_registered = FALSE`
	res, err := r.exec(exec).ExecContext(ctx, query, id, telegramID, at)
	if err != nil {
		return fmt.Errorf("register student: %w", err)
	}
	return expectAffected(res)
}

// ParallelPopulation counts active students of a class per parallel label, ordered by label.
func (r *StudentRepository) ParallelPopulation(ctx context.Context, exec sqlx.ExtContext, classNumber int) ([]models.ParallelPopulation, error) {
	const query = `SELECT class_number::text || parallel AS label, COUNT(*) AS population
        FROM students WHERE class_number = $1 AND is_active = TRUE
        GROUP BY class_number, parallel ORDER BY label`
	var rows []models.ParallelPopulation
	if err := sqlx.SelectContext(ctx, r.exec(exec), &rows, query, classNumber); err != nil {
		return nil, fmt.Errorf("parallel population: %w", err)
	}
	return rows, nil
}

// CountWithoutCode counts active students of the class that still need a code in the session.
func (r *StudentRepository) CountWithoutCode(ctx context.Context, exec sqlx.ExtContext, sessionID string, classNumber int) (int, error) {
	var total int
	query := `SELECT COUNT(*) FROM students s WHERE ` + withoutCodeClause
	if err := sqlx.GetContext(ctx, r.exec(exec), &total, query, sessionID, classNumber); err != nil {
		return 0, fmt.Errorf("count students without code: %w", err)
	}
	return total, nil
}

// ListWithoutCode returns active students of the class without a code, ordered by parallel then name.
func (r *StudentRepository) ListWithoutCode(ctx context.Context, exec sqlx.ExtContext, sessionID string, classNumber int) ([]models.Student, error) {
	query := `SELECT ` + prefixed("s", studentColumns) + ` FROM students s WHERE ` + withoutCodeClause + `
        ORDER BY s.parallel, s.full_name, s.id`
	var students []models.Student
	if err := sqlx.SelectContext(ctx, r.exec(exec), &students, query, sessionID, classNumber); err != nil {
		return nil, fmt.Errorf("list students without code: %w", err)
	}
	return students, nil
}

// ListIDsByClass returns the ids of every student in the class.
func (r *StudentRepository) ListIDsByClass(ctx context.Context, exec sqlx.ExtContext, classNumber int) ([]string, error) {
	var ids []string
	if err := sqlx.SelectContext(ctx, r.exec(exec), &ids, `SELECT id::text FROM students WHERE class_number = $1 ORDER BY id`, classNumber); err != nil {
		return nil, fmt.Errorf("list class student ids: %w", err)
	}
	return ids, nil
}

// DeleteByIDs hard-deletes the students.
func (r *StudentRepository) DeleteByIDs(ctx context.Context, exec sqlx.ExtContext, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := r.exec(exec).ExecContext(ctx, `DELETE FROM students WHERE id = ANY($1::uuid[])`, pq.Array(ids))
	if err != nil {
		return 0, fmt.Errorf("delete students: %w", err)
	}
	return res.RowsAffected()
}

func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, part := range parts {
		parts[i] = alias + "." + strings.TrimSpace(part)
	}
	return strings.Join(parts, ", ")
}
