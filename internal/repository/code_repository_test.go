package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/olympiad-codes-api/internal/models"
)

var codeRowColumns = []string{"id", "session_id", "class_number", "code", "student_id", "is_assigned", "assigned_at", "is_issued", "issued_at", "is_reserved", "created_at"}

func newRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return sqlx.NewDb(db, "sqlmock"), mock
}

func TestCodeRepositoryClaimNext(t *testing.T) {
	db, mock := newRepoMock(t)
	repo := NewCodeRepository(db)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE SKIP LOCKED")).
		WithArgs("s1", 9, "st1", now).
		WillReturnRows(sqlmock.NewRows(codeRowColumns).AddRow(int64(7), "s1", 9, "PHY-9-007", "st1", true, now, false, nil, false, now))

	code, err := repo.ClaimNext(context.Background(), nil, "s1", 9, "st1", now)
	require.NoError(t, err)
	assert.Equal(t, int64(7), code.ID)
	require.NotNil(t, code.StudentID)
	assert.Equal(t, "st1", *code.StudentID)
	assert.True(t, code.IsAssigned)
	assert.False(t, code.IsIssued)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCodeRepositoryClaimNextEmpty(t *testing.T) {
	db, mock := newRepoMock(t)
	repo := NewCodeRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE olympiad_codes SET student_id = $3")).
		WillReturnRows(sqlmock.NewRows(codeRowColumns))

	_, err := repo.ClaimNext(context.Background(), nil, "s1", 9, "st1", time.Now())
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCodeRepositoryBulkInsertChunks(t *testing.T) {
	db, mock := newRepoMock(t)
	repo := NewCodeRepository(db)

	codes := make([]models.Code, codeInsertBatch+5)
	for i := range codes {
		codes[i] = models.Code{SessionID: "s1", ClassNumber: 9, Code: "C"}
	}
	mock.ExpectExec("INSERT INTO olympiad_codes").WillReturnResult(sqlmock.NewResult(0, codeInsertBatch))
	mock.ExpectExec("INSERT INTO olympiad_codes").WillReturnResult(sqlmock.NewResult(0, 5))

	require.NoError(t, repo.BulkInsert(context.Background(), nil, codes))
	assert.False(t, codes[0].CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCodeRepositoryAvailableCounts(t *testing.T) {
	db, mock := newRepoMock(t)
	repo := NewCodeRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM olympiad_codes WHERE session_id = $1 GROUP BY class_number")).
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"class_number", "available"}).AddRow(8, 0).AddRow(9, 5))

	counts, err := repo.AvailableCounts(context.Background(), "s1", nil)
	require.NoError(t, err)
	assert.Equal(t, map[int]int{8: 0, 9: 5}, counts)

	class := 9
	mock.ExpectQuery(regexp.QuoteMeta("AND class_number = $2 GROUP BY class_number")).
		WithArgs("s1", 9).
		WillReturnRows(sqlmock.NewRows([]string{"class_number", "available"}).AddRow(9, 5))
	counts, err = repo.AvailableCounts(context.Background(), "s1", &class)
	require.NoError(t, err)
	assert.Equal(t, map[int]int{9: 5}, counts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCodeRepositoryLowestAvailableClass(t *testing.T) {
	db, mock := newRepoMock(t)
	repo := NewCodeRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT MIN(class_number)")).
		WithArgs("s1", 8, 11).
		WillReturnRows(sqlmock.NewRows([]string{"min"}).AddRow(9))
	class, ok, err := repo.LowestAvailableClass(context.Background(), "s1", 8, 11)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 9, class)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT MIN(class_number)")).
		WithArgs("s1", 10, 11).
		WillReturnRows(sqlmock.NewRows([]string{"min"}).AddRow(nil))
	_, ok, err = repo.LowestAvailableClass(context.Background(), "s1", 10, 11)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCodeRepositoryMarkReservedReturnsFlipped(t *testing.T) {
	db, mock := newRepoMock(t)
	repo := NewCodeRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE olympiad_codes SET is_reserved = TRUE")).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)).AddRow(int64(3)))

	flipped, err := repo.MarkReserved(context.Background(), nil, []int64{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3}, flipped)

	none, err := repo.MarkReserved(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Nil(t, none)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCodeRepositoryMarkIssuedRequiresHolder(t *testing.T) {
	db, mock := newRepoMock(t)
	repo := NewCodeRepository(db)
	now := time.Now()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE olympiad_codes SET is_issued = TRUE")).
		WithArgs(int64(4), now).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.MarkIssued(context.Background(), nil, 4, now)
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCodeRepositoryAssignToConditional(t *testing.T) {
	db, mock := newRepoMock(t)
	repo := NewCodeRepository(db)
	now := time.Now()

	mock.ExpectExec(regexp.QuoteMeta("WHERE id = $1 AND is_assigned = FALSE AND is_reserved = FALSE")).
		WithArgs(int64(2), "st1", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("WHERE id = $1 AND is_assigned = FALSE AND is_reserved = FALSE")).
		WithArgs(int64(2), "st2", now).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.AssignTo(context.Background(), nil, 2, "st1", now)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = repo.AssignTo(context.Background(), nil, 2, "st2", now)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCodeRepositoryFindHeldByStudentSearchesAllClasses(t *testing.T) {
	db, mock := newRepoMock(t)
	repo := NewCodeRepository(db)
	now := time.Now().UTC()

	mock.ExpectQuery(`WHERE session_id = \$1 AND student_id = \$2 AND is_assigned = TRUE\s+ORDER BY class_number, id LIMIT 1 FOR UPDATE`).
		WithArgs("s1", "st1").
		WillReturnRows(sqlmock.NewRows(codeRowColumns).AddRow(int64(12), "s1", 9, "PHY-9-012", "st1", true, now, false, nil, false, now))

	code, err := repo.FindHeldByStudent(context.Background(), nil, "s1", "st1")
	require.NoError(t, err)
	assert.Equal(t, 9, code.ClassNumber)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCodeRepositoryCountAvailable(t *testing.T) {
	db, mock := newRepoMock(t)
	repo := NewCodeRepository(db)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM olympiad_codes\s+WHERE session_id = \$1 AND class_number = \$2 AND is_assigned = FALSE AND is_reserved = FALSE`).
		WithArgs("s1", 8).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	n, err := repo.CountAvailable(context.Background(), nil, "s1", 8)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCodeRepositoryReassignRequiresAssignedCode(t *testing.T) {
	db, mock := newRepoMock(t)
	repo := NewCodeRepository(db)
	now := time.Now().UTC()

	mock.ExpectExec(regexp.QuoteMeta("WHERE id = $1 AND is_assigned = TRUE AND is_issued = FALSE AND is_reserved = FALSE")).
		WithArgs(int64(5), "st2", now).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Reassign(context.Background(), nil, 5, "st2", now)
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}
