package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/olympiad-codes-api/internal/models"
)

func TestReserveCodeRepositoryClaimNext(t *testing.T) {
	db, mock := newRepoMock(t)
	repo := NewReserveCodeRepository(db)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE reserve_codes SET is_used = TRUE")).
		WithArgs("s1", "8A", "st1", now).
		WillReturnRows(sqlmock.NewRows([]string{"id", "session_id", "donor_code_id", "donor_class", "target_class", "class_parallel", "code", "is_used", "used_by_student_id", "used_at", "created_at"}).
			AddRow(int64(1), "s1", int64(11), 9, 8, "8A", "PHY-9-001", true, "st1", now, now))

	reserve, err := repo.ClaimNext(context.Background(), nil, "s1", "8A", "st1", now)
	require.NoError(t, err)
	assert.Equal(t, "PHY-9-001", reserve.Code)
	assert.Equal(t, int64(11), reserve.DonorCodeID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReserveCodeRepositoryCountByLabel(t *testing.T) {
	db, mock := newRepoMock(t)
	repo := NewReserveCodeRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("GROUP BY class_parallel")).
		WithArgs("s1", 8).
		WillReturnRows(sqlmock.NewRows([]string{"label", "population"}).AddRow("8A", 2).AddRow("8B", 3))

	counts, err := repo.CountByLabel(context.Background(), nil, "s1", 8)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"8A": 2, "8B": 3}, counts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReserveCodeRepositoryInsertBatch(t *testing.T) {
	db, mock := newRepoMock(t)
	repo := NewReserveCodeRepository(db)

	mock.ExpectExec("INSERT INTO reserve_codes").WillReturnResult(sqlmock.NewResult(0, 2))

	rows := []models.ReserveCode{
		{SessionID: "s1", DonorCodeID: 1, DonorClass: 9, TargetClass: 8, ClassParallel: "8A", Code: "A"},
		{SessionID: "s1", DonorCodeID: 2, DonorClass: 9, TargetClass: 8, ClassParallel: "8B", Code: "B"},
	}
	require.NoError(t, repo.InsertBatch(context.Background(), nil, rows))
	require.NoError(t, repo.InsertBatch(context.Background(), nil, nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}
