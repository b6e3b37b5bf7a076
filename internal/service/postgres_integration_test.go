//go:build integration

package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/noah-isme/olympiad-codes-api/internal/dto"
	"github.com/noah-isme/olympiad-codes-api/internal/repository"
	"github.com/noah-isme/olympiad-codes-api/pkg/database"
	appErrors "github.com/noah-isme/olympiad-codes-api/pkg/errors"
)

var integrationDB *sqlx.DB

func TestMain(m *testing.M) {
	ctx := context.Background()
	container, err := postgres.Run(
		ctx,
		"postgres:16-alpine",
		testcontainers.WithEnv(map[string]string{
			"POSTGRES_DB":       "olympiad_codes",
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
		}),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		log.Fatalf("start postgres: %v", err)
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		log.Fatalf("postgres dsn: %v", err)
	}
	integrationDB, err = database.Open(dsn, 32, 8)
	if err != nil {
		log.Fatalf("open postgres: %v", err)
	}
	if _, err := database.Migrate(ctx, integrationDB, "../../migrations"); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	code := m.Run()
	_ = integrationDB.Close()
	_ = container.Terminate(ctx)
	os.Exit(code)
}

type pgEngine struct {
	pool         *CodePoolService
	students     *StudentService
	requests     *RequestService
	reservations *ReservationService
}

func newPGEngine(t *testing.T) *pgEngine {
	t.Helper()
	_, err := integrationDB.Exec(`TRUNCATE code_requests, reserve_codes, olympiad_codes, olympiad_sessions, students CASCADE`)
	require.NoError(t, err)

	cfg := testDistribution()
	validate := validator.New()
	sessions := repository.NewSessionRepository(integrationDB)
	codes := repository.NewCodeRepository(integrationDB)
	reserve := repository.NewReserveCodeRepository(integrationDB)
	students := repository.NewStudentRepository(integrationDB)
	requests := repository.NewCodeRequestRepository(integrationDB)
	availability := NewAvailabilityService(codes, nil)

	allocation := NewAllocationService(sessions, codes, students, requests, availability, nil, integrationDB, cfg, validate, nil)
	cascade := NewCascadeService(sessions, students, codes, reserve, availability, cfg)
	return &pgEngine{
		pool:         NewCodePoolService(sessions, codes, availability, nil, allocation, integrationDB, cfg, validate, nil),
		students:     NewStudentService(students, codes, requests, availability, integrationDB, cfg, validate, nil),
		requests:     NewRequestService(sessions, students, requests, codes, reserve, allocation, cascade, availability, nil, integrationDB, cfg, validate, nil),
		reservations: NewReservationService(sessions, codes, reserve, students, availability, nil, integrationDB, cfg, nil),
	}
}

func (e *pgEngine) ingest(t *testing.T, perClass map[int]int) string {
	t.Helper()
	var entries []dto.CodeEntry
	for class, n := range perClass {
		for i := 0; i < n; i++ {
			entries = append(entries, dto.CodeEntry{ClassNumber: class, Code: fmt.Sprintf("PG%d-%03d", class, i)})
		}
	}
	result, err := e.pool.Ingest(context.Background(), dto.IngestCodesRequest{Subject: "Physics", Date: "2024-03-01", Codes: entries})
	require.NoError(t, err)
	return result.SessionID
}

func (e *pgEngine) enroll(t *testing.T, class int, parallel string, n int) []string {
	t.Helper()
	req := dto.BulkCreateStudentsRequest{}
	for i := 0; i < n; i++ {
		req.Students = append(req.Students, dto.CreateStudentRequest{FullName: fmt.Sprintf("Student %d%s %d", class, parallel, i), ClassNumber: class, Parallel: parallel})
	}
	created, err := e.students.BulkCreate(context.Background(), req)
	require.NoError(t, err)
	ids := make([]string, len(created))
	for i, st := range created {
		ids[i] = st.ID
	}
	return ids
}

func TestPostgresConcurrentClaimsNeverDoubleIssue(t *testing.T) {
	const n = 16
	e := newPGEngine(t)
	sessionID := e.ingest(t, map[int]int{9: n - 1})
	ids := e.enroll(t, 9, "A", n)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		codes    = map[string]string{}
		failures []error
	)
	for _, id := range ids {
		wg.Add(1)
		go func(studentID string) {
			defer wg.Done()
			result, err := e.requests.Claim(context.Background(), studentID, dto.ClaimCodeRequest{})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, err)
				return
			}
			codes[result.Code] = studentID
		}(id)
	}
	wg.Wait()

	assert.Len(t, codes, n-1)
	require.Len(t, failures, 1)
	assert.True(t, errors.Is(failures[0], appErrors.ErrNothingAvailable) || errors.Is(failures[0], appErrors.ErrPoolExhausted), failures[0])

	var issued, distinct int
	require.NoError(t, integrationDB.Get(&issued, `SELECT COUNT(*) FROM olympiad_codes WHERE session_id = $1 AND is_issued`, sessionID))
	require.NoError(t, integrationDB.Get(&distinct, `SELECT COUNT(DISTINCT code_id) FROM code_requests WHERE session_id = $1 AND deleted_at IS NULL`, sessionID))
	assert.Equal(t, n-1, issued)
	assert.Equal(t, n-1, distinct)
}

func TestPostgresRepeatedClaimIsIdempotent(t *testing.T) {
	e := newPGEngine(t)
	e.ingest(t, map[int]int{9: 3})
	ids := e.enroll(t, 9, "A", 1)

	first, err := e.requests.Claim(context.Background(), ids[0], dto.ClaimCodeRequest{})
	require.NoError(t, err)
	assert.False(t, first.WasExisting)

	var wg sync.WaitGroup
	results := make([]*dto.RequestResult, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = e.requests.Claim(context.Background(), ids[0], dto.ClaimCodeRequest{})
		}(i)
	}
	wg.Wait()
	for _, r := range results {
		require.NotNil(t, r)
		assert.True(t, r.WasExisting)
		assert.Equal(t, first.Code, r.Code)
	}
}

func TestPostgresReservationScenario(t *testing.T) {
	e := newPGEngine(t)
	sessionID := e.ingest(t, map[int]int{9: 10})
	e.enroll(t, 9, "A", 4)
	e.enroll(t, 8, "A", 5)
	e.enroll(t, 8, "B", 7)

	result, err := e.reservations.Apply(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"8A": 2, "8B": 3}, result.Allocated)

	again, err := e.reservations.Apply(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Zero(t, again.Total())

	var reserved, rows int
	require.NoError(t, integrationDB.Get(&reserved, `SELECT COUNT(*) FROM olympiad_codes WHERE session_id = $1 AND is_reserved`, sessionID))
	require.NoError(t, integrationDB.Get(&rows, `SELECT COUNT(*) FROM reserve_codes WHERE session_id = $1`, sessionID))
	assert.Equal(t, 5, reserved)
	assert.Equal(t, 5, rows)
}
