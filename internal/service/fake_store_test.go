package service

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/olympiad-codes-api/internal/models"
	"github.com/noah-isme/olympiad-codes-api/pkg/config"
)

type txProviderMock struct {
	db   *sqlx.DB
	mock sqlmock.Sqlmock
}

func newTxProviderMock(t *testing.T) (txProvider, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	sqlxdb := sqlx.NewDb(db, "sqlmock")
	t.Cleanup(func() { _ = sqlxdb.Close() })
	return &txProviderMock{db: sqlxdb, mock: mock}, mock
}

func (t *txProviderMock) BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error) {
	return t.db.BeginTxx(ctx, opts)
}

func expectCommits(mock sqlmock.Sqlmock, n int) {
	for i := 0; i < n; i++ {
		mock.ExpectBegin()
		mock.ExpectCommit()
	}
}

func testDistribution() config.DistributionConfig {
	return config.DistributionConfig{
		MinClass:     4,
		MaxClass:     11,
		DefaultMode:  config.ModeOnDemand,
		ReservePairs: []config.ReservePair{{TargetClass: 8, DonorClasses: []int{9, 10, 11}}},
	}
}

// fakeStore is an in-memory stand-in for the Postgres tables. Views below expose the per-table repository methods.
type fakeStore struct {
	mu       sync.Mutex
	sessions map[string]*models.Session
	students map[string]*models.Student
	codes    []*models.Code
	reserve  []*models.ReserveCode
	requests []*models.CodeRequest
	nextID   int64
	seq      int
}

func newFakeStore() *fakeStore {
	return &fakeStore{sessions: map[string]*models.Session{}, students: map[string]*models.Student{}}
}

func (f *fakeStore) id() int64 {
	f.nextID++
	return f.nextID
}

// uuid returns a deterministic id; the prefix picks the group digit.
func (f *fakeStore) uuid(prefix string) string {
	f.seq++
	group := map[string]string{"session": "1000", "student": "2000", "request": "3000"}[prefix]
	return fmt.Sprintf("00000000-0000-4000-%s-%012d", group, f.seq)
}

func (f *fakeStore) addSession(subject string, active bool) *models.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := &models.Session{ID: f.uuid("session"), Subject: subject, OlympiadDate: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), DistributionMode: models.DistributionModeOnDemand, IsActive: active}
	f.sessions[s.ID] = s
	return s
}

func (f *fakeStore) addStudents(class int, parallel string, n int) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, n)
	for i := 0; i < n; i++ {
		st := &models.Student{ID: f.uuid("student"), FullName: fmt.Sprintf("Student %d%s-%02d", class, parallel, i), ClassNumber: class, Parallel: parallel, IsActive: true, RegistrationCode: fmt.Sprintf("REG%d%s%02d", class, parallel, i)}
		f.students[st.ID] = st
		ids[i] = st.ID
	}
	return ids
}

func (f *fakeStore) addCodes(sessionID string, class, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := 0; i < n; i++ {
		f.codes = append(f.codes, &models.Code{ID: f.id(), SessionID: sessionID, ClassNumber: class, Code: fmt.Sprintf("C%d-%03d", class, i+1)})
	}
}

func (f *fakeStore) hasCode(sessionID, studentID string) bool {
	for _, c := range f.codes {
		if c.SessionID == sessionID && c.StudentID != nil && *c.StudentID == studentID {
			return true
		}
	}
	for _, r := range f.requests {
		if r.SessionID == sessionID && r.StudentID == studentID && r.DeletedAt == nil {
			return true
		}
	}
	return false
}

// holdings lists every pool and reserve code value bound to the student in the session.
func (f *fakeStore) holdings(sessionID, studentID string) (pool, reserve []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.codes {
		if c.SessionID == sessionID && c.StudentID != nil && *c.StudentID == studentID {
			pool = append(pool, c.Code)
		}
	}
	for _, r := range f.reserve {
		if r.SessionID == sessionID && r.UsedByStudentID != nil && *r.UsedByStudentID == studentID {
			reserve = append(reserve, r.Code)
		}
	}
	return pool, reserve
}

func (f *fakeStore) conservation(t *testing.T, sessionID string) {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.codes {
		if c.SessionID != sessionID {
			continue
		}
		if c.IsIssued {
			require.True(t, c.IsAssigned, "issued code %d not assigned", c.ID)
			require.NotNil(t, c.StudentID, "issued code %d without holder", c.ID)
		}
	}
}

type fakeSessions struct{ *fakeStore }

func (f fakeSessions) FindByID(_ context.Context, id string) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *s
	return &cp, nil
}

func (f fakeSessions) FindActive(_ context.Context) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sessions {
		if s.IsActive {
			cp := *s
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f fakeSessions) FindBySubjectDate(_ context.Context, _ sqlx.ExtContext, subject string, date time.Time) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sessions {
		if s.Subject == subject && s.OlympiadDate.Equal(date) {
			cp := *s
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f fakeSessions) Create(_ context.Context, _ sqlx.ExtContext, session *models.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	session.ID = f.uuid("session")
	cp := *session
	f.sessions[session.ID] = &cp
	return nil
}

func (f fakeSessions) UpdateSettings(_ context.Context, _ sqlx.ExtContext, id string, mode models.DistributionMode, autoReserve bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return sql.ErrNoRows
	}
	s.DistributionMode = mode
	s.AutoReserve = autoReserve
	return nil
}

func (f fakeSessions) Activate(_ context.Context, _ sqlx.ExtContext, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sessions {
		s.IsActive = s.ID == id
	}
	return nil
}

func (f fakeSessions) Deactivate(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return sql.ErrNoRows
	}
	s.IsActive = false
	return nil
}

func (f fakeSessions) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sessions[id]; !ok {
		return sql.ErrNoRows
	}
	delete(f.sessions, id)
	return nil
}

func (f fakeSessions) List(_ context.Context, filter models.SessionFilter) ([]models.Session, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Session
	for _, s := range f.sessions {
		if filter.Subject != "" && s.Subject != filter.Subject {
			continue
		}
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, len(out), nil
}

type fakeStudents struct{ *fakeStore }

func (f fakeStudents) FindByID(_ context.Context, id string) (*models.Student, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.students[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *s
	return &cp, nil
}

func (f fakeStudents) FindByTelegramID(_ context.Context, telegramID int64) (*models.Student, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.students {
		if s.TelegramID != nil && *s.TelegramID == telegramID {
			cp := *s
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f fakeStudents) sortedByClass(class int) []*models.Student {
	var out []*models.Student
	for _, s := range f.students {
		if s.ClassNumber == class && s.IsActive {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Parallel != out[j].Parallel {
			return out[i].Parallel < out[j].Parallel
		}
		if out[i].FullName != out[j].FullName {
			return out[i].FullName < out[j].FullName
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (f fakeStudents) ListWithoutCode(_ context.Context, _ sqlx.ExtContext, sessionID string, class int) ([]models.Student, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Student
	for _, s := range f.sortedByClass(class) {
		if !f.hasCode(sessionID, s.ID) {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (f fakeStudents) CountWithoutCode(ctx context.Context, exec sqlx.ExtContext, sessionID string, class int) (int, error) {
	rows, err := f.ListWithoutCode(ctx, exec, sessionID, class)
	return len(rows), err
}

func (f fakeStudents) ParallelPopulation(_ context.Context, _ sqlx.ExtContext, class int) ([]models.ParallelPopulation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := map[string]int{}
	for _, s := range f.sortedByClass(class) {
		counts[s.Label()]++
	}
	var out []models.ParallelPopulation
	for label, n := range counts {
		out = append(out, models.ParallelPopulation{Label: label, Population: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out, nil
}

func (f fakeStudents) List(_ context.Context, filter models.StudentFilter) ([]models.Student, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Student
	for _, s := range f.students {
		if filter.ClassNumber != nil && s.ClassNumber != *filter.ClassNumber {
			continue
		}
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, len(out), nil
}

func (f fakeStudents) FindByRegistrationCode(_ context.Context, _ sqlx.ExtContext, code string) (*models.Student, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.students {
		if s.RegistrationCode == code {
			cp := *s
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f fakeStudents) BulkCreate(_ context.Context, _ sqlx.ExtContext, students []models.Student) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range students {
		for _, s := range f.students {
			if s.RegistrationCode == students[i].RegistrationCode {
				return &pq.Error{Code: pgUniqueViolation}
			}
		}
		students[i].ID = f.uuid("student")
		cp := students[i]
		f.students[cp.ID] = &cp
	}
	return nil
}

func (f fakeStudents) Register(_ context.Context, _ sqlx.ExtContext, id string, telegramID int64, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.students {
		if s.TelegramID != nil && *s.TelegramID == telegramID {
			return fmt.Errorf("register student: %w", &pq.Error{Code: pgUniqueViolation})
		}
	}
	s, ok := f.students[id]
	if !ok || s.IsRegistered {
		return sql.ErrNoRows
	}
	s.TelegramID = &telegramID
	s.IsRegistered = true
	s.RegisteredAt = &at
	return nil
}

func (f fakeStudents) ListIDsByClass(_ context.Context, _ sqlx.ExtContext, class int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for _, s := range f.students {
		if s.ClassNumber == class {
			ids = append(ids, s.ID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (f fakeStudents) DeleteByIDs(_ context.Context, _ sqlx.ExtContext, ids []string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, id := range ids {
		if _, ok := f.students[id]; ok {
			delete(f.students, id)
			n++
		}
	}
	return n, nil
}

type fakeCodes struct{ *fakeStore }

func (f fakeCodes) BulkInsert(_ context.Context, _ sqlx.ExtContext, codes []models.Code) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range codes {
		cp := c
		cp.ID = f.id()
		f.codes = append(f.codes, &cp)
	}
	return nil
}

func (f fakeCodes) ClaimNext(_ context.Context, _ sqlx.ExtContext, sessionID string, class int, studentID string, at time.Time) (*models.Code, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.codes {
		if c.SessionID == sessionID && c.ClassNumber == class && c.Available() {
			id := studentID
			c.StudentID = &id
			c.IsAssigned = true
			c.AssignedAt = &at
			cp := *c
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f fakeCodes) AssignTo(_ context.Context, _ sqlx.ExtContext, codeID int64, studentID string, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.codes {
		if c.ID == codeID && c.Available() {
			id := studentID
			c.StudentID = &id
			c.IsAssigned = true
			c.AssignedAt = &at
			return true, nil
		}
	}
	return false, nil
}

func (f fakeCodes) CountByClass(_ context.Context, _ sqlx.ExtContext, sessionID string, class int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.codes {
		if c.SessionID == sessionID && c.ClassNumber == class {
			n++
		}
	}
	return n, nil
}

func (f fakeCodes) FindHeldByStudent(_ context.Context, _ sqlx.ExtContext, sessionID, studentID string) (*models.Code, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var best *models.Code
	for _, c := range f.codes {
		if c.SessionID != sessionID || !c.IsAssigned || c.StudentID == nil || *c.StudentID != studentID {
			continue
		}
		if best == nil || c.ClassNumber < best.ClassNumber {
			best = c
		}
	}
	if best == nil {
		return nil, sql.ErrNoRows
	}
	cp := *best
	return &cp, nil
}

func (f fakeCodes) CountAvailable(_ context.Context, _ sqlx.ExtContext, sessionID string, class int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.codes {
		if c.SessionID == sessionID && c.ClassNumber == class && c.Available() {
			n++
		}
	}
	return n, nil
}

func (f fakeCodes) FindByID(_ context.Context, _ sqlx.ExtContext, id int64) (*models.Code, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.codes {
		if c.ID == id {
			cp := *c
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f fakeCodes) ListAvailable(_ context.Context, _ sqlx.ExtContext, sessionID string, class, limit int) ([]models.Code, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Code
	for _, c := range f.codes {
		if len(out) >= limit {
			break
		}
		if c.SessionID == sessionID && c.ClassNumber == class && c.Available() {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (f fakeCodes) Reassign(_ context.Context, _ sqlx.ExtContext, codeID int64, studentID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.codes {
		if c.ID == codeID && c.IsAssigned && !c.IsIssued && !c.IsReserved {
			id := studentID
			c.StudentID = &id
			c.IsAssigned = true
			c.AssignedAt = &at
			return nil
		}
	}
	return sql.ErrNoRows
}

func (f fakeCodes) MarkIssued(_ context.Context, _ sqlx.ExtContext, codeID int64, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.codes {
		if c.ID == codeID && c.IsAssigned && c.StudentID != nil {
			c.IsIssued = true
			c.IssuedAt = &at
			return nil
		}
	}
	return sql.ErrNoRows
}

func (f fakeCodes) MarkReserved(_ context.Context, _ sqlx.ExtContext, ids []int64) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	want := map[int64]bool{}
	for _, id := range ids {
		want[id] = true
	}
	var flipped []int64
	for _, c := range f.codes {
		if want[c.ID] && c.Available() {
			c.IsReserved = true
			flipped = append(flipped, c.ID)
		}
	}
	return flipped, nil
}

func (f fakeCodes) AvailableCounts(_ context.Context, sessionID string, class *int) (map[int]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := map[int]int{}
	for _, c := range f.codes {
		if c.SessionID != sessionID || (class != nil && c.ClassNumber != *class) {
			continue
		}
		if _, ok := counts[c.ClassNumber]; !ok {
			counts[c.ClassNumber] = 0
		}
		if c.Available() {
			counts[c.ClassNumber]++
		}
	}
	return counts, nil
}

func (f fakeCodes) LowestAvailableClass(ctx context.Context, sessionID string, from, to int) (int, bool, error) {
	counts, _ := f.AvailableCounts(ctx, sessionID, nil)
	for class := from; class <= to; class++ {
		if counts[class] > 0 {
			return class, true, nil
		}
	}
	return 0, false, nil
}

func (f fakeCodes) ClassStats(_ context.Context, sessionID string) ([]models.ClassStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	byClass := map[int]*models.ClassStats{}
	for _, c := range f.codes {
		if c.SessionID != sessionID {
			continue
		}
		st, ok := byClass[c.ClassNumber]
		if !ok {
			st = &models.ClassStats{ClassNumber: c.ClassNumber}
			byClass[c.ClassNumber] = st
		}
		st.Total++
		switch {
		case c.Available():
			st.Available++
		case c.IsReserved:
			st.Reserved++
		}
		if c.IsAssigned {
			st.Assigned++
		}
		if c.IsIssued {
			st.Issued++
		}
	}
	var out []models.ClassStats
	for _, st := range byClass {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClassNumber < out[j].ClassNumber })
	return out, nil
}

func (f fakeCodes) IssuedHolders(_ context.Context, _ sqlx.ExtContext, ids []string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	set := map[string]bool{}
	for _, id := range ids {
		set[id] = true
	}
	seen := map[string]bool{}
	var out []string
	for _, c := range f.codes {
		if c.IsIssued && c.StudentID != nil && set[*c.StudentID] && !seen[*c.StudentID] {
			seen[*c.StudentID] = true
			out = append(out, *c.StudentID)
		}
	}
	for _, r := range f.reserve {
		if r.UsedByStudentID != nil && set[*r.UsedByStudentID] && !seen[*r.UsedByStudentID] {
			seen[*r.UsedByStudentID] = true
			out = append(out, *r.UsedByStudentID)
		}
	}
	return out, nil
}

func (f fakeCodes) ReleaseForStudents(_ context.Context, _ sqlx.ExtContext, ids []string) (int64, error) {
	return f.detach(ids, false), nil
}

func (f fakeCodes) RetireForStudents(_ context.Context, _ sqlx.ExtContext, ids []string) (int64, error) {
	return f.detach(ids, true), nil
}

func (f fakeCodes) detach(ids []string, issued bool) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	set := map[string]bool{}
	for _, id := range ids {
		set[id] = true
	}
	var n int64
	for _, c := range f.codes {
		if c.StudentID == nil || !set[*c.StudentID] || c.IsIssued != issued {
			continue
		}
		c.StudentID = nil
		c.IsAssigned = false
		c.AssignedAt = nil
		if issued {
			c.IsIssued = false
			c.IssuedAt = nil
			c.IsReserved = true
		}
		n++
	}
	return n
}

type fakeReserve struct{ *fakeStore }

func (f fakeReserve) InsertBatch(_ context.Context, _ sqlx.ExtContext, rows []models.ReserveCode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, row := range rows {
		for _, existing := range f.reserve {
			if existing.DonorCodeID == row.DonorCodeID {
				return &pq.Error{Code: pgUniqueViolation}
			}
		}
		cp := row
		cp.ID = f.id()
		f.reserve = append(f.reserve, &cp)
	}
	return nil
}

func (f fakeReserve) CountByDonor(_ context.Context, _ sqlx.ExtContext, sessionID string, donor, target int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.reserve {
		if r.SessionID == sessionID && r.DonorClass == donor && r.TargetClass == target {
			n++
		}
	}
	return n, nil
}

func (f fakeReserve) CountByLabel(_ context.Context, _ sqlx.ExtContext, sessionID string, target int) (map[string]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]int{}
	for _, r := range f.reserve {
		if r.SessionID == sessionID && r.TargetClass == target {
			out[r.ClassParallel]++
		}
	}
	return out, nil
}

func (f fakeReserve) ClaimNext(_ context.Context, _ sqlx.ExtContext, sessionID, label, studentID string, at time.Time) (*models.ReserveCode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.reserve {
		if r.SessionID == sessionID && r.ClassParallel == label && !r.IsUsed {
			id := studentID
			r.IsUsed = true
			r.UsedByStudentID = &id
			r.UsedAt = &at
			cp := *r
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f fakeReserve) CountUnused(_ context.Context, sessionID, label string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.reserve {
		if r.SessionID == sessionID && r.ClassParallel == label && !r.IsUsed {
			n++
		}
	}
	return n, nil
}

func (f fakeReserve) BucketStats(_ context.Context, sessionID string) ([]models.ReserveBucketStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	byLabel := map[string]*models.ReserveBucketStats{}
	for _, r := range f.reserve {
		if r.SessionID != sessionID {
			continue
		}
		st, ok := byLabel[r.ClassParallel]
		if !ok {
			st = &models.ReserveBucketStats{TargetClass: r.TargetClass, ClassParallel: r.ClassParallel}
			byLabel[r.ClassParallel] = st
		}
		st.Total++
		if r.IsUsed {
			st.Used++
		}
	}
	var out []models.ReserveBucketStats
	for _, st := range byLabel {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClassParallel < out[j].ClassParallel })
	return out, nil
}

func (f fakeReserve) labels(sessionID string) map[string]int {
	out, _ := f.CountByLabel(context.Background(), nil, sessionID, 8)
	return out
}

type fakeRequests struct{ *fakeStore }

func (f fakeRequests) FindActive(_ context.Context, _ sqlx.ExtContext, sessionID, studentID string) (*models.CodeRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.requests {
		if r.SessionID == sessionID && r.StudentID == studentID && r.DeletedAt == nil {
			cp := *r
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f fakeRequests) FindByID(_ context.Context, id string) (*models.CodeRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.requests {
		if r.ID == id && r.DeletedAt == nil {
			cp := *r
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f fakeRequests) Create(_ context.Context, _ sqlx.ExtContext, request *models.CodeRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.requests {
		if r.SessionID == request.SessionID && r.StudentID == request.StudentID && r.DeletedAt == nil {
			return fmt.Errorf("create code request: %w", &pq.Error{Code: pgUniqueViolation})
		}
	}
	request.ID = f.uuid("request")
	cp := *request
	f.requests = append(f.requests, &cp)
	return nil
}

func (f fakeRequests) MarkScreenshot(_ context.Context, id, path string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.requests {
		if r.ID == id && r.DeletedAt == nil {
			p := path
			r.ScreenshotSubmitted = true
			r.ScreenshotPath = &p
			r.ScreenshotSubmittedAt = &at
			return nil
		}
	}
	return sql.ErrNoRows
}

func (f fakeRequests) ListPendingScreenshots(_ context.Context, sessionID string) ([]models.CodeRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.CodeRequest
	for _, r := range f.requests {
		if r.SessionID == sessionID && r.DeletedAt == nil && !r.ScreenshotSubmitted {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (f fakeRequests) SoftDeleteForStudents(_ context.Context, _ sqlx.ExtContext, ids []string, at time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	joined := "," + strings.Join(ids, ",") + ","
	var n int64
	for _, r := range f.requests {
		if r.DeletedAt == nil && strings.Contains(joined, ","+r.StudentID+",") {
			ts := at
			r.DeletedAt = &ts
			n++
		}
	}
	return n, nil
}

func (f fakeRequests) Stats(_ context.Context, sessionID string) (models.RequestStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var st models.RequestStats
	for _, r := range f.requests {
		if r.SessionID == sessionID && r.DeletedAt == nil {
			st.Requests++
			if r.ScreenshotSubmitted {
				st.Screenshots++
			}
		}
	}
	return st, nil
}

// engine wires every service against one fake store.
type engine struct {
	store        *fakeStore
	tx           txProvider
	mock         sqlmock.Sqlmock
	availability *AvailabilityService
	allocation   *AllocationService
	cascade      *CascadeService
	requests     *RequestService
	reservation  *ReservationService
	pool         *CodePoolService
	sessions     *SessionService
	students     *StudentService
}

func newEngine(t *testing.T) *engine {
	t.Helper()
	store := newFakeStore()
	tx, mock := newTxProviderMock(t)
	cfg := testDistribution()
	availability := NewAvailabilityService(fakeCodes{store}, nil)
	allocation := NewAllocationService(fakeSessions{store}, fakeCodes{store}, fakeStudents{store}, fakeRequests{store}, availability, nil, tx, cfg, nil, nil)
	cascade := NewCascadeService(fakeSessions{store}, fakeStudents{store}, fakeCodes{store}, fakeReserve{store}, availability, cfg)
	return &engine{
		store:        store,
		tx:           tx,
		mock:         mock,
		availability: availability,
		allocation:   allocation,
		cascade:      cascade,
		requests:     NewRequestService(fakeSessions{store}, fakeStudents{store}, fakeRequests{store}, fakeCodes{store}, fakeReserve{store}, allocation, cascade, availability, nil, tx, cfg, nil, nil),
		reservation:  NewReservationService(fakeSessions{store}, fakeCodes{store}, fakeReserve{store}, fakeStudents{store}, availability, nil, tx, cfg, nil),
		pool:         NewCodePoolService(fakeSessions{store}, fakeCodes{store}, availability, nil, allocation, tx, cfg, nil, nil),
		sessions:     NewSessionService(fakeSessions{store}, fakeCodes{store}, fakeReserve{store}, fakeRequests{store}, availability, nil),
		students:     NewStudentService(fakeStudents{store}, fakeCodes{store}, fakeRequests{store}, availability, tx, cfg, nil, nil),
	}
}
