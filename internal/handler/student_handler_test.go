package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/olympiad-codes-api/internal/dto"
	"github.com/noah-isme/olympiad-codes-api/internal/models"
	appErrors "github.com/noah-isme/olympiad-codes-api/pkg/errors"
)

type studentServiceMock struct {
	registerErr error
	lastFilter  models.StudentFilter
	lastBulk    dto.BulkCreateStudentsRequest
	deleteClass int
	deleteForce bool
}

func (m *studentServiceMock) List(_ context.Context, filter models.StudentFilter) ([]models.Student, *models.Pagination, error) {
	m.lastFilter = filter
	return []models.Student{}, &models.Pagination{Page: 1, PageSize: 20}, nil
}

func (m *studentServiceMock) Get(_ context.Context, id string) (*models.Student, error) {
	return &models.Student{ID: id}, nil
}

func (m *studentServiceMock) GetByTelegram(_ context.Context, telegramID int64) (*models.Student, error) {
	if telegramID != 77 {
		return nil, appErrors.Clone(appErrors.ErrStudentNotFound, "")
	}
	return &models.Student{ID: "st1", TelegramID: &telegramID}, nil
}

func (m *studentServiceMock) BulkCreate(_ context.Context, req dto.BulkCreateStudentsRequest) ([]models.Student, error) {
	m.lastBulk = req
	return []models.Student{{ID: "st1", RegistrationCode: "ABCDEF1234"}}, nil
}

func (m *studentServiceMock) Register(_ context.Context, req dto.RegisterStudentRequest) (*models.Student, error) {
	if m.registerErr != nil {
		return nil, m.registerErr
	}
	return &models.Student{ID: "st1", FullName: "Ivan", TelegramID: &req.TelegramID, IsRegistered: true}, nil
}

func (m *studentServiceMock) DeleteByClass(_ context.Context, classNumber int, force bool) (*models.StudentDeletion, error) {
	m.deleteClass, m.deleteForce = classNumber, force
	return &models.StudentDeletion{Deleted: 3}, nil
}

type tokenIssuerMock struct {
	subject string
	role    models.UserRole
}

func (m *tokenIssuerMock) Generate(userID string, role models.UserRole, _ string) (string, time.Time, error) {
	m.subject, m.role = userID, role
	return "signed", time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC), nil
}

func TestStudentHandlerRegisterIssuesStudentToken(t *testing.T) {
	tokens := &tokenIssuerMock{}
	h := NewStudentHandler(&studentServiceMock{}, tokens)

	c, w := newContext(http.MethodPost, "/students/register", `{"registrationCode":"abcdef1234","telegramId":77}`, nil)
	h.Register(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "st1", tokens.subject)
	assert.Equal(t, models.RoleStudent, tokens.role)
	var result dto.RegisterStudentResult
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &result))
	assert.Equal(t, "signed", result.Token)
	require.NotNil(t, result.Student)
	assert.True(t, result.Student.IsRegistered)
}

func TestStudentHandlerRegisterConflict(t *testing.T) {
	tokens := &tokenIssuerMock{}
	h := NewStudentHandler(&studentServiceMock{registerErr: appErrors.Clone(appErrors.ErrConflict, "already registered")}, tokens)

	c, w := newContext(http.MethodPost, "/students/register", `{"registrationCode":"abcdef1234","telegramId":77}`, nil)
	h.Register(c)

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Empty(t, tokens.subject)
}

func TestStudentHandlerListFilter(t *testing.T) {
	students := &studentServiceMock{}
	h := NewStudentHandler(students, &tokenIssuerMock{})

	c, w := newContext(http.MethodGet, "/students?class=8&parallel=a&registered=false&search=%20Iv%20", "", adminClaims())
	h.List(c)

	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, students.lastFilter.ClassNumber)
	assert.Equal(t, 8, *students.lastFilter.ClassNumber)
	assert.Equal(t, "A", students.lastFilter.Parallel)
	assert.Equal(t, "Iv", students.lastFilter.Search)
	require.NotNil(t, students.lastFilter.Registered)
	assert.False(t, *students.lastFilter.Registered)
}

func TestStudentHandlerBulkAndDelete(t *testing.T) {
	students := &studentServiceMock{}
	h := NewStudentHandler(students, &tokenIssuerMock{})

	c, w := newContext(http.MethodPost, "/students/bulk", `{"students":[{"fullName":"Ivan","classNumber":8,"parallel":"A"}]}`, adminClaims())
	h.BulkCreate(c)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Len(t, students.lastBulk.Students, 1)

	c, w = newContext(http.MethodDelete, "/students/classes/8?force=true", "", adminClaims(), gin.Param{Key: "class", Value: "8"})
	h.DeleteByClass(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 8, students.deleteClass)
	assert.True(t, students.deleteForce)

	c, w = newContext(http.MethodDelete, "/students/classes/x", "", adminClaims(), gin.Param{Key: "class", Value: "x"})
	h.DeleteByClass(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStudentHandlerGetByTelegram(t *testing.T) {
	h := NewStudentHandler(&studentServiceMock{}, &tokenIssuerMock{})

	c, w := newContext(http.MethodGet, "/students/telegram/77", "", adminClaims(), gin.Param{Key: "telegramId", Value: "77"})
	h.GetByTelegram(c)
	assert.Equal(t, http.StatusOK, w.Code)

	c, w = newContext(http.MethodGet, "/students/telegram/78", "", adminClaims(), gin.Param{Key: "telegramId", Value: "78"})
	h.GetByTelegram(c)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
