package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/olympiad-codes-api/internal/dto"
	"github.com/noah-isme/olympiad-codes-api/internal/models"
	appErrors "github.com/noah-isme/olympiad-codes-api/pkg/errors"
	"github.com/noah-isme/olympiad-codes-api/pkg/response"
)

type studentService interface {
	List(ctx context.Context, filter models.StudentFilter) ([]models.Student, *models.Pagination, error)
	Get(ctx context.Context, id string) (*models.Student, error)
	GetByTelegram(ctx context.Context, telegramID int64) (*models.Student, error)
	BulkCreate(ctx context.Context, req dto.BulkCreateStudentsRequest) ([]models.Student, error)
	Register(ctx context.Context, req dto.RegisterStudentRequest) (*models.Student, error)
	DeleteByClass(ctx context.Context, classNumber int, force bool) (*models.StudentDeletion, error)
}

type tokenIssuer interface {
	Generate(userID string, role models.UserRole, fullName string) (string, time.Time, error)
}

// StudentHandler exposes student endpoints.
type StudentHandler struct {
	students studentService
	tokens   tokenIssuer
}

// NewStudentHandler constructs StudentHandler.
func NewStudentHandler(students studentService, tokens tokenIssuer) *StudentHandler {
	return &StudentHandler{students: students, tokens: tokens}
}

// List godoc
// @Summary List students
// @Tags Students
// @Produce json
// @Param search query string false "Search by name"
// @Param class query int false "Filter by class"
// @Param parallel query string false "Filter by parallel"
// @Param registered query bool false "Filter by registration state"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /students [get]
func (h *StudentHandler) List(c *gin.Context) {
	class, err := optionalIntQuery(c, "class")
	if err != nil {
		response.Error(c, err)
		return
	}
	filter := models.StudentFilter{
		Search:      strings.TrimSpace(c.Query("search")),
		ClassNumber: class,
		Parallel:    strings.ToUpper(strings.TrimSpace(c.Query("parallel"))),
		Registered:  optionalBoolQuery(c, "registered"),
	}
	filter.Page, filter.PageSize = pageQuery(c)

	students, pagination, err := h.students.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, students, pagination)
}

// Get godoc
// @Summary Get student detail
// @Tags Students
// @Produce json
// @Param studentId path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /students/{studentId} [get]
func (h *StudentHandler) Get(c *gin.Context) {
	student, err := h.students.Get(c.Request.Context(), c.Param("studentId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, student)
}

// GetByTelegram godoc
// @Summary Find the student registered with a telegram id
// @Tags Students
// @Produce json
// @Param telegramId path int true "Telegram ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /students/telegram/{telegramId} [get]
func (h *StudentHandler) GetByTelegram(c *gin.Context) {
	telegramID, err := intParam(c, "telegramId")
	if err != nil {
		response.Error(c, err)
		return
	}
	student, err := h.students.GetByTelegram(c.Request.Context(), telegramID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, student)
}

// BulkCreate godoc
// @Summary Load students and generate registration codes
// @Tags Students
// @Accept json
// @Produce json
// @Param payload body dto.BulkCreateStudentsRequest true "Students"
// @Success 201 {object} response.Envelope
// @Router /students/bulk [post]
func (h *StudentHandler) BulkCreate(c *gin.Context) {
	var req dto.BulkCreateStudentsRequest
	if err := bindJSON(c, &req); err != nil {
		response.Error(c, err)
		return
	}
	students, err := h.students.BulkCreate(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, students)
}

// Register godoc
// @Summary Redeem a registration code and obtain a student token
// @Tags Students
// @Accept json
// @Produce json
// @Param payload body dto.RegisterStudentRequest true "Registration"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /students/register [post]
func (h *StudentHandler) Register(c *gin.Context) {
	var req dto.RegisterStudentRequest
	if err := bindJSON(c, &req); err != nil {
		response.Error(c, err)
		return
	}
	student, err := h.students.Register(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	token, expiresAt, err := h.tokens.Generate(student.ID, models.RoleStudent, student.FullName)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.RegisterStudentResult{Student: student, Token: token, ExpiresAt: expiresAt})
}

// DeleteByClass godoc
// @Summary Delete the students of a class and return their codes to the pool
// @Tags Students
// @Produce json
// @Param class path int true "Class number"
// @Param force query bool false "Also delete students holding an issued code"
// @Success 200 {object} response.Envelope
// @Router /students/classes/{class} [delete]
func (h *StudentHandler) DeleteByClass(c *gin.Context) {
	class, err := strconv.Atoi(c.Param("class"))
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "class must be an integer"))
		return
	}
	force := optionalBoolQuery(c, "force")
	result, err := h.students.DeleteByClass(c.Request.Context(), class, force != nil && *force)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, result)
}
