package handler

import (
	"context"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/olympiad-codes-api/internal/dto"
	"github.com/noah-isme/olympiad-codes-api/internal/models"
	appErrors "github.com/noah-isme/olympiad-codes-api/pkg/errors"
	"github.com/noah-isme/olympiad-codes-api/pkg/response"
)

type requestLedger interface {
	GetOrCreate(ctx context.Context, req dto.GetOrCreateRequest) (*dto.RequestResult, error)
	Claim(ctx context.Context, studentID string, req dto.ClaimCodeRequest) (*dto.RequestResult, error)
	Get(ctx context.Context, sessionID, studentID string) (*dto.RequestResult, error)
	MarkScreenshot(ctx context.Context, requestID, ownerID string, req dto.ScreenshotRequest) (*models.CodeRequest, error)
}

type cascadeAdvisor interface {
	Options(ctx context.Context, sessionID, studentID string) (*dto.CascadeOptions, error)
}

type screenshotStore interface {
	SaveStream(name string, r io.Reader) (string, error)
	Delete(name string) error
}

var screenshotExtensions = map[string]struct{}{".png": {}, ".jpg": {}, ".jpeg": {}, ".webp": {}}

// RequestHandler exposes the code request ledger.
type RequestHandler struct {
	ledger  requestLedger
	cascade cascadeAdvisor
	store   screenshotStore
}

// NewRequestHandler constructs RequestHandler. Without a store, screenshot uploads are rejected.
func NewRequestHandler(ledger requestLedger, cascade cascadeAdvisor, store screenshotStore) *RequestHandler {
	return &RequestHandler{ledger: ledger, cascade: cascade, store: store}
}

// Claim godoc
// @Summary Claim a code in the active session
// @Description Returns the existing code when the student already holds one.
// @Tags Requests
// @Accept json
// @Produce json
// @Param studentId path string true "Student ID"
// @Param payload body dto.ClaimCodeRequest false "Source"
// @Success 200 {object} response.Envelope
// @Success 201 {object} response.Envelope
// @Router /students/{studentId}/claim [post]
func (h *RequestHandler) Claim(c *gin.Context) {
	var req dto.ClaimCodeRequest
	if c.Request.ContentLength > 0 {
		if err := bindJSON(c, &req); err != nil {
			response.Error(c, err)
			return
		}
	}
	result, err := h.ledger.Claim(c.Request.Context(), c.Param("studentId"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	writeRequestResult(c, result)
}

// GetOrCreate godoc
// @Summary Issue a code for a student in a session
// @Tags Requests
// @Accept json
// @Produce json
// @Param id path string true "Session ID"
// @Param payload body dto.GetOrCreateRequest true "Request"
// @Success 200 {object} response.Envelope
// @Success 201 {object} response.Envelope
// @Router /sessions/{id}/requests [post]
func (h *RequestHandler) GetOrCreate(c *gin.Context) {
	var req dto.GetOrCreateRequest
	if err := bindJSON(c, &req); err != nil {
		response.Error(c, err)
		return
	}
	req.SessionID = c.Param("id")
	result, err := h.ledger.GetOrCreate(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	writeRequestResult(c, result)
}

// Get godoc
// @Summary Get the code issued to a student
// @Tags Requests
// @Produce json
// @Param id path string true "Session ID"
// @Param studentId path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /sessions/{id}/requests/{studentId} [get]
func (h *RequestHandler) Get(c *gin.Context) {
	result, err := h.ledger.Get(c.Request.Context(), c.Param("id"), c.Param("studentId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, result)
}

// Options godoc
// @Summary Cascade and reserve options of a student
// @Tags Requests
// @Produce json
// @Param id path string true "Session ID"
// @Param studentId path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /sessions/{id}/options/{studentId} [get]
func (h *RequestHandler) Options(c *gin.Context) {
	opts, err := h.cascade.Options(c.Request.Context(), c.Param("id"), c.Param("studentId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, opts)
}

// Screenshot godoc
// @Summary Record the screenshot of a used code
// @Tags Requests
// @Accept json
// @Produce json
// @Param requestId path string true "Request ID"
// @Param payload body dto.ScreenshotRequest true "Screenshot"
// @Success 200 {object} response.Envelope
// @Router /requests/{requestId}/screenshot [post]
func (h *RequestHandler) Screenshot(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.ScreenshotRequest
	if err := bindJSON(c, &req); err != nil {
		response.Error(c, err)
		return
	}
	ownerID := ""
	if claims.Role == models.RoleStudent {
		ownerID = claims.UserID
	}
	request, err := h.ledger.MarkScreenshot(c.Request.Context(), c.Param("requestId"), ownerID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, request)
}

// UploadScreenshot godoc
// @Summary Upload the screenshot of a used code
// @Tags Requests
// @Accept multipart/form-data
// @Produce json
// @Param requestId path string true "Request ID"
// @Param file formData file true "Screenshot image"
// @Success 200 {object} response.Envelope
// @Router /requests/{requestId}/screenshot/upload [post]
func (h *RequestHandler) UploadScreenshot(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	if h.store == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "screenshot uploads are disabled"))
		return
	}
	header, err := c.FormFile("file")
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "file is required"))
		return
	}
	ext := strings.ToLower(filepath.Ext(header.Filename))
	if _, ok := screenshotExtensions[ext]; !ok {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "unsupported screenshot format"))
		return
	}
	file, err := header.Open()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "unreadable file"))
		return
	}
	defer file.Close() //nolint:errcheck

	requestID := c.Param("requestId")
	path, err := h.store.SaveStream(requestID+ext, file)
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "failed to store screenshot"))
		return
	}

	ownerID := ""
	if claims.Role == models.RoleStudent {
		ownerID = claims.UserID
	}
	request, err := h.ledger.MarkScreenshot(c.Request.Context(), requestID, ownerID, dto.ScreenshotRequest{Path: path})
	if err != nil {
		_ = h.store.Delete(path)
		response.Error(c, err)
		return
	}
	response.OK(c, request)
}

func writeRequestResult(c *gin.Context, result *dto.RequestResult) {
	status := http.StatusCreated
	if result.WasExisting {
		status = http.StatusOK
	}
	response.JSON(c, status, result, nil)
}
