package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/olympiad-codes-api/internal/dto"
	"github.com/noah-isme/olympiad-codes-api/internal/models"
	"github.com/noah-isme/olympiad-codes-api/pkg/response"
)

type sessionService interface {
	List(ctx context.Context, filter models.SessionFilter) ([]models.Session, *models.Pagination, error)
	Get(ctx context.Context, id string) (*models.Session, error)
	Active(ctx context.Context) (*models.Session, error)
	Activate(ctx context.Context, id string) (*models.Session, error)
	Deactivate(ctx context.Context, id string) (*models.Session, error)
	Delete(ctx context.Context, id string) error
	Stats(ctx context.Context, id string) (*models.SessionStats, error)
}

type ingestService interface {
	Ingest(ctx context.Context, req dto.IngestCodesRequest) (*dto.IngestResult, error)
}

type reservationRunner interface {
	Apply(ctx context.Context, sessionID string) (*dto.ReservationResult, error)
}

type reservationQueue interface {
	Schedule(sessionID string) (bool, error)
}

type preassigner interface {
	PreassignAll(ctx context.Context, sessionID string) (*dto.PreassignResult, error)
}

type availabilityReader interface {
	Counts(ctx context.Context, sessionID string, classNumber *int) (map[int]int, error)
}

type screenshotLister interface {
	PendingScreenshots(ctx context.Context, sessionID string) ([]models.CodeRequest, error)
}

// SessionHandler exposes olympiad session administration.
type SessionHandler struct {
	sessions     sessionService
	pool         ingestService
	reservations reservationRunner
	queue        reservationQueue
	allocator    preassigner
	availability availabilityReader
	screenshots  screenshotLister
}

// NewSessionHandler constructs SessionHandler. A nil queue makes reservation runs synchronous only.
func NewSessionHandler(sessions sessionService, pool ingestService, reservations reservationRunner, queue reservationQueue, allocator preassigner, availability availabilityReader, screenshots screenshotLister) *SessionHandler {
	return &SessionHandler{
		sessions:     sessions,
		pool:         pool,
		reservations: reservations,
		queue:        queue,
		allocator:    allocator,
		availability: availability,
		screenshots:  screenshots,
	}
}

// Ingest godoc
// @Summary Load participation codes for a subject and date
// @Tags Sessions
// @Accept json
// @Produce json
// @Param payload body dto.IngestCodesRequest true "Codes batch"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /sessions/ingest [post]
func (h *SessionHandler) Ingest(c *gin.Context) {
	var req dto.IngestCodesRequest
	if err := bindJSON(c, &req); err != nil {
		response.Error(c, err)
		return
	}
	result, err := h.pool.Ingest(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// List godoc
// @Summary List sessions
// @Tags Sessions
// @Produce json
// @Param subject query string false "Subject"
// @Param active query bool false "Active flag"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /sessions [get]
func (h *SessionHandler) List(c *gin.Context) {
	filter := models.SessionFilter{
		Subject: strings.TrimSpace(c.Query("subject")),
		Active:  optionalBoolQuery(c, "active"),
	}
	filter.Page, filter.PageSize = pageQuery(c)

	sessions, pagination, err := h.sessions.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, sessions, pagination)
}

// Active godoc
// @Summary Get the active session
// @Tags Sessions
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /sessions/active [get]
func (h *SessionHandler) Active(c *gin.Context) {
	session, err := h.sessions.Active(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, session)
}

// Get godoc
// @Summary Get session
// @Tags Sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} response.Envelope
// @Router /sessions/{id} [get]
func (h *SessionHandler) Get(c *gin.Context) {
	session, err := h.sessions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, session)
}

// Activate godoc
// @Summary Activate a session and deactivate all others
// @Tags Sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} response.Envelope
// @Router /sessions/{id}/activate [post]
func (h *SessionHandler) Activate(c *gin.Context) {
	session, err := h.sessions.Activate(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, session)
}

// Deactivate godoc
// @Summary Deactivate a session
// @Tags Sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} response.Envelope
// @Router /sessions/{id}/deactivate [post]
func (h *SessionHandler) Deactivate(c *gin.Context) {
	session, err := h.sessions.Deactivate(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, session)
}

// Delete godoc
// @Summary Delete a session with its codes, reserve and ledger
// @Tags Sessions
// @Param id path string true "Session ID"
// @Success 204
// @Router /sessions/{id} [delete]
func (h *SessionHandler) Delete(c *gin.Context) {
	if err := h.sessions.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Stats godoc
// @Summary Per-class pool, reserve and ledger statistics
// @Tags Sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} response.Envelope
// @Router /sessions/{id}/stats [get]
func (h *SessionHandler) Stats(c *gin.Context) {
	stats, err := h.sessions.Stats(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, stats)
}

// Reserve godoc
// @Summary Run cross-grade reservation for a session
// @Description With async=true the run is queued and 202 is returned.
// @Tags Sessions
// @Produce json
// @Param id path string true "Session ID"
// @Param async query bool false "Queue instead of running inline"
// @Success 200 {object} response.Envelope
// @Success 202 {object} response.Envelope
// @Router /sessions/{id}/reservations [post]
func (h *SessionHandler) Reserve(c *gin.Context) {
	sessionID := c.Param("id")
	if async := optionalBoolQuery(c, "async"); async != nil && *async && h.queue != nil {
		if _, err := h.sessions.Get(c.Request.Context(), sessionID); err != nil {
			response.Error(c, err)
			return
		}
		queued, err := h.queue.Schedule(sessionID)
		if err != nil {
			response.Error(c, err)
			return
		}
		response.Accepted(c, gin.H{"sessionId": sessionID, "queued": queued})
		return
	}

	result, err := h.reservations.Apply(c.Request.Context(), sessionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil, map[string]interface{}{"reserved": result.Total()})
}

// Preassign godoc
// @Summary Bind every codeless student to a code of their class
// @Tags Sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} response.Envelope
// @Router /sessions/{id}/preassign [post]
func (h *SessionHandler) Preassign(c *gin.Context) {
	result, err := h.allocator.PreassignAll(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	meta := map[string]interface{}{"assigned": len(result.Assigned), "failed": len(result.Failed)}
	response.JSON(c, http.StatusOK, result, nil, meta)
}

// Availability godoc
// @Summary Free codes per class
// @Tags Sessions
// @Produce json
// @Param id path string true "Session ID"
// @Param class query int false "Single class"
// @Success 200 {object} response.Envelope
// @Router /sessions/{id}/availability [get]
func (h *SessionHandler) Availability(c *gin.Context) {
	class, err := optionalIntQuery(c, "class")
	if err != nil {
		response.Error(c, err)
		return
	}
	sessionID := c.Param("id")
	if _, err := h.sessions.Get(c.Request.Context(), sessionID); err != nil {
		response.Error(c, err)
		return
	}
	counts, err := h.availability.Counts(c.Request.Context(), sessionID, class)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, counts)
}

// PendingScreenshots godoc
// @Summary Issued codes still waiting for a screenshot
// @Tags Sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} response.Envelope
// @Router /sessions/{id}/screenshots/pending [get]
func (h *SessionHandler) PendingScreenshots(c *gin.Context) {
	requests, err := h.screenshots.PendingScreenshots(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, requests, nil, map[string]interface{}{"count": len(requests)})
}
