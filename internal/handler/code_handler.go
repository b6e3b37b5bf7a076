package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/olympiad-codes-api/internal/dto"
	"github.com/noah-isme/olympiad-codes-api/internal/models"
	"github.com/noah-isme/olympiad-codes-api/pkg/response"
)

type codeAllocator interface {
	ClaimOnDemand(ctx context.Context, sessionID, studentID string) (*models.Code, error)
	Reassign(ctx context.Context, codeID int64, req dto.ReassignCodeRequest) (*models.Code, error)
}

// CodeHandler exposes direct pool operations for administrators.
type CodeHandler struct {
	allocator codeAllocator
}

// NewCodeHandler constructs CodeHandler.
func NewCodeHandler(allocator codeAllocator) *CodeHandler {
	return &CodeHandler{allocator: allocator}
}

// ClaimOnDemand godoc
// @Summary Bind a free code of the student's class without issuing it
// @Tags Codes
// @Produce json
// @Param id path string true "Session ID"
// @Param studentId path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /sessions/{id}/students/{studentId}/assign [post]
func (h *CodeHandler) ClaimOnDemand(c *gin.Context) {
	code, err := h.allocator.ClaimOnDemand(c.Request.Context(), c.Param("id"), c.Param("studentId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, code)
}

// Reassign godoc
// @Summary Move an unissued code to another student
// @Tags Codes
// @Accept json
// @Produce json
// @Param codeId path int true "Code ID"
// @Param payload body dto.ReassignCodeRequest true "Target student"
// @Success 200 {object} response.Envelope
// @Router /codes/{codeId}/assignee [put]
func (h *CodeHandler) Reassign(c *gin.Context) {
	codeID, err := intParam(c, "codeId")
	if err != nil {
		response.Error(c, err)
		return
	}
	var req dto.ReassignCodeRequest
	if err := bindJSON(c, &req); err != nil {
		response.Error(c, err)
		return
	}
	code, err := h.allocator.Reassign(c.Request.Context(), codeID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, code)
}
