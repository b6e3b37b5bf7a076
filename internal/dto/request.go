package dto

import (
	"time"

	"github.com/noah-isme/olympiad-codes-api/internal/models"
)

// GetOrCreateRequest asks the ledger for the student's code in a session.
type GetOrCreateRequest struct {
	SessionID     string            `json:"sessionId" validate:"required,uuid"`
	StudentID     string            `json:"studentId" validate:"required,uuid"`
	ResolvedClass int               `json:"resolvedClass"`
	Source        models.CodeSource `json:"source" validate:"omitempty,oneof=pool reserve"`
}

// ClaimCodeRequest is the student-facing request against the active session.
type ClaimCodeRequest struct {
	Source models.CodeSource `json:"source" validate:"omitempty,oneof=pool reserve"`
}

// RequestResult returns the issued code and whether it was issued earlier.
type RequestResult struct {
	RequestID   string            `json:"requestId"`
	SessionID   string            `json:"sessionId"`
	Code        string            `json:"code"`
	ClassTier   int               `json:"classTier"`
	Source      models.CodeSource `json:"source"`
	WasExisting bool              `json:"wasExisting"`
	RequestedAt time.Time         `json:"requestedAt"`
}

// ScreenshotRequest records a submitted screenshot.
type ScreenshotRequest struct {
	Path string `json:"path" validate:"required,max=512"`
}
