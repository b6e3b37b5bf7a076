package dto

import (
	"time"

	"github.com/noah-isme/olympiad-codes-api/internal/models"
)

// CreateStudentRequest describes one student to load.
type CreateStudentRequest struct {
	FullName    string `json:"fullName" validate:"required,max=200"`
	ClassNumber int    `json:"classNumber" validate:"required"`
	Parallel    string `json:"parallel" validate:"omitempty,max=8,alphanumunicode"`
}

// BulkCreateStudentsRequest loads students in one batch.
type BulkCreateStudentsRequest struct {
	Students []CreateStudentRequest `json:"students" validate:"required,min=1,dive"`
}

// RegisterStudentRequest redeems a registration code for a chat identity.
type RegisterStudentRequest struct {
	RegistrationCode string `json:"registrationCode" validate:"required"`
	TelegramID       int64  `json:"telegramId" validate:"required"`
}

// RegisterStudentResult returns the registered student with a student access token.
type RegisterStudentResult struct {
	Student   *models.Student `json:"student"`
	Token     string          `json:"token"`
	ExpiresAt time.Time       `json:"expiresAt"`
}
