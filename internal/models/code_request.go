package models

import "time"

// CodeSource tells which pool satisfied a request.
type CodeSource string

const (
	CodeSourcePool    CodeSource = "pool"
	CodeSourceReserve CodeSource = "reserve"
)

// CodeRequest is the ledger row binding one student to one code per session.
type CodeRequest struct {
	ID                    string     `db:"id" json:"id"`
	StudentID             string     `db:"student_id" json:"student_id"`
	SessionID             string     `db:"session_id" json:"session_id"`
	CodeID                *int64     `db:"code_id" json:"code_id,omitempty"`
	ReserveCodeID         *int64     `db:"reserve_code_id" json:"reserve_code_id,omitempty"`
	Code                  string     `db:"code" json:"code"`
	ClassTier             int        `db:"class_tier" json:"class_tier"`
	Source                CodeSource `db:"source" json:"source"`
	RequestedAt           time.Time  `db:"requested_at" json:"requested_at"`
	ScreenshotSubmitted   bool       `db:"screenshot_submitted" json:"screenshot_submitted"`
	ScreenshotPath        *string    `db:"screenshot_path" json:"screenshot_path,omitempty"`
	ScreenshotSubmittedAt *time.Time `db:"screenshot_submitted_at" json:"screenshot_submitted_at,omitempty"`
	DeletedAt             *time.Time `db:"deleted_at" json:"-"`
}
