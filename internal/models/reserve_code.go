package models

import "time"

// ReserveCode is a copy of a donor code bucketed for one parallel of a lower class.
type ReserveCode struct {
	ID              int64      `db:"id" json:"id"`
	SessionID       string     `db:"session_id" json:"session_id"`
	DonorCodeID     int64      `db:"donor_code_id" json:"donor_code_id"`
	DonorClass      int        `db:"donor_class" json:"donor_class"`
	TargetClass     int        `db:"target_class" json:"target_class"`
	ClassParallel   string     `db:"class_parallel" json:"class_parallel"`
	Code            string     `db:"code" json:"-"`
	IsUsed          bool       `db:"is_used" json:"is_used"`
	UsedByStudentID *string    `db:"used_by_student_id" json:"used_by_student_id,omitempty"`
	UsedAt          *time.Time `db:"used_at" json:"used_at,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
}
