package models

import "time"

// Code is one opaque participation code in a (session, class) pool.
// IsReserved marks a donor row whose value was copied into a reserve bucket.
type Code struct {
	ID          int64      `db:"id" json:"id"`
	SessionID   string     `db:"session_id" json:"session_id"`
	ClassNumber int        `db:"class_number" json:"class_number"`
	Code        string     `db:"code" json:"-"`
	StudentID   *string    `db:"student_id" json:"student_id,omitempty"`
	IsAssigned  bool       `db:"is_assigned" json:"is_assigned"`
	AssignedAt  *time.Time `db:"assigned_at" json:"assigned_at,omitempty"`
	IsIssued    bool       `db:"is_issued" json:"is_issued"`
	IssuedAt    *time.Time `db:"issued_at" json:"issued_at,omitempty"`
	IsReserved  bool       `db:"is_reserved" json:"is_reserved"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
}

// Available reports whether the code can still be claimed from its own pool.
func (c Code) Available() bool {
	return !c.IsAssigned && !c.IsReserved
}
