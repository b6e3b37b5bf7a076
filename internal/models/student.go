package models

import (
	"strconv"
	"time"
)

// Student is a participant identified by class and parallel.
type Student struct {
	ID               string     `db:"id" json:"id"`
	FullName         string     `db:"full_name" json:"full_name"`
	TelegramID       *int64     `db:"telegram_id" json:"telegram_id,omitempty"`
	RegistrationCode string     `db:"registration_code" json:"registration_code,omitempty"`
	IsRegistered     bool       `db:"is_registered" json:"is_registered"`
	ClassNumber      int        `db:"class_number" json:"class_number"`
	Parallel         string     `db:"parallel" json:"parallel"`
	IsActive         bool       `db:"is_active" json:"is_active"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	RegisteredAt     *time.Time `db:"registered_at" json:"registered_at,omitempty"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`
}

// Label returns the parallel label used for reserve buckets, e.g. "8A".
func (s Student) Label() string {
	return ParallelLabel(s.ClassNumber, s.Parallel)
}

// ParallelLabel joins a class number and parallel; an empty parallel yields the bare class.
func ParallelLabel(classNumber int, parallel string) string {
	return strconv.Itoa(classNumber) + parallel
}

// StudentFilter encapsulates allowed search parameters for listing students.
type StudentFilter struct {
	Search      string
	ClassNumber *int
	Parallel    string
	Registered  *bool
	Page        int
	PageSize    int
}

// ParallelPopulation is the number of active students in one parallel label.
type ParallelPopulation struct {
	Label      string `db:"label" json:"label"`
	Population int    `db:"population" json:"population"`
}

// StudentDeletion reports the outcome of a bulk class deletion.
type StudentDeletion struct {
	Deleted      int      `json:"deleted"`
	Skipped      []string `json:"skipped"`
	CodesFreed   int      `json:"codes_freed"`
	CodesRetired int      `json:"codes_retired"`
}
