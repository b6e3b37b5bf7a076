package models

import "time"

// DistributionMode selects how codes reach students for a session.
type DistributionMode string

const (
	DistributionModeOnDemand    DistributionMode = "on_demand"
	DistributionModePreAssigned DistributionMode = "pre_assigned"
)

// Session is one olympiad administration for one subject on one date.
type Session struct {
	ID               string           `db:"id" json:"id"`
	Subject          string           `db:"subject" json:"subject"`
	OlympiadDate     time.Time        `db:"olympiad_date" json:"olympiad_date"`
	DistributionMode DistributionMode `db:"distribution_mode" json:"distribution_mode"`
	AutoReserve      bool             `db:"auto_reserve" json:"auto_reserve"`
	IsActive         bool             `db:"is_active" json:"is_active"`
	CreatedAt        time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time        `db:"updated_at" json:"updated_at"`
}

// SessionFilter narrows session listings.
type SessionFilter struct {
	Subject  string
	Active   *bool
	Page     int
	PageSize int
}

// ClassStats summarises the pool state of one class.
type ClassStats struct {
	ClassNumber int `db:"class_number" json:"class_number"`
	Total       int `db:"total" json:"total"`
	Available   int `db:"available" json:"available"`
	Assigned    int `db:"assigned" json:"assigned"`
	Issued      int `db:"issued" json:"issued"`
	Reserved    int `db:"reserved" json:"reserved"`
}

// ReserveBucketStats summarises one parallel's reserve bucket.
type ReserveBucketStats struct {
	TargetClass   int    `db:"target_class" json:"target_class"`
	ClassParallel string `db:"class_parallel" json:"class_parallel"`
	Total         int    `db:"total" json:"total"`
	Used          int    `db:"used" json:"used"`
}

// RequestStats counts ledger rows of a session.
type RequestStats struct {
	Requests    int `db:"requests" json:"requests"`
	Screenshots int `db:"screenshots" json:"screenshots"`
}

// SessionStats aggregates pool, reserve and ledger counters for a session.
type SessionStats struct {
	Session *Session             `json:"session"`
	Classes []ClassStats         `json:"classes"`
	Reserve []ReserveBucketStats `json:"reserve"`
	RequestStats
}
