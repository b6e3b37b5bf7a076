package dto

// CodeEntry is one parsed (class, code) tuple.
type CodeEntry struct {
	ClassNumber int    `json:"classNumber" validate:"required"`
	Code        string `json:"code" validate:"required,max=128"`
}

// IngestCodesRequest loads a batch of codes for one subject and date.
type IngestCodesRequest struct {
	Subject          string      `json:"subject" validate:"required,max=200"`
	Date             string      `json:"date" validate:"required,datetime=2006-01-02"`
	DistributionMode string      `json:"distributionMode" validate:"omitempty,oneof=on_demand pre_assigned"`
	AutoReserve      *bool       `json:"autoReserve"`
	Codes            []CodeEntry `json:"codes" validate:"required,min=1,dive"`
}

// IngestResult reports what an ingestion did.
type IngestResult struct {
	SessionID         string           `json:"sessionId"`
	Created           bool             `json:"created"`
	Inserted          int              `json:"inserted"`
	PerClass          map[int]int      `json:"perClass"`
	ReservationQueued bool             `json:"reservationQueued"`
	Preassigned       *PreassignResult `json:"preassigned,omitempty"`
}
