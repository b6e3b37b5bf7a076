package dto

// Reservation pair outcomes.
const (
	ReservationReasonNoStudents      = "NO_STUDENTS"
	ReservationReasonOwnPoolCovers   = "OWN_POOL_SUFFICIENT"
	ReservationReasonNoDonorSurplus  = "NO_DONOR_SURPLUS"
	ReservationReasonApplied         = "APPLIED"
	ReservationReasonAlreadyReserved = "ALREADY_RESERVED"
)

// ReservationPairResult details one target class and the donor that served it.
type ReservationPairResult struct {
	TargetClass int            `json:"targetClass"`
	DonorClass  int            `json:"donorClass,omitempty"`
	ShortDonors []int          `json:"shortDonors,omitempty"`
	Surplus     int            `json:"surplus"`
	BatchSize   int            `json:"batchSize"`
	Shares      map[string]int `json:"shares,omitempty"`
	Allocated   map[string]int `json:"allocated"`
	Leftover    int            `json:"leftover"`
	Reason      string         `json:"reason"`
}

// ReservationResult aggregates newly reserved codes per parallel label.
type ReservationResult struct {
	SessionID string                  `json:"sessionId"`
	Allocated map[string]int          `json:"allocated"`
	Pairs     []ReservationPairResult `json:"pairs"`
}

// Total returns the number of codes reserved by the run.
func (r ReservationResult) Total() int {
	total := 0
	for _, n := range r.Allocated {
		total += n
	}
	return total
}
