package dto

// CascadeOptions describes what a student may request in a session.
type CascadeOptions struct {
	SessionID        string `json:"sessionId"`
	StudentClass     int    `json:"studentClass"`
	OwnAvailable     int    `json:"ownAvailable"`
	CascadeClass     *int   `json:"cascadeClass,omitempty"`
	ReserveOffered   bool   `json:"reserveOffered"`
	ReserveLabel     string `json:"reserveLabel,omitempty"`
	ReserveRemaining int    `json:"reserveRemaining,omitempty"`
}
