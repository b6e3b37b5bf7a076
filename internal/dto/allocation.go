package dto

// Pre-assignment failure reasons.
const (
	FailurePoolExhausted  = "POOL_EXHAUSTED"
	FailureNoPoolForClass = "NO_POOL_FOR_CLASS"
	FailureConflict       = "CONFLICT"
)

// PreassignedCode reports one student bound to a code.
type PreassignedCode struct {
	StudentID   string `json:"studentId"`
	StudentName string `json:"studentName"`
	ClassNumber int    `json:"classNumber"`
	CodeID      int64  `json:"codeId"`
}

// PreassignFailure reports a student left without a code.
type PreassignFailure struct {
	StudentID   string `json:"studentId"`
	StudentName string `json:"studentName"`
	ClassNumber int    `json:"classNumber"`
	Reason      string `json:"reason"`
}

// PreassignResult is the partial-success outcome of eager pre-assignment.
type PreassignResult struct {
	SessionID string             `json:"sessionId"`
	Assigned  []PreassignedCode  `json:"assigned"`
	Failed    []PreassignFailure `json:"failed"`
}

// ReassignCodeRequest moves a code to another student.
type ReassignCodeRequest struct {
	StudentID string `json:"studentId" validate:"required,uuid"`
}
