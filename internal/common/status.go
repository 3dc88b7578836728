package common

type RunStatus string

type FailureKind string

const (
	StatusPending RunStatus = "pending"
	StatusRunning RunStatus = "running"
	StatusFailed  RunStatus = "failed"
	StatusSuccess RunStatus = "success"

	FailureStep       FailureKind = "step-failure"
	FailureTimeout    FailureKind = "timeout"
	FailureConcurrent FailureKind = "concurrent-run-rejected"
)

// Reports whether the run has finished, successfully or not
func (s RunStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}
