package types

import "time"

// SandboxStatus tracks a verification run.
type SandboxStatus string

const (
	SandboxQueued    SandboxStatus = "queued"
	SandboxRunning   SandboxStatus = "running"
	SandboxCompleted SandboxStatus = "completed"
	SandboxFailed    SandboxStatus = "failed"
)

// Terminal reports whether no further writes are allowed for the run.
func (s SandboxStatus) Terminal() bool {
	return s == SandboxCompleted || s == SandboxFailed
}

// SandboxTest is the audit trail of one verification run.
type SandboxTest struct {
	ID          string
	AssetID     string
	Status      SandboxStatus
	StartedAt   time.Time
	CompletedAt *time.Time
	Report      *SafetyReport
	Logs        []string
}
