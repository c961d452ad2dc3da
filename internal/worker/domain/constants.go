package domain

// Run status constants
const (
	RunStatusCompleted = "COMPLETED"
	RunStatusFailed    = "FAILED"
	RunStatusAbandoned = "ABANDONED"
)

// Run modes
const (
	ModeSingle     = "single"
	ModeContinuous = "continuous"
)
