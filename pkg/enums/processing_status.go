package enums

import "fmt"

// ProcessingStatus describes where a media item sits in the analysis lifecycle.
type ProcessingStatus string

const (
	ProcessingStatusPending    ProcessingStatus = "pending"
	ProcessingStatusProcessing ProcessingStatus = "processing"
	ProcessingStatusCompleted  ProcessingStatus = "completed"
	ProcessingStatusFailed     ProcessingStatus = "failed"
)

var validProcessingStatuses = []ProcessingStatus{
	ProcessingStatusPending,
	ProcessingStatusProcessing,
	ProcessingStatusCompleted,
	ProcessingStatusFailed,
}

// String returns the literal string for the status.
func (p ProcessingStatus) String() string {
	return string(p)
}

// IsValid reports whether the status is known.
func (p ProcessingStatus) IsValid() bool {
	for _, candidate := range validProcessingStatuses {
		if candidate == p {
			return true
		}
	}
	return false
}

// IsEligible reports whether a batch pass may claim an item in this status.
// Failed items are deliberately re-selectable; completed items are not.
func (p ProcessingStatus) IsEligible() bool {
	return p == ProcessingStatusPending || p == ProcessingStatusFailed
}

// CanTransitionTo reports whether the transition is allowed by the lifecycle.
// The only backward edge, completed to pending, is reserved for explicit
// force re-analysis.
func (p ProcessingStatus) CanTransitionTo(next ProcessingStatus) bool {
	switch p {
	case ProcessingStatusPending, ProcessingStatusFailed:
		return next == ProcessingStatusProcessing
	case ProcessingStatusProcessing:
		return next == ProcessingStatusCompleted || next == ProcessingStatusFailed
	case ProcessingStatusCompleted:
		return next == ProcessingStatusPending
	default:
		return false
	}
}

// ParseProcessingStatus converts raw input into a ProcessingStatus.
func ParseProcessingStatus(value string) (ProcessingStatus, error) {
	for _, candidate := range validProcessingStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid processing status %q", value)
}
