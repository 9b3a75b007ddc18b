package enums

import "fmt"

// JobKind identifies the shape of a queued processing job.
type JobKind string

const (
	JobKindBatch  JobKind = "batch"
	JobKindSingle JobKind = "single"
)

var validJobKinds = []JobKind{
	JobKindBatch,
	JobKindSingle,
}

// String returns the literal string for the kind.
func (j JobKind) String() string {
	return string(j)
}

// IsValid reports whether the kind is known.
func (j JobKind) IsValid() bool {
	for _, candidate := range validJobKinds {
		if candidate == j {
			return true
		}
	}
	return false
}

// ParseJobKind converts raw input into a JobKind.
func ParseJobKind(value string) (JobKind, error) {
	for _, candidate := range validJobKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid job kind %q", value)
}
