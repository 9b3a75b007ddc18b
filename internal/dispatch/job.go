package dispatch

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/calebrhodes/photoflow-backend/pkg/enums"
)

// Job is the envelope carried on the processing-jobs topic. Delivery is
// at-least-once; consumers deduplicate on ID.
type Job struct {
	ID     uuid.UUID     `json:"id"`
	Kind   enums.JobKind `json:"kind"`
	ItemID uuid.UUID     `json:"itemId,omitempty"`
	Force  bool          `json:"force,omitempty"`
	// MaxItems caps a batch job. Zero means the worker uses the configured
	// batch size; negative means unbounded.
	MaxItems    int       `json:"maxItems,omitempty"`
	Trigger     string    `json:"trigger"`
	RequestedBy uuid.UUID `json:"requestedBy,omitempty"`
	EnqueuedAt  time.Time `json:"enqueuedAt"`
}

// Validate checks the envelope invariants before publish or processing.
func (j Job) Validate() error {
	if j.ID == uuid.Nil {
		return fmt.Errorf("job id is required")
	}
	if !j.Kind.IsValid() {
		return fmt.Errorf("invalid job kind %q", j.Kind)
	}
	if j.Kind == enums.JobKindSingle && j.ItemID == uuid.Nil {
		return fmt.Errorf("single jobs require an item id")
	}
	if j.Trigger == "" {
		return fmt.Errorf("job trigger is required")
	}
	return nil
}

// Marshal encodes the envelope for the wire.
func (j Job) Marshal() ([]byte, error) {
	if err := j.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(j)
}

// UnmarshalJob decodes and validates a wire envelope.
func UnmarshalJob(data []byte) (Job, error) {
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return Job{}, fmt.Errorf("decode job envelope: %w", err)
	}
	if err := job.Validate(); err != nil {
		return Job{}, err
	}
	return job, nil
}
