package enums

import "testing"

func TestProcessingStatusTransitions(t *testing.T) {
	allowed := []struct {
		from ProcessingStatus
		to   ProcessingStatus
	}{
		{ProcessingStatusPending, ProcessingStatusProcessing},
		{ProcessingStatusFailed, ProcessingStatusProcessing},
		{ProcessingStatusProcessing, ProcessingStatusCompleted},
		{ProcessingStatusProcessing, ProcessingStatusFailed},
		{ProcessingStatusCompleted, ProcessingStatusPending},
	}
	for _, tt := range allowed {
		if !tt.from.CanTransitionTo(tt.to) {
			t.Fatalf("expected %s -> %s to be allowed", tt.from, tt.to)
		}
	}

	denied := []struct {
		from ProcessingStatus
		to   ProcessingStatus
	}{
		{ProcessingStatusPending, ProcessingStatusCompleted},
		{ProcessingStatusPending, ProcessingStatusFailed},
		{ProcessingStatusCompleted, ProcessingStatusProcessing},
		{ProcessingStatusCompleted, ProcessingStatusFailed},
		{ProcessingStatusFailed, ProcessingStatusCompleted},
		{ProcessingStatusProcessing, ProcessingStatusPending},
	}
	for _, tt := range denied {
		if tt.from.CanTransitionTo(tt.to) {
			t.Fatalf("expected %s -> %s to be rejected", tt.from, tt.to)
		}
	}
}

func TestProcessingStatusEligibility(t *testing.T) {
	if !ProcessingStatusPending.IsEligible() || !ProcessingStatusFailed.IsEligible() {
		t.Fatal("pending and failed should be eligible for selection")
	}
	if ProcessingStatusProcessing.IsEligible() || ProcessingStatusCompleted.IsEligible() {
		t.Fatal("processing and completed should not be eligible")
	}
}

func TestParseProcessingStatus(t *testing.T) {
	status, err := ParseProcessingStatus("failed")
	if err != nil {
		t.Fatalf("ParseProcessingStatus: %v", err)
	}
	if status != ProcessingStatusFailed {
		t.Fatalf("expected failed, got %s", status)
	}
	if _, err := ParseProcessingStatus("done"); err == nil {
		t.Fatal("expected error for unknown status")
	}
}
