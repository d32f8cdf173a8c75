package postgres

import (
	"testing"
	"time"

	"github.com/bardlex/gompminer/internal/reporting"
)

func TestShareFromEvent(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.FixedZone("CEST", 2*3600))
	share := ShareFromEvent(reporting.ShareEvent{
		Pool:           "pool:3333",
		User:           "worker1",
		JobID:          "job-1",
		Nonce:          "1dac2b7c",
		Status:         reporting.StatusRejected,
		Reason:         "duplicate share",
		BlockCandidate: true,
		At:             at,
	})

	if share.Username != "worker1" || share.JobID != "job-1" || share.Nonce != "1dac2b7c" {
		t.Errorf("ShareFromEvent() = %+v", share)
	}
	if share.Status != "rejected" || share.Reason != "duplicate share" {
		t.Errorf("status = %q, reason = %q", share.Status, share.Reason)
	}
	if !share.IsBlockCandidate {
		t.Error("expected block candidate flag to carry over")
	}
	if share.RecordedAt.Location() != time.UTC || !share.RecordedAt.Equal(at) {
		t.Errorf("RecordedAt = %v, want %v in UTC", share.RecordedAt, at)
	}
}

func TestShareFromEvent_ZeroTime(t *testing.T) {
	share := ShareFromEvent(reporting.ShareEvent{})
	if share.RecordedAt.IsZero() {
		t.Error("expected RecordedAt to default to now")
	}
}
