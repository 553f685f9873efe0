package metrics

import (
	"strings"
	"testing"
)

func TestSessionMetrics(t *testing.T) {
	m := NewSessionMetrics("abc123", "hi")

	m.AddCaption("hello")
	m.AddCaption("world!")
	m.Finalize()

	if m.CaptionCount != 2 {
		t.Errorf("CaptionCount = %d, want 2", m.CaptionCount)
	}
	if m.TranscriptLength != 11 {
		t.Errorf("TranscriptLength = %d, want 11", m.TranscriptLength)
	}
	if m.FirstCaptionTime == nil {
		t.Error("FirstCaptionTime was never recorded")
	}

	summary := m.Summary()
	if !strings.Contains(summary, "abc123") {
		t.Errorf("Summary missing session id: %s", summary)
	}
	if !strings.Contains(summary, "Captions: 2") {
		t.Errorf("Summary missing caption count: %s", summary)
	}
}

func TestSummaryWithoutCaptions(t *testing.T) {
	m := NewSessionMetrics("abc123", "en")
	m.Finalize()

	// No captions means no first-caption latency; Summary must not panic.
	summary := m.Summary()
	if !strings.Contains(summary, "Captions: 0") {
		t.Errorf("Summary missing zero caption count: %s", summary)
	}
}
