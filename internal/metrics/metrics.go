package metrics

import (
	"fmt"
	"sync"
	"time"
)

// SessionMetrics tracks per-session caption throughput and latency. Summary
// is logged when the session is finalized.
type SessionMetrics struct {
	SessionID        string
	Lang             string
	StartTime        time.Time
	EndTime          time.Time
	CaptionCount     int
	TranscriptLength int
	FirstCaptionTime *time.Time
	mu               sync.Mutex
}

func NewSessionMetrics(sessionID, lang string) *SessionMetrics {
	return &SessionMetrics{
		SessionID: sessionID,
		Lang:      lang,
		StartTime: time.Now(),
	}
}

func (m *SessionMetrics) AddCaption(text string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FirstCaptionTime == nil {
		now := time.Now()
		m.FirstCaptionTime = &now
	}
	m.CaptionCount++
	m.TranscriptLength += len(text)
}

func (m *SessionMetrics) Finalize() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.EndTime = time.Now()
}

func (m *SessionMetrics) Summary() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	duration := m.EndTime.Sub(m.StartTime)
	var latency time.Duration
	if m.FirstCaptionTime != nil {
		latency = m.FirstCaptionTime.Sub(m.StartTime)
	}

	return fmt.Sprintf(
		"Session: %s\n"+
			"Language: %s\n"+
			"Duration: %v\n"+
			"Captions: %d\n"+
			"Transcript Length: %d chars\n"+
			"First Caption Latency: %v\n",
		m.SessionID,
		m.Lang,
		duration,
		m.CaptionCount,
		m.TranscriptLength,
		latency,
	)
}
