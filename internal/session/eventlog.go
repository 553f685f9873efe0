package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// EventLog writes structured JSONL session events to a file. A nil EventLog
// discards everything, so callers never need to guard.
type EventLog struct {
	mu   sync.Mutex
	file *os.File
}

type eventRecord struct {
	Timestamp string `json:"ts"`
	Event     string `json:"event"`
	SessionID string `json:"session_id"`
	State     string `json:"state,omitempty"`
	Seq       uint64 `json:"seq,omitempty"`
	Text      string `json:"text,omitempty"`
	Kind      string `json:"kind,omitempty"`
	Message   string `json:"message,omitempty"`
}

// NewEventLog creates a log file under outputDir named by start time and the
// short session id.
func NewEventLog(outputDir, sessionID string, started time.Time) (*EventLog, error) {
	if outputDir == "" {
		outputDir = "."
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, err
	}
	shortID := sessionID
	if len(sessionID) > 8 {
		shortID = sessionID[:8]
	}
	filename := filepath.Join(outputDir, fmt.Sprintf("%s_session_%s.jsonl", started.Format("20060102_150405"), shortID))
	f, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	return &EventLog{file: f}, nil
}

func (el *EventLog) Close() error {
	if el == nil {
		return nil
	}
	el.mu.Lock()
	defer el.mu.Unlock()
	if el.file != nil {
		err := el.file.Close()
		el.file = nil
		return err
	}
	return nil
}

func (el *EventLog) write(rec eventRecord) {
	if el == nil {
		return
	}
	el.mu.Lock()
	defer el.mu.Unlock()
	if el.file == nil {
		return
	}
	rec.Timestamp = time.Now().Format(time.RFC3339Nano)
	enc := json.NewEncoder(el.file)
	_ = enc.Encode(rec)
}

func (el *EventLog) LogState(sessionID string, state State) {
	el.write(eventRecord{Event: "state", SessionID: sessionID, State: string(state)})
}

func (el *EventLog) LogCaption(sessionID string, event CaptionEvent) {
	el.write(eventRecord{Event: "caption", SessionID: sessionID, Seq: event.Seq, Text: event.Text})
}

func (el *EventLog) LogDone(sessionID string, transcriptLen int) {
	el.write(eventRecord{Event: "done", SessionID: sessionID, Message: fmt.Sprintf("%d chars", transcriptLen)})
}

func (el *EventLog) LogError(sessionID, kind, message string) {
	el.write(eventRecord{Event: "error", SessionID: sessionID, Kind: kind, Message: message})
}
