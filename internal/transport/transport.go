package transport

import (
	"encoding/json"
	"fmt"
)

// Server-to-client envelope types.
const (
	TypeAccepted = "accepted"
	TypeState    = "state"
	TypeCaption  = "caption"
	TypeDone     = "done"
	TypeError    = "error"
)

// Client-to-server request types.
const (
	TypeSubmit = "submit"
	TypeCancel = "cancel"
	TypeAttach = "attach"
)

// Source kinds carried in a submit request.
const (
	SourceFile = "file"
	SourceURL  = "url"
)

// Envelope is a server-to-client message. Fields are populated per Type;
// Confidence stays nil when the engine reported none, so clients can tell
// "unknown" apart from zero.
type Envelope struct {
	Type       string   `json:"type"`
	SessionID  string   `json:"session_id,omitempty"`
	State      string   `json:"state,omitempty"`
	Seq        uint64   `json:"seq,omitempty"`
	Text       string   `json:"text,omitempty"`
	Original   string   `json:"original,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
	Transcript string   `json:"transcript,omitempty"`
	Kind       string   `json:"kind,omitempty"`
	Message    string   `json:"message,omitempty"`
}

// Source describes where the media comes from in a submit request.
type Source struct {
	Kind string `json:"kind"`
	Path string `json:"path,omitempty"`
	URL  string `json:"url,omitempty"`
}

// Request is a client-to-server message.
type Request struct {
	Type      string  `json:"type"`
	Source    *Source `json:"source,omitempty"`
	Lang      string  `json:"lang,omitempty"`
	SessionID string  `json:"session_id,omitempty"`
	LastSeq   *uint64 `json:"last_seq,omitempty"`
}

// ParseRequest decodes and structurally validates a client message.
func ParseRequest(data []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("malformed request: %w", err)
	}

	switch req.Type {
	case TypeSubmit:
		if req.Source == nil {
			return nil, fmt.Errorf("submit request missing source")
		}
		switch req.Source.Kind {
		case SourceFile:
			if req.Source.Path == "" {
				return nil, fmt.Errorf("submit request missing source path")
			}
		case SourceURL:
			if req.Source.URL == "" {
				return nil, fmt.Errorf("submit request missing source url")
			}
		default:
			return nil, fmt.Errorf("unknown source kind: %q", req.Source.Kind)
		}
	case TypeCancel, TypeAttach:
		if req.SessionID == "" {
			return nil, fmt.Errorf("%s request missing session_id", req.Type)
		}
	default:
		return nil, fmt.Errorf("unknown request type: %q", req.Type)
	}

	return &req, nil
}

// Conn is the sending side of one client connection. The websocket layer
// implements it; tests substitute an in-memory recorder. Send must not block
// indefinitely: a conn that can no longer accept messages returns an error
// and the caller releases the binding, leaving delivery to replay.
type Conn interface {
	Send(env Envelope) error
	Close() error
}
