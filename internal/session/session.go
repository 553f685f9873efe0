package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/captionworks/captionstream/internal/ingest"
	"github.com/captionworks/captionstream/internal/metrics"
	"github.com/captionworks/captionstream/internal/transport"
)

// State of a session. Transitions move strictly forward; Completed, Failed
// and Cancelled are terminal.
type State string

const (
	StateCreated   State = "created"
	StateResolving State = "resolving"
	StateStreaming State = "streaming"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// Error kinds carried in error notifications. All but KindBadRequest end the
// session; KindBadRequest reports a rejected request on an otherwise healthy
// connection.
const (
	KindInvalidSource    = "invalid_source"
	KindUnsupportedMedia = "unsupported_media"
	KindRetrievalFailed  = "retrieval_failed"
	KindEngineFailure    = "engine_failure"
	KindTimeout          = "timeout"
	KindInternal         = "internal"
	KindBadRequest       = "bad_request"
)

// Languages a client may request captions in.
var supportedLangs = map[string]bool{
	"en": true,
	"hi": true,
	"ta": true,
	"bn": true,
	"te": true,
	"ml": true,
	"mr": true,
}

// SupportedLang reports whether lang is one of the caption languages.
func SupportedLang(lang string) bool {
	return supportedLangs[lang]
}

// Session is one transcription job: a source, a target language, an event
// buffer and at most one live connection binding. The buffer is appended to
// only by the manager's run loop; binding changes and pushes serialize on mu.
type Session struct {
	ID        uuid.UUID
	Source    ingest.SourceDescriptor
	Lang      string
	CreatedAt time.Time

	buffer   *CaptionBuffer
	metrics  *metrics.SessionMetrics
	eventLog *EventLog

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	state        State
	binding      transport.Conn
	unboundSince time.Time
	terminal     *transport.Envelope
}

// State returns the session's current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Buffer returns the session's caption buffer.
func (s *Session) Buffer() *CaptionBuffer {
	return s.buffer
}

// pushLocked delivers env to the bound connection, best-effort. A failed
// send releases the binding; the event stays in the buffer for replay.
// Callers hold s.mu.
func (s *Session) pushLocked(env transport.Envelope) {
	if s.binding == nil {
		return
	}
	if err := s.binding.Send(env); err != nil {
		s.binding = nil
		s.unboundSince = time.Now()
	}
}

// attach binds conn, superseding any previous binding, and replays buffered
// events with sequence greater than lastSeq. If the session already ended,
// the terminal notification is re-sent after the replay.
func (s *Session) attach(conn transport.Conn, lastSeq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.binding = conn
	s.unboundSince = time.Time{}

	if !s.state.Terminal() {
		s.pushLocked(stateEnvelope(s.ID, s.state))
	}
	for _, event := range s.buffer.After(lastSeq) {
		if s.binding == nil {
			return
		}
		s.pushLocked(captionEnvelope(s.ID, event))
	}
	if s.terminal != nil {
		s.pushLocked(*s.terminal)
	}
}

// detach releases the binding if conn still holds it. A newer binding is
// left untouched.
func (s *Session) detach(conn transport.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.binding == conn {
		s.binding = nil
		s.unboundSince = time.Now()
	}
}

// unboundFor returns how long the session has been without a binding, or 0
// while one is attached.
func (s *Session) unboundFor(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.binding != nil || s.unboundSince.IsZero() {
		return 0
	}
	return now.Sub(s.unboundSince)
}

func stateEnvelope(id uuid.UUID, state State) transport.Envelope {
	return transport.Envelope{
		Type:      transport.TypeState,
		SessionID: id.String(),
		State:     string(state),
	}
}

func captionEnvelope(id uuid.UUID, event CaptionEvent) transport.Envelope {
	return transport.Envelope{
		Type:       transport.TypeCaption,
		SessionID:  id.String(),
		Seq:        event.Seq,
		Text:       event.Text,
		Original:   event.Original,
		Confidence: event.Confidence,
	}
}
