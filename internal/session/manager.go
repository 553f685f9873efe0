package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/captionworks/captionstream/internal/engine"
	"github.com/captionworks/captionstream/internal/ingest"
	"github.com/captionworks/captionstream/internal/metrics"
	"github.com/captionworks/captionstream/internal/simplify"
	"github.com/captionworks/captionstream/internal/status"
	"github.com/captionworks/captionstream/internal/translate"
	"github.com/captionworks/captionstream/internal/transport"
)

// Resolver is the ingest collaborator: it turns a source descriptor into a
// processable media reference. Implemented by ingest.Coordinator.
type Resolver interface {
	Resolve(ctx context.Context, src ingest.SourceDescriptor) (ingest.MediaReference, error)
}

// Config tunes manager behavior. Zero values fall back to sane defaults.
type Config struct {
	// EngineLang is the language the engine emits raw transcripts in.
	// Sessions targeting a different language go through the translator.
	EngineLang string

	ResolveTimeout   time.Duration
	IncrementTimeout time.Duration
	TranslateTimeout time.Duration

	// SessionRetention is how long a session survives without a bound
	// connection before the janitor reaps it.
	SessionRetention time.Duration
	ReapInterval     time.Duration

	MaxWordsPerLine int

	OutputDir       string
	SaveTranscripts bool
	SaveEventLogs   bool
}

func (c *Config) applyDefaults() {
	if c.EngineLang == "" {
		c.EngineLang = "en"
	}
	if c.ResolveTimeout <= 0 {
		c.ResolveTimeout = 2 * time.Minute
	}
	if c.IncrementTimeout <= 0 {
		c.IncrementTimeout = time.Minute
	}
	if c.TranslateTimeout <= 0 {
		c.TranslateTimeout = 10 * time.Second
	}
	if c.SessionRetention <= 0 {
		c.SessionRetention = 10 * time.Minute
	}
	if c.ReapInterval <= 0 {
		c.ReapInterval = 30 * time.Second
	}
	if c.MaxWordsPerLine <= 0 {
		c.MaxWordsPerLine = simplify.DefaultMaxWords
	}
}

// Manager owns every live session: creation, the per-session consumption
// goroutine, connection bindings and teardown. One Manager is created at
// server start and Shutdown cancels all sessions on exit.
type Manager struct {
	cfg        Config
	resolver   Resolver
	engine     engine.Engine
	translator translate.Translator
	status     status.Store

	mu       sync.Mutex
	sessions map[uuid.UUID]*Session
	closed   bool

	shutdown chan struct{}
	wg       sync.WaitGroup
}

// NewManager wires the manager to its collaborators. translator may be nil
// (captions stay in the engine language); st may be nil (no status publishing).
func NewManager(cfg Config, resolver Resolver, eng engine.Engine, translator translate.Translator, st status.Store) *Manager {
	cfg.applyDefaults()
	if st == nil {
		st = status.Nop{}
	}

	m := &Manager{
		cfg:        cfg,
		resolver:   resolver,
		engine:     eng,
		translator: translator,
		status:     st,
		sessions:   make(map[uuid.UUID]*Session),
		shutdown:   make(chan struct{}),
	}

	m.wg.Add(1)
	go m.reapLoop()

	return m
}

// Submit accepts a source descriptor, registers a session and starts
// resolution in the background. It never blocks on the transcription itself.
func (m *Manager) Submit(src ingest.SourceDescriptor) (uuid.UUID, error) {
	if !SupportedLang(src.Lang) {
		return uuid.Nil, fmt.Errorf("unsupported language %q", src.Lang)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return uuid.Nil, errors.New("session manager is shut down")
	}

	now := time.Now()
	id := uuid.New()
	ctx, cancel := context.WithCancel(context.Background())

	s := &Session{
		ID:           id,
		Source:       src,
		Lang:         src.Lang,
		CreatedAt:    now,
		buffer:       NewCaptionBuffer(),
		metrics:      metrics.NewSessionMetrics(id.String(), src.Lang),
		ctx:          ctx,
		cancel:       cancel,
		state:        StateCreated,
		unboundSince: now,
	}

	if m.cfg.SaveEventLogs {
		eventLog, err := NewEventLog(m.cfg.OutputDir, id.String(), now)
		if err != nil {
			log.Printf("Session %s: failed to create event log: %v", id, err)
		} else {
			s.eventLog = eventLog
		}
	}

	m.sessions[id] = s
	m.wg.Add(1)
	m.mu.Unlock()

	log.Printf("Session %s created (%s, lang=%s)", id, src.Kind, src.Lang)
	go m.run(s)

	return id, nil
}

// Cancel aborts a session. Idempotent; a no-op once the session is terminal.
func (m *Manager) Cancel(id uuid.UUID) {
	if s, ok := m.lookup(id); ok {
		s.cancel()
	}
}

// Attach binds conn to the session, superseding any previous binding, and
// replays buffered events with sequence greater than lastSeq.
func (m *Manager) Attach(id uuid.UUID, conn transport.Conn, lastSeq uint64) error {
	s, ok := m.lookup(id)
	if !ok {
		return fmt.Errorf("unknown session %s", id)
	}
	s.attach(conn, lastSeq)
	return nil
}

// Detach releases the binding if conn still holds it.
func (m *Manager) Detach(id uuid.UUID, conn transport.Conn) {
	if s, ok := m.lookup(id); ok {
		s.detach(conn)
	}
}

// Shutdown cancels every session and waits for their run loops to finish.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	for _, s := range m.sessions {
		s.cancel()
	}
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	m.mu.Lock()
	for id, s := range m.sessions {
		s.eventLog.Close()
		delete(m.sessions, id)
	}
	m.mu.Unlock()
}

func (m *Manager) lookup(id uuid.UUID) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// run is the per-session consumption path: resolve, stream, finalize. It is
// the only goroutine that appends to the session's buffer.
func (m *Manager) run(s *Session) {
	defer m.wg.Done()

	m.transition(s, StateResolving)

	rctx, rcancel := context.WithTimeout(s.ctx, m.cfg.ResolveTimeout)
	ref, err := m.resolver.Resolve(rctx, s.Source)
	rcancel()
	if err != nil {
		switch {
		case s.ctx.Err() != nil:
			m.finalizeCancelled(s)
		case errors.Is(err, context.DeadlineExceeded):
			m.fail(s, KindTimeout, "timed out preparing media")
		default:
			m.fail(s, ingestKind(err), err.Error())
		}
		return
	}

	stream, err := m.engine.Transcribe(s.ctx, ref, s.Lang)
	if err != nil {
		if s.ctx.Err() != nil {
			m.finalizeCancelled(s)
			return
		}
		log.Printf("Session %s: engine start failed: %v", s.ID, err)
		m.fail(s, KindEngineFailure, "transcription engine unavailable")
		return
	}
	defer stream.Close()

	m.transition(s, StateStreaming)

	for {
		timer := time.NewTimer(m.cfg.IncrementTimeout)
		select {
		case <-s.ctx.Done():
			timer.Stop()
			m.finalizeCancelled(s)
			return

		case inc, ok := <-stream.Increments():
			timer.Stop()
			if !ok {
				if serr := stream.Err(); serr != nil {
					log.Printf("Session %s: engine stream failed: %v", s.ID, serr)
					m.fail(s, KindEngineFailure, "transcription failed")
				} else {
					m.complete(s)
				}
				return
			}
			if err := m.emitCaption(s, inc); err != nil {
				log.Printf("Session %s: %v", s.ID, err)
				m.fail(s, KindInternal, "internal error")
				return
			}

		case <-timer.C:
			m.fail(s, KindTimeout, "timed out waiting for captions")
			return
		}
	}
}

// emitCaption post-processes one engine increment, sequences it, appends it
// to the buffer and pushes it to the bound connection.
func (m *Manager) emitCaption(s *Session, inc engine.Increment) error {
	text := simplify.Lines(inc.Text, m.cfg.MaxWordsPerLine)

	if m.translator != nil && s.Lang != m.cfg.EngineLang {
		tctx, cancel := context.WithTimeout(s.ctx, m.cfg.TranslateTimeout)
		translated, err := m.translator.Translate(tctx, text, m.cfg.EngineLang, s.Lang)
		cancel()
		if err != nil {
			// Not fatal: the untranslated caption is still useful.
			log.Printf("Session %s: translation failed: %v", s.ID, err)
		} else if translated != "" {
			translated = simplify.Lines(translated, m.cfg.MaxWordsPerLine)
			if translated != "" {
				text = translated
			}
		}
	}

	s.mu.Lock()
	event := CaptionEvent{
		Seq:        s.buffer.NextSeq(),
		Text:       text,
		Original:   inc.Text,
		Confidence: inc.Confidence,
		At:         time.Now(),
	}
	if err := s.buffer.Append(event); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("caption append rejected: %w", err)
	}
	s.pushLocked(captionEnvelope(s.ID, event))
	s.mu.Unlock()

	s.metrics.AddCaption(event.Text)
	s.eventLog.LogCaption(s.ID.String(), event)
	return nil
}

// transition moves the session forward and notifies the bound connection.
// Returns false if the session is already terminal.
func (m *Manager) transition(s *Session, next State) bool {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return false
	}
	s.state = next
	if !next.Terminal() {
		s.pushLocked(stateEnvelope(s.ID, next))
	}
	s.mu.Unlock()

	s.eventLog.LogState(s.ID.String(), next)
	m.publishState(s, next)
	return true
}

func (m *Manager) publishState(s *Session, state State) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.status.SetState(ctx, s.ID.String(), string(state), s.Lang); err != nil {
		log.Printf("Session %s: status publish failed: %v", s.ID, err)
	}
}

// finalize moves the session into a terminal state and, when env is set,
// records and pushes the single terminal notification. State and notification
// change together so a concurrent attach never sees one without the other.
func (m *Manager) finalize(s *Session, next State, env *transport.Envelope) bool {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return false
	}
	s.state = next
	if env != nil {
		s.terminal = env
		s.pushLocked(*env)
	}
	s.mu.Unlock()

	s.eventLog.LogState(s.ID.String(), next)
	m.publishState(s, next)
	m.finalizeMetrics(s)
	return true
}

// complete finalizes a session whose engine stream ended cleanly. The single
// done notification carries the full ordered transcript.
func (m *Manager) complete(s *Session) {
	transcript := s.buffer.Transcript()

	env := transport.Envelope{
		Type:       transport.TypeDone,
		SessionID:  s.ID.String(),
		Transcript: transcript,
	}
	if !m.finalize(s, StateCompleted, &env) {
		return
	}

	s.eventLog.LogDone(s.ID.String(), len(transcript))
	if m.cfg.SaveTranscripts && transcript != "" {
		m.saveTranscript(s, transcript)
	}
	log.Printf("Session %s completed (%d captions)", s.ID, s.buffer.Len())
}

// fail finalizes a session with a single error notification. The buffer is
// retained for replay; no further increments are accepted.
func (m *Manager) fail(s *Session, kind, message string) {
	env := transport.Envelope{
		Type:      transport.TypeError,
		SessionID: s.ID.String(),
		Kind:      kind,
		Message:   message,
	}
	if !m.finalize(s, StateFailed, &env) {
		return
	}

	s.eventLog.LogError(s.ID.String(), kind, message)
	log.Printf("Session %s failed (%s): %s", s.ID, kind, message)
}

// finalizeCancelled ends an explicitly aborted session. No notification is
// emitted; captions already delivered stay visible on the client.
func (m *Manager) finalizeCancelled(s *Session) {
	if !m.finalize(s, StateCancelled, nil) {
		return
	}
	log.Printf("Session %s cancelled", s.ID)
}

func (m *Manager) finalizeMetrics(s *Session) {
	s.metrics.Finalize()
	log.Printf("Session %s metrics:\n%s", s.ID, s.metrics.Summary())
}

// saveTranscript mirrors the transcript to a file under OutputDir.
func (m *Manager) saveTranscript(s *Session, transcript string) {
	if err := os.MkdirAll(m.cfg.OutputDir, 0755); err != nil {
		log.Printf("Session %s: failed to create output directory: %v", s.ID, err)
		return
	}

	metadata := fmt.Sprintf("Session ID: %s\nLanguage: %s\nStart Time: %s\nDuration: %v\n\n---TRANSCRIPT---\n\n",
		s.ID,
		s.Lang,
		s.CreatedAt.Format("2006-01-02 15:04:05"),
		time.Since(s.CreatedAt),
	)

	filename := filepath.Join(
		m.cfg.OutputDir,
		fmt.Sprintf("%s_%s_%s.txt",
			s.CreatedAt.Format("20060102_150405"),
			s.Lang,
			s.ID.String()[:8],
		),
	)

	if err := os.WriteFile(filename, []byte(metadata+transcript), 0644); err != nil {
		log.Printf("Session %s: failed to save transcript: %v", s.ID, err)
	} else {
		log.Printf("Session %s: transcript saved to %s", s.ID, filename)
	}
}

// reapLoop removes sessions that have been without a binding for longer than
// the retention window. Non-terminal sessions are cancelled first.
func (m *Manager) reapLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.shutdown:
			return
		case now := <-ticker.C:
			m.reap(now)
		}
	}
}

func (m *Manager) reap(now time.Time) {
	m.mu.Lock()
	var expired []*Session
	for id, s := range m.sessions {
		if s.unboundFor(now) > m.cfg.SessionRetention {
			expired = append(expired, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range expired {
		s.cancel()
		s.eventLog.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := m.status.Clear(ctx, s.ID.String()); err != nil {
			log.Printf("Session %s: status clear failed: %v", s.ID, err)
		}
		cancel()

		log.Printf("Session %s reaped after %v without a connection", s.ID, m.cfg.SessionRetention)
	}
}

func ingestKind(err error) string {
	switch {
	case errors.Is(err, ingest.ErrUnsupportedMedia):
		return KindUnsupportedMedia
	case errors.Is(err, ingest.ErrRetrievalFailed):
		return KindRetrievalFailed
	default:
		return KindInvalidSource
	}
}
