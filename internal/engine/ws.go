package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/captionworks/captionstream/internal/ingest"
)

const (
	// Audio is streamed in ~250ms chunks of 16kHz 16-bit mono.
	chunkSize     = 8000
	chunkInterval = 250 * time.Millisecond
)

// WSEngine streams extracted audio to a websocket STT server (Vosk-style
// protocol: binary audio frames in, JSON results out, `{"eof": 1}` to flush).
type WSEngine struct {
	serverURL  string
	apiKey     string
	sampleRate int
}

func NewWSEngine(serverURL, apiKey string, sampleRate int) *WSEngine {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	return &WSEngine{
		serverURL:  serverURL,
		apiKey:     apiKey,
		sampleRate: sampleRate,
	}
}

// Result as emitted by the STT server. Partial results are progress-only and
// not forwarded; each non-empty Text is one finalized segment.
type sttResult struct {
	Text   string `json:"text"`
	Result []struct {
		Word  string  `json:"word"`
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Conf  float64 `json:"conf"`
	} `json:"result"`
	Partial string `json:"partial"`
}

func (e *WSEngine) Transcribe(ctx context.Context, ref ingest.MediaReference, lang string) (Stream, error) {
	url := fmt.Sprintf("%s/ws?sample_rate=%d&lang=%s", e.serverURL, e.sampleRate, lang)

	header := http.Header{}
	if e.apiKey != "" {
		header.Add("Authorization", e.apiKey)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to STT server: %w", err)
	}

	s := &wsStream{
		conn:       conn,
		increments: make(chan Increment, 100),
		done:       make(chan struct{}),
	}

	go s.sendAudio(ctx, ref.AudioPath)
	go s.readResults()

	return s, nil
}

type wsStream struct {
	conn       *websocket.Conn
	increments chan Increment
	done       chan struct{}

	mu     sync.Mutex
	err    error
	closed bool
}

func (s *wsStream) Increments() <-chan Increment {
	return s.increments
}

func (s *wsStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *wsStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.done)
	s.mu.Unlock()
	return s.conn.Close()
}

func (s *wsStream) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil && !s.closed {
		s.err = err
	}
}

// sendAudio streams the WAV file to the server in paced chunks, then sends
// the EOF marker so the server flushes its final result.
func (s *wsStream) sendAudio(ctx context.Context, audioPath string) {
	f, err := os.Open(audioPath)
	if err != nil {
		s.setErr(fmt.Errorf("failed to open audio: %w", err))
		s.conn.Close()
		return
	}
	defer f.Close()

	buf := make([]byte, chunkSize)
	ticker := time.NewTicker(chunkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
		}

		n, readErr := f.Read(buf)
		if n > 0 {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return
			}
			if err := s.conn.WriteMessage(websocket.BinaryMessage, buf[:n]); err != nil {
				s.setErr(fmt.Errorf("failed to send audio: %w", err))
				return
			}
		}
		if readErr != nil {
			break
		}
	}

	if err := s.conn.WriteMessage(websocket.TextMessage, []byte(`{"eof": 1}`)); err != nil {
		s.setErr(fmt.Errorf("failed to send EOF marker: %w", err))
	}
}

func (s *wsStream) readResults() {
	defer close(s.increments)

	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			// A normal close after the EOF marker is clean end-of-input.
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.setErr(fmt.Errorf("STT connection failed: %w", err))
			}
			return
		}

		var result sttResult
		if err := json.Unmarshal(message, &result); err != nil {
			log.Printf("Failed to parse STT result: %v", err)
			continue
		}
		if result.Text == "" {
			continue
		}

		inc := Increment{Text: result.Text}
		if len(result.Result) > 0 {
			inc.Offset = result.Result[0].Start
			sum := 0.0
			for _, w := range result.Result {
				sum += w.Conf
			}
			conf := sum / float64(len(result.Result))
			inc.Confidence = &conf
		}
		// Close must unblock this send even when nobody is consuming, or
		// the reader goroutine leaks on a flooded buffer.
		select {
		case s.increments <- inc:
		case <-s.done:
			return
		}
	}
}
