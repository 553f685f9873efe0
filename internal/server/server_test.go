package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/captionworks/captionstream/internal/engine"
	"github.com/captionworks/captionstream/internal/ingest"
	"github.com/captionworks/captionstream/internal/session"
	"github.com/captionworks/captionstream/internal/transport"
)

type passExtractor struct{}

func (passExtractor) ExtractAudio(_ context.Context, mediaPath string) (string, error) {
	return mediaPath, nil
}

func newTestServer(t *testing.T, eng engine.Engine) (*httptest.Server, string) {
	t.Helper()

	uploadDir := t.TempDir()
	coordinator := ingest.NewCoordinator(passExtractor{}, nil)

	manager := session.NewManager(session.Config{
		ResolveTimeout:   2 * time.Second,
		IncrementTimeout: 2 * time.Second,
	}, coordinator, eng, nil, nil)
	t.Cleanup(manager.Shutdown)

	srv, err := New(Config{UploadDir: uploadDir}, manager, coordinator)
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}

	ts := httptest.NewServer(srv.httpServer.Handler)
	t.Cleanup(ts.Close)
	return ts, uploadDir
}

func uploadFile(t *testing.T, ts *httptest.Server, filename, content string) map[string]any {
	t.Helper()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("CreateFormFile failed: %v", err)
	}
	io.WriteString(part, content)
	writer.Close()

	resp, err := http.Post(ts.URL+"/upload", writer.FormDataContentType(), &body)
	if err != nil {
		t.Fatalf("Upload request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		t.Fatalf("Upload status = %d: %s", resp.StatusCode, raw)
	}

	var result map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("Failed to decode upload response: %v", err)
	}
	return result
}

func TestHealth(t *testing.T) {
	ts, _ := newTestServer(t, engine.NewScripted(nil))

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("Health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Health status = %d, want 200", resp.StatusCode)
	}
}

func TestUpload(t *testing.T) {
	ts, uploadDir := newTestServer(t, engine.NewScripted(nil))

	result := uploadFile(t, ts, "talk.mp4", "fake video bytes")
	if result["success"] != true {
		t.Fatalf("Upload response = %+v", result)
	}

	path, _ := result["path"].(string)
	if !strings.HasPrefix(path, uploadDir) {
		t.Errorf("Uploaded path %q not under upload dir %q", path, uploadDir)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Uploaded file missing: %v", err)
	}
	if string(data) != "fake video bytes" {
		t.Errorf("Uploaded content = %q", data)
	}
}

func TestUploadRejectsMissingFile(t *testing.T) {
	ts, _ := newTestServer(t, engine.NewScripted(nil))

	resp, err := http.Post(ts.URL+"/upload", "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Status = %d, want 400", resp.StatusCode)
	}
}

func TestUploadStripsPathComponents(t *testing.T) {
	ts, uploadDir := newTestServer(t, engine.NewScripted(nil))

	result := uploadFile(t, ts, "../../etc/evil.mp4", "payload")
	path, _ := result["path"].(string)
	want := uploadDir + string(os.PathSeparator) + "evil.mp4"
	if path != want {
		t.Errorf("Sanitized path = %q, want %q", path, want)
	}
}

func TestSanitizeFilename(t *testing.T) {
	testCases := []struct {
		in   string
		want string
	}{
		{"talk.mp4", "talk.mp4"},
		{"dir/talk.mp4", "talk.mp4"},
		{`c:\users\talk.mp4`, "talk.mp4"},
		{"../talk.mp4", "talk.mp4"},
		{"..", ""},
		{".", ""},
		{"", ""},
		{"  ", ""},
	}

	for _, tc := range testCases {
		if got := sanitizeFilename(tc.in); got != tc.want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func dialWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("WebSocket dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// collectUntil reads envelopes until one of type stopAt arrives.
func collectUntil(t *testing.T, conn *websocket.Conn, stopAt string) []transport.Envelope {
	t.Helper()

	var envs []transport.Envelope
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var env transport.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			t.Fatalf("Read failed after %d envelopes (%+v): %v", len(envs), envs, err)
		}
		envs = append(envs, env)
		if env.Type == stopAt {
			return envs
		}
	}
}

func TestWSSubmitFlow(t *testing.T) {
	eng := engine.NewScripted([]engine.Increment{
		{Text: "hello everyone"},
		{Text: "thank you"},
	})
	ts, _ := newTestServer(t, eng)

	result := uploadFile(t, ts, "talk.mp4", "fake video bytes")
	path := result["path"].(string)

	conn := dialWS(t, ts)
	submit := transport.Request{
		Type:   transport.TypeSubmit,
		Source: &transport.Source{Kind: transport.SourceFile, Path: path},
		Lang:   "en",
	}
	if err := conn.WriteJSON(submit); err != nil {
		t.Fatalf("Submit write failed: %v", err)
	}

	envs := collectUntil(t, conn, transport.TypeDone)

	if envs[0].Type != transport.TypeAccepted || envs[0].SessionID == "" {
		t.Fatalf("First envelope should be accepted with a session id, got %+v", envs[0])
	}

	var captions []transport.Envelope
	for _, env := range envs {
		if env.Type == transport.TypeCaption {
			captions = append(captions, env)
		}
		if env.Type == transport.TypeError {
			t.Fatalf("Unexpected error envelope: %+v", env)
		}
	}
	if len(captions) != 2 {
		t.Fatalf("Expected 2 captions, got %d (%+v)", len(captions), envs)
	}
	if captions[0].Seq != 1 || captions[1].Seq != 2 {
		t.Errorf("Caption sequences = %d,%d, want 1,2", captions[0].Seq, captions[1].Seq)
	}

	done := envs[len(envs)-1]
	if done.Transcript != "hello everyone thank you" {
		t.Errorf("Transcript = %q", done.Transcript)
	}
}

func TestWSReattachReplays(t *testing.T) {
	eng := engine.NewScripted([]engine.Increment{
		{Text: "one"},
		{Text: "two"},
	})
	ts, _ := newTestServer(t, eng)

	result := uploadFile(t, ts, "talk.mp4", "fake video bytes")
	path := result["path"].(string)

	first := dialWS(t, ts)
	submit := transport.Request{
		Type:   transport.TypeSubmit,
		Source: &transport.Source{Kind: transport.SourceFile, Path: path},
		Lang:   "en",
	}
	if err := first.WriteJSON(submit); err != nil {
		t.Fatalf("Submit write failed: %v", err)
	}
	envs := collectUntil(t, first, transport.TypeDone)
	sessionID := envs[0].SessionID
	first.Close()

	// Reconnect claiming to have seen event 1 already.
	second := dialWS(t, ts)
	lastSeq := uint64(1)
	attach := transport.Request{Type: transport.TypeAttach, SessionID: sessionID, LastSeq: &lastSeq}
	if err := second.WriteJSON(attach); err != nil {
		t.Fatalf("Attach write failed: %v", err)
	}

	replayed := collectUntil(t, second, transport.TypeDone)
	var captions []transport.Envelope
	for _, env := range replayed {
		if env.Type == transport.TypeCaption {
			captions = append(captions, env)
		}
	}
	if len(captions) != 1 || captions[0].Seq != 2 {
		t.Fatalf("Expected replay of caption 2 only, got %+v", captions)
	}
}

// queueEngine hands out one engine per Transcribe call, so concurrent
// sessions can run different scripts.
type queueEngine struct {
	mu      sync.Mutex
	engines []engine.Engine
}

func (q *queueEngine) Transcribe(ctx context.Context, ref ingest.MediaReference, lang string) (engine.Stream, error) {
	q.mu.Lock()
	e := q.engines[0]
	if len(q.engines) > 1 {
		q.engines = q.engines[1:]
	}
	q.mu.Unlock()
	return e.Transcribe(ctx, ref, lang)
}

func TestWSAttachSwitchesSessions(t *testing.T) {
	slowScript := make([]engine.Increment, 100)
	for i := range slowScript {
		slowScript[i] = engine.Increment{Text: fmt.Sprintf("part %d", i+1)}
	}
	slow := engine.NewScripted(slowScript)
	slow.Interval = 30 * time.Millisecond
	quick := engine.NewScripted([]engine.Increment{{Text: "switched"}})

	ts, _ := newTestServer(t, &queueEngine{engines: []engine.Engine{slow, quick}})

	result := uploadFile(t, ts, "talk.mp4", "fake video bytes")
	path := result["path"].(string)
	submit := transport.Request{
		Type:   transport.TypeSubmit,
		Source: &transport.Source{Kind: transport.SourceFile, Path: path},
		Lang:   "en",
	}

	first := dialWS(t, ts)
	if err := first.WriteJSON(submit); err != nil {
		t.Fatalf("Submit write failed: %v", err)
	}

	// Wait until the slow session is streaming captions to this connection.
	var slowID string
	first.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var env transport.Envelope
		if err := first.ReadJSON(&env); err != nil {
			t.Fatalf("Read failed waiting for first caption: %v", err)
		}
		if env.Type == transport.TypeAccepted {
			slowID = env.SessionID
		}
		if env.Type == transport.TypeCaption {
			break
		}
	}

	second := dialWS(t, ts)
	if err := second.WriteJSON(submit); err != nil {
		t.Fatalf("Submit write failed: %v", err)
	}
	envs := collectUntil(t, second, transport.TypeDone)
	quickID := envs[0].SessionID

	// Switch the first connection onto the finished quick session.
	attach := transport.Request{Type: transport.TypeAttach, SessionID: quickID}
	if err := first.WriteJSON(attach); err != nil {
		t.Fatalf("Attach write failed: %v", err)
	}
	replayed := collectUntil(t, first, transport.TypeDone)
	done := replayed[len(replayed)-1]
	if done.SessionID != quickID {
		t.Fatalf("Done belongs to session %s, want %s", done.SessionID, quickID)
	}

	// The old binding is released on switch: pushes queue in order, so once
	// the new session's done arrived, nothing from the old session may follow.
	first.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	for {
		var env transport.Envelope
		if err := first.ReadJSON(&env); err != nil {
			break
		}
		if env.Type == transport.TypeCaption && env.SessionID == slowID {
			t.Fatalf("Caption seq %d from session %s arrived after switching away", env.Seq, slowID)
		}
	}
}

func TestWSRejectsMalformedRequest(t *testing.T) {
	ts, _ := newTestServer(t, engine.NewScripted(nil))
	conn := dialWS(t, ts)

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"dance"}`)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env transport.Envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if env.Type != transport.TypeError {
		t.Errorf("Expected error envelope, got %+v", env)
	}
	if env.Kind != session.KindBadRequest {
		t.Errorf("Error kind = %q, want %q", env.Kind, session.KindBadRequest)
	}
}

func TestWSAttachUnknownSession(t *testing.T) {
	ts, _ := newTestServer(t, engine.NewScripted(nil))
	conn := dialWS(t, ts)

	attach := transport.Request{Type: transport.TypeAttach, SessionID: "b2f7c6c8-9f7e-4d2a-8c7e-000000000000"}
	if err := conn.WriteJSON(attach); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env transport.Envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if env.Type != transport.TypeError || env.Message != "unknown session" {
		t.Errorf("Expected unknown session error, got %+v", env)
	}
	if env.Kind != session.KindBadRequest {
		t.Errorf("Error kind = %q, want %q", env.Kind, session.KindBadRequest)
	}
}
