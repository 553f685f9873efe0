package translate

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestClientTranslate(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Method = %s, want POST", r.Method)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("ParseForm failed: %v", err)
		}
		if got := r.PostFormValue("q"); got != "hello" {
			t.Errorf("q = %q, want hello", got)
		}
		if got := r.PostFormValue("source"); got != "en" {
			t.Errorf("source = %q, want en", got)
		}
		if got := r.PostFormValue("target"); got != "hi" {
			t.Errorf("target = %q, want hi", got)
		}
		if got := r.PostFormValue("format"); got != "text" {
			t.Errorf("format = %q, want text", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"translatedText":"नमस्ते"}`))
	}))
	defer ts.Close()

	client := NewClient(ts.URL, 5*time.Second)
	got, err := client.Translate(context.Background(), "hello", "en", "hi")
	if err != nil {
		t.Fatalf("Translate failed: %v", err)
	}
	if got != "नमस्ते" {
		t.Errorf("Translate = %q, want नमस्ते", got)
	}
}

func TestClientTranslateServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "too many requests", http.StatusTooManyRequests)
	}))
	defer ts.Close()

	client := NewClient(ts.URL, 5*time.Second)
	if _, err := client.Translate(context.Background(), "hello", "en", "hi"); err == nil {
		t.Fatal("Expected error for non-200 response")
	}
}

func TestClientTranslateUnreachable(t *testing.T) {
	client := NewClient("http://127.0.0.1:1", 500*time.Millisecond)
	if _, err := client.Translate(context.Background(), "hello", "en", "hi"); err == nil {
		t.Fatal("Expected error for unreachable endpoint")
	}
}
