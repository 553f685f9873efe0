package server

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// handleUpload receives a media file and registers it with the ingest
// coordinator so a submit referencing the path can never start on a partial
// file: the path stays unresolvable until the copy completes.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "no file"})
		return
	}
	defer file.Close()

	name := sanitizeFilename(header.Filename)
	if name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "no file selected"})
		return
	}

	dst := filepath.Join(s.config.UploadDir, name)
	s.coordinator.BeginUpload(dst)

	out, err := os.Create(dst)
	if err != nil {
		s.coordinator.FinishUpload(dst)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "failed to store upload"})
		return
	}

	_, copyErr := io.Copy(out, file)
	closeErr := out.Close()
	if copyErr != nil || closeErr != nil {
		os.Remove(dst)
		s.coordinator.FinishUpload(dst)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "failed to store upload"})
		return
	}

	s.coordinator.FinishUpload(dst)
	log.Printf("Upload received: %s (%d bytes)", dst, header.Size)

	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"path":     dst,
		"filename": name,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}

// sanitizeFilename strips any path components a client might smuggle in.
func sanitizeFilename(name string) string {
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." {
		return ""
	}
	return name
}
