package ingest

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// AudioExtractor turns a downloaded/uploaded media file into an audio file
// the transcription engine can consume. Implemented by media.Extractor.
type AudioExtractor interface {
	ExtractAudio(ctx context.Context, mediaPath string) (string, error)
}

// Retriever fetches a remote URL into a local file. The actual download and
// extraction backend is an external collaborator.
type Retriever interface {
	Fetch(ctx context.Context, rawURL string) (string, error)
}

// Media container/audio extensions the coordinator accepts for local files.
var supportedExtensions = map[string]bool{
	".mp4":  true,
	".mkv":  true,
	".webm": true,
	".mov":  true,
	".avi":  true,
	".mp3":  true,
	".wav":  true,
	".m4a":  true,
}

// Coordinator validates a source descriptor and produces a MediaReference.
// It tracks in-flight uploads so resolution never starts on a partial file.
// It performs no retries and never mutates session state.
type Coordinator struct {
	extractor AudioExtractor
	retriever Retriever

	mu       sync.Mutex
	inflight map[string]struct{}
}

func NewCoordinator(extractor AudioExtractor, retriever Retriever) *Coordinator {
	return &Coordinator{
		extractor: extractor,
		retriever: retriever,
		inflight:  make(map[string]struct{}),
	}
}

// BeginUpload marks path as receiving data. Resolution of the path fails
// until FinishUpload is called.
func (c *Coordinator) BeginUpload(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inflight[filepath.Clean(path)] = struct{}{}
}

// FinishUpload marks path as fully received and eligible for resolution.
func (c *Coordinator) FinishUpload(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inflight, filepath.Clean(path))
}

func (c *Coordinator) uploadInProgress(path string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.inflight[filepath.Clean(path)]
	return ok
}

// Resolve validates src and returns a reference to extracted audio ready for
// transcription. Errors wrap one of ErrInvalidSource, ErrUnsupportedMedia,
// ErrRetrievalFailed.
func (c *Coordinator) Resolve(ctx context.Context, src SourceDescriptor) (MediaReference, error) {
	var mediaPath string

	switch src.Kind {
	case KindLocalFile:
		path, err := c.resolveLocalFile(src.Path)
		if err != nil {
			return MediaReference{}, err
		}
		mediaPath = path

	case KindRemoteURL:
		path, err := c.resolveRemoteURL(ctx, src.URL)
		if err != nil {
			return MediaReference{}, err
		}
		mediaPath = path

	default:
		return MediaReference{}, fmt.Errorf("%w: unknown source kind %q", ErrInvalidSource, src.Kind)
	}

	audioPath, err := c.extractor.ExtractAudio(ctx, mediaPath)
	if err != nil {
		return MediaReference{}, fmt.Errorf("%w: audio extraction: %v", ErrUnsupportedMedia, err)
	}

	return MediaReference{AudioPath: audioPath}, nil
}

func (c *Coordinator) resolveLocalFile(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("%w: empty path", ErrInvalidSource)
	}
	if c.uploadInProgress(path) {
		return "", fmt.Errorf("%w: upload of %s not finalized", ErrInvalidSource, filepath.Base(path))
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("%w: %s not found", ErrInvalidSource, filepath.Base(path))
	}
	if info.IsDir() || info.Size() == 0 {
		return "", fmt.Errorf("%w: %s is not a usable media file", ErrInvalidSource, filepath.Base(path))
	}

	ext := strings.ToLower(filepath.Ext(path))
	if !supportedExtensions[ext] {
		return "", fmt.Errorf("%w: extension %q", ErrUnsupportedMedia, ext)
	}

	return path, nil
}

func (c *Coordinator) resolveRemoteURL(ctx context.Context, rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSource, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("%w: unsupported URL %q", ErrInvalidSource, rawURL)
	}
	if c.retriever == nil {
		return "", fmt.Errorf("%w: no retriever configured", ErrRetrievalFailed)
	}

	path, err := c.retriever.Fetch(ctx, rawURL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRetrievalFailed, err)
	}
	return path, nil
}
