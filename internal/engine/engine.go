package engine

import (
	"context"

	"github.com/captionworks/captionstream/internal/ingest"
)

// Increment is one unit of engine output: a raw transcript segment with an
// optional confidence and an offset (seconds) into the media. Confidence is
// nil when the engine did not report one.
type Increment struct {
	Text       string
	Confidence *float64
	Offset     float64
}

// Stream is a lazy sequence of increments for one transcription. The channel
// closes at end-of-input or on failure; Err distinguishes the two after the
// close. Close releases engine resources and may be called at any time.
type Stream interface {
	Increments() <-chan Increment
	Err() error
	Close() error
}

// Engine is the external speech pipeline collaborator.
type Engine interface {
	Transcribe(ctx context.Context, ref ingest.MediaReference, lang string) (Stream, error)
}
