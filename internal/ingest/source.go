package ingest

import "errors"

// Source kinds.
const (
	KindLocalFile = "file"
	KindRemoteURL = "url"
)

// SourceDescriptor identifies the media a client wants transcribed. It is
// immutable once submitted. Exactly one of Path or URL is set, per Kind.
type SourceDescriptor struct {
	Kind string
	Path string
	URL  string
	Lang string
}

// MediaReference is a resolved, ready-to-process handle produced by the
// coordinator: a local audio file the engine can consume directly.
type MediaReference struct {
	AudioPath string
}

// Resolution errors. All are terminal for the submission that caused them;
// the caller must re-submit, there is no retry at this layer.
var (
	ErrInvalidSource    = errors.New("invalid source")
	ErrUnsupportedMedia = errors.New("unsupported media type")
	ErrRetrievalFailed  = errors.New("media retrieval failed")
)
