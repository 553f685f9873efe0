package engine

import (
	"context"
	"sync"
	"time"

	"github.com/captionworks/captionstream/internal/ingest"
)

// Scripted is an in-process engine that plays back a fixed list of
// increments. It backs tests and lets the server run without a real STT
// backend configured.
type Scripted struct {
	Script   []Increment
	Interval time.Duration

	// FailAfter, when >= 0, ends the stream with StreamErr after that many
	// increments instead of a clean EOF.
	FailAfter int
	StreamErr error
}

func NewScripted(script []Increment) *Scripted {
	return &Scripted{Script: script, FailAfter: -1}
}

func (e *Scripted) Transcribe(ctx context.Context, _ ingest.MediaReference, _ string) (Stream, error) {
	s := &scriptedStream{
		increments: make(chan Increment),
		done:       make(chan struct{}),
	}

	go func() {
		defer close(s.increments)
		for i, inc := range e.Script {
			if e.FailAfter >= 0 && i >= e.FailAfter {
				s.setErr(e.StreamErr)
				return
			}
			if e.Interval > 0 {
				select {
				case <-ctx.Done():
					return
				case <-s.done:
					return
				case <-time.After(e.Interval):
				}
			}
			select {
			case <-ctx.Done():
				return
			case <-s.done:
				return
			case s.increments <- inc:
			}
		}
	}()

	return s, nil
}

type scriptedStream struct {
	increments chan Increment
	done       chan struct{}

	mu        sync.Mutex
	err       error
	closeOnce sync.Once
}

func (s *scriptedStream) Increments() <-chan Increment { return s.increments }

func (s *scriptedStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *scriptedStream) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *scriptedStream) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}
