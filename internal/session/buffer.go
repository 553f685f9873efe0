package session

import (
	"errors"
	"strings"
	"sync"
	"time"
)

// ErrOutOfOrderAppend is returned when an append skips or repeats a sequence
// number. It is an internal invariant violation and is never surfaced to
// clients verbatim.
var ErrOutOfOrderAppend = errors.New("caption append out of order")

// CaptionEvent is one incremental unit of caption output. Confidence is nil
// when the engine reported none; consumers must treat nil as unknown, not zero.
type CaptionEvent struct {
	Seq        uint64
	Text       string
	Original   string
	Confidence *float64
	At         time.Time
}

// CaptionBuffer is the append-only, replay-capable store of caption events for
// one session. Sequence numbers are 1-based, strictly increasing, gap-free.
type CaptionBuffer struct {
	mu     sync.Mutex
	events []CaptionEvent
}

func NewCaptionBuffer() *CaptionBuffer {
	return &CaptionBuffer{}
}

// NextSeq returns the sequence number the next append must carry.
func (b *CaptionBuffer) NextSeq() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return uint64(len(b.events)) + 1
}

// Append adds an event to the buffer. The event's sequence must be exactly
// one past the last appended sequence.
func (b *CaptionBuffer) Append(event CaptionEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if event.Seq != uint64(len(b.events))+1 {
		return ErrOutOfOrderAppend
	}
	b.events = append(b.events, event)
	return nil
}

// After returns a snapshot of all events with sequence greater than seq, in
// order. Each call produces a fresh copy of the current contents.
func (b *CaptionBuffer) After(seq uint64) []CaptionEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	if seq >= uint64(len(b.events)) {
		return nil
	}
	out := make([]CaptionEvent, len(b.events)-int(seq))
	copy(out, b.events[seq:])
	return out
}

// All returns a snapshot of the full buffer contents in order.
func (b *CaptionBuffer) All() []CaptionEvent {
	return b.After(0)
}

// Len returns the number of buffered events.
func (b *CaptionBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

// Transcript concatenates the Text of every buffered event in sequence order.
func (b *CaptionBuffer) Transcript() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	var sb strings.Builder
	for i, event := range b.events {
		if i > 0 {
			sb.WriteString(" ")
		}
		sb.WriteString(event.Text)
	}
	return sb.String()
}
