package voice

import (
	"sync"

	"github.com/google/uuid"
)

// Speaker identifies who a caption belongs to.
type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
)

// Caption is one transcript entry. The tail entry for a speaker may be
// updated in place while IsFinal is false; a final caption is immutable.
type Caption struct {
	ID          string
	Speaker     Speaker
	Text        string
	TimestampMS int64
	IsFinal     bool
}

// CaptionLog is the append-only caption sequence for one session.
type CaptionLog struct {
	mu       sync.Mutex
	captions []Caption
}

// NewCaptionLog returns an empty log.
func NewCaptionLog() *CaptionLog {
	return &CaptionLog{}
}

// Merge applies a transcript update. If the last caption has the same
// speaker and is not final, it is replaced in place with the new text and
// finality; otherwise a new entry is appended. Returns the resulting
// caption.
func (l *CaptionLog) Merge(c Caption) Caption {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if n := len(l.captions); n > 0 {
		last := &l.captions[n-1]
		if last.Speaker == c.Speaker && !last.IsFinal {
			last.Text = c.Text
			last.IsFinal = c.IsFinal
			last.TimestampMS = c.TimestampMS
			if c.ID != "" {
				last.ID = c.ID
			}
			return *last
		}
	}
	l.captions = append(l.captions, c)
	return c
}

// Snapshot returns a copy of the caption sequence in arrival order.
func (l *CaptionLog) Snapshot() []Caption {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Caption, len(l.captions))
	copy(out, l.captions)
	return out
}

// Len reports the number of entries.
func (l *CaptionLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.captions)
}
