package voice

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
)

// OtoSink is the production PlaybackSink backed by the oto speaker
// context. The context is process-wide and fixed to one sample rate, so
// payloads with a different rate are rejected (logged and skipped by the
// queue) rather than played at the wrong pitch.
type OtoSink struct {
	ctx          *oto.Context
	sampleRateHz int
	channels     int

	mu sync.Mutex
}

// NewOtoSink initializes the speaker for the given output format.
func NewOtoSink(sampleRateHz, channels int) (*OtoSink, error) {
	opts := &oto.NewContextOptions{
		SampleRate:   sampleRateHz,
		ChannelCount: channels,
		Format:       oto.FormatSignedInt16LE,
		// ~100ms buffer trades a little latency for glitch-free playback.
		BufferSize: 100 * time.Millisecond,
	}
	ctx, ready, err := oto.NewContext(opts)
	if err != nil {
		return nil, fmt.Errorf("init speaker: %w", err)
	}
	<-ready
	return &OtoSink{ctx: ctx, sampleRateHz: sampleRateHz, channels: channels}, nil
}

// Play blocks until the payload drains or ctx is cancelled. Cancellation
// halts the in-flight player immediately.
func (s *OtoSink) Play(ctx context.Context, pcm []byte, sampleRateHz, channels int) error {
	if sampleRateHz != s.sampleRateHz || channels != s.channels {
		return fmt.Errorf("payload format %dHz/%dch does not match speaker %dHz/%dch",
			sampleRateHz, channels, s.sampleRateHz, s.channels)
	}

	s.mu.Lock()
	player := s.ctx.NewPlayer(bytes.NewReader(pcm))
	s.mu.Unlock()
	player.Play()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			player.Pause()
			_ = player.Close()
			return ctx.Err()
		case <-ticker.C:
			if !player.IsPlaying() {
				_ = player.Close()
				return nil
			}
		}
	}
}
