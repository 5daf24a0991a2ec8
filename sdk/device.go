package voice

import (
	"context"
	"fmt"
	"sync"
)

// CaptureConfig describes the stream requested from a capture device.
// Speech capture is mono 16kHz PCM16 with the platform's echo
// cancellation, noise suppression and gain control enabled.
type CaptureConfig struct {
	SampleRateHz     int
	Channels         int
	EchoCancellation bool
	NoiseSuppression bool
	AutoGain         bool
}

// DefaultCaptureConfig returns the speech-tuned capture settings.
func DefaultCaptureConfig() CaptureConfig {
	return CaptureConfig{
		SampleRateHz:     16000,
		Channels:         1,
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGain:         true,
	}
}

// CaptureDevice abstracts platform microphone access. Open may fail with
// a device error (permission denied, device busy); that aborts the start
// operation but never crashes the caller.
type CaptureDevice interface {
	Open(ctx context.Context, cfg CaptureConfig) (CaptureStream, error)
}

// CaptureStream delivers raw PCM16LE frames until closed. The frame
// channel is closed when the underlying stream disappears or Close is
// called. Close is idempotent.
type CaptureStream interface {
	Frames() <-chan []byte
	Close() error
}

// PlaybackSink plays one decoded PCM payload to completion, returning
// early with ctx.Err() when the context is cancelled mid-playback.
type PlaybackSink interface {
	Play(ctx context.Context, pcm []byte, sampleRateHz, channels int) error
}

// MicrophoneLease is a single-holder guard over one capture pipeline:
// acquiring before opening a stream makes a duplicate open of the same
// pipeline fail with ErrMicBusy. The capture engine and the barge-in
// detector hold separate leases; the device supports concurrent streams.
type MicrophoneLease struct {
	mu     sync.Mutex
	holder string
}

// NewMicrophoneLease returns an unheld lease.
func NewMicrophoneLease() *MicrophoneLease {
	return &MicrophoneLease{}
}

// Acquire claims the lease for the named holder and returns the release
// function. Release is idempotent.
func (l *MicrophoneLease) Acquire(holder string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.holder != "" {
		return nil, fmt.Errorf("%w (held by %s)", ErrMicBusy, l.holder)
	}
	l.holder = holder

	var once sync.Once
	release := func() {
		once.Do(func() {
			l.mu.Lock()
			l.holder = ""
			l.mu.Unlock()
		})
	}
	return release, nil
}

// Holder reports the current holder name, empty when unheld.
func (l *MicrophoneLease) Holder() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.holder
}
