package voice

import (
	"context"
	"encoding/binary"
	"sync"
	"testing"
	"time"
)

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

// pcmFrame builds n PCM16LE samples of constant amplitude.
func pcmFrame(amplitude int16, samples int) []byte {
	out := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(amplitude))
	}
	return out
}

// fakeDevice hands out test-driven capture streams.
type fakeDevice struct {
	mu      sync.Mutex
	openErr error
	opened  int
	streams []*fakeStream
}

func (d *fakeDevice) Open(_ context.Context, _ CaptureConfig) (CaptureStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.openErr != nil {
		return nil, d.openErr
	}
	d.opened++
	s := &fakeStream{ch: make(chan []byte, 256)}
	d.streams = append(d.streams, s)
	return s, nil
}

func (d *fakeDevice) lastStream() *fakeStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.streams) == 0 {
		return nil
	}
	return d.streams[len(d.streams)-1]
}

func (d *fakeDevice) streamAt(i int) *fakeStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.streams) {
		return nil
	}
	return d.streams[i]
}

func (d *fakeDevice) openedCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opened
}

type fakeStream struct {
	ch     chan []byte
	mu     sync.Mutex
	closed bool
}

func (s *fakeStream) push(frame []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.ch <- frame
}

func (s *fakeStream) Frames() <-chan []byte { return s.ch }

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.ch)
	return nil
}

// fakeSender collects chunks handed to SendAudio.
type fakeSender struct {
	mu     sync.Mutex
	chunks [][]byte
	err    error
}

func (f *fakeSender) SendAudio(chunk []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.chunks = append(f.chunks, chunk)
	return nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.chunks)
}

func (f *fakeSender) chunk(i int) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.chunks[i]
}

// fakeSink records played payloads. When gate is non-nil each Play call
// blocks until the gate closes or the context is cancelled.
type fakeSink struct {
	mu      sync.Mutex
	played  [][]byte
	started int
	gate    chan struct{}
}

func (f *fakeSink) Play(ctx context.Context, pcm []byte, _, _ int) error {
	f.mu.Lock()
	f.started++
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-gate:
		}
	}
	// Both select branches can be ready at once; a cancelled play must
	// never count as completed.
	if ctx.Err() != nil {
		return ctx.Err()
	}

	f.mu.Lock()
	f.played = append(f.played, pcm)
	f.mu.Unlock()
	return nil
}

func (f *fakeSink) playedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.played)
}

func (f *fakeSink) playedAt(i int) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.played[i]
}

func (f *fakeSink) startedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started
}
