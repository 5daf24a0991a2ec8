package voice

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// CaptureMode selects the utterance segmentation strategy.
type CaptureMode int

const (
	// ModePushToTalk records one continuous utterance, sent on stop.
	ModePushToTalk CaptureMode = iota
	// ModeVADStreaming emits fixed-length self-contained segments
	// continuously for server-side endpointing.
	ModeVADStreaming
)

func (m CaptureMode) String() string {
	switch m {
	case ModePushToTalk:
		return "push_to_talk"
	case ModeVADStreaming:
		return "vad_streaming"
	default:
		return fmt.Sprintf("capture_mode(%d)", int(m))
	}
}

// AudioSender receives finished encoded chunks. Session implements it.
type AudioSender interface {
	SendAudio(chunk []byte) error
}

// CaptureOptions tunes the capture engine. Segment length and gap are
// product-tuned values, kept configurable on purpose.
type CaptureOptions struct {
	Capture         CaptureConfig
	SegmentDuration time.Duration // VAD-streaming segment length
	SegmentGap      time.Duration // pause between segments
	LevelSmoothing  float64
}

func (o *CaptureOptions) applyDefaults() {
	if o.Capture.SampleRateHz == 0 {
		o.Capture = DefaultCaptureConfig()
	}
	if o.SegmentDuration <= 0 {
		o.SegmentDuration = 1500 * time.Millisecond
	}
	if o.SegmentGap <= 0 {
		o.SegmentGap = 100 * time.Millisecond
	}
	if o.LevelSmoothing == 0 {
		o.LevelSmoothing = 0.3
	}
}

// captureStrategy runs one recording session over an open stream until
// the context is cancelled or the stream disappears.
type captureStrategy interface {
	run(ctx context.Context, e *CaptureEngine, frames <-chan []byte)
}

// CaptureEngine owns the microphone while recording and feeds encoded
// chunks to the sender. One of two mutually exclusive strategies is
// selected when recording starts.
type CaptureEngine struct {
	device CaptureDevice
	lease  *MicrophoneLease
	sender AudioSender
	logger *zap.Logger
	opts   CaptureOptions
	meter  *LevelMeter

	mu        sync.Mutex
	mode      CaptureMode
	recording bool
	cancel    context.CancelFunc
	done      chan struct{}
	release   func()
	stream    CaptureStream
}

// NewCaptureEngine wires a capture engine. A nil lease gets a private one.
func NewCaptureEngine(device CaptureDevice, lease *MicrophoneLease, sender AudioSender, opts CaptureOptions, logger *zap.Logger) *CaptureEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if lease == nil {
		lease = NewMicrophoneLease()
	}
	opts.applyDefaults()
	return &CaptureEngine{
		device: device,
		lease:  lease,
		sender: sender,
		logger: logger,
		opts:   opts,
		meter:  NewLevelMeter(opts.LevelSmoothing),
	}
}

// Mode reports the currently selected strategy.
func (e *CaptureEngine) Mode() CaptureMode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mode
}

// ToggleMode flips between push-to-talk and VAD streaming. Rejected while
// recording so the strategy never switches mid-utterance.
func (e *CaptureEngine) ToggleMode() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.recording {
		return ErrRecording
	}
	if e.mode == ModePushToTalk {
		e.mode = ModeVADStreaming
	} else {
		e.mode = ModePushToTalk
	}
	return nil
}

// Recording reports whether a recording session is active.
func (e *CaptureEngine) Recording() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.recording
}

// Level reports the smoothed microphone level for UI feedback.
func (e *CaptureEngine) Level() float64 {
	return e.meter.Level()
}

// StartRecording acquires the microphone and launches the selected
// strategy. A device failure aborts the start and leaves the engine
// not-recording.
func (e *CaptureEngine) StartRecording(ctx context.Context) error {
	e.mu.Lock()
	if e.recording {
		e.mu.Unlock()
		return ErrRecording
	}
	mode := e.mode
	e.mu.Unlock()

	release, err := e.lease.Acquire("capture")
	if err != nil {
		return err
	}

	stream, err := e.device.Open(ctx, e.opts.Capture)
	if err != nil {
		release()
		return fmt.Errorf("open capture stream: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	e.mu.Lock()
	e.recording = true
	e.cancel = cancel
	e.done = done
	e.release = release
	e.stream = stream
	e.mu.Unlock()

	var strat captureStrategy
	if mode == ModePushToTalk {
		strat = pushToTalkStrategy{}
	} else {
		strat = vadStreamingStrategy{}
	}

	e.logger.Info("recording started", zap.Stringer("mode", mode))
	go func() {
		defer close(done)
		strat.run(runCtx, e, stream.Frames())

		_ = stream.Close()
		release()
		e.mu.Lock()
		e.recording = false
		e.cancel = nil
		e.stream = nil
		e.mu.Unlock()
	}()
	return nil
}

// StopRecording signals the strategy to terminate and waits for it. In
// push-to-talk mode this flushes the buffered utterance as one send; in
// VAD-streaming mode the in-flight segment completes and no further
// segment starts. Safe to call while idle.
func (e *CaptureEngine) StopRecording() {
	e.mu.Lock()
	cancel := e.cancel
	done := e.done
	e.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	if done != nil {
		<-done
	}
}

// Cleanup is idempotent and callable from any state: stops an active
// recording, releases the microphone and zeroes the reported level.
func (e *CaptureEngine) Cleanup() {
	e.StopRecording()

	e.mu.Lock()
	stream := e.stream
	release := e.release
	e.stream = nil
	e.release = nil
	e.mu.Unlock()

	if stream != nil {
		_ = stream.Close()
	}
	if release != nil {
		release()
	}
	e.meter.Reset()
}

func (e *CaptureEngine) send(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	if err := e.sender.SendAudio(chunk); err != nil {
		e.logger.Warn("audio chunk not sent", zap.Error(err))
	}
}

// pushToTalkStrategy buffers every frame and sends the whole utterance
// exactly once when recording stops.
type pushToTalkStrategy struct{}

func (pushToTalkStrategy) run(ctx context.Context, e *CaptureEngine, frames <-chan []byte) {
	var buf []byte
	for {
		select {
		case <-ctx.Done():
			// Flush: frames already delivered by the device belong to
			// the utterance.
			buf = append(buf, drain(frames)...)
			e.flushUtterance(buf)
			return
		case frame, ok := <-frames:
			if !ok {
				e.flushUtterance(buf)
				return
			}
			e.meter.Push(frame)
			buf = append(buf, frame...)
		}
	}
}

// drain collects frames already buffered by the device without blocking.
func drain(frames <-chan []byte) []byte {
	var out []byte
	for {
		select {
		case frame, ok := <-frames:
			if !ok {
				return out
			}
			out = append(out, frame...)
		default:
			return out
		}
	}
}

func (e *CaptureEngine) flushUtterance(pcm []byte) {
	if len(pcm) == 0 {
		return
	}
	e.send(EncodeWAV(pcm, e.opts.Capture.SampleRateHz, e.opts.Capture.Channels))
}

// vadStreamingStrategy cuts back-to-back fixed-duration segments, sending
// each one immediately. Every segment is a complete decodable unit.
type vadStreamingStrategy struct{}

func (vadStreamingStrategy) run(ctx context.Context, e *CaptureEngine, frames <-chan []byte) {
	segmentBytes := e.opts.Capture.SampleRateHz * e.opts.Capture.Channels * 2 *
		int(e.opts.SegmentDuration.Milliseconds()) / 1000

	var seg []byte
	flush := func() {
		if len(seg) > 0 {
			e.send(EncodeWAV(seg, e.opts.Capture.SampleRateHz, e.opts.Capture.Channels))
			seg = nil
		}
	}

	for {
		select {
		case <-ctx.Done():
			// The in-flight segment still completes and sends exactly once.
			seg = append(seg, drain(frames)...)
			flush()
			return
		case frame, ok := <-frames:
			if !ok {
				flush()
				return
			}
			e.meter.Push(frame)
			seg = append(seg, frame...)
			if len(seg) < segmentBytes {
				continue
			}
			flush()

			// Short gap before the next segment starts.
			select {
			case <-ctx.Done():
				return
			case <-time.After(e.opts.SegmentGap):
			}
		}
	}
}
