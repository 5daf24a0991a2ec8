package voice

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// InterruptOptions tunes the barge-in detector. The floor/multiplier
// pair balances two failure modes: a fixed absolute threshold is fooled
// by ambient noise and device gain, while a purely relative threshold
// set too low self-triggers on leaked assistant audio.
type InterruptOptions struct {
	Capture       CaptureConfig
	Calibration   time.Duration // initial baseline sampling window
	FrameInterval time.Duration // expected device frame period
	Floor         float64       // absolute RMS floor for the threshold
	Multiplier    float64       // amplifies the calibrated baseline
	TriggerFrames int           // consecutive frames required to fire
}

func (o *InterruptOptions) applyDefaults() {
	if o.Capture.SampleRateHz == 0 {
		o.Capture = DefaultCaptureConfig()
	}
	if o.Calibration <= 0 {
		o.Calibration = 500 * time.Millisecond
	}
	if o.FrameInterval <= 0 {
		o.FrameInterval = 30 * time.Millisecond
	}
	if o.Floor == 0 {
		o.Floor = 0.01
	}
	if o.Multiplier == 0 {
		o.Multiplier = 2.5
	}
	if o.TriggerFrames == 0 {
		o.TriggerFrames = 5
	}
}

// InterruptDetector taps the microphone while the session is speaking
// and fires once on sustained user speech. The trigger callback stops
// playback and sends the session interrupt.
type InterruptDetector struct {
	device    CaptureDevice
	lease     *MicrophoneLease
	logger    *zap.Logger
	opts      InterruptOptions
	onTrigger func()

	mu         sync.Mutex
	monitoring bool
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewInterruptDetector wires a detector. onTrigger runs at most once per
// monitoring session, from the detector's own goroutine.
func NewInterruptDetector(device CaptureDevice, lease *MicrophoneLease, opts InterruptOptions, onTrigger func(), logger *zap.Logger) *InterruptDetector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if lease == nil {
		lease = NewMicrophoneLease()
	}
	opts.applyDefaults()
	return &InterruptDetector{
		device:    device,
		lease:     lease,
		logger:    logger,
		opts:      opts,
		onTrigger: onTrigger,
	}
}

// Monitoring reports whether the frame loop is running.
func (d *InterruptDetector) Monitoring() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.monitoring
}

// StartMonitoring acquires a dedicated microphone stream and runs the
// calibrate-then-detect loop. No-op if already monitoring.
func (d *InterruptDetector) StartMonitoring(ctx context.Context) error {
	d.mu.Lock()
	if d.monitoring {
		d.mu.Unlock()
		return nil
	}
	d.mu.Unlock()

	release, err := d.lease.Acquire("interrupt")
	if err != nil {
		return err
	}

	stream, err := d.device.Open(ctx, d.opts.Capture)
	if err != nil {
		release()
		return fmt.Errorf("open interrupt stream: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	d.mu.Lock()
	d.monitoring = true
	d.cancel = cancel
	d.done = done
	d.mu.Unlock()

	go func() {
		defer close(done)
		fired := d.monitor(runCtx, stream.Frames())

		_ = stream.Close()
		release()
		d.mu.Lock()
		d.monitoring = false
		d.cancel = nil
		d.mu.Unlock()

		if fired && d.onTrigger != nil {
			d.onTrigger()
		}
	}()
	return nil
}

// monitor runs the per-frame loop and reports whether the detector fired.
func (d *InterruptDetector) monitor(ctx context.Context, frames <-chan []byte) bool {
	calibrationFrames := int(d.opts.Calibration / d.opts.FrameInterval)
	if calibrationFrames < 1 {
		calibrationFrames = 1
	}

	var (
		samples   []float64
		baseline  float64
		threshold float64
		counter   int
	)

	for {
		select {
		case <-ctx.Done():
			return false
		case frame, ok := <-frames:
			if !ok {
				return false
			}
			rms := pcmRMS(frame)

			// Calibration phase: collect ambient samples, no detection.
			if len(samples) < calibrationFrames {
				samples = append(samples, rms)
				if len(samples) == calibrationFrames {
					for _, s := range samples {
						baseline += s
					}
					baseline /= float64(len(samples))
					threshold = baseline * d.opts.Multiplier
					if threshold < d.opts.Floor {
						threshold = d.opts.Floor
					}
					d.logger.Debug("interrupt detector calibrated",
						zap.Float64("baseline", baseline),
						zap.Float64("threshold", threshold))
				}
				continue
			}

			// Brief dips decrement rather than reset, tolerating the
			// natural envelope of a real utterance.
			if rms > threshold {
				counter++
			} else if counter > 0 {
				counter--
			}
			if counter >= d.opts.TriggerFrames {
				d.logger.Info("barge-in detected",
					zap.Float64("rms", rms),
					zap.Float64("threshold", threshold))
				return true
			}
		}
	}
}

// StopMonitoring cancels the frame loop, releases the dedicated stream
// and resets detection state. Idempotent.
func (d *InterruptDetector) StopMonitoring() {
	d.mu.Lock()
	cancel := d.cancel
	done := d.done
	d.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	if done != nil {
		<-done
	}
}
