package voice

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func testInterruptOptions() InterruptOptions {
	return InterruptOptions{
		Capture:       CaptureConfig{SampleRateHz: 16000, Channels: 1},
		Calibration:   20 * time.Millisecond,
		FrameInterval: 10 * time.Millisecond, // 2 calibration frames
		Floor:         0.05,
		Multiplier:    2,
		TriggerFrames: 5,
	}
}

// quiet is well under the floor, loud is well over it.
var (
	quietFrame = pcmFrame(100, 160)   // rms ~0.003
	loudFrame  = pcmFrame(16000, 160) // rms ~0.49
)

func TestInterruptDetector_FiresAfterSustainedSpeech(t *testing.T) {
	device := &fakeDevice{}
	var fired atomic.Int32
	d := NewInterruptDetector(device, nil, testInterruptOptions(), func() {
		fired.Add(1)
	}, nil)

	if err := d.StartMonitoring(context.Background()); err != nil {
		t.Fatalf("StartMonitoring: %v", err)
	}
	stream := device.lastStream()

	// Calibration samples, then sustained speech.
	stream.push(quietFrame)
	stream.push(quietFrame)
	for i := 0; i < 5; i++ {
		stream.push(loudFrame)
	}

	waitFor(t, time.Second, func() bool { return fired.Load() == 1 }, "detector trigger")
	waitFor(t, time.Second, func() bool { return !d.Monitoring() }, "monitoring stopped after trigger")
}

func TestInterruptDetector_BriefDipsDecrementInsteadOfReset(t *testing.T) {
	device := &fakeDevice{}
	var fired atomic.Int32
	d := NewInterruptDetector(device, nil, testInterruptOptions(), func() {
		fired.Add(1)
	}, nil)

	if err := d.StartMonitoring(context.Background()); err != nil {
		t.Fatalf("StartMonitoring: %v", err)
	}
	stream := device.lastStream()

	stream.push(quietFrame)
	stream.push(quietFrame)
	// Counter: 1 2 1 2 3 4 5 -> fires despite the dip.
	for _, f := range [][]byte{loudFrame, loudFrame, quietFrame, loudFrame, loudFrame, loudFrame, loudFrame} {
		stream.push(f)
	}

	waitFor(t, time.Second, func() bool { return fired.Load() == 1 }, "detector trigger through dip")
}

func TestInterruptDetector_QuietAudioNeverFires(t *testing.T) {
	device := &fakeDevice{}
	var fired atomic.Int32
	d := NewInterruptDetector(device, nil, testInterruptOptions(), func() {
		fired.Add(1)
	}, nil)

	if err := d.StartMonitoring(context.Background()); err != nil {
		t.Fatalf("StartMonitoring: %v", err)
	}
	stream := device.lastStream()
	for i := 0; i < 20; i++ {
		stream.push(quietFrame)
	}

	time.Sleep(20 * time.Millisecond)
	if fired.Load() != 0 {
		t.Fatalf("detector fired on ambient noise")
	}
	d.StopMonitoring()
}

func TestInterruptDetector_StopMonitoringIsIdempotent(t *testing.T) {
	device := &fakeDevice{}
	lease := NewMicrophoneLease()
	d := NewInterruptDetector(device, lease, testInterruptOptions(), nil, nil)

	if err := d.StartMonitoring(context.Background()); err != nil {
		t.Fatalf("StartMonitoring: %v", err)
	}
	d.StopMonitoring()
	d.StopMonitoring()

	if d.Monitoring() {
		t.Fatalf("detector reports monitoring after stop")
	}
	if got := lease.Holder(); got != "" {
		t.Fatalf("lease still held by %q after stop", got)
	}
}

func TestInterruptDetector_StartWhileMonitoringIsNoOp(t *testing.T) {
	device := &fakeDevice{}
	d := NewInterruptDetector(device, nil, testInterruptOptions(), nil, nil)

	if err := d.StartMonitoring(context.Background()); err != nil {
		t.Fatalf("StartMonitoring: %v", err)
	}
	if err := d.StartMonitoring(context.Background()); err != nil {
		t.Fatalf("second StartMonitoring: %v", err)
	}
	if got := device.openedCount(); got != 1 {
		t.Fatalf("device opened %d times, want 1", got)
	}
	d.StopMonitoring()
}

// Mirrors the client wiring: the capture engine records continuously in
// streaming mode while the detector arms on its own lease and stream.
func TestInterruptDetector_ArmsWhileCaptureEngineRecords(t *testing.T) {
	device := &fakeDevice{}
	sender := &fakeSender{}
	engine := NewCaptureEngine(device, nil, sender, testCaptureOptions(), nil)
	if err := engine.ToggleMode(); err != nil {
		t.Fatalf("ToggleMode: %v", err)
	}
	if err := engine.StartRecording(context.Background()); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}

	queue := NewPlaybackQueue(&fakeSink{gate: make(chan struct{})}, nil)
	queue.Enqueue(wavPayload(1, 10))

	var fired atomic.Int32
	d := NewInterruptDetector(device, nil, testInterruptOptions(), func() {
		queue.Stop()
		fired.Add(1)
	}, nil)
	if err := d.StartMonitoring(context.Background()); err != nil {
		t.Fatalf("StartMonitoring while capture engine records: %v", err)
	}
	if got := device.openedCount(); got != 2 {
		t.Fatalf("device opened %d streams, want 2 concurrent", got)
	}

	capture := device.streamAt(0)
	monitor := device.streamAt(1)

	// Both streams flow at once: capture keeps segmenting while the
	// detector calibrates and then hears sustained speech.
	capture.push(pcmFrame(500, 160))
	monitor.push(quietFrame)
	monitor.push(quietFrame)
	for i := 0; i < 5; i++ {
		monitor.push(loudFrame)
	}

	waitFor(t, time.Second, func() bool { return fired.Load() == 1 }, "barge-in trigger")
	waitFor(t, time.Second, func() bool { return !queue.Playing() }, "playback stopped")
	if !engine.Recording() {
		t.Fatalf("capture engine stopped by the detector")
	}

	engine.StopRecording()
	if sender.count() == 0 {
		t.Fatalf("capture produced no audio while the detector ran")
	}
}

func TestInterruptDetector_LeaseConflictSurfaces(t *testing.T) {
	device := &fakeDevice{}
	lease := NewMicrophoneLease()
	release, err := lease.Acquire("capture")
	if err != nil {
		t.Fatalf("acquire lease: %v", err)
	}
	defer release()

	d := NewInterruptDetector(device, lease, testInterruptOptions(), nil, nil)
	if err := d.StartMonitoring(context.Background()); !errors.Is(err, ErrMicBusy) {
		t.Fatalf("StartMonitoring with held lease = %v, want ErrMicBusy", err)
	}
}
