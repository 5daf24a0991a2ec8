package voice

import (
	"context"
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
)

// MalgoDevice is the production CaptureDevice backed by miniaudio.
// One device context serves any number of concurrent streams, so the
// capture engine and the barge-in detector can sample at the same time.
type MalgoDevice struct {
	ctx *malgo.AllocatedContext
}

// NewMalgoDevice initializes the platform audio context.
func NewMalgoDevice() (*MalgoDevice, error) {
	cfg := malgo.ContextConfig{}
	cfg.ThreadPriority = malgo.ThreadPriorityRealtime

	ctx, err := malgo.InitContext(nil, cfg, nil)
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}
	return &MalgoDevice{ctx: ctx}, nil
}

// Open starts a capture stream delivering PCM16LE frames. The device
// period is ~30ms, which also sets the interrupt detector frame rate.
func (d *MalgoDevice) Open(ctx context.Context, cfg CaptureConfig) (CaptureStream, error) {
	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(cfg.Channels)
	deviceConfig.SampleRate = uint32(cfg.SampleRateHz)
	deviceConfig.PeriodSizeInMilliseconds = 30

	stream := &malgoStream{frames: make(chan []byte, 64)}

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, pInput []byte, _ uint32) {
			frame := make([]byte, len(pInput))
			copy(frame, pInput)
			stream.push(frame)
		},
	}

	device, err := malgo.InitDevice(d.ctx.Context, deviceConfig, callbacks)
	if err != nil {
		return nil, fmt.Errorf("init capture device: %w", err)
	}
	stream.device = device

	if err := device.Start(); err != nil {
		device.Uninit()
		return nil, fmt.Errorf("start capture device: %w", err)
	}
	return stream, nil
}

// Close releases the platform audio context.
func (d *MalgoDevice) Close() {
	if d.ctx != nil {
		_ = d.ctx.Uninit()
		d.ctx.Free()
		d.ctx = nil
	}
}

type malgoStream struct {
	device *malgo.Device
	frames chan []byte

	mu     sync.Mutex
	closed bool
}

func (s *malgoStream) push(frame []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.frames <- frame:
	default:
		// Consumer fell behind; drop rather than stall the device thread.
	}
}

func (s *malgoStream) Frames() <-chan []byte {
	return s.frames
}

func (s *malgoStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if s.device != nil {
		_ = s.device.Stop()
		s.device.Uninit()
	}
	close(s.frames)
	return nil
}
