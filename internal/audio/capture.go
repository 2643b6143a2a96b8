package audio

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/gen2brain/malgo"
)

const (
	// CaptureSampleRate is the microphone rate for outbound audio.
	CaptureSampleRate = 16000
	// PlaybackSampleRate is the rate of inbound oracle speech.
	PlaybackSampleRate = 24000
	// FrameSize is the fixed number of samples per captured frame.
	FrameSize = 4096
)

// PermissionDeniedError reports that the microphone could not be acquired,
// either because access was refused or the platform has no usable device.
type PermissionDeniedError struct {
	Cause error
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("microphone access denied: %v", e.Cause)
}

func (e *PermissionDeniedError) Unwrap() error { return e.Cause }

// Capture owns the microphone device. Frames of FrameSize float samples
// at CaptureSampleRate are handed to the callback one at a time as they
// fill; there is no queue across frames, so a slow consumer loses frames
// rather than growing a backlog.
type Capture struct {
	ctx    *malgo.AllocatedContext
	device *malgo.Device

	mu      sync.Mutex
	pending []float32

	stopOnce sync.Once
}

// OpenCapture acquires the microphone at 16 kHz mono float format.
// Acquisition failure is reported as *PermissionDeniedError.
func OpenCapture() (*Capture, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, &PermissionDeniedError{Cause: err}
	}
	return &Capture{ctx: mctx}, nil
}

// Start opens the capture device and begins delivering frames to onFrame.
func (c *Capture) Start(onFrame func(frame []float32)) error {
	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatF32
	cfg.Capture.Channels = 1
	cfg.SampleRate = CaptureSampleRate

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			c.push(input, onFrame)
		},
	}

	device, err := malgo.InitDevice(c.ctx.Context, cfg, callbacks)
	if err != nil {
		return &PermissionDeniedError{Cause: err}
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return &PermissionDeniedError{Cause: err}
	}
	c.device = device
	return nil
}

// push accumulates device samples and emits full frames. The frame slice
// is reused by value copy per emit, so the callback may retain it.
func (c *Capture) push(input []byte, onFrame func([]float32)) {
	c.mu.Lock()
	for i := 0; i+4 <= len(input); i += 4 {
		bits := binary.LittleEndian.Uint32(input[i:])
		c.pending = append(c.pending, math.Float32frombits(bits))
	}
	var frames [][]float32
	for len(c.pending) >= FrameSize {
		frame := make([]float32, FrameSize)
		copy(frame, c.pending[:FrameSize])
		c.pending = c.pending[FrameSize:]
		frames = append(frames, frame)
	}
	c.mu.Unlock()

	for _, frame := range frames {
		onFrame(frame)
	}
}

// Stop releases the device and the audio context. Idempotent: calling
// Stop on an already-stopped capture is a no-op.
func (c *Capture) Stop() {
	c.stopOnce.Do(func() {
		if c.device != nil {
			_ = c.device.Stop()
			c.device.Uninit()
			c.device = nil
		}
		if c.ctx != nil {
			_ = c.ctx.Uninit()
			c.ctx.Free()
			c.ctx = nil
		}
	})
}
