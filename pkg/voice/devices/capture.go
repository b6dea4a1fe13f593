package devices

import (
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/omnitech-labs/omnidial/pkg/voice"
)

// micCapture reads PCM16 from the default microphone and delivers fixed
// size frames to the session callback.
type micCapture struct {
	device       *malgo.Device
	frameBytes   int
	sampleRateHz int

	mu      sync.Mutex
	pending []byte
	onFrame func([]float32)
	closed  bool
}

func newMicCapture(ctx malgo.Context, sampleRateHz, frameSamples int) (*micCapture, error) {
	m := &micCapture{
		frameBytes:   frameSamples * 2,
		sampleRateHz: sampleRateHz,
		pending:      make([]byte, 0, sampleRateHz*2),
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = uint32(sampleRateHz)
	deviceConfig.PeriodSizeInMilliseconds = 20

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, pInputSamples []byte, _ uint32) {
			m.onData(pInputSamples)
		},
	}

	device, err := malgo.InitDevice(ctx, deviceConfig, callbacks)
	if err != nil {
		return nil, fmt.Errorf("init microphone: %w", err)
	}
	m.device = device
	return m, nil
}

// Start begins capture. Frames are delivered on the device callback
// goroutine; onFrame must not block.
func (m *micCapture) Start(onFrame func([]float32)) error {
	m.mu.Lock()
	m.onFrame = onFrame
	m.mu.Unlock()
	if err := m.device.Start(); err != nil {
		return fmt.Errorf("start microphone: %w", err)
	}
	return nil
}

func (m *micCapture) onData(data []byte) {
	m.mu.Lock()
	if m.closed || m.onFrame == nil {
		m.mu.Unlock()
		return
	}
	m.pending = append(m.pending, data...)
	var frames [][]float32
	for len(m.pending) >= m.frameBytes {
		frames = append(frames, voice.DecodePCM16(m.pending[:m.frameBytes]))
		m.pending = m.pending[m.frameBytes:]
	}
	onFrame := m.onFrame
	m.mu.Unlock()

	for _, frame := range frames {
		onFrame(frame)
	}
}

func (m *micCapture) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.device.Stop()
	m.device.Uninit()
	return nil
}
