package capture

import (
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
)

// MalgoDevice implements Device over the system microphone.
type MalgoDevice struct {
	ctx        *malgo.AllocatedContext
	sampleRate int
	channels   int

	mu     sync.Mutex
	device *malgo.Device
}

// NewMalgoDevice initializes the audio context. The capture device itself
// is acquired on Start and released on Stop, so the microphone is only
// held while a cycle is recording.
func NewMalgoDevice(sampleRate, channels int) (*MalgoDevice, error) {
	cfg := malgo.ContextConfig{}
	cfg.ThreadPriority = malgo.ThreadPriorityRealtime

	ctx, err := malgo.InitContext(nil, cfg, nil)
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}

	return &MalgoDevice{
		ctx:        ctx,
		sampleRate: sampleRate,
		channels:   channels,
	}, nil
}

// SampleRate returns the configured sample rate.
func (m *MalgoDevice) SampleRate() int { return m.sampleRate }

// Channels returns the configured channel count.
func (m *MalgoDevice) Channels() int { return m.channels }

// Start acquires the microphone and begins delivering PCM chunks.
func (m *MalgoDevice) Start(onData func([]byte)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.device != nil {
		return fmt.Errorf("capture device already started")
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(m.channels)
	deviceConfig.SampleRate = uint32(m.sampleRate)
	deviceConfig.PeriodSizeInMilliseconds = 20

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, pInputSamples []byte, _ uint32) {
			onData(pInputSamples)
		},
	}

	device, err := malgo.InitDevice(m.ctx.Context, deviceConfig, callbacks)
	if err != nil {
		return fmt.Errorf("init microphone: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return fmt.Errorf("start microphone: %w", err)
	}

	m.device = device
	return nil
}

// Stop releases the microphone. Safe to call when not started.
func (m *MalgoDevice) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.device == nil {
		return nil
	}
	err := m.device.Stop()
	m.device.Uninit()
	m.device = nil
	if err != nil {
		return fmt.Errorf("stop microphone: %w", err)
	}
	return nil
}

// Close tears down the audio context.
func (m *MalgoDevice) Close() error {
	_ = m.Stop()
	if err := m.ctx.Uninit(); err != nil {
		return fmt.Errorf("uninit audio context: %w", err)
	}
	m.ctx.Free()
	return nil
}
