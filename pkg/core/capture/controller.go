// Package capture owns the microphone resource and the recording state
// machine.
package capture

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/tutorstack/tutorcore/pkg/core"
	"github.com/tutorstack/tutorcore/pkg/core/types"
)

// State is the capture state machine position.
type State int

const (
	// StateIdle means no capture cycle is active.
	StateIdle State = iota
	// StateRecording means the microphone is held and chunks are buffering.
	StateRecording
	// StateProcessing means the clip is finalized and transcription is in
	// flight. The microphone has already been released.
	StateProcessing
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateProcessing:
		return "processing"
	default:
		return "unknown"
	}
}

// Device is the microphone boundary. Start begins delivering raw PCM
// chunks to the callback; Stop releases the device.
type Device interface {
	Start(onData func([]byte)) error
	Stop() error
	SampleRate() int
	Channels() int
}

// Transcriber converts a finalized clip to text.
type Transcriber interface {
	Transcribe(ctx context.Context, clip *types.AudioClip) (string, error)
}

// Controller runs the Idle → Recording → Processing → Idle cycle. Exactly
// one cycle may be active at a time; transcribed text is emitted through
// OnText and non-fatal problems through OnNotice, never into the
// conversation timeline.
type Controller struct {
	device      Device
	transcriber Transcriber
	logger      *slog.Logger

	// OnText receives a non-empty transcript; it feeds the same input
	// path as typed text.
	OnText func(text string)
	// OnNotice receives a short, non-fatal message for failed or empty
	// transcriptions.
	OnNotice func(notice string)

	mu     sync.Mutex
	state  State
	chunks []byte
	cancel context.CancelFunc
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the controller logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) { c.logger = logger }
}

// NewController creates a capture controller over the given device.
func NewController(device Device, transcriber Transcriber, opts ...Option) *Controller {
	c := &Controller{
		device:      device,
		transcriber: transcriber,
		logger:      slog.Default(),
		state:       StateIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start acquires the microphone and begins buffering. Calling it while a
// cycle is active is rejected; an inaccessible device comes back as
// device_unavailable and the controller stays Idle.
func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateIdle {
		return core.NewInvalidStateError("a capture cycle is already active")
	}

	c.chunks = c.chunks[:0]
	if err := c.device.Start(c.appendChunk); err != nil {
		// Release whatever the device may have half-acquired.
		_ = c.device.Stop()
		return core.NewDeviceUnavailableError("microphone", err)
	}

	c.state = StateRecording
	return nil
}

func (c *Controller) appendChunk(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateRecording {
		return
	}
	c.chunks = append(c.chunks, data...)
}

// Stop releases the microphone, finalizes the clip, and hands it to the
// transcriber in the background. The device is released on every path,
// including errors. On success the transcript is emitted via OnText; an
// empty or failed transcription emits a notice via OnNotice and the
// conversation state is never touched.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()

	if c.state != StateRecording {
		c.mu.Unlock()
		return core.NewInvalidStateError("no recording in progress")
	}

	c.state = StateProcessing
	stopErr := c.device.Stop()

	clip := &types.AudioClip{
		Data:       append([]byte(nil), c.chunks...),
		Format:     "pcm",
		SampleRate: c.device.SampleRate(),
		Channels:   c.device.Channels(),
	}
	c.chunks = c.chunks[:0]

	if stopErr != nil {
		c.state = StateIdle
		c.mu.Unlock()
		return core.NewDeviceUnavailableError("microphone", stopErr)
	}

	tctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	go c.process(tctx, clip)
	return nil
}

// Cancel aborts an in-flight transcription for the current cycle. The
// capture state returns to Idle without emitting anything.
func (c *Controller) Cancel() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

func (c *Controller) process(ctx context.Context, clip *types.AudioClip) {
	text, err := c.transcriber.Transcribe(ctx, clip)

	c.mu.Lock()
	cancelled := ctx.Err() != nil
	c.state = StateIdle
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.mu.Unlock()

	if cancelled {
		return
	}

	switch {
	case err != nil:
		c.logger.Warn("transcription failed", "error", err)
		c.notify("Could not transcribe the recording. Please try again.")
	case strings.TrimSpace(text) == "":
		c.notify("No speech detected in the recording.")
	default:
		if c.OnText != nil {
			c.OnText(text)
		}
	}
}

func (c *Controller) notify(notice string) {
	if c.OnNotice != nil {
		c.OnNotice(notice)
	}
}
