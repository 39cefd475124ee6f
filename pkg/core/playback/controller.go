// Package playback owns the audio output resource: synthesis caching,
// exclusive playback, and the volume controls.
package playback

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tutorstack/tutorcore/pkg/core"
	"github.com/tutorstack/tutorcore/pkg/core/voice/tts"
)

// State is the playback state machine position.
type State int

const (
	StateIdle State = iota
	StateLoading
	StatePlaying
	StatePaused
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	default:
		return "unknown"
	}
}

// Synthesizer produces audio for a piece of text. The negotiated
// tts.Chain satisfies this.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, opts tts.SynthesizeOptions) (*tts.Synthesis, error)
}

// Output is the audio-output device boundary.
type Output interface {
	// NewPlayer prepares raw 16-bit PCM for playback.
	NewPlayer(pcm []byte, sampleRate int) (Player, error)
}

// Player is one prepared playback. Implementations must tolerate
// SetVolume at any point, including mid-playback.
type Player interface {
	Play()
	Pause()
	SetVolume(volume float64)
	Close() error
}

// DefaultTimeout bounds a single synthesis request.
const DefaultTimeout = 30 * time.Second

// Controller coordinates synthesis and playback. Output is globally
// exclusive: starting a new playback supersedes whatever is playing.
// Synthesized audio is cached by message identity, so replaying the same
// message never calls the synthesis service twice.
type Controller struct {
	synth      Synthesizer
	output     Output
	logger     *slog.Logger
	voice      string
	sampleRate int
	timeout    time.Duration

	mu      sync.Mutex
	state   State
	cache   map[string]cachedAudio
	current Player
	volume  float64
	muted   bool
}

type cachedAudio struct {
	pcm        []byte
	sampleRate int
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the controller logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) { c.logger = logger }
}

// WithVoice sets the synthesis voice.
func WithVoice(voice string) Option {
	return func(c *Controller) { c.voice = voice }
}

// WithSampleRate asks providers to synthesize at the given rate,
// matching the output device. Providers that ignore the hint still
// work; the output resamples.
func WithSampleRate(rate int) Option {
	return func(c *Controller) { c.sampleRate = rate }
}

// WithTimeout sets the synthesis timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Controller) { c.timeout = d }
}

// NewController creates a playback controller.
func NewController(synth Synthesizer, output Output, opts ...Option) *Controller {
	c := &Controller{
		synth:   synth,
		output:  output,
		logger:  slog.Default(),
		timeout: DefaultTimeout,
		cache:   make(map[string]cachedAudio),
		volume:  1.0,
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

// Play speaks the given text. messageID keys the cache: the same message
// instance is synthesized at most once. Any active playback is stopped
// first. Synthesis failures come back as a muted, classified error; the
// caller reports them without touching the conversation timeline.
func (c *Controller) Play(ctx context.Context, messageID, text string) error {
	c.mu.Lock()
	audio, cached := c.cache[messageID]
	if !cached {
		c.state = StateLoading
	}
	c.mu.Unlock()

	if !cached {
		sctx, cancel := context.WithTimeout(ctx, c.timeout)
		synth, err := c.synth.Synthesize(sctx, text, tts.SynthesizeOptions{Voice: c.voice, SampleRate: c.sampleRate})
		cancel()
		if err != nil {
			c.mu.Lock()
			c.state = StateIdle
			c.mu.Unlock()
			if core.TypeOf(err) != "" {
				return err
			}
			return core.NewExternalServiceError("synthesis", err)
		}

		pcm, sampleRate, err := synth.PCM()
		if err != nil {
			c.mu.Lock()
			c.state = StateIdle
			c.mu.Unlock()
			return core.NewExternalServiceError("synthesis", err)
		}

		audio = cachedAudio{pcm: pcm, sampleRate: sampleRate}
		c.mu.Lock()
		c.cache[messageID] = audio
		c.mu.Unlock()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Output is exclusive: supersede whatever is playing.
	c.stopLocked()

	player, err := c.output.NewPlayer(audio.pcm, audio.sampleRate)
	if err != nil {
		c.state = StateIdle
		return core.NewDeviceUnavailableError("audio output", err)
	}

	c.current = player
	player.SetVolume(c.effectiveVolume())
	player.Play()
	c.state = StatePlaying
	return nil
}

// Pause pauses an active playback.
func (c *Controller) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StatePlaying && c.current != nil {
		c.current.Pause()
		c.state = StatePaused
	}
}

// Resume continues a paused playback.
func (c *Controller) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StatePaused && c.current != nil {
		c.current.Play()
		c.state = StatePlaying
	}
}

// Stop ends any active playback and returns to Idle.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
}

func (c *Controller) stopLocked() {
	if c.current != nil {
		if err := c.current.Close(); err != nil {
			c.logger.Warn("close player", "error", err)
		}
		c.current = nil
	}
	c.state = StateIdle
}

// SetVolume sets the output volume in [0, 1]. It applies immediately to
// any in-flight audio.
func (c *Controller) SetVolume(volume float64) {
	if volume < 0 {
		volume = 0
	}
	if volume > 1 {
		volume = 1
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.volume = volume
	if c.current != nil {
		c.current.SetVolume(c.effectiveVolume())
	}
}

// SetMuted mutes or unmutes output, independent of play state.
func (c *Controller) SetMuted(muted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.muted = muted
	if c.current != nil {
		c.current.SetVolume(c.effectiveVolume())
	}
}

// Muted reports whether output is muted.
func (c *Controller) Muted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.muted
}

func (c *Controller) effectiveVolume() float64 {
	if c.muted {
		return 0
	}
	return c.volume
}
