package playback

import (
	"context"
	"errors"
	"testing"

	"github.com/tutorstack/tutorcore/pkg/core"
	"github.com/tutorstack/tutorcore/pkg/core/voice/tts"
)

type fakeSynth struct {
	calls int
	err   error
}

func (f *fakeSynth) Synthesize(_ context.Context, text string, _ tts.SynthesizeOptions) (*tts.Synthesis, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &tts.Synthesis{Audio: []byte(text), Format: "pcm", SampleRate: 24000}, nil
}

type fakePlayer struct {
	playing bool
	paused  bool
	closed  bool
	volume  float64
}

func (p *fakePlayer) Play()               { p.playing = true; p.paused = false }
func (p *fakePlayer) Pause()              { p.paused = true }
func (p *fakePlayer) SetVolume(v float64) { p.volume = v }
func (p *fakePlayer) Close() error        { p.closed = true; return nil }

type fakeOutput struct {
	players []*fakePlayer
	err     error
}

func (f *fakeOutput) NewPlayer(pcm []byte, sampleRate int) (Player, error) {
	if f.err != nil {
		return nil, f.err
	}
	p := &fakePlayer{volume: 1}
	f.players = append(f.players, p)
	return p, nil
}

func TestController_PlayCachesByMessageIdentity(t *testing.T) {
	synth := &fakeSynth{}
	output := &fakeOutput{}
	c := NewController(synth, output)

	if err := c.Play(context.Background(), "m1", "hello"); err != nil {
		t.Fatalf("Play() error = %v", err)
	}
	if err := c.Play(context.Background(), "m1", "hello"); err != nil {
		t.Fatalf("second Play() error = %v", err)
	}

	if synth.calls != 1 {
		t.Errorf("synthesis called %d times, want at most once per message", synth.calls)
	}
	if len(output.players) != 2 {
		t.Errorf("players created = %d, want 2", len(output.players))
	}
}

func TestController_ExclusiveOutput(t *testing.T) {
	c := NewController(&fakeSynth{}, &fakeOutput{})
	output := c.output.(*fakeOutput)

	c.Play(context.Background(), "m1", "first")
	c.Play(context.Background(), "m2", "second")

	if !output.players[0].closed {
		t.Error("starting new playback must stop the previous one")
	}
	if output.players[1].closed {
		t.Error("current playback should still be open")
	}
	if c.State() != StatePlaying {
		t.Errorf("state = %v, want playing", c.State())
	}
}

func TestController_SynthesisFailure(t *testing.T) {
	synth := &fakeSynth{err: errors.New("service down")}
	c := NewController(synth, &fakeOutput{})

	err := c.Play(context.Background(), "m1", "hello")
	if !core.IsType(err, core.ErrExternalService) {
		t.Fatalf("expected external_service_error, got %v", err)
	}
	if c.State() != StateIdle {
		t.Errorf("state = %v, want idle after failure", c.State())
	}
}

func TestController_OutputUnavailable(t *testing.T) {
	c := NewController(&fakeSynth{}, &fakeOutput{err: errors.New("no device")})

	err := c.Play(context.Background(), "m1", "hello")
	if !core.IsType(err, core.ErrDeviceUnavailable) {
		t.Fatalf("expected device_unavailable, got %v", err)
	}
}

func TestController_PauseResume(t *testing.T) {
	output := &fakeOutput{}
	c := NewController(&fakeSynth{}, output)

	c.Play(context.Background(), "m1", "hello")
	c.Pause()
	if c.State() != StatePaused {
		t.Errorf("state = %v, want paused", c.State())
	}
	if !output.players[0].paused {
		t.Error("player should be paused")
	}

	c.Resume()
	if c.State() != StatePlaying {
		t.Errorf("state = %v, want playing", c.State())
	}
}

func TestController_VolumeAppliesImmediately(t *testing.T) {
	output := &fakeOutput{}
	c := NewController(&fakeSynth{}, output)

	c.Play(context.Background(), "m1", "hello")
	c.SetVolume(0.5)
	if output.players[0].volume != 0.5 {
		t.Errorf("volume = %v, want 0.5 applied to in-flight audio", output.players[0].volume)
	}

	c.SetMuted(true)
	if output.players[0].volume != 0 {
		t.Errorf("volume = %v, want 0 while muted", output.players[0].volume)
	}

	c.SetMuted(false)
	if output.players[0].volume != 0.5 {
		t.Errorf("volume = %v, want 0.5 restored after unmute", output.players[0].volume)
	}
}

func TestController_VolumeIndependentOfPlayState(t *testing.T) {
	c := NewController(&fakeSynth{}, &fakeOutput{})

	// No playback active; must not panic and must persist.
	c.SetVolume(0.3)
	c.SetMuted(true)
	if !c.Muted() {
		t.Error("mute should persist without active playback")
	}
}

func TestController_Stop(t *testing.T) {
	output := &fakeOutput{}
	c := NewController(&fakeSynth{}, output)

	c.Play(context.Background(), "m1", "hello")
	c.Stop()

	if c.State() != StateIdle {
		t.Errorf("state = %v, want idle", c.State())
	}
	if !output.players[0].closed {
		t.Error("player should be closed on stop")
	}
}
