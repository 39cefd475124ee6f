package tts

import (
	"context"
	"errors"
	"testing"

	"github.com/tutorstack/tutorcore/pkg/core"
)

type fakeTTS struct {
	name      string
	available bool
	audio     []byte
	err       error
	calls     int
}

func (f *fakeTTS) Name() string    { return f.name }
func (f *fakeTTS) Available() bool { return f.available }

func (f *fakeTTS) Synthesize(_ context.Context, _ string, opts SynthesizeOptions) (*Synthesis, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &Synthesis{Audio: f.audio, Format: "pcm", SampleRate: 24000}, nil
}

func TestChain_NegotiatesOnce(t *testing.T) {
	hosted := &fakeTTS{name: "hosted", available: false}
	local := &fakeTTS{name: "local", available: true, audio: []byte{1, 2}}

	chain := NewChain(hosted, local)

	got := chain.Providers()
	if len(got) != 1 || got[0] != "local" {
		t.Errorf("Providers() = %v, want [local]", got)
	}
	if !chain.Supports() {
		t.Error("Supports() = false, want true")
	}
}

func TestChain_FallsBackToLocal(t *testing.T) {
	hosted := &fakeTTS{name: "hosted", available: true, err: errors.New("hosted down")}
	local := &fakeTTS{name: "local", available: true, audio: []byte{9}}

	chain := NewChain(hosted, local)
	synth, err := chain.Synthesize(context.Background(), "hello", SynthesizeOptions{})
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if len(synth.Audio) != 1 || synth.Audio[0] != 9 {
		t.Errorf("expected local audio, got %v", synth.Audio)
	}
	if hosted.calls != 1 || local.calls != 1 {
		t.Errorf("calls hosted=%d local=%d, want 1 and 1", hosted.calls, local.calls)
	}
}

func TestChain_AllFail(t *testing.T) {
	hosted := &fakeTTS{name: "hosted", available: true, err: errors.New("hosted down")}
	local := &fakeTTS{name: "local", available: true, err: errors.New("binary missing")}

	chain := NewChain(hosted, local)
	_, err := chain.Synthesize(context.Background(), "hello", SynthesizeOptions{})
	if !core.IsType(err, core.ErrExternalService) {
		t.Fatalf("expected external_service_error, got %v", err)
	}
}

func TestChain_NoProviders(t *testing.T) {
	chain := NewChain(&fakeTTS{name: "hosted", available: false})
	if chain.Supports() {
		t.Error("Supports() = true, want false")
	}
	_, err := chain.Synthesize(context.Background(), "hello", SynthesizeOptions{})
	if !core.IsType(err, core.ErrExternalService) {
		t.Fatalf("expected external_service_error, got %v", err)
	}
}

func TestChain_StopsOnCancelledContext(t *testing.T) {
	first := &fakeTTS{name: "first", available: true, err: context.Canceled}
	second := &fakeTTS{name: "second", available: true, audio: []byte{1}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	chain := NewChain(first, second)
	_, err := chain.Synthesize(ctx, "hello", SynthesizeOptions{})
	if err == nil {
		t.Fatal("expected error")
	}
	if second.calls != 0 {
		t.Error("fallback should not run once the context is cancelled")
	}
}
