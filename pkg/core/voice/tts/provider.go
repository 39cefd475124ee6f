// Package tts provides text-to-speech synthesis with a negotiated
// hosted/local provider chain.
package tts

import (
	"context"
	"errors"

	"github.com/tutorstack/tutorcore/pkg/core"
)

// Provider is the interface for text-to-speech services.
type Provider interface {
	// Name returns the provider identifier.
	Name() string

	// Available reports whether the provider can serve requests.
	// It is probed once, at chain construction, not per call.
	Available() bool

	// Synthesize converts text to audio.
	Synthesize(ctx context.Context, text string, opts SynthesizeOptions) (*Synthesis, error)
}

// SynthesizeOptions configures synthesis.
type SynthesizeOptions struct {
	Voice      string  // Voice identifier
	Speed      float64 // Speed multiplier (default 1.0)
	Language   string  // Language code
	Format     string  // Output format: "wav" or "pcm"
	SampleRate int     // Sample rate in Hz (default 24000)
}

// Synthesis is the result of synthesis. Audio is raw 16-bit PCM unless
// Format says otherwise.
type Synthesis struct {
	Audio      []byte
	Format     string
	SampleRate int
}

// Chain is the single synthesis entry point. Candidate providers are
// probed once at construction; synthesis walks the available ones in
// order, falling back to the next on failure.
type Chain struct {
	providers []Provider
}

// NewChain negotiates capabilities over the candidates and keeps the
// available ones, in order.
func NewChain(candidates ...Provider) *Chain {
	c := &Chain{}
	for _, p := range candidates {
		if p != nil && p.Available() {
			c.providers = append(c.providers, p)
		}
	}
	return c
}

// Providers returns the names of the negotiated providers, in fallback
// order.
func (c *Chain) Providers() []string {
	names := make([]string, len(c.providers))
	for i, p := range c.providers {
		names[i] = p.Name()
	}
	return names
}

// Supports reports whether any provider was negotiated.
func (c *Chain) Supports() bool {
	return len(c.providers) > 0
}

// Synthesize tries each negotiated provider in order and returns the
// first success. If every provider fails, the last failure comes back
// classified as an external service error.
func (c *Chain) Synthesize(ctx context.Context, text string, opts SynthesizeOptions) (*Synthesis, error) {
	if len(c.providers) == 0 {
		return nil, core.NewExternalServiceError("synthesis", errNoProviders)
	}

	var lastErr error
	for _, p := range c.providers {
		synth, err := p.Synthesize(ctx, text, opts)
		if err == nil {
			return synth, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return nil, core.NewExternalServiceError("synthesis", lastErr)
}

var errNoProviders = errors.New("no synthesis provider available")
