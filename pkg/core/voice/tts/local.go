package tts

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
)

// LocalProvider synthesizes speech with an on-machine espeak-ng binary.
// It is the offline fallback for when the hosted service is unreachable
// or not configured.
type LocalProvider struct {
	binary string
}

// NewLocalProvider creates a local synthesis provider. The binary is
// looked up once; Available reports the result.
func NewLocalProvider() *LocalProvider {
	p := &LocalProvider{}
	for _, name := range []string{"espeak-ng", "espeak"} {
		if path, err := exec.LookPath(name); err == nil {
			p.binary = path
			break
		}
	}
	return p
}

// Name returns the provider identifier.
func (p *LocalProvider) Name() string {
	return "local-espeak"
}

// Available reports whether a synthesis binary was found.
func (p *LocalProvider) Available() bool {
	return p.binary != ""
}

// Synthesize runs the local binary and returns its WAV output.
func (p *LocalProvider) Synthesize(ctx context.Context, text string, opts SynthesizeOptions) (*Synthesis, error) {
	if p.binary == "" {
		return nil, fmt.Errorf("no local synthesis binary")
	}

	args := []string{"--stdout"}
	if opts.Voice != "" {
		args = append(args, "-v", opts.Voice)
	}
	if opts.Speed > 0 {
		// espeak speed is words per minute; 175 is its default.
		args = append(args, "-s", strconv.Itoa(int(opts.Speed*175)))
	}
	args = append(args, text)

	cmd := exec.CommandContext(ctx, p.binary, args...)
	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("local synthesis: %w: %s", err, stderr.String())
	}

	pcm, sampleRate, err := pcmFromWAV(out.Bytes())
	if err != nil {
		return nil, fmt.Errorf("local synthesis output: %w", err)
	}

	return &Synthesis{Audio: pcm, Format: "pcm", SampleRate: sampleRate}, nil
}
