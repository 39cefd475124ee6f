package playback

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/ebitengine/oto/v3"
)

// OtoOutput implements Output over the system speaker. The oto context
// is process-global and fixes the sample rate; PCM at other rates is
// resampled to the device rate before playback.
type OtoOutput struct {
	ctx        *oto.Context
	sampleRate int
}

// NewOtoOutput initializes the speaker at the given rate (16-bit mono).
func NewOtoOutput(sampleRate int) (*OtoOutput, error) {
	opts := &oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: 1,
		Format:       oto.FormatSignedInt16LE,
	}
	ctx, ready, err := oto.NewContext(opts)
	if err != nil {
		return nil, fmt.Errorf("init speaker: %w", err)
	}
	<-ready

	return &OtoOutput{ctx: ctx, sampleRate: sampleRate}, nil
}

// NewPlayer prepares a PCM payload for playback, resampling when the
// source rate differs from the device rate.
func (o *OtoOutput) NewPlayer(pcm []byte, sampleRate int) (Player, error) {
	if sampleRate != 0 && sampleRate != o.sampleRate {
		pcm = resamplePCM16(pcm, sampleRate, o.sampleRate)
	}
	return &otoPlayer{player: o.ctx.NewPlayer(bytes.NewReader(pcm))}, nil
}

// resamplePCM16 converts 16-bit mono PCM between sample rates using
// linear interpolation. Good enough for speech; no anti-alias filter.
func resamplePCM16(pcm []byte, from, to int) []byte {
	if from <= 0 || to <= 0 || from == to || len(pcm) < 2 {
		return pcm
	}
	src := make([]int16, len(pcm)/2)
	for i := range src {
		src[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	n := int(int64(len(src)) * int64(to) / int64(from))
	if n < 1 {
		n = 1
	}
	out := make([]byte, n*2)
	step := float64(from) / float64(to)
	for i := 0; i < n; i++ {
		pos := float64(i) * step
		j := int(pos)
		if j >= len(src)-1 {
			binary.LittleEndian.PutUint16(out[i*2:], uint16(src[len(src)-1]))
			continue
		}
		frac := pos - float64(j)
		sample := float64(src[j])*(1-frac) + float64(src[j+1])*frac
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(sample)))
	}
	return out
}

type otoPlayer struct {
	player *oto.Player
}

func (p *otoPlayer) Play()  { p.player.Play() }
func (p *otoPlayer) Pause() { p.player.Pause() }

func (p *otoPlayer) SetVolume(volume float64) {
	p.player.SetVolume(volume)
}

func (p *otoPlayer) Close() error {
	return p.player.Close()
}
