package types

import "time"

// AudioClip is the finalized payload of one recording cycle. It is
// transient and in-memory only; it exists between capture and
// transcription and is never persisted.
type AudioClip struct {
	Data       []byte
	Format     string // "pcm", "wav", ...
	SampleRate int    // samples per second
	Channels   int
}

// Duration returns the clip length, assuming 16-bit samples.
// Returns zero if the clip parameters are incomplete.
func (c *AudioClip) Duration() time.Duration {
	if c.SampleRate <= 0 || c.Channels <= 0 || len(c.Data) == 0 {
		return 0
	}
	bytesPerSecond := c.SampleRate * c.Channels * 2
	return time.Duration(len(c.Data)) * time.Second / time.Duration(bytesPerSecond)
}

// Empty reports whether the clip holds no audio.
func (c *AudioClip) Empty() bool {
	return c == nil || len(c.Data) == 0
}
