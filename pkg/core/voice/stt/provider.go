// Package stt provides speech-to-text transcription.
package stt

import (
	"context"
	"io"
)

// Provider is the interface for speech-to-text services.
type Provider interface {
	// Name returns the provider identifier.
	Name() string

	// Transcribe converts audio to text.
	Transcribe(ctx context.Context, audio io.Reader, opts TranscribeOptions) (*Transcript, error)
}

// TranscribeOptions configures transcription.
type TranscribeOptions struct {
	Model      string // Model to use
	Language   string // ISO language code (default: "en")
	Format     string // Audio format hint (pcm, wav, webm, etc.)
	SampleRate int    // Audio sample rate in Hz
}

// Transcript is the transcription result.
type Transcript struct {
	Text     string  // Transcribed text
	Language string  // Detected or requested language
	Duration float64 // Audio duration in seconds (if reported)
}
