package types

import "time"

// ChatOptions enumerates the per-view behavior toggles. One parameterized
// configuration replaces what used to be maintained as forked code paths.
type ChatOptions struct {
	// UseDocuments enables document grounding for generated answers.
	UseDocuments bool
	// AutoPlaySynthesis speaks assistant replies as they arrive.
	AutoPlaySynthesis bool
	// Voice selects the synthesis voice.
	Voice string
	// MaxClipDuration bounds a single recording; longer clips are
	// rejected before they are sent to transcription.
	MaxClipDuration time.Duration
}

// DefaultChatOptions returns the default chat configuration.
func DefaultChatOptions() ChatOptions {
	return ChatOptions{
		UseDocuments:      true,
		AutoPlaySynthesis: false,
		Voice:             "",
		MaxClipDuration:   2 * time.Minute,
	}
}
