package stt

import (
	"bytes"
	"context"
	"time"

	"github.com/tutorstack/tutorcore/pkg/core"
	"github.com/tutorstack/tutorcore/pkg/core/types"
)

// DefaultTimeout bounds a single transcription request.
const DefaultTimeout = 30 * time.Second

// Client is the stateless boundary between captured audio and the
// transcription service. It bounds clip size and request duration and
// classifies failures. It never retries: retrying means the user
// re-records, which avoids silently resubmitting payloads to a metered
// service.
type Client struct {
	provider    Provider
	maxDuration time.Duration
	timeout     time.Duration
	opts        TranscribeOptions
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithMaxClipDuration bounds accepted clips. Zero disables the bound.
func WithMaxClipDuration(d time.Duration) ClientOption {
	return func(c *Client) { c.maxDuration = d }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.timeout = d }
}

// WithTranscribeOptions sets the provider options used for every request.
func WithTranscribeOptions(opts TranscribeOptions) ClientOption {
	return func(c *Client) { c.opts = opts }
}

// NewClient creates a transcription client around the given provider.
func NewClient(provider Provider, opts ...ClientOption) *Client {
	c := &Client{
		provider: provider,
		timeout:  DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Transcribe converts a finalized clip to text. Oversized clips are
// rejected before anything is sent. Service failures come back classified
// as external service errors; timeouts resolve the same way instead of
// hanging.
func (c *Client) Transcribe(ctx context.Context, clip *types.AudioClip) (string, error) {
	if clip.Empty() {
		return "", core.NewValidationError("audio clip is empty", "audio")
	}
	if c.maxDuration > 0 && clip.Duration() > c.maxDuration {
		return "", core.NewValidationError("audio clip exceeds the maximum duration", "audio")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	opts := c.opts
	if opts.Format == "" {
		opts.Format = clip.Format
	}
	if opts.SampleRate == 0 {
		opts.SampleRate = clip.SampleRate
	}

	trans, err := c.provider.Transcribe(ctx, bytes.NewReader(clip.Data), opts)
	if err != nil {
		return "", core.NewExternalServiceError("transcription", err)
	}
	return trans.Text, nil
}
