package tts

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
)

// HTTPProvider implements Provider against the hosted speech service.
// One-shot synthesis posts to /tts/bytes; when the websocket transport is
// enabled, audio is fetched as chunks over /tts/websocket instead, which
// keeps the payload identical while letting the service start emitting
// early.
type HTTPProvider struct {
	baseURL      string
	apiKey       string
	httpClient   *http.Client
	useWebsocket bool
}

// HTTPOption configures an HTTPProvider.
type HTTPOption func(*HTTPProvider)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(p *HTTPProvider) { p.httpClient = client }
}

// WithWebsocketTransport fetches audio over the websocket endpoint.
func WithWebsocketTransport() HTTPOption {
	return func(p *HTTPProvider) { p.useWebsocket = true }
}

// NewHTTPProvider creates a hosted synthesis provider.
func NewHTTPProvider(baseURL, apiKey string, opts ...HTTPOption) *HTTPProvider {
	p := &HTTPProvider{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the provider identifier.
func (p *HTTPProvider) Name() string {
	return "hosted-tts"
}

// Available reports whether the provider is configured. The hosted
// capability requires an endpoint and a key.
func (p *HTTPProvider) Available() bool {
	return p.baseURL != "" && p.apiKey != ""
}

// Synthesize converts text to audio.
func (p *HTTPProvider) Synthesize(ctx context.Context, text string, opts SynthesizeOptions) (*Synthesis, error) {
	if p.useWebsocket {
		return p.synthesizeWS(ctx, text, opts)
	}
	return p.synthesizeHTTP(ctx, text, opts)
}

type synthesisRequest struct {
	Text       string  `json:"text"`
	Voice      string  `json:"voice,omitempty"`
	Speed      float64 `json:"speed,omitempty"`
	Language   string  `json:"language,omitempty"`
	Format     string  `json:"format,omitempty"`
	SampleRate int     `json:"sample_rate,omitempty"`
}

func (p *HTTPProvider) synthesizeHTTP(ctx context.Context, text string, opts SynthesizeOptions) (*Synthesis, error) {
	sampleRate := opts.SampleRate
	if sampleRate == 0 {
		sampleRate = 24000
	}
	format := opts.Format
	if format == "" {
		format = "pcm"
	}

	payload, err := json.Marshal(synthesisRequest{
		Text:       text,
		Voice:      opts.Voice,
		Speed:      opts.Speed,
		Language:   opts.Language,
		Format:     format,
		SampleRate: sampleRate,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/tts/bytes", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tts request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("tts error %d: %s", resp.StatusCode, string(body))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}

	return &Synthesis{Audio: audio, Format: format, SampleRate: sampleRate}, nil
}

type wsRequest struct {
	Text       string  `json:"text"`
	Voice      string  `json:"voice,omitempty"`
	Speed      float64 `json:"speed,omitempty"`
	Language   string  `json:"language,omitempty"`
	Format     string  `json:"format,omitempty"`
	SampleRate int     `json:"sample_rate,omitempty"`
}

type wsResponse struct {
	Type  string `json:"type"` // "chunk", "done", "error"
	Data  string `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

func (p *HTTPProvider) synthesizeWS(ctx context.Context, text string, opts SynthesizeOptions) (*Synthesis, error) {
	sampleRate := opts.SampleRate
	if sampleRate == 0 {
		sampleRate = 24000
	}
	format := opts.Format
	if format == "" {
		format = "pcm"
	}

	u, err := url.Parse(p.baseURL + "/tts/websocket")
	if err != nil {
		return nil, fmt.Errorf("parse websocket URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	q := u.Query()
	q.Set("api_key", p.apiKey)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("websocket connect: %w", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(wsRequest{
		Text:       text,
		Voice:      opts.Voice,
		Speed:      opts.Speed,
		Language:   opts.Language,
		Format:     format,
		SampleRate: sampleRate,
	}); err != nil {
		return nil, fmt.Errorf("websocket send: %w", err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}

	var audio []byte
	for {
		var msg wsResponse
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				break
			}
			return nil, fmt.Errorf("websocket read: %w", err)
		}

		switch msg.Type {
		case "chunk":
			chunk, err := base64.StdEncoding.DecodeString(msg.Data)
			if err != nil {
				return nil, fmt.Errorf("decode chunk: %w", err)
			}
			audio = append(audio, chunk...)
		case "done":
			return &Synthesis{Audio: audio, Format: format, SampleRate: sampleRate}, nil
		case "error":
			return nil, fmt.Errorf("tts stream error: %s", msg.Error)
		}
	}

	if len(audio) == 0 {
		return nil, fmt.Errorf("tts stream closed without audio")
	}
	return &Synthesis{Audio: audio, Format: format, SampleRate: sampleRate}, nil
}

// normalizeFormat maps media types and aliases to the two formats the
// playback path understands.
func normalizeFormat(format string) string {
	switch strings.ToLower(format) {
	case "pcm", "raw", "pcm_s16le":
		return "pcm"
	default:
		return "wav"
	}
}
