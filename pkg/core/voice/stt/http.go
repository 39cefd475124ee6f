package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
)

// HTTPProvider implements Provider against the hosted speech service's
// multipart transcription endpoint.
type HTTPProvider struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPProvider creates a hosted transcription provider.
func NewHTTPProvider(baseURL, apiKey string) *HTTPProvider {
	return &HTTPProvider{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{},
	}
}

// NewHTTPProviderWithClient creates a provider with a custom HTTP client.
func NewHTTPProviderWithClient(baseURL, apiKey string, client *http.Client) *HTTPProvider {
	return &HTTPProvider{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: client,
	}
}

// Name returns the provider identifier.
func (p *HTTPProvider) Name() string {
	return "hosted-stt"
}

// Transcribe posts the audio as a multipart form and decodes the
// transcription response.
func (p *HTTPProvider) Transcribe(ctx context.Context, audio io.Reader, opts TranscribeOptions) (*Transcript, error) {
	audioData, err := io.ReadAll(audio)
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fw, err := mw.CreateFormFile("file", "audio."+extensionFor(opts.Format))
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := fw.Write(audioData); err != nil {
		return nil, fmt.Errorf("write audio data: %w", err)
	}

	if opts.Model != "" {
		if err := mw.WriteField("model", opts.Model); err != nil {
			return nil, fmt.Errorf("write model field: %w", err)
		}
	}
	if opts.Language != "" {
		if err := mw.WriteField("language", opts.Language); err != nil {
			return nil, fmt.Errorf("write language field: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	reqURL := p.baseURL + "/stt"
	if opts.Format != "" || opts.SampleRate > 0 {
		u, err := url.Parse(reqURL)
		if err != nil {
			return nil, fmt.Errorf("parse url: %w", err)
		}
		q := u.Query()
		if encoding := encodingFor(opts.Format); encoding != "" {
			q.Set("encoding", encoding)
		}
		if opts.SampleRate > 0 {
			q.Set("sample_rate", fmt.Sprintf("%d", opts.SampleRate))
		}
		u.RawQuery = q.Encode()
		reqURL = u.String()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, &buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("stt request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("stt error %d: %s", resp.StatusCode, string(body))
	}

	var decoded struct {
		Text     string   `json:"text"`
		Language *string  `json:"language,omitempty"`
		Duration *float64 `json:"duration,omitempty"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	t := &Transcript{Text: decoded.Text}
	if decoded.Language != nil {
		t.Language = *decoded.Language
	}
	if decoded.Duration != nil {
		t.Duration = *decoded.Duration
	}
	return t, nil
}

func extensionFor(format string) string {
	switch format {
	case "mp3", "wav", "webm", "ogg", "flac", "m4a":
		return format
	case "pcm", "raw", "":
		return "wav"
	default:
		return "wav"
	}
}

func encodingFor(format string) string {
	switch format {
	case "pcm", "raw":
		return "pcm_s16le"
	default:
		return ""
	}
}
