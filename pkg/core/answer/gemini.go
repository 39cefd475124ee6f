package answer

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/tutorstack/tutorcore/pkg/core"
)

const defaultGeminiModel = "gemini-2.0-flash"

// GeminiGenerator implements Generator directly against the Gemini API.
// It is used when no hosted backend is configured; it cannot ground
// answers in uploaded documents, so UseDocuments is ignored and no
// citations are ever returned.
type GeminiGenerator struct {
	client *genai.Client
	model  string
}

// GeminiOption configures a GeminiGenerator.
type GeminiOption func(*GeminiGenerator)

// WithGeminiModel overrides the default model.
func WithGeminiModel(model string) GeminiOption {
	return func(g *GeminiGenerator) {
		g.model = model
	}
}

// NewGeminiGenerator creates a generator backed by the Gemini API.
func NewGeminiGenerator(ctx context.Context, apiKey string, opts ...GeminiOption) (*GeminiGenerator, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	g := &GeminiGenerator{client: client, model: defaultGeminiModel}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Name returns the generator identifier.
func (g *GeminiGenerator) Name() string {
	return "gemini"
}

// Ask sends the question to Gemini with a tutoring system prompt.
func (g *GeminiGenerator) Ask(ctx context.Context, req Request) (*Answer, error) {
	system := "You are a patient tutor. Answer the student's question clearly and concisely."
	if req.Topic != "" {
		system += " The current study topic is " + req.Topic + "."
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model,
		genai.Text(req.Question),
		&genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
		})
	if err != nil {
		return nil, core.NewExternalServiceError(g.Name(), err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return nil, core.NewExternalServiceError(g.Name(), fmt.Errorf("empty response from model %s", g.model))
	}
	return &Answer{Text: text}, nil
}
