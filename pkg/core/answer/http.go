package answer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/tutorstack/tutorcore/pkg/core"
	"github.com/tutorstack/tutorcore/pkg/core/types"
)

// HTTPGenerator implements Generator against the hosted tutoring
// backend's query endpoint.
type HTTPGenerator struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPGenerator creates a hosted answer generator.
func NewHTTPGenerator(baseURL, apiKey string) *HTTPGenerator {
	return &HTTPGenerator{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{},
	}
}

// NewHTTPGeneratorWithClient creates a generator with a custom HTTP client.
func NewHTTPGeneratorWithClient(baseURL, apiKey string, client *http.Client) *HTTPGenerator {
	return &HTTPGenerator{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: client,
	}
}

// Name returns the generator identifier.
func (g *HTTPGenerator) Name() string {
	return "hosted-answers"
}

// Ask posts the question and decodes the reply. Network-level failures
// are reported as transient so the caller can decide whether to retry;
// anything the service itself rejected is an external service error.
func (g *HTTPGenerator) Ask(ctx context.Context, req Request) (*Answer, error) {
	payload := struct {
		Question       string `json:"question"`
		ConversationID string `json:"conversation_id,omitempty"`
		Topic          string `json:"topic,omitempty"`
		UseDocuments   bool   `json:"use_documents"`
	}{
		Question:       req.Question,
		ConversationID: req.ConversationID,
		Topic:          req.Topic,
		UseDocuments:   req.UseDocuments,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/query", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		// A transport failure means the request never resolved; the
		// caller may retry.
		return nil, core.NewTransientNetworkError(g.Name(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		err := fmt.Errorf("query error %d: %s", resp.StatusCode, string(respBody))
		if resp.StatusCode == http.StatusBadGateway || resp.StatusCode == http.StatusServiceUnavailable || resp.StatusCode == http.StatusGatewayTimeout {
			return nil, core.NewTransientNetworkError(g.Name(), err)
		}
		return nil, core.NewExternalServiceError(g.Name(), err)
	}

	var decoded struct {
		ResponseText    string `json:"responseText"`
		SourceCitations []struct {
			DocumentID string `json:"documentId"`
			Filename   string `json:"filename"`
			Excerpt    string `json:"excerpt,omitempty"`
		} `json:"sourceCitations,omitempty"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, core.NewExternalServiceError(g.Name(), fmt.Errorf("parse response: %w", err))
	}

	ans := &Answer{Text: decoded.ResponseText}
	for _, c := range decoded.SourceCitations {
		ans.Citations = append(ans.Citations, types.SourceCitation{
			DocumentID: c.DocumentID,
			Filename:   c.Filename,
			Excerpt:    c.Excerpt,
		})
	}
	return ans, nil
}
