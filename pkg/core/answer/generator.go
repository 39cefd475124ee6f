// Package answer produces assistant replies to student questions, with
// optional grounding in the organization's uploaded documents.
package answer

import (
	"context"

	"github.com/tutorstack/tutorcore/pkg/core/types"
)

// Request carries one question to a generator, with the conversation it
// belongs to and whether document grounding is wanted.
type Request struct {
	Question       string
	ConversationID string
	Topic          string
	UseDocuments   bool
}

// Answer is the generator's reply. Citations is empty when the reply
// was not grounded in documents.
type Answer struct {
	Text      string
	Citations []types.SourceCitation
}

// Generator is the interface for producing assistant replies.
type Generator interface {
	// Name returns the generator identifier, used in error reports.
	Name() string

	// Ask resolves a question into an answer. Implementations must
	// honor ctx cancellation.
	Ask(ctx context.Context, req Request) (*Answer, error)
}
