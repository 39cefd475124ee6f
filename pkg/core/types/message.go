package types

import (
	"strings"
	"time"
	"unicode"
)

// Sender identifies who produced a message.
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
	// SenderSystem marks a message inserted to represent a recoverable
	// orchestration failure. It is never a true conversational turn.
	SenderSystem Sender = "system"
)

// FeedbackRating is the user's rating of an assistant message.
type FeedbackRating int

const (
	FeedbackNegative FeedbackRating = -1
	FeedbackNeutral  FeedbackRating = 0
	FeedbackPositive FeedbackRating = 1
)

// Attachment references a document attached to a message.
type Attachment struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Name string `json:"name"`
}

// SourceCitation references a grounding document backing an assistant
// message.
type SourceCitation struct {
	DocumentID string `json:"document_id"`
	Filename   string `json:"filename"`
	Excerpt    string `json:"excerpt,omitempty"`
}

// Message is one entry in a conversation timeline. Messages are
// append-only; the only permitted mutations are the feedback rating and
// the important flag.
type Message struct {
	ID             string           `json:"id"`
	ConversationID string           `json:"conversation_id"`
	Sender         Sender           `json:"sender"`
	Content        string           `json:"content"`
	Timestamp      time.Time        `json:"timestamp"`
	Important      bool             `json:"important"`
	Feedback       *FeedbackRating  `json:"feedback,omitempty"`
	Attachment     *Attachment      `json:"attachment,omitempty"`
	Citations      []SourceCitation `json:"citations,omitempty"`
}

// MessageDraft is the caller-supplied portion of a message, before the
// store assigns the authoritative id and timestamp.
type MessageDraft struct {
	Sender     Sender           `json:"sender"`
	Content    string           `json:"content"`
	Attachment *Attachment      `json:"attachment,omitempty"`
	Citations  []SourceCitation `json:"citations,omitempty"`
}

// DeriveTitle builds a conversation title from the first user message:
// the first line, truncated on a word boundary.
func DeriveTitle(content string) string {
	const maxTitleLen = 60

	line := content
	if i := strings.IndexAny(line, "\r\n"); i >= 0 {
		line = line[:i]
	}
	line = strings.TrimSpace(line)

	runes := []rune(line)
	if len(runes) <= maxTitleLen {
		return line
	}

	cut := maxTitleLen
	for cut > 0 && !unicode.IsSpace(runes[cut]) {
		cut--
	}
	if cut == 0 {
		cut = maxTitleLen
	}
	return strings.TrimSpace(string(runes[:cut])) + "…"
}
