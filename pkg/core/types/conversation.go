package types

import "time"

// Conversation is a persisted, titled thread of messages.
type Conversation struct {
	ID             string    `json:"id"`
	OwnerID        string    `json:"owner_id"`
	OrganizationID string    `json:"organization_id"`
	Title          string    `json:"title"`
	Topic          string    `json:"topic"`
	Category       string    `json:"category,omitempty"`
	Tags           []string  `json:"tags,omitempty"`
	LastMessageAt  time.Time `json:"last_message_at"`
	Starred        bool      `json:"starred"`
}

// ConversationUpdate carries the mutable conversation metadata.
// Nil pointer fields are left unchanged.
type ConversationUpdate struct {
	LastMessageAt *time.Time
	Title         *string
	Topic         *string
	Category      *string
	Tags          []string
	Starred       *bool
}
