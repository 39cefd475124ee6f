// Package types defines the data model shared by the orchestration
// components: sessions, conversations, messages, and transient audio clips.
package types

import (
	"encoding/json"
	"time"
)

// Session is a bounded tutoring interaction window tracked for analytics.
// It is independent of any single conversation.
type Session struct {
	ID             string     `json:"id"`
	OwnerID        string     `json:"owner_id"`
	OrganizationID string     `json:"organization_id"`
	Topic          string     `json:"topic"`
	StartedAt      time.Time  `json:"started_at"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
	QueryCount     int        `json:"query_count"`
}

// Ended reports whether the session has been terminated.
// EndedAt, once set, is immutable.
func (s *Session) Ended() bool {
	return s.EndedAt != nil
}

// SessionPerformance is the opaque performance payload recorded when a
// session ends. The core passes it through without interpreting it.
type SessionPerformance = json.RawMessage
