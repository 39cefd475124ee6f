// Package convo owns conversation metadata and the ordered message
// timeline, including the optimistic-append arena.
package convo

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tutorstack/tutorcore/pkg/core"
	"github.com/tutorstack/tutorcore/pkg/core/types"
)

// Persistence is the conversation slice of the store contract. The store
// is its sole caller for message and conversation writes.
type Persistence interface {
	CreateConversation(ctx context.Context, ownerID, orgID, topic string) (string, error)
	AppendMessage(ctx context.Context, conversationID string, draft types.MessageDraft) (*types.Message, error)
	ListMessages(ctx context.Context, conversationID string) ([]types.Message, error)
	UpdateConversation(ctx context.Context, conversationID string, update types.ConversationUpdate) error
	SetMessageFeedback(ctx context.Context, messageID string, rating types.FeedbackRating) error
	SetMessageImportant(ctx context.Context, messageID string, important bool) error
}

// DefaultTimeout bounds each persistence call.
const DefaultTimeout = 30 * time.Second

// entry is one timeline slot. While pending, the message carries a
// client-generated temporary id; reconciliation swaps in the persisted
// record, keyed by that temp id.
type entry struct {
	msg     types.Message
	pending bool
}

// Store manages one conversation's visible timeline against eventual
// persisted truth. Appends render optimistically and are reconciled or
// rolled back when the write resolves; the persisted history never
// contains optimistic-only entries.
type Store struct {
	persist Persistence
	logger  *slog.Logger
	ownerID string
	orgID   string
	topic   string
	timeout time.Duration

	mu             sync.Mutex
	conversationID string
	titleSet       bool
	timeline       []entry
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithTimeout sets the per-call persistence timeout.
func WithTimeout(d time.Duration) Option {
	return func(s *Store) { s.timeout = d }
}

// WithTopic sets the topic used when the conversation is lazily created.
func WithTopic(topic string) Option {
	return func(s *Store) { s.topic = topic }
}

// NewStore creates a conversation store for one view. The conversation
// row itself is created lazily, on the first append.
func NewStore(persist Persistence, ownerID, orgID string, opts ...Option) *Store {
	s := &Store{
		persist: persist,
		logger:  slog.Default(),
		ownerID: ownerID,
		orgID:   orgID,
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ConversationID returns the bound conversation id, or "" before the
// first successful append.
func (s *Store) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationID
}

// Bind attaches the store to an existing conversation and loads its
// committed history into the timeline.
func (s *Store) Bind(ctx context.Context, conversationID string) error {
	history, err := s.loadHistory(ctx, conversationID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversationID = conversationID
	s.titleSet = true
	s.timeline = s.timeline[:0]
	for _, msg := range history {
		s.timeline = append(s.timeline, entry{msg: msg})
	}
	return nil
}

// Timeline returns a snapshot of the visible timeline, including
// optimistic entries still awaiting confirmation.
func (s *Store) Timeline() []types.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Message, len(s.timeline))
	for i, e := range s.timeline {
		out[i] = e.msg
	}
	return out
}

// History reloads the committed message list, ascending by timestamp. It
// reflects exactly the persisted set, never optimistic-only entries.
func (s *Store) History(ctx context.Context) ([]types.Message, error) {
	s.mu.Lock()
	id := s.conversationID
	s.mu.Unlock()

	if id == "" {
		return nil, nil
	}
	return s.loadHistory(ctx, id)
}

func (s *Store) loadHistory(ctx context.Context, conversationID string) ([]types.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	msgs, err := s.persist.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, core.NewPersistenceError("load history", err)
	}
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Timestamp.Before(msgs[j].Timestamp)
	})
	return msgs, nil
}

// Append renders the draft optimistically, persists it, and reconciles
// the timeline with the authoritative record. On a confirmed write
// failure the optimistic entry is removed and the error is returned
// classified; the persisted history never holds a partial message.
//
// The write itself is deliberately detached from the caller's
// cancellation: once dispatched it runs to completion or failure, even
// if the view that issued it has gone away.
func (s *Store) Append(ctx context.Context, draft types.MessageDraft) (*types.Message, error) {
	tempID := "tmp_" + uuid.NewString()

	s.mu.Lock()
	conversationID := s.conversationID
	s.timeline = append(s.timeline, entry{
		msg: types.Message{
			ID:             tempID,
			ConversationID: conversationID,
			Sender:         draft.Sender,
			Content:        draft.Content,
			Timestamp:      time.Now(),
			Attachment:     draft.Attachment,
			Citations:      draft.Citations,
		},
		pending: true,
	})
	s.mu.Unlock()

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	if conversationID == "" {
		id, err := s.persist.CreateConversation(wctx, s.ownerID, s.orgID, s.topic)
		if err != nil {
			s.removeEntry(tempID)
			return nil, core.NewPersistenceError("create conversation", err)
		}
		s.mu.Lock()
		s.conversationID = id
		conversationID = id
		s.mu.Unlock()
	}

	persisted, err := s.persist.AppendMessage(wctx, conversationID, draft)
	if err != nil {
		s.removeEntry(tempID)
		return nil, core.NewPersistenceError("append message", err)
	}

	s.mu.Lock()
	for i := range s.timeline {
		if s.timeline[i].msg.ID == tempID {
			s.timeline[i] = entry{msg: *persisted}
			break
		}
	}
	deriveTitle := !s.titleSet && draft.Sender == types.SenderUser
	if deriveTitle {
		s.titleSet = true
	}
	s.mu.Unlock()

	update := types.ConversationUpdate{LastMessageAt: &persisted.Timestamp}
	if deriveTitle {
		title := types.DeriveTitle(draft.Content)
		update.Title = &title
	}
	if err := s.persist.UpdateConversation(wctx, conversationID, update); err != nil {
		// Metadata is advisory; the message itself is committed.
		s.logger.Warn("update conversation metadata", "conversation_id", conversationID, "error", err)
	}

	return persisted, nil
}

func (s *Store) removeEntry(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.timeline {
		if s.timeline[i].msg.ID == id {
			s.timeline = append(s.timeline[:i], s.timeline[i+1:]...)
			return
		}
	}
}

// SetFeedback records the user's rating on a committed message.
func (s *Store) SetFeedback(ctx context.Context, messageID string, rating types.FeedbackRating) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.persist.SetMessageFeedback(ctx, messageID, rating); err != nil {
		return core.NewPersistenceError("set feedback", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.timeline {
		if s.timeline[i].msg.ID == messageID {
			r := rating
			s.timeline[i].msg.Feedback = &r
			break
		}
	}
	return nil
}

// ToggleImportant flips the important flag on a committed message and
// returns the new value.
func (s *Store) ToggleImportant(ctx context.Context, messageID string) (bool, error) {
	s.mu.Lock()
	var current, found bool
	for i := range s.timeline {
		if s.timeline[i].msg.ID == messageID {
			current = s.timeline[i].msg.Important
			found = true
			break
		}
	}
	s.mu.Unlock()

	if !found {
		return false, core.NewValidationError("unknown message", "message_id")
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	next := !current
	if err := s.persist.SetMessageImportant(ctx, messageID, next); err != nil {
		return current, core.NewPersistenceError("set important", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.timeline {
		if s.timeline[i].msg.ID == messageID {
			s.timeline[i].msg.Important = next
			break
		}
	}
	return next, nil
}

// UpdateMeta applies a metadata update (tags, starred, topic) to the
// bound conversation.
func (s *Store) UpdateMeta(ctx context.Context, update types.ConversationUpdate) error {
	s.mu.Lock()
	id := s.conversationID
	if update.Title != nil {
		s.titleSet = true
	}
	s.mu.Unlock()

	if id == "" {
		return core.NewValidationError("no conversation bound", "conversation_id")
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.persist.UpdateConversation(ctx, id, update); err != nil {
		return core.NewPersistenceError("update conversation", err)
	}
	return nil
}
