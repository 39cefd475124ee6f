package convo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/tutorstack/tutorcore/pkg/core"
	"github.com/tutorstack/tutorcore/pkg/core/types"
)

// fakePersist is an in-memory persistence backend.
type fakePersist struct {
	conversations map[string]types.Conversation
	messages      map[string][]types.Message
	updates       []types.ConversationUpdate
	nextID        int

	createErr error
	appendErr error
	listErr   error
	updateErr error
}

func newFakePersist() *fakePersist {
	return &fakePersist{
		conversations: make(map[string]types.Conversation),
		messages:      make(map[string][]types.Message),
	}
}

func (f *fakePersist) id(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s-%d", prefix, f.nextID)
}

func (f *fakePersist) CreateConversation(_ context.Context, ownerID, orgID, topic string) (string, error) {
	if f.createErr != nil {
		return "", f.createErr
	}
	id := f.id("conv")
	f.conversations[id] = types.Conversation{ID: id, OwnerID: ownerID, OrganizationID: orgID, Topic: topic}
	return id, nil
}

func (f *fakePersist) AppendMessage(_ context.Context, conversationID string, draft types.MessageDraft) (*types.Message, error) {
	if f.appendErr != nil {
		return nil, f.appendErr
	}
	msg := types.Message{
		ID:             f.id("msg"),
		ConversationID: conversationID,
		Sender:         draft.Sender,
		Content:        draft.Content,
		Timestamp:      time.Now().Add(time.Duration(f.nextID) * time.Millisecond),
		Attachment:     draft.Attachment,
		Citations:      draft.Citations,
	}
	f.messages[conversationID] = append(f.messages[conversationID], msg)
	return &msg, nil
}

func (f *fakePersist) ListMessages(_ context.Context, conversationID string) ([]types.Message, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]types.Message(nil), f.messages[conversationID]...), nil
}

func (f *fakePersist) UpdateConversation(_ context.Context, conversationID string, update types.ConversationUpdate) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updates = append(f.updates, update)
	return nil
}

func (f *fakePersist) SetMessageFeedback(_ context.Context, messageID string, rating types.FeedbackRating) error {
	for convID := range f.messages {
		for i := range f.messages[convID] {
			if f.messages[convID][i].ID == messageID {
				r := rating
				f.messages[convID][i].Feedback = &r
				return nil
			}
		}
	}
	return errors.New("message not found")
}

func (f *fakePersist) SetMessageImportant(_ context.Context, messageID string, important bool) error {
	for convID := range f.messages {
		for i := range f.messages[convID] {
			if f.messages[convID][i].ID == messageID {
				f.messages[convID][i].Important = important
				return nil
			}
		}
	}
	return errors.New("message not found")
}

func TestStore_LazyCreateAndAppend(t *testing.T) {
	persist := newFakePersist()
	store := NewStore(persist, "u1", "org1", WithTopic("biology"))

	msg, err := store.Append(context.Background(), types.MessageDraft{
		Sender:  types.SenderUser,
		Content: "What is photosynthesis?",
	})
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	if store.ConversationID() == "" {
		t.Error("conversation should be created lazily on first append")
	}
	if strings.HasPrefix(msg.ID, "tmp_") {
		t.Errorf("returned message should carry the server id, got %q", msg.ID)
	}

	timeline := store.Timeline()
	if len(timeline) != 1 || timeline[0].ID != msg.ID {
		t.Errorf("timeline should hold the reconciled record: %+v", timeline)
	}
}

func TestStore_TitleDerivedFromFirstUserMessage(t *testing.T) {
	persist := newFakePersist()
	store := NewStore(persist, "u1", "org1")

	store.Append(context.Background(), types.MessageDraft{Sender: types.SenderUser, Content: "What is osmosis?"})
	store.Append(context.Background(), types.MessageDraft{Sender: types.SenderAssistant, Content: "Osmosis is..."})

	var titles []string
	for _, u := range persist.updates {
		if u.Title != nil {
			titles = append(titles, *u.Title)
		}
	}
	if len(titles) != 1 || titles[0] != "What is osmosis?" {
		t.Errorf("titles = %v, want exactly one derived from the first user message", titles)
	}
}

func TestStore_MetaUpdatedAfterEveryAppend(t *testing.T) {
	persist := newFakePersist()
	store := NewStore(persist, "u1", "org1")

	store.Append(context.Background(), types.MessageDraft{Sender: types.SenderUser, Content: "a"})
	store.Append(context.Background(), types.MessageDraft{Sender: types.SenderAssistant, Content: "b"})

	if len(persist.updates) != 2 {
		t.Fatalf("updates = %d, want 2", len(persist.updates))
	}
	for i, u := range persist.updates {
		if u.LastMessageAt == nil {
			t.Errorf("update %d missing LastMessageAt", i)
		}
	}
}

func TestStore_RollbackOnAppendFailure(t *testing.T) {
	persist := newFakePersist()
	store := NewStore(persist, "u1", "org1")

	// Commit one message so the conversation exists.
	store.Append(context.Background(), types.MessageDraft{Sender: types.SenderUser, Content: "first"})

	persist.appendErr = errors.New("write failed")
	_, err := store.Append(context.Background(), types.MessageDraft{Sender: types.SenderUser, Content: "second"})
	if !core.IsType(err, core.ErrPersistence) {
		t.Fatalf("expected persistence_error, got %v", err)
	}

	timeline := store.Timeline()
	if len(timeline) != 1 {
		t.Fatalf("optimistic entry must be rolled back, timeline = %d entries", len(timeline))
	}

	persist.appendErr = nil
	history, err := store.History(context.Background())
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 1 {
		t.Errorf("history = %d messages, want 1 (no partial record)", len(history))
	}
}

func TestStore_RollbackOnCreateFailure(t *testing.T) {
	persist := newFakePersist()
	persist.createErr = errors.New("create failed")
	store := NewStore(persist, "u1", "org1")

	_, err := store.Append(context.Background(), types.MessageDraft{Sender: types.SenderUser, Content: "hello"})
	if !core.IsType(err, core.ErrPersistence) {
		t.Fatalf("expected persistence_error, got %v", err)
	}
	if len(store.Timeline()) != 0 {
		t.Error("optimistic entry must be rolled back when conversation creation fails")
	}
}

func TestStore_HistoryOrderedByTimestamp(t *testing.T) {
	persist := newFakePersist()
	store := NewStore(persist, "u1", "org1")

	for i := 0; i < 5; i++ {
		if _, err := store.Append(context.Background(), types.MessageDraft{
			Sender:  types.SenderUser,
			Content: fmt.Sprintf("message %d", i),
		}); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	history, err := store.History(context.Background())
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	for i := 1; i < len(history); i++ {
		if history[i].Timestamp.Before(history[i-1].Timestamp) {
			t.Fatalf("history out of order at %d: %v before %v", i, history[i].Timestamp, history[i-1].Timestamp)
		}
	}
}

func TestStore_MetaFailureDoesNotFailAppend(t *testing.T) {
	persist := newFakePersist()
	persist.updateErr = errors.New("meta write failed")
	store := NewStore(persist, "u1", "org1")

	msg, err := store.Append(context.Background(), types.MessageDraft{Sender: types.SenderUser, Content: "hello"})
	if err != nil {
		t.Fatalf("Append() should survive a metadata failure, got %v", err)
	}
	if msg == nil {
		t.Fatal("expected the persisted message")
	}
}

func TestStore_AppendSurvivesCallerCancellation(t *testing.T) {
	persist := newFakePersist()
	store := NewStore(persist, "u1", "org1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // the view went away before the write resolved

	msg, err := store.Append(ctx, types.MessageDraft{Sender: types.SenderUser, Content: "hello"})
	if err != nil {
		t.Fatalf("dispatched append must run to completion, got %v", err)
	}
	if msg == nil {
		t.Fatal("expected the persisted message")
	}
}

func TestStore_SetFeedback(t *testing.T) {
	persist := newFakePersist()
	store := NewStore(persist, "u1", "org1")

	msg, _ := store.Append(context.Background(), types.MessageDraft{Sender: types.SenderAssistant, Content: "answer"})
	if err := store.SetFeedback(context.Background(), msg.ID, types.FeedbackPositive); err != nil {
		t.Fatalf("SetFeedback() error = %v", err)
	}

	timeline := store.Timeline()
	if timeline[0].Feedback == nil || *timeline[0].Feedback != types.FeedbackPositive {
		t.Errorf("feedback not reflected in timeline: %+v", timeline[0].Feedback)
	}
}

func TestStore_ToggleImportant(t *testing.T) {
	persist := newFakePersist()
	store := NewStore(persist, "u1", "org1")

	msg, _ := store.Append(context.Background(), types.MessageDraft{Sender: types.SenderAssistant, Content: "answer"})

	on, err := store.ToggleImportant(context.Background(), msg.ID)
	if err != nil || !on {
		t.Fatalf("ToggleImportant() = %v, %v; want true, nil", on, err)
	}
	off, err := store.ToggleImportant(context.Background(), msg.ID)
	if err != nil || off {
		t.Fatalf("second ToggleImportant() = %v, %v; want false, nil", off, err)
	}
}

func TestStore_BindLoadsHistory(t *testing.T) {
	persist := newFakePersist()
	seed := NewStore(persist, "u1", "org1")
	seed.Append(context.Background(), types.MessageDraft{Sender: types.SenderUser, Content: "q"})
	seed.Append(context.Background(), types.MessageDraft{Sender: types.SenderAssistant, Content: "a"})
	convID := seed.ConversationID()

	store := NewStore(persist, "u1", "org1")
	if err := store.Bind(context.Background(), convID); err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	if len(store.Timeline()) != 2 {
		t.Errorf("timeline = %d entries, want 2", len(store.Timeline()))
	}
	if store.ConversationID() != convID {
		t.Errorf("ConversationID() = %q, want %q", store.ConversationID(), convID)
	}
}
