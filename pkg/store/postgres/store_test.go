package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/tutorstack/tutorcore/pkg/core/types"
)

// openTestStore connects to the database named by
// TUTORCORE_TEST_POSTGRES_DSN, or skips the test.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("TUTORCORE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TUTORCORE_TEST_POSTGRES_DSN not set")
	}
	store, err := Open(context.Background(), dsn)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_SessionRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	owner := "test-owner-" + t.Name()
	id, err := store.CreateSession(ctx, owner, "org1", "biology")
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	defer store.EndSession(ctx, id, nil)

	second, err := store.CreateSession(ctx, owner, "org1", "other")
	if err != nil {
		t.Fatalf("second CreateSession() error = %v", err)
	}
	if second != id {
		t.Errorf("second create returned %q, want the open session %q", second, id)
	}

	if err := store.IncrementQueryCount(ctx, id); err != nil {
		t.Fatalf("IncrementQueryCount() error = %v", err)
	}
	sess, err := store.GetSession(ctx, id)
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if sess.QueryCount != 1 {
		t.Errorf("query count = %d, want 1", sess.QueryCount)
	}

	if err := store.EndSession(ctx, id, types.SessionPerformance(`{"score":3}`)); err != nil {
		t.Fatalf("EndSession() error = %v", err)
	}
	sess, _ = store.GetSession(ctx, id)
	if !sess.Ended() {
		t.Error("session should be ended")
	}
}

func TestStore_ConversationRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	owner := "test-owner-" + t.Name()
	convID, err := store.CreateConversation(ctx, owner, "org1", "biology")
	if err != nil {
		t.Fatalf("CreateConversation() error = %v", err)
	}

	msg, err := store.AppendMessage(ctx, convID, types.MessageDraft{
		Sender:  types.SenderUser,
		Content: "What is photosynthesis?",
	})
	if err != nil {
		t.Fatalf("AppendMessage() error = %v", err)
	}
	if msg.Timestamp.IsZero() {
		t.Error("the database timestamp should be returned")
	}

	if err := store.SetMessageImportant(ctx, msg.ID, true); err != nil {
		t.Fatalf("SetMessageImportant() error = %v", err)
	}

	messages, err := store.ListMessages(ctx, convID)
	if err != nil {
		t.Fatalf("ListMessages() error = %v", err)
	}
	if len(messages) != 1 || !messages[0].Important {
		t.Errorf("messages = %+v", messages)
	}
}
