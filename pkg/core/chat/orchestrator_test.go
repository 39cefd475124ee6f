package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/tutorstack/tutorcore/pkg/core"
	"github.com/tutorstack/tutorcore/pkg/core/answer"
	"github.com/tutorstack/tutorcore/pkg/core/types"
)

type fakeConvo struct {
	mu        sync.Mutex
	id        string
	messages  []types.Message
	nextID    int
	appendErr map[types.Sender]error
}

func newFakeConvo() *fakeConvo {
	return &fakeConvo{id: "conv-1", appendErr: make(map[types.Sender]error)}
}

func (f *fakeConvo) ConversationID() string { return f.id }

func (f *fakeConvo) Append(_ context.Context, draft types.MessageDraft) (*types.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.appendErr[draft.Sender]; err != nil {
		return nil, err
	}
	f.nextID++
	msg := types.Message{
		ID:             fmt.Sprintf("msg-%d", f.nextID),
		ConversationID: f.id,
		Sender:         draft.Sender,
		Content:        draft.Content,
		Timestamp:      time.Now(),
		Citations:      draft.Citations,
	}
	f.messages = append(f.messages, msg)
	return &msg, nil
}

func (f *fakeConvo) bySender(s types.Sender) []types.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []types.Message
	for _, m := range f.messages {
		if m.Sender == s {
			out = append(out, m)
		}
	}
	return out
}

type fakeSessions struct {
	mu         sync.Mutex
	startCalls int
	startErr   error
	increments int
}

func (f *fakeSessions) Start(context.Context, string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startCalls++
	if f.startErr != nil {
		return "", f.startErr
	}
	return "sess-1", nil
}

func (f *fakeSessions) IncrementQueryCount(context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.increments++
}

type fakeGenerator struct {
	mu     sync.Mutex
	calls  int
	answer *answer.Answer
	err    error
	block  chan struct{}
}

func (f *fakeGenerator) Name() string { return "fake" }

func (f *fakeGenerator) Ask(ctx context.Context, _ answer.Request) (*answer.Answer, error) {
	f.mu.Lock()
	f.calls++
	block := f.block
	f.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, core.NewTransientNetworkError("fake", ctx.Err())
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.answer, nil
}

type fakeSpeaker struct {
	mu     sync.Mutex
	played []string
	done   chan struct{}
}

func (f *fakeSpeaker) Play(_ context.Context, messageID, _ string) error {
	f.mu.Lock()
	f.played = append(f.played, messageID)
	f.mu.Unlock()
	if f.done != nil {
		close(f.done)
	}
	return nil
}

func TestOrchestrator_SuccessfulTurn(t *testing.T) {
	convo := newFakeConvo()
	sessions := &fakeSessions{}
	gen := &fakeGenerator{answer: &answer.Answer{
		Text: "Photosynthesis converts light into chemical energy.",
		Citations: []types.SourceCitation{
			{DocumentID: "doc-1", Filename: "biology.pdf"},
		},
	}}

	orch := NewOrchestrator(convo, sessions, gen, WithTopic("biology"))
	res, err := orch.Submit(context.Background(), "What is photosynthesis?")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	if res.UserMessage == nil || res.UserMessage.Content != "What is photosynthesis?" {
		t.Errorf("user message = %+v", res.UserMessage)
	}
	if res.AssistantMessage == nil || len(res.AssistantMessage.Citations) != 1 {
		t.Errorf("assistant message = %+v", res.AssistantMessage)
	}
	if len(convo.messages) != 2 {
		t.Errorf("conversation holds %d messages, want exactly 2", len(convo.messages))
	}
	if sessions.increments != 1 {
		t.Errorf("query count incremented %d times, want exactly 1", sessions.increments)
	}
	if got := orch.State(); got != TurnResolved {
		t.Errorf("state = %v, want resolved", got)
	}
}

func TestOrchestrator_EmptyInputRejectedBeforeIO(t *testing.T) {
	convo := newFakeConvo()
	sessions := &fakeSessions{}
	gen := &fakeGenerator{}

	orch := NewOrchestrator(convo, sessions, gen)
	for _, input := range []string{"", "   ", "\n\t "} {
		_, err := orch.Submit(context.Background(), input)
		if !core.IsType(err, core.ErrValidation) {
			t.Errorf("Submit(%q) error = %v, want validation_error", input, err)
		}
	}

	if len(convo.messages) != 0 || sessions.startCalls != 0 || gen.calls != 0 {
		t.Error("rejected input must not reach any collaborator")
	}
}

func TestOrchestrator_SingleFlight(t *testing.T) {
	convo := newFakeConvo()
	gen := &fakeGenerator{
		answer: &answer.Answer{Text: "ok"},
		block:  make(chan struct{}),
	}

	orch := NewOrchestrator(convo, &fakeSessions{}, gen)

	firstDone := make(chan error, 1)
	go func() {
		_, err := orch.Submit(context.Background(), "first question")
		firstDone <- err
	}()

	// Wait for the first turn to reach the generator.
	deadline := time.After(2 * time.Second)
	for {
		gen.mu.Lock()
		started := gen.calls > 0
		gen.mu.Unlock()
		if started {
			break
		}
		select {
		case <-deadline:
			t.Fatal("first turn never reached the generator")
		case <-time.After(time.Millisecond):
		}
	}

	_, err := orch.Submit(context.Background(), "second question")
	if !core.IsType(err, core.ErrInvalidState) {
		t.Errorf("concurrent Submit error = %v, want invalid_state", err)
	}

	close(gen.block)
	if err := <-firstDone; err != nil {
		t.Fatalf("first turn failed: %v", err)
	}

	users := convo.bySender(types.SenderUser)
	if len(users) != 1 || users[0].Content != "first question" {
		t.Errorf("user messages = %+v, want only the first question", users)
	}
}

func TestOrchestrator_GenerationFailureLeavesOneSystemMessage(t *testing.T) {
	convo := newFakeConvo()
	gen := &fakeGenerator{err: core.NewTransientNetworkError("fake", errors.New("timeout"))}

	orch := NewOrchestrator(convo, &fakeSessions{}, gen)
	res, err := orch.Submit(context.Background(), "What is osmosis?")
	if !core.IsType(err, core.ErrTransientNetwork) {
		t.Fatalf("Submit() error = %v, want transient_network_error", err)
	}

	users := convo.bySender(types.SenderUser)
	if len(users) != 1 || users[0].Content != "What is osmosis?" {
		t.Errorf("the user message must survive the failure: %+v", users)
	}
	if got := convo.bySender(types.SenderSystem); len(got) != 1 {
		t.Errorf("system messages = %d, want exactly 1", len(got))
	}
	if got := convo.bySender(types.SenderAssistant); len(got) != 0 {
		t.Errorf("no assistant message should exist, got %+v", got)
	}
	if res == nil || res.UserMessage == nil {
		t.Error("result should still carry the committed user message")
	}
	if got := orch.State(); got != TurnFailed {
		t.Errorf("state = %v, want failed", got)
	}
}

func TestOrchestrator_GenerationTimeout(t *testing.T) {
	convo := newFakeConvo()
	gen := &fakeGenerator{block: make(chan struct{})} // never unblocks

	orch := NewOrchestrator(convo, &fakeSessions{}, gen,
		WithGenerationTimeout(20*time.Millisecond))

	_, err := orch.Submit(context.Background(), "slow question")
	if !core.IsType(err, core.ErrTransientNetwork) {
		t.Fatalf("Submit() error = %v, want transient_network_error", err)
	}
	if got := convo.bySender(types.SenderSystem); len(got) != 1 {
		t.Errorf("system messages = %d, want exactly 1", len(got))
	}
	if got := convo.bySender(types.SenderUser); len(got) != 1 {
		t.Errorf("user messages = %d, want 1", len(got))
	}
}

func TestOrchestrator_UserAppendFailureReturnsError(t *testing.T) {
	convo := newFakeConvo()
	convo.appendErr[types.SenderUser] = core.NewPersistenceError("append message", errors.New("db down"))
	gen := &fakeGenerator{answer: &answer.Answer{Text: "ok"}}

	orch := NewOrchestrator(convo, &fakeSessions{}, gen)
	_, err := orch.Submit(context.Background(), "question")
	if !core.IsType(err, core.ErrPersistence) {
		t.Fatalf("Submit() error = %v, want persistence_error", err)
	}
	if gen.calls != 0 {
		t.Error("generation must not run when the user message was not recorded")
	}
	if len(convo.messages) != 0 {
		t.Errorf("no message should be committed, got %+v", convo.messages)
	}
}

func TestOrchestrator_SessionFailureDoesNotBlockTurn(t *testing.T) {
	convo := newFakeConvo()
	sessions := &fakeSessions{startErr: errors.New("tracking down")}
	gen := &fakeGenerator{answer: &answer.Answer{Text: "ok"}}

	orch := NewOrchestrator(convo, sessions, gen)
	res, err := orch.Submit(context.Background(), "question")
	if err != nil {
		t.Fatalf("Submit() error = %v, session tracking must be best-effort", err)
	}
	if res.AssistantMessage == nil {
		t.Error("expected an assistant reply")
	}
}

func TestOrchestrator_AutoPlaySpeaksAssistantMessage(t *testing.T) {
	convo := newFakeConvo()
	gen := &fakeGenerator{answer: &answer.Answer{Text: "spoken reply"}}
	speaker := &fakeSpeaker{done: make(chan struct{})}

	opts := types.DefaultChatOptions()
	opts.AutoPlaySynthesis = true

	orch := NewOrchestrator(convo, &fakeSessions{}, gen,
		WithSpeaker(speaker), WithOptions(opts))

	res, err := orch.Submit(context.Background(), "question")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	select {
	case <-speaker.done:
	case <-time.After(2 * time.Second):
		t.Fatal("auto-play never started")
	}

	speaker.mu.Lock()
	defer speaker.mu.Unlock()
	if len(speaker.played) != 1 || speaker.played[0] != res.AssistantMessage.ID {
		t.Errorf("played = %v, want the assistant message id", speaker.played)
	}
}

func TestOrchestrator_NoAutoPlayByDefault(t *testing.T) {
	convo := newFakeConvo()
	gen := &fakeGenerator{answer: &answer.Answer{Text: "quiet reply"}}
	speaker := &fakeSpeaker{}

	orch := NewOrchestrator(convo, &fakeSessions{}, gen, WithSpeaker(speaker))
	if _, err := orch.Submit(context.Background(), "question"); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	speaker.mu.Lock()
	defer speaker.mu.Unlock()
	if len(speaker.played) != 0 {
		t.Errorf("played = %v, want none", speaker.played)
	}
}

func TestOrchestrator_SequentialTurns(t *testing.T) {
	convo := newFakeConvo()
	sessions := &fakeSessions{}
	gen := &fakeGenerator{answer: &answer.Answer{Text: "ok"}}

	orch := NewOrchestrator(convo, sessions, gen)
	for i := 0; i < 3; i++ {
		if _, err := orch.Submit(context.Background(), fmt.Sprintf("question %d", i)); err != nil {
			t.Fatalf("turn %d error = %v", i, err)
		}
	}

	if sessions.increments != 3 {
		t.Errorf("query count incremented %d times, want 3", sessions.increments)
	}
	if len(convo.messages) != 6 {
		t.Errorf("conversation holds %d messages, want 6", len(convo.messages))
	}
}
