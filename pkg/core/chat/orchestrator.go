// Package chat coordinates a single conversational turn: validate the
// question, record it, track the study session, produce the assistant's
// reply, and optionally speak it.
package chat

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/tutorstack/tutorcore/pkg/core"
	"github.com/tutorstack/tutorcore/pkg/core/answer"
	"github.com/tutorstack/tutorcore/pkg/core/types"
)

// TurnState is the lifecycle of one question/answer exchange.
type TurnState int

const (
	// TurnComposing means no turn is in flight.
	TurnComposing TurnState = iota
	// TurnSubmitting means the user message is being recorded.
	TurnSubmitting
	// TurnAwaiting means the generator is producing the reply.
	TurnAwaiting
	// TurnResolved means the last turn completed with an assistant reply.
	TurnResolved
	// TurnFailed means the last turn ended with a system notice.
	TurnFailed
)

func (s TurnState) String() string {
	switch s {
	case TurnComposing:
		return "composing"
	case TurnSubmitting:
		return "submitting"
	case TurnAwaiting:
		return "awaiting"
	case TurnResolved:
		return "resolved"
	case TurnFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Conversation is the slice of the conversation store the orchestrator
// needs.
type Conversation interface {
	ConversationID() string
	Append(ctx context.Context, draft types.MessageDraft) (*types.Message, error)
}

// Sessions is the slice of the session tracker the orchestrator needs.
// Start must be idempotent while a session is active.
type Sessions interface {
	Start(ctx context.Context, topic string) (string, error)
	IncrementQueryCount(ctx context.Context)
}

// Speaker plays a synthesized reading of an assistant message.
type Speaker interface {
	Play(ctx context.Context, messageID, text string) error
}

// Result is the outcome of a completed turn.
type Result struct {
	UserMessage      *types.Message
	AssistantMessage *types.Message
}

// DefaultGenerationTimeout bounds one generator call.
const DefaultGenerationTimeout = 30 * time.Second

// Orchestrator runs turns for one conversation view. Turns are
// single-flight: a Submit while another is in flight is rejected
// without side effects.
type Orchestrator struct {
	convo     Conversation
	sessions  Sessions
	generator answer.Generator
	speaker   Speaker
	options   types.ChatOptions
	topic     string
	timeout   time.Duration
	logger    *slog.Logger

	mu       sync.Mutex
	state    TurnState
	inFlight bool
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithSpeaker enables spoken replies. Playback is started
// asynchronously after a successful turn when AutoPlaySynthesis is set.
func WithSpeaker(s Speaker) Option {
	return func(o *Orchestrator) {
		o.speaker = s
	}
}

// WithTopic sets the study topic forwarded to sessions and the
// generator.
func WithTopic(topic string) Option {
	return func(o *Orchestrator) {
		o.topic = topic
	}
}

// WithOptions overrides the default chat options.
func WithOptions(opts types.ChatOptions) Option {
	return func(o *Orchestrator) {
		o.options = opts
	}
}

// WithGenerationTimeout bounds each generator call.
func WithGenerationTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.timeout = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// NewOrchestrator creates an orchestrator for one view.
func NewOrchestrator(convo Conversation, sessions Sessions, generator answer.Generator, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		convo:     convo,
		sessions:  sessions,
		generator: generator,
		options:   types.DefaultChatOptions(),
		timeout:   DefaultGenerationTimeout,
		logger:    slog.Default(),
		state:     TurnComposing,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// State returns the current turn state.
func (o *Orchestrator) State() TurnState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// SetTopic switches the study topic for subsequent turns.
func (o *Orchestrator) SetTopic(topic string) {
	o.mu.Lock()
	o.topic = topic
	o.mu.Unlock()
}

// Submit runs one full turn for the given question text.
//
// Empty or whitespace-only input is rejected before any I/O. While a
// turn is in flight further submissions are rejected. If recording the
// user message fails, the error is returned and nothing else happens.
// After the user message is committed, any downstream failure resolves
// the turn with exactly one system message; the user message stays in
// the conversation.
func (o *Orchestrator) Submit(ctx context.Context, text string) (*Result, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, core.NewValidationError("message text must not be empty", "text")
	}

	o.mu.Lock()
	if o.inFlight {
		o.mu.Unlock()
		return nil, core.NewInvalidStateError("a turn is already in flight")
	}
	o.inFlight = true
	o.state = TurnSubmitting
	topic := o.topic
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.inFlight = false
		o.mu.Unlock()
	}()

	// The session is best-effort: a tracking failure never blocks the
	// conversation.
	if o.sessions != nil {
		if _, err := o.sessions.Start(ctx, topic); err != nil {
			o.logger.Warn("start session", "error", err)
		}
	}

	userMsg, err := o.convo.Append(ctx, types.MessageDraft{
		Sender:  types.SenderUser,
		Content: trimmed,
	})
	if err != nil {
		o.setState(TurnFailed)
		return nil, err
	}

	if o.sessions != nil {
		o.sessions.IncrementQueryCount(ctx)
	}

	o.setState(TurnAwaiting)

	genCtx, cancel := context.WithTimeout(ctx, o.timeout)
	ans, err := o.generator.Ask(genCtx, answer.Request{
		Question:       trimmed,
		ConversationID: o.convo.ConversationID(),
		Topic:          topic,
		UseDocuments:   o.options.UseDocuments,
	})
	cancel()
	if err != nil {
		return o.failTurn(ctx, userMsg, err)
	}

	assistantMsg, err := o.convo.Append(ctx, types.MessageDraft{
		Sender:    types.SenderAssistant,
		Content:   ans.Text,
		Citations: ans.Citations,
	})
	if err != nil {
		return o.failTurn(ctx, userMsg, err)
	}

	o.setState(TurnResolved)

	if o.speaker != nil && o.options.AutoPlaySynthesis {
		go func(id, content string) {
			playCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.timeout)
			defer cancel()
			if err := o.speaker.Play(playCtx, id, content); err != nil {
				o.logger.Warn("auto-play reply", "message_id", id, "error", err)
			}
		}(assistantMsg.ID, assistantMsg.Content)
	}

	return &Result{UserMessage: userMsg, AssistantMessage: assistantMsg}, nil
}

// failTurn resolves a turn whose user message is already committed. It
// appends exactly one system message describing the failure and returns
// the original error.
func (o *Orchestrator) failTurn(ctx context.Context, userMsg *types.Message, cause error) (*Result, error) {
	o.setState(TurnFailed)
	o.logger.Error("turn failed", "conversation_id", o.convo.ConversationID(), "error", cause)

	notice := noticeFor(cause)
	if _, err := o.convo.Append(ctx, types.MessageDraft{
		Sender:  types.SenderSystem,
		Content: notice,
	}); err != nil {
		o.logger.Error("append failure notice", "error", err)
	}

	return &Result{UserMessage: userMsg}, cause
}

func (o *Orchestrator) setState(s TurnState) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

// noticeFor renders a user-facing notice for a failed turn.
func noticeFor(err error) string {
	switch core.TypeOf(err) {
	case core.ErrTransientNetwork:
		return "I couldn't reach the tutoring service. Please check your connection and try again."
	case core.ErrPersistence:
		return "Your question was received but the reply could not be saved. Please try again."
	default:
		return "Something went wrong while answering. Please try asking again."
	}
}
