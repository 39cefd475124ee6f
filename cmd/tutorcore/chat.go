package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/tutorstack/tutorcore/internal/config"
	"github.com/tutorstack/tutorcore/internal/metrics"
	"github.com/tutorstack/tutorcore/pkg/core"
	"github.com/tutorstack/tutorcore/pkg/core/answer"
	"github.com/tutorstack/tutorcore/pkg/core/capture"
	"github.com/tutorstack/tutorcore/pkg/core/chat"
	"github.com/tutorstack/tutorcore/pkg/core/convo"
	"github.com/tutorstack/tutorcore/pkg/core/playback"
	"github.com/tutorstack/tutorcore/pkg/core/session"
	"github.com/tutorstack/tutorcore/pkg/core/types"
	"github.com/tutorstack/tutorcore/pkg/core/voice/stt"
	"github.com/tutorstack/tutorcore/pkg/core/voice/tts"
	"github.com/tutorstack/tutorcore/pkg/store/postgres"
	"github.com/tutorstack/tutorcore/pkg/store/sqlite"
)

const (
	captureSampleRate  = 16000
	playbackSampleRate = 24000
)

var chatTopic string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive tutoring conversation",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat(cmd.Context())
	},
}

func init() {
	chatCmd.Flags().StringVar(&chatTopic, "topic", "", "study topic for this conversation")
}

// storeBackend is the full persistence surface the CLI needs; both the
// sqlite and postgres stores provide it.
type storeBackend interface {
	convo.Persistence
	session.Persistence
	ListConversations(ctx context.Context, ownerID string, limit int) ([]types.Conversation, error)
	Close() error
}

func openStore(ctx context.Context, cfg *config.Config) (storeBackend, error) {
	if cfg.Store.PostgresDSN != "" {
		return postgres.Open(ctx, cfg.Store.PostgresDSN)
	}
	return sqlite.Open(cfg.Store.SQLitePath)
}

func buildGenerator(ctx context.Context, cfg *config.Config) (answer.Generator, error) {
	if cfg.Backend.BaseURL != "" {
		return answer.NewHTTPGenerator(cfg.Backend.BaseURL, cfg.Backend.APIKey), nil
	}
	if cfg.GeminiAPIKey != "" {
		return answer.NewGeminiGenerator(ctx, cfg.GeminiAPIKey)
	}
	return nil, fmt.Errorf("no answer backend configured: set backend.base_url or GEMINI_API_KEY")
}

// buildSpeaker assembles the synthesis chain and speaker output. A nil
// return with no error means playback is unavailable on this machine.
func buildSpeaker(cfg *config.Config, logger *slog.Logger) *playback.Controller {
	var providers []tts.Provider
	if cfg.Voice.TTSBaseURL != "" {
		var httpOpts []tts.HTTPOption
		if cfg.Voice.UseWebsocket {
			httpOpts = append(httpOpts, tts.WithWebsocketTransport())
		}
		providers = append(providers, tts.NewHTTPProvider(cfg.Voice.TTSBaseURL, cfg.Voice.TTSAPIKey, httpOpts...))
	}
	providers = append(providers, tts.NewLocalProvider())

	chain := tts.NewChain(providers...)
	if len(chain.Providers()) == 0 {
		logger.Warn("no synthesis provider available, playback disabled")
		return nil
	}

	output, err := playback.NewOtoOutput(playbackSampleRate)
	if err != nil {
		logger.Warn("audio output unavailable, playback disabled", "error", err)
		return nil
	}

	return playback.NewController(chain, output,
		playback.WithVoice(cfg.Voice.Voice),
		playback.WithSampleRate(playbackSampleRate),
		playback.WithLogger(logger))
}

// buildRecorder assembles mic capture feeding transcripts into onText.
// A nil return means voice input is unavailable.
func buildRecorder(cfg *config.Config, logger *slog.Logger, onText, onNotice func(string)) (*capture.Controller, func()) {
	if cfg.Voice.STTBaseURL == "" {
		return nil, func() {}
	}

	device, err := capture.NewMalgoDevice(captureSampleRate, 1)
	if err != nil {
		logger.Warn("microphone unavailable, voice input disabled", "error", err)
		return nil, func() {}
	}

	transcriber := stt.NewClient(
		stt.NewHTTPProvider(cfg.Voice.STTBaseURL, cfg.Voice.STTAPIKey),
		stt.WithMaxClipDuration(cfg.Voice.MaxClipDuration.Std()),
	)

	recorder := capture.NewController(device, transcriber, capture.WithLogger(logger))
	recorder.OnText = onText
	recorder.OnNotice = onNotice
	return recorder, func() { device.Close() }
}

func runChat(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.OwnerID == "" {
		return fmt.Errorf("owner_id is required: set it in the config file or TUTOR_OWNER_ID")
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	generator, err := buildGenerator(ctx, cfg)
	if err != nil {
		return err
	}

	m := metrics.New("")
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		go func() {
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				logger.Warn("metrics server stopped", "error", err)
			}
		}()
	}

	tracker := session.NewTracker(store, cfg.OwnerID, cfg.OrganizationID, session.WithLogger(logger))
	convoStore := convo.NewStore(store, cfg.OwnerID, cfg.OrganizationID,
		convo.WithTopic(chatTopic), convo.WithLogger(logger))
	speaker := buildSpeaker(cfg, logger)

	opts := types.DefaultChatOptions()
	opts.UseDocuments = cfg.Chat.UseDocuments
	opts.AutoPlaySynthesis = cfg.Chat.AutoPlaySynthesis && speaker != nil
	opts.Voice = cfg.Voice.Voice
	opts.MaxClipDuration = cfg.Voice.MaxClipDuration.Std()

	orchOpts := []chat.Option{
		chat.WithTopic(chatTopic),
		chat.WithOptions(opts),
		chat.WithGenerationTimeout(cfg.Chat.GenerationTimeout.Std()),
		chat.WithLogger(logger),
	}
	if speaker != nil {
		orchOpts = append(orchOpts, chat.WithSpeaker(speaker))
	}
	orch := chat.NewOrchestrator(convoStore, tracker, generator, orchOpts...)

	repl := &chatREPL{
		orch:    orch,
		convo:   convoStore,
		tracker: tracker,
		speaker: speaker,
		metrics: m,
		out:     os.Stdout,
		errOut:  os.Stderr,
	}

	transcripts := make(chan string, 1)
	recorder, closeRecorder := buildRecorder(cfg, logger,
		func(text string) { transcripts <- text },
		func(notice string) { fmt.Fprintf(os.Stderr, "[voice] %s\n", notice) },
	)
	defer closeRecorder()
	repl.recorder = recorder
	repl.transcripts = transcripts

	return repl.run(ctx, os.Stdin)
}

type chatREPL struct {
	orch        *chat.Orchestrator
	convo       *convo.Store
	tracker     *session.Tracker
	speaker     *playback.Controller
	recorder    *capture.Controller
	transcripts chan string
	metrics     *metrics.Metrics
	out         io.Writer
	errOut      io.Writer

	lastAssistantID      string
	lastAssistantContent string
	sessionStart         time.Time
}

func (r *chatREPL) run(ctx context.Context, in io.Reader) error {
	interactive := false
	if f, ok := in.(*os.File); ok {
		interactive = term.IsTerminal(int(f.Fd()))
	}

	if interactive {
		fmt.Fprintln(r.out, "tutorcore chat. Type a question, or /help for commands.")
	}

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		scanErr <- scanner.Err()
		close(lines)
	}()

	for {
		if interactive {
			fmt.Fprint(r.out, "> ")
		}
		select {
		case <-ctx.Done():
			r.endSession(context.WithoutCancel(ctx))
			return ctx.Err()
		case text := <-r.transcripts:
			fmt.Fprintf(r.out, "[you said] %s\n", text)
			r.submit(ctx, text)
		case line, ok := <-lines:
			if !ok {
				if err := <-scanErr; err != nil {
					return fmt.Errorf("read input: %w", err)
				}
				r.endSession(ctx)
				return nil
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if strings.HasPrefix(line, "/") {
				if quit := r.command(ctx, line); quit {
					return nil
				}
				continue
			}
			r.submit(ctx, line)
		}
	}
}

func (r *chatREPL) submit(ctx context.Context, text string) {
	start := time.Now()
	wasActive := r.tracker.State() == session.StateActive
	res, err := r.orch.Submit(ctx, text)
	if !wasActive && r.tracker.State() == session.StateActive {
		r.sessionStart = time.Now()
		r.metrics.RecordSessionStart()
	}
	if err != nil {
		r.metrics.RecordTurn("failed", time.Since(start))
		r.metrics.RecordError(string(core.TypeOf(err)))
		fmt.Fprintf(r.errOut, "error: %v\n", err)
		return
	}
	r.metrics.RecordTurn("resolved", time.Since(start))

	msg := res.AssistantMessage
	r.lastAssistantID = msg.ID
	r.lastAssistantContent = msg.Content
	fmt.Fprintf(r.out, "\n%s\n", msg.Content)
	for _, c := range msg.Citations {
		fmt.Fprintf(r.out, "  [source] %s\n", c.Filename)
	}
	fmt.Fprintln(r.out)
}

func (r *chatREPL) command(ctx context.Context, line string) (quit bool) {
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "/help":
		fmt.Fprintln(r.out, `commands:
  /record          start voice capture
  /stop            stop capture and transcribe
  /cancel          discard the current recording
  /play            read the last answer aloud
  /pause, /resume  control playback
  /mute, /unmute   toggle audio
  /volume <0-100>  set playback volume
  /feedback up|down  rate the last answer
  /important       flag the last answer
  /star            star this conversation
  /topic <name>    switch the study topic
  /history         show the conversation
  /end             end the study session
  /exit            end the session and quit`)
	case "/record":
		if r.recorder == nil {
			fmt.Fprintln(r.errOut, "voice input is not configured")
			return
		}
		if err := r.recorder.Start(); err != nil {
			fmt.Fprintf(r.errOut, "error: %v\n", err)
			return
		}
		fmt.Fprintln(r.out, "recording... /stop to finish, /cancel to discard")
	case "/stop":
		if r.recorder == nil {
			return
		}
		if err := r.recorder.Stop(ctx); err != nil {
			fmt.Fprintf(r.errOut, "error: %v\n", err)
		}
	case "/cancel":
		if r.recorder != nil {
			r.recorder.Cancel()
			fmt.Fprintln(r.out, "recording discarded")
		}
	case "/play":
		if r.speaker == nil {
			fmt.Fprintln(r.errOut, "playback is not available")
			return
		}
		if r.lastAssistantID == "" {
			fmt.Fprintln(r.errOut, "nothing to play yet")
			return
		}
		if err := r.speaker.Play(ctx, r.lastAssistantID, r.lastAssistantContent); err != nil {
			fmt.Fprintf(r.errOut, "error: %v\n", err)
		}
	case "/pause":
		if r.speaker != nil {
			r.speaker.Pause()
		}
	case "/resume":
		if r.speaker != nil {
			r.speaker.Resume()
		}
	case "/mute":
		if r.speaker != nil {
			r.speaker.SetMuted(true)
		}
	case "/unmute":
		if r.speaker != nil {
			r.speaker.SetMuted(false)
		}
	case "/volume":
		if r.speaker == nil {
			return
		}
		pct, err := strconv.Atoi(arg)
		if err != nil || pct < 0 || pct > 100 {
			fmt.Fprintln(r.errOut, "usage: /volume <0-100>")
			return
		}
		r.speaker.SetVolume(float64(pct) / 100)
	case "/feedback":
		if r.lastAssistantID == "" {
			fmt.Fprintln(r.errOut, "nothing to rate yet")
			return
		}
		var rating types.FeedbackRating
		switch arg {
		case "up":
			rating = types.FeedbackPositive
		case "down":
			rating = types.FeedbackNegative
		default:
			fmt.Fprintln(r.errOut, "usage: /feedback up|down")
			return
		}
		if err := r.convo.SetFeedback(ctx, r.lastAssistantID, rating); err != nil {
			fmt.Fprintf(r.errOut, "error: %v\n", err)
		}
	case "/important":
		if r.lastAssistantID == "" {
			fmt.Fprintln(r.errOut, "nothing to flag yet")
			return
		}
		on, err := r.convo.ToggleImportant(ctx, r.lastAssistantID)
		if err != nil {
			fmt.Fprintf(r.errOut, "error: %v\n", err)
			return
		}
		if on {
			fmt.Fprintln(r.out, "flagged as important")
		} else {
			fmt.Fprintln(r.out, "importance cleared")
		}
	case "/star":
		starred := true
		if err := r.convo.UpdateMeta(ctx, types.ConversationUpdate{Starred: &starred}); err != nil {
			fmt.Fprintf(r.errOut, "error: %v\n", err)
		}
	case "/topic":
		if arg == "" {
			fmt.Fprintln(r.errOut, "usage: /topic <name>")
			return
		}
		r.orch.SetTopic(arg)
		r.tracker.UpdateTopic(ctx, arg)
		fmt.Fprintf(r.out, "topic is now %s\n", arg)
	case "/history":
		messages, err := r.convo.History(ctx)
		if err != nil {
			fmt.Fprintf(r.errOut, "error: %v\n", err)
			return
		}
		for _, msg := range messages {
			fmt.Fprintf(r.out, "[%s] %s\n", msg.Sender, msg.Content)
		}
	case "/end":
		r.endSession(ctx)
		fmt.Fprintln(r.out, "session ended")
	case "/exit", "/quit":
		r.endSession(ctx)
		fmt.Fprintln(r.out, "bye")
		return true
	default:
		fmt.Fprintf(r.errOut, "unknown command %s (try /help)\n", cmd)
	}
	return false
}

func (r *chatREPL) endSession(ctx context.Context) {
	if r.tracker.State() != session.StateActive {
		return
	}
	perf, _ := json.Marshal(map[string]any{
		"query_count": r.tracker.QueryCount(),
	})
	r.tracker.End(ctx, types.SessionPerformance(perf))
	r.metrics.RecordSessionEnd(time.Since(r.sessionStart))
}
