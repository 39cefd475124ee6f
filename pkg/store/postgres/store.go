// Package postgres provides the shared server-side store. The schema is
// managed with embedded goose migrations applied on open.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/tutorstack/tutorcore/pkg/core/types"
)

//go:embed migrations/*.sql
var migrations embed.FS

type Store struct {
	db *sql.DB
}

// Open connects to the database and applies pending migrations.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// CreateSession opens a session for the owner, or returns the already
// open one. The partial unique index on (owner_id) WHERE ended_at IS
// NULL makes the insert race-safe across processes.
func (s *Store) CreateSession(ctx context.Context, ownerID, orgID, topic string) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, owner_id, org_id, topic)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (owner_id) WHERE ended_at IS NULL DO NOTHING`,
		id, ownerID, orgID, topic)
	if err != nil {
		return "", fmt.Errorf("insert session: %w", err)
	}

	var openID string
	err = s.db.QueryRowContext(ctx,
		"SELECT id FROM sessions WHERE owner_id = $1 AND ended_at IS NULL", ownerID,
	).Scan(&openID)
	if err != nil {
		return "", fmt.Errorf("select open session: %w", err)
	}
	return openID, nil
}

func (s *Store) UpdateSessionTopic(ctx context.Context, sessionID, topic string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE sessions SET topic = $1 WHERE id = $2", topic, sessionID)
	if err != nil {
		return fmt.Errorf("update session topic: %w", err)
	}
	return nil
}

func (s *Store) IncrementQueryCount(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE sessions SET query_count = query_count + 1 WHERE id = $1", sessionID)
	if err != nil {
		return fmt.Errorf("increment query count: %w", err)
	}
	return nil
}

// EndSession closes the session; the first close wins.
func (s *Store) EndSession(ctx context.Context, sessionID string, performance types.SessionPerformance) error {
	var perf any
	if len(performance) > 0 {
		perf = string(performance)
	}
	_, err := s.db.ExecContext(ctx,
		"UPDATE sessions SET ended_at = now(), performance = $1 WHERE id = $2 AND ended_at IS NULL",
		perf, sessionID)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	return nil
}

// GetSession loads one session row.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*types.Session, error) {
	var (
		sess    types.Session
		endedAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, org_id, topic, started_at, ended_at, query_count
		 FROM sessions WHERE id = $1`, sessionID,
	).Scan(&sess.ID, &sess.OwnerID, &sess.OrganizationID, &sess.Topic,
		&sess.StartedAt, &endedAt, &sess.QueryCount)
	if err != nil {
		return nil, fmt.Errorf("select session: %w", err)
	}
	if endedAt.Valid {
		t := endedAt.Time
		sess.EndedAt = &t
	}
	return &sess, nil
}

func (s *Store) CreateConversation(ctx context.Context, ownerID, orgID, topic string) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO conversations (id, owner_id, org_id, topic) VALUES ($1, $2, $3, $4)",
		id, ownerID, orgID, topic)
	if err != nil {
		return "", fmt.Errorf("insert conversation: %w", err)
	}
	return id, nil
}

func (s *Store) AppendMessage(ctx context.Context, conversationID string, draft types.MessageDraft) (*types.Message, error) {
	attachment, err := encodeJSON(draft.Attachment)
	if err != nil {
		return nil, fmt.Errorf("encode attachment: %w", err)
	}
	citations, err := encodeJSON(draft.Citations)
	if err != nil {
		return nil, fmt.Errorf("encode citations: %w", err)
	}

	msg := types.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Sender:         draft.Sender,
		Content:        draft.Content,
		Attachment:     draft.Attachment,
		Citations:      draft.Citations,
	}
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO messages (id, conversation_id, sender, content, attachment, citations)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING created_at`,
		msg.ID, conversationID, string(msg.Sender), msg.Content, attachment, citations,
	).Scan(&msg.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	return &msg, nil
}

func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]types.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, sender, content, created_at, important, feedback, attachment, citations
		 FROM messages WHERE conversation_id = $1 ORDER BY created_at`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("select messages: %w", err)
	}
	defer rows.Close()

	var messages []types.Message
	for rows.Next() {
		var (
			msg        types.Message
			sender     string
			feedback   sql.NullInt64
			attachment []byte
			citations  []byte
		)
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &sender, &msg.Content,
			&msg.Timestamp, &msg.Important, &feedback, &attachment, &citations); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Sender = types.Sender(sender)
		if feedback.Valid {
			r := types.FeedbackRating(feedback.Int64)
			msg.Feedback = &r
		}
		if len(attachment) > 0 {
			if err := json.Unmarshal(attachment, &msg.Attachment); err != nil {
				return nil, fmt.Errorf("decode attachment: %w", err)
			}
		}
		if len(citations) > 0 {
			if err := json.Unmarshal(citations, &msg.Citations); err != nil {
				return nil, fmt.Errorf("decode citations: %w", err)
			}
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func (s *Store) UpdateConversation(ctx context.Context, conversationID string, update types.ConversationUpdate) error {
	set := ""
	var args []any
	add := func(col string, v any) {
		args = append(args, v)
		if set != "" {
			set += ", "
		}
		set += fmt.Sprintf("%s = $%d", col, len(args))
	}

	if update.LastMessageAt != nil {
		add("last_message_at", update.LastMessageAt.UTC())
	}
	if update.Title != nil {
		add("title", *update.Title)
	}
	if update.Topic != nil {
		add("topic", *update.Topic)
	}
	if update.Category != nil {
		add("category", *update.Category)
	}
	if update.Tags != nil {
		tags, err := json.Marshal(update.Tags)
		if err != nil {
			return fmt.Errorf("encode tags: %w", err)
		}
		add("tags", string(tags))
	}
	if update.Starred != nil {
		add("starred", *update.Starred)
	}
	if set == "" {
		return nil
	}

	args = append(args, conversationID)
	query := fmt.Sprintf("UPDATE conversations SET %s WHERE id = $%d", set, len(args))
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update conversation: %w", err)
	}
	return nil
}

// GetConversation loads one conversation row.
func (s *Store) GetConversation(ctx context.Context, conversationID string) (*types.Conversation, error) {
	var (
		conv types.Conversation
		tags []byte
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, org_id, title, topic, category, tags, starred, last_message_at
		 FROM conversations WHERE id = $1`, conversationID,
	).Scan(&conv.ID, &conv.OwnerID, &conv.OrganizationID, &conv.Title, &conv.Topic,
		&conv.Category, &tags, &conv.Starred, &conv.LastMessageAt)
	if err != nil {
		return nil, fmt.Errorf("select conversation: %w", err)
	}
	if err := json.Unmarshal(tags, &conv.Tags); err != nil {
		return nil, fmt.Errorf("decode tags: %w", err)
	}
	return &conv, nil
}

// ListConversations returns the owner's conversations, most recently
// active first.
func (s *Store) ListConversations(ctx context.Context, ownerID string, limit int) ([]types.Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner_id, org_id, title, topic, category, tags, starred, last_message_at
		 FROM conversations WHERE owner_id = $1
		 ORDER BY last_message_at DESC LIMIT $2`, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("select conversations: %w", err)
	}
	defer rows.Close()

	var conversations []types.Conversation
	for rows.Next() {
		var (
			conv types.Conversation
			tags []byte
		)
		if err := rows.Scan(&conv.ID, &conv.OwnerID, &conv.OrganizationID, &conv.Title,
			&conv.Topic, &conv.Category, &tags, &conv.Starred, &conv.LastMessageAt); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		if err := json.Unmarshal(tags, &conv.Tags); err != nil {
			return nil, fmt.Errorf("decode tags: %w", err)
		}
		conversations = append(conversations, conv)
	}
	return conversations, rows.Err()
}

func (s *Store) SetMessageFeedback(ctx context.Context, messageID string, rating types.FeedbackRating) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE messages SET feedback = $1 WHERE id = $2", int(rating), messageID)
	if err != nil {
		return fmt.Errorf("set feedback: %w", err)
	}
	return requireRow(res, messageID)
}

func (s *Store) SetMessageImportant(ctx context.Context, messageID string, important bool) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE messages SET important = $1 WHERE id = $2", important, messageID)
	if err != nil {
		return fmt.Errorf("set important: %w", err)
	}
	return requireRow(res, messageID)
}

func requireRow(res sql.Result, messageID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("message %s not found", messageID)
	}
	return nil
}

func encodeJSON(v any) (any, error) {
	switch val := v.(type) {
	case *types.Attachment:
		if val == nil {
			return nil, nil
		}
	case []types.SourceCitation:
		if len(val) == 0 {
			return nil, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}
