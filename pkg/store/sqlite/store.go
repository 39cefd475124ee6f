// Package sqlite provides the embedded local store. It backs both the
// session tracker and the conversation store, and is the default when no
// Postgres DSN is configured.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/tutorstack/tutorcore/pkg/core/types"
)

type Store struct {
	db *sql.DB
}

// Open creates or opens the database file, creating parent directories
// as needed, and applies the schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id          TEXT PRIMARY KEY,
		owner_id    TEXT NOT NULL,
		org_id      TEXT NOT NULL DEFAULT '',
		topic       TEXT NOT NULL DEFAULT '',
		started_at  DATETIME NOT NULL,
		ended_at    DATETIME,
		query_count INTEGER NOT NULL DEFAULT 0,
		performance TEXT
	);

	CREATE TABLE IF NOT EXISTS conversations (
		id              TEXT PRIMARY KEY,
		owner_id        TEXT NOT NULL,
		org_id          TEXT NOT NULL DEFAULT '',
		title           TEXT NOT NULL DEFAULT '',
		topic           TEXT NOT NULL DEFAULT '',
		category        TEXT NOT NULL DEFAULT '',
		tags            TEXT NOT NULL DEFAULT '[]',
		starred         INTEGER NOT NULL DEFAULT 0,
		last_message_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		id              TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL REFERENCES conversations(id),
		sender          TEXT NOT NULL,
		content         TEXT NOT NULL,
		created_at      DATETIME NOT NULL,
		important       INTEGER NOT NULL DEFAULT 0,
		feedback        INTEGER,
		attachment      TEXT,
		citations       TEXT
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_open
		ON sessions(owner_id) WHERE ended_at IS NULL;
	CREATE INDEX IF NOT EXISTS idx_conversations_owner
		ON conversations(owner_id, last_message_at);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation
		ON messages(conversation_id, created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// CreateSession opens a session for the owner. At most one session per
// owner may be open; if one already is, its id is returned instead of
// creating another.
func (s *Store) CreateSession(ctx context.Context, ownerID, orgID, topic string) (string, error) {
	id := uuid.NewString()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, owner_id, org_id, topic, started_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT DO NOTHING`,
		id, ownerID, orgID, topic, now,
	)
	if err != nil {
		return "", fmt.Errorf("insert session: %w", err)
	}

	var openID string
	err = s.db.QueryRowContext(ctx,
		"SELECT id FROM sessions WHERE owner_id = ? AND ended_at IS NULL", ownerID,
	).Scan(&openID)
	if err != nil {
		return "", fmt.Errorf("select open session: %w", err)
	}
	return openID, nil
}

func (s *Store) UpdateSessionTopic(ctx context.Context, sessionID, topic string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE sessions SET topic = ? WHERE id = ?", topic, sessionID)
	if err != nil {
		return fmt.Errorf("update session topic: %w", err)
	}
	return nil
}

func (s *Store) IncrementQueryCount(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE sessions SET query_count = query_count + 1 WHERE id = ?", sessionID)
	if err != nil {
		return fmt.Errorf("increment query count: %w", err)
	}
	return nil
}

// EndSession closes the session. Ending an already-ended session is a
// no-op; the first close wins.
func (s *Store) EndSession(ctx context.Context, sessionID string, performance types.SessionPerformance) error {
	var perf any
	if len(performance) > 0 {
		perf = string(performance)
	}
	_, err := s.db.ExecContext(ctx,
		"UPDATE sessions SET ended_at = ?, performance = ? WHERE id = ? AND ended_at IS NULL",
		time.Now().UTC(), perf, sessionID)
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
		 FROM sessions WHERE id = ?`, sessionID,
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
		`INSERT INTO conversations (id, owner_id, org_id, topic, last_message_at)
		 VALUES (?, ?, ?, ?, ?)`,
		id, ownerID, orgID, topic, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("insert conversation: %w", err)
	}
	return id, nil
}

func (s *Store) AppendMessage(ctx context.Context, conversationID string, draft types.MessageDraft) (*types.Message, error) {
	msg := types.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Sender:         draft.Sender,
		Content:        draft.Content,
		Timestamp:      time.Now().UTC(),
		Attachment:     draft.Attachment,
		Citations:      draft.Citations,
	}

	attachment, err := encodeJSON(draft.Attachment)
	if err != nil {
		return nil, fmt.Errorf("encode attachment: %w", err)
	}
	citations, err := encodeJSON(draft.Citations)
	if err != nil {
		return nil, fmt.Errorf("encode citations: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, sender, content, created_at, attachment, citations)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, conversationID, string(msg.Sender), msg.Content, msg.Timestamp, attachment, citations)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	return &msg, nil
}

func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]types.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, sender, content, created_at, important, feedback, attachment, citations
		 FROM messages WHERE conversation_id = ? ORDER BY created_at, rowid`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("select messages: %w", err)
	}
	defer rows.Close()

	var messages []types.Message
	for rows.Next() {
		var (
			msg        types.Message
			sender     string
			important  int
			feedback   sql.NullInt64
			attachment sql.NullString
			citations  sql.NullString
		)
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &sender, &msg.Content,
			&msg.Timestamp, &important, &feedback, &attachment, &citations); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Sender = types.Sender(sender)
		msg.Important = important != 0
		if feedback.Valid {
			r := types.FeedbackRating(feedback.Int64)
			msg.Feedback = &r
		}
		if attachment.Valid && attachment.String != "" {
			if err := json.Unmarshal([]byte(attachment.String), &msg.Attachment); err != nil {
				return nil, fmt.Errorf("decode attachment: %w", err)
			}
		}
		if citations.Valid && citations.String != "" {
			if err := json.Unmarshal([]byte(citations.String), &msg.Citations); err != nil {
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
		if set != "" {
			set += ", "
		}
		set += col + " = ?"
		args = append(args, v)
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
		add("starred", boolToInt(*update.Starred))
	}
	if set == "" {
		return nil
	}

	args = append(args, conversationID)
	_, err := s.db.ExecContext(ctx, "UPDATE conversations SET "+set+" WHERE id = ?", args...)
	if err != nil {
		return fmt.Errorf("update conversation: %w", err)
	}
	return nil
}

// GetConversation loads one conversation row.
func (s *Store) GetConversation(ctx context.Context, conversationID string) (*types.Conversation, error) {
	var (
		conv types.Conversation
		tags string
		star int
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, org_id, title, topic, category, tags, starred, last_message_at
		 FROM conversations WHERE id = ?`, conversationID,
	).Scan(&conv.ID, &conv.OwnerID, &conv.OrganizationID, &conv.Title, &conv.Topic,
		&conv.Category, &tags, &star, &conv.LastMessageAt)
	if err != nil {
		return nil, fmt.Errorf("select conversation: %w", err)
	}
	conv.Starred = star != 0
	if err := json.Unmarshal([]byte(tags), &conv.Tags); err != nil {
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
		 FROM conversations WHERE owner_id = ?
		 ORDER BY last_message_at DESC LIMIT ?`, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("select conversations: %w", err)
	}
	defer rows.Close()

	var conversations []types.Conversation
	for rows.Next() {
		var (
			conv types.Conversation
			tags string
			star int
		)
		if err := rows.Scan(&conv.ID, &conv.OwnerID, &conv.OrganizationID, &conv.Title,
			&conv.Topic, &conv.Category, &tags, &star, &conv.LastMessageAt); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		conv.Starred = star != 0
		if err := json.Unmarshal([]byte(tags), &conv.Tags); err != nil {
			return nil, fmt.Errorf("decode tags: %w", err)
		}
		conversations = append(conversations, conv)
	}
	return conversations, rows.Err()
}

func (s *Store) SetMessageFeedback(ctx context.Context, messageID string, rating types.FeedbackRating) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE messages SET feedback = ? WHERE id = ?", int(rating), messageID)
	if err != nil {
		return fmt.Errorf("set feedback: %w", err)
	}
	return requireRow(res, messageID)
}

func (s *Store) SetMessageImportant(ctx context.Context, messageID string, important bool) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE messages SET important = ? WHERE id = ?", boolToInt(important), messageID)
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

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
