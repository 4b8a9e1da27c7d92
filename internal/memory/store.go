// Package memory persists conversations and their turn logs.
//
// A conversation belongs to one user and owns an ordered sequence of
// turns. Turns are append-only: the agent runtime writes them once and
// nothing ever mutates them. Generated images live in the artifact
// store, keyed by conversation id; deleting a conversation removes
// both.
package memory

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/phantomtech/mirage/internal/history"
)

// Conversation is the user-facing conversation record.
type Conversation struct {
	ID        string    `json:"id"`
	OwnerID   int64     `json:"owner_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store is the SQLite-backed conversation and turn log store.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewStore creates a store on the given database connection and
// creates the schema if it does not already exist.
func NewStore(db *sql.DB, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("memory migration: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS conversations (
			id         TEXT PRIMARY KEY,
			owner_id   INTEGER NOT NULL,
			title      TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_conversations_owner
			ON conversations(owner_id, updated_at);

		CREATE TABLE IF NOT EXISTS turns (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			seq             INTEGER NOT NULL,
			role            TEXT NOT NULL,
			content         TEXT NOT NULL,
			parts           TEXT,
			tool_calls      TEXT,
			tool_call_id    TEXT,
			created_at      TEXT NOT NULL,
			FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
		);
		CREATE INDEX IF NOT EXISTS idx_turns_conversation
			ON turns(conversation_id, seq);
	`)
	return err
}

// CreateConversation creates a conversation for a user and returns it.
func (s *Store) CreateConversation(ownerID int64, title string) (*Conversation, error) {
	if title == "" {
		title = "新对话"
	}
	now := time.Now().UTC()
	id := uuid.New().String()

	_, err := s.db.Exec(`
		INSERT INTO conversations (id, owner_id, title, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, id, ownerID, title, now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}

	return &Conversation{
		ID:        id,
		OwnerID:   ownerID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// GetConversation returns a conversation by id, or nil when not found.
func (s *Store) GetConversation(id string) (*Conversation, error) {
	row := s.db.QueryRow(`
		SELECT id, owner_id, title, created_at, updated_at
		FROM conversations WHERE id = ?
	`, id)

	var c Conversation
	var createdAt, updatedAt string
	err := row.Scan(&c.ID, &c.OwnerID, &c.Title, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	c.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	c.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &c, nil
}

// ListConversations returns a user's conversations, most recently
// updated first.
func (s *Store) ListConversations(ownerID int64) ([]*Conversation, error) {
	rows, err := s.db.Query(`
		SELECT id, owner_id, title, created_at, updated_at
		FROM conversations
		WHERE owner_id = ?
		ORDER BY updated_at DESC
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var convs []*Conversation
	for rows.Next() {
		var c Conversation
		var createdAt, updatedAt string
		if err := rows.Scan(&c.ID, &c.OwnerID, &c.Title, &createdAt, &updatedAt); err != nil {
			continue
		}
		c.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		c.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
		convs = append(convs, &c)
	}
	return convs, nil
}

// RenameConversation updates a conversation's title. The owner must
// match; renaming someone else's conversation is a silent no-op.
func (s *Store) RenameConversation(id string, ownerID int64, title string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.Exec(`
		UPDATE conversations SET title = ?, updated_at = ?
		WHERE id = ? AND owner_id = ?
	`, title, now, id, ownerID)
	if err != nil {
		return fmt.Errorf("rename conversation: %w", err)
	}
	return nil
}

// DeleteConversation removes a conversation and its turns. The owner
// must match. The caller is responsible for removing the conversation's
// images from the artifact store.
func (s *Store) DeleteConversation(id string, ownerID int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.Exec(`
		DELETE FROM conversations WHERE id = ? AND owner_id = ?
	`, id, ownerID)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil // not found or not the owner; turns stay untouched
	}

	if _, err := tx.Exec(`DELETE FROM turns WHERE conversation_id = ?`, id); err != nil {
		return fmt.Errorf("delete turns: %w", err)
	}

	return tx.Commit()
}

// AppendTurn appends a turn to a conversation's log and bumps the
// conversation's updated_at. Sequence numbers are assigned from the
// current maximum; the runtime processes one conversation sequentially,
// so there is no competing writer within a conversation.
func (s *Store) AppendTurn(conversationID string, turn history.Turn) error {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("turn id: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	var parts, toolCalls []byte
	if len(turn.Parts) > 0 {
		parts, _ = json.Marshal(turn.Parts)
	}
	if len(turn.ToolCalls) > 0 {
		toolCalls, _ = json.Marshal(turn.ToolCalls)
	}

	_, err = s.db.Exec(`
		INSERT INTO turns (id, conversation_id, seq, role, content, parts, tool_calls, tool_call_id, created_at)
		VALUES (?, ?,
			COALESCE((SELECT MAX(seq) FROM turns WHERE conversation_id = ?), 0) + 1,
			?, ?, ?, ?, ?, ?)
	`, id.String(), conversationID, conversationID,
		turn.Role, turn.Text, nullable(parts), nullable(toolCalls), turn.ToolCallID, now)
	if err != nil {
		return fmt.Errorf("insert turn: %w", err)
	}

	_, err = s.db.Exec(`
		UPDATE conversations SET updated_at = ? WHERE id = ?
	`, now, conversationID)
	if err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}

	return nil
}

// GetTurns returns the full turn log for a conversation in order.
// Malformed stored rows degrade rather than fail: unparseable parts or
// tool calls are logged and the turn keeps its plain content.
func (s *Store) GetTurns(conversationID string) ([]history.Turn, error) {
	rows, err := s.db.Query(`
		SELECT role, content, parts, tool_calls, tool_call_id
		FROM turns
		WHERE conversation_id = ?
		ORDER BY seq ASC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("get turns: %w", err)
	}
	defer rows.Close()

	var turns []history.Turn
	for rows.Next() {
		var t history.Turn
		var parts, toolCalls, toolCallID sql.NullString
		if err := rows.Scan(&t.Role, &t.Text, &parts, &toolCalls, &toolCallID); err != nil {
			s.logger.Warn("skipping unreadable turn row", "conversation", conversationID, "error", err)
			continue
		}
		if toolCallID.Valid {
			t.ToolCallID = toolCallID.String
		}
		if parts.Valid && parts.String != "" {
			if err := json.Unmarshal([]byte(parts.String), &t.Parts); err != nil {
				s.logger.Warn("malformed turn parts", "conversation", conversationID, "error", err)
			}
		}
		if toolCalls.Valid && toolCalls.String != "" {
			if err := json.Unmarshal([]byte(toolCalls.String), &t.ToolCalls); err != nil {
				s.logger.Warn("malformed turn tool calls", "conversation", conversationID, "error", err)
			}
		}
		turns = append(turns, t)
	}
	return turns, nil
}

// CountTurns returns the number of turns in a conversation.
func (s *Store) CountTurns(conversationID string) (int, error) {
	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM turns WHERE conversation_id = ?
	`, conversationID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count turns: %w", err)
	}
	return n, nil
}

// Stats returns store statistics for the dashboard.
func (s *Store) Stats() map[string]any {
	var convCount, turnCount int
	_ = s.db.QueryRow(`SELECT COUNT(*) FROM conversations`).Scan(&convCount)
	_ = s.db.QueryRow(`SELECT COUNT(*) FROM turns`).Scan(&turnCount)

	return map[string]any{
		"conversations": convCount,
		"turns":         turnCount,
		"storage":       "sqlite",
	}
}

// nullable converts an empty byte slice to nil so the column stores
// NULL instead of an empty string.
func nullable(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
