// Package artifact stores generated images and hands them to the
// response renderer.
//
// Images are append-only per conversation. Rows are never updated; the
// only delete path is whole-conversation removal. The store returns the
// generated integer id so tool output can embed an exact reference that
// the history reconciler resolves later.
package artifact

import (
	"database/sql"
	"fmt"
	"time"
	"unicode/utf8"
)

// Image is a persisted generated image with its production prompt and
// metadata. Data is the base64-encoded payload as produced by the
// generation API; it is stored and served without re-encoding.
type Image struct {
	ID             int64     `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Prompt         string    `json:"prompt"`
	Data           string    `json:"data"`
	MimeType       string    `json:"mime_type"`
	CreatedAt      time.Time `json:"created_at"`
}

// promptLimit bounds the stored prompt text. Long prompts add nothing
// to attribution and bloat list queries.
const promptLimit = 200

// truncatePrompt caps the prompt at promptLimit bytes without cutting a
// rune in half. Prompts here are mostly Chinese, so a plain byte slice
// would regularly persist invalid UTF-8.
func truncatePrompt(prompt string) string {
	if len(prompt) <= promptLimit {
		return prompt
	}
	cut := promptLimit
	for cut > 0 && !utf8.RuneStart(prompt[cut]) {
		cut--
	}
	return prompt[:cut]
}

// Store is the SQLite-backed image store.
type Store struct {
	db *sql.DB
}

// NewStore creates an image store using the given database connection
// and creates the images table if it does not already exist.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("artifact migration: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS images (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			conversation_id TEXT NOT NULL,
			prompt          TEXT NOT NULL,
			data            TEXT NOT NULL,
			mime_type       TEXT NOT NULL,
			created_at      TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_images_conversation
			ON images(conversation_id, id);
	`)
	return err
}

// Append durably inserts a generated image and returns it with its
// assigned id. Appends for different conversations do not serialize on
// anything beyond the SQLite write lock.
func (s *Store) Append(conversationID, prompt, data, mimeType string) (Image, error) {
	prompt = truncatePrompt(prompt)
	if mimeType == "" {
		mimeType = "image/png"
	}
	now := time.Now().UTC()

	res, err := s.db.Exec(`
		INSERT INTO images (conversation_id, prompt, data, mime_type, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, conversationID, prompt, data, mimeType, now.Format(time.RFC3339Nano))
	if err != nil {
		return Image{}, fmt.Errorf("insert image: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return Image{}, fmt.Errorf("image id: %w", err)
	}

	return Image{
		ID:             id,
		ConversationID: conversationID,
		Prompt:         prompt,
		Data:           data,
		MimeType:       mimeType,
		CreatedAt:      now,
	}, nil
}

// ListForConversation returns all images for a conversation in creation
// order. A conversation with no images yields an empty slice, not an
// error.
func (s *Store) ListForConversation(conversationID string) ([]Image, error) {
	rows, err := s.db.Query(`
		SELECT id, conversation_id, prompt, data, mime_type, created_at
		FROM images
		WHERE conversation_id = ?
		ORDER BY id ASC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	defer rows.Close()

	return scanImages(rows), nil
}

// GetByID returns a single image. A missing id yields (nil, nil).
func (s *Store) GetByID(id int64) (*Image, error) {
	row := s.db.QueryRow(`
		SELECT id, conversation_id, prompt, data, mime_type, created_at
		FROM images WHERE id = ?
	`, id)

	var img Image
	var createdAt string
	err := row.Scan(&img.ID, &img.ConversationID, &img.Prompt, &img.Data, &img.MimeType, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get image %d: %w", id, err)
	}
	img.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &img, nil
}

// ListRecent returns up to limit images created within the given window,
// newest first. This is the fallback read for the immediate-echo path
// when the handoff buffer was not populated (the generation tool ran in
// another process). The window should be generous — slow generations can
// take well over a minute.
func (s *Store) ListRecent(conversationID string, since time.Duration, limit int) ([]Image, error) {
	if limit <= 0 {
		limit = 1
	}
	cutoff := time.Now().UTC().Add(-since).Format(time.RFC3339Nano)

	rows, err := s.db.Query(`
		SELECT id, conversation_id, prompt, data, mime_type, created_at
		FROM images
		WHERE conversation_id = ? AND created_at > ?
		ORDER BY id DESC
		LIMIT ?
	`, conversationID, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent images: %w", err)
	}
	defer rows.Close()

	return scanImages(rows), nil
}

// DeleteForConversation removes all images belonging to a conversation.
// Used by whole-conversation deletion.
func (s *Store) DeleteForConversation(conversationID string) error {
	_, err := s.db.Exec(`DELETE FROM images WHERE conversation_id = ?`, conversationID)
	if err != nil {
		return fmt.Errorf("delete images: %w", err)
	}
	return nil
}

// Count returns the number of stored images for a conversation.
func (s *Store) Count(conversationID string) (int, error) {
	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM images WHERE conversation_id = ?
	`, conversationID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count images: %w", err)
	}
	return n, nil
}

// scanImages drains rows into a slice, skipping malformed rows rather
// than failing the whole read.
func scanImages(rows *sql.Rows) []Image {
	images := []Image{}
	for rows.Next() {
		var img Image
		var createdAt string
		if err := rows.Scan(&img.ID, &img.ConversationID, &img.Prompt, &img.Data, &img.MimeType, &createdAt); err != nil {
			continue
		}
		img.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		images = append(images, img)
	}
	return images
}
