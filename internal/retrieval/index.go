package retrieval

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"
)

// DefaultTopK is how many chunks a policy query returns by default.
const DefaultTopK = 2

// Chunk is one indexed piece of a policy document.
type Chunk struct {
	ID      int64
	Source  string
	Heading string
	Content string
	Score   float32
}

// Index is the SQLite-backed policy document index.
type Index struct {
	db       *sql.DB
	embedder Embedder
	logger   *slog.Logger
}

// NewIndex creates the index and its schema if missing.
func NewIndex(db *sql.DB, embedder Embedder, logger *slog.Logger) (*Index, error) {
	if logger == nil {
		logger = slog.Default()
	}
	idx := &Index{db: db, embedder: embedder, logger: logger}
	if err := idx.migrate(); err != nil {
		return nil, fmt.Errorf("retrieval migration: %w", err)
	}
	return idx, nil
}

func (x *Index) migrate() error {
	_, err := x.db.Exec(`
		CREATE TABLE IF NOT EXISTS policy_chunks (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			source     TEXT NOT NULL,
			heading    TEXT NOT NULL,
			content    TEXT NOT NULL,
			embedding  BLOB NOT NULL,
			created_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_policy_chunks_source
			ON policy_chunks(source);
	`)
	return err
}

// Ingest splits a markdown document into heading-delimited chunks,
// embeds each one, and stores them under the given source name.
// Re-ingesting a source replaces its previous chunks.
func (x *Index) Ingest(ctx context.Context, source, markdown string) (int, error) {
	chunks := SplitMarkdown(markdown)
	if len(chunks) == 0 {
		return 0, fmt.Errorf("no content to index in %s", source)
	}

	if _, err := x.db.Exec(`DELETE FROM policy_chunks WHERE source = ?`, source); err != nil {
		return 0, fmt.Errorf("clear previous chunks: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, c := range chunks {
		vec, err := x.embedder.Embed(ctx, c.Heading+"\n"+c.Content, false)
		if err != nil {
			return 0, fmt.Errorf("embed chunk %q: %w", c.Heading, err)
		}
		_, err = x.db.Exec(`
			INSERT INTO policy_chunks (source, heading, content, embedding, created_at)
			VALUES (?, ?, ?, ?, ?)
		`, source, c.Heading, c.Content, encodeVector(vec), now)
		if err != nil {
			return 0, fmt.Errorf("store chunk: %w", err)
		}
	}

	x.logger.Info("ingested policy document", "source", source, "chunks", len(chunks))
	return len(chunks), nil
}

// Search embeds the query and returns the top k most similar chunks.
// A zero k uses DefaultTopK.
func (x *Index) Search(ctx context.Context, query string, k int) ([]Chunk, error) {
	if k <= 0 {
		k = DefaultTopK
	}

	qvec, err := x.embedder.Embed(ctx, query, true)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	rows, err := x.db.Query(`
		SELECT id, source, heading, content, embedding FROM policy_chunks
	`)
	if err != nil {
		return nil, fmt.Errorf("load chunks: %w", err)
	}
	defer rows.Close()

	var chunks []Chunk
	var vectors [][]float32
	for rows.Next() {
		var c Chunk
		var blob []byte
		if err := rows.Scan(&c.ID, &c.Source, &c.Heading, &c.Content, &blob); err != nil {
			x.logger.Warn("skipping unreadable chunk row", "error", err)
			continue
		}
		vec, err := decodeVector(blob)
		if err != nil {
			x.logger.Warn("skipping chunk with malformed embedding", "id", c.ID, "error", err)
			continue
		}
		chunks = append(chunks, c)
		vectors = append(vectors, vec)
	}

	if len(chunks) == 0 {
		return nil, nil
	}

	out := make([]Chunk, 0, k)
	for _, i := range topK(qvec, vectors, k) {
		c := chunks[i]
		c.Score = CosineSimilarity(qvec, vectors[i])
		out = append(out, c)
	}
	return out, nil
}

// Count returns the number of indexed chunks.
func (x *Index) Count() (int, error) {
	var n int
	if err := x.db.QueryRow(`SELECT COUNT(*) FROM policy_chunks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return n, nil
}

// SplitMarkdown chunks a markdown document at its headings. Text before
// the first heading becomes a chunk with an empty heading. Blank-only
// chunks are dropped.
func SplitMarkdown(markdown string) []Chunk {
	var chunks []Chunk
	var heading string
	var body strings.Builder

	flush := func() {
		content := strings.TrimSpace(body.String())
		if content != "" || heading != "" {
			if content == "" {
				content = heading
			}
			chunks = append(chunks, Chunk{Heading: heading, Content: content})
		}
		body.Reset()
	}

	for _, line := range strings.Split(markdown, "\n") {
		if strings.HasPrefix(line, "#") {
			flush()
			heading = strings.TrimSpace(strings.TrimLeft(line, "# "))
			continue
		}
		body.WriteString(line)
		body.WriteString("\n")
	}
	flush()

	return chunks
}

// Vectors are stored as little-endian float32 blobs, 4 bytes per
// dimension.

func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("embedding blob length %d not a multiple of 4", len(blob))
	}
	vec := make([]float32, len(blob)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vec, nil
}
