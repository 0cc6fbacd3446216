package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

// Chunk is a knowledge snippet that can be quoted into reply prompts.
type Chunk struct {
	ID        string    `json:"id"`
	Category  string    `json:"category"`
	Source    string    `json:"source,omitempty"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Rank      float64   `json:"rank,omitempty"` // FTS5 rank score (search results only)
}

// Knowledge manages snippets with full-text search via SQLite FTS5.
type Knowledge struct {
	db *DB
}

// NewKnowledge creates a knowledge store using the given database.
func NewKnowledge(db *DB) *Knowledge {
	return &Knowledge{db: db}
}

// Add inserts or updates a chunk.
func (k *Knowledge) Add(ctx context.Context, chunk Chunk) (*Chunk, error) {
	if chunk.ID == "" {
		chunk.ID = uuid.New().String()
	}
	if chunk.Category == "" {
		chunk.Category = "general"
	}

	now := time.Now().UTC()
	chunk.CreatedAt = now
	chunk.UpdatedAt = now

	_, err := k.db.sql.ExecContext(ctx,
		`INSERT INTO knowledge_chunks (id, category, source, content, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   content = excluded.content,
		   category = excluded.category,
		   source = excluded.source,
		   updated_at = excluded.updated_at`,
		chunk.ID, chunk.Category, chunk.Source, chunk.Content, now.UnixNano(), now.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("storing knowledge chunk: %w", err)
	}
	return &chunk, nil
}

// Search finds chunks sharing any word with text, best match first. Text is
// free-form user input; it is never passed to FTS5 as query syntax. Limit of
// 0 defaults to 5.
func (k *Knowledge) Search(ctx context.Context, text string, limit int) ([]Chunk, error) {
	if limit <= 0 {
		limit = 5
	}
	query := ftsQuery(text)
	if query == "" {
		return nil, nil
	}

	rows, err := k.db.sql.QueryContext(ctx,
		`SELECT kc.id, kc.category, kc.source, kc.content, kc.created_at, kc.updated_at, rank
		 FROM knowledge_fts
		 JOIN knowledge_chunks kc ON kc.rowid = knowledge_fts.rowid
		 WHERE knowledge_fts MATCH ?
		 ORDER BY rank
		 LIMIT ?`,
		query, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("searching knowledge: %w", err)
	}
	defer rows.Close()
	return scanChunks(rows)
}

// List returns chunks, newest first, optionally filtered by category.
func (k *Knowledge) List(ctx context.Context, category string, limit int) ([]Chunk, error) {
	if limit <= 0 {
		limit = 100
	}

	var rows *sql.Rows
	var err error
	if category != "" {
		rows, err = k.db.sql.QueryContext(ctx,
			`SELECT id, category, source, content, created_at, updated_at, 0
			 FROM knowledge_chunks WHERE category = ?
			 ORDER BY updated_at DESC LIMIT ?`,
			category, limit,
		)
	} else {
		rows, err = k.db.sql.QueryContext(ctx,
			`SELECT id, category, source, content, created_at, updated_at, 0
			 FROM knowledge_chunks
			 ORDER BY updated_at DESC LIMIT ?`,
			limit,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("listing knowledge: %w", err)
	}
	defer rows.Close()
	return scanChunks(rows)
}

// Delete removes a chunk by ID.
func (k *Knowledge) Delete(ctx context.Context, id string) error {
	_, err := k.db.sql.ExecContext(ctx, `DELETE FROM knowledge_chunks WHERE id = ?`, id)
	return err
}

func scanChunks(rows *sql.Rows) ([]Chunk, error) {
	var chunks []Chunk
	for rows.Next() {
		var c Chunk
		var created, updated int64
		if err := rows.Scan(&c.ID, &c.Category, &c.Source, &c.Content, &created, &updated, &c.Rank); err != nil {
			return nil, fmt.Errorf("scanning knowledge chunk: %w", err)
		}
		c.CreatedAt = fromNanos(created)
		c.UpdatedAt = fromNanos(updated)
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// minTermLen drops short words ("de", "la") that would match everything.
const minTermLen = 3

// ftsQuery turns free text into an OR of quoted terms.
func ftsQuery(text string) string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	seen := make(map[string]bool, len(words))
	var terms []string
	for _, w := range words {
		if len([]rune(w)) < minTermLen || seen[w] {
			continue
		}
		seen[w] = true
		terms = append(terms, `"`+w+`"`)
	}
	return strings.Join(terms, " OR ")
}
