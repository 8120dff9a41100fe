// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package conversation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/jeranaias/loglens/internal/util"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrConversationNotFound is returned when no archived conversation
	// matches the requested ID.
	ErrConversationNotFound = errors.New("conversation not found")
)

// =============================================================================
// SCHEMA
// =============================================================================

// SchemaVersion tracks the archive schema version for migrations
const SchemaVersion = 1

// archiveSchema is the SQLite schema for the conversation archive.
const archiveSchema = `
-- Metadata table for schema version
CREATE TABLE IF NOT EXISTS metadata (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
) WITHOUT ROWID;

-- Conversations table: one row per analyzed file conversation
CREATE TABLE IF NOT EXISTS conversations (
    id TEXT PRIMARY KEY,
    file_name TEXT NOT NULL,
    summary TEXT,
    model TEXT,
    created_at INTEGER NOT NULL,  -- Unix timestamp
    updated_at INTEGER NOT NULL   -- Unix timestamp
);

CREATE INDEX IF NOT EXISTS idx_conversations_updated ON conversations(updated_at);

-- Turns table: ordered user/assistant messages
CREATE TABLE IF NOT EXISTS turns (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    conversation_id TEXT NOT NULL,
    role TEXT NOT NULL,           -- user, assistant
    content TEXT NOT NULL,
    timestamp INTEGER NOT NULL,   -- Unix timestamp
    mode TEXT,                    -- quick, smart, deep
    model TEXT,
    input_tokens INTEGER DEFAULT 0,
    output_tokens INTEGER DEFAULT 0,
    cost REAL DEFAULT 0,
    FOREIGN KEY(conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_turns_conversation ON turns(conversation_id);
`

// =============================================================================
// ARCHIVE
// =============================================================================

// Meta describes an archived conversation for listing.
type Meta struct {
	ID        string
	FileName  string
	Summary   string
	Model     string
	CreatedAt time.Time
	UpdatedAt time.Time
	TurnCount int
}

// Archive persists conversations in SQLite so the full history survives
// viewer restarts. The in-memory Store remains the source of truth for
// the active conversation; the archive is write-behind.
type Archive struct {
	db *sql.DB
	mu sync.Mutex
}

// OpenArchive opens (creating if necessary) the archive database at path.
func OpenArchive(path string) (*Archive, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}

	if _, err := db.Exec(archiveSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply archive schema: %w", err)
	}
	if _, err := db.Exec(
		`INSERT OR REPLACE INTO metadata (key, value) VALUES ('schema_version', ?)`,
		fmt.Sprintf("%d", SchemaVersion),
	); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to record schema version: %w", err)
	}

	return &Archive{db: db}, nil
}

// Close releases the underlying database handle.
func (a *Archive) Close() error {
	return a.db.Close()
}

// =============================================================================
// WRITE OPERATIONS
// =============================================================================

// BeginConversation registers a conversation and returns its ID. An empty
// id is replaced with a fresh UUID.
func (a *Archive) BeginConversation(ctx context.Context, id, fileName, model string) (string, error) {
	if id == "" {
		id = uuid.NewString()
	}

	now := time.Now().Unix()
	a.mu.Lock()
	defer a.mu.Unlock()

	_, err := a.db.ExecContext(ctx, `
		INSERT INTO conversations (id, file_name, summary, model, created_at, updated_at)
		VALUES (?, ?, '', ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET updated_at = excluded.updated_at
	`, id, fileName, model, now, now)
	if err != nil {
		return "", fmt.Errorf("failed to begin conversation: %w", err)
	}
	return id, nil
}

// AppendTurn persists one turn. The conversation's summary is derived from
// the first user turn, mirroring what the panel header shows.
func (a *Archive) AppendTurn(ctx context.Context, conversationID string, t Turn) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	ts := t.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO turns (conversation_id, role, content, timestamp, mode, model, input_tokens, output_tokens, cost)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, conversationID, string(t.Role), t.Content, ts.Unix(), t.Mode, t.Model, t.Usage.Input, t.Usage.Output, t.Cost); err != nil {
		return fmt.Errorf("failed to insert turn: %w", err)
	}

	if t.Role == RoleUser {
		summary := util.TruncateRunes(t.Content, 50)
		if _, err := tx.ExecContext(ctx, `
			UPDATE conversations SET summary = ?
			WHERE id = ? AND (summary IS NULL OR summary = '')
		`, summary, conversationID); err != nil {
			return fmt.Errorf("failed to update summary: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE conversations SET updated_at = ? WHERE id = ?
	`, ts.Unix(), conversationID); err != nil {
		return fmt.Errorf("failed to touch conversation: %w", err)
	}

	return tx.Commit()
}

// =============================================================================
// READ OPERATIONS
// =============================================================================

// List returns archived conversations, most recently updated first.
func (a *Archive) List(ctx context.Context) ([]Meta, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT c.id, c.file_name, c.summary, c.model, c.created_at, c.updated_at,
		       (SELECT COUNT(*) FROM turns t WHERE t.conversation_id = c.id)
		FROM conversations c
		ORDER BY c.updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var metas []Meta
	for rows.Next() {
		var m Meta
		var created, updated int64
		if err := rows.Scan(&m.ID, &m.FileName, &m.Summary, &m.Model, &created, &updated, &m.TurnCount); err != nil {
			return nil, fmt.Errorf("failed to scan conversation row: %w", err)
		}
		m.CreatedAt = time.Unix(created, 0)
		m.UpdatedAt = time.Unix(updated, 0)
		metas = append(metas, m)
	}
	return metas, rows.Err()
}

// Load returns all turns of one conversation, oldest first.
func (a *Archive) Load(ctx context.Context, conversationID string) ([]Turn, error) {
	var exists int
	err := a.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM conversations WHERE id = ?`, conversationID).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("failed to check conversation: %w", err)
	}
	if exists == 0 {
		return nil, ErrConversationNotFound
	}

	rows, err := a.db.QueryContext(ctx, `
		SELECT role, content, timestamp, mode, model, input_tokens, output_tokens, cost
		FROM turns WHERE conversation_id = ?
		ORDER BY id ASC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load turns: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		var role string
		var ts int64
		if err := rows.Scan(&role, &t.Content, &ts, &t.Mode, &t.Model, &t.Usage.Input, &t.Usage.Output, &t.Cost); err != nil {
			return nil, fmt.Errorf("failed to scan turn row: %w", err)
		}
		t.Role = Role(role)
		t.Timestamp = time.Unix(ts, 0)
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// Search returns conversations where any turn's content contains the query
// (case-insensitive).
func (a *Archive) Search(ctx context.Context, query string) ([]Meta, error) {
	if query == "" {
		return a.List(ctx)
	}

	rows, err := a.db.QueryContext(ctx, `
		SELECT DISTINCT c.id, c.file_name, c.summary, c.model, c.created_at, c.updated_at,
		       (SELECT COUNT(*) FROM turns t2 WHERE t2.conversation_id = c.id)
		FROM conversations c
		JOIN turns t ON t.conversation_id = c.id
		WHERE t.content LIKE '%' || ? || '%' COLLATE NOCASE
		ORDER BY c.updated_at DESC
	`, query)
	if err != nil {
		return nil, fmt.Errorf("failed to search turns: %w", err)
	}
	defer rows.Close()

	var metas []Meta
	for rows.Next() {
		var m Meta
		var created, updated int64
		if err := rows.Scan(&m.ID, &m.FileName, &m.Summary, &m.Model, &created, &updated, &m.TurnCount); err != nil {
			return nil, fmt.Errorf("failed to scan search row: %w", err)
		}
		m.CreatedAt = time.Unix(created, 0)
		m.UpdatedAt = time.Unix(updated, 0)
		metas = append(metas, m)
	}
	return metas, rows.Err()
}

// Delete removes a conversation and its turns.
func (a *Archive) Delete(ctx context.Context, conversationID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	res, err := a.db.ExecContext(ctx,
		`DELETE FROM conversations WHERE id = ?`, conversationID)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConversationNotFound
	}

	// Cascade is not guaranteed without foreign_keys pragma; delete
	// explicitly.
	if _, err := a.db.ExecContext(ctx,
		`DELETE FROM turns WHERE conversation_id = ?`, conversationID); err != nil {
		return fmt.Errorf("failed to delete turns: %w", err)
	}
	return nil
}
