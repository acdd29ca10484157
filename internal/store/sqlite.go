// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: AppendTurn is one IMMEDIATE transaction: upsert the conversation row, insert the pair, read back

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// timeLayout is fixed-width so stored timestamps compare correctly as text
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed. Use ":memory:" for a throwaway database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store", "driver", "sqlite")

	memory := path == ":memory:"
	if !memory {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Every pooled connection to :memory: would get its own empty database
	if memory {
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// sqliteDSN adds the per-connection pragmas. _txlock=immediate makes BeginTx take
// the write lock up front so two AppendTurn calls cannot both read before writing.
func sqliteDSN(path string) string {
	params := "_pragma=busy_timeout(10000)&_pragma=foreign_keys(1)&_txlock=immediate"
	if path == ":memory:" {
		return "file::memory:?" + params
	}
	return "file:" + path + "?" + params
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversations (
			id         TEXT PRIMARY KEY,
			uid        TEXT NOT NULL,
			slot_id    TEXT NOT NULL,
			name       TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,

			UNIQUE(uid, slot_id)
		);

		CREATE INDEX IF NOT EXISTS idx_conversations_uid_created
			ON conversations(uid, created_at DESC);

		CREATE TABLE IF NOT EXISTS conversation_messages (
			seq             INTEGER PRIMARY KEY AUTOINCREMENT,
			conversation_id TEXT NOT NULL REFERENCES conversations(id),
			sender          TEXT NOT NULL,
			text            TEXT NOT NULL,
			ts              TEXT NOT NULL,

			CHECK (sender IN ('user', 'bot'))
		);

		CREATE INDEX IF NOT EXISTS idx_conversation_messages_conversation
			ON conversation_messages(conversation_id, seq);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// Ping checks the database connection
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return unavailable("pinging sqlite", err)
	}
	return nil
}

// AppendTurn upserts the conversation and appends the user/bot pair in one transaction.
func (s *SQLiteStore) AppendTurn(ctx context.Context, uid, slotID, userText, botText string) (*Conversation, error) {
	if err := ValidateTurn(uid, slotID, userText, botText); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, unavailable("beginning append transaction", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	now := s.now()
	nowStr := formatTime(now)

	var conversationID string
	err = tx.QueryRowContext(ctx, `
		INSERT INTO conversations (id, uid, slot_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(uid, slot_id) DO UPDATE
			SET updated_at = max(conversations.updated_at, excluded.updated_at)
		RETURNING id
	`, newDocumentID(), uid, slotID, nowStr, nowStr).Scan(&conversationID)
	if err != nil {
		return nil, unavailable("upserting conversation", err)
	}

	for _, msg := range turnMessages(userText, botText, now) {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO conversation_messages (conversation_id, sender, text, ts)
			VALUES (?, ?, ?, ?)
		`, conversationID, string(msg.Sender), msg.Text, formatTime(msg.TS)); err != nil {
			return nil, unavailable("inserting message", err)
		}
	}

	conv, err := loadConversation(ctx, tx, uid, slotID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, unavailable("committing append", err)
	}

	s.logger.Debug("appended turn", "uid", uid, "slot_id", slotID, "messages", len(conv.Messages))
	return conv, nil
}

// ListSlots returns the user's conversations, most recently created first
func (s *SQLiteStore) ListSlots(ctx context.Context, uid string) ([]Summary, error) {
	if err := ValidateUID(uid); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.uid, c.slot_id, COALESCE(c.name, ''), c.created_at, c.updated_at,
		       (SELECT COUNT(*) FROM conversation_messages m WHERE m.conversation_id = c.id)
		FROM conversations c
		WHERE c.uid = ?
		ORDER BY c.created_at DESC, c.slot_id DESC
	`, uid)
	if err != nil {
		return nil, unavailable("querying slots", err)
	}
	defer rows.Close()

	slots := make([]Summary, 0)
	for rows.Next() {
		var sum Summary
		var createdAtStr, updatedAtStr string
		if err := rows.Scan(&sum.ID, &sum.UID, &sum.SlotID, &sum.Name, &createdAtStr, &updatedAtStr, &sum.MessageCount); err != nil {
			return nil, unavailable("scanning slot row", err)
		}
		if sum.CreatedAt, err = parseTime(createdAtStr); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		if sum.UpdatedAt, err = parseTime(updatedAtStr); err != nil {
			return nil, fmt.Errorf("parsing updated_at: %w", err)
		}
		slots = append(slots, sum)
	}

	if err := rows.Err(); err != nil {
		return nil, unavailable("iterating slot rows", err)
	}
	return slots, nil
}

// GetConversation retrieves a conversation with its full message log.
// Returns ErrNotFound if the slot doesn't exist.
func (s *SQLiteStore) GetConversation(ctx context.Context, uid, slotID string) (*Conversation, error) {
	if err := ValidateSlotKey(uid, slotID); err != nil {
		return nil, err
	}
	return loadConversation(ctx, s.db, uid, slotID)
}

// CreateSlot inserts an empty conversation under a fresh slot ID
func (s *SQLiteStore) CreateSlot(ctx context.Context, uid, name string) (*Conversation, error) {
	if err := ValidateUID(uid); err != nil {
		return nil, err
	}

	now := s.now()
	conv := &Conversation{
		ID:        newDocumentID(),
		UID:       uid,
		SlotID:    newSlotID(),
		Name:      strings.TrimSpace(name),
		CreatedAt: now,
		UpdatedAt: now,
		Messages:  []Message{},
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, uid, slot_id, name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, conv.ID, conv.UID, conv.SlotID, nullString(conv.Name), formatTime(now), formatTime(now))
	if err != nil {
		return nil, unavailable("inserting conversation", err)
	}

	s.logger.Debug("created slot", "uid", uid, "slot_id", conv.SlotID)
	return conv, nil
}

// RenameSlot sets the display name of an existing conversation.
// Returns ErrNotFound if the slot doesn't exist.
func (s *SQLiteStore) RenameSlot(ctx context.Context, uid, slotID, name string) (*Conversation, error) {
	if err := ValidateSlotKey(uid, slotID); err != nil {
		return nil, err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE conversations
		SET name = ?, updated_at = max(updated_at, ?)
		WHERE uid = ? AND slot_id = ?
	`, nullString(strings.TrimSpace(name)), formatTime(s.now()), uid, slotID)
	if err != nil {
		return nil, unavailable("renaming conversation", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, unavailable("getting rows affected", err)
	}
	if rowsAffected == 0 {
		return nil, ErrNotFound
	}

	return loadConversation(ctx, s.db, uid, slotID)
}

// querier is satisfied by both *sql.DB and *sql.Tx
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// loadConversation reads a conversation row and its messages in insertion order
func loadConversation(ctx context.Context, q querier, uid, slotID string) (*Conversation, error) {
	var conv Conversation
	var createdAtStr, updatedAtStr string

	err := q.QueryRowContext(ctx, `
		SELECT id, uid, slot_id, COALESCE(name, ''), created_at, updated_at
		FROM conversations
		WHERE uid = ? AND slot_id = ?
	`, uid, slotID).Scan(&conv.ID, &conv.UID, &conv.SlotID, &conv.Name, &createdAtStr, &updatedAtStr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("querying conversation", err)
	}

	if conv.CreatedAt, err = parseTime(createdAtStr); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if conv.UpdatedAt, err = parseTime(updatedAtStr); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	rows, err := q.QueryContext(ctx, `
		SELECT sender, text, ts
		FROM conversation_messages
		WHERE conversation_id = ?
		ORDER BY seq ASC
	`, conv.ID)
	if err != nil {
		return nil, unavailable("querying messages", err)
	}
	defer rows.Close()

	conv.Messages = make([]Message, 0)
	for rows.Next() {
		var msg Message
		var sender, tsStr string
		if err := rows.Scan(&sender, &msg.Text, &tsStr); err != nil {
			return nil, unavailable("scanning message row", err)
		}
		msg.Sender = Sender(sender)
		if msg.TS, err = parseTime(tsStr); err != nil {
			return nil, fmt.Errorf("parsing message ts: %w", err)
		}
		conv.Messages = append(conv.Messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, unavailable("iterating message rows", err)
	}
	return &conv, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

// nullString returns nil for empty strings, otherwise the string
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Ensure SQLiteStore implements Store interface
var _ Store = (*SQLiteStore)(nil)
