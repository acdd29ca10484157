// ABOUTME: PostgreSQL implementation of the Store interface using pgx/v5 pgxpool
// ABOUTME: Messages live in a JSONB array; AppendTurn is one INSERT ... ON CONFLICT DO UPDATE ... RETURNING

package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements the Store interface using PostgreSQL
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
	now    func() time.Time
}

// NewPostgresStore connects to PostgreSQL and creates the schema if needed
func NewPostgresStore(ctx context.Context, url string) (*PostgresStore, error) {
	logger := slog.Default().With("component", "store", "driver", "postgres")

	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging PostgreSQL: %w", err)
	}

	s := &PostgresStore{
		pool:   pool,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}

	if err := s.createSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("PostgreSQL store initialized")
	return s, nil
}

func (s *PostgresStore) createSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS conversations (
			id         TEXT PRIMARY KEY,
			uid        TEXT NOT NULL,
			slot_id    TEXT NOT NULL,
			name       TEXT,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			messages   JSONB NOT NULL DEFAULT '[]'::jsonb,

			UNIQUE (uid, slot_id)
		);

		CREATE INDEX IF NOT EXISTS idx_conversations_uid_created
			ON conversations (uid, created_at DESC);
	`)
	return err
}

// Close closes the connection pool
func (s *PostgresStore) Close() error {
	s.logger.Info("closing PostgreSQL store")
	s.pool.Close()
	return nil
}

// Ping checks the database connection
func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return unavailable("pinging postgres", err)
	}
	return nil
}

const conversationColumns = `id, uid, slot_id, COALESCE(name, ''), created_at, updated_at, messages`

// AppendTurn upserts the conversation and concatenates the pair onto its log.
// The row lock taken by ON CONFLICT DO UPDATE serializes concurrent appends.
func (s *PostgresStore) AppendTurn(ctx context.Context, uid, slotID, userText, botText string) (*Conversation, error) {
	if err := ValidateTurn(uid, slotID, userText, botText); err != nil {
		return nil, err
	}

	now := s.now()
	row := s.pool.QueryRow(ctx, `
		INSERT INTO conversations (id, uid, slot_id, created_at, updated_at, messages)
		VALUES ($1, $2, $3, $4, $4, $5)
		ON CONFLICT (uid, slot_id) DO UPDATE
			SET updated_at = GREATEST(conversations.updated_at, EXCLUDED.updated_at),
			    messages   = conversations.messages || EXCLUDED.messages
		RETURNING `+conversationColumns,
		newDocumentID(), uid, slotID, now, turnMessages(userText, botText, now))

	conv, err := scanConversation(row)
	if err != nil {
		return nil, unavailable("upserting conversation", err)
	}

	s.logger.Debug("appended turn", "uid", uid, "slot_id", slotID, "messages", len(conv.Messages))
	return conv, nil
}

// ListSlots returns the user's conversations, most recently created first
func (s *PostgresStore) ListSlots(ctx context.Context, uid string) ([]Summary, error) {
	if err := ValidateUID(uid); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, uid, slot_id, COALESCE(name, ''), created_at, updated_at, jsonb_array_length(messages)
		FROM conversations
		WHERE uid = $1
		ORDER BY created_at DESC, slot_id DESC
	`, uid)
	if err != nil {
		return nil, unavailable("querying slots", err)
	}
	defer rows.Close()

	slots := make([]Summary, 0)
	for rows.Next() {
		var sum Summary
		if err := rows.Scan(&sum.ID, &sum.UID, &sum.SlotID, &sum.Name, &sum.CreatedAt, &sum.UpdatedAt, &sum.MessageCount); err != nil {
			return nil, unavailable("scanning slot row", err)
		}
		sum.CreatedAt = sum.CreatedAt.UTC()
		sum.UpdatedAt = sum.UpdatedAt.UTC()
		slots = append(slots, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterating slot rows", err)
	}
	return slots, nil
}

// GetConversation retrieves a conversation with its full message log.
// Returns ErrNotFound if the slot doesn't exist.
func (s *PostgresStore) GetConversation(ctx context.Context, uid, slotID string) (*Conversation, error) {
	if err := ValidateSlotKey(uid, slotID); err != nil {
		return nil, err
	}

	row := s.pool.QueryRow(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE uid = $1 AND slot_id = $2
	`, uid, slotID)

	conv, err := scanConversation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("querying conversation", err)
	}
	return conv, nil
}

// CreateSlot inserts an empty conversation under a fresh slot ID
func (s *PostgresStore) CreateSlot(ctx context.Context, uid, name string) (*Conversation, error) {
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

	_, err := s.pool.Exec(ctx, `
		INSERT INTO conversations (id, uid, slot_id, name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
	`, conv.ID, conv.UID, conv.SlotID, nullString(conv.Name), now)
	if err != nil {
		return nil, unavailable("inserting conversation", err)
	}

	s.logger.Debug("created slot", "uid", uid, "slot_id", conv.SlotID)
	return conv, nil
}

// RenameSlot sets the display name of an existing conversation.
// Returns ErrNotFound if the slot doesn't exist.
func (s *PostgresStore) RenameSlot(ctx context.Context, uid, slotID, name string) (*Conversation, error) {
	if err := ValidateSlotKey(uid, slotID); err != nil {
		return nil, err
	}

	row := s.pool.QueryRow(ctx, `
		UPDATE conversations
		SET name = $3, updated_at = GREATEST(updated_at, $4)
		WHERE uid = $1 AND slot_id = $2
		RETURNING `+conversationColumns,
		uid, slotID, nullString(strings.TrimSpace(name)), s.now())

	conv, err := scanConversation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("renaming conversation", err)
	}
	return conv, nil
}

// scanConversation reads the columns listed in conversationColumns
func scanConversation(row pgx.Row) (*Conversation, error) {
	var conv Conversation
	if err := row.Scan(&conv.ID, &conv.UID, &conv.SlotID, &conv.Name, &conv.CreatedAt, &conv.UpdatedAt, &conv.Messages); err != nil {
		return nil, err
	}
	normalize(&conv)
	return &conv, nil
}

// Ensure PostgresStore implements Store interface
var _ Store = (*PostgresStore)(nil)
