// ABOUTME: Store interface and data types for slotchat conversation persistence
// ABOUTME: Defines Conversation, Message, Summary and the sentinel errors shared by all backends

package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned when a requested conversation does not exist
var ErrNotFound = errors.New("not found")

// ErrValidation is returned when a required field is missing or empty.
// Use errors.As with *ValidationError to get the offending field names.
var ErrValidation = errors.New("missing fields")

// ErrUnavailable is returned when the backing store cannot be reached or a write fails
var ErrUnavailable = errors.New("store unavailable")

// ValidationError lists the required fields that were missing or blank
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("missing fields: %s", strings.Join(e.Fields, ", "))
}

// Is lets errors.Is(err, ErrValidation) match any ValidationError
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Sender identifies who authored a message
type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

// Message is a single entry in a conversation log
type Message struct {
	Sender Sender    `json:"sender" bson:"sender"`
	Text   string    `json:"text" bson:"text"`
	TS     time.Time `json:"ts" bson:"ts"`
}

// Conversation is one slot belonging to a user. (UID, SlotID) is unique.
type Conversation struct {
	ID        string    `json:"_id" bson:"_id"`
	UID       string    `json:"uid" bson:"uid"`
	SlotID    string    `json:"slotId" bson:"slotId"`
	Name      string    `json:"name,omitempty" bson:"name,omitempty"`
	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt" bson:"updatedAt"`
	Messages  []Message `json:"messages" bson:"messages"`
}

// Summary is a conversation without its message log, used for slot listings
type Summary struct {
	ID           string    `json:"_id" bson:"_id"`
	UID          string    `json:"uid" bson:"uid"`
	SlotID       string    `json:"slotId" bson:"slotId"`
	Name         string    `json:"name,omitempty" bson:"name,omitempty"`
	CreatedAt    time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt" bson:"updatedAt"`
	MessageCount int       `json:"messageCount" bson:"messageCount"`
}

// Summarize drops the message log, keeping its length
func (c *Conversation) Summarize() Summary {
	return Summary{
		ID:           c.ID,
		UID:          c.UID,
		SlotID:       c.SlotID,
		Name:         c.Name,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
		MessageCount: len(c.Messages),
	}
}

// Store defines conversation persistence. Every backend must make AppendTurn a
// single atomic locate-or-create-and-append.
type Store interface {
	// AppendTurn creates the (uid, slotID) conversation if absent and appends
	// the user message followed by the bot reply. Returns the updated document.
	AppendTurn(ctx context.Context, uid, slotID, userText, botText string) (*Conversation, error)

	// ListSlots returns the user's conversations, most recently created first.
	ListSlots(ctx context.Context, uid string) ([]Summary, error)

	// GetConversation returns ErrNotFound if the slot does not exist.
	GetConversation(ctx context.Context, uid, slotID string) (*Conversation, error)

	// CreateSlot creates an empty conversation under a fresh slot ID.
	CreateSlot(ctx context.Context, uid, name string) (*Conversation, error)

	// RenameSlot sets the display name. Returns ErrNotFound if the slot does not exist.
	RenameSlot(ctx context.Context, uid, slotID, name string) (*Conversation, error)

	// Ping reports whether the backend is reachable
	Ping(ctx context.Context) error

	// Close releases any resources held by the store
	Close() error
}
