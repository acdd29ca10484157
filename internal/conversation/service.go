// ABOUTME: Conversation service: query the model, then record the exchange
// ABOUTME: A turn is written only after the model replies, and written once as a user/bot pair

package conversation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/2389/slotchat/internal/store"
)

// ConversationStore defines what the service needs from storage
type ConversationStore interface {
	AppendTurn(ctx context.Context, uid, slotID, userText, botText string) (*store.Conversation, error)
	ListSlots(ctx context.Context, uid string) ([]store.Summary, error)
	GetConversation(ctx context.Context, uid, slotID string) (*store.Conversation, error)
	CreateSlot(ctx context.Context, uid, name string) (*store.Conversation, error)
	RenameSlot(ctx context.Context, uid, slotID, name string) (*store.Conversation, error)
}

// Querier defines what the service needs from the language-model layer
type Querier interface {
	Query(ctx context.Context, message string) (string, error)
}

// Service records conversations. Every path that changes a conversation
// publishes the new summary to the broadcaster, if one is set.
type Service struct {
	store       ConversationStore
	querier     Querier
	broadcaster *Broadcaster
	logger      *slog.Logger
}

// New creates a new conversation Service. If logger is nil, slog.Default() is used.
func New(store ConversationStore, querier Querier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:   store,
		querier: querier,
		logger:  logger.With("component", "conversation"),
	}
}

// SetBroadcaster enables change notifications
func (s *Service) SetBroadcaster(b *Broadcaster) {
	s.broadcaster = b
}

// Turn asks the model for a reply to query and appends the (query, reply)
// pair to the slot, creating it if needed.
//
// Order matters: if the model fails nothing is written and the upstream error
// is returned. If the write fails the reply is lost (logged) and the store
// error is returned. Neither step is retried.
func (s *Service) Turn(ctx context.Context, uid, slotID, query string) (*store.Conversation, error) {
	if err := store.ValidateQuery(uid, slotID, query); err != nil {
		return nil, err
	}

	reply, err := s.querier.Query(ctx, query)
	if err != nil {
		s.logger.Warn("model query failed, nothing recorded", "uid", uid, "slot_id", slotID, "error", err)
		return nil, fmt.Errorf("querying model: %w", err)
	}

	conv, err := s.store.AppendTurn(ctx, uid, slotID, query, reply)
	if err != nil {
		s.logger.Error("failed to record turn, reply lost",
			"uid", uid,
			"slot_id", slotID,
			"reply_len", len(reply),
			"error", err)
		return nil, fmt.Errorf("recording turn: %w", err)
	}

	s.logger.Debug("turn recorded", "uid", uid, "slot_id", slotID, "messages", len(conv.Messages))
	s.publish(conv)
	return conv, nil
}

// Query forwards a bare message to the model without recording anything
func (s *Service) Query(ctx context.Context, message string) (string, error) {
	return s.querier.Query(ctx, message)
}

// AppendTurn records a pair produced elsewhere (the client-driven flow where
// the browser calls the model first and then posts both halves)
func (s *Service) AppendTurn(ctx context.Context, uid, slotID, userText, botText string) (*store.Conversation, error) {
	conv, err := s.store.AppendTurn(ctx, uid, slotID, userText, botText)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("turn appended", "uid", uid, "slot_id", slotID, "messages", len(conv.Messages))
	s.publish(conv)
	return conv, nil
}

// ListSlots returns the user's slots, newest first
func (s *Service) ListSlots(ctx context.Context, uid string) ([]store.Summary, error) {
	return s.store.ListSlots(ctx, uid)
}

// GetConversation returns one slot with its full log
func (s *Service) GetConversation(ctx context.Context, uid, slotID string) (*store.Conversation, error) {
	return s.store.GetConversation(ctx, uid, slotID)
}

// CreateSlot starts an empty conversation
func (s *Service) CreateSlot(ctx context.Context, uid, name string) (*store.Conversation, error) {
	conv, err := s.store.CreateSlot(ctx, uid, name)
	if err != nil {
		return nil, err
	}
	s.logger.Info("slot created", "uid", uid, "slot_id", conv.SlotID)
	s.publish(conv)
	return conv, nil
}

// RenameSlot changes a slot's display name
func (s *Service) RenameSlot(ctx context.Context, uid, slotID, name string) (*store.Conversation, error) {
	conv, err := s.store.RenameSlot(ctx, uid, slotID, name)
	if err != nil {
		return nil, err
	}
	s.publish(conv)
	return conv, nil
}

func (s *Service) publish(conv *store.Conversation) {
	if s.broadcaster == nil {
		return
	}
	s.broadcaster.Publish(conv.UID, conv.Summarize())
}
