// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite and to inject backend failures

package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation // keyed by "uid\x00slotID"

	// Err, when set, is returned (wrapped as ErrUnavailable) by every operation.
	err error

	// Now overrides the clock; defaults to time.Now().UTC().
	Now func() time.Time
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		conversations: make(map[string]*Conversation),
		Now:           func() time.Time { return time.Now().UTC() },
	}
}

// SetError makes every subsequent operation fail with err. Pass nil to recover.
func (m *MockStore) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func slotKey(uid, slotID string) string {
	return uid + "\x00" + slotID
}

// AppendTurn upserts the slot and appends the pair under the write lock.
func (m *MockStore) AppendTurn(ctx context.Context, uid, slotID, userText, botText string) (*Conversation, error) {
	if err := ValidateTurn(uid, slotID, userText, botText); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return nil, unavailable("append turn", m.err)
	}

	now := m.Now()
	key := slotKey(uid, slotID)
	conv, ok := m.conversations[key]
	if !ok {
		conv = &Conversation{
			ID:        newDocumentID(),
			UID:       uid,
			SlotID:    slotID,
			CreatedAt: now,
			UpdatedAt: now,
			Messages:  []Message{},
		}
		m.conversations[key] = conv
	}

	conv.Messages = append(conv.Messages, turnMessages(userText, botText, now)...)
	conv.UpdatedAt = laterOf(conv.UpdatedAt, now)

	return copyConversation(conv), nil
}

// ListSlots returns the user's conversations, most recently created first.
func (m *MockStore) ListSlots(ctx context.Context, uid string) ([]Summary, error) {
	if err := ValidateUID(uid); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.err != nil {
		return nil, unavailable("list slots", m.err)
	}

	slots := make([]Summary, 0)
	for _, conv := range m.conversations {
		if conv.UID == uid {
			slots = append(slots, conv.Summarize())
		}
	}

	sort.Slice(slots, func(i, j int) bool {
		if !slots[i].CreatedAt.Equal(slots[j].CreatedAt) {
			return slots[i].CreatedAt.After(slots[j].CreatedAt)
		}
		return slots[i].SlotID > slots[j].SlotID
	})

	return slots, nil
}

// GetConversation retrieves a conversation by (uid, slotID).
func (m *MockStore) GetConversation(ctx context.Context, uid, slotID string) (*Conversation, error) {
	if err := ValidateSlotKey(uid, slotID); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.err != nil {
		return nil, unavailable("get conversation", m.err)
	}

	conv, ok := m.conversations[slotKey(uid, slotID)]
	if !ok {
		return nil, ErrNotFound
	}
	return copyConversation(conv), nil
}

// CreateSlot stores an empty conversation under a fresh slot ID.
func (m *MockStore) CreateSlot(ctx context.Context, uid, name string) (*Conversation, error) {
	if err := ValidateUID(uid); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return nil, unavailable("create slot", m.err)
	}

	now := m.Now()
	conv := &Conversation{
		ID:        newDocumentID(),
		UID:       uid,
		SlotID:    newSlotID(),
		Name:      strings.TrimSpace(name),
		CreatedAt: now,
		UpdatedAt: now,
		Messages:  []Message{},
	}
	m.conversations[slotKey(uid, conv.SlotID)] = conv

	return copyConversation(conv), nil
}

// RenameSlot sets the display name of an existing conversation.
func (m *MockStore) RenameSlot(ctx context.Context, uid, slotID, name string) (*Conversation, error) {
	if err := ValidateSlotKey(uid, slotID); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return nil, unavailable("rename slot", m.err)
	}

	conv, ok := m.conversations[slotKey(uid, slotID)]
	if !ok {
		return nil, ErrNotFound
	}
	conv.Name = strings.TrimSpace(name)
	conv.UpdatedAt = laterOf(conv.UpdatedAt, m.Now())

	return copyConversation(conv), nil
}

// Ping returns the injected error, if any.
func (m *MockStore) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return unavailable("ping", m.err)
	}
	return nil
}

// Close is a no-op for MockStore.
func (m *MockStore) Close() error {
	return nil
}

// copyConversation returns a deep copy so callers cannot mutate stored state
func copyConversation(c *Conversation) *Conversation {
	result := *c
	result.Messages = make([]Message, len(c.Messages))
	copy(result.Messages, c.Messages)
	return &result
}

// Ensure MockStore implements Store interface
var _ Store = (*MockStore)(nil)
