// ABOUTME: In-memory fan-out of conversation changes for cross-tab awareness
// ABOUTME: Publishes slot summaries to every subscriber of the owning uid

package conversation

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/2389/slotchat/internal/store"
)

const (
	// subscriberBufferSize is the channel buffer for each subscriber.
	subscriberBufferSize = 64
)

// Broadcaster provides in-memory pub/sub for conversation changes.
// Subscribers register for a uid and receive the summary of every slot of
// that user that is created, renamed or appended to.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan store.Summary // uid -> subID -> ch
	closed      bool
	logger      *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]map[string]chan store.Summary),
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers a subscriber for changes to uid's slots.
// The subscription is removed and its channel closed when ctx is cancelled.
// After Close the returned channel is already closed.
func (b *Broadcaster) Subscribe(ctx context.Context, uid string) (<-chan store.Summary, string) {
	subID := uuid.New().String()
	ch := make(chan store.Summary, subscriberBufferSize)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, subID
	}
	if _, ok := b.subscribers[uid]; !ok {
		b.subscribers[uid] = make(map[string]chan store.Summary)
	}
	b.subscribers[uid][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "uid", uid, "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(uid, subID)
	}()

	return ch, subID
}

// Publish sends a summary to all subscribers of uid.
// Non-blocking: events are dropped for subscribers whose channels are full.
func (b *Broadcaster) Publish(uid string, summary store.Summary) {
	b.mu.RLock()
	subs, ok := b.subscribers[uid]
	if !ok || len(subs) == 0 {
		b.mu.RUnlock()
		return
	}

	targets := make([]chan store.Summary, 0, len(subs))
	for _, ch := range subs {
		targets = append(targets, ch)
	}

	// Sends happen under the read lock so Unsubscribe cannot close a channel mid-send
	for _, ch := range targets {
		select {
		case ch <- summary:
		default:
			b.logger.Debug("dropped event for slow subscriber", "uid", uid, "slot_id", summary.SlotID)
		}
	}
	b.mu.RUnlock()
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(uid, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[uid]
	if !ok {
		return
	}

	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)

	if len(subs) == 0 {
		delete(b.subscribers, uid)
	}

	b.logger.Debug("subscriber removed", "uid", uid, "sub_id", subID)
}

// Close shuts down the broadcaster and closes all subscriber channels.
// It is safe to call more than once.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for uid, subs := range b.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.subscribers, uid)
	}

	b.logger.Debug("broadcaster closed")
}
