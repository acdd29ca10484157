// ABOUTME: Behavioral tests shared by every Store backend
// ABOUTME: Covers upsert-append, ordering, isolation, validation and concurrent first turns

package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestStore creates a SQLite store in a temp directory
func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// backends returns a constructor per backend available in this environment
func backends() map[string]func(t *testing.T) Store {
	b := map[string]func(t *testing.T) Store{
		"sqlite": func(t *testing.T) Store { return newTestStore(t) },
		"mock":   func(t *testing.T) Store { return NewMockStore() },
	}
	if url := os.Getenv("SLOTCHAT_TEST_MONGO_URL"); url != "" {
		b["mongo"] = func(t *testing.T) Store {
			ctx := context.Background()
			s, err := NewMongoStore(ctx, url, fmt.Sprintf("slotchat_test_%d", time.Now().UnixNano()))
			require.NoError(t, err)
			t.Cleanup(func() {
				_ = s.coll.Database().Drop(ctx)
				s.Close()
			})
			return s
		}
	}
	if url := os.Getenv("SLOTCHAT_TEST_POSTGRES_URL"); url != "" {
		b["postgres"] = func(t *testing.T) Store {
			ctx := context.Background()
			s, err := NewPostgresStore(ctx, url)
			require.NoError(t, err)
			_, err = s.pool.Exec(ctx, "TRUNCATE conversations")
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		}
	}
	return b
}

func forEachBackend(t *testing.T, fn func(t *testing.T, s Store)) {
	for name, newStore := range backends() {
		t.Run(name, func(t *testing.T) {
			fn(t, newStore(t))
		})
	}
}

func TestAppendTurn_CreatesConversation(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		conv, err := s.AppendTurn(ctx, "u1", "s1", "hi", "hello")
		require.NoError(t, err)

		assert.NotEmpty(t, conv.ID)
		assert.Equal(t, "u1", conv.UID)
		assert.Equal(t, "s1", conv.SlotID)
		require.Len(t, conv.Messages, 2)
		assert.Equal(t, SenderUser, conv.Messages[0].Sender)
		assert.Equal(t, "hi", conv.Messages[0].Text)
		assert.Equal(t, SenderBot, conv.Messages[1].Sender)
		assert.Equal(t, "hello", conv.Messages[1].Text)
		assert.False(t, conv.UpdatedAt.Before(conv.CreatedAt))
	})
}

func TestAppendTurn_AppendsToExisting(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		first, err := s.AppendTurn(ctx, "u1", "s1", "hi", "hello")
		require.NoError(t, err)

		second, err := s.AppendTurn(ctx, "u1", "s1", "again", "welcome back")
		require.NoError(t, err)

		assert.Equal(t, first.ID, second.ID)
		assert.True(t, first.CreatedAt.Equal(second.CreatedAt), "createdAt must not change")
		assert.False(t, second.UpdatedAt.Before(first.UpdatedAt), "updatedAt must not go backwards")

		require.Len(t, second.Messages, 4)
		texts := make([]string, len(second.Messages))
		for i, m := range second.Messages {
			texts[i] = m.Text
		}
		assert.Equal(t, []string{"hi", "hello", "again", "welcome back"}, texts)

		got, err := s.GetConversation(ctx, "u1", "s1")
		require.NoError(t, err)
		assert.Len(t, got.Messages, 4)
	})
}

func TestAppendTurn_Validation(t *testing.T) {
	cases := []struct {
		name                         string
		uid, slotID, userText, reply string
		field                        string
	}{
		{"missing uid", "", "s1", "hi", "hello", "uid"},
		{"missing slot", "u1", "", "hi", "hello", "slotId"},
		{"blank user message", "u1", "s1", "   ", "hello", "userMessage"},
		{"missing bot message", "u1", "s1", "hi", "", "botMessage"},
	}

	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				_, err := s.AppendTurn(ctx, tc.uid, tc.slotID, tc.userText, tc.reply)
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrValidation)

				var verr *ValidationError
				require.True(t, errors.As(err, &verr))
				assert.Contains(t, verr.Fields, tc.field)
			})
		}

		// Nothing was written
		_, err := s.GetConversation(ctx, "u1", "s1")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestListSlots_Empty(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		slots, err := s.ListSlots(context.Background(), "nobody")
		require.NoError(t, err)
		assert.NotNil(t, slots)
		assert.Empty(t, slots)
	})
}

func TestListSlots_NewestFirst(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		var created []string
		for i := 0; i < 3; i++ {
			conv, err := s.CreateSlot(ctx, "u1", fmt.Sprintf("slot %d", i))
			require.NoError(t, err)
			created = append(created, conv.SlotID)
			time.Sleep(2 * time.Millisecond)
		}

		// Appending to the oldest slot must not reorder the listing
		_, err := s.AppendTurn(ctx, "u1", created[0], "hi", "hello")
		require.NoError(t, err)

		slots, err := s.ListSlots(ctx, "u1")
		require.NoError(t, err)
		require.Len(t, slots, 3)
		assert.Equal(t, created[2], slots[0].SlotID)
		assert.Equal(t, created[1], slots[1].SlotID)
		assert.Equal(t, created[0], slots[2].SlotID)
		assert.Equal(t, 2, slots[2].MessageCount)
		assert.Equal(t, 0, slots[0].MessageCount)
		assert.Equal(t, "slot 2", slots[0].Name)
	})
}

func TestSlotsAreIsolatedByUser(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		_, err := s.AppendTurn(ctx, "alice", "shared", "a", "b")
		require.NoError(t, err)
		_, err = s.AppendTurn(ctx, "bob", "shared", "c", "d")
		require.NoError(t, err)

		alice, err := s.GetConversation(ctx, "alice", "shared")
		require.NoError(t, err)
		bob, err := s.GetConversation(ctx, "bob", "shared")
		require.NoError(t, err)

		assert.NotEqual(t, alice.ID, bob.ID)
		assert.Equal(t, "a", alice.Messages[0].Text)
		assert.Equal(t, "c", bob.Messages[0].Text)

		slots, err := s.ListSlots(ctx, "alice")
		require.NoError(t, err)
		assert.Len(t, slots, 1)
	})
}

func TestGetConversation_NotFound(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		_, err := s.GetConversation(context.Background(), "u1", "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestCreateSlot(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		conv, err := s.CreateSlot(ctx, "u1", "  Trip planning ")
		require.NoError(t, err)
		assert.NotEmpty(t, conv.SlotID)
		assert.Equal(t, "Trip planning", conv.Name)
		assert.NotNil(t, conv.Messages)
		assert.Empty(t, conv.Messages)

		got, err := s.GetConversation(ctx, "u1", conv.SlotID)
		require.NoError(t, err)
		assert.Equal(t, conv.ID, got.ID)
		assert.Empty(t, got.Messages)

		updated, err := s.AppendTurn(ctx, "u1", conv.SlotID, "hi", "hello")
		require.NoError(t, err)
		assert.Equal(t, conv.ID, updated.ID)
		assert.Equal(t, "Trip planning", updated.Name)
		assert.Len(t, updated.Messages, 2)

		_, err = s.CreateSlot(ctx, "", "x")
		assert.ErrorIs(t, err, ErrValidation)
	})
}

func TestRenameSlot(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		_, err := s.AppendTurn(ctx, "u1", "s1", "hi", "hello")
		require.NoError(t, err)

		conv, err := s.RenameSlot(ctx, "u1", "s1", "Greetings")
		require.NoError(t, err)
		assert.Equal(t, "Greetings", conv.Name)
		assert.Len(t, conv.Messages, 2)

		_, err = s.RenameSlot(ctx, "u1", "nope", "x")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestAppendTurn_ConcurrentFirstTurns(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		const writers = 10

		var wg sync.WaitGroup
		errs := make(chan error, writers)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := s.AppendTurn(ctx, "u1", "race", fmt.Sprintf("q%d", i), fmt.Sprintf("a%d", i))
				errs <- err
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		slots, err := s.ListSlots(ctx, "u1")
		require.NoError(t, err)
		require.Len(t, slots, 1, "concurrent first turns must produce one conversation")

		conv, err := s.GetConversation(ctx, "u1", "race")
		require.NoError(t, err)
		require.Len(t, conv.Messages, 2*writers)

		seen := make(map[string]bool)
		for i := 0; i < len(conv.Messages); i += 2 {
			user, bot := conv.Messages[i], conv.Messages[i+1]
			require.Equal(t, SenderUser, user.Sender)
			require.Equal(t, SenderBot, bot.Sender)
			// Each pair stays contiguous: q<n> is followed by a<n>
			assert.Equal(t, "a"+user.Text[1:], bot.Text)
			seen[user.Text] = true
		}
		assert.Len(t, seen, writers)
	})
}

func TestMockStore_InjectedFailure(t *testing.T) {
	ctx := context.Background()
	s := NewMockStore()

	_, err := s.AppendTurn(ctx, "u1", "s1", "hi", "hello")
	require.NoError(t, err)

	s.SetError(errors.New("connection refused"))

	_, err = s.AppendTurn(ctx, "u1", "s1", "lost", "reply")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, s.Ping(ctx), ErrUnavailable)

	_, err = s.ListSlots(ctx, "u1")
	assert.ErrorIs(t, err, ErrUnavailable)

	s.SetError(nil)

	conv, err := s.GetConversation(ctx, "u1", "s1")
	require.NoError(t, err)
	assert.Len(t, conv.Messages, 2, "failed append must not write")
}

func TestMockStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMockStore()

	conv, err := s.AppendTurn(ctx, "u1", "s1", "hi", "hello")
	require.NoError(t, err)
	conv.Messages[0].Text = "tampered"

	got, err := s.GetConversation(ctx, "u1", "s1")
	require.NoError(t, err)
	assert.Equal(t, "hi", got.Messages[0].Text)
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Options{Driver: "cassandra"})
	assert.Error(t, err)
}
