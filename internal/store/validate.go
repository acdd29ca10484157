// ABOUTME: Input validation and small helpers shared by every store backend
// ABOUTME: Validation runs before any backend access so bad input never causes a write

package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// field pairs a name with its value for validation
type field struct {
	name  string
	value string
}

// requireFields returns a *ValidationError naming every blank field, or nil
func requireFields(fields ...field) error {
	var missing []string
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return &ValidationError{Fields: missing}
	}
	return nil
}

// ValidateTurn checks the four AppendTurn inputs
func ValidateTurn(uid, slotID, userText, botText string) error {
	return requireFields(
		field{"uid", uid},
		field{"slotId", slotID},
		field{"userMessage", userText},
		field{"botMessage", botText},
	)
}

// ValidateQuery checks the inputs of a server-side turn, before the model is called
func ValidateQuery(uid, slotID, message string) error {
	return requireFields(field{"uid", uid}, field{"slotId", slotID}, field{"message", message})
}

// ValidateSlotKey checks a (uid, slotId) pair
func ValidateSlotKey(uid, slotID string) error {
	return requireFields(field{"uid", uid}, field{"slotId", slotID})
}

// ValidateUID checks a bare uid
func ValidateUID(uid string) error {
	return requireFields(field{"uid", uid})
}

// newSlotID returns a time-ordered slot identifier
func newSlotID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

// newDocumentID returns a random document identifier
func newDocumentID() string {
	return uuid.New().String()
}

// turnMessages builds the user/bot pair appended by AppendTurn
func turnMessages(userText, botText string, now time.Time) []Message {
	return []Message{
		{Sender: SenderUser, Text: userText, TS: now},
		{Sender: SenderBot, Text: botText, TS: now},
	}
}

// laterOf returns whichever time is later, keeping updatedAt monotonic
func laterOf(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}

// unavailable wraps a backend error so callers can match ErrUnavailable
func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}
