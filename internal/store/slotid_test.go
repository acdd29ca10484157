// ABOUTME: Tests for SlotID JSON decoding
// ABOUTME: Strings and numbers both decode to the same string key

package store

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlotID_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    SlotID
		wantErr bool
	}{
		{"string", `{"slotId":"abc"}`, "abc", false},
		{"integer", `{"slotId":1}`, "1", false},
		{"large integer", `{"slotId":1712345678901}`, "1712345678901", false},
		{"decimal kept literally", `{"slotId":2.5}`, "2.5", false},
		{"null", `{"slotId":null}`, "", false},
		{"missing", `{}`, "", false},
		{"boolean", `{"slotId":true}`, "", true},
		{"object", `{"slotId":{"id":1}}`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body struct {
				SlotID SlotID `json:"slotId"`
			}
			err := json.Unmarshal([]byte(tt.input), &body)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, body.SlotID)
		})
	}
}

func TestSlotID_NumberAndStringShareSlot(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var fromNumber, fromString SlotID
	require.NoError(t, json.Unmarshal([]byte(`7`), &fromNumber))
	require.NoError(t, json.Unmarshal([]byte(`"7"`), &fromString))

	_, err := s.AppendTurn(ctx, "u1", fromNumber.String(), "a", "b")
	require.NoError(t, err)
	conv, err := s.AppendTurn(ctx, "u1", fromString.String(), "c", "d")
	require.NoError(t, err)

	assert.Len(t, conv.Messages, 4)
}
