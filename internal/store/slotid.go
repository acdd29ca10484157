// ABOUTME: SlotID decodes a slot identifier sent as either a JSON string or a JSON number
// ABOUTME: Clients that number their slots (slotId: 1) and those that use UUIDs share one key space

package store

import (
	"bytes"
	"encoding/json"
	"errors"
)

// SlotID is a slot identifier as it arrives in a request body. Numbers are
// kept in their literal form, so 1 and "1" name the same slot.
type SlotID string

// ErrInvalidSlotID is returned when slotId is neither a string nor a number.
var ErrInvalidSlotID = errors.New("slotId must be a string or a number")

// UnmarshalJSON accepts a JSON string, a JSON number or null.
func (s *SlotID) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return err
	}

	switch t := v.(type) {
	case nil:
		*s = ""
	case string:
		*s = SlotID(t)
	case json.Number:
		*s = SlotID(t.String())
	default:
		return ErrInvalidSlotID
	}
	return nil
}

// String returns the identifier in its stored form.
func (s SlotID) String() string {
	return string(s)
}
