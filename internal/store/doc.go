// Package store provides persistent storage for slotchat conversations.
//
// # Architecture
//
// A single Store interface is implemented by three backends and one test double:
//
//   - SQLiteStore: default, modernc.org/sqlite, one file on disk
//   - MongoStore: one document per conversation, messages embedded
//   - PostgresStore: one row per conversation, messages in a JSONB array
//   - MockStore: in-memory, with SetError for failure injection
//
// Open picks a backend from a driver name.
//
// # Data Model
//
// A Conversation is identified by (UID, SlotID), which is unique per backend.
// Its Messages log only grows, and only through AppendTurn, which always adds a
// user message immediately followed by the bot reply. UpdatedAt never moves
// backwards.
//
// # Atomicity
//
// AppendTurn is a locate-or-create-and-append with no read-modify-write window:
//
//   - SQLite: BEGIN IMMEDIATE, upsert the conversation row, insert two messages
//   - MongoDB: FindOneAndUpdate with upsert against a unique (uid, slotId) index
//   - PostgreSQL: INSERT ... ON CONFLICT DO UPDATE appending to the JSONB log
//
// Concurrent first turns on the same slot therefore produce one conversation
// holding every pair, each pair contiguous.
//
// # Errors
//
// Backends return ErrNotFound, a *ValidationError (matching ErrValidation), or
// an error wrapping ErrUnavailable. Inputs are validated before any backend
// access, so a validation failure never writes.
package store
