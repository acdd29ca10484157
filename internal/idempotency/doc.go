// Package idempotency lets clients retry write requests safely.
//
// A client that sends an Idempotency-Key header with POST
// /api/conversation_post or /api/turn gets the first response replayed for any
// repeat of that key within the TTL, without a second write. Keys are scoped
// per uid and route with Key.
//
// Two backends:
//
//   - MemoryStore: TTL + size-limited LRU in process memory
//   - RedisStore: SET NX reservations shared across replicas
//
// Failed requests Release their key so the client can retry; only responses
// the gateway chose to Complete are replayed.
package idempotency
