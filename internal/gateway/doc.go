// Package gateway wires slotchat's components and serves them over HTTP.
//
// # Architecture
//
//	┌──────────────────────────────────────────────┐
//	│                   Gateway                    │
//	│  ┌────────────┐  ┌───────────┐  ┌─────────┐  │
//	│  │ JSON API   │  │  webui    │  │ health  │  │
//	│  └─────┬──────┘  └─────┬─────┘  └────┬────┘  │
//	│        └──────┬────────┘             │       │
//	│        ┌──────▼───────┐         ┌────▼────┐  │
//	│        │ conversation │────────▶│  store  │  │
//	│        │   Service    │         └─────────┘  │
//	│        └──────┬───────┘                      │
//	│        ┌──────▼───────┐                      │
//	│        │  llm.Proxy   │──▶ OpenAI-compatible │
//	│        └──────────────┘    chat API (Groq)   │
//	└──────────────────────────────────────────────┘
//
// # HTTP API
//
//	POST /api/conversation_post    append a client-produced (user, bot) pair
//	GET  /api/conversation_list    ?uid=  slot summaries, newest first
//	GET  /api/conversation_get     ?uid=&slotId=  full conversation
//	POST /api/conversation_new     create an empty slot
//	POST /api/conversation_rename  set a slot's display name
//	POST /api/groq                 {message} -> {reply}, nothing stored
//	POST /api/turn                 query the model and record the pair
//	GET  /health                   liveness
//	GET  /health/ready             store ping
//
// Errors are JSON {"error": "..."}: 400 for missing fields or bad JSON, 403
// when the uid differs from the token subject, 404 for unknown slots, 405 for
// the wrong method, 409 for an Idempotency-Key still in flight, 502 when the
// model fails, 500 otherwise.
//
// # Authentication
//
// With auth.jwt_secret (HS256) or auth.public_key_file (RS256) set, /api and
// /ui routes require a bearer token whose subject is the uid. Without auth the
// uid in each request is trusted.
//
// # Listeners
//
// HTTP on server.http_addr, plus an optional grpc.health.v1 server on
// server.grpc_addr. With tailscale.enabled both move onto the tailnet (HTTP
// :80 or HTTPS :443, gRPC :50051).
package gateway
