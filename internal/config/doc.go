// Package config handles configuration loading for slotchat.
//
// # Configuration File
//
// YAML by default; a path ending in .toml is decoded as TOML instead. The CLI
// looks for the file in this order:
//
//  1. Path from SLOTCHAT_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/slotchat/slotchat.yaml
//  3. ~/.config/slotchat/slotchat.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	llm:
//	  api_key: "${GROQ_API_KEY}"
//
// Unset variables expand to the empty string.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	llm:
//	  timeout: "60s"
//	idempotency:
//	  ttl: "24h"
//
// # Configuration Sections
//
//	server:
//	  http_addr: "127.0.0.1:8080"  # JSON API and chat page
//	  grpc_addr: ""                # optional grpc.health.v1 listener
//
//	database:
//	  driver: sqlite               # sqlite | mongo | postgres
//	  path: "~/.local/share/slotchat/slotchat.db"
//	  url: ""                      # mongo/postgres connection URL
//	  name: slotchat               # mongo database
//
//	auth:
//	  jwt_secret: "${SLOTCHAT_JWT_SECRET}"   # HS256, or:
//	  public_key_file: ""                    # RS256 identity provider key
//	  issuer: ""
//	  audience: ""
//
//	llm:
//	  base_url: "https://api.groq.com/openai/v1"
//	  api_key: "${GROQ_API_KEY}"
//	  model: "llama-3.1-8b-instant"
//	  system_prompt: ""
//	  max_tokens: 0
//	  temperature: 0
//	  timeout: "60s"
//
//	idempotency:
//	  backend: memory              # memory | redis
//	  ttl: "24h"
//	  max_entries: 10000
//	  redis_addr: ""
//
//	logging:
//	  level: info                  # debug | info | warn | error
//	  format: text                 # text | json
//
//	webui:
//	  enabled: true
//	  title: slotchat
//
// Tailscale (tsnet) replaces server.http_addr when enabled:
//
//	tailscale:
//	  enabled: true
//	  hostname: slotchat
//	  auth_key: "${TS_AUTHKEY}"
//	  https: true                  # :443 with tailnet certificates
//	  funnel: false                # public HTTPS via Funnel
package config
