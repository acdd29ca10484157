// Package webui serves the browser chat page.
//
// # Routes
//
//	GET  /              chat page (public)
//	GET  /static/...    embedded JS and CSS (public)
//	GET  /ui/messages   message-log partial for ?slotId=
//	POST /ui/turn       run a turn, return the refreshed log partial
//	GET  /ui/events     server-sent slot summaries for the caller's uid
//
// The /ui routes are wrapped by the gateway's auth middleware when auth is
// configured; the page script then sends the bearer token saved in
// localStorage. Without auth the script generates and keeps its own uid.
//
// Bot messages are rendered from Markdown with goldmark; user messages are
// escaped by html/template. A failed turn still shows the user's message,
// followed by an error marker, and returns an error status.
//
// The sidebar and slot creation/renaming use the JSON API under /api.
package webui
