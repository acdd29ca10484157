// ABOUTME: Browser chat page: slot sidebar, message log and input form
// ABOUTME: Renders the log server-side (Markdown for bot text) and streams slot changes

package webui

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	"github.com/yuin/goldmark"

	"github.com/2389/slotchat/internal/auth"
	"github.com/2389/slotchat/internal/conversation"
	"github.com/2389/slotchat/internal/llm"
	"github.com/2389/slotchat/internal/store"
)

// turnErrorMarker is shown in place of a reply when a turn fails
const turnErrorMarker = "❌ Error fetching/saving conversation."

// keepaliveInterval spaces comment lines on idle event streams
const keepaliveInterval = 25 * time.Second

// Service is what the page needs from the conversation layer
type Service interface {
	Turn(ctx context.Context, uid, slotID, query string) (*store.Conversation, error)
	GetConversation(ctx context.Context, uid, slotID string) (*store.Conversation, error)
}

// Config holds the dependencies for New
type Config struct {
	Service     Service
	Broadcaster *conversation.Broadcaster // optional; /ui/events is not registered without it
	Title       string
	AuthEnabled bool
	Logger      *slog.Logger
}

// UI serves the chat page and its partials
type UI struct {
	service     Service
	broadcaster *conversation.Broadcaster
	title       string
	authEnabled bool
	templates   *template.Template
	logger      *slog.Logger
}

// New creates the chat page handlers. If cfg.Logger is nil, slog.Default() is used.
func New(cfg Config) *UI {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &UI{
		service:     cfg.Service,
		broadcaster: cfg.Broadcaster,
		title:       cfg.Title,
		authEnabled: cfg.AuthEnabled,
		templates:   template.Must(template.ParseFS(templateFS, "templates/*.html")),
		logger:      logger.With("component", "webui"),
	}
}

// RegisterRoutes adds the page routes to mux. The page and its assets are
// public; the data partials are wrapped with protect.
func (u *UI) RegisterRoutes(mux *http.ServeMux, protect func(http.Handler) http.Handler) {
	static, _ := fs.Sub(staticFS, "static")

	mux.HandleFunc("GET /{$}", u.handleIndex)
	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServerFS(static)))

	mux.Handle("GET /ui/messages", protect(http.HandlerFunc(u.handleMessages)))
	mux.Handle("POST /ui/turn", protect(http.HandlerFunc(u.handleTurn)))
	if u.broadcaster != nil {
		mux.Handle("GET /ui/events", protect(http.HandlerFunc(u.handleEvents)))
	}
}

// messageView is one rendered log entry
type messageView struct {
	Sender string
	Text   string
	HTML   template.HTML // bot messages only
	Error  bool
}

type logData struct {
	SlotID   string
	Messages []messageView
}

func (u *UI) handleIndex(w http.ResponseWriter, r *http.Request) {
	data := struct {
		Title       string
		AuthEnabled bool
		ErrorMarker string
	}{
		Title:       u.title,
		AuthEnabled: u.authEnabled,
		ErrorMarker: turnErrorMarker,
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := u.templates.ExecuteTemplate(w, "index.html", data); err != nil {
		u.logger.Error("failed to render chat page", "error", err)
	}
}

// handleMessages handles GET /ui/messages?uid=&slotId= and returns the log partial.
// An unwritten slot renders as an empty log.
func (u *UI) handleMessages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	uid, err := auth.ResolveUID(r.Context(), q.Get("uid"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}
	slotID := q.Get("slotId")

	conv, err := u.service.GetConversation(r.Context(), uid, slotID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		conv = &store.Conversation{SlotID: slotID}
	case errors.Is(err, store.ErrValidation):
		http.Error(w, "Missing fields", http.StatusBadRequest)
		return
	case err != nil:
		u.logger.Error("failed to load conversation", "uid", uid, "slot_id", slotID, "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	u.renderLog(w, http.StatusOK, logData{SlotID: slotID, Messages: u.messageViews(conv.Messages)})
}

// turnRequest is the JSON body of POST /ui/turn
type turnRequest struct {
	UID     string       `json:"uid"`
	SlotID  store.SlotID `json:"slotId"`
	Message string       `json:"message"`
}

// handleTurn handles POST /ui/turn. On success it returns the refreshed log.
// On failure it returns the stored log plus the user's message and an error
// marker, with an error status, so the message is never silently dropped.
func (u *UI) handleTurn(w http.ResponseWriter, r *http.Request) {
	var req turnRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	uid, err := auth.ResolveUID(r.Context(), req.UID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}

	slotID := req.SlotID.String()
	conv, err := u.service.Turn(r.Context(), uid, slotID, req.Message)
	if err == nil {
		u.renderLog(w, http.StatusOK, logData{SlotID: conv.SlotID, Messages: u.messageViews(conv.Messages)})
		return
	}

	u.logger.Warn("turn failed", "uid", uid, "slot_id", slotID, "error", err)

	var views []messageView
	if prior, getErr := u.service.GetConversation(r.Context(), uid, slotID); getErr == nil {
		views = u.messageViews(prior.Messages)
	}
	views = append(views,
		messageView{Sender: string(store.SenderUser), Text: req.Message},
		messageView{Sender: string(store.SenderBot), Text: turnErrorMarker, Error: true},
	)
	u.renderLog(w, turnErrorStatus(err), logData{SlotID: slotID, Messages: views})
}

// turnErrorStatus picks the status for a failed turn
func turnErrorStatus(err error) int {
	switch {
	case errors.Is(err, store.ErrValidation), errors.Is(err, llm.ErrEmptyMessage):
		return http.StatusBadRequest
	case errors.Is(err, llm.ErrUpstream):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// handleEvents handles GET /ui/events, streaming slot summaries for the
// caller's uid as server-sent events until the client disconnects.
func (u *UI) handleEvents(w http.ResponseWriter, r *http.Request) {
	uid, err := auth.ResolveUID(r.Context(), r.URL.Query().Get("uid"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}
	if err := store.ValidateUID(uid); err != nil {
		http.Error(w, "Missing fields", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events, _ := u.broadcaster.Subscribe(r.Context(), uid)
	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepalive.C:
			_, _ = fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case summary, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(summary)
			if err != nil {
				u.logger.Error("failed to marshal slot event", "error", err)
				continue
			}
			_, _ = fmt.Fprintf(w, "event: slot\ndata: %s\n\n", data)
			flusher.Flush()
		}
	}
}

func (u *UI) renderLog(w http.ResponseWriter, status int, data logData) {
	var buf bytes.Buffer
	if err := u.templates.ExecuteTemplate(&buf, "messages.html", data); err != nil {
		u.logger.Error("failed to render message log", "error", err)
		http.Error(w, "render failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

func (u *UI) messageViews(msgs []store.Message) []messageView {
	views := make([]messageView, 0, len(msgs))
	for _, m := range msgs {
		v := messageView{Sender: string(m.Sender), Text: m.Text}
		if m.Sender == store.SenderBot {
			v.HTML = u.renderMarkdown(m.Text)
		}
		views = append(views, v)
	}
	return views
}

// renderMarkdown converts bot text to HTML. Raw HTML in the source is not
// passed through (goldmark's default).
func (u *UI) renderMarkdown(text string) template.HTML {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(text), &buf); err != nil {
		u.logger.Error("failed to convert markdown", "error", err)
		return template.HTML(template.HTMLEscapeString(text))
	}
	return template.HTML(buf.String())
}
