// ABOUTME: HTTP JSON API for conversation slots and the model proxy
// ABOUTME: Maps service errors to status codes and replays Idempotency-Key requests

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/2389/slotchat/internal/auth"
	"github.com/2389/slotchat/internal/idempotency"
	"github.com/2389/slotchat/internal/llm"
	"github.com/2389/slotchat/internal/store"
)

// maxBodyBytes caps request bodies on every JSON endpoint
const maxBodyBytes = 1 << 20

// ConversationPostRequest is the JSON request body for POST /api/conversation_post.
type ConversationPostRequest struct {
	UID         string       `json:"uid"`
	SlotID      store.SlotID `json:"slotId"`
	UserMessage string       `json:"userMessage"`
	BotMessage  string       `json:"botMessage"`
}

// ConversationNewRequest is the JSON request body for POST /api/conversation_new.
type ConversationNewRequest struct {
	UID  string `json:"uid"`
	Name string `json:"name,omitempty"`
}

// ConversationRenameRequest is the JSON request body for POST /api/conversation_rename.
type ConversationRenameRequest struct {
	UID    string       `json:"uid"`
	SlotID store.SlotID `json:"slotId"`
	Name   string       `json:"name"`
}

// TurnRequest is the JSON request body for POST /api/turn.
type TurnRequest struct {
	UID     string       `json:"uid"`
	SlotID  store.SlotID `json:"slotId"`
	Message string       `json:"message"`
}

// QueryRequest is the JSON request body for POST /api/groq.
type QueryRequest struct {
	Message string `json:"message"`
}

// QueryResponse is the JSON response for POST /api/groq.
type QueryResponse struct {
	Reply string `json:"reply"`
}

// handleConversationPost handles POST /api/conversation_post.
// It appends a (user, bot) pair produced by the client, creating the slot if needed.
func (g *Gateway) handleConversationPost(w http.ResponseWriter, r *http.Request) {
	if !g.allowMethod(w, r, http.MethodPost) {
		return
	}

	var req ConversationPostRequest
	if err := decodeJSON(w, r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	uid, err := auth.ResolveUID(r.Context(), req.UID)
	if err != nil {
		g.writeServiceError(w, err)
		return
	}

	g.withIdempotency(w, r, uid, func() (any, error) {
		return g.conversation.AppendTurn(r.Context(), uid, req.SlotID.String(), req.UserMessage, req.BotMessage)
	})
}

// handleConversationList handles GET /api/conversation_list?uid=.
func (g *Gateway) handleConversationList(w http.ResponseWriter, r *http.Request) {
	if !g.allowMethod(w, r, http.MethodGet) {
		return
	}

	uid, err := auth.ResolveUID(r.Context(), r.URL.Query().Get("uid"))
	if err != nil {
		g.writeServiceError(w, err)
		return
	}

	slots, err := g.conversation.ListSlots(r.Context(), uid)
	if err != nil {
		g.writeServiceError(w, err)
		return
	}
	g.sendJSON(w, http.StatusOK, slots)
}

// handleConversationGet handles GET /api/conversation_get?uid=&slotId=.
func (g *Gateway) handleConversationGet(w http.ResponseWriter, r *http.Request) {
	if !g.allowMethod(w, r, http.MethodGet) {
		return
	}

	q := r.URL.Query()
	uid, err := auth.ResolveUID(r.Context(), q.Get("uid"))
	if err != nil {
		g.writeServiceError(w, err)
		return
	}

	conv, err := g.conversation.GetConversation(r.Context(), uid, q.Get("slotId"))
	if err != nil {
		g.writeServiceError(w, err)
		return
	}
	g.sendJSON(w, http.StatusOK, conv)
}

// handleConversationNew handles POST /api/conversation_new.
func (g *Gateway) handleConversationNew(w http.ResponseWriter, r *http.Request) {
	if !g.allowMethod(w, r, http.MethodPost) {
		return
	}

	var req ConversationNewRequest
	if err := decodeJSON(w, r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	uid, err := auth.ResolveUID(r.Context(), req.UID)
	if err != nil {
		g.writeServiceError(w, err)
		return
	}

	conv, err := g.conversation.CreateSlot(r.Context(), uid, req.Name)
	if err != nil {
		g.writeServiceError(w, err)
		return
	}
	g.sendJSON(w, http.StatusOK, conv)
}

// handleConversationRename handles POST /api/conversation_rename.
func (g *Gateway) handleConversationRename(w http.ResponseWriter, r *http.Request) {
	if !g.allowMethod(w, r, http.MethodPost) {
		return
	}

	var req ConversationRenameRequest
	if err := decodeJSON(w, r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	uid, err := auth.ResolveUID(r.Context(), req.UID)
	if err != nil {
		g.writeServiceError(w, err)
		return
	}

	conv, err := g.conversation.RenameSlot(r.Context(), uid, req.SlotID.String(), req.Name)
	if err != nil {
		g.writeServiceError(w, err)
		return
	}
	g.sendJSON(w, http.StatusOK, conv)
}

// handleGroq handles POST /api/groq: one message in, one reply out, nothing stored.
func (g *Gateway) handleGroq(w http.ResponseWriter, r *http.Request) {
	if !g.allowMethod(w, r, http.MethodPost) {
		return
	}

	var req QueryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	reply, err := g.conversation.Query(r.Context(), req.Message)
	if err != nil {
		g.writeServiceError(w, err)
		return
	}
	g.sendJSON(w, http.StatusOK, QueryResponse{Reply: reply})
}

// handleTurn handles POST /api/turn: query the model, then record the pair.
func (g *Gateway) handleTurn(w http.ResponseWriter, r *http.Request) {
	if !g.allowMethod(w, r, http.MethodPost) {
		return
	}

	var req TurnRequest
	if err := decodeJSON(w, r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	uid, err := auth.ResolveUID(r.Context(), req.UID)
	if err != nil {
		g.writeServiceError(w, err)
		return
	}

	g.withIdempotency(w, r, uid, func() (any, error) {
		return g.conversation.Turn(r.Context(), uid, req.SlotID.String(), req.Message)
	})
}

// withIdempotency runs do and writes its result as JSON. When the request
// carries an Idempotency-Key header, a completed response for the same key is
// replayed instead of running do again.
func (g *Gateway) withIdempotency(w http.ResponseWriter, r *http.Request, uid string, do func() (any, error)) {
	clientKey := r.Header.Get("Idempotency-Key")
	if clientKey == "" {
		result, err := do()
		if err != nil {
			g.writeServiceError(w, err)
			return
		}
		g.sendJSON(w, http.StatusOK, result)
		return
	}

	ctx := r.Context()
	key := idempotency.Key(uid, r.URL.Path, clientKey)
	// Settled even after the client disconnects
	settleCtx := context.WithoutCancel(ctx)

	recorded, err := g.idempotency.Begin(ctx, key)
	if err != nil {
		if !errors.Is(err, idempotency.ErrInFlight) {
			g.logger.Error("idempotency lookup failed", "path", r.URL.Path, "error", err)
		}
		g.writeServiceError(w, err)
		return
	}
	if recorded != nil {
		g.logger.Debug("replaying idempotent response", "uid", uid, "path", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Idempotent-Replayed", "true")
		w.WriteHeader(recorded.Status)
		_, _ = w.Write(recorded.Body)
		return
	}

	result, err := do()
	if err != nil {
		if relErr := g.idempotency.Release(settleCtx, key); relErr != nil {
			g.logger.Warn("failed to release idempotency key", "error", relErr)
		}
		g.writeServiceError(w, err)
		return
	}

	body, err := json.Marshal(result)
	if err != nil {
		_ = g.idempotency.Release(settleCtx, key)
		g.sendJSONError(w, http.StatusInternalServerError, "encoding response")
		return
	}
	if err := g.idempotency.Complete(settleCtx, key, idempotency.Response{Status: http.StatusOK, Body: body}); err != nil {
		g.logger.Warn("failed to record idempotent response", "error", err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// writeServiceError maps a service error to its HTTP status.
func (g *Gateway) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrValidation), errors.Is(err, llm.ErrEmptyMessage):
		g.sendJSONError(w, http.StatusBadRequest, "Missing fields")
	case errors.Is(err, auth.ErrUIDMismatch):
		g.sendJSONError(w, http.StatusForbidden, auth.ErrUIDMismatch.Error())
	case errors.Is(err, store.ErrNotFound):
		g.sendJSONError(w, http.StatusNotFound, "not found")
	case errors.Is(err, idempotency.ErrInFlight):
		g.sendJSONError(w, http.StatusConflict, err.Error())
	case errors.Is(err, llm.ErrUpstream):
		g.sendJSONError(w, http.StatusBadGateway, err.Error())
	default:
		g.logger.Error("request failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, err.Error())
	}
}

// allowMethod writes 405 and returns false when r.Method is not method.
func (g *Gateway) allowMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	g.sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	return false
}

// decodeJSON decodes a size-limited JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		return errors.New("invalid JSON body")
	}
	return nil
}

// sendJSON writes v as a JSON response.
func (g *Gateway) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Error("failed to encode response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
