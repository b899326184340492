package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"social-chat/internal/models"
	"social-chat/internal/router"
	"social-chat/internal/services"
)

type MessageHandlers struct {
	chat *services.ChatService
}

func NewMessageHandlers(chat *services.ChatService) *MessageHandlers {
	return &MessageHandlers{chat: chat}
}

// ListMessages serves GET /api/messages?with=<user>&since=<RFC3339>&limit=<n>.
func (h *MessageHandlers) ListMessages(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	var since time.Time
	if raw := query.Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be an RFC3339 timestamp")
			return
		}
		since = parsed
	}

	limit := 0
	if raw := query.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive number")
			return
		}
		limit = parsed
	}

	messages, err := h.chat.History(r.Context(), userIDFrom(r.Context()), query.Get("with"), since, limit)
	if err != nil {
		writeChatError(w, err)
		return
	}
	if messages == nil {
		messages = []*models.Message{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"messages": messages,
		"count":    len(messages),
	})
}

// SendMessage stores and routes a message. A message that was delivered but
// not saved is answered with 202 and saved=false.
func (h *MessageHandlers) SendMessage(w http.ResponseWriter, r *http.Request) {
	var intent models.MessageIntent
	if err := json.NewDecoder(r.Body).Decode(&intent); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	intent.SenderID = userIDFrom(r.Context())

	result, err := h.chat.Send(r.Context(), intent)
	switch {
	case result == nil:
		writeChatError(w, err)
	case router.IsStorageError(err):
		writeJSON(w, http.StatusAccepted, result)
	default:
		writeJSON(w, http.StatusCreated, result)
	}
}

func (h *MessageHandlers) React(w http.ResponseWriter, r *http.Request) {
	var req models.ReactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	messageID := r.PathValue("id")
	reactions, err := h.chat.React(r.Context(), userIDFrom(r.Context()), messageID, req.Emoji)
	if err != nil {
		writeChatError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message_id": messageID,
		"reactions":  reactions,
	})
}

func (h *MessageHandlers) Edit(w http.ResponseWriter, r *http.Request) {
	var req models.EditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	msg, err := h.chat.Edit(r.Context(), userIDFrom(r.Context()), r.PathValue("id"), req.Content)
	if err != nil {
		writeChatError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, msg)
}

func (h *MessageHandlers) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.chat.Delete(r.Context(), userIDFrom(r.Context()), r.PathValue("id")); err != nil {
		writeChatError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Presence serves the current connected user list.
func (h *MessageHandlers) Presence(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.chat.Presence())
}
