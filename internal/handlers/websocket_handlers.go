package handlers

import (
	"net/http"

	"social-chat/internal/auth"
	ws "social-chat/internal/websocket"
	"social-chat/pkg/logger"

	"github.com/gorilla/websocket"
)

type WebSocketHandlers struct {
	authService *auth.Service
	hub         *ws.Hub
	upgrader    websocket.Upgrader
}

// NewWebSocketHandlers accepts browser connections from origins only; an
// empty list allows any origin.
func NewWebSocketHandlers(authService *auth.Service, hub *ws.Hub, origins []string) *WebSocketHandlers {
	return &WebSocketHandlers{
		authService: authService,
		hub:         hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				// Non-browser clients send no Origin
				return origin == "" || originAllowed(origins, origin)
			},
		},
	}
}

func (h *WebSocketHandlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Browsers cannot set headers on a websocket handshake, so the token rides in the query
	tokenStr := r.URL.Query().Get("token")
	if tokenStr == "" {
		writeError(w, http.StatusUnauthorized, "missing token")
		return
	}

	userID, err := h.authService.UserIDFromToken(r.Context(), tokenStr)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}

	// Upgrade connection to WebSocket
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("Upgrade error", "user_id", userID, "error", err)
		return
	}

	if err := h.hub.Serve(conn, userID); err != nil {
		logger.Warn("Connection refused", "user_id", userID, "error", err)
	}
}
