package handlers

import (
	"net/http"

	"social-chat/internal/auth"
)

func SetupRoutes(mux *http.ServeMux, authService *auth.Service, authHandlers *AuthHandlers, messageHandlers *MessageHandlers, wsHandlers *WebSocketHandlers) {
	// Auth routes
	mux.HandleFunc("POST /api/auth/register", authHandlers.Register)
	mux.HandleFunc("POST /api/auth/login", authHandlers.Login)

	// Presence and history
	mux.HandleFunc("GET /api/presence", RequireAuth(authService, messageHandlers.Presence))
	mux.HandleFunc("GET /api/messages", RequireAuth(authService, messageHandlers.ListMessages))
	mux.HandleFunc("POST /api/messages", RequireAuth(authService, messageHandlers.SendMessage))
	mux.HandleFunc("POST /api/messages/{id}/reaction", RequireAuth(authService, messageHandlers.React))
	mux.HandleFunc("PATCH /api/messages/{id}", RequireAuth(authService, messageHandlers.Edit))
	mux.HandleFunc("DELETE /api/messages/{id}", RequireAuth(authService, messageHandlers.Delete))

	// WebSocket route
	mux.HandleFunc("GET /ws", wsHandlers.HandleWebSocket)
}

// Endpoints lists the routes SetupRoutes installs, for the startup banner.
var Endpoints = []string{
	"POST   /api/auth/register",
	"POST   /api/auth/login",
	"GET    /api/presence",
	"GET    /api/messages",
	"POST   /api/messages",
	"POST   /api/messages/{id}/reaction",
	"PATCH  /api/messages/{id}",
	"DELETE /api/messages/{id}",
	"GET    /ws",
}
