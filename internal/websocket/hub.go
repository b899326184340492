package websocket

import (
	"context"
	"errors"
	"sync"
	"time"

	"social-chat/internal/config"
	"social-chat/internal/services"
	"social-chat/pkg/logger"

	"github.com/gorilla/websocket"
)

var ErrHubClosed = errors.New("websocket hub closed")

// Hub owns the pumps of every open connection so they can be drained at
// shutdown. Who is reachable is the presence registry's business, not the hub's.
type Hub struct {
	chat   *services.ChatService
	cfg    config.WebSocketConfig
	limits config.RateLimitConfig

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	clients map[*Client]struct{}
	closed  bool
	wg      sync.WaitGroup
}

func NewHub(chat *services.ChatService, cfg config.WebSocketConfig, limits config.RateLimitConfig) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		chat:    chat,
		cfg:     cfg,
		limits:  limits,
		ctx:     ctx,
		cancel:  cancel,
		clients: make(map[*Client]struct{}),
	}
}

// Serve takes over conn for userID: the connection becomes the user's live
// session and its pumps run until either side closes it.
func (h *Hub) Serve(conn *websocket.Conn, userID string) error {
	client := NewClient(h, conn, userID)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return ErrHubClosed
	}
	h.clients[client] = struct{}{}
	h.wg.Add(2)
	h.mu.Unlock()

	go func() {
		defer h.wg.Done()
		client.WritePump()
	}()

	if err := h.chat.Connect(h.ctx, client); err != nil {
		client.LocalSession.Close()
		conn.Close()
		h.remove(client)
		h.wg.Done()
		return err
	}
	logger.Info("User connected", "user_id", userID, "session_id", client.ID())

	go func() {
		defer h.wg.Done()
		client.ReadPump(h.ctx)
		logger.Info("User disconnected", "user_id", userID, "session_id", client.ID())
	}()
	return nil
}

func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Shutdown refuses new connections, asks every open one to close and waits
// for their pumps to finish or ctx to expire.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.Unlock()

	h.cancel()
	deadline := time.Now().Add(h.cfg.WriteWait)
	for _, client := range clients {
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
		if err := client.conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
			logger.Debug("Close frame not sent", "session_id", client.ID(), "error", err)
		}
		client.conn.Close()
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("WebSocket hub drained", "connections", len(clients))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, client)
}
