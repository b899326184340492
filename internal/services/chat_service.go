package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"social-chat/internal/models"
	"social-chat/internal/presence"
	"social-chat/internal/router"
	"social-chat/pkg/logger"
)

const (
	StatusDelivered = "delivered"
	StatusQueued    = "queued"
	StatusBroadcast = "broadcast"
)

// SendResult is what a sender learns about its message. Saved is false when
// the history store rejected the write; delivery may still have happened.
type SendResult struct {
	Message   *models.Message `json:"message"`
	Status    string          `json:"status"`
	Delivered int             `json:"delivered"`
	Saved     bool            `json:"saved"`
}

// PresenceView is the current set of connected users.
type PresenceView struct {
	Users     []string `json:"users"`
	UserCount int      `json:"user_count"`
}

// ChatService is the entry point shared by the HTTP and websocket surfaces.
type ChatService struct {
	router   *router.Router
	registry *presence.Registry
	history  int
}

func NewChatService(r *router.Router, registry *presence.Registry, historyOnConnect int) *ChatService {
	return &ChatService{
		router:   r,
		registry: registry,
		history:  historyOnConnect,
	}
}

// Connect makes session the live session of its user and replays recent
// public history to it. Messages that land between the two may arrive twice;
// clients dedupe on message ID.
func (s *ChatService) Connect(ctx context.Context, session presence.Session) error {
	if err := s.registry.Register(session); err != nil {
		return err
	}

	messages, err := s.router.History(ctx, session.UserID(), "", time.Time{}, s.history)
	if err != nil {
		logger.Error("Error loading recent messages", "user_id", session.UserID(), "error", err)
		return nil
	}

	data, err := json.Marshal(models.Event{
		Type:      models.EventHistory,
		Messages:  messages,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("failed to encode history: %w", err)
	}
	if err := session.Send(data); err != nil {
		logger.Warn("History not pushed", "user_id", session.UserID(), "session_id", session.ID(), "error", err)
	}
	return nil
}

// Disconnect drops sessionID if it is still current. A superseded session
// leaves its replacement untouched.
func (s *ChatService) Disconnect(sessionID string) bool {
	return s.registry.Unregister(sessionID)
}

func (s *ChatService) Presence() PresenceView {
	users := s.registry.ListUserIDs()
	return PresenceView{Users: users, UserCount: len(users)}
}

// Send routes intent privately when it names a recipient and to everyone
// otherwise. A storage failure is returned together with a usable result.
func (s *ChatService) Send(ctx context.Context, intent models.MessageIntent) (*SendResult, error) {
	if intent.Timestamp.IsZero() {
		intent.Timestamp = time.Now()
	}

	if intent.IsPublic() {
		msg, count, err := s.router.Publish(ctx, intent)
		if msg == nil {
			return nil, err
		}
		return &SendResult{
			Message:   msg,
			Status:    StatusBroadcast,
			Delivered: int(count),
			Saved:     err == nil,
		}, err
	}

	delivery, err := s.router.RoutePrivate(ctx, intent)
	if delivery.Message == nil {
		return nil, err
	}
	result := &SendResult{
		Message: delivery.Message,
		Status:  StatusQueued,
		Saved:   err == nil,
	}
	if delivery.Status == router.Delivered {
		result.Status = StatusDelivered
		result.Delivered = 1
	}
	return result, err
}

func (s *ChatService) React(ctx context.Context, userID, messageID, emoji string) (map[string]string, error) {
	reactions, _, err := s.router.React(ctx, userID, messageID, emoji)
	return reactions, err
}

func (s *ChatService) Edit(ctx context.Context, userID, messageID, content string) (*models.Message, error) {
	msg, _, err := s.router.Edit(ctx, userID, messageID, content)
	return msg, err
}

func (s *ChatService) Delete(ctx context.Context, userID, messageID string) error {
	_, err := s.router.Delete(ctx, userID, messageID)
	return err
}

// History replays the conversation between userID and withUserID, or the
// public channel when withUserID is empty.
func (s *ChatService) History(ctx context.Context, userID, withUserID string, since time.Time, limit int) ([]*models.Message, error) {
	return s.router.History(ctx, userID, withUserID, since, limit)
}
