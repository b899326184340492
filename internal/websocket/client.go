package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"social-chat/internal/config"
	"social-chat/internal/database"
	"social-chat/internal/models"
	"social-chat/internal/presence"
	"social-chat/internal/router"
	"social-chat/internal/services"
	"social-chat/pkg/logger"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// Client is one websocket connection. Its embedded LocalSession is what the
// presence registry and the router push to; WritePump drains it.
type Client struct {
	*presence.LocalSession

	hub     *Hub
	conn    *websocket.Conn
	chat    *services.ChatService
	limiter *rate.Limiter
	cfg     config.WebSocketConfig
}

func NewClient(hub *Hub, conn *websocket.Conn, userID string) *Client {
	return &Client{
		LocalSession: presence.NewLocalSession(userID, hub.cfg.SendBuffer),
		hub:          hub,
		conn:         conn,
		chat:         hub.chat,
		limiter:      rate.NewLimiter(rate.Every(hub.limits.Interval), hub.limits.Burst),
		cfg:          hub.cfg,
	}
}

func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		// Only removes the registry entry if this connection is still the current one
		c.chat.Disconnect(c.ID())
		c.LocalSession.Close()
		c.conn.Close()
		c.hub.remove(c)
	}()

	c.conn.SetReadLimit(c.cfg.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Error("WebSocket error", "user_id", c.UserID(), "session_id", c.ID(), "error", err)
			}
			return
		}

		if !c.limiter.Allow() {
			c.replyError("rate limit exceeded")
			continue
		}

		var event models.Event
		if err := json.Unmarshal(data, &event); err != nil {
			c.replyError("malformed event")
			continue
		}
		c.handle(ctx, event)
	}
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(c.cfg.PingPeriod())
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.Outbound():
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				logger.Error("Write error", "user_id", c.UserID(), "session_id", c.ID(), "error", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handle(ctx context.Context, event models.Event) {
	switch event.Type {
	case models.EventSendMessage:
		result, err := c.chat.Send(ctx, models.MessageIntent{
			SenderID:    c.UserID(),
			RecipientID: event.RecipientID,
			Content:     event.Content,
			Type:        event.MessageType,
			ReplyTo:     event.ReplyTo,
		})
		if result == nil {
			c.replyError(errorText(err))
			return
		}
		ack := models.Event{
			Type:      models.EventMessageAck,
			Message:   result.Message,
			Status:    result.Status,
			Delivered: result.Delivered,
		}
		if err != nil {
			ack.Error = errorText(err)
		}
		c.reply(ack)

	case models.EventReact:
		if _, err := c.chat.React(ctx, c.UserID(), event.MessageID, event.Emoji); err != nil {
			c.replyError(errorText(err))
		}

	case models.EventEditMessage:
		if _, err := c.chat.Edit(ctx, c.UserID(), event.MessageID, event.Content); err != nil {
			c.replyError(errorText(err))
		}

	case models.EventDeleteMessage:
		if err := c.chat.Delete(ctx, c.UserID(), event.MessageID); err != nil {
			c.replyError(errorText(err))
		}

	default:
		c.replyError("unknown event type")
	}
}

// reply goes straight to this connection, current or not.
func (c *Client) reply(event models.Event) {
	event.Timestamp = time.Now().UTC().Format(time.RFC3339)
	data, err := json.Marshal(event)
	if err != nil {
		logger.Error("Error marshaling reply", "type", event.Type, "error", err)
		return
	}
	if err := c.Send(data); err != nil {
		logger.Warn("Reply dropped", "user_id", c.UserID(), "session_id", c.ID(), "error", err)
	}
}

func (c *Client) replyError(text string) {
	c.reply(models.Event{Type: models.EventError, Error: text})
}

// errorText is what a client is told about err. Store internals stay in the log.
func errorText(err error) string {
	switch {
	case err == nil:
		return ""
	case router.IsStorageError(err):
		return "storage unavailable"
	case errors.Is(err, router.ErrInvalidIntent),
		errors.Is(err, router.ErrUnknownRecipient),
		errors.Is(err, router.ErrAuthRequired),
		errors.Is(err, router.ErrNotParticipant),
		errors.Is(err, database.ErrMessageNotFound),
		errors.Is(err, database.ErrNotMessageOwner):
		return err.Error()
	default:
		logger.Error("Unexpected chat error", "error", err)
		return "internal error"
	}
}
