package models

type EventType string

// Server to client.
const (
	EventPresenceUpdate EventType = "presence_update"
	EventPrivateMessage EventType = "private_message"
	EventPublicMessage  EventType = "public_message"
	EventReactionUpdate EventType = "reaction_update"
	EventMessageEdited  EventType = "message_edited"
	EventMessageDeleted EventType = "message_deleted"
	EventHistory        EventType = "history"
	EventMessageAck     EventType = "message_ack"
	EventError          EventType = "error"
)

// Client to server.
const (
	EventSendMessage   EventType = "send_message"
	EventReact         EventType = "react"
	EventEditMessage   EventType = "edit_message"
	EventDeleteMessage EventType = "delete_message"
)

type Event struct {
	Type        EventType         `json:"type"`
	Message     *Message          `json:"message,omitempty"`
	Messages    []*Message        `json:"messages,omitempty"`
	MessageID   string            `json:"message_id,omitempty"`
	Reactions   map[string]string `json:"reactions,omitempty"`
	Users       []string          `json:"users,omitempty"`
	UserCount   int               `json:"user_count,omitempty"`
	RecipientID string            `json:"recipient_id,omitempty"`
	Content     string            `json:"content,omitempty"`
	MessageType string            `json:"message_type,omitempty"`
	ReplyTo     string            `json:"reply_to,omitempty"`
	Emoji       string            `json:"emoji,omitempty"`
	Status      string            `json:"status,omitempty"`
	Delivered   int               `json:"delivered,omitempty"`
	Error       string            `json:"error,omitempty"`
	Timestamp   string            `json:"timestamp,omitempty"`
}
