package models

import "time"

const MessageTypeText = "text"

// Message is the durable record produced from a MessageIntent.
// An empty RecipientID denotes the public channel.
type Message struct {
	ID          string            `json:"id"`
	SenderID    string            `json:"from"`
	RecipientID string            `json:"to,omitempty"`
	Content     string            `json:"content"`
	Type        string            `json:"message_type"`
	ReplyTo     string            `json:"reply_to,omitempty"`
	Reactions   map[string]string `json:"reactions,omitempty"`
	Edited      bool              `json:"edited,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

func (m *Message) IsPublic() bool {
	return m.RecipientID == ""
}

// MessageIntent is what a sender asks the router to do. It is never stored as is.
type MessageIntent struct {
	SenderID    string    `json:"-"`
	RecipientID string    `json:"recipient_id,omitempty"`
	Content     string    `json:"content" validate:"required,max=4000"`
	Type        string    `json:"message_type,omitempty" validate:"omitempty,max=32"`
	ReplyTo     string    `json:"reply_to,omitempty" validate:"omitempty,uuid"`
	Timestamp   time.Time `json:"-"`
}

func (i MessageIntent) IsPublic() bool {
	return i.RecipientID == ""
}

type ReactionRequest struct {
	Emoji string `json:"emoji" validate:"required,max=32"`
}

type EditRequest struct {
	Content string `json:"content" validate:"required,max=4000"`
}
