//go:generate go run go.uber.org/mock/mockgen -source=interfaces.go -destination=../../mocks/mock_database.go -package=mocks
package database

import (
	"context"
	"errors"
	"time"

	"social-chat/internal/models"
)

var (
	ErrUserNotFound    = errors.New("user not found")
	ErrUserExists      = errors.New("user already exists")
	ErrMessageNotFound = errors.New("message not found")
	ErrNotMessageOwner = errors.New("not the message owner")
)

const PublicConversation = "public"

type UserRepository interface {
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	CreateUser(ctx context.Context, user *models.User) (*models.User, error)
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	UserExists(ctx context.Context, id string) (bool, error)
}

// ConversationQuery selects a conversation for replay. An empty UserB means
// the public channel; a zero Since means from the beginning.
type ConversationQuery struct {
	UserA string
	UserB string
	Since time.Time
	Limit int
}

func (q ConversationQuery) Key() string {
	if q.UserB == "" {
		return PublicConversation
	}
	return ConversationKey(q.UserA, q.UserB)
}

// MessageRepository is the durable history of public and private messages.
type MessageRepository interface {
	AppendMessage(ctx context.Context, msg *models.Message) (*models.Message, error)
	GetMessage(ctx context.Context, id string) (*models.Message, error)
	// ListConversation returns at most q.Limit of the most recent messages
	// newer than q.Since, oldest first.
	ListConversation(ctx context.Context, q ConversationQuery) ([]*models.Message, error)
	SetReaction(ctx context.Context, messageID, userID, emoji string) (map[string]string, error)
	EditMessage(ctx context.Context, messageID, ownerID, content string) (*models.Message, error)
	DeleteMessage(ctx context.Context, messageID, ownerID string) error
}

type Database interface {
	UserRepository
	MessageRepository
	Close() error
}

// ConversationKey names the private conversation between two users
// independently of who sent the message.
func ConversationKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return "dm:" + a + ":" + b
}

func conversationOf(msg *models.Message) string {
	if msg.IsPublic() {
		return PublicConversation
	}
	return ConversationKey(msg.SenderID, msg.RecipientID)
}
