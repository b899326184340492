// Package router decides where a message goes: it writes every message to the
// history store and pushes it to whichever live sessions should see it.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"social-chat/internal/database"
	"social-chat/internal/models"
	"social-chat/internal/presence"
	"social-chat/pkg/logger"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

var ErrNotParticipant = errors.New("not a participant of this conversation")

const defaultHistoryLimit = 50

type DeliveryStatus int

const (
	// Queued means nobody was pushed; the recipient sees it on the next history fetch.
	Queued DeliveryStatus = iota
	Delivered
)

func (s DeliveryStatus) String() string {
	if s == Delivered {
		return "delivered"
	}
	return "queued"
}

// DeliveryResult is the outcome of a private message. Message is always set
// once the intent passed validation, even when the durable write failed.
type DeliveryResult struct {
	Status      DeliveryStatus
	Message     *models.Message
	DeliveryErr error
}

// DeliveryCount is how many live sessions accepted a fan-out push.
type DeliveryCount int

// Presence is the read side of the presence registry.
type Presence interface {
	Lookup(userID string) (presence.Session, bool)
	Sessions() []presence.Session
	IsCurrent(session presence.Session) bool
}

// Directory answers whether a user ID belongs to an account.
type Directory interface {
	UserExists(ctx context.Context, id string) (bool, error)
}

type Options struct {
	// Directory enables ErrUnknownRecipient checks when set.
	Directory    Directory
	HistoryLimit int
}

type Router struct {
	presence     Presence
	store        database.MessageRepository
	directory    Directory
	historyLimit int
	validate     *validator.Validate
	now          func() time.Time
}

func New(p Presence, store database.MessageRepository, opts Options) *Router {
	limit := opts.HistoryLimit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	return &Router{
		presence:     p,
		store:        store,
		directory:    opts.Directory,
		historyLimit: limit,
		validate:     validator.New(),
		now:          time.Now,
	}
}

// RoutePrivate stores intent and pushes it to the recipient's current
// session if there is one. A failed write is returned as a *StorageError
// together with the delivery outcome, which is attempted regardless.
func (r *Router) RoutePrivate(ctx context.Context, intent models.MessageIntent) (DeliveryResult, error) {
	if err := r.checkIntent(intent); err != nil {
		return DeliveryResult{}, err
	}
	if intent.IsPublic() {
		return DeliveryResult{}, fmt.Errorf("%w: recipient required", ErrInvalidIntent)
	}
	if err := r.checkRecipient(ctx, intent.RecipientID); err != nil {
		return DeliveryResult{}, err
	}

	msg, storeErr := r.append(ctx, intent)
	result := DeliveryResult{Status: Queued, Message: msg}

	// Resolved only now: the registry may have changed while the write was in flight.
	session, err := r.pushTo(intent.RecipientID, models.Event{Type: models.EventPrivateMessage, Message: msg})
	if session == nil && err == nil {
		logger.Debug("Recipient offline, message queued", "message_id", msg.ID, "to", intent.RecipientID)
		return result, storeErr
	}
	if err != nil {
		result.DeliveryErr = err
		logger.Warn("Private message not pushed", "message_id", msg.ID, "to", intent.RecipientID, "error", err)
		return result, storeErr
	}

	result.Status = Delivered
	return result, storeErr
}

// BroadcastPublic stores intent and pushes it to every live session,
// the sender's included.
func (r *Router) BroadcastPublic(ctx context.Context, intent models.MessageIntent) (DeliveryCount, error) {
	_, count, err := r.Publish(ctx, intent)
	return count, err
}

// Publish is BroadcastPublic that also hands back the message as pushed.
func (r *Router) Publish(ctx context.Context, intent models.MessageIntent) (*models.Message, DeliveryCount, error) {
	if err := r.checkIntent(intent); err != nil {
		return nil, 0, err
	}
	if !intent.IsPublic() {
		return nil, 0, fmt.Errorf("%w: public messages have no recipient", ErrInvalidIntent)
	}

	msg, storeErr := r.append(ctx, intent)
	count := r.fanOut(r.presence.Sessions(), models.Event{Type: models.EventPublicMessage, Message: msg})
	return msg, count, storeErr
}

// React records userID's emoji on a message and pushes the new reaction set.
func (r *Router) React(ctx context.Context, userID, messageID, emoji string) (map[string]string, DeliveryCount, error) {
	if userID == "" {
		return nil, 0, ErrAuthRequired
	}
	if err := r.validate.Var(emoji, "required,max=32"); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrInvalidIntent, err)
	}

	msg, err := r.visibleMessage(ctx, userID, messageID)
	if err != nil {
		return nil, 0, err
	}

	reactions, err := r.store.SetReaction(ctx, messageID, userID, emoji)
	if err != nil {
		return nil, 0, storeError("set reaction", err)
	}

	count := r.fanOut(r.audience(msg), models.Event{
		Type:      models.EventReactionUpdate,
		MessageID: messageID,
		Reactions: reactions,
	})
	return reactions, count, nil
}

// Edit replaces the content of a message owned by userID.
func (r *Router) Edit(ctx context.Context, userID, messageID, content string) (*models.Message, DeliveryCount, error) {
	if userID == "" {
		return nil, 0, ErrAuthRequired
	}
	if err := r.validate.Struct(models.EditRequest{Content: content}); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrInvalidIntent, err)
	}

	msg, err := r.store.EditMessage(ctx, messageID, userID, content)
	if err != nil {
		return nil, 0, storeError("edit message", err)
	}

	count := r.fanOut(r.audience(msg), models.Event{Type: models.EventMessageEdited, Message: msg})
	return msg, count, nil
}

// Delete removes a message owned by userID.
func (r *Router) Delete(ctx context.Context, userID, messageID string) (DeliveryCount, error) {
	if userID == "" {
		return 0, ErrAuthRequired
	}

	msg, err := r.store.GetMessage(ctx, messageID)
	if err != nil {
		return 0, storeError("get message", err)
	}
	if err := r.store.DeleteMessage(ctx, messageID, userID); err != nil {
		return 0, storeError("delete message", err)
	}

	count := r.fanOut(r.audience(msg), models.Event{Type: models.EventMessageDeleted, MessageID: messageID})
	return count, nil
}

// Notify pushes a non-message event to userID's current session, if any.
// It is the hook for services that keep their own state outside the chat
// store, such as friend requests, and need to reach a user live.
func (r *Router) Notify(userID string, event models.Event) bool {
	session, err := r.pushTo(userID, event)
	if err != nil {
		logger.Warn("Notification not pushed", "user_id", userID, "type", event.Type, "error", err)
		return false
	}
	return session != nil
}

// History replays the public channel (withUserID empty) or the private
// conversation between userID and withUserID, oldest first.
func (r *Router) History(ctx context.Context, userID, withUserID string, since time.Time, limit int) ([]*models.Message, error) {
	if userID == "" {
		return nil, ErrAuthRequired
	}
	if limit <= 0 || limit > r.historyLimit {
		limit = r.historyLimit
	}

	messages, err := r.store.ListConversation(ctx, database.ConversationQuery{
		UserA: userID,
		UserB: withUserID,
		Since: since,
		Limit: limit,
	})
	if err != nil {
		return nil, storeError("list conversation", err)
	}
	return messages, nil
}

func (r *Router) checkIntent(intent models.MessageIntent) error {
	if intent.SenderID == "" {
		return ErrAuthRequired
	}
	if err := r.validate.Struct(intent); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidIntent, err)
	}
	return nil
}

func (r *Router) checkRecipient(ctx context.Context, recipientID string) error {
	if r.directory == nil {
		return nil
	}
	exists, err := r.directory.UserExists(ctx, recipientID)
	if err != nil {
		return storeError("look up recipient", err)
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrUnknownRecipient, recipientID)
	}
	return nil
}

// append writes the message derived from intent. On failure it still returns
// the unsaved record so live delivery can go ahead.
func (r *Router) append(ctx context.Context, intent models.MessageIntent) (*models.Message, error) {
	at := intent.Timestamp
	if at.IsZero() {
		at = r.now()
	}
	msg := &models.Message{
		ID:          uuid.NewString(),
		SenderID:    intent.SenderID,
		RecipientID: intent.RecipientID,
		Content:     intent.Content,
		Type:        lo.Ternary(intent.Type == "", models.MessageTypeText, intent.Type),
		ReplyTo:     intent.ReplyTo,
		CreatedAt:   at.UTC(),
		UpdatedAt:   at.UTC(),
	}

	stored, err := r.store.AppendMessage(ctx, msg)
	if err != nil {
		logger.Error("Error saving message", "message_id", msg.ID, "from", msg.SenderID, "error", err)
		return msg, &StorageError{Op: "append message", Err: err}
	}
	return stored, nil
}

// visibleMessage loads a message userID is allowed to see.
func (r *Router) visibleMessage(ctx context.Context, userID, messageID string) (*models.Message, error) {
	msg, err := r.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, storeError("get message", err)
	}
	if !msg.IsPublic() && msg.SenderID != userID && msg.RecipientID != userID {
		return nil, ErrNotParticipant
	}
	return msg, nil
}

// audience is every live session for public messages and the two
// participants' sessions for private ones.
func (r *Router) audience(msg *models.Message) []presence.Session {
	if msg.IsPublic() {
		return r.presence.Sessions()
	}
	participants := lo.Uniq([]string{msg.SenderID, msg.RecipientID})
	return lo.FilterMap(participants, func(userID string, _ int) (presence.Session, bool) {
		return r.presence.Lookup(userID)
	})
}

// fanOut pushes event to each session that is still current when its turn
// comes, and counts the pushes that were accepted.
func (r *Router) fanOut(sessions []presence.Session, event models.Event) DeliveryCount {
	data, err := r.encode(event)
	if err != nil {
		logger.Error("Error marshaling event", "type", event.Type, "error", err)
		return 0
	}

	var count DeliveryCount
	for _, session := range sessions {
		if !r.presence.IsCurrent(session) {
			continue
		}
		if err := session.Send(data); err != nil {
			logger.Warn("Push failed", "type", event.Type, "user_id", session.UserID(), "session_id", session.ID(), "error", err)
			continue
		}
		count++
	}
	return count
}

// pushTo sends event to userID's current session and returns the session
// that took it, or nil when the user is offline. A session replaced between
// lookup and send is dropped and the user is looked up again; stale sessions
// never surface as an error.
func (r *Router) pushTo(userID string, event models.Event) (presence.Session, error) {
	data, err := r.encode(event)
	if err != nil {
		return nil, err
	}

	session, ok := r.presence.Lookup(userID)
	for ok {
		if r.presence.IsCurrent(session) {
			return session, session.Send(data)
		}
		next, found := r.presence.Lookup(userID)
		if found && next.ID() == session.ID() {
			logger.Debug("Push skipped", "user_id", userID, "session_id", session.ID(), "error", ErrStaleSession)
			return nil, nil
		}
		logger.Debug("Recipient reconnected before push, retrying",
			"user_id", userID, "stale_session", session.ID())
		session, ok = next, found
	}
	return nil, nil
}

func (r *Router) encode(event models.Event) ([]byte, error) {
	if event.Timestamp == "" {
		event.Timestamp = r.now().UTC().Format(time.RFC3339)
	}
	return json.Marshal(event)
}

func storeError(op string, err error) error {
	if errors.Is(err, database.ErrMessageNotFound) || errors.Is(err, database.ErrNotMessageOwner) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}
