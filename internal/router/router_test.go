package router

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"social-chat/internal/database"
	"social-chat/internal/models"
	"social-chat/internal/presence"
	"social-chat/mocks"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

// hookSession runs onSend before accepting a payload.
type hookSession struct {
	*presence.LocalSession
	onSend func()
}

func (s *hookSession) Send(payload []byte) error {
	if s.onSend != nil {
		s.onSend()
	}
	return s.LocalSession.Send(payload)
}

// churningPresence runs afterLookup once, right after the first lookup, to
// change the registry between resolving a recipient and pushing to it.
type churningPresence struct {
	*presence.Registry
	afterLookup func()
	once        sync.Once
}

func (p *churningPresence) Lookup(userID string) (presence.Session, bool) {
	session, ok := p.Registry.Lookup(userID)
	p.once.Do(p.afterLookup)
	return session, ok
}

func newBadger(t *testing.T) *database.BadgerDB {
	t.Helper()
	db, err := database.NewBadgerDB(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func drain(t *testing.T, session *presence.LocalSession) []models.Event {
	t.Helper()
	var events []models.Event
	for {
		select {
		case payload := <-session.Outbound():
			var event models.Event
			require.NoError(t, json.Unmarshal(payload, &event))
			events = append(events, event)
		default:
			return events
		}
	}
}

func ofType(events []models.Event, eventType models.EventType) []models.Event {
	var filtered []models.Event
	for _, event := range events {
		if event.Type == eventType {
			filtered = append(filtered, event)
		}
	}
	return filtered
}

func privateIntent(from, to, content string) models.MessageIntent {
	return models.MessageIntent{SenderID: from, RecipientID: to, Content: content}
}

func TestRoutePrivate_Delivers_To_Registered_Recipient_Once(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	registry := presence.NewRegistry()
	router := New(registry, newBadger(t), Options{})
	alice := presence.NewLocalSession("alice", 8)
	bob := presence.NewLocalSession("bob", 8)
	req.NoError(registry.Register(alice))
	req.NoError(registry.Register(bob))

	// When alice writes to bob
	result, err := router.RoutePrivate(ctx, privateIntent("alice", "bob", "hi"))

	// Then bob receives it exactly once and alice gets nothing pushed
	req.NoError(err)
	req.Equal(Delivered, result.Status)
	req.NoError(result.DeliveryErr)
	events := drain(t, bob)
	req.Len(events, 1)
	req.Equal(models.EventPrivateMessage, events[0].Type)
	req.Equal("alice", events[0].Message.SenderID)
	req.Equal("hi", events[0].Message.Content)
	req.Equal(result.Message.ID, events[0].Message.ID)
	req.Empty(drain(t, alice))
}

func TestRoutePrivate_Queues_For_Offline_Recipient(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	registry := presence.NewRegistry()
	store := newBadger(t)
	router := New(registry, store, Options{})
	alice := presence.NewLocalSession("alice", 8)
	req.NoError(registry.Register(alice))

	result, err := router.RoutePrivate(ctx, privateIntent("alice", "bob", "are you there?"))

	req.NoError(err)
	req.Equal(Queued, result.Status)
	req.Empty(drain(t, alice))

	history, err := router.History(ctx, "bob", "alice", time.Time{}, 0)
	req.NoError(err)
	req.Len(history, 1)
	req.Equal("are you there?", history[0].Content)
}

func TestRoutePrivate_Skips_Superseded_Session(t *testing.T) {
	req := require.New(t)
	registry := presence.NewRegistry()
	router := New(registry, newBadger(t), Options{})
	old := presence.NewLocalSession("bob", 8)
	current := presence.NewLocalSession("bob", 8)
	req.NoError(registry.Register(old))
	req.NoError(registry.Register(current))

	result, err := router.RoutePrivate(context.Background(), privateIntent("alice", "bob", "hi"))

	req.NoError(err)
	req.Equal(Delivered, result.Status)
	req.Empty(drain(t, old))
	req.Len(drain(t, current), 1)
}

func TestRoutePrivate_Resolves_Recipient_After_Write(t *testing.T) {
	req := require.New(t)
	registry := presence.NewRegistry()
	store := mocks.NewMockMessageRepository(gomock.NewController(t))
	router := New(registry, store, Options{})
	bob := presence.NewLocalSession("bob", 8)

	// Bob connects while the durable write is still in flight
	store.EXPECT().AppendMessage(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, msg *models.Message) (*models.Message, error) {
			req.NoError(registry.Register(bob))
			return msg, nil
		})

	result, err := router.RoutePrivate(context.Background(), privateIntent("alice", "bob", "hi"))

	req.NoError(err)
	req.Equal(Delivered, result.Status)
	req.Len(drain(t, bob), 1)
}

func TestRoutePrivate_Follows_Recipient_Reconnecting_Before_Push(t *testing.T) {
	req := require.New(t)
	registry := presence.NewRegistry()
	old := presence.NewLocalSession("bob", 8)
	fresh := presence.NewLocalSession("bob", 8)
	req.NoError(registry.Register(old))
	router := New(&churningPresence{Registry: registry, afterLookup: func() {
		req.NoError(registry.Register(fresh))
	}}, newBadger(t), Options{})

	// Bob's new connection replaces the one just looked up
	result, err := router.RoutePrivate(context.Background(), privateIntent("alice", "bob", "hi"))

	// Then the message reaches the new connection and nothing is reported stale
	req.NoError(err)
	req.Equal(Delivered, result.Status)
	req.NoError(result.DeliveryErr)
	req.Empty(drain(t, old))
	events := drain(t, fresh)
	req.Len(events, 1)
	req.Equal(result.Message.ID, events[0].Message.ID)
}

func TestRoutePrivate_Queues_When_Recipient_Leaves_Before_Push(t *testing.T) {
	req := require.New(t)
	registry := presence.NewRegistry()
	bob := presence.NewLocalSession("bob", 8)
	req.NoError(registry.Register(bob))
	router := New(&churningPresence{Registry: registry, afterLookup: func() {
		req.True(registry.Unregister(bob.ID()))
	}}, newBadger(t), Options{})

	result, err := router.RoutePrivate(context.Background(), privateIntent("alice", "bob", "hi"))

	req.NoError(err)
	req.Equal(Queued, result.Status)
	req.NoError(result.DeliveryErr)
	req.Empty(drain(t, bob))
}

func TestRoutePrivate_Storage_Failure_Still_Delivers(t *testing.T) {
	req := require.New(t)
	registry := presence.NewRegistry()
	store := mocks.NewMockMessageRepository(gomock.NewController(t))
	router := New(registry, store, Options{})
	bob := presence.NewLocalSession("bob", 8)
	req.NoError(registry.Register(bob))
	diskFull := errors.New("disk full")
	store.EXPECT().AppendMessage(gomock.Any(), gomock.Any()).Return(nil, diskFull)

	result, err := router.RoutePrivate(context.Background(), privateIntent("alice", "bob", "hi"))

	// Then the storage failure is reported
	req.Error(err)
	req.True(IsStorageError(err))
	req.ErrorIs(err, diskFull)
	// And delivery happened independently
	req.Equal(Delivered, result.Status)
	req.NotNil(result.Message)
	events := drain(t, bob)
	req.Len(events, 1)
	req.Equal(result.Message.ID, events[0].Message.ID)
}

func TestRoutePrivate_Storage_Failure_With_Offline_Recipient(t *testing.T) {
	req := require.New(t)
	store := mocks.NewMockMessageRepository(gomock.NewController(t))
	router := New(presence.NewRegistry(), store, Options{})
	store.EXPECT().AppendMessage(gomock.Any(), gomock.Any()).Return(nil, errors.New("connection reset"))

	result, err := router.RoutePrivate(context.Background(), privateIntent("alice", "bob", "hi"))

	req.True(IsStorageError(err))
	req.Equal(Queued, result.Status)
}

func TestRoutePrivate_Rejects_Bad_Intents(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	// No store expectations: a rejected intent must never be written
	store := mocks.NewMockMessageRepository(ctrl)
	directory := mocks.NewMockUserRepository(ctrl)
	directory.EXPECT().UserExists(gomock.Any(), "ghost").Return(false, nil)
	router := New(presence.NewRegistry(), store, Options{Directory: directory})
	ctx := context.Background()

	_, err := router.RoutePrivate(ctx, privateIntent("", "bob", "hi"))
	req.ErrorIs(err, ErrAuthRequired)

	_, err = router.RoutePrivate(ctx, privateIntent("alice", "ghost", "hi"))
	req.ErrorIs(err, ErrUnknownRecipient)

	_, err = router.RoutePrivate(ctx, privateIntent("alice", "bob", ""))
	req.ErrorIs(err, ErrInvalidIntent)

	_, err = router.RoutePrivate(ctx, privateIntent("alice", "", "hi"))
	req.ErrorIs(err, ErrInvalidIntent)
}

func TestBroadcastPublic_Reaches_Exactly_The_Registered_Sessions(t *testing.T) {
	req := require.New(t)
	registry := presence.NewRegistry()
	router := New(registry, newBadger(t), Options{})
	alice := presence.NewLocalSession("alice", 8)
	bob := presence.NewLocalSession("bob", 8)
	superseded := presence.NewLocalSession("carol", 8)
	carol := presence.NewLocalSession("carol", 8)
	gone := presence.NewLocalSession("dave", 8)
	for _, session := range []*presence.LocalSession{alice, bob, superseded, carol, gone} {
		req.NoError(registry.Register(session))
	}
	req.True(registry.Unregister(gone.ID()))

	count, err := router.BroadcastPublic(context.Background(), models.MessageIntent{SenderID: "alice", Content: "hello all"})

	req.NoError(err)
	req.Equal(DeliveryCount(3), count)
	for _, session := range []*presence.LocalSession{alice, bob, carol} {
		events := drain(t, session)
		req.Len(events, 1)
		req.Equal(models.EventPublicMessage, events[0].Type)
		req.Equal("hello all", events[0].Message.Content)
	}
	req.Empty(drain(t, superseded))
	req.Empty(drain(t, gone))
}

func TestBroadcastPublic_Skips_Session_That_Leaves_Mid_Broadcast(t *testing.T) {
	req := require.New(t)
	registry := presence.NewRegistry()
	router := New(registry, newBadger(t), Options{})
	bob := presence.NewLocalSession("bob", 8)
	alice := &hookSession{LocalSession: presence.NewLocalSession("alice", 8)}
	// Bob disconnects while alice, who comes first, is being served
	alice.onSend = func() { registry.Unregister(bob.ID()) }
	req.NoError(registry.Register(alice))
	req.NoError(registry.Register(bob))

	count, err := router.BroadcastPublic(context.Background(), models.MessageIntent{SenderID: "alice", Content: "hello"})

	req.NoError(err)
	req.Equal(DeliveryCount(1), count)
	req.Len(drain(t, alice.LocalSession), 1)
	req.Empty(drain(t, bob))
}

func TestBroadcastPublic_Storage_Failure_Still_Fans_Out(t *testing.T) {
	req := require.New(t)
	registry := presence.NewRegistry()
	store := mocks.NewMockMessageRepository(gomock.NewController(t))
	router := New(registry, store, Options{})
	alice := presence.NewLocalSession("alice", 8)
	req.NoError(registry.Register(alice))
	store.EXPECT().AppendMessage(gomock.Any(), gomock.Any()).Return(nil, errors.New("read-only"))

	count, err := router.BroadcastPublic(context.Background(), models.MessageIntent{SenderID: "alice", Content: "hello"})

	req.True(IsStorageError(err))
	req.Equal(DeliveryCount(1), count)
}

func TestBroadcastPublic_Rejects_Private_Intent(t *testing.T) {
	req := require.New(t)
	router := New(presence.NewRegistry(), mocks.NewMockMessageRepository(gomock.NewController(t)), Options{})

	_, err := router.BroadcastPublic(context.Background(), privateIntent("alice", "bob", "hi"))
	req.ErrorIs(err, ErrInvalidIntent)
	_, err = router.BroadcastPublic(context.Background(), models.MessageIntent{Content: "hi"})
	req.ErrorIs(err, ErrAuthRequired)
}

// Two users meet, talk, and one of them leaves.
func TestRouter_End_To_End_Scenario(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	registry := presence.NewRegistry()
	registry.Subscribe(presence.NewBroadcaster())
	store := newBadger(t)
	router := New(registry, store, Options{})
	s1 := presence.NewLocalSession("A", 16)
	s2 := presence.NewLocalSession("B", 16)

	// A registers
	req.NoError(registry.Register(s1))
	req.Equal([]string{"A"}, ofType(drain(t, s1), models.EventPresenceUpdate)[0].Users)

	// B registers
	req.NoError(registry.Register(s2))
	req.Equal([]string{"A", "B"}, ofType(drain(t, s1), models.EventPresenceUpdate)[0].Users)
	req.Equal([]string{"A", "B"}, ofType(drain(t, s2), models.EventPresenceUpdate)[0].Users)

	// A says hi to B
	result, err := router.RoutePrivate(ctx, privateIntent("A", "B", "hi"))
	req.NoError(err)
	req.Equal(Delivered, result.Status)
	received := ofType(drain(t, s2), models.EventPrivateMessage)
	req.Len(received, 1)
	req.Equal("A", received[0].Message.SenderID)
	req.Equal("hi", received[0].Message.Content)
	stored, err := store.ListConversation(ctx, database.ConversationQuery{UserA: "A", UserB: "B", Limit: 10})
	req.NoError(err)
	req.Len(stored, 1)

	// B disconnects
	req.True(registry.Unregister(s2.ID()))
	req.Equal([]string{"A"}, ofType(drain(t, s1), models.EventPresenceUpdate)[0].Users)

	// A writes again
	result, err = router.RoutePrivate(ctx, privateIntent("A", "B", "still there?"))
	req.NoError(err)
	req.Equal(Queued, result.Status)
	stored, err = store.ListConversation(ctx, database.ConversationQuery{UserA: "A", UserB: "B", Limit: 10})
	req.NoError(err)
	req.Len(stored, 2)
	req.Empty(drain(t, s2))
	req.Empty(drain(t, s1))
}

func TestReact_Pushes_Reactions_To_Audience(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	registry := presence.NewRegistry()
	router := New(registry, newBadger(t), Options{})
	alice := presence.NewLocalSession("alice", 8)
	bob := presence.NewLocalSession("bob", 8)
	carol := presence.NewLocalSession("carol", 8)
	for _, session := range []*presence.LocalSession{alice, bob, carol} {
		req.NoError(registry.Register(session))
	}

	public, err := router.BroadcastPublic(ctx, models.MessageIntent{SenderID: "alice", Content: "vote"})
	req.NoError(err)
	req.Equal(DeliveryCount(3), public)
	messageID := drain(t, alice)[0].Message.ID
	drain(t, bob)
	drain(t, carol)

	// A reaction on a public message reaches everyone
	reactions, count, err := router.React(ctx, "bob", messageID, "👍")
	req.NoError(err)
	req.Equal(map[string]string{"bob": "👍"}, reactions)
	req.Equal(DeliveryCount(3), count)
	update := drain(t, carol)
	req.Len(update, 1)
	req.Equal(models.EventReactionUpdate, update[0].Type)
	req.Equal(messageID, update[0].MessageID)
	drain(t, alice)
	drain(t, bob)

	// A reaction on a private message only reaches its participants
	result, err := router.RoutePrivate(ctx, privateIntent("alice", "bob", "secret"))
	req.NoError(err)
	drain(t, bob)
	_, count, err = router.React(ctx, "alice", result.Message.ID, "❤️")
	req.NoError(err)
	req.Equal(DeliveryCount(2), count)
	req.Empty(drain(t, carol))

	// Outsiders cannot react to it
	_, _, err = router.React(ctx, "carol", result.Message.ID, "👀")
	req.ErrorIs(err, ErrNotParticipant)

	_, _, err = router.React(ctx, "carol", "missing", "👀")
	req.ErrorIs(err, database.ErrMessageNotFound)
	_, _, err = router.React(ctx, "", messageID, "👀")
	req.ErrorIs(err, ErrAuthRequired)
}

func TestEdit_And_Delete_Require_Ownership(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	registry := presence.NewRegistry()
	router := New(registry, newBadger(t), Options{})
	alice := presence.NewLocalSession("alice", 8)
	bob := presence.NewLocalSession("bob", 8)
	req.NoError(registry.Register(alice))
	req.NoError(registry.Register(bob))

	_, err := router.BroadcastPublic(ctx, models.MessageIntent{SenderID: "alice", Content: "typo"})
	req.NoError(err)
	messageID := drain(t, bob)[0].Message.ID
	drain(t, alice)

	_, _, err = router.Edit(ctx, "bob", messageID, "not yours")
	req.ErrorIs(err, database.ErrNotMessageOwner)

	edited, count, err := router.Edit(ctx, "alice", messageID, "fixed")
	req.NoError(err)
	req.Equal("fixed", edited.Content)
	req.Equal(DeliveryCount(2), count)
	events := drain(t, bob)
	req.Len(events, 1)
	req.Equal(models.EventMessageEdited, events[0].Type)
	req.True(events[0].Message.Edited)
	drain(t, alice)

	_, err = router.Delete(ctx, "bob", messageID)
	req.ErrorIs(err, database.ErrNotMessageOwner)

	count, err = router.Delete(ctx, "alice", messageID)
	req.NoError(err)
	req.Equal(DeliveryCount(2), count)
	events = drain(t, bob)
	req.Len(events, 1)
	req.Equal(models.EventMessageDeleted, events[0].Type)
	req.Equal(messageID, events[0].MessageID)

	_, err = router.Delete(ctx, "alice", messageID)
	req.ErrorIs(err, database.ErrMessageNotFound)
}

func TestHistory_Clamps_Limit(t *testing.T) {
	req := require.New(t)
	store := mocks.NewMockMessageRepository(gomock.NewController(t))
	router := New(presence.NewRegistry(), store, Options{HistoryLimit: 10})
	store.EXPECT().ListConversation(gomock.Any(), database.ConversationQuery{UserA: "alice", Limit: 10}).
		Return([]*models.Message{{ID: "m1"}}, nil).Times(2)

	messages, err := router.History(context.Background(), "alice", "", time.Time{}, 500)
	req.NoError(err)
	req.Len(messages, 1)

	_, err = router.History(context.Background(), "alice", "", time.Time{}, 0)
	req.NoError(err)

	_, err = router.History(context.Background(), "", "", time.Time{}, 0)
	req.ErrorIs(err, ErrAuthRequired)
}

func TestHistory_Wraps_Store_Failures(t *testing.T) {
	req := require.New(t)
	store := mocks.NewMockMessageRepository(gomock.NewController(t))
	router := New(presence.NewRegistry(), store, Options{})
	store.EXPECT().ListConversation(gomock.Any(), gomock.Any()).Return(nil, errors.New("timeout"))

	_, err := router.History(context.Background(), "alice", "bob", time.Time{}, 5)
	req.True(IsStorageError(err))
}

func TestNotify(t *testing.T) {
	req := require.New(t)
	registry := presence.NewRegistry()
	router := New(registry, mocks.NewMockMessageRepository(gomock.NewController(t)), Options{})
	bob := presence.NewLocalSession("bob", 1)
	req.NoError(registry.Register(bob))

	req.True(router.Notify("bob", models.Event{Type: models.EventError, Error: "heads up"}))
	req.False(router.Notify("alice", models.Event{Type: models.EventError}))
	// Buffer of one is now full
	req.False(router.Notify("bob", models.Event{Type: models.EventError}))

	events := drain(t, bob)
	req.Len(events, 1)
	req.Equal("heads up", events[0].Error)
}

func TestNotify_Follows_Reconnect(t *testing.T) {
	req := require.New(t)
	registry := presence.NewRegistry()
	old := presence.NewLocalSession("bob", 1)
	fresh := presence.NewLocalSession("bob", 1)
	req.NoError(registry.Register(old))
	router := New(&churningPresence{Registry: registry, afterLookup: func() {
		req.NoError(registry.Register(fresh))
	}}, mocks.NewMockMessageRepository(gomock.NewController(t)), Options{})

	req.True(router.Notify("bob", models.Event{Type: models.EventError, Error: "heads up"}))
	req.Empty(drain(t, old))
	req.Len(drain(t, fresh), 1)
}
