package presence

import (
	"errors"
	"sync"
	"time"

	"social-chat/pkg/logger"

	"github.com/samber/lo"
)

var ErrAnonymousSession = errors.New("session has no user identity")

// Snapshot is the ordered set of reachable users right after a mutation.
type Snapshot struct {
	UserIDs  []string
	Sessions []Session
	At       time.Time
}

// Listener is told about every registry mutation that changed state.
// It runs inside the registry's critical section and must not call back into
// the registry.
type Listener interface {
	PresenceChanged(snapshot Snapshot)
}

type ListenerFunc func(snapshot Snapshot)

func (f ListenerFunc) PresenceChanged(snapshot Snapshot) { f(snapshot) }

// Registry maps each user to at most one live Session.
type Registry struct {
	mu        sync.RWMutex
	sessions  map[string]Session // user ID -> current session
	owners    map[string]string  // current session ID -> user ID
	order     []string           // user IDs in insertion order
	listeners []Listener
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]Session),
		owners:   make(map[string]string),
	}
}

func (r *Registry) Subscribe(listener Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, listener)
}

// Register installs session as the live session of its user. A previous
// session of the same user is superseded: it stops receiving routed traffic
// immediately, but closing it is left to the transport.
func (r *Registry) Register(session Session) error {
	userID := session.UserID()
	if userID == "" {
		return ErrAnonymousSession
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if previous, ok := r.sessions[userID]; ok {
		r.removeLocked(userID)
		logger.Info("Session superseded",
			"user_id", userID, "old_session", previous.ID(), "new_session", session.ID())
	}

	r.sessions[userID] = session
	r.owners[session.ID()] = userID
	r.order = append(r.order, userID)
	logger.Debug("Session registered", "user_id", userID, "session_id", session.ID(), "online", len(r.order))

	r.notifyLocked()
	return nil
}

// Unregister removes sessionID if it is still the current session of its
// user. Unknown or superseded session IDs are ignored and report false.
func (r *Registry) Unregister(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.owners[sessionID]
	if !ok {
		logger.Debug("Ignoring stale unregister", "session_id", sessionID)
		return false
	}

	r.removeLocked(userID)
	logger.Debug("Session unregistered", "user_id", userID, "session_id", sessionID, "online", len(r.order))

	r.notifyLocked()
	return true
}

func (r *Registry) Lookup(userID string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, ok := r.sessions[userID]
	return session, ok
}

// IsCurrent reports whether session is still the registered session of its user.
func (r *Registry) IsCurrent(session Session) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	current, ok := r.sessions[session.UserID()]
	return ok && current.ID() == session.ID()
}

func (r *Registry) ListUserIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

func (r *Registry) Sessions() []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessionsLocked()
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Close drops every entry. Used at shutdown once transports are closing.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.order) == 0 {
		return
	}
	r.sessions = make(map[string]Session)
	r.owners = make(map[string]string)
	r.order = nil
	r.notifyLocked()
}

func (r *Registry) removeLocked(userID string) {
	session := r.sessions[userID]
	delete(r.sessions, userID)
	delete(r.owners, session.ID())
	r.order = lo.Without(r.order, userID)
}

func (r *Registry) sessionsLocked() []Session {
	return lo.Map(r.order, func(userID string, _ int) Session {
		return r.sessions[userID]
	})
}

func (r *Registry) notifyLocked() {
	if len(r.listeners) == 0 {
		return
	}
	snapshot := Snapshot{
		UserIDs:  append([]string(nil), r.order...),
		Sessions: r.sessionsLocked(),
		At:       time.Now().UTC(),
	}
	for _, listener := range r.listeners {
		listener.PresenceChanged(snapshot)
	}
}
