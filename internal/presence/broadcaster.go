package presence

import (
	"encoding/json"
	"sync/atomic"
	"time"

	"social-chat/internal/models"
	"social-chat/pkg/logger"
)

// Broadcaster pushes a presence_update event to every live session on each
// registry mutation. One mutation produces one broadcast.
type Broadcaster struct {
	broadcasts atomic.Uint64
	failures   atomic.Uint64
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{}
}

func (b *Broadcaster) PresenceChanged(snapshot Snapshot) {
	b.broadcasts.Add(1)

	data, err := json.Marshal(models.Event{
		Type:      models.EventPresenceUpdate,
		Users:     snapshot.UserIDs,
		UserCount: len(snapshot.UserIDs),
		Timestamp: snapshot.At.Format(time.RFC3339),
	})
	if err != nil {
		logger.Error("Error marshaling presence update", "error", err)
		return
	}

	for _, session := range snapshot.Sessions {
		if err := session.Send(data); err != nil {
			b.failures.Add(1)
			logger.Warn("Presence update not delivered",
				"user_id", session.UserID(), "session_id", session.ID(), "error", err)
		}
	}
}

// Broadcasts returns how many snapshots have been fanned out.
func (b *Broadcaster) Broadcasts() uint64 {
	return b.broadcasts.Load()
}

// Failures returns how many individual pushes were rejected by a session.
func (b *Broadcaster) Failures() uint64 {
	return b.failures.Load()
}
