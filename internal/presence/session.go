// Package presence tracks which users currently hold a live connection and
// pushes a presence snapshot to every live connection whenever that changes.
package presence

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrSessionClosed  = errors.New("session closed")
	ErrSendBufferFull = errors.New("session send buffer full")
)

// Session is one live transport connection owned by exactly one user.
//
// Send must never block: the registry and the router push to sessions while
// holding locks, so a slow consumer has to fail fast with ErrSendBufferFull.
type Session interface {
	ID() string
	UserID() string
	CreatedAt() time.Time
	Send(payload []byte) error
}

// LocalSession is a Session whose outbound payloads are queued in a bounded
// in-memory buffer. Transports embed it and drain Outbound from their writer.
type LocalSession struct {
	id        string
	userID    string
	createdAt time.Time

	mu     sync.Mutex
	closed bool
	out    chan []byte
}

func NewLocalSession(userID string, buffer int) *LocalSession {
	if buffer <= 0 {
		buffer = 1
	}
	return &LocalSession{
		id:        uuid.NewString(),
		userID:    userID,
		createdAt: time.Now().UTC(),
		out:       make(chan []byte, buffer),
	}
}

func (s *LocalSession) ID() string { return s.id }
func (s *LocalSession) UserID() string { return s.userID }
func (s *LocalSession) CreatedAt() time.Time { return s.createdAt }

func (s *LocalSession) Send(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}
	select {
	case s.out <- payload:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Outbound yields queued payloads in submission order and is closed by Close.
func (s *LocalSession) Outbound() <-chan []byte {
	return s.out
}

// Close stops accepting payloads. It is safe to call more than once.
func (s *LocalSession) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	close(s.out)
}

func (s *LocalSession) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
