package router

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthRequired is returned for intents that carry no sender identity.
	ErrAuthRequired = errors.New("authentication required")
	// ErrUnknownRecipient is returned when the recipient is not a known account.
	ErrUnknownRecipient = errors.New("unknown recipient")
	// ErrStaleSession marks a push aimed at a session that is no longer
	// current for its user. It is logged, never returned to senders.
	ErrStaleSession = errors.New("stale session")
	// ErrInvalidIntent wraps validation failures of the message payload.
	ErrInvalidIntent = errors.New("invalid message")
)

// StorageError reports a failed durable write. Live delivery may still have
// happened; callers inspect the accompanying result for that.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func IsStorageError(err error) bool {
	var storageErr *StorageError
	return errors.As(err, &storageErr)
}
