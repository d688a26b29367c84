package chat

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidIdentifier is returned for an empty or malformed user id.
	ErrInvalidIdentifier = errors.New("invalid user identifier")
	// ErrEmptyMessage is returned when a message body is empty or all
	// whitespace. Rejected before any network operation.
	ErrEmptyMessage = errors.New("empty message")
	// ErrUnauthenticated is returned when an operation requires a
	// current user and the session has none.
	ErrUnauthenticated = errors.New("no authenticated user")
)

// BackendError wraps a storage or transport failure at a suspend
// point. The core never retries these; callers decide.
type BackendError struct {
	Op  string
	Err error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Err.Error())
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

func NewBackendError(op string, err error) *BackendError {
	return &BackendError{Op: op, Err: err}
}

// PartialWriteError reports that exactly one of the two mailbox
// transactions of a send failed after the other succeeded. The
// succeeded side is not rolled back; the next send between the same
// pair re-upserts both copies from current state.
type PartialWriteError struct {
	RoomId      string
	FailedOwner string
	Err         error
}

func (e *PartialWriteError) Error() string {
	return fmt.Sprintf("mailbox for %q not updated in room %q: %s", e.FailedOwner, e.RoomId, e.Err.Error())
}

func (e *PartialWriteError) Unwrap() error {
	return e.Err
}
