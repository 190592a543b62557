package interfaces

import (
	"context"
	"errors"

	"agora/pkg/types"
)

// ErrNoIdentity is returned when no authenticated participant is available
var ErrNoIdentity = errors.New("no authenticated participant")

// IdentityProvider resolves the participant performing the current operation
type IdentityProvider interface {
	CurrentParticipant(ctx context.Context) (types.Participant, error)
}

// Notifier delivers fire-and-forget notices.
// Implementations must not block and must not fail the caller.
type Notifier interface {
	Notify(ctx context.Context, notice types.Notice)
}

// Connection represents a live client connection
// FUNCTIONAL DISCOVERY: Thread-safety requirement documented in interface
// so every implementation uses the single-writer pattern
type Connection interface {
	WriteJSON(v interface{}) error
	Close() error
	GetParticipantID() string
	GetSessionID() string
}
