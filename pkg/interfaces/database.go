package interfaces

import (
	"context"

	"agora/pkg/types"
)

// DebateStore mirrors proposals, sessions and messages to durable storage
// ARCHITECTURAL DISCOVERY: Single interface for all persistence operations
// lets the registry and pipeline stay storage-agnostic; in-memory state is
// authoritative and each mutation is queued for the store in order
type DebateStore interface {
	// SaveProposal inserts or replaces a proposal
	SaveProposal(ctx context.Context, proposal *types.DebateProposal) error

	// GetProposal retrieves a proposal by ID
	GetProposal(ctx context.Context, proposalID string) (*types.DebateProposal, error)

	// ListProposals returns every stored proposal, newest first
	ListProposals(ctx context.Context) ([]*types.DebateProposal, error)

	// SaveSession inserts or replaces a session header and roster.
	// Messages are persisted separately through AppendMessage.
	SaveSession(ctx context.Context, session *types.DebateSession) error

	// GetSession retrieves a session header without its messages
	GetSession(ctx context.Context, sessionID string) (*types.DebateSession, error)

	// ListSessions returns session headers with the given status ("" for all)
	ListSessions(ctx context.Context, status types.SessionStatus) ([]*types.DebateSession, error)

	// AppendMessage persists one log entry
	// FUNCTIONAL DISCOVERY: (session_id, position) is unique, so a replayed
	// append is rejected rather than duplicated
	AppendMessage(ctx context.Context, message *types.Message) error

	// GetSessionHistory retrieves all messages for a session ordered by position
	GetSessionHistory(ctx context.Context, sessionID string) ([]*types.Message, error)

	// HealthCheck verifies database connectivity and basic operations
	HealthCheck(ctx context.Context) error

	// Close closes the database connection and cleans up resources
	Close() error
}
