package websocket

import (
	"log/slog"
	"sync"

	"agora/pkg/interfaces"
)

// Registry tracks live connections by session and by participant
// ARCHITECTURAL DISCOVERY: Pure connection management without business logic
// maintains clean separation between connection tracking and delivery
type Registry struct {
	mu           sync.RWMutex
	sessions     map[string]map[string]interfaces.Connection // sessionID -> participantID -> conn
	participants map[string]map[string]interfaces.Connection // participantID -> sessionID -> conn
	logger       *slog.Logger
}

// NewRegistry creates an empty registry
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		sessions:     make(map[string]map[string]interfaces.Connection),
		participants: make(map[string]map[string]interfaces.Connection),
		logger:       logger,
	}
}

// Register adds conn, replacing and closing any earlier connection the same
// participant held on the same session
func (r *Registry) Register(conn interfaces.Connection) error {
	if conn == nil {
		return ErrNilConnection
	}
	participantID := conn.GetParticipantID()
	sessionID := conn.GetSessionID()
	if participantID == "" || sessionID == "" {
		return ErrConnectionNotAuthenticated
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// FUNCTIONAL DISCOVERY: Close replaced connection asynchronously to prevent
	// deadlock with its own unregister path
	if existing, ok := r.sessions[sessionID][participantID]; ok && existing != conn {
		go func() {
			if err := existing.Close(); err != nil {
				r.logger.Debug("failed to close replaced connection", "participant_id", participantID, "error", err)
			}
		}()
	}

	if r.sessions[sessionID] == nil {
		r.sessions[sessionID] = make(map[string]interfaces.Connection)
	}
	r.sessions[sessionID][participantID] = conn

	if r.participants[participantID] == nil {
		r.participants[participantID] = make(map[string]interfaces.Connection)
	}
	r.participants[participantID][sessionID] = conn
	return nil
}

// Unregister removes conn if it is still the registered instance
// RACE CONDITION FIX: a replaced connection must not remove its successor
func (r *Registry) Unregister(conn interfaces.Connection) {
	if conn == nil {
		return
	}
	participantID := conn.GetParticipantID()
	sessionID := conn.GetSessionID()

	r.mu.Lock()
	defer r.mu.Unlock()

	registered, ok := r.sessions[sessionID][participantID]
	if !ok || registered != conn {
		return
	}

	delete(r.sessions[sessionID], participantID)
	if len(r.sessions[sessionID]) == 0 {
		delete(r.sessions, sessionID)
	}
	delete(r.participants[participantID], sessionID)
	if len(r.participants[participantID]) == 0 {
		delete(r.participants, participantID)
	}
}

// SessionConnections returns every connection watching a session
func (r *Registry) SessionConnections(sessionID string) []interfaces.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]interfaces.Connection, 0, len(r.sessions[sessionID]))
	for _, c := range r.sessions[sessionID] {
		conns = append(conns, c)
	}
	return conns
}

// ParticipantConnections returns every connection held by a participant
func (r *Registry) ParticipantConnections(participantID string) []interfaces.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]interfaces.Connection, 0, len(r.participants[participantID]))
	for _, c := range r.participants[participantID] {
		conns = append(conns, c)
	}
	return conns
}

// Connection returns the participant's connection to one session
func (r *Registry) Connection(sessionID, participantID string) (interfaces.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.sessions[sessionID][participantID]
	return c, ok
}

// CloseAll closes and forgets every connection; returns how many there were
func (r *Registry) CloseAll() int {
	r.mu.Lock()
	conns := make([]interfaces.Connection, 0)
	for _, bySession := range r.sessions {
		for _, c := range bySession {
			conns = append(conns, c)
		}
	}
	r.sessions = make(map[string]map[string]interfaces.Connection)
	r.participants = make(map[string]map[string]interfaces.Connection)
	r.mu.Unlock()

	// Closed outside the lock; read pumps unregister themselves on exit
	for _, c := range conns {
		if err := c.Close(); err != nil {
			r.logger.Debug("failed to close connection", "participant_id", c.GetParticipantID(), "error", err)
		}
	}
	return len(conns)
}

// GetStats returns registry statistics for monitoring
func (r *Registry) GetStats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total := 0
	for _, conns := range r.sessions {
		total += len(conns)
	}
	return map[string]int{
		"total_connections":      total,
		"watched_sessions":       len(r.sessions),
		"connected_participants": len(r.participants),
	}
}
