package session

import (
	"sync"
	"time"

	"agora/internal/messagelog"
	"agora/pkg/types"
)

// entry is the registry's private state for one session
type entry struct {
	mu      sync.Mutex
	header  *types.DebateSession // Messages is always nil; the log owns them
	log     *messagelog.Log
	members map[string]bool
}

// Tx is the handle passed to Update. It is only valid inside the callback;
// every method assumes the session's mutex is held.
type Tx struct {
	r     *Registry
	e     *entry
	dirty bool
}

// ID returns the session ID
func (tx *Tx) ID() string {
	return tx.e.header.ID
}

// Status returns the current lifecycle state
func (tx *Tx) Status() types.SessionStatus {
	return tx.e.header.Status
}

// IsActive reports whether the session still accepts messages
func (tx *Tx) IsActive() bool {
	return tx.e.header.Status == types.SessionActive
}

// WarningCount returns the number of recorded violations
func (tx *Tx) WarningCount() int {
	return tx.e.header.WarningCount
}

// ParticipantCount returns the roster size
func (tx *Tx) ParticipantCount() int {
	return len(tx.e.header.Participants)
}

// Snapshot returns a deep copy of the session including its messages
func (tx *Tx) Snapshot() *types.DebateSession {
	return tx.e.snapshot()
}

// Sealed reports whether the log accepts further appends
func (tx *Tx) Sealed() bool {
	return tx.e.log.Sealed()
}

// Append adds a human message from sender. The session must be active.
func (tx *Tx) Append(sender types.Participant, content string) (types.Message, error) {
	if !tx.IsActive() {
		return types.Message{}, types.ErrSessionNotActive
	}
	return tx.append(types.Message{
		SenderID:     sender.ID,
		SenderName:   sender.Name,
		SenderAvatar: sender.Avatar,
		Content:      content,
	})
}

// AppendSynthesized adds a moderator message regardless of status. It fails
// only once the log has been sealed.
func (tx *Tx) AppendSynthesized(msg types.Message) (types.Message, error) {
	moderator := types.Moderator()
	msg.SenderID = moderator.ID
	msg.SenderName = moderator.Name
	msg.SenderAvatar = moderator.Avatar
	msg.IsSynthesized = true
	return tx.append(msg)
}

func (tx *Tx) append(msg types.Message) (types.Message, error) {
	stored, err := tx.e.log.Append(msg)
	if err != nil {
		return types.Message{}, err
	}
	tx.r.persistMessage(stored)
	tx.r.metrics.MessageAppended(stored.Kind)
	if tx.r.listener != nil {
		// Called under the session lock so listeners observe log order
		tx.r.listener.MessageAppended(stored)
	}
	return stored, nil
}

// AddParticipant puts p on the roster. Returns false when already present.
func (tx *Tx) AddParticipant(p types.Participant) bool {
	if tx.e.members[p.ID] {
		return false
	}
	tx.e.members[p.ID] = true
	tx.e.header.Participants = append(tx.e.header.Participants, p)
	if len(tx.e.header.Participants) >= tx.r.quorum {
		tx.e.header.QuorumReached = true
	}
	tx.dirty = true
	return true
}

// IncrementWarnings records a violation. Ended sessions are frozen, so the
// count is returned unchanged for them.
func (tx *Tx) IncrementWarnings() int {
	if !tx.IsActive() {
		return tx.e.header.WarningCount
	}
	tx.e.header.WarningCount++
	tx.dirty = true
	return tx.e.header.WarningCount
}

// End moves an active session to ended. Returns false if it was not active.
func (tx *Tx) End(reason types.EndReason) bool {
	if !tx.IsActive() {
		return false
	}
	now := time.Now().UTC()
	tx.e.header.Status = types.SessionEnded
	tx.e.header.EndedAt = &now
	tx.e.header.EndReason = reason
	tx.dirty = true
	tx.r.metrics.SessionEnded()
	return true
}

// SetSummary stores the closing digest. Only the first call has effect.
func (tx *Tx) SetSummary(summary string) bool {
	if tx.e.header.Summary != "" {
		return false
	}
	tx.e.header.Summary = summary
	tx.dirty = true
	return true
}

// Seal closes the log for good and schedules archival when configured
func (tx *Tx) Seal() {
	if tx.e.log.Sealed() {
		return
	}
	tx.e.log.Seal()
	tx.r.scheduleEviction(tx.e.header.ID)
}

// SynthesisContext builds the template context for kind from current state
func (tx *Tx) SynthesisContext(trigger *types.Message) types.SynthesisContext {
	h := tx.e.header
	return types.SynthesisContext{
		SessionID:        h.ID,
		Title:            h.Title,
		Tags:             append([]string(nil), h.Tags...),
		ParticipantCount: len(h.Participants),
		Quorum:           tx.r.quorum,
		Trigger:          trigger,
		WarningCount:     h.WarningCount,
		Transcript:       tx.e.log.Entries(),
	}
}

func (e *entry) snapshot() *types.DebateSession {
	s := e.header.Clone()
	s.Messages = e.log.Entries()
	return s
}
