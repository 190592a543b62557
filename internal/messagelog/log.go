package messagelog

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"agora/pkg/types"
)

// ErrSealed is returned when appending to a log that has been closed off
var ErrSealed = errors.New("message log is sealed")

// Log is the append-only, totally ordered message sequence of one session.
// ARCHITECTURAL DISCOVERY: The log owns position assignment so ordering is
// decided in exactly one place; callers never set Position themselves.
type Log struct {
	sessionID string
	mu        sync.RWMutex
	entries   []types.Message
	sealed    bool
}

// New creates an empty log for sessionID
func New(sessionID string) *Log {
	return &Log{sessionID: sessionID}
}

// Restore rebuilds a log from persisted entries. Entries are assumed to be
// ordered by position already.
func Restore(sessionID string, entries []types.Message) *Log {
	l := New(sessionID)
	l.entries = append(l.entries, entries...)
	return l
}

// Append stamps msg with the next position, an ID and a timestamp when
// missing, and stores it. The stored copy is returned.
func (l *Log) Append(msg types.Message) (types.Message, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.sealed {
		return types.Message{}, ErrSealed
	}
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	msg.SessionID = l.sessionID
	msg.Position = len(l.entries) + 1
	l.entries = append(l.entries, msg)
	return msg, nil
}

// Seal prevents any further appends
func (l *Log) Seal() {
	l.mu.Lock()
	l.sealed = true
	l.mu.Unlock()
}

// Sealed reports whether the log accepts appends
func (l *Log) Sealed() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.sealed
}

// Entries returns a copy of the log in position order
func (l *Log) Entries() []types.Message {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]types.Message, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of entries
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Last returns the newest entry, if any
func (l *Log) Last() (types.Message, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.entries) == 0 {
		return types.Message{}, false
	}
	return l.entries[len(l.entries)-1], true
}
