package websocket

import (
	"time"

	"agora/pkg/types"
)

// Envelope types sent to clients
const (
	EnvelopeMessage = "message"
	EnvelopeNotice  = "notice"
	EnvelopeSystem  = "system"
	EnvelopeError   = "error"
)

// System events
const (
	EventHistoryComplete    = "history_complete"
	EventHistoryUnavailable = "history_unavailable"
)

// Envelope is the single frame shape written to clients
type Envelope struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

// SystemEvent is the payload of system envelopes
type SystemEvent struct {
	Event        string `json:"event"`
	Message      string `json:"message"`
	SessionID    string `json:"session_id,omitempty"`
	LastPosition int    `json:"last_position,omitempty"`
}

// ErrorPayload is the payload of error envelopes
type ErrorPayload struct {
	Message string `json:"message"`
}

// ClientFrame is what clients send: a chat line for the connected session
type ClientFrame struct {
	Content string `json:"content"`
}

func MessageEnvelope(msg types.Message) Envelope {
	return Envelope{Type: EnvelopeMessage, Data: msg, Timestamp: msg.Timestamp}
}

func NoticeEnvelope(notice types.Notice) Envelope {
	ts := notice.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return Envelope{Type: EnvelopeNotice, Data: notice, Timestamp: ts}
}

func SystemEnvelope(ev SystemEvent) Envelope {
	return Envelope{Type: EnvelopeSystem, Data: ev, Timestamp: time.Now().UTC()}
}

func ErrorEnvelope(message string) Envelope {
	return Envelope{Type: EnvelopeError, Data: ErrorPayload{Message: message}, Timestamp: time.Now().UTC()}
}
