package types

import (
	"time"
)

// Reserved moderator identity used as the sender of every synthesized message
const (
	ModeratorID     = "moderator"
	ModeratorName   = "DebateAI"
	ModeratorAvatar = "https://api.dicebear.com/7.x/bottts/svg?seed=AI"
)

// SessionStatus is the lifecycle state of a debate session
type SessionStatus string

const (
	SessionPending SessionStatus = "pending"
	SessionActive  SessionStatus = "active"
	SessionEnded   SessionStatus = "ended"
)

// ProposalStatus is the review state of a debate proposal
type ProposalStatus string

const (
	ProposalPending  ProposalStatus = "pending"
	ProposalApproved ProposalStatus = "approved"
	ProposalRejected ProposalStatus = "rejected"
)

// SynthesisKind names the moderator message templates
type SynthesisKind string

const (
	KindWelcome     SynthesisKind = "welcome"
	KindJoinNotice  SynthesisKind = "join_notice"
	KindAdvisory    SynthesisKind = "advisory"
	KindSummary     SynthesisKind = "summary"
	KindTermination SynthesisKind = "termination"
)

// EndReason records why a session reached the ended state
type EndReason string

const (
	EndReasonHost       EndReason = "host"
	EndReasonViolations EndReason = "violations"
)

// NoticeLevel classifies user-facing notices
type NoticeLevel string

const (
	NoticeSuccess NoticeLevel = "success"
	NoticeError   NoticeLevel = "error"
	NoticeInfo    NoticeLevel = "info"
)

// Participant is a roster entry; participants are never removed from a session
type Participant struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
}

// Moderator returns the participant record used for synthesized messages
func Moderator() Participant {
	return Participant{ID: ModeratorID, Name: ModeratorName, Avatar: ModeratorAvatar}
}

// Message is one immutable entry of a session's message log.
// FUNCTIONAL DISCOVERY: Position is assigned by the log on append and is
// strictly increasing per session, so clients can detect gaps on replay.
type Message struct {
	ID            string        `json:"id"`
	SessionID     string        `json:"session_id"`
	Position      int           `json:"position"`
	SenderID      string        `json:"sender_id"`
	SenderName    string        `json:"sender_name"`
	SenderAvatar  string        `json:"sender_avatar"`
	Content       string        `json:"content"`
	Timestamp     time.Time     `json:"timestamp"`
	IsSynthesized bool          `json:"is_synthesized"`
	Kind          SynthesisKind `json:"kind,omitempty"`
}

// DebateSession is one live or concluded moderated discussion
type DebateSession struct {
	ID            string        `json:"id"`
	ProposalID    string        `json:"proposal_id,omitempty"`
	Title         string        `json:"title"`
	Description   string        `json:"description"`
	HostID        string        `json:"host_id"`
	HostName      string        `json:"host_name"`
	HostAvatar    string        `json:"host_avatar"`
	Participants  []Participant `json:"participants"`
	Messages      []Message     `json:"messages"`
	Status        SessionStatus `json:"status"`
	CreatedAt     time.Time     `json:"created_at"`
	EndedAt       *time.Time    `json:"ended_at,omitempty"`
	EndReason     EndReason     `json:"end_reason,omitempty"`
	Tags          []string      `json:"tags"`
	Code          string        `json:"code"`
	Summary       string        `json:"summary,omitempty"`
	WarningCount  int           `json:"warning_count"`
	QuorumReached bool          `json:"quorum_reached"`
}

// IsActive reports whether the session still accepts messages
func (s *DebateSession) IsActive() bool {
	return s.Status == SessionActive
}

// HasParticipant reports whether id is already on the roster
func (s *DebateSession) HasParticipant(id string) bool {
	for _, p := range s.Participants {
		if p.ID == id {
			return true
		}
	}
	return false
}

// Clone returns a deep copy safe to hand out of a critical section
func (s *DebateSession) Clone() *DebateSession {
	if s == nil {
		return nil
	}
	c := *s
	c.Participants = append([]Participant(nil), s.Participants...)
	c.Messages = append([]Message(nil), s.Messages...)
	c.Tags = append([]string(nil), s.Tags...)
	if s.EndedAt != nil {
		t := *s.EndedAt
		c.EndedAt = &t
	}
	return &c
}

// DebateProposal is a request to open a session, subject to approval.
// FUNCTIONAL DISCOVERY: Code is written once at the pending->approved
// transition; SessionID is written once at promotion.
type DebateProposal struct {
	ID              string         `json:"id"`
	RequesterID     string         `json:"requester_id"`
	RequesterName   string         `json:"requester_name"`
	RequesterAvatar string         `json:"requester_avatar"`
	Title           string         `json:"title"`
	Description     string         `json:"description"`
	Tags            []string       `json:"tags"`
	Status          ProposalStatus `json:"status"`
	CreatedAt       time.Time      `json:"created_at"`
	Code            string         `json:"code,omitempty"`
	SessionID       string         `json:"session_id,omitempty"`
}

// Clone returns a copy of the proposal with its own tag slice
func (p *DebateProposal) Clone() *DebateProposal {
	if p == nil {
		return nil
	}
	c := *p
	c.Tags = append([]string(nil), p.Tags...)
	return &c
}

// Requester returns the proposal author as a participant
func (p *DebateProposal) Requester() Participant {
	return Participant{ID: p.RequesterID, Name: p.RequesterName, Avatar: p.RequesterAvatar}
}

// Notice is a fire-and-forget, user-facing outcome report
type Notice struct {
	Level         NoticeLevel `json:"level"`
	Message       string      `json:"message"`
	SessionID     string      `json:"session_id,omitempty"`
	ParticipantID string      `json:"participant_id,omitempty"`
	Timestamp     time.Time   `json:"timestamp"`
}

// SynthesisContext carries everything a moderator template may reference
type SynthesisContext struct {
	SessionID        string
	Title            string
	Tags             []string
	ParticipantCount int
	Quorum           int
	Newcomer         *Participant
	Trigger          *Message
	Categories       []string
	WarningCount     int
	WarningLimit     int
	Transcript       []Message
}
