package debate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"agora/internal/metrics"
	"agora/internal/moderation"
	"agora/internal/proposal"
	"agora/internal/session"
	"agora/pkg/interfaces"
	"agora/pkg/types"
)

// DefaultAdvisoryDelay is how long the moderator waits before answering
const DefaultAdvisoryDelay = 1500 * time.Millisecond

const terminationNotice = "Debate session terminated due to policy violations"

// Config wires the facade's collaborators
type Config struct {
	Identity      interfaces.IdentityProvider
	Pipeline      *proposal.Pipeline
	Registry      *session.Registry
	Engine        *moderation.Engine
	Notifier      interfaces.Notifier
	Metrics       *metrics.Metrics
	Logger        *slog.Logger
	AdvisoryDelay time.Duration
}

// Service is the participant-facing surface of the debate engine.
// Every operation resolves the caller through the identity provider and
// reports its outcome as a notice; notices never influence core state.
type Service struct {
	identity      interfaces.IdentityProvider
	pipeline      *proposal.Pipeline
	registry      *session.Registry
	engine        *moderation.Engine
	notifier      interfaces.Notifier
	metrics       *metrics.Metrics
	logger        *slog.Logger
	advisoryDelay time.Duration
}

// NewService creates the facade
func NewService(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		identity:      cfg.Identity,
		pipeline:      cfg.Pipeline,
		registry:      cfg.Registry,
		engine:        cfg.Engine,
		notifier:      cfg.Notifier,
		metrics:       cfg.Metrics,
		logger:        logger.With("component", "debate"),
		advisoryDelay: cfg.AdvisoryDelay,
	}
}

// SubmitProposal files a debate request on behalf of the caller
func (s *Service) SubmitProposal(ctx context.Context, title, description string, tags []string) (*types.DebateProposal, error) {
	caller, err := s.caller(ctx)
	if err != nil {
		s.fail(ctx, "Failed to create debate request", "", "", err)
		return nil, err
	}
	prop, err := s.pipeline.Submit(ctx, caller, title, description, tags)
	if err != nil {
		s.fail(ctx, "Failed to create debate request", "", caller.ID, err)
		return nil, err
	}
	s.notify(ctx, types.NoticeSuccess, "Debate request created successfully", "", caller.ID)
	return prop, nil
}

// RejectProposal declines a pending request
func (s *Service) RejectProposal(ctx context.Context, proposalID string) error {
	caller, err := s.caller(ctx)
	if err != nil {
		s.fail(ctx, "Failed to reject debate request", "", "", err)
		return err
	}
	if _, err := s.pipeline.Get(ctx, proposalID); err != nil {
		s.fail(ctx, "Failed to reject debate request", "", caller.ID, err)
		return err
	}
	if !s.pipeline.Reject(ctx, proposalID) {
		err := fmt.Errorf("%w: proposal is no longer pending", types.ErrValidation)
		s.fail(ctx, "Failed to reject debate request", "", caller.ID, err)
		return err
	}
	s.notify(ctx, types.NoticeSuccess, "Debate request rejected", "", caller.ID)
	return nil
}

// StartDebate promotes an approved proposal into a live session
func (s *Service) StartDebate(ctx context.Context, proposalID string) (*types.DebateSession, error) {
	caller, err := s.caller(ctx)
	if err != nil {
		s.fail(ctx, "Failed to start debate session", "", "", err)
		return nil, err
	}
	sess, err := s.pipeline.Promote(ctx, proposalID)
	if err != nil {
		s.fail(ctx, "Failed to start debate session", "", caller.ID, err)
		return nil, err
	}
	s.notify(ctx, types.NoticeSuccess, "Debate session started", sess.ID, caller.ID)
	return sess, nil
}

// JoinDebate adds the caller to a session's roster. Joining a session the
// caller is already part of succeeds without a notice.
func (s *Service) JoinDebate(ctx context.Context, sessionID string) (*types.DebateSession, error) {
	caller, err := s.caller(ctx)
	if err != nil {
		s.fail(ctx, "Failed to join debate session", sessionID, "", err)
		return nil, err
	}
	sess, added, err := s.registry.Join(ctx, sessionID, caller)
	if err != nil {
		s.fail(ctx, "Failed to join debate session", sessionID, caller.ID, err)
		return nil, err
	}
	if added {
		s.notify(ctx, types.NoticeSuccess, "Joined debate session", sessionID, caller.ID)
	}
	return sess, nil
}

// EndDebate closes an active session with the caller's closing note
func (s *Service) EndDebate(ctx context.Context, sessionID, note string) (*types.DebateSession, error) {
	caller, err := s.caller(ctx)
	if err != nil {
		s.fail(ctx, "Failed to end debate session", sessionID, "", err)
		return nil, err
	}
	sess, ended, err := s.registry.End(ctx, sessionID, caller, note)
	if err == nil && !ended {
		err = types.ErrSessionNotActive
	}
	if err != nil {
		s.fail(ctx, "Failed to end debate session", sessionID, caller.ID, err)
		return nil, err
	}
	s.notify(ctx, types.NoticeSuccess, "Debate session ended", sessionID, caller.ID)
	return sess, nil
}

// SendMessage appends the caller's message and runs it through moderation.
// ARCHITECTURAL DISCOVERY: Append, classification and violation accounting
// share one critical section, so the message that reaches the warning limit
// is followed directly by the termination message and nothing else.
func (s *Service) SendMessage(ctx context.Context, sessionID, content string) (types.Message, error) {
	caller, err := s.caller(ctx)
	if err != nil {
		s.fail(ctx, "Failed to send message", sessionID, "", err)
		return types.Message{}, err
	}

	var (
		msg        types.Message
		verdict    moderation.Classification
		terminated bool
	)
	err = s.registry.Update(ctx, sessionID, func(tx *session.Tx) error {
		if !tx.IsActive() {
			return types.ErrSessionNotActive
		}
		if err := types.ValidateContent(content); err != nil {
			return err
		}
		appended, err := tx.Append(caller, content)
		if err != nil {
			return err
		}
		msg = appended
		verdict = s.engine.Classify(content)
		if verdict.Prohibited {
			terminated = s.engine.RecordViolation(tx)
		}
		return nil
	})
	if errors.Is(err, types.ErrSessionNotFound) {
		// Evicted sessions are still known to the archive
		if _, gerr := s.registry.Get(ctx, sessionID); gerr == nil {
			err = types.ErrSessionNotActive
		}
	}
	if err != nil {
		s.fail(ctx, "Failed to send message", sessionID, caller.ID, err)
		return types.Message{}, err
	}

	if verdict.Prohibited {
		s.logger.Info("prohibited content", "session_id", sessionID, "participant_id", caller.ID, "matched", verdict.Matched)
	}
	if terminated {
		s.notify(ctx, types.NoticeInfo, terminationNotice, sessionID, "")
		return msg, nil
	}
	if s.engine.ShouldRespond(content, verdict.Prohibited) {
		trigger := msg
		s.registry.Synthesize(ctx, sessionID, session.Request{
			Kind:       types.KindAdvisory,
			Delay:      s.advisoryDelay,
			Trigger:    &trigger,
			Categories: verdict.Categories,
		})
	}
	return msg, nil
}

// GetSession returns a snapshot of the session
func (s *Service) GetSession(ctx context.Context, sessionID string) (*types.DebateSession, error) {
	return s.registry.Get(ctx, sessionID)
}

// ListSessions returns sessions matching opts
func (s *Service) ListSessions(ctx context.Context, opts session.ListOptions) []*types.DebateSession {
	return s.registry.List(ctx, opts)
}

// GetProposal returns a proposal by ID
func (s *Service) GetProposal(ctx context.Context, proposalID string) (*types.DebateProposal, error) {
	return s.pipeline.Get(ctx, proposalID)
}

// ListMyProposals returns the caller's requests, newest first
func (s *Service) ListMyProposals(ctx context.Context) ([]*types.DebateProposal, error) {
	caller, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	return s.pipeline.ListByRequester(ctx, caller.ID), nil
}

func (s *Service) caller(ctx context.Context) (types.Participant, error) {
	if s.identity == nil {
		return types.Participant{}, interfaces.ErrNoIdentity
	}
	p, err := s.identity.CurrentParticipant(ctx)
	if err != nil {
		return types.Participant{}, err
	}
	if err := p.Validate(); err != nil {
		return types.Participant{}, err
	}
	return p, nil
}

func (s *Service) fail(ctx context.Context, message, sessionID, participantID string, err error) {
	s.logger.Debug(message, "session_id", sessionID, "participant_id", participantID, "error", err)
	s.notify(ctx, types.NoticeError, message, sessionID, participantID)
}

// notify delivers a notice, isolating the caller from notifier panics
func (s *Service) notify(ctx context.Context, level types.NoticeLevel, message, sessionID, participantID string) {
	s.metrics.Notice(level)
	if s.notifier == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("notifier panicked", "panic", r)
		}
	}()
	s.notifier.Notify(ctx, types.Notice{
		Level:         level,
		Message:       message,
		SessionID:     sessionID,
		ParticipantID: participantID,
		Timestamp:     time.Now().UTC(),
	})
}

// IsClientError reports whether err stems from caller input rather than a
// server fault
func IsClientError(err error) bool {
	return errors.Is(err, types.ErrValidation) ||
		errors.Is(err, types.ErrEmptyContent) ||
		errors.Is(err, types.ErrContentTooLarge) ||
		errors.Is(err, types.ErrInvalidContent) ||
		errors.Is(err, types.ErrInvalidParticipant) ||
		errors.Is(err, types.ErrSessionNotFound) ||
		errors.Is(err, types.ErrProposalNotFound) ||
		errors.Is(err, types.ErrNotApproved) ||
		errors.Is(err, types.ErrAlreadyPromoted) ||
		errors.Is(err, types.ErrSessionNotActive) ||
		errors.Is(err, interfaces.ErrNoIdentity)
}
