package moderation

import (
	"log/slog"
	"strings"
	"time"

	"agora/internal/metrics"
	"agora/internal/session"
	"agora/pkg/types"
)

// DefaultWarningLimit is the violation count that ends a session
const DefaultWarningLimit = 3

// Config holds moderation policy
type Config struct {
	Denylist     []string
	Triggers     []string
	WarningLimit int
}

// Engine inspects traffic and composes moderator messages.
// ARCHITECTURAL DISCOVERY: Classification and composition are separate
// capabilities so a model-backed classifier can replace the keyword one
// without touching the templates, and vice versa.
type Engine struct {
	classifier   Classifier
	composer     Composer
	triggers     map[string]bool
	warningLimit int
	metrics      *metrics.Metrics
	logger       *slog.Logger
}

// Option configures an Engine
type Option func(*Engine)

func WithClassifier(c Classifier) Option {
	return func(e *Engine) { e.classifier = c }
}

func WithComposer(c Composer) Option {
	return func(e *Engine) { e.composer = c }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewEngine creates an engine with the keyword classifier and template
// composer unless options replace them
func NewEngine(cfg Config, opts ...Option) *Engine {
	triggers := cfg.Triggers
	if len(triggers) == 0 {
		triggers = DefaultTriggers
	}
	limit := cfg.WarningLimit
	if limit <= 0 {
		limit = DefaultWarningLimit
	}
	e := &Engine{
		classifier:   NewKeywordClassifier(cfg.Denylist),
		composer:     TemplateComposer{},
		triggers:     make(map[string]bool, len(triggers)),
		warningLimit: limit,
		logger:       slog.Default(),
	}
	for _, t := range triggers {
		e.triggers[strings.ToLower(strings.TrimSpace(t))] = true
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "moderation")
	return e
}

// WarningLimit returns the number of violations that ends a session
func (e *Engine) WarningLimit() int {
	return e.warningLimit
}

// Classify delegates to the configured classifier
func (e *Engine) Classify(content string) Classification {
	return e.classifier.Classify(content)
}

// ShouldRespond reports whether a message warrants an advisory: it asks a
// question, addresses the moderator by a trigger word, or was prohibited
func (e *Engine) ShouldRespond(content string, prohibited bool) bool {
	if prohibited || strings.Contains(content, "?") {
		return true
	}
	for _, w := range words(content) {
		if e.triggers[w] {
			return true
		}
	}
	return false
}

// Synthesize builds a moderator message of the given kind
func (e *Engine) Synthesize(kind types.SynthesisKind, sc types.SynthesisContext) (types.Message, error) {
	sc.WarningLimit = e.warningLimit
	content, err := e.composer.Compose(kind, sc)
	if err != nil {
		return types.Message{}, err
	}
	if strings.TrimSpace(content) == "" {
		return types.Message{}, ErrEmptyOutput
	}
	moderator := types.Moderator()
	return types.Message{
		SessionID:     sc.SessionID,
		SenderID:      moderator.ID,
		SenderName:    moderator.Name,
		SenderAvatar:  moderator.Avatar,
		Content:       content,
		Timestamp:     time.Now().UTC(),
		IsSynthesized: true,
		Kind:          kind,
	}, nil
}

// Summarize returns the closing digest stored on the session
func (e *Engine) Summarize(sc types.SynthesisContext) string {
	sc.WarningLimit = e.warningLimit
	return e.composer.Digest(sc)
}

// RecordViolation counts a violation against the session in tx. When the
// count reaches the limit the session is ended, the termination message is
// appended, the digest is stored and the log is sealed, all inside the
// caller's critical section. Reports whether this call terminated it.
func (e *Engine) RecordViolation(tx *session.Tx) bool {
	if !tx.IsActive() {
		return false
	}
	count := tx.IncrementWarnings()
	e.metrics.Violation()
	e.logger.Info("violation recorded", "session_id", tx.ID(), "warnings", count, "limit", e.warningLimit)
	if count < e.warningLimit {
		return false
	}

	tx.End(types.EndReasonViolations)
	sc := tx.SynthesisContext(nil)
	msg, err := e.Synthesize(types.KindTermination, sc)
	if err != nil {
		e.logger.Error("failed to compose termination message", "session_id", tx.ID(), "error", err)
	} else if _, err := tx.AppendSynthesized(msg); err != nil {
		e.logger.Error("failed to append termination message", "session_id", tx.ID(), "error", err)
	}
	tx.SetSummary(e.Summarize(sc))
	tx.Seal()
	e.metrics.Termination()
	e.logger.Warn("session terminated", "session_id", tx.ID(), "warnings", count)
	return true
}
