package notify

import (
	"context"
	"log/slog"

	"agora/pkg/interfaces"
	"agora/pkg/types"
)

// LogNotifier writes notices to the structured log
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a notifier logging through logger
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger.With("component", "notice")}
}

func (n *LogNotifier) Notify(ctx context.Context, notice types.Notice) {
	level := slog.LevelInfo
	if notice.Level == types.NoticeError {
		level = slog.LevelWarn
	}
	n.logger.Log(ctx, level, notice.Message,
		"notice_level", string(notice.Level),
		"session_id", notice.SessionID,
		"participant_id", notice.ParticipantID,
	)
}

// Multi fans a notice out to every notifier. A panicking notifier is
// logged and skipped so delivery never reaches back into the caller.
type Multi struct {
	notifiers []interfaces.Notifier
	logger    *slog.Logger
}

// NewMulti combines notifiers; nil entries are ignored
func NewMulti(logger *slog.Logger, notifiers ...interfaces.Notifier) *Multi {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Multi{logger: logger}
	for _, n := range notifiers {
		if n != nil {
			m.notifiers = append(m.notifiers, n)
		}
	}
	return m
}

func (m *Multi) Notify(ctx context.Context, notice types.Notice) {
	for _, n := range m.notifiers {
		m.safeNotify(ctx, n, notice)
	}
}

func (m *Multi) safeNotify(ctx context.Context, n interfaces.Notifier, notice types.Notice) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("notifier panicked", "panic", r)
		}
	}()
	n.Notify(ctx, notice)
}
