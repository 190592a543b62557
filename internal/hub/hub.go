package hub

import (
	"context"
	"log/slog"
	"sync"

	"agora/internal/metrics"
	"agora/internal/websocket"
	"agora/pkg/interfaces"
	"agora/pkg/types"
)

const (
	messageBuffer = 1000
	noticeBuffer  = 100
)

// Hub fans appended messages and notices out to live connections
// ARCHITECTURAL DISCOVERY: Central coordination point for all outbound flow.
// Producers enqueue without blocking, since messages are announced from
// inside a session's critical section.
type Hub struct {
	messageChannel  chan types.Message
	noticeChannel   chan types.Notice
	shutdownChannel chan struct{}
	done            chan struct{}

	registry *websocket.Registry
	metrics  *metrics.Metrics
	logger   *slog.Logger

	running bool
	started bool
	mu      sync.RWMutex
}

// NewHub creates a hub delivering through registry
func NewHub(registry *websocket.Registry, m *metrics.Metrics, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		messageChannel:  make(chan types.Message, messageBuffer),
		noticeChannel:   make(chan types.Notice, noticeBuffer),
		shutdownChannel: make(chan struct{}),
		done:            make(chan struct{}),
		registry:        registry,
		metrics:         m,
		logger:          logger.With("component", "hub"),
	}
}

// Start launches the delivery loop; a hub runs at most once
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running || h.started {
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.started = true

	h.logger.Info("starting hub")
	go h.run(ctx)
	return nil
}

// Stop ends the delivery loop and waits for it to exit
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false
	select {
	case <-h.shutdownChannel:
	default:
		close(h.shutdownChannel)
	}
	h.mu.Unlock()

	<-h.done
	h.logger.Info("hub stopped")
	return nil
}

// Broadcast queues msg for every connection watching its session
func (h *Hub) Broadcast(msg types.Message) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.running {
		return ErrHubNotRunning
	}

	// TECHNICAL DISCOVERY: Non-blocking send prevents a slow hub from stalling sessions
	select {
	case h.messageChannel <- msg:
		return nil
	default:
		return ErrMessageChannelFull
	}
}

// Publish queues a notice for delivery
func (h *Hub) Publish(notice types.Notice) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.running {
		return ErrHubNotRunning
	}

	select {
	case h.noticeChannel <- notice:
		return nil
	default:
		return ErrNoticeChannelFull
	}
}

// MessageAppended lets the hub observe session logs
func (h *Hub) MessageAppended(msg types.Message) {
	if err := h.Broadcast(msg); err != nil {
		h.metrics.Dropped(websocket.EnvelopeMessage)
		h.logger.Warn("message fan-out dropped", "session_id", msg.SessionID, "position", msg.Position, "error", err)
	}
}

var _ interfaces.Notifier = (*Hub)(nil)

// Notify lets the hub act as a notice sink
func (h *Hub) Notify(ctx context.Context, notice types.Notice) {
	if err := h.Publish(notice); err != nil {
		h.metrics.Dropped(websocket.EnvelopeNotice)
		h.logger.Debug("notice fan-out dropped", "error", err)
	}
}

// run is the delivery loop
// TECHNICAL DISCOVERY: Single select loop keeps per-connection ordering equal
// to enqueue order
func (h *Hub) run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case msg := <-h.messageChannel:
			h.deliver(h.registry.SessionConnections(msg.SessionID), websocket.MessageEnvelope(msg), websocket.EnvelopeMessage)

		case notice := <-h.noticeChannel:
			h.deliver(h.noticeTargets(notice), websocket.NoticeEnvelope(notice), websocket.EnvelopeNotice)

		case <-h.shutdownChannel:
			return

		case <-ctx.Done():
			h.mu.Lock()
			h.running = false
			h.mu.Unlock()
			return
		}
	}
}

// noticeTargets picks the recipients. A notice naming a participant and a
// session goes to that one socket, falling back to the participant's other
// connections when they are not watching it. A participant alone reaches all
// of their connections, a session alone reaches everyone watching it.
func (h *Hub) noticeTargets(notice types.Notice) []interfaces.Connection {
	if notice.ParticipantID != "" {
		if notice.SessionID != "" {
			if conn, ok := h.registry.Connection(notice.SessionID, notice.ParticipantID); ok {
				return []interfaces.Connection{conn}
			}
		}
		return h.registry.ParticipantConnections(notice.ParticipantID)
	}
	if notice.SessionID != "" {
		return h.registry.SessionConnections(notice.SessionID)
	}
	return nil
}

// deliver writes env to each connection; a failing connection is dropped
func (h *Hub) deliver(conns []interfaces.Connection, env websocket.Envelope, kind string) {
	for _, conn := range conns {
		if err := conn.WriteJSON(env); err != nil {
			h.logger.Debug("dropping unwritable connection",
				"participant_id", conn.GetParticipantID(),
				"session_id", conn.GetSessionID(),
				"error", err)
			h.registry.Unregister(conn)
			_ = conn.Close()
			continue
		}
		h.metrics.Delivered(kind)
	}
}

// Stats reports queue depths
func (h *Hub) Stats() map[string]int {
	return map[string]int{
		"queued_messages": len(h.messageChannel),
		"queued_notices":  len(h.noticeChannel),
	}
}
