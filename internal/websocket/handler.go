package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"agora/internal/debate"
	"agora/internal/identity"
	"agora/internal/ratelimit"
	"agora/pkg/interfaces"
	"agora/pkg/types"
)

// Debates is the slice of the session facade the handler drives
type Debates interface {
	GetSession(ctx context.Context, sessionID string) (*types.DebateSession, error)
	SendMessage(ctx context.Context, sessionID, content string) (types.Message, error)
}

// HandlerConfig tunes heartbeat and frame limits
type HandlerConfig struct {
	PingInterval   time.Duration
	ReadTimeout    time.Duration
	MaxFrameBytes  int64
	AllowedOrigins []string
}

// DefaultHandlerConfig returns the production heartbeat settings
// TECHNICAL DISCOVERY: 60-second read deadline with 30-second ping interval
func DefaultHandlerConfig() HandlerConfig {
	return HandlerConfig{
		PingInterval:  30 * time.Second,
		ReadTimeout:   60 * time.Second,
		MaxFrameBytes: 2 * types.MaxContentBytes,
	}
}

// Handler upgrades session watchers to WebSocket, replays the session log
// and forwards their chat frames to the session facade
type Handler struct {
	registry *Registry
	debates  Debates
	limiter  *ratelimit.Limiter
	logger   *slog.Logger
	config   HandlerConfig
	upgrader websocket.Upgrader

	mu       sync.Mutex
	stopping bool
	wg       sync.WaitGroup // replay, read pump and heartbeat goroutines
}

// NewHandler creates a handler; a nil limiter disables rate limiting
func NewHandler(registry *Registry, debates Debates, limiter *ratelimit.Limiter, config HandlerConfig, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultHandlerConfig()
	if config.PingInterval <= 0 {
		config.PingInterval = defaults.PingInterval
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = defaults.ReadTimeout
	}
	if config.MaxFrameBytes <= 0 {
		config.MaxFrameBytes = defaults.MaxFrameBytes
	}
	h := &Handler{
		registry: registry,
		debates:  debates,
		limiter:  limiter,
		logger:   logger.With("component", "websocket"),
		config:   config,
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin:      h.checkOrigin,
		HandshakeTimeout: 10 * time.Second,
	}
	return h
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if len(h.config.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.config.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// ServeHTTP validates identity and session before upgrading
// ARCHITECTURAL DISCOVERY: Validation before upgrade prevents resource waste
// on invalid requests while providing proper HTTP error responses
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]
	if sessionID == "" {
		sessionID = r.URL.Query().Get("session_id")
	}
	if sessionID == "" {
		http.Error(w, "Missing session id", http.StatusBadRequest)
		return
	}

	participant, err := identity.FromRequest(r)
	if err != nil {
		if errors.Is(err, interfaces.ErrNoIdentity) {
			http.Error(w, "Missing participant identity", http.StatusUnauthorized)
			return
		}
		http.Error(w, "Invalid participant identity", http.StatusBadRequest)
		return
	}

	if h.isStopping() {
		http.Error(w, ErrHandlerStopping.Error(), http.StatusServiceUnavailable)
		return
	}

	if _, err := h.debates.GetSession(r.Context(), sessionID); err != nil {
		if errors.Is(err, types.ErrSessionNotFound) {
			http.Error(w, "Session not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Session lookup failed", http.StatusInternalServerError)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	conn := NewConnection(ws)
	conn.SetCredentials(participant.ID, sessionID)

	// FUNCTIONAL DISCOVERY: Register before replay so nothing appended during
	// the replay is missed. Live frames are held until the replay ends, and
	// those the replay already covered are dropped.
	conn.BeginReplay()
	if err := h.registry.Register(conn); err != nil {
		h.logger.Error("failed to register connection", "error", err)
		_ = conn.Close()
		return
	}
	if !h.track(2) {
		h.registry.Unregister(conn)
		_ = conn.Close()
		return
	}
	h.logger.Debug("connection registered", "participant_id", participant.ID, "session_id", sessionID)

	ctx := identity.WithParticipant(context.Background(), participant)
	go func() {
		defer h.wg.Done()
		h.sendSessionHistory(ctx, conn)
	}()
	go func() {
		defer h.wg.Done()
		h.handleConnection(ctx, conn)
	}()
}

// Shutdown refuses new upgrades, closes every live connection and waits for
// their goroutines to exit
func (h *Handler) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.stopping = true
	h.mu.Unlock()

	closed := h.registry.CloseAll()
	h.logger.Info("websocket connections closed", "count", closed)

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Handler) isStopping() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stopping
}

// track reserves n tracked goroutines unless shutdown has begun
func (h *Handler) track(n int) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopping {
		return false
	}
	h.wg.Add(n)
	return true
}

// sendSessionHistory replays the session log followed by a completion
// marker, then opens the replay gate
func (h *Handler) sendSessionHistory(ctx context.Context, conn *Connection) {
	last := 0
	defer func() { conn.EndReplay(last) }()

	sessionID := conn.GetSessionID()
	snap, err := h.debates.GetSession(ctx, sessionID)
	if err != nil {
		h.logger.Warn("failed to load session history", "session_id", sessionID, "error", err)
		_ = conn.send(SystemEnvelope(SystemEvent{
			Event:     EventHistoryUnavailable,
			Message:   "Unable to load message history",
			SessionID: sessionID,
		}))
		return
	}

	for _, msg := range snap.Messages {
		if err := conn.send(MessageEnvelope(msg)); err != nil {
			h.logger.Debug("history replay aborted", "session_id", sessionID, "error", err)
			return
		}
		last = msg.Position
	}

	if err := conn.send(SystemEnvelope(SystemEvent{
		Event:        EventHistoryComplete,
		Message:      "Message history loaded",
		SessionID:    sessionID,
		LastPosition: last,
	})); err != nil {
		h.logger.Debug("failed to send history marker", "error", err)
	}
}

// handleConnection runs the heartbeat and the read pump until the peer leaves
func (h *Handler) handleConnection(ctx context.Context, conn *Connection) {
	defer func() {
		h.registry.Unregister(conn)
		_ = conn.Close()
	}()

	ws := conn.conn
	ws.SetReadLimit(h.config.MaxFrameBytes)
	if err := ws.SetReadDeadline(time.Now().Add(h.config.ReadTimeout)); err != nil {
		return
	}
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.config.ReadTimeout))
	})

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.pingLoop(conn)
	}()

	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket read error", "participant_id", conn.GetParticipantID(), "error", err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		h.handleFrame(ctx, conn, data)
	}
}

func (h *Handler) pingLoop(conn *Connection) {
	ticker := time.NewTicker(h.config.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := conn.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
				return
			}
		case <-conn.Done():
			return
		}
	}
}

// handleFrame forwards one chat frame. Facade failures reach the sender as
// notices; only transport-level rejections are answered here.
func (h *Handler) handleFrame(ctx context.Context, conn *Connection, data []byte) {
	if h.isStopping() {
		return
	}

	var frame ClientFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		_ = conn.WriteJSON(ErrorEnvelope(ErrInvalidFrame.Error()))
		return
	}

	participantID := conn.GetParticipantID()
	if h.limiter != nil && !h.limiter.Allow(participantID) {
		_ = conn.WriteJSON(ErrorEnvelope(ratelimit.ErrRateLimitExceeded.Error()))
		return
	}

	if _, err := h.debates.SendMessage(ctx, conn.GetSessionID(), frame.Content); err != nil {
		if debate.IsClientError(err) {
			h.logger.Debug("message rejected", "participant_id", participantID, "error", err)
			return
		}
		h.logger.Error("message send failed", "participant_id", participantID, "error", err)
	}
}
