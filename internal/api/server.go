package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"runtime"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"agora/internal/identity"
	"agora/internal/ratelimit"
	"agora/internal/session"
	"agora/pkg/interfaces"
	"agora/pkg/types"
)

// Debates is the participant-facing surface the API exposes over HTTP
type Debates interface {
	SubmitProposal(ctx context.Context, title, description string, tags []string) (*types.DebateProposal, error)
	RejectProposal(ctx context.Context, proposalID string) error
	StartDebate(ctx context.Context, proposalID string) (*types.DebateSession, error)
	JoinDebate(ctx context.Context, sessionID string) (*types.DebateSession, error)
	EndDebate(ctx context.Context, sessionID, note string) (*types.DebateSession, error)
	SendMessage(ctx context.Context, sessionID, content string) (types.Message, error)
	GetSession(ctx context.Context, sessionID string) (*types.DebateSession, error)
	ListSessions(ctx context.Context, opts session.ListOptions) []*types.DebateSession
	GetProposal(ctx context.Context, proposalID string) (*types.DebateProposal, error)
	ListMyProposals(ctx context.Context) ([]*types.DebateProposal, error)
}

// HealthChecker reports storage reachability
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Connections exposes live WebSocket counts without coupling to the registry type
type Connections interface {
	SessionConnections(sessionID string) []interfaces.Connection
	GetStats() map[string]int
}

// StatsProvider is any component that reports runtime counters for /health
type StatsProvider interface {
	Stats() map[string]interface{}
}

// Config wires the server's collaborators. WebSocket and Metrics are
// optional handlers mounted beside the REST routes.
type Config struct {
	Debates        Debates
	Database       HealthChecker
	Connections    Connections
	Sessions       StatsProvider
	Limiter        *ratelimit.Limiter
	WebSocket      http.Handler
	Metrics        http.Handler
	MetricsPath    string
	AllowedOrigins []string
	Logger         *slog.Logger
}

// ARCHITECTURAL DISCOVERY: HTTP API layer serves as pure interface between external clients and internal components
// Clean separation - no business logic, only HTTP handling and JSON serialization
type Server struct {
	debates     Debates
	database    HealthChecker
	connections Connections
	sessions    StatsProvider
	limiter     *ratelimit.Limiter
	logger      *slog.Logger
	started     time.Time
	router      *mux.Router
	handler     http.Handler
}

// NewServer builds the router and wraps it with CORS and identity middleware
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		debates:     cfg.Debates,
		database:    cfg.Database,
		connections: cfg.Connections,
		sessions:    cfg.Sessions,
		limiter:     cfg.Limiter,
		logger:      logger.With("component", "api"),
		started:     time.Now(),
		router:      mux.NewRouter(),
	}
	s.setupRoutes(cfg)

	c := cors.New(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{
			"Content-Type",
			identity.HeaderParticipantID,
			identity.HeaderParticipantName,
			identity.HeaderParticipantAvatar,
		},
		MaxAge: 86400,
	})
	s.handler = c.Handler(identity.Middleware(s.router))
	return s
}

// ARCHITECTURAL DISCOVERY: Route setup follows REST conventions; proposals
// and sessions are separate resources linked by the promotion action
func (s *Server) setupRoutes(cfg Config) {
	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(jsonMiddleware)

	api.HandleFunc("/proposals", s.submitProposal).Methods(http.MethodPost)
	api.HandleFunc("/proposals", s.listProposals).Methods(http.MethodGet)
	api.HandleFunc("/proposals/{id}", s.getProposal).Methods(http.MethodGet)
	api.HandleFunc("/proposals/{id}/reject", s.rejectProposal).Methods(http.MethodPost)
	api.HandleFunc("/proposals/{id}/start", s.startDebate).Methods(http.MethodPost)

	api.HandleFunc("/sessions", s.listSessions).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}", s.getSession).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}/join", s.joinSession).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/end", s.endSession).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/messages", s.sendMessage).Methods(http.MethodPost)

	s.router.Handle("/health", jsonMiddleware(http.HandlerFunc(s.healthCheck))).Methods(http.MethodGet)
	if cfg.WebSocket != nil {
		s.router.Handle("/ws/sessions/{id}", cfg.WebSocket).Methods(http.MethodGet)
	}
	if cfg.Metrics != nil {
		path := cfg.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		s.router.Handle(path, cfg.Metrics).Methods(http.MethodGet)
	}

	s.router.NotFoundHandler = jsonMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sendError(w, "Route not found", http.StatusNotFound)
	}))
	s.router.MethodNotAllowedHandler = jsonMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}))
}

// FUNCTIONAL DISCOVERY: Implement http.Handler interface for integration with standard HTTP server
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Request/Response types for JSON serialization
type SubmitProposalRequest struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Tags        TagList `json:"tags"`
}

// TagList accepts either a JSON array or a comma-separated string
type TagList []string

func (t *TagList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var raw string
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		*t = types.ParseTags(raw)
		return nil
	}
	var tags []string
	if err := json.Unmarshal(data, &tags); err != nil {
		return err
	}
	*t = tags
	return nil
}

type EndSessionRequest struct {
	Note string `json:"note"`
}

type SendMessageRequest struct {
	Content string `json:"content"`
}

type ProposalResponse struct {
	Proposal *types.DebateProposal `json:"proposal"`
}

type ListProposalsResponse struct {
	Proposals []*types.DebateProposal `json:"proposals"`
}

type SessionResponse struct {
	Session         *types.DebateSession `json:"session"`
	ConnectionCount int                  `json:"connection_count"`
}

type ListSessionsResponse struct {
	Sessions []SessionWithConnections `json:"sessions"`
}

type SessionWithConnections struct {
	*types.DebateSession
	ConnectionCount int `json:"connection_count"`
}

type MessageResponse struct {
	Message types.Message `json:"message"`
}

type HealthResponse struct {
	Status      string                 `json:"status"`
	Timestamp   time.Time              `json:"timestamp"`
	Database    string                 `json:"database"`
	Connections map[string]int         `json:"connections"`
	Sessions    map[string]interface{} `json:"sessions,omitempty"`
	System      map[string]interface{} `json:"system"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// POST /api/proposals
func (s *Server) submitProposal(w http.ResponseWriter, r *http.Request) {
	var req SubmitProposalRequest
	if !decodeBody(w, r, &req) {
		return
	}
	prop, err := s.debates.SubmitProposal(r.Context(), req.Title, req.Description, req.Tags)
	if err != nil {
		s.sendServiceError(w, "Failed to create debate request", err)
		return
	}
	writeJSON(w, http.StatusCreated, ProposalResponse{Proposal: prop})
}

// GET /api/proposals returns the caller's own requests
func (s *Server) listProposals(w http.ResponseWriter, r *http.Request) {
	props, err := s.debates.ListMyProposals(r.Context())
	if err != nil {
		s.sendServiceError(w, "Failed to list debate requests", err)
		return
	}
	if props == nil {
		props = []*types.DebateProposal{}
	}
	writeJSON(w, http.StatusOK, ListProposalsResponse{Proposals: props})
}

// GET /api/proposals/{id}
func (s *Server) getProposal(w http.ResponseWriter, r *http.Request) {
	prop, err := s.debates.GetProposal(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.sendServiceError(w, "Failed to get debate request", err)
		return
	}
	writeJSON(w, http.StatusOK, ProposalResponse{Proposal: prop})
}

// POST /api/proposals/{id}/reject
func (s *Server) rejectProposal(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.debates.RejectProposal(r.Context(), id); err != nil {
		s.sendServiceError(w, "Failed to reject debate request", err)
		return
	}
	prop, err := s.debates.GetProposal(r.Context(), id)
	if err != nil {
		s.sendServiceError(w, "Failed to get debate request", err)
		return
	}
	writeJSON(w, http.StatusOK, ProposalResponse{Proposal: prop})
}

// POST /api/proposals/{id}/start promotes an approved request into a session
func (s *Server) startDebate(w http.ResponseWriter, r *http.Request) {
	sess, err := s.debates.StartDebate(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.sendServiceError(w, "Failed to start debate session", err)
		return
	}
	writeJSON(w, http.StatusCreated, SessionResponse{Session: sess})
}

// GET /api/sessions?status=&q=&sort=
func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := session.ListOptions{
		Status: types.SessionStatus(q.Get("status")),
		Query:  q.Get("q"),
		Sort:   q.Get("sort"),
	}
	switch opts.Status {
	case "", types.SessionPending, types.SessionActive, types.SessionEnded:
	default:
		sendError(w, fmt.Sprintf("Unknown status %q", opts.Status), http.StatusBadRequest)
		return
	}
	switch opts.Sort {
	case "", "new", "popular":
	default:
		sendError(w, fmt.Sprintf("Unknown sort %q", opts.Sort), http.StatusBadRequest)
		return
	}

	sessions := s.debates.ListSessions(r.Context(), opts)
	out := make([]SessionWithConnections, len(sessions))
	for i, sess := range sessions {
		out[i] = SessionWithConnections{
			DebateSession:   sess,
			ConnectionCount: s.connectionCount(sess.ID),
		}
	}
	writeJSON(w, http.StatusOK, ListSessionsResponse{Sessions: out})
}

// GET /api/sessions/{id}
func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.debates.GetSession(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.sendServiceError(w, "Failed to get debate session", err)
		return
	}
	writeJSON(w, http.StatusOK, SessionResponse{Session: sess, ConnectionCount: s.connectionCount(sess.ID)})
}

// POST /api/sessions/{id}/join
func (s *Server) joinSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.debates.JoinDebate(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.sendServiceError(w, "Failed to join debate session", err)
		return
	}
	writeJSON(w, http.StatusOK, SessionResponse{Session: sess, ConnectionCount: s.connectionCount(sess.ID)})
}

// POST /api/sessions/{id}/end with an optional closing note
func (s *Server) endSession(w http.ResponseWriter, r *http.Request) {
	var req EndSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	sess, err := s.debates.EndDebate(r.Context(), mux.Vars(r)["id"], req.Note)
	if err != nil {
		s.sendServiceError(w, "Failed to end debate session", err)
		return
	}
	writeJSON(w, http.StatusOK, SessionResponse{Session: sess, ConnectionCount: s.connectionCount(sess.ID)})
}

// POST /api/sessions/{id}/messages shares the WebSocket send limit
func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if p, ok := identity.FromContext(r.Context()); ok && s.limiter != nil && !s.limiter.Allow(p.ID) {
		sendError(w, ratelimit.ErrRateLimitExceeded.Error(), http.StatusTooManyRequests)
		return
	}
	msg, err := s.debates.SendMessage(r.Context(), mux.Vars(r)["id"], req.Content)
	if err != nil {
		s.sendServiceError(w, "Failed to send message", err)
		return
	}
	writeJSON(w, http.StatusCreated, MessageResponse{Message: msg})
}

// FUNCTIONAL DISCOVERY: GET /health - System health check with component validation
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	dbStatus := "healthy"
	if s.database != nil {
		if err := s.database.HealthCheck(ctx); err != nil {
			status = "unhealthy"
			dbStatus = fmt.Sprintf("error: %v", err)
		}
	}

	response := HealthResponse{
		Status:      status,
		Timestamp:   time.Now().UTC(),
		Database:    dbStatus,
		Connections: map[string]int{},
		System: map[string]interface{}{
			"goroutines":     runtime.NumGoroutine(),
			"uptime_seconds": int(time.Since(s.started).Seconds()),
		},
	}
	if s.connections != nil {
		response.Connections = s.connections.GetStats()
	}
	if s.sessions != nil {
		response.Sessions = s.sessions.Stats()
	}

	code := http.StatusOK
	if status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, response)
}

func (s *Server) connectionCount(sessionID string) int {
	if s.connections == nil {
		return 0
	}
	return len(s.connections.SessionConnections(sessionID))
}

// sendServiceError maps domain errors to status codes; anything that is not
// a caller mistake is logged and reported as a generic failure
func (s *Server) sendServiceError(w http.ResponseWriter, message string, err error) {
	code := StatusFor(err)
	if code == http.StatusInternalServerError {
		s.logger.Error(message, "error", err)
		sendError(w, message, code)
		return
	}
	sendError(w, err.Error(), code)
}

// StatusFor returns the HTTP status code for a service error
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, interfaces.ErrNoIdentity):
		return http.StatusUnauthorized
	case errors.Is(err, types.ErrSessionNotFound), errors.Is(err, types.ErrProposalNotFound):
		return http.StatusNotFound
	case errors.Is(err, types.ErrSessionNotActive),
		errors.Is(err, types.ErrNotApproved),
		errors.Is(err, types.ErrAlreadyPromoted):
		return http.StatusConflict
	case errors.Is(err, ratelimit.ErrRateLimitExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, types.ErrValidation),
		errors.Is(err, types.ErrEmptyContent),
		errors.Is(err, types.ErrContentTooLarge),
		errors.Is(err, types.ErrInvalidContent),
		errors.Is(err, types.ErrInvalidParticipant):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		sendError(w, "Invalid JSON", http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// FUNCTIONAL DISCOVERY: Consistent error response format
func sendError(w http.ResponseWriter, message string, code int) {
	writeJSON(w, code, ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

// FUNCTIONAL DISCOVERY: JSON middleware ensures proper content-type headers
func jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
