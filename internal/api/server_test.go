package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agora/internal/debate"
	"agora/internal/identity"
	"agora/internal/metrics"
	"agora/internal/moderation"
	"agora/internal/proposal"
	"agora/internal/ratelimit"
	"agora/internal/scheduler"
	"agora/internal/session"
	"agora/internal/websocket"
	"agora/pkg/interfaces"
	"agora/pkg/types"
)

type fakeHealth struct{ err error }

func (f fakeHealth) HealthCheck(ctx context.Context) error { return f.err }

type testServer struct {
	server *Server
	sched  *scheduler.ManualScheduler
}

func newTestServer(t *testing.T, limiter *ratelimit.Limiter, health HealthChecker) *testServer {
	t.Helper()
	sched := scheduler.NewManualScheduler()
	engine := moderation.NewEngine(moderation.Config{Denylist: []string{"idiot"}, WarningLimit: 3})
	registry := session.NewRegistry(sched, engine)
	pipeline := proposal.NewPipeline(registry, sched, proposal.WithDelays(0, 0))
	svc := debate.NewService(debate.Config{
		Identity: identity.ContextProvider{},
		Pipeline: pipeline,
		Registry: registry,
		Engine:   engine,
	})

	reg := prometheus.NewRegistry()
	metrics.New(reg)
	server := NewServer(Config{
		Debates:     svc,
		Database:    health,
		Connections: websocket.NewRegistry(nil),
		Sessions:    registry,
		Limiter:     limiter,
		Metrics:     promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	})
	return &testServer{server: server, sched: sched}
}

func (ts *testServer) do(t *testing.T, method, path string, as *types.Participant, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if as != nil {
		req.Header.Set(identity.HeaderParticipantID, as.ID)
		req.Header.Set(identity.HeaderParticipantName, as.Name)
	}
	rec := httptest.NewRecorder()
	ts.server.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

var (
	host  = &types.Participant{ID: "host", Name: "Hana"}
	alice = &types.Participant{ID: "alice", Name: "Alice"}
)

// startSession submits, approves and promotes a proposal
func (ts *testServer) startSession(t *testing.T) *types.DebateSession {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/api/proposals", host, map[string]interface{}{
		"title":       "Remote work",
		"description": "Is remote work here to stay?",
		"tags":        "work, technology",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	prop := decode[ProposalResponse](t, rec).Proposal
	ts.sched.RunAll()

	rec = ts.do(t, http.MethodPost, "/api/proposals/"+prop.ID+"/start", host, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	sess := decode[SessionResponse](t, rec).Session
	ts.sched.RunAll()
	return sess
}

func TestServer_ProposalLifecycle(t *testing.T) {
	ts := newTestServer(t, nil, nil)

	rec := ts.do(t, http.MethodPost, "/api/proposals", host, SubmitProposalRequest{
		Title:       "Nuclear energy",
		Description: "Should we build more reactors?",
		Tags:        TagList{"energy"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	prop := decode[ProposalResponse](t, rec).Proposal
	assert.Equal(t, types.ProposalPending, prop.Status)
	assert.Equal(t, []string{"energy"}, prop.Tags)

	rec = ts.do(t, http.MethodPost, "/api/proposals/"+prop.ID+"/start", host, nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "pending proposals cannot start")

	rec = ts.do(t, http.MethodGet, "/api/proposals", host, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[ListProposalsResponse](t, rec).Proposals, 1)

	rec = ts.do(t, http.MethodGet, "/api/proposals", alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[ListProposalsResponse](t, rec).Proposals)

	ts.sched.RunAll()
	rec = ts.do(t, http.MethodGet, "/api/proposals/"+prop.ID, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	approved := decode[ProposalResponse](t, rec).Proposal
	assert.Equal(t, types.ProposalApproved, approved.Status)
	assert.NotEmpty(t, approved.Code)

	rec = ts.do(t, http.MethodPost, "/api/proposals/"+prop.ID+"/start", host, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	sess := decode[SessionResponse](t, rec).Session
	assert.Equal(t, approved.Code, sess.Code)

	rec = ts.do(t, http.MethodPost, "/api/proposals/"+prop.ID+"/start", host, nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "second promotion is rejected")
}

func TestServer_RejectProposal(t *testing.T) {
	ts := newTestServer(t, nil, nil)

	rec := ts.do(t, http.MethodPost, "/api/proposals", host, `{"title":"Space","description":"Mars colonies","tags":["space"]}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	prop := decode[ProposalResponse](t, rec).Proposal

	rec = ts.do(t, http.MethodPost, "/api/proposals/"+prop.ID+"/reject", host, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, types.ProposalRejected, decode[ProposalResponse](t, rec).Proposal.Status)

	rec = ts.do(t, http.MethodPost, "/api/proposals/"+prop.ID+"/reject", host, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "only pending proposals can be rejected")

	ts.sched.RunAll()
	rec = ts.do(t, http.MethodGet, "/api/proposals/"+prop.ID, nil, nil)
	assert.Equal(t, types.ProposalRejected, decode[ProposalResponse](t, rec).Proposal.Status)
}

func TestServer_SessionFlow(t *testing.T) {
	ts := newTestServer(t, nil, nil)
	sess := ts.startSession(t)
	assert.Equal(t, []string{"work", "technology"}, sess.Tags)

	rec := ts.do(t, http.MethodPost, "/api/sessions/"+sess.ID+"/join", alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[SessionResponse](t, rec).Session.HasParticipant("alice"))
	ts.sched.RunAll()

	rec = ts.do(t, http.MethodPost, "/api/sessions/"+sess.ID+"/messages", alice, SendMessageRequest{Content: "Offices still matter."})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	msg := decode[MessageResponse](t, rec).Message
	assert.Equal(t, "alice", msg.SenderID)
	assert.Greater(t, msg.Position, 0)

	rec = ts.do(t, http.MethodGet, "/api/sessions/"+sess.ID, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[SessionResponse](t, rec).Session
	require.NotEmpty(t, got.Messages)
	assert.Equal(t, msg.ID, got.Messages[len(got.Messages)-1].ID)
	assert.Equal(t, 0, decode[SessionResponse](t, rec).ConnectionCount)

	rec = ts.do(t, http.MethodGet, "/api/sessions?status=active&q=remote", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[ListSessionsResponse](t, rec).Sessions
	require.Len(t, list, 1)
	assert.Equal(t, sess.ID, list[0].ID)

	rec = ts.do(t, http.MethodPost, "/api/sessions/"+sess.ID+"/end", host, EndSessionRequest{Note: "Thanks all"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, types.SessionEnded, decode[SessionResponse](t, rec).Session.Status)

	rec = ts.do(t, http.MethodPost, "/api/sessions/"+sess.ID+"/end", host, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/sessions/"+sess.ID+"/messages", alice, SendMessageRequest{Content: "too late"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/sessions?status=active", nil, nil)
	assert.Empty(t, decode[ListSessionsResponse](t, rec).Sessions)
}

func TestServer_Errors(t *testing.T) {
	ts := newTestServer(t, nil, nil)
	sess := ts.startSession(t)

	tests := []struct {
		name   string
		method string
		path   string
		as     *types.Participant
		body   interface{}
		want   int
	}{
		{"missing identity", http.MethodPost, "/api/proposals", nil, `{"title":"t","description":"d"}`, http.StatusUnauthorized},
		{"blank title", http.MethodPost, "/api/proposals", host, `{"title":" ","description":"d"}`, http.StatusBadRequest},
		{"invalid json", http.MethodPost, "/api/proposals", host, `{not json`, http.StatusBadRequest},
		{"invalid tags", http.MethodPost, "/api/proposals", host, `{"title":"t","description":"d","tags":5}`, http.StatusBadRequest},
		{"unknown proposal", http.MethodGet, "/api/proposals/nope", host, nil, http.StatusNotFound},
		{"unknown session", http.MethodGet, "/api/sessions/nope", nil, nil, http.StatusNotFound},
		{"join unknown session", http.MethodPost, "/api/sessions/nope/join", alice, nil, http.StatusNotFound},
		{"empty message", http.MethodPost, "/api/sessions/" + sess.ID + "/messages", alice, `{"content":"   "}`, http.StatusBadRequest},
		{"anonymous message", http.MethodPost, "/api/sessions/" + sess.ID + "/messages", nil, `{"content":"hi"}`, http.StatusUnauthorized},
		{"bad status filter", http.MethodGet, "/api/sessions?status=paused", nil, nil, http.StatusBadRequest},
		{"bad sort", http.MethodGet, "/api/sessions?sort=oldest", nil, nil, http.StatusBadRequest},
		{"wrong method", http.MethodDelete, "/api/sessions/" + sess.ID, host, nil, http.StatusMethodNotAllowed},
		{"unknown route", http.MethodGet, "/api/unknown", nil, nil, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, tt.method, tt.path, tt.as, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
			resp := decode[ErrorResponse](t, rec)
			assert.Equal(t, tt.want, resp.Code)
			assert.NotEmpty(t, resp.Message)
		})
	}
}

func TestServer_MessageRateLimit(t *testing.T) {
	ts := newTestServer(t, ratelimit.New(2, time.Minute), nil)
	sess := ts.startSession(t)

	for i := 0; i < 2; i++ {
		rec := ts.do(t, http.MethodPost, "/api/sessions/"+sess.ID+"/messages", alice, SendMessageRequest{Content: fmt.Sprintf("point %d", i)})
		require.Equal(t, http.StatusCreated, rec.Code)
	}
	rec := ts.do(t, http.MethodPost, "/api/sessions/"+sess.ID+"/messages", alice, SendMessageRequest{Content: "one more"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/sessions/"+sess.ID+"/messages", host, SendMessageRequest{Content: "host is separate"})
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestServer_HealthCheck(t *testing.T) {
	ts := newTestServer(t, nil, fakeHealth{})
	ts.startSession(t)

	rec := ts.do(t, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[HealthResponse](t, rec)
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "healthy", resp.Database)
	assert.Contains(t, resp.Connections, "total_connections")
	assert.NotEmpty(t, resp.Sessions)
	assert.Contains(t, resp.System, "goroutines")

	ts = newTestServer(t, nil, fakeHealth{err: errors.New("disk gone")})
	rec = ts.do(t, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	resp = decode[HealthResponse](t, rec)
	assert.Equal(t, "unhealthy", resp.Status)
	assert.Contains(t, resp.Database, "disk gone")
}

func TestServer_MetricsAndCORS(t *testing.T) {
	ts := newTestServer(t, nil, nil)

	rec := ts.do(t, http.MethodGet, "/metrics", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	req := httptest.NewRequest(http.MethodOptions, "/api/proposals", nil)
	req.Header.Set("Origin", "https://agora.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", identity.HeaderParticipantID)
	rec = httptest.NewRecorder()
	ts.server.ServeHTTP(rec, req)
	assert.Less(t, rec.Code, 300)
	assert.NotEmpty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestTagList_UnmarshalJSON(t *testing.T) {
	var req SubmitProposalRequest
	require.NoError(t, json.Unmarshal([]byte(`{"tags":" a, ,b "}`), &req))
	assert.Equal(t, TagList{"a", "b"}, req.Tags)

	require.NoError(t, json.Unmarshal([]byte(`{"tags":["x","y"]}`), &req))
	assert.Equal(t, TagList{"x", "y"}, req.Tags)

	assert.Error(t, json.Unmarshal([]byte(`{"tags":{}}`), &req))
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{interfaces.ErrNoIdentity, http.StatusUnauthorized},
		{types.NewValidationError("title", "cannot be blank"), http.StatusBadRequest},
		{types.ErrContentTooLarge, http.StatusBadRequest},
		{types.ErrInvalidContent, http.StatusBadRequest},
		{types.ErrInvalidParticipant, http.StatusBadRequest},
		{fmt.Errorf("load: %w", types.ErrSessionNotFound), http.StatusNotFound},
		{types.ErrProposalNotFound, http.StatusNotFound},
		{types.ErrAlreadyPromoted, http.StatusConflict},
		{types.ErrSessionNotActive, http.StatusConflict},
		{ratelimit.ErrRateLimitExceeded, http.StatusTooManyRequests},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusFor(tt.err), "%v", tt.err)
	}
}
