package database

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	dbconfig "agora/pkg/database"
	"agora/pkg/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func setupTestDB(t *testing.T) *Manager {
	t.Helper()
	config := dbconfig.DefaultConfig()
	config.DatabasePath = filepath.Join(t.TempDir(), "test.db")

	manager, err := NewManager(config, WithRetryDelay(10*time.Millisecond))
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close() })

	require.NoError(t, dbconfig.NewMigrationManager(manager.GetDB(), "").ApplyMigrations())
	return manager
}

func testSession(id string) *types.DebateSession {
	return &types.DebateSession{
		ID:          id,
		ProposalID:  "p-" + id,
		Title:       "Should cities ban cars?",
		Description: "Urban planning debate",
		HostID:      "host",
		HostName:    "Host",
		Participants: []types.Participant{
			{ID: "host", Name: "Host", Avatar: "h.png"},
		},
		Status:    types.SessionActive,
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
		Tags:      []string{"urban", "policy"},
		Code:      "URB-042",
	}
}

func TestNewManager_InvalidConfig(t *testing.T) {
	config := dbconfig.DefaultConfig()
	config.DatabasePath = ""
	_, err := NewManager(config)
	assert.Error(t, err)
}

func TestManager_ProposalRoundTrip(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()

	p := &types.DebateProposal{
		ID:            "prop-1",
		RequesterID:   "alice",
		RequesterName: "Alice",
		Title:         "Four-day work week",
		Description:   "Should it be the norm?",
		Tags:          []string{"work"},
		Status:        types.ProposalPending,
		CreatedAt:     time.Now().UTC(),
	}
	require.NoError(t, m.SaveProposal(ctx, p))

	got, err := m.GetProposal(ctx, "prop-1")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.RequesterID)
	assert.Equal(t, []string{"work"}, got.Tags)
	assert.Equal(t, types.ProposalPending, got.Status)
	assert.Empty(t, got.Code)

	p.Status = types.ProposalApproved
	p.Code = "WOR-123"
	p.SessionID = "sess-1"
	require.NoError(t, m.SaveProposal(ctx, p))

	got, err = m.GetProposal(ctx, "prop-1")
	require.NoError(t, err)
	assert.Equal(t, types.ProposalApproved, got.Status)
	assert.Equal(t, "WOR-123", got.Code)
	assert.Equal(t, "sess-1", got.SessionID)

	_, err = m.GetProposal(ctx, "missing")
	assert.ErrorIs(t, err, types.ErrProposalNotFound)
}

func TestManager_ListProposalsNewestFirst(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()
	base := time.Now().UTC()

	for i := 0; i < 3; i++ {
		require.NoError(t, m.SaveProposal(ctx, &types.DebateProposal{
			ID:          fmt.Sprintf("p%d", i),
			RequesterID: "bob",
			Title:       "t",
			Description: "d",
			Status:      types.ProposalPending,
			CreatedAt:   base.Add(time.Duration(i) * time.Second),
		}))
	}

	list, err := m.ListProposals(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "p2", list[0].ID)
	assert.Equal(t, "p0", list[2].ID)
	assert.NotNil(t, list[0].Tags)
}

func TestManager_SessionRoundTrip(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()

	s := testSession("s1")
	require.NoError(t, m.SaveSession(ctx, s))

	got, err := m.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, s.Title, got.Title)
	assert.Equal(t, s.Participants, got.Participants)
	assert.Equal(t, s.Tags, got.Tags)
	assert.Equal(t, "URB-042", got.Code)
	assert.True(t, got.IsActive())
	assert.Nil(t, got.EndedAt)
	assert.True(t, s.CreatedAt.Equal(got.CreatedAt))

	ended := time.Now().UTC()
	s.Participants = append(s.Participants, types.Participant{ID: "bob", Name: "Bob"})
	s.Status = types.SessionEnded
	s.EndedAt = &ended
	s.EndReason = types.EndReasonViolations
	s.Summary = "digest"
	s.WarningCount = 3
	s.QuorumReached = true
	require.NoError(t, m.SaveSession(ctx, s))

	got, err = m.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, got.Participants, 2)
	assert.Equal(t, types.SessionEnded, got.Status)
	require.NotNil(t, got.EndedAt)
	assert.Equal(t, types.EndReasonViolations, got.EndReason)
	assert.Equal(t, "digest", got.Summary)
	assert.Equal(t, 3, got.WarningCount)
	assert.True(t, got.QuorumReached)

	_, err = m.GetSession(ctx, "missing")
	assert.ErrorIs(t, err, types.ErrSessionNotFound)
}

func TestManager_ListSessionsByStatus(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()

	active := testSession("a")
	ended := testSession("e")
	ended.Status = types.SessionEnded
	require.NoError(t, m.SaveSession(ctx, active))
	require.NoError(t, m.SaveSession(ctx, ended))

	all, err := m.ListSessions(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	onlyActive, err := m.ListSessions(ctx, types.SessionActive)
	require.NoError(t, err)
	require.Len(t, onlyActive, 1)
	assert.Equal(t, "a", onlyActive[0].ID)
}

func TestManager_MessagesOrderedByPosition(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()
	require.NoError(t, m.SaveSession(ctx, testSession("s1")))

	now := time.Now().UTC()
	for _, pos := range []int{2, 1, 3} {
		msg := &types.Message{
			ID:        fmt.Sprintf("m%d", pos),
			SessionID: "s1",
			Position:  pos,
			SenderID:  "host",
			Content:   fmt.Sprintf("message %d", pos),
			Timestamp: now,
		}
		if pos == 3 {
			msg.SenderID = types.ModeratorID
			msg.IsSynthesized = true
			msg.Kind = types.KindAdvisory
		}
		require.NoError(t, m.AppendMessage(ctx, msg))
	}

	history, err := m.GetSessionHistory(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, history, 3)
	for i, msg := range history {
		assert.Equal(t, i+1, msg.Position)
	}
	assert.True(t, history[2].IsSynthesized)
	assert.Equal(t, types.KindAdvisory, history[2].Kind)

	empty, err := m.GetSessionHistory(ctx, "none")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestManager_DuplicatePositionRejected(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()
	require.NoError(t, m.SaveSession(ctx, testSession("s1")))

	msg := &types.Message{ID: "m1", SessionID: "s1", Position: 1, SenderID: "host", Content: "x", Timestamp: time.Now()}
	require.NoError(t, m.AppendMessage(ctx, msg))

	dup := *msg
	dup.ID = "m2"
	assert.Error(t, m.AppendMessage(ctx, &dup))
}

func TestManager_SessionUpsertKeepsMessages(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()
	s := testSession("s1")
	require.NoError(t, m.SaveSession(ctx, s))
	require.NoError(t, m.AppendMessage(ctx, &types.Message{
		ID: "m1", SessionID: "s1", Position: 1, SenderID: "host", Content: "x", Timestamp: time.Now(),
	}))

	s.WarningCount = 1
	require.NoError(t, m.SaveSession(ctx, s))

	history, err := m.GetSessionHistory(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestManager_ConcurrentWrites(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()
	require.NoError(t, m.SaveSession(ctx, testSession("s1")))

	var wg sync.WaitGroup
	errs := make(chan error, 50)
	for i := 1; i <= 50; i++ {
		wg.Add(1)
		go func(pos int) {
			defer wg.Done()
			errs <- m.AppendMessage(ctx, &types.Message{
				ID: fmt.Sprintf("m%d", pos), SessionID: "s1", Position: pos,
				SenderID: "host", Content: "x", Timestamp: time.Now(),
			})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	history, err := m.GetSessionHistory(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, history, 50)
}

func TestManager_HealthCheckAndClose(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()

	assert.NoError(t, m.HealthCheck(ctx))
	require.NoError(t, m.Close())
	assert.NoError(t, m.Close(), "second close is a no-op")

	err := m.SaveSession(ctx, testSession("late"))
	assert.ErrorIs(t, err, ErrManagerClosed)
}

func TestManager_CancelledContextBeforeQueue(t *testing.T) {
	m := setupTestDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Either the queue accepts the write or the cancellation wins; both are valid.
	err := m.SaveSession(ctx, testSession("s1"))
	if err != nil {
		assert.ErrorIs(t, err, context.Canceled)
	}
}
