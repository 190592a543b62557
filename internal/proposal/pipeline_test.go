package proposal

import (
	"context"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agora/internal/moderation"
	"agora/internal/scheduler"
	"agora/internal/session"
	"agora/pkg/interfaces"
	"agora/pkg/types"
)

var requester = types.Participant{ID: "rae", Name: "Rae", Avatar: "https://example.test/rae.svg"}

type recordingNotifier struct {
	mu      sync.Mutex
	notices []types.Notice
}

func (r *recordingNotifier) Notify(ctx context.Context, n types.Notice) {
	r.mu.Lock()
	r.notices = append(r.notices, n)
	r.mu.Unlock()
}

func newTestPipeline(t *testing.T, opts ...Option) (*Pipeline, *session.Registry, *scheduler.ManualScheduler) {
	t.Helper()
	sched := scheduler.NewManualScheduler()
	reg := session.NewRegistry(sched, moderation.NewEngine(moderation.Config{}))
	p := NewPipeline(reg, sched, opts...)
	t.Cleanup(func() { _ = p.Close(context.Background()) })
	return p, reg, sched
}

func submit(t *testing.T, p *Pipeline, tags ...string) *types.DebateProposal {
	t.Helper()
	prop, err := p.Submit(context.Background(), requester, "Should AI be regulated?", "A debate on oversight", tags)
	require.NoError(t, err)
	return prop
}

func TestPipeline_SubmitValidation(t *testing.T) {
	p, _, _ := newTestPipeline(t)
	ctx := context.Background()

	tests := []struct {
		name        string
		title, desc string
		tags        []string
		field       string
	}{
		{"blank title", "  ", "d", []string{"x"}, "title"},
		{"blank description", "t", "", []string{"x"}, "description"},
		{"no tags", "t", "d", nil, "tags"},
		{"only blank tags", "t", "d", []string{" ", ""}, "tags"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Submit(ctx, requester, tt.title, tt.desc, tt.tags)
			require.ErrorIs(t, err, types.ErrValidation)
			var ve *types.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestPipeline_SubmitCreatesPendingAndSchedulesApproval(t *testing.T) {
	notifier := &recordingNotifier{}
	p, _, sched := newTestPipeline(t, WithDelays(3*time.Second, 0), WithNotifier(notifier), WithRandom(func(int) int { return 7 }))

	prop := submit(t, p, " technology ", "", "ethics")
	assert.Equal(t, types.ProposalPending, prop.Status)
	assert.Equal(t, []string{"technology", "ethics"}, prop.Tags)
	assert.Empty(t, prop.Code)
	assert.Equal(t, "Rae", prop.RequesterName)

	assert.Equal(t, 0, sched.Advance(2*time.Second))
	assert.Equal(t, 1, sched.Advance(time.Second))

	got, err := p.Get(context.Background(), prop.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ProposalApproved, got.Status)
	assert.Equal(t, "TEC-7", got.Code)

	require.Len(t, notifier.notices, 1)
	assert.Equal(t, types.NoticeSuccess, notifier.notices[0].Level)
	assert.Equal(t, "rae", notifier.notices[0].ParticipantID)
}

func TestPipeline_ApproveIsOneShot(t *testing.T) {
	p, _, _ := newTestPipeline(t)
	prop := submit(t, p, "ai")
	ctx := context.Background()

	assert.True(t, p.Approve(ctx, prop.ID))
	first, _ := p.Get(ctx, prop.ID)

	assert.False(t, p.Approve(ctx, prop.ID))
	second, _ := p.Get(ctx, prop.ID)
	assert.Equal(t, first.Code, second.Code, "code is assigned exactly once")

	assert.False(t, p.Approve(ctx, "missing"))
	assert.False(t, p.Reject(ctx, prop.ID), "approved proposals cannot be rejected")
}

func TestPipeline_Reject(t *testing.T) {
	p, _, sched := newTestPipeline(t)
	prop := submit(t, p, "ai")
	ctx := context.Background()

	assert.True(t, p.Reject(ctx, prop.ID))
	sched.RunAll()

	got, _ := p.Get(ctx, prop.ID)
	assert.Equal(t, types.ProposalRejected, got.Status)
	assert.Empty(t, got.Code)
}

func TestCodePrefix(t *testing.T) {
	assert.Equal(t, "TEC", CodePrefix([]string{"technology"}))
	assert.Equal(t, "AI", CodePrefix([]string{"ai"}))
	assert.Equal(t, "EPO", CodePrefix([]string{"e-policy"}))
	assert.Equal(t, "DBT", CodePrefix([]string{"2024"}))
	assert.Equal(t, "DBT", CodePrefix(nil))
	assert.Equal(t, "CLI", CodePrefix([]string{"Climate"}))
}

func TestPipeline_ApprovedCodeFollowsFirstTag(t *testing.T) {
	p, _, sched := newTestPipeline(t)
	prop := submit(t, p, "Climate")
	sched.RunAll()

	got, err := p.Get(context.Background(), prop.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ProposalApproved, got.Status)
	assert.Regexp(t, regexp.MustCompile(`^CLI-\d+$`), got.Code)
}

func TestPipeline_CodeCollisionsRetry(t *testing.T) {
	values := []int{5, 5, 6}
	i := 0
	p, _, _ := newTestPipeline(t, WithRandom(func(int) int {
		v := values[i%len(values)]
		i++
		return v
	}))
	ctx := context.Background()

	a := submit(t, p, "ai")
	b := submit(t, p, "ai")
	require.True(t, p.Approve(ctx, a.ID))
	require.True(t, p.Approve(ctx, b.ID))

	ga, _ := p.Get(ctx, a.ID)
	gb, _ := p.Get(ctx, b.ID)
	assert.Equal(t, "AI-5", ga.Code)
	assert.Equal(t, "AI-6", gb.Code)
}

func TestPipeline_Promote(t *testing.T) {
	p, reg, sched := newTestPipeline(t)
	ctx := context.Background()

	_, err := p.Promote(ctx, "missing")
	assert.ErrorIs(t, err, types.ErrProposalNotFound)

	prop := submit(t, p, "climate")
	_, err = p.Promote(ctx, prop.ID)
	assert.ErrorIs(t, err, types.ErrNotApproved)

	require.True(t, p.Approve(ctx, prop.ID))
	approved, _ := p.Get(ctx, prop.ID)

	s, err := p.Promote(ctx, prop.ID)
	require.NoError(t, err)
	assert.Equal(t, types.SessionActive, s.Status)
	assert.Equal(t, requester.ID, s.HostID)
	assert.Equal(t, []types.Participant{requester}, s.Participants)
	assert.Equal(t, approved.Code, s.Code)
	assert.Equal(t, approved.Tags, s.Tags)
	assert.Equal(t, prop.ID, s.ProposalID)

	_, err = p.Promote(ctx, prop.ID)
	assert.ErrorIs(t, err, types.ErrAlreadyPromoted)
	assert.Len(t, reg.List(ctx, session.ListOptions{}), 1)

	sched.RunAll()
	got, err := reg.Get(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, types.KindWelcome, got.Messages[0].Kind)
	assert.Contains(t, got.Messages[0].Content, "Should AI be regulated?")

	linked, _ := p.Get(ctx, prop.ID)
	assert.Equal(t, s.ID, linked.SessionID)
}

func TestPipeline_ConcurrentPromoteCreatesOneSession(t *testing.T) {
	p, reg, _ := newTestPipeline(t)
	ctx := context.Background()
	prop := submit(t, p, "ai")
	require.True(t, p.Approve(ctx, prop.ID))

	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := p.Promote(ctx, prop.ID); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Len(t, reg.List(ctx, session.ListOptions{}), 1)
}

func TestPipeline_ListByRequesterNewestFirst(t *testing.T) {
	p, _, _ := newTestPipeline(t)
	ctx := context.Background()

	first := submit(t, p, "a")
	time.Sleep(time.Millisecond)
	second := submit(t, p, "b")
	_, _ = p.Submit(ctx, types.Participant{ID: "other", Name: "O"}, "t", "d", []string{"x"})

	mine := p.ListByRequester(ctx, requester.ID)
	require.Len(t, mine, 2)
	assert.Equal(t, second.ID, mine[0].ID)
	assert.Equal(t, first.ID, mine[1].ID)
	assert.Empty(t, p.ListByRequester(ctx, "nobody"))
}

// gatedStore holds every proposal write until released
type gatedStore struct {
	interfaces.DebateStore
	mu      sync.Mutex
	saved   []types.ProposalStatus
	release chan struct{}
}

func (g *gatedStore) SaveProposal(ctx context.Context, prop *types.DebateProposal) error {
	<-g.release
	g.mu.Lock()
	g.saved = append(g.saved, prop.Status)
	g.mu.Unlock()
	return nil
}

func TestPipeline_SlowStoreDoesNotBlockProposals(t *testing.T) {
	store := &gatedStore{release: make(chan struct{})}
	p, _, _ := newTestPipeline(t, WithStore(store))
	ctx := context.Background()

	start := time.Now()
	prop := submit(t, p, "ai")
	other := submit(t, p, "ethics")
	require.True(t, p.Approve(ctx, prop.ID))
	require.True(t, p.Reject(ctx, other.ID))
	_, err := p.Get(ctx, prop.ID)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	close(store.release)
	require.NoError(t, p.Close(ctx))

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Equal(t, []types.ProposalStatus{
		types.ProposalPending,
		types.ProposalPending,
		types.ProposalApproved,
		types.ProposalRejected,
	}, store.saved)
}
