package proposal

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"

	"agora/internal/database"
	"agora/internal/metrics"
	"agora/internal/scheduler"
	"agora/internal/session"
	"agora/pkg/interfaces"
	"agora/pkg/types"
)

// DefaultApprovalDelay is how long a proposal waits before auto-approval
const DefaultApprovalDelay = 3 * time.Second

const (
	fallbackPrefix = "DBT"
	codeSpace      = 1000
	maxCodeRetries = 32
)

// Pipeline owns debate proposals from submission through promotion
type Pipeline struct {
	mu        sync.Mutex
	proposals map[string]*types.DebateProposal
	codes     map[string]string // code -> proposal ID

	registry  *session.Registry
	scheduler scheduler.Scheduler
	store     interfaces.DebateStore
	writes    *database.WriteQueue
	notifier  interfaces.Notifier
	metrics   *metrics.Metrics
	logger    *slog.Logger
	random    func(n int) int

	approvalDelay time.Duration
	welcomeDelay  time.Duration
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithStore mirrors every proposal change to store in the background
func WithStore(store interfaces.DebateStore) Option {
	return func(p *Pipeline) { p.store = store }
}

// WithNotifier announces automatic approvals
func WithNotifier(n interfaces.Notifier) Option {
	return func(p *Pipeline) { p.notifier = n }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithDelays sets the approval delay and the delay before the welcome
// message of a promoted session
func WithDelays(approval, welcome time.Duration) Option {
	return func(p *Pipeline) {
		p.approvalDelay = approval
		p.welcomeDelay = welcome
	}
}

// WithRandom replaces the code suffix source; fn returns a value in [0, n)
func WithRandom(fn func(n int) int) Option {
	return func(p *Pipeline) { p.random = fn }
}

// NewPipeline creates a pipeline that promotes into registry
func NewPipeline(registry *session.Registry, sched scheduler.Scheduler, opts ...Option) *Pipeline {
	p := &Pipeline{
		proposals:     make(map[string]*types.DebateProposal),
		codes:         make(map[string]string),
		registry:      registry,
		scheduler:     sched,
		logger:        slog.Default(),
		random:        rand.IntN,
		approvalDelay: DefaultApprovalDelay,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "proposal")
	if p.store != nil {
		p.writes = database.NewWriteQueue(p.logger)
	}
	return p
}

// Close drains pending store writes
func (p *Pipeline) Close(ctx context.Context) error {
	if p.writes == nil {
		return nil
	}
	return p.writes.Close(ctx)
}

// Submit records a pending proposal and schedules its approval
func (p *Pipeline) Submit(ctx context.Context, requester types.Participant, title, description string, tags []string) (*types.DebateProposal, error) {
	title = strings.TrimSpace(title)
	description = strings.TrimSpace(description)
	tags = types.NormalizeTags(tags)
	switch {
	case title == "":
		return nil, types.NewValidationError("title", "is required")
	case description == "":
		return nil, types.NewValidationError("description", "is required")
	case len(tags) == 0:
		return nil, types.NewValidationError("tags", "require at least one non-blank tag")
	}

	prop := &types.DebateProposal{
		ID:              uuid.New().String(),
		RequesterID:     requester.ID,
		RequesterName:   requester.Name,
		RequesterAvatar: requester.Avatar,
		Title:           title,
		Description:     description,
		Tags:            tags,
		Status:          types.ProposalPending,
		CreatedAt:       time.Now().UTC(),
	}

	p.mu.Lock()
	p.proposals[prop.ID] = prop
	p.persist(prop)
	out := prop.Clone()
	p.mu.Unlock()

	p.metrics.Proposal(types.ProposalPending)
	p.logger.Info("proposal submitted", "proposal_id", prop.ID, "requester_id", requester.ID, "title", title)

	id := prop.ID
	p.scheduler.After(p.approvalDelay, func() {
		bg := context.WithoutCancel(ctx)
		if approved, ok := p.approve(bg, id); ok && p.notifier != nil {
			p.notifier.Notify(bg, types.Notice{
				Level:         types.NoticeSuccess,
				Message:       "Your debate request has been approved! You can now start the debate session.",
				ParticipantID: approved.RequesterID,
				Timestamp:     time.Now().UTC(),
			})
		}
	})
	return out, nil
}

// Approve moves a pending proposal to approved and assigns its code.
// Returns false when the proposal is unknown or not pending.
func (p *Pipeline) Approve(ctx context.Context, id string) bool {
	_, ok := p.approve(ctx, id)
	return ok
}

func (p *Pipeline) approve(ctx context.Context, id string) (*types.DebateProposal, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	prop, ok := p.proposals[id]
	if !ok || prop.Status != types.ProposalPending {
		return nil, false
	}
	prop.Status = types.ProposalApproved
	prop.Code = p.issueCode(prop)
	p.persist(prop)

	p.metrics.Proposal(types.ProposalApproved)
	p.logger.Info("proposal approved", "proposal_id", id, "code", prop.Code)
	return prop.Clone(), true
}

// Reject moves a pending proposal to rejected
func (p *Pipeline) Reject(ctx context.Context, id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	prop, ok := p.proposals[id]
	if !ok || prop.Status != types.ProposalPending {
		return false
	}
	prop.Status = types.ProposalRejected
	p.persist(prop)

	p.metrics.Proposal(types.ProposalRejected)
	p.logger.Info("proposal rejected", "proposal_id", id)
	return true
}

// Promote turns an approved proposal into an active session hosted by the
// requester and schedules the welcome message. A proposal is promoted at
// most once.
func (p *Pipeline) Promote(ctx context.Context, id string) (*types.DebateSession, error) {
	p.mu.Lock()
	prop, ok := p.proposals[id]
	if !ok {
		p.mu.Unlock()
		return nil, types.ErrProposalNotFound
	}
	if prop.Status != types.ProposalApproved {
		p.mu.Unlock()
		return nil, types.ErrNotApproved
	}
	if prop.SessionID != "" {
		p.mu.Unlock()
		return nil, types.ErrAlreadyPromoted
	}

	// Held across Create so a concurrent Promote cannot create a second session
	s, err := p.registry.Create(ctx, &types.DebateSession{
		ProposalID:   prop.ID,
		Title:        prop.Title,
		Description:  prop.Description,
		HostID:       prop.RequesterID,
		HostName:     prop.RequesterName,
		HostAvatar:   prop.RequesterAvatar,
		Participants: []types.Participant{prop.Requester()},
		Tags:         append([]string(nil), prop.Tags...),
		Code:         prop.Code,
	})
	if err != nil {
		p.mu.Unlock()
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	prop.SessionID = s.ID
	p.persist(prop)
	p.mu.Unlock()

	p.registry.Synthesize(ctx, s.ID, session.Request{Kind: types.KindWelcome, Delay: p.welcomeDelay})
	p.logger.Info("proposal promoted", "proposal_id", id, "session_id", s.ID)
	return s, nil
}

// Get returns a copy of the proposal
func (p *Pipeline) Get(ctx context.Context, id string) (*types.DebateProposal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	prop, ok := p.proposals[id]
	if !ok {
		return nil, types.ErrProposalNotFound
	}
	return prop.Clone(), nil
}

// ListByRequester returns the requester's proposals, newest first
func (p *Pipeline) ListByRequester(ctx context.Context, requesterID string) []*types.DebateProposal {
	p.mu.Lock()
	out := make([]*types.DebateProposal, 0)
	for _, prop := range p.proposals {
		if prop.RequesterID == requesterID {
			out = append(out, prop.Clone())
		}
	}
	p.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Load restores proposals from the store. Proposals still pending are
// rescheduled for approval.
func (p *Pipeline) Load(ctx context.Context) error {
	if p.store == nil {
		return nil
	}
	stored, err := p.store.ListProposals(ctx)
	if err != nil {
		return fmt.Errorf("failed to load proposals: %w", err)
	}

	var pending []string
	p.mu.Lock()
	for _, prop := range stored {
		p.proposals[prop.ID] = prop.Clone()
		if prop.Code != "" {
			p.codes[prop.Code] = prop.ID
		}
		if prop.Status == types.ProposalPending {
			pending = append(pending, prop.ID)
		}
	}
	p.mu.Unlock()

	for _, id := range pending {
		id := id
		p.scheduler.After(p.approvalDelay, func() { p.Approve(context.Background(), id) })
	}
	p.logger.Info("loaded proposals", "count", len(stored), "pending", len(pending))
	return nil
}

// CodePrefix derives the three-letter code prefix from the first tag
func CodePrefix(tags []string) string {
	if len(tags) == 0 {
		return fallbackPrefix
	}
	var b strings.Builder
	for _, r := range tags[0] {
		if b.Len() == 3 {
			break
		}
		if unicode.IsLetter(r) && r < unicode.MaxASCII {
			b.WriteRune(unicode.ToUpper(r))
		}
	}
	if b.Len() == 0 {
		return fallbackPrefix
	}
	return b.String()
}

// issueCode picks an unused code; caller holds p.mu
func (p *Pipeline) issueCode(prop *types.DebateProposal) string {
	prefix := CodePrefix(prop.Tags)
	var code string
	for i := 0; i < maxCodeRetries; i++ {
		code = fmt.Sprintf("%s-%d", prefix, p.random(codeSpace))
		if _, taken := p.codes[code]; !taken {
			break
		}
	}
	// Retries exhausted: the last candidate is shared
	p.codes[code] = prop.ID
	return code
}

// persist queues a proposal write; caller holds p.mu so writes keep the
// order of the changes
func (p *Pipeline) persist(prop *types.DebateProposal) {
	if p.writes == nil {
		return
	}
	snap := prop.Clone()
	_ = p.writes.Enqueue(database.Write{
		Name: "save proposal",
		Key:  snap.ID,
		Apply: func(ctx context.Context) error {
			return p.store.SaveProposal(ctx, snap)
		},
	})
}
